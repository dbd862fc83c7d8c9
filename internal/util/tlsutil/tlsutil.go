// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tlsutil provides utilities for building client TLS configurations.
package tlsutil

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrCANotFound is returned when the CA file does not exist.
	ErrCANotFound = errors.New("CA file not found")
	// ErrLoadCAFailed is returned when loading the CA file fails.
	ErrLoadCAFailed = errors.New("failed to load CA file")
	// ErrParseCAFailed is returned when the CA file holds no PEM certificate.
	ErrParseCAFailed = errors.New("failed to parse CA certificate")
	// ErrConflictingOptions is returned when a CA is pinned while
	// verification is disabled.
	ErrConflictingOptions = errors.New("CA file and insecure skip verify are mutually exclusive")
)

// Config holds the client TLS parameters.
type Config struct {
	// CAPath is a PEM bundle trusted in addition to the system roots.
	CAPath string
	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool
}

// BuildClientTLSConfig builds a tls.Config for an HTTPS client.
//
// Returns nil, nil when neither option is set so callers keep the default
// transport. Returns an error if:
//   - both CAPath and InsecureSkipVerify are set
//   - CAPath does not exist
//   - loading or parsing the CA bundle fails
func BuildClientTLSConfig(config *Config) (*tls.Config, error) {
	if config == nil || (config.CAPath == "" && !config.InsecureSkipVerify) {
		return nil, nil
	}

	if config.CAPath != "" && config.InsecureSkipVerify {
		return nil, ErrConflictingOptions
	}

	if config.InsecureSkipVerify {
		return &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, //nolint:gosec
		}, nil
	}

	if _, err := os.Stat(config.CAPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrCANotFound, config.CAPath)
	}

	caBytes, err := os.ReadFile(config.CAPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadCAFailed, err)
	}

	// Cluster ingress certificates are often signed by a private CA that
	// is absent from the system pool.
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, ErrParseCAFailed
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
	}, nil
}
