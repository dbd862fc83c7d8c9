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

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/yaml"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/checks"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/credentials"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/deploy"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/idp"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/readiness"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/tiers"
)

const (
	// ConfigPathEnvKey is the environment variable key for the config file path
	ConfigPathEnvKey = "TENANTPROBE_CONFIG_PATH"

	envPrefix = "TENANTPROBE_"

	ModeCI  = "ci"
	ModeDev = "dev"
)

// CheckConfig is the file form of a readiness check.
type CheckConfig struct {
	APIVersion string          `json:"apiVersion"`
	Kind       string          `json:"kind"`
	Name       string          `json:"name"`
	Namespace  string          `json:"namespace,omitempty"`
	Condition  string          `json:"condition"`
	Timeout    metav1.Duration `json:"timeout,omitempty"`
}

// DeployConfig lists the manifests to apply and the checks gating each
// deployment.
type DeployConfig struct {
	PlatformManifests    []string      `json:"platformManifests,omitempty"`
	PlatformChecks       []CheckConfig `json:"platformChecks,omitempty"`
	WorkloadManifests    []string      `json:"workloadManifests,omitempty"`
	WorkloadChecks       []CheckConfig `json:"workloadChecks,omitempty"`
	DiagnosticNamespaces []string      `json:"diagnosticNamespaces,omitempty"`
}

// TierOverrides replace the default members of a tier.
type TierOverrides struct {
	Enterprise []string `json:"enterprise,omitempty"`
	Premium    []string `json:"premium,omitempty"`
	Free       []string `json:"free,omitempty"`
}

// Config holds the configuration of tenantprobe.
type Config struct {
	// Mode is "ci" (JSON logs) or "dev" (console logs).
	Mode       string `json:"mode"`
	Verbose    bool   `json:"verbose"`
	Kubeconfig string `json:"kubeconfig"`

	SkipDeploy            bool `json:"skipDeploy"`
	SkipValidation        bool `json:"skipValidation"`
	SkipSmoke             bool `json:"skipSmoke"`
	SkipTokenVerification bool `json:"skipTokenVerification"`
	SkipIDPSetup          bool `json:"skipIDPSetup"`

	UserCount      int    `json:"userCount"`
	PasswordPrefix string `json:"passwordPrefix,omitempty"`
	// Credentials is a CredentialSet published by an earlier bootstrap.
	Credentials   string        `json:"credentials,omitempty"`
	TierOverrides TierOverrides `json:"tierOverrides"`
	GroupPrefix   string        `json:"groupPrefix"`

	ProviderName       string          `json:"providerName"`
	BaselineRole       string          `json:"baselineRole"`
	RoleNamespace      string          `json:"roleNamespace"`
	BcryptCost         int             `json:"bcryptCost"`
	AuthRolloutTimeout metav1.Duration `json:"authRolloutTimeout"`

	RetryCount int             `json:"retryCount"`
	RetryDelay metav1.Duration `json:"retryDelay"`

	ValidationCooldown metav1.Duration `json:"validationCooldown"`
	RateLimitCooldown  metav1.Duration `json:"rateLimitCooldown"`

	GatewayURL            string `json:"gatewayURL,omitempty"`
	InsecureSkipTLSVerify bool   `json:"insecureSkipTLSVerify"`
	GatewayCAFile         string `json:"gatewayCAFile,omitempty"`

	ArtifactsDir string `json:"artifactsDir"`

	Deploy DeployConfig `json:"deploy"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	idpDefaults := idp.DefaultConfig()
	backoff := retry.DefaultBackoff()

	return &Config{
		Mode:               ModeCI,
		Kubeconfig:         filepath.Join(home, ".kube", "config"),
		UserCount:          5,
		GroupPrefix:        tiers.DefaultGroupPrefix,
		ProviderName:       idpDefaults.ProviderName,
		BaselineRole:       idpDefaults.BaselineRole,
		RoleNamespace:      idpDefaults.RoleNamespace,
		BcryptCost:         idpDefaults.BcryptCost,
		AuthRolloutTimeout: metav1.Duration{Duration: idpDefaults.RolloutTimeout},
		RetryCount:         backoff.Steps,
		RetryDelay:         metav1.Duration{Duration: backoff.Duration},
		ValidationCooldown: metav1.Duration{Duration: 30 * time.Second},
		RateLimitCooldown:  metav1.Duration{Duration: 60 * time.Second},
		ArtifactsDir:       filepath.Join(home, ".tenantprobe", "runs"),
	}
}

// LoadConfig loads configuration from a YAML or JSON file, then applies
// environment overrides and validates the result. An empty configPath uses
// defaults and environment variables only.
func LoadConfig(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading config file %s: %w", failure.ErrInvalidConfig, configPath, err)
		}

		if err := yaml.UnmarshalStrict(data, config); err != nil {
			return nil, fmt.Errorf("%w: parsing config file %s: %w", failure.ErrInvalidConfig, configPath, err)
		}
	}

	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, fmt.Errorf("%w: %w", failure.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", failure.ErrInvalidConfig, err)
	}

	return config, nil
}

// envReader collects parse errors of environment overrides.
type envReader struct {
	errs []error
}

func (r *envReader) setString(key string, dst *string) {
	if val := os.Getenv(envPrefix + key); val != "" {
		*dst = val
	}
}

func (r *envReader) setBool(key string, dst *bool) {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = b
}

func (r *envReader) setInt(key string, dst *int) {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	*dst = i
}

// setDuration accepts Go durations ("90s") and bare seconds ("90").
func (r *envReader) setDuration(key string, dst *metav1.Duration) {
	val := os.Getenv(envPrefix + key)
	if val == "" {
		return
	}
	if secs, err := strconv.Atoi(val); err == nil {
		dst.Duration = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return
	}
	dst.Duration = d
}

func (r *envReader) setMembers(key string, dst *[]string) {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		*dst = tiers.ParseMemberList(val)
	}
}

// applyEnvironmentOverrides applies environment variable overrides to the config
func (c *Config) applyEnvironmentOverrides() error {
	r := &envReader{}

	r.setString("MODE", &c.Mode)
	r.setBool("VERBOSE", &c.Verbose)

	if val := os.Getenv("KUBECONFIG"); val != "" {
		if paths := filepath.SplitList(val); len(paths) > 0 {
			c.Kubeconfig = paths[0]
		}
	}
	r.setString("KUBECONFIG", &c.Kubeconfig)

	r.setBool("SKIP_DEPLOY", &c.SkipDeploy)
	r.setBool("SKIP_VALIDATION", &c.SkipValidation)
	r.setBool("SKIP_SMOKE", &c.SkipSmoke)
	r.setBool("SKIP_TOKEN_VERIFICATION", &c.SkipTokenVerification)
	r.setBool("SKIP_IDP_SETUP", &c.SkipIDPSetup)

	r.setInt("USER_COUNT", &c.UserCount)
	r.setString("PASSWORD_PREFIX", &c.PasswordPrefix)
	r.setString("CREDENTIALS", &c.Credentials)
	r.setMembers("ENTERPRISE_USERS", &c.TierOverrides.Enterprise)
	r.setMembers("PREMIUM_USERS", &c.TierOverrides.Premium)
	r.setMembers("FREE_USERS", &c.TierOverrides.Free)
	r.setString("GROUP_PREFIX", &c.GroupPrefix)

	r.setString("PROVIDER_NAME", &c.ProviderName)
	r.setString("BASELINE_ROLE", &c.BaselineRole)
	r.setString("ROLE_NAMESPACE", &c.RoleNamespace)
	r.setInt("BCRYPT_COST", &c.BcryptCost)
	r.setDuration("AUTH_ROLLOUT_TIMEOUT", &c.AuthRolloutTimeout)

	r.setInt("RETRY_COUNT", &c.RetryCount)
	r.setDuration("RETRY_DELAY", &c.RetryDelay)
	r.setDuration("VALIDATION_COOLDOWN", &c.ValidationCooldown)
	r.setDuration("RATE_LIMIT_COOLDOWN", &c.RateLimitCooldown)

	r.setString("GATEWAY_URL", &c.GatewayURL)
	r.setBool("INSECURE_SKIP_TLS_VERIFY", &c.InsecureSkipTLSVerify)
	r.setString("GATEWAY_CA_FILE", &c.GatewayCAFile)
	r.setString("ARTIFACTS_DIR", &c.ArtifactsDir)

	return errors.Join(r.errs...)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Mode != ModeCI && c.Mode != ModeDev {
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeCI, ModeDev, c.Mode))
	}

	if c.Kubeconfig == "" {
		errs = append(errs, errors.New("kubeconfig cannot be empty"))
	}

	if c.Credentials != "" {
		if _, err := credentials.Parse(c.Credentials); err != nil {
			errs = append(errs, fmt.Errorf("credentials: %w", err))
		}
	} else if !c.SkipIDPSetup && c.UserCount < 1 {
		errs = append(errs, fmt.Errorf("userCount must be at least 1, got %d", c.UserCount))
	}

	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("bcryptCost must be within [%d, %d], got %d", bcrypt.MinCost, bcrypt.MaxCost, c.BcryptCost))
	}

	if c.AuthRolloutTimeout.Duration <= 0 {
		errs = append(errs, errors.New("authRolloutTimeout must be positive"))
	}

	if c.RetryCount < 1 {
		errs = append(errs, fmt.Errorf("retryCount must be at least 1, got %d", c.RetryCount))
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"retryDelay", c.RetryDelay.Duration},
		{"validationCooldown", c.ValidationCooldown.Duration},
		{"rateLimitCooldown", c.RateLimitCooldown.Duration},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative", d.name))
		}
	}

	if c.ArtifactsDir == "" {
		errs = append(errs, errors.New("artifactsDir cannot be empty"))
	}

	for i, check := range append(append([]CheckConfig{}, c.Deploy.PlatformChecks...), c.Deploy.WorkloadChecks...) {
		if check.APIVersion == "" || check.Kind == "" || check.Name == "" || check.Condition == "" {
			errs = append(errs, fmt.Errorf("readiness check %d: apiVersion, kind, name and condition are required", i))
		}
	}

	return errors.Join(errs...)
}

// validateGateway reports a missing gateway URL when any check needs it.
func (c *Config) validateGateway() error {
	if c.allChecksSkipped() || c.GatewayURL != "" {
		return nil
	}
	return fmt.Errorf("%w: gatewayURL is required unless validation, token verification and smoke are all skipped",
		failure.ErrInvalidConfig)
}

func (c *Config) allChecksSkipped() bool {
	return c.SkipValidation && c.SkipTokenVerification && c.SkipSmoke
}

// ParsedCredentials returns the published CredentialSet, if any.
func (c *Config) ParsedCredentials() (credentials.Set, error) {
	if c.Credentials == "" {
		return nil, nil
	}
	return credentials.Parse(c.Credentials)
}

// Overrides returns the tier overrides set in the config.
func (c *Config) Overrides() map[tiers.Tier][]string {
	out := map[tiers.Tier][]string{}
	for t, users := range map[tiers.Tier][]string{
		tiers.Enterprise: c.TierOverrides.Enterprise,
		tiers.Premium:    c.TierOverrides.Premium,
		tiers.Free:       c.TierOverrides.Free,
	} {
		if users != nil {
			out[t] = users
		}
	}
	return out
}

// Backoff returns the backoff of mutating cluster calls.
func (c *Config) Backoff() retry.Backoff {
	b := retry.DefaultBackoff()
	b.Steps = c.RetryCount
	b.Duration = c.RetryDelay.Duration
	return b
}

// IDPConfig returns the identity provider bootstrap configuration.
func (c *Config) IDPConfig() idp.Config {
	cfg := idp.DefaultConfig()
	cfg.ProviderName = c.ProviderName
	cfg.BaselineRole = c.BaselineRole
	cfg.RoleNamespace = c.RoleNamespace
	cfg.BcryptCost = c.BcryptCost
	cfg.RolloutTimeout = c.AuthRolloutTimeout.Duration
	cfg.Backoff = c.Backoff()
	return cfg
}

// ChecksConfig returns the gateway client configuration.
func (c *Config) ChecksConfig() checks.Config {
	return checks.Config{
		GatewayURL:            c.GatewayURL,
		InsecureSkipTLSVerify: c.InsecureSkipTLSVerify,
		CAFile:                c.GatewayCAFile,
	}
}

// DeployConfig returns the deployment sequence configuration.
func (c *Config) DeployConfig() deploy.Config {
	return deploy.Config{
		PlatformManifests:    c.Deploy.PlatformManifests,
		PlatformChecks:       toChecks(c.Deploy.PlatformChecks),
		WorkloadManifests:    c.Deploy.WorkloadManifests,
		WorkloadChecks:       toChecks(c.Deploy.WorkloadChecks),
		DiagnosticNamespaces: c.Deploy.DiagnosticNamespaces,
		Skip:                 c.SkipDeploy,
	}
}

func toChecks(in []CheckConfig) []readiness.Check {
	out := make([]readiness.Check, 0, len(in))
	for _, c := range in {
		out = append(out, readiness.Check{
			Kind:      schema.FromAPIVersionAndKind(c.APIVersion, c.Kind),
			Name:      c.Name,
			Namespace: c.Namespace,
			Condition: c.Condition,
			Timeout:   c.Timeout.Duration,
		})
	}
	return out
}
