// Package checks implements the validation, token verification and smoke
// checks run against the serving gateway under the current identity.
package checks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/tenantprobe/internal/util/tlsutil"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
)

const (
	modelsPath = "/maas-api/v1/models"
	tokensPath = "/maas-api/v1/tokens"

	defaultTimeout  = 30 * time.Second
	maxErrorBodyLen = 512
)

var errUnexpectedStatus = errors.New("unexpected status")

// TokenSource returns the bearer token of the current identity.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Config configures a Client.
type Config struct {
	GatewayURL            string        `json:"gatewayURL"`
	InsecureSkipTLSVerify bool          `json:"insecureSkipTLSVerify"`
	Timeout               time.Duration `json:"timeout"`
	// CAFile is a PEM bundle trusted for the gateway certificate.
	CAFile string `json:"caFile"`
	// TokenTTL is the lifetime requested for minted tokens.
	TokenTTL time.Duration `json:"tokenTTL"`
}

// Client talks to the serving gateway. Every call authenticates as the
// identity the TokenSource currently holds.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	tokens   TokenSource
	tokenTTL time.Duration
	log      logr.Logger
}

func New(cfg Config, tokens TokenSource, log logr.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(cfg.GatewayURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid gateway URL %q", failure.ErrInvalidConfig, cfg.GatewayURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	tlsConfig, err := tlsutil.BuildClientTLSConfig(&tlsutil.Config{
		CAPath:             cfg.CAFile,
		InsecureSkipVerify: cfg.InsecureSkipTLSVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gateway TLS: %w", failure.ErrInvalidConfig, err)
	}

	httpClient := &http.Client{Timeout: timeout}
	if tlsConfig != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	return &Client{baseURL: u, http: httpClient, tokens: tokens, tokenTTL: ttl, log: log}, nil
}

// do sends a JSON request authenticated with token and decodes a 2xx
// response into out.
func (c *Client) do(ctx context.Context, method, target, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.log.V(1).Info("gateway request", "method", method, "url", target)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return fmt.Errorf("%w: %s %s: %d %s", errUnexpectedStatus, method, target, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) url(path string) string {
	return c.baseURL.JoinPath(path).String()
}

func (c *Client) identityToken(ctx context.Context) (string, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("reading identity token: %w", err)
	}
	return token, nil
}

func validationFailure(check string, err error) error {
	return fmt.Errorf("%w: %s: %w", failure.ErrValidationFailure, check, err)
}
