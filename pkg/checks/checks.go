package checks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 10 * time.Minute
	// clockSkew tolerates small clock differences with the token issuer.
	clockSkew = time.Minute

	smokePrompt = "Say hello."
)

var (
	errNoModels      = errors.New("no model served")
	errEmptyToken    = errors.New("empty token")
	errTokenSubject  = errors.New("token has no subject")
	errTokenExpiry   = errors.New("token expiry out of range")
	errEmptyResponse = errors.New("empty completion")
)

// Model is a model listed by the gateway.
type Model struct {
	ID  string `json:"id"`
	URL string `json:"url,omitempty"`
}

type modelList struct {
	Data []Model `json:"data"`
}

// Models lists the models visible to the current identity.
func (c *Client) Models(ctx context.Context) ([]Model, error) {
	token, err := c.identityToken(ctx)
	if err != nil {
		return nil, err
	}

	var list modelList
	if err := c.do(ctx, http.MethodGet, c.url(modelsPath), token, nil, &list); err != nil {
		return nil, err
	}

	return list.Data, nil
}

// Validate checks that the gateway serves at least one model to the
// current identity.
func (c *Client) Validate(ctx context.Context) error {
	models, err := c.Models(ctx)
	if err != nil {
		return validationFailure("listing models", err)
	}
	if len(models) == 0 {
		return validationFailure("listing models", errNoModels)
	}

	c.log.Info("gateway serves models", "count", len(models), "first", models[0].ID)

	return nil
}

type tokenRequest struct {
	Expiration string `json:"expiration"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// IssueToken mints a gateway token for the current identity.
func (c *Client) IssueToken(ctx context.Context) (string, error) {
	token, err := c.identityToken(ctx)
	if err != nil {
		return "", err
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, c.url(tokensPath), token,
		tokenRequest{Expiration: c.tokenTTL.String()}, &resp); err != nil {
		return "", err
	}

	if strings.TrimSpace(resp.Token) == "" {
		return "", errEmptyToken
	}

	return resp.Token, nil
}

// VerifyToken mints a token and checks its metadata: a subject and an
// expiry matching the requested lifetime. The signature is the gateway's
// concern and is not verified.
func (c *Client) VerifyToken(ctx context.Context) error {
	raw, err := c.IssueToken(ctx)
	if err != nil {
		return validationFailure("issuing token", err)
	}

	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return validationFailure("parsing token", err)
	}

	if claims.Subject == "" {
		return validationFailure("verifying token", errTokenSubject)
	}

	now := time.Now()
	if claims.ExpiresAt == nil {
		return validationFailure("verifying token", fmt.Errorf("%w: no expiry", errTokenExpiry))
	}

	exp := claims.ExpiresAt.Time
	if exp.Before(now) || exp.After(now.Add(c.tokenTTL+clockSkew)) {
		return validationFailure("verifying token",
			fmt.Errorf("%w: expires at %s, requested lifetime %s", errTokenExpiry, exp.Format(time.RFC3339), c.tokenTTL))
	}

	c.log.Info("token verified", "subject", claims.Subject, "expiresAt", exp.Format(time.RFC3339))

	return nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Smoke sends one chat completion to the first model, authenticated with a
// freshly minted gateway token.
func (c *Client) Smoke(ctx context.Context) error {
	models, err := c.Models(ctx)
	if err != nil {
		return validationFailure("smoke", err)
	}
	if len(models) == 0 {
		return validationFailure("smoke", errNoModels)
	}
	model := models[0]

	token, err := c.IssueToken(ctx)
	if err != nil {
		return validationFailure("smoke", err)
	}

	target := c.url("/v1/chat/completions")
	if model.URL != "" {
		target = strings.TrimRight(model.URL, "/") + "/v1/chat/completions"
	}

	var resp chatResponse
	if err := c.do(ctx, http.MethodPost, target, token, chatRequest{
		Model:     model.ID,
		Messages:  []chatMessage{{Role: "user", Content: smokePrompt}},
		MaxTokens: 16,
	}, &resp); err != nil {
		return validationFailure("smoke", err)
	}

	if len(resp.Choices) == 0 {
		return validationFailure("smoke", errEmptyResponse)
	}

	c.log.Info("smoke completion succeeded", "model", model.ID)

	return nil
}
