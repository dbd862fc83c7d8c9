//go:build unit

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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/tiers"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, ModeCI, config.Mode)
	assert.Equal(t, 5, config.UserCount)
	assert.Equal(t, 10, config.BcryptCost)
	assert.Equal(t, 300*time.Second, config.AuthRolloutTimeout.Duration)
	assert.Equal(t, 3, config.RetryCount)
	assert.Equal(t, 5*time.Second, config.RetryDelay.Duration)
	assert.Equal(t, 30*time.Second, config.ValidationCooldown.Duration)
	assert.Equal(t, 60*time.Second, config.RateLimitCooldown.Duration)
	assert.Equal(t, tiers.DefaultGroupPrefix, config.GroupPrefix)
	assert.False(t, config.SkipDeploy)
	require.NoError(t, config.Validate())
}

func TestLoadConfig_YAMLFile(t *testing.T) {
	t.Setenv("KUBECONFIG", "")
	path := writeConfig(t, `
mode: dev
kubeconfig: /tmp/kubeconfig
userCount: 7
gatewayURL: https://gateway.example.com
validationCooldown: 10s
tierOverrides:
  enterprise: [testuser-7]
deploy:
  platformManifests: [deploy/platform]
  platformChecks:
  - apiVersion: apps/v1
    kind: Deployment
    namespace: platform
    name: gateway
    condition: Available
    timeout: 2m
`)

	config, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ModeDev, config.Mode)
	assert.Equal(t, "/tmp/kubeconfig", config.Kubeconfig)
	assert.Equal(t, 7, config.UserCount)
	assert.Equal(t, 10*time.Second, config.ValidationCooldown.Duration)
	assert.Equal(t, map[tiers.Tier][]string{tiers.Enterprise: {"testuser-7"}}, config.Overrides())

	deployCfg := config.DeployConfig()
	require.Len(t, deployCfg.PlatformChecks, 1)
	check := deployCfg.PlatformChecks[0]
	assert.Equal(t, schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}, check.Kind)
	assert.Equal(t, 2*time.Minute, check.Timeout)
}

func TestLoadConfig_UnknownField(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "userCont: 3\n"))
	require.ErrorIs(t, err, failure.ErrInvalidConfig)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, failure.ErrInvalidConfig)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("KUBECONFIG", "/from/kubeconfig:/other")
	t.Setenv("TENANTPROBE_USER_COUNT", "3")
	t.Setenv("TENANTPROBE_SKIP_SMOKE", "true")
	t.Setenv("TENANTPROBE_AUTH_ROLLOUT_TIMEOUT", "120")
	t.Setenv("TENANTPROBE_RATE_LIMIT_COOLDOWN", "1m30s")
	t.Setenv("TENANTPROBE_FREE_USERS", "testuser-1:testuser-2")
	t.Setenv("TENANTPROBE_PREMIUM_USERS", "")
	t.Setenv("TENANTPROBE_CREDENTIALS", "testuser-1:a,testuser-2:b")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/from/kubeconfig", config.Kubeconfig)
	assert.Equal(t, 3, config.UserCount)
	assert.True(t, config.SkipSmoke)
	assert.Equal(t, 120*time.Second, config.AuthRolloutTimeout.Duration)
	assert.Equal(t, 90*time.Second, config.RateLimitCooldown.Duration)
	assert.Equal(t, map[tiers.Tier][]string{
		tiers.Premium: {},
		tiers.Free:    {"testuser-1", "testuser-2"},
	}, config.Overrides())

	creds, err := config.ParsedCredentials()
	require.NoError(t, err)
	assert.Equal(t, []string{"testuser-1", "testuser-2"}, creds.Usernames())
}

func TestLoadConfig_KubeconfigEnvPrecedence(t *testing.T) {
	t.Setenv("KUBECONFIG", "/generic")
	t.Setenv("TENANTPROBE_KUBECONFIG", "/specific")

	config, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "/specific", config.Kubeconfig)
}

func TestLoadConfig_InvalidEnvironment(t *testing.T) {
	t.Setenv("TENANTPROBE_USER_COUNT", "many")
	t.Setenv("TENANTPROBE_SKIP_DEPLOY", "maybe")

	_, err := LoadConfig("")
	require.ErrorIs(t, err, failure.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "TENANTPROBE_USER_COUNT")
	assert.Contains(t, err.Error(), "TENANTPROBE_SKIP_DEPLOY")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "mode", mutate: func(c *Config) { c.Mode = "prod" }, wantErr: "mode"},
		{name: "kubeconfig", mutate: func(c *Config) { c.Kubeconfig = "" }, wantErr: "kubeconfig"},
		{name: "user count", mutate: func(c *Config) { c.UserCount = 0 }, wantErr: "userCount"},
		{name: "user count ignored with idp skipped", mutate: func(c *Config) { c.UserCount = 0; c.SkipIDPSetup = true }},
		{name: "credentials", mutate: func(c *Config) { c.Credentials = "nopassword" }, wantErr: "credentials"},
		{name: "bcrypt cost", mutate: func(c *Config) { c.BcryptCost = 40 }, wantErr: "bcryptCost"},
		{name: "rollout timeout", mutate: func(c *Config) { c.AuthRolloutTimeout.Duration = 0 }, wantErr: "authRolloutTimeout"},
		{name: "retry count", mutate: func(c *Config) { c.RetryCount = 0 }, wantErr: "retryCount"},
		{name: "negative cooldown", mutate: func(c *Config) { c.RateLimitCooldown.Duration = -time.Second }, wantErr: "rateLimitCooldown"},
		{name: "readiness check", mutate: func(c *Config) {
			c.Deploy.WorkloadChecks = []CheckConfig{{Kind: "Deployment"}}
		}, wantErr: "readiness check 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			config.Kubeconfig = "/tmp/kubeconfig"
			tt.mutate(config)

			err := config.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidateGateway(t *testing.T) {
	config := NewDefaultConfig()
	require.ErrorIs(t, config.validateGateway(), failure.ErrInvalidConfig)

	config.SkipValidation, config.SkipTokenVerification, config.SkipSmoke = true, true, true
	require.NoError(t, config.validateGateway())

	config.SkipSmoke = false
	config.GatewayURL = "https://gateway.example.com"
	require.NoError(t, config.validateGateway())
}

func TestConfig_Usernames(t *testing.T) {
	config := NewDefaultConfig()
	config.UserCount = 2

	users, err := config.usernames()
	require.NoError(t, err)
	assert.Equal(t, []string{"testuser-1", "testuser-2"}, users)

	config.Credentials = "alice:a"
	users, err = config.usernames()
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, users)
}

func TestConfig_IDPConfig(t *testing.T) {
	config := NewDefaultConfig()
	config.BcryptCost = 4
	config.RetryCount = 5

	cfg := config.IDPConfig()
	assert.Equal(t, 4, cfg.BcryptCost)
	assert.Equal(t, 5, cfg.Backoff.Steps)
	require.NoError(t, cfg.Validate())
}
