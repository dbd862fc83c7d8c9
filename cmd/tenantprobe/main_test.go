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
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexandremahdhaoui/tenantprobe/internal/util/gracefulshutdown"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/credentials"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/deploy"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: runresult.ExitOK},
		{name: "recorded failures", err: &exitError{code: runresult.ExitFailures}, want: runresult.ExitFailures},
		{name: "prerequisite", err: fmt.Errorf("%w: not admin", failure.ErrPrerequisite), want: runresult.ExitFatal},
		{name: "missing tool", err: fmt.Errorf("%w: oc", failure.ErrMissingDependency), want: runresult.ExitFatal},
		{name: "invalid config", err: fmt.Errorf("%w: mode", failure.ErrInvalidConfig), want: runresult.ExitFatal},
		{name: "stage failure", err: &deploy.StageError{Stage: deploy.StageWaitPlatformReady, Err: failure.ErrReadinessTimeout}, want: runresult.ExitFatal},
		{name: "transition failure", err: fmt.Errorf("%w: conflict", failure.ErrTransientCluster), want: runresult.ExitFailures},
		{name: "unclassified", err: errors.New("boom"), want: runresult.ExitFailures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func newTestApp() (*app, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	return &app{
		stdout:     &stdout,
		stderr:     &stderr,
		onShutdown: func(gracefulshutdown.Cleanup) {},
	}, &stdout, &stderr
}

func TestExecute_CredentialsGenerate(t *testing.T) {
	a, stdout, _ := newTestApp()

	code := execute(context.Background(), a, []string{"credentials", "generate", "--count", "2", "--prefix", "pw"})

	require.Equal(t, runresult.ExitOK, code)
	assert.Equal(t, "testuser-1:pw-1,testuser-2:pw-2\n", stdout.String())
}

func TestExecute_CredentialsGenerateRandom(t *testing.T) {
	a, stdout, _ := newTestApp()

	require.Equal(t, runresult.ExitOK, execute(context.Background(), a, []string{"credentials", "generate", "-n", "3"}))

	creds, err := credentials.Parse(strings.TrimSpace(stdout.String()))
	require.NoError(t, err)
	require.Len(t, creds, 3)
	assert.Len(t, creds[0].Password, 32)
}

func TestExecute_InvalidCount(t *testing.T) {
	a, _, stderr := newTestApp()

	code := execute(context.Background(), a, []string{"credentials", "generate", "--count", "0"})

	assert.Equal(t, runresult.ExitFatal, code)
	assert.Contains(t, stderr.String(), "Error:")
}

func TestExecute_TiersShow(t *testing.T) {
	t.Setenv("KUBECONFIG", "")
	t.Setenv("TENANTPROBE_CREDENTIALS", "")
	t.Setenv("TENANTPROBE_USER_COUNT", "5")
	a, stdout, _ := newTestApp()

	require.Equal(t, runresult.ExitOK, execute(context.Background(), a, []string{"tiers", "show"}))

	out := stdout.String()
	assert.Contains(t, out, "tenantprobe-enterprise-users")
	assert.Contains(t, out, "testuser-1,testuser-2")
	assert.Contains(t, out, "testuser-3,testuser-4")
	assert.Contains(t, out, "identities: testuser-1,testuser-3,testuser-5\n")
}

func TestExecute_TiersShowSingleTier(t *testing.T) {
	t.Setenv("KUBECONFIG", "")
	t.Setenv("TENANTPROBE_CREDENTIALS", "")
	t.Setenv("TENANTPROBE_USER_COUNT", "5")

	t.Run("known tier", func(t *testing.T) {
		a, stdout, _ := newTestApp()

		require.Equal(t, runresult.ExitOK, execute(context.Background(), a, []string{"tiers", "show", "--tier", "premium"}))

		out := stdout.String()
		assert.Contains(t, out, "testuser-3,testuser-4")
		assert.NotContains(t, out, "tenantprobe-enterprise-users")
		assert.NotContains(t, out, "tenantprobe-free-users")
	})

	t.Run("unknown tier", func(t *testing.T) {
		a, _, stderr := newTestApp()

		code := execute(context.Background(), a, []string{"tiers", "show", "--tier", "gold"})

		assert.Equal(t, runresult.ExitFatal, code)
		assert.Contains(t, stderr.String(), `unknown tier "gold"`)
	})
}

func TestExecute_RunRequiresGateway(t *testing.T) {
	t.Setenv("TENANTPROBE_GATEWAY_URL", "")
	t.Setenv("TENANTPROBE_SKIP_VALIDATION", "false")
	a, _, stderr := newTestApp()

	code := execute(context.Background(), a, []string{"run"})

	assert.Equal(t, runresult.ExitFatal, code)
	assert.Contains(t, stderr.String(), "gatewayURL")
}

func TestExitError_Silent(t *testing.T) {
	err := &exitError{code: runresult.ExitFailures}
	assert.Equal(t, "exit code 1", err.Error())
	assert.NoError(t, errors.Unwrap(err))
}
