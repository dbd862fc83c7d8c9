//go:build unit

package deploy_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/deploy"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/readiness"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

var deploymentGVK = schema.GroupVersionKind{Group: "apps", Version: "v1", Kind: "Deployment"}

type fakeStages struct {
	calls     []string
	prereqErr error
	applyErr  map[string]error
	waitErr   map[string]error
	dumped    []string
}

func (f *fakeStages) Check(context.Context) error {
	f.calls = append(f.calls, "prereq")
	return f.prereqErr
}

func (f *fakeStages) Apply(_ context.Context, path string) error {
	f.calls = append(f.calls, "apply "+path)
	return f.applyErr[path]
}

func (f *fakeStages) WaitFor(_ context.Context, check readiness.Check) error {
	f.calls = append(f.calls, "wait "+check.Name)
	return f.waitErr[check.Name]
}

func (f *fakeStages) Dump(_ context.Context, namespace string) string {
	f.dumped = append(f.dumped, namespace)
	return ""
}

func newConfig() deploy.Config {
	return deploy.Config{
		PlatformManifests: []string{"platform/"},
		PlatformChecks: []readiness.Check{
			{Kind: deploymentGVK, Namespace: "platform", Name: "gateway", Condition: "Available"},
		},
		WorkloadManifests: []string{"workload/"},
		WorkloadChecks: []readiness.Check{
			{Kind: deploymentGVK, Namespace: "workload", Name: "model", Condition: "Available"},
		},
		DiagnosticNamespaces: []string{"platform"},
	}
}

func run(f *fakeStages, cfg deploy.Config) (*runresult.RunResult, error) {
	result := runresult.New()
	err := deploy.NewSequencer(f, f, f, f, cfg, logr.Discard()).Run(context.Background(), result)
	return result, err
}

func TestSequencer_Success(t *testing.T) {
	f := &fakeStages{}
	result, err := run(f, newConfig())

	require.NoError(t, err)
	assert.Equal(t, []string{"prereq", "apply platform/", "wait gateway", "apply workload/", "wait model"}, f.calls)
	assert.Len(t, result.Steps(), 5)
	assert.False(t, result.Failed())
	assert.Empty(t, f.dumped)
}

func TestSequencer_PlatformNotReadyStopsSequence(t *testing.T) {
	timeout := fmt.Errorf("%w: gateway", failure.ErrReadinessTimeout)
	f := &fakeStages{waitErr: map[string]error{"gateway": timeout}}

	result, err := run(f, newConfig())

	var stageErr *deploy.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, deploy.StageWaitPlatformReady, stageErr.Stage)
	assert.ErrorIs(t, err, failure.ErrReadinessTimeout)

	assert.NotContains(t, f.calls, "apply workload/", "workload is never deployed")
	assert.Equal(t, []string{"platform"}, f.dumped, "namespaces are deduplicated")
	assert.Equal(t, string(deploy.StageWaitPlatformReady), result.LastFailedStep())
}

func TestSequencer_PrerequisiteFailure(t *testing.T) {
	f := &fakeStages{prereqErr: fmt.Errorf("%w: not an administrator", failure.ErrPrerequisite)}

	_, err := run(f, newConfig())

	require.ErrorIs(t, err, failure.ErrPrerequisite)
	assert.True(t, failure.IsFatal(err))
	assert.Equal(t, []string{"prereq"}, f.calls)
	assert.Empty(t, f.dumped, "no diagnostics before anything is deployed")
}

func TestSequencer_WorkloadApplyFailure(t *testing.T) {
	f := &fakeStages{applyErr: map[string]error{"workload/": errors.New("boom")}}

	_, err := run(f, newConfig())

	var stageErr *deploy.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, deploy.StageDeployWorkload, stageErr.Stage)
	assert.NotContains(t, f.calls, "wait model")
	assert.Equal(t, []string{"platform", "workload"}, f.dumped)
}

func TestSequencer_Skip(t *testing.T) {
	f := &fakeStages{}
	cfg := newConfig()
	cfg.Skip = true

	result, err := run(f, cfg)

	require.NoError(t, err)
	assert.Equal(t, []string{"prereq"}, f.calls)
	assert.Len(t, result.Steps(), 1)
}

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	ret := m.Called(name, args)
	return ret.Get(0).([]byte), ret.Error(1)
}

func fastBackoff() retry.Backoff {
	return retry.Backoff{Steps: 3, Duration: time.Millisecond, Factor: 1}
}

func TestKubectlApplier(t *testing.T) {
	dir := t.TempDir()
	kustomize := filepath.Join(dir, "platform")
	require.NoError(t, os.Mkdir(kustomize, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(kustomize, "kustomization.yaml"), []byte("resources: []\n"), 0o644))
	plain := filepath.Join(dir, "workload.yaml")
	require.NoError(t, os.WriteFile(plain, []byte("{}\n"), 0o644))

	t.Run("kustomize directory", func(t *testing.T) {
		r := &mockRunner{}
		r.On("Run", deploy.ApplyTool, []string{"--kubeconfig", "/kc", "apply", "-k", kustomize}).
			Return([]byte("configured"), nil).Once()

		require.NoError(t, deploy.NewKubectlApplier(r, "/kc", fastBackoff(), logr.Discard()).Apply(context.Background(), kustomize))
		r.AssertExpectations(t)
	})

	t.Run("plain file retried", func(t *testing.T) {
		r := &mockRunner{}
		args := []string{"apply", "-f", plain}
		r.On("Run", deploy.ApplyTool, args).Return([]byte{}, errors.New("connection refused")).Once()
		r.On("Run", deploy.ApplyTool, args).Return([]byte("created"), nil).Once()

		require.NoError(t, deploy.NewKubectlApplier(r, "", fastBackoff(), logr.Discard()).Apply(context.Background(), plain))
		r.AssertExpectations(t)
	})

	t.Run("exhausted", func(t *testing.T) {
		r := &mockRunner{}
		r.On("Run", deploy.ApplyTool, mock.Anything).Return([]byte{}, errors.New("connection refused")).Times(3)

		err := deploy.NewKubectlApplier(r, "", fastBackoff(), logr.Discard()).Apply(context.Background(), plain)
		require.ErrorIs(t, err, failure.ErrTransientCluster)
		r.AssertExpectations(t)
	})

	t.Run("missing kubectl not retried", func(t *testing.T) {
		r := &mockRunner{}
		r.On("Run", deploy.ApplyTool, mock.Anything).
			Return([]byte(nil), fmt.Errorf("%w: kubectl", failure.ErrMissingDependency)).Once()

		err := deploy.NewKubectlApplier(r, "", fastBackoff(), logr.Discard()).Apply(context.Background(), plain)
		require.ErrorIs(t, err, failure.ErrMissingDependency)
		r.AssertExpectations(t)
	})

	t.Run("missing path", func(t *testing.T) {
		r := &mockRunner{}
		err := deploy.NewKubectlApplier(r, "", fastBackoff(), logr.Discard()).Apply(context.Background(), filepath.Join(dir, "absent"))
		require.ErrorIs(t, err, failure.ErrInvalidConfig)
		r.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})
}
