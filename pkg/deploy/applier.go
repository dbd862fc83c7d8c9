package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/execcontext"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
)

// ApplyTool is the manifest tool driven by KubectlApplier.
const ApplyTool = "kubectl"

var kustomizationFiles = []string{"kustomization.yaml", "kustomization.yml", "Kustomization"}

// KubectlApplier applies manifests with kubectl, retrying failed applies.
type KubectlApplier struct {
	runner     execcontext.Runner
	kubeconfig string
	backoff    retry.Backoff
	log        logr.Logger
}

func NewKubectlApplier(runner execcontext.Runner, kubeconfig string, backoff retry.Backoff, log logr.Logger) *KubectlApplier {
	return &KubectlApplier{runner: runner, kubeconfig: kubeconfig, backoff: backoff, log: log}
}

// Apply applies the manifests at path: "apply -k" for a kustomize directory,
// "apply -f" otherwise. A missing path or a missing kubectl is not retried.
func (a *KubectlApplier) Apply(ctx context.Context, path string) error {
	args, err := a.args(path)
	if err != nil {
		return err
	}

	a.log.Info("applying manifests", "path", path)

	return retry.WithBackoff(ctx, a.backoff, func(ctx context.Context) error {
		out, err := a.runner.Run(ctx, ApplyTool, args...)
		if err != nil {
			if errors.Is(err, failure.ErrMissingDependency) {
				return retry.Permanent(err)
			}
			a.log.V(1).Info("apply failed, retrying", "path", path, "error", err.Error())
			return err
		}
		a.log.V(1).Info("applied", "path", path, "output", strings.TrimSpace(string(out)))
		return nil
	})
}

func (a *KubectlApplier) args(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: manifest path %s: %w", failure.ErrInvalidConfig, path, err)
	}

	var args []string
	if a.kubeconfig != "" {
		args = append(args, "--kubeconfig", a.kubeconfig)
	}

	if info.IsDir() && isKustomization(path) {
		return append(args, "apply", "-k", path), nil
	}

	return append(args, "apply", "-f", path), nil
}

func isKustomization(dir string) bool {
	for _, name := range kustomizationFiles {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}
