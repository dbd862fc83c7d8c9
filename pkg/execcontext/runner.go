package execcontext

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"github.com/go-logr/logr"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
)

var errCommandFailed = errors.New("command failed")

// Runner runs external commands and returns their combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner is a Runner executing commands on the local host.
type ExecRunner struct {
	execCtx Context
	redact  []string
	log     logr.Logger
}

// NewRunner returns an ExecRunner running commands under execCtx. The value
// following any flag in redact is masked in logs.
func NewRunner(execCtx Context, log logr.Logger, redact ...string) *ExecRunner {
	if execCtx == nil {
		execCtx = New(nil, nil)
	}
	return &ExecRunner{execCtx: execCtx, redact: redact, log: log}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, fmt.Errorf("%w: %s", failure.ErrMissingDependency, name)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	ApplyToCmd(r.execCtx, cmd)

	r.log.V(1).Info("running command", "cmd", FormatCmd(r.execCtx, r.redact, append([]string{name}, args...)...))

	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%w: %s: %v, output: %s", errCommandFailed, name, err, string(out))
	}

	return out, nil
}

// RequireTools returns failure.ErrMissingDependency naming every tool of
// names that is not on PATH.
func RequireTools(names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s command not found - please install %s", failure.ErrMissingDependency, name, name))
		}
	}
	return errors.Join(errs...)
}
