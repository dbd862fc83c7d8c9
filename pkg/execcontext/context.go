package execcontext

import (
	"fmt"
	"maps"
	"os"
	"os/exec"
	"strings"
)

// Context describes the environment a command runs in: extra environment
// variables and an optional command prepended to it (e.g. "sudo -E").
type Context interface {
	Envs() map[string]string
	PrependCmd() []string
}

func New(envs map[string]string, prependCmd []string) Context {
	return &execContext{
		prependCmd: prependCmd,
		envs:       envs,
	}
}

type execContext struct {
	envs       map[string]string
	prependCmd []string
}

// Envs implements Context.
func (c *execContext) Envs() map[string]string {
	out := make(map[string]string, len(c.envs))
	maps.Copy(out, c.envs)
	return out
}

// PrependCmd implements Context.
func (c *execContext) PrependCmd() []string {
	out := make([]string, len(c.prependCmd))
	copy(out, c.prependCmd)
	return out
}

// ApplyToCmd sets the environment of cmd to the process environment plus the
// envs of ctx, and rewrites cmd to run behind the prepended command.
func ApplyToCmd(ctx Context, cmd *exec.Cmd) {
	envs := ctx.Envs()
	if len(envs) > 0 {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		for k, v := range envs {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
		}
	}

	prependCmd := ctx.PrependCmd()
	if len(prependCmd) < 1 {
		return
	}

	tmpCmd := exec.Command(prependCmd[0], prependCmd[1:]...)
	cmd.Path = tmpCmd.Path
	cmd.Args = append(tmpCmd.Args, cmd.Args...)
}

// FormatCmd renders cmd as a shell line. Values of args following a flag
// listed in redact are replaced by "***".
func FormatCmd(ctx Context, redact []string, cmd ...string) string {
	var sb strings.Builder

	for k, v := range ctx.Envs() {
		fmt.Fprintf(&sb, "%s=%q ", k, v)
	}

	for _, s := range ctx.PrependCmd() {
		safelyAppendToCmd(&sb, s)
	}

	hide := false
	for _, s := range cmd {
		if hide {
			safelyAppendToCmd(&sb, "***")
			hide = false
			continue
		}
		safelyAppendToCmd(&sb, s)
		for _, flag := range redact {
			if s == flag {
				hide = true
			}
		}
	}

	return strings.TrimSpace(sb.String())
}

var unquottable = map[string]struct{}{
	"&&": {},
	"||": {},
	";":  {},
	":":  {},
	"&":  {},
}

func safelyAppendToCmd(sb *strings.Builder, s string) {
	if _, ok := unquottable[s]; ok {
		fmt.Fprintf(sb, "%s ", s)
		return
	}
	fmt.Fprintf(sb, "%q ", s)
}
