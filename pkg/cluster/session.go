package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/execcontext"
)

// SessionTool is the CLI used to switch identities.
const SessionTool = "oc"

var (
	errEmptyCredential = errors.New("username and password must not be empty")
	errEmptyOutput     = errors.New("empty output")
)

// Session owns the identity the CLI acts as. It works on a private copy of
// the administrator kubeconfig so logging in as a test user never alters
// the operator's kubeconfig.
type Session struct {
	runner execcontext.Runner
	log    logr.Logger

	path     string
	original []byte
	tlsArgs  []string

	mu     sync.Mutex
	server string
}

// NewSession copies kubeconfig into a private temporary directory and
// returns a Session acting as the identity it holds. Test users trust the
// API server the same way the administrator kubeconfig does.
func NewSession(log logr.Logger, kubeconfig string) (*Session, error) {
	original, err := os.ReadFile(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("reading kubeconfig: %w", err)
	}

	cfg, err := clientcmd.LoadFromFile(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("parsing kubeconfig: %w", err)
	}

	dir, err := os.MkdirTemp("", "tenantprobe-session-")
	if err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	path := filepath.Join(dir, "kubeconfig")
	if err := os.WriteFile(path, original, 0o600); err != nil {
		return nil, errors.Join(fmt.Errorf("writing session kubeconfig: %w", err), os.RemoveAll(dir))
	}

	tlsArgs, err := loginTLSArgs(cfg, dir)
	if err != nil {
		return nil, errors.Join(err, os.RemoveAll(dir))
	}

	runner := execcontext.NewRunner(
		execcontext.New(map[string]string{"KUBECONFIG": path}, nil),
		log,
		"-p", "--password",
	)

	return newSession(runner, log, path, original, tlsArgs), nil
}

func newSession(runner execcontext.Runner, log logr.Logger, path string, original []byte, tlsArgs []string) *Session {
	return &Session{runner: runner, log: log, path: path, original: original, tlsArgs: tlsArgs}
}

// loginTLSArgs returns the oc login flags carrying the TLS settings of the
// current cluster of cfg. Embedded CA data is written to dir.
func loginTLSArgs(cfg *clientcmdapi.Config, dir string) ([]string, error) {
	kctx, ok := cfg.Contexts[cfg.CurrentContext]
	if !ok {
		return nil, nil
	}
	entry, ok := cfg.Clusters[kctx.Cluster]
	if !ok {
		return nil, nil
	}

	switch {
	case entry.InsecureSkipTLSVerify:
		return []string{"--insecure-skip-tls-verify=true"}, nil
	case len(entry.CertificateAuthorityData) > 0:
		path := filepath.Join(dir, "ca.crt")
		if err := os.WriteFile(path, entry.CertificateAuthorityData, 0o600); err != nil {
			return nil, fmt.Errorf("writing session CA: %w", err)
		}
		return []string{"--certificate-authority=" + path}, nil
	case entry.CertificateAuthority != "":
		return []string{"--certificate-authority=" + entry.CertificateAuthority}, nil
	}

	return nil, nil
}

// Kubeconfig returns the path of the session kubeconfig.
func (s *Session) Kubeconfig() string {
	return s.path
}

// WhoAmI returns the name of the current identity.
func (s *Session) WhoAmI(ctx context.Context) (string, error) {
	return s.output(ctx, "whoami")
}

// Token returns the bearer token of the current identity.
func (s *Session) Token(ctx context.Context) (string, error) {
	return s.output(ctx, "whoami", "--show-token")
}

// Login switches the session to username. The API server is resolved from
// the administrator identity on first use.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errEmptyCredential
	}

	server, err := s.apiServer(ctx)
	if err != nil {
		return err
	}

	args := append([]string{"login", "--server", server}, s.tlsArgs...)
	args = append(args, "-u", username, "-p", password)

	if _, err := s.runner.Run(ctx, SessionTool, args...); err != nil {
		return fmt.Errorf("logging in as %s: %w", username, err)
	}

	s.log.Info("switched identity", "user", username)

	return nil
}

// Restore switches the session back to the administrator identity.
func (s *Session) Restore(_ context.Context) error {
	if err := os.WriteFile(s.path, s.original, 0o600); err != nil {
		return fmt.Errorf("restoring session kubeconfig: %w", err)
	}
	s.log.V(1).Info("restored administrator identity")
	return nil
}

// Close removes the session kubeconfig.
func (s *Session) Close(_ context.Context) error {
	return os.RemoveAll(filepath.Dir(s.path))
}

func (s *Session) apiServer(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != "" {
		return s.server, nil
	}

	server, err := s.output(ctx, "whoami", "--show-server")
	if err != nil {
		return "", fmt.Errorf("resolving API server: %w", err)
	}
	s.server = server

	return server, nil
}

func (s *Session) output(ctx context.Context, args ...string) (string, error) {
	out, err := s.runner.Run(ctx, SessionTool, args...)
	if err != nil {
		return "", err
	}

	value := strings.TrimSpace(string(out))
	if value == "" {
		return "", fmt.Errorf("%w: %s %s", errEmptyOutput, SessionTool, strings.Join(args, " "))
	}

	return value, nil
}
