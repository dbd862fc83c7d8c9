//go:build unit

package cluster

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ret := m.Called(name, args)
	out, _ := ret.Get(0).([]byte)
	return out, ret.Error(1)
}

func newTestSession(t *testing.T, runner *mockRunner) *Session {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(path, []byte("admin"), 0o600))
	return newSession(runner, logr.Discard(), path, []byte("admin"), []string{"--certificate-authority=/etc/pki/ca.crt"})
}

func kubeconfig(clusterTLS string) string {
	return `apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://api.test:6443
` + clusterTLS + `contexts:
- name: admin
  context:
    cluster: test
    user: admin
current-context: admin
users:
- name: admin
  user:
    token: sha256~admin
`
}

func TestSession_Login(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", SessionTool, []string{"whoami", "--show-server"}).
		Return([]byte("https://api.test:6443\n"), nil).Once()
	runner.On("Run", SessionTool, []string{
		"login", "--server", "https://api.test:6443", "--certificate-authority=/etc/pki/ca.crt",
		"-u", "testuser-1", "-p", "pw-1",
	}).Return([]byte("Login successful."), nil).Once()
	runner.On("Run", SessionTool, []string{
		"login", "--server", "https://api.test:6443", "--certificate-authority=/etc/pki/ca.crt",
		"-u", "testuser-3", "-p", "pw-3",
	}).Return([]byte("Login successful."), nil).Once()

	s := newTestSession(t, runner)

	require.NoError(t, s.Login(context.Background(), "testuser-1", "pw-1"))
	// the API server is resolved once
	require.NoError(t, s.Login(context.Background(), "testuser-3", "pw-3"))

	runner.AssertExpectations(t)
}

func TestSession_LoginErrors(t *testing.T) {
	errCLI := errors.New("exit status 1")

	t.Run("empty credential", func(t *testing.T) {
		s := newTestSession(t, &mockRunner{})
		require.ErrorIs(t, s.Login(context.Background(), "testuser-1", ""), errEmptyCredential)
	})

	t.Run("server resolution fails", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("Run", SessionTool, []string{"whoami", "--show-server"}).Return(nil, errCLI)
		s := newTestSession(t, runner)
		require.ErrorIs(t, s.Login(context.Background(), "testuser-1", "pw"), errCLI)
	})

	t.Run("login rejected", func(t *testing.T) {
		runner := &mockRunner{}
		runner.On("Run", SessionTool, []string{"whoami", "--show-server"}).Return([]byte("https://api.test:6443"), nil)
		runner.On("Run", SessionTool, mock.Anything).Return([]byte("Login failed"), errCLI)
		s := newTestSession(t, runner)
		err := s.Login(context.Background(), "testuser-1", "pw")
		require.ErrorIs(t, err, errCLI)
		assert.Contains(t, err.Error(), "testuser-1")
	})
}

func TestSession_WhoAmIAndToken(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", SessionTool, []string{"whoami"}).Return([]byte("testuser-1\n"), nil)
	runner.On("Run", SessionTool, []string{"whoami", "--show-token"}).Return([]byte("sha256~tok\n"), nil)
	s := newTestSession(t, runner)

	who, err := s.WhoAmI(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "testuser-1", who)

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sha256~tok", tok)
}

func TestSession_EmptyOutput(t *testing.T) {
	runner := &mockRunner{}
	runner.On("Run", SessionTool, []string{"whoami"}).Return([]byte("  \n"), nil)
	s := newTestSession(t, runner)

	_, err := s.WhoAmI(context.Background())
	require.ErrorIs(t, err, errEmptyOutput)
}

func TestSession_RestoreAndClose(t *testing.T) {
	s := newTestSession(t, &mockRunner{})

	require.NoError(t, os.WriteFile(s.Kubeconfig(), []byte("testuser-1"), 0o600))
	require.NoError(t, s.Restore(context.Background()))

	b, err := os.ReadFile(s.Kubeconfig())
	require.NoError(t, err)
	assert.Equal(t, "admin", string(b))

	require.NoError(t, s.Close(context.Background()))
	_, err = os.Stat(s.Kubeconfig())
	assert.True(t, os.IsNotExist(err))
}

func TestNewSession(t *testing.T) {
	src := filepath.Join(t.TempDir(), "kubeconfig")
	content := kubeconfig("")
	require.NoError(t, os.WriteFile(src, []byte(content), 0o600))

	s, err := NewSession(logr.Discard(), src)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	assert.NotEqual(t, src, s.Kubeconfig())
	b, err := os.ReadFile(s.Kubeconfig())
	require.NoError(t, err)
	assert.Equal(t, content, string(b))

	_, err = NewSession(logr.Discard(), filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewSession_EmbeddedCA(t *testing.T) {
	src := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(src, []byte(kubeconfig("    certificate-authority-data: Y2EtcGVt\n")), 0o600))

	s, err := NewSession(logr.Discard(), src)
	require.NoError(t, err)

	ca := filepath.Join(filepath.Dir(s.Kubeconfig()), "ca.crt")
	b, err := os.ReadFile(ca)
	require.NoError(t, err)
	assert.Equal(t, "ca-pem", string(b))

	require.NoError(t, s.Close(context.Background()))
	_, err = os.Stat(ca)
	assert.True(t, os.IsNotExist(err))
}

func TestNewSession_LoginTLS(t *testing.T) {
	tests := []struct {
		name       string
		clusterTLS string
		want       func(dir string) []string
	}{
		{
			name:       "embedded CA is written next to the session kubeconfig",
			clusterTLS: "    certificate-authority-data: Y2EtcGVt\n",
			want: func(dir string) []string {
				return []string{"--certificate-authority=" + filepath.Join(dir, "ca.crt")}
			},
		},
		{
			name:       "CA file is passed through",
			clusterTLS: "    certificate-authority: /etc/pki/ca.crt\n",
			want:       func(string) []string { return []string{"--certificate-authority=/etc/pki/ca.crt"} },
		},
		{
			name:       "insecure only when the kubeconfig is",
			clusterTLS: "    insecure-skip-tls-verify: true\n",
			want:       func(string) []string { return []string{"--insecure-skip-tls-verify=true"} },
		},
		{
			name: "system roots otherwise",
			want: func(string) []string { return nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := filepath.Join(t.TempDir(), "kubeconfig")
			require.NoError(t, os.WriteFile(src, []byte(kubeconfig(tt.clusterTLS)), 0o600))

			s, err := NewSession(logr.Discard(), src)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close(context.Background()) })

			dir := filepath.Dir(s.Kubeconfig())
			assert.Equal(t, tt.want(dir), s.tlsArgs)
		})
	}
}
