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

package k8s_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alexandremahdhaoui/tenantprobe/internal/k8s"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	"k8s.io/client-go/rest"
)

func TestNewKubeRestConfig_InCluster(t *testing.T) {
	// No service account in a unit test environment.
	_, err := k8s.NewKubeRestConfig(k8s.InClusterConfig)
	assert.Error(t, err)
}

func TestNewKubeRestConfig_InvalidFile(t *testing.T) {
	kubeconfigPath := filepath.Join(t.TempDir(), "invalid-kubeconfig")
	require.NoError(t, os.WriteFile(kubeconfigPath, []byte("invalid kubeconfig content"), 0o644))

	_, err := k8s.NewKubeRestConfig(kubeconfigPath)
	assert.Error(t, err)
}

func TestNewKubeRestConfig_NonExistentFile(t *testing.T) {
	_, err := k8s.NewKubeRestConfig("/non/existent/kubeconfig")
	assert.Error(t, err)
}

func TestNewKubeRestConfig_ValidFile(t *testing.T) {
	kubeconfig := `apiVersion: v1
kind: Config
clusters:
- name: test
  cluster:
    server: https://api.test.example.com:6443
contexts:
- name: test
  context:
    cluster: test
    user: admin
current-context: test
users:
- name: admin
  user:
    token: sha256~abc
`
	kubeconfigPath := filepath.Join(t.TempDir(), "kubeconfig")
	require.NoError(t, os.WriteFile(kubeconfigPath, []byte(kubeconfig), 0o600))

	cfg, err := k8s.NewKubeRestConfig(kubeconfigPath)
	require.NoError(t, err)
	assert.Equal(t, "https://api.test.example.com:6443", cfg.Host)
	assert.Equal(t, "sha256~abc", cfg.BearerToken)
}

func TestNewScheme(t *testing.T) {
	scheme, err := k8s.NewScheme()
	require.NoError(t, err)

	for _, gvk := range cluster.ClusterScopedKinds() {
		assert.True(t, scheme.Recognizes(gvk), gvk.String())
	}
	assert.True(t, scheme.Recognizes(appsv1.SchemeGroupVersion.WithKind("Deployment")))
}

func TestNewKubeClient(t *testing.T) {
	_, err := k8s.NewKubeClient(nil)
	assert.Error(t, err)

	c, err := k8s.NewKubeClient(&rest.Config{Host: "https://localhost:6443"})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestNewDiscoveryClient(t *testing.T) {
	_, err := k8s.NewDiscoveryClient(nil)
	assert.Error(t, err)

	d, err := k8s.NewDiscoveryClient(&rest.Config{Host: "https://localhost:6443"})
	require.NoError(t, err)
	assert.NotNil(t, d)
}
