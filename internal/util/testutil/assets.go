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

package testutil

import (
	"os"
	"path/filepath"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/utils/ptr"
)

// Kubeconfig is a minimal kubeconfig pointing at a fake API server.
const Kubeconfig = `apiVersion: v1
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
    token: sha256~admin
`

// WriteKubeconfig writes Kubeconfig into a temporary directory and returns
// its path.
func WriteKubeconfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "kubeconfig")
	if err := os.WriteFile(path, []byte(Kubeconfig), 0o600); err != nil {
		t.Fatalf("writing kubeconfig: %v", err)
	}

	return path
}

// NewDeployment returns a Deployment whose rollout is complete when ready
// is true.
func NewDeployment(namespace, name string, ready bool) *appsv1.Deployment {
	d := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:  namespace,
			Name:       name,
			Generation: 2,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To[int32](2),
		},
		Status: appsv1.DeploymentStatus{
			ObservedGeneration: 2,
			Replicas:           2,
			UpdatedReplicas:    2,
			AvailableReplicas:  2,
		},
	}

	if !ready {
		d.Status.UpdatedReplicas = 1
	}

	return d
}

// NewConditioned returns an unstructured object of kind gvk carrying a
// single status condition.
func NewConditioned(gvk schema.GroupVersionKind, namespace, name, condType, status string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(gvk)
	u.SetNamespace(namespace)
	u.SetName(name)
	_ = unstructured.SetNestedSlice(u.Object, []any{
		map[string]any{
			"type":    condType,
			"status":  status,
			"message": "condition " + condType + " is " + status,
		},
	}, "status", "conditions")

	return u
}
