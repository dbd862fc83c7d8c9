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

// Package testutil holds the fixtures shared by unit tests.
package testutil

import (
	"testing"

	rbacv1 "k8s.io/api/rbac/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/alexandremahdhaoui/tenantprobe/internal/k8s"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
)

// NewFakeClientBuilder returns a fake client builder serving every kind of
// the tenantprobe scheme, with the OpenShift kinds cluster-scoped.
func NewFakeClientBuilder(t *testing.T) *fake.ClientBuilder {
	t.Helper()

	scheme, err := k8s.NewScheme()
	if err != nil {
		t.Fatalf("building scheme: %v", err)
	}

	rootScoped := map[schema.GroupVersionKind]struct{}{
		rbacv1.SchemeGroupVersion.WithKind("ClusterRole"):        {},
		rbacv1.SchemeGroupVersion.WithKind("ClusterRoleBinding"): {},
		schema.GroupVersionKind{Version: "v1", Kind: "Namespace"}: {},
		schema.GroupVersionKind{
			Group: "authorization.k8s.io", Version: "v1", Kind: "SelfSubjectAccessReview",
		}: {},
	}
	for _, gvk := range cluster.ClusterScopedKinds() {
		rootScoped[gvk] = struct{}{}
	}

	mapper := meta.NewDefaultRESTMapper(nil)
	for gvk := range scheme.AllKnownTypes() {
		if _, ok := rootScoped[gvk]; ok {
			mapper.Add(gvk, meta.RESTScopeRoot)
			continue
		}
		mapper.Add(gvk, meta.RESTScopeNamespace)
	}

	return fake.NewClientBuilder().WithScheme(scheme).WithRESTMapper(mapper)
}
