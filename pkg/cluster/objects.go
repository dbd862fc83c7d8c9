// Package cluster is the cluster command surface used by tenantprobe: the
// OpenShift kinds it manipulates, administrative prerequisite checks,
// diagnostics and the CLI session used to switch identities.
package cluster

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

const (
	// OAuthName is the name of the cluster-wide OAuth configuration.
	OAuthName = "cluster"
	// ConfigNamespace holds the secrets referenced by identity providers.
	ConfigNamespace = "openshift-config"
	// AuthNamespace and AuthDeployment locate the authentication server.
	AuthNamespace  = "openshift-authentication"
	AuthDeployment = "oauth-openshift"

	// FieldOwner marks the objects tenantprobe creates.
	FieldOwner = "tenantprobe"
)

var (
	ConfigGroupVersion = schema.GroupVersion{Group: "config.openshift.io", Version: "v1"}
	UserGroupVersion   = schema.GroupVersion{Group: "user.openshift.io", Version: "v1"}

	OAuthGVK    = ConfigGroupVersion.WithKind("OAuth")
	GroupGVK    = UserGroupVersion.WithKind("Group")
	UserGVK     = UserGroupVersion.WithKind("User")
	IdentityGVK = UserGroupVersion.WithKind("Identity")
)

// ClusterScopedKinds lists the OpenShift kinds known to tenantprobe. None of
// them is namespaced.
func ClusterScopedKinds() []schema.GroupVersionKind {
	return []schema.GroupVersionKind{OAuthGVK, GroupGVK, UserGVK, IdentityGVK}
}

// AddToScheme registers the OpenShift kinds as unstructured types so a
// controller-runtime client built on s can serve them.
func AddToScheme(s *runtime.Scheme) error {
	for _, gvk := range ClusterScopedKinds() {
		s.AddKnownTypeWithName(gvk, &unstructured.Unstructured{})
		s.AddKnownTypeWithName(gvk.GroupVersion().WithKind(gvk.Kind+"List"), &unstructured.UnstructuredList{})
	}
	metav1.AddToGroupVersion(s, ConfigGroupVersion)
	metav1.AddToGroupVersion(s, UserGroupVersion)
	return nil
}

// New returns an empty object of kind gvk named name.
func New(gvk schema.GroupVersionKind, name string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(gvk)
	u.SetName(name)
	return u
}

// NewGroup returns a Group named name listing users.
func NewGroup(name string, users []string) *unstructured.Unstructured {
	u := New(GroupGVK, name)
	_ = unstructured.SetNestedStringSlice(u.Object, append([]string{}, users...), "users")
	return u
}

// GroupUsers returns the members of a Group.
func GroupUsers(u *unstructured.Unstructured) []string {
	users, _, _ := unstructured.NestedStringSlice(u.Object, "users")
	return users
}

// IdentityName is the name of the Identity created when user logs in
// through provider.
func IdentityName(provider, user string) string {
	return fmt.Sprintf("%s:%s", provider, user)
}

// HTPasswdProvider renders an OAuth identity provider entry of type
// HTPasswd reading its users from secretName.
func HTPasswdProvider(name, secretName string) map[string]any {
	return map[string]any{
		"name":          name,
		"mappingMethod": "claim",
		"type":          "HTPasswd",
		"htpasswd": map[string]any{
			"fileData": map[string]any{
				"name": secretName,
			},
		},
	}
}

// NewOAuth returns the cluster OAuth configuration holding providers.
func NewOAuth(providers ...map[string]any) *unstructured.Unstructured {
	u := New(OAuthGVK, OAuthName)
	list := make([]any, 0, len(providers))
	for _, p := range providers {
		list = append(list, p)
	}
	_ = unstructured.SetNestedSlice(u.Object, list, "spec", "identityProviders")
	return u
}

// IdentityProviderNames returns the names of the identity providers of an
// OAuth object, in order. The second value reports whether the
// identityProviders field is present at all.
func IdentityProviderNames(oauth *unstructured.Unstructured) ([]string, bool) {
	providers, found, err := unstructured.NestedSlice(oauth.Object, "spec", "identityProviders")
	if err != nil || !found {
		return nil, false
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		m, ok := p.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		names = append(names, name)
	}
	return names, true
}

// ConditionStatus returns the status and message of the condition named
// condType in status.conditions of u.
func ConditionStatus(u *unstructured.Unstructured, condType string) (status, message string, found bool) {
	conditions, ok, err := unstructured.NestedSlice(u.Object, "status", "conditions")
	if err != nil || !ok {
		return "", "", false
	}

	for _, c := range conditions {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t != condType {
			continue
		}
		status, _ = m["status"].(string)
		message, _ = m["message"].(string)
		return status, message, true
	}
	return "", "", false
}
