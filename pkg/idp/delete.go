package idp

import (
	"context"
	"errors"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
)

// Delete removes the htpasswd secret, the role grants and the User and
// Identity records of usernames. NotFound is not an error. The provider
// entry in the shared OAuth configuration is left for an operator to
// remove: other tenants may depend on that resource.
func (b *Bootstrapper) Delete(ctx context.Context, usernames []string) error {
	var errs []error

	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{
		Namespace: b.cfg.SecretNamespace,
		Name:      b.cfg.SecretName,
	}}
	errs = append(errs, b.delete(ctx, secret, "secret", b.cfg.SecretName))

	for _, user := range usernames {
		binding := &rbacv1.RoleBinding{ObjectMeta: metav1.ObjectMeta{
			Namespace: b.cfg.RoleNamespace,
			Name:      RoleBindingName(b.cfg.BaselineRole, user),
		}}
		errs = append(errs,
			b.delete(ctx, binding, "role binding", binding.Name),
			b.delete(ctx, cluster.New(cluster.UserGVK, user), "user", user),
		)

		identity := cluster.IdentityName(b.cfg.ProviderName, user)
		errs = append(errs, b.delete(ctx, cluster.New(cluster.IdentityGVK, identity), "identity", identity))
	}

	b.log.Info("WARNING: manual follow-up required: remove the identity provider from OAuth/"+cluster.OAuthName,
		"provider", b.cfg.ProviderName,
		"command", fmt.Sprintf("oc edit oauth %s", cluster.OAuthName))

	return errors.Join(errs...)
}

func (b *Bootstrapper) delete(ctx context.Context, obj client.Object, kind, name string) error {
	if err := client.IgnoreNotFound(b.client.Delete(ctx, obj)); err != nil {
		return fmt.Errorf("deleting %s %s: %w", kind, name, err)
	}
	b.log.V(1).Info("deleted", "kind", kind, "name", name)
	return nil
}
