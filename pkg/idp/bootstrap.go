// Package idp publishes test users to the cluster HTPasswd identity
// provider and removes them.
package idp

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	rbacv1 "k8s.io/api/rbac/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/credentials"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
)

const (
	restartAnnotation = "kubectl.kubernetes.io/restartedAt"
	managedByLabel    = "app.kubernetes.io/managed-by"
)

// State is a step of the bootstrap state machine.
type State int

const (
	Unconfigured State = iota
	SecretPublished
	ProviderRegistered
	RolloutComplete
	RolesGranted
	Verified
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "Unconfigured"
	case SecretPublished:
		return "SecretPublished"
	case ProviderRegistered:
		return "ProviderRegistered"
	case RolloutComplete:
		return "RolloutComplete"
	case RolesGranted:
		return "RolesGranted"
	case Verified:
		return "Verified"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// TransitionError reports the transition that failed. Nothing is rolled
// back: From is the state the cluster was left in.
type TransitionError struct {
	From State
	To   State
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("identity provider %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// Report describes the outcome of Bootstrap.
type Report struct {
	State State `json:"state"`
	// RoleGrantFailures maps usernames to the error that prevented the
	// role grant.
	RoleGrantFailures map[string]error `json:"-"`
	Warnings          []string         `json:"warnings,omitempty"`
}

func (r *Report) warn(log logr.Logger, msg string, kv ...any) {
	log.Info("WARNING: "+msg, kv...)
	r.Warnings = append(r.Warnings, msg)
}

// Bootstrapper drives the identity provider state machine.
type Bootstrapper struct {
	client client.Client
	cfg    Config
	log    logr.Logger
}

func New(c client.Client, cfg Config, log logr.Logger) (*Bootstrapper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Bootstrapper{client: c, cfg: cfg, log: log.WithValues("provider", cfg.ProviderName)}, nil
}

// Bootstrap runs every transition in order up to Verified. A failed
// transition stops the machine and is returned as a *TransitionError;
// role grant failures, rollout timeouts and verification mismatches are
// reported without failing.
func (b *Bootstrapper) Bootstrap(ctx context.Context, creds credentials.Set) (*Report, error) {
	report := &Report{State: Unconfigured, RoleGrantFailures: map[string]error{}}

	steps := []struct {
		to State
		fn func(ctx context.Context) error
	}{
		{SecretPublished, func(ctx context.Context) error { return b.publishSecret(ctx, creds) }},
		{ProviderRegistered, b.registerProvider},
		{RolloutComplete, func(ctx context.Context) error { return b.rollout(ctx, report) }},
		{RolesGranted, func(ctx context.Context) error { b.grantRoles(ctx, creds.Usernames(), report); return nil }},
		{Verified, func(ctx context.Context) error { b.verify(ctx, creds.Usernames(), report); return nil }},
	}

	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return report, &TransitionError{From: report.State, To: step.to, Err: err}
		}
		report.State = step.to
		b.log.Info("identity provider transition", "state", report.State.String())
	}

	return report, nil
}

func (b *Bootstrapper) publishSecret(ctx context.Context, creds credentials.Set) error {
	data, err := HTPasswd(creds, b.cfg.BcryptCost)
	if err != nil {
		return err
	}

	return retry.WithBackoff(ctx, b.cfg.Backoff, func(ctx context.Context) error {
		secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{
			Namespace: b.cfg.SecretNamespace,
			Name:      b.cfg.SecretName,
		}}

		op, err := controllerutil.CreateOrUpdate(ctx, b.client, secret, func() error {
			if secret.Labels == nil {
				secret.Labels = map[string]string{}
			}
			secret.Labels[managedByLabel] = cluster.FieldOwner
			secret.Type = corev1.SecretTypeOpaque
			secret.Data = map[string][]byte{HTPasswdKey: data}
			return nil
		})
		if err != nil {
			return err
		}

		b.log.Info("published htpasswd secret", "secret", b.cfg.SecretName, "users", len(creds), "operation", string(op))
		return nil
	})
}

func (b *Bootstrapper) registerProvider(ctx context.Context) error {
	return retry.WithBackoff(ctx, b.cfg.Backoff, func(ctx context.Context) error {
		oauth := cluster.New(cluster.OAuthGVK, cluster.OAuthName)
		err := b.client.Get(ctx, client.ObjectKey{Name: cluster.OAuthName}, oauth)
		if apierrors.IsNotFound(err) {
			b.log.Info("creating cluster OAuth configuration")
			return b.client.Create(ctx, cluster.NewOAuth(b.provider()))
		} else if err != nil {
			return err
		}

		names, _ := cluster.IdentityProviderNames(oauth)
		if slices.Contains(names, b.cfg.ProviderName) {
			b.log.Info("identity provider already registered")
			return nil
		}

		patch, err := b.appendProviderPatch(oauth)
		if err != nil {
			return retry.Permanent(err)
		}

		b.log.Info("appending identity provider", "existing", names)

		return b.client.Patch(ctx, oauth, client.RawPatch(types.JSONPatchType, patch))
	})
}

type jsonPatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// appendProviderPatch adds the provider at the end of the existing list.
// The resourceVersion test makes a concurrent writer fail the patch
// instead of being overwritten.
func (b *Bootstrapper) appendProviderPatch(oauth *unstructured.Unstructured) ([]byte, error) {
	ops := []jsonPatchOp{{Op: "test", Path: "/metadata/resourceVersion", Value: oauth.GetResourceVersion()}}

	_, hasList := cluster.IdentityProviderNames(oauth)
	_, hasSpec, _ := unstructured.NestedMap(oauth.Object, "spec")

	switch {
	case hasList:
		ops = append(ops, jsonPatchOp{Op: "add", Path: "/spec/identityProviders/-", Value: b.provider()})
	case hasSpec:
		ops = append(ops, jsonPatchOp{Op: "add", Path: "/spec/identityProviders", Value: []any{b.provider()}})
	default:
		ops = append(ops, jsonPatchOp{Op: "add", Path: "/spec", Value: map[string]any{
			"identityProviders": []any{b.provider()},
		}})
	}

	return json.Marshal(ops)
}

func (b *Bootstrapper) provider() map[string]any {
	return cluster.HTPasswdProvider(b.cfg.ProviderName, b.cfg.SecretName)
}

func (b *Bootstrapper) rollout(ctx context.Context, report *Report) error {
	key := client.ObjectKey{Namespace: b.cfg.AuthNamespace, Name: b.cfg.AuthDeployment}

	err := retry.WithBackoff(ctx, b.cfg.Backoff, func(ctx context.Context) error {
		deploy := &appsv1.Deployment{}
		if err := b.client.Get(ctx, key, deploy); err != nil {
			return err
		}

		base := deploy.DeepCopy()
		if deploy.Spec.Template.Annotations == nil {
			deploy.Spec.Template.Annotations = map[string]string{}
		}
		deploy.Spec.Template.Annotations[restartAnnotation] = time.Now().UTC().Format(time.RFC3339)

		return b.client.Patch(ctx, deploy, client.MergeFrom(base))
	})
	if err != nil {
		return fmt.Errorf("restarting %s: %w", key, err)
	}

	b.log.Info("waiting for authentication rollout", "deployment", key.String(), "timeout", b.cfg.RolloutTimeout.String())

	interval := b.cfg.RolloutInterval
	if interval <= 0 {
		interval = defaultRolloutInterval
	}

	err = retry.Poll(ctx, interval, b.cfg.RolloutTimeout, func(ctx context.Context) (bool, error) {
		deploy := &appsv1.Deployment{}
		if err := b.client.Get(ctx, key, deploy); err != nil {
			b.log.V(1).Info("reading authentication deployment", "error", err.Error())
			return false, nil
		}
		return rolloutComplete(deploy), nil
	})
	if err != nil {
		// The authentication server may serve the old and new configuration
		// side by side while it rolls out.
		report.warn(b.log, fmt.Sprintf("authentication rollout not complete after %s: %v", b.cfg.RolloutTimeout, err))
	}

	return nil
}

func rolloutComplete(d *appsv1.Deployment) bool {
	replicas := int32(1)
	if d.Spec.Replicas != nil {
		replicas = *d.Spec.Replicas
	}

	return d.Status.ObservedGeneration >= d.Generation &&
		d.Status.UpdatedReplicas == replicas &&
		d.Status.Replicas == replicas &&
		d.Status.AvailableReplicas == replicas
}

// RoleBindingName is the name of the binding granting role to user.
func RoleBindingName(role, user string) string {
	return fmt.Sprintf("%s-%s-%s", cluster.FieldOwner, role, user)
}

// grantRoles binds the baseline role to each user. A binding that already
// exists counts as granted and is not retried, since its name encodes both
// the role and the user and a re-run finds the bindings of earlier runs.
// Other errors are recorded per user and never stop the remaining grants.
func (b *Bootstrapper) grantRoles(ctx context.Context, usernames []string, report *Report) {
	for _, user := range usernames {
		binding := &rbacv1.RoleBinding{
			ObjectMeta: metav1.ObjectMeta{
				Namespace: b.cfg.RoleNamespace,
				Name:      RoleBindingName(b.cfg.BaselineRole, user),
				Labels:    map[string]string{managedByLabel: cluster.FieldOwner},
			},
			Subjects: []rbacv1.Subject{{
				Kind:     rbacv1.UserKind,
				APIGroup: rbacv1.GroupName,
				Name:     user,
			}},
			RoleRef: rbacv1.RoleRef{
				APIGroup: rbacv1.GroupName,
				Kind:     "ClusterRole",
				Name:     b.cfg.BaselineRole,
			},
		}

		err := retry.WithBackoff(ctx, b.cfg.Backoff, func(ctx context.Context) error {
			err := b.client.Create(ctx, binding.DeepCopy())
			if apierrors.IsAlreadyExists(err) {
				return retry.Permanent(err)
			}
			return err
		})

		switch {
		case err == nil:
			b.log.Info("granted role", "user", user, "role", b.cfg.BaselineRole, "namespace", b.cfg.RoleNamespace)
		case apierrors.IsAlreadyExists(err):
			b.log.Info("role already granted", "user", user, "role", b.cfg.BaselineRole)
		default:
			b.log.Error(err, "granting role", "user", user, "role", b.cfg.BaselineRole)
			report.RoleGrantFailures[user] = fmt.Errorf("%w: granting %s to %s: %w",
				failure.ErrTransientCluster, b.cfg.BaselineRole, user, err)
		}
	}
}

// verify reads back the secret and the provider registration. Reads may
// lag behind writes, so mismatches are warnings.
func (b *Bootstrapper) verify(ctx context.Context, usernames []string, report *Report) {
	secret := &corev1.Secret{}
	key := client.ObjectKey{Namespace: b.cfg.SecretNamespace, Name: b.cfg.SecretName}
	if err := b.client.Get(ctx, key, secret); err != nil {
		report.warn(b.log, fmt.Sprintf("cannot read secret %s: %v", key, err))
	} else {
		published := htpasswdUsers(secret.Data[HTPasswdKey])
		for _, user := range usernames {
			if _, ok := published[user]; !ok {
				report.warn(b.log, fmt.Sprintf("user %s missing from secret %s", user, key), "user", user)
			}
		}
	}

	oauth := cluster.New(cluster.OAuthGVK, cluster.OAuthName)
	if err := b.client.Get(ctx, client.ObjectKey{Name: cluster.OAuthName}, oauth); err != nil {
		report.warn(b.log, fmt.Sprintf("cannot read OAuth %s: %v", cluster.OAuthName, err))
		return
	}

	names, _ := cluster.IdentityProviderNames(oauth)
	if !slices.Contains(names, b.cfg.ProviderName) {
		report.warn(b.log, fmt.Sprintf("identity provider %s not registered in OAuth %s", b.cfg.ProviderName, cluster.OAuthName))
	}
}
