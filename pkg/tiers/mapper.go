package tiers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
)

// DefaultGroupPrefix prefixes the tier group names.
const DefaultGroupPrefix = "tenantprobe-"

// Mapper publishes an Assignment as one Group per tier.
type Mapper struct {
	client  client.Client
	log     logr.Logger
	prefix  string
	backoff retry.Backoff
}

func NewMapper(c client.Client, prefix string, backoff retry.Backoff, log logr.Logger) *Mapper {
	return &Mapper{client: c, log: log, prefix: prefix, backoff: backoff}
}

// Apply creates every tier group and adds its users. Existing groups and
// members are kept. Each tier is attempted; errors are joined.
func (m *Mapper) Apply(ctx context.Context, a Assignment) error {
	var errs []error
	for _, t := range Order {
		if err := m.applyTier(ctx, t, a.Users(t)); err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", t, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Mapper) applyTier(ctx context.Context, t Tier, users []string) error {
	name := GroupName(m.prefix, t)
	log := m.log.WithValues("group", name)

	err := retry.WithBackoff(ctx, m.backoff, func(ctx context.Context) error {
		err := m.client.Create(ctx, cluster.NewGroup(name, users))
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		if err == nil {
			log.Info("created tier group", "users", users)
		}
		return err
	})
	if err != nil {
		return err
	}

	return retry.WithBackoff(ctx, m.backoff, func(ctx context.Context) error {
		group := cluster.New(cluster.GroupGVK, name)
		if err := m.client.Get(ctx, client.ObjectKey{Name: name}, group); err != nil {
			return err
		}

		current := cluster.GroupUsers(group)
		merged := mergeMembers(current, users)
		if len(merged) == len(current) {
			log.V(1).Info("tier group up to date", "users", current)
			return nil
		}

		patch, err := json.Marshal(map[string]any{
			"metadata": map[string]any{"resourceVersion": group.GetResourceVersion()},
			"users":    merged,
		})
		if err != nil {
			return retry.Permanent(err)
		}

		log.Info("adding tier group members", "users", merged)

		return m.client.Patch(ctx, group, client.RawPatch(types.MergePatchType, patch))
	})
}

// mergeMembers appends the users missing from current, keeping order.
func mergeMembers(current, users []string) []string {
	merged := slices.Clone(current)
	for _, u := range users {
		if !slices.Contains(merged, u) {
			merged = append(merged, u)
		}
	}
	return merged
}
