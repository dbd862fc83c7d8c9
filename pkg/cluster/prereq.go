package cluster

import (
	"context"
	"fmt"

	authorizationv1 "k8s.io/api/authorization/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/client-go/discovery"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
)

// Prerequisites verifies the target cluster before anything is mutated.
type Prerequisites struct {
	client    client.Client
	discovery discovery.DiscoveryInterface
}

func NewPrerequisites(c client.Client, d discovery.DiscoveryInterface) *Prerequisites {
	return &Prerequisites{client: c, discovery: d}
}

// Check returns failure.ErrPrerequisite unless the caller is a cluster
// administrator on an OpenShift cluster.
func (p *Prerequisites) Check(ctx context.Context) error {
	admin, err := p.CanI(ctx, "*", "*", "*", "")
	if err != nil {
		return fmt.Errorf("%w: checking administrative privileges: %w", failure.ErrPrerequisite, err)
	}
	if !admin {
		return fmt.Errorf("%w: current identity is not a cluster administrator", failure.ErrPrerequisite)
	}

	ok, err := p.HasResource(ConfigGroupVersion.String(), "oauths")
	if err != nil {
		return fmt.Errorf("%w: discovering %s: %w", failure.ErrPrerequisite, ConfigGroupVersion, err)
	}
	if !ok {
		return fmt.Errorf("%w: cluster does not serve %s oauths: not an OpenShift cluster",
			failure.ErrPrerequisite, ConfigGroupVersion)
	}

	return nil
}

// CanI asks the API server whether the current identity may perform verb on
// group/resource in namespace ("" for cluster-wide).
func (p *Prerequisites) CanI(ctx context.Context, verb, group, resource, namespace string) (bool, error) {
	review := &authorizationv1.SelfSubjectAccessReview{
		Spec: authorizationv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authorizationv1.ResourceAttributes{
				Namespace: namespace,
				Verb:      verb,
				Group:     group,
				Resource:  resource,
			},
		},
	}

	if err := p.client.Create(ctx, review); err != nil {
		return false, err
	}

	return review.Status.Allowed, nil
}

// HasResource reports whether groupVersion is served and contains resource.
func (p *Prerequisites) HasResource(groupVersion, resource string) (bool, error) {
	list, err := p.discovery.ServerResourcesForGroupVersion(groupVersion)
	if apierrors.IsNotFound(err) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	for _, r := range list.APIResources {
		if r.Name == resource {
			return true, nil
		}
	}

	return false, nil
}
