// Package readiness waits for a condition of a cluster resource to become
// true.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/cluster"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
	"github.com/alexandremahdhaoui/tenantprobe/pkg/retry"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 5 * time.Minute
)

// Check names a condition of a resource. A zero Timeout means
// DefaultTimeout.
type Check struct {
	Kind      schema.GroupVersionKind `json:"kind"`
	Name      string                  `json:"name"`
	Namespace string                  `json:"namespace,omitempty"`
	Condition string                  `json:"condition"`
	Timeout   time.Duration           `json:"timeout,omitempty"`
}

func (c Check) String() string {
	ref := c.Name
	if c.Namespace != "" {
		ref = c.Namespace + "/" + c.Name
	}
	return fmt.Sprintf("%s %s condition %s", c.Kind.Kind, ref, c.Condition)
}

// Waiter polls readiness checks against the cluster.
type Waiter struct {
	client   client.Client
	log      logr.Logger
	Interval time.Duration
}

func NewWaiter(c client.Client, log logr.Logger) *Waiter {
	return &Waiter{client: c, log: log, Interval: DefaultInterval}
}

// WaitFor polls check until its condition reports "True" or its timeout
// elapses. A timeout returns failure.ErrReadinessTimeout carrying the last
// observed state; the enclosing ctx deadline also ends the wait.
func (w *Waiter) WaitFor(ctx context.Context, check Check) error {
	timeout := check.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	log := w.log.WithValues("check", check.String())
	log.Info("waiting for readiness", "timeout", timeout.String())

	observed := "not observed yet"
	err := retry.Poll(ctx, interval, timeout, func(ctx context.Context) (bool, error) {
		obj := &unstructured.Unstructured{}
		obj.SetGroupVersionKind(check.Kind)

		if err := w.client.Get(ctx, client.ObjectKey{Namespace: check.Namespace, Name: check.Name}, obj); err != nil {
			if apierrors.IsNotFound(err) {
				observed = "resource not found"
				return false, nil
			}
			// Transient read errors are retried until the deadline.
			observed = err.Error()
			log.V(1).Info("readiness read failed", "error", err.Error())
			return false, nil
		}

		status, message, found := cluster.ConditionStatus(obj, check.Condition)
		if !found {
			observed = "condition not reported"
			return false, nil
		}

		observed = fmt.Sprintf("status=%s message=%q", status, message)
		log.V(1).Info("polled readiness", "status", status)

		return status == "True", nil
	})

	switch {
	case err == nil:
		log.Info("ready")
		return nil
	case wait.Interrupted(err) || errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s after %s: %s", failure.ErrReadinessTimeout, check, timeout, observed)
	default:
		return fmt.Errorf("waiting for %s: %w", check, err)
	}
}
