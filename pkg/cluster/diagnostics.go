package cluster

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const defaultMaxEvents = 20

// Diagnostics renders the recent events of a namespace when a stage fails.
type Diagnostics struct {
	client    client.Client
	log       logr.Logger
	maxEvents int
}

func NewDiagnostics(c client.Client, log logr.Logger) *Diagnostics {
	return &Diagnostics{client: c, log: log, maxEvents: defaultMaxEvents}
}

// Dump logs the most recent events of namespace, newest last, and returns
// them as text. Listing errors are logged and returned in the text: a
// diagnostic must never hide the failure it documents.
func (d *Diagnostics) Dump(ctx context.Context, namespace string) string {
	list := &corev1.EventList{}
	if err := d.client.List(ctx, list, client.InNamespace(namespace)); err != nil {
		d.log.Error(err, "cannot list events", "namespace", namespace)
		return fmt.Sprintf("cannot list events in %q: %v", namespace, err)
	}

	events := list.Items
	sort.SliceStable(events, func(i, j int) bool {
		return eventTime(events[i]).Before(eventTime(events[j]))
	})
	if len(events) > d.maxEvents {
		events = events[len(events)-d.maxEvents:]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "events in namespace %q:\n", namespace)
	if len(events) == 0 {
		sb.WriteString("  (none)\n")
	}
	for _, e := range events {
		fmt.Fprintf(&sb, "  %s\t%s/%s\t%s\t%s\n",
			e.Type, e.InvolvedObject.Kind, e.InvolvedObject.Name, e.Reason, e.Message)
	}

	d.log.Info("diagnostic snapshot", "namespace", namespace, "snapshot", sb.String())

	return sb.String()
}

func eventTime(e corev1.Event) time.Time {
	switch {
	case !e.LastTimestamp.IsZero():
		return e.LastTimestamp.Time
	case !e.EventTime.IsZero():
		return e.EventTime.Time
	default:
		return e.CreationTimestamp.Time
	}
}
