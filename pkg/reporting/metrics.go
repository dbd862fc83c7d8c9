package reporting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "tenantprobe"
	metricsFile      = "metrics.prom"
)

// NewRegistry returns a registry describing report, suitable for the node
// exporter textfile collector.
func NewRegistry(report *Report) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()

	failures := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "run_failures",
		Help:      "Number of failures recorded by the run.",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "run_finished_timestamp_seconds",
		Help:      "Unix time the run finished.",
	})
	runDuration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Wall time of the run.",
	})
	stepDuration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "step_duration_seconds",
		Help:      "Duration of each recorded step.",
	}, []string{"step", "identity"})
	stepSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "step_success",
		Help:      "1 if the step passed, 0 if it failed.",
	}, []string{"step", "identity"})

	for _, c := range []prometheus.Collector{failures, lastRun, runDuration, stepDuration, stepSuccess} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering metric: %w", err)
		}
	}

	failures.Set(float64(report.Failures))
	lastRun.Set(float64(report.Finished.Unix()))
	runDuration.Set(report.Duration)

	for _, s := range report.Steps {
		stepDuration.WithLabelValues(s.Name, s.Identity).Set(s.Duration.Seconds())
		ok := 1.0
		if s.Failed() {
			ok = 0
		}
		stepSuccess.WithLabelValues(s.Name, s.Identity).Set(ok)
	}

	return reg, nil
}

// WriteMetrics writes the textfile metrics of report to the run directory
// and returns the file path.
func (r *Reporter) WriteMetrics(report *Report) (string, error) {
	reg, err := NewRegistry(report)
	if err != nil {
		return "", err
	}

	dir := r.RunDir(report)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create metrics directory: %w", err)
	}

	path := filepath.Join(dir, metricsFile)
	if err := prometheus.WriteToTextfile(path, reg); err != nil {
		return "", fmt.Errorf("failed to write metrics: %w", err)
	}

	return path, nil
}
