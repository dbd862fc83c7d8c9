// Package reporting renders a run result as JSON and text reports and as
// Prometheus textfile metrics under the run's artifact directory.
package reporting

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

// ReportVersion is the schema version of the JSON report.
const ReportVersion = "1.0.0"

// Format specifies the output format of a report.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// IdentitySummary counts the steps recorded for one identity.
type IdentitySummary struct {
	Identity string `json:"identity"`
	Steps    int    `json:"steps"`
	Failed   int    `json:"failed"`
}

// Report is the serializable outcome of a run.
type Report struct {
	Version        string            `json:"version"`
	RunID          string            `json:"runID"`
	Status         string            `json:"status"`
	ExitCode       int               `json:"exitCode"`
	Started        time.Time         `json:"started"`
	Finished       time.Time         `json:"finished"`
	Duration       float64           `json:"durationSeconds"`
	Failures       int               `json:"failures"`
	LastFailedStep string            `json:"lastFailedStep,omitempty"`
	Identities     []IdentitySummary `json:"identities"`
	Steps          []runresult.Step  `json:"steps"`
}

// NewReport snapshots result at finished.
func NewReport(result *runresult.RunResult, finished time.Time) *Report {
	steps := result.Steps()

	r := &Report{
		Version:        ReportVersion,
		RunID:          result.ID.String(),
		Status:         StatusPassed,
		ExitCode:       result.ExitCode(),
		Started:        result.Started(),
		Finished:       finished,
		Duration:       finished.Sub(result.Started()).Seconds(),
		Failures:       result.Failures(),
		LastFailedStep: result.LastFailedStep(),
		Identities:     summarizeIdentities(steps),
		Steps:          steps,
	}
	if r.Failures > 0 {
		r.Status = StatusFailed
	}

	return r
}

func summarizeIdentities(steps []runresult.Step) []IdentitySummary {
	out := []IdentitySummary{}
	index := map[string]int{}

	for _, s := range steps {
		i, ok := index[s.Identity]
		if !ok {
			i = len(out)
			index[s.Identity] = i
			out = append(out, IdentitySummary{Identity: s.Identity})
		}
		out[i].Steps++
		if s.Failed() {
			out[i].Failed++
		}
	}

	return out
}

// Reporter writes reports of runs under an artifact directory.
type Reporter struct {
	artifactDir string
}

func NewReporter(artifactDir string) *Reporter {
	return &Reporter{artifactDir: artifactDir}
}

// RunDir returns the directory holding the artifacts of report.
func (r *Reporter) RunDir(report *Report) string {
	return filepath.Join(r.artifactDir, report.RunID)
}

// GenerateReport renders report in format.
func (r *Reporter) GenerateReport(report *Report, format Format) (string, error) {
	switch format {
	case FormatJSON:
		return formatJSON(report)
	case FormatText:
		return formatText(report), nil
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// WriteReport renders report in format and writes it to the run directory.
// It returns the path of the written file.
func (r *Reporter) WriteReport(report *Report, format Format) (string, error) {
	content, err := r.GenerateReport(report, format)
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}

	var filename string
	switch format {
	case FormatJSON:
		filename = "report.json"
	case FormatText:
		filename = "report.txt"
	}

	dir := r.RunDir(report)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write report file: %w", err)
	}

	return path, nil
}

// PrintSummary writes a concise summary of report to w, colored when w is
// a terminal.
func (r *Reporter) PrintSummary(w io.Writer, report *Report) error {
	p := plain
	if isTerminal(w) {
		p = ansi
	}
	_, err := io.WriteString(w, formatSummary(report, filepath.Join(r.RunDir(report), "report.txt"), p))
	return err
}
