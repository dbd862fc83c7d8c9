package reporting

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

// palette holds the escape codes a formatter colors its output with.
type palette struct {
	reset, red, green, yellow, gray string
}

// ANSI color codes, used only when writing to a terminal.
var (
	ansi  = palette{reset: "\033[0m", red: "\033[31m", green: "\033[32m", yellow: "\033[33m", gray: "\033[90m"}
	plain = palette{}
)

// isTerminal reports whether w is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func formatJSON(report *Report) (string, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return string(data), nil
}

// formatText generates a human-readable text report. It is written to a
// file, so it carries no color.
func formatText(report *Report) string {
	p := plain

	var sb strings.Builder

	sb.WriteString(strings.Repeat("=", 80) + "\n")
	sb.WriteString("TENANTPROBE RUN REPORT\n")
	sb.WriteString(strings.Repeat("=", 80) + "\n\n")

	sb.WriteString("SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 7) + "\n")
	fmt.Fprintf(&sb, "Run ID:    %s\n", report.RunID)
	fmt.Fprintf(&sb, "Status:    %s\n", formatStatus(report.Status, p))
	fmt.Fprintf(&sb, "Exit code: %d\n", report.ExitCode)
	fmt.Fprintf(&sb, "Duration:  %.2fs\n", report.Duration)
	fmt.Fprintf(&sb, "Started:   %s\n", report.Started.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Finished:  %s\n", report.Finished.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Failures:  %d\n\n", report.Failures)

	if len(report.Identities) > 0 {
		sb.WriteString("IDENTITIES\n")
		sb.WriteString(strings.Repeat("-", 10) + "\n")
		for _, id := range report.Identities {
			symbol, color := "✓", p.green
			if id.Failed > 0 {
				symbol, color = "✗", p.red
			}
			fmt.Fprintf(&sb, "%s%s%s %s (%d/%d steps passed)\n",
				color, symbol, p.reset, id.Identity, id.Steps-id.Failed, id.Steps)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("STEPS\n")
	sb.WriteString(strings.Repeat("-", 5) + "\n")
	for _, s := range report.Steps {
		elapsed := s.Started.Sub(report.Started).Seconds()
		symbol, color := "✓", p.green
		if s.Failed() {
			symbol, color = "✗", p.red
		}
		fmt.Fprintf(&sb, "  %s%06.2fs%s %s%s%s %-22s %s(%s, %.2fs)%s\n",
			p.gray, elapsed, p.reset,
			color, symbol, p.reset,
			s.Name,
			p.gray, s.Identity, s.Duration.Seconds(), p.reset)
	}
	sb.WriteString("\n")

	if report.Failures > 0 {
		sb.WriteString("FAILURES\n")
		sb.WriteString(strings.Repeat("-", 8) + "\n")
		n := 1
		for _, s := range report.Steps {
			if !s.Failed() {
				continue
			}
			fmt.Fprintf(&sb, "[%d] %s (identity: %s)\n", n, s.Name, s.Identity)
			fmt.Fprintf(&sb, "    Kind:    %s\n", s.Kind)
			fmt.Fprintf(&sb, "    Message: %s\n\n", wrapText(s.Error, 13))
			n++
		}
	}

	sb.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&sb, "RUN RESULT: %s\n", formatStatus(report.Status, p))
	sb.WriteString(strings.Repeat("=", 80) + "\n")

	return sb.String()
}

func formatStatus(status string, p palette) string {
	switch strings.ToLower(status) {
	case StatusPassed:
		return fmt.Sprintf("%s✓ PASSED%s", p.green, p.reset)
	case StatusFailed:
		return fmt.Sprintf("%s✗ FAILED%s", p.red, p.reset)
	default:
		return fmt.Sprintf("%s⚠ %s%s", p.yellow, strings.ToUpper(status), p.reset)
	}
}

// formatSummary formats a concise summary for the terminal.
func formatSummary(report *Report, reportPath string, p palette) string {
	var sb strings.Builder

	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 60) + "\n")
	sb.WriteString("RUN SUMMARY\n")
	sb.WriteString(strings.Repeat("=", 60) + "\n")
	fmt.Fprintf(&sb, "Run ID:   %s\n", report.RunID)
	fmt.Fprintf(&sb, "Status:   %s\n", formatStatus(report.Status, p))
	fmt.Fprintf(&sb, "Duration: %.2fs\n", report.Duration)
	fmt.Fprintf(&sb, "Steps:    %d total, %d failed\n", len(report.Steps), report.Failures)

	if report.Failures > 0 {
		fmt.Fprintf(&sb, "\n%sQuick Failure Summary:%s\n", p.red, p.reset)
		n := 1
		for _, s := range report.Steps {
			if s.Failed() {
				fmt.Fprintf(&sb, "  %d. %s [%s]: %s\n", n, s.Name, s.Identity, s.Kind)
				n++
			}
		}
		fmt.Fprintf(&sb, "Last failed step: %s\n", report.LastFailedStep)
	}

	fmt.Fprintf(&sb, "\nFull report: %s\n", reportPath)
	sb.WriteString(strings.Repeat("=", 60) + "\n")

	return sb.String()
}

// wrapText wraps text at word boundaries with indentation
func wrapText(text string, indent int) string {
	if len(text) <= 64 {
		return text
	}

	var result strings.Builder
	words := strings.Fields(text)
	lineLen := 0
	indentStr := strings.Repeat(" ", indent)

	for i, word := range words {
		if i > 0 && lineLen+len(word)+1 > 64 {
			result.WriteString("\n" + indentStr)
			lineLen = 0
		} else if i > 0 {
			result.WriteString(" ")
			lineLen++
		}
		result.WriteString(word)
		lineLen += len(word)
	}

	return result.String()
}
