//go:build unit

package reporting

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/runresult"
)

func TestFormatSummary_Palette(t *testing.T) {
	report := &Report{
		RunID:          "run-1",
		Status:         StatusFailed,
		Failures:       1,
		LastFailedStep: "validate",
		Steps:          []runresult.Step{{Name: "validate", Identity: "testuser-3", Kind: "ValidationFailure", Error: "boom"}},
		Started:        time.Now(),
	}

	colored := formatSummary(report, "/tmp/report.txt", ansi)
	assert.Contains(t, colored, ansi.red+"✗ FAILED"+ansi.reset)

	uncolored := formatSummary(report, "/tmp/report.txt", plain)
	assert.Contains(t, uncolored, "Status:   ✗ FAILED\n")
	assert.NotContains(t, uncolored, "\033[")
}
