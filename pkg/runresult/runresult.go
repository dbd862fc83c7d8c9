// Package runresult aggregates the outcome of every step of a run.
package runresult

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexandremahdhaoui/tenantprobe/pkg/failure"
)

const (
	ExitOK       = 0
	ExitFailures = 1
	ExitFatal    = 2
)

// IdentityCurrent labels steps run under the caller's own identity.
const IdentityCurrent = "current"

// Step is the record of one executed step.
type Step struct {
	Name     string        `json:"name"`
	Identity string        `json:"identity,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Kind     string        `json:"kind,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Failed reports whether the step recorded an error.
func (s Step) Failed() bool { return s.Error != "" }

// Recorder records step outcomes.
type Recorder interface {
	Record(step string, err error)
	RecordSince(step string, started time.Time, err error)
}

// RunResult is the error aggregator of one run: recorded failures never
// stop the run, they only decide its exit code.
type RunResult struct {
	ID uuid.UUID

	mu         sync.Mutex
	started    time.Time
	failures   int
	lastFailed string
	steps      []Step
	now        func() time.Time
}

func New() *RunResult {
	return &RunResult{ID: uuid.New(), started: time.Now(), now: time.Now}
}

// Record records a step completing now.
func (r *RunResult) Record(step string, err error) {
	r.record(step, IdentityCurrent, r.now(), err)
}

// RecordSince records a step that started at started.
func (r *RunResult) RecordSince(step string, started time.Time, err error) {
	r.record(step, IdentityCurrent, started, err)
}

// For returns a Recorder tagging every step with identity.
func (r *RunResult) For(identity string) Recorder {
	return &identityRecorder{result: r, identity: identity}
}

func (r *RunResult) record(step, identity string, started time.Time, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Step{
		Name:     step,
		Identity: identity,
		Started:  started,
		Duration: r.now().Sub(started),
	}
	if err != nil {
		r.failures++
		r.lastFailed = step
		s.Kind = failure.Kind(err)
		s.Error = err.Error()
	}
	r.steps = append(r.steps, s)
}

// Failures returns the number of recorded failures.
func (r *RunResult) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// LastFailedStep returns the name of the last failing step, or "".
func (r *RunResult) LastFailedStep() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastFailed
}

func (r *RunResult) Failed() bool {
	return r.Failures() > 0
}

// Steps returns a copy of the recorded steps, in order.
func (r *RunResult) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step(nil), r.steps...)
}

// Started returns the creation time of r.
func (r *RunResult) Started() time.Time {
	return r.started
}

// ExitCode returns ExitFailures if any failure was recorded.
func (r *RunResult) ExitCode() int {
	if r.Failed() {
		return ExitFailures
	}
	return ExitOK
}

type identityRecorder struct {
	result   *RunResult
	identity string
}

func (i *identityRecorder) Record(step string, err error) {
	i.result.record(step, i.identity, i.result.now(), err)
}

func (i *identityRecorder) RecordSince(step string, started time.Time, err error) {
	i.result.record(step, i.identity, started, err)
}
