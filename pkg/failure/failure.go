// Package failure holds the error kinds shared by every tenantprobe component.
//
// Components wrap one of the sentinels below with fmt.Errorf("%w: ...") so
// callers can decide between aborting the run and recording the failure.
package failure

import "errors"

var (
	// ErrPrerequisite is returned when the environment, the caller's privileges
	// or the cluster type are not what the run requires.
	ErrPrerequisite = errors.New("prerequisite check failed")

	// ErrMissingDependency is returned when a required command line tool is absent.
	ErrMissingDependency = errors.New("required tool not found")

	// ErrTransientCluster is returned when a mutating cluster call still fails
	// after its retries are exhausted.
	ErrTransientCluster = errors.New("cluster call failed")

	// ErrReadinessTimeout is returned when a polled condition is never satisfied.
	ErrReadinessTimeout = errors.New("timeout waiting for condition")

	// ErrValidationFailure is returned when a validation or smoke check fails
	// after its retry.
	ErrValidationFailure = errors.New("validation failed")

	// ErrCredentialNotFound is returned when a username has no password in the
	// active credential set.
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrInvalidConfig is returned for malformed configuration or input.
	ErrInvalidConfig = errors.New("invalid configuration")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrPrerequisite, "PrerequisiteError"},
	{ErrMissingDependency, "MissingDependencyError"},
	{ErrInvalidConfig, "InvalidConfig"},
	{ErrReadinessTimeout, "ReadinessTimeoutError"},
	{ErrCredentialNotFound, "CredentialNotFoundError"},
	{ErrValidationFailure, "ValidationFailure"},
	{ErrTransientCluster, "TransientClusterError"},
}

// IsFatal reports whether err must abort the whole run immediately.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPrerequisite) ||
		errors.Is(err, ErrMissingDependency) ||
		errors.Is(err, ErrInvalidConfig)
}

// Kind returns the name of the first error kind err wraps, "Error" for
// unclassified errors and "" for nil.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Error"
}
