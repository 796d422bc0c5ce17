package errors

import "fmt"

var (
	// ErrInvalidConfiguration will be used when an SLO config or error budget
	// policy is structurally invalid (missing measurement fields, invalid
	// target...). It is never retried, the affected SLO evaluation aborts.
	ErrInvalidConfiguration = fmt.Errorf("invalid configuration")

	// ErrQueryFailed will be used when a metrics backend could not be reached
	// or rejected a query (network, auth, timeout...). The core never retries,
	// the caller decides the retry policy.
	ErrQueryFailed = fmt.Errorf("backend query failed")

	// ErrUnsupportedMethod will be used when an SLI method is not implemented
	// by the resolved backend. Fatal for that SLO config only.
	ErrUnsupportedMethod = fmt.Errorf("unsupported SLI method")

	// ErrNotFound will be used when a remote resource (service, SLO...) does
	// not exist on the backend provider.
	ErrNotFound = fmt.Errorf("resource not found")

	// ErrNoReports will be used when an evaluation produced no reports at all.
	// The upper layer could ignore or handle the error in cases where there
	// wasn't an output.
	ErrNoReports = fmt.Errorf("0 SLO reports generated")
)
