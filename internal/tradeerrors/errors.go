// Package tradeerrors defines the error taxonomy shared across the pipeline.
package tradeerrors

import "errors"

// Sentinel errors matched with errors.Is. Construction-time failures wrap
// ErrValidation; everything else is returned as a typed value below so
// callers can inspect structured context instead of parsing strings.
var (
	// ErrValidation marks malformed or inconsistent input caught at
	// construction (naive timestamp, negative price, crossed bid/ask, etc).
	ErrValidation = errors.New("validation error")

	// ErrNotConnected marks a broker/data connector without runtime support.
	ErrNotConnected = errors.New("not connected")

	// ErrAdapterUnavailable marks a connector that exists but cannot serve
	// the requested operation right now.
	ErrAdapterUnavailable = errors.New("adapter unavailable")

	// ErrTransientIO marks an error RetryHandler should retry.
	ErrTransientIO = errors.New("transient io error")

	// ErrKillSwitchActive marks a rejection caused by an active kill switch.
	ErrKillSwitchActive = errors.New("kill switch active")

	// ErrReconciliationCritical marks a divergence serious enough to
	// escalate to kill-switch activation.
	ErrReconciliationCritical = errors.New("reconciliation critical")

	// ErrConfigInvalid marks a loaded config that failed validation; the
	// caller must keep running the previously loaded config.
	ErrConfigInvalid = errors.New("config invalid")
)

// RiskRejected is not an exception path — it is the REJECTED outcome of a
// RiskCheck, carried as a value rather than returned as an error from
// evaluation functions. Kept here so call sites that want to treat a
// rejection as an error (e.g. CLI exit codes) can wrap it uniformly.
type RiskRejected struct {
	Reasons []string
}

func (e *RiskRejected) Error() string {
	if len(e.Reasons) == 0 {
		return "risk check rejected"
	}
	msg := "risk check rejected: " + e.Reasons[0]
	for _, r := range e.Reasons[1:] {
		msg += ", " + r
	}
	return msg
}

// IdempotencyDuplicate is not an error — check_and_register found an
// in-flight order for the same client_order_id. Carried as a value for
// callers that prefer an error-shaped branch.
type IdempotencyDuplicate struct {
	ClientOrderID string
}

func (e *IdempotencyDuplicate) Error() string {
	return "duplicate submission for client_order_id " + e.ClientOrderID
}
