package scheduler

// RetryPolicy decides whether a failed firing is re-executed inline before
// the trigger is acknowledged. The default policy never retries: re-execution
// happens only through a subsequent scheduled or manual invocation, which the
// batch ledger makes safe to repeat.
type RetryPolicy interface {
	// ShouldRetry is consulted after each failed attempt (1-based).
	ShouldRetry(attempt int, err error) bool
}

// NeverRetry is the default policy: one attempt per firing.
type NeverRetry struct{}

// ShouldRetry always reports false.
func (NeverRetry) ShouldRetry(int, error) bool { return false }

// MaxAttempts retries failed firings up to N total attempts. Available for
// operational override; not used by default.
type MaxAttempts int

// ShouldRetry reports whether another attempt is permitted.
func (m MaxAttempts) ShouldRetry(attempt int, _ error) bool {
	return attempt < int(m)
}
