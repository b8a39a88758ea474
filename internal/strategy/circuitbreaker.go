package strategy

import "time"

// CircuitBreaker accumulates errors within a sliding time window and reports
// whether they add up to a halt. InstanceMachine records every stage failure
// in it but parks the instance in Error whatever the verdict.
type CircuitBreaker struct {
	ErrorWindow    time.Duration
	ErrorThreshold int

	lastErrors            []time.Time
	criticalErrorOccurred bool
}

// NewCircuitBreaker builds a CircuitBreaker for the given window/threshold.
func NewCircuitBreaker(window time.Duration, threshold int) *CircuitBreaker {
	return &CircuitBreaker{ErrorWindow: window, ErrorThreshold: threshold}
}

// RecordError records one error occurrence and reports whether the instance
// should halt. A critical error halts immediately; a non-critical one halts
// once ErrorThreshold errors have landed within ErrorWindow.
func (cb *CircuitBreaker) RecordError(critical bool) bool {
	if critical {
		cb.criticalErrorOccurred = true
		return true
	}

	now := time.Now()
	cb.lastErrors = append(cb.lastErrors, now)
	cb.lastErrors = pruneBefore(cb.lastErrors, now.Add(-cb.ErrorWindow))

	return len(cb.lastErrors) >= cb.ErrorThreshold
}

// Reset clears accumulated error history. The Scheduler's `reset` does not
// call it; it drops the instance's machine, and the breaker with it.
func (cb *CircuitBreaker) Reset() {
	cb.lastErrors = nil
	cb.criticalErrorOccurred = false
}

// ErrorRate reports the current error rate in errors per hour, for
// diagnostics surfaced alongside an Error state.
func (cb *CircuitBreaker) ErrorRate() float64 {
	if len(cb.lastErrors) == 0 || cb.ErrorWindow <= 0 {
		return 0
	}
	return float64(len(cb.lastErrors)) / cb.ErrorWindow.Hours()
}

// Tripped reports whether the breaker's critical flag was ever set since the
// last Reset.
func (cb *CircuitBreaker) Tripped() bool {
	return cb.criticalErrorOccurred
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}
