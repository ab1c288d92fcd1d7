// Package circuit implements the rolling-window gate that decides a
// dependency circuit's closed/open/half_open state. It is the source of
// truth persisted to the circuit_states table; internal/circuit wraps this
// with sony/gobreaker as the in-process execution primitive and with a
// per-service DS row lock.
package circuit

import "time"

// State is the lifecycle of a single dependency's circuit.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

// DefaultThreshold is the failure rate above which a closed circuit trips
// open, given at least MinSamples observations in the rolling window.
const DefaultThreshold = 0.1

// MinSamples is the minimum number of rolling-window calls required before
// a failure rate can trip the circuit.
const MinSamples = 5

// WindowSize is the number of most recent calls considered for the
// failure-rate computation.
const WindowSize = 20

// DefaultTimeout is how long an open circuit waits before allowing a
// half-open probe.
const DefaultTimeout = 600 * time.Second

// MaxTimeout is the cap on the doubling half-open-failure timeout.
const MaxTimeout = time.Hour

// CircuitState is the persisted row for one dependency service.
type CircuitState struct {
	Service       string
	State         State
	FailureCount  int
	SuccessCount  int
	ErrorRate     float64
	LastFailureAt *time.Time
	LastSuccessAt *time.Time
	OpenedAt      *time.Time
	NextRetryAt   *time.Time
	// CurrentTimeout is the half-open retry timeout in effect for this
	// service; it doubles on each half-open probe failure up to MaxTimeout.
	CurrentTimeout time.Duration
}

// Window is a fixed-capacity ring of the last WindowSize call outcomes used
// to compute the rolling error rate.
type Window struct {
	outcomes []bool // true = success
	cursor   int
	filled   bool
}

// NewWindow returns an empty rolling window of capacity WindowSize.
func NewWindow() *Window {
	return &Window{outcomes: make([]bool, WindowSize)}
}

// Record appends a call outcome, overwriting the oldest entry once full.
func (w *Window) Record(success bool) {
	w.outcomes[w.cursor] = success
	w.cursor = (w.cursor + 1) % len(w.outcomes)
	if w.cursor == 0 {
		w.filled = true
	}
}

// Samples returns how many outcomes are currently recorded.
func (w *Window) Samples() int {
	if w.filled {
		return len(w.outcomes)
	}
	return w.cursor
}

// FailureRate returns the fraction of recorded calls that failed.
func (w *Window) FailureRate() float64 {
	n := w.Samples()
	if n == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < n; i++ {
		if !w.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(n)
}

// Evaluate applies the §4.6 transition rules for a closed circuit and
// reports whether it should trip open.
func Evaluate(w *Window, threshold float64) bool {
	return w.Samples() >= MinSamples && w.FailureRate() > threshold
}

// NextTimeout doubles the current half-open timeout up to MaxTimeout,
// used when a half-open probe fails.
func NextTimeout(current time.Duration) time.Duration {
	if current <= 0 {
		current = DefaultTimeout
	}
	doubled := current * 2
	if doubled > MaxTimeout {
		return MaxTimeout
	}
	return doubled
}
