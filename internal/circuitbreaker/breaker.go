package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Blocking requests
	StateHalfOpen              // Testing recovery with limited trials
)

// ErrOpen is returned by Execute when the breaker rejects a call without
// invoking the wrapped function.
var ErrOpen = errors.New("circuit breaker is open")

// Settings configures a CircuitBreaker. Zero values fall back to the
// defaults from DefaultSettings.
type Settings struct {
	// MinimumRequests is the number of samples the rolling window must hold
	// before the failure percentage is evaluated.
	MinimumRequests int
	// ErrorThresholdPercentage trips the breaker when the window's failure
	// percentage reaches it.
	ErrorThresholdPercentage float64
	// ResetTimeout is how long an open breaker blocks before allowing a
	// half-open trial.
	ResetTimeout time.Duration
	// SuccessThreshold is the number of consecutive half-open successes
	// required to close the breaker again.
	SuccessThreshold int
	// CallTimeout bounds each wrapped call; exceeding it counts as a
	// failure even if the call eventually returns.
	CallTimeout time.Duration
	// WindowSize is the rolling window capacity. Clamped to at least
	// MinimumRequests.
	WindowSize int
	// OnStateChange, when set, is invoked after every state transition.
	OnStateChange func(from, to State)
}

func DefaultSettings() Settings {
	return Settings{
		MinimumRequests:          10,
		ErrorThresholdPercentage: 50,
		ResetTimeout:             30 * time.Second,
		SuccessThreshold:         2,
		CallTimeout:              10 * time.Second,
		WindowSize:               20,
	}
}

// Stats is a point-in-time snapshot of a breaker's counters.
type Stats struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	TotalInWindow        int
	FailuresInWindow     int
	OpenedAt             time.Time
}

// CircuitBreaker guards calls to a single backend service.
type CircuitBreaker struct {
	mutex    sync.Mutex
	settings Settings

	state                State
	window               []bool // true = failure
	windowPos            int
	windowCount          int
	failuresInWindow     int
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInflight     int
	openedAt             time.Time
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	defaults := DefaultSettings()
	if settings.MinimumRequests <= 0 {
		settings.MinimumRequests = defaults.MinimumRequests
	}
	if settings.ErrorThresholdPercentage <= 0 {
		settings.ErrorThresholdPercentage = defaults.ErrorThresholdPercentage
	}
	if settings.ResetTimeout <= 0 {
		settings.ResetTimeout = defaults.ResetTimeout
	}
	if settings.SuccessThreshold <= 0 {
		settings.SuccessThreshold = defaults.SuccessThreshold
	}
	if settings.WindowSize < settings.MinimumRequests {
		settings.WindowSize = settings.MinimumRequests
	}

	return &CircuitBreaker{
		settings: settings,
		state:    StateClosed,
		window:   make([]bool, settings.WindowSize),
	}
}

// Execute runs fn under the breaker. When the breaker is open the call is
// rejected with ErrOpen and fn is never invoked; otherwise fn's error is
// recorded as the outcome and returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := cb.run(ctx, fn)
	cb.afterCall(err)
	return err
}

// run invokes fn bounded by CallTimeout. The wrapped call keeps running in
// its own goroutine after a timeout; only the outcome is abandoned.
func (cb *CircuitBreaker) run(ctx context.Context, fn func(ctx context.Context) error) error {
	if cb.settings.CallTimeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.settings.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(callCtx)
	}()

	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return callCtx.Err()
	}
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.resolveState() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if cb.halfOpenInflight >= cb.settings.SuccessThreshold {
			return ErrOpen
		}
		cb.halfOpenInflight++
	}

	return nil
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mutex.Lock()

	if cb.state == StateHalfOpen && cb.halfOpenInflight > 0 {
		cb.halfOpenInflight--
	}

	failed := err != nil
	cb.recordOutcome(failed)

	if failed {
		cb.consecutiveFailures++
		cb.consecutiveSuccesses = 0
	} else {
		cb.consecutiveSuccesses++
		cb.consecutiveFailures = 0
	}

	fire := cb.evaluate(failed)

	cb.mutex.Unlock()

	if fire != nil {
		fire()
	}
}

// evaluate applies the state-machine rules after an outcome was recorded.
// Must be called with cb.mutex held; returns the state-change callback to
// fire after the lock is released, or nil.
func (cb *CircuitBreaker) evaluate(failed bool) func() {
	switch cb.state {
	case StateHalfOpen:
		if failed {
			// A single trial failure re-opens the circuit and restarts the clock.
			return cb.transition(StateOpen)
		}
		if cb.consecutiveSuccesses >= cb.settings.SuccessThreshold {
			return cb.transition(StateClosed)
		}
	case StateClosed:
		if cb.windowCount >= cb.settings.MinimumRequests &&
			cb.failurePercentage() >= cb.settings.ErrorThresholdPercentage {
			return cb.transition(StateOpen)
		}
	}
	return nil
}

// resolveState must be called with cb.mutex held. An expired open breaker
// moves to half-open so the next call runs as a trial.
func (cb *CircuitBreaker) resolveState() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.settings.ResetTimeout {
		if fire := cb.transition(StateHalfOpen); fire != nil {
			// Fired under the lock: resolveState callers hold the mutex and
			// the hook must not call back into the breaker.
			fire()
		}
	}
	return cb.state
}

// transition must be called with cb.mutex held.
func (cb *CircuitBreaker) transition(to State) func() {
	from := cb.state
	if from == to {
		return nil
	}

	cb.state = to

	switch to {
	case StateOpen:
		cb.openedAt = time.Now()
		cb.consecutiveSuccesses = 0
		cb.halfOpenInflight = 0
	case StateHalfOpen:
		cb.consecutiveSuccesses = 0
		cb.halfOpenInflight = 0
	case StateClosed:
		cb.clearWindow()
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
		cb.openedAt = time.Time{}
	}

	if hook := cb.settings.OnStateChange; hook != nil {
		return func() { hook(from, to) }
	}
	return nil
}

// recordOutcome must be called with cb.mutex held.
func (cb *CircuitBreaker) recordOutcome(failed bool) {
	if cb.windowCount == len(cb.window) {
		if cb.window[cb.windowPos] {
			cb.failuresInWindow--
		}
	} else {
		cb.windowCount++
	}

	cb.window[cb.windowPos] = failed
	if failed {
		cb.failuresInWindow++
	}
	cb.windowPos = (cb.windowPos + 1) % len(cb.window)
}

// failurePercentage must be called with cb.mutex held.
func (cb *CircuitBreaker) failurePercentage() float64 {
	if cb.windowCount == 0 {
		return 0
	}
	return float64(cb.failuresInWindow) / float64(cb.windowCount) * 100
}

// clearWindow must be called with cb.mutex held.
func (cb *CircuitBreaker) clearWindow() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.windowPos = 0
	cb.windowCount = 0
	cb.failuresInWindow = 0
}

// State returns the breaker's current state, resolving an expired open
// period to half-open.
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.resolveState()
}

// Stats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Stats{
		State:                cb.state,
		ConsecutiveFailures:  cb.consecutiveFailures,
		ConsecutiveSuccesses: cb.consecutiveSuccesses,
		TotalInWindow:        cb.windowCount,
		FailuresInWindow:     cb.failuresInWindow,
		OpenedAt:             cb.openedAt,
	}
}

// Reset forces the breaker closed and clears all counters. Used for
// operator intervention.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	fire := cb.transition(StateClosed)
	if cb.state == StateClosed {
		cb.clearWindow()
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
		cb.halfOpenInflight = 0
		cb.openedAt = time.Time{}
	}
	cb.mutex.Unlock()

	if fire != nil {
		fire()
	}
}

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}
