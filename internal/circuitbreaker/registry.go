package circuitbreaker

import (
	"sync"
)

// StateChangeFunc is notified whenever any breaker in the registry changes
// state. The service name identifies which breaker moved.
type StateChangeFunc func(service string, from, to State)

// Registry holds one CircuitBreaker per backend service name, created
// lazily on first use so breakers exist only for services that were
// actually proxied to.
type Registry struct {
	mutex         sync.RWMutex
	breakers      map[string]*CircuitBreaker
	settings      Settings
	onStateChange StateChangeFunc
}

func NewRegistry(settings Settings, onStateChange StateChangeFunc) *Registry {
	return &Registry{
		breakers:      make(map[string]*CircuitBreaker),
		settings:      settings,
		onStateChange: onStateChange,
	}
}

func (r *Registry) GetBreaker(service string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[service]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[service]; exists {
		return cb
	}

	settings := r.settings
	if r.onStateChange != nil {
		hook := r.onStateChange
		settings.OnStateChange = func(from, to State) {
			hook(service, from, to)
		}
	}

	cb = NewCircuitBreaker(settings)
	r.breakers[service] = cb
	return cb
}

// Reset forces a single service's breaker closed. Returns false when no
// breaker exists for that name yet.
func (r *Registry) Reset(service string) bool {
	r.mutex.RLock()
	cb, exists := r.breakers[service]
	r.mutex.RUnlock()

	if !exists {
		return false
	}

	cb.Reset()
	return true
}

func (r *Registry) ResetAll() {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}

func (r *Registry) Stats() map[string]Stats {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]Stats, len(r.breakers))
	for service, cb := range r.breakers {
		stats[service] = cb.Stats()
	}
	return stats
}
