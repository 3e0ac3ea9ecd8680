package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"
)

// ServiceConfig describes one backend service. Immutable after registration;
// changing a service means unregistering and registering it again.
type ServiceConfig struct {
	Name                string
	URL                 string
	HealthCheckInterval time.Duration
	Enabled             bool
}

// ServiceHealth is the registry's live view of one backend.
type ServiceHealth struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// ProbeConfig tunes the health probe schedule shared by all services.
type ProbeConfig struct {
	// Timeout bounds each individual HTTP probe.
	Timeout time.Duration
	// MaxAttempts is the length of the initial-probe sequence run right
	// after registration, before the recurring checker takes over.
	MaxAttempts int
	// InitialDelay is the base of the exponential backoff between initial
	// probe attempts (InitialDelay * 2^(attempt-1)).
	InitialDelay time.Duration
}

func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		Timeout:      5 * time.Second,
		MaxAttempts:  5,
		InitialDelay: time.Second,
	}
}

const defaultHealthCheckInterval = 30 * time.Second

// HealthChangeFunc is notified when a service's healthy flag flips.
type HealthChangeFunc func(name string, healthy bool)

type entry struct {
	config ServiceConfig
	url    *url.URL
	health ServiceHealth
	cancel context.CancelFunc
}

// Registry owns the set of known backend services and their health state.
// It is the only component that performs health-check I/O; one goroutine per
// enabled service runs the initial-probe sequence and the recurring checker.
type Registry struct {
	mutex    sync.RWMutex
	services map[string]*entry

	probe    ProbeConfig
	client   *http.Client
	logger   *slog.Logger
	onChange HealthChangeFunc

	baseCtx context.Context
	stop    context.CancelFunc
}

func New(probe ProbeConfig, log *slog.Logger, onChange HealthChangeFunc) *Registry {
	if probe.Timeout <= 0 {
		probe.Timeout = DefaultProbeConfig().Timeout
	}
	if probe.MaxAttempts <= 0 {
		probe.MaxAttempts = DefaultProbeConfig().MaxAttempts
	}
	if probe.InitialDelay <= 0 {
		probe.InitialDelay = DefaultProbeConfig().InitialDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Registry{
		services: make(map[string]*entry),
		probe:    probe,
		client: &http.Client{
			Timeout: probe.Timeout,
		},
		logger:   log,
		onChange: onChange,
		baseCtx:  ctx,
		stop:     cancel,
	}
}

// Register adds a service, initializes its health as unhealthy and starts
// its probe goroutine. Registering an already-known name is an error.
func (r *Registry) Register(cfg ServiceConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("service name cannot be empty")
	}

	parsed, err := url.Parse(cfg.URL)
	if err != nil {
		return fmt.Errorf("invalid url for service %q: %w", cfg.Name, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("service %q url must use http or https", cfg.Name)
	}
	if parsed.Host == "" {
		return fmt.Errorf("service %q url must have a host", cfg.Name)
	}

	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = defaultHealthCheckInterval
	}

	r.mutex.Lock()
	if _, exists := r.services[cfg.Name]; exists {
		r.mutex.Unlock()
		return fmt.Errorf("service %q already registered", cfg.Name)
	}

	ctx, cancel := context.WithCancel(r.baseCtx)
	e := &entry{
		config: cfg,
		url:    parsed,
		health: ServiceHealth{
			Name:    cfg.Name,
			URL:     cfg.URL,
			Healthy: false,
		},
		cancel: cancel,
	}
	r.services[cfg.Name] = e
	r.mutex.Unlock()

	r.logger.Info("Service registered",
		slog.String("name", cfg.Name),
		slog.String("url", cfg.URL),
		slog.Bool("enabled", cfg.Enabled))

	if cfg.Enabled {
		go r.monitor(ctx, cfg.Name, cfg.HealthCheckInterval)
	} else {
		cancel()
	}

	return nil
}

// Unregister stops the probe goroutine and removes all state for the name.
// Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mutex.Lock()
	e, exists := r.services[name]
	if exists {
		delete(r.services, name)
	}
	r.mutex.Unlock()

	if !exists {
		return
	}

	e.cancel()
	r.logger.Info("Service unregistered", slog.String("name", name))
}

// ResolveURL returns the base URL for a registered service name.
func (r *Registry) ResolveURL(name string) (*url.URL, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, exists := r.services[name]
	if !exists {
		return nil, false
	}
	return e.url, true
}

// IsHealthy reports whether the named service is currently healthy. An
// unknown name is never healthy.
func (r *Registry) IsHealthy(name string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	e, exists := r.services[name]
	return exists && e.health.Healthy
}

// AllHealth returns the health of every registered service, sorted by name.
func (r *Registry) AllHealth() []ServiceHealth {
	r.mutex.RLock()
	health := make([]ServiceHealth, 0, len(r.services))
	for _, e := range r.services {
		health = append(health, e.health)
	}
	r.mutex.RUnlock()

	sort.Slice(health, func(i, j int) bool {
		return health[i].Name < health[j].Name
	})
	return health
}

// Stop cancels every probe goroutine. The registry is unusable afterwards.
func (r *Registry) Stop() {
	r.stop()
	r.logger.Info("Service registry stopped")
}

// monitor runs the initial-probe sequence and then the recurring checker.
// Probe failures only flip the health flag; nothing escapes this goroutine.
func (r *Registry) monitor(ctx context.Context, name string, interval time.Duration) {
	r.initialProbe(ctx, name)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Health check stopped", slog.String("name", name))
			return
		case <-ticker.C:
			r.checkOnce(ctx, name)
		}
	}
}

// initialProbe handles services starting in arbitrary order: probe with
// exponential backoff until the first success or the attempt budget is
// spent, leaving the service unhealthy for the recurring checker.
func (r *Registry) initialProbe(ctx context.Context, name string) {
	for attempt := 1; attempt <= r.probe.MaxAttempts; attempt++ {
		if r.checkOnce(ctx, name) {
			return
		}

		if attempt == r.probe.MaxAttempts {
			r.logger.Warn("Service still unhealthy after initial probes",
				slog.String("name", name),
				slog.Int("attempts", r.probe.MaxAttempts))
			return
		}

		delay := r.probe.InitialDelay * (1 << (attempt - 1))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// checkOnce issues one GET {url}/health probe and updates the service's
// health unconditionally so recoveries and regressions are both observed.
func (r *Registry) checkOnce(ctx context.Context, name string) bool {
	r.mutex.RLock()
	e, exists := r.services[name]
	if !exists {
		r.mutex.RUnlock()
		return false
	}
	healthURL := e.url.JoinPath("/health")
	r.mutex.RUnlock()

	healthy, probeErr := r.doProbe(ctx, healthURL)
	r.updateHealth(name, healthy, probeErr)
	return healthy
}

func (r *Registry) doProbe(ctx context.Context, healthURL *url.URL) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL.String(), nil)
	if err != nil {
		return false, err
	}

	res, err := r.client.Do(req)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return false, fmt.Errorf("health check returned status %d", res.StatusCode)
	}

	return true, nil
}

func (r *Registry) updateHealth(name string, healthy bool, probeErr error) {
	r.mutex.Lock()
	e, exists := r.services[name]
	if !exists {
		// Unregistered while the probe was in flight.
		r.mutex.Unlock()
		return
	}

	changed := e.health.Healthy != healthy
	e.health.Healthy = healthy
	e.health.LastCheck = time.Now()
	lastError := ""
	if probeErr != nil {
		lastError = probeErr.Error()
	}
	e.health.LastError = lastError
	r.mutex.Unlock()

	if !changed {
		return
	}

	if healthy {
		r.logger.Info("Service is back up", slog.String("name", name))
	} else {
		r.logger.Warn("Service is down",
			slog.String("name", name),
			slog.String("error", lastError))
	}

	if r.onChange != nil {
		r.onChange(name, healthy)
	}
}
