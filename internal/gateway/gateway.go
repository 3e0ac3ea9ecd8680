package gateway

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/coinpilot/api-gateway/internal/circuitbreaker"
	"github.com/coinpilot/api-gateway/internal/metrics"
	"github.com/coinpilot/api-gateway/internal/proxy"
	"github.com/coinpilot/api-gateway/internal/registry"
	"github.com/coinpilot/api-gateway/internal/retry"
)

// RewriteRoute routes an explicit path pattern to a service with path
// substitution, e.g. /api/macro to market-data's /api/market-data/macro.
type RewriteRoute struct {
	// Pattern is the inbound path prefix the route matches.
	Pattern string
	// Service is the registry name of the target backend.
	Service string
	// Target is the backend path prefix substituted for Pattern.
	Target string
}

// Options configures the gateway composition.
type Options struct {
	// Services to register; one forwarder is installed per service at
	// /api/{name}/.
	Services []registry.ServiceConfig
	// Rewrites are installed before the generic per-service routes so
	// more specific rules win.
	Rewrites []RewriteRoute
	// ProxyTimeout bounds every proxied call.
	ProxyTimeout time.Duration
	// AllowedOrigin is the single CORS origin echoed on proxied responses.
	AllowedOrigin string
	// RetryPolicy applies to proxied GET requests.
	RetryPolicy retry.Policy
	// Identity resolves the forwarded user identity header.
	Identity proxy.IdentityResolver
	// BypassHealthCheck disables the per-request health gate. Used during
	// coordinated startup.
	BypassHealthCheck bool
}

// Gateway wires the service registry, circuit breakers and forwarders into
// one routable surface.
type Gateway struct {
	opts      Options
	registry  *registry.Registry
	breakers  *circuitbreaker.Registry
	logger    *slog.Logger
	collector *metrics.Collector
}

// New registers every configured service and returns the assembled gateway.
func New(
	opts Options,
	reg *registry.Registry,
	breakers *circuitbreaker.Registry,
	log *slog.Logger,
	collector *metrics.Collector,
) (*Gateway, error) {
	for _, svc := range opts.Services {
		if err := reg.Register(svc); err != nil {
			return nil, err
		}
	}

	return &Gateway{
		opts:      opts,
		registry:  reg,
		breakers:  breakers,
		logger:    log,
		collector: collector,
	}, nil
}

// Router builds the gateway's route table. Rewrite rules are installed
// before the generic per-service routes; mux matches in registration order.
func (g *Gateway) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", g.healthHandler).Methods("GET")
	if g.collector != nil {
		r.HandleFunc("/metrics", g.collector.Handler()).Methods("GET")
	}
	r.HandleFunc("/admin/breakers", g.breakerStatsHandler).Methods("GET")
	r.HandleFunc("/admin/breakers/{service}/reset", g.breakerResetHandler).Methods("POST")

	for _, rule := range g.opts.Rewrites {
		pattern := strings.TrimSuffix(rule.Pattern, "/")
		fwd := g.forwarder(rule.Service, &proxy.RewriteRule{
			MatchPrefix:  pattern,
			TargetPrefix: rule.Target,
		})
		// mux's PathPrefix is a raw string prefix; registering the exact
		// path and the slash-terminated prefix separately keeps
		// /api/macrotrends out of the /api/macro route.
		r.Path(pattern).Handler(fwd)
		r.PathPrefix(pattern + "/").Handler(fwd)
	}

	names := make([]string, 0, len(g.opts.Services))
	for _, svc := range g.opts.Services {
		names = append(names, svc.Name)
	}
	sort.Strings(names)

	for _, name := range names {
		r.PathPrefix("/api/" + name + "/").Handler(g.forwarder(name, nil))
	}

	return r
}

func (g *Gateway) forwarder(service string, rewrite *proxy.RewriteRule) *proxy.Forwarder {
	return proxy.NewForwarder(proxy.Options{
		ServiceName:       service,
		Rewrite:           rewrite,
		BypassHealthCheck: g.opts.BypassHealthCheck,
		RetryPolicy:       g.opts.RetryPolicy,
		Timeout:           g.opts.ProxyTimeout,
		AllowedOrigin:     g.opts.AllowedOrigin,
		Identity:          g.opts.Identity,
	}, g.registry, g.breakers, g.logger, g.collector)
}

// AllServicesHealthy reports the logical AND of every registered service's
// current healthy flag.
func (g *Gateway) AllServicesHealthy() bool {
	for _, h := range g.registry.AllHealth() {
		if !h.Healthy {
			return false
		}
	}
	return true
}
