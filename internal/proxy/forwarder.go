package proxy

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coinpilot/api-gateway/internal/circuitbreaker"
	"github.com/coinpilot/api-gateway/internal/metrics"
	"github.com/coinpilot/api-gateway/internal/registry"
	"github.com/coinpilot/api-gateway/internal/retry"
)

const (
	headerGatewayMarker = "X-Forwarded-By"
	gatewayMarkerValue  = "api-gateway"
	headerUserIdentity  = "X-User-ID"
	defaultIdentity     = "anonymous"
)

// IdentityResolver extracts the caller's identity from an inbound request,
// typically from context attached by an upstream auth layer. Returning ""
// falls back to the default identity.
type IdentityResolver func(r *http.Request) string

// Options configures a single Forwarder route.
type Options struct {
	// ServiceName is the registry key the route forwards to.
	ServiceName string
	// Rewrite, when set, rewrites the inbound path before forwarding.
	Rewrite *RewriteRule
	// BypassHealthCheck forwards even to unhealthy services. Used during
	// coordinated startup when backends come up in arbitrary order.
	BypassHealthCheck bool
	// DisableBreaker turns off circuit breaking for this route.
	DisableBreaker bool
	// RetryPolicy wraps GET calls. Zero value means retry.DefaultPolicy.
	RetryPolicy retry.Policy
	// Timeout bounds the whole proxied call, reported as TIMEOUT when hit.
	Timeout time.Duration
	// AllowedOrigin is the single CORS origin the gateway echoes back.
	AllowedOrigin string
	// Identity resolves the forwarded user identity header.
	Identity IdentityResolver
}

// Forwarder proxies inbound requests to one backend service, applying
// health gating, circuit breaking and (for GET) retry with backoff. It
// holds no per-request state; the registry and breaker it was built with
// are shared across requests.
type Forwarder struct {
	opts      Options
	registry  *registry.Registry
	breakers  *circuitbreaker.Registry
	client    *http.Client
	logger    *slog.Logger
	collector *metrics.Collector
}

func NewForwarder(
	opts Options,
	reg *registry.Registry,
	breakers *circuitbreaker.Registry,
	log *slog.Logger,
	collector *metrics.Collector,
) *Forwarder {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryPolicy.MaxAttempts == 0 {
		opts.RetryPolicy = retry.DefaultPolicy()
	}

	return &Forwarder{
		opts:     opts,
		registry: reg,
		breakers: breakers,
		client: &http.Client{
			// Redirects and compression are the backend's business; the
			// gateway relays what it gets.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:    log,
		collector: collector,
	}
}

func (f *Forwarder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := f.opts.ServiceName

	base, ok := f.registry.ResolveURL(name)
	if !ok {
		f.logger.Warn("Service not registered", slog.String("service", name))
		WriteError(w, http.StatusServiceUnavailable, CodeServiceNotFound,
			fmt.Sprintf("service %q is not registered", name))
		return
	}

	if !f.opts.BypassHealthCheck && !f.registry.IsHealthy(name) {
		f.logger.Warn("Service unhealthy, rejecting request",
			slog.String("service", name),
			slog.String("path", r.URL.Path))
		WriteError(w, http.StatusServiceUnavailable, CodeServiceUnhealthy,
			fmt.Sprintf("service %q is currently unhealthy", name))
		return
	}

	target := f.targetURL(base, r.URL)

	f.logger.Info("Forwarding request",
		slog.String("service", name),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("target", target.String()))
	f.emit(metrics.MetricEvent{
		Type:      metrics.EventRequestForwarded,
		Timestamp: time.Now(),
		Service:   name,
	})

	ctx, cancel := context.WithTimeout(r.Context(), f.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp, err := f.dispatch(ctx, r, target)
	if err != nil {
		f.writeFailure(w, name, err)
		return
	}
	defer resp.Body.Close()

	f.relay(w, r, resp)
	f.emit(metrics.MetricEvent{
		Type:       metrics.EventResponseRelayed,
		Timestamp:  time.Now(),
		Service:    name,
		Duration:   time.Since(start),
		StatusCode: resp.StatusCode,
	})
}

// dispatch runs the outbound call wrapped by the circuit breaker and, for
// GET requests, by the retry policy around the breaker.
func (f *Forwarder) dispatch(ctx context.Context, r *http.Request, target *url.URL) (*http.Response, error) {
	var (
		mu   sync.Mutex
		resp *http.Response
	)

	call := func(ctx context.Context) error {
		req, err := f.buildRequest(ctx, r, target)
		if err != nil {
			return err
		}

		res, err := f.client.Do(req)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			res.Body.Close()
			return ctx.Err()
		}

		mu.Lock()
		if resp != nil {
			resp.Body.Close()
		}
		resp = res
		mu.Unlock()
		return nil
	}

	attempt := call
	if !f.opts.DisableBreaker {
		cb := f.breakers.GetBreaker(f.opts.ServiceName)
		attempt = func(ctx context.Context) error {
			return cb.Execute(ctx, call)
		}
	}

	var err error
	if r.Method == http.MethodGet {
		policy := f.opts.RetryPolicy
		policy.Retryable = retryableError
		policy.OnRetry = func(retryErr error, attemptNumber int) {
			f.logger.Warn("Retrying request",
				slog.String("service", f.opts.ServiceName),
				slog.Int("attempt", attemptNumber),
				slog.String("error", retryErr.Error()))
			f.emit(metrics.MetricEvent{
				Type:      metrics.EventRetryAttempted,
				Timestamp: time.Now(),
				Service:   f.opts.ServiceName,
			})
		}
		err = retry.Do(ctx, policy, attempt)
	} else {
		err = attempt(ctx)
	}

	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return resp, nil
}

// retryableError keeps the retry loop away from errors another attempt
// cannot fix: an open breaker and a spent request context.
func retryableError(err error) bool {
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// buildRequest constructs the outbound request: inbound headers minus Host,
// the gateway marker, the resolved identity and a safe Accept-Encoding.
// Bodies are forwarded only for mutating methods, which are never retried.
func (f *Forwarder) buildRequest(ctx context.Context, r *http.Request, target *url.URL) (*http.Request, error) {
	var body io.Reader
	if isMutating(r.Method) {
		body = r.Body
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), body)
	if err != nil {
		return nil, err
	}

	for key, values := range r.Header {
		if http.CanonicalHeaderKey(key) == "Host" {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	req.Header.Set(headerGatewayMarker, gatewayMarkerValue)
	req.Header.Set(headerUserIdentity, f.resolveIdentity(r))
	req.Header.Set("Accept-Encoding", filterAcceptEncoding(r.Header.Get("Accept-Encoding")))

	return req, nil
}

func (f *Forwarder) resolveIdentity(r *http.Request) string {
	if f.opts.Identity != nil {
		if id := f.opts.Identity(r); id != "" {
			return id
		}
	}
	return defaultIdentity
}

// targetURL joins the service's base URL with the (possibly rewritten)
// inbound path; the query string is copied verbatim.
func (f *Forwarder) targetURL(base *url.URL, inbound *url.URL) *url.URL {
	path := inbound.Path
	if f.opts.Rewrite != nil {
		path = f.opts.Rewrite.Apply(path)
	}

	target := *base
	target.Path = singleJoiningSlash(base.Path, path)
	target.RawQuery = inbound.RawQuery
	return &target
}

func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}

// relay streams the backend response through unmodified except for the
// encoding fix-ups: the gateway decodes gzip itself, so the encoding
// headers must not survive or clients would decode twice.
func (f *Forwarder) relay(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	body := io.Reader(resp.Body)
	decoded := false

	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err == nil {
			body = gz
			defer gz.Close()
			decoded = true
		}
	}

	for key, values := range resp.Header {
		if decoded {
			canonical := http.CanonicalHeaderKey(key)
			if canonical == "Content-Encoding" || canonical == "Content-Length" {
				continue
			}
		}
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	if origin := r.Header.Get("Origin"); origin != "" && origin == f.opts.AllowedOrigin {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}

	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, body); err != nil {
		f.logger.Warn("Response relay interrupted",
			slog.String("service", f.opts.ServiceName),
			slog.String("error", err.Error()))
	}
}

// writeFailure maps a dispatch error to the gateway's error taxonomy.
func (f *Forwarder) writeFailure(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		f.logger.Warn("Circuit breaker rejected request", slog.String("service", name))
		f.emit(metrics.MetricEvent{
			Type:      metrics.EventBreakerRejected,
			Timestamp: time.Now(),
			Service:   name,
		})
		WriteError(w, http.StatusServiceUnavailable, CodeProxyFailure,
			fmt.Sprintf("service %q is temporarily unavailable", name))

	case errors.Is(err, context.DeadlineExceeded):
		f.logger.Warn("Request to backend timed out", slog.String("service", name))
		WriteError(w, http.StatusGatewayTimeout, CodeTimeout,
			fmt.Sprintf("request to service %q timed out", name))

	default:
		f.logger.Error("Proxy request failed",
			slog.String("service", name),
			slog.String("error", err.Error()))
		WriteError(w, http.StatusInternalServerError, CodeProxyError,
			fmt.Sprintf("failed to proxy request to service %q", name))
	}
}

func (f *Forwarder) emit(event metrics.MetricEvent) {
	if f.collector == nil {
		return
	}
	f.collector.Emit(event)
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// filterAcceptEncoding strips content codings the gateway cannot safely
// stream-decode, leaving identity when nothing survives.
func filterAcceptEncoding(header string) string {
	kept := make([]string, 0, 2)
	for _, part := range strings.Split(header, ",") {
		coding := strings.ToLower(strings.TrimSpace(part))
		if idx := strings.IndexByte(coding, ';'); idx >= 0 {
			coding = strings.TrimSpace(coding[:idx])
		}
		if coding == "gzip" || coding == "identity" {
			kept = append(kept, coding)
		}
	}

	if len(kept) == 0 {
		return "identity"
	}
	return strings.Join(kept, ", ")
}
