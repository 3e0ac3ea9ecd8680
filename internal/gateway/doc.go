// Package gateway is the composition root of the API gateway: it registers
// the configured backend services, installs one request forwarder per
// service under /api/{name}/ plus explicit path-rewrite routes, and exposes
// the aggregated health view, the metrics snapshot and a small admin
// surface for circuit breaker inspection and reset.
package gateway
