// Package registry tracks backend services and their live health status.
//
// Each registered service gets its own probe goroutine: an initial-probe
// sequence with exponential backoff (so services may start in any order)
// followed by a recurring check at the configured interval. A probe is an
// HTTP GET against the service's /health endpoint; any 2xx response marks
// it healthy, anything else marks it unhealthy with the error recorded.
// Probe failures never propagate out of the registry.
package registry
