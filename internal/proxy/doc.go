// Package proxy implements the gateway's request forwarder: given an
// inbound request and a service name, it resolves the target through the
// service registry, gates on health, rewrites the path when configured and
// issues the outbound call wrapped by the circuit breaker and, for GET
// requests, the retry policy.
//
// Backend responses stream through unmodified; the package only
// synthesizes its own JSON error envelope for gateway-originated failures
// (SERVICE_NOT_FOUND, SERVICE_UNHEALTHY, TIMEOUT, PROXY_ERROR,
// PROXY_FAILURE).
package proxy
