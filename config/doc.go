// Package config handles loading and parsing of configuration from YAML files
// and environment variables. It defines the gateway configuration structure
// including server settings, upstream service definitions, path rewrite rules,
// circuit breaker thresholds, and retry behavior.
package config
