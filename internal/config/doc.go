// Package config loads, normalizes, and validates demobroker configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment overrides such as
// DEMOBROKER_SOCKET and DEMOBROKER_API_TOKEN. One Config value drives both
// the broker and the resolver so the socket path and wire field names always
// agree between the two processes.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, positive timeouts, and clear validation errors.
package config
