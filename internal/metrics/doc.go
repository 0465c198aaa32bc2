// Package metrics defines the Prometheus collectors exported by the broker
// and the resolver.
//
// A Metrics value owns its own registry so tests can build independent
// instances. Every recording method is nil-safe, letting the bus, the
// correlation engine, and the resolver accept an optional *Metrics without
// guarding each call site.
package metrics
