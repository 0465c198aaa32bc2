// Package broker runs the public side of the lookup system.
//
// A Broker holds a single-instance lock next to the bus socket, binds the bus
// server, and feeds inbound resolutions into a correlation engine. The HTTP
// API exposes lookups, status, health, and Prometheus metrics. Only one broker
// may own a socket path at a time; the lock is taken before any stale socket
// is removed so a running broker's endpoint is never unlinked by a second one.
package broker
