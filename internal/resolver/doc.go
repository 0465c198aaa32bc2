// Package resolver answers lookup broadcasts on behalf of the privileged process.
//
// A Runner consumes events from a bus client, asks a Backend for each key it
// sees, and sends {key, value} back over the same client when the backend has
// an answer. Backends either run an external helper command (ExecBackend) or
// serve a fixed table (StaticBackend). Concurrent requests for one key share a
// single backend query.
package resolver
