// Package main implements the demobroker command line.
//
// The same binary runs both processes: `demobroker broker` serves the lookup
// API and the local bus socket, and `demobroker resolver` connects to that
// socket and answers lookups through its configured backend. The `lookup` and
// `status` commands talk to a running broker over HTTP.
package main
