// Package api defines the HTTP payloads served by the broker and the client the
// CLI uses to reach them.
//
// Lookup responses keep the broker's historical wire shape: the key and value
// travel under the configured bus field names, and a timeout is a 200 response
// whose body carries an "error" message next to the key. Fields describes that
// naming so both ends agree.
//
// StatusResponse aggregates process information, bus peer count, and the
// correlation engine counters for `demobroker status`.
package api
