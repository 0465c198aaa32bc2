// Package logging assembles the structured slog loggers shared by the broker,
// the resolver, and the CLI.
//
// It owns the console and JSON handlers, level parsing, and output fan-out to
// stdout plus an optional log file, and it exposes attribute helpers and the
// standard field keys so bus and lookup events carry the same shape
// everywhere. A no-op logger is provided for tests and for wiring code that
// runs before configuration is available.
package logging
