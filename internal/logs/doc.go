// Package logs reads the broker and resolver log files for the CLI.
//
// Each process writes a per-run file and keeps <log_dir>/<process>.log
// pointing at the newest one. Last returns the final lines with bounded
// memory; Follow polls for appended lines and starts over from the top when a
// restart moves the pointer to a new run file.
package logs
