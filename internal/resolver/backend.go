package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"demobroker/internal/config"
	"demobroker/internal/correlate"
)

var commandContext = exec.CommandContext

// waitDelay bounds how long a killed helper's children may hold its output open.
const waitDelay = 2 * time.Second

// ErrUnknownBackend is returned by NewBackend for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown resolver backend")

// Backend produces a value for a key, or reports that it has none.
type Backend interface {
	Resolve(ctx context.Context, key string) (value string, ok bool, err error)
}

// NewBackend builds the backend selected by cfg.Resolver.
func NewBackend(cfg *config.Config) (Backend, error) {
	if cfg == nil {
		return nil, errors.New("resolver backend: config is nil")
	}
	switch cfg.Resolver.Backend {
	case config.BackendExec:
		return NewExecBackend(cfg.Resolver.Command, cfg.Resolver.Args...), nil
	case config.BackendStatic:
		return NewStaticBackend(cfg.Resolver.Static), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Resolver.Backend)
	}
}

// StaticBackend answers from a fixed table.
type StaticBackend struct {
	values map[string]string
}

// NewStaticBackend copies values into a new backend.
func NewStaticBackend(values map[string]string) *StaticBackend {
	copied := make(map[string]string, len(values))
	for key, value := range values {
		copied[key] = value
	}
	return &StaticBackend{values: copied}
}

func (b *StaticBackend) Resolve(_ context.Context, key string) (string, bool, error) {
	value, ok := b.values[key]
	if !ok || strings.TrimSpace(value) == "" {
		return "", false, nil
	}
	return value, true, nil
}

// ExecBackend runs a helper command once per key with the key as its final
// argument. The first non-empty line of stdout is the value; no output means
// the helper has no answer. A non-zero exit is an error. Keys that could be
// read as options are refused before the helper runs.
type ExecBackend struct {
	command string
	args    []string
}

// NewExecBackend builds a backend around command and its leading args.
func NewExecBackend(command string, args ...string) *ExecBackend {
	return &ExecBackend{command: command, args: append([]string(nil), args...)}
}

func (b *ExecBackend) Resolve(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(b.command) == "" {
		return "", false, errors.New("resolver command not configured")
	}
	if err := correlate.ValidateKey(key); err != nil {
		return "", false, fmt.Errorf("%s: %w", b.command, err)
	}
	args := append(append([]string(nil), b.args...), key)
	cmd := commandContext(ctx, b.command, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", false, fmt.Errorf("%s: %w", b.command, ctxErr)
		}
		return "", false, fmt.Errorf("%s: %w: %s", b.command, err, strings.TrimSpace(stderr.String()))
	}
	for _, line := range strings.Split(stdout.String(), "\n") {
		if value := strings.TrimSpace(line); value != "" {
			return value, true, nil
		}
	}
	return "", false, nil
}
