package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"demobroker/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The socket lives under a short os.MkdirTemp directory because t.TempDir
// paths can exceed the unix socket path limit. The API binds an ephemeral port.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	sockDir, err := os.MkdirTemp("", "dbk")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(sockDir) })

	cfgVal := config.Default()
	cfgVal.Paths.SocketPath = filepath.Join(sockDir, "bus.sock")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.Client.ReconnectDelayMS = 20

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithLookupTimeout overrides the broker deadline.
func WithLookupTimeout(seconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Broker.LookupTimeoutSeconds = seconds
	}
}

// WithAPIToken sets the bearer token the API requires.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithStaticResolver switches the resolver to the static backend with values.
func WithStaticResolver(values map[string]string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Resolver.Backend = config.BackendStatic
		b.cfg.Resolver.Static = values
	}
}

// WithResolverScript writes an executable shell script and configures the
// exec backend to run it. The script receives the key as $1.
func WithResolverScript(body string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "resolve-key")
		script := []byte("#!/bin/sh\n" + body + "\n")
		if err := os.WriteFile(target, script, 0o755); err != nil {
			b.t.Fatalf("write resolver script: %v", err)
		}
		b.cfg.Resolver.Backend = config.BackendExec
		b.cfg.Resolver.Command = target
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
