package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains filesystem locations shared by the broker and the resolver.
type Paths struct {
	SocketPath string `toml:"socket_path"`
	LogDir     string `toml:"log_dir"`
}

// API contains the broker HTTP surface settings.
type API struct {
	Bind  string `toml:"bind"`
	Token string `toml:"token"`
}

// Bus contains wire-level settings for the local socket bus.
type Bus struct {
	KeyField       string `toml:"key_field"`
	ValueField     string `toml:"value_field"`
	MaxFrameBytes  int    `toml:"max_frame_bytes"`
	WriteTimeoutMS int    `toml:"write_timeout_ms"`
}

// Broker contains correlation engine settings.
type Broker struct {
	LookupTimeoutSeconds int `toml:"lookup_timeout_seconds"`
}

// Client contains resolver-side bus client settings.
type Client struct {
	// ReconnectDelayMS is the fixed pause between connection attempts. It does not grow.
	ReconnectDelayMS int `toml:"reconnect_delay_ms"`
	DialTimeoutMS    int `toml:"dial_timeout_ms"`
	// SendQueueLimit bounds frames held while disconnected; zero keeps every frame.
	SendQueueLimit int `toml:"send_queue_limit"`
}

// Resolver contains settings for the privileged resolver process.
type Resolver struct {
	Backend             string            `toml:"backend"`
	Command             string            `toml:"command"`
	Args                []string          `toml:"args"`
	QueryTimeoutSeconds int               `toml:"query_timeout_seconds"`
	MaxConcurrent       int               `toml:"max_concurrent"`
	Static              map[string]string `toml:"static"`
	// MetricsBind exposes the resolver's /metrics when set.
	MetricsBind         string            `toml:"metrics_bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for demobroker.
//
// Configuration sections by subsystem:
//   - Paths: socket endpoint and log directory
//   - API: broker HTTP bind address and optional bearer token
//   - Bus: wire field names and frame limits
//   - Broker: lookup deadline
//   - Client: resolver reconnect policy
//   - Resolver: backend selection for the privileged process
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	API      API      `toml:"api"`
	Bus      Bus      `toml:"bus"`
	Broker   Broker   `toml:"broker"`
	Client   Client   `toml:"client"`
	Resolver Resolver `toml:"resolver"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("demobroker.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the processes write into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Paths.SocketPath)}
	if strings.TrimSpace(c.Paths.LogDir) != "" {
		dirs = append(dirs, c.Paths.LogDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LookupTimeout returns the correlation deadline applied to every pending lookup.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Broker.LookupTimeoutSeconds) * time.Second
}

// ReconnectDelay returns the fixed pause between bus client connection attempts.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.Client.ReconnectDelayMS) * time.Millisecond
}

// DialTimeout returns the bus client connect timeout.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Client.DialTimeoutMS) * time.Millisecond
}

// WriteTimeout returns the per-peer write deadline used by broadcasts and sends.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Bus.WriteTimeoutMS) * time.Millisecond
}

// QueryTimeout returns the deadline for one resolver backend query.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Resolver.QueryTimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
