package config

import (
	"errors"
	"fmt"
	"net"
	"os/exec"
)

// Validate ensures the configuration is usable by the broker.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if err := c.validateTiming(); err != nil {
		return err
	}
	return c.validateLogging()
}

// ValidateResolver checks the settings only the resolver process depends on.
func (c *Config) ValidateResolver() error {
	switch c.Resolver.Backend {
	case BackendExec:
		if c.Resolver.Command == "" {
			return errors.New("resolver.command must be set when resolver.backend is \"exec\"")
		}
		if _, err := exec.LookPath(c.Resolver.Command); err != nil {
			return fmt.Errorf("resolver.command %q: %w", c.Resolver.Command, err)
		}
	case BackendStatic:
		if len(c.Resolver.Static) == 0 {
			return errors.New("resolver.static must contain at least one entry when resolver.backend is \"static\"")
		}
	default:
		return fmt.Errorf("resolver.backend: unsupported value %q", c.Resolver.Backend)
	}
	if c.Resolver.QueryTimeoutSeconds <= 0 {
		return errors.New("resolver.query_timeout_seconds must be positive")
	}
	if c.Resolver.MetricsBind != "" {
		if _, _, err := net.SplitHostPort(c.Resolver.MetricsBind); err != nil {
			return fmt.Errorf("resolver.metrics_bind %q: %w", c.Resolver.MetricsBind, err)
		}
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.SocketPath == "" {
		return errors.New("paths.socket_path must be set")
	}
	// sun_path is 108 bytes on Linux including the terminator.
	if len(c.Paths.SocketPath) > 107 {
		return fmt.Errorf("paths.socket_path %q is too long for a unix socket", c.Paths.SocketPath)
	}
	return nil
}

func (c *Config) validateAPI() error {
	if c.API.Bind == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind %q: %w", c.API.Bind, err)
	}
	return nil
}

// errorBodyField is the lookup response member that carries error text.
const errorBodyField = "error"

func (c *Config) validateBus() error {
	if c.Bus.KeyField == c.Bus.ValueField {
		return errors.New("bus.key_field and bus.value_field must differ")
	}
	for name, field := range map[string]string{"bus.key_field": c.Bus.KeyField, "bus.value_field": c.Bus.ValueField} {
		if field == errorBodyField {
			return fmt.Errorf("%s %q is reserved for lookup error responses", name, field)
		}
	}
	if c.Bus.MaxFrameBytes < 0 {
		return errors.New("bus.max_frame_bytes must be zero or positive")
	}
	if c.Bus.WriteTimeoutMS <= 0 {
		return errors.New("bus.write_timeout_ms must be positive")
	}
	return nil
}

func (c *Config) validateTiming() error {
	if c.Broker.LookupTimeoutSeconds <= 0 {
		return errors.New("broker.lookup_timeout_seconds must be positive")
	}
	if c.Client.ReconnectDelayMS <= 0 {
		return errors.New("client.reconnect_delay_ms must be positive")
	}
	if c.Client.DialTimeoutMS <= 0 {
		return errors.New("client.dial_timeout_ms must be positive")
	}
	if c.Client.SendQueueLimit < 0 {
		return errors.New("client.send_queue_limit must be zero or positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
