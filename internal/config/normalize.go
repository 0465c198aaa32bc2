package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeBus()
	c.normalizeResolver()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv(EnvSocketPath); ok && strings.TrimSpace(value) != "" {
		c.Paths.SocketPath = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.SocketPath) == "" {
		c.Paths.SocketPath = defaultSocketPath
	}
	var err error
	if c.Paths.SocketPath, err = expandPath(c.Paths.SocketPath); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if value, ok := os.LookupEnv(EnvAPIToken); ok {
		c.API.Token = value
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
}

func (c *Config) normalizeBus() {
	c.Bus.KeyField = strings.TrimSpace(c.Bus.KeyField)
	if c.Bus.KeyField == "" {
		c.Bus.KeyField = defaultKeyField
	}
	c.Bus.ValueField = strings.TrimSpace(c.Bus.ValueField)
	if c.Bus.ValueField == "" {
		c.Bus.ValueField = defaultValueField
	}
	if c.Bus.WriteTimeoutMS == 0 {
		c.Bus.WriteTimeoutMS = defaultWriteTimeoutMS
	}
}

func (c *Config) normalizeResolver() {
	c.Resolver.Backend = strings.ToLower(strings.TrimSpace(c.Resolver.Backend))
	if c.Resolver.Backend == "" {
		c.Resolver.Backend = defaultResolverBackend
	}
	c.Resolver.Command = strings.TrimSpace(c.Resolver.Command)
	// Bare names are left for PATH lookup.
	if strings.HasPrefix(c.Resolver.Command, "~") || strings.ContainsRune(c.Resolver.Command, '/') {
		if expanded, err := expandPath(c.Resolver.Command); err == nil {
			c.Resolver.Command = expanded
		}
	}
	c.Resolver.MetricsBind = strings.TrimSpace(c.Resolver.MetricsBind)
	if c.Resolver.MaxConcurrent <= 0 {
		c.Resolver.MaxConcurrent = defaultMaxConcurrent
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
		c.Logging.Format = "json"
	default:
		c.Logging.Format = format
	}
	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
