package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"demobroker/internal/api"
	"demobroker/internal/config"
)

type commandContext struct {
	socketFlag *string
	configFlag *string
	apiFlag    *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(socketFlag, configFlag, apiFlag *string) *commandContext {
	return &commandContext{
		socketFlag: socketFlag,
		configFlag: configFlag,
		apiFlag:    apiFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if c.socketFlag != nil {
			if socket := strings.TrimSpace(*c.socketFlag); socket != "" {
				expanded, err := config.ExpandPath(socket)
				if err != nil {
					c.configErr = fmt.Errorf("resolve socket path: %w", err)
					return
				}
				cfg.Paths.SocketPath = expanded
			}
		}
		if c.apiFlag != nil {
			if bind := strings.TrimSpace(*c.apiFlag); bind != "" {
				cfg.API.Bind = bind
			}
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) apiClient() (*api.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return api.NewClient(cfg.API.Bind, cfg.API.Token, api.Fields{Key: cfg.Bus.KeyField, Value: cfg.Bus.ValueField})
}

func wrapDialError(err error, bind string) error {
	switch {
	case errors.Is(err, api.ErrAPIUnavailable):
		return fmt.Errorf("connect to broker: api.bind is empty; set it or pass --api")
	case errors.Is(err, api.ErrUnauthorized):
		return fmt.Errorf("connect to broker: token rejected; check api.token or %s", config.EnvAPIToken)
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("connect to broker: %s refused the connection; start it with `demobroker broker`", bind)
	default:
		return fmt.Errorf("connect to broker: %w", err)
	}
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
