package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"demobroker/internal/api"
)

func newLookupCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "lookup <key>",
		Short: "Look up a value through the running broker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return wrapDialError(err, cfg.API.Bind)
			}

			reqCtx := cmd.Context()
			if reqCtx == nil {
				reqCtx = context.Background()
			}
			if wait > 0 {
				var cancel context.CancelFunc
				reqCtx, cancel = context.WithTimeout(reqCtx, wait)
				defer cancel()
			}

			key := strings.TrimSpace(args[0])
			res, err := client.Lookup(reqCtx, key)
			if err != nil {
				return wrapDialError(err, cfg.API.Bind)
			}
			if jsonOut {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderLookup(cfg.Bus.KeyField, cfg.Bus.ValueField, res))
			if res.TimedOut {
				return fmt.Errorf("lookup %s: %s", key, res.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the result as JSON")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Give up after this long (default waits for the broker deadline)")
	return cmd
}

func renderLookup(keyField, valueField string, res api.LookupResult) string {
	value := res.Value
	source := "resolver"
	switch {
	case res.TimedOut:
		value = "-"
		source = "timeout"
	case res.Cached:
		source = "cache"
	}
	rows := [][]string{{res.Key, value, source}}
	return renderTable([]string{keyField, valueField, "Source"}, rows, []columnAlignment{alignLeft, alignLeft, alignLeft})
}
