package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"demobroker/internal/api"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show broker status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			client, err := ctx.apiClient()
			if err != nil {
				return wrapDialError(err, cfg.API.Bind)
			}
			reqCtx := cmd.Context()
			if reqCtx == nil {
				reqCtx = context.Background()
			}
			status, err := client.Status(reqCtx)
			if err != nil {
				if jsonOut {
					return wrapDialError(err, cfg.API.Bind)
				}
				fmt.Fprintln(out, renderStatusLine("Broker", statusError, "Not reachable at "+cfg.API.Bind, colorize))
				return wrapDialError(err, cfg.API.Bind)
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}
			for _, line := range statusLines(status, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, renderEngineTable(status.Engine))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print status as JSON")
	return cmd
}

func statusLines(status api.StatusResponse, colorize bool) []string {
	lines := renderSectionHeader("Broker", colorize)
	brokerKind := statusOK
	brokerMsg := fmt.Sprintf("Running (pid %d, up %ds)", status.PID, status.UptimeSeconds)
	if !status.Running {
		brokerKind = statusError
		brokerMsg = "Stopped"
	}
	lines = append(lines, renderStatusLine("Broker", brokerKind, brokerMsg, colorize))

	resolverKind := statusOK
	resolverMsg := fmt.Sprintf("%d connected", status.Peers)
	if status.Peers == 0 {
		resolverKind = statusWarn
		resolverMsg = "None connected; lookups will time out"
	}
	lines = append(lines,
		renderStatusLine("Resolvers", resolverKind, resolverMsg, colorize),
		renderStatusLine("Socket", statusInfo, status.Socket, colorize),
		renderStatusLine("Lookup timeout", statusInfo, status.LookupTimeout, colorize),
		renderStatusLine("Fields", statusInfo, status.KeyField+" -> "+status.ValueField, colorize),
	)
	return lines
}

func renderEngineTable(s api.EngineStats) string {
	rows := [][]string{
		{"Pending", strconv.Itoa(s.Pending)},
		{"Waiters", strconv.Itoa(s.Waiters)},
		{"Cached", strconv.Itoa(s.Cached)},
		{"Lookups", strconv.FormatUint(s.Lookups, 10)},
		{"Cache hits", strconv.FormatUint(s.CacheHits, 10)},
		{"Joined", strconv.FormatUint(s.Joined, 10)},
		{"Broadcasts", strconv.FormatUint(s.Broadcasts, 10)},
		{"Resolutions", strconv.FormatUint(s.Resolutions, 10)},
		{"Unmatched", strconv.FormatUint(s.Unmatched, 10)},
		{"Timeouts", strconv.FormatUint(s.Timeouts, 10)},
	}
	return renderTable([]string{"Engine", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
