package main

import (
	"github.com/spf13/cobra"

	"demobroker/internal/daemonrun"
)

func newBrokerCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options
	cmd := &cobra.Command{
		Use:   "broker",
		Short: "Run the lookup broker in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.RunBroker(cmd.Context(), cfg, opts)
		},
	}
	addProcessFlags(cmd, &opts)
	return cmd
}

func newResolverCommand(ctx *commandContext) *cobra.Command {
	var opts daemonrun.Options
	cmd := &cobra.Command{
		Use:   "resolver",
		Short: "Run the privileged resolver in the foreground",
		Long: "Connects to the broker socket, reconnecting at a fixed interval, and answers\n" +
			"lookup broadcasts through the configured backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.RunResolver(cmd.Context(), cfg, opts)
		},
	}
	addProcessFlags(cmd, &opts)
	return cmd
}

func addProcessFlags(cmd *cobra.Command, opts *daemonrun.Options) {
	cmd.Flags().StringVar(&opts.LogLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&opts.Development, "dev", false, "Include source locations in log output")
}
