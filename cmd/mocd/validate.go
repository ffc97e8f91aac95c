package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/moc/internal/config"
)

// buildValidateConfigCmd creates the "validate-config" command: it loads
// and validates a configuration document without starting any MCP
// subprocess or HTTP listener.
func buildValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config <path>",
		Short: "Validate a configuration document without starting the host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return newExitError(exitConfigError, "%w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: %d server(s) configured, %d enabled\n", len(cfg.Servers), len(cfg.EnabledServers()))
			fmt.Fprintf(out, "http addr: %s\n", cfg.HTTP.Addr)
			fmt.Fprintf(out, "default provider: %s, default model: %s\n", cfg.Loop.DefaultProvider, cfg.Loop.DefaultModel)
			return nil
		},
	}
}
