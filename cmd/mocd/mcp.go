package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/moc/internal/config"
	"github.com/haasonsaas/moc/internal/mcpservice"
)

// buildMcpCmd creates the "mcp" command group: ad hoc inspection of the
// configured MCP servers' tools, resources, and prompts outside of a
// running host, useful when authoring or debugging a configuration
// document.
func buildMcpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Inspect configured MCP servers",
		Long: `Connect to the MCP servers named in a configuration document and
inspect their tools, resources, and prompts.

Use "mocd mcp servers" to list configured servers.`,
	}
	cmd.AddCommand(
		buildMcpServersCmd(),
		buildMcpResourcesCmd(),
		buildMcpReadCmd(),
		buildMcpPromptsCmd(),
		buildMcpPromptCmd(),
	)
	return cmd
}

// startMCPService loads configPath and connects every enabled server
// (disabled ones are recorded as not running), returning the live Service
// so a one-shot command can query it. The caller must call Shutdown when
// done.
func startMCPService(ctx context.Context, configPath string) (*mcpservice.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, newExitError(exitConfigError, "load config: %w", err)
	}
	dialer := mcpservice.NewDefaultDialer(slog.Default())
	svc := mcpservice.New(dialer, slog.Default())
	svc.Start(ctx, cfg.Servers)
	return svc, nil
}

func buildMcpServersCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List configured MCP servers and their tool counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := startMCPService(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer svc.Shutdown(context.Background())

			out := cmd.OutOrStdout()
			statuses := svc.Status()
			if len(statuses) == 0 {
				fmt.Fprintln(out, "No MCP servers configured.")
				return nil
			}
			for _, status := range statuses {
				state := "not running"
				if status.IsRunning {
					state = "running"
				}
				fmt.Fprintf(out, "  %s (%s) - %d tool(s)\n", status.Name, state, len(status.Tools))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "moc.json", "Path to the JSON configuration document")
	return cmd
}

func buildMcpResourcesCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "resources <server>",
		Short: "List a server's MCP resources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := startMCPService(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer svc.Shutdown(context.Background())

			resources, err := svc.Resources(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resources) == 0 {
				fmt.Fprintf(out, "No resources for %s\n", args[0])
				return nil
			}
			for _, r := range resources {
				fmt.Fprintf(out, "  - %s (%s)\n", r.URI, r.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "moc.json", "Path to the JSON configuration document")
	return cmd
}

func buildMcpReadCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "read <server> <uri>",
		Short: "Read an MCP resource",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := startMCPService(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer svc.Shutdown(context.Background())

			contents, err := svc.ReadResource(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(contents) == 0 {
				fmt.Fprintln(out, "No content.")
				return nil
			}
			payload, err := json.Marshal(contents)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, string(payload))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "moc.json", "Path to the JSON configuration document")
	return cmd
}

func buildMcpPromptsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "prompts <server>",
		Short: "List a server's MCP prompts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := startMCPService(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer svc.Shutdown(context.Background())

			prompts, err := svc.Prompts(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(prompts) == 0 {
				fmt.Fprintf(out, "No prompts for %s\n", args[0])
				return nil
			}
			for _, p := range prompts {
				fmt.Fprintf(out, "  - %s: %s\n", p.Name, p.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "moc.json", "Path to the JSON configuration document")
	return cmd
}

func buildMcpPromptCmd() *cobra.Command {
	var (
		configPath string
		rawArgs    []string
	)
	cmd := &cobra.Command{
		Use:   "prompt <server> <name>",
		Short: "Fetch a rendered MCP prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			promptArgs, err := parsePromptArgs(rawArgs)
			if err != nil {
				return err
			}
			svc, err := startMCPService(cmd.Context(), configPath)
			if err != nil {
				return err
			}
			defer svc.Shutdown(context.Background())

			result, err := svc.GetPrompt(cmd.Context(), args[0], args[1], promptArgs)
			if err != nil {
				return err
			}
			payload, err := json.Marshal(result)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(payload))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "moc.json", "Path to the JSON configuration document")
	cmd.Flags().StringArrayVar(&rawArgs, "arg", nil, "Prompt argument (key=value)")
	return cmd
}

// parsePromptArgs parses "key=value" strings into a string map.
func parsePromptArgs(items []string) (map[string]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(items))
	for _, item := range items {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("invalid arg %q, expected key=value", item)
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, nil
}
