package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/moc/internal/config"
	"github.com/haasonsaas/moc/internal/httpapi"
	"github.com/haasonsaas/moc/internal/loop"
	"github.com/haasonsaas/moc/internal/loop/providers"
	"github.com/haasonsaas/moc/internal/mcpservice"
	"github.com/haasonsaas/moc/internal/observability"
)

// buildServeCmd creates the "serve" command that starts the host.
func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the mocd host",
		Long: `Start the mocd host.

The server will:
1. Load and validate the configuration document
2. Start every enabled MCP server subprocess
3. Wire up the configured LLM providers
4. Serve the streaming chat API, server-status, health, and metrics endpoints

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "moc.json", "Path to the JSON configuration document")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return newExitError(exitConfigError, "load config: %w", err)
	}
	creds := config.CredentialsFromEnv()

	providerSet, err := buildProviders(ctx, creds)
	if err != nil {
		return newExitError(exitConfigError, "configure llm providers: %w", err)
	}
	if len(providerSet) == 0 {
		return newExitError(exitConfigError, "no LLM provider credentials configured")
	}
	if _, ok := providerSet[cfg.Loop.DefaultProvider]; !ok {
		return newExitError(exitConfigError, "default provider %q has no configured credentials", cfg.Loop.DefaultProvider)
	}

	tracer, shutdownTracer := observability.NewTracer(ctx, observability.TraceConfig{
		ServiceName:    "mocd",
		ServiceVersion: "0.1.0",
		Endpoint:       creds.OTELEndpoint,
	})

	dialer := mcpservice.NewDefaultDialer(slog.Default())
	svc := mcpservice.New(dialer, slog.Default())
	svc.Start(ctx, cfg.EnabledServers())

	defaults := httpapi.LoopDefaults{
		Provider:      cfg.Loop.DefaultProvider,
		Model:         cfg.Loop.DefaultModel,
		MaxIterations: cfg.Loop.MaxIterations,
		MaxTokens:     cfg.Loop.MaxTokens,
	}
	server := httpapi.New(svc, providerSet, defaults, slog.Default()).WithTracer(tracer)

	if err := server.ListenAndServe(cfg.HTTP.Addr); err != nil {
		svc.Shutdown(context.Background())
		_ = shutdownTracer(context.Background())
		return newExitError(exitBindError, "bind http listener: %w", err)
	}

	slog.Info("mocd started", "addr", cfg.HTTP.Addr, "servers", len(cfg.EnabledServers()))

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-sigCtx.Done()

	slog.Info("shutdown signal received, stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		slog.Warn("tracer shutdown failed", "error", err)
	}
	slog.Info("mocd stopped gracefully")
	return nil
}

// buildProviders constructs every LLM provider for which credentials are
// present, keyed by provider name. Missing credentials for a given
// provider simply omit it rather than failing the whole command, since
// a deployment only needs the providers it actually uses.
func buildProviders(ctx context.Context, creds config.Credentials) (map[string]loop.LLMProvider, error) {
	out := make(map[string]loop.LLMProvider)

	if creds.AnthropicAPIKey != "" {
		out["anthropic"] = providers.NewAnthropicProvider(creds.AnthropicAPIKey)
	}
	if creds.OpenAIAPIKey != "" {
		out["openai"] = providers.NewOpenAIProvider(creds.OpenAIAPIKey)
	}
	if creds.GeminiAPIKey != "" {
		p, err := providers.NewGeminiProvider(ctx, creds.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		out["gemini"] = p
	}
	if creds.BedrockRegion != "" {
		p, err := providers.NewBedrockProvider(ctx, creds.BedrockRegion)
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		out["bedrock"] = p
	}
	return out, nil
}
