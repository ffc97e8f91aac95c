// Package main provides the CLI entry point for mocd, the MCP
// Orchestration Core host.
//
// mocd runs a chat orchestration server that manages MCP tool-server
// subprocesses, drives a multi-turn LLM tool-invocation loop, and streams
// NDJSON status/log/result frames back to HTTP clients.
//
// # Basic usage
//
// Start the server:
//
//	mocd serve --config moc.json
//
// Validate a configuration document without starting anything:
//
//	mocd validate-config moc.json
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes, per the host's external contract: 0 on clean shutdown, 2 on
// a configuration error, 3 when the HTTP listener cannot be bound.
const (
	exitOK          = 0
	exitConfigError = 2
	exitBindError   = 3
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(exitCodeForError(err))
	}
}

// buildRootCmd assembles the command tree. Separated from main so tests
// can exercise it without calling os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "mocd",
		Short:        "mocd - MCP Orchestration Core host",
		Long:         "mocd runs the chat orchestration server: MCP tool-server subprocess management, the tool invocation loop, and the streaming HTTP API.",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildValidateConfigCmd(), buildMcpCmd())
	return rootCmd
}

// exitCodeForError maps a returned error to the process exit code. Errors
// produced by exitError carry their own code; anything else is an
// unclassified failure.
func exitCodeForError(err error) int {
	var exitErr *exitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

// exitError lets command handlers attach a specific exit code to an
// error returned from RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func newExitError(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}
