package main

import (
	"errors"
	"testing"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	cmd := buildRootCmd()
	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}

	required := []string{"serve", "validate-config", "mcp"}
	for _, name := range required {
		if !names[name] {
			t.Fatalf("expected subcommand %q to be registered", name)
		}
	}
}

func TestExitCodeForErrorUnwrapsExitError(t *testing.T) {
	wrapped := errors.Join(newExitError(exitConfigError, "bad config"))
	if got := exitCodeForError(wrapped); got != exitConfigError {
		t.Fatalf("got exit code %d, want %d", got, exitConfigError)
	}
}

func TestExitCodeForErrorDefaultsToOne(t *testing.T) {
	if got := exitCodeForError(errors.New("boom")); got != 1 {
		t.Fatalf("got exit code %d, want 1", got)
	}
}
