package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	doc := `{"servers":[{"name":"fs","command":"mcp-fs"}]}`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("got addr %q, want default", cfg.HTTP.Addr)
	}
	if cfg.Loop.MaxIterations != 15 {
		t.Fatalf("got maxIterations %d, want default 15", cfg.Loop.MaxIterations)
	}
	if cfg.Loop.ToolTimeout.AsDuration() != 60*time.Second {
		t.Fatalf("got tool timeout %v, want 60s default", cfg.Loop.ToolTimeout.AsDuration())
	}
	if cfg.Loop.DefaultProvider != "anthropic" {
		t.Fatalf("got default provider %q, want anthropic", cfg.Loop.DefaultProvider)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	doc := `{"servers":[],"bogus":true}`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseDurationAcceptsStringAndNumber(t *testing.T) {
	doc := `{"servers":[{"name":"fs","command":"x"}],"loop":{"toolTimeout":"5s"}}`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Loop.ToolTimeout.AsDuration() != 5*time.Second {
		t.Fatalf("got %v, want 5s", cfg.Loop.ToolTimeout.AsDuration())
	}

	doc2 := `{"servers":[{"name":"fs","command":"x"}],"loop":{"toolTimeout":2000000000}}`
	cfg2, err := Parse([]byte(doc2))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg2.Loop.ToolTimeout.AsDuration() != 2*time.Second {
		t.Fatalf("got %v, want 2s", cfg2.Loop.ToolTimeout.AsDuration())
	}
}

func TestValidateRejectsMissingName(t *testing.T) {
	doc := `{"servers":[{"command":"x"}]}`
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "name is required") {
		t.Fatalf("got %v, want name-required error", err)
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	doc := `{"servers":[{"name":"fs","command":"a"},{"name":"fs","command":"b"}]}`
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "not unique") {
		t.Fatalf("got %v, want duplicate-name error", err)
	}
}

func TestValidateRequiresCommandForStdio(t *testing.T) {
	doc := `{"servers":[{"name":"fs"}]}`
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "command is required") {
		t.Fatalf("got %v, want command-required error", err)
	}
}

func TestValidateRequiresURLForWebsocket(t *testing.T) {
	doc := `{"servers":[{"name":"ws","transport":"websocket"}]}`
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "url is required") {
		t.Fatalf("got %v, want url-required error", err)
	}
}

func TestValidateRejectsUnknownTransport(t *testing.T) {
	doc := `{"servers":[{"name":"x","transport":"carrier-pigeon","command":"a"}]}`
	_, err := Parse([]byte(doc))
	if err == nil || !strings.Contains(err.Error(), "transport") {
		t.Fatalf("got %v, want transport error", err)
	}
}

func TestEnabledServersFiltersDisabled(t *testing.T) {
	doc := `{"servers":[{"name":"a","command":"x"},{"name":"b","command":"y","disabled":true}]}`
	cfg, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	enabled := cfg.EnabledServers()
	if len(enabled) != 1 || enabled[0].Name != "a" {
		t.Fatalf("got %+v, want only server a", enabled)
	}
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Setenv("MOC_ANTHROPIC_API_KEY", "ant-key")
	t.Setenv("MOC_OPENAI_API_KEY", "")
	t.Setenv("MOC_LOG_DIR", "/var/log/moc")
	t.Setenv("MOC_OTEL_ENDPOINT", "otel-collector:4317")

	creds := CredentialsFromEnv()
	if creds.AnthropicAPIKey != "ant-key" {
		t.Fatalf("got %q, want ant-key", creds.AnthropicAPIKey)
	}
	if creds.OpenAIAPIKey != "" {
		t.Fatalf("got %q, want empty", creds.OpenAIAPIKey)
	}
	if creds.LogDir != "/var/log/moc" {
		t.Fatalf("got %q, want /var/log/moc", creds.LogDir)
	}
	if creds.OTELEndpoint != "otel-collector:4317" {
		t.Fatalf("got %q, want otel-collector:4317", creds.OTELEndpoint)
	}
}
