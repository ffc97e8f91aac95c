// Package config loads the static JSON configuration document described
// in spec §6: a list of ServerDescriptors plus per-server disabled flags.
// Everything else the host needs to start — upstream LLM credentials, an
// optional log directory, and an optional OTLP tracing endpoint — comes
// from environment variables, never from the document itself.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haasonsaas/moc/pkg/models"
)

// Duration wraps time.Duration so the config document can spell timeouts
// as "30s" instead of a raw nanosecond count.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var n int64
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("duration must be a string like \"30s\" or a nanosecond count: %w", err)
		}
		*d = Duration(n)
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// HTTPConfig configures the host's listening address.
type HTTPConfig struct {
	Addr string `json:"addr"`
}

// LoopConfig configures defaults for the tool invocation loop (C4).
type LoopConfig struct {
	DefaultProvider string   `json:"defaultProvider"`
	DefaultModel    string   `json:"defaultModel"`
	MaxIterations   int      `json:"maxIterations"`
	MaxTokens       int      `json:"maxTokens"`
	ToolTimeout     Duration `json:"toolTimeout"`
}

// Config is the parsed configuration document.
type Config struct {
	Servers []models.ServerDescriptor `json:"servers"`
	HTTP    HTTPConfig                `json:"http"`
	Loop    LoopConfig                `json:"loop"`
}

// Credentials holds upstream LLM provider credentials and the optional
// log directory, both sourced from environment variables per spec §6
// ("Environment variables the host itself consumes are limited to
// upstream LLM credentials and an optional log directory path").
type Credentials struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GeminiAPIKey    string
	BedrockRegion   string
	LogDir          string
	OTELEndpoint    string
}

// CredentialsFromEnv reads the fixed set of environment variables the
// host consumes. Unset variables leave the corresponding field empty;
// it is the caller's job to decide whether an empty credential for a
// configured provider is fatal.
func CredentialsFromEnv() Credentials {
	return Credentials{
		AnthropicAPIKey: strings.TrimSpace(os.Getenv("MOC_ANTHROPIC_API_KEY")),
		OpenAIAPIKey:    strings.TrimSpace(os.Getenv("MOC_OPENAI_API_KEY")),
		GeminiAPIKey:    strings.TrimSpace(os.Getenv("MOC_GEMINI_API_KEY")),
		BedrockRegion:   strings.TrimSpace(os.Getenv("MOC_BEDROCK_REGION")),
		LogDir:          strings.TrimSpace(os.Getenv("MOC_LOG_DIR")),
		OTELEndpoint:    strings.TrimSpace(os.Getenv("MOC_OTEL_ENDPOINT")),
	}
}

// ValidationError collects every issue found while validating a Config,
// rather than failing on the first one.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Load reads, parses, defaults, and validates the configuration document
// at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a configuration document already in memory. Unknown
// fields are rejected so a typo in the document fails fast at startup
// rather than being silently ignored.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Loop.MaxIterations == 0 {
		cfg.Loop.MaxIterations = 15
	}
	if cfg.Loop.MaxTokens == 0 {
		cfg.Loop.MaxTokens = 4096
	}
	if cfg.Loop.ToolTimeout == 0 {
		cfg.Loop.ToolTimeout = Duration(60 * time.Second)
	}
	if cfg.Loop.DefaultProvider == "" {
		cfg.Loop.DefaultProvider = "anthropic"
	}
}

func validate(cfg *Config) error {
	var issues []string

	seen := make(map[string]struct{}, len(cfg.Servers))
	for i, srv := range cfg.Servers {
		name := strings.TrimSpace(srv.Name)
		if name == "" {
			issues = append(issues, fmt.Sprintf("servers[%d].name is required", i))
		} else if _, ok := seen[name]; ok {
			issues = append(issues, fmt.Sprintf("servers[%d].name %q is not unique", i, name))
		} else {
			seen[name] = struct{}{}
		}

		transport := srv.Transport
		if transport == "" {
			transport = models.TransportStdio
		}
		switch transport {
		case models.TransportStdio:
			if strings.TrimSpace(srv.Command) == "" {
				issues = append(issues, fmt.Sprintf("servers[%d].command is required for stdio transport", i))
			}
		case models.TransportWebSocket:
			if strings.TrimSpace(srv.URL) == "" {
				issues = append(issues, fmt.Sprintf("servers[%d].url is required for websocket transport", i))
			}
		default:
			issues = append(issues, fmt.Sprintf("servers[%d].transport %q must be %q or %q", i, transport, models.TransportStdio, models.TransportWebSocket))
		}
	}

	if cfg.Loop.MaxIterations < 0 {
		issues = append(issues, "loop.maxIterations must be >= 0")
	}
	if cfg.Loop.MaxTokens < 0 {
		issues = append(issues, "loop.maxTokens must be >= 0")
	}
	if cfg.Loop.ToolTimeout.AsDuration() < 0 {
		issues = append(issues, "loop.toolTimeout must be >= 0")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// EnabledServers returns the subset of cfg.Servers with Disabled == false.
func (cfg *Config) EnabledServers() []models.ServerDescriptor {
	out := make([]models.ServerDescriptor, 0, len(cfg.Servers))
	for _, srv := range cfg.Servers {
		if !srv.Disabled {
			out = append(out, srv)
		}
	}
	return out
}
