// Package config loads daemon configuration from YAML files and the
// environment, with support for live reload.
package config

import (
	"encoding/base64"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	MCP       MCPConfig       `koanf:"mcp"`
	Agent     AgentConfig     `koanf:"agent"`
	Catalog   CatalogConfig   `koanf:"catalog"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // openai, anthropic, ollama
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

// MCPConfig points at the tool servers the remote-tool nodes call.
type MCPConfig struct {
	Endpoint       string `koanf:"endpoint"` // empty means the local default
	TimeoutSeconds int    `koanf:"timeout_seconds"`
	Retries        int    `koanf:"retries"`
	// Servers holds additional named tool servers beyond the default
	// endpoint.
	Servers map[string]MCPServer `koanf:"servers"`
}

type MCPServer struct {
	Transport string `koanf:"transport"` // http, sse
	URL       string `koanf:"url"`
}

// AgentConfig identifies this agent and bounds its task runtime.
type AgentConfig struct {
	ID          string `koanf:"id"`
	Name        string `koanf:"name"`
	MaxParallel int    `koanf:"max_parallel"`
	QueueSize   int    `koanf:"queue_size"`
	// PendingTTLSeconds bounds how long a parked external wait stays
	// routable before the sweeper times it out.
	PendingTTLSeconds int `koanf:"pending_ttl_seconds"`
	// CheckpointPath is the sqlite file for suspended run snapshots.
	// Empty keeps checkpoints in memory.
	CheckpointPath string `koanf:"checkpoint_path"`
	// ChatSkill names the catalog skill that handles conversational
	// events. Empty means no chatter task is spawned at boot.
	ChatSkill string `koanf:"chat_skill"`
	// Guardrails enables injection screening and PII masking on inbound
	// chat text.
	Guardrails bool `koanf:"guardrails"`
	// ListenAddr is the HTTP ingress bind address.
	ListenAddr string `koanf:"listen_addr"`
}

type CatalogConfig struct {
	// SkillDirs are roots scanned for <name>_skill directories.
	SkillDirs []string `koanf:"skill_dirs"`
	// DBPath is the sqlite file backing persisted skills. Empty disables
	// the store source.
	DBPath string `koanf:"db_path"`
	// CloudURL is the base URL of the skill snapshot service. Empty
	// disables the cloud source.
	CloudURL             string `koanf:"cloud_url"`
	WatchIntervalSeconds int    `koanf:"watch_interval_seconds"`
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // stdout, otlp
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	OTLPUser           string            `koanf:"otlp_user"`
	OTLPToken          string            `koanf:"otlp_token"`
}

// Headers returns the OTLP headers to send, folding basic-auth credentials
// into an Authorization header when set.
func (t TelemetryConfig) Headers() map[string]string {
	headers := make(map[string]string, len(t.OTLPHeaders)+1)
	for k, v := range t.OTLPHeaders {
		headers[k] = v
	}
	if t.OTLPUser != "" && t.OTLPToken != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(t.OTLPUser + ":" + t.OTLPToken))
		headers["Authorization"] = "Basic " + creds
	}
	return headers
}

// Global k instance
var k = koanf.New(".")

func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile loads the base file, then overlays the profile-specific
// file (config.dev.yaml for profile "dev") when it exists.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

func load(path, profile string, overrides []cliOverride) (*Config, error) {
	// Fresh instance so stale keys from a previous load do not leak.
	k = koanf.New(".")

	// Defaults
	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("llm.provider", "ollama")
	k.Set("llm.model", "qwen2.5-coder:7b-instruct-q5_K_M")
	k.Set("llm.base_url", "http://localhost:11434")

	k.Set("mcp.timeout_seconds", 30)
	k.Set("mcp.retries", 2)

	k.Set("agent.id", "weave-local")
	k.Set("agent.name", "weave")
	k.Set("agent.max_parallel", 8)
	k.Set("agent.queue_size", 64)
	k.Set("agent.pending_ttl_seconds", 600)
	k.Set("agent.listen_addr", ":4667")

	k.Set("catalog.watch_interval_seconds", 2)

	k.Set("telemetry.exporter", "stdout")

	// 1. Load from file. The YAML parser also accepts JSON settings
	// files.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 2. Overlay the profile-specific file when present.
	if profilePath := profileConfigPath(path, profile); profilePath != "" {
		if err := k.Load(file.Provider(profilePath), yaml.Parser()); err != nil {
			return nil, err
		}
	}

	// 3. Load from ENV (WEAVE_LLM_PROVIDER -> llm.provider)
	if err := k.Load(env.Provider("WEAVE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "WEAVE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// 4. CLI --set overrides win over everything.
	for _, ov := range overrides {
		k.Set(ov.key, ov.value)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
