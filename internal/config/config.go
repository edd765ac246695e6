// Package config handles loading and validating agent42 configuration.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// ErrNoProvider is returned when no model provider has an API key.
var ErrNoProvider = errors.New("no model provider configured: set an api_key for anthropic, openai or zai")

// Provider types. A provider's type selects the wire format.
const (
	ProviderTypeAnthropic = "anthropic"
	ProviderTypeOpenAI    = "openai"
)

// Known provider names, in default preference order.
var knownProviders = []string{"anthropic", "openai", "zai"}

// Config is the root configuration for agent42.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Workspace root mounted at /workspace. Default: current directory. Override: AGENT42_WORKSPACE.
	DataDir       string               `json:"data_dir,omitempty" yaml:"data_dir,omitempty"`   // Default: ~/.agent42/data. Override: AGENT42_DATA_DIR.
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Context       ContextConfig        `json:"context" yaml:"context"`
	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Storage       *StorageConfig       `json:"storage,omitempty" yaml:"storage,omitempty"`             // nil = SQLite audit log under DataDir
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	HTTP          *HTTPConfig          `json:"http,omitempty" yaml:"http,omitempty"`                   // nil = no ops server
}

// ProvidersConfig holds the model providers keyed by name.
type ProvidersConfig struct {
	Default  string                     `json:"default,omitempty" yaml:"default,omitempty"`   // Empty = first provider with an API key. Override: AGENT42_PROVIDER.
	Fallback []string                   `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Tried in order when the default fails before streaming.
	Entries  map[string]*ProviderConfig `json:"entries" yaml:"entries"`
}

// ProviderConfig configures a single model endpoint.
type ProviderConfig struct {
	Type         string `json:"type,omitempty" yaml:"type,omitempty"` // "anthropic" or "openai". Default: "anthropic" for the anthropic entry, "openai" otherwise.
	APIKey       string `json:"api_key" yaml:"api_key"`
	BaseURL      string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model        string `json:"model" yaml:"model"`
	ContextLimit int    `json:"context_limit,omitempty" yaml:"context_limit,omitempty"` // Context window in tokens. 0 = 128000.
	MaxTokens    int    `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`       // Output cap per response. 0 = provider default.
}

// Kind returns the wire format used to talk to this provider.
func (p *ProviderConfig) Kind(name string) string {
	if p.Type != "" {
		return p.Type
	}
	if name == "anthropic" {
		return ProviderTypeAnthropic
	}
	return ProviderTypeOpenAI
}

// SandboxConfig configures where bash commands run.
type SandboxConfig struct {
	Type           string              `json:"type" yaml:"type"`                       // "docker" (default) or "process". Override: AGENT42_SANDBOX.
	TimeoutSeconds int                 `json:"timeout_seconds" yaml:"timeout_seconds"` // Per-command timeout. Default: 30.
	MaxMemoryMB    int                 `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxCPUSeconds  int                 `json:"max_cpu_seconds" yaml:"max_cpu_seconds"`
	NetworkAllowed bool                `json:"network_allowed" yaml:"network_allowed"` // Default false; the container runs with --network=none.
	Docker         DockerSandboxConfig `json:"docker" yaml:"docker"`
}

// DockerSandboxConfig holds Docker-specific sandbox settings.
type DockerSandboxConfig struct {
	Image     string  `json:"image" yaml:"image"`           // Default: python:3.12-slim.
	CPUCores  float64 `json:"cpu_cores" yaml:"cpu_cores"`   // Docker --cpus flag. 0 = 1.0 default.
	PIDsLimit int     `json:"pids_limit" yaml:"pids_limit"` // Docker --pids-limit flag. 0 = 64 default.
	User      string  `json:"user,omitempty" yaml:"user,omitempty"`
}

// Timeout returns the per-command timeout.
func (s *SandboxConfig) Timeout() time.Duration {
	if s.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// ContextConfig controls compaction. Zero values use the context manager defaults.
type ContextConfig struct {
	Threshold    float64 `json:"threshold" yaml:"threshold"`         // Fraction of the context limit that triggers compaction. Default: 0.85.
	RetainTail   int     `json:"retain_tail" yaml:"retain_tail"`     // Recent messages kept verbatim. Default: 6.
	PruneProtect int     `json:"prune_protect" yaml:"prune_protect"` // Default: 40000.
	PruneMinimum int     `json:"prune_minimum" yaml:"prune_minimum"` // Default: 20000.
}

// AgentConfig controls the turn loop.
type AgentConfig struct {
	MaxRounds        int    `json:"max_rounds" yaml:"max_rounds"`                                       // Tool rounds per turn. Default: 50.
	LoopWindow       int    `json:"loop_window" yaml:"loop_window"`                                     // Tool calls inspected for repetition. Default: 10. -1 disables.
	SystemPromptFile string `json:"system_prompt_file,omitempty" yaml:"system_prompt_file,omitempty"` // Replaces the built-in system prompt.
}

// ToolsConfig configures tool output and file limits.
type ToolsConfig struct {
	MaxOutputChars   int   `json:"max_output_chars" yaml:"max_output_chars"`       // Default: 30000.
	MaxFileSizeBytes int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes"` // Default: 10 MB.
}

// StorageConfig configures the tool execution audit store.
type StorageConfig struct {
	Driver   string                 `json:"driver" yaml:"driver"`                         // "sqlite" (default), "postgres" or "none".
	SQLite   *SQLiteStorageConfig   `json:"sqlite,omitempty" yaml:"sqlite,omitempty"`     // SQLite-specific settings.
	Postgres *PostgresStorageConfig `json:"postgres,omitempty" yaml:"postgres,omitempty"` // PostgreSQL-specific settings.
}

// StorageDriver returns the configured driver, defaulting to "sqlite".
func (s *StorageConfig) StorageDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "sqlite"
}

// SQLiteStorageConfig holds SQLite-specific settings.
type SQLiteStorageConfig struct {
	Path        string `json:"path,omitempty" yaml:"path,omitempty"` // Default: <data_dir>/audit.db.
	JournalMode string `json:"journal_mode" yaml:"journal_mode"`     // "wal" (default), "delete", "truncate", etc.
}

// PostgresStorageConfig holds PostgreSQL-specific settings.
type PostgresStorageConfig struct {
	DSN              string `json:"dsn" yaml:"dsn"`                                 // Override: AGENT42_DB_DSN.
	MaxOpenConns     int    `json:"max_open_conns" yaml:"max_open_conns"`           // Default: 10
	MaxIdleConns     int    `json:"max_idle_conns" yaml:"max_idle_conns"`           // Default: 2
	ConnMaxLifetimeS int    `json:"conn_max_lifetime_s" yaml:"conn_max_lifetime_s"` // Default: 1800 (30 min)
}

// ObservabilityConfig configures metrics, tracing and anomaly detection.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
	Anomaly *AnomalyConfig `json:"anomaly,omitempty" yaml:"anomaly,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "agent42"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// AnomalyConfig configures error-rate warnings for tools, sandbox and provider.
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled" yaml:"enabled"`
	ErrorRateThreshold float64 `json:"error_rate_threshold" yaml:"error_rate_threshold"` // e.g. 0.5 = 50% errors
	WindowSeconds      int     `json:"window_seconds" yaml:"window_seconds"`             // Sliding window. Default: 300
}

// HTTPConfig configures the operations server.
type HTTPConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: "127.0.0.1:9042"
}

// Default returns a configuration with every provider entry present but
// no API keys.
func Default() *Config {
	return &Config{
		Providers: ProvidersConfig{
			Entries: map[string]*ProviderConfig{
				"anthropic": {BaseURL: "https://api.anthropic.com", Model: "claude-sonnet-4-20250514"},
				"openai":    {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
				"zai":       {BaseURL: "https://api.z.ai/api/coding/paas/v4", Model: "GLM-4.5-air"},
			},
		},
		Sandbox: SandboxConfig{Type: "docker", TimeoutSeconds: 30},
	}
}

// DefaultConfigPath returns the default config file path (~/.agent42/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agent42.yaml"
	}
	return filepath.Join(home, ".agent42", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .json for JSON, everything else for YAML.
// An empty path uses AGENT42_CONFIG or the default path; a missing default file
// is not an error. Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = goutils.Env("AGENT42_CONFIG", DefaultConfigPath())
		explicit = os.Getenv("AGENT42_CONFIG") != ""
	}

	resolved, err := resolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	default:
		if err := decode(resolved, data, cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	}
	return nil
}

// applyEnv applies environment overrides. For every known provider NAME the
// variables NAME_API_KEY, NAME_BASE_URL and NAME_MODEL are honored.
func (c *Config) applyEnv() {
	if c.Providers.Entries == nil {
		c.Providers.Entries = make(map[string]*ProviderConfig)
	}
	for _, name := range knownProviders {
		p := c.Providers.Entries[name]
		if p == nil {
			p = &ProviderConfig{}
			c.Providers.Entries[name] = p
		}
		prefix := strings.ToUpper(name) + "_"
		p.APIKey = goutils.Env(prefix+"API_KEY", p.APIKey)
		p.BaseURL = goutils.Env(prefix+"BASE_URL", p.BaseURL)
		p.Model = goutils.Env(prefix+"MODEL", p.Model)
	}

	c.Providers.Default = goutils.Env("AGENT42_PROVIDER", c.Providers.Default)
	c.Workspace = goutils.Env("AGENT42_WORKSPACE", c.Workspace)
	c.DataDir = goutils.Env("AGENT42_DATA_DIR", c.DataDir)
	c.Sandbox.Type = goutils.Env("AGENT42_SANDBOX", c.Sandbox.Type)

	if dsn := os.Getenv("AGENT42_DB_DSN"); dsn != "" {
		if c.Storage == nil {
			c.Storage = &StorageConfig{Driver: "postgres"}
		}
		if c.Storage.Postgres == nil {
			c.Storage.Postgres = &PostgresStorageConfig{}
		}
		c.Storage.Postgres.DSN = dsn
	}
}

// applyDefaults fills values a file may have cleared.
func (c *Config) applyDefaults() {
	defaults := Default()
	for name, def := range defaults.Providers.Entries {
		p := c.Providers.Entries[name]
		if p == nil {
			continue
		}
		if p.BaseURL == "" {
			p.BaseURL = def.BaseURL
		}
		if p.Model == "" {
			p.Model = def.Model
		}
	}
	if c.Sandbox.Type == "" {
		c.Sandbox.Type = defaults.Sandbox.Type
	}
	if c.Providers.Default == "" {
		c.Providers.Default = c.firstConfigured()
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			c.DataDir = filepath.Join(home, ".agent42", "data")
		}
	}
}

// firstConfigured returns the first provider with an API key, known names first.
func (c *Config) firstConfigured() string {
	for _, name := range c.providerNames() {
		if p := c.Providers.Entries[name]; p != nil && p.APIKey != "" {
			return name
		}
	}
	return ""
}

// providerNames lists known providers first, then custom ones sorted.
func (c *Config) providerNames() []string {
	names := slices.Clone(knownProviders)
	var custom []string
	for name := range c.Providers.Entries {
		if !slices.Contains(knownProviders, name) {
			custom = append(custom, name)
		}
	}
	slices.Sort(custom)
	return append(names, custom...)
}

// ProviderChain returns the default provider followed by every configured
// fallback that has an API key.
func (c *Config) ProviderChain() []string {
	chain := []string{c.Providers.Default}
	for _, name := range c.Providers.Fallback {
		p := c.Providers.Entries[name]
		if p == nil || p.APIKey == "" || slices.Contains(chain, name) {
			continue
		}
		chain = append(chain, name)
	}
	return chain
}

// ActiveProvider returns the default provider's configuration.
func (c *Config) ActiveProvider() *ProviderConfig {
	return c.Providers.Entries[c.Providers.Default]
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}

// ResolvedDataDir returns the data directory, resolving ~ if needed.
func (c *Config) ResolvedDataDir() string {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		return filepath.Join(home, ".agent42", "data")
	}
	resolved, err := resolvePath(c.DataDir)
	if err != nil {
		return c.DataDir
	}
	return resolved
}

// AuditDBPath returns the SQLite audit database path.
func (c *Config) AuditDBPath() string {
	if c.Storage != nil && c.Storage.SQLite != nil && c.Storage.SQLite.Path != "" {
		if p, err := resolvePath(c.Storage.SQLite.Path); err == nil {
			return p
		}
		return c.Storage.SQLite.Path
	}
	return filepath.Join(c.ResolvedDataDir(), "audit.db")
}

// ResolvedWorkspace returns the workspace root, defaulting to the current directory.
func (c *Config) ResolvedWorkspace() (string, error) {
	if c.Workspace == "" {
		return os.Getwd()
	}
	return resolvePath(c.Workspace)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.firstConfigured() == "" {
		errs = append(errs, ErrNoProvider)
	} else if p, ok := c.Providers.Entries[c.Providers.Default]; !ok || p == nil {
		errs = append(errs, fmt.Errorf("providers.default %q is not configured", c.Providers.Default))
	} else if p.APIKey == "" {
		errs = append(errs, fmt.Errorf("providers.entries.%s.api_key is required (set %s_API_KEY env var)",
			c.Providers.Default, strings.ToUpper(c.Providers.Default)))
	}
	for _, name := range c.providerNames() {
		p := c.Providers.Entries[name]
		if p == nil || p.APIKey == "" {
			continue
		}
		if p.Model == "" {
			errs = append(errs, fmt.Errorf("providers.entries.%s.model is required", name))
		}
		switch p.Kind(name) {
		case ProviderTypeAnthropic, ProviderTypeOpenAI:
		default:
			errs = append(errs, fmt.Errorf("providers.entries.%s.type %q is not supported (use anthropic or openai)", name, p.Type))
		}
		if p.ContextLimit < 0 {
			errs = append(errs, fmt.Errorf("providers.entries.%s.context_limit must not be negative", name))
		}
	}
	for _, name := range c.Providers.Fallback {
		if _, ok := c.Providers.Entries[name]; !ok {
			errs = append(errs, fmt.Errorf("providers.fallback: unknown provider %q", name))
		}
	}

	switch c.Sandbox.Type {
	case "docker", "process":
	default:
		errs = append(errs, fmt.Errorf("sandbox.type %q is not supported (use docker or process)", c.Sandbox.Type))
	}
	if c.Sandbox.TimeoutSeconds < 0 {
		errs = append(errs, errors.New("sandbox.timeout_seconds must not be negative"))
	}
	if c.Sandbox.MaxMemoryMB < 0 {
		errs = append(errs, errors.New("sandbox.max_memory_mb must not be negative"))
	}

	if c.Context.Threshold < 0 || c.Context.Threshold > 1 {
		errs = append(errs, fmt.Errorf("context.threshold %.2f must be between 0 and 1", c.Context.Threshold))
	}
	if c.Context.RetainTail < 0 {
		errs = append(errs, errors.New("context.retain_tail must not be negative"))
	}
	if c.Agent.MaxRounds < 0 {
		errs = append(errs, errors.New("agent.max_rounds must not be negative"))
	}

	if c.Storage != nil {
		switch c.Storage.StorageDriver() {
		case "sqlite", "none":
		case "postgres":
			if c.Storage.Postgres == nil || c.Storage.Postgres.DSN == "" {
				errs = append(errs, errors.New("storage.postgres.dsn is required for the postgres driver"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver %q is not supported (use sqlite, postgres or none)", c.Storage.Driver))
		}
	}

	if o := c.Observability; o != nil && o.Tracing != nil && o.Tracing.Enabled {
		switch o.Tracing.Protocol {
		case "", "grpc", "http":
		default:
			errs = append(errs, fmt.Errorf("observability.tracing.protocol %q is not supported (use grpc or http)", o.Tracing.Protocol))
		}
	}

	return errors.Join(errs...)
}
