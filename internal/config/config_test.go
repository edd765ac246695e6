package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range knownProviders {
		prefix := strings.ToUpper(name) + "_"
		t.Setenv(prefix+"API_KEY", "")
		t.Setenv(prefix+"BASE_URL", "")
		t.Setenv(prefix+"MODEL", "")
	}
	for _, key := range []string{"AGENT42_CONFIG", "AGENT42_PROVIDER", "AGENT42_WORKSPACE", "AGENT42_DATA_DIR", "AGENT42_SANDBOX", "AGENT42_DB_DSN"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_YAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
workspace: /tmp/project
providers:
  default: openai
  fallback: [anthropic]
  entries:
    openai:
      api_key: sk-test
      model: gpt-4o
    anthropic:
      api_key: ant-test
sandbox:
  type: process
  timeout_seconds: 10
context:
  threshold: 0.7
  retain_tail: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Default != "openai" {
		t.Errorf("default = %q, want openai", cfg.Providers.Default)
	}
	p := cfg.ActiveProvider()
	if p.Model != "gpt-4o" || p.APIKey != "sk-test" {
		t.Errorf("active provider = %+v", p)
	}
	if p.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("base_url = %q, want default", p.BaseURL)
	}
	if got := cfg.Providers.Entries["anthropic"].Model; got != "claude-sonnet-4-20250514" {
		t.Errorf("anthropic model = %q, want default", got)
	}
	if got := cfg.ProviderChain(); len(got) != 2 || got[1] != "anthropic" {
		t.Errorf("chain = %v", got)
	}
	if cfg.Sandbox.Timeout() != 10*time.Second {
		t.Errorf("timeout = %s", cfg.Sandbox.Timeout())
	}
	if cfg.Context.Threshold != 0.7 || cfg.Context.RetainTail != 4 {
		t.Errorf("context = %+v", cfg.Context)
	}
}

func TestLoad_JSON(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.json", `{"providers":{"entries":{"zai":{"api_key":"z"}}}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Default != "zai" {
		t.Errorf("default = %q, want zai", cfg.Providers.Default)
	}
	if got := cfg.ActiveProvider(); got.Model != "GLM-4.5-air" || got.Kind("zai") != ProviderTypeOpenAI {
		t.Errorf("zai = %+v", got)
	}
}

func TestLoad_MissingDefaultFileUsesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "from-env")
	t.Setenv("AGENT42_SANDBOX", "process")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.Default != "anthropic" {
		t.Errorf("default = %q", cfg.Providers.Default)
	}
	if cfg.ActiveProvider().APIKey != "from-env" {
		t.Error("API key not taken from env")
	}
	if cfg.Sandbox.Type != "process" {
		t.Errorf("sandbox = %q", cfg.Sandbox.Type)
	}
}

func TestLoad_ExplicitMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", `
providers:
  entries:
    openai:
      api_key: file-key
      model: file-model
`)
	t.Setenv("OPENAI_MODEL", "env-model")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:8080/v1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Providers.Entries["openai"]
	if p.Model != "env-model" || p.BaseURL != "http://localhost:8080/v1" || p.APIKey != "file-key" {
		t.Errorf("openai = %+v", p)
	}
}

func TestLoad_NoProvider(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "config.yaml", "sandbox:\n  type: process\n")

	_, err := Load(path)
	if !errors.Is(err, ErrNoProvider) {
		t.Fatalf("err = %v, want ErrNoProvider", err)
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Providers.Entries["openai"].APIKey = "k"
	cfg.Providers.Default = "openai"
	cfg.Providers.Fallback = []string{"ghost"}
	cfg.Sandbox.Type = "vm"
	cfg.Context.Threshold = 1.5
	cfg.Storage = &StorageConfig{Driver: "postgres"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"ghost", "sandbox.type", "context.threshold", "storage.postgres.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidate_DefaultWithoutKey(t *testing.T) {
	cfg := Default()
	cfg.Providers.Entries["openai"].APIKey = "k"
	cfg.Providers.Default = "anthropic"

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "ANTHROPIC_API_KEY") {
		t.Fatalf("err = %v, want missing anthropic key", err)
	}
}

func TestProviderKind(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProviderConfig
		want string
	}{
		{"anthropic", ProviderConfig{}, ProviderTypeAnthropic},
		{"openai", ProviderConfig{}, ProviderTypeOpenAI},
		{"local", ProviderConfig{}, ProviderTypeOpenAI},
		{"proxy", ProviderConfig{Type: "anthropic"}, ProviderTypeAnthropic},
	}
	for _, tc := range tests {
		if got := tc.cfg.Kind(tc.name); got != tc.want {
			t.Errorf("Kind(%q) = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAuditDBPath(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/agent42"
	if got := cfg.AuditDBPath(); got != "/var/lib/agent42/audit.db" {
		t.Errorf("AuditDBPath = %q", got)
	}
	cfg.Storage = &StorageConfig{SQLite: &SQLiteStorageConfig{Path: "/tmp/a.db"}}
	if got := cfg.AuditDBPath(); got != "/tmp/a.db" {
		t.Errorf("AuditDBPath = %q", got)
	}
}
