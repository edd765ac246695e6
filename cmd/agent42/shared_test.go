package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jkaninda/agent42/internal/config"
	"github.com/jkaninda/agent42/internal/sandbox"
	"github.com/jkaninda/agent42/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Workspace = t.TempDir()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Sandbox.Type = "process"
	cfg.Providers.Default = "openai"
	cfg.Providers.Entries["openai"].APIKey = "sk-test"
	return cfg
}

func TestInitShared_WiresSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.Entries["zai"].APIKey = "zai-test"
	cfg.Providers.Fallback = []string{"zai"}

	sc, err := initShared(cfg, discardLogger())
	if err != nil {
		t.Fatalf("initShared: %v", err)
	}
	defer sc.Cleanup()

	if got, want := sc.LLMProvider.Name(), "openai+fallback"; got != want {
		t.Errorf("provider = %q, want %q", got, want)
	}
	if sc.Store == nil || sc.Store.Driver() != storage.DriverSQLite {
		t.Fatalf("store = %v, want sqlite", sc.Store)
	}
	if _, err := os.Stat(cfg.AuditDBPath()); err != nil {
		t.Errorf("audit database not created: %v", err)
	}
	if _, ok := sc.Sandbox.(*sandbox.ProcessSandbox); !ok {
		t.Errorf("sandbox = %T, want *sandbox.ProcessSandbox", sc.Sandbox)
	}
	if sc.Session == nil || sc.Session.Len() != 1 {
		t.Fatalf("session should start with the system message")
	}
	if sc.OpsServer != nil {
		t.Error("ops server should be nil when http is not configured")
	}
}

func TestInitShared_SystemPromptFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = &config.StorageConfig{Driver: storage.DriverNone}
	cfg.Agent.SystemPromptFile = filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(cfg.Agent.SystemPromptFile, []byte("You are terse."), 0o600); err != nil {
		t.Fatal(err)
	}

	sc, err := initShared(cfg, discardLogger())
	if err != nil {
		t.Fatalf("initShared: %v", err)
	}
	defer sc.Cleanup()

	if sc.Store != nil {
		t.Errorf("store = %v, want nil for driver none", sc.Store)
	}
	conv := sc.Session.Conversation()
	if got := conv[0].Content; got != "You are terse." {
		t.Errorf("system prompt = %q, want %q", got, "You are terse.")
	}
}

func TestInitShared_MissingSystemPromptFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = &config.StorageConfig{Driver: storage.DriverNone}
	cfg.Agent.SystemPromptFile = filepath.Join(t.TempDir(), "missing.txt")

	if _, err := initShared(cfg, discardLogger()); err == nil {
		t.Fatal("expected error for a missing system prompt file")
	}
}

func TestInitSandbox_UnknownType(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sandbox.Type = "firecracker"
	if _, err := initSandbox(cfg, nil, discardLogger()); err == nil {
		t.Fatal("expected error for unknown sandbox type")
	}
}

func TestBuildProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.Entries["local"] = &config.ProviderConfig{Type: "ollama", Model: "llama3"}

	tests := []struct {
		name     string
		wantName string
		wantErr  bool
	}{
		{"anthropic", "anthropic", false},
		{"openai", "openai", false},
		{"zai", "zai", false},
		{"local", "", true},
		{"missing", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, err := buildProvider(tc.name, cfg, discardLogger())
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got provider %q", p.Name())
				}
				return
			}
			if err != nil {
				t.Fatalf("buildProvider: %v", err)
			}
			if p.Name() != tc.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tc.wantName)
			}
		})
	}
}

func TestInitStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = &config.StorageConfig{Driver: "mysql"}
	if _, err := initStore(cfg, discardLogger()); err == nil {
		t.Fatal("expected error for unknown storage driver")
	}
}

func TestInitStore_PostgresRequiresDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage = &config.StorageConfig{Driver: storage.DriverPostgres}
	if _, err := initStore(cfg, discardLogger()); err == nil {
		t.Fatal("expected error without a DSN")
	}
}
