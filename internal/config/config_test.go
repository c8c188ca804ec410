package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points config and env file lookups at an empty temp dir.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	t.Setenv("ENV_FILE", filepath.Join(dir, "missing.env"))
	for _, key := range []string{"PORT", "EMBEDDING_API_KEY", "EMBEDDING_ENDPOINT", "DATABASE_DSN", "PAYLOAD_MAX_BYTES", "LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Payload.MaxBytes != 2*1024*1024 {
		t.Errorf("expected max payload 2MB, got %d", cfg.Payload.MaxBytes)
	}
	if cfg.Embedding.BatchSize != 96 {
		t.Errorf("expected embedding batch size 96, got %d", cfg.Embedding.BatchSize)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected sqlite driver, got %s", cfg.Storage.Driver)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	dir := isolate(t)

	yamlContent := `
log:
  level: DEBUG
server:
  port: 1234
  workers: 4
storage:
  dsn: /data/tasks.db
payload:
  max_bytes: 1024
embedding:
  enabled: true
  model: custom-embed
  parallel: 3
`
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Log.Level != "DEBUG" {
		t.Errorf("expected Log.Level DEBUG, got %s", cfg.Log.Level)
	}
	if cfg.Server.Port != 1234 || cfg.Server.Workers != 4 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DSN != "/data/tasks.db" {
		t.Errorf("expected DSN from yaml, got %s", cfg.Storage.DSN)
	}
	if cfg.Payload.MaxBytes != 1024 {
		t.Errorf("expected max bytes 1024, got %d", cfg.Payload.MaxBytes)
	}
	if cfg.Embedding.Model != "custom-embed" || cfg.Embedding.Parallel != 3 {
		t.Errorf("unexpected embedding config: %+v", cfg.Embedding)
	}
	// Defaults survive for keys the file leaves out.
	if cfg.Embedding.BatchSize != 96 {
		t.Errorf("expected default batch size, got %d", cfg.Embedding.BatchSize)
	}

	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "EMBEDDING_API_KEY") {
		t.Errorf("expected missing api key error, got %v", err)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_DSN", "file:override.db")
	t.Setenv("PAYLOAD_MAX_BYTES", "4096")
	t.Setenv("EMBEDDING_API_KEY", "sk-test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Storage.DSN != "file:override.db" {
		t.Errorf("expected DSN override, got %s", cfg.Storage.DSN)
	}
	if cfg.Payload.MaxBytes != 4096 {
		t.Errorf("expected max bytes 4096, got %d", cfg.Payload.MaxBytes)
	}
	if cfg.Embedding.APIKey != "sk-test" {
		t.Errorf("expected api key from env, got %q", cfg.Embedding.APIKey)
	}
}

func TestLoadConfig_DotEnv(t *testing.T) {
	dir := isolate(t)

	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("EMBEDDING_API_KEY=from-dotenv\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ENV_FILE", envPath)
	t.Cleanup(func() { os.Unsetenv("EMBEDDING_API_KEY") })

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Embedding.APIKey != "from-dotenv" {
		t.Errorf("expected api key from .env, got %q", cfg.Embedding.APIKey)
	}
}

func TestLoadConfig_BadYAML(t *testing.T) {
	dir := isolate(t)

	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := LoadConfig(); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestValidate(t *testing.T) {
	isolate(t)
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	cfg.Server.Port = 0
	cfg.Payload.MaxBytes = 0
	cfg.Storage.Driver = "postgres"

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server port", "max_bytes", "storage driver"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestGetLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"bogus":   "INFO",
	}
	for in, want := range tests {
		cfg := &Config{}
		cfg.Log.Level = in
		if got := cfg.GetLogLevel().String(); got != want {
			t.Errorf("GetLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
