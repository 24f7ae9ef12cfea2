package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/njoerd114/roomsync/internal/retry"
	"github.com/njoerd114/roomsync/internal/schedule"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

const minimalGraph = `
graph:
  tenant_id: "contoso"
  client_id: "app-id"
  client_secret: "s3cret"
`

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
graph:
  base_url: "https://graph.example.com"
  tenant_id: "contoso"
  client_id: "app-id"
  client_secret: "s3cret"
  timeout: 10s
  requests_per_second: 4
  burst: 8
storage:
  path: /var/lib/roomsync/rooms.db
search:
  path: /var/lib/roomsync/search.db
  result_limit: 50
sync:
  schedule: "0 30 2 * * *"
  run_on_startup: false
  building_batch_size: 5
  storage_batch_size: 50
  retry:
    max_retries: 4
    base_delay: 500ms
    strategy: exponential
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Graph.BaseURL != "https://graph.example.com" {
		t.Errorf("BaseURL = %q", cfg.Graph.BaseURL)
	}
	if cfg.Graph.Timeout != 10*time.Second {
		t.Errorf("Timeout = %v, want 10s", cfg.Graph.Timeout)
	}
	if cfg.Graph.RequestsPerSecond != 4 || cfg.Graph.Burst != 8 {
		t.Errorf("rate = %v/%d, want 4/8", cfg.Graph.RequestsPerSecond, cfg.Graph.Burst)
	}
	if cfg.Storage.Path != "/var/lib/roomsync/rooms.db" {
		t.Errorf("Storage.Path = %q", cfg.Storage.Path)
	}
	if cfg.Search.ResultLimit != 50 {
		t.Errorf("ResultLimit = %d, want 50", cfg.Search.ResultLimit)
	}
	if cfg.Sync.Schedule != "0 30 2 * * *" {
		t.Errorf("Schedule = %q", cfg.Sync.Schedule)
	}
	if cfg.RunOnStartup() {
		t.Error("RunOnStartup = true, want false")
	}
	if cfg.Sync.BuildingBatchSize != 5 || cfg.Sync.StorageBatchSize != 50 {
		t.Errorf("batch sizes = %d/%d", cfg.Sync.BuildingBatchSize, cfg.Sync.StorageBatchSize)
	}

	p := cfg.RetryPolicy()
	if p.MaxRetries != 4 || p.BaseDelay != 500*time.Millisecond || p.Strategy != retry.Exponential {
		t.Errorf("RetryPolicy = %+v", p)
	}
}

func TestLoad_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(writeConfig(t, minimalGraph))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Graph.BaseURL != "https://graph.microsoft.com" {
		t.Errorf("BaseURL = %q", cfg.Graph.BaseURL)
	}
	if cfg.Graph.AuthorityURL != "https://login.microsoftonline.com" {
		t.Errorf("AuthorityURL = %q", cfg.Graph.AuthorityURL)
	}
	if cfg.Graph.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Graph.Timeout)
	}
	if want := filepath.Join(home, ".local", "share", "roomsync", "rooms.db"); cfg.Storage.Path != want {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, want)
	}
	if want := filepath.Join(home, ".local", "share", "roomsync", "search.db"); cfg.Search.Path != want {
		t.Errorf("Search.Path = %q, want %q", cfg.Search.Path, want)
	}
	if cfg.Search.ResultLimit != 20 {
		t.Errorf("ResultLimit = %d, want 20", cfg.Search.ResultLimit)
	}
	if cfg.Sync.Schedule != schedule.DefaultSchedule {
		t.Errorf("Schedule = %q, want %q", cfg.Sync.Schedule, schedule.DefaultSchedule)
	}
	if !cfg.RunOnStartup() {
		t.Error("RunOnStartup = false, want true")
	}
	if cfg.Sync.BuildingBatchSize != 10 || cfg.Sync.StorageBatchSize != 100 {
		t.Errorf("batch sizes = %d/%d, want 10/100", cfg.Sync.BuildingBatchSize, cfg.Sync.StorageBatchSize)
	}
	if p := cfg.RetryPolicy(); p != retry.DefaultPolicy() {
		t.Errorf("RetryPolicy = %+v, want default", p)
	}
	if cfg.Telemetry != nil {
		t.Error("expected Telemetry to be nil")
	}
}

func TestLoad_ZeroRetriesAllowed(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalGraph+`
sync:
  retry:
    max_retries: 0
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p := cfg.RetryPolicy(); p.MaxRetries != 0 {
		t.Errorf("MaxRetries = %d, want 0", p.MaxRetries)
	}
}

func TestLoad_ExpandsEnvironment(t *testing.T) {
	t.Setenv("ROOMSYNC_TEST_SECRET", "from-env")
	path := writeConfig(t, `
graph:
  tenant_id: "contoso"
  client_id: "app-id"
  client_secret: "${ROOMSYNC_TEST_SECRET}"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Graph.ClientSecret != "from-env" {
		t.Errorf("ClientSecret = %q, want %q", cfg.Graph.ClientSecret, "from-env")
	}
}

func TestLoad_MissingSecretFromEnv(t *testing.T) {
	t.Setenv("ROOMSYNC_TEST_SECRET", "")
	path := writeConfig(t, `
graph:
  tenant_id: "contoso"
  client_id: "app-id"
  client_secret: "${ROOMSYNC_TEST_SECRET}"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for empty client_secret, got nil")
	}
	if !strings.Contains(err.Error(), "client_secret") {
		t.Errorf("error %q does not name client_secret", err)
	}
}

func TestLoad_MissingTenant(t *testing.T) {
	path := writeConfig(t, `
graph:
  client_id: "app-id"
  client_secret: "s3cret"
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for missing tenant_id, got nil")
	}
	if !strings.Contains(err.Error(), "tenant_id") {
		t.Errorf("error %q does not name tenant_id", err)
	}
}

func TestLoad_InvalidBaseURL(t *testing.T) {
	path := writeConfig(t, minimalGraph+`  base_url: "graph.microsoft.com"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for relative base_url, got nil")
	}
}

func TestLoad_InvalidSchedule(t *testing.T) {
	path := writeConfig(t, minimalGraph+`
sync:
  schedule: "0 0 * * 0"
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for five-field schedule, got nil")
	}
}

func TestLoad_StorageBatchTooLarge(t *testing.T) {
	path := writeConfig(t, minimalGraph+`
sync:
  storage_batch_size: 101
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for storage_batch_size > 100, got nil")
	}
}

func TestLoad_NegativeBuildingBatch(t *testing.T) {
	path := writeConfig(t, minimalGraph+`
sync:
  building_batch_size: -1
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative building_batch_size, got nil")
	}
}

func TestLoad_UnknownRetryStrategy(t *testing.T) {
	path := writeConfig(t, minimalGraph+`
sync:
  retry:
    strategy: linear
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown strategy, got nil")
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	path := writeConfig(t, minimalGraph+`
storage:
  pth: typo.db
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvPath, "")
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if filepath.Base(path) != "config.yaml" || filepath.Base(filepath.Dir(path)) != "roomsync" {
		t.Errorf("DefaultPath = %q, want .../roomsync/config.yaml", path)
	}
}

func TestDefaultPath_EnvOverride(t *testing.T) {
	t.Setenv(EnvPath, "/etc/roomsync.yaml")
	path, err := DefaultPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "/etc/roomsync.yaml" {
		t.Errorf("DefaultPath = %q, want /etc/roomsync.yaml", path)
	}
}

func TestLoad_TelemetryValid(t *testing.T) {
	path := writeConfig(t, minimalGraph+`
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  service_name: "roomsync-test"
  headers:
    Authorization: "Bearer tok"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil {
		t.Fatal("expected Telemetry to be non-nil")
	}
	if cfg.Telemetry.OTLPEndpoint != "localhost:4317" {
		t.Errorf("OTLPEndpoint = %q", cfg.Telemetry.OTLPEndpoint)
	}
	if !cfg.Telemetry.Insecure {
		t.Error("Insecure = false, want true")
	}
	if cfg.Telemetry.ServiceName != "roomsync-test" {
		t.Errorf("ServiceName = %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer tok" {
		t.Errorf("Headers = %v", cfg.Telemetry.Headers)
	}
}

func TestLoad_TelemetryMissingEndpoint(t *testing.T) {
	path := writeConfig(t, minimalGraph+`
telemetry:
  insecure: true
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for telemetry without otlp_endpoint, got nil")
	}
}

func TestWrite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	off := false
	cfg := &Config{
		Graph: GraphConfig{TenantID: "contoso", ClientID: "app-id", ClientSecret: "${ROOMSYNC_TEST_WRITE}"},
		Sync:  SyncConfig{Schedule: "0 0 3 * * *", RunOnStartup: &off},
	}
	if err := cfg.Write(path); err != nil {
		t.Fatalf("Write: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("mode = %o, want 600", perm)
	}
	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "storage") {
		t.Errorf("unset sections written:\n%s", data)
	}

	t.Setenv("ROOMSYNC_TEST_WRITE", "expanded")
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Graph.ClientSecret != "expanded" {
		t.Errorf("ClientSecret = %q, want expanded", loaded.Graph.ClientSecret)
	}
	if loaded.Sync.Schedule != "0 0 3 * * *" || loaded.RunOnStartup() {
		t.Errorf("sync = %+v", loaded.Sync)
	}
}
