package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hostsupervisor/internal/logger"
)

// --- Default Config Tests ---

func TestDefaultConfig_Timeouts(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Timeouts.Stage != 5*time.Minute {
		t.Errorf("expected Stage=5m, got %v", cfg.Timeouts.Stage)
	}
	if cfg.Timeouts.Install != 10*time.Minute {
		t.Errorf("expected Install=10m, got %v", cfg.Timeouts.Install)
	}
	if cfg.Timeouts.Settle != 100*time.Millisecond {
		t.Errorf("expected Settle=100ms, got %v", cfg.Timeouts.Settle)
	}
	if cfg.Timeouts.Grace != 100*time.Millisecond {
		t.Errorf("expected Grace=100ms, got %v", cfg.Timeouts.Grace)
	}
	if cfg.Timeouts.ReadyWarning != time.Minute {
		t.Errorf("expected ReadyWarning=1m, got %v", cfg.Timeouts.ReadyWarning)
	}
}

func TestDefaultConfig_CacheAndRuntime(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Cache.Backend != "badger" {
		t.Errorf("expected Cache.Backend=badger, got %q", cfg.Cache.Backend)
	}
	if cfg.Runtime.Version != DefaultVersion {
		t.Errorf("expected Runtime.Version=%s, got %q", DefaultVersion, cfg.Runtime.Version)
	}
	if cfg.Packaged {
		t.Error("expected Packaged=false")
	}
	if cfg.SOCKSProxy.Enabled() {
		t.Error("expected SOCKS proxy disabled by default")
	}
}

// --- Parse Tests ---

func TestParse_DurationStrings(t *testing.T) {
	input := `{
		"Packaged": true,
		"Timeouts": {
			"Install": "20m",
			"Settle": "250ms"
		}
	}`

	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if !cfg.Packaged {
		t.Error("expected Packaged=true")
	}
	if cfg.Timeouts.Install != 20*time.Minute {
		t.Errorf("expected Install=20m, got %v", cfg.Timeouts.Install)
	}
	if cfg.Timeouts.Settle != 250*time.Millisecond {
		t.Errorf("expected Settle=250ms, got %v", cfg.Timeouts.Settle)
	}
	// untouched values keep defaults
	if cfg.Timeouts.Stage != 5*time.Minute {
		t.Errorf("expected Stage=5m, got %v", cfg.Timeouts.Stage)
	}
}

func TestParse_InvalidDuration(t *testing.T) {
	_, err := Parse([]byte(`{"Timeouts": {"Grace": "soon"}}`))
	if err == nil || !strings.Contains(err.Error(), "Grace") {
		t.Fatalf("expected Grace duration error, got %v", err)
	}

	_, err = Parse([]byte(`{"Timeouts": {"Probe": "-1s"}}`))
	if err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	if _, err := Parse([]byte(`{`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

func TestParse_CacheAndProxy(t *testing.T) {
	input := `{
		"Cache": {
			"Backend": "redis",
			"Redis": {"Address": "10.0.0.5:6379", "DB": 3}
		},
		"SocksProxy": {"Host": "proxy.local", "Port": 1080}
	}`

	cfg, err := Parse([]byte(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Cache.Backend != "redis" {
		t.Errorf("expected Backend=redis, got %q", cfg.Cache.Backend)
	}
	if cfg.Cache.Redis.Address != "10.0.0.5:6379" {
		t.Errorf("expected Redis.Address, got %q", cfg.Cache.Redis.Address)
	}
	if cfg.Cache.Redis.DB != 3 {
		t.Errorf("expected Redis.DB=3, got %d", cfg.Cache.Redis.DB)
	}
	if cfg.Cache.Redis.KeyPrefix != "hostsupervisor:" {
		t.Errorf("expected default key prefix, got %q", cfg.Cache.Redis.KeyPrefix)
	}
	if !cfg.SOCKSProxy.Enabled() {
		t.Error("expected SOCKS proxy enabled")
	}
}

// --- Merge Tests ---

func TestMerge_NilIsNoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Merge(nil)
	if cfg.Host.Entrypoint != "dive_httpd" {
		t.Errorf("unexpected entrypoint %q", cfg.Host.Entrypoint)
	}
}

func TestMerge_HostAndRuntime(t *testing.T) {
	base := DefaultConfig()
	base.Merge(&Config{
		Runtime: RuntimeConfig{Version: "20.1.0", SHA256: map[string]string{"a.tar.gz": "ff"}},
		Host:    HostConfig{UserAgent: "Dive/1.0", Env: map[string]string{"A": "b"}},
	})

	if base.Runtime.Version != "20.1.0" {
		t.Errorf("expected Version=20.1.0, got %q", base.Runtime.Version)
	}
	if base.Runtime.BaseURL != "https://nodejs.org/dist" {
		t.Errorf("BaseURL should keep default, got %q", base.Runtime.BaseURL)
	}
	if base.Runtime.SHA256["a.tar.gz"] != "ff" {
		t.Error("expected SHA256 entry merged")
	}
	if base.Host.UserAgent != "Dive/1.0" {
		t.Errorf("expected UserAgent merged, got %q", base.Host.UserAgent)
	}
	if base.Host.Module != "dive_mcp_host.httpd._main" {
		t.Errorf("Module should keep default, got %q", base.Host.Module)
	}
}

// --- Resolve Tests ---

func TestResolve_DerivesFromRoot(t *testing.T) {
	root := t.TempDir()
	cfg := DefaultConfig()
	cfg.Paths.Root = root
	cfg.Paths.Resources = filepath.Join(root, "res")
	cfg.Paths.Log = filepath.Join(root, "custom-log")

	if err := cfg.Resolve(); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	checks := map[string]string{
		"Config":     filepath.Join(root, "config"),
		"Cache":      filepath.Join(root, "host_cache"),
		"Bin":        filepath.Join(root, "bin"),
		"Log":        filepath.Join(root, "custom-log"),
		"Skills":     filepath.Join(root, "skills"),
		"HostSource": filepath.Join(root, "res", "mcp-host"),
	}
	got := map[string]string{
		"Config":     cfg.Paths.Config,
		"Cache":      cfg.Paths.Cache,
		"Bin":        cfg.Paths.Bin,
		"Log":        cfg.Paths.Log,
		"Skills":     cfg.Paths.Skills,
		"HostSource": cfg.Paths.HostSource,
	}
	for k, want := range checks {
		if got[k] != want {
			t.Errorf("%s: expected %q, got %q", k, want, got[k])
		}
	}
	if cfg.BusPath() != filepath.Join(root, "host_cache", "bus") {
		t.Errorf("unexpected bus path %q", cfg.BusPath())
	}
	if cfg.Cache.BadgerDir != filepath.Join(root, "host_cache", "kv") {
		t.Errorf("unexpected badger dir %q", cfg.Cache.BadgerDir)
	}
}

// --- Logging Tests ---

func TestParseLogging_Defaults(t *testing.T) {
	lc, err := ParseLogging([]byte(`{"Level": "debug", "Format": "fixed"}`))
	if err != nil {
		t.Fatalf("ParseLogging failed: %v", err)
	}
	if lc.Level != "debug" {
		t.Errorf("expected Level=debug, got %q", lc.Level)
	}
	if lc.Format != "fixed" {
		t.Errorf("expected Format=fixed, got %q", lc.Format)
	}
	if lc.MaxSizeMB != 10 {
		t.Errorf("expected default MaxSizeMB=10, got %d", lc.MaxSizeMB)
	}
	if lc.Console {
		t.Error("Console is taken verbatim and should be false")
	}
}

func TestLoadSplit_MissingFilesUseDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, lc, err := LoadSplit(filepath.Join(dir, "Supervisor.json"), filepath.Join(dir, "Logging.json"))
	if err != nil {
		t.Fatalf("LoadSplit failed: %v", err)
	}
	if cfg.Cache.Backend != "badger" {
		t.Errorf("expected default config, got backend %q", cfg.Cache.Backend)
	}
	if !lc.Console {
		t.Error("expected default logging config")
	}
}

func TestLoadSplit_ReadsBothFiles(t *testing.T) {
	dir := t.TempDir()
	sup := filepath.Join(dir, "Supervisor.json")
	lg := filepath.Join(dir, "Logging.json")
	os.WriteFile(sup, []byte(`{"Packaged": true}`), 0644)
	os.WriteFile(lg, []byte(`{"Level": "warn"}`), 0644)

	cfg, lc, err := LoadSplit(sup, lg)
	if err != nil {
		t.Fatalf("LoadSplit failed: %v", err)
	}
	if !cfg.Packaged {
		t.Error("expected Packaged=true")
	}
	if lc.Level != "warn" {
		t.Errorf("expected Level=warn, got %q", lc.Level)
	}
}

func TestLoadSplit_BadFile(t *testing.T) {
	dir := t.TempDir()
	sup := filepath.Join(dir, "Supervisor.json")
	os.WriteFile(sup, []byte(`not json`), 0644)

	if _, _, err := LoadSplit(sup, filepath.Join(dir, "Logging.json")); err == nil {
		t.Fatal("expected error for malformed Supervisor.json")
	}
}

func TestNewLoggingWatcher_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Logging.json")
	os.WriteFile(path, []byte(`{"Level": "info"}`), 0644)

	got := make(chan string, 4)
	w, err := NewLoggingWatcher(path, func(lc *logger.Config) { got <- lc.Level })
	if err != nil {
		t.Fatalf("NewLoggingWatcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	os.WriteFile(path, []byte(`{"Level": "debug"}`), 0644)

	select {
	case level := <-got:
		if level != "debug" {
			t.Errorf("expected reloaded level debug, got %q", level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("logging config was not reloaded")
	}
}
