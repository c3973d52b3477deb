//go:build !windows

package deps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"hostsupervisor/internal/config"
	"hostsupervisor/internal/logger"
	"hostsupervisor/internal/platform"
	"hostsupervisor/internal/procrun"
	"hostsupervisor/internal/sink"
)

type fakeStore struct {
	mu   sync.Mutex
	data map[string]string
	sets int
}

func newFakeStore(kv map[string]string) *fakeStore {
	if kv == nil {
		kv = map[string]string{}
	}
	return &fakeStore{data: kv}
}

func (s *fakeStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *fakeStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	s.sets++
	return nil
}

func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key]
}

type fixture struct {
	cfg   *config.Config
	calls string
}

// newFixture lays out a packaged install with a fake uv. installExit is
// the exit code of "uv pip install".
func newFixture(t *testing.T, installExit int) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Packaged = true
	cfg.Paths.Resources = filepath.Join(root, "resources")
	cfg.Paths.HostSource = filepath.Join(root, "resources", "mcp-host")
	cfg.Paths.Cache = filepath.Join(root, "host_cache")
	calls := filepath.Join(root, "calls.log")

	for _, dir := range []string{cfg.Paths.HostSource, cfg.Paths.Cache, filepath.Join(cfg.Paths.Resources, "uv")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(cfg.Paths.HostSource, "uv.lock"), []byte("version = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	script := `#!/bin/sh
echo "$@" >> ` + calls + `
case "$1" in
export) echo "httpx==0.27.0" > "$3" ;;
pip)
  echo "Resolved 1 package"
  echo "error: boom" 1>&2
  echo "PYTHONPATH=[$PYTHONPATH]"
  exit ` + strconv.Itoa(installExit) + ` ;;
esac
`
	uv := platform.For("linux").UV(cfg.Paths.Resources)
	if err := os.WriteFile(uv, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return &fixture{cfg: cfg, calls: calls}
}

func (f *fixture) callLines(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.calls)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func lockHash(t *testing.T, cfg *config.Config) string {
	t.Helper()
	h, err := HashFile(filepath.Join(cfg.Paths.HostSource, "uv.lock"))
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestInstall_RunsPipelineAndCachesHash(t *testing.T) {
	f := newFixture(t, 0)
	store := newFakeStore(nil)
	rec := &sink.Recorder{}
	inst := New(f.cfg, platform.For("linux"), store, procrun.New(), rec)
	inst.environ = func() []string { return []string{"PYTHONPATH=/leak", "HOME=/tmp"} }

	if err := inst.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	calls := f.callLines(t)
	if len(calls) != 2 {
		t.Fatalf("expected 2 uv calls, got %v", calls)
	}
	req := filepath.Join(f.cfg.Paths.Cache, "requirements.txt")
	if calls[0] != "export -o "+req {
		t.Errorf("unexpected export call: %q", calls[0])
	}
	if !strings.HasPrefix(calls[1], "pip install -r "+req+" --target "+platform.DepsDir(f.cfg)+" --python ") {
		t.Errorf("unexpected install call: %q", calls[1])
	}

	if got := store.value(LockHashKey); got != lockHash(t, f.cfg) {
		t.Errorf("expected cached hash %s, got %s", lockHash(t, f.cfg), got)
	}

	lines := rec.Lines()
	joined := strings.Join(lines, "\n")
	for _, want := range []string{"Resolved 1 package", "error: boom", "PYTHONPATH=[]"} {
		if !strings.Contains(joined, want) {
			t.Errorf("sink missing %q:\n%s", want, joined)
		}
	}
	if lines[len(lines)-1] != FinishLine {
		t.Errorf("expected last line %q, got %q", FinishLine, lines[len(lines)-1])
	}
	if log := inst.Log(); len(log) != 1 || log[0] != FinishLine {
		t.Errorf("expected install log reset to finish, got %v", log)
	}
}

func TestInstall_OutputReachesLog(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "supervisor.log")
	if err := logger.Init(logger.Config{Level: "debug", FilePath: logFile}); err != nil {
		t.Fatalf("logger init: %v", err)
	}
	defer logger.Close()

	f := newFixture(t, 0)
	rec := &sink.Recorder{}
	inst := New(f.cfg, platform.For("linux"), newFakeStore(nil), procrun.New(), rec)
	if err := inst.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	logger.Close()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	for _, want := range []string{`"component":"dependency-installer"`, `"stream":"stderr"`, "error: boom"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("log missing %q:\n%s", want, data)
		}
	}
	if !strings.Contains(strings.Join(rec.Lines(), "\n"), "error: boom") {
		t.Errorf("sink missing install output: %v", rec.Lines())
	}
}

func TestInstall_SkipsWhenHashMatches(t *testing.T) {
	f := newFixture(t, 0)
	if err := os.MkdirAll(platform.DepsDir(f.cfg), 0755); err != nil {
		t.Fatal(err)
	}
	store := newFakeStore(map[string]string{LockHashKey: lockHash(t, f.cfg)})
	inst := New(f.cfg, platform.For("linux"), store, procrun.New(), nil)

	if err := inst.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if calls := f.callLines(t); len(calls) != 0 {
		t.Errorf("expected zero tool invocations, got %v", calls)
	}
	if store.sets != 0 {
		t.Errorf("expected no cache writes, got %d", store.sets)
	}
}

func TestInstall_CachedHashWithoutDepsDir(t *testing.T) {
	f := newFixture(t, 0)
	store := newFakeStore(map[string]string{LockHashKey: "abc123"})
	rec := &sink.Recorder{}
	inst := New(f.cfg, platform.For("linux"), store, procrun.New(), rec)
	inst.hash = func(string) (string, error) { return "abc123", nil }

	if err := inst.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if got := store.value(LockHashKey); got != "abc123" {
		t.Errorf("expected cache abc123, got %q", got)
	}
	if store.sets != 1 {
		t.Errorf("expected one cache write, got %d", store.sets)
	}
	lines := rec.Lines()
	if lines[len(lines)-1] != FinishLine {
		t.Errorf("expected log to end with finish, got %v", lines)
	}
}

func TestInstall_FailedInstallKeepsOldHash(t *testing.T) {
	f := newFixture(t, 3)
	store := newFakeStore(map[string]string{LockHashKey: "stale"})
	inst := New(f.cfg, platform.For("linux"), store, procrun.New(), nil)

	err := inst.Install(context.Background())
	var ie *InstallError
	if !errors.As(err, &ie) {
		t.Fatalf("expected InstallError, got %v", err)
	}
	if ie.Stage != "install" || ie.Code != 3 {
		t.Errorf("unexpected error: %+v", ie)
	}
	if got := store.value(LockHashKey); got != "stale" {
		t.Errorf("expected cached hash unchanged, got %q", got)
	}
}

func TestInstall_TimeoutIsInstallError(t *testing.T) {
	f := newFixture(t, 0)
	uv := platform.For("linux").UV(f.cfg.Paths.Resources)
	if err := os.WriteFile(uv, []byte("#!/bin/sh\nexec sleep 30\n"), 0755); err != nil {
		t.Fatal(err)
	}
	f.cfg.Timeouts.Stage = 100 * time.Millisecond
	runner := procrun.New()
	inst := New(f.cfg, platform.For("linux"), newFakeStore(nil), runner, nil)

	err := inst.Install(context.Background())
	var ie *InstallError
	if !errors.As(err, &ie) || ie.Stage != "export" {
		t.Fatalf("expected export InstallError, got %v", err)
	}
	var te *procrun.TimeoutError
	if !errors.As(err, &te) {
		t.Errorf("expected wrapped TimeoutError, got %v", err)
	}
	if runner.Live() != 0 {
		t.Errorf("timed out stage left %d live processes", runner.Live())
	}
}

func TestInstall_SkippedConfigurations(t *testing.T) {
	tests := []struct {
		name     string
		packaged bool
		goos     string
	}{
		{"development build", false, "linux"},
		{"bundled deps", true, "darwin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0)
			f.cfg.Packaged = tt.packaged
			rec := &sink.Recorder{}
			inst := New(f.cfg, platform.For(tt.goos), newFakeStore(nil), procrun.New(), rec)

			if err := inst.Install(context.Background()); err != nil {
				t.Fatalf("Install failed: %v", err)
			}
			if calls := f.callLines(t); len(calls) != 0 {
				t.Errorf("expected no tool invocations, got %v", calls)
			}
			if lines := rec.Lines(); len(lines) != 1 || lines[0] != FinishLine {
				t.Errorf("expected only finish, got %v", lines)
			}
		})
	}
}

func TestInstall_NoLockFile(t *testing.T) {
	f := newFixture(t, 0)
	os.Remove(filepath.Join(f.cfg.Paths.HostSource, "uv.lock"))
	inst := New(f.cfg, platform.For("linux"), newFakeStore(nil), procrun.New(), nil)

	if err := inst.Install(context.Background()); err != nil {
		t.Errorf("expected success without lock file, got %v", err)
	}
	if calls := f.callLines(t); len(calls) != 0 {
		t.Errorf("expected no tool invocations, got %v", calls)
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uv.lock")
	os.WriteFile(path, []byte("abc"), 0644)
	got, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != "900150983cd24fb0d6963f7d28e17f72" {
		t.Errorf("unexpected md5 %s", got)
	}
}
