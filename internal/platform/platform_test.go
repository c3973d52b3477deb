package platform

import (
	"path/filepath"
	"strings"
	"testing"

	"hostsupervisor/internal/config"
)

func testConfig(packaged bool) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Packaged = packaged
	cfg.Paths = config.PathsConfig{
		Root:       "/home/u/.dive",
		Config:     "/home/u/.dive/config",
		Cache:      "/home/u/.dive/host_cache",
		Bin:        "/home/u/.dive/bin",
		Log:        "/home/u/.dive/log",
		Skills:     "/home/u/.dive/skills",
		Resources:  "/opt/app/resources",
		HostSource: "/opt/app/resources/mcp-host",
	}
	return cfg
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if k, v, ok := strings.Cut(kv, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

func TestFor_Table(t *testing.T) {
	tests := []struct {
		goos        string
		bundlesDeps bool
		provision   bool
		chmod       bool
	}{
		{"darwin", true, false, true},
		{"linux", false, true, true},
		{"windows", false, false, false},
		{"freebsd", false, false, true},
	}
	for _, tt := range tests {
		s := For(tt.goos)
		if s.BundlesDeps != tt.bundlesDeps || s.ProvisionRuntime != tt.provision || s.ChmodBus != tt.chmod {
			t.Errorf("%s: got %+v", tt.goos, s)
		}
	}
}

func TestHostCommand_Dev(t *testing.T) {
	cfg := testConfig(false)
	hc := For("linux").HostCommand(cfg, nil)

	if hc.Path != "uv" || hc.Args[0] != "run" || hc.Args[1] != "dive_httpd" {
		t.Errorf("unexpected dev command %s %v", hc.Path, hc.Args)
	}
	if hc.Dir != cfg.Paths.HostSource || !hc.Inherit {
		t.Errorf("dev host should run in source dir with inherited stdio: %+v", hc)
	}
	if _, ok := envValue(hc.Env, "TOOL_NPX_PATH"); ok {
		t.Error("dev build should not set TOOL_NPX_PATH")
	}
}

func TestHostCommand_StatusArgs(t *testing.T) {
	cfg := testConfig(true)
	hc := For("linux").HostCommand(cfg, nil)

	joined := strings.Join(hc.Args, " ")
	want := "--port 0 --report_status_file " + filepath.Join(cfg.Paths.Cache, "bus") +
		" --cors * --log_dir " + filepath.Join(cfg.Paths.Log, "host") +
		" --plugin_config " + filepath.Join(cfg.Paths.Config, "plugin_config.json")
	if !strings.HasSuffix(joined, want) {
		t.Errorf("args %q do not end with %q", joined, want)
	}
}

func TestHostCommand_PackagedDarwin(t *testing.T) {
	cfg := testConfig(true)
	hc := For("darwin").HostCommand(cfg, nil)

	if hc.Path != filepath.Join(cfg.Paths.Resources, "python", "bin", "python3") {
		t.Errorf("unexpected interpreter %q", hc.Path)
	}
	if hc.Args[0] != "-I" || hc.Args[1] != filepath.Join(cfg.Paths.Resources, "python", "bin", "dive_httpd") {
		t.Errorf("unexpected args %v", hc.Args[:2])
	}
	npx, _ := envValue(hc.Env, "TOOL_NPX_PATH")
	if npx != filepath.Join(cfg.Paths.Resources, "node", "bin", "npx") {
		t.Errorf("unexpected npx %q", npx)
	}
}

func TestHostCommand_PackagedLinuxBootstrap(t *testing.T) {
	cfg := testConfig(true)
	hc := For("linux").HostCommand(cfg, []string{"PATH=/usr/bin", "DIVE_CONFIG_DIR=/stale"})

	if hc.Args[0] != "-I" || hc.Args[1] != "-c" {
		t.Fatalf("unexpected args %v", hc.Args[:2])
	}
	prog := hc.Args[2]
	for _, want := range []string{
		"site.addsitedir('/opt/app/resources/mcp-host')",
		"site.addsitedir('/home/u/.dive/host_cache/deps')",
		"from dive_mcp_host.httpd._main import main; main()",
	} {
		if !strings.Contains(prog, want) {
			t.Errorf("bootstrap %q missing %q", prog, want)
		}
	}

	if v, _ := envValue(hc.Env, "DIVE_CONFIG_DIR"); v != cfg.Paths.Config {
		t.Errorf("DIVE_CONFIG_DIR should override inherited value, got %q", v)
	}
	if v, _ := envValue(hc.Env, "PATH"); v != "/usr/bin" {
		t.Errorf("PATH should be inherited, got %q", v)
	}
	npx, _ := envValue(hc.Env, "TOOL_NPX_PATH")
	if npx != filepath.Join(cfg.Paths.Bin, "nodejs", "bin", "npx") {
		t.Errorf("linux npx should come from the downloaded runtime, got %q", npx)
	}
}

func TestBootstrap_EscapesBackslashes(t *testing.T) {
	prog := bootstrap(`C:\app\mcp-host`, `C:\cache\deps`, "m")
	if !strings.Contains(prog, `site.addsitedir('C:\\app\\mcp-host')`) {
		t.Errorf("backslashes not escaped: %q", prog)
	}
}

func TestCommandAliases(t *testing.T) {
	if len(For("linux").CommandAliases("/r", true)) != 0 {
		t.Error("linux should have no aliases")
	}
	if len(For("windows").CommandAliases(`C:\r`, false)) != 0 {
		t.Error("unpackaged windows should have no aliases")
	}
	aliases := For("windows").CommandAliases(`C:\r`, true)
	if aliases["npx"] == "" || aliases["npm"] == "" {
		t.Errorf("expected npx/npm aliases, got %v", aliases)
	}
}

func TestRuntimeBundles(t *testing.T) {
	cfg := testConfig(true)
	cfg.Runtime.SHA256 = map[string]string{"node-v22.22.0-linux-x64.tar.gz": "abcd"}

	bundles := For("linux").RuntimeBundles(cfg, "amd64")
	if len(bundles) != 1 {
		t.Fatalf("expected one bundle, got %d", len(bundles))
	}
	b := bundles[0]
	if b.URL != "https://nodejs.org/dist/v22.22.0/node-v22.22.0-linux-x64.tar.gz" {
		t.Errorf("unexpected URL %q", b.URL)
	}
	if b.TopDir != "node-v22.22.0-linux-x64" || b.Version != "v22.22.0" || b.SHA256 != "abcd" {
		t.Errorf("unexpected bundle %+v", b)
	}
	if b.Marker != filepath.Join(cfg.Paths.Bin, "nodejs", "bin", "node") {
		t.Errorf("unexpected marker %q", b.Marker)
	}

	if len(For("darwin").RuntimeBundles(cfg, "arm64")) != 0 {
		t.Error("darwin ships node, expected no bundles")
	}
	if len(For("linux").RuntimeBundles(testConfig(false), "amd64")) != 0 {
		t.Error("dev builds should not provision")
	}
}
