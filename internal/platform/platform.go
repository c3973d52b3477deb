// Package platform resolves everything that differs per OS: where the
// bundled tools live, how the host process is launched, and which runtime
// bundle must be fetched at install time.
package platform

import (
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"hostsupervisor/internal/config"
)

// Strategy is the per-GOOS behavior table.
type Strategy struct {
	GOOS string
	// BundlesDeps is true when the packaged build already ships every host
	// dependency, so the installer has nothing to do.
	BundlesDeps bool
	// ProvisionRuntime is true when the node runtime is not packaged and
	// must be downloaded.
	ProvisionRuntime bool
	// ChmodBus is true where the bus file needs world-writable permissions.
	ChmodBus  bool
	exeSuffix string
	npx       func(res, bin string) string
}

var strategies = map[string]Strategy{
	"darwin": {
		GOOS:        "darwin",
		BundlesDeps: true,
		ChmodBus:    true,
		npx:         func(res, _ string) string { return filepath.Join(res, "node", "bin", "npx") },
	},
	"linux": {
		GOOS:             "linux",
		ProvisionRuntime: true,
		ChmodBus:         true,
		npx:              func(_, bin string) string { return filepath.Join(bin, "nodejs", "bin", "npx") },
	},
	"windows": {
		GOOS:      "windows",
		exeSuffix: ".exe",
		npx:       func(res, _ string) string { return filepath.Join(res, "node", "npx.cmd") },
	},
}

// Current returns the strategy for the running OS.
func Current() Strategy {
	return For(runtime.GOOS)
}

// For returns the strategy for goos. Unknown unix-likes get the linux
// strategy without runtime provisioning.
func For(goos string) Strategy {
	if s, ok := strategies[goos]; ok {
		return s
	}
	s := strategies["linux"]
	s.GOOS = goos
	s.ProvisionRuntime = false
	return s
}

// Python returns the bundled interpreter path.
func (s Strategy) Python(resources string) string {
	if s.GOOS == "windows" {
		return filepath.Join(resources, "python", "python.exe")
	}
	return filepath.Join(resources, "python", "bin", "python3")
}

// UV returns the bundled uv binary path.
func (s Strategy) UV(resources string) string {
	return filepath.Join(resources, "uv", "uv"+s.exeSuffix)
}

// UVX returns the bundled uvx binary path.
func (s Strategy) UVX(resources string) string {
	return filepath.Join(resources, "uv", "uvx"+s.exeSuffix)
}

// NPX returns the npx used by the host for builtin tools.
func (s Strategy) NPX(resources, bin string) string {
	return s.npx(resources, bin)
}

// CommandAliases returns the command_alias.json content. Only Windows
// packaged builds redirect npx/npm to the bundled node.
func (s Strategy) CommandAliases(resources string, packaged bool) map[string]string {
	if s.GOOS != "windows" || !packaged {
		return map[string]string{}
	}
	return map[string]string{
		"npx": filepath.Join(resources, "node", "npx.cmd"),
		"npm": filepath.Join(resources, "node", "npm.cmd"),
	}
}

// HostCommand is the resolved launch description for the host process.
type HostCommand struct {
	Path    string
	Args    []string
	Dir     string
	Env     []string
	Inherit bool // dev builds share the supervisor's stdio
}

// DepsDir is where the installer puts host dependencies.
func DepsDir(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.Cache, "deps")
}

// HostCommand resolves executable, arguments, and environment for the
// host. environ is the supervisor's environment (os.Environ()).
func (s Strategy) HostCommand(cfg *config.Config, environ []string) HostCommand {
	res := cfg.Paths.Resources
	var hc HostCommand

	switch {
	case !cfg.Packaged:
		hc.Path = "uv"
		hc.Args = []string{"run", cfg.Host.Entrypoint}
		hc.Dir = cfg.Paths.HostSource
		hc.Inherit = true
	case s.GOOS == "darwin":
		hc.Path = s.Python(res)
		hc.Args = []string{"-I", filepath.Join(res, "python", "bin", cfg.Host.Entrypoint)}
	default:
		hc.Path = s.Python(res)
		hc.Args = []string{"-I", "-c", bootstrap(cfg.Paths.HostSource, DepsDir(cfg), cfg.Host.Module)}
	}

	hc.Args = append(hc.Args,
		"--port", "0",
		"--report_status_file", cfg.BusPath(),
		"--cors", "*",
		"--log_dir", filepath.Join(cfg.Paths.Log, "host"),
		"--plugin_config", filepath.Join(cfg.Paths.Config, "plugin_config.json"),
	)

	vars := map[string]string{
		"DIVE_CONFIG_DIR": cfg.Paths.Config,
		"RESOURCE_DIR":    cfg.Paths.Cache,
		"DIVE_SKILL_DIR":  cfg.Paths.Skills,
		"DIVE_USER_AGENT": cfg.Host.UserAgent,
	}
	if cfg.Packaged {
		vars["TOOL_NPX_PATH"] = s.NPX(res, cfg.Paths.Bin)
		vars["TOOL_UVX_PATH"] = s.UVX(res)
	}
	for k, v := range cfg.Host.Env {
		vars[k] = v
	}
	hc.Env = MergeEnv(environ, vars)
	return hc
}

// bootstrap is the -c program that puts the host source and the installed
// deps on sys.path without inheriting the ambient site-packages.
func bootstrap(src, deps, module string) string {
	esc := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "import site; " +
		"site.addsitedir('" + esc.Replace(src) + "'); " +
		"site.addsitedir('" + esc.Replace(deps) + "'); " +
		"from " + module + " import main; main()"
}

// MergeEnv overlays vars onto environ. Keys already in environ are
// replaced in place; new keys are appended in sorted order.
func MergeEnv(environ []string, vars map[string]string) []string {
	out := make([]string, 0, len(environ)+len(vars))
	seen := make(map[string]bool, len(vars))
	for _, kv := range environ {
		k, _, _ := strings.Cut(kv, "=")
		if v, ok := vars[k]; ok {
			out = append(out, k+"="+v)
			seen[k] = true
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+vars[k])
	}
	return out
}
