// Package config provides configuration management for the host supervisor.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration structure (Supervisor.json).
type Config struct {
	Paths      PathsConfig    `json:"Paths"`
	Packaged   bool           `json:"Packaged"` // production build: bundled interpreter, hash-gated installs
	Runtime    RuntimeConfig  `json:"Runtime"`
	Host       HostConfig     `json:"Host"`
	Timeouts   TimeoutsConfig `json:"Timeouts"`
	Cache      CacheConfig    `json:"Cache"`
	SOCKSProxy SOCKSConfig    `json:"SocksProxy"`
}

// PathsConfig locates every directory the supervisor reads or writes.
// Empty entries are derived from Root by Resolve.
type PathsConfig struct {
	Root       string `json:"Root"`
	Config     string `json:"Config"`
	Cache      string `json:"Cache"` // bus file, requirements.txt, deps/
	Bin        string `json:"Bin"`
	Log        string `json:"Log"`
	Skills     string `json:"Skills"`
	Resources  string `json:"Resources"`  // bundled python/, uv/, node/
	HostSource string `json:"HostSource"` // host package with uv.lock
}

// RuntimeConfig describes the downloadable node runtime.
type RuntimeConfig struct {
	Version string            `json:"Version"`
	BaseURL string            `json:"BaseURL"`
	SHA256  map[string]string `json:"SHA256,omitempty"` // archive file name -> hex digest
}

// HostConfig describes the supervised host process.
type HostConfig struct {
	Entrypoint    string            `json:"Entrypoint"`
	Module        string            `json:"Module"`
	UserAgent     string            `json:"UserAgent"`
	Env           map[string]string `json:"Env,omitempty"`
	DefaultServer string            `json:"DefaultServer"` // MCP server entry added to mcp_config.json
	DefaultBin    string            `json:"DefaultBin"`
}

// TimeoutsConfig bounds every wait the supervisor performs.
type TimeoutsConfig struct {
	Stage        time.Duration `json:"Stage"`
	Install      time.Duration `json:"Install"`
	Probe        time.Duration `json:"Probe"`
	Settle       time.Duration `json:"Settle"`
	Grace        time.Duration `json:"Grace"`
	ReadyWarning time.Duration `json:"ReadyWarning"`
}

// CacheConfig selects the persistent key-value store for the install hash.
type CacheConfig struct {
	Backend   string      `json:"Backend"` // "badger" (default) or "redis"
	BadgerDir string      `json:"BadgerDir"`
	Redis     RedisConfig `json:"Redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Address   string `json:"Address"`
	Password  string `json:"Password"`
	DB        int    `json:"DB"`
	KeyPrefix string `json:"KeyPrefix"`
}

// SOCKSConfig contains SOCKS5 proxy settings.
type SOCKSConfig struct {
	Host string `json:"Host"`
	Port int    `json:"Port"`
}

// Enabled reports whether a proxy is configured.
func (s SOCKSConfig) Enabled() bool {
	return s.Host != "" && s.Port != 0
}

// DefaultVersion is the node runtime fetched on linux.
const DefaultVersion = "22.22.0"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Runtime: RuntimeConfig{
			Version: DefaultVersion,
			BaseURL: "https://nodejs.org/dist",
		},
		Host: HostConfig{
			Entrypoint:    "dive_httpd",
			Module:        "dive_mcp_host.httpd._main",
			UserAgent:     "HostSupervisor/dev",
			DefaultServer: "__SYSTEM_DIVE_SERVER__",
		},
		Timeouts: TimeoutsConfig{
			Stage:        5 * time.Minute,
			Install:      10 * time.Minute,
			Probe:        10 * time.Second,
			Settle:       100 * time.Millisecond,
			Grace:        100 * time.Millisecond,
			ReadyWarning: 60 * time.Second,
		},
		Cache: CacheConfig{
			Backend: "badger",
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "hostsupervisor:",
			},
		},
	}
}

// Merge applies non-zero values from other to this config.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	c.mergePaths(other.Paths)
	c.Packaged = other.Packaged

	if other.Runtime.Version != "" {
		c.Runtime.Version = other.Runtime.Version
	}
	if other.Runtime.BaseURL != "" {
		c.Runtime.BaseURL = other.Runtime.BaseURL
	}
	if len(other.Runtime.SHA256) > 0 {
		c.Runtime.SHA256 = other.Runtime.SHA256
	}

	if other.Host.Entrypoint != "" {
		c.Host.Entrypoint = other.Host.Entrypoint
	}
	if other.Host.Module != "" {
		c.Host.Module = other.Host.Module
	}
	if other.Host.UserAgent != "" {
		c.Host.UserAgent = other.Host.UserAgent
	}
	if len(other.Host.Env) > 0 {
		c.Host.Env = other.Host.Env
	}
	if other.Host.DefaultServer != "" {
		c.Host.DefaultServer = other.Host.DefaultServer
	}
	if other.Host.DefaultBin != "" {
		c.Host.DefaultBin = other.Host.DefaultBin
	}

	t := other.Timeouts
	if t.Stage != 0 {
		c.Timeouts.Stage = t.Stage
	}
	if t.Install != 0 {
		c.Timeouts.Install = t.Install
	}
	if t.Probe != 0 {
		c.Timeouts.Probe = t.Probe
	}
	if t.Settle != 0 {
		c.Timeouts.Settle = t.Settle
	}
	if t.Grace != 0 {
		c.Timeouts.Grace = t.Grace
	}
	if t.ReadyWarning != 0 {
		c.Timeouts.ReadyWarning = t.ReadyWarning
	}

	if other.Cache.Backend != "" {
		c.Cache.Backend = other.Cache.Backend
	}
	if other.Cache.BadgerDir != "" {
		c.Cache.BadgerDir = other.Cache.BadgerDir
	}
	if other.Cache.Redis.Address != "" {
		c.Cache.Redis.Address = other.Cache.Redis.Address
	}
	if other.Cache.Redis.Password != "" {
		c.Cache.Redis.Password = other.Cache.Redis.Password
	}
	if other.Cache.Redis.DB != 0 {
		c.Cache.Redis.DB = other.Cache.Redis.DB
	}
	if other.Cache.Redis.KeyPrefix != "" {
		c.Cache.Redis.KeyPrefix = other.Cache.Redis.KeyPrefix
	}

	if other.SOCKSProxy.Host != "" {
		c.SOCKSProxy.Host = other.SOCKSProxy.Host
	}
	if other.SOCKSProxy.Port != 0 {
		c.SOCKSProxy.Port = other.SOCKSProxy.Port
	}
}

func (c *Config) mergePaths(p PathsConfig) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Paths.Root, p.Root)
	set(&c.Paths.Config, p.Config)
	set(&c.Paths.Cache, p.Cache)
	set(&c.Paths.Bin, p.Bin)
	set(&c.Paths.Log, p.Log)
	set(&c.Paths.Skills, p.Skills)
	set(&c.Paths.Resources, p.Resources)
	set(&c.Paths.HostSource, p.HostSource)
}

// Resolve fills empty paths. Root defaults to ~/.dive, the resources
// directory to the working directory, and the host source to
// <resources>/mcp-host.
func (c *Config) Resolve() error {
	p := &c.Paths
	if p.Root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		p.Root = filepath.Join(home, ".dive")
	}
	if p.Resources == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		p.Resources = wd
	}

	derive := func(dst *string, parts ...string) {
		if *dst == "" {
			*dst = filepath.Join(parts...)
		}
	}
	derive(&p.Config, p.Root, "config")
	derive(&p.Cache, p.Root, "host_cache")
	derive(&p.Bin, p.Root, "bin")
	derive(&p.Log, p.Root, "log")
	derive(&p.Skills, p.Root, "skills")
	derive(&p.HostSource, p.Resources, "mcp-host")
	derive(&c.Cache.BadgerDir, p.Cache, "kv")
	return nil
}

// BusPath returns the status file shared with the host process.
func (c *Config) BusPath() string {
	return filepath.Join(c.Paths.Cache, "bus")
}
