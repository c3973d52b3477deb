package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"

	"hostsupervisor/internal/logger"
)

// rawConfig is used for JSON unmarshaling with duration strings.
type rawConfig struct {
	Paths      PathsConfig       `json:"Paths"`
	Packaged   bool              `json:"Packaged"`
	Runtime    RuntimeConfig     `json:"Runtime"`
	Host       HostConfig        `json:"Host"`
	Timeouts   rawTimeoutsConfig `json:"Timeouts"`
	Cache      CacheConfig       `json:"Cache"`
	SOCKSProxy SOCKSConfig       `json:"SocksProxy"`
}

type rawTimeoutsConfig struct {
	Stage        string `json:"Stage"`
	Install      string `json:"Install"`
	Probe        string `json:"Probe"`
	Settle       string `json:"Settle"`
	Grace        string `json:"Grace"`
	ReadyWarning string `json:"ReadyWarning"`
}

type rawLoggingConfig struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	Format     string `json:"Format"`
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
}

// Load reads configuration from the specified file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from JSON bytes.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	timeouts, err := convertRawTimeouts(&raw.Timeouts)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	cfg.Merge(&Config{
		Paths:      raw.Paths,
		Packaged:   raw.Packaged,
		Runtime:    raw.Runtime,
		Host:       raw.Host,
		Timeouts:   *timeouts,
		Cache:      raw.Cache,
		SOCKSProxy: raw.SOCKSProxy,
	})
	return cfg, nil
}

func convertRawTimeouts(raw *rawTimeoutsConfig) (*TimeoutsConfig, error) {
	out := &TimeoutsConfig{}
	fields := []struct {
		name string
		src  string
		dst  *time.Duration
	}{
		{"Stage", raw.Stage, &out.Stage},
		{"Install", raw.Install, &out.Install},
		{"Probe", raw.Probe, &out.Probe},
		{"Settle", raw.Settle, &out.Settle},
		{"Grace", raw.Grace, &out.Grace},
		{"ReadyWarning", raw.ReadyWarning, &out.ReadyWarning},
	}
	for _, f := range fields {
		if f.src == "" {
			continue
		}
		d, err := time.ParseDuration(f.src)
		if err != nil {
			return nil, fmt.Errorf("invalid %s duration: %w", f.name, err)
		}
		if d < 0 {
			return nil, fmt.Errorf("invalid %s duration: %s is negative", f.name, f.src)
		}
		*f.dst = d
	}
	return out, nil
}

// LoadLogging reads logging configuration from the specified file path.
func LoadLogging(path string) (*logger.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logging config file: %w", err)
	}
	return ParseLogging(data)
}

// ParseLogging parses logging configuration from JSON bytes.
func ParseLogging(data []byte) (*logger.Config, error) {
	var raw rawLoggingConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse logging config JSON: %w", err)
	}

	def := logger.DefaultConfig()
	if raw.Level != "" {
		def.Level = raw.Level
	}
	if raw.FilePath != "" {
		def.FilePath = raw.FilePath
	}
	if raw.Format != "" {
		def.Format = raw.Format
	}
	if raw.MaxSizeMB != 0 {
		def.MaxSizeMB = raw.MaxSizeMB
	}
	if raw.MaxBackups != 0 {
		def.MaxBackups = raw.MaxBackups
	}
	if raw.MaxAgeDays != 0 {
		def.MaxAgeDays = raw.MaxAgeDays
	}
	def.Compress = raw.Compress
	def.Console = raw.Console

	return &def, nil
}

// LoadSplit loads Supervisor.json and Logging.json. A missing supervisor
// file yields the defaults; a missing logging file yields logger defaults.
func LoadSplit(configPath, loggingPath string) (*Config, *logger.Config, error) {
	cfg := DefaultConfig()
	if _, err := os.Stat(configPath); err == nil {
		if cfg, err = Load(configPath); err != nil {
			return nil, nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	def := logger.DefaultConfig()
	lc := &def
	if _, err := os.Stat(loggingPath); err == nil {
		if lc, err = LoadLogging(loggingPath); err != nil {
			return nil, nil, fmt.Errorf("failed to load logging config: %w", err)
		}
	}

	return cfg, lc, nil
}
