// Package workspace materializes the host's configuration directory. Every
// step is create-if-missing, so running it on each launch is harmless.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"hostsupervisor/internal/config"
	"hostsupervisor/internal/logger"
	"hostsupervisor/internal/platform"
)

// MCPConfigFile lists the MCP servers the host starts.
const MCPConfigFile = "mcp_config.json"

// Workspace owns the config directory layout.
type Workspace struct {
	cfg      *config.Config
	strategy platform.Strategy
}

// New creates a workspace for cfg.Paths.Config.
func New(cfg *config.Config, strategy platform.Strategy) *Workspace {
	return &Workspace{cfg: cfg, strategy: strategy}
}

// Dir returns the config directory.
func (w *Workspace) Dir() string { return w.cfg.Paths.Config }

type file struct {
	name    string
	content func() ([]byte, error)
}

func jsonContent(v any) func() ([]byte, error) {
	return func() ([]byte, error) {
		return json.MarshalIndent(v, "", "  ")
	}
}

func (w *Workspace) files() []file {
	dir := w.Dir()
	sqlite := "sqlite:///" + filepath.ToSlash(filepath.Join(dir, "db.sqlite"))
	return []file{
		{MCPConfigFile, jsonContent(map[string]any{"mcpServers": map[string]any{}})},
		{"customrules", func() ([]byte, error) { return nil, nil }},
		{"model_config.json", jsonContent(map[string]any{
			"activeProvider": "",
			"enableTools":    true,
			"configs":        map[string]any{},
		})},
		{"dive_httpd.json", jsonContent(map[string]any{
			"db":           map[string]any{"uri": sqlite, "migrate": true},
			"checkpointer": map[string]any{"uri": sqlite},
		})},
		{"plugin_config.json", jsonContent(map[string]any{})},
		{"command_alias.json", jsonContent(w.strategy.CommandAliases(w.cfg.Paths.Resources, w.cfg.Packaged))},
	}
}

// Init creates the config directory and every missing file, then makes
// sure the default MCP server is registered. It returns the files it
// created. Errors for individual files do not stop the others.
func (w *Workspace) Init() ([]string, error) {
	log := logger.WithComponent("workspace")

	if err := os.MkdirAll(w.Dir(), 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	var created []string
	var errs []error
	for _, f := range w.files() {
		path := filepath.Join(w.Dir(), f.name)
		ok, err := createIfMissing(path, f.content)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			continue
		}
		if ok {
			log.Info().Str("path", path).Msg("Created file")
			created = append(created, path)
		}
	}

	if err := w.ensureDefaultServer(); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", MCPConfigFile, err))
	}
	return created, errors.Join(errs...)
}

func createIfMissing(path string, content func() ([]byte, error)) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	data, err := content()
	if err != nil {
		return false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, err
	}
	return true, os.WriteFile(path, data, 0644)
}

// ensureDefaultServer adds the bundled MCP server to mcp_config.json when
// its binary exists and no entry of that name is present. A config without
// an "mcpServers" object is left alone.
func (w *Workspace) ensureDefaultServer() error {
	log := logger.WithComponent("workspace")
	name, bin := w.cfg.Host.DefaultServer, w.cfg.Host.DefaultBin
	if name == "" || bin == "" {
		return nil
	}
	if _, err := os.Stat(bin); err != nil {
		log.Warn().Str("path", bin).Msg("Default MCP server not found")
		return nil
	}

	path := filepath.Join(w.Dir(), MCPConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	servers, ok := doc["mcpServers"].(map[string]any)
	if !ok {
		return nil
	}
	if _, exists := servers[name]; exists {
		return nil
	}

	servers[name] = map[string]any{
		"transport": "stdio",
		"enabled":   true,
		"command":   bin,
	}
	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return err
	}
	log.Info().Str("server", name).Msg("Registered default MCP server")
	return nil
}
