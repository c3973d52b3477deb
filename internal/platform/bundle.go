package platform

import (
	"fmt"
	"path/filepath"

	"hostsupervisor/internal/config"
	"hostsupervisor/internal/provision"
)

// arch maps GOARCH to node's release naming.
var arch = map[string]string{
	"amd64": "x64",
	"arm64": "arm64",
}

// RuntimeBundles lists the archives the provisioner must keep current on
// this platform. It is empty wherever node ships with the package.
func (s Strategy) RuntimeBundles(cfg *config.Config, goarch string) []provision.Bundle {
	if !s.ProvisionRuntime || !cfg.Packaged {
		return nil
	}
	a, ok := arch[goarch]
	if !ok {
		a = goarch
	}

	v := cfg.Runtime.Version
	top := fmt.Sprintf("node-v%s-%s-%s", v, s.GOOS, a)
	archive := top + ".tar.gz"
	dir := filepath.Join(cfg.Paths.Bin, "nodejs")

	return []provision.Bundle{{
		Name:        "nodejs",
		URL:         fmt.Sprintf("%s/v%s/%s", cfg.Runtime.BaseURL, v, archive),
		Archive:     archive,
		TopDir:      top,
		InstallDir:  dir,
		Marker:      filepath.Join(dir, "bin", "node"),
		VersionArgs: []string{"-v"},
		Version:     "v" + v,
		SHA256:      cfg.Runtime.SHA256[archive],
	}}
}
