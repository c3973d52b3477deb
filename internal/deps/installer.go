// Package deps installs the host's Python dependencies from its uv.lock,
// skipping the work when the lock file is unchanged since the last
// successful install.
package deps

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"hostsupervisor/internal/cache"
	"hostsupervisor/internal/config"
	"hostsupervisor/internal/logger"
	"hostsupervisor/internal/platform"
	"hostsupervisor/internal/procrun"
	"hostsupervisor/internal/sink"
)

// LockHashKey is the cache key holding the hash of the last installed lock.
const LockHashKey = "lockHash"

// FinishLine is the final install log line.
const FinishLine = "finish"

const (
	lockFile         = "uv.lock"
	requirementsFile = "requirements.txt"
)

// Installer runs the export + install pipeline.
type Installer struct {
	cfg      *config.Config
	strategy platform.Strategy
	store    cache.Store
	runner   *procrun.Runner
	sink     sink.Sink
	environ  func() []string
	hash     func(path string) (string, error)

	mu  sync.Mutex
	log []string
}

// New creates an Installer. A nil sink discards progress.
func New(cfg *config.Config, strategy platform.Strategy, store cache.Store, runner *procrun.Runner, s sink.Sink) *Installer {
	if s == nil {
		s = sink.Nop{}
	}
	return &Installer{
		cfg:      cfg,
		strategy: strategy,
		store:    store,
		runner:   runner,
		sink:     s,
		environ:  os.Environ,
		hash:     HashFile,
	}
}

// Log returns the lines accumulated during the current or last install.
func (i *Installer) Log() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.log...)
}

func (i *Installer) appendLog(line string) {
	i.mu.Lock()
	i.log = append(i.log, line)
	i.mu.Unlock()
	i.sink.OnInstallLog(line)
}

func (i *Installer) done() {
	i.mu.Lock()
	i.log = []string{FinishLine}
	i.mu.Unlock()
	i.sink.OnInstallLog(FinishLine)
}

// Install brings the deps directory in line with the host's lock file.
// Development builds and platforms that bundle their dependencies skip
// it, as does a host without a lock file.
func (i *Installer) Install(ctx context.Context) error {
	log := logger.WithComponent("dependency-installer")
	defer i.done()

	if !i.cfg.Packaged || i.strategy.BundlesDeps {
		log.Debug().Bool("packaged", i.cfg.Packaged).Str("goos", i.strategy.GOOS).Msg("Dependency install not needed")
		return nil
	}

	lock := filepath.Join(i.cfg.Paths.HostSource, lockFile)
	if _, err := os.Stat(lock); err != nil {
		log.Info().Str("path", lock).Msg("No lock file, nothing to install")
		return nil
	}

	hash, err := i.hash(lock)
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", lock, err)
	}

	depsDir := platform.DepsDir(i.cfg)
	cached, ok, err := i.store.Get(ctx, LockHashKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read cached lock hash")
	}
	if ok && cached == hash && dirExists(depsDir) {
		log.Info().Str("hash", hash).Msg("Dependencies up to date")
		return nil
	}

	if err := os.MkdirAll(depsDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", depsDir, err)
	}

	start := time.Now()
	log.Info().Str("hash", hash).Str("cached", cached).Msg("Installing dependencies")

	uv := i.strategy.UV(i.cfg.Paths.Resources)
	req := filepath.Join(i.cfg.Paths.Cache, requirementsFile)

	if err := i.stage(ctx, "export", procrun.Command{
		Path:    uv,
		Args:    []string{"export", "-o", req},
		Dir:     i.cfg.Paths.HostSource,
		Stdio:   procrun.StdioIgnore,
		Timeout: i.cfg.Timeouts.Stage,
	}); err != nil {
		return err
	}

	env := platform.MergeEnv(i.environ(), map[string]string{
		"PYTHONPATH": "",
		"PYTHONHOME": "",
	})
	if err := i.stage(ctx, "install", procrun.Command{
		Path: uv,
		Args: []string{
			"pip", "install",
			"-r", req,
			"--target", depsDir,
			"--python", i.strategy.Python(i.cfg.Paths.Resources),
		},
		Dir:     i.cfg.Paths.HostSource,
		Env:     env,
		Stdio:   procrun.StdioPipe,
		Timeout: i.cfg.Timeouts.Install,
		OnLine: procrun.Tee(procrun.LogLines("dependency-installer"), func(_ procrun.Stream, line string) {
			i.appendLog(strings.TrimRight(line, "\r"))
		}),
	}); err != nil {
		return err
	}

	if err := i.store.Set(ctx, LockHashKey, hash); err != nil {
		log.Warn().Err(err).Msg("Failed to persist lock hash")
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("Dependencies installed")
	return nil
}

func (i *Installer) stage(ctx context.Context, name string, c procrun.Command) error {
	log := logger.WithComponent("dependency-installer")

	code, err := i.runner.Run(ctx, c)
	if err != nil {
		var timeout *procrun.TimeoutError
		if errors.As(err, &timeout) {
			log.Error().Str("stage", name).Dur("after", timeout.After).Msg("Install stage timed out")
		} else {
			log.Error().Err(err).Str("stage", name).Msg("Install stage failed")
		}
		return &InstallError{Stage: name, Code: -1, Err: err}
	}
	if code != 0 {
		log.Error().Str("stage", name).Int("code", code).Msg("Install stage exited with error")
		return &InstallError{Stage: name, Code: code}
	}
	return nil
}

// HashFile returns the hex md5 of the file at path, read as a stream.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
