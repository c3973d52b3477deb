// Package provision keeps versioned runtime bundles installed: it probes
// the installed version, and when it differs downloads, verifies,
// extracts, and moves the archive into place.
package provision

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"hostsupervisor/internal/logger"
	"hostsupervisor/internal/procrun"
	"hostsupervisor/internal/sink"
)

// Bundle describes one downloadable archive.
type Bundle struct {
	Name        string
	URL         string
	Archive     string // file name of the download
	TopDir      string // directory the archive unpacks into
	InstallDir  string
	Marker      string   // binary whose version output identifies the install
	VersionArgs []string // e.g. ["-v"]
	Version     string   // expected first line of the marker's output
	SHA256      string   // optional hex digest of the archive
}

// Provisioner installs bundles. It is safe for concurrent use on
// distinct bundles.
type Provisioner struct {
	runner       *procrun.Runner
	client       *http.Client
	sink         sink.Sink
	clock        clock.Clock
	probeTimeout time.Duration
	stageTimeout time.Duration
}

// Option configures a Provisioner.
type Option func(*Provisioner)

// WithClock replaces the clock used for throughput reporting.
func WithClock(c clock.Clock) Option { return func(p *Provisioner) { p.clock = c } }

// WithTimeouts sets the version probe and extraction deadlines.
func WithTimeouts(probe, stage time.Duration) Option {
	return func(p *Provisioner) {
		p.probeTimeout = probe
		p.stageTimeout = stage
	}
}

// New creates a Provisioner. A nil client uses http.DefaultClient and a
// nil sink discards progress.
func New(runner *procrun.Runner, client *http.Client, s sink.Sink, opts ...Option) *Provisioner {
	if client == nil {
		client = http.DefaultClient
	}
	if s == nil {
		s = sink.Nop{}
	}
	p := &Provisioner{
		runner:       runner,
		client:       client,
		sink:         s,
		clock:        clock.New(),
		probeTimeout: 10 * time.Second,
		stageTimeout: 5 * time.Minute,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// EnsureAll provisions every bundle concurrently and returns the first
// error. An empty list is a no-op.
func (p *Provisioner) EnsureAll(ctx context.Context, bundles []Bundle) error {
	var g errgroup.Group
	g.SetLimit(2)
	for _, b := range bundles {
		g.Go(func() error {
			_, err := p.Ensure(ctx, b)
			return err
		})
	}
	return g.Wait()
}

// Ensure makes sure b is installed at the expected version and returns
// its install directory.
func (p *Provisioner) Ensure(ctx context.Context, b Bundle) (string, error) {
	if !p.NeedsFetch(ctx, b) {
		return b.InstallDir, nil
	}
	if err := p.fetch(ctx, b); err != nil {
		p.emit(fmt.Sprintf("Failed to download %s: %v", b.Name, err))
		return "", err
	}
	return b.InstallDir, nil
}

// NeedsFetch reports whether the marker binary is missing or reports a
// different version. A failed probe counts as needing a fetch.
func (p *Provisioner) NeedsFetch(ctx context.Context, b Bundle) bool {
	log := logger.WithComponent("provisioner")

	if _, err := os.Stat(b.Marker); err != nil {
		return true
	}

	var first string
	code, err := p.runner.Run(ctx, procrun.Command{
		Path:    b.Marker,
		Args:    b.VersionArgs,
		Stdio:   procrun.StdioPipe,
		Timeout: p.probeTimeout,
		OnLine: func(stream procrun.Stream, line string) {
			if stream == procrun.Stdout && first == "" {
				first = strings.TrimSpace(line)
			}
		},
	})
	if err != nil || code != 0 {
		log.Warn().Err(err).Int("code", code).Str("bundle", b.Name).Msg("Version probe failed")
		return true
	}
	if first != b.Version {
		log.Info().Str("bundle", b.Name).Str("have", first).Str("want", b.Version).Msg("Version mismatch")
		return true
	}
	return false
}

func (p *Provisioner) emit(line string) {
	log := logger.WithComponent("provisioner")
	log.Info().Msg(line)
	p.sink.OnInstallLog(line)
}

func (p *Provisioner) fetch(ctx context.Context, b Bundle) error {
	staging := b.InstallDir + "_tmp"
	if err := os.RemoveAll(staging); err != nil {
		return &ProvisionError{Bundle: b.Name, Op: "download", Err: err}
	}
	if err := os.MkdirAll(staging, 0755); err != nil {
		return &ProvisionError{Bundle: b.Name, Op: "download", Err: err}
	}
	defer os.RemoveAll(staging)

	archive := filepath.Join(staging, b.Archive)
	p.emit(fmt.Sprintf("downloading %s from %s", b.Name, b.URL))
	if err := p.download(ctx, b, archive); err != nil {
		return err
	}

	p.emit(fmt.Sprintf("extracting %s to %s", b.Name, staging))
	code, err := p.runner.Run(ctx, procrun.Command{
		Path:    "tar",
		Args:    []string{"-xzf", archive, "-C", staging},
		Dir:     staging,
		Stdio:   procrun.StdioPipe,
		Timeout: p.stageTimeout,
		OnLine:  func(_ procrun.Stream, line string) { p.sink.OnInstallLog(line) },
	})
	if err != nil {
		return &ProvisionError{Bundle: b.Name, Op: "extract", Err: err}
	}
	if code != 0 {
		return &ProvisionError{Bundle: b.Name, Op: "extract", Err: fmt.Errorf("tar exited with code %d", code)}
	}

	if err := moveContents(filepath.Join(staging, b.TopDir), b.InstallDir); err != nil {
		return &ProvisionError{Bundle: b.Name, Op: "install", Err: err}
	}

	p.emit(fmt.Sprintf("download %s done", b.Name))
	return nil
}

func (p *Provisioner) download(ctx context.Context, b Bundle, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.URL, nil)
	if err != nil {
		return &ProvisionError{Bundle: b.Name, Op: "download", Err: err}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &ProvisionError{Bundle: b.Name, Op: "download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &ProvisionError{Bundle: b.Name, Op: "download", Err: &DownloadError{
			URL:        b.URL,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		}}
	}

	f, err := os.Create(dst)
	if err != nil {
		return &ProvisionError{Bundle: b.Name, Op: "download", Err: err}
	}

	sum := sha256.New()
	pw := &progressWriter{
		name:  b.Name,
		total: resp.ContentLength,
		sink:  p.sink,
		clock: p.clock,
		start: p.clock.Now(),
	}
	bw := bufio.NewWriterSize(f, 256*1024)
	_, err = io.Copy(io.MultiWriter(bw, sum, pw), resp.Body)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &ProvisionError{Bundle: b.Name, Op: "download", Err: err}
	}
	pw.report()

	return verify(b, sum)
}

func verify(b Bundle, sum hash.Hash) error {
	if b.SHA256 == "" {
		return nil
	}
	got := hex.EncodeToString(sum.Sum(nil))
	if !strings.EqualFold(got, b.SHA256) {
		return &ProvisionError{Bundle: b.Name, Op: "verify", Err: fmt.Errorf("sha256 mismatch: got %s, want %s", got, b.SHA256)}
	}
	return nil
}

// moveContents moves every entry of src into dst, replacing what is there.
func moveContents(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if err := os.RemoveAll(to); err != nil {
			return err
		}
		if err := os.Rename(from, to); err != nil {
			return err
		}
	}
	return nil
}

// progressReportEvery is the byte interval between progress samples.
const progressReportEvery = 1 << 20

type progressWriter struct {
	name     string
	total    int64
	sink     sink.Sink
	clock    clock.Clock
	start    time.Time
	written  int64
	reported int64
}

func (w *progressWriter) Write(b []byte) (int, error) {
	w.written += int64(len(b))
	if w.written-w.reported >= progressReportEvery {
		w.report()
	}
	return len(b), nil
}

func (w *progressWriter) report() {
	w.reported = w.written
	var rate float64
	if elapsed := w.clock.Since(w.start).Seconds(); elapsed > 0 {
		rate = float64(w.written) / elapsed
	}
	sink.ReportProgress(w.sink, sink.Progress{
		Name:        w.name,
		Downloaded:  w.written,
		Total:       w.total,
		BytesPerSec: rate,
	})
}
