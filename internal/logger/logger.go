// Package logger provides structured logging with file rotation support.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// asyncWriter hands writes to a background goroutine so a stalled console
// (a paused terminal, a full pipe) never blocks the supervisor. Writes that
// do not fit in the queue are dropped.
type asyncWriter struct {
	queue  chan []byte
	out    io.Writer
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

func newAsyncWriter(out io.Writer, depth int) *asyncWriter {
	aw := &asyncWriter{
		queue: make(chan []byte, depth),
		out:   out,
		done:  make(chan struct{}),
	}
	go aw.run()
	return aw
}

func (aw *asyncWriter) Write(p []byte) (int, error) {
	aw.mu.RLock()
	defer aw.mu.RUnlock()
	if aw.closed {
		return len(p), nil
	}
	buf := append([]byte(nil), p...)
	select {
	case aw.queue <- buf:
	default:
	}
	return len(p), nil
}

func (aw *asyncWriter) run() {
	defer close(aw.done)
	for p := range aw.queue {
		_, _ = aw.out.Write(p)
	}
}

// Close stops accepting writes and flushes what is already queued.
func (aw *asyncWriter) Close() error {
	aw.once.Do(func() {
		aw.mu.Lock()
		aw.closed = true
		close(aw.queue)
		aw.mu.Unlock()
		<-aw.done
	})
	return nil
}

// Config holds the logger configuration.
type Config struct {
	Level      string `json:"Level"`
	FilePath   string `json:"FilePath"`
	Format     string `json:"Format"` // "json" (default) or "fixed"
	MaxSizeMB  int    `json:"MaxSizeMB"`
	MaxBackups int    `json:"MaxBackups"`
	MaxAgeDays int    `json:"MaxAgeDays"`
	Compress   bool   `json:"Compress"`
	Console    bool   `json:"Console"`
}

// DefaultConfig returns sensible defaults for logging.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		FilePath:   "log/supervisor/supervisor.log",
		Format:     "json",
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
		Console:    true,
	}
}

var (
	mu      sync.RWMutex
	global  = zerolog.New(os.Stderr).With().Timestamp().Logger()
	closers []io.Closer
	quiet   bool
)

// SetServiceMode suppresses console output when no terminal is attached.
func SetServiceMode(on bool) {
	mu.Lock()
	defer mu.Unlock()
	quiet = on
}

// Init (re)initializes the global logger. Writers opened by a previous call
// are closed so Init can be used for hot reload.
func Init(cfg Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	mu.Lock()
	defer mu.Unlock()

	for _, c := range closers {
		_ = c.Close()
	}
	closers = nil

	var writers []io.Writer

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			return err
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		closers = append(closers, rotator)
		if strings.EqualFold(cfg.Format, "fixed") {
			writers = append(writers, NewFixedFormatWriter(rotator))
		} else {
			writers = append(writers, rotator)
		}
	}

	if cfg.Console && !quiet {
		console := newAsyncWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}, 1000)
		closers = append(closers, console)
		writers = append(writers, console)
	}

	var out io.Writer
	switch len(writers) {
	case 0:
		out = io.Discard
		if !quiet {
			out = os.Stdout
		}
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}

	global = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// Close releases the file and console writers.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, c := range closers {
		_ = c.Close()
	}
	closers = nil
	global = zerolog.New(io.Discard)
}

// Logger returns a copy of the global logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// WithComponent returns a logger tagged with the component field.
func WithComponent(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return global.With().Str("component", component).Logger()
}

// LineLevel classifies a line written by the supervised host on stderr.
// Python logging prefixes lines with the level name.
func LineLevel(line string) zerolog.Level {
	switch {
	case strings.HasPrefix(line, "INFO"), strings.HasPrefix(line, "DEBUG"):
		return zerolog.InfoLevel
	case strings.HasPrefix(line, "WARNING"):
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
