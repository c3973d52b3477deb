package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileSinkConfig configures the install log file.
type FileSinkConfig struct {
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
}

// FileSink appends notifications to a rotating log file, one line each.
type FileSink struct {
	mu     sync.Mutex
	writer io.WriteCloser
}

// NewFileSink opens the log file, creating its directory.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file sink path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		return nil, fmt.Errorf("create install log dir: %w", err)
	}
	if cfg.MaxSizeMB == 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = 3
	}
	return &FileSink{
		writer: &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		},
	}, nil
}

func (f *FileSink) write(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ts := time.Now().Format("2006-01-02 15:04:05.000")
	fmt.Fprintf(f.writer, ts+" "+format+"\n", args...)
}

func (f *FileSink) OnInstallLog(line string) { f.write("%s", line) }

func (f *FileSink) OnPortAssigned(port uint16) { f.write("port assigned: %d", port) }

func (f *FileSink) OnDownloadProgress(p Progress) {
	if pct := p.Percent(); pct >= 0 {
		f.write("%s: %d/%d bytes (%.1f%%)", p.Name, p.Downloaded, p.Total, pct)
		return
	}
	f.write("%s: %d bytes", p.Name, p.Downloaded)
}

func (f *FileSink) OnError(err error) { f.write("error: %v", err) }

// Close closes the log file.
func (f *FileSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writer.Close()
}
