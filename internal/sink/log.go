package sink

import (
	"strings"

	"github.com/rs/zerolog"

	"hostsupervisor/internal/logger"
)

// LogSink writes notifications to the structured log.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink logs under the given component.
func NewLogSink(component string) *LogSink {
	return &LogSink{log: logger.WithComponent(component)}
}

func (l *LogSink) OnInstallLog(line string) {
	// uv reports failures on lines starting with "error:"
	if strings.HasPrefix(strings.TrimSpace(line), "error:") {
		l.log.Error().Msg(line)
		return
	}
	l.log.Info().Msg(line)
}

func (l *LogSink) OnPortAssigned(port uint16) {
	l.log.Info().Uint16("port", port).Msg("Host port assigned")
}

func (l *LogSink) OnDownloadProgress(p Progress) {
	l.log.Debug().
		Str("name", p.Name).
		Int64("downloaded", p.Downloaded).
		Int64("total", p.Total).
		Float64("bytes_per_sec", p.BytesPerSec).
		Msg("Download progress")
}

func (l *LogSink) OnError(err error) {
	l.log.Error().Err(err).Msg("Supervisor error")
}
