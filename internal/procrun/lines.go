package procrun

import (
	"strings"

	"github.com/rs/zerolog"

	"hostsupervisor/internal/logger"
)

// LogLines logs child output under component: stdout at info, stderr by
// its level prefix.
func LogLines(component string) LineFunc {
	log := logger.WithComponent(component)
	return func(stream Stream, line string) {
		level := zerolog.InfoLevel
		if stream == Stderr {
			level = logger.LineLevel(line)
		}
		log.WithLevel(level).Str("stream", stream.String()).Msg(strings.TrimRight(line, "\r"))
	}
}

// Tee calls every non-nil fn in order.
func Tee(fns ...LineFunc) LineFunc {
	return func(stream Stream, line string) {
		for _, fn := range fns {
			if fn != nil {
				fn(stream, line)
			}
		}
	}
}
