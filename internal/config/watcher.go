package config

import (
	"github.com/fsnotify/fsnotify"

	"hostsupervisor/internal/logger"
	"hostsupervisor/internal/watch"
)

// NewLoggingWatcher creates a watcher that reloads logger.Config when
// Logging.json changes. Parse failures keep the running configuration.
func NewLoggingWatcher(path string, callback func(*logger.Config)) (*watch.FileWatcher, error) {
	return watch.New(path, watch.Default, func(event fsnotify.Event) {
		log := logger.WithComponent("logging-watcher")
		lc, err := LoadLogging(path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload logging configuration")
			return
		}
		log.Info().Str("event", event.Op.String()).Msg("Logging configuration reloaded")
		if callback != nil {
			callback(lc)
		}
	})
}
