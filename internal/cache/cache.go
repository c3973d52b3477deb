// Package cache persists small values across supervisor runs, such as
// the hash of the last installed lock file.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"hostsupervisor/internal/config"
	"hostsupervisor/internal/network"
)

// Store is a string key-value store. Get reports ok=false for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// entry is the stored envelope.
type entry struct {
	Value   string    `json:"value"`
	Updated time.Time `json:"updated"`
}

func encode(value string) ([]byte, error) {
	return json.Marshal(entry{Value: value, Updated: time.Now().UTC()})
}

func decode(data []byte) (string, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return "", fmt.Errorf("decode cache entry: %w", err)
	}
	return e.Value, nil
}

// Open returns the store selected by cfg.Cache.Backend.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Cache.Backend {
	case "", "badger":
		return OpenBadger(cfg.Cache.BadgerDir)
	case "redis":
		dial := network.DialerFunc(cfg.SOCKSProxy.Host, cfg.SOCKSProxy.Port)
		return NewRedisStore(cfg.Cache.Redis, dial), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}
