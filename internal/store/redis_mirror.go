package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis key layout for the open-position mirror.
const (
	mirrorKeyPrefix = "trader:position"
	mirrorTTL       = 7 * 24 * time.Hour
)

// RedisMirror publishes open positions to Redis so external dashboards can
// read live state without touching the primary store. Every call is best
// effort; mirror failures never affect trading.
type RedisMirror struct {
	client *redis.Client
	logger zerolog.Logger
}

func NewRedisMirror(addr, password string, db int, logger zerolog.Logger) *RedisMirror {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	return &RedisMirror{
		client: client,
		logger: logger.With().Str("component", "RedisMirror").Logger(),
	}
}

// Ping verifies connectivity at startup. A failure downgrades the mirror to
// a no-op with a warning rather than aborting.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

func (m *RedisMirror) key(symbol string) string {
	return fmt.Sprintf("%s:%s", mirrorKeyPrefix, symbol)
}

// PublishPosition mirrors one position.
func (m *RedisMirror) PublishPosition(ctx context.Context, p *Position) {
	data, err := json.Marshal(p)
	if err != nil {
		m.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("Mirror marshal failed")
		return
	}
	if err := m.client.Set(ctx, m.key(p.Symbol), data, mirrorTTL).Err(); err != nil {
		m.logger.Warn().Err(err).Str("symbol", p.Symbol).Msg("Mirror publish failed")
	}
}

// RemovePosition clears the mirror entry after a close.
func (m *RedisMirror) RemovePosition(ctx context.Context, symbol string) {
	if err := m.client.Del(ctx, m.key(symbol)).Err(); err != nil {
		m.logger.Warn().Err(err).Str("symbol", symbol).Msg("Mirror delete failed")
	}
}

func (m *RedisMirror) Close() error {
	return m.client.Close()
}
