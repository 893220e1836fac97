/*
Package mirror copies room snapshots to Redis for read-only consumers outside the process.

Each flushed snapshot is published on the channel "roomsync:{variant}:{room}" and stored
under the same key with a TTL. Publishing is latest-wins per room: a room that flushes
faster than Redis accepts writes only has its newest snapshot sent.
*/
package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"roomsync/internal/pkg/logx"
)

const (
	keyPrefix    = "roomsync"
	writeTimeout = 2 * time.Second
)

// Key returns the channel and key name of a room.
func Key(variant, room string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, variant, room)
}

// Mirror is the asynchronous snapshot publisher.
type Mirror struct {
	rdb *redis.Client
	ttl time.Duration

	mu      sync.Mutex
	pending map[string][]byte

	// wake has room for one signal; the worker drains everything pending per wake-up.
	wake chan struct{}

	// write sends one snapshot; it is replaced in tests.
	write func(ctx context.Context, key string, snapshot []byte) error

	logger zerolog.Logger
}

// Connect opens a Redis client and verifies connectivity.
func Connect(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	return rdb, nil
}

// New creates a mirror that keeps snapshots for ttl.
func New(rdb *redis.Client, ttl time.Duration) *Mirror {
	m := &Mirror{
		rdb:     rdb,
		ttl:     ttl,
		pending: make(map[string][]byte),
		wake:    make(chan struct{}, 1),
		logger:  logx.Component("mirror"),
	}
	m.write = m.publish

	return m
}

// Publish queues snapshot for room, replacing any snapshot of that room not yet sent.
func (m *Mirror) Publish(variant, room string, snapshot []byte) {
	m.mu.Lock()
	m.pending[Key(variant, room)] = snapshot
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run sends queued snapshots until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) {
	m.logger.Info().Dur("ttl", m.ttl).Msg("Mirror worker started.")

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Mirror worker stopped.")
			return
		case <-m.wake:
			m.drain(ctx)
		}
	}
}

func (m *Mirror) drain(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string][]byte, len(batch))
	m.mu.Unlock()

	for key, snapshot := range batch {
		writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := m.write(writeCtx, key, snapshot)
		cancel()

		if err != nil {
			m.logger.Warn().Err(err).Str("key", key).Msg("Failed to mirror snapshot.")
		}
	}
}

func (m *Mirror) publish(ctx context.Context, key string, snapshot []byte) error {
	pipe := m.rdb.Pipeline()
	pipe.Set(ctx, key, snapshot, m.ttl)
	pipe.Publish(ctx, key, snapshot)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

// Close releases the Redis client.
func (m *Mirror) Close() error {
	return m.rdb.Close()
}
