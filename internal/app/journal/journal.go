/*
Package journal keeps an append-only log of presence lifecycle transitions in PostgreSQL.

Rooms hand events to Record, which never blocks: events go through a bounded channel to a
single writer goroutine that inserts them in batches with COPY. When the channel is full the
event is dropped and counted. The journal is an audit trail only; it is never read back to
restore room state.
*/
package journal

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"roomsync/internal/pkg/logx"
)

// Kind names a lifecycle transition.
type Kind string

const (
	KindJoined       Kind = "joined"
	KindRefreshed    Kind = "refreshed"
	KindLeft         Kind = "left"
	KindReconnecting Kind = "reconnecting"
	KindReconnected  Kind = "reconnected"
	KindExpired      Kind = "expired"
	KindTimedOut     Kind = "timed_out"
	KindReplaced     Kind = "replaced"
)

const (
	// DefaultBufferSize is the capacity of the event channel.
	DefaultBufferSize = 1024

	// maxBatch caps the rows written by one COPY.
	maxBatch = 128

	// flushEvery bounds how long an event waits in a partial batch.
	flushEvery = 500 * time.Millisecond

	writeTimeout = 5 * time.Second

	// MaxHistoryLimit caps Recent.
	MaxHistoryLimit = 500
)

var columns = []string{"variant", "room_key", "user_id", "username", "kind", "occurred_at"}

// Event is one recorded transition.
type Event struct {
	Variant  string    `json:"variant"`
	Room     string    `json:"room"`
	UserID   string    `json:"userId"`
	Username string    `json:"username,omitempty"`
	Kind     Kind      `json:"kind"`
	At       time.Time `json:"at"`
}

// Journal is the asynchronous event writer.
type Journal struct {
	pool *pgxpool.Pool

	// events feeds the writer goroutine.
	events chan Event

	// insert writes one batch; it is replaced in tests.
	insert func(ctx context.Context, batch []Event) error

	dropped atomic.Int64

	closeOnce sync.Once
	wg        sync.WaitGroup

	logger zerolog.Logger
}

// New creates a journal writing to pool. Start must be called before events are persisted.
func New(pool *pgxpool.Pool, bufferSize int) *Journal {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	j := &Journal{
		pool:   pool,
		events: make(chan Event, bufferSize),
		logger: logx.Component("journal"),
	}
	j.insert = j.copyEvents

	return j
}

// Start launches the writer goroutine.
func (j *Journal) Start() {
	j.wg.Add(1)
	go j.run()
}

// Record queues ev without blocking. It reports false when the event was dropped.
func (j *Journal) Record(ev Event) bool {
	select {
	case j.events <- ev:
		return true
	default:
		if n := j.dropped.Add(1); n == 1 || n%100 == 0 {
			j.logger.Warn().Int64("dropped_total", n).Msg("Journal buffer full, dropping event.")
		}
		return false
	}
}

// Dropped returns the number of events discarded because the buffer was full.
func (j *Journal) Dropped() int64 {
	return j.dropped.Load()
}

// Close stops accepting events, flushes what is queued and waits for the writer.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		close(j.events)
	})
	j.wg.Wait()
}

func (j *Journal) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	batch := make([]Event, 0, maxBatch)

	for {
		select {
		case ev, ok := <-j.events:
			if !ok {
				j.write(batch)
				j.logger.Info().Msg("Journal writer stopped.")
				return
			}

			batch = append(batch, ev)
			if len(batch) >= maxBatch {
				j.write(batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				j.write(batch)
				batch = batch[:0]
			}
		}
	}
}

func (j *Journal) write(batch []Event) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := j.insert(ctx, batch); err != nil {
		j.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to write journal batch.")
	}
}

func (j *Journal) copyEvents(ctx context.Context, batch []Event) error {
	_, err := j.pool.CopyFrom(ctx, pgx.Identifier{"presence_events"}, columns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			ev := batch[i]
			return []any{ev.Variant, ev.Room, ev.UserID, ev.Username, string(ev.Kind), ev.At}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy presence events: %w", err)
	}

	return nil
}

// Recent returns up to limit events of one room, newest first.
func (j *Journal) Recent(ctx context.Context, variant, room string, limit int) ([]Event, error) {
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	rows, err := j.pool.Query(ctx, `
		SELECT variant, room_key, user_id, username, kind, occurred_at
		FROM presence_events
		WHERE variant = $1 AND room_key = $2
		ORDER BY occurred_at DESC, id DESC
		LIMIT $3
	`, variant, room, limit)
	if err != nil {
		return nil, fmt.Errorf("query presence events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Event, error) {
		var ev Event
		var kind string
		err := row.Scan(&ev.Variant, &ev.Room, &ev.UserID, &ev.Username, &kind, &ev.At)
		ev.Kind = Kind(kind)
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan presence events: %w", err)
	}

	return events, nil
}
