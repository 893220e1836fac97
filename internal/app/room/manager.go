/*
Package room implements the per-room presence and game-state actor.

This file defines the Manager struct, the registry of one variant's rooms. It guarantees a
single live Room per room key, starts rooms on first use and forgets them once their Run
loop has exited.
*/
package room

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"roomsync/internal/pkg/errs"
	"roomsync/internal/pkg/logx"
)

// cleanupBuffer sizes the channel rooms use to report that they stopped.
const cleanupBuffer = 64

// ErrManagerClosed is returned after Shutdown.
var ErrManagerClosed = errors.New("room manager is shut down")

// RoomCleanupMsg is sent by a Room when its Run loop exits. Room identifies the exact
// instance, so a stale message never removes a newer room with the same key.
type RoomCleanupMsg struct {
	Key  string
	Room *Room
}

// Manager struct is responsible for coordinating and managing all active rooms of one variant.
type Manager struct {
	// rooms stores all Room instances, keyed by room key.
	rooms map[string]*Room

	// settings are applied to every room created by this manager.
	settings Settings

	// deps are shared by every room created by this manager.
	deps Deps

	// mu protects concurrent access to the rooms map.
	mu sync.RWMutex

	// closed is set by Shutdown.
	closed bool

	// the channel used by Rooms to notify the Manager to clean up and remove them.
	cleanup chan RoomCleanupMsg

	// wg is used to wait for the runCleanupLoop goroutine to finish during shutdown.
	wg sync.WaitGroup

	// structured logger with Manager context.
	logger zerolog.Logger
}

// NewManager constructs and returns a new Manager instance.
func NewManager(settings Settings, deps Deps) *Manager {
	if deps.Fallback == nil {
		deps.Fallback = logFallback(settings.Variant)
	}

	managerLogger := logx.Logger().With().
		Str("component", "Manager").
		Str("variant", string(settings.Variant)).
		Logger()

	m := &Manager{
		rooms:    make(map[string]*Room),
		settings: settings,
		deps:     deps,
		cleanup:  make(chan RoomCleanupMsg, cleanupBuffer),
		logger:   managerLogger,
	}

	m.wg.Add(1)

	go m.runCleanupLoop()

	return m
}

// logFallback is the default handler for undecodable messages: log and drop.
func logFallback(variant Variant) FallbackHandler {
	logger := logx.Component("fallback").With().Str("variant", string(variant)).Logger()

	return func(conn Conn, raw []byte, err error) {
		const maxLogged = 256
		if len(raw) > maxLogged {
			raw = raw[:maxLogged]
		}

		logger.Warn().
			Err(err).
			Str("conn_id", conn.ID()).
			Bytes("message_bytes", raw).
			Msg("Client sent malformed message, dropped.")
	}
}

// Variant returns the variant served by this manager.
func (m *Manager) Variant() Variant {
	return m.settings.Variant
}

// Settings returns the room settings of this manager.
func (m *Manager) Settings() Settings {
	return m.settings
}

// runCleanupLoop is a blocking loop that listens on the cleanup channel.
// When a RoomCleanupMsg is received, it calls deleteRoom to remove the corresponding room.
func (m *Manager) runCleanupLoop() {
	defer m.wg.Done()

	m.logger.Info().Msg("Cleanup loop started.")

	for msg := range m.cleanup {
		m.deleteRoom(msg)
	}

	m.logger.Info().Msg("Cleanup loop stopped.")
}

// deleteRoom removes the room of msg if it is still the registered instance.
func (m *Manager) deleteRoom(msg RoomCleanupMsg) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, ok := m.rooms[msg.Key]; ok && current == msg.Room {
		delete(m.rooms, msg.Key)
		m.logger.Info().Str("room_key", msg.Key).Msg("Room successfully removed.")
	}
}

// GetOrCreate returns the live Room for key, starting a new one if there is none or the
// registered one has stopped.
func (m *Manager) GetOrCreate(key string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrManagerClosed
	}

	if existing, ok := m.rooms[key]; ok {
		select {
		case <-existing.Done():
		default:
			return existing, nil
		}
	}

	newRoom := NewRoom(key, m.settings, m.deps, m.cleanup)
	m.rooms[key] = newRoom

	go newRoom.Run()

	m.logger.Info().Str("room_key", key).Msg("New Room created and started.")
	return newRoom, nil
}

// Get returns the live Room for key, or nil.
func (m *Manager) Get(key string) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[key]
	if !ok {
		return nil
	}

	select {
	case <-r.Done():
		return nil
	default:
		return r
	}
}

// Do runs fn against the live Room for key. If the room stops underneath the call (idle
// shutdown racing a request), fn is retried once against a fresh room.
func (m *Manager) Do(ctx context.Context, key string, fn func(ctx context.Context, r *Room) error) error {
	var err error

	for range 2 {
		var r *Room
		if r, err = m.GetOrCreate(key); err != nil {
			return err
		}

		if err = fn(ctx, r); !errs.HasCode(err, errs.ErrRoomClosed) {
			return err
		}
	}

	return err
}

// Len returns the number of registered rooms.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.rooms)
}

// Shutdown gracefully shuts down the Manager and all managed rooms.
// It stops all room Run loops, waits for them to exit, then stops the cleanup goroutine.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down Manager...")

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true

	rooms := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		r.Stop()
		rooms = append(rooms, r)
	}
	m.mu.Unlock()

	for _, r := range rooms {
		<-r.Done()
	}

	close(m.cleanup)
	m.wg.Wait()

	m.logger.Info().Msg("Manager shutdown complete.")
}
