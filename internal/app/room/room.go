/*
Package room implements the per-room presence and game-state actor.

This file defines the Room struct, the single owner of one room's state. Every input is an
event on one channel: join, leave and snapshot calls from HTTP handlers, connection
open/message/close notifications from WebSocket clients, and the sweep and flush timers.
The Run loop handles them one at a time, so the presence store, grace register and
binding table are never locked.
*/
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/journal"
	"roomsync/internal/app/user"
	"roomsync/internal/pkg/errs"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/metrics"
	"roomsync/internal/pkg/randx"
	"roomsync/internal/pkg/req"
)

const (
	eventBufferSize = 256

	// WsCloseCodeSessionKicked tells a client its user was replaced by a newer tab of the
	// same session.
	WsCloseCodeSessionKicked = 4001

	// WsCloseCodeRoomFull tells a client the room is at capacity.
	WsCloseCodeRoomFull = 4002
)

// Conn is an open client connection as seen by the room. Send must not block; a Send
// error is treated as the connection closing.
type Conn interface {
	ID() string
	Send(msg []byte) error
	Close(code int, reason string)
}

// Journal receives lifecycle transitions. Record must not block.
type Journal interface {
	Record(ev journal.Event) bool
}

// Mirror receives every flushed snapshot. Publish must not block.
type Mirror interface {
	Publish(variant, room string, snapshot []byte)
}

// FallbackHandler receives inbound messages the room could not decode or does not know.
type FallbackHandler func(conn Conn, raw []byte, err error)

// Deps are the collaborators shared by all rooms of a Manager. Journal, Mirror and
// Fallback are optional.
type Deps struct {
	Names    *identity.Allocator
	Journal  Journal
	Mirror   Mirror
	Fallback FallbackHandler
}

// JoinRequest is the input of Join. Both fields are optional.
type JoinRequest struct {
	UserID   string
	Username string
}

// JoinResult describes the user after a join.
type JoinResult struct {
	UserID      string
	Username    string
	CursorColor string

	// Refreshed is true when the user was already present.
	Refreshed bool
}

type (
	joinCall struct {
		req   JoinRequest
		reply chan joinReply
	}
	joinReply struct {
		res JoinResult
		err error
	}
	leaveCall struct {
		userID string
		reply  chan bool
	}
	snapshotCall struct {
		reply chan []user.User
	}
	connOpened struct {
		conn Conn
	}
	connMessage struct {
		conn Conn
		raw  []byte
	}
	connClosed struct {
		conn Conn
	}
	sweepTick struct{}
	flushTick struct{}
)

// Room struct represents one active room.
type Room struct {
	// Key is the room key, unique within the room's variant.
	Key string

	settings Settings

	state   *state
	sched   *scheduler
	palette *identity.Palette

	names    *identity.Allocator
	journal  Journal
	mirror   Mirror
	fallback FallbackHandler

	// events is the single inbound stream of the actor.
	events chan any

	// done is closed when the Run loop has exited.
	done chan struct{}

	// closing stops post and submit from queueing; intake is held for read while an event
	// is being queued so shutdown can wait for senders before draining.
	closing chan struct{}
	intake  sync.RWMutex

	// used to signal the Room to stop its Run loop immediately.
	stopChan chan struct{}
	stopOnce sync.Once

	// a write-only channel used to notify the Manager to clean up this room.
	cleanupChan chan<- RoomCleanupMsg

	// now and afterFunc are the actor's clock; tests replace them.
	now       func() time.Time
	afterFunc func(d time.Duration, f func())

	// idleSince is when the room last became empty; zero while it has users or connections.
	idleSince time.Time

	// stopping is set by the sweep when the idle timeout elapsed.
	stopping bool

	// connections mirrors the number of open connections for lock-free capacity checks.
	connections atomic.Int32

	// structured logger with room context.
	logger zerolog.Logger
}

// NewRoom creates and initializes a new Room instance. Call Run to start it.
func NewRoom(key string, settings Settings, deps Deps, cleanupChan chan<- RoomCleanupMsg) *Room {
	roomLogger := logx.Logger().With().
		Str("variant", string(settings.Variant)).
		Str("room_key", key).
		Logger()

	names := deps.Names
	if names == nil {
		names = identity.NewAllocator(identity.DefaultMemoSize, identity.DefaultMemoTTL)
	}

	r := &Room{
		Key:         key,
		settings:    settings,
		state:       newState(),
		sched:       newScheduler(settings.BroadcastMinInterval, settings.BroadcastBatchDelay),
		palette:     identity.NewPalette(settings.PaletteSize),
		names:       names,
		journal:     deps.Journal,
		mirror:      deps.Mirror,
		fallback:    deps.Fallback,
		events:      make(chan any, eventBufferSize),
		done:        make(chan struct{}),
		closing:     make(chan struct{}),
		stopChan:    make(chan struct{}),
		cleanupChan: cleanupChan,
		now:         time.Now,
		logger:      roomLogger,
	}

	r.afterFunc = func(d time.Duration, f func()) {
		time.AfterFunc(d, f)
	}

	return r
}

// Stop sends a signal to immediately terminate the Room's Run loop.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info().Msg("Received stop signal. Stopping room immediately.")
		close(r.stopChan)
	})
}

// Done is closed once the room has stopped.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// IsFull reports whether the room holds MaxConnections open connections. It is a hint for
// rejecting upgrades early; the room loop makes the authoritative decision.
func (r *Room) IsFull() bool {
	return int(r.connections.Load()) >= r.settings.MaxConnections
}

// Run starts the main event loop for the Room. It returns when the room is stopped or has
// been idle for the configured timeout.
func (r *Room) Run() {
	variant := string(r.settings.Variant)
	metrics.RoomsActive.WithLabelValues(variant).Inc()

	sweepTicker := time.NewTicker(r.settings.SweepInterval)

	defer func() {
		sweepTicker.Stop()
		metrics.RoomsActive.WithLabelValues(variant).Dec()
		r.shutdown()
	}()

	r.logger.Info().Int("max_connections", r.settings.MaxConnections).Msg("Room started.")

	for {
		select {
		case ev := <-r.events:
			r.handle(ev)

		case <-sweepTicker.C:
			r.handle(sweepTick{})

		case <-r.stopChan:
			r.logger.Info().Msg("Room forced stop initiated.")
			return
		}

		if r.stopping {
			r.logger.Info().Dur("idle_timeout", r.settings.IdleTimeout).Msg("Room idle timeout reached. Shutting down.")
			return
		}
	}
}

// shutdown closes every connection, settles the events still queued and notifies the
// Manager.
func (r *Room) shutdown() {
	defer close(r.done)

	// wait for senders already past the closing check
	close(r.closing)
	r.intake.Lock()
	r.intake.Unlock()

	for _, b := range r.state.bindings {
		b.conn.Close(websocket.CloseGoingAway, "room closed")
	}
	metrics.Connections.WithLabelValues(string(r.settings.Variant)).Sub(float64(len(r.state.bindings)))
	r.connections.Store(0)

	r.drain()

	defer func() {
		if rec := recover(); rec != nil {
			logx.Warn("Recovered from panic during Manager cleanup notification (channel likely closed).")
		}
	}()

	select {
	case r.cleanupChan <- RoomCleanupMsg{Key: r.Key, Room: r}:
		r.logger.Info().Msg("Sent cleanup notification to Manager.")
	default:
		r.logger.Warn().Msg("Manager cleanup channel blocked/full. Skipping cleanup notification.")
	}
}

// drain empties the event queue after the loop has exited. Connections that were accepted
// but never attached are closed so their clients reconnect; pending joins fail with
// ErrRoomClosed. Leave and snapshot callers get the same error once done is closed.
func (r *Room) drain() {
	dropped := 0
	for {
		select {
		case ev := <-r.events:
			switch ev := ev.(type) {
			case connOpened:
				ev.conn.Close(websocket.CloseTryAgainLater, "room closed")
				dropped++
			case joinCall:
				ev.reply <- joinReply{err: errs.NewError(errs.ErrRoomClosed)}
			}
		default:
			if dropped > 0 {
				r.logger.Info().Int("connections", dropped).Msg("Closed connections queued after the room stopped.")
			}
			return
		}
	}
}

// post enqueues ev unless the room has stopped.
func (r *Room) post(ev any) bool {
	r.intake.RLock()
	defer r.intake.RUnlock()

	select {
	case <-r.closing:
		return false
	default:
	}

	select {
	case r.events <- ev:
		return true
	case <-r.closing:
		return false
	}
}

func (r *Room) submit(ctx context.Context, ev any) error {
	r.intake.RLock()
	defer r.intake.RUnlock()

	select {
	case <-r.closing:
		return errs.NewError(errs.ErrRoomClosed)
	default:
	}

	select {
	case r.events <- ev:
		return nil
	case <-r.closing:
		return errs.NewError(errs.ErrRoomClosed)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Join adds or refreshes a user.
func (r *Room) Join(ctx context.Context, joinReq JoinRequest) (JoinResult, error) {
	reply := make(chan joinReply, 1)
	if err := r.submit(ctx, joinCall{req: joinReq, reply: reply}); err != nil {
		return JoinResult{}, err
	}

	select {
	case res := <-reply:
		return res.res, res.err
	case <-r.done:
		select {
		case res := <-reply:
			return res.res, res.err
		default:
			return JoinResult{}, errs.NewError(errs.ErrRoomClosed)
		}
	case <-ctx.Done():
		return JoinResult{}, ctx.Err()
	}
}

// Leave removes a user. Leaving an unknown user succeeds and changes nothing; the result
// reports whether a user was removed.
func (r *Room) Leave(ctx context.Context, userID string) (bool, error) {
	reply := make(chan bool, 1)
	if err := r.submit(ctx, leaveCall{userID: userID, reply: reply}); err != nil {
		return false, err
	}

	select {
	case removed := <-reply:
		return removed, nil
	case <-r.done:
		return false, errs.NewError(errs.ErrRoomClosed)
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Snapshot returns the users a broadcast would contain right now.
func (r *Room) Snapshot(ctx context.Context) ([]user.User, error) {
	reply := make(chan []user.User, 1)
	if err := r.submit(ctx, snapshotCall{reply: reply}); err != nil {
		return nil, err
	}

	select {
	case users := <-reply:
		return users, nil
	case <-r.done:
		return nil, errs.NewError(errs.ErrRoomClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Open attaches a new connection. It returns false if the room has already stopped.
func (r *Room) Open(conn Conn) bool {
	return r.post(connOpened{conn: conn})
}

// Deliver hands one raw inbound message of conn to the room.
func (r *Room) Deliver(conn Conn, raw []byte) {
	r.post(connMessage{conn: conn, raw: raw})
}

// Disconnected tells the room that conn is gone.
func (r *Room) Disconnected(conn Conn) {
	r.post(connClosed{conn: conn})
}

// handle processes one event. It is only called from the Run loop (or from tests).
func (r *Room) handle(ev any) {
	now := r.now()

	switch ev := ev.(type) {
	case joinCall:
		res, err := r.join(now, ev.req)
		ev.reply <- joinReply{res: res, err: err}
	case leaveCall:
		ev.reply <- r.leave(now, ev.userID)
	case snapshotCall:
		ev.reply <- r.snapshot(now)
	case connOpened:
		r.connectionOpened(now, ev.conn)
	case connMessage:
		r.connectionMessage(now, ev.conn, ev.raw)
	case connClosed:
		r.connectionClosed(now, ev.conn)
	case sweepTick:
		r.sweep(now)
	case flushTick:
		r.flush(now)
	default:
		r.logger.Error().Str("event", fmt.Sprintf("%T", ev)).Msg("Unknown room event.")
	}

	r.trackIdle(now)
}

func (r *Room) trackIdle(now time.Time) {
	if !r.state.isEmpty() {
		r.idleSince = time.Time{}
		return
	}

	if r.idleSince.IsZero() {
		r.idleSince = now
	}
}

// join implements refresh semantics for known users and last-writer-wins replacement of
// same-session duplicates for new ones.
func (r *Room) join(now time.Time, joinReq JoinRequest) (JoinResult, error) {
	userID := joinReq.UserID
	if userID == "" {
		userID = randx.AnonymousUserID()
	}

	sessionID := randx.SessionKey(userID)
	name := identity.SanitizeUsername(joinReq.Username)

	if u, ok := r.state.users[userID]; ok {
		u.LastSeen = now
		if name != "" {
			u.Username = name
		}

		if r.state.restore(u) {
			r.record(now, u.ID, u.Username, journal.KindReconnected)
		}
		r.record(now, u.ID, u.Username, journal.KindRefreshed)
		r.markDirty(u.ID)

		r.logger.Debug().Str("user_id", u.ID).Msg("User refreshed.")

		return JoinResult{UserID: u.ID, Username: u.Username, CursorColor: u.CursorColor, Refreshed: true}, nil
	}

	duplicates := r.state.sessionDuplicates(userID, sessionID)
	if len(r.state.users)-len(duplicates) >= r.settings.MaxConnections {
		r.logger.Warn().
			Int("max_connections", r.settings.MaxConnections).
			Str("user_id", userID).
			Msg("Room is full. New user rejected.")

		return JoinResult{}, errs.NewError(errs.ErrRoomIsFull, r.settings.MaxConnections)
	}

	u := &user.User{
		ID:        userID,
		SessionID: sessionID,
		JoinedAt:  now,
		LastSeen:  now,
	}

	// a tab refresh that produced a new id keeps the identity of the tab it replaces
	for _, id := range duplicates {
		old := r.state.users[id]
		if old.JoinedAt.Before(u.JoinedAt) {
			u.JoinedAt = old.JoinedAt
		}
		if u.CursorColor == "" {
			u.CursorColor = old.CursorColor
		}
		if name == "" {
			name = old.Username
		}

		r.replace(now, old)
	}

	if name == "" {
		name = r.names.Username(sessionID)
	}
	u.Username = name

	if r.settings.Variant.HasGameState() && u.CursorColor == "" {
		u.CursorColor = r.palette.Next()
	}

	r.state.users[userID] = u
	r.record(now, u.ID, u.Username, journal.KindJoined)
	r.markDirty(u.ID)

	r.logger.Info().
		Str("user_id", u.ID).
		Int("replaced", len(duplicates)).
		Int("total_users", len(r.state.users)).
		Msg("User joined room.")

	return JoinResult{UserID: u.ID, Username: u.Username, CursorColor: u.CursorColor}, nil
}

// replace removes old in favour of a newer tab of its session and kicks its connections.
func (r *Room) replace(now time.Time, old *user.User) {
	conns := r.state.remove(old.ID)

	for _, conn := range conns {
		r.sendError(now, conn, errs.NewError(errs.ErrSessionReplaced))
		conn.Close(WsCloseCodeSessionKicked, "Session replaced by a newer tab.")
	}

	r.record(now, old.ID, old.Username, journal.KindReplaced)
	r.markDirty(old.ID)

	r.logger.Info().
		Str("user_id", old.ID).
		Int("kicked_connections", len(conns)).
		Msg("Same-session duplicate replaced.")
}

// leave removes userID unconditionally. Unknown users are a no-op.
func (r *Room) leave(now time.Time, userID string) bool {
	u, ok := r.state.users[userID]
	if !ok {
		return false
	}

	r.state.remove(userID)
	r.record(now, u.ID, u.Username, journal.KindLeft)
	r.markDirty(userID)

	r.logger.Info().
		Str("user_id", userID).
		Int("total_users", len(r.state.users)).
		Msg("User left room.")

	return true
}

func (r *Room) snapshot(now time.Time) []user.User {
	return r.state.snapshot(now, r.settings.MouseInactivity, r.settings.HideReconnecting)
}

func (r *Room) connectionOpened(now time.Time, conn Conn) {
	variant := string(r.settings.Variant)

	if len(r.state.bindings) >= r.settings.MaxConnections {
		metrics.RejectedConnections.WithLabelValues(variant).Inc()
		r.logger.Warn().
			Str("conn_id", conn.ID()).
			Int("max_connections", r.settings.MaxConnections).
			Msg("Room is full. Connection rejected.")

		r.sendError(now, conn, errs.NewError(errs.ErrRoomIsFull, r.settings.MaxConnections))
		conn.Close(WsCloseCodeRoomFull, "room is full")
		return
	}

	r.state.bindings[conn.ID()] = &binding{conn: conn}
	r.connections.Store(int32(len(r.state.bindings)))
	metrics.Connections.WithLabelValues(variant).Inc()

	r.logger.Debug().
		Str("conn_id", conn.ID()).
		Int("connections", len(r.state.bindings)).
		Msg("Connection opened.")
}

func (r *Room) connectionClosed(now time.Time, conn Conn) {
	b, ok := r.state.bindings[conn.ID()]
	if !ok {
		return
	}

	delete(r.state.bindings, conn.ID())
	r.connections.Store(int32(len(r.state.bindings)))
	metrics.Connections.WithLabelValues(string(r.settings.Variant)).Dec()

	r.logger.Debug().
		Str("conn_id", conn.ID()).
		Str("user_id", b.userID).
		Msg("Connection closed.")

	r.release(now, b, "disconnect")
}

// release unbinds b. When b was the last connection of its user, the user enters the
// grace window.
func (r *Room) release(now time.Time, b *binding, reason string) {
	prev := b.userID
	b.userID = ""

	if prev == "" || r.state.boundCount(prev) > 0 {
		return
	}

	u, ok := r.state.users[prev]
	if !ok || u.IsReconnecting {
		return
	}

	r.state.markReconnecting(u, now, r.settings.GracePeriod)
	metrics.GraceTransitions.WithLabelValues(string(r.settings.Variant), reason).Inc()
	r.record(now, u.ID, u.Username, journal.KindReconnecting)
	r.markDirty(u.ID)

	r.logger.Info().
		Str("user_id", u.ID).
		Dur("grace_period", r.settings.GracePeriod).
		Msg("User disconnected. Grace period started.")
}

func (r *Room) connectionMessage(now time.Time, conn Conn, raw []byte) {
	b, ok := r.state.bindings[conn.ID()]
	if !ok {
		return
	}

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		r.malformed(conn, raw, err)
		return
	}

	switch msg.Type {
	case TypeHeartbeat:
		p, err := decodePayload[HeartbeatPayload](msg.Payload)
		if err != nil {
			r.malformed(conn, raw, err)
			return
		}
		r.heartbeat(now, b, p.UserID)

	case TypeMouse:
		if !r.settings.Variant.HasGameState() {
			r.logger.Debug().Str("conn_id", conn.ID()).Msg("Mouse message ignored by presence room.")
			return
		}

		p, err := decodePayload[MousePayload](msg.Payload)
		if err != nil {
			r.malformed(conn, raw, err)
			return
		}
		r.mouse(now, b, *p.X, *p.Y)

	case TypeAction:
		if !r.settings.Variant.HasGameState() {
			r.logger.Debug().Str("conn_id", conn.ID()).Msg("Action message ignored by presence room.")
			return
		}

		attrs, err := decodePayload[user.Attributes](msg.Payload)
		if err != nil {
			r.malformed(conn, raw, err)
			return
		}
		r.action(now, b, attrs)

	case TypeLeave:
		if u := r.boundUser(now, b); u != nil {
			r.leave(now, u.ID)
		}

	default:
		r.malformed(conn, raw, fmt.Errorf("unsupported message type %q", msg.Type))
	}
}

// heartbeat binds b to userID, refreshes liveness and ends a grace window.
func (r *Room) heartbeat(now time.Time, b *binding, userID string) {
	u, ok := r.state.users[userID]
	if !ok {
		r.logger.Warn().
			Str("conn_id", b.conn.ID()).
			Str("user_id", userID).
			Msg("Heartbeat for unknown user ignored.")

		if b.userID == userID {
			b.userID = ""
		}
		r.sendError(now, b.conn, errs.NewError(errs.ErrUserNotFound))
		return
	}

	if b.userID != "" && b.userID != userID {
		r.release(now, b, "rebind")
	}

	u.LastSeen = now
	if r.state.restore(u) {
		r.record(now, u.ID, u.Username, journal.KindReconnected)
		r.logger.Info().Str("user_id", u.ID).Msg("User reconnected within grace period.")
	}

	newlyBound := b.userID != userID
	b.userID = userID

	if newlyBound {
		r.sendInit(now, b.conn, u)
	}

	r.markDirty(userID)
}

func (r *Room) mouse(now time.Time, b *binding, x, y float64) {
	u := r.boundUser(now, b)
	if u == nil {
		return
	}

	s := r.settings
	if !applyMouseMove(u, x, y, now, s.MouseDistanceThreshold, s.MousePrecision, s.MouseInactivity) {
		metrics.FilteredMouseUpdates.WithLabelValues(string(s.Variant)).Inc()
		return
	}

	u.LastSeen = now
	r.markDirty(u.ID)
}

func (r *Room) action(now time.Time, b *binding, attrs user.Attributes) {
	u := r.boundUser(now, b)
	if u == nil {
		return
	}

	if attrs.IsEmpty() {
		return
	}

	if attrs.Extra != nil {
		attrs.Extra, _ = identity.SanitizeValue(attrs.Extra).(map[string]any)
	}

	u.Apply(attrs)
	u.LastSeen = now
	r.markDirty(u.ID)
}

// boundUser returns the user b speaks for, replying with an error when there is none.
func (r *Room) boundUser(now time.Time, b *binding) *user.User {
	if b.userID == "" {
		r.sendError(now, b.conn, errs.NewError(errs.ErrNotBound))
		return nil
	}

	u, ok := r.state.users[b.userID]
	if !ok {
		b.userID = ""
		r.sendError(now, b.conn, errs.NewError(errs.ErrUserNotFound))
		return nil
	}

	return u
}

// sweep expires grace entries, moves silent users into their grace window, hides idle
// cursors, and stops the room after a long idle period.
func (r *Room) sweep(now time.Time) {
	for id, pending := range r.state.grace {
		if now.Before(pending.ExpiresAt) {
			continue
		}

		r.state.remove(id)
		r.record(now, id, pending.Username, journal.KindExpired)
		r.markDirty(id)

		r.logger.Info().Str("user_id", id).Msg("Grace period expired. User removed.")
	}

	for id, u := range r.state.users {
		if u.IsReconnecting || now.Sub(u.LastSeen) <= r.settings.HeartbeatTimeout {
			continue
		}

		r.state.unbindUser(id)
		r.state.markReconnecting(u, now, r.settings.GracePeriod)
		metrics.GraceTransitions.WithLabelValues(string(r.settings.Variant), "timeout").Inc()
		r.record(now, id, u.Username, journal.KindTimedOut)
		r.markDirty(id)

		r.logger.Info().
			Str("user_id", id).
			Time("last_seen", u.LastSeen).
			Msg("Heartbeat timeout. Grace period started.")
	}

	if r.settings.Variant.HasGameState() {
		for id, u := range r.state.users {
			if u.MousePosition != nil && isStale(u.MousePosition, now, r.settings.MouseInactivity) {
				u.MousePosition = nil
				r.markDirty(id)
			}
		}
	}

	if r.sched.rearm() {
		r.armFlush()
	}

	if r.state.isEmpty() && !r.idleSince.IsZero() && now.Sub(r.idleSince) >= r.settings.IdleTimeout {
		r.stopping = true
	}
}

func (r *Room) markDirty(userID string) {
	if r.sched.markDirty(userID) {
		r.armFlush()
	}
}

func (r *Room) armFlush() {
	r.afterFunc(r.settings.BroadcastBatchDelay, func() {
		r.post(flushTick{})
	})
}

// flush sends one snapshot to every bound connection. Connections whose send fails are
// handled as closed once the fan-out is done.
func (r *Room) flush(now time.Time) {
	variant := string(r.settings.Variant)

	dirty, ok := r.sched.fire(now)
	if !ok {
		if r.sched.pending() > 0 {
			metrics.DroppedFlushes.WithLabelValues(variant).Inc()
			r.logger.Debug().Int("pending", r.sched.pending()).Msg("Flush dropped by broadcast throttle.")
		}
		return
	}

	users := r.snapshot(now)
	data, err := encodeMessage(TypeSnapshot, r.Key, now, SnapshotPayload{Users: users, Count: len(users)})
	if err != nil {
		r.logger.Error().Err(err).Msg("Error marshaling snapshot for broadcast.")
		return
	}

	var failed []Conn
	for _, conn := range r.state.boundConns() {
		if err := conn.Send(data); err != nil {
			r.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("Snapshot send failed, dropping connection.")
			failed = append(failed, conn)
		}
	}

	metrics.Broadcasts.WithLabelValues(variant).Inc()
	if r.mirror != nil {
		r.mirror.Publish(variant, r.Key, data)
	}

	r.logger.Debug().
		Int("dirty_users", len(dirty)).
		Int("users", len(users)).
		Int("failed", len(failed)).
		Msg("Snapshot broadcast.")

	for _, conn := range failed {
		r.dropConnection(now, conn)
	}
}

// dropConnection handles a connection whose send failed as if it had closed.
func (r *Room) dropConnection(now time.Time, conn Conn) {
	r.connectionClosed(now, conn)
	conn.Close(websocket.CloseInternalServerErr, "send failed")
}

func (r *Room) sendInit(now time.Time, conn Conn, u *user.User) {
	users := r.snapshot(now)

	data, err := encodeMessage(TypeInit, r.Key, now, InitPayload{
		Self:           u.Clone(),
		Users:          users,
		Count:          len(users),
		MaxConnections: r.settings.MaxConnections,
		Variant:        r.settings.Variant,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to build init message.")
		return
	}

	if err := conn.Send(data); err != nil {
		r.logger.Warn().Err(err).Str("conn_id", conn.ID()).Msg("Init send failed, dropping connection.")
		r.dropConnection(now, conn)
	}
}

func (r *Room) sendError(now time.Time, conn Conn, customErr *errs.CustomError) {
	data, err := encodeMessage(TypeError, r.Key, now, ErrorPayload{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to build error message.")
		return
	}

	if err := conn.Send(data); err != nil {
		r.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Failed to queue error message.")
	}
}

// malformed drops a message and hands it to the fallback handler.
func (r *Room) malformed(conn Conn, raw []byte, err error) {
	metrics.MalformedMessages.WithLabelValues(string(r.settings.Variant)).Inc()

	if r.fallback != nil {
		r.fallback(conn, raw, err)
		return
	}

	r.logger.Debug().Err(err).Str("conn_id", conn.ID()).Msg("Malformed message dropped.")
}

func (r *Room) record(now time.Time, userID, username string, kind journal.Kind) {
	if r.journal == nil {
		return
	}

	r.journal.Record(journal.Event{
		Variant:  string(r.settings.Variant),
		Room:     r.Key,
		UserID:   userID,
		Username: username,
		Kind:     kind,
		At:       now,
	})
}

var errEmptyPayload = errors.New("missing payload")

// decodePayload unmarshals and validates a message payload.
func decodePayload[T any](raw json.RawMessage) (T, error) {
	var p T

	if len(raw) == 0 {
		return p, errEmptyPayload
	}

	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}

	if err := req.Validator().Struct(p); err != nil {
		return p, fmt.Errorf("validate payload: %w", err)
	}

	return p, nil
}
