/*
Package agent is a Go client for a roomsync room.

An Agent joins a room over HTTP, holds its WebSocket open, heartbeats on a fixed cadence and
reports every snapshot it receives. Lost connections are re-established with capped
exponential backoff; the room token returned by join keeps the same user id across
reconnects. Mouse moves are latest-wins: only the newest position pending at each
MoveInterval tick is sent.
*/
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"roomsync/internal/app/room"
	"roomsync/internal/app/user"
	"roomsync/internal/pkg/errs"
	"roomsync/internal/pkg/logx"
)

const (
	DefaultHeartbeatInterval = 10 * time.Second
	DefaultMoveInterval      = 50 * time.Millisecond
	DefaultBaseBackoff       = 250 * time.Millisecond
	DefaultMaxBackoff        = 10 * time.Second

	// actionQueueSize bounds actions waiting for the socket.
	actionQueueSize = 16

	writeWait = 5 * time.Second
)

var (
	// ErrRoomFull is returned by Run when the room rejects the agent for capacity.
	ErrRoomFull = errors.New("agent: room is full")

	// ErrSessionReplaced is returned by Run when another tab of the same session took over.
	ErrSessionReplaced = errors.New("agent: session replaced")

	// ErrActionQueueFull is returned by Act when actions are produced faster than they are sent.
	ErrActionQueueFull = errors.New("agent: action queue full")
)

// Config describes the room an Agent joins and how it behaves.
type Config struct {
	// BaseURL is the server root, e.g. "http://localhost:8080".
	BaseURL string

	Variant  room.Variant
	Room     string
	UserID   string
	Username string

	HeartbeatInterval time.Duration
	MoveInterval      time.Duration

	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// MaxRetries bounds consecutive failed connection attempts; zero retries forever.
	MaxRetries uint64

	// OnSnapshot receives the user list of every init and snapshot message. It is called
	// from the reading goroutine and must not block.
	OnSnapshot func(users []user.User)

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// Agent drives one user in one room.
type Agent struct {
	cfg Config

	// identity returned by the last join
	mu       sync.Mutex
	userID   string
	username string
	color    string
	token    string

	// pending is the newest unsent mouse position.
	moveMu  sync.Mutex
	pending *room.MousePayload

	actions chan user.Attributes

	// rejoin is signalled when the server no longer knows the user.
	rejoin chan struct{}

	logger zerolog.Logger
}

// New creates an Agent. Zero durations take their defaults.
func New(cfg Config) *Agent {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.MoveInterval <= 0 {
		cfg.MoveInterval = DefaultMoveInterval
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}

	return &Agent{
		cfg:      cfg,
		userID:   cfg.UserID,
		username: cfg.Username,
		actions:  make(chan user.Attributes, actionQueueSize),
		rejoin:   make(chan struct{}, 1),
		logger: logx.Component("agent").With().
			Str("variant", string(cfg.Variant)).
			Str("room_key", cfg.Room).
			Logger(),
	}
}

// UserID returns the id assigned by the last successful join.
func (a *Agent) UserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.userID
}

// CursorColor returns the color assigned by the last successful join.
func (a *Agent) CursorColor() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.color
}

// Move records a pointer position. Only the newest position is sent at the next tick.
func (a *Agent) Move(x, y float64) {
	a.moveMu.Lock()
	a.pending = &room.MousePayload{X: &x, Y: &y, Timestamp: time.Now().UnixMilli()}
	a.moveMu.Unlock()
}

// Act queues attribute changes for the room.
func (a *Agent) Act(attrs user.Attributes) error {
	select {
	case a.actions <- attrs:
		return nil
	default:
		return ErrActionQueueFull
	}
}

// Run keeps the agent connected until ctx is cancelled or the room rejects it for good.
// One backoff spans reconnects; it is reset once a connection outlives a heartbeat interval,
// so a room that keeps dropping the agent right after the dial is not hammered.
func (a *Agent) Run(ctx context.Context) error {
	b := a.backoff()

	for {
		conn, err := a.connect(ctx, b)
		if err != nil {
			return err
		}

		started := time.Now()
		err = a.serve(ctx, conn)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrRoomFull), errors.Is(err, ErrSessionReplaced):
			return err
		}

		if time.Since(started) > a.cfg.HeartbeatInterval {
			b = a.backoff()
			a.logger.Info().Err(err).Str("user_id", a.UserID()).Msg("Connection lost, reconnecting.")
			continue
		}

		wait, stop := b.Next()
		if stop {
			return fmt.Errorf("connection keeps dropping: %w", err)
		}

		a.logger.Warn().Err(err).Dur("wait", wait).Msg("Connection dropped right after connecting, backing off.")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (a *Agent) backoff() retry.Backoff {
	b := retry.NewExponential(a.cfg.BaseBackoff)
	b = retry.WithJitterPercent(20, b)
	b = retry.WithCappedDuration(a.cfg.MaxBackoff, b)
	if a.cfg.MaxRetries > 0 {
		b = retry.WithMaxRetries(a.cfg.MaxRetries, b)
	}

	return b
}

// connect joins if needed and dials the room socket, retrying transient failures with b.
func (a *Agent) connect(ctx context.Context, b retry.Backoff) (*websocket.Conn, error) {
	var conn *websocket.Conn

	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := a.Join(ctx); err != nil {
			if errors.Is(err, ErrRoomFull) {
				return err
			}
			return retry.RetryableError(err)
		}

		c, res, err := a.cfg.Dialer.DialContext(ctx, a.socketURL(), nil)
		if err != nil {
			if res != nil && rejectedForCapacity(res) {
				return ErrRoomFull
			}
			return retry.RetryableError(fmt.Errorf("dial room socket: %w", err))
		}

		conn = c
		return nil
	})

	return conn, err
}

// serve runs one connection until it ends. The calling goroutine is the only writer.
func (a *Agent) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	readErr := make(chan error, 1)
	go func() {
		readErr <- a.readLoop(conn)
	}()

	if err := a.send(conn, room.TypeHeartbeat, room.HeartbeatPayload{UserID: a.UserID()}); err != nil {
		return err
	}

	heartbeat := time.NewTicker(a.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	moves := time.NewTicker(a.cfg.MoveInterval)
	defer moves.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return ctx.Err()

		case err := <-readErr:
			return err

		case <-heartbeat.C:
			if err := a.send(conn, room.TypeHeartbeat, room.HeartbeatPayload{UserID: a.UserID()}); err != nil {
				return err
			}

		case <-moves.C:
			if p := a.takeMove(); p != nil {
				if err := a.send(conn, room.TypeMouse, p); err != nil {
					return err
				}
			}

		case attrs := <-a.actions:
			if err := a.send(conn, room.TypeAction, attrs); err != nil {
				return err
			}

		case <-a.rejoin:
			a.forgetToken()
			if err := a.Join(ctx); err != nil {
				if errors.Is(err, ErrRoomFull) {
					return err
				}
				return fmt.Errorf("rejoin: %w", err)
			}
			if err := a.send(conn, room.TypeHeartbeat, room.HeartbeatPayload{UserID: a.UserID()}); err != nil {
				return err
			}
		}
	}
}

func (a *Agent) takeMove() *room.MousePayload {
	a.moveMu.Lock()
	defer a.moveMu.Unlock()

	p := a.pending
	a.pending = nil
	return p
}

type serverMessage struct {
	Type    room.MessageType `json:"type"`
	Payload json.RawMessage  `json:"payload"`
}

// readLoop dispatches server messages until the connection fails.
func (a *Agent) readLoop(conn *websocket.Conn) error {
	for {
		var msg serverMessage
		if err := conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				switch closeErr.Code {
				case room.WsCloseCodeRoomFull:
					return ErrRoomFull
				case room.WsCloseCodeSessionKicked:
					return ErrSessionReplaced
				}
			}
			return fmt.Errorf("read room socket: %w", err)
		}

		switch msg.Type {
		case room.TypeInit, room.TypeSnapshot:
			var p room.SnapshotPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				a.logger.Warn().Err(err).Str("type", string(msg.Type)).Msg("Undecodable server message.")
				continue
			}
			if a.cfg.OnSnapshot != nil {
				a.cfg.OnSnapshot(p.Users)
			}

		case room.TypeError:
			var p room.ErrorPayload
			if err := json.Unmarshal(msg.Payload, &p); err != nil {
				continue
			}

			a.logger.Debug().Int("code", p.Code).Str("message", p.Message).Msg("Server reported an error.")

			if p.Code == errs.ErrUserNotFound {
				select {
				case a.rejoin <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (a *Agent) send(conn *websocket.Conn, msgType room.MessageType, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}

	return conn.WriteJSON(room.InboundMessage{Type: msgType, Payload: data})
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type joinResponse struct {
	UserID             string `json:"userId"`
	Username           string `json:"username"`
	AssignedAttributes struct {
		CursorColor string `json:"cursorColor"`
	} `json:"assignedAttributes"`
	Token string `json:"token"`
}

// Join adds the agent's user to the room, reusing the token of an earlier join.
func (a *Agent) Join(ctx context.Context) error {
	a.mu.Lock()
	body := map[string]string{"userId": a.userID, "username": a.username}
	token := a.token
	a.mu.Unlock()

	var out joinResponse
	if err := a.post(ctx, "/join", token, body, &out); err != nil {
		return err
	}

	a.mu.Lock()
	a.userID = out.UserID
	a.username = out.Username
	a.color = out.AssignedAttributes.CursorColor
	a.token = out.Token
	a.mu.Unlock()

	a.logger.Debug().Str("user_id", out.UserID).Msg("Joined room.")
	return nil
}

// Leave removes the agent's user from the room.
func (a *Agent) Leave(ctx context.Context) error {
	return a.post(ctx, "/leave", "", map[string]string{"userId": a.UserID()}, nil)
}

func (a *Agent) forgetToken() {
	a.mu.Lock()
	a.token = ""
	a.mu.Unlock()
}

func (a *Agent) post(ctx context.Context, path, token string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/api/%s/rooms/%s%s",
		strings.TrimRight(a.cfg.BaseURL, "/"), a.cfg.Variant, url.PathEscape(a.cfg.Room), path)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode %s response (HTTP %d): %w", path, res.StatusCode, err)
	}

	if env.Code == errs.ErrRoomIsFull {
		return ErrRoomFull
	}
	if env.Code != 0 {
		return fmt.Errorf("%s rejected: code %d: %s", path, env.Code, env.Message)
	}

	if out == nil {
		return nil
	}

	return json.Unmarshal(env.Data, out)
}

func (a *Agent) socketURL() string {
	base := strings.TrimRight(a.cfg.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	return fmt.Sprintf("%s/ws/%s/%s", base, a.cfg.Variant, url.PathEscape(a.cfg.Room))
}

// rejectedForCapacity reports whether a failed upgrade carried ErrRoomIsFull.
func rejectedForCapacity(res *http.Response) bool {
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return false
	}

	return env.Code == errs.ErrRoomIsFull
}
