package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/journal"
	"roomsync/internal/app/room"
	"roomsync/internal/app/user"
	"roomsync/internal/configs"
	"roomsync/internal/pkg/auth/jwt"
	"roomsync/internal/pkg/errs"
)

const testSecret = "handler-test-secret"

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fakeHistory struct {
	events []journal.Event
	err    error

	gotVariant, gotRoom string
	gotLimit            int
}

func (h *fakeHistory) Recent(_ context.Context, variant, room string, limit int) ([]journal.Event, error) {
	h.gotVariant, h.gotRoom, h.gotLimit = variant, room, limit
	return h.events, h.err
}

func testConfig(maxConnections int) *configs.AppConfig {
	return &configs.AppConfig{
		Environment:            "development",
		JWTSecret:              testSecret,
		MaxConnectionsPerRoom:  maxConnections,
		GracePeriod:            time.Second,
		HeartbeatInterval:      time.Second,
		HeartbeatTimeout:       5 * time.Second,
		SweepInterval:          50 * time.Millisecond,
		BroadcastMinInterval:   10 * time.Millisecond,
		BroadcastBatchDelay:    10 * time.Millisecond,
		MouseDistanceThreshold: 2,
		MousePrecision:         1,
		MouseInactivity:        5 * time.Second,
		RoomIdleTimeout:        time.Minute,
	}
}

func newTestServer(t *testing.T, cfg *configs.AppConfig, history History) *httptest.Server {
	t.Helper()

	names := identity.NewAllocator(64, time.Hour)
	managers := map[room.Variant]*room.Manager{
		room.VariantPresence: room.NewManager(room.SettingsFromConfig(cfg, room.VariantPresence), room.Deps{Names: names}),
		room.VariantGame:     room.NewManager(room.SettingsFromConfig(cfg, room.VariantGame), room.Deps{Names: names}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(Router(ctx, &AppDeps{Managers: managers, Config: cfg, History: history}))

	t.Cleanup(func() {
		srv.Close()
		for _, m := range managers {
			m.Shutdown()
		}
		cancel()
	})

	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(res.Body).Decode(&env))
	return res.StatusCode, env
}

func join(t *testing.T, srv *httptest.Server, variant, roomKey, token string, input JoinRoomInput) JoinRoomOutput {
	t.Helper()

	status, env := doJSON(t, http.MethodPost, srv.URL+"/api/"+variant+"/rooms/"+roomKey+"/join", token, input)
	require.Equal(t, http.StatusOK, status)
	require.Zero(t, env.Code, env.Message)

	var out JoinRoomOutput
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

func dial(t *testing.T, srv *httptest.Server, variant, roomKey string) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + variant + "/" + roomKey
	return websocket.DefaultDialer.Dial(url, nil)
}

type wsMessage struct {
	Type    room.MessageType `json:"type"`
	Room    string           `json:"room"`
	Payload json.RawMessage  `json:"payload"`
}

// readUntil reads messages until one of msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType room.MessageType) wsMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var m wsMessage
		require.NoError(t, conn.ReadJSON(&m))
		if m.Type == msgType {
			return m
		}
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, testConfig(4), nil)

	status, env := doJSON(t, http.MethodGet, srv.URL+"/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Zero(t, env.Code)
	assert.Contains(t, string(env.Data), `"status":"ok"`)
}

func TestCreateRoom(t *testing.T) {
	srv := newTestServer(t, testConfig(4), nil)

	status, env := doJSON(t, http.MethodPost, srv.URL+"/api/presence/rooms", "", nil)
	require.Equal(t, http.StatusOK, status)

	var out struct {
		RoomKey string `json:"roomKey"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Len(t, out.RoomKey, 6)
}

func TestJoinAssignsIdentityAndToken(t *testing.T) {
	srv := newTestServer(t, testConfig(4), nil)

	out := join(t, srv, "game", "lobby", "", JoinRoomInput{Username: "Ada"})

	assert.True(t, out.Success)
	assert.True(t, strings.HasPrefix(out.UserID, "anon_"))
	assert.Equal(t, "Ada", out.Username)
	assert.NotEmpty(t, out.AssignedAttributes.CursorColor)

	payload, err := jwt.ParseToken(out.Token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, out.UserID, payload.ID)
	assert.Equal(t, "lobby", payload.Room)
	assert.Equal(t, "game", payload.Variant)
}

func TestJoinTokenPinsUserID(t *testing.T) {
	srv := newTestServer(t, testConfig(4), nil)

	first := join(t, srv, "presence", "lobby", "", JoinRoomInput{UserID: "tab-1"})
	again := join(t, srv, "presence", "lobby", first.Token, JoinRoomInput{UserID: "someone-else"})
	assert.Equal(t, "tab-1", again.UserID)
	assert.Empty(t, again.AssignedAttributes.CursorColor)

	// a token for another room is ignored
	other := join(t, srv, "presence", "hall", first.Token, JoinRoomInput{UserID: "tab-2"})
	assert.Equal(t, "tab-2", other.UserID)
}

func TestRouteValidation(t *testing.T) {
	srv := newTestServer(t, testConfig(4), nil)

	status, env := doJSON(t, http.MethodPost, srv.URL+"/api/chess/rooms/lobby/join", "", JoinRoomInput{})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, errs.ErrVariantInvalid, env.Code)

	status, env = doJSON(t, http.MethodPost, srv.URL+"/api/game/rooms/bad.key/join", "", JoinRoomInput{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errs.ErrRoomKeyInvalid, env.Code)

	status, env = doJSON(t, http.MethodPost, srv.URL+"/api/game/rooms/lobby/leave", "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, errs.ErrInvalidParams, env.Code)
}

func TestJoinRejectsWhenFull(t *testing.T) {
	srv := newTestServer(t, testConfig(1), nil)

	join(t, srv, "presence", "lobby", "", JoinRoomInput{UserID: "a"})

	status, env := doJSON(t, http.MethodPost, srv.URL+"/api/presence/rooms/lobby/join", "", JoinRoomInput{UserID: "b"})
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, errs.ErrRoomIsFull, env.Code)
}

func TestLeaveAndSnapshot(t *testing.T) {
	srv := newTestServer(t, testConfig(4), nil)
	base := srv.URL + "/api/presence/rooms/lobby"

	join(t, srv, "presence", "lobby", "", JoinRoomInput{UserID: "u1", Username: "Ada"})
	join(t, srv, "presence", "lobby", "", JoinRoomInput{UserID: "u2", Username: "Bob"})

	_, env := doJSON(t, http.MethodGet, base+"/snapshot", "", nil)
	var snap SnapshotOutput
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, 2, snap.Count)
	assert.Equal(t, "u1", snap.Users[0].ID)

	status, env := doJSON(t, http.MethodPost, base+"/leave", "", LeaveRoomInput{UserID: "u1"})
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"success":true,"removed":true}`, string(env.Data))

	_, env = doJSON(t, http.MethodPost, base+"/leave", "", LeaveRoomInput{UserID: "u1"})
	assert.JSONEq(t, `{"success":true,"removed":false}`, string(env.Data))

	_, env = doJSON(t, http.MethodGet, base+"/snapshot", "", nil)
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, 1, snap.Count)

	// unknown rooms are empty, not errors
	_, env = doJSON(t, http.MethodGet, srv.URL+"/api/presence/rooms/nowhere/snapshot", "", nil)
	assert.JSONEq(t, `{"users":[],"count":0}`, string(env.Data))
}

func TestHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv := newTestServer(t, testConfig(4), nil)

		status, env := doJSON(t, http.MethodGet, srv.URL+"/api/game/rooms/lobby/history", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, errs.ErrJournalUnavailable, env.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		history := &fakeHistory{events: []journal.Event{
			{Variant: "game", Room: "lobby", UserID: "u1", Username: "Ada", Kind: journal.KindJoined, At: at},
		}}
		srv := newTestServer(t, testConfig(4), history)

		status, env := doJSON(t, http.MethodGet, srv.URL+"/api/game/rooms/lobby/history?limit=10", "", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(env.Data), `"count":1`)
		assert.Equal(t, "game", history.gotVariant)
		assert.Equal(t, "lobby", history.gotRoom)
		assert.Equal(t, 10, history.gotLimit)

		status, _ = doJSON(t, http.MethodGet, srv.URL+"/api/game/rooms/lobby/history?limit=0", "", nil)
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("query failure", func(t *testing.T) {
		srv := newTestServer(t, testConfig(4), &fakeHistory{err: errors.New("connection refused")})

		status, env := doJSON(t, http.MethodGet, srv.URL+"/api/game/rooms/lobby/history", "", nil)
		assert.Equal(t, http.StatusInternalServerError, status)
		assert.Equal(t, errs.ErrUnknown, env.Code)
	})
}

func TestWebSocketSession(t *testing.T) {
	srv := newTestServer(t, testConfig(4), nil)

	joined := join(t, srv, "game", "lobby", "", JoinRoomInput{UserID: "u1", Username: "Ada"})

	conn, _, err := dial(t, srv, "game", "lobby")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "heartbeat",
		"payload": map[string]string{"userId": joined.UserID},
	}))

	initMsg := readUntil(t, conn, room.TypeInit)
	assert.Equal(t, "lobby", initMsg.Room)

	var initPayload room.InitPayload
	require.NoError(t, json.Unmarshal(initMsg.Payload, &initPayload))
	assert.Equal(t, "u1", initPayload.Self.ID)
	assert.Equal(t, 4, initPayload.MaxConnections)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "mouse",
		"payload": map[string]float64{"x": 12.34, "y": 56.78},
	}))

	// earlier snapshots may predate the mouse move
	var pos *user.Position
	for pos == nil {
		m := readUntil(t, conn, room.TypeSnapshot)
		var snap room.SnapshotPayload
		require.NoError(t, json.Unmarshal(m.Payload, &snap))
		require.Equal(t, 1, snap.Count)
		pos = snap.Users[0].MousePosition
	}
	assert.Equal(t, 12.3, pos.X)
	assert.Equal(t, 56.8, pos.Y)

	// heartbeat for a user that never joined
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "heartbeat",
		"payload": map[string]string{"userId": "ghost"},
	}))

	errMsg := readUntil(t, conn, room.TypeError)
	var errPayload room.ErrorPayload
	require.NoError(t, json.Unmarshal(errMsg.Payload, &errPayload))
	assert.Equal(t, errs.ErrUserNotFound, errPayload.Code)
}

func TestWebSocketSessionReplacedClose(t *testing.T) {
	srv := newTestServer(t, testConfig(4), nil)

	join(t, srv, "presence", "lobby", "", JoinRoomInput{UserID: "sess:tab1"})

	conn, _, err := dial(t, srv, "presence", "lobby")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "heartbeat",
		"payload": map[string]string{"userId": "sess:tab1"},
	}))
	readUntil(t, conn, room.TypeInit)

	// a new tab of the same session takes over
	join(t, srv, "presence", "lobby", "", JoinRoomInput{UserID: "sess:tab2"})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		_, _, err = conn.ReadMessage()
		if err != nil {
			break
		}
	}

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, room.WsCloseCodeSessionKicked, closeErr.Code)
}

func TestWebSocketCapacity(t *testing.T) {
	srv := newTestServer(t, testConfig(1), nil)

	first, _, err := dial(t, srv, "presence", "lobby")
	require.NoError(t, err)
	defer first.Close()

	second, res, err := dial(t, srv, "presence", "lobby")
	if err != nil {
		// rejected by the pre-check before the upgrade
		require.NotNil(t, res)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		return
	}
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err = second.ReadMessage(); err != nil {
			break
		}
	}

	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, room.WsCloseCodeRoomFull, closeErr.Code)
}
