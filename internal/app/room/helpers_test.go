package room

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/user"
)

// fakeConn records what the room sends and how it closes the connection.
type fakeConn struct {
	id string

	mu        sync.Mutex
	sent      [][]byte
	closed    bool
	closeCode int
	failSend  bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failSend {
		return errors.New("broken pipe")
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.closeCode = code
	}
}

func (c *fakeConn) isClosed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed, c.closeCode
}

type wireMessage struct {
	Type      MessageType     `json:"type"`
	Room      string          `json:"room"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func (c *fakeConn) messages(t *testing.T, msgType MessageType) []wireMessage {
	t.Helper()

	c.mu.Lock()
	defer c.mu.Unlock()

	var out []wireMessage
	for _, raw := range c.sent {
		var m wireMessage
		require.NoError(t, json.Unmarshal(raw, &m))
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) snapshots(t *testing.T) []SnapshotPayload {
	t.Helper()

	var out []SnapshotPayload
	for _, m := range c.messages(t, TypeSnapshot) {
		var p SnapshotPayload
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		out = append(out, p)
	}
	return out
}

func (c *fakeConn) errorCodes(t *testing.T) []int {
	t.Helper()

	var out []int
	for _, m := range c.messages(t, TypeError) {
		var p ErrorPayload
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		out = append(out, p.Code)
	}
	return out
}

// testClock drives the room with synthetic time. Batch timers are only counted; tests
// deliver flushTick themselves.
type testClock struct {
	now   time.Time
	armed int
}

func (c *testClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func testSettings(variant Variant) Settings {
	return Settings{
		Variant:                variant,
		MaxConnections:         4,
		GracePeriod:            5 * time.Second,
		HeartbeatTimeout:       30 * time.Second,
		SweepInterval:          time.Second,
		BroadcastMinInterval:   50 * time.Millisecond,
		BroadcastBatchDelay:    50 * time.Millisecond,
		MouseDistanceThreshold: 2,
		MousePrecision:         1,
		MouseInactivity:        5 * time.Second,
		IdleTimeout:            time.Minute,
	}
}

func newTestRoom(t *testing.T, variant Variant, mutate ...func(*Settings)) (*Room, *testClock) {
	t.Helper()

	settings := testSettings(variant)
	for _, m := range mutate {
		m(&settings)
	}

	r := NewRoom("lobby", settings, Deps{Names: identity.NewAllocator(64, time.Hour)}, nil)

	clk := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	r.now = func() time.Time { return clk.now }
	r.afterFunc = func(time.Duration, func()) { clk.armed++ }

	return r, clk
}

func joinUser(t *testing.T, r *Room, userID, username string) JoinResult {
	t.Helper()

	res, err := tryJoin(r, userID, username)
	require.NoError(t, err)
	return res
}

func tryJoin(r *Room, userID, username string) (JoinResult, error) {
	reply := make(chan joinReply, 1)
	r.handle(joinCall{req: JoinRequest{UserID: userID, Username: username}, reply: reply})
	res := <-reply
	return res.res, res.err
}

func leaveUser(r *Room, userID string) bool {
	reply := make(chan bool, 1)
	r.handle(leaveCall{userID: userID, reply: reply})
	return <-reply
}

func snapshotOf(r *Room) []user.User {
	reply := make(chan []user.User, 1)
	r.handle(snapshotCall{reply: reply})
	return <-reply
}

func snapshotIDs(r *Room) []string {
	users := snapshotOf(r)
	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	return ids
}

func openConn(r *Room, id string) *fakeConn {
	c := newFakeConn(id)
	r.handle(connOpened{conn: c})
	return c
}

func sendRaw(r *Room, c Conn, raw string) {
	r.handle(connMessage{conn: c, raw: []byte(raw)})
}

func heartbeat(r *Room, c Conn, userID string) {
	sendRaw(r, c, fmt.Sprintf(`{"type":"heartbeat","payload":{"userId":%q}}`, userID))
}

func mouseMove(r *Room, c Conn, x, y float64) {
	sendRaw(r, c, fmt.Sprintf(`{"type":"mouse","payload":{"x":%v,"y":%v}}`, x, y))
}

func closeConn(r *Room, c Conn) {
	r.handle(connClosed{conn: c})
}

// connectUser joins userID and binds a fresh connection to it.
func connectUser(t *testing.T, r *Room, userID, username string) *fakeConn {
	t.Helper()

	joinUser(t, r, userID, username)
	c := openConn(r, "conn-"+userID)
	heartbeat(r, c, userID)
	return c
}

func findUser(r *Room, userID string) *user.User {
	return r.state.users[userID]
}
