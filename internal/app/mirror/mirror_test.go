package mirror

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "roomsync:game:lobby", Key("game", "lobby"))
}

func TestPublishIsLatestWinsPerRoom(t *testing.T) {
	m := New(nil, time.Minute)

	var mu sync.Mutex
	written := make(map[string][]string)
	m.write = func(_ context.Context, key string, snapshot []byte) error {
		mu.Lock()
		defer mu.Unlock()
		written[key] = append(written[key], string(snapshot))
		return nil
	}

	m.Publish("game", "lobby", []byte("v1"))
	m.Publish("game", "lobby", []byte("v2"))
	m.Publish("presence", "lobby", []byte("p1"))

	m.drain(context.Background())

	assert.Equal(t, []string{"v2"}, written["roomsync:game:lobby"])
	assert.Equal(t, []string{"p1"}, written["roomsync:presence:lobby"])
}

func TestRunDrainsUntilCancelled(t *testing.T) {
	m := New(nil, time.Minute)

	got := make(chan string, 4)
	m.write = func(_ context.Context, key string, snapshot []byte) error {
		got <- string(snapshot)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	m.Publish("game", "r1", []byte("s1"))

	select {
	case s := <-got:
		assert.Equal(t, "s1", s)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "snapshot was not mirrored")
	}

	cancel()
	<-done
}
