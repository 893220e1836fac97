/*
Package identity allocates display names and cursor colors for room participants and
sanitizes client-supplied text.

Usernames are memoized per correlation key (see randx.SessionKey), so every tab and every
reconnect of one browser session sees the same generated name. The memo is bounded and
entries expire, so a long-running process does not remember every visitor forever.
*/
package identity

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/randx"
)

const (
	// DefaultMemoSize bounds the number of remembered correlation keys.
	DefaultMemoSize = 4096

	// DefaultMemoTTL is how long an unused name stays reserved for its key.
	DefaultMemoTTL = 24 * time.Hour

	fallbackName = "Anonymous Visitor"
)

var adjectives = []string{
	"Amber", "Brave", "Calm", "Clever", "Cosmic", "Curious", "Daring", "Eager",
	"Fuzzy", "Gentle", "Golden", "Happy", "Jolly", "Kind", "Lively", "Lucky",
	"Mellow", "Mighty", "Nimble", "Quiet", "Rapid", "Silent", "Sunny", "Swift",
	"Tiny", "Velvet", "Witty", "Zesty",
}

var nouns = []string{
	"Badger", "Comet", "Dolphin", "Falcon", "Fox", "Gecko", "Heron", "Koala",
	"Lynx", "Marmot", "Narwhal", "Otter", "Owl", "Panda", "Pelican", "Penguin",
	"Puffin", "Quokka", "Raccoon", "Raven", "Salmon", "Sparrow", "Tiger", "Walrus",
	"Wombat", "Yak",
}

// Allocator hands out memoized adjective+noun usernames. It is safe for concurrent use
// and is normally shared by every room of the process.
type Allocator struct {
	// mu makes the lookup-then-add sequence atomic so two concurrent calls for the same
	// key cannot generate different names.
	mu sync.Mutex

	names *expirable.LRU[string, string]
}

// NewAllocator creates an allocator remembering up to size keys for ttl each.
func NewAllocator(size int, ttl time.Duration) *Allocator {
	if size <= 0 {
		size = DefaultMemoSize
	}

	return &Allocator{
		names: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Username returns the display name for correlationKey, generating one on first use.
func (a *Allocator) Username(correlationKey string) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if name, ok := a.names.Get(correlationKey); ok {
		return name
	}

	name := generateName()
	a.names.Add(correlationKey, name)

	return name
}

// Len returns the number of memoized keys.
func (a *Allocator) Len() int {
	return a.names.Len()
}

func generateName() string {
	adj, err := randx.Intn(len(adjectives))
	if err != nil {
		logx.Error(err, "Failed to pick username adjective")
		return fallbackName
	}

	noun, err := randx.Intn(len(nouns))
	if err != nil {
		logx.Error(err, "Failed to pick username noun")
		return fallbackName
	}

	return adjectives[adj] + " " + nouns[noun]
}
