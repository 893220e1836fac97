package room

import (
	"time"

	"roomsync/internal/configs"
)

// Variant selects which features a room offers.
type Variant string

const (
	// VariantPresence tracks who is in the room and nothing else.
	VariantPresence Variant = "presence"

	// VariantGame adds cursor colors, mouse positions and free-form game attributes.
	VariantGame Variant = "game"
)

// ParseVariant maps a route segment to a Variant.
func ParseVariant(s string) (Variant, bool) {
	switch Variant(s) {
	case VariantPresence, VariantGame:
		return Variant(s), true
	default:
		return "", false
	}
}

// HasGameState reports whether the variant carries colors, mouse positions and actions.
func (v Variant) HasGameState() bool {
	return v == VariantGame
}

// Settings are the tunables of one room. All rooms of a Manager share the same Settings.
type Settings struct {
	Variant Variant

	// MaxConnections caps both open connections and present users.
	MaxConnections int

	// GracePeriod is how long a disconnected user is kept before removal.
	GracePeriod time.Duration

	// HeartbeatTimeout is the silence after which a user is treated as disconnected.
	HeartbeatTimeout time.Duration

	SweepInterval time.Duration

	// BroadcastMinInterval drops flushes that fire sooner than this after the previous one.
	BroadcastMinInterval time.Duration

	// BroadcastBatchDelay is how long dirty marks are coalesced before a flush.
	BroadcastBatchDelay time.Duration

	MouseDistanceThreshold float64
	MousePrecision         int
	MouseInactivity        time.Duration

	// IdleTimeout stops a room that has had no users and no connections for this long.
	IdleTimeout time.Duration

	// HideReconnecting filters users inside their grace window out of snapshots. It is off
	// by default: grace users are broadcast with IsReconnecting set, so a reconnect within
	// the grace period never reaches other clients as a leave followed by a join.
	HideReconnecting bool

	// PaletteSize is the number of cursor colors before the rotation wraps.
	PaletteSize int
}

// SettingsFromConfig derives room settings for variant from the application config.
func SettingsFromConfig(cfg *configs.AppConfig, variant Variant) Settings {
	return Settings{
		Variant:                variant,
		MaxConnections:         cfg.MaxConnectionsPerRoom,
		GracePeriod:            cfg.GracePeriod,
		HeartbeatTimeout:       cfg.HeartbeatTimeout,
		SweepInterval:          cfg.SweepInterval,
		BroadcastMinInterval:   cfg.BroadcastMinInterval,
		BroadcastBatchDelay:    cfg.BroadcastBatchDelay,
		MouseDistanceThreshold: cfg.MouseDistanceThreshold,
		MousePrecision:         cfg.MousePrecision,
		MouseInactivity:        cfg.MouseInactivity,
		IdleTimeout:            cfg.RoomIdleTimeout,
		HideReconnecting:       cfg.HideReconnecting,
	}
}
