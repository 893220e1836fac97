package handler

import (
	"context"

	"roomsync/internal/app/journal"
	"roomsync/internal/app/room"
	"roomsync/internal/configs"
)

// History reads journaled lifecycle events of one room.
type History interface {
	Recent(ctx context.Context, variant, room string, limit int) ([]journal.Event, error)
}

type AppDeps struct {
	Managers map[room.Variant]*room.Manager
	Config   *configs.AppConfig

	// History is nil when no database is configured.
	History History
}
