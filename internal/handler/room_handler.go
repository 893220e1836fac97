/*
Package handler provides HTTP handler functions for creating rooms and for joining, leaving
and inspecting them.
*/
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"roomsync/internal/app/journal"
	"roomsync/internal/app/room"
	"roomsync/internal/app/user"
	"roomsync/internal/pkg/auth/jwt"
	"roomsync/internal/pkg/errs"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/randx"
	"roomsync/internal/pkg/req"
	"roomsync/internal/pkg/resp"
)

// DefaultHistoryLimit is used when the history request has no limit parameter.
const DefaultHistoryLimit = 50

// HandleCreateRoom creates an HTTP HandlerFunc that allocates a fresh room key and starts its room.
func HandleCreateRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manager := managerFrom(r)

		roomKey, err := randx.RoomCode()
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		if _, err := manager.GetOrCreate(roomKey); err != nil {
			respondRoomError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{
			"roomKey": roomKey,
		})
	}
}

type JoinRoomInput struct {
	UserID   string `json:"userId,omitempty" validate:"omitempty,max=128"`
	Username string `json:"username,omitempty" validate:"omitempty,max=256"`
}

type AssignedAttributes struct {
	CursorColor string `json:"cursorColor,omitempty"`
}

type JoinRoomOutput struct {
	Success            bool               `json:"success"`
	UserID             string             `json:"userId"`
	Username           string             `json:"username"`
	AssignedAttributes AssignedAttributes `json:"assignedAttributes"`
	Token              string             `json:"token"`
}

// HandleJoinRoom processes the request to join a room.
//
// A bearer token issued by an earlier join of the same room pins the user id, so a reload
// keeps its identity even if the client lost its stored id.
func HandleJoinRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manager := managerFrom(r)
		roomKey := chi.URLParam(r, "room")
		variant := string(manager.Variant())

		var input JoinRoomInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		userID := input.UserID
		if identity := jwt.GetPayloadFromContext(r); identity != nil && identity.Room == roomKey && identity.Variant == variant {
			userID = identity.ID
		}

		if userID != "" && !randx.IsValidUserID(userID) {
			logx.Warn("Invalid user id in join request", "room_key", roomKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		var result room.JoinResult
		err := manager.Do(r.Context(), roomKey, func(ctx context.Context, rm *room.Room) error {
			var joinErr error
			result, joinErr = rm.Join(ctx, room.JoinRequest{UserID: userID, Username: input.Username})
			return joinErr
		})
		if err != nil {
			respondRoomError(w, r, err)
			return
		}

		payload := &jwt.Payload{
			ID:      result.UserID,
			Room:    roomKey,
			Variant: variant,
		}

		tokenString, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.RoomTokenExpiration)
		if err != nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		resp.RespondSuccess(w, r, JoinRoomOutput{
			Success:            true,
			UserID:             result.UserID,
			Username:           result.Username,
			AssignedAttributes: AssignedAttributes{CursorColor: result.CursorColor},
			Token:              tokenString,
		})
	}
}

type LeaveRoomInput struct {
	UserID string `json:"userId" validate:"required,max=128"`
}

// HandleLeaveRoom removes a user from a room. Leaving a room the user is not in succeeds.
func HandleLeaveRoom(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manager := managerFrom(r)
		roomKey := chi.URLParam(r, "room")

		var input LeaveRoomInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		// leaving never needs a running room
		rm := manager.Get(roomKey)
		if rm == nil {
			resp.RespondSuccess(w, r, map[string]any{"success": true, "removed": false})
			return
		}

		removed, err := rm.Leave(r.Context(), input.UserID)
		if err != nil && !errs.HasCode(err, errs.ErrRoomClosed) {
			respondRoomError(w, r, err)
			return
		}

		resp.RespondSuccess(w, r, map[string]any{"success": true, "removed": removed})
	}
}

type SnapshotOutput struct {
	Users []user.User `json:"users"`
	Count int         `json:"count"`
}

// HandleSnapshot returns the users a broadcast of the room would contain right now.
func HandleSnapshot(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		manager := managerFrom(r)
		roomKey := chi.URLParam(r, "room")

		users := []user.User{}
		if rm := manager.Get(roomKey); rm != nil {
			snapshot, err := rm.Snapshot(r.Context())
			if err != nil && !errs.HasCode(err, errs.ErrRoomClosed) {
				respondRoomError(w, r, err)
				return
			}
			if snapshot != nil {
				users = snapshot
			}
		}

		resp.RespondSuccess(w, r, SnapshotOutput{Users: users, Count: len(users)})
	}
}

// HandleHistory returns the most recent journaled lifecycle events of a room, newest first.
func HandleHistory(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			resp.RespondError(w, r, errs.NewError(errs.ErrJournalUnavailable))
			return
		}

		manager := managerFrom(r)
		roomKey := chi.URLParam(r, "room")

		limit := DefaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 || n > journal.MaxHistoryLimit {
				resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
				return
			}
			limit = n
		}

		events, err := deps.History.Recent(r.Context(), string(manager.Variant()), roomKey, limit)
		if err != nil {
			if journal.IsUndefinedTable(err) {
				resp.RespondError(w, r, errs.NewError(errs.ErrJournalUnavailable))
				return
			}
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
			return
		}

		if events == nil {
			events = []journal.Event{}
		}

		resp.RespondSuccess(w, r, map[string]any{
			"events": events,
			"count":  len(events),
		})
	}
}

// respondRoomError maps errors returned by room calls to a response.
func respondRoomError(w http.ResponseWriter, r *http.Request, err error) {
	var customErr *errs.CustomError
	switch {
	case errors.As(err, &customErr):
		resp.RespondError(w, r, customErr)
	case errors.Is(err, room.ErrManagerClosed):
		resp.RespondError(w, r, errs.NewError(errs.ErrRoomClosed))
	default:
		resp.RespondError(w, r, errs.NewError(errs.ErrUnknown, err))
	}
}
