/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting, validating
the room, upgrading the HTTP connection to WebSocket, and initiating the client lifecycle. The user
is identified later by the first heartbeat on the socket, not by the upgrade request.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"roomsync/internal/app/room"
	"roomsync/internal/pkg/errs"
	"roomsync/internal/pkg/limiter"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)

		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", logx.AnonymizeIP(ip))
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		manager := managerFrom(r)
		roomKey := chi.URLParam(r, "room")

		rm, err := manager.GetOrCreate(roomKey)
		if err != nil {
			respondRoomError(w, r, err)
			return
		}

		if rm.IsFull() {
			logx.Info("WebSocket connection rejected: Room is full.", "room_key", roomKey)
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomIsFull, manager.Settings().MaxConnections))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := room.NewClient(rm, conn)

		go client.WritePump()

		if !rm.Open(client) {
			logx.Info("WebSocket connection dropped: Room stopped during upgrade.", "room_key", roomKey)
			client.Close(websocket.CloseTryAgainLater, "Room is restarting.")
			return
		}

		logx.Debug("WebSocket connection established and client registered", "client_id", client.ID(), "room_key", roomKey)

		client.ReadPump()
	}
}
