/*
Package handler provides the HTTP handlers and routing setup for the roomsync server.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to specific handlers (API and WebSocket).
*/
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"roomsync/internal/app/room"
	"roomsync/internal/pkg/auth/jwt"
	"roomsync/internal/pkg/errs"
	"roomsync/internal/pkg/limiter"
	"roomsync/internal/pkg/logx"
	"roomsync/internal/pkg/metrics"
	"roomsync/internal/pkg/randx"
	"roomsync/internal/pkg/resp"
)

const (
	CreateRate   = 0.05
	CreateBurst  = 2
	JoinRate     = 1
	JoinBurst    = 10
	ConnectRate  = 0.5
	ConnectBurst = 10
)

// Router sets up the main HTTP routing table (chi.Router) for the application.
// It initializes IP-based rate limiters, configures CORS, and applies global and per-route middleware.
// The limiters' background sweeps stop when ctx is cancelled.
func Router(ctx context.Context, deps *AppDeps) http.Handler {
	createLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(CreateRate), CreateBurst)
	joinLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(JoinRate), JoinBurst)
	connectLimiter := limiter.NewIPRateLimiter(ctx, rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		rooms := make(map[string]int, len(deps.Managers))
		for variant, m := range deps.Managers {
			rooms[string(variant)] = m.Len()
		}

		data := map[string]any{
			"status":  "ok",
			"service": "roomsync",
			"rooms":   rooms,
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/{variant}", func(api chi.Router) {
		api.Use(withManager(deps))
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		api.With(createLimiter.Middleware).Post("/rooms", HandleCreateRoom(deps))

		api.Route("/rooms/{room}", func(rr chi.Router) {
			rr.Use(withRoomKey)

			rr.With(joinLimiter.Middleware).Post("/join", HandleJoinRoom(deps))
			rr.Post("/leave", HandleLeaveRoom(deps))
			rr.Get("/snapshot", HandleSnapshot(deps))
			rr.Get("/history", HandleHistory(deps))
		})
	})

	r.With(withManager(deps), withRoomKey).
		Get("/ws/{variant}/{room}", HandleWebSocket(wsUpgrader, connectLimiter))

	return r
}

type ctxKey int

const managerKey ctxKey = iota

// withManager resolves the {variant} route segment to its room.Manager.
func withManager(deps *AppDeps) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			variant, ok := room.ParseVariant(chi.URLParam(r, "variant"))
			if !ok {
				resp.RespondError(w, r, errs.NewError(errs.ErrVariantInvalid))
				return
			}

			manager, ok := deps.Managers[variant]
			if !ok {
				resp.RespondError(w, r, errs.NewError(errs.ErrVariantInvalid))
				return
			}

			ctx := context.WithValue(r.Context(), managerKey, manager)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// withRoomKey rejects malformed {room} route segments.
func withRoomKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !randx.IsValidRoomKey(chi.URLParam(r, "room")) {
			resp.RespondError(w, r, errs.NewError(errs.ErrRoomKeyInvalid))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func managerFrom(r *http.Request) *room.Manager {
	return r.Context().Value(managerKey).(*room.Manager)
}
