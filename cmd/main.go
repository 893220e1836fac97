/*
Package main is the entry point for the roomsync server.

It is responsible for loading configuration, initializing the global logging system,
connecting the optional presence journal (PostgreSQL) and snapshot mirror (Redis),
starting one room Manager per variant, setting up the HTTP server, and gracefully handling
operating system interrupt signals (SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"roomsync/internal/app/identity"
	"roomsync/internal/app/journal"
	"roomsync/internal/app/mirror"
	"roomsync/internal/app/room"
	"roomsync/internal/configs"
	"roomsync/internal/handler"
	"roomsync/internal/pkg/logx"
)

func main() {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("max_connections_per_room", cfg.MaxConnectionsPerRoom).
		Dur("grace_period", cfg.GracePeriod).
		Dur("heartbeat_timeout", cfg.HeartbeatTimeout).
		Bool("journal", cfg.DatabaseDSN != "").
		Bool("mirror", cfg.RedisAddr != "").
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := room.Deps{
		Names: identity.NewAllocator(identity.DefaultMemoSize, identity.DefaultMemoTTL),
	}
	appDeps := &handler.AppDeps{Config: cfg}

	// Optional presence journal
	var events *journal.Journal
	if cfg.DatabaseDSN != "" {
		pool, err := journal.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			logx.Fatal(err, "Failed to connect to the journal database")
		}
		defer pool.Close()

		events = journal.New(pool, journal.DefaultBufferSize)
		events.Start()

		deps.Journal = events
		appDeps.History = events
		logx.Info("Presence journal enabled")
	}

	// Optional snapshot mirror
	mirrorCtx, stopMirror := context.WithCancel(context.Background())
	defer stopMirror()

	if cfg.RedisAddr != "" {
		rdb, err := mirror.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logx.Fatal(err, "Failed to connect to Redis")
		}

		snapshots := mirror.New(rdb, 2*cfg.HeartbeatTimeout)
		go snapshots.Run(mirrorCtx)
		defer func() {
			if err := snapshots.Close(); err != nil {
				logx.Error(err, "Failed to close Redis client")
			}
		}()

		deps.Mirror = snapshots
		logx.Info("Snapshot mirror enabled", "redis_addr", cfg.RedisAddr)
	}

	// Initialize one room Manager per variant
	appDeps.Managers = map[room.Variant]*room.Manager{
		room.VariantPresence: room.NewManager(room.SettingsFromConfig(cfg, room.VariantPresence), deps),
		room.VariantGame:     room.NewManager(room.SettingsFromConfig(cfg, room.VariantGame), deps),
	}

	// Setup HTTP server and routes
	router := handler.Router(ctx, appDeps)

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("roomsync server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	// Rooms close their WebSocket connections; upgraded connections are not tracked by server.Shutdown.
	for _, manager := range appDeps.Managers {
		manager.Shutdown()
	}

	stopMirror()

	if events != nil {
		events.Close()
		logx.Info("Journal flushed", "dropped_events", events.Dropped())
	}

	logx.Info("Server gracefully stopped.")
}
