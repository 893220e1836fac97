/*
Package main is roombot, a load generator for a roomsync server.

It starts a number of agents in one room. Each agent joins, heartbeats and traces a circle
with its cursor (game rooms) until interrupted, then leaves. Run it against a local server
to soak-test capacity, grace handling and broadcast throttling.
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"roomsync/internal/app/agent"
	"roomsync/internal/app/room"
	"roomsync/internal/app/user"
	"roomsync/internal/pkg/logx"
)

func main() {
	_ = godotenv.Load()

	var (
		baseURL   = flag.String("url", envOr("ROOMBOT_URL", "http://localhost:8080"), "server base URL")
		variant   = flag.String("variant", "game", "room variant: presence or game")
		roomKey   = flag.String("room", "loadtest", "room key")
		count     = flag.Int("n", 10, "number of agents")
		heartbeat = flag.Duration("heartbeat", agent.DefaultHeartbeatInterval, "heartbeat interval")
		move      = flag.Duration("move", 33*time.Millisecond, "cursor update interval")
		debug     = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	logx.InitGlobalLogger(true, level)

	v, ok := room.ParseVariant(*variant)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown variant %q\n", *variant)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var snapshots atomic.Int64
	var wg sync.WaitGroup

	agents := make([]*agent.Agent, *count)
	for i := range agents {
		a := agent.New(agent.Config{
			BaseURL:           *baseURL,
			Variant:           v,
			Room:              *roomKey,
			Username:          fmt.Sprintf("bot-%03d", i),
			HeartbeatInterval: *heartbeat,
			MoveInterval:      *move,
			OnSnapshot:        func([]user.User) { snapshots.Add(1) },
		})
		agents[i] = a

		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logx.Error(err, "Agent stopped", "agent", i)
			}
		}()

		if v.HasGameState() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				circle(ctx, a, float64(i), *move)
			}()
		}
	}

	logx.Info("Agents started", "count", *count, "room", *roomKey, "variant", *variant)

	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-report.C:
			logx.Info("Snapshots received", "total", snapshots.Load())
		}
	}

	wg.Wait()

	leaveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, a := range agents {
		if a.UserID() == "" {
			continue
		}
		if err := a.Leave(leaveCtx); err != nil {
			logx.Warn("Leave failed", "user_id", a.UserID(), "error", err.Error())
		}
	}

	logx.Info("Roombot stopped", "snapshots", snapshots.Load())
}

// circle moves a's cursor around a circle whose phase depends on seed.
func circle(ctx context.Context, a *agent.Agent, seed float64, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			angle := seed + now.Sub(start).Seconds()
			a.Move(400+200*math.Cos(angle), 300+200*math.Sin(angle))
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
