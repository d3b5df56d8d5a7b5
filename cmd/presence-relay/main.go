package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/hipresence/presence-relay/internal/config"
	"github.com/hipresence/presence-relay/internal/httpserver"
	"github.com/hipresence/presence-relay/internal/metrics"
	"github.com/hipresence/presence-relay/internal/ratelimit"
	"github.com/hipresence/presence-relay/internal/relay"
	"github.com/hipresence/presence-relay/internal/signaling"
	"github.com/hipresence/presence-relay/internal/turnproxy"
	"github.com/hipresence/presence-relay/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting presence-relay",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"rate_window", cfg.RateWindow,
		"max_per_window", cfg.MaxPerWindow,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"stale_after", cfg.StaleAfter,
		"room_member_cap", cfg.RoomMemberCap,
		"room_default_quorum", cfg.RoomDefaultQuorum,
		"turn_proxy_configured", cfg.TURNProxyURL != "",
		"turn_rest_enabled", cfg.TURNREST.Enabled(),
	)

	var turnGen *turnrest.Generator
	if cfg.TURNREST.Enabled() {
		turnGen, err = turnrest.NewGenerator(turnrest.Config{
			SharedSecret:   cfg.TURNREST.SharedSecret,
			TTL:            cfg.TURNREST.TTL,
			UsernamePrefix: cfg.TURNREST.UsernamePrefix,
		})
		if err != nil {
			logger.Error("failed to configure turn rest credentials", "err", err)
			os.Exit(2)
		}
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)

	m := metrics.New()
	conns := relay.NewRegistry(ratelimit.RealClock{}, cfg.RateWindow, cfg.MaxPerWindow)
	rooms := relay.NewRoomRegistry(logger, m, cfg.RoomMemberCap, cfg.RoomDefaultQuorum)
	router := relay.NewRouter(logger, m, conns, rooms)

	monitor := relay.NewMonitor(logger, m, ratelimit.RealClock{}, conns, router, cfg.HeartbeatInterval, cfg.StaleAfter)
	monitor.Start()
	defer monitor.Close()

	srv := httpserver.New(cfg, logger, m, turnGen, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	ws := signaling.NewWebSocketServer(signaling.Config{
		Log:             logger,
		Router:          router,
		MaxMessageBytes: cfg.MaxSignalMessageBytes,
		SendQueue:       cfg.SendQueueMessages,
	})
	srv.Mux().Handle("GET /signal", ws)

	srv.Mux().Handle("GET /turn", turnproxy.New(logger, cfg.TURNProxyURL, cfg.TURNProxyTimeout))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, built string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if built == "" {
					built = s.Value
				}
			}
		}
	}

	return commit, built
}
