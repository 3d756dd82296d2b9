// ABOUTME: Development auth backend speaking the GoTrue REST subset vent uses
// ABOUTME: Usage: vent-fakeauth [-addr 127.0.0.1:9999]; OTP codes are printed to the log

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/vent-auth/internal/config"
	"github.com/2389/vent-auth/internal/fakeauth"
)

func main() {
	addr := flag.String("addr", "", "listen address (overrides fakeauth.addr)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addrOverride string) error {
	cfg, err := config.Load(config.Path())
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	listenAddr := cfg.FakeAuth.Addr
	if addrOverride != "" {
		listenAddr = addrOverride
	}

	if cfg.FakeAuth.JWTSecret == "" {
		logger.Warn("no fakeauth.jwt_secret configured, sessions will not survive a restart")
	}
	srv := fakeauth.New(fakeauth.Options{
		Secret:     []byte(cfg.FakeAuth.JWTSecret),
		SessionTTL: cfg.FakeAuth.SessionTTL,
		Logger:     logger,
	})

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}

	green := color.New(color.FgGreen)
	green.Print("▶ ")
	fmt.Printf("fakeauth listening on http://%s (session ttl %s)\n", listener.Addr(), cfg.FakeAuth.SessionTTL)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		logger.Error("server error", "error", serverErr)
	}

	// The signal context is already done
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && serverErr == nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return serverErr
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
