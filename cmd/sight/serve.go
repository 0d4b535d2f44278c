package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sight-dev/sight/internal/config"
	"github.com/sight-dev/sight/internal/sink"
)

func serveCmd() *cobra.Command {
	var (
		addr    string
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a local relay sink for development",
		Long: `Run a local relay sink for development.

The sink accepts WebSocket connections on "/", authenticates the
first text frame against WEB_AUTH_TOKEN, records observations as
events, and echoes event envelopes to every connected client.

Endpoints:
  /          WebSocket relay endpoint
  /messages  recent events as JSON (limit and tag query params)
  /healthz   liveness probe
  /metrics   Prometheus metrics

Examples:
  sight serve
  sight serve --addr :8080 --verbose`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, verbose)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from SINK_ADDR)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func runServe(addr string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := newLogger(level)

	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Sink.Addr
	}

	s := sink.New(cfg.Sink.AuthToken, sink.WithLogger(logger))
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	printBanner()
	fmt.Println("  sink")
	fmt.Println()
	display := addr
	if strings.HasPrefix(display, ":") {
		display = "localhost" + display
	}
	info("relay     ws://%s/", display)
	info("history   http://%s/messages", display)
	info("metrics   http://%s/metrics", display)
	fmt.Println()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		fmt.Println("\n\n  Shutting down...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Close()
	return srv.Shutdown(ctx)
}
