// Command loomd is a minimal example entrypoint wiring loom's App to a
// static-route handler table, ambient config, structured logging, and a
// Prometheus /metrics endpoint — the shape
// indigo-web-indigo/cmd/examples entries take, generalized to this
// module's own config and server packages.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomhttp/loom"
	"github.com/loomhttp/loom/config"
	"github.com/loomhttp/loom/handler"
	"github.com/loomhttp/loom/http/status"
	"github.com/loomhttp/loom/message"
	"github.com/loomhttp/loom/router"
	"github.com/loomhttp/loom/server"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	metrics := server.NewMetrics(reg)

	ctx := &server.Context{
		Logger:         logger,
		SafeMode:       cfg.SafeMode,
		Metrics:        metrics,
		MaxBodyBytes:   cfg.NET.MaxBodyBytes,
		ReadBufferSize: cfg.NET.ReadBufferSize,
	}

	table := router.New()
	table.Handle("GET", "/", func() handler.Inbound { return &echoHandler{} })
	ctx.Lookup = table.Lookup

	app := loom.New(ctx).Listen(cfg.NET.Addr)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, reg, logger)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-sigCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.GracefulStop(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown incomplete", "error", err)
		}
	}()

	logger.Info("listening", "addr", cfg.NET.Addr)
	if err := app.Serve(); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Log) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("metrics server stopped", "error", err)
	}
}

// echoHandler is a trivial handler.Inbound implementation used only to
// give loomd something to serve out of the box.
type echoHandler struct {
	reply handler.Reply
}

func (h *echoHandler) Initialize(reply handler.Reply) { h.reply = reply }

func (h *echoHandler) OnHeaders(req *message.Request) {
	resp := message.NewResponse().WithCode(status.OK)
	resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	body := []byte("ok\n")
	resp.Headers.Set("Content-Length", "3")
	h.reply.SendHeaders(resp, body, nil)
}

func (h *echoHandler) OnData(chunk []byte) int { return len(chunk) }

func (h *echoHandler) OnClose(err error) {
	// Nothing to release; the core already finished the request.
}
