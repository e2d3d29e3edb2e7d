// Command texstudio serves the texture editing studio over HTTP, and over
// MCP on stdin/stdout when mcp_stdio is set.
//
//	texstudio [config.yaml]
//
// The config path may also come from TEXSTUDIO_CONFIG. A missing file means
// defaults.
package main

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/texstudio/studio"
)

const version = "0.1.0"

func main() {
	cfgPath := env("TEXSTUDIO_CONFIG", "texstudio.yaml")
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := studio.LoadConfig(cfgPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = studio.DefaultConfig(), nil
	}
	if err != nil {
		slog.Error("config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	// Logging. stdout carries MCP frames when mcp_stdio is on.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	var out io.Writer = os.Stdout
	if cfg.MCPStdio {
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := studio.New(cfg, logger)
	if err != nil {
		slog.Error("init studio", "error", err)
		os.Exit(1)
	}
	defer s.Close()
	s.Start(ctx)

	if cfg.MCPStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "texstudio", Version: version}, nil)
		s.RegisterMCP(mcpSrv)
		go func() {
			slog.Info("MCP stdio starting")
			err := mcpSrv.Run(ctx, &mcp.IOTransport{Reader: os.Stdin, Writer: os.Stdout})
			if err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
			cancel()
		}()
	}

	// HTTP server.
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", cfg.Listen, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
