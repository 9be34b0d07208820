// Command likeisaid runs the Like-I-Said memory MCP server.
//
// Memories and tasks live as markdown files with YAML front-matter under
// plain directories; the server exposes them to AI assistants over stdio
// JSON-RPC 2.0 (MCP protocol), with an optional Streamable HTTP transport.
//
// Optional environment variables:
//
//	MEMORY_DIR            - memories root (default: ./memories)
//	TASK_DIR              - tasks root (default: ./tasks)
//	DATA_DIR              - data root for settings, backups, vectors (default: ./data)
//	LIKEISAID_LOG_LEVEL   - log level: debug, info, warn, error (default: info)
//
// Remaining settings load from <dataRoot>/settings.json; any key can be
// overridden through a LIKEISAID_* environment variable ("." becomes "_",
// e.g. LIKEISAID_FEATURES_AUTOBACKUP=false).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/backup"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/bus"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/config"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/content"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/guard"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/linker"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/mcp"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/scheduler"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/store"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/tools/admin"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/tools/memories"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/tools/tasks"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/vector"
	"github.com/endlessblink/Like-I-Said-memory-mcp-server-sub000/internal/watcher"
)

// Version is set via ldflags at build time.
var Version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "likeisaid: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "info" {
		return runInfo(args[1:])
	}

	fs := flag.NewFlagSet("likeisaid", flag.ContinueOnError)
	httpMode := fs.Bool("http", false, "serve the Streamable HTTP transport instead of stdio")
	httpAddr := fs.String("http-addr", "", "HTTP listen address (default from config)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *httpMode {
		cfg.HTTP.Enabled = true
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}

	// Set up structured logging to stderr (stdout is for MCP protocol)
	logger := newLogger(cfg)
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}

	version := cfg.Server.Version
	if Version != "dev" {
		version = Version
	}

	logger.Info("starting like-i-said",
		"version", version,
		"memories", cfg.Roots.Memories,
		"tasks", cfg.Roots.Tasks,
		"data", cfg.Roots.Data,
	)

	// Set up signal handling
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// A second writer on the same data root degrades to read-only tools.
	lock, owned, err := guard.AcquireProcessLock(cfg.Roots.LockFile())
	if err != nil {
		return fmt.Errorf("acquiring process lock: %w", err)
	}
	if owned {
		defer lock.Release()
	} else {
		logger.Warn("another process holds the write lock, serving read-only tools",
			"lock", cfg.Roots.LockFile())
	}

	st, err := store.Open(cfg.Roots, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// Semantic search assists only the write path (auto-linking and index
	// upkeep), so the read-only process never opens the shared vector db.
	idx := vector.Disabled()
	if owned && cfg.SemanticEnabled() {
		eng := vector.NewOllamaEngine(cfg.Ollama.URL, cfg.Ollama.Model)
		idx = vector.Open(ctx, cfg.Roots.VectorsDir(), eng, logger)
	}
	defer idx.Close()

	backups := backup.NewManager(st, logger, backup.Options{
		Keep:     cfg.Features.MaxBackups,
		Interval: cfg.Features.BackupInterval,
		Version:  version,
	})
	autoLinker := linker.New(st, idx, logger)

	// A panic that escapes the serve loop still leaves a restorable snapshot.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in server loop, taking emergency backup", "panic", r)
			if owned {
				if _, err := backups.Snapshot(context.Background(), backup.ReasonEmergency); err != nil {
					logger.Error("emergency backup failed", "error", err)
				}
			}
			panic(r)
		}
	}()

	// Watch the roots for external edits; when inotify is unavailable the
	// hourly index refresh reconciles instead.
	broker := bus.NewBroker(logger)
	defer broker.Close()
	w, err := watcher.New(st, broker, logger)
	if err != nil {
		logger.Warn("file watcher unavailable, relying on periodic rescan", "error", err)
	} else {
		w.Start(ctx)
		defer w.Close()
	}

	sched := scheduler.New(logger)
	if owned && cfg.Features.AutoBackup {
		sched.Add(scheduler.AutoBackup(backups), cfg.Features.BackupInterval)
	}
	sched.Add(scheduler.IndexRefresh(st, idx), time.Hour)
	sched.Start(ctx)
	defer sched.Stop()

	// Create tool registry and register tools
	registry := mcp.NewRegistry()

	// Read tools are always available.
	if owned {
		registry.Register(memories.NewGet(st, logger))
	} else {
		registry.Register(memories.NewGetReadOnly(st, logger))
	}
	registry.Register(memories.NewList(st))
	registry.Register(memories.NewSearch(st))
	registry.Register(tasks.NewList(st))
	registry.Register(tasks.NewContext(st, logger))
	registry.Register(admin.NewTest(cfg.Server.Name, version))
	registry.Register(admin.NewListBackups(backups))
	registry.Register(admin.NewHealthCheck(backups))

	// Write tools require the process lock.
	if owned {
		registry.Register(memories.NewAdd(st, idx, logger))
		registry.Register(memories.NewDelete(st, idx, backups, logger))
		registry.Register(tasks.NewCreate(st, autoLinker, idx, logger))
		registry.Register(tasks.NewUpdate(st, autoLinker, idx, logger))
		registry.Register(tasks.NewDelete(st, idx, backups, logger))
		registry.Register(admin.NewBackupNow(backups, logger))
		registry.Register(admin.NewRestoreBackup(backups, logger))
	}

	// Register prompts and resources
	registry.RegisterPrompt(&content.GuidePrompt{})
	registry.RegisterResource(&content.UsageGuideResource{})
	registry.RegisterResource(&content.EntityModelResource{})

	// Create and run MCP server
	server := mcp.NewServer(registry, mcp.ServerInfo{
		Name:    cfg.Server.Name,
		Version: version,
	}, mcp.DefaultCallTimeout, logger)

	// Forward change events as push notifications. The HTTP transport has
	// no push stream, so Notify quietly drops them there.
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub.C {
			if err := server.Notify("notifications/"+string(ev.Type), ev.Data); err != nil {
				logger.Warn("failed to push change notification", "type", ev.Type, "error", err)
			}
		}
	}()

	if cfg.HTTP.Enabled {
		return serveHTTP(ctx, server, cfg, logger)
	}
	return server.Run(ctx)
}

// serveHTTP runs the Streamable HTTP transport until ctx is cancelled.
func serveHTTP(ctx context.Context, server *mcp.Server, cfg *config.Config, logger *slog.Logger) error {
	token := ""
	if cfg.Auth.Enabled {
		token = cfg.Auth.Token
	}
	transport := mcp.NewHTTPServer(server, token, cfg.HTTP.CORSOrigins, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           transport.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http transport listening", "addr", cfg.HTTP.Addr, "auth", cfg.Auth.Enabled)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http transport: %w", err)
		}
		logger.Info("http transport stopped")
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http transport: %w", err)
		}
		return nil
	}
}

// newLogger builds the slog JSON logger: stderr always, plus a rotating
// file when one is configured.
func newLogger(cfg *config.Config) *slog.Logger {
	var out io.Writer = os.Stderr
	if cfg.Log.File != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    10, // megabytes
			MaxBackups: 5,
			MaxAge:     28, // days
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
