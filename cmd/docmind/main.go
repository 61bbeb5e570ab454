// Command docmind runs the document intelligence service: HTTP gateway,
// event dispatcher and the extraction/embedding/analysis pipeline, all over
// a single SQLite database.
//
// Usage:
//
//	docmind -config docmind.yaml
//	docmind                        # built-in defaults
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docmind/audit"
	"github.com/hazyhaar/docmind/blob"
	"github.com/hazyhaar/docmind/config"
	"github.com/hazyhaar/docmind/dbopen"
	"github.com/hazyhaar/docmind/dispatch"
	"github.com/hazyhaar/docmind/docpipe"
	"github.com/hazyhaar/docmind/gateway"
	"github.com/hazyhaar/docmind/notify"
	"github.com/hazyhaar/docmind/pipeline"
	"github.com/hazyhaar/docmind/rag"
	"github.com/hazyhaar/docmind/ratelimit"
	"github.com/hazyhaar/docmind/store"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to docmind.yaml config file")
	listen := flag.String("listen", "", "listen address (overrides config)")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *listen); err != nil {
		logger.Error("docmind: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, listen string) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if listen != "" {
		cfg.Listen = listen
	}

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	st, err := store.New(db)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	blobs, err := blob.NewStore(cfg.BlobDir)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}
	auditLog, err := audit.New(db)
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}

	dispatcher := dispatch.New(db, dispatch.Options{Logger: logger})
	if err := dispatcher.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("init dispatcher: %w", err)
	}

	retrieval := rag.New(st, rag.EmbedderFor(pipeline.StoreEmbedderFor(st, logger)), rag.Options{
		Logger: logger,
	})

	pipe := pipeline.New(pipeline.Options{
		Store:      st,
		Blobs:      blobs,
		Dispatcher: dispatcher,
		Extractor:  docpipe.New(docpipe.Config{Logger: logger}),
		Retrieval:  retrieval,
		AuditLog:   auditLog,
		Logger:     logger,
		Chunking:   cfg.Chunking,
		BatchSize:  cfg.Embedding.BatchSize,
		Retries:    cfg.Retries,
	})
	if err := pipe.Register(); err != nil {
		return fmt.Errorf("register pipeline: %w", err)
	}

	if len(cfg.Webhooks) > 0 {
		endpoints := make([]notify.Endpoint, len(cfg.Webhooks))
		for i, w := range cfg.Webhooks {
			endpoints[i] = notify.Endpoint{URL: w.URL, Secret: w.Secret, Events: w.Events}
		}
		fanout := notify.New(endpoints, notify.Options{Logger: logger})
		if err := pipeline.RegisterNotifications(dispatcher, fanout); err != nil {
			return fmt.Errorf("register webhooks: %w", err)
		}
		logger.Info("webhook fan-out registered", "endpoints", len(endpoints))
	}

	limiter := ratelimit.New(ratelimit.Options{
		Rate:  float64(cfg.RateLimit.RequestsPerMinute) / 60,
		Burst: cfg.RateLimit.Burst,
	})

	gw := gateway.New(gateway.Options{
		Pipeline:  pipe,
		Store:     st,
		Retrieval: retrieval,
		Limiter:   limiter,
		Logger:    logger,
	})
	router := gw.Router()

	// MCP over streamable HTTP, mounted next to the REST API.
	mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "docmind", Version: version}, nil)
	rag.RegisterMCP(mcpSrv, retrieval)
	router.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return mcpSrv
	}, nil))

	if err := registerMaintenance(dispatcher, auditLog, logger); err != nil {
		return fmt.Errorf("register maintenance: %w", err)
	}

	go dispatcher.Run(ctx)
	go emitMaintenance(ctx, dispatcher, logger)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

const (
	eventAuditCleanup  = "maintenance/audit.cleanup"
	auditRetentionDays = 90
	maintenanceEvery   = 24 * time.Hour
)

// registerMaintenance subscribes the periodic housekeeping jobs. Cron here
// is just a self-emitted event, so the work shares the dispatcher's retry
// and visibility semantics.
func registerMaintenance(d *dispatch.Dispatcher, auditLog *audit.Logger, logger *slog.Logger) error {
	return d.Subscribe(dispatch.Subscription{
		Name:       "maintenance.audit",
		Event:      eventAuditCleanup,
		MaxRetries: 1,
		// One cleanup in flight at a time.
		Key: func([]byte) string { return "audit-cleanup" },
		Handler: func(ctx context.Context, job *dispatch.Job) error {
			removed, err := auditLog.Cleanup(ctx, auditRetentionDays)
			if err != nil {
				return err
			}
			logger.Info("audit retention applied", "removed", removed, "days", auditRetentionDays)
			return nil
		},
	})
}

func emitMaintenance(ctx context.Context, d *dispatch.Dispatcher, logger *slog.Logger) {
	ticker := time.NewTicker(maintenanceEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Emit(ctx, eventAuditCleanup, struct{}{}); err != nil {
				logger.Warn("emit maintenance event failed", "error", err)
			}
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
