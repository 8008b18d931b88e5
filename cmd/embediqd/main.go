// Embediqd is the EmbedIQ backend daemon.
//
// It serves a multi-tenant retrieval-augmented generation API: every
// authenticated caller is mapped to an isolated engine instance with its own
// working directory and vector index, managed behind a bounded LRU pool.
//
// Configuration is loaded from an optional YAML file plus environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with defaults
//	embediqd
//
//	# Start with a config file
//	embediqd -config /etc/embediq/config.yaml
//
//	# Configure via environment
//	SERVER_HTTP_PORT=8000 DATABASE_URL=postgres://... embediqd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/embediq/backend/internal/auth"
	"github.com/embediq/backend/internal/config"
	"github.com/embediq/backend/internal/datasource"
	"github.com/embediq/backend/internal/embeddings"
	"github.com/embediq/backend/internal/engine"
	httpserver "github.com/embediq/backend/internal/http"
	"github.com/embediq/backend/internal/logging"
	"github.com/embediq/backend/internal/manager"
	"github.com/embediq/backend/internal/model"
	"github.com/embediq/backend/internal/postgres"
	"github.com/embediq/backend/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  embediqd           Start the EmbedIQ daemon\n")
			fmt.Fprintf(os.Stderr, "  embediqd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("embediqd\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Initialization order: configuration, logger, database, embeddings and
// completion clients, instance manager, token verifier, HTTP server. On
// cancellation the HTTP server stops accepting requests first, then the
// manager drains every live engine instance.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logging.Sync(logger)

	logger.Info("starting embediqd",
		zap.String("version", version),
		zap.String("commit", gitCommit))

	tel, err := telemetry.New("embediq-backend", version, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}()

	pool, err := postgres.Connect(ctx, postgres.Config{URL: cfg.Database.URL}, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	if err := postgres.VerifyExtensions(ctx, pool); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:         cfg.Embeddings.BaseURL,
		Model:           cfg.Embeddings.Model,
		APIKey:          cfg.Embeddings.APIKey,
		VectorDimension: cfg.Embeddings.VectorDimension,
	}, logger)
	if err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}

	completer := model.New(model.Config{
		Name:        cfg.Model.Name,
		Temperature: cfg.Model.Temperature,
		MaxTokens:   cfg.Model.MaxTokens,
	}, logger)

	factory, err := engine.NewRAGFactory(embedder, completer.CompletionFunc(), pool, engine.RAGConfig{
		ChunkSize:    cfg.Engine.ChunkSize,
		ChunkOverlap: cfg.Engine.ChunkOverlap,
		Compress:     cfg.Engine.Compress,
	}, logger)
	if err != nil {
		return fmt.Errorf("engine factory: %w", err)
	}

	mgr, err := manager.New(manager.Config{
		MaxInstances: cfg.Manager.MaxInstances,
		BaseDataDir:  cfg.Manager.BaseDataDir,
		IdleTTL:      cfg.Manager.IdleTTL,
	}, factory, logger)
	if err != nil {
		return fmt.Errorf("instance manager: %w", err)
	}

	datasources, err := datasource.NewStore(cfg.Manager.BaseDataDir, logger)
	if err != nil {
		return fmt.Errorf("datasource store: %w", err)
	}

	verifier, err := auth.NewVerifier(ctx, auth.Config{
		Domain:   cfg.Auth.Domain,
		Audience: cfg.Auth.Audience,
	}, logger)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	server, err := httpserver.NewServer(&httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, httpserver.Deps{
		Manager:     mgr,
		Verifier:    verifier,
		Store:       postgres.NewStore(pool, logger),
		Datasources: datasources,
		Checks: []httpserver.HealthCheck{
			{Name: "database", Check: func(ctx context.Context) error {
				if err := pool.Ping(ctx); err != nil {
					return err
				}
				return postgres.VerifyExtensions(ctx, pool)
			}},
			{Name: "data_dir", Check: func(context.Context) error {
				return checkWritable(cfg.Manager.BaseDataDir)
			}},
		},
	}, logger)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("manager shutdown error", zap.Error(err))
	}

	return nil
}

// checkWritable probes that dir exists and accepts writes.
func checkWritable(dir string) error {
	probe, err := os.CreateTemp(dir, ".health-*")
	if err != nil {
		return fmt.Errorf("data directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}
