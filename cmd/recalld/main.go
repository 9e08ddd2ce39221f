// recalld is the recall engine daemon: an HTTP API and an MCP stdio
// server over the same storage, plus a consolidation batch command.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/m-mizutani/clog"
	"github.com/spf13/cobra"

	"github.com/AvaPrime/recall-engine/internal/api"
	"github.com/AvaPrime/recall-engine/internal/config"
	"github.com/AvaPrime/recall-engine/internal/consolidate"
	"github.com/AvaPrime/recall-engine/internal/embedder"
	"github.com/AvaPrime/recall-engine/internal/mcp"
	"github.com/AvaPrime/recall-engine/internal/recall"
	"github.com/AvaPrime/recall-engine/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "recalld",
		Short:         "Hybrid recall engine over archived AI conversations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to TOML config file")

	root.AddCommand(
		newServeCmd(&configPath),
		newConsolidateCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// setupLogging routes structured logs to stderr; stdout stays free for
// the MCP protocol
func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	handler := clog.New(
		clog.WithWriter(os.Stderr),
		clog.WithLevel(logLevel),
		clog.WithTimeFmt("15:04:05"),
		clog.WithSource(false),
	)
	slog.SetDefault(slog.New(handler))
}

// openEngine loads config and wires storage, embedder, and service
func openEngine(configPath string) (config.Config, *recall.Service, storage.Storage, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, nil, err
	}
	setupLogging(cfg.LogLevel)

	dbPath := cfg.DBPath
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, nil, nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir := filepath.Join(home, ".recall-engine")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return cfg, nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dbPath = filepath.Join(dir, "recall.db")
	}

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	var emb embedder.Embedder
	if cfg.Embedding.Provider != "" {
		emb, err = embedder.New(embedder.Config{
			Provider:  cfg.Embedding.Provider,
			Host:      cfg.Embedding.Host,
			CacheSize: cfg.Embedding.CacheSize,
			RateLimit: float64(cfg.Embedding.RateLimit),
		})
	} else {
		emb, err = embedder.NewFromEnv()
	}
	if err != nil {
		_ = store.Close()
		return cfg, nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	service := recall.New(store, emb, recall.Config{
		CacheSize:    cfg.Search.CacheSize,
		CacheTTL:     cfg.Search.CacheTTL(),
		StitchWindow: cfg.Search.StitchWindow,
		MaxK:         cfg.Search.MaxK,
		VectorBudget: cfg.Search.VectorBudget(),
		Consolidation: consolidate.Config{
			Epsilon:          cfg.Consolidation.Epsilon,
			MinClusterSize:   cfg.Consolidation.MinClusterSize,
			NearDupThreshold: cfg.Consolidation.NearDupThreshold,
		},
	})
	return cfg, service, store, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	var useMCP bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the recall API over HTTP, or MCP on stdio with --mcp",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if useMCP {
				cfg, err := config.Load(*configPath)
				if err != nil {
					return err
				}
				setupLogging(cfg.LogLevel)

				server, err := mcp.NewServer(cfg.DBPath)
				if err != nil {
					return err
				}
				slog.Info("mcp server ready, listening on stdio",
					"version", version, "build_mode", storage.BuildMode)
				return server.Serve(ctx)
			}

			cfg, service, store, err := openEngine(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			httpServer := &http.Server{
				Addr:    cfg.HTTP.Addr,
				Handler: api.NewServer(service).Router(),
			}

			errChan := make(chan error, 1)
			go func() {
				slog.Info("http server listening",
					"addr", cfg.HTTP.Addr,
					"version", version,
					"build_mode", storage.BuildMode,
					"vector_extension", storage.VectorExtensionAvailable)
				errChan <- httpServer.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				slog.Info("shutting down")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			case err := <-errChan:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			}
		},
	}
	cmd.Flags().BoolVar(&useMCP, "mcp", false, "serve the MCP protocol on stdio instead of HTTP")
	return cmd
}

func newConsolidateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			_, service, store, err := openEngine(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			run, err := service.Consolidate(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("generation %d: %d clusters, %d cards, %d duplicates, coverage %.2f (%s)\n",
				run.Generation, run.ClustersCreated, run.CardsCreated,
				run.DuplicatesFound, run.Coverage, run.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("recalld %s\n", version)
			fmt.Printf("Build Time: %s\n", buildTime)
			fmt.Printf("Build Mode: %s\n", storage.BuildMode)
			fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
			fmt.Printf("Vector Extension: %v\n", storage.VectorExtensionAvailable)
		},
	}
}
