package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"kipgate/internal/config"
	"kipgate/internal/cursor"
	"kipgate/internal/engine"
	"kipgate/internal/graph"
	"kipgate/internal/logging"
	"kipgate/internal/server"
	"kipgate/internal/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool

	// Process logger
	logger *zap.Logger
)

// rootCmd represents the base command; running it without a subcommand
// starts the gateway.
var rootCmd = &cobra.Command{
	Use:   "kipgate",
	Short: "kipgate - Knowledge Query Gateway",
	Long: `kipgate is an HTTP gateway for structured knowledge access.

It accepts KQL (a SQL-like knowledge query language) over HTTP, compiles it
into parameterized plans against a Concept/Proposition property graph, and
returns paginated or aggregated result envelopes with encrypted stateless
cursors. Writes go through the UPSERT dialect.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// serveCmd starts the gateway explicitly.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

// validateCmd checks the configuration without starting the server.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Println("configuration ok")
		return nil
	},
}

func runServe() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(cfg.Logging.Directory, logging.Settings{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		JSONFormat: cfg.Logging.JSONFormat,
		Categories: cfg.Logging.Categories,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.CloseAll()

	key, usingDefault := cfg.CursorKeyWithDefault()
	if usingDefault {
		logger.Warn("CURSOR_KEY is not set; using the built-in default key. " +
			"Cursor tokens are not confidential across deployments.")
	}
	cursors, err := cursor.NewManager(key, cfg.GetCursorTTL())
	if err != nil {
		return fmt.Errorf("failed to initialize cursor manager: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	store, err := graph.Connect(connectCtx, cfg.Store.URI, cfg.Store.User, cfg.Store.Password)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to connect to store: %w", err)
	}
	defer store.Close(context.Background())

	verifyCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = store.Verify(verifyCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("store connectivity check failed: %w", err)
	}
	logger.Info("Connected to graph store", zap.String("uri", cfg.Store.URI))

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	var archive *telemetry.Archive
	if cfg.Telemetry.ArchivePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Telemetry.ArchivePath), 0755); err != nil {
			return fmt.Errorf("failed to create archive directory: %w", err)
		}
		archive, err = telemetry.OpenArchive(cfg.Telemetry.ArchivePath)
		if err != nil {
			return fmt.Errorf("failed to open telemetry archive: %w", err)
		}
		defer archive.Close()
	}

	buf := telemetry.New(telemetry.Options{
		Capacity:      cfg.Telemetry.BufferSize,
		SlowThreshold: cfg.GetSlowQueryThreshold(),
		FlushInterval: cfg.GetFlushInterval(),
		Store:         store,
		Archive:       archive,
		Metrics:       metrics,
	})

	srv := server.New(server.Options{
		Config:    cfg,
		Engine:    engine.New(store, cursors, buf),
		Store:     store,
		Telemetry: buf,
		Gatherer:  registry,
	})

	logger.Info("Starting gateway", zap.Int("port", cfg.Server.Port))
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("gateway exited: %w", err)
	}
	logger.Info("Gateway stopped")
	return nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
