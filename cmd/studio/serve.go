package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/post-studio/internal/config"
	"github.com/jonathan/post-studio/internal/db"
	"github.com/jonathan/post-studio/internal/server"
)

var (
	servePort       int
	serveBatchDelay time.Duration
	serveSessionTTL time.Duration
	serveDB         string
	serveFlags      commonFlags
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start an HTTP server that exposes REST endpoints for pipeline sessions and batch runs.

Artifacts go to the S3-compatible store named by STORAGE_ENDPOINT (in memory otherwise),
generation history to DATABASE_URL when set, and JWT_SECRET turns on bearer auth.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.configPath, "config", "", "Path to studio config JSON (values can be overridden by flags)")
	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")
	serveCmd.Flags().DurationVar(&serveBatchDelay, "batch-delay", 0, "Pause between batch jobs")
	serveCmd.Flags().DurationVar(&serveSessionTTL, "session-ttl", 0, "Evict sessions and runs idle for longer than this")
	serveCmd.Flags().StringVar(&serveDB, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	serveFlags.register(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

// applyServeFlags overrides cfg with the serve flags that were set explicitly.
func applyServeFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("port") {
		cfg.Port = servePort
	}
	if cmd.Flags().Changed("batch-delay") {
		cfg.BatchDelay = config.Duration(serveBatchDelay)
	}
	if cmd.Flags().Changed("session-ttl") {
		cfg.SessionTTL = config.Duration(serveSessionTTL)
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = serveDB
	}
	return cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := serveFlags.loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := applyServeFlags(cmd, cfg); err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	gens, err := newGenerators(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer gens.Close()

	jwtCfg, err := config.OptionalJWTConfig()
	if err != nil {
		return fmt.Errorf("invalid auth configuration: %w", err)
	}
	if jwtCfg == nil {
		logger.Warn("JWT_SECRET not set, API is unauthenticated")
	}

	srvCfg := server.Config{
		Port:       cfg.Port,
		BatchDelay: cfg.BatchDelay.Std(),
		SessionTTL: cfg.SessionTTL.Std(),
		Generator:  gens.images,
		Captions:   gens.captions,
		Store:      store,
		JWT:        jwtCfg,
		Logger:     logger,
	}

	if cfg.DatabaseURL != "" {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to prepare history schema: %w", err)
		}
		srvCfg.History = database
	} else {
		logger.Info("DATABASE_URL not set, generation history is disabled")
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Start(ctx)
}
