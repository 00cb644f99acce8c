package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/post-studio/internal/config"
	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/llm"
	"github.com/jonathan/post-studio/internal/storage"
)

// commonFlags are shared by the commands that talk to the model.
type commonFlags struct {
	configPath        string
	apiKey            string
	logLevel          string
	generationTimeout time.Duration
	verbose           bool
}

func (f *commonFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn or error")
	cmd.Flags().DurationVar(&f.generationTimeout, "generation-timeout", 0, "Deadline for each generator call")
	cmd.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "Print detailed progress")
}

// loadConfig merges the optional config file, the environment and the flags that were set
// explicitly on cmd.
func (f *commonFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = f.apiKey
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if cmd.Flags().Changed("generation-timeout") {
		cfg.GenerationTimeout = config.Duration(f.generationTimeout)
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = f.verbose
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := cfg.LogLevel
	if cfg.Verbose && level == "info" {
		level = "debug"
	}
	return config.NewLogger(os.Stderr, level)
}

// openStore returns a MinIO-backed store when STORAGE_ENDPOINT is set and an in-memory one
// otherwise.
func openStore(ctx context.Context, logger *slog.Logger) (storage.Store, error) {
	storeCfg, ok, err := storage.ConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	if !ok {
		logger.Info("STORAGE_ENDPOINT not set, keeping artifacts in memory")
		return storage.NewMemoryStore("studio"), nil
	}
	store, err := storage.NewMinIOStore(ctx, storeCfg)
	if err != nil {
		return nil, err
	}
	logger.Info("artifact store ready", "endpoint", storeCfg.Endpoint, "bucket", storeCfg.Bucket)
	return store, nil
}

// generators bundles the model-backed collaborators and the client they share.
type generators struct {
	images   generation.Generator
	captions generation.CaptionGenerator
	client   llm.Client
}

func (g *generators) Close() error {
	return g.client.Close()
}

func newGenerators(ctx context.Context, cfg *config.Config, store storage.Store, logger *slog.Logger) (*generators, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	llmCfg := llm.DefaultConfig()
	if cfg.ImageModel != "" {
		llmCfg = llmCfg.WithModel(llm.TierImage, cfg.ImageModel)
	}
	if cfg.TextModel != "" {
		llmCfg = llmCfg.WithModel(llm.TierStandard, cfg.TextModel)
	}

	client, err := llm.NewClient(ctx, llmCfg, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	timeout := cfg.GenerationTimeout.Std()
	return &generators{
		images:   generation.WithTimeout(llm.NewImageGenerator(client, store, logger), timeout),
		captions: generation.CaptionsWithTimeout(llm.NewCaptionWriter(client, logger), timeout),
		client:   client,
	}, nil
}
