package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/post-studio/internal/batch"
	"github.com/jonathan/post-studio/internal/config"
	"github.com/jonathan/post-studio/internal/observability"
	"github.com/jonathan/post-studio/internal/types"
)

var (
	batchTopic    types.TopicContext
	batchQuantity int
	batchDelay    time.Duration
	batchFlags    commonFlags
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Generate several independent post variants",
	Long: `Generates N caption variations in one call, then one image per variation, strictly in order
with a pause between jobs. Failed jobs do not stop the run. Ctrl-C cancels before the next job;
the summary reports jobs that were never attempted.`,
	RunE: runBatch,
}

func init() {
	batchCmd.Flags().StringVar(&batchFlags.configPath, "config", "", "Path to studio config JSON (values can be overridden by flags)")
	batchCmd.Flags().StringVar(&batchTopic.Topic, "topic", "", "What the posts are about")
	batchCmd.Flags().StringVar(&batchTopic.Platform, "platform", "instagram", "Target platform")
	batchCmd.Flags().StringVar(&batchTopic.Style, "style", "", "Visual style")
	batchCmd.Flags().StringVar(&batchTopic.Tone, "tone", "", "Tone of voice")
	batchCmd.Flags().StringVar(&batchTopic.AspectRatio, "aspect-ratio", "1:1", "Image aspect ratio")
	batchCmd.Flags().StringVar(&batchTopic.Audience, "audience", "", "Intended audience (optional)")
	batchCmd.Flags().StringVar(&batchTopic.Language, "language", "", "BCP 47 language tag (optional)")
	batchCmd.Flags().IntVarP(&batchQuantity, "quantity", "n", 3, fmt.Sprintf("Number of variants (%d-%d)", batch.MinQuantity, batch.MaxQuantity))
	batchCmd.Flags().DurationVar(&batchDelay, "delay", 0, "Pause between jobs (defaults to the configured batch delay)")
	_ = batchCmd.MarkFlagRequired("topic")
	batchFlags.register(batchCmd)
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, _ []string) error {
	cfg, err := batchFlags.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("delay") {
		cfg.BatchDelay = config.Duration(batchDelay)
	}
	if err := batchTopic.Validate(); err != nil {
		return fmt.Errorf("invalid topic: %w", err)
	}
	logger := newLogger(cfg)

	ctx := cmd.Context()
	store, err := openStore(ctx, logger)
	if err != nil {
		return err
	}
	gens, err := newGenerators(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer gens.Close()

	printer := observability.NewPrinter(cmd.OutOrStdout())
	orchestrator, err := batch.NewOrchestrator(gens.images, gens.captions,
		batch.WithDelay(cfg.BatchDelay.Std()),
		batch.WithLogger(logger),
		batch.WithProgress(printer.PrintProgress),
	)
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := orchestrator.Launch(sigCtx, batchTopic, batchQuantity)
	if err != nil {
		return err
	}
	return runToCompletion(ctx, sigCtx, orchestrator, run, printer)
}

// runToCompletion advances run until it finishes, cancelling it at the next job boundary
// once interrupt is done. The final status table is printed either way.
func runToCompletion(ctx, interrupt context.Context, orchestrator *batch.Orchestrator, run *batch.Run, printer *observability.Printer) error {
	loopDone := make(chan struct{})
	g := new(errgroup.Group)

	g.Go(func() error {
		defer close(loopDone)
		return orchestrator.Advance(ctx, run)
	})
	g.Go(func() error {
		select {
		case <-interrupt.Done():
			run.Cancel()
		case <-loopDone:
		}
		return nil
	})

	err := g.Wait()
	printer.PrintBatch(run.Snapshot())
	return err
}
