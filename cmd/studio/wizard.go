package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/observability"
	"github.com/jonathan/post-studio/internal/pipeline"
	"github.com/jonathan/post-studio/internal/schemas"
	"github.com/jonathan/post-studio/internal/storage"
	"github.com/jonathan/post-studio/internal/types"
)

// Plan actions.
const (
	actionRun    = "run"
	actionSkip   = "skip"
	actionGoTo   = "goto"
	actionFinish = "finish"
)

// Plan is a scripted wizard session: the creative configuration and the steps to apply to it.
type Plan struct {
	Config types.CreativeConfig `json:"config"`
	Steps  []PlanStep           `json:"steps"`
}

// PlanStep is one user action. Stage is only read by goto.
type PlanStep struct {
	Action      string              `json:"action"`
	Stage       int                 `json:"stage,omitempty"`
	Instruction string              `json:"instruction,omitempty"`
	References  []generation.Handle `json:"references,omitempty"`
	Params      map[string]string   `json:"params,omitempty"`
	// MaskFile is an image uploaded before the run and passed as the first input reference.
	// Relative paths resolve against the plan's directory.
	MaskFile string `json:"mask_file,omitempty"`
}

var (
	wizardPlanPath string
	wizardFlags    commonFlags
)

var wizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Drive one pipeline session from a plan file",
	Long: `Runs a pipeline session step by step as described in a plan file. Each step runs or skips
the active stage, goes back to an earlier stage, or finishes early. A caption is generated
when the plan's config has none. A run step for the masked edit names its mask image with
mask_file. The final stage table is printed when the plan ends.`,
	RunE: runWizard,
}

func init() {
	wizardCmd.Flags().StringVar(&wizardPlanPath, "config", "", "Path to the wizard plan JSON")
	_ = wizardCmd.MarkFlagRequired("config")
	wizardFlags.register(wizardCmd)
	rootCmd.AddCommand(wizardCmd)
}

// loadPlan reads and schema-checks a plan file.
func loadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan %s: %w", path, err)
	}
	if err := schemas.ValidatePlan(data); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	var plan Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
	}
	if err := plan.Config.TopicContext.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan config: %w", err)
	}
	dir := filepath.Dir(path)
	for i := range plan.Steps {
		if mask := plan.Steps[i].MaskFile; mask != "" && !filepath.IsAbs(mask) {
			plan.Steps[i].MaskFile = filepath.Join(dir, mask)
		}
	}
	return &plan, nil
}

func runWizard(cmd *cobra.Command, _ []string) error {
	cfg, err := wizardFlags.loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	plan, err := loadPlan(wizardPlanPath)
	if err != nil {
		return err
	}

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

	w := &wizard{
		store:    store,
		captions: gens.captions,
		printer:  observability.NewPrinter(cmd.OutOrStdout()),
		verbose:  cfg.Verbose,
		logger:   logger,
	}
	machine, err := pipeline.NewMachine(pipeline.DefaultStages(), gens.images,
		pipeline.WithLogger(logger),
		pipeline.WithProgress(w.onProgress(cmd.ErrOrStderr())),
	)
	if err != nil {
		return err
	}
	w.machine = machine

	sess, err := w.execute(ctx, plan)
	w.printer.PrintSession(sess, machine.Stages())
	return err
}

// wizard applies plan steps to a single session.
type wizard struct {
	machine  *pipeline.Machine
	store    storage.Store
	captions generation.CaptionGenerator
	printer  *observability.Printer
	verbose  bool
	logger   *slog.Logger
}

//nolint:errcheck // progress goes to stderr
func (w *wizard) onProgress(out io.Writer) pipeline.ProgressCallback {
	return func(ev pipeline.ProgressEvent) {
		if !w.verbose {
			return
		}
		switch ev.Kind {
		case pipeline.EventStageFailed:
			fmt.Fprintf(out, "  ✗ %s: %s\n", ev.Stage, ev.Message)
		case pipeline.EventFinished:
			fmt.Fprintf(out, "  ■ finished\n")
		default:
			fmt.Fprintf(out, "  • %s %s\n", ev.Stage, strings.TrimPrefix(ev.Kind, "stage_"))
		}
	}
}

// execute starts the session and applies every step in order. It stops at the first failing
// step and returns the session as it was before that step.
func (w *wizard) execute(ctx context.Context, plan *Plan) (pipeline.Session, error) {
	cfg := plan.Config
	if strings.TrimSpace(cfg.Caption) == "" {
		variations, err := w.captions.GenerateMany(ctx, cfg.TopicContext, 1)
		if err != nil {
			return w.machine.Reset(), fmt.Errorf("failed to generate caption: %w", err)
		}
		if len(variations) == 0 {
			return w.machine.Reset(), fmt.Errorf("caption generator returned no caption")
		}
		cfg.Caption = variations[0].Caption
		if w.verbose {
			w.printer.PrintVariations(variations)
		}
	}

	sess, err := w.machine.Start(cfg)
	if err != nil {
		return sess, err
	}

	stageCount := len(w.machine.Stages())
	for i, step := range plan.Steps {
		next, err := w.apply(ctx, sess, step)
		if err != nil {
			return sess, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		if err := next.Check(stageCount); err != nil {
			return sess, fmt.Errorf("step %d (%s) left an inconsistent session: %w", i+1, step.Action, err)
		}
		sess = next
		w.logger.Debug("plan step applied", "step", i+1, "action", step.Action, "active_stage", sess.ActiveStage, "phase", sess.Phase)
	}
	return sess, nil
}

func (w *wizard) apply(ctx context.Context, sess pipeline.Session, step PlanStep) (pipeline.Session, error) {
	switch step.Action {
	case actionRun:
		input := &pipeline.StageInput{
			Instruction: step.Instruction,
			References:  step.References,
			Params:      step.Params,
		}
		if step.MaskFile != "" {
			mask, err := w.uploadMask(ctx, step.MaskFile)
			if err != nil {
				return sess, err
			}
			input.References = append([]generation.Handle{mask}, step.References...)
		}
		return w.machine.RunActiveStage(ctx, sess, input)
	case actionSkip:
		return w.machine.Skip(sess)
	case actionGoTo:
		return w.machine.GoTo(sess, step.Stage)
	case actionFinish:
		return w.machine.FinishEarly(sess)
	default:
		return sess, fmt.Errorf("unknown action %q", step.Action)
	}
}

func (w *wizard) uploadMask(ctx context.Context, path string) (generation.Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read mask %s: %w", path, err)
	}
	handle, err := storage.PutImage(ctx, w.store, data)
	if err != nil {
		return "", fmt.Errorf("failed to store mask %s: %w", path, err)
	}
	w.logger.Debug("mask uploaded", "path", path, "handle", handle)
	return handle, nil
}
