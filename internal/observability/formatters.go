// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"

	"github.com/jonathan/post-studio/internal/batch"
	"github.com/jonathan/post-studio/internal/generation"
	"github.com/jonathan/post-studio/internal/pipeline"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintVariations outputs generated captions with their image prompts.
func (p *Printer) PrintVariations(variations []generation.Variation) {
	if len(variations) == 0 {
		return
	}

	var sb strings.Builder
	count := min(len(variations), maxItemsToShow)
	for i := 0; i < count; i++ {
		v := variations[i]
		sb.WriteString(fmt.Sprintf("#%d  %s\n", i+1, v.Caption))
		if v.Prompt != "" {
			sb.WriteString(fmt.Sprintf("    Prompt: %s\n", v.Prompt))
		}
	}
	if len(variations) > maxItemsToShow {
		sb.WriteString(fmt.Sprintf("... and %d more\n", len(variations)-maxItemsToShow))
	}

	p.printBox("CAPTION VARIATIONS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintSession outputs every stage of a session with its recorded outcome.
func (p *Printer) PrintSession(sess pipeline.Session, stages []pipeline.StageDefinition) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Session: %s\n", sess.ID))
	sb.WriteString(fmt.Sprintf("Phase:   %s\n", sess.Phase))
	if sess.Config.Caption != "" {
		sb.WriteString(fmt.Sprintf("Caption: %s\n", sess.Config.Caption))
	}
	sb.WriteString("\n")

	for i, stage := range stages {
		marker := " "
		if sess.Phase == pipeline.PhaseRunning && i == sess.ActiveStage {
			marker = "▶"
		}
		status := "pending"
		if r, ok := sess.Result(i); ok {
			status = string(r.Outcome)
		}
		sb.WriteString(fmt.Sprintf("%s %d. %-14s %s\n", marker, i+1, stage.Label, status))
	}

	if out, ok := pipeline.LatestDoneArtifact(sess); ok {
		sb.WriteString(fmt.Sprintf("\nOutput: %s\n", out))
	}

	p.printBox("PIPELINE SESSION", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintBatch outputs the job table of a batch run followed by its summary.
func (p *Printer) PrintBatch(snap batch.Snapshot) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Run: %s\n\n", snap.ID))

	for _, job := range snap.Jobs {
		sb.WriteString(fmt.Sprintf("%2d  %-10s %s\n", job.Index+1, job.Status, job.Caption))
		switch {
		case job.Status == batch.StatusError:
			sb.WriteString(fmt.Sprintf("    Error (%s): %s\n", job.ErrorCode, job.ErrorDetail))
		case !job.Artifact.Empty():
			sb.WriteString(fmt.Sprintf("    Artifact: %s\n", job.Artifact))
		}
	}

	sb.WriteString("\n")
	if snap.Cancelled {
		sb.WriteString("Cancelled: ")
	}
	sb.WriteString(snap.Summary.String())

	p.printBox("BATCH RUN", sb.String())
}

// PrintProgress writes a single line for a batch progress event.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(ev batch.ProgressEvent) {
	switch ev.Kind {
	case batch.EventJobGenerating:
		fmt.Fprintf(p.out, "  … job %d generating\n", ev.Index+1)
	case batch.EventJobDone:
		fmt.Fprintf(p.out, "  ✓ job %d done\n", ev.Index+1)
	case batch.EventJobError:
		fmt.Fprintf(p.out, "  ✗ job %d failed: %s\n", ev.Index+1, ev.Message)
	case batch.EventRunCancelled:
		fmt.Fprintf(p.out, "  ■ cancelled: %s\n", ev.Message)
	case batch.EventRunComplete:
		fmt.Fprintf(p.out, "  ■ complete: %s\n", ev.Message)
	}
}
