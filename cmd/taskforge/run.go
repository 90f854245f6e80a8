package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/agents"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/orchestrator"
	"github.com/aristath/taskforge/internal/tui"
)

var errInterviewAborted = errors.New("interview aborted before requirements were final")

type runFlags struct {
	requirements   string
	useTUI         bool
	workers        int
	freshKnowledge bool
	details        bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Interview, plan and execute a request",
		Long: `Run the full pipeline.

Without --requirements an interview on stdin collects the requirements first.
Answer in free text or with the number of one of the offered options.`,
		Example: `  taskforge run
  taskforge run --requirements requirements.yaml --workers 4
  taskforge run --requirements requirements.json --tui`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), f)
		},
	}
	cmd.Flags().StringVarP(&f.requirements, "requirements", "r", "", "JSON or YAML requirements document, skips the interview")
	cmd.Flags().BoolVar(&f.useTUI, "tui", false, "Show the dashboard while executing")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Concurrent tasks (overrides limits.workers)")
	cmd.Flags().BoolVar(&f.freshKnowledge, "fresh-knowledge", false, "Ignore the knowledge saved by earlier runs")
	cmd.Flags().BoolVar(&f.details, "details", false, "Print plans and results below log lines")
	return cmd
}

func (a *app) run(ctx context.Context, f runFlags) error {
	if f.workers > 0 {
		a.cfg.Limits.Workers = f.workers
	}

	var doc *agents.RequirementsDoc
	if f.requirements != "" {
		d, err := loadRequirements(f.requirements)
		if err != nil {
			return err
		}
		doc = &d
	}

	if f.useTUI {
		// The dashboard owns the terminal
		logger, err := newLogger(a.cfg.Log, a.verbose, defaultTUILogFile)
		if err != nil {
			return err
		}
		_ = a.logger.Sync()
		a.logger = logger
	}

	bus := events.NewEventBus()
	defer bus.Close()

	p, err := newPipeline(ctx, a.cfg, bus, f.freshKnowledge, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.close(); err != nil {
			a.logger.Warn("Error releasing pipeline resources", zap.Error(err))
		}
	}()

	if doc == nil {
		if err := a.interview(ctx, p.orch); err != nil {
			return err
		}
	}

	work := func(ctx context.Context) (orchestrator.Summary, error) {
		if doc != nil {
			if err := p.orch.PlanFrom(ctx, *doc); err != nil {
				return orchestrator.Summary{}, fmt.Errorf("planning: %w", err)
			}
		} else if err := p.orch.Plan(ctx); err != nil {
			return orchestrator.Summary{}, fmt.Errorf("planning: %w", err)
		}
		return p.orch.Execute(ctx)
	}

	var summary orchestrator.Summary
	if f.useTUI {
		summary, err = a.runWithTUI(ctx, bus, work)
	} else {
		summary, err = a.runWithPrinter(ctx, bus, f.details, work)
	}

	if n := bus.Dropped(); n > 0 {
		a.logger.Debug("Event subscribers fell behind", zap.Uint64("dropped", n))
	}

	snap := p.orch.Snapshot()
	if snap.RunID != "" {
		if kerr := p.saveKnowledge(ctx); kerr != nil {
			a.logger.Warn("Could not save knowledge base", zap.Error(kerr))
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) && snap.RunID != "" {
			fmt.Fprintf(a.out, "Run %s interrupted, %d of %d tasks completed\n", snap.RunID, snap.Progress.Completed, snap.Progress.Total)
		}
		return err
	}

	printSummary(a.out, snap.RunID, summary)
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", summary.Failed, summary.Total)
	}
	return nil
}

// runWithPrinter executes work while bus events are printed to a.out.
func (a *app) runWithPrinter(ctx context.Context, bus *events.EventBus, details bool, work func(context.Context) (orchestrator.Summary, error)) (orchestrator.Summary, error) {
	pr := &printer{out: a.out, details: details}
	sub := bus.SubscribeAll(1024)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		pr.drain(sub)
	}()

	summary, err := work(ctx)
	bus.Close()
	<-drained
	return summary, err
}

// runWithTUI executes work behind the dashboard. Quitting the dashboard
// cancels the run; the dashboard stays open after the run ends.
func (a *app) runWithTUI(ctx context.Context, bus *events.EventBus, work func(context.Context) (orchestrator.Summary, error)) (orchestrator.Summary, error) {
	model := tui.New(bus, a.cfg, a.globalPath, a.projectPath)
	prog := tea.NewProgram(model, tea.WithAltScreen())
	stopQuit := context.AfterFunc(ctx, prog.Quit)
	defer stopQuit()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		summary orchestrator.Summary
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		s, err := work(runCtx)
		done <- outcome{s, err}
	}()

	_, tuiErr := prog.Run()
	cancel()
	res := <-done
	if tuiErr != nil && !errors.Is(tuiErr, tea.ErrProgramKilled) {
		return res.summary, fmt.Errorf("dashboard: %w", tuiErr)
	}
	return res.summary, res.err
}

// interview runs the requirements intake on a.in until it is final.
func (a *app) interview(ctx context.Context, orch *orchestrator.Orchestrator) error {
	scanner := bufio.NewScanner(a.in)
	fmt.Fprintf(a.out, "%s %s\n", colorActor.Sprint("Reflector:"), orch.Greeting())

	var options []string
	for {
		fmt.Fprint(a.out, "> ")
		line, err := readLine(ctx, scanner)
		if errors.Is(err, io.EOF) {
			return errInterviewAborted
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		reply, err := orch.Submit(ctx, chooseOption(line, options))
		if err != nil {
			return fmt.Errorf("interview: %w", err)
		}
		if reply.Fallback {
			fmt.Fprintln(a.out, colorWarning.Sprint(reply.Text))
		} else {
			fmt.Fprintf(a.out, "%s %s\n", colorActor.Sprint("Reflector:"), reply.Text)
		}
		if reply.IsComplete {
			fmt.Fprintln(a.out, colorSuccess.Sprint("Requirements finalized."))
			return nil
		}

		options = reply.Options
		for i, opt := range options {
			fmt.Fprintf(a.out, "  %s %s\n", colorDim.Sprintf("%d.", i+1), opt)
		}
	}
}

// chooseOption resolves a numeric answer to the option it names.
func chooseOption(answer string, options []string) string {
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(options) {
		return answer
	}
	return options[n-1]
}

// readLine reads one line, giving up when ctx is done. Nothing reads ahead,
// so the dashboard can take over the terminal afterwards.
func readLine(ctx context.Context, scanner *bufio.Scanner) (string, error) {
	type result struct {
		line string
		ok   bool
	}
	ch := make(chan result, 1)
	go func() {
		ok := scanner.Scan()
		ch <- result{scanner.Text(), ok}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		if r.ok {
			return r.line, nil
		}
		if err := scanner.Err(); err != nil {
			return "", fmt.Errorf("reading input: %w", err)
		}
		return "", io.EOF
	}
}

func printSummary(w io.Writer, runID string, s orchestrator.Summary) {
	fmt.Fprintf(w, "\nRun %s finished: %s, %s of %d tasks\n",
		runID,
		colorSuccess.Sprintf("%d completed", s.Completed),
		colorError.Sprintf("%d failed", s.Failed),
		s.Total,
	)
	for _, id := range s.FailedIDs {
		fmt.Fprintf(w, "  %s %s\n", colorError.Sprint("x"), id)
	}
}
