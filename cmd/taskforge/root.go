package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aristath/taskforge/internal/config"
)

// app holds what every command shares.
type app struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	verbose     bool
	projectPath string
	globalPath  string

	cfg    *config.Config
	logger *zap.Logger
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{in: in, out: out, errOut: errOut, logger: zap.NewNop()}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "taskforge",
		Short: "Multi-agent task orchestration",
		Long: `taskforge turns a request into finished work with a team of language-model agents.

A requirements interview produces a structured document, which is broken down
into a dependency graph of tasks. Each task is planned, critiqued, executed and
reviewed by a specialized agent. Agents that do well are remembered and reused
on similar tasks in later runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.SetIn(a.in)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&a.projectPath, "config", config.ProjectPath(), "Project config file")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newAgentsCmd(a))
	root.AddCommand(newRunsCmd(a))
	root.AddCommand(newConfigCmd(a))
	return root
}

// loadConfig reads the merged configuration and sets up stderr logging.
func (a *app) loadConfig() error {
	if a.globalPath == "" {
		path, err := config.GlobalPath()
		if err != nil {
			return err
		}
		a.globalPath = path
	}

	cfg, err := config.Load(a.globalPath, a.projectPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	logger, err := newLogger(cfg.Log, a.verbose, "")
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}
