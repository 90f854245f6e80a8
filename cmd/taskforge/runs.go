package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/persistence"
	"github.com/aristath/taskforge/internal/scheduler"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run journal",
	}
	cmd.AddCommand(newRunsListCmd(a), newRunsShowCmd(a))
	return cmd
}

// runView is the structured form of a journaled run.
type runView struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Completed    int        `json:"completed"`
	Failed       int        `json:"failed"`
	Requirements string     `json:"requirements,omitempty"`
	Tasks        []taskView `json:"tasks,omitempty"`
}

type taskView struct {
	ID          string                 `json:"id"`
	Title       string                 `json:"title"`
	Role        scheduler.Role         `json:"role"`
	Status      scheduler.TaskStatus   `json:"status"`
	DependsOn   []string               `json:"dependsOn,omitempty"`
	RetryCount  int                    `json:"retryCount"`
	Result      string                 `json:"result,omitempty"`
	Transitions []scheduler.Transition `json:"transitions,omitempty"`
}

func newRunView(run persistence.Run) runView {
	v := runView{
		ID:        run.ID,
		StartedAt: run.StartedAt,
		Completed: run.Completed,
		Failed:    run.Failed,
	}
	if run.Finished() {
		at := run.FinishedAt
		v.FinishedAt = &at
	}
	return v
}

func newTaskView(task *scheduler.Task) taskView {
	return taskView{
		ID:          task.ID,
		Title:       task.Title,
		Role:        task.Role,
		Status:      task.Status,
		DependsOn:   task.DependsOn,
		RetryCount:  task.RetryCount,
		Result:      task.Result,
		Transitions: task.Transitions,
	}
}

func newRunsListCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx)
			if err != nil {
				return err
			}
			views := make([]runView, 0, len(runs))
			for _, run := range runs {
				views = append(views, newRunView(run))
			}
			if format != formatTable {
				return writeStructured(a.out, format, views)
			}
			if len(views) == 0 {
				fmt.Fprintln(a.out, "No runs recorded.")
				return nil
			}

			rows := make([][]string, 0, len(views))
			for _, v := range views {
				finished := "running"
				if v.FinishedAt != nil {
					finished = v.FinishedAt.Format("2006-01-02 15:04:05")
				}
				rows = append(rows, []string{
					v.ID,
					v.StartedAt.Format("2006-01-02 15:04:05"),
					finished,
					fmt.Sprintf("%d", v.Completed),
					fmt.Sprintf("%d", v.Failed),
				})
			}
			return writeTable(a.out, []string{"ID", "STARTED", "FINISHED", "COMPLETED", "FAILED"}, rows)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func newRunsShowCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the tasks of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, args[0])
			if persistence.IsNotFound(err) {
				return fmt.Errorf("no run with ID %q", args[0])
			}
			if err != nil {
				return err
			}
			tasks, err := store.ListTasks(ctx, run.ID)
			if err != nil {
				return err
			}

			view := newRunView(run)
			view.Requirements = run.Requirements
			for _, task := range tasks {
				view.Tasks = append(view.Tasks, newTaskView(task))
			}
			if format != formatTable {
				return writeStructured(a.out, format, view)
			}

			status := "running"
			if view.FinishedAt != nil {
				status = fmt.Sprintf("finished %s, %d completed, %d failed",
					view.FinishedAt.Format("2006-01-02 15:04:05"), view.Completed, view.Failed)
			}
			fmt.Fprintf(a.out, "Run %s started %s, %s\n", view.ID, view.StartedAt.Format("2006-01-02 15:04:05"), status)
			if len(view.Tasks) == 0 {
				fmt.Fprintln(a.out, "No tasks recorded.")
				return nil
			}

			rows := make([][]string, 0, len(view.Tasks))
			for _, t := range view.Tasks {
				rows = append(rows, []string{
					t.ID,
					t.Title,
					t.Role.String(),
					string(t.Status),
					fmt.Sprintf("%d", t.RetryCount),
				})
			}
			return writeTable(a.out, []string{"ID", "TITLE", "ROLE", "STATUS", "RETRIES"}, rows)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}
