package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/registry"
)

func newAgentsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Inspect the registry of reusable agents",
	}
	cmd.AddCommand(newAgentsListCmd(a), newAgentsClearCmd(a))
	return cmd
}

func newAgentsListCmd(a *app) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered agents",
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

			all := newRegistry(ctx, a.cfg, store, a.logger).All()
			if format != formatTable {
				if all == nil {
					all = []registry.RegisteredAgent{}
				}
				return writeStructured(a.out, format, all)
			}
			if len(all) == 0 {
				fmt.Fprintln(a.out, "No registered agents.")
				return nil
			}
			return writeTable(a.out, []string{"ID", "NAME", "ROLE", "USES", "SUCCESS", "CAPABILITIES", "LAST USED"}, agentRows(all))
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatTable, "Output format: table, json or yaml")
	return cmd
}

func agentRows(all []registry.RegisteredAgent) [][]string {
	rows := make([][]string, 0, len(all))
	for _, ag := range all {
		rows = append(rows, []string{
			ag.ID,
			ag.Name,
			ag.ParentRole.String(),
			fmt.Sprintf("%d", ag.UsageCount),
			fmt.Sprintf("%.0f%%", ag.SuccessRate*100),
			strings.Join(ag.Capabilities, ", "),
			ag.LastUsedAt.Format("2006-01-02 15:04"),
		})
	}
	return rows
}

func newAgentsClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget every registered agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			reg := newRegistry(ctx, a.cfg, store, a.logger)
			n := reg.Len()
			reg.Clear(ctx)
			fmt.Fprintf(a.out, "Removed %d agents.\n", n)
			return nil
		},
	}
}
