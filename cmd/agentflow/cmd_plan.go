package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kbukum/agentflow/dag"
)

func (c *cli) planCmd() *cobra.Command {
	var workflowFile string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the execution levels of a workflow",
		Long: `Validates a workflow and prints its tasks grouped by level. Tasks on the
same level have no dependency on each other and may run concurrently.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if workflowFile == "" {
				cfg, err := c.load(cmd.Context())
				if err != nil {
					return err
				}
				workflowFile = cfg.Engine.WorkflowFile
			}

			w := dag.DefaultWorkflow()
			if workflowFile != "" {
				var err error
				if w, err = dag.LoadWorkflow(workflowFile); err != nil {
					return err
				}
			}
			levels, err := dag.Levels(w)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "workflow %s: %d tasks, %d edges\n", w.Name, len(w.Tasks), len(w.Edges))
			preds := dag.Predecessors(w)
			for i, level := range levels {
				fmt.Fprintf(out, "level %d: %s\n", i, strings.Join(level, ", "))
				for _, key := range level {
					t, _ := w.Task(key)
					after := "-"
					if len(preds[key]) > 0 {
						after = strings.Join(preds[key], ", ")
					}
					fmt.Fprintf(out, "  %-14s role=%-9s weight=%-3d attempts=%d after=%s\n", key, t.Role, t.Weight, max(t.MaxAttempts, 1), after)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&workflowFile, "workflow", "w", "", "workflow YAML file (default: engine.workflow_file or the built-in pipeline)")
	return cmd
}
