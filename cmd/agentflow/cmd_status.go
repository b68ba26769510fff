package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kbukum/agentflow/database"
	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/taskgraph"
)

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job run and its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := uuid.Parse(args[0])
			if err != nil {
				return apperrors.InvalidInput("job-id", "must be a UUID")
			}

			db, err := c.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			var run taskgraph.JobRun
			if err := db.WithContext(cmd.Context()).First(&run, "id = ?", jobID).Error; err != nil {
				if database.IsNotFoundError(err) {
					return apperrors.NotFound("job run", jobID.String())
				}
				return database.FromDatabase(err, "job run")
			}
			var tasks []taskgraph.Task
			err = db.WithContext(cmd.Context()).
				Where("job_id = ?", jobID).
				Order("seq ASC").
				Find(&tasks).Error
			if err != nil {
				return database.FromDatabase(err, "task")
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "job %s\n", run.ID)
			fmt.Fprintf(out, "  user=%s target=%s mode=%s status=%s engine=%s\n", run.UserID, run.TargetID, run.Mode, run.Status, run.EngineVersion)
			fmt.Fprintf(out, "  started=%s finished=%s\n", run.StartedAt.Format(time.RFC3339), formatTime(run.FinishedAt))
			if run.ErrorCode != "" {
				fmt.Fprintf(out, "  error=%s fallback=%t: %s\n", run.ErrorCode, run.FallbackTriggered, run.ErrorMessage)
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TASK\tROLE\tSTATUS\tATTEMPTS\tERROR")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%s\n", t.TaskKey, t.Role, t.Status, t.AttemptCount, t.MaxAttempts, taskError(t))
			}
			return tw.Flush()
		},
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func taskError(t taskgraph.Task) string {
	switch {
	case t.ErrorCode != "" && t.ErrorMessage != "":
		return t.ErrorCode + ": " + t.ErrorMessage
	case t.ErrorCode != "":
		return t.ErrorCode
	default:
		return t.ErrorMessage
	}
}
