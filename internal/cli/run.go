package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"plugin-jobs/internal/model"
	"plugin-jobs/internal/plugin"
	"plugin-jobs/internal/registry"
)

type runReport struct {
	Outcome plugin.Outcome `json:"outcome"`
	Job     *model.Job     `json:"job,omitempty"`
	Events  []plugin.Event `json:"events,omitempty"`
}

func newRunCmd(a *app) *cobra.Command {
	var (
		user    string
		guild   string
		roles   []string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "run <command> [key=value ...]",
		Short: "Invoke one plugin command in-process and wait for its job",
		Long: `Invoke one plugin command through the same admission and dispatch path the
server uses, then wait for the job to finish and print its final state.

Examples:
  plugin-jobs run echo text=hello
  plugin-jobs run transcribe url=https://youtu.be/dQw4w9WgXcQ --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := parseParams(args[1:])
			if err != nil {
				return err
			}
			st, err := buildStack(a.settings, a.log)
			if err != nil {
				return err
			}
			defer st.close()

			out, err := st.manager.Dispatch(cmd.Context(), plugin.Invocation{
				Command: args[0],
				UserID:  user,
				GuildID: guild,
				Roles:   roles,
				Params:  params,
			})
			if err != nil {
				return err
			}
			st.manager.Wait()

			report := runReport{Outcome: out}
			if out.JobID != "" {
				job, err := st.jobs.Get(out.JobID)
				if err != nil && !errors.Is(err, registry.ErrNotFound) {
					return err
				}
				if err == nil {
					report.Job = &job
				}
				report.Events = st.manager.Events().For(out.JobID)
			}
			if jsonOut {
				return printJSON(a.out, report)
			}
			printRunReport(a, report)
			if report.Job != nil && report.Job.Status == model.StatusFailed {
				return fmt.Errorf("job %s failed", model.ShortID(report.Job.ID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "cli", "invoking user id")
	cmd.Flags().StringVar(&guild, "guild", "", "guild id (empty for a direct message)")
	cmd.Flags().StringSliceVar(&roles, "roles", nil, "roles of the invoking user")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}

func printRunReport(a *app, r runReport) {
	fmt.Fprintln(a.out, r.Outcome.Message)
	if r.Job == nil {
		return
	}
	job := *r.Job
	fmt.Fprintf(a.out, "job_id: %s\n", job.ID)
	fmt.Fprintf(a.out, "status: %s\n", model.Summary(job))
	if !job.StartedAt.IsZero() && !job.FinishedAt.IsZero() {
		fmt.Fprintf(a.out, "elapsed: %s\n", job.FinishedAt.Sub(job.StartedAt).Round(100*time.Millisecond))
	}
	if job.Error != "" {
		fmt.Fprintf(a.out, "error: %s\n", job.Error)
	}
	for _, ev := range r.Events {
		if ev.Type != plugin.EventResult {
			continue
		}
		if ev.Result != nil && ev.Result.ArtifactsDir != "" {
			fmt.Fprintf(a.out, "artifacts: %s\n", ev.Result.ArtifactsDir)
		}
		msg := strings.TrimSpace(ev.Message)
		if ev.Result != nil {
			msg = strings.TrimSpace(ev.Result.Transcript)
		}
		if msg != "" {
			fmt.Fprintln(a.out)
			fmt.Fprintln(a.out, msg)
		}
	}
}
