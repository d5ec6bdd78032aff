package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"plugin-jobs/internal/journal"
	"plugin-jobs/internal/model"
)

func newJobsCmd(a *app) *cobra.Command {
	var serverAddr string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Query and cancel jobs of a running server",
		Long: `Query and cancel jobs of a running server.

Jobs live in the server's memory; these commands talk to its HTTP API.
Job ids may be given in full or as their short form (the last 8 characters).`,
	}
	cmd.PersistentFlags().StringVar(&serverAddr, "server", "", "server address (default: server.addr setting)")
	client := func() *apiClient {
		return newAPIClient(firstNonEmpty(serverAddr, a.settings.ServerAddr))
	}

	var (
		user    string
		status  string
		jsonOut bool
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := client().ListJobs(cmd.Context(), user, status)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(a.out, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(a.out, "no jobs")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tPLUGIN\tOWNER\tSTATUS\tPROGRESS\tCREATED\tTITLE")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					j.ShortID, j.PluginName, j.OwnerID, j.Status, progressLabel(j.Job),
					j.CreatedAt.Local().Format(time.DateTime), truncateRunes(j.Title(), 40))
			}
			return tw.Flush()
		},
	}
	list.Flags().StringVar(&user, "user", "", "only jobs of this user")
	list.Flags().StringVar(&status, "status", "", "only jobs in this status")
	list.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")

	var cancelUser string
	cancel := &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().Cancel(cmd.Context(), args[0], cancelUser)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, out.Message)
			if !out.Accepted {
				return fmt.Errorf("job %s was not cancelled", args[0])
			}
			return nil
		},
	}
	cancel.Flags().StringVar(&cancelUser, "user", "", "owner of the job")
	_ = cancel.MarkFlagRequired("user")

	cmd.AddCommand(list, cancel)
	return cmd
}

func progressLabel(job model.Job) string {
	if job.Playlist == nil {
		return "-"
	}
	return fmt.Sprintf("%d/%d (%.0f%%)", job.Playlist.Attempted(), job.Playlist.Total, model.ProgressPercent(job))
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		user    string
		limit   int
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled results of finished jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := journal.Open(a.settings.DataDir, a.log)
			if err != nil {
				return err
			}
			defer j.Close()

			entries, err := j.Recent(cmd.Context(), user, limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(a.out, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "no finished jobs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tPLUGIN\tOWNER\tFINISHED\tSUMMARY")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					model.ShortID(e.JobID), e.PluginName, e.OwnerID,
					e.FinishedAt.Local().Format(time.DateTime), truncateRunes(e.Summary, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "only results of this user")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum entries")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print JSON output")
	return cmd
}
