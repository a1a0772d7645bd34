package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	jobsCmd.Flags().Int64Var(&jobsUser, "user", 0, "User whose jobs to list")
	_ = jobsCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(jobsCmd)
}

var jobsUser int64

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List a user's jobs, newest first",
	RunE:  runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	d, err := openDaemon()
	if err != nil {
		return err
	}
	defer d.Close()

	jobs, err := d.Jobs.List(cmd.Context(), jobsUser)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintf(out, "No jobs for user %d.\n", jobsUser)
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{
			strconv.FormatInt(j.ID, 10),
			strconv.FormatInt(j.NodeID, 10),
			string(j.Status),
			j.CostIncurred.String() + " " + j.Currency,
			formatTime(j.StartTime),
			formatTime(j.EndTime),
			formatDuration(j.Duration()),
			j.Command,
		})
	}
	renderTable([]string{"ID", "Node", "Status", "Cost", "Started", "Ended", "Ran", "Command"}, rows)
	return nil
}
