package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show recent sync runs",
	Long: `Show recent sync runs, newest first. The start time of the latest
succeeded run is the watermark for the next incremental sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")
		if limit <= 0 {
			limit = 10
		}

		runs, err := openStore().ListSyncRuns(rootCtx, project, limit)
		if err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(runs)
			return
		}
		if len(runs) == 0 {
			fmt.Println("No sync runs recorded yet.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ui.RenderBold("ID"),
			ui.RenderBold("PROJECT"),
			ui.RenderBold("MODE"),
			ui.RenderBold("STATUS"),
			ui.RenderBold("STARTED"),
			ui.RenderBold("DURATION"),
			ui.RenderBold("ISSUES"),
			ui.RenderBold("CHANGES"),
		)
		for _, r := range runs {
			dur := "-"
			if r.FinishedAt != nil {
				dur = r.Duration().Round(time.Second).String()
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d/%d\t%d\n",
				r.ID, r.ProjectKey, r.Mode, ui.RenderRunStatus(r.Status),
				r.StartedAt.Local().Format("2006-01-02 15:04"), dur,
				r.IssuesUpserted, r.IssuesFetched, r.StatusChanges)
		}
		_ = w.Flush()

		for _, r := range runs {
			if r.Error != "" {
				fmt.Printf("\n%s run %d: %s\n", ui.RenderFailIcon(), r.ID, r.Error)
				break
			}
		}
	},
}

func init() {
	statusCmd.Flags().String("project", "", "Only show runs for this project")
	statusCmd.Flags().Int("limit", 10, "Number of runs to show")
	rootCmd.AddCommand(statusCmd)
}
