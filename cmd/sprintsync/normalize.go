package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/metrics"
	"github.com/sprintpulse/sprintsync/internal/ui"
)

var normalizeCmd = &cobra.Command{
	Use:     "normalize",
	GroupID: "sync",
	Short:   "Re-apply the status map to stored issues and history",
	Long: `Re-apply the status map (status_map.path over the built-in map) to the
raw Jira statuses already in the database, then recompute metrics. Run this
after editing the status map instead of a full sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		projectFlags, _ := cmd.Flags().GetStringSlice("project")
		skipMetrics, _ := cmd.Flags().GetBool("skip-metrics")
		projects := resolveProjects(projectFlags)
		holder := newStatusHolder()
		s := openStore()

		type result struct {
			ProjectKey    string           `json:"project_key"`
			Issues        int              `json:"issues"`
			StatusChanges int              `json:"status_changes"`
			Metrics       *metrics.Summary `json:"metrics,omitempty"`
		}
		var results []result
		calc := metrics.NewCalculator()
		for _, key := range projects {
			issues, changes, err := s.UpdateNormalizedStatuses(rootCtx, key, holder.Normalize)
			if err != nil {
				FatalError("normalize %s: %v", key, err)
			}
			r := result{ProjectKey: key, Issues: issues, StatusChanges: changes}
			if !skipMetrics {
				if r.Metrics, err = calc.CalculateAllMetrics(rootCtx, s, key); err != nil {
					FatalError("%v", err)
				}
			}
			results = append(results, r)
		}

		if jsonOutput {
			outputJSON(results)
			return
		}
		for _, r := range results {
			fmt.Printf("%s %s: %d issues and %d status changes renormalized\n",
				ui.RenderPassIcon(), ui.RenderBold(r.ProjectKey), r.Issues, r.StatusChanges)
		}
	},
}

func init() {
	normalizeCmd.Flags().StringSlice("project", nil, "Jira project key (repeatable, default: jira.projects)")
	normalizeCmd.Flags().Bool("skip-metrics", false, "Do not recompute metrics")
	rootCmd.AddCommand(normalizeCmd)
}
