package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/metrics"
	"github.com/sprintpulse/sprintsync/internal/types"
	"github.com/sprintpulse/sprintsync/internal/ui"
)

var metricsCmd = &cobra.Command{
	Use:     "metrics",
	GroupID: "views",
	Short:   "Recompute or show sprint, developer and delivery metrics",
	Long: `Metrics are recomputed at the end of every sync. Use 'metrics recalc'
after changing the status map or to rebuild the tables by hand.

Examples:
  sprintsync metrics recalc --project WEB
  sprintsync metrics sprints --project WEB
  sprintsync metrics developers --project WEB --sprint 42
  sprintsync metrics delivery --project WEB --json`,
}

var metricsRecalcCmd = &cobra.Command{
	Use:   "recalc",
	Short: "Recompute and replace the stored metrics",
	Run: func(cmd *cobra.Command, args []string) {
		projectFlags, _ := cmd.Flags().GetStringSlice("project")
		projects := resolveProjects(projectFlags)
		s := openStore()

		calc := metrics.NewCalculator()
		var summaries []*metrics.Summary
		for _, key := range projects {
			sum, err := calc.CalculateAllMetrics(rootCtx, s, key)
			if err != nil {
				FatalError("%v", err)
			}
			summaries = append(summaries, sum)
		}

		if jsonOutput {
			outputJSON(summaries)
			return
		}
		for _, m := range summaries {
			fmt.Printf("%s %s: %d sprints, %d developer rows, %d weeks, velocity %s (last %d)\n",
				ui.RenderPassIcon(), ui.RenderBold(m.ProjectKey),
				m.Sprints, m.DeveloperRows, m.Weeks, formatPoints(m.Velocity), m.VelocityWindow)
		}
	},
}

var metricsSprintsCmd = &cobra.Command{
	Use:   "sprints",
	Short: "Show per-sprint metrics",
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		window, _ := cmd.Flags().GetInt("velocity-window")
		key := singleProject(project)

		rows, err := openStore().SprintMetrics(rootCtx, key)
		if err != nil {
			FatalError("%v", err)
		}
		velocity := metrics.Velocity(rows, window)

		if jsonOutput {
			outputJSON(map[string]interface{}{
				"project_key":     key,
				"sprints":         rows,
				"velocity":        velocity,
				"velocity_window": window,
			})
			return
		}
		if len(rows) == 0 {
			fmt.Printf("No sprint metrics for %s. Run 'sprintsync sync --project %s' first.\n", key, key)
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ui.RenderBold("ID"),
			ui.RenderBold("SPRINT"),
			ui.RenderBold("STATE"),
			ui.RenderBold("ISSUES (C/A)"),
			ui.RenderBold("COMMITTED"),
			ui.RenderBold("ADDED"),
			ui.RenderBold("COMPLETED"),
			ui.RenderBold("RATE"),
			ui.RenderBold("CARRY-OVER"),
		)
		for _, r := range rows {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d/%d\t%s\t%s\t%s\t%s\t%d\n",
				r.SprintID, r.SprintName, ui.RenderSprintState(r.SprintState),
				r.CommittedIssues, r.AddedIssues,
				formatPoints(r.CommittedPoints), formatPoints(r.AddedPoints),
				formatPoints(r.CompletedPoints), formatRate(r.CompletionRate),
				r.CarryOverIssues)
		}
		_ = w.Flush()
		fmt.Printf("\nVelocity (last %d closed sprints): %s\n", window, formatPoints(velocity))
	},
}

var metricsDevelopersCmd = &cobra.Command{
	Use:   "developers",
	Short: "Show per-developer metrics for a sprint",
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		sprintID, _ := cmd.Flags().GetInt64("sprint")
		key := singleProject(project)

		rows, err := openStore().DeveloperMetrics(rootCtx, key, sprintID)
		if err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(rows)
			return
		}
		if len(rows) == 0 {
			fmt.Printf("No developer metrics for %s.\n", key)
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			ui.RenderBold("SPRINT"),
			ui.RenderBold("DEVELOPER"),
			ui.RenderBold("ISSUES"),
			ui.RenderBold("POINTS"),
			ui.RenderBold("AVG CYCLE (h)"),
		)
		for _, r := range rows {
			name := r.DeveloperName
			if r.DeveloperID == "" {
				name = ui.RenderMuted(metrics.UnassignedName)
			}
			fmt.Fprintf(w, "%d\t%s\t%d/%d\t%s/%s\t%s\n",
				r.SprintID, name,
				r.CompletedIssues, r.AssignedIssues,
				formatPoints(r.CompletedPoints), formatPoints(r.AssignedPoints),
				formatPoints(r.AvgCycleTimeHours))
		}
		_ = w.Flush()
	},
}

var metricsDeliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Show weekly throughput, cycle time and bug ratio",
	Run: func(cmd *cobra.Command, args []string) {
		project, _ := cmd.Flags().GetString("project")
		weeks, _ := cmd.Flags().GetInt("weeks")
		key := singleProject(project)

		rows, err := openStore().DeliveryMetrics(rootCtx, key)
		if err != nil {
			FatalError("%v", err)
		}
		if weeks > 0 && len(rows) > weeks {
			rows = rows[len(rows)-weeks:]
		}
		if jsonOutput {
			outputJSON(rows)
			return
		}
		if len(rows) == 0 {
			fmt.Printf("No delivery metrics for %s.\n", key)
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ui.RenderBold("WEEK"),
			ui.RenderBold("DONE"),
			ui.RenderBold("POINTS"),
			ui.RenderBold("CYCLE p50 (h)"),
			ui.RenderBold("CYCLE p85 (h)"),
			ui.RenderBold("LEAD p50 (h)"),
			ui.RenderBold("LEAD p85 (h)"),
			ui.RenderBold("BUGS"),
		)
		for _, r := range rows {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				r.WeekStart.Format("2006-01-02"), r.Throughput, formatPoints(r.PointsDelivered),
				formatPoints(r.MedianCycleTimeHours), formatPoints(r.P85CycleTimeHours),
				formatPoints(r.MedianLeadTimeHours), formatPoints(r.P85LeadTimeHours), formatRate(r.BugRatio))
		}
		_ = w.Flush()
	},
}

func init() {
	metricsRecalcCmd.Flags().StringSlice("project", nil, "Jira project key (repeatable, default: jira.projects)")
	metricsSprintsCmd.Flags().String("project", "", "Jira project key")
	metricsSprintsCmd.Flags().Int("velocity-window", metrics.DefaultVelocityWindow, "Closed sprints averaged for velocity")
	metricsDevelopersCmd.Flags().String("project", "", "Jira project key")
	metricsDevelopersCmd.Flags().Int64("sprint", 0, "Sprint ID (default: all sprints)")
	metricsDeliveryCmd.Flags().String("project", "", "Jira project key")
	metricsDeliveryCmd.Flags().Int("weeks", 12, "Most recent weeks to show (0 for all)")

	metricsCmd.AddCommand(metricsRecalcCmd, metricsSprintsCmd, metricsDevelopersCmd, metricsDeliveryCmd)
	rootCmd.AddCommand(metricsCmd)
}

func formatPoints(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r*100, 'f', 0, 64) + "%"
}

// sprintRow finds one sprint's metrics.
func sprintRow(rows []*types.SprintMetrics, id int64) *types.SprintMetrics {
	for _, r := range rows {
		if r.SprintID == id {
			return r
		}
	}
	return nil
}
