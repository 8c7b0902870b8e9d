package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/config"
	"github.com/sprintpulse/sprintsync/internal/metrics"
	"github.com/sprintpulse/sprintsync/internal/report"
	"github.com/sprintpulse/sprintsync/internal/types"
	"github.com/sprintpulse/sprintsync/internal/ui"
)

var reportCmd = &cobra.Command{
	Use:     "report",
	GroupID: "views",
	Short:   "Render a sprint report",
	Long: `Render the stored metrics of one sprint as Markdown.

Without --sprint the active sprint is used, or the most recent closed sprint
when none is active. --summarize adds a short narrative written by Claude and
needs ANTHROPIC_API_KEY (model: report.model).

Examples:
  sprintsync report --project WEB
  sprintsync report --project WEB --sprint 42 --summarize
  sprintsync report --project WEB --raw > sprint.md`,
	Run: runReport,
}

func init() {
	reportCmd.Flags().String("project", "", "Jira project key")
	reportCmd.Flags().Int64("sprint", 0, "Sprint ID (default: active or latest closed sprint)")
	reportCmd.Flags().Bool("summarize", false, "Add a narrative summary via the Anthropic API")
	reportCmd.Flags().Bool("raw", false, "Print Markdown without terminal rendering")
	reportCmd.Flags().Bool("no-pager", false, "Do not pipe output to a pager")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) {
	project, _ := cmd.Flags().GetString("project")
	sprintID, _ := cmd.Flags().GetInt64("sprint")
	summarize, _ := cmd.Flags().GetBool("summarize")
	raw, _ := cmd.Flags().GetBool("raw")
	noPager, _ := cmd.Flags().GetBool("no-pager")
	key := singleProject(project)

	s := openStore()
	rows, err := s.SprintMetrics(rootCtx, key)
	if err != nil {
		FatalError("%v", err)
	}
	sprint := pickReportSprint(rows, sprintID)
	if sprint == nil {
		if sprintID != 0 {
			FatalError("no metrics for sprint %d in %s", sprintID, key)
		}
		FatalErrorWithHint(fmt.Sprintf("no sprint metrics for %s", key), fmt.Sprintf("Run 'sprintsync sync --project %s' first", key))
	}
	devs, err := s.DeveloperMetrics(rootCtx, key, sprint.SprintID)
	if err != nil {
		FatalError("%v", err)
	}

	md := report.SprintReport(key, sprint, devs, metrics.Velocity(rows, metrics.DefaultVelocityWindow))

	var narrative string
	if summarize {
		narrative = summarizeReport(key, md)
		if narrative != "" {
			md += "\n## Narrative\n\n" + narrative + "\n"
		}
	}

	if jsonOutput {
		outputJSON(map[string]interface{}{
			"project_key": key,
			"sprint":      sprint,
			"developers":  devs,
			"markdown":    md,
			"narrative":   narrative,
		})
		return
	}
	if !raw {
		md = ui.RenderMarkdown(md)
	}
	if err := ui.ToPager(md, ui.PagerOptions{NoPager: noPager || raw}); err != nil {
		FatalError("%v", err)
	}
}

// summarizeReport returns the narrative, or "" with a warning when the API is
// unavailable. The report itself never fails because of it.
func summarizeReport(key, md string) string {
	summarizer, err := report.NewSummarizer("", config.ReportModel())
	if err != nil {
		if errors.Is(err, report.ErrAPIKeyRequired) {
			WarnError("skipping summary: %v", err)
			return ""
		}
		FatalError("%v", err)
	}
	if !jsonOutput && !quietFlag {
		fmt.Fprintln(os.Stderr, ui.RenderMuted("Summarizing with "+config.ReportModel()+"..."))
	}
	narrative, err := summarizer.Summarize(rootCtx, key, md)
	if err != nil {
		WarnError("summary failed: %v", err)
		return ""
	}
	return narrative
}

// pickReportSprint returns the requested sprint, else the active one, else
// the latest closed one.
func pickReportSprint(rows []*types.SprintMetrics, id int64) *types.SprintMetrics {
	if id != 0 {
		return sprintRow(rows, id)
	}
	var latestClosed *types.SprintMetrics
	for _, r := range rows {
		switch r.SprintState {
		case types.SprintActive:
			return r
		case types.SprintClosed:
			if latestClosed == nil || endsAfter(r, latestClosed) {
				latestClosed = r
			}
		}
	}
	return latestClosed
}

func endsAfter(a, b *types.SprintMetrics) bool {
	switch {
	case a.EndDate == nil:
		return false
	case b.EndDate == nil:
		return true
	}
	return a.EndDate.After(*b.EndDate)
}
