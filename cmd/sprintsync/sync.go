package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/syncer"
	"github.com/sprintpulse/sprintsync/internal/timeparsing"
	"github.com/sprintpulse/sprintsync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull sprints, issues and status history from Jira",
	Long: `Pull sprints, issues and status history from Jira into the database,
then recompute the project's metrics.

Without --full, only issues updated since the last successful sync (minus
sync.overlap) are fetched. A project that has never synced successfully gets
a full sync. Removed issues are only detected on full syncs.

Examples:
  sprintsync sync                       # every project in jira.projects
  sprintsync sync --project WEB --full  # re-read WEB completely
  sprintsync sync --since -2w           # re-read the last two weeks
  sprintsync sync --since "last monday"
  sprintsync sync --dry-run --json      # fetch and convert, write nothing`,
	Run: runSync,
}

func init() {
	syncCmd.Flags().StringSlice("project", nil, "Jira project key (repeatable, default: jira.projects)")
	syncCmd.Flags().Bool("full", false, "Re-read every issue and detect removed issues")
	syncCmd.Flags().String("since", "", "Fetch issues updated since (e.g. -2w, 2024-03-01, \"last monday\")")
	syncCmd.Flags().Bool("dry-run", false, "Fetch and convert without writing anything")
	syncCmd.Flags().Bool("skip-metrics", false, "Do not recompute metrics after the sync")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) {
	projectFlags, _ := cmd.Flags().GetStringSlice("project")
	full, _ := cmd.Flags().GetBool("full")
	sinceExpr, _ := cmd.Flags().GetString("since")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	skipMetrics, _ := cmd.Flags().GetBool("skip-metrics")

	if full && sinceExpr != "" {
		FatalError("--full and --since are mutually exclusive")
	}

	opts := syncer.SyncOptions{Full: full, DryRun: dryRun}
	if sinceExpr != "" {
		since, err := timeparsing.ParseSince(sinceExpr, time.Now())
		if err != nil {
			FatalError("--since: %v", err)
		}
		opts.Since = &since
	}

	projects := resolveProjects(projectFlags)
	engine := newEngine(openSyncStore(dryRun), newStatusHolder())
	engine.Options.SkipMetrics = skipMetrics

	results := engine.SyncAll(rootCtx, projects, opts)

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}

	if jsonOutput {
		outputJSON(results)
	} else {
		for _, r := range results {
			printSyncResult(r)
		}
	}
	if failed > 0 {
		shutdown()
		if !jsonOutput {
			fmt.Fprintf(os.Stderr, "Error: %d of %d projects failed\n", failed, len(results))
		}
		os.Exit(1)
	}
}

func printSyncResult(pr syncer.ProjectResult) {
	if pr.Err != nil {
		fmt.Printf("%s %s: %v\n", ui.RenderFailIcon(), pr.ProjectKey, pr.Err)
		return
	}
	r := pr.Result
	mode := string(r.Mode)
	if r.Since != nil {
		mode += " since " + r.Since.Format(time.RFC3339)
	}
	if r.DryRun {
		mode += ", dry run"
	}
	fmt.Printf("%s %s (%s) in %s\n", ui.RenderPassIcon(), ui.RenderBold(r.ProjectKey), mode, r.Duration.Round(time.Millisecond))
	fmt.Printf("  boards %d, sprints %d\n", r.Boards, r.Sprints)
	fmt.Printf("  issues fetched %d, skipped %d, inserted %d, updated %d, unchanged %d\n",
		r.Stats.Fetched, r.Stats.Skipped,
		r.Stats.Issues.Inserted, r.Stats.Issues.Updated, r.Stats.Issues.Unchanged)
	fmt.Printf("  status changes %d, removed %d\n", r.Stats.StatusChanges, r.IssuesRemoved)
	if m := r.Metrics; m != nil {
		fmt.Printf("  metrics: %d sprints, %d developer rows, %d weeks, velocity %s (last %d)\n",
			m.Sprints, m.DeveloperRows, m.Weeks, formatPoints(m.Velocity), m.VelocityWindow)
	}
	if len(r.Warnings) > 0 && !jsonOutput {
		fmt.Printf("  %s %d warnings\n", ui.RenderWarnIcon(), len(r.Warnings))
	}
}
