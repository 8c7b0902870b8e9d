package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/config"
	"github.com/sprintpulse/sprintsync/internal/debug"
	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/telemetry"
	"github.com/sprintpulse/sprintsync/internal/ui"
)

var (
	configFile  string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool

	// rootCtx is cancelled on SIGINT/SIGTERM.
	rootCtx    context.Context
	rootCancel context.CancelFunc

	// store is opened lazily by commands that need the database.
	store storage.Store
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config.yaml (default: .sprintsync/config.yaml, searched upwards)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")

	rootCmd.AddGroup(&cobra.Group{ID: "sync", Title: "Sync & Data:"})
	rootCmd.AddGroup(&cobra.Group{ID: "views", Title: "Metrics & Reports:"})
	rootCmd.AddGroup(&cobra.Group{ID: "setup", Title: "Setup & Configuration:"})
}

var rootCmd = &cobra.Command{
	Use:   "sprintsync",
	Short: "sprintsync - Jira sprint metrics for Supabase",
	Long: `Pulls issues, sprints and status history from Jira Cloud into a
Supabase Postgres database and keeps sprint, developer and delivery metrics
up to date for dashboards.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		debug.SetVerbose(verboseFlag)
		debug.SetQuiet(quietFlag)

		if err := config.Initialize(configFile); err != nil {
			FatalError("%v", err)
		}
		if !cmd.Flags().Changed("json") && config.GetBool("json") {
			jsonOutput = true
		}
		ui.ApplyColorProfile(jsonOutput)

		if err := telemetry.Init(rootCtx, "sprintsync", Version); err != nil {
			WarnError("telemetry disabled: %v", err)
		}
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		shutdown()
	},
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

// shutdown releases the store and flushes telemetry. It runs after every
// command and before FatalError exits.
func shutdown() {
	if store != nil {
		_ = store.Close()
		store = nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telemetry.Shutdown(ctx); err != nil {
		debug.Logf("telemetry shutdown: %v", err)
	}
	if rootCancel != nil {
		rootCancel()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
