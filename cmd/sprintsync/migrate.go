package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sprintpulse/sprintsync/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "setup",
	Short:   "Apply or inspect database migrations",
	Long: `Manage the Postgres schema. Every command that opens the database
applies pending migrations first; use these subcommands to do it explicitly
(for example from a deploy job) or to inspect what has been applied.`,
	Run: func(cmd *cobra.Command, args []string) {
		runMigrateUp()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Run: func(cmd *cobra.Command, args []string) {
		runMigrateUp()
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	Run: func(cmd *cobra.Command, args []string) {
		s := openPostgres()
		defer func() { _ = s.Close() }()

		infos, err := s.MigrationStatus(rootCtx)
		if err != nil {
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(infos)
			return
		}
		pending := 0
		for _, m := range infos {
			if m.Applied {
				fmt.Printf("%s %s  %s\n", ui.RenderPassIcon(), m.Version,
					ui.RenderMuted("applied "+m.AppliedAt.Local().Format("2006-01-02 15:04")))
			} else {
				pending++
				fmt.Printf("%s %s  %s\n", ui.RenderWarnIcon(), m.Version, ui.RenderWarn("pending"))
			}
		}
		if pending > 0 {
			fmt.Printf("\n%d pending; run 'sprintsync migrate up'\n", pending)
		}
	},
}

func runMigrateUp() {
	s := openPostgres()
	defer func() { _ = s.Close() }()

	applied, err := s.Migrate(rootCtx)
	if err != nil {
		FatalError("%v", err)
	}
	if jsonOutput {
		if applied == nil {
			applied = []string{}
		}
		outputJSON(map[string]interface{}{"applied": applied})
		return
	}
	if len(applied) == 0 {
		fmt.Println("Schema is up to date.")
		return
	}
	for _, v := range applied {
		fmt.Printf("%s applied %s\n", ui.RenderPassIcon(), v)
	}
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}
