package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sprintpulse/sprintsync/internal/config"
	"github.com/sprintpulse/sprintsync/internal/debug"
	"github.com/sprintpulse/sprintsync/internal/jira"
	"github.com/sprintpulse/sprintsync/internal/statusmap"
	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/storage/memory"
	"github.com/sprintpulse/sprintsync/internal/storage/postgres"
	"github.com/sprintpulse/sprintsync/internal/syncer"
	"github.com/sprintpulse/sprintsync/internal/telemetry"
)

// openStore connects to database.url, applies pending migrations and keeps
// the store for shutdown. Exits with a hint when the URL is missing.
func openStore() storage.Store {
	if store != nil {
		return store
	}
	s := openPostgres()
	if _, err := s.Migrate(rootCtx); err != nil {
		_ = s.Close()
		FatalError("migrate: %v", err)
	}
	store = telemetry.WrapStore(s)
	return store
}

// openPostgres connects without migrating; `migrate status` must see the
// schema as it is.
func openPostgres() *postgres.Store {
	db := config.Database()
	if err := db.Validate(); err != nil {
		FatalError("%v", err)
	}
	s, err := postgres.Open(rootCtx, postgres.Config{
		URL:             db.URL,
		MaxConns:        int32(db.MaxConns), // #nosec G115 - small config value
		ApplicationName: "sprintsync",
	})
	if err != nil {
		FatalError("%v", err)
	}
	return s
}

// openSyncStore is openStore, except that a dry run without a configured
// database uses a throwaway in-memory store.
func openSyncStore(dryRun bool) storage.Store {
	if dryRun && config.Database().URL == "" {
		debug.Logf("sync: dry run without database.url, using an in-memory store")
		store = memory.New()
		return store
	}
	return openStore()
}

func newJiraClient() *jira.Client {
	s := config.Jira()
	if err := s.Validate(); err != nil {
		FatalError("%v", err)
	}
	return jira.NewClient(s.URL, s.Username, s.APIToken,
		jira.WithFields(jira.FieldConfig{
			StoryPoints: s.StoryPointsField,
			Sprint:      s.SprintField,
			EpicLink:    s.EpicLinkField,
		}),
		jira.WithPageSize(s.PageSize),
		jira.WithTimeout(s.Timeout),
		jira.WithSearchAPI(jira.SearchAPI(s.SearchAPI)),
		jira.WithUserAgent("sprintsync/"+Version),
	)
}

// newStatusHolder loads status_map.path over the built-in map.
func newStatusHolder() *statusmap.Holder {
	path := config.StatusMapPath()
	if path == "" {
		return statusmap.NewHolder(statusmap.Default())
	}
	m, err := statusmap.Load(path)
	if err != nil {
		FatalError("status map: %v", err)
	}
	debug.Logf("status map: %d entries from %s", m.Len(), path)
	return statusmap.NewHolder(m)
}

// newEngine wires the Jira client, store and status map into a sync engine
// that reports progress on stdout and warnings on stderr.
func newEngine(s storage.Store, holder *statusmap.Holder) *syncer.Engine {
	engine := syncer.NewEngine(newJiraClient(), s, holder)

	js := config.Jira()
	ss := config.Sync()
	loc, _ := js.Location() // validated in newJiraClient
	engine.Options.Overlap = ss.Overlap
	engine.Options.Concurrency = ss.Concurrency
	engine.Options.PageSize = js.PageSize
	engine.Options.Location = loc

	engine.OnMessage = func(msg string) {
		if !jsonOutput && !debug.IsQuiet() {
			fmt.Println("  " + msg)
		}
	}
	engine.OnWarning = func(msg string) {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", msg)
	}
	return engine
}

// resolveProjects returns --project values, falling back to jira.projects.
func resolveProjects(flagValues []string) []string {
	var out []string
	for _, v := range flagValues {
		for _, p := range strings.Split(v, ",") {
			if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
				out = append(out, p)
			}
		}
	}
	if len(out) == 0 {
		out = config.Jira().Projects
	}
	if len(out) == 0 {
		FatalErrorWithHint("no projects given", "Pass --project KEY or run 'sprintsync config set jira.projects \"KEY1,KEY2\"'")
	}
	return out
}

// singleProject is resolveProjects for commands that work on one project.
func singleProject(flagValue string) string {
	var flags []string
	if flagValue != "" {
		flags = []string{flagValue}
	}
	projects := resolveProjects(flags)
	if len(projects) > 1 {
		FatalErrorWithHint(fmt.Sprintf("%d projects configured", len(projects)), "Pass --project KEY")
	}
	return projects[0]
}
