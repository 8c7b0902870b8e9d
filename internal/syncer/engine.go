// Package syncer pulls projects, sprints, issues and status history from
// Jira into a storage.Store and recomputes the dashboard metrics.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/sprintpulse/sprintsync/internal/jira"
	"github.com/sprintpulse/sprintsync/internal/logging"
	"github.com/sprintpulse/sprintsync/internal/metrics"
	"github.com/sprintpulse/sprintsync/internal/statusmap"
	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/telemetry"
	"github.com/sprintpulse/sprintsync/internal/types"
)

const scopeName = "github.com/sprintpulse/sprintsync/syncer"

// Engine runs the Jira -> store pipeline for one or more projects.
type Engine struct {
	Jira      *jira.Client
	Store     storage.Store
	StatusMap *statusmap.Holder
	// Metrics recomputes aggregates after a run; nil skips the recompute.
	Metrics *metrics.Calculator
	Options Options

	// Callbacks for UI feedback (optional).
	OnMessage func(msg string)
	OnWarning func(msg string)

	Logger *slog.Logger

	now func() time.Time

	tracer    trace.Tracer
	runs      metric.Int64Counter
	issues    metric.Int64Counter
	runLength metric.Float64Histogram
}

// NewEngine creates an engine with DefaultOptions, the built-in status map
// unless holder is given, and a metrics calculator.
func NewEngine(client *jira.Client, store storage.Store, holder *statusmap.Holder) *Engine {
	if holder == nil {
		holder = statusmap.NewHolder(statusmap.Default())
	}
	m := telemetry.Meter(scopeName)
	runs, _ := m.Int64Counter("sprintsync.sync.runs",
		metric.WithDescription("Sync runs by mode and outcome"))
	issues, _ := m.Int64Counter("sprintsync.sync.issues",
		metric.WithDescription("Issues fetched from Jira"))
	runLength, _ := m.Float64Histogram("sprintsync.sync.duration",
		metric.WithDescription("Sync run duration in seconds"),
		metric.WithUnit("s"))
	return &Engine{
		Jira:      client,
		Store:     store,
		StatusMap: holder,
		Metrics:   metrics.NewCalculator(),
		Options:   DefaultOptions(),
		tracer:    telemetry.Tracer(scopeName),
		runs:      runs,
		issues:    issues,
		runLength: runLength,
	}
}

// Sync dispatches to a full or incremental sync. An explicit Since overrides
// the stored watermark.
func (e *Engine) Sync(ctx context.Context, projectKey string, opts SyncOptions) (*Result, error) {
	if opts.Full {
		return e.run(ctx, projectKey, types.SyncFull, nil, opts.DryRun)
	}
	if opts.Since != nil {
		since := opts.Since.UTC()
		return e.run(ctx, projectKey, types.SyncIncremental, &since, opts.DryRun)
	}
	since, err := e.watermark(ctx, projectKey)
	if err != nil {
		return nil, err
	}
	if since == nil {
		e.msg("%s: no successful sync recorded, running a full sync", projectKey)
		return e.run(ctx, projectKey, types.SyncFull, nil, opts.DryRun)
	}
	return e.run(ctx, projectKey, types.SyncIncremental, since, opts.DryRun)
}

// FullSyncForProject re-reads the whole project: sprints, every issue and
// its status history. Stored issues that Jira no longer returns are marked
// removed.
func (e *Engine) FullSyncForProject(ctx context.Context, projectKey string) (*Result, error) {
	return e.Sync(ctx, projectKey, SyncOptions{Full: true})
}

// IncrementalSync fetches issues updated since the last successful run
// (minus Options.Overlap). Without a successful run it falls back to a full
// sync.
func (e *Engine) IncrementalSync(ctx context.Context, projectKey string) (*Result, error) {
	return e.Sync(ctx, projectKey, SyncOptions{})
}

// SyncAll syncs projects one after another. A failing project is reported in
// its ProjectResult and does not stop the others; a cancelled context does.
func (e *Engine) SyncAll(ctx context.Context, projects []string, opts SyncOptions) []ProjectResult {
	out := make([]ProjectResult, 0, len(projects))
	for _, key := range projects {
		if err := ctx.Err(); err != nil {
			out = append(out, ProjectResult{ProjectKey: key, Err: err, Error: err.Error()})
			continue
		}
		res, err := e.Sync(ctx, key, opts)
		pr := ProjectResult{ProjectKey: key, Result: res, Err: err}
		if err != nil {
			pr.Error = err.Error()
			e.warn("%s: sync failed: %v", key, err)
		}
		out = append(out, pr)
	}
	return out
}

// watermark returns the incremental lower bound, or nil when the project has
// never synced successfully.
func (e *Engine) watermark(ctx context.Context, projectKey string) (*time.Time, error) {
	last, err := e.Store.LastSuccessfulSync(ctx, projectKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last successful sync for %s: %w", projectKey, err)
	}
	since := last.StartedAt.Add(-e.options().Overlap).UTC()
	return &since, nil
}

// run records a SyncRun around execute. The run row is finished even when ctx
// was cancelled, so an interrupted run shows up as failed.
func (e *Engine) run(ctx context.Context, projectKey string, mode types.SyncMode, since *time.Time, dryRun bool) (*Result, error) {
	start := e.clock()
	res := &Result{ProjectKey: projectKey, Mode: mode, Since: since, DryRun: dryRun, StartedAt: start}
	log := e.logger().With("project", projectKey, "mode", string(mode), "dry_run", dryRun)

	ctx, span := e.startSpan(ctx, "sync.project",
		attribute.String("sync.project", projectKey),
		attribute.String("sync.mode", string(mode)),
		attribute.Bool("sync.dry_run", dryRun))
	defer span.End()

	run := &types.SyncRun{ProjectKey: projectKey, Mode: mode, StartedAt: start, Since: since}
	if !dryRun {
		if err := e.Store.StartSyncRun(ctx, run); err != nil {
			return nil, fmt.Errorf("record sync run: %w", err)
		}
		res.RunID = run.ID
	}
	if since != nil {
		log.Info("sync started", "since", since.Format(time.RFC3339), "run_id", run.ID)
	} else {
		log.Info("sync started", "run_id", run.ID)
	}

	err := e.execute(ctx, res)
	res.Duration = e.clock().Sub(start)

	outcome := types.SyncSucceeded
	if err != nil {
		outcome = types.SyncFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.record(ctx, res, outcome)

	if !dryRun {
		finished := e.clock()
		run.Status = outcome
		run.FinishedAt = &finished
		run.IssuesFetched = res.Stats.Fetched
		run.IssuesUpserted = res.Stats.Issues.Changed()
		run.SprintsUpserted = res.Stats.Sprints.Changed()
		run.StatusChanges = res.Stats.StatusChanges
		run.IssuesRemoved = res.IssuesRemoved
		if err != nil {
			run.Error = err.Error()
		}
		if ferr := e.Store.FinishSyncRun(context.WithoutCancel(ctx), run); ferr != nil {
			log.Error("finish sync run", "run_id", run.ID, "error", ferr)
			if err == nil {
				err = fmt.Errorf("record sync run: %w", ferr)
			}
		}
	}

	if err != nil {
		log.Error("sync failed", "error", err, "duration", res.Duration)
		return res, err
	}
	log.Info("sync finished",
		"fetched", res.Stats.Fetched,
		"inserted", res.Stats.Issues.Inserted,
		"updated", res.Stats.Issues.Updated,
		"unchanged", res.Stats.Issues.Unchanged,
		"status_changes", res.Stats.StatusChanges,
		"removed", res.IssuesRemoved,
		"duration", res.Duration)
	return res, nil
}

func (e *Engine) execute(ctx context.Context, res *Result) error {
	key := res.ProjectKey
	dryRun := res.DryRun

	project, err := e.Jira.Project(ctx, key)
	if err != nil {
		return err
	}
	if !dryRun {
		if err := e.Store.UpsertProject(ctx, &types.Project{Key: key, Name: project.Name, JiraID: project.ID}); err != nil {
			return err
		}
	}

	sprints, boards, err := e.fetchSprints(ctx, key)
	if err != nil {
		return err
	}
	res.Boards, res.Sprints = boards, len(sprints)
	if !dryRun {
		r, err := e.Store.UpsertSprints(ctx, sprints)
		if err != nil {
			return err
		}
		res.Stats.Sprints.Add(r)
	}
	e.msg("%s: %d sprints on %d boards", key, len(sprints), boards)

	known := make(map[int64]bool, len(sprints))
	for _, sp := range sprints {
		known[sp.ID] = true
	}
	p := &processor{engine: e, projectKey: key, dryRun: dryRun, knownSprints: known, statusMap: e.StatusMap.Get()}

	jql := jira.BuildJQL(key, res.Since, e.options().Location)
	seen := make(map[string]bool)
	err = e.Jira.SearchIssuesPaged(ctx, jql, jira.SearchOptions{PageSize: e.options().PageSize}, func(page []jira.Issue) error {
		for i := range page {
			seen[page[i].Key] = true
		}
		stats, err := p.process(ctx, page)
		res.Stats.Add(stats)
		if err != nil {
			return err
		}
		e.msg("%s: %d issues processed", key, res.Stats.Fetched)
		return nil
	})
	res.Warnings = append(res.Warnings, p.warnings...)
	if err != nil {
		return fmt.Errorf("search issues for %s: %w", key, err)
	}

	if res.Mode == types.SyncFull {
		n, err := e.removeMissing(ctx, key, seen, dryRun)
		if err != nil {
			return err
		}
		res.IssuesRemoved = n
	}

	if dryRun || e.Metrics == nil || e.options().SkipMetrics {
		return nil
	}
	summary, err := e.Metrics.CalculateAllMetrics(ctx, e.Store, key)
	if err != nil {
		return fmt.Errorf("recalculate metrics for %s: %w", key, err)
	}
	res.Metrics = summary

	synced := res.StartedAt
	return e.Store.UpsertProject(ctx, &types.Project{Key: key, Name: project.Name, JiraID: project.ID, LastSyncedAt: &synced})
}

// fetchSprints lists the project's boards and their sprints, fetching boards
// concurrently. Sprints shared by several boards are returned once. Every
// sprint is owned by projectKey, even on a board located in another project;
// that project keeps its own copy when it syncs.
func (e *Engine) fetchSprints(ctx context.Context, projectKey string) ([]*types.Sprint, int, error) {
	boards, err := e.Jira.Boards(ctx, projectKey)
	if err != nil {
		return nil, 0, err
	}

	var mu sync.Mutex
	byID := make(map[int64]*types.Sprint)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.options().Concurrency)
	for _, b := range boards {
		g.Go(func() error {
			sprints, err := e.Jira.Sprints(gctx, b.ID)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, js := range sprints {
				sp, err := convertSprint(js, b.ID, projectKey)
				if err != nil {
					e.warn("%s: board %d: %v", projectKey, b.ID, err)
					continue
				}
				// Prefer the copy listed on the sprint's origin board.
				if _, ok := byID[sp.ID]; ok && js.OriginBoardID != b.ID {
					continue
				}
				byID[sp.ID] = sp
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	out := make([]*types.Sprint, 0, len(byID))
	for _, sp := range byID {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(boards), nil
}

// removeMissing marks stored issues that the full search did not return.
func (e *Engine) removeMissing(ctx context.Context, projectKey string, seen map[string]bool, dryRun bool) (int, error) {
	stored, err := e.Store.IssueKeys(ctx, projectKey)
	if err != nil {
		return 0, err
	}
	var missing []string
	for _, k := range stored {
		if !seen[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return 0, nil
	}
	if dryRun {
		e.msg("[dry-run] Would mark %d issues removed", len(missing))
		return len(missing), nil
	}
	n, err := e.Store.MarkIssuesRemoved(ctx, projectKey, missing)
	if err != nil {
		return 0, err
	}
	e.msg("%s: marked %d issues removed", projectKey, n)
	return n, nil
}

// ProcessIssues converts a batch of Jira issues and writes developers,
// issues and status history. Truncated changelogs are fetched in full.
// Issues that cannot be converted are skipped with a warning.
func (e *Engine) ProcessIssues(ctx context.Context, projectKey string, issues []jira.Issue) (ProcessStats, error) {
	p := &processor{engine: e, projectKey: projectKey, statusMap: e.StatusMap.Get()}
	return p.process(ctx, issues)
}

// processor carries per-run state across pages.
type processor struct {
	engine     *Engine
	projectKey string
	dryRun     bool
	statusMap  *statusmap.Map
	// categories accumulates raw status name -> category across pages.
	categories statusmap.Categories
	// knownSprints are the board sprints already stored in this run; nil
	// disables storing sprints found only on issues.
	knownSprints map[int64]bool
	warnings     []string
}

func (p *processor) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	p.warnings = append(p.warnings, msg)
	p.engine.warn("%s", msg)
}

func (p *processor) process(ctx context.Context, page []jira.Issue) (ProcessStats, error) {
	e := p.engine
	stats := ProcessStats{Fetched: len(page)}

	devs := make(map[string]*types.Developer)
	var issues []*types.Issue
	var changes []*types.StatusChange
	var extraSprints []*types.Sprint

	if p.categories == nil {
		p.categories = make(statusmap.Categories)
	}
	for i := range page {
		if st := page[i].Fields.Status; st != nil {
			p.categories.Learn(st.Name, st.CategoryKey())
		}
	}

	for i := range page {
		ji := &page[i]
		conv, err := convertIssue(e.Jira, ji, p.projectKey, p.statusMap)
		if err != nil {
			p.warn("skipping %v", err)
			stats.Skipped++
			continue
		}
		for _, w := range conv.Warnings {
			p.warn("%s", w)
		}
		issues = append(issues, conv.Issue)
		for _, d := range conv.Developers {
			devs[d.AccountID] = d
		}
		if p.knownSprints != nil {
			for _, ref := range conv.SprintRefs {
				if ref.ID == 0 || p.knownSprints[ref.ID] {
					continue
				}
				sp, err := sprintFromRef(ref, p.projectKey)
				if err != nil {
					p.warn("%s: %v", ji.Key, err)
					continue
				}
				p.knownSprints[ref.ID] = true
				extraSprints = append(extraSprints, sp)
			}
		}

		histories, err := p.histories(ctx, ji)
		if err != nil {
			return stats, err
		}
		sc, err := statusChanges(ji.Key, conv.Issue.ProjectKey, histories, p.statusMap, p.categories)
		if err != nil {
			p.warn("%v", err)
			continue
		}
		changes = append(changes, sc...)
	}

	if p.dryRun {
		for _, is := range issues {
			e.msg("[dry-run] Would upsert %s - %s (%s)", is.Key, is.Summary, is.Status)
		}
		stats.StatusChanges = len(changes)
		return stats, nil
	}

	if len(extraSprints) > 0 {
		r, err := e.Store.UpsertSprints(ctx, extraSprints)
		if err != nil {
			return stats, err
		}
		stats.Sprints = r
	}

	devList := make([]*types.Developer, 0, len(devs))
	for _, d := range devs {
		devList = append(devList, d)
	}
	sort.Slice(devList, func(i, j int) bool { return devList[i].AccountID < devList[j].AccountID })
	if len(devList) > 0 {
		r, err := e.Store.UpsertDevelopers(ctx, devList)
		if err != nil {
			return stats, err
		}
		stats.Developers = r
	}

	r, err := e.Store.UpsertIssues(ctx, issues)
	if err != nil {
		return stats, err
	}
	stats.Issues = r

	n, err := e.Store.RecordStatusChanges(ctx, changes)
	if err != nil {
		return stats, err
	}
	stats.StatusChanges = n
	return stats, nil
}

// histories returns the issue's full changelog, fetching it when the
// embedded copy was truncated. An issue deleted between search and fetch
// keeps its embedded histories.
func (p *processor) histories(ctx context.Context, ji *jira.Issue) ([]jira.History, error) {
	if ji.Changelog == nil {
		return nil, nil
	}
	if !ji.Changelog.Truncated() {
		return ji.Changelog.Histories, nil
	}
	all, err := p.engine.Jira.IssueChangelog(ctx, ji.Key)
	if errors.Is(err, jira.ErrNotFound) {
		p.warn("%s: changelog not found, using %d embedded histories", ji.Key, len(ji.Changelog.Histories))
		return ji.Changelog.Histories, nil
	}
	if err != nil {
		return nil, err
	}
	return all, nil
}

func (e *Engine) options() Options {
	o := e.Options
	d := DefaultOptions()
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Concurrency < 1 {
		o.Concurrency = d.Concurrency
	}
	if o.PageSize < 1 || o.PageSize > jira.MaxPageSize {
		o.PageSize = d.PageSize
	}
	if o.Location == nil {
		o.Location = d.Location
	}
	return o
}

func (e *Engine) clock() time.Time {
	if e.now != nil {
		return e.now().UTC()
	}
	return time.Now().UTC()
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.Discard()
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tr := e.tracer
	if tr == nil {
		tr = telemetry.Tracer(scopeName)
	}
	return tr.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (e *Engine) record(ctx context.Context, res *Result, outcome types.SyncRunStatus) {
	attrs := metric.WithAttributes(
		attribute.String("sync.project", res.ProjectKey),
		attribute.String("sync.mode", string(res.Mode)),
		attribute.String("sync.status", string(outcome)),
	)
	if e.runs != nil {
		e.runs.Add(ctx, 1, attrs)
	}
	if e.issues != nil {
		e.issues.Add(ctx, int64(res.Stats.Fetched), attrs)
	}
	if e.runLength != nil {
		e.runLength.Record(ctx, res.Duration.Seconds(), attrs)
	}
}

func (e *Engine) msg(format string, args ...interface{}) {
	if e.OnMessage != nil {
		e.OnMessage(fmt.Sprintf(format, args...))
	}
}

func (e *Engine) warn(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	e.logger().Warn(msg)
	if e.OnWarning != nil {
		e.OnWarning(msg)
	}
}
