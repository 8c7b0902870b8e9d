package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

const storageScopeName = "github.com/sprintpulse/sprintsync/storage"

// InstrumentedStore wraps storage.Store with OTel tracing and metrics.
// Every method gets a span and is counted in sprintsync.storage.* metrics.
// Use WrapStore to create one; it returns the original store unchanged when
// telemetry is disabled.
type InstrumentedStore struct {
	inner  storage.Store
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	rows   metric.Int64Counter
}

var (
	_ storage.Store           = (*InstrumentedStore)(nil)
	_ storage.MetricsReplacer = (*InstrumentedStore)(nil)
)

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is with zero overhead.
func WrapStore(s storage.Store) storage.Store {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s, otel.GetTracerProvider(), otel.GetMeterProvider())
}

func newInstrumentedStore(s storage.Store, tp trace.TracerProvider, mp metric.MeterProvider) *InstrumentedStore {
	m := mp.Meter(storageScopeName)
	ops, _ := m.Int64Counter("sprintsync.storage.operations",
		metric.WithDescription("Total storage operations executed"),
	)
	dur, _ := m.Float64Histogram("sprintsync.storage.operation.duration",
		metric.WithDescription("Storage operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("sprintsync.storage.errors",
		metric.WithDescription("Total storage operation errors"),
	)
	rows, _ := m.Int64Counter("sprintsync.storage.rows_changed",
		metric.WithDescription("Rows inserted or updated by upserts"),
	)
	return &InstrumentedStore{
		inner:  s,
		tracer: tp.Tracer(storageScopeName),
		ops:    ops,
		dur:    dur,
		errs:   errs,
		rows:   rows,
	}
}

// Unwrap returns the decorated store.
func (s *InstrumentedStore) Unwrap() storage.Store { return s.inner }

// op starts a span and records a metric for the named storage operation.
func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("db.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "storage."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

// done ends the span, records duration and optional error.
func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

// upserted records what an upsert did on the span and the row counter.
func (s *InstrumentedStore) upserted(ctx context.Context, span trace.Span, table string, r storage.UpsertResult) {
	span.SetAttributes(
		attribute.Int("sprintsync.rows.inserted", r.Inserted),
		attribute.Int("sprintsync.rows.updated", r.Updated),
		attribute.Int("sprintsync.rows.unchanged", r.Unchanged),
	)
	s.rows.Add(ctx, int64(r.Changed()), metric.WithAttributes(attribute.String("db.table", table)))
}

func project(key string) attribute.KeyValue { return attribute.String("sprintsync.project", key) }

func count(n int) attribute.KeyValue { return attribute.Int("sprintsync.count", n) }

// ── Projects ────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertProject(ctx context.Context, p *types.Project) error {
	attrs := []attribute.KeyValue{project(p.Key)}
	ctx, span, t := s.op(ctx, "UpsertProject", attrs...)
	err := s.inner.UpsertProject(ctx, p)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) GetProject(ctx context.Context, key string) (*types.Project, error) {
	attrs := []attribute.KeyValue{project(key)}
	ctx, span, t := s.op(ctx, "GetProject", attrs...)
	v, err := s.inner.GetProject(ctx, key)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) ListProjects(ctx context.Context) ([]*types.Project, error) {
	ctx, span, t := s.op(ctx, "ListProjects")
	v, err := s.inner.ListProjects(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Sprints and developers ──────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertSprints(ctx context.Context, sprints []*types.Sprint) (storage.UpsertResult, error) {
	attrs := []attribute.KeyValue{count(len(sprints))}
	ctx, span, t := s.op(ctx, "UpsertSprints", attrs...)
	r, err := s.inner.UpsertSprints(ctx, sprints)
	s.upserted(ctx, span, "sprints", r)
	s.done(ctx, span, t, err, attrs...)
	return r, err
}

func (s *InstrumentedStore) ListSprints(ctx context.Context, projectKey string) ([]*types.Sprint, error) {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "ListSprints", attrs...)
	v, err := s.inner.ListSprints(ctx, projectKey)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) UpsertDevelopers(ctx context.Context, devs []*types.Developer) (storage.UpsertResult, error) {
	attrs := []attribute.KeyValue{count(len(devs))}
	ctx, span, t := s.op(ctx, "UpsertDevelopers", attrs...)
	r, err := s.inner.UpsertDevelopers(ctx, devs)
	s.upserted(ctx, span, "developers", r)
	s.done(ctx, span, t, err, attrs...)
	return r, err
}

func (s *InstrumentedStore) ListDevelopers(ctx context.Context) ([]*types.Developer, error) {
	ctx, span, t := s.op(ctx, "ListDevelopers")
	v, err := s.inner.ListDevelopers(ctx)
	s.done(ctx, span, t, err)
	return v, err
}

// ── Issues and history ──────────────────────────────────────────────────────

func (s *InstrumentedStore) UpsertIssues(ctx context.Context, issues []*types.Issue) (storage.UpsertResult, error) {
	attrs := []attribute.KeyValue{count(len(issues))}
	ctx, span, t := s.op(ctx, "UpsertIssues", attrs...)
	r, err := s.inner.UpsertIssues(ctx, issues)
	s.upserted(ctx, span, "issues", r)
	s.done(ctx, span, t, err, attrs...)
	return r, err
}

func (s *InstrumentedStore) ListIssues(ctx context.Context, filter types.IssueFilter) ([]*types.Issue, error) {
	attrs := []attribute.KeyValue{project(filter.ProjectKey)}
	ctx, span, t := s.op(ctx, "ListIssues", attrs...)
	v, err := s.inner.ListIssues(ctx, filter)
	span.SetAttributes(count(len(v)))
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) IssueKeys(ctx context.Context, projectKey string) ([]string, error) {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "IssueKeys", attrs...)
	v, err := s.inner.IssueKeys(ctx, projectKey)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) MarkIssuesRemoved(ctx context.Context, projectKey string, keys []string) (int, error) {
	attrs := []attribute.KeyValue{project(projectKey), count(len(keys))}
	ctx, span, t := s.op(ctx, "MarkIssuesRemoved", attrs...)
	n, err := s.inner.MarkIssuesRemoved(ctx, projectKey, keys)
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStore) RecordStatusChanges(ctx context.Context, changes []*types.StatusChange) (int, error) {
	attrs := []attribute.KeyValue{count(len(changes))}
	ctx, span, t := s.op(ctx, "RecordStatusChanges", attrs...)
	n, err := s.inner.RecordStatusChanges(ctx, changes)
	s.rows.Add(ctx, int64(n), metric.WithAttributes(attribute.String("db.table", "status_changes")))
	s.done(ctx, span, t, err, attrs...)
	return n, err
}

func (s *InstrumentedStore) ListStatusChanges(ctx context.Context, projectKey string) ([]*types.StatusChange, error) {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "ListStatusChanges", attrs...)
	v, err := s.inner.ListStatusChanges(ctx, projectKey)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) UpdateNormalizedStatuses(ctx context.Context, projectKey string, fn storage.NormalizeFunc) (int, int, error) {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "UpdateNormalizedStatuses", attrs...)
	issues, changes, err := s.inner.UpdateNormalizedStatuses(ctx, projectKey, fn)
	span.SetAttributes(attribute.Int("sprintsync.issues", issues), attribute.Int("sprintsync.status_changes", changes))
	s.done(ctx, span, t, err, attrs...)
	return issues, changes, err
}

// ── Sync runs ───────────────────────────────────────────────────────────────

func (s *InstrumentedStore) StartSyncRun(ctx context.Context, run *types.SyncRun) error {
	attrs := []attribute.KeyValue{project(run.ProjectKey), attribute.String("sprintsync.mode", string(run.Mode))}
	ctx, span, t := s.op(ctx, "StartSyncRun", attrs...)
	err := s.inner.StartSyncRun(ctx, run)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) FinishSyncRun(ctx context.Context, run *types.SyncRun) error {
	attrs := []attribute.KeyValue{project(run.ProjectKey), attribute.String("sprintsync.status", string(run.Status))}
	ctx, span, t := s.op(ctx, "FinishSyncRun", attrs...)
	err := s.inner.FinishSyncRun(ctx, run)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) LastSuccessfulSync(ctx context.Context, projectKey string) (*types.SyncRun, error) {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "LastSuccessfulSync", attrs...)
	v, err := s.inner.LastSuccessfulSync(ctx, projectKey)
	s.done(ctx, span, t, notFoundIsNoError(err), attrs...)
	return v, err
}

func (s *InstrumentedStore) ListSyncRuns(ctx context.Context, projectKey string, limit int) ([]*types.SyncRun, error) {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "ListSyncRuns", attrs...)
	v, err := s.inner.ListSyncRuns(ctx, projectKey, limit)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// ── Metrics ─────────────────────────────────────────────────────────────────

func (s *InstrumentedStore) ReplaceSprintMetrics(ctx context.Context, projectKey string, rows []*types.SprintMetrics) error {
	attrs := []attribute.KeyValue{project(projectKey), count(len(rows))}
	ctx, span, t := s.op(ctx, "ReplaceSprintMetrics", attrs...)
	err := s.inner.ReplaceSprintMetrics(ctx, projectKey, rows)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ReplaceDeveloperMetrics(ctx context.Context, projectKey string, rows []*types.DeveloperMetrics) error {
	attrs := []attribute.KeyValue{project(projectKey), count(len(rows))}
	ctx, span, t := s.op(ctx, "ReplaceDeveloperMetrics", attrs...)
	err := s.inner.ReplaceDeveloperMetrics(ctx, projectKey, rows)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) ReplaceDeliveryMetrics(ctx context.Context, projectKey string, rows []*types.DeliveryMetrics) error {
	attrs := []attribute.KeyValue{project(projectKey), count(len(rows))}
	ctx, span, t := s.op(ctx, "ReplaceDeliveryMetrics", attrs...)
	err := s.inner.ReplaceDeliveryMetrics(ctx, projectKey, rows)
	s.done(ctx, span, t, err, attrs...)
	return err
}

// ReplaceMetrics keeps the inner store's single-transaction replace when it
// has one, and otherwise replaces table by table.
func (s *InstrumentedStore) ReplaceMetrics(ctx context.Context, projectKey string, set *storage.MetricSet) error {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "ReplaceMetrics", attrs...)
	var err error
	if r, ok := s.inner.(storage.MetricsReplacer); ok {
		err = r.ReplaceMetrics(ctx, projectKey, set)
	} else {
		err = s.inner.ReplaceSprintMetrics(ctx, projectKey, set.Sprints)
		if err == nil {
			err = s.inner.ReplaceDeveloperMetrics(ctx, projectKey, set.Developers)
		}
		if err == nil {
			err = s.inner.ReplaceDeliveryMetrics(ctx, projectKey, set.Delivery)
		}
	}
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) SprintMetrics(ctx context.Context, projectKey string) ([]*types.SprintMetrics, error) {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "SprintMetrics", attrs...)
	v, err := s.inner.SprintMetrics(ctx, projectKey)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) DeveloperMetrics(ctx context.Context, projectKey string, sprintID int64) ([]*types.DeveloperMetrics, error) {
	attrs := []attribute.KeyValue{project(projectKey), attribute.Int64("sprintsync.sprint_id", sprintID)}
	ctx, span, t := s.op(ctx, "DeveloperMetrics", attrs...)
	v, err := s.inner.DeveloperMetrics(ctx, projectKey, sprintID)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

func (s *InstrumentedStore) DeliveryMetrics(ctx context.Context, projectKey string) ([]*types.DeliveryMetrics, error) {
	attrs := []attribute.KeyValue{project(projectKey)}
	ctx, span, t := s.op(ctx, "DeliveryMetrics", attrs...)
	v, err := s.inner.DeliveryMetrics(ctx, projectKey)
	s.done(ctx, span, t, err, attrs...)
	return v, err
}

// Close is not traced.
func (s *InstrumentedStore) Close() error {
	return s.inner.Close()
}

// notFoundIsNoError keeps expected lookups (first sync of a project) out of
// the error counter.
func notFoundIsNoError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}
