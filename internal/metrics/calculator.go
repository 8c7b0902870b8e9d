package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/sprintpulse/sprintsync/internal/debug"
	"github.com/sprintpulse/sprintsync/internal/storage"
	"github.com/sprintpulse/sprintsync/internal/types"
)

// DefaultVelocityWindow is the number of closed sprints Velocity averages.
const DefaultVelocityWindow = 3

// Calculator loads a project's synchronized data, computes every metric set
// and replaces the stored rows.
type Calculator struct {
	// Now stamps CalculatedAt and bounds the delivery series. Defaults to
	// time.Now in UTC.
	Now func() time.Time
	// VelocityWindow is passed to Velocity for the summary.
	VelocityWindow int
}

// NewCalculator returns a calculator with default settings.
func NewCalculator() *Calculator {
	return &Calculator{VelocityWindow: DefaultVelocityWindow}
}

// Summary describes one recompute.
type Summary struct {
	ProjectKey     string    `json:"project_key"`
	Sprints        int       `json:"sprints"`
	DeveloperRows  int       `json:"developer_rows"`
	Weeks          int       `json:"weeks"`
	Velocity       float64   `json:"velocity"`
	VelocityWindow int       `json:"velocity_window"`
	CalculatedAt   time.Time `json:"calculated_at"`
}

func (c *Calculator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

func (c *Calculator) window() int {
	if c.VelocityWindow > 0 {
		return c.VelocityWindow
	}
	return DefaultVelocityWindow
}

// Compute loads the project's sprints, issues and status changes and
// returns the three metric sets without writing them.
func (c *Calculator) Compute(ctx context.Context, store storage.Store, projectKey string) (*storage.MetricSet, time.Time, error) {
	now := c.now()
	sprints, err := store.ListSprints(ctx, projectKey)
	if err != nil {
		return nil, now, fmt.Errorf("load sprints: %w", err)
	}
	issues, err := store.ListIssues(ctx, types.IssueFilter{ProjectKey: projectKey})
	if err != nil {
		return nil, now, fmt.Errorf("load issues: %w", err)
	}
	changes, err := store.ListStatusChanges(ctx, projectKey)
	if err != nil {
		return nil, now, fmt.Errorf("load status changes: %w", err)
	}
	debug.Logf("metrics %s: %d sprints, %d issues, %d status changes\n", projectKey, len(sprints), len(issues), len(changes))

	return &storage.MetricSet{
		Sprints:    CalculateSprintMetrics(sprints, issues, changes, now),
		Developers: CalculateDeveloperMetrics(sprints, issues, changes, now),
		Delivery:   CalculateDeliveryMetrics(projectKey, issues, changes, now),
	}, now, nil
}

// CalculateAllMetrics recomputes and replaces every metric row of the
// project. Stores implementing storage.MetricsReplacer swap the three tables
// in one transaction; others are replaced table by table.
func (c *Calculator) CalculateAllMetrics(ctx context.Context, store storage.Store, projectKey string) (*Summary, error) {
	start := time.Now()
	set, now, err := c.Compute(ctx, store, projectKey)
	if err != nil {
		return nil, fmt.Errorf("metrics %s: %w", projectKey, err)
	}
	if err := replace(ctx, store, projectKey, set); err != nil {
		return nil, fmt.Errorf("metrics %s: %w", projectKey, err)
	}
	debug.Timef(start, "metrics %s recomputed", projectKey)

	return &Summary{
		ProjectKey:     projectKey,
		Sprints:        len(set.Sprints),
		DeveloperRows:  len(set.Developers),
		Weeks:          len(set.Delivery),
		Velocity:       Velocity(set.Sprints, c.window()),
		VelocityWindow: c.window(),
		CalculatedAt:   now,
	}, nil
}

func replace(ctx context.Context, store storage.Store, projectKey string, set *storage.MetricSet) error {
	if r, ok := store.(storage.MetricsReplacer); ok {
		return r.ReplaceMetrics(ctx, projectKey, set)
	}
	if err := store.ReplaceSprintMetrics(ctx, projectKey, set.Sprints); err != nil {
		return err
	}
	if err := store.ReplaceDeveloperMetrics(ctx, projectKey, set.Developers); err != nil {
		return err
	}
	return store.ReplaceDeliveryMetrics(ctx, projectKey, set.Delivery)
}
