package report

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/sprintpulse/sprintsync/internal/debug"
	"github.com/sprintpulse/sprintsync/internal/telemetry"
)

const (
	// DefaultModel is used when report.model is empty.
	DefaultModel = "claude-3-5-haiku-latest"

	maxRetries     = 3
	initialBackoff = 1 * time.Second
	scopeName      = "github.com/sprintpulse/sprintsync/report"
)

// ErrAPIKeyRequired is returned when no Anthropic API key is available.
var ErrAPIKeyRequired = errors.New("API key required")

// Summarizer writes a short narrative for a rendered sprint report.
type Summarizer struct {
	client         anthropic.Client
	model          anthropic.Model
	prompt         *template.Template
	maxRetries     int
	initialBackoff time.Duration
}

// NewSummarizer creates an Anthropic backed summarizer. ANTHROPIC_API_KEY
// takes precedence over apiKey. Extra options are passed to the SDK client.
func NewSummarizer(apiKey, model string, opts ...option.RequestOption) (*Summarizer, error) {
	if envKey := os.Getenv("ANTHROPIC_API_KEY"); envKey != "" {
		apiKey = envKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: set ANTHROPIC_API_KEY to use --summarize", ErrAPIKeyRequired)
	}
	if model == "" {
		model = DefaultModel
	}

	tmpl, err := template.New("sprint").Parse(sprintPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}

	aiMetricsOnce.Do(initAIMetrics)

	return &Summarizer{
		client:         anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:          anthropic.Model(model),
		prompt:         tmpl,
		maxRetries:     maxRetries,
		initialBackoff: initialBackoff,
	}, nil
}

// Summarize returns a few paragraphs describing the sprint in the report.
func (s *Summarizer) Summarize(ctx context.Context, projectKey, markdown string) (string, error) {
	var buf strings.Builder
	if err := s.prompt.Execute(&buf, promptData{Project: projectKey, Report: markdown}); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return s.callWithRetry(ctx, buf.String())
}

var aiMetrics struct {
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	duration     metric.Float64Histogram
}

var aiMetricsOnce sync.Once

func initAIMetrics() {
	m := telemetry.Meter(scopeName)
	aiMetrics.inputTokens, _ = m.Int64Counter("sprintsync.ai.input_tokens",
		metric.WithDescription("Anthropic API input tokens consumed"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.outputTokens, _ = m.Int64Counter("sprintsync.ai.output_tokens",
		metric.WithDescription("Anthropic API output tokens generated"),
		metric.WithUnit("{token}"),
	)
	aiMetrics.duration, _ = m.Float64Histogram("sprintsync.ai.request.duration",
		metric.WithDescription("Anthropic API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
}

func (s *Summarizer) callWithRetry(ctx context.Context, prompt string) (string, error) {
	ctx, span := telemetry.Tracer(scopeName).Start(ctx, "anthropic.messages.new")
	defer span.End()
	modelAttr := attribute.String("sprintsync.ai.model", string(s.model))
	span.SetAttributes(modelAttr)

	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.initialBackoff
	bo.MaxElapsedTime = 0
	retry := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.maxRetries)), ctx)

	attempts := 0
	var text string
	op := func() error {
		attempts++
		t0 := time.Now()
		msg, err := s.client.Messages.New(ctx, params)
		ms := float64(time.Since(t0).Milliseconds())
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if !isRetryable(err) {
				return backoff.Permanent(fmt.Errorf("non-retryable error: %w", err))
			}
			return err
		}

		if aiMetrics.inputTokens != nil {
			aiMetrics.inputTokens.Add(ctx, msg.Usage.InputTokens, metric.WithAttributes(modelAttr))
			aiMetrics.outputTokens.Add(ctx, msg.Usage.OutputTokens, metric.WithAttributes(modelAttr))
			aiMetrics.duration.Record(ctx, ms, metric.WithAttributes(modelAttr))
		}
		span.SetAttributes(
			attribute.Int64("sprintsync.ai.input_tokens", msg.Usage.InputTokens),
			attribute.Int64("sprintsync.ai.output_tokens", msg.Usage.OutputTokens),
			attribute.Int("sprintsync.ai.attempts", attempts),
		)
		if len(msg.Content) == 0 {
			return backoff.Permanent(fmt.Errorf("unexpected response format: no content blocks"))
		}
		if c := msg.Content[0]; c.Type != "text" {
			return backoff.Permanent(fmt.Errorf("unexpected response format: not a text block (type=%s)", c.Type))
		}
		text = strings.TrimSpace(msg.Content[0].Text)
		return nil
	}
	notify := func(err error, wait time.Duration) {
		debug.Logf("summarize: attempt %d failed, retrying in %v: %v", attempts, wait, err)
	}

	if err := backoff.RetryNotify(op, retry, notify); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if isRetryable(err) {
			return "", fmt.Errorf("failed after %d attempts: %w", attempts, err)
		}
		return "", err
	}
	return text, nil
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

type promptData struct {
	Project string
	Report  string
}

const sprintPromptTemplate = `You are writing the narrative section of a sprint review for project {{.Project}}.
The metrics below were computed from Jira. Do not invent numbers that are not in the tables.

{{.Report}}

Write at most three short paragraphs in Markdown, no headings:
1. What the team delivered compared with what it committed to.
2. Scope change, carry-over and unestimated work worth discussing in the retrospective.
3. Anything notable about individual workload balance or cycle time.`
