// Package orchestrator fans user-supplied prompts out to a remote
// inference client, gated by the adaptive rate limiter, with retries,
// per-request telemetry, and batch progress milestones.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/promptdrive/promptdrive-go/archive"
	"github.com/promptdrive/promptdrive-go/pricing"
	"github.com/promptdrive/promptdrive-go/promptdrive"
	"github.com/promptdrive/promptdrive-go/ratelimit"
	"github.com/promptdrive/promptdrive-go/stats"
)

// Config wires the orchestrator's collaborators together.
type Config struct {
	// Model is the model identifier sent with every request. Required;
	// it must exist in the pricing table for costs to be non-zero.
	Model string

	// Temperature and MaxTokens are forwarded to the remote client.
	// MaxTokens of zero means provider default.
	Temperature float32
	MaxTokens   int

	// Client is the remote inference capability. Required.
	Client promptdrive.Client

	// Limiter gates concurrency and accounts token usage. Required.
	Limiter *ratelimit.AdaptiveLimiter

	// Stats receives all telemetry. Required.
	Stats *stats.Manager

	// Pricing resolves model capabilities and unit prices. Required.
	Pricing *pricing.Table

	// Retry controls the per-request retry policy. Zero value means
	// DefaultRetryConfig.
	Retry RetryConfig

	// Archive, when set, receives completed batch outcomes
	// fire-and-forget.
	Archive archive.Archiver

	// Transform, when set, is applied to each formatted prompt before
	// submission (e.g. a retrieval-augmented enricher).
	Transform func(string) string

	// Logger for orchestration events. Nil means discard.
	Logger *slog.Logger
}

// Orchestrator executes single prompts and prompt batches against a
// remote inference client.
type Orchestrator struct {
	cfg Config
	log *slog.Logger
}

// BatchResult is the aggregate answer of ProcessBatch.
type BatchResult struct {
	// Results holds one outcome per input text, in input order.
	Results []*promptdrive.Outcome

	// BatchStats is the closed statistics container of this batch.
	BatchStats *stats.Container

	// BatchID is the mangled identifier under which the batch was
	// tracked.
	BatchID string
}

// SchemaCompatibilityError reports a JSON-schema request against a model
// that is not flagged for structured output.
type SchemaCompatibilityError struct {
	Model string
}

// Error implements the error interface.
func (e *SchemaCompatibilityError) Error() string {
	return fmt.Sprintf("model %q does not support json schema output", e.Model)
}

// New creates an orchestrator. Client, Limiter, Stats, and Pricing are
// required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("orchestrator: Model is required")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("orchestrator: Client is required")
	}
	if cfg.Limiter == nil {
		return nil, fmt.Errorf("orchestrator: Limiter is required")
	}
	if cfg.Stats == nil {
		return nil, fmt.Errorf("orchestrator: Stats is required")
	}
	if cfg.Pricing == nil {
		return nil, fmt.Errorf("orchestrator: Pricing is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{cfg: cfg, log: cfg.Logger}, nil
}

// StatsManager exposes the statistics manager for summary retrieval.
func (o *Orchestrator) StatsManager() *stats.Manager {
	return o.cfg.Stats
}

// Option customizes a single call or a batch.
type Option func(*callOptions)

type callOptions struct {
	schema      *promptdrive.ResponseFormat
	customID    string
	vars        map[string]string
	batchPrefix string
	customIDs   []string
}

// WithJSONSchema requests JSON-schema structured output. The model must
// be flagged json_schema in the pricing table or the call fails before
// any request is issued.
func WithJSONSchema(name string, schema json.RawMessage) Option {
	return func(opts *callOptions) {
		opts.schema = &promptdrive.ResponseFormat{SchemaName: name, Schema: schema}
	}
}

// WithCustomID sets the outcome id for a single call.
func WithCustomID(id string) Option {
	return func(opts *callOptions) { opts.customID = id }
}

// WithVar adds a template variable substituted as {key}.
func WithVar(key, value string) Option {
	return func(opts *callOptions) {
		if opts.vars == nil {
			opts.vars = make(map[string]string)
		}
		opts.vars[key] = value
	}
}

// WithBatchID sets the caller prefix of the mangled batch id.
func WithBatchID(prefix string) Option {
	return func(opts *callOptions) { opts.batchPrefix = prefix }
}

// WithCustomIDs sets per-item outcome ids for a batch. The slice must
// match the batch length exactly; empty entries are synthesized as
// "{batch_id}_req_{index}".
func WithCustomIDs(ids []string) Option {
	return func(opts *callOptions) { opts.customIDs = ids }
}

func buildOptions(opts []Option) *callOptions {
	options := &callOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ProcessSingle formats one prompt and executes it end to end with retry.
// Remote failures are returned as a failed Outcome, not as an error;
// only configuration problems and context cancellation produce errors.
// Telemetry goes to the global scope only.
func (o *Orchestrator) ProcessSingle(ctx context.Context, text, template string, opts ...Option) (*promptdrive.Outcome, error) {
	options := buildOptions(opts)

	if err := o.checkSchemaCompatibility(options.schema); err != nil {
		return nil, err
	}

	id := options.customID
	if id == "" {
		id = "req_" + uuid.NewString()
	}

	prompt := o.buildPrompt(text, template, options.vars)
	return o.executeOne(ctx, id, prompt, options.schema, "")
}

// ProcessBatch fans one task per text out under the rate limiter, waits
// for all of them, and returns outcomes re-indexed to input order. Item
// failures never abort the batch; only context cancellation does.
func (o *Orchestrator) ProcessBatch(ctx context.Context, texts []string, template string, opts ...Option) (*BatchResult, error) {
	options := buildOptions(opts)

	if err := o.checkSchemaCompatibility(options.schema); err != nil {
		return nil, err
	}
	if options.customIDs != nil && len(options.customIDs) != len(texts) {
		return nil, fmt.Errorf("orchestrator: custom id count %d does not match %d texts",
			len(options.customIDs), len(texts))
	}

	prefix := options.batchPrefix
	if prefix == "" {
		prefix = "batch"
	}
	batchID := fmt.Sprintf("%s_%d", prefix, time.Now().Unix())

	o.cfg.Stats.StartBatch(batchID)
	progress := stats.NewProgressTracker(batchID, len(texts), o.log)

	o.log.Info("batch started",
		slog.String("action", "batch_start"),
		slog.String("batch_id", batchID),
		slog.Int("total", len(texts)))

	results := make([]*promptdrive.Outcome, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		id := ""
		if options.customIDs != nil {
			id = options.customIDs[i]
		}
		if id == "" {
			id = fmt.Sprintf("%s_req_%d", batchID, i)
		}
		prompt := o.buildPrompt(text, template, options.vars)

		g.Go(func() error {
			outcome, err := o.executeOne(gctx, id, prompt, options.schema, batchID)
			if err != nil {
				return err
			}
			results[i] = outcome
			progress.IncrementAndLog()
			return nil
		})
	}

	waitErr := g.Wait()
	batchStats := o.cfg.Stats.EndBatch(batchID)

	if waitErr != nil {
		o.log.Warn("batch aborted",
			slog.String("action", "batch_abort"),
			slog.String("batch_id", batchID),
			slog.String("error", waitErr.Error()))
		return nil, waitErr
	}

	o.log.Info("batch complete",
		slog.String("action", "batch_complete"),
		slog.String("batch_id", batchID),
		slog.Int("completed", progress.Completed()),
		slog.Int("total", len(texts)),
		slog.Int("failed", batchStats.FailedRequests),
		slog.Float64("cost", batchStats.TotalCost))

	return &BatchResult{
		Results:    results,
		BatchStats: batchStats,
		BatchID:    batchID,
	}, nil
}

func (o *Orchestrator) buildPrompt(text, template string, vars map[string]string) string {
	prompt := FormatPrompt(template, text, vars)
	if o.cfg.Transform != nil {
		prompt = o.cfg.Transform(prompt)
	}
	return prompt
}

// checkSchemaCompatibility fails fast, before any API call, when a JSON
// schema is requested against a model not flagged for it.
func (o *Orchestrator) checkSchemaCompatibility(schema *promptdrive.ResponseFormat) error {
	if schema == nil {
		return nil
	}
	if !o.cfg.Pricing.SupportsJSONSchema(o.cfg.Model) {
		return &SchemaCompatibilityError{Model: o.cfg.Model}
	}
	return nil
}

// executeOne runs the full lifecycle of one request: slot acquisition,
// the retry loop, telemetry, and the deferred slot release. The returned
// error is non-nil only for context cancellation; remote failures become
// failed outcomes.
func (o *Orchestrator) executeOne(ctx context.Context, id, prompt string, schema *promptdrive.ResponseFormat, batchID string) (outcome *promptdrive.Outcome, err error) {
	startWall := time.Now()

	if err := o.cfg.Limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	o.cfg.Stats.RecordConcurrentStart(batchID)

	var (
		totalTokens int
		success     bool
	)
	// The deferred release runs on every exit path, including
	// cancellation mid-retry, so a slot is never leaked.
	defer func() {
		o.cfg.Limiter.RecordCompletion(totalTokens, success)
		o.cfg.Stats.RecordConcurrentEnd(batchID)
	}()

	req := &promptdrive.Request{
		Model:          o.cfg.Model,
		Messages:       []promptdrive.ChatMessage{{Role: "user", Content: prompt}},
		Temperature:    o.cfg.Temperature,
		MaxTokens:      o.cfg.MaxTokens,
		ResponseFormat: schema,
	}

	var (
		apiSeconds float64
		attempts   int
		lastErr    error
	)

	for attempt := 1; attempt <= o.cfg.Retry.MaxAttempts; attempt++ {
		attempts = attempt

		callStart := time.Now()
		resp, callErr := o.cfg.Client.Submit(ctx, req)
		apiSeconds += time.Since(callStart).Seconds()

		if callErr == nil {
			outcome = o.successOutcome(id, startWall, resp, schema, apiSeconds, attempts)
			success = true
			totalTokens = resp.Usage.TotalTokens
			o.recordOutcome(batchID, outcome, "")
			return outcome, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = callErr
		wait := o.cfg.Retry.Wait
		if isRateLimitError(callErr) {
			mandated := rateLimitWait(callErr, o.cfg.Retry.DefaultRateLimitWait)
			o.cfg.Limiter.RecordAPIRateLimit(mandated)
			if mandated > wait {
				wait = mandated
			}
		}

		if attempt < o.cfg.Retry.MaxAttempts {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	outcome = &promptdrive.Outcome{
		ID:             id,
		StartTimestamp: promptdrive.FormatTimestamp(startWall),
		Success:        false,
		Error:          lastErr.Error(),
		ErrorDetails: &promptdrive.ErrorDetails{
			Type: retryErrorType,
			Message: fmt.Sprintf("all %d attempts failed, last error: %v",
				o.cfg.Retry.MaxAttempts, lastErr),
			Stack: string(debug.Stack()),
		},
		APIResponseTime: apiSeconds,
		Attempts:        attempts,
	}
	o.recordOutcome(batchID, outcome, retryErrorType)
	return outcome, nil
}

func (o *Orchestrator) successOutcome(id string, startWall time.Time, resp *promptdrive.Response, schema *promptdrive.ResponseFormat, apiSeconds float64, attempts int) *promptdrive.Outcome {
	usage := resp.Usage
	outcome := &promptdrive.Outcome{
		ID:              id,
		StartTimestamp:  promptdrive.FormatTimestamp(startWall),
		Success:         true,
		Content:         resp.Content,
		InputTokens:     usage.PromptTokens,
		OutputTokens:    usage.CompletionTokens,
		CachedTokens:    usage.CachedTokens,
		TotalTokens:     usage.TotalTokens,
		Cost:            o.cfg.Pricing.Cost(o.cfg.Model, usage.PromptTokens, usage.CompletionTokens, usage.CachedTokens),
		APIResponseTime: apiSeconds,
		Attempts:        attempts,
	}

	if schema != nil {
		// Parse failure is not an error; the raw content stays.
		var parsed any
		if err := json.Unmarshal([]byte(resp.Content), &parsed); err == nil {
			outcome.Parsed = parsed
		}
	}

	return outcome
}

// recordOutcome feeds the stats manager and, for batch items, the
// optional archive. Archiving never blocks the request path.
func (o *Orchestrator) recordOutcome(batchID string, outcome *promptdrive.Outcome, errType string) {
	o.cfg.Stats.RecordRequest(stats.RequestRecord{
		BatchID:         batchID,
		Model:           o.cfg.Model,
		Success:         outcome.Success,
		ErrorType:       errType,
		InputTokens:     outcome.InputTokens,
		OutputTokens:    outcome.OutputTokens,
		CachedTokens:    outcome.CachedTokens,
		TotalTokens:     outcome.TotalTokens,
		APIResponseTime: outcome.APIResponseTime,
		Attempts:        outcome.Attempts,
	})

	if o.cfg.Archive != nil && batchID != "" {
		go func() {
			storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.cfg.Archive.Store(storeCtx, batchID, outcome); err != nil {
				o.log.Warn("outcome archive write failed",
					slog.String("action", "archive_error"),
					slog.String("batch_id", batchID),
					slog.String("error", err.Error()))
			}
		}()
	}
}
