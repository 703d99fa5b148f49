package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/recall/internal/metrics"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/memory"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
)

const defaultTracerName = "recall.search"

// Branch outcomes recorded in metrics and logs.
const (
	outcomeOK      = "ok"
	outcomeEmpty   = "empty"
	outcomeTimeout = "timeout"
	outcomePanic   = "panic"
)

// SearchOptions controls one hybrid search.
type SearchOptions struct {
	// Limit caps the fused result count; zero uses Config.DefaultLimit.
	Limit int
	// Layers restricts both branches; empty means every layer.
	Layers []string
	// QueryType selects weight boosts; empty infers it with Classify.
	QueryType QueryType
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracerName sets the OpenTelemetry tracer name used for spans.
func WithTracerName(name string) Option {
	return func(e *Engine) { e.tracerName = name }
}

// Engine runs keyword and semantic retrieval concurrently and fuses the two
// ranked lists.
type Engine struct {
	retriever  memory.Retriever
	config     atomic.Pointer[Config]
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	tracerName string
}

// NewEngine creates an engine over r with cfg.
func NewEngine(r memory.Retriever, cfg Config, opts ...Option) (*Engine, error) {
	if r == nil {
		return nil, errors.New("retriever is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid search config: %w", err)
	}

	e := &Engine{
		retriever:  r,
		logger:     zerolog.Nop(),
		tracerName: defaultTracerName,
	}
	for _, opt := range opts {
		opt(e)
	}
	c := cfg.clone()
	e.config.Store(&c)
	return e, nil
}

// Config returns a copy of the current settings.
func (e *Engine) Config() Config {
	return e.config.Load().clone()
}

// SetConfig atomically replaces the settings. Searches already running keep
// the snapshot they started with.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid search config: %w", err)
	}
	c := cfg.clone()
	e.config.Store(&c)
	e.logger.Info().
		Str("fusion", c.FusionMethod).
		Float64("keyword_weight", c.KeywordWeight).
		Float64("semantic_weight", c.SemanticWeight).
		Msg("Search config updated")
	return nil
}

// Search runs a hybrid search. It never fails: a branch that times out,
// panics or finds nothing contributes an empty list.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) []Result {
	cfg := e.config.Load()

	limit := opts.Limit
	if limit <= 0 {
		limit = cfg.DefaultLimit
	}
	qt := opts.QueryType
	if qt == "" {
		qt = Classify(query)
	}
	kwWeight, semWeight := cfg.Weights(qt)

	ctx, span := tracing.StartSpan(ctx, e.tracerName, "search.hybrid",
		attribute.String("query_type", string(qt)),
		attribute.String("fusion", cfg.FusionMethod),
		attribute.Int("limit", limit),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, e.logger)
	start := time.Now()
	fetch := limit * 2

	var keywordDocs, semanticDocs []memory.Document
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		keywordDocs = e.runBranch(ctx, logger, SourceKeyword, cfg.KeywordTimeout, func(ctx context.Context) []memory.Document {
			return e.keywordSearch(ctx, query, fetch, opts.Layers)
		})
	}()

	go func() {
		defer wg.Done()
		semanticDocs = e.runBranch(ctx, logger, SourceSemantic, cfg.SemanticTimeout, func(ctx context.Context) []memory.Document {
			return e.retriever.Search(ctx, memory.Query{
				Field:    memory.SemanticField,
				Value:    query,
				Operator: memory.OpContains,
				Limit:    fetch,
			}, opts.Layers)
		})
	}()

	wg.Wait()

	branches := []branch{
		{candidates: toCandidates(keywordDocs, SourceKeyword, 1.0, cfg.MinKeywordScore), weight: kwWeight},
		{candidates: toCandidates(semanticDocs, SourceSemantic, 0.0, cfg.MinSemanticScore), weight: semWeight},
	}

	var results []Result
	if cfg.FusionMethod == FusionRRF {
		results = fuse(branches, reciprocalRank(cfg.RRFK))
	} else {
		results = fuse(branches, weightedSum)
	}
	if len(results) > limit {
		results = results[:limit]
	}

	duration := time.Since(start)
	e.metrics.RecordSearch(cfg.FusionMethod, duration, len(results))
	span.SetAttributes(attribute.Int("results", len(results)))
	logger.Debug().
		Str("query", query).
		Str("query_type", string(qt)).
		Str("fusion", cfg.FusionMethod).
		Int("keyword_hits", len(keywordDocs)).
		Int("semantic_hits", len(semanticDocs)).
		Int("results", len(results)).
		Dur("duration", duration).
		Msg("Hybrid search completed")

	return results
}

// keywordSearch matches "content" first and falls back to "text".
func (e *Engine) keywordSearch(ctx context.Context, query string, limit int, layers []string) []memory.Document {
	for _, field := range []string{memory.FieldContent, memory.FieldText} {
		docs := e.retriever.Search(ctx, memory.Query{
			Field:    field,
			Value:    query,
			Operator: memory.OpContains,
			Limit:    limit,
		}, layers)
		if len(docs) > 0 {
			return docs
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return nil
}

type branchResult struct {
	docs      []memory.Document
	recovered *panics.Recovered
}

// runBranch runs fn under its own timeout. The call is raced against the
// deadline so a backend that ignores cancellation cannot hold up the search;
// its late result is discarded.
func (e *Engine) runBranch(ctx context.Context, logger zerolog.Logger, name string, timeout time.Duration, fn func(context.Context) []memory.Document) []memory.Document {
	bctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan branchResult, 1)
	go func() {
		var pc panics.Catcher
		var docs []memory.Document
		pc.Try(func() { docs = fn(bctx) })
		done <- branchResult{docs: docs, recovered: pc.Recovered()}
	}()

	select {
	case <-bctx.Done():
		e.metrics.RecordBranch(name, outcomeTimeout)
		logger.Warn().
			Err(bctx.Err()).
			Str("branch", name).
			Dur("timeout", timeout).
			Msg("Search branch timed out, continuing without it")
		return nil
	case r := <-done:
		if r.recovered != nil {
			e.metrics.RecordBranch(name, outcomePanic)
			logger.Error().
				Err(r.recovered.AsError()).
				Str("branch", name).
				Msg("Search branch panicked, continuing without it")
			return nil
		}
		if len(r.docs) == 0 {
			e.metrics.RecordBranch(name, outcomeEmpty)
			return nil
		}
		e.metrics.RecordBranch(name, outcomeOK)
		return r.docs
	}
}
