package search

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/recall/internal/metrics"
	"github.com/harun/recall/pkg/memory"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// keywordOnlyLayer answers literal field queries but has no vector index.
type keywordOnlyLayer struct{ *memory.InMemoryLayer }

func (l keywordOnlyLayer) Search(ctx context.Context, q memory.Query) ([]memory.Document, error) {
	if q.Field == memory.SemanticField {
		return nil, nil
	}
	return l.InMemoryLayer.Search(ctx, q)
}

// vectorOnlyLayer answers only semantic queries, returning every document.
type vectorOnlyLayer struct{ *memory.InMemoryLayer }

func (l vectorOnlyLayer) Search(ctx context.Context, q memory.Query) ([]memory.Document, error) {
	if q.Field != memory.SemanticField {
		return nil, nil
	}
	return l.InMemoryLayer.Search(ctx, memory.Query{Field: memory.FieldID, Value: "", Operator: memory.OpContains, Limit: q.Limit})
}

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).Level(zerolog.Disabled)
}

func newTestEngine(t *testing.T, r memory.Retriever, modify func(*Config), opts ...Option) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if modify != nil {
		modify(&cfg)
	}
	e, err := NewEngine(r, cfg, append([]Option{WithLogger(testLogger())}, opts...)...)
	require.NoError(t, err)
	return e
}

// staticRetriever returns fixed documents per field.
func staticRetriever(byField map[string][]memory.Document) memory.RetrieverFunc {
	return func(ctx context.Context, q memory.Query, layers []string) []memory.Document {
		return byField[q.Field]
	}
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.FusionMethod = "nope"
	_, err = NewEngine(staticRetriever(nil), cfg)
	assert.Error(t, err)
}

func TestSearch_EndToEndHybrid(t *testing.T) {
	ctx := context.Background()
	short := keywordOnlyLayer{memory.NewInMemoryLayer()}
	vectors := vectorOnlyLayer{memory.NewInMemoryLayer()}

	require.NoError(t, short.Store(ctx, "doc1", memory.Document{"id": "doc1", "content": "tiered memory notes", "score": 0.4}, 0))
	require.NoError(t, vectors.Store(ctx, "doc1", memory.Document{"id": "doc1", "embedding_of": "tiered memory notes", "score": 0.6}, 0))

	store, err := memory.NewTieredStore(memory.Options{
		Hierarchy: []memory.NamedLayer{{Name: memory.ShortTerm, Layer: short}},
		Extra:     []memory.NamedLayer{{Name: memory.SemanticLayer, Layer: vectors}},
		Logger:    testLogger(),
	})
	require.NoError(t, err)

	e := newTestEngine(t, store, func(c *Config) {
		c.KeywordWeight = 1.0
		c.SemanticWeight = 1.0
	})

	results := e.Search(ctx, "memory", SearchOptions{Limit: 10})
	require.Len(t, results, 1)
	assert.Equal(t, "doc1", results[0].ID)
	assert.Equal(t, SourceHybrid, results[0].Source)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
	assert.NotContains(t, results[0].Document, memory.FieldScore)
}

func TestSearch_AppliesTypeBoosts(t *testing.T) {
	r := staticRetriever(map[string][]memory.Document{
		memory.FieldContent:  {{"id": "k", "score": 1.0}},
		memory.SemanticField: {{"id": "s", "score": 1.0}},
	})
	e := newTestEngine(t, r, nil)
	ctx := context.Background()

	factual := e.Search(ctx, "what is the capital of France", SearchOptions{})
	require.Len(t, factual, 2)
	assert.Equal(t, "s", factual[0].ID)
	assert.InDelta(t, 0.7*0.8, factual[0].Score, 1e-9)
	assert.InDelta(t, 0.3*1.5, factual[1].Score, 1e-9)

	// An explicit type overrides inference.
	unknown := e.Search(ctx, "what is the capital of France", SearchOptions{QueryType: Unknown})
	assert.InDelta(t, 0.7, unknown[0].Score, 1e-9)
	assert.InDelta(t, 0.3, unknown[1].Score, 1e-9)
}

func TestSearch_KeywordFallsBackToText(t *testing.T) {
	var mu sync.Mutex
	fields := []string{}
	r := memory.RetrieverFunc(func(ctx context.Context, q memory.Query, layers []string) []memory.Document {
		mu.Lock()
		fields = append(fields, q.Field)
		mu.Unlock()
		if q.Field == memory.FieldText {
			return []memory.Document{{"memory_key": "t1", "text": "only text"}}
		}
		return nil
	})
	e := newTestEngine(t, r, nil)

	results := e.Search(context.Background(), "only", SearchOptions{QueryType: Unknown})
	require.Len(t, results, 1)
	assert.Equal(t, "t1", results[0].ID)
	assert.Equal(t, SourceKeyword, results[0].Source)
	assert.InDelta(t, 0.3, results[0].Score, 1e-9, "unscored keyword hits count as 1.0")
	assert.ElementsMatch(t, []string{memory.FieldContent, memory.FieldText, memory.SemanticField}, fields)
}

func TestSearch_PassesLayersAndFetchesDoubleLimit(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]memory.Query{}
	var seenLayers [][]string
	r := memory.RetrieverFunc(func(ctx context.Context, q memory.Query, layers []string) []memory.Document {
		mu.Lock()
		defer mu.Unlock()
		seen[q.Field] = q
		seenLayers = append(seenLayers, layers)
		return nil
	})
	e := newTestEngine(t, r, nil)

	results := e.Search(context.Background(), "q", SearchOptions{Limit: 4, Layers: []string{memory.LongTerm}})
	assert.Empty(t, results)
	assert.Equal(t, 8, seen[memory.FieldContent].Limit)
	assert.Equal(t, 8, seen[memory.SemanticField].Limit)
	assert.Equal(t, memory.OpContains, seen[memory.FieldContent].Operator)
	for _, l := range seenLayers {
		assert.Equal(t, []string{memory.LongTerm}, l)
	}
}

func TestSearch_MinScoreFiltering(t *testing.T) {
	r := staticRetriever(map[string][]memory.Document{
		memory.FieldContent:  {{"id": "weak-kw", "score": 0.2}, {"id": "strong-kw", "score": 0.9}},
		memory.SemanticField: {{"id": "weak-sem", "score": 0.1}, {"id": "strong-sem", "score": 0.8}},
	})
	e := newTestEngine(t, r, func(c *Config) {
		c.MinKeywordScore = 0.5
		c.MinSemanticScore = 0.5
	})

	results := e.Search(context.Background(), "x", SearchOptions{QueryType: Unknown})
	ids := []string{}
	for _, res := range results {
		ids = append(ids, res.ID)
	}
	assert.ElementsMatch(t, []string{"strong-kw", "strong-sem"}, ids)
}

func TestSearch_RRF(t *testing.T) {
	r := staticRetriever(map[string][]memory.Document{
		memory.FieldContent:  {{"id": "a", "score": 0.01}, {"id": "b", "score": 0.99}},
		memory.SemanticField: {{"id": "b", "score": 0.5}},
	})
	e := newTestEngine(t, r, func(c *Config) {
		c.FusionMethod = FusionRRF
		c.KeywordWeight = 1
		c.SemanticWeight = 1
	})

	results := e.Search(context.Background(), "x", SearchOptions{QueryType: Unknown})
	require.Len(t, results, 2)
	assert.Equal(t, "b", results[0].ID)
	assert.Equal(t, SourceHybrid, results[0].Source)
	assert.InDelta(t, 1.0/62+1.0/61, results[0].Score, 1e-12)
	assert.InDelta(t, 1.0/61, results[1].Score, 1e-12)
}

func TestSearch_TruncatesAndBreaksTies(t *testing.T) {
	docs := []memory.Document{}
	for _, id := range []string{"d", "b", "e", "a", "c"} {
		docs = append(docs, memory.Document{"id": id, "score": 0.5})
	}
	e := newTestEngine(t, staticRetriever(map[string][]memory.Document{memory.FieldContent: docs}), nil)

	results := e.Search(context.Background(), "x", SearchOptions{Limit: 3, QueryType: Unknown})
	ids := []string{}
	for _, res := range results {
		ids = append(ids, res.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestSearch_TimeoutIsolation(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r := memory.RetrieverFunc(func(ctx context.Context, q memory.Query, layers []string) []memory.Document {
		if q.Field == memory.SemanticField {
			// Never responds and ignores ctx.
			<-release
			return []memory.Document{{"id": "late", "score": 1.0}}
		}
		if q.Field == memory.FieldContent {
			return []memory.Document{{"id": "kw", "score": 0.5}}
		}
		return nil
	})

	m := metrics.NewMetrics()
	e := newTestEngine(t, r, func(c *Config) {
		c.KeywordTimeout = 100 * time.Millisecond
		c.SemanticTimeout = 150 * time.Millisecond
	}, WithMetrics(m))

	start := time.Now()
	results := e.Search(context.Background(), "anything", SearchOptions{QueryType: Unknown})
	elapsed := time.Since(start)

	require.Len(t, results, 1)
	assert.Equal(t, "kw", results[0].ID)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchBranchTotal.WithLabelValues(SourceSemantic, outcomeTimeout)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchBranchTotal.WithLabelValues(SourceKeyword, outcomeOK)))
}

func TestSearch_BothBranchesSlow(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	r := memory.RetrieverFunc(func(ctx context.Context, q memory.Query, layers []string) []memory.Document {
		<-release
		return nil
	})
	e := newTestEngine(t, r, func(c *Config) {
		c.KeywordTimeout = 50 * time.Millisecond
		c.SemanticTimeout = 80 * time.Millisecond
	})

	start := time.Now()
	results := e.Search(context.Background(), "x", SearchOptions{})
	assert.Empty(t, results)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSearch_PanickingBranch(t *testing.T) {
	r := memory.RetrieverFunc(func(ctx context.Context, q memory.Query, layers []string) []memory.Document {
		if q.Field == memory.SemanticField {
			panic("vector index corrupted")
		}
		return []memory.Document{{"id": "kw"}}
	})
	m := metrics.NewMetrics()
	e := newTestEngine(t, r, nil, WithMetrics(m))

	results := e.Search(context.Background(), "x", SearchOptions{})
	require.Len(t, results, 1)
	assert.Equal(t, "kw", results[0].ID)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SearchBranchTotal.WithLabelValues(SourceSemantic, outcomePanic)))
}

func TestSearch_DropsResultsWithoutIdentity(t *testing.T) {
	r := staticRetriever(map[string][]memory.Document{
		memory.FieldContent: {{"content": "anonymous"}, {"memory_key": "named", "content": "named"}},
	})
	e := newTestEngine(t, r, nil)

	results := e.Search(context.Background(), "x", SearchOptions{})
	require.Len(t, results, 1)
	assert.Equal(t, "named", results[0].ID)
}

func TestSetConfig(t *testing.T) {
	r := staticRetriever(map[string][]memory.Document{
		memory.FieldContent: {{"id": "a", "score": 1.0}},
	})
	e := newTestEngine(t, r, nil)

	bad := DefaultConfig()
	bad.FusionMethod = "nope"
	assert.Error(t, e.SetConfig(bad))
	assert.Equal(t, FusionWeightedSum, e.Config().FusionMethod)

	next := DefaultConfig()
	next.FusionMethod = FusionRRF
	require.NoError(t, e.SetConfig(next))
	assert.Equal(t, FusionRRF, e.Config().FusionMethod)

	results := e.Search(context.Background(), "x", SearchOptions{QueryType: Unknown})
	require.Len(t, results, 1)
	assert.InDelta(t, 0.3/61, results[0].Score, 1e-12)

	// Mutating the returned copy does not leak into the engine.
	got := e.Config()
	got.Boosts[Factual] = Boost{Keyword: 100, Semantic: 100}
	assert.Equal(t, 1.5, e.Config().Boosts[Factual].Keyword)
}

func TestSearch_ConcurrentWithSetConfig(t *testing.T) {
	r := staticRetriever(map[string][]memory.Document{
		memory.FieldContent:  {{"id": "a", "score": 1.0}},
		memory.SemanticField: {{"id": "a", "score": 1.0}},
	})
	e := newTestEngine(t, r, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			res := e.Search(context.Background(), "x", SearchOptions{QueryType: Unknown})
			assert.Len(t, res, 1)
		}()
		go func(i int) {
			defer wg.Done()
			cfg := DefaultConfig()
			if i%2 == 0 {
				cfg.FusionMethod = FusionRRF
			}
			assert.NoError(t, e.SetConfig(cfg))
		}(i)
	}
	wg.Wait()
}

func TestSearch_OverTieredStoreWithoutSemanticLayer(t *testing.T) {
	ctx := context.Background()
	store, err := memory.NewTieredStore(memory.Options{
		Hierarchy: []memory.NamedLayer{
			{Name: memory.ShortTerm, Layer: memory.NewInMemoryLayer()},
			{Name: memory.LongTerm, Layer: memory.NewInMemoryLayer()},
		},
		Logger: testLogger(),
	})
	require.NoError(t, err)

	require.True(t, store.Store(ctx, "go", memory.Document{"content": "Go has goroutines"}, memory.StoreOptions{Layer: memory.LongTerm, Cascade: true}))
	require.True(t, store.Store(ctx, "rust", memory.Document{"content": "Rust has ownership"}, memory.StoreOptions{Layer: memory.LongTerm}))

	e := newTestEngine(t, store, nil)
	results := e.Search(ctx, "goroutines", SearchOptions{})
	require.Len(t, results, 1)
	assert.Equal(t, "go", results[0].ID)
	assert.True(t, strings.Contains(results[0].Document.String("content"), "goroutines"))
}
