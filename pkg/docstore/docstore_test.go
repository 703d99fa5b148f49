package docstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/recall/pkg/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T, layer string) *Store {
	t.Helper()

	s, err := New(Config{
		DBPath:        filepath.Join(t.TempDir(), "docs.db"),
		Layer:         layer,
		PurgeSchedule: "off",
		Logger:        zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty path", Config{Layer: "long_term"}},
		{"empty layer", Config{DBPath: ":memory:"}},
		{"bad schedule", Config{DBPath: ":memory:", Layer: "long_term", PurgeSchedule: "every tuesday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestNew_InMemoryWithPurgeJob(t *testing.T) {
	s, err := New(Config{DBPath: ":memory:", Layer: "long_term"})
	require.NoError(t, err)
	require.NotNil(t, s.cron)
	assert.Len(t, s.cron.Entries(), 1)

	require.NoError(t, s.Store(context.Background(), "k", memory.Document{"v": 1}, 0))
	assert.NoError(t, s.Close())
}

func TestStore_CRUD(t *testing.T) {
	s := createTestStore(t, "long_term")
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "k", memory.Document{"content": "hello", "tags": []any{"a"}}, 0))

	doc, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "hello", doc["content"])
	assert.Equal(t, []any{"a"}, doc["tags"])

	// Store replaces.
	require.NoError(t, s.Store(ctx, "k", memory.Document{"content": "replaced"}, 0))
	doc, _ = s.Retrieve(ctx, "k")
	assert.Equal(t, "replaced", doc["content"])
	assert.NotContains(t, doc, "tags")

	ok, err := s.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "k"))
	assert.ErrorIs(t, s.Delete(ctx, "k"), memory.ErrNotFound)
	_, err = s.Retrieve(ctx, "k")
	assert.ErrorIs(t, err, memory.ErrNotFound)

	assert.ErrorIs(t, s.Store(ctx, "", memory.Document{}, 0), memory.ErrInvalidKey)
}

func TestStore_Update(t *testing.T) {
	s := createTestStore(t, "long_term")
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "k", memory.Document{"a": 1, "b": 2}, 0))
	require.NoError(t, s.Update(ctx, "k", memory.Document{"b": 3, "c": "x"}))

	doc, err := s.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 1.0, doc["a"])
	assert.Equal(t, 3.0, doc["b"])
	assert.Equal(t, "x", doc["c"])

	assert.ErrorIs(t, s.Update(ctx, "missing", memory.Document{}), memory.ErrNotFound)
}

func TestStore_TTLAndPurge(t *testing.T) {
	s := createTestStore(t, "long_term")
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "short", memory.Document{}, time.Second))
	require.NoError(t, s.Store(ctx, "forever", memory.Document{}, 0))

	now = now.Add(2 * time.Second)

	ok, _ := s.Exists(ctx, "short")
	assert.False(t, ok)
	assert.ErrorIs(t, s.Expire(ctx, "short", time.Minute), memory.ErrNotFound)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["items"])
	assert.Equal(t, 1, stats["expired"])

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.Expire(ctx, "forever", time.Second))
	now = now.Add(time.Second)
	_, err = s.Retrieve(ctx, "forever")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStore_RemainingTTL(t *testing.T) {
	s := createTestStore(t, "long_term")
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "k", memory.Document{}, time.Minute))
	require.NoError(t, s.Store(ctx, "forever", memory.Document{}, 0))
	now = now.Add(15 * time.Second)

	ttl, err := s.RemainingTTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, ttl)

	ttl, err = s.RemainingTTL(ctx, "forever")
	require.NoError(t, err)
	assert.Zero(t, ttl)

	now = now.Add(time.Minute)
	_, err = s.RemainingTTL(ctx, "k")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestStore_Search(t *testing.T) {
	s := createTestStore(t, "long_term")
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, "b", memory.Document{"content": "SQLite JSON1", "n": 2, "flag": true}, 0))
	require.NoError(t, s.Store(ctx, "a", memory.Document{"content": "sqlite vec", "n": 1}, 0))
	require.NoError(t, s.Store(ctx, "c", memory.Document{"text": "redis", "dotted.field": "yes"}, 0))

	tests := []struct {
		name  string
		query memory.Query
		want  []string
	}{
		{"contains", memory.Query{Field: "content", Value: "sqlite", Operator: memory.OpContains}, []string{"sqlite vec", "SQLite JSON1"}},
		{"equals number", memory.Query{Field: "n", Value: 2, Operator: memory.OpEquals}, []string{"SQLite JSON1"}},
		{"equals bool", memory.Query{Field: "flag", Value: true, Operator: memory.OpEquals}, []string{"SQLite JSON1"}},
		{"limit", memory.Query{Field: "content", Value: "sqlite", Operator: memory.OpContains, Limit: 1}, []string{"sqlite vec"}},
		{"dotted field", memory.Query{Field: "dotted.field", Value: "yes", Operator: memory.OpEquals}, []string{""}},
		{"missing field", memory.Query{Field: "nope", Value: "x", Operator: memory.OpContains}, []string{}},
		{"quoted field", memory.Query{Field: `bad"field`, Value: "x", Operator: memory.OpContains}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Search(ctx, tt.query)
			require.NoError(t, err)

			got := []string{}
			for _, d := range docs {
				got = append(got, d.String("content"))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_LayersShareDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	ctx := context.Background()

	mid, err := New(Config{DBPath: path, Layer: "mid_term", PurgeSchedule: "off", Logger: logger})
	require.NoError(t, err)
	defer mid.Close()
	long, err := New(Config{DBPath: path, Layer: "long_term", PurgeSchedule: "off", Logger: logger})
	require.NoError(t, err)
	defer long.Close()

	require.NoError(t, mid.Store(ctx, "k", memory.Document{"from": "mid"}, 0))
	require.NoError(t, long.Store(ctx, "k", memory.Document{"from": "long"}, 0))

	doc, err := mid.Retrieve(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "mid", doc["from"])

	require.NoError(t, long.Clear(ctx))
	ok, _ := long.Exists(ctx, "k")
	assert.False(t, ok)
	ok, _ = mid.Exists(ctx, "k")
	assert.True(t, ok)
}

func TestStore_InTieredStore(t *testing.T) {
	long := createTestStore(t, memory.LongTerm)
	s, err := memory.NewTieredStore(memory.Options{
		Hierarchy: []memory.NamedLayer{
			{Name: memory.ShortTerm, Layer: memory.NewInMemoryLayer()},
			{Name: memory.LongTerm, Layer: long},
		},
		Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.True(t, s.Store(ctx, "fact", memory.Document{"content": "persisted"}, memory.StoreOptions{Layer: memory.LongTerm}))

	doc, ok := s.Retrieve(ctx, "fact", memory.RetrieveOptions{Migrate: true})
	require.True(t, ok)
	assert.Equal(t, "persisted", doc["content"])
	assert.Equal(t, "fact", doc[memory.FieldKey])

	s.Wait()
	assert.True(t, s.Exists(ctx, "fact", []string{memory.ShortTerm}))

	ttl := s.TTL(ctx, "fact", time.Hour)
	assert.NoError(t, ttl[memory.LongTerm])
	assert.NoError(t, ttl[memory.ShortTerm])
}
