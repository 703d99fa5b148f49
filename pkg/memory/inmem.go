package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryLayer is a process-local layer with lazy TTL expiry. It is the
// fastest tier and the reference implementation of every capability.
type InMemoryLayer struct {
	mu      sync.RWMutex
	entries map[string]inMemoryEntry
	now     func() time.Time

	hits   int64
	misses int64
}

type inMemoryEntry struct {
	doc       Document
	expiresAt time.Time
}

func (e inMemoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

var (
	_ Layer         = (*InMemoryLayer)(nil)
	_ Searcher      = (*InMemoryLayer)(nil)
	_ Expirer       = (*InMemoryLayer)(nil)
	_ TTLReporter   = (*InMemoryLayer)(nil)
	_ StatsReporter = (*InMemoryLayer)(nil)
)

// NewInMemoryLayer creates an empty in-memory layer.
func NewInMemoryLayer() *InMemoryLayer {
	return &InMemoryLayer{
		entries: make(map[string]inMemoryEntry),
		now:     time.Now,
	}
}

// Store stores a deep copy of doc.
func (l *InMemoryLayer) Store(ctx context.Context, key string, doc Document, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	entry := inMemoryEntry{doc: doc.Clone()}
	if ttl > 0 {
		entry.expiresAt = l.now().Add(ttl)
	}

	l.mu.Lock()
	l.entries[key] = entry
	l.mu.Unlock()
	return nil
}

// Retrieve returns a deep copy of the stored document.
func (l *InMemoryLayer) Retrieve(ctx context.Context, key string) (Document, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.live(key)
	if !ok {
		l.misses++
		return nil, ErrNotFound
	}
	l.hits++
	return entry.doc.Clone(), nil
}

// live must be called with mu held for writing; it evicts an expired entry.
func (l *InMemoryLayer) live(key string) (inMemoryEntry, bool) {
	entry, ok := l.entries[key]
	if !ok {
		return inMemoryEntry{}, false
	}
	if entry.expired(l.now()) {
		delete(l.entries, key)
		return inMemoryEntry{}, false
	}
	return entry, true
}

// Delete removes key, or returns ErrNotFound.
func (l *InMemoryLayer) Delete(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.live(key); !ok {
		return ErrNotFound
	}
	delete(l.entries, key)
	return nil
}

// Exists reports whether key holds a live entry.
func (l *InMemoryLayer) Exists(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.live(key)
	return ok, nil
}

// Update merges partial into the stored document, keeping its expiry.
func (l *InMemoryLayer) Update(ctx context.Context, key string, partial Document) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.live(key)
	if !ok {
		return ErrNotFound
	}
	entry.doc = entry.doc.Merge(partial)
	l.entries[key] = entry
	return nil
}

// Clear drops every entry.
func (l *InMemoryLayer) Clear(ctx context.Context) error {
	l.mu.Lock()
	l.entries = make(map[string]inMemoryEntry)
	l.mu.Unlock()
	return nil
}

// Search scans live documents in key order so results are stable.
func (l *InMemoryLayer) Search(ctx context.Context, q Query) ([]Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	keys := make([]string, 0, len(l.entries))
	for k, e := range l.entries {
		if !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	results := []Document{}
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc := l.entries[k].doc
		if !Match(doc[q.Field], q.Operator, q.Value) {
			continue
		}
		results = append(results, doc.Clone())
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}
	}
	return results, nil
}

// Expire sets a new TTL on key; a non-positive ttl removes the expiry.
func (l *InMemoryLayer) Expire(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.live(key)
	if !ok {
		return ErrNotFound
	}
	if ttl > 0 {
		entry.expiresAt = l.now().Add(ttl)
	} else {
		entry.expiresAt = time.Time{}
	}
	l.entries[key] = entry
	return nil
}

// RemainingTTL returns the time left before key expires, or zero when it
// has no expiry.
func (l *InMemoryLayer) RemainingTTL(ctx context.Context, key string) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.live(key)
	if !ok {
		return 0, ErrNotFound
	}
	if entry.expiresAt.IsZero() {
		return 0, nil
	}
	return entry.expiresAt.Sub(l.now()), nil
}

// Stats reports live item count and retrieve hit/miss counters.
func (l *InMemoryLayer) Stats(ctx context.Context) (map[string]any, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := l.now()
	live := 0
	for _, e := range l.entries {
		if !e.expired(now) {
			live++
		}
	}
	return map[string]any{
		"backend": "memory",
		"items":   live,
		"hits":    l.hits,
		"misses":  l.misses,
	}, nil
}
