package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors returned by layers and the tiered store.
var (
	// ErrNotFound is returned when a key does not exist in a layer.
	ErrNotFound = errors.New("memory: item not found")

	// ErrNotImplemented is reported for an optional capability a layer does not provide.
	ErrNotImplemented = errors.New("memory: not implemented")

	// ErrUnknownLayer is returned when a layer name is not registered.
	ErrUnknownLayer = errors.New("memory: unknown layer")

	// ErrInvalidKey is returned when a key is empty.
	ErrInvalidKey = errors.New("memory: invalid key")
)

// Search operators every Searcher must understand.
const (
	OpEquals   = "=="
	OpContains = "contains"
)

// SemanticField is the pseudo-field that asks a layer for vector similarity
// instead of a literal field match.
const SemanticField = "semantic"

// Layer is the required contract every backend adapter implements.
// Implementations must be safe for concurrent use; the tiered store adds no
// locking of its own.
type Layer interface {
	// Store writes doc under key, replacing any existing document.
	// A zero ttl means no expiry.
	Store(ctx context.Context, key string, doc Document, ttl time.Duration) error

	// Retrieve returns the document for key, or ErrNotFound.
	Retrieve(ctx context.Context, key string) (Document, error)

	// Delete removes key, or returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Update merges partial into the stored document field by field.
	// Returns ErrNotFound when key is absent.
	Update(ctx context.Context, key string, partial Document) error

	// Clear removes every document held by the layer.
	Clear(ctx context.Context) error
}

// Query describes a field search against a single layer.
type Query struct {
	Field    string
	Value    any
	Operator string
	Limit    int
}

// Searcher is implemented by layers that can search their documents.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Document, error)
}

// Expirer is implemented by layers that can set a TTL on an existing key.
type Expirer interface {
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// TTLReporter is implemented by layers that can report how long a key has
// left to live. A zero duration means the key never expires; a missing or
// expired key returns ErrNotFound.
type TTLReporter interface {
	RemainingTTL(ctx context.Context, key string) (time.Duration, error)
}

// StatsReporter is implemented by layers that expose backend statistics.
type StatsReporter interface {
	Stats(ctx context.Context) (map[string]any, error)
}

// NamedLayer binds a layer instance to its name in the store.
type NamedLayer struct {
	Name  string
	Layer Layer
}

// Match reports whether field value v satisfies operator op against want.
// Values are compared by their string rendering; "contains" is
// case-insensitive. Unknown operators never match.
func Match(v any, op string, want any) bool {
	if v == nil {
		return false
	}
	got := stringify(v)
	target := stringify(want)
	switch op {
	case OpEquals:
		return got == target
	case OpContains:
		return strings.Contains(strings.ToLower(got), strings.ToLower(target))
	default:
		return false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ValidOperator reports whether op is one of the operators every Searcher supports.
func ValidOperator(op string) bool {
	return op == OpEquals || op == OpContains
}
