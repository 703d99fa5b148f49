package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/recall/internal/metrics"
	"github.com/harun/recall/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
)

// Default tier names and the name of the specialized vector layer.
const (
	ShortTerm     = "short_term"
	MidTerm       = "mid_term"
	LongTerm      = "long_term"
	SemanticLayer = "semantic"
)

// DefaultHierarchy is the conventional fastest-to-slowest tier order.
var DefaultHierarchy = []string{ShortTerm, MidTerm, LongTerm}

// Options configures a TieredStore.
type Options struct {
	// Hierarchy lists the ordered tiers, fastest first. Cascade writes and
	// read migration only move documents along this order.
	Hierarchy []NamedLayer

	// Extra lists specialized layers outside the hierarchy (e.g. "semantic").
	// They are searchable but never receive cascade copies.
	Extra []NamedLayer

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// StoreOptions controls a single Store call.
type StoreOptions struct {
	// Layer is the primary destination; defaults to the first tier.
	Layer string
	// TTL is passed to every written layer; zero means no expiry.
	TTL time.Duration
	// Cascade also writes the annotated copy into every faster tier.
	Cascade bool
}

// RetrieveOptions controls a single Retrieve call.
type RetrieveOptions struct {
	// Layers to check in order; defaults to the full hierarchy.
	Layers []string
	// Migrate copies a hit in a slower tier into every faster tier in the
	// background. The read never waits for the copy.
	Migrate bool
}

type registeredLayer struct {
	name     string
	layer    Layer
	index    int // position in the hierarchy, -1 for extra layers
	searcher Searcher
	expirer  Expirer
	ttl      TTLReporter
	stats    StatsReporter
}

// TieredStore orchestrates a hierarchy of layers plus named extra layers.
// Every public method isolates per-layer failures: backend errors and panics
// are logged and surfaced as false, nil or an empty slice.
type TieredStore struct {
	hierarchy []*registeredLayer
	extra     []*registeredLayer
	layers    map[string]*registeredLayer

	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	migrations sync.WaitGroup
}

// NewTieredStore validates the layer set and resolves each layer's optional
// capabilities once.
func NewTieredStore(opts Options) (*TieredStore, error) {
	if len(opts.Hierarchy) == 0 && len(opts.Extra) == 0 {
		return nil, errors.New("at least one layer is required")
	}

	s := &TieredStore{
		layers:  make(map[string]*registeredLayer),
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}

	register := func(nl NamedLayer, index int) (*registeredLayer, error) {
		if nl.Name == "" {
			return nil, errors.New("layer name cannot be empty")
		}
		if nl.Layer == nil {
			return nil, fmt.Errorf("layer %q is nil", nl.Name)
		}
		if _, dup := s.layers[nl.Name]; dup {
			return nil, fmt.Errorf("duplicate layer name %q", nl.Name)
		}
		rl := &registeredLayer{name: nl.Name, layer: nl.Layer, index: index}
		rl.searcher, _ = nl.Layer.(Searcher)
		rl.expirer, _ = nl.Layer.(Expirer)
		rl.ttl, _ = nl.Layer.(TTLReporter)
		rl.stats, _ = nl.Layer.(StatsReporter)
		s.layers[nl.Name] = rl
		return rl, nil
	}

	for i, nl := range opts.Hierarchy {
		rl, err := register(nl, i)
		if err != nil {
			return nil, err
		}
		s.hierarchy = append(s.hierarchy, rl)
	}
	for _, nl := range opts.Extra {
		rl, err := register(nl, -1)
		if err != nil {
			return nil, err
		}
		s.extra = append(s.extra, rl)
	}

	s.logger.Info().
		Strs("hierarchy", s.Hierarchy()).
		Strs("layers", s.Layers()).
		Msg("Tiered memory store initialized")
	return s, nil
}

// Hierarchy returns the ordered tier names, fastest first.
func (s *TieredStore) Hierarchy() []string {
	names := make([]string, len(s.hierarchy))
	for i, l := range s.hierarchy {
		names[i] = l.name
	}
	return names
}

// Layers returns every layer name: the hierarchy followed by extra layers.
func (s *TieredStore) Layers() []string {
	names := s.Hierarchy()
	for _, l := range s.extra {
		names = append(names, l.name)
	}
	return names
}

// Layer returns the layer registered under name.
func (s *TieredStore) Layer(name string) (Layer, bool) {
	rl, ok := s.layers[name]
	if !ok {
		return nil, false
	}
	return rl.layer, true
}

// Store writes an annotated copy of value into the primary layer and, when
// cascading from a hierarchy tier, into every faster tier. Cascade failures
// are logged but do not fail the call.
func (s *TieredStore) Store(ctx context.Context, key string, value Document, opts StoreOptions) bool {
	start := time.Now()
	ok := false
	defer func() { s.done("store", key, opts.Layer, start, ok) }()

	if key == "" {
		s.logger.Warn().Str("op", "store").Msg("Rejected empty key")
		return false
	}
	if opts.Layer == "" {
		if len(s.hierarchy) == 0 {
			s.logger.Warn().Str("op", "store").Str("key", key).Msg("No default layer available")
			return false
		}
		opts.Layer = s.hierarchy[0].name
	}
	primary, found := s.layers[opts.Layer]
	if !found {
		s.unknownLayer("store", key, opts.Layer)
		return false
	}

	annotated := value.Clone()
	if annotated == nil {
		annotated = Document{}
	}
	annotated[FieldStoredAt] = s.now().UTC().Format(time.RFC3339Nano)
	annotated[FieldKey] = key
	annotated[FieldLayer] = primary.name

	if err := s.call(ctx, "store", primary, key, func() error {
		return primary.layer.Store(ctx, key, annotated.Clone(), opts.TTL)
	}); err != nil {
		s.logger.Error().Err(err).Str("key", key).Str("layer", primary.name).Msg("Primary write failed")
		return false
	}
	ok = true

	if !opts.Cascade || primary.index <= 0 {
		return true
	}
	for _, tier := range s.hierarchy[:primary.index] {
		if err := s.call(ctx, "store", tier, key, func() error {
			return tier.layer.Store(ctx, key, annotated.Clone(), opts.TTL)
		}); err != nil {
			s.metrics.RecordCascadeFailure(tier.name)
			s.logger.Warn().Err(err).
				Str("key", key).
				Str("from", primary.name).
				Str("layer", tier.name).
				Msg("Cascade write failed")
		}
	}
	return true
}

// Retrieve returns the first document found for key across the given layers.
func (s *TieredStore) Retrieve(ctx context.Context, key string, opts RetrieveOptions) (Document, bool) {
	start := time.Now()
	ok := false
	defer func() { s.done("retrieve", key, "", start, ok) }()

	targets, err := s.resolve(opts.Layers, s.hierarchy)
	if err != nil {
		s.unknownLayer("retrieve", key, err.Error())
		return nil, false
	}

	for _, l := range targets {
		var doc Document
		err := s.call(ctx, "retrieve", l, key, func() error {
			var err error
			doc, err = l.layer.Retrieve(ctx, key)
			return err
		})
		if err != nil || doc == nil {
			continue
		}
		ok = true
		if opts.Migrate && l.index > 0 {
			s.migrate(ctx, key, doc, l)
		}
		return doc, true
	}
	return nil, false
}

// migrate copies doc into every tier faster than source without blocking the
// caller. Copies inherit the source's remaining TTL so they never outlive it;
// a source that cannot report its TTL is copied without expiry. Rewriting the
// same document is idempotent.
func (s *TieredStore) migrate(ctx context.Context, key string, doc Document, source *registeredLayer) {
	detached := tracing.Detach(ctx)
	copies := make([]Document, source.index)
	for i := range copies {
		copies[i] = doc.Clone()
	}

	s.migrations.Add(1)
	go func() {
		defer s.migrations.Done()

		var ttl time.Duration
		if source.ttl != nil {
			err := s.call(detached, "remaining_ttl", source, key, func() error {
				var err error
				ttl, err = source.ttl.RemainingTTL(detached, key)
				return err
			})
			if err != nil {
				s.logger.Debug().
					Err(err).
					Str("key", key).
					Str("from", source.name).
					Msg("Skipping migration, source TTL unavailable")
				return
			}
		}

		for i, tier := range s.hierarchy[:source.index] {
			if err := s.call(detached, "migrate", tier, key, func() error {
				return tier.layer.Store(detached, key, copies[i], ttl)
			}); err != nil {
				continue
			}
			s.metrics.RecordMigration(tier.name)
			s.logger.Debug().
				Str("key", key).
				Str("from", source.name).
				Str("layer", tier.name).
				Dur("ttl", ttl).
				Msg("Migrated document toward faster tier")
		}
	}()
}

// Wait blocks until in-flight read migrations have finished.
func (s *TieredStore) Wait() {
	s.migrations.Wait()
}

// Delete removes key from the given layers (default: all). Every layer is
// attempted; the result is true only if every attempt succeeded.
func (s *TieredStore) Delete(ctx context.Context, key string, layers []string) bool {
	start := time.Now()
	ok := false
	defer func() { s.done("delete", key, "", start, ok) }()

	targets, err := s.resolve(layers, s.all())
	if err != nil {
		s.unknownLayer("delete", key, err.Error())
		return false
	}

	ok = true
	for _, l := range targets {
		if err := s.call(ctx, "delete", l, key, func() error {
			return l.layer.Delete(ctx, key)
		}); err != nil {
			ok = false
		}
	}
	return ok
}

// Exists reports whether every given layer (default: all) holds key. Every
// layer is attempted; the result is the AND.
func (s *TieredStore) Exists(ctx context.Context, key string, layers []string) bool {
	start := time.Now()
	ok := false
	defer func() { s.done("exists", key, "", start, ok) }()

	targets, err := s.resolve(layers, s.all())
	if err != nil {
		s.unknownLayer("exists", key, err.Error())
		return false
	}

	ok = true
	for _, l := range targets {
		var present bool
		if err := s.call(ctx, "exists", l, key, func() error {
			var err error
			present, err = l.layer.Exists(ctx, key)
			return err
		}); err != nil || !present {
			ok = false
		}
	}
	return ok
}

// Update merges partial into key in the given layers (default: all) and
// stamps updated_at. Every layer is attempted; the result is the AND.
func (s *TieredStore) Update(ctx context.Context, key string, partial Document, layers []string) bool {
	start := time.Now()
	ok := false
	defer func() { s.done("update", key, "", start, ok) }()

	targets, err := s.resolve(layers, s.all())
	if err != nil {
		s.unknownLayer("update", key, err.Error())
		return false
	}

	stamped := partial.Clone()
	if stamped == nil {
		stamped = Document{}
	}
	stamped[FieldUpdatedAt] = s.now().UTC().Format(time.RFC3339Nano)

	ok = true
	for _, l := range targets {
		if err := s.call(ctx, "update", l, key, func() error {
			return l.layer.Update(ctx, key, stamped.Clone())
		}); err != nil {
			ok = false
		}
	}
	return ok
}

// Clear empties the given layers (default: all).
func (s *TieredStore) Clear(ctx context.Context, layers []string) bool {
	start := time.Now()
	ok := false
	defer func() { s.done("clear", "", "", start, ok) }()

	targets, err := s.resolve(layers, s.all())
	if err != nil {
		s.unknownLayer("clear", "", err.Error())
		return false
	}

	ok = true
	for _, l := range targets {
		if err := s.call(ctx, "clear", l, "", func() error {
			return l.layer.Clear(ctx)
		}); err != nil {
			ok = false
		}
	}
	return ok
}

// Search runs a field query across layers and returns up to q.Limit
// de-duplicated documents. A "semantic" field query goes only to the semantic
// layer when one is registered.
func (s *TieredStore) Search(ctx context.Context, q Query, layers []string) []Document {
	start := time.Now()
	var results []Document
	defer func() { s.done("search", q.Field, "", start, len(results) > 0) }()

	if q.Field == SemanticField {
		if sem, ok := s.layers[SemanticLayer]; ok {
			results = s.collect(ctx, []*registeredLayer{sem}, q, newDedup(), nil)
			return results
		}
	}

	targets, err := s.resolve(layers, s.all())
	if err != nil {
		s.unknownLayer("search", q.Field, err.Error())
		return []Document{}
	}
	results = s.collect(ctx, targets, q, newDedup(), nil)
	return results
}

// SemanticSearch delegates to the semantic layer; without one it falls back
// to a text search on "content", then "text", in every targeted layer.
func (s *TieredStore) SemanticSearch(ctx context.Context, query string, limit int, layers []string) []Document {
	start := time.Now()
	var results []Document
	defer func() { s.done("semantic_search", query, "", start, len(results) > 0) }()

	if sem, ok := s.layers[SemanticLayer]; ok {
		q := Query{Field: SemanticField, Value: query, Operator: OpContains, Limit: limit}
		results = s.collect(ctx, []*registeredLayer{sem}, q, newDedup(), nil)
		return results
	}

	targets, err := s.resolve(layers, s.all())
	if err != nil {
		s.unknownLayer("semantic_search", query, err.Error())
		return []Document{}
	}

	seen := newDedup()
	results = []Document{}
	for _, l := range targets {
		if limit > 0 && len(results) >= limit {
			break
		}
		for _, field := range []string{FieldContent, FieldText} {
			q := Query{Field: field, Value: query, Operator: OpContains, Limit: limit}
			before := len(results)
			results = s.collect(ctx, []*registeredLayer{l}, q, seen, results)
			if len(results) > before {
				break
			}
		}
	}
	return results
}

// collect appends de-duplicated search hits from targets to acc until q.Limit
// is reached.
func (s *TieredStore) collect(ctx context.Context, targets []*registeredLayer, q Query, seen *dedup, acc []Document) []Document {
	if acc == nil {
		acc = []Document{}
	}
	limit := q.Limit
	for _, l := range targets {
		if limit > 0 && len(acc) >= limit {
			break
		}
		if l.searcher == nil {
			s.logger.Debug().Str("layer", l.name).Str("capability", "search").Msg("Capability not implemented, skipping")
			continue
		}
		var docs []Document
		if err := s.call(ctx, "search", l, q.Field, func() error {
			var err error
			docs, err = l.searcher.Search(ctx, q)
			return err
		}); err != nil {
			continue
		}
		for _, doc := range docs {
			if !seen.add(doc) {
				continue
			}
			acc = append(acc, doc)
			if limit > 0 && len(acc) >= limit {
				break
			}
		}
	}
	return acc
}

// Promote copies key from one layer into another, leaving the source intact.
func (s *TieredStore) Promote(ctx context.Context, key, from, to string) bool {
	return s.copyBetween(ctx, "promote", key, from, to)
}

// Demote copies key from one layer into another, leaving the source intact.
func (s *TieredStore) Demote(ctx context.Context, key, from, to string) bool {
	return s.copyBetween(ctx, "demote", key, from, to)
}

func (s *TieredStore) copyBetween(ctx context.Context, op, key, from, to string) bool {
	start := time.Now()
	ok := false
	defer func() {
		s.metrics.RecordPromotion(op, ok)
		s.done(op, key, from+"->"+to, start, ok)
	}()

	src, srcOK := s.layers[from]
	dst, dstOK := s.layers[to]
	if !srcOK || !dstOK {
		s.unknownLayer(op, key, from+","+to)
		return false
	}

	var doc Document
	if err := s.call(ctx, "retrieve", src, key, func() error {
		var err error
		doc, err = src.layer.Retrieve(ctx, key)
		return err
	}); err != nil || doc == nil {
		s.logger.Warn().Str("op", op).Str("key", key).Str("layer", from).Msg("Source document not found")
		return false
	}

	if err := s.call(ctx, "store", dst, key, func() error {
		return dst.layer.Store(ctx, key, doc, 0)
	}); err != nil {
		return false
	}
	ok = true
	return true
}

// Stats collects statistics from every layer. A layer without the capability
// reports {"error": "not implemented"}.
func (s *TieredStore) Stats(ctx context.Context) map[string]map[string]any {
	start := time.Now()
	out := make(map[string]map[string]any, len(s.layers))
	defer func() { s.done("stats", "", "", start, true) }()

	for _, l := range s.all() {
		if l.stats == nil {
			out[l.name] = map[string]any{"error": "not implemented"}
			continue
		}
		var stats map[string]any
		if err := s.call(ctx, "stats", l, "", func() error {
			var err error
			stats, err = l.stats.Stats(ctx)
			return err
		}); err != nil {
			out[l.name] = map[string]any{"error": err.Error()}
			continue
		}
		out[l.name] = stats
	}
	return out
}

// TTL sets ttl on key in every layer. The result maps each layer to nil on
// success, ErrNotImplemented when the layer cannot expire keys, or the
// backend error.
func (s *TieredStore) TTL(ctx context.Context, key string, ttl time.Duration) map[string]error {
	start := time.Now()
	out := make(map[string]error, len(s.layers))
	defer func() { s.done("ttl", key, "", start, true) }()

	for _, l := range s.all() {
		if l.expirer == nil {
			s.logger.Debug().Str("layer", l.name).Str("capability", "ttl").Msg("Capability not implemented, skipping")
			out[l.name] = ErrNotImplemented
			continue
		}
		out[l.name] = s.call(ctx, "ttl", l, key, func() error {
			return l.expirer.Expire(ctx, key, ttl)
		})
	}
	return out
}

// call runs fn against one layer, converting panics into errors and recording
// logs and metrics. ErrNotFound is an expected outcome, not a failure.
func (s *TieredStore) call(ctx context.Context, op string, l *registeredLayer, key string, fn func() error) error {
	start := time.Now()
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn() })
	if r := pc.Recovered(); r != nil {
		err = fmt.Errorf("layer panicked: %w", r.AsError())
	}
	duration := time.Since(start)

	notFound := errors.Is(err, ErrNotFound)
	s.metrics.RecordLayerOp(op, l.name, duration, err == nil || notFound)
	if err != nil && !notFound {
		logger := tracing.LoggerFromContext(ctx, s.logger)
		logger.Warn().
			Err(err).
			Str("op", op).
			Str("key", key).
			Str("layer", l.name).
			Dur("duration", duration).
			Msg("Layer operation failed")
	}
	return err
}

func (s *TieredStore) done(op, key, layer string, start time.Time, ok bool) {
	duration := time.Since(start)
	s.metrics.RecordStoreOp(op, duration)
	s.logger.Debug().
		Str("op", op).
		Str("key", key).
		Str("layer", layer).
		Bool("ok", ok).
		Dur("duration", duration).
		Msg("Memory operation")
}

func (s *TieredStore) unknownLayer(op, key, names string) {
	s.logger.Warn().
		Str("op", op).
		Str("key", key).
		Str("layers", names).
		Msg("Unknown layer")
}

// all returns the hierarchy followed by the extra layers.
func (s *TieredStore) all() []*registeredLayer {
	out := make([]*registeredLayer, 0, len(s.hierarchy)+len(s.extra))
	out = append(out, s.hierarchy...)
	return append(out, s.extra...)
}

// resolve maps names to layers, using def when names is empty. Any unknown
// name fails the whole resolution so the caller has no side effects.
func (s *TieredStore) resolve(names []string, def []*registeredLayer) ([]*registeredLayer, error) {
	if len(names) == 0 {
		return def, nil
	}
	out := make([]*registeredLayer, 0, len(names))
	for _, n := range names {
		l, ok := s.layers[n]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLayer, n)
		}
		out = append(out, l)
	}
	return out, nil
}

// dedup tracks result identities within one merged result set.
type dedup struct {
	seen map[string]struct{}
}

func newDedup() *dedup {
	return &dedup{seen: make(map[string]struct{})}
}

// add reports whether doc is new. Documents without an identity are always
// accepted since they cannot collide.
func (d *dedup) add(doc Document) bool {
	id, ok := doc.Identity()
	if !ok {
		return true
	}
	if _, dup := d.seen[id]; dup {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}
