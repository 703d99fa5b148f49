// Package kvcache implements a memory layer on top of Redis. Documents are
// stored as JSON strings under a per-layer key prefix.
package kvcache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/recall/pkg/memory"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const scanBatch = 100

// Options configures the Redis connection.
type Options struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379/0")
	URL string

	// Namespace separates layers sharing one Redis database. Keys are stored
	// as "recall:<namespace>:<key>".
	Namespace string

	// TLS configuration for secure connections
	TLS *tls.Config

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Layer is a Redis-backed memory layer.
type Layer struct {
	client *redis.Client
	prefix string
}

var (
	_ memory.Layer         = (*Layer)(nil)
	_ memory.Searcher      = (*Layer)(nil)
	_ memory.Expirer       = (*Layer)(nil)
	_ memory.TTLReporter   = (*Layer)(nil)
	_ memory.StatsReporter = (*Layer)(nil)
)

// New connects to Redis and verifies the connection with PING.
func New(opts Options) (*Layer, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.Namespace == "" {
		opts.Namespace = "default"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Layer{
		client: client,
		prefix: "recall:" + opts.Namespace + ":",
	}, nil
}

func (l *Layer) key(k string) string {
	return l.prefix + k
}

// Store writes doc as JSON. A zero ttl stores without expiry.
func (l *Layer) Store(ctx context.Context, key string, doc memory.Document, ttl time.Duration) error {
	if key == "" {
		return memory.ErrInvalidKey
	}
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := l.client.Set(ctx, l.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	return nil
}

func (l *Layer) Retrieve(ctx context.Context, key string) (memory.Document, error) {
	data, err := l.client.Get(ctx, l.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, memory.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve %s: %w", key, err)
	}
	return memory.UnmarshalDocument(data)
}

func (l *Layer) Delete(ctx context.Context, key string) error {
	n, err := l.client.Del(ctx, l.key(key)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (l *Layer) Exists(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

// Update merges partial into the stored JSON inside a WATCH transaction,
// keeping the key's remaining TTL.
func (l *Layer) Update(ctx context.Context, key string, partial memory.Document) error {
	rk := l.key(key)
	return l.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, rk).Bytes()
		if errors.Is(err, redis.Nil) {
			return memory.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", key, err)
		}

		fields := make([]string, 0, len(partial))
		for f := range partial {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			data, err = sjson.SetBytes(data, escapePath(f), partial[f])
			if err != nil {
				return fmt.Errorf("failed to merge field %q: %w", f, err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rk, data, redis.KeepTTL)
			return nil
		})
		return err
	}, rk)
}

func (l *Layer) Clear(ctx context.Context) error {
	keys, err := l.scan(ctx)
	if err != nil {
		return err
	}
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		if err := l.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			return fmt.Errorf("failed to clear keys: %w", err)
		}
	}
	return nil
}

// Search scans the layer's keys in sorted order and matches q.Field with
// gjson. Keys that expire between SCAN and MGET are skipped.
func (l *Layer) Search(ctx context.Context, q memory.Query) ([]memory.Document, error) {
	keys, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	path := escapePath(q.Field)
	results := []memory.Document{}
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		values, err := l.client.MGet(ctx, keys[start:end]...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to fetch documents: %w", err)
		}
		for _, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			field := gjson.Get(raw, path)
			if !field.Exists() || !memory.Match(field.Value(), q.Operator, q.Value) {
				continue
			}
			doc, err := memory.UnmarshalDocument([]byte(raw))
			if err != nil {
				continue
			}
			results = append(results, doc)
			if q.Limit > 0 && len(results) >= q.Limit {
				return results, nil
			}
		}
	}
	return results, nil
}

// Expire sets ttl on key; a non-positive ttl removes the expiry.
func (l *Layer) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var (
		ok  bool
		err error
	)
	if ttl > 0 {
		ok, err = l.client.Expire(ctx, l.key(key), ttl).Result()
	} else {
		ok, err = l.client.Persist(ctx, l.key(key)).Result()
		if err == nil && !ok {
			// PERSIST also returns 0 for a key without expiry.
			var n int64
			n, err = l.client.Exists(ctx, l.key(key)).Result()
			ok = n > 0
		}
	}
	if err != nil {
		return fmt.Errorf("failed to set ttl on %s: %w", key, err)
	}
	if !ok {
		return memory.ErrNotFound
	}
	return nil
}

// RemainingTTL reads the key's PTTL. Redis reports -2 for a missing key and
// -1 for a key without expiry.
func (l *Layer) RemainingTTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := l.client.PTTL(ctx, l.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read ttl of %s: %w", key, err)
	}
	switch {
	case ttl == -2:
		return 0, memory.ErrNotFound
	case ttl < 0:
		return 0, nil
	}
	return ttl, nil
}

func (l *Layer) Stats(ctx context.Context) (map[string]any, error) {
	keys, err := l.scan(ctx)
	if err != nil {
		return nil, err
	}
	pool := l.client.PoolStats()
	return map[string]any{
		"backend":     "redis",
		"prefix":      l.prefix,
		"items":       len(keys),
		"pool_hits":   pool.Hits,
		"pool_misses": pool.Misses,
		"total_conns": pool.TotalConns,
	}, nil
}

// Close closes the Redis connection.
func (l *Layer) Close() error {
	return l.client.Close()
}

func (l *Layer) scan(ctx context.Context) ([]string, error) {
	var keys []string
	iter := l.client.Scan(ctx, 0, escapeGlob(l.prefix)+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys: %w", err)
	}
	return keys, nil
}

// escapePath makes a document field usable as a single gjson/sjson path
// component.
func escapePath(field string) string {
	var b strings.Builder
	for _, r := range field {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
