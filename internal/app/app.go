// Package app assembles the memory store, search engine and their ambient
// services from a loaded configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/recall/internal/config"
	"github.com/harun/recall/internal/metrics"
	"github.com/harun/recall/internal/observability"
	"github.com/harun/recall/internal/tracing"
	"github.com/harun/recall/pkg/docstore"
	"github.com/harun/recall/pkg/embedding"
	"github.com/harun/recall/pkg/kvcache"
	"github.com/harun/recall/pkg/memory"
	"github.com/harun/recall/pkg/search"
	"github.com/harun/recall/pkg/vectorstore"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App holds the assembled components. Close releases them in reverse order
// of construction.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	Store   *memory.TieredStore
	Engine  *search.Engine
	Audit   *observability.AuditLogger

	closers []func() error
}

// Build opens every configured layer and wires the store and engine. On
// failure everything opened so far is closed again.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewMetrics(),
	}
	built := false
	defer func() {
		if !built {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		if err := tracing.Init(ctx, tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			SampleRatio: cfg.Tracing.SampleRatio,
			Exporters:   []sdktrace.SpanExporter{observability.NewSpanLogExporter(logger)},
		}); err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tracing.Shutdown(ctx)
		})
	}

	if cfg.AuditFile != "" {
		audit, err := observability.OpenAuditLog(cfg.AuditFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		a.Audit = audit
		a.closers = append(a.closers, audit.Close)
	}

	var (
		embedder embedding.Provider
		err      error
	)
	for _, lc := range cfg.Layers() {
		if lc.Backend == config.BackendVector {
			if embedder, err = NewEmbedder(cfg.Memory.Embedding); err != nil {
				return nil, err
			}
			break
		}
	}

	open := func(lcs []config.LayerConfig) ([]memory.NamedLayer, error) {
		var out []memory.NamedLayer
		for _, lc := range lcs {
			layer, closer, err := NewLayer(ctx, lc, embedder, logger)
			if err != nil {
				return nil, fmt.Errorf("failed to open layer %q: %w", lc.Name, err)
			}
			if closer != nil {
				a.closers = append(a.closers, closer.Close)
			}
			out = append(out, memory.NamedLayer{Name: lc.Name, Layer: layer})
		}
		return out, nil
	}

	hierarchy, err := open(cfg.Memory.Hierarchy)
	if err != nil {
		return nil, err
	}
	extra, err := open(cfg.Memory.Extra)
	if err != nil {
		return nil, err
	}

	a.Store, err = memory.NewTieredStore(memory.Options{
		Hierarchy: hierarchy,
		Extra:     extra,
		Logger:    logger.With().Str("component", "memory").Logger(),
		Metrics:   a.Metrics,
	})
	if err != nil {
		return nil, err
	}

	a.Engine, err = search.NewEngine(a.Store, cfg.Search,
		search.WithLogger(logger.With().Str("component", "search").Logger()),
		search.WithMetrics(a.Metrics),
	)
	if err != nil {
		return nil, err
	}

	built = true
	return a, nil
}

// NewLayer opens one layer. The returned closer is nil for layers without
// resources to release.
func NewLayer(ctx context.Context, lc config.LayerConfig, embedder embedding.Provider, logger zerolog.Logger) (memory.Layer, io.Closer, error) {
	switch lc.Backend {
	case config.BackendMemory:
		return memory.NewInMemoryLayer(), nil, nil

	case config.BackendRedis:
		namespace := lc.Namespace
		if namespace == "" {
			namespace = lc.Name
		}
		l, err := kvcache.New(kvcache.Options{URL: lc.URL, Namespace: namespace})
		if err != nil {
			return nil, nil, err
		}
		return l, l, nil

	case config.BackendSQLite:
		if err := ensureDir(lc.Path); err != nil {
			return nil, nil, err
		}
		s, err := docstore.New(docstore.Config{
			DBPath:        lc.Path,
			Layer:         lc.Name,
			PurgeSchedule: lc.PurgeSchedule,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case config.BackendVector:
		if embedder == nil {
			return nil, nil, errors.New("vector layer requires an embedder")
		}
		if err := ensureDir(lc.Path); err != nil {
			return nil, nil, err
		}
		s, err := vectorstore.New(vectorstore.Config{
			DBPath:   lc.Path,
			Embedder: embedder,
			Logger:   logger.With().Str("layer", lc.Name).Logger(),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", lc.Backend)
	}
}

// NewEmbedder creates the embedding provider used by vector layers.
func NewEmbedder(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	switch cfg.Provider {
	case config.EmbedderHash, "":
		return embedding.NewHashProvider(cfg.Dimension), nil
	case config.EmbedderOpenAI:
		var opts []option.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		return embedding.NewOpenAIProvider(cfg.APIKey, cfg.Model, opts...), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// Reload applies the search settings of a reloaded configuration. Layer
// settings need a restart and are ignored.
func (a *App) Reload(cfg *config.Config) error {
	if err := a.Engine.SetConfig(cfg.Search); err != nil {
		return err
	}
	a.Metrics.RecordConfigReload()
	a.Config.Search = cfg.Search
	return nil
}

// Close waits for background migrations and releases every resource.
func (a *App) Close() error {
	if a.Store != nil {
		a.Store.Wait()
	}

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func ensureDir(path string) error {
	if path == ":memory:" {
		return nil
	}
	return os.MkdirAll(filepath.Dir(path), 0755)
}
