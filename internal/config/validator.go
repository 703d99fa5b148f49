package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBackend validates a layer backend name
func (v *Validator) ValidateBackend(backend string) error {
	validBackends := []string{BackendMemory, BackendRedis, BackendSQLite, BackendVector}
	for _, valid := range validBackends {
		if backend == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid backend: %q (must be one of: %s)", backend, strings.Join(validBackends, ", "))
}

// ValidateRedisURL validates a redis:// or rediss:// URL
func (v *Validator) ValidateRedisURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("redis url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid redis url: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("invalid redis url scheme %q (must be redis or rediss)", u.Scheme)
	}
	return nil
}

// ValidatePurgeSchedule validates a cron spec; empty and "off" are accepted.
func (v *Validator) ValidatePurgeSchedule(spec string) error {
	if spec == "" || spec == "off" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateLayer validates one layer entry
func (v *Validator) ValidateLayer(l LayerConfig) []error {
	var errs []error

	if err := v.ValidateBackend(l.Backend); err != nil {
		return []error{fmt.Errorf("layer %q: %w", l.Name, err)}
	}

	switch l.Backend {
	case BackendRedis:
		if err := v.ValidateRedisURL(l.URL); err != nil {
			errs = append(errs, fmt.Errorf("layer %q: %w", l.Name, err))
		}
	case BackendSQLite, BackendVector:
		if l.Path == "" {
			errs = append(errs, fmt.Errorf("layer %q: path is required for %s backend", l.Name, l.Backend))
		}
	}
	if l.Backend == BackendSQLite {
		if err := v.ValidatePurgeSchedule(l.PurgeSchedule); err != nil {
			errs = append(errs, fmt.Errorf("layer %q: %w", l.Name, err))
		}
	}

	return errs
}

// ValidateEmbedding validates the embedder settings
func (v *Validator) ValidateEmbedding(e EmbeddingConfig) []error {
	var errs []error

	switch e.Provider {
	case EmbedderHash:
		if e.Dimension < 0 {
			errs = append(errs, fmt.Errorf("embedding dimension must be >= 0"))
		}
	case EmbedderOpenAI:
		if e.APIKey == "" {
			errs = append(errs, fmt.Errorf("openai embedding requires api_key"))
		} else if !strings.HasPrefix(e.APIKey, "sk-") {
			errs = append(errs, fmt.Errorf("invalid OpenAI API key format (should start with sk-)"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid embedding provider: %q (must be one of: %s, %s)", e.Provider, EmbedderHash, EmbedderOpenAI))
	}

	return errs
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size must be >= 0"))
	}
	if cfg.Logging.MaxAge < 0 {
		errors = append(errors, fmt.Errorf("logging.max_age must be >= 0"))
	}

	layers := cfg.Layers()
	if len(layers) == 0 {
		errors = append(errors, fmt.Errorf("at least one memory layer is required"))
	}

	names := make(map[string]bool)
	hasVector := false
	for _, l := range layers {
		if l.Name == "" {
			errors = append(errors, fmt.Errorf("layer name cannot be empty"))
			continue
		}
		if names[l.Name] {
			errors = append(errors, fmt.Errorf("duplicate layer name %q", l.Name))
		}
		names[l.Name] = true
		errors = append(errors, v.ValidateLayer(l)...)
		if l.Backend == BackendVector {
			hasVector = true
		}
	}

	if hasVector {
		errors = append(errors, v.ValidateEmbedding(cfg.Memory.Embedding)...)
	}

	if err := cfg.Search.Validate(); err != nil {
		errors = append(errors, fmt.Errorf("search: %w", err))
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %f", cfg.Tracing.SampleRatio))
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errors = append(errors, fmt.Errorf("metrics.addr is required when metrics are enabled"))
	}

	return errors
}
