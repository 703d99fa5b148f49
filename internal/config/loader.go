package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RECALL_LOGGING_LEVEL.
const EnvPrefix = "RECALL"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, validates it against the schema, applies
// environment overrides and checks the result. A missing file yields the
// defaults with environment overrides applied.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := ValidateSchema(data); err != nil {
			return nil, err
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	bindEnv(v)

	// A layer list in the file replaces the default list instead of being
	// merged into it element by element.
	if v.IsSet("memory.hierarchy") {
		cfg.Memory.Hierarchy = nil
	}
	if v.IsSet("memory.extra") {
		cfg.Memory.Extra = nil
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = "recall.log"
	}
	resolvePaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envKeys lists the scalar settings that may be overridden from the
// environment.
var envKeys = []string{
	"data_dir",
	"audit_file",
	"logging.level",
	"logging.file",
	"logging.console",
	"logging.pretty",
	"logging.redaction",
	"memory.embedding.provider",
	"memory.embedding.model",
	"memory.embedding.api_key",
	"memory.embedding.base_url",
	"memory.embedding.dimension",
	"search.keyword_weight",
	"search.semantic_weight",
	"search.fusion_method",
	"search.rrf_k",
	"search.keyword_timeout",
	"search.semantic_timeout",
	"search.default_limit",
	"tracing.enabled",
	"tracing.sample_ratio",
	"metrics.enabled",
	"metrics.addr",
}

func bindEnv(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// resolvePaths makes relative layer, log and audit paths relative to the
// data directory.
func resolvePaths(cfg *Config) {
	resolve := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(cfg.DataDir, p)
	}
	for i := range cfg.Memory.Hierarchy {
		cfg.Memory.Hierarchy[i].Path = resolve(cfg.Memory.Hierarchy[i].Path)
	}
	for i := range cfg.Memory.Extra {
		cfg.Memory.Extra[i].Path = resolve(cfg.Memory.Extra[i].Path)
	}
	cfg.Logging.File = resolve(cfg.Logging.File)
	cfg.AuditFile = resolve(cfg.AuditFile)
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".recall", "recall.json")
	}
	return filepath.Join(home, ".recall", "recall.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
