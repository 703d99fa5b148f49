// Package logger configures the zerolog logger shared by the recall command
// and library components.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger owns the configured zerolog.Logger and the resources behind it.
type Logger struct {
	logger   zerolog.Logger
	closer   io.Closer
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string `json:"level" mapstructure:"level"`         // debug, info, warn, error
	File      string `json:"file" mapstructure:"file"`           // log file path
	Console   bool   `json:"console" mapstructure:"console"`     // enable console output on stderr
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`       // human-readable console format
	Redaction bool   `json:"redaction" mapstructure:"redaction"` // redact credentials
	MaxSize   int    `json:"max_size" mapstructure:"max_size"`   // MB before rotation, 0 disables rotation
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`     // days to keep rotated files
	Compress  bool   `json:"compress" mapstructure:"compress"`   // gzip rotated files

	// Output replaces the console writer; used by tests.
	Output io.Writer `json:"-" mapstructure:"-"`
}

// New creates a logger. Console output goes to stderr so command results on
// stdout stay machine-readable.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer

	if cfg.Console || cfg.Output != nil {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.Pretty {
			out = zerolog.ConsoleWriter{
				Out:        out,
				TimeFormat: time.RFC3339,
				NoColor:    cfg.Output != nil,
			}
		}
		writers = append(writers, out)
	}

	var closer io.Closer
	if cfg.File != "" {
		var fw io.WriteCloser
		if cfg.MaxSize > 0 {
			fw, err = NewRotatingWriter(cfg.File, cfg.MaxSize, cfg.MaxAge, cfg.Compress)
		} else {
			fw, err = openLogFile(cfg.File)
		}
		if err != nil {
			return nil, err
		}
		closer = fw
		writers = append(writers, fw)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	var redactor *Redactor
	if cfg.Redaction {
		redactor = NewRedactor()
		writer = redactor.Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{
		logger:   logger,
		closer:   closer,
		redactor: redactor,
	}, nil
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Zerolog returns the underlying zerolog.Logger
func (l *Logger) Zerolog() zerolog.Logger {
	return l.logger
}

// Component returns a child logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.logger.With().Str("component", name).Logger()
}

// SetLevel changes the minimum level; unknown names are rejected.
func (l *Logger) SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.logger = l.logger.Level(lvl)
	return nil
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Console:   true,
		Pretty:    true,
		Redaction: true,
		MaxSize:   100,
		MaxAge:    7,
		Compress:  true,
	}
}
