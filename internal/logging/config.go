package logging

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/feedbackd/internal/config"
)

// Config describes one Logger. The koanf tags let it be embedded in a
// larger config file; the CLI builds it through FromSettings.
type Config struct {
	Level      zapcore.Level     `koanf:"level"`
	Format     string            `koanf:"format"` // json or console
	Output     OutputConfig      `koanf:"output"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// OutputConfig selects the sinks. Stderr redirects the console stream;
// the CLI sets it when stdout carries export data.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	Stderr bool `koanf:"stderr"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig caps repeated entries per level within each tick.
type SamplingConfig struct {
	Enabled bool                                  `koanf:"enabled"`
	Tick    config.Duration                       `koanf:"tick"`
	Levels  map[zapcore.Level]LevelSamplingConfig `koanf:"levels"`
}

// LevelSamplingConfig keeps the first Initial entries with the same
// message in a tick, then every Thereafter-th. Thereafter 0 drops the rest.
type LevelSamplingConfig struct {
	Initial    int `koanf:"initial"`
	Thereafter int `koanf:"thereafter"`
}

type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

type StacktraceConfig struct {
	Level zapcore.Level `koanf:"level"`
}

// RedactionConfig lists field names that are always masked and value
// patterns that mask whatever string carries them.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns JSON at info to stdout, sampled, with API keys,
// bearer tokens and DSN passwords masked.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSamplingConfig(),
		},
		Caller:     CallerConfig{Enabled: true},
		Stacktrace: StacktraceConfig{Level: zapcore.ErrorLevel},
		Fields:     map[string]string{"service": "feedbackd"},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key", "x-api-key",
				"authorization", "bearer", "credential", "dsn",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
				`(?i)postgres(ql)?://[^:\s]+:[^@\s]+@`,
			},
		},
	}
}

// DefaultLevelSamplingConfig samples trace and debug hard, info lightly,
// and warn barely. Errors are never sampled.
func DefaultLevelSamplingConfig() map[zapcore.Level]LevelSamplingConfig {
	return map[zapcore.Level]LevelSamplingConfig{
		TraceLevel:         {Initial: 1},
		zapcore.DebugLevel: {Initial: 10},
		zapcore.InfoLevel:  {Initial: 100, Thereafter: 10},
		zapcore.WarnLevel:  {Initial: 100, Thereafter: 100},
	}
}

// FromSettings applies the operator's level and format strings to the
// defaults. An empty format keeps json.
func FromSettings(level, format string) (*Config, error) {
	lvl, err := LevelFromString(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := NewDefaultConfig()
	cfg.Level = lvl
	if format != "" {
		cfg.Format = format
	}
	return cfg, cfg.Validate()
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("format must be 'json' or 'console', got %q", c.Format))
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		errs = append(errs, errors.New("at least one output must be enabled (stdout or otel)"))
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		errs = append(errs, errors.New("sampling tick must be > 0 when sampling enabled"))
	}
	if c.Caller.Skip < 0 {
		errs = append(errs, fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip))
	}
	if c.Redaction.Enabled {
		for _, p := range c.Redaction.Patterns {
			if _, err := compilePattern(p); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			errs = append(errs, fmt.Errorf("static field %q needs a key and a value", k))
		}
	}
	return errors.Join(errs...)
}
