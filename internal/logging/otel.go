package logging

import (
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// instrumentationScope names the OTEL logger the bridge writes to.
const instrumentationScope = "github.com/fyrsmithlabs/feedbackd"

// stdout and stderr are swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// newDualCore creates core with stdout and/or OTEL outputs.
func newDualCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout {
		encoder, err := newRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		out := stdout
		if cfg.Output.Stderr {
			out = stderr
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(out), cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		r, err := newRedactor(cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create otel redactor: %w", err)
		}
		bridge := otelzap.NewCore(instrumentationScope, otelzap.WithLoggerProvider(otelProvider))
		cores = append(cores, &bridgeCore{Core: bridge, level: cfg.Level, r: r})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}

	return newSampledCore(core, cfg.Sampling), nil
}

// bridgeCore applies the configured level and redaction to the OTEL
// bridge, which has no encoder of its own to hook.
type bridgeCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
	r     *redactor
}

func (c *bridgeCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl) && c.Core.Enabled(lvl)
}

func (c *bridgeCore) With(fields []zapcore.Field) zapcore.Core {
	return &bridgeCore{Core: c.Core.With(c.redact(fields)), level: c.level, r: c.r}
}

func (c *bridgeCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *bridgeCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	e.Message = c.r.message(e.Message)
	return c.Core.Write(e, c.redact(fields))
}

func (c *bridgeCore) redact(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = f
		switch f.Type {
		case zapcore.StringType:
			out[i].String = c.r.value(f.Key, f.String)
		case zapcore.ByteStringType, zapcore.BinaryType, zapcore.ReflectType,
			zapcore.StringerType, zapcore.ArrayMarshalerType, zapcore.ObjectMarshalerType:
			if c.r.hides(f.Key) {
				out[i] = zap.String(f.Key, maskKey)
			}
		}
	}
	return out
}
