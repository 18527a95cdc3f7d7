package logging

import (
	"go.uber.org/zap/zapcore"
)

// newSampledCore wraps core with one sampler per configured level.
// Error and above, and levels without a sampling entry, pass through.
func newSampledCore(core zapcore.Core, cfg SamplingConfig) zapcore.Core {
	if !cfg.Enabled {
		return core
	}

	cores := make([]zapcore.Core, 0, len(cfg.Levels)+1)
	for lvl, rate := range cfg.Levels {
		if lvl >= zapcore.ErrorLevel {
			continue
		}
		only := &levelFilterCore{Core: core, level: lvl}
		cores = append(cores, zapcore.NewSamplerWithOptions(only, cfg.Tick.Duration(), rate.Initial, rate.Thereafter))
	}

	cores = append(cores, &unsampledCore{Core: core, sampled: cfg.Levels})
	return zapcore.NewTee(cores...)
}

// levelFilterCore passes exactly one level.
type levelFilterCore struct {
	zapcore.Core
	level zapcore.Level
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return lvl == c.level && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), level: c.level}
}

// unsampledCore passes errors and any level missing from the sampling table.
type unsampledCore struct {
	zapcore.Core
	sampled map[zapcore.Level]LevelSamplingConfig
}

func (c *unsampledCore) Enabled(lvl zapcore.Level) bool {
	if _, ok := c.sampled[lvl]; ok && lvl < zapcore.ErrorLevel {
		return false
	}
	return c.Core.Enabled(lvl)
}

func (c *unsampledCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(e.Level) {
		return ce
	}
	return c.Core.Check(e, ce)
}

func (c *unsampledCore) With(fields []zapcore.Field) zapcore.Core {
	return &unsampledCore{Core: c.Core.With(fields), sampled: c.sampled}
}
