package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// EntryLeveller is a zapcore.Core that filters log entries based on the logger name
// similar to Log4j or python's logging module. A level set for `engine` applies to
// `engine.plan` unless `engine.plan` has its own level.
type EntryLeveller struct {
	zapcore.Core

	levels *sync.Map // map[string]zapcore.Level
}

func NewEntryLeveller(core zapcore.Core, levels map[string]zapcore.Level) *EntryLeveller {
	el := &EntryLeveller{Core: core, levels: &sync.Map{}}
	for k, v := range levels {
		el.levels.Store(k, v)
	}
	return el
}

// ParseLevels parses a comma separated list of `logger=level` pairs (eg `drift=debug,engine=warn`).
// An entry without a logger name (eg `warn`) sets the root level.
func ParseLevels(s string) (map[string]zapcore.Level, error) {
	levels := make(map[string]zapcore.Level)
	for _, v := range strings.Split(s, ",") {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		name, lvlStr, ok := strings.Cut(v, "=")
		if !ok {
			name, lvlStr = "", v
		}
		lvl, err := zapcore.ParseLevel(lvlStr)
		if err != nil {
			return nil, fmt.Errorf("invalid level for %q: %w", name, err)
		}
		levels[strings.TrimSpace(name)] = lvl
	}
	return levels, nil
}

func (el *EntryLeveller) With(f []zapcore.Field) zapcore.Core {
	return &EntryLeveller{
		Core:   el.Core.With(f),
		levels: el.levels,
	}
}

// Enabled reports whether the wrapped core or any configured logger accepts `lvl`, so that a logger
// configured below the core's level still reaches Check.
func (el *EntryLeveller) Enabled(lvl zapcore.Level) bool {
	if el.Core.Enabled(lvl) {
		return true
	}
	enabled := false
	el.levels.Range(func(_, v any) bool {
		enabled = lvl >= v.(zapcore.Level)
		return !enabled
	})
	return enabled
}

func (el *EntryLeveller) checkModule(e zapcore.Entry, ce *zapcore.CheckedEntry, module string) (*zapcore.CheckedEntry, bool) {
	level, ok := el.levels.Load(module)
	if !ok {
		return nil, false
	}
	// cache the resolved level for this logger name
	el.levels.Store(e.LoggerName, level)
	if e.Level < level.(zapcore.Level) {
		return ce, true
	}
	return ce.AddCore(e, el), true
}

func (el *EntryLeveller) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ce, ok := el.checkModule(e, ce, e.LoggerName); ok {
		return ce
	}
	if e.LoggerName != "" {
		nameParts := strings.Split(e.LoggerName, ".")
		for i := len(nameParts) - 1; i > 0; i-- {
			if ce, ok := el.checkModule(e, ce, strings.Join(nameParts[:i], ".")); ok {
				return ce
			}
		}
		if ce, ok := el.checkModule(e, ce, ""); ok {
			return ce
		}
	}
	return el.Core.Check(e, ce)
}
