package logging

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LogOpts struct {
	Verbose bool
	// Color is one of `auto`, `always` or `never`.
	Color           string
	CategoryLogsDir string
	// Encoding is `console` (the default) or `json`.
	Encoding      string
	DefaultLevels map[string]zapcore.Level
	// Fs is where category logs are written, defaults to the OS filesystem.
	Fs afero.Fs

	HadWarnings *atomic.Bool
	HadErrors   *atomic.Bool
}

func (opts LogOpts) Encoder() zapcore.Encoder {
	switch opts.Encoding {
	case "json":
		if opts.Verbose {
			return zapcore.NewJSONEncoder(zap.NewDevelopmentEncoderConfig())
		}
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())

	case "console", "":
		switch opts.Color {
		case "always", "on":
			color.NoColor = false
		case "never", "off":
			color.NoColor = true
		}
		return NewConsoleEncoder(opts.Verbose, opts.HadWarnings, opts.HadErrors)

	default:
		panic(fmt.Errorf("unknown encoding %q", opts.Encoding))
	}
}

// EntryLeveller applies per-logger levels. `LOG_LEVEL` (see [ParseLevels]) takes precedence over
// DefaultLevels.
func (opts LogOpts) EntryLeveller(core zapcore.Core) zapcore.Core {
	levels := opts.DefaultLevels
	if levelEnv, ok := os.LookupEnv("LOG_LEVEL"); ok {
		if envLevels, err := ParseLevels(levelEnv); err == nil {
			levels = envLevels
		} else {
			fmt.Fprintf(os.Stderr, "ignoring LOG_LEVEL: %v\n", err)
		}
	}

	if len(levels) > 0 {
		core = NewEntryLeveller(core, levels)
	}
	return core
}

func (opts LogOpts) CategoryCore(core zapcore.Core) zapcore.Core {
	if opts.CategoryLogsDir == "" {
		return core
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = TimeOffsetFormatter(time.Now())
	var categEnc zapcore.Encoder
	switch opts.Encoding {
	case "json":
		categEnc = zapcore.NewJSONEncoder(cfg)
	case "console", "":
		categEnc = zapcore.NewConsoleEncoder(cfg)
	default:
		panic(fmt.Errorf("unknown encoding %q", opts.Encoding))
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return zapcore.NewTee(
		core,
		NewCategoryWriter(fs, categEnc, opts.CategoryLogsDir),
	)
}

func (opts LogOpts) NewCore(w zapcore.WriteSyncer) zapcore.Core {
	enc := opts.Encoder()

	leveller := zap.NewAtomicLevel()
	if opts.Verbose {
		leveller.SetLevel(zap.DebugLevel)
	} else {
		leveller.SetLevel(zap.InfoLevel)
	}

	core := zapcore.NewCore(enc, w, leveller)
	core = opts.EntryLeveller(core)
	core = opts.CategoryCore(core)
	return core
}

func (opts LogOpts) NewLogger() *zap.Logger {
	return zap.New(opts.NewCore(os.Stderr))
}

// TimeOffsetFormatter returns a time encoder that formats the time as an offset from the start time.
// This is mostly useful for CLI logging not long-standing services as times beyond a few minutes will
// be less readable.
func TimeOffsetFormatter(start time.Time) zapcore.TimeEncoder {
	return func(t time.Time, e zapcore.PrimitiveArrayEncoder) {
		diff := t.Sub(start)
		switch {
		case diff < time.Second:
			e.AppendString(fmt.Sprintf(" %3dms", diff.Milliseconds()))
		case diff < 5*time.Minute:
			e.AppendString(fmt.Sprintf("%5.1fs", diff.Seconds()))
		default:
			e.AppendString(fmt.Sprintf("%5.1fm", diff.Minutes()))
		}
	}
}
