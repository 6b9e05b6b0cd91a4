package logging

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"go.uber.org/zap/zapcore"
)

// CategoryWriter is a zapcore.Core that writes each entry to `<LogRootPath>/<category>.log` where the
// category is the first segment of the logger name (eg `drift` for `drift.dynamodb`). Entries from
// the root logger are not written.
type CategoryWriter struct {
	Encoder     zapcore.Encoder
	LogRootPath string
	Fs          afero.Fs
	files       *sync.Map // map[string]afero.File
}

func NewCategoryWriter(fs afero.Fs, enc zapcore.Encoder, logRootPath string) *CategoryWriter {
	return &CategoryWriter{
		Encoder:     enc,
		LogRootPath: logRootPath,
		Fs:          fs,
		files:       &sync.Map{},
	}
}

func (c *CategoryWriter) Enabled(lvl zapcore.Level) bool {
	return true
}

func (c *CategoryWriter) With(fields []zapcore.Field) zapcore.Core {
	clone := c.clone()
	for i := range fields {
		fields[i].AddTo(clone.Encoder)
	}
	return clone
}

func (c *CategoryWriter) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *CategoryWriter) open(categ string) (io.Writer, error) {
	if w, ok := c.files.Load(categ); ok {
		return w.(io.Writer), nil
	}
	if err := c.Fs.MkdirAll(c.LogRootPath, 0755); err != nil {
		return nil, err
	}
	f, err := c.Fs.OpenFile(filepath.Join(c.LogRootPath, categ+".log"), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	w, loaded := c.files.LoadOrStore(categ, f)
	if loaded {
		f.Close()
		return w.(io.Writer), nil
	}
	// Only truncate once we know this handle is the one kept in the map, another goroutine may
	// have opened the same file concurrently.
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	return f, nil
}

func (c *CategoryWriter) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if ent.LoggerName == "" {
		return nil
	}
	categ, rest, _ := strings.Cut(ent.LoggerName, ".")
	categ = strings.ReplaceAll(strings.TrimSpace(categ), string(os.PathSeparator), "_")
	if categ == "" {
		return nil
	}
	ent.LoggerName = rest

	w, err := c.open(categ)
	if err != nil {
		return err
	}
	buf, err := c.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	buf.Free()
	return err
}

func (c *CategoryWriter) Sync() error {
	var errs error
	c.files.Range(func(key, value any) bool {
		if syncer, ok := value.(interface{ Sync() error }); ok {
			errs = errors.Join(errs, syncer.Sync())
		}
		return true
	})
	return errs
}

// Close closes every category file opened so far.
func (c *CategoryWriter) Close() error {
	var errs error
	c.files.Range(func(key, value any) bool {
		if closer, ok := value.(io.Closer); ok {
			errs = errors.Join(errs, closer.Close())
		}
		c.files.Delete(key)
		return true
	})
	return errs
}

func (c *CategoryWriter) clone() *CategoryWriter {
	return &CategoryWriter{
		Encoder:     c.Encoder.Clone(),
		LogRootPath: c.LogRootPath,
		Fs:          c.Fs,
		files:       c.files,
	}
}
