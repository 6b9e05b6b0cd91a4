package logging

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"go.uber.org/atomic"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var (
	pool = buffer.NewPool()

	levelColours = map[zapcore.Level]*color.Color{
		zapcore.DebugLevel:  color.New(color.FgMagenta),
		zapcore.InfoLevel:   color.New(color.FgHiGreen),
		zapcore.WarnLevel:   color.New(color.FgHiYellow, color.Bold),
		zapcore.ErrorLevel:  color.New(color.FgHiRed, color.Bold),
		zapcore.DPanicLevel: color.New(color.FgHiRed, color.Bold),
		zapcore.PanicLevel:  color.New(color.FgHiRed, color.Bold),
		zapcore.FatalLevel:  color.New(color.FgHiRed, color.Bold),
	}

	levelWidth int
	levelPad   string
	levelFmt   string

	resourceColour = color.New(color.FgHiCyan)
)

func init() {
	for l := range levelColours {
		ll := len(l.String())
		if levelWidth < ll {
			levelWidth = ll
		}
	}
	levelPad = strings.Repeat(" ", levelWidth)
	levelFmt = fmt.Sprintf("%%%ds", levelWidth)
}

// ConsoleEncoder is a human oriented encoder for CLI output. Entries carrying a [ResourceField] are
// prefixed with the resource id, other fields are appended as `key=value` pairs and errors are
// printed on their own indented lines.
type ConsoleEncoder struct {
	Verbose bool

	Resource    resourceField
	HadWarnings *atomic.Bool
	HadErrors   *atomic.Bool

	*zapcore.MapObjectEncoder
}

func NewConsoleEncoder(verbose bool, hadWarnings *atomic.Bool, hadErrors *atomic.Bool) *ConsoleEncoder {
	return &ConsoleEncoder{
		Verbose:          verbose,
		HadWarnings:      hadWarnings,
		HadErrors:        hadErrors,
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
	}
}

func (enc *ConsoleEncoder) Clone() zapcore.Encoder {
	ne := &ConsoleEncoder{
		Verbose:          enc.Verbose,
		HadWarnings:      enc.HadWarnings,
		HadErrors:        enc.HadErrors,
		Resource:         enc.Resource,
		MapObjectEncoder: zapcore.NewMapObjectEncoder(),
	}
	for k, v := range enc.Fields {
		ne.Fields[k] = v
	}
	return ne
}

func (enc *ConsoleEncoder) AddObject(key string, marshaler zapcore.ObjectMarshaler) error {
	if obj, ok := marshaler.(resourceField); ok {
		enc.Resource = obj
		return nil
	}
	return enc.MapObjectEncoder.AddObject(key, marshaler)
}

func (enc *ConsoleEncoder) EncodeEntry(ent zapcore.Entry, fieldList []zapcore.Field) (*buffer.Buffer, error) {
	enc.record(ent.Level)

	resource, fields, errField := enc.split(fieldList)
	colour, ok := levelColours[ent.Level]
	if !ok {
		colour = levelColours[zapcore.PanicLevel]
	}

	line := pool.Get()
	if enc.Verbose {
		colour.Fprintf(line, levelFmt+" ", ent.Level.String())
	}
	if !resource.id.IsZero() {
		resourceColour.Fprintf(line, "%s: ", resource.id)
	}
	colour.Fprint(line, ent.Message)
	writeFields(line, fields)
	line.AppendByte('\n')
	if errField != nil {
		enc.writeError(line, colour, errField)
	}
	return line, nil
}

func (enc *ConsoleEncoder) record(level zapcore.Level) {
	if enc.HadWarnings != nil && level >= zapcore.WarnLevel {
		enc.HadWarnings.Store(true)
	}
	if enc.HadErrors != nil && level >= zapcore.ErrorLevel {
		enc.HadErrors.Store(true)
	}
}

// split separates the resource and error fields from the ones printed as `key=value`.
func (enc *ConsoleEncoder) split(fieldList []zapcore.Field) (resourceField, map[string]any, error) {
	resource := enc.Resource
	var errField error
	fields := zapcore.NewMapObjectEncoder()
	for k, v := range enc.Fields {
		fields.Fields[k] = v
	}
	for _, f := range fieldList {
		if r, ok := f.Interface.(resourceField); ok {
			resource = r
			continue
		}
		if err, ok := f.Interface.(error); ok && f.Type == zapcore.ErrorType {
			errField = err
			continue
		}
		f.AddTo(fields)
	}
	return resource, fields.Fields, errField
}

func (enc *ConsoleEncoder) writeError(line *buffer.Buffer, colour *color.Color, err error) {
	text := fmt.Sprintf("ERROR: %v", err)
	indent := ""
	if enc.Verbose {
		text = fmt.Sprintf("ERROR: %+v", err)
		indent = levelPad + " "
	}
	for _, l := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		line.AppendString(indent)
		colour.Fprintf(line, "| %s", l)
		line.AppendByte('\n')
	}
}

func writeFields(w io.Writer, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		sep := ", "
		if i == 0 {
			sep = "  "
		}
		fmt.Fprintf(w, "%s%s=%v", sep, k, fields[k])
	}
}
