package dot

import (
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strings"

	"github.com/google/pprof/third_party/svgpan"
	construct "github.com/klothoplatform/free-courses-infra/pkg/construct2"
	"go.uber.org/zap"
)

var (
	svgSize    = regexp.MustCompile(`<svg\s*width="[^"]+"\s*height="[^"]+"\s*viewBox="[^"]+"`)
	firstGraph = regexp.MustCompile(`<g id="graph\d"`)
)

// WriteSVG lays `g` out with the graphviz `dot` binary and writes a browser-pannable SVG to `out`.
func WriteSVG(g construct.Graph, out io.Writer) error {
	src := new(bytes.Buffer)
	if err := WriteGraph(g, src); err != nil {
		return err
	}
	svg, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = src
	cmd.Stdout = svg
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("could not run 'dot': %w: %s", err, stderr.String())
	}
	zap.S().Named("dot").Debugf("dot output %d bytes", svg.Len())
	_, err := io.WriteString(out, pannable(svg.String()))
	return err
}

// pannable sizes the SVG to the window and wraps the graph in an svgpan viewport.
func pannable(svg string) string {
	// graphviz leaves some ampersands unquoted
	svg = strings.ReplaceAll(svg, "&;", "&amp;;")
	svg = svgSize.ReplaceAllLiteralString(svg, `<svg width="100%" height="100%"`)

	loc := firstGraph.FindStringIndex(svg)
	end := strings.LastIndex(svg, "</svg>")
	if loc == nil || end < loc[0] {
		return svg
	}
	return svg[:loc[0]] +
		`<script type="text/ecmascript"><![CDATA[` + svgpan.JSSource + `]]></script>` +
		`<g id="viewport" transform="scale(0.5,0.5) translate(0,0)">` +
		svg[loc[0]:end] + `</g>` + svg[end:]
}
