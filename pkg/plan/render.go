package plan

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

var (
	actionSymbols = map[Action]string{
		ActionCreate: "+",
		ActionUpdate: "~",
		ActionDelete: "-",
		ActionRetain: "=",
	}
	actionColors = map[Action]*color.Color{
		ActionCreate: color.New(color.FgGreen),
		ActionUpdate: color.New(color.FgYellow),
		ActionDelete: color.New(color.FgRed),
		ActionRetain: color.New(color.FgCyan),
	}
)

// Render writes a human readable form of the plan. Colours follow [color.NoColor].
func (p *Plan) Render(w io.Writer) error {
	if p.Empty() {
		_, err := fmt.Fprintln(w, "No changes.")
		return err
	}
	for _, c := range p.Changes {
		line := fmt.Sprintf("%s %s", actionSymbols[c.Action], c.Resource)
		if c.Action == ActionRetain {
			line += " (retained, not deleted)"
		}
		if _, err := actionColors[c.Action].Fprintln(w, line); err != nil {
			return err
		}
		if c.Action != ActionUpdate {
			continue
		}
		for _, a := range c.Attributes {
			if _, err := fmt.Fprintf(w, "    %s: %v -> %v\n", a.Path, a.From, a.To); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "\n%s\n", p.Summary())
	return err
}
