package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/refinelabs/refine/internal/diagnostics"
	"github.com/refinelabs/refine/internal/ui"
)

// statusLine renders status changes as a colored line on the terminal.
type statusLine struct {
	out io.Writer
}

var (
	statusColors = map[ui.Status]*color.Color{
		ui.StatusLoading: color.New(color.FgYellow),
		ui.StatusStopped: color.New(color.FgHiBlack),
		ui.StatusPassed:  color.New(color.FgGreen),
		ui.StatusFailed:  color.New(color.FgRed, color.Bold),
	}
)

// SetStatus implements ui.StatusSink.
func (s *statusLine) SetStatus(status ui.Status) {
	c, ok := statusColors[status]
	if !ok {
		c = color.New(color.Reset)
	}
	fmt.Fprintf(s.out, "status: %s\n", c.Sprint(status.String()))
}

// detailView prints the active refinement error, or the all-clear.
type detailView struct {
	out io.Writer
}

// ShowError implements diagnostics.DetailSink.
func (v *detailView) ShowError(d diagnostics.ActiveDiagnostic) {
	header := color.New(color.FgRed).Sprintf("refinement error [%s]", d.Kind)
	fmt.Fprintf(v.out, "%s %s:%d:%d\n  %s\n",
		header, d.Path, d.Range.Start.Line+1, d.Range.Start.Character+1, d.Message)
}

// ShowAllClear implements diagnostics.DetailSink.
func (v *detailView) ShowAllClear() {
	fmt.Fprintf(v.out, "%s\n", color.New(color.FgGreen).Sprint("no refinement errors"))
}
