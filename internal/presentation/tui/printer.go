package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/aretw0/forkline/internal/rotation"
	"github.com/aretw0/forkline/pkg/domain"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes command output, rich on a terminal and plain otherwise.
type Printer struct {
	Out     io.Writer
	JSON    bool
	TTY     bool
	Profile termenv.Profile
	Render  func(string) (string, error)
}

// NewPrinter detects whether out is a terminal.
func NewPrinter(out *os.File, asJSON bool) *Printer {
	p := &Printer{Out: out, JSON: asJSON, Profile: termenv.Ascii}
	if fd := int(out.Fd()); term.IsTerminal(fd) {
		p.TTY = true
		p.Profile = termenv.EnvColorProfile()
		width, _, err := term.GetSize(fd)
		if err != nil {
			width = 0
		}
		p.Render = NewRenderer(width)
	}
	return p
}

// Status prints the fork chain.
func (p *Printer) Status(state *domain.State) error {
	if p.JSON {
		return p.printJSON(state)
	}
	if p.TTY && p.Render != nil {
		out, err := p.Render(StatusMarkdown(state))
		if err == nil {
			_, err = fmt.Fprint(p.Out, out)
			return err
		}
	}
	if len(state.Nodes) == 0 {
		_, err := fmt.Fprintln(p.Out, "fork chain is empty")
		return err
	}
	_, err := fmt.Fprintln(p.Out, ChainTable(state, FormatPlain, p.Profile))
	return err
}

// Quota prints quota reports.
func (p *Printer) Quota(reports []domain.QuotaReport) error {
	if p.JSON {
		return p.printJSON(reports)
	}
	_, err := fmt.Fprintln(p.Out, QuotaTable(reports, FormatPlain, p.Profile))
	return err
}

// Rotation prints the outcome of a rotation check.
func (p *Printer) Rotation(result rotation.Result) error {
	if p.JSON {
		return p.printJSON(result)
	}
	var err error
	switch {
	case result.Rotated:
		_, err = fmt.Fprintf(p.Out, "rotated %s: identity #%d -> #%d\n", result.Repo, result.From, result.To)
	case result.Repo == "":
		_, err = fmt.Fprintln(p.Out, "no active fork, nothing to rotate")
	default:
		hours := 0.0
		if result.Report != nil {
			hours = result.Report.HoursEquivalent
		}
		_, err = fmt.Fprintf(p.Out, "%s stays active (%.1fh used)\n", result.Repo, hours)
	}
	return err
}

// Line prints a formatted line.
func (p *Printer) Line(format string, args ...any) {
	fmt.Fprintf(p.Out, format+"\n", args...)
}

func (p *Printer) printJSON(v any) error {
	enc := json.NewEncoder(p.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
