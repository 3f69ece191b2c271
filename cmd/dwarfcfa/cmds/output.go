package cmds

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/go-delve/dwarfcfa/pkg/config"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/cfa"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
)

const (
	colorReset  = "\x1b[0m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
)

// printer writes command output. Escape sequences are always emitted and
// stripped by the writer when colors are disabled.
type printer struct {
	w       io.Writer
	offsets bool
}

func newPrinter(w io.Writer, mode string, offsets bool) *printer {
	useColor := mode == config.ColorAlways
	f, isFile := w.(*os.File)
	if mode == config.ColorAuto && isFile {
		useColor = isatty.IsTerminal(f.Fd())
	}
	switch {
	case !useColor:
		w = colorable.NewNonColorable(w)
	case isFile && f == os.Stdout:
		w = colorable.NewColorableStdout()
	}
	return &printer{w: w, offsets: offsets}
}

func (p *printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) colored(color, s string) string {
	return color + s + colorReset
}

func (p *printer) expr(e op.LocExpr) string {
	if p.offsets {
		return e.StringWithOffsets()
	}
	return e.String()
}

func (p *printer) status(s cfa.Status) string {
	str := fmt.Sprintf("%-14s", s)
	switch s {
	case cfa.Rewritten:
		return p.colored(colorGreen, str)
	case cfa.NotRewritable:
		return p.colored(colorYellow, str)
	}
	return str
}

// result prints one line per entry of res.
func (p *printer) result(res *cfa.Result, indent string) {
	for i, e := range res.LocList {
		p.printf("%s%s %s\n", indent, p.status(res.Ranges[i].Status), p.expr(e))
	}
}
