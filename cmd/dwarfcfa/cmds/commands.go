package cmds

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/go-delve/dwarfcfa/cmd/dwarfcfa/cmds/helphelpers"
	"github.com/go-delve/dwarfcfa/pkg/config"
	"github.com/go-delve/dwarfcfa/pkg/dwarf"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/cfa"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/frame"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/op"
	"github.com/go-delve/dwarfcfa/pkg/dwarf/regnum"
	"github.com/go-delve/dwarfcfa/pkg/logflags"
	"github.com/go-delve/dwarfcfa/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// color is the color mode: auto, always or never.
	color string
	// showOffsets prints the byte offset of every instruction.
	showOffsets bool

	// frameInstrs prints the call frame instructions of every FDE.
	frameInstrs bool
	// pcAddr restricts the rows command to the row covering an address.
	pcAddr string
	// disasm prints the instruction at the start of every row.
	disasm bool

	// exprSrc is the expression to rewrite.
	exprSrc string
	// hexInput means expressions are hex encoded bytes instead of assembly.
	hexInput bool
	// addrRange is the lo,hi range to rewrite over.
	addrRange string
	// frameBaseSrc is the value of DW_AT_frame_base used by DW_OP_fbreg.
	frameBaseSrc string

	// funcName restricts the vars command to one function.
	funcName string

	// arch selects the register names of the expr command.
	arch string
	// cfaVal and frameBaseVal are the values of the CFA and of the frame base.
	cfaVal, frameBaseVal int64
	// regVals are name=value register assignments.
	regVals []string

	// verbose prints build details with the version.
	verbose bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

// openImage loads an executable, replaced in tests.
var openImage = dwarf.Open

const dwarfcfaCommandLongDesc = `dwarfcfa rewrites DWARF location expressions so that the addresses they
compute are relative to the canonical frame address (CFA) instead of a register.

The call frame information of the executable is interpreted to find, for every
address, how the registers used by an expression relate to the CFA.
Expressions are written as '|' separated instructions, for example:

` + "`dwarfcfa rewrite ./prog --expr 'DW_OP_breg7 -8 | DW_OP_deref' --range 0x401000,0x401040`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main dwarfcfa root command.
	rootCommand = &cobra.Command{
		Use:               "dwarfcfa",
		Short:             "dwarfcfa rewrites DWARF location expressions relative to the CFA.",
		Long:              dwarfcfaCommandLongDesc,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output: frame, rewrite, loclist.`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor.")
	rootCommand.PersistentFlags().StringVar(&color, "color", conf.Color, "Colorize output: auto, always or never.")
	rootCommand.PersistentFlags().BoolVar(&showOffsets, "offsets", conf.ShowOffsets, "Print the byte offset of every instruction.")

	// 'frames' subcommand.
	framesCommand := &cobra.Command{
		Use:   "frames <executable>",
		Short: "List the frame description entries of an executable.",
		Long: `List the frame description entries read from .debug_frame and .eh_frame.

When both sections describe the same address range the .debug_frame entry is used.`,
		Args: cobra.ExactArgs(1),
		RunE: framesCmd,
	}
	framesCommand.Flags().BoolVarP(&frameInstrs, "instructions", "i", false, "Print the call frame instructions of every entry.")
	rootCommand.AddCommand(framesCommand)

	// 'rows' subcommand.
	rowsCommand := &cobra.Command{
		Use:   "rows <executable>",
		Short: "Print the call frame table.",
		Long: `Print the rows of the call frame table, one per address range where the
register rules do not change.`,
		Args: cobra.ExactArgs(1),
		RunE: rowsCmd,
	}
	rowsCommand.Flags().StringVar(&pcAddr, "pc", "", "Only print the row covering this address.")
	rowsCommand.Flags().BoolVar(&disasm, "disasm", conf.Disassemble, "Print the instruction at the start of every row.")
	rootCommand.AddCommand(rowsCommand)

	// 'rewrite' subcommand.
	rewriteCommand := &cobra.Command{
		Use:   "rewrite <executable>",
		Short: "Rewrite a location expression in terms of the CFA.",
		Long: `Rewrite a location expression over an address range.

The range is split wherever the call frame rules change, every piece is
rewritten on its own. Pieces using a register that can not be related to the
CFA keep the original expression.`,
		Args: cobra.ExactArgs(1),
		RunE: rewriteCmd,
	}
	rewriteCommand.Flags().StringVarP(&exprSrc, "expr", "e", "", "Expression to rewrite.")
	rewriteCommand.Flags().StringVarP(&addrRange, "range", "r", "", "Address range, as lo,hi.")
	rewriteCommand.Flags().StringVar(&frameBaseSrc, "frame-base", "", "Frame base expression, needed by DW_OP_fbreg.")
	rewriteCommand.Flags().BoolVar(&hexInput, "hex", false, "Expressions are hex encoded.")
	rootCommand.AddCommand(rewriteCommand)

	// 'vars' subcommand.
	varsCommand := &cobra.Command{
		Use:   "vars <executable>",
		Short: "Rewrite the locations of the variables of every function.",
		Args:  cobra.ExactArgs(1),
		RunE:  varsCmd,
	}
	varsCommand.Flags().StringVarP(&funcName, "func", "f", "", "Only rewrite the variables of this function.")
	rootCommand.AddCommand(varsCommand)

	// 'expr' subcommand.
	exprCommand := &cobra.Command{
		Use:   "expr <expression>",
		Short: "Evaluate a location expression.",
		Long: `Evaluate a location expression with the given register values.

Registers are assigned with --reg name=value and can be abbreviated to a
unique prefix, r<num> refers to DWARF register <num>.`,
		Args: cobra.MinimumNArgs(1),
		RunE: exprCmd,
	}
	exprCommand.Flags().StringVar(&arch, "arch", "amd64", "Architecture the register names refer to.")
	exprCommand.Flags().Int64Var(&cfaVal, "cfa", 0, "Value of the CFA.")
	exprCommand.Flags().Int64Var(&frameBaseVal, "frame-base", 0, "Value of the frame base.")
	exprCommand.Flags().StringArrayVar(&regVals, "reg", nil, "Register value, as name=value.")
	exprCommand.Flags().BoolVar(&hexInput, "hex", false, "The expression is hex encoded.")
	rootCommand.AddCommand(exprCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dwarfcfa\n%s\n", version.DwarfCFAVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "Build Details: %s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	return rootCommand
}

func setup(cmd *cobra.Command, args []string) error {
	if log && logOutput == "" {
		logOutput = conf.LogOutput
	}
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	conf.Color = color
	_, err := conf.ColorMode()
	return err
}

func newPrinterFor(cmd *cobra.Command) *printer {
	mode, _ := conf.ColorMode()
	return newPrinter(cmd.OutOrStdout(), mode, showOffsets)
}

func newRewriter(img *dwarf.Image) (*cfa.Rewriter, error) {
	var opts []cfa.Option
	if n := conf.CacheSize(); n > 0 {
		c, err := frame.NewTableCache(n)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cfa.WithTableCache(c))
	}
	return img.Rewriter(opts...), nil
}

func framesCmd(cmd *cobra.Command, args []string) error {
	img, err := openImage(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	p := newPrinterFor(cmd)
	for _, fde := range img.Frames {
		p.printf("%s fde %#x cie %#x\n", p.colored(colorCyan, fmt.Sprintf("[%#x, %#x)", fde.Begin(), fde.End())), fde.Offset(), fde.CIE.Offset())
		if !frameInstrs {
			continue
		}
		cieInstrs, err := fde.CIE.Instructions()
		if err != nil {
			return err
		}
		instrs, err := fde.DecodeInstructions()
		if err != nil {
			return err
		}
		for _, in := range cieInstrs {
			p.printf("  cie %s\n", in)
		}
		for _, in := range instrs {
			p.printf("  %s\n", in)
		}
	}
	return nil
}

func rowsCmd(cmd *cobra.Command, args []string) error {
	img, err := openImage(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	p := newPrinterFor(cmd)
	if pcAddr != "" {
		pc, err := parseAddr(pcAddr)
		if err != nil {
			return err
		}
		fde, err := img.Frames.FDEForPC(pc)
		if err != nil {
			return err
		}
		row, err := fde.EstablishFrame(pc)
		if err != nil {
			return err
		}
		printRow(p, img, row)
		return nil
	}

	for _, fde := range img.Frames {
		table, err := fde.Decode()
		if err != nil {
			return err
		}
		p.printf("%s\n", p.colored(colorCyan, fmt.Sprintf("fde [%#x, %#x)", fde.Begin(), fde.End())))
		for i := range table.Rows {
			printRow(p, img, &table.Rows[i])
		}
	}
	return nil
}

func printRow(p *printer, img *dwarf.Image, row *frame.Row) {
	p.printf("[%#x, %#x) %s\n", row.Low, row.High, formatRules(img.Arch, row.Rules))
	if !disasm {
		return
	}
	code, err := img.Text(row.Low, maxInstructionLength)
	if err == nil {
		var text string
		text, err = disassemble(img.Arch, code, row.Low)
		if err == nil {
			p.printf("\t%s\n", text)
			return
		}
	}
	p.printf("\t%s\n", p.colored(colorYellow, err.Error()))
}

// formatRules prints rules with register names, the CFA rule first.
func formatRules(arch string, rules []frame.RegRule) string {
	s := make([]string, 0, len(rules))
	for _, r := range rules {
		name := "cfa"
		if r.Reg != frame.RegCFA {
			name = regnum.Name(arch, r.Reg)
		}
		def := r.Def.String()
		if d, ok := r.Def.(frame.RegisterPlusOffset); ok {
			def = regnum.Name(arch, d.Reg)
			if d.Offset != 0 || r.Reg == frame.RegCFA {
				def += fmt.Sprintf("%+d", d.Offset)
			}
		}
		s = append(s, name+"="+def)
	}
	if n := len(s); n > 1 && rules[n-1].Reg == frame.RegCFA {
		s = append([]string{s[n-1]}, s[:n-1]...)
	}
	return strings.Join(s, " ")
}

func rewriteCmd(cmd *cobra.Command, args []string) error {
	if exprSrc == "" {
		return errors.New("you must provide an expression with --expr")
	}
	img, err := openImage(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	e, err := parseExpr(exprSrc, img.Format)
	if err != nil {
		return err
	}
	var within cfa.Range
	if addrRange != "" {
		if within, err = parseRange(addrRange); err != nil {
			return err
		}
	}
	var frameBase op.LocList
	if frameBaseSrc != "" {
		fb, err := parseExpr(frameBaseSrc, img.Format)
		if err != nil {
			return fmt.Errorf("frame base: %w", err)
		}
		frameBase = op.LocList{fb}
	}

	rw, err := newRewriter(img)
	if err != nil {
		return err
	}
	res, err := rw.Rewrite(op.LocList{e}, within, frameBase)
	if err != nil {
		return err
	}
	p := newPrinterFor(cmd)
	p.result(res, "")
	p.printf("%d rewritten, %d not rewritable, %d unchanged\n", res.Count(cfa.Rewritten), res.Count(cfa.NotRewritable), res.Count(cfa.Unchanged))
	return nil
}

func varsCmd(cmd *cobra.Command, args []string) error {
	img, err := openImage(args[0])
	if err != nil {
		return err
	}
	defer img.Close()

	fns, err := img.Functions()
	if err != nil {
		return err
	}
	rw, err := newRewriter(img)
	if err != nil {
		return err
	}

	p := newPrinterFor(cmd)
	found := false
	for _, fn := range fns {
		if funcName != "" && fn.Name != funcName {
			continue
		}
		found = true
		p.printf("%s %s\n", p.colored(colorCyan, fn.Name), formatRanges(fn.Ranges))
		if fn.FrameBaseErr != nil {
			p.printf("  frame base: %s\n", p.colored(colorYellow, fn.FrameBaseErr.Error()))
		}

		for _, v := range img.Variables(fn) {
			indent := strings.Repeat("  ", v.Depth+1)
			if v.Err != nil {
				p.printf("%s%s: %s\n", indent, v.Name, p.colored(colorYellow, v.Err.Error()))
				continue
			}
			if v.Location == nil {
				p.printf("%s%s: no location\n", indent, v.Name)
				continue
			}
			res, err := img.RewriteVariable(rw, fn, v)
			if err != nil {
				p.printf("%s%s: %s\n", indent, v.Name, p.colored(colorYellow, err.Error()))
				continue
			}
			p.printf("%s%s\n", indent, v.Name)
			p.result(res, indent+"  ")
		}
	}
	if funcName != "" && !found {
		return fmt.Errorf("function %q not found", funcName)
	}
	return nil
}

func formatRanges(rngs [][2]uint64) string {
	s := make([]string, len(rngs))
	for i, rng := range rngs {
		s[i] = fmt.Sprintf("[%#x, %#x)", rng[0], rng[1])
	}
	return strings.Join(s, " ")
}

func exprCmd(cmd *cobra.Command, args []string) error {
	f := op.DefaultFormat
	e, err := parseExpr(strings.Join(args, " "), f)
	if err != nil {
		return err
	}
	vals, err := parseRegs(arch, regVals)
	if err != nil {
		return err
	}
	regs := op.NewDwarfRegisters(0, nil, binary.LittleEndian)
	for num, v := range vals {
		regs.AddReg(num, op.DwarfRegisterFromUint64(v))
	}
	regs.CFA = cfaVal
	regs.FrameBase = frameBaseVal

	p := newPrinterFor(cmd)
	p.printf("%s\n", p.expr(e))
	addr, pieces, err := op.ExecuteStackProgram(*regs, e, f.PtrSize, nil)
	if err != nil {
		return err
	}
	if pieces == nil {
		p.printf("%s\n", p.colored(colorGreen, fmt.Sprintf("%#x", uint64(addr))))
		return nil
	}
	for _, pc := range pieces {
		switch {
		case pc.IsRegister && pc.Size == 0:
			p.printf("in %s\n", regnum.Name(arch, pc.RegNum))
		case pc.IsRegister:
			p.printf("%d bytes in %s\n", pc.Size, regnum.Name(arch, pc.RegNum))
		case pc.IsValue:
			p.printf("%d bytes, value %#x\n", pc.Size, uint64(pc.Addr))
		default:
			p.printf("%d bytes at %#x\n", pc.Size, uint64(pc.Addr))
		}
	}
	return nil
}

// parseExpr parses src as assembly, or as hex encoded bytes if --hex was
// given.
func parseExpr(src string, f op.Format) (op.LocExpr, error) {
	if !hexInput {
		return op.ParseAssembly(src, f)
	}
	b, err := hex.DecodeString(strings.Join(strings.Fields(src), ""))
	if err != nil {
		return op.LocExpr{}, err
	}
	return op.DecodeLocExpr(b, 0, 0, f)
}

func parseAddr(s string) (uint64, error) {
	addr, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return addr, nil
}

// parseRange parses "lo,hi".
func parseRange(s string) (cfa.Range, error) {
	v := strings.Split(s, ",")
	if len(v) != 2 {
		return cfa.Range{}, fmt.Errorf("invalid range %q, expected lo,hi", s)
	}
	lo, err := parseAddr(v[0])
	if err != nil {
		return cfa.Range{}, err
	}
	hi, err := parseAddr(v[1])
	if err != nil {
		return cfa.Range{}, err
	}
	if lo >= hi {
		return cfa.Range{}, fmt.Errorf("empty range %q", s)
	}
	return cfa.Range{Low: lo, High: hi}, nil
}

// parseRegs parses name=value assignments.
func parseRegs(arch string, assignments []string) (map[uint64]uint64, error) {
	r := make(map[uint64]uint64, len(assignments))
	for _, a := range assignments {
		i := strings.Index(a, "=")
		if i < 0 {
			return nil, fmt.Errorf("invalid register assignment %q, expected name=value", a)
		}
		num, err := regnum.Lookup(arch, strings.TrimSpace(a[:i]))
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(a[i+1:]), 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(strings.TrimSpace(a[i+1:]), 0, 64)
			if uerr != nil {
				return nil, fmt.Errorf("invalid value in %q", a)
			}
			v = int64(u)
		}
		r[num] = uint64(v)
	}
	return r, nil
}
