// Package asm analyzes the body of one GLOBAL_ASM block: it tracks how
// many bytes each section (.text, .data, .rodata, .late_rodata, .bss) will
// occupy once assembled, and at the end emits the dummy C/Pascal stub code
// that reserves exactly that many bytes in each section plus a matching
// assembly prelude for the sidecar .s file.
package asm

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
	"github.com/marijnvdwerf/asm-processor/internal/state"
)

// Section names this tool tracks sizes for. late_rodata is kept separate
// from rodata since its stub bytes are emitted after the compiler's own
// rodata, not interleaved with it.
const (
	SectionText       = ".text"
	SectionData       = ".data"
	SectionRodata     = ".rodata"
	SectionLateRodata = ".late_rodata"
	SectionBSS        = ".bss"
)

// maxFnSize caps how many instructions one dummy function body emits
// before the block emits an epilogue/prologue pair and starts a new one,
// keeping individual stub functions small enough that the C compiler
// doesn't choke on one enormous function body.
const maxFnSize = 100

var reCommentOrString = regexp.MustCompile(`#.*|//.*|"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`)

// stripCommentsAndStrings removes line comments. String and char literals
// are matched as whole tokens and left unchanged, so a "#" or "//" inside
// a quoted string is not taken for a comment and .ascii/.asciz can still
// count the literal's bytes, mirroring the Python block analyzer's
// re_comment_or_string substitution.
func stripCommentsAndStrings(line string) string {
	return reCommentOrString.ReplaceAllStringFunc(line, func(m string) string {
		if strings.HasPrefix(m, "/") || strings.HasPrefix(m, "#") {
			return ""
		}
		return m
	})
}

// Function is one dummy-function record the block analyzer accumulates:
// the name used for its stub symbols, the raw asm lines belonging to it,
// and the per-section byte counts the preprocessor must reserve.
type Function struct {
	TextGlabels []string
	AsmConts    []string
	// AsmContSections holds, for each entry in AsmConts, the section name
	// it was recorded under, so a marker-wrapping sidecar generator can
	// split the block's real hand-written asm back out by section.
	AsmContSections      []string
	LateRodataDummyBytes []byte
	JtblRodataSize       int
	LateRodataAsmConts   []string
	FnDesc               string
	SectionSizes         map[string]int
	// TextFillerStmts holds one C/Pascal statement per .text instruction
	// slot (possibly "" for a slot the caller should skip without emitting
	// anything, matching the compiler's own prologue/delay-slot overhead).
	TextFillerStmts []string
	// FuncSplitAt holds indices into TextFillerStmts at which StubSource
	// should close the current dummy function and open a new one, so a
	// GLOBAL_ASM block with more than maxFnSize instructions doesn't land
	// in one unwieldy C function.
	FuncSplitAt []int

	// The following are filled in by StubSource as a side effect of
	// emitting the stub text, recording which generated symbol name ended
	// up reserving which section's bytes. The post-process stage looks
	// these up in the compiled object to find where the compiler actually
	// placed each stub.
	TextFuncNames  []string
	RodataName     string
	DataName       string
	BssName        string
	LateRodataName string
}

// Block analyzes a single GLOBAL_ASM(...) body line by line.
type Block struct {
	fnDesc string

	curSection     string
	fnSectionSizes map[string]int

	asmConts           []string
	asmContSections    []string
	textGlabels        []string
	lateRodataAsmConts []string

	lateRodataAlignment         int
	lateRodataAlignmentFromData bool

	opts blockOptions
}

// blockOptions is the subset of global options the analyzer's directive
// handling needs. It's separated from options.Options so this package
// doesn't import the CLI layer.
type blockOptions struct {
	Mips1  bool
	Pascal bool
}

// GlobalState aliases state.GlobalState so callers only need to import one
// package when wiring the analyzer up.
type GlobalState = state.GlobalState

// NewBlock starts analyzing one GLOBAL_ASM block's body. fnDesc is a
// human-readable description (source file and line) used in error
// messages.
func NewBlock(fnDesc string, mips1, pascal bool) *Block {
	return &Block{
		fnDesc:         fnDesc,
		curSection:     SectionText,
		fnSectionSizes: map[string]int{SectionText: 0, SectionData: 0, SectionRodata: 0, SectionLateRodata: 0, SectionBSS: 0},
		opts:           blockOptions{Mips1: mips1, Pascal: pascal},
	}
}

func (b *Block) align2() {
	if r := b.fnSectionSizes[b.curSection] % 2; r != 0 {
		b.fnSectionSizes[b.curSection] += 2 - r
	}
}

func (b *Block) align4() {
	if r := b.fnSectionSizes[b.curSection] % 4; r != 0 {
		b.fnSectionSizes[b.curSection] += 4 - r
	}
}

// addSized records size bytes of content in the current section. .text and
// .late_rodata must grow in multiples of 4 (whole MIPS instructions); a
// .text line additionally requires a glabel to have been seen already, the
// same restriction the Python analyzer enforces so an instruction can never
// be attributed to an anonymous function.
func (b *Block) addSized(size int, line int) error {
	if (b.curSection == SectionText || b.curSection == SectionLateRodata) && size%4 != 0 {
		return asmerr.Newf(asmerr.AsmSyntax, "", line, "size must be a multiple of 4 in %s", b.curSection)
	}
	if b.curSection == SectionText {
		if len(b.textGlabels) == 0 {
			return asmerr.New(asmerr.AsmSyntax, "", line, "instruction encountered before a glabel in .text")
		}
	}
	b.fnSectionSizes[b.curSection] += size
	return nil
}

var reAsciiEscape = regexp.MustCompile(`\\([0-7]{1,3}|x[0-9a-fA-F]{1,2}|.)`)

var reQuotedString = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)

// countQuotedSize returns the byte length .ascii/.asciz content would
// assemble to: each escape sequence (\xNN hex or up to 3 octal digits, or
// a single escaped character) counts as one byte, every other input byte
// counts as one byte. isZ adds the implicit NUL terminator .asciz appends.
func countQuotedSize(content string, isZ bool) int {
	n := 0
	i := 0
	for i < len(content) {
		if content[i] == '\\' && i+1 < len(content) {
			rest := content[i+1:]
			if loc := reAsciiEscape.FindStringIndex("\\" + rest); loc != nil && loc[0] == 0 {
				m := reAsciiEscape.FindString("\\" + rest)
				i += len(m)
				n++
				continue
			}
		}
		i++
		n++
	}
	if isZ {
		n++
	}
	return n
}

var reWhitespace = regexp.MustCompile(`\s+`)

// ProcessLine analyzes one line of assembly text already known to be part
// of the GLOBAL_ASM body (directives, labels, instructions). Section
// tracking, alignment, and byte counting follow the same directive set the
// Python GlobalAsmBlock.process_line handles. The raw line (comments and
// all) is also recorded into asmConts/lateRodataAsmConts so the sidecar .s
// file can reproduce the original hand-written assembly verbatim.
func (b *Block) ProcessLine(rawLine string, lineNo int) error {
	rawLine = strings.TrimRight(rawLine, "\n")
	line := stripCommentsAndStrings(rawLine)
	trimmed := strings.TrimSpace(line)

	changedSection := false
	emittingDouble := false
	var err error

	switch {
	case trimmed == "":
		// blank line: still recorded below like the Python analyzer does.
	case strings.HasPrefix(trimmed, "."):
		changedSection, emittingDouble, err = b.processDirective(trimmed, lineNo)
	case strings.HasSuffix(trimmed, ":") && isBareLabel(strings.TrimSuffix(trimmed, ":")):
		label := strings.TrimSuffix(trimmed, ":")
		if b.curSection == SectionText {
			b.textGlabels = append(b.textGlabels, label)
		}
	case strings.HasPrefix(trimmed, "glabel ") || strings.HasPrefix(trimmed, "jlabel "):
		fields := reWhitespace.Split(trimmed, 2)
		if len(fields) > 1 {
			name := strings.TrimSpace(fields[1])
			if b.curSection == SectionText {
				b.textGlabels = append(b.textGlabels, name)
			}
		}
	default:
		if b.curSection != SectionText {
			err = asmerr.Newf(asmerr.AsmSyntax, "", lineNo, "instruction outside .text: %q", trimmed)
		} else {
			err = b.addSized(4, lineNo)
		}
	}

	if err != nil {
		return err
	}

	if b.curSection == SectionLateRodata {
		if !changedSection {
			if emittingDouble {
				b.lateRodataAsmConts = append(b.lateRodataAsmConts, ".align 0")
			}
			b.lateRodataAsmConts = append(b.lateRodataAsmConts, rawLine)
			if emittingDouble {
				b.lateRodataAsmConts = append(b.lateRodataAsmConts, ".align 2")
			}
		}
	} else {
		b.asmConts = append(b.asmConts, rawLine)
		b.asmContSections = append(b.asmContSections, b.curSection)
	}

	return nil
}

func isBareLabel(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '.' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

// processDirective handles one directive line. It reports whether the
// directive itself changed section/alignment state (in which case the raw
// line is not also recorded into the late-rodata asm stream, matching the
// Python analyzer's changed_section flag) and whether it emitted a .double,
// which must be wrapped in ".align 0"/".align 2" in the sidecar so the
// assembler doesn't insert its own padding around the 8-byte value.
func (b *Block) processDirective(trimmed string, lineNo int) (changedSection, emittingDouble bool, err error) {
	fields := reWhitespace.Split(trimmed, 2)
	directive := fields[0]
	var rest string
	if len(fields) > 1 {
		rest = strings.TrimSpace(fields[1])
	}

	switch directive {
	case ".section":
		return true, false, b.changeSection(rest, lineNo)
	case ".text":
		return true, false, b.changeSection(SectionText, lineNo)
	case ".data":
		return true, false, b.changeSection(SectionData, lineNo)
	case ".rdata", ".rodata":
		return true, false, b.changeSection(SectionRodata, lineNo)
	case ".bss":
		return true, false, b.changeSection(SectionBSS, lineNo)
	case ".late_rodata":
		return true, false, b.changeSection(SectionLateRodata, lineNo)

	case ".late_rodata_alignment":
		if b.curSection != SectionLateRodata {
			return false, false, asmerr.New(asmerr.AsmSyntax, "", lineNo, ".late_rodata_alignment must occur within .late_rodata")
		}
		n, convErr := strconv.Atoi(strings.TrimSpace(rest))
		if convErr != nil || (n != 4 && n != 8) {
			return false, false, asmerr.Newf(asmerr.AsmSyntax, "", lineNo, ".late_rodata_alignment must be 4 or 8, got %q", rest)
		}
		if b.lateRodataAlignment != 0 && b.lateRodataAlignment != n {
			return false, false, asmerr.New(asmerr.AsmSyntax, "", lineNo, ".late_rodata_alignment conflicts with an earlier .double directive")
		}
		b.lateRodataAlignment = n
		return true, false, nil

	case ".incbin":
		n, convErr := strconv.ParseInt(strings.TrimSpace(lastCommaField(rest)), 0, 64)
		if convErr != nil {
			return false, false, asmerr.Newf(asmerr.AsmSyntax, "", lineNo, "invalid .incbin size in %q", rest)
		}
		return false, false, b.addSized(int(n), lineNo)

	case ".word", ".gpword", ".float":
		b.align4()
		n := len(splitCommaArgs(rest))
		if n == 0 {
			n = 1
		}
		return false, false, b.addSized(4*n, lineNo)

	case ".double":
		b.align4()
		if b.curSection == SectionLateRodata {
			align8 := b.fnSectionSizes[b.curSection] % 8
			if b.lateRodataAlignment == 0 {
				b.lateRodataAlignment = 8 - align8
				b.lateRodataAlignmentFromData = true
			} else if b.lateRodataAlignment != 8-align8 {
				if b.lateRodataAlignmentFromData {
					return false, false, asmerr.New(asmerr.AsmSyntax, "", lineNo, "two .double directives disagree on alignment mod 8; add explicit padding")
				}
				return false, false, asmerr.New(asmerr.AsmSyntax, "", lineNo, ".double at an address that is not 0 mod 8 given .late_rodata_alignment")
			}
		}
		n := len(splitCommaArgs(rest))
		if n == 0 {
			n = 1
		}
		if err := b.addSized(8*n, lineNo); err != nil {
			return false, false, err
		}
		return false, true, nil

	case ".space":
		n, convErr := strconv.Atoi(strings.TrimSpace(rest))
		if convErr != nil {
			return false, false, asmerr.Newf(asmerr.AsmSyntax, "", lineNo, "invalid .space argument %q", rest)
		}
		return false, false, b.addSized(n, lineNo)

	case ".balign":
		if strings.TrimSpace(rest) != "4" {
			return false, false, asmerr.New(asmerr.AsmSyntax, "", lineNo, ".balign is only supported with alignment 4")
		}
		b.align4()
		return false, false, nil

	case ".align":
		if strings.TrimSpace(rest) != "2" {
			return false, false, asmerr.New(asmerr.AsmSyntax, "", lineNo, ".align is only supported with alignment 2 (4 bytes)")
		}
		b.align4()
		return false, false, nil

	case ".ascii", ".asciz":
		size := 0
		for _, lit := range reQuotedString.FindAllString(rest, -1) {
			size += countQuotedSize(lit[1:len(lit)-1], directive == ".asciz")
		}
		return false, false, b.addSized(size, lineNo)

	case ".byte":
		n := len(splitCommaArgs(rest))
		if n == 0 {
			n = 1
		}
		return false, false, b.addSized(n, lineNo)

	case ".half", ".hword", ".short":
		b.align2()
		n := len(splitCommaArgs(rest))
		if n == 0 {
			n = 1
		}
		return false, false, b.addSized(2*n, lineNo)

	case ".size":
		return false, false, nil

	default:
		return false, false, asmerr.Newf(asmerr.AsmSyntax, "", lineNo, "unrecognized directive %q", directive)
	}
}

func lastCommaField(s string) string {
	parts := strings.Split(s, ",")
	return parts[len(parts)-1]
}

func splitCommaArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (b *Block) changeSection(name string, lineNo int) error {
	switch name {
	case SectionText, SectionData, SectionRodata, SectionBSS, SectionLateRodata:
		b.curSection = name
		return nil
	default:
		return asmerr.Newf(asmerr.AsmSyntax, "", lineNo, "unsupported section %q", name)
	}
}

// jtblStatement renders the switch/case (or Pascal case-of) statement whose
// compiled jump table reserves remainingWords late-rodata words, cheaper
// than emitting remainingWords individual dummy float stores.
func jtblStatement(remainingWords int, pascal bool) string {
	cases := make([]string, remainingWords)
	if pascal {
		for c := range cases {
			cases[c] = fmt.Sprintf("%d: ;", c)
		}
		return "case 0 of " + strings.Join(cases, " ") + " otherwise end;"
	}
	for c := range cases {
		cases[c] = fmt.Sprintf("case %d:", c)
	}
	return "switch (*(volatile int*)0) { " + strings.Join(cases, " ") + " }"
}

func formatFloat32(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func formatFloat64(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// Finish closes out analysis of the block: computes the dummy late-rodata
// payload (or jump-table fallback), lays those fillers plus padding out
// across the block's .text instruction slots, and returns the Function
// record describing what stub C/Pascal code and sidecar asm to emit.
func (b *Block) Finish(st *GlobalState) (*Function, error) {
	if b.opts.Pascal {
		if b.fnSectionSizes[SectionRodata] > 0 || b.fnSectionSizes[SectionBSS] > 0 {
			return nil, asmerr.New(asmerr.AsmSyntax, "", 0, "Pascal doesn't support .rodata or .bss in "+b.fnDesc)
		}
	}

	lateRodataSize := b.fnSectionSizes[SectionLateRodata]
	words := lateRodataSize / 4
	instrCount := b.fnSectionSizes[SectionText] / 4

	var dummyBytes []byte
	jtblSize := 0
	var lateRodataFillers []string

	if lateRodataSize > 0 {
		jtblWordSize := 9
		if b.opts.Mips1 {
			jtblWordSize = 11
		}
		minRodataForJtbl := 5
		if b.opts.Pascal {
			minRodataForJtbl = 2
			if b.opts.Mips1 {
				jtblWordSize = 9
			} else {
				jtblWordSize = 8
			}
		}

		needsDouble := b.lateRodataAlignment != 0
		skipNext := false
		extraMips1Nop := false

		for i := 0; i < words; i++ {
			if skipNext {
				skipNext = false
				continue
			}

			if !needsDouble && st.UseJtblForRodata && words-i >= minRodataForJtbl &&
				instrCount-len(lateRodataFillers) >= jtblWordSize+1 {
				lateRodataFillers = append(lateRodataFillers, jtblStatement(words-i, b.opts.Pascal))
				for k := 0; k < jtblWordSize-1; k++ {
					lateRodataFillers = append(lateRodataFillers, "")
				}
				jtblSize = (words - i) * 4
				extraMips1Nop = i != 0
				break
			}

			b4 := st.NextLateRodataHex()
			dummyBytes = append(dummyBytes, b4[:]...)

			if needsDouble && i+1 < words {
				b4b := st.NextLateRodataHex()
				dummyBytes = append(dummyBytes, b4b[:]...)

				var combined [8]byte
				copy(combined[:4], b4[:])
				copy(combined[4:], b4b[:])
				dval := math.Float64frombits(binary.BigEndian.Uint64(combined[:]))

				var stmt string
				if b.opts.Pascal {
					stmt = st.PascalAssignment("d", formatFloat64(dval))
				} else {
					stmt = fmt.Sprintf("*(volatile double*)0 = %s;", formatFloat64(dval))
				}
				lateRodataFillers = append(lateRodataFillers, stmt, "", "")
				if b.opts.Mips1 {
					lateRodataFillers = append(lateRodataFillers, "", "")
				}
				skipNext = true
				needsDouble = false
				extraMips1Nop = false
			} else {
				fval := math.Float32frombits(binary.BigEndian.Uint32(b4[:]))
				var stmt string
				if b.opts.Pascal {
					stmt = st.PascalAssignment("f", formatFloat32(fval))
				} else {
					stmt = fmt.Sprintf("*(volatile float*)0 = %sf;", formatFloat32(fval))
				}
				lateRodataFillers = append(lateRodataFillers, stmt, "", "")
				extraMips1Nop = true
			}
		}
		if b.opts.Mips1 && extraMips1Nop {
			lateRodataFillers = append(lateRodataFillers, "")
		}
	}

	var fillerStmts []string
	var splitAt []int

	if instrCount > 0 || len(lateRodataFillers) > 0 {
		if instrCount < st.MinInstrCount {
			return nil, asmerr.New(asmerr.AsmSyntax, "", 0, "too short .text block in "+b.fnDesc)
		}

		rodataStack := make([]string, len(lateRodataFillers))
		copy(rodataStack, lateRodataFillers)
		reverseStrings(rodataStack)

		totSkipped := 0
		fnEmitted, fnSkipped := 0, 0
		skipping := true

		for k := 0; k < instrCount; k++ {
			if fnEmitted > maxFnSize && instrCount-k > st.MinInstrCount &&
				(len(rodataStack) == 0 || rodataStack[len(rodataStack)-1] != "") {
				fnEmitted = 0
				fnSkipped = 0
				skipping = true
				splitAt = append(splitAt, k)
			}

			extra := 0
			if len(rodataStack) > 0 && st.PreludeIfLateRodata {
				extra = 1
			}

			var stmt string
			if skipping && fnSkipped < st.SkipInstrCount+extra {
				fnSkipped++
				totSkipped++
				stmt = ""
			} else {
				skipping = false
				if len(rodataStack) > 0 {
					stmt = rodataStack[len(rodataStack)-1]
					rodataStack = rodataStack[:len(rodataStack)-1]
				} else if b.opts.Pascal {
					stmt = st.PascalAssignment("i", "0")
				} else {
					stmt = "*(volatile int*)0 = 0;"
				}
			}
			fnEmitted++
			fillerStmts = append(fillerStmts, stmt)
		}

		if len(rodataStack) > 0 {
			available := instrCount - totSkipped
			size := len(lateRodataFillers)
			return nil, asmerr.Newf(asmerr.AsmSizeMismatch, "", 0,
				"late rodata to text ratio too high in %s: %d/%d instructions remain unused; add a .late_rodata_alignment (4 or 8) directive",
				b.fnDesc, size, available)
		}
	}

	fn := &Function{
		TextGlabels:          b.textGlabels,
		AsmConts:             b.asmConts,
		AsmContSections:      b.asmContSections,
		LateRodataDummyBytes: dummyBytes,
		JtblRodataSize:       jtblSize,
		LateRodataAsmConts:   b.lateRodataAsmConts,
		FnDesc:               b.fnDesc,
		SectionSizes:         b.fnSectionSizes,
		TextFillerStmts:      fillerStmts,
		FuncSplitAt:          splitAt,
	}
	return fn, nil
}

// StubSource renders the C (or Pascal) stub declarations that reserve the
// byte counts Finish computed: one-or-more dummy functions for .text
// (split at FuncSplitAt so very large blocks don't land in one unwieldy
// function), a uint32_t array for .data/.rodata (a packed char array for
// Pascal .data), a char array for .bss,
// and — when the block produced dummy late-rodata bytes rather than a
// jump table — a uint32_t array reserving exactly that many bytes. As a
// side effect it records the generated symbol names onto fn so the
// post-process stage can look them up in the compiled object.
func (fn *Function) StubSource(st *GlobalState) string {
	var sb strings.Builder

	if fn.SectionSizes[SectionText] > 0 || len(fn.TextFillerStmts) > 0 {
		start := 0
		splits := append(append([]int{}, fn.FuncSplitAt...), len(fn.TextFillerStmts))
		for _, end := range splits {
			name := st.MakeName("func")
			fn.TextFuncNames = append(fn.TextFuncNames, name)
			sb.WriteString(st.FuncPrologue(name))
			sb.WriteByte('\n')
			for _, stmt := range fn.TextFillerStmts[start:end] {
				if stmt == "" {
					continue
				}
				sb.WriteString(stmt)
				sb.WriteByte('\n')
			}
			sb.WriteString(st.FuncEpilogue())
			sb.WriteByte('\n')
			start = end
		}
	}

	if size := fn.SectionSizes[SectionRodata]; size > 0 {
		fn.RodataName = st.MakeName("rodata")
		fmt.Fprintf(&sb, "static const uint32_t %s[%d] = {1};\n", fn.RodataName, (size+3)/4)
	}

	if size := fn.SectionSizes[SectionData]; size > 0 {
		fn.DataName = st.MakeName("data")
		if st.Pascal {
			fmt.Fprintf(&sb, "var %s: packed array[1..%d] of char := [otherwise: 0];\n", fn.DataName, size)
		} else {
			fmt.Fprintf(&sb, "static uint32_t %s[%d] = {1};\n", fn.DataName, (size+3)/4)
		}
	}

	if size := fn.SectionSizes[SectionBSS]; size > 0 {
		fn.BssName = st.MakeName("bss")
		fmt.Fprintf(&sb, "static char %s[%d];\n", fn.BssName, size)
	}

	if len(fn.LateRodataDummyBytes) > 0 {
		fn.LateRodataName = st.MakeName("late_rodata")
		fmt.Fprintf(&sb, "static const uint32_t %s[%d] = {1};\n", fn.LateRodataName, len(fn.LateRodataDummyBytes)/4)
	}

	return sb.String()
}
