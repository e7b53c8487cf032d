// Package preprocess implements the first phase of asm-processor: scanning
// a C source file for GLOBAL_ASM blocks, cutscene-data float literals, and
// INCLUDE_ASM/INCLUDE_RODATA markers, and rewriting the file into stub C
// plus a sidecar assembly file the post-process phase later splices back
// in.
package preprocess

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/marijnvdwerf/asm-processor/internal/asm"
	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
	"github.com/marijnvdwerf/asm-processor/internal/options"
	"github.com/marijnvdwerf/asm-processor/internal/state"
)

// maxIncludeDepth bounds the recursive #include "*.s" walk used to build
// the full dependency list. Includes nested deeper than this are not
// followed (no error is reported); a file that includes itself, directly
// or through a cycle, is already cut short by the seen-path set.
const maxIncludeDepth = 50

var (
	reGlobalAsmCall   = regexp.MustCompile(`^\s*GLOBAL_ASM\s*\(\s*"([^"]+)"\s*\)\s*;?\s*$`)
	rePragmaGlobalAsm = regexp.MustCompile(`^\s*#pragma\s+GLOBAL_ASM\s*\(?\s*"([^"]+)"\s*\)?\s*$`)
	reIncludeAsm      = regexp.MustCompile(`^\s*INCLUDE_ASM\s*\(\s*"([^"]+)"\s*,\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)\s*;?\s*$`)
	reIncludeRodata   = regexp.MustCompile(`^\s*INCLUDE_RODATA\s*\(\s*"([^"]+)"\s*,\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)\s*;?\s*$`)
	reInclude         = regexp.MustCompile(`^\s*#include\s+"([^"]+\.s)"\s*$`)
	reIfdef           = regexp.MustCompile(`^\s*#\s*(ifdef|ifndef|if)\b`)
	reElif            = regexp.MustCompile(`^\s*#\s*(elif|else)\b`)
	reEndif           = regexp.MustCompile(`^\s*#\s*endif\b`)

	reCutsceneFloat = regexp.MustCompile(`CUTSCENE_DATA\(([^)]*)\)`)
	reFloatLiteral  = regexp.MustCompile(`-?[0-9]+\.[0-9]+f?`)
)

// Result is the output of preprocessing one source file.
type Result struct {
	// StubSource is the rewritten C source: GLOBAL_ASM bodies replaced by
	// stub declarations that reserve the right number of bytes per section.
	StubSource string
	// AsmSource is the sidecar .s file content the assembler must process
	// alongside the user's own hand-written asm includes.
	AsmSource string
	// Dependencies lists files referenced via #include "*.s" or
	// INCLUDE_ASM/INCLUDE_RODATA, for build-system dependency output.
	Dependencies []string
	// Functions records one entry per GLOBAL_ASM block encountered, in
	// source order. The post-process stage does not read it: the stub names
	// it needs are already baked into AsmSource's marker labels.
	Functions []*asm.Function
}

// newState builds the GlobalState the way the original driver computes it
// from the optimization level and -framepointer: -O1/-O2 give the compiler
// room to reorder and dead-strip, so the analyzer must leave a couple of
// instructions of slack (min_instr_count) and, for -O2, skip a few more
// entirely (skip_instr_count) since GCC's scheduler can move code across
// the dummy asm's boundary. -framepointer adds one more slot to both, to
// account for the frame-pointer setup/teardown the compiler inserts.
func newState(opts *options.Options) *state.GlobalState {
	minInstrCount := 0
	skipInstrCount := 0
	if opts.Opt == options.OptO1 || opts.Opt == options.OptO2 {
		minInstrCount = 2
	}
	if opts.Opt == options.OptO2 {
		skipInstrCount = 4
	}
	if opts.FramePointer {
		minInstrCount++
		skipInstrCount++
	}

	useJtblForRodata := opts.Opt == options.OptO2
	preludeIfLateRodata := opts.Opt == options.OptO1 || opts.Opt == options.OptO2

	return state.New(minInstrCount, skipInstrCount, useJtblForRodata, preludeIfLateRodata, opts.Mips1, opts.Pascal)
}

// ProcessSource reads a C source file and produces its preprocessed stub
// form plus the sidecar assembly. Pascal mode, cutscene float encoding,
// and late-rodata jump-table usage are all driven by opts.
func ProcessSource(r io.Reader, filename string, opts *options.Options) (*Result, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	st := newState(opts)

	var stub strings.Builder
	var asmOut strings.Builder
	var lateRodataAsm []string
	var functions []*asm.Function
	var deps []string
	seenDeps := map[string]bool{filename: true}
	ifdefDepth := 0
	lineNo := 0

	asmOut.WriteString(".set noat\n.set noreorder\n")
	if opts.AsmPrelude != "" {
		prelude, err := os.ReadFile(opts.AsmPrelude)
		if err != nil {
			return nil, asmerr.Wrap(asmerr.IO, opts.AsmPrelude, 0, err)
		}
		asmOut.Write(prelude)
		if !strings.HasSuffix(string(prelude), "\n") {
			asmOut.WriteByte('\n')
		}
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		if reIfdef.MatchString(line) {
			ifdefDepth++
		} else if reEndif.MatchString(line) {
			if ifdefDepth == 0 {
				return nil, asmerr.New(asmerr.AsmSyntax, filename, lineNo, "unbalanced #endif")
			}
			ifdefDepth--
		}

		if m := reInclude.FindStringSubmatch(line); m != nil {
			if !seenDeps[m[1]] {
				seenDeps[m[1]] = true
				deps = append(deps, m[1])
				deps = append(deps, collectIncludeDeps(m[1], 1, seenDeps)...)
			}
			stub.WriteString(line)
			stub.WriteByte('\n')
			continue
		}

		if m := reIncludeAsm.FindStringSubmatch(line); m != nil {
			deps = append(deps, m[1]+"/"+m[2]+".s")
			fmt.Fprintf(&stub, "extern char %s[];\n", m[2])
			continue
		}
		if m := reIncludeRodata.FindStringSubmatch(line); m != nil {
			deps = append(deps, m[1]+"/"+m[2]+".s")
			fmt.Fprintf(&stub, "extern char %s[];\n", m[2])
			continue
		}

		var asmBody string
		var isGlobalAsm bool
		if m := reGlobalAsmCall.FindStringSubmatch(line); m != nil {
			asmBody = m[1]
			isGlobalAsm = true
		} else if m := rePragmaGlobalAsm.FindStringSubmatch(line); m != nil {
			asmBody = m[1]
			isGlobalAsm = true
		}

		if isGlobalAsm {
			fnDesc := fmt.Sprintf("%s:%d", filename, lineNo)
			block := asm.NewBlock(fnDesc, opts.Mips1, opts.Pascal)

			bodyLines := strings.Split(strings.ReplaceAll(asmBody, `\n`, "\n"), "\n")
			for i, bl := range bodyLines {
				if err := block.ProcessLine(bl, lineNo+i); err != nil {
					return nil, err
				}
			}

			fn, err := block.Finish(st)
			if err != nil {
				return nil, err
			}

			stub.WriteString(fn.StubSource(st))
			stub.WriteByte('\n')

			asmOut.WriteString(markedAsmContent(fn))
			if len(fn.LateRodataAsmConts) > 0 && fn.LateRodataName != "" {
				lateRodataAsm = append(lateRodataAsm, "glabel "+fn.LateRodataName+"_asm_start")
				lateRodataAsm = append(lateRodataAsm, fn.LateRodataAsmConts...)
				lateRodataAsm = append(lateRodataAsm, "glabel "+fn.LateRodataName+"_asm_end")
			}
			functions = append(functions, fn)
			continue
		}

		if opts.EncodeCutsceneDataFloats {
			line = encodeCutsceneFloats(line)
		}

		stub.WriteString(line)
		stub.WriteByte('\n')
	}

	if err := scanner.Err(); err != nil {
		return nil, asmerr.Wrap(asmerr.IO, filename, 0, err)
	}
	if ifdefDepth != 0 {
		return nil, asmerr.New(asmerr.AsmSyntax, filename, lineNo, "unbalanced #ifdef/#endif")
	}

	if len(lateRodataAsm) > 0 {
		asmOut.WriteString(".section .late_rodata\n")
		asmOut.WriteString(strings.Join(lateRodataAsm, "\n"))
		asmOut.WriteByte('\n')
	}

	return &Result{
		StubSource:   stub.String(),
		AsmSource:    asmOut.String(),
		Dependencies: deps,
		Functions:    functions,
	}, nil
}

// markedAsmContent re-splits one GLOBAL_ASM block's raw hand-written asm
// lines back out by section and wraps each .data/.rodata/.text run in a
// glabel NAME_asm_start/NAME_asm_end marker pair named after the stub
// symbol the compiler will have reserved for that section, so the
// post-process splice can find exactly where its real bytes belong.
// .bss content carries no real bytes (the stub's zero-fill reservation is
// enough) so it's emitted unwrapped, for assembler bookkeeping only.
func markedAsmContent(fn *asm.Function) string {
	var sb strings.Builder
	textIdx := 0

	flush := func(section string, lines []string) {
		if len(lines) == 0 {
			return
		}
		var name string
		switch section {
		case asm.SectionText:
			if textIdx < len(fn.TextFuncNames) {
				name = fn.TextFuncNames[textIdx]
			}
			textIdx++
		case asm.SectionData:
			name = fn.DataName
		case asm.SectionRodata:
			name = fn.RodataName
		}

		if name == "" {
			sb.WriteString(strings.Join(lines, "\n"))
			sb.WriteByte('\n')
			return
		}

		fmt.Fprintf(&sb, "glabel %s_asm_start\n", name)
		sb.WriteString(strings.Join(lines, "\n"))
		sb.WriteByte('\n')
		fmt.Fprintf(&sb, "glabel %s_asm_end\n", name)
	}

	var run []string
	curSection := ""
	for i, line := range fn.AsmConts {
		section := ""
		if i < len(fn.AsmContSections) {
			section = fn.AsmContSections[i]
		}
		if section != curSection {
			flush(curSection, run)
			run = nil
			curSection = section
		}
		run = append(run, line)
	}
	flush(curSection, run)

	return sb.String()
}

// collectIncludeDeps walks path's own #include "*.s" lines (and theirs, up
// to maxIncludeDepth) to build the full build-system dependency list. A
// file that can't be opened contributes no further dependencies: the
// assembler will report the missing include itself.
func collectIncludeDeps(path string, depth int, seen map[string]bool) []string {
	if depth > maxIncludeDepth {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}

	var deps []string
	for _, line := range strings.Split(string(data), "\n") {
		m := reInclude.FindStringSubmatch(line)
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		deps = append(deps, m[1])
		deps = append(deps, collectIncludeDeps(m[1], depth+1, seen)...)
	}
	return deps
}

// encodeCutsceneFloats rewrites CUTSCENE_DATA(...) argument lists, hex-
// encoding bare floating point literals the way --encode-cutscene-data-
// floats does, so cutscene tables can embed exact IEEE-754 bit patterns
// without relying on the C compiler's float constant folding.
func encodeCutsceneFloats(line string) string {
	return reCutsceneFloat.ReplaceAllStringFunc(line, func(m string) string {
		inner := reCutsceneFloat.FindStringSubmatch(m)[1]
		encoded := reFloatLiteral.ReplaceAllStringFunc(inner, encodeFloatLiteral)
		return "CUTSCENE_DATA(" + encoded + ")"
	})
}

func encodeFloatLiteral(lit string) string {
	s := strings.TrimSuffix(lit, "f")
	f, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return lit
	}
	bits := math.Float32bits(float32(f))
	return fmt.Sprintf("0x%08X", bits)
}
