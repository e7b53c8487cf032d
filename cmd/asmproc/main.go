// Command asmproc implements both phases of the asm-processor toolchain:
// preprocessing C sources containing GLOBAL_ASM blocks into stub C plus a
// sidecar assembly file, and post-processing a compiled object file by
// splicing the separately assembled MIPS object back into it.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
	goelf "github.com/marijnvdwerf/asm-processor/internal/elf"
	"github.com/marijnvdwerf/asm-processor/internal/fixup"
	"github.com/marijnvdwerf/asm-processor/internal/options"
	"github.com/marijnvdwerf/asm-processor/internal/preprocess"
)

func main() {
	logger := log.New(os.Stderr, "asmproc: ", 0)

	if err := run(os.Args[1:], logger); err != nil {
		logger.Println(err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps any failure, whatever its asmerr.Kind, to exit status 1.
func exitCodeFor(err error) int {
	return 1
}

func run(args []string, logger *log.Logger) error {
	fs := flag.NewFlagSet("asmproc", flag.ContinueOnError)

	var (
		postProcess              string
		outputDependencies       string
		assembler                string
		asmPrelude               string
		inputEnc                 string
		outputEnc                string
		dropMdebugGptab          bool
		convertStatics           string
		force                    bool
		encodeCutsceneDataFloats bool
		framePointer             bool
		mips1                    bool
		o0, o1, o2, g            bool
		g3                       bool
		kpic                     bool
	)

	fs.StringVar(&postProcess, "post-process", "", "object file to splice the assembled sidecar into (post-process mode)")
	fs.StringVar(&outputDependencies, "output-dependencies", "", "write a Makefile dependency rule for the input's #include/INCLUDE_ASM files to this path")
	fs.StringVar(&assembler, "assembler", "", "assembler command to invoke in post-process mode")
	fs.StringVar(&asmPrelude, "asm-prelude", "", "path to a prelude file prepended to the generated sidecar assembly")
	fs.StringVar(&inputEnc, "input-enc", "latin1", "input file text encoding")
	fs.StringVar(&outputEnc, "output-enc", "latin1", "output file text encoding")
	fs.BoolVar(&dropMdebugGptab, "drop-mdebug-gptab", false, "drop .mdebug and .gptab sections from the output object")
	fs.StringVar(&convertStatics, "convert-statics", "local", "static symbol handling: no, local, global, global-with-filename")
	fs.BoolVar(&force, "force", false, "splice even if the compiled object carries no _asmpp_* stub symbols at all")
	fs.BoolVar(&encodeCutsceneDataFloats, "encode-cutscene-data-floats", false, "hex-encode float literals inside CUTSCENE_DATA(...)")
	fs.BoolVar(&framePointer, "framepointer", false, "compiler was invoked with -framepointer")
	fs.BoolVar(&mips1, "mips1", false, "target MIPS I instead of MIPS II")
	fs.BoolVar(&o0, "O0", false, "compiler was invoked with -O0")
	fs.BoolVar(&o1, "O1", false, "compiler was invoked with -O1")
	fs.BoolVar(&o2, "O2", false, "compiler was invoked with -O2")
	fs.BoolVar(&g, "g", false, "compiler was invoked with -g")
	fs.BoolVar(&g3, "g3", false, "compiler was invoked with -g3 (requires -O2)")
	fs.BoolVar(&kpic, "KPIC", false, "compiler was invoked with -KPIC")

	if err := fs.Parse(args); err != nil {
		return asmerr.Wrap(asmerr.ConfigError, "", 0, err)
	}

	rest := fs.Args()
	if len(rest) != 1 {
		return asmerr.New(asmerr.ConfigError, "", 0, "expected exactly one filename argument")
	}
	filename := rest[0]

	statics, err := options.ParseConvertStatics(convertStatics)
	if err != nil {
		return err
	}

	// -O0/-O1/-O2/-g form a mutually exclusive, required group, mirroring
	// the original driver's argparse mutually_exclusive_group(required=True).
	optCount := 0
	for _, set := range []bool{o0, o1, o2, g} {
		if set {
			optCount++
		}
	}
	if optCount != 1 {
		return asmerr.New(asmerr.ConfigError, "", 0, "exactly one of -O0, -O1, -O2, -g is required")
	}

	var opt options.OptLevel
	switch {
	case o0:
		opt = options.OptO0
	case o1:
		opt = options.OptO1
	case o2:
		opt = options.OptO2
	case g:
		opt = options.OptG
	}

	if g3 {
		if opt != options.OptO2 {
			return asmerr.New(asmerr.ConfigError, "", 0, "-g3 is only supported together with -O2")
		}
		opt = options.OptG3
	}

	opts := &options.Options{
		Filename:                 filename,
		PostProcess:              postProcess,
		Assembler:                assembler,
		AsmPrelude:               asmPrelude,
		InputEncoding:            inputEnc,
		OutputEncoding:           outputEnc,
		DropMdebugGptab:          dropMdebugGptab,
		ConvertStatics:           statics,
		Force:                    force,
		EncodeCutsceneDataFloats: encodeCutsceneDataFloats,
		FramePointer:             framePointer,
		Mips1:                    mips1,
		KPIC:                     kpic,
		Opt:                      opt,
		Pascal:                   options.IsPascalSource(filename),
	}

	if err := opts.Validate(); err != nil {
		return err
	}

	if opts.PostProcess == "" {
		return runPreprocess(opts, outputDependencies, logger)
	}
	return runPostProcess(opts, logger)
}

func runPreprocess(opts *options.Options, outputDependencies string, logger *log.Logger) error {
	in, err := os.Open(opts.Filename)
	if err != nil {
		return asmerr.Wrap(asmerr.IO, opts.Filename, 0, err)
	}
	defer in.Close()

	result, err := preprocess.ProcessSource(in, opts.Filename, opts)
	if err != nil {
		return err
	}

	if err := writeAtomic(opts.Filename, []byte(result.StubSource)); err != nil {
		return err
	}

	asmPath := strings.TrimSuffix(opts.Filename, filepath.Ext(opts.Filename)) + ".s"
	if err := writeAtomic(asmPath, []byte(result.AsmSource)); err != nil {
		return err
	}

	logger.Printf("preprocessed %s (%d dependencies)", opts.Filename, len(result.Dependencies))

	if outputDependencies != "" {
		if err := writeAtomic(outputDependencies, []byte(dependencyRule(opts.Filename, result.Dependencies))); err != nil {
			return err
		}
	}
	return nil
}

// dependencyRule formats target's included .s/INCLUDE_ASM/INCLUDE_RODATA
// files as a single Makefile rule, the way --output-dependencies in the
// original driver lets a build system notice a hand-written asm file
// changed even though the stub C source didn't.
func dependencyRule(target string, deps []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:", target)
	for _, d := range deps {
		fmt.Fprintf(&sb, " \\\n    %s", d)
	}
	sb.WriteByte('\n')
	return sb.String()
}

func runPostProcess(opts *options.Options, logger *log.Logger) error {
	objIn, err := os.Open(opts.PostProcess)
	if err != nil {
		return asmerr.Wrap(asmerr.IO, opts.PostProcess, 0, err)
	}
	target, err := goelf.ReadELF(objIn)
	objIn.Close()
	if err != nil {
		return err
	}

	if !opts.Force && !hasStubSymbols(target) {
		logger.Printf("%s carries no _asmpp_* stub symbols, nothing to splice", opts.PostProcess)
		return nil
	}

	asmPath := strings.TrimSuffix(opts.Filename, filepath.Ext(opts.Filename)) + ".s"
	asmObjPath := strings.TrimSuffix(opts.Filename, filepath.Ext(opts.Filename)) + ".o"
	if err := assemble(opts.Assembler, asmPath, asmObjPath); err != nil {
		return err
	}

	asmIn, err := os.Open(asmObjPath)
	if err != nil {
		return asmerr.Wrap(asmerr.IO, asmObjPath, 0, err)
	}
	asmObj, err := goelf.ReadELF(asmIn)
	asmIn.Close()
	if err != nil {
		return err
	}

	spliced, err := fixup.Splice(target, asmObj, opts)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := spliced.Write(&buf); err != nil {
		return err
	}

	if err := writeAtomic(opts.PostProcess, buf.Bytes()); err != nil {
		return err
	}

	logger.Printf("spliced %s into %s", asmObjPath, opts.PostProcess)
	return nil
}

// hasStubSymbols reports whether target carries any _asmpp_* stub symbol,
// i.e. whether preprocess actually found a GLOBAL_ASM block in this
// translation unit. Without -force, an object with none is left untouched
// rather than run through a splice that would have nothing to do.
func hasStubSymbols(target *goelf.Elf) bool {
	for _, sym := range target.Symbols {
		if strings.HasPrefix(sym.Name, "_asmpp_") {
			return true
		}
	}
	return false
}

// assemble invokes the configured assembler on the sidecar .s file
// preprocess already wrote, producing the MIPS object fixup.Splice later
// reads back in. The original driver shells out to the same assembler the
// C compiler itself uses, so its conventional -o output flag is assumed.
func assemble(assembler, asmPath, asmObjPath string) error {
	if assembler == "" {
		return asmerr.New(asmerr.ConfigError, "", 0, "-assembler is required in post-process mode")
	}

	fields := strings.Fields(assembler)
	cmdArgs := append(append([]string{}, fields[1:]...), asmPath, "-o", asmObjPath)
	cmd := exec.Command(fields[0], cmdArgs...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return asmerr.Wrap(asmerr.IO, asmPath, 0, fmt.Errorf("%s: %w: %s", assembler, err, stderr.String()))
	}
	return nil
}

// writeAtomic writes data to a temp file in the same directory as path and
// renames it into place, so a crash or interrupted run never leaves a
// truncated or partially written output file behind.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return asmerr.Wrap(asmerr.IO, path, 0, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return asmerr.Wrap(asmerr.IO, path, 0, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return asmerr.Wrap(asmerr.IO, path, 0, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return asmerr.Wrap(asmerr.IO, path, 0, err)
	}
	return nil
}
