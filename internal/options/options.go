// Package options holds the resolved command-line configuration shared by
// the preprocess and fixup stages, along with the validation rules the
// original asm_processor.py argparse setup enforces.
package options

import "github.com/marijnvdwerf/asm-processor/internal/asmerr"

// ConvertStatics selects how static (file-local) symbols are promoted in
// the spliced output object.
type ConvertStatics int

const (
	// ConvertStaticsNo leaves static symbols local; they stay invisible
	// outside the translation unit, same as plain compilation.
	ConvertStaticsNo ConvertStatics = iota
	// ConvertStaticsLocal keeps statics STB_LOCAL under their original
	// names; the splice treats it the same as ConvertStaticsNo.
	ConvertStaticsLocal
	// ConvertStaticsGlobal promotes statics to STB_GLOBAL so a debugger or
	// linker map can see them by their original name.
	ConvertStaticsGlobal
	// ConvertStaticsGlobalWithFilename is like Global but mangles the name
	// with the source filename to avoid collisions across translation
	// units that each declare a static of the same name.
	ConvertStaticsGlobalWithFilename
)

func ParseConvertStatics(s string) (ConvertStatics, error) {
	switch s {
	case "no":
		return ConvertStaticsNo, nil
	case "local":
		return ConvertStaticsLocal, nil
	case "global":
		return ConvertStaticsGlobal, nil
	case "global-with-filename":
		return ConvertStaticsGlobalWithFilename, nil
	default:
		return 0, asmerr.Newf(asmerr.ConfigError, "", 0, "invalid --convert-statics value %q", s)
	}
}

// OptLevel mirrors the compiler optimization flags the original C toolchain
// cared about, since late-rodata layout and pascal-mode validity both
// depend on which one was passed.
type OptLevel int

const (
	OptO0 OptLevel = iota
	OptO1
	OptO2
	OptG
	OptG3
)

// Options is the fully validated configuration for one invocation of
// either processing phase.
type Options struct {
	Filename string

	// Post-process mode.
	PostProcess string // object file to splice into; empty means pre-process mode.
	Assembler   string
	AsmPrelude  string

	InputEncoding  string
	OutputEncoding string

	DropMdebugGptab bool
	ConvertStatics  ConvertStatics
	Force           bool

	EncodeCutsceneDataFloats bool

	FramePointer bool
	Mips1        bool
	KPIC         bool
	Opt          OptLevel
	Pascal       bool
}

// Validate enforces the same constraints asm_processor.py's argparse setup
// does: -mips1 is incompatible with -framepointer and only valid alongside
// -O1/-O2, and Pascal sources require O1, O2, or g3. It does not re-check
// that -g3 requires -O2: that combination is folded into OptG3 by the CLI
// flag parser before Options is ever built, so by the time Validate runs
// OptG3 already implies it.
func (o *Options) Validate() error {
	if o.Mips1 {
		if o.FramePointer {
			return asmerr.New(asmerr.ConfigError, o.Filename, 0, "-mips1 is incompatible with -framepointer")
		}
		if o.Opt != OptO1 && o.Opt != OptO2 {
			return asmerr.New(asmerr.ConfigError, o.Filename, 0, "-mips1 requires -O1 or -O2")
		}
	}

	if o.Pascal {
		if o.Opt != OptO1 && o.Opt != OptO2 && o.Opt != OptG3 {
			return asmerr.New(asmerr.ConfigError, o.Filename, 0, "pascal input requires -O1, -O2, or -g3")
		}
	}

	if o.InputEncoding == "" {
		o.InputEncoding = "latin1"
	}
	if o.OutputEncoding == "" {
		o.OutputEncoding = "latin1"
	}

	return nil
}

// IsPascalSource reports whether filename's extension marks it as Pascal
// source, the same three extensions the original driver recognizes.
func IsPascalSource(filename string) bool {
	for _, ext := range []string{".p", ".pas", ".pp"} {
		if len(filename) >= len(ext) && filename[len(filename)-len(ext):] == ext {
			return true
		}
	}
	return false
}
