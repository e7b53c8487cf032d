// Package fixup implements the post-process phase: splicing the bytes,
// symbols, and relocations of a separately assembled MIPS object file into
// the stub object file the C compiler produced, to yield one final valid
// ELF relocatable object.
package fixup

import (
	"strings"

	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
	goelf "github.com/marijnvdwerf/asm-processor/internal/elf"
	"github.com/marijnvdwerf/asm-processor/internal/options"
	"github.com/marijnvdwerf/asm-processor/internal/relocation"
	"github.com/samber/lo"
)

// splicedSections is the fixed section order the stub/asm symbol naming
// convention depends on: every generated stub and marker symbol names one
// of these four sections explicitly.
var splicedSections = []string{".data", ".text", ".rodata", ".bss"}

const tempNamePrefix = "_asmpp_"

func isTempName(name string) bool {
	return strings.HasPrefix(name, tempNamePrefix)
}

// Splice merges asmObj (the separately assembled sidecar object) into
// target (the compiler's stub object), consuming the _asmpp_* stub symbols
// target carries and replacing their reserved bytes with asmObj's real
// content. target is mutated in place and also returned for chaining.
func Splice(target, asmObj *goelf.Elf, opts *options.Options) (*goelf.Elf, error) {
	modifiedTextPositions, lateRodataPositions, err := spliceSectionData(target, asmObj)
	if err != nil {
		return nil, err
	}

	if err := mergeSymbols(target, asmObj, opts); err != nil {
		return nil, err
	}

	if err := mergeRelocations(target, asmObj, modifiedTextPositions, lateRodataPositions); err != nil {
		return nil, err
	}

	if opts.DropMdebugGptab {
		target.DropMdebugGptab()
	}

	unifySegments(target)

	return target, nil
}

// spliceSectionData walks the four tracked sections in a fixed order and,
// for each one, copies the bytes the assembler produced at the stub
// function's reserved offset, verified exact by a start/end glabel symbol
// pair the preprocessor emitted around the real content. It returns the
// set of byte offsets (per section) it overwrote, so relocations that used
// to target the now-discarded stub bytes can be dropped instead of
// remapped.
func spliceSectionData(target, asmObj *goelf.Elf) (modifiedText map[int]bool, lateRodata map[int]bool, err error) {
	modifiedText = make(map[int]bool)
	lateRodata = make(map[int]bool)

	for _, secName := range splicedSections {
		targetSec := target.FindSection(secName)
		if targetSec == nil || secName == ".bss" {
			continue
		}

		region := relocation.NewRegion[*SpliceRegion](0, uint64(len(targetSec.Data)), false)

		for _, sym := range target.Symbols {
			if !isTempName(sym.Name) || sym.Section != targetSec {
				continue
			}

			startSym := asmObj.FindSymbol(sym.Name + "_asm_start")
			endSym := asmObj.FindSymbol(sym.Name + "_asm_end")
			if startSym == nil || endSym == nil {
				continue
			}
			if startSym.Value != sym.Value {
				return nil, nil, asmerr.Newf(asmerr.SymbolLookup, "", 0,
					"stub symbol %q at offset %d does not match assembled start marker at %d",
					sym.Name, sym.Value, startSym.Value)
			}

			count := endSym.Value - startSym.Value
			asmData := startSym.Section.Data
			if int(startSym.Value+count) > len(asmData) {
				return nil, nil, asmerr.Newf(asmerr.AsmSizeMismatch, "", 0, "assembled region for %q runs past section end", sym.Name)
			}
			if err := claimSpliceRange(region, sym.Name, sym.Value, count); err != nil {
				return nil, nil, err
			}

			copy(targetSec.Data[sym.Value:sym.Value+count], asmData[startSym.Value:startSym.Value+count])

			for i := uint32(0); i < count; i++ {
				if secName == ".text" {
					modifiedText[int(sym.Value+i)] = true
				}
			}
		}

		if secName == ".rodata" {
			markLateRodata(target, asmObj, lateRodata)
		}
	}

	return modifiedText, lateRodata, nil
}

// lateRodataNamePrefix is the category MakeName("late_rodata") produces;
// every GLOBAL_ASM block that emitted dummy late-rodata bytes (rather than
// a jump table) gets its own such stub, so this walks all of them rather
// than assuming a single one per translation unit.
const lateRodataNamePrefix = tempNamePrefix + "late_rodata"

func markLateRodata(target, asmObj *goelf.Elf, lateRodata map[int]bool) {
	rodataSec := target.FindSection(".rodata")
	if rodataSec == nil {
		return
	}

	for _, dummy := range target.Symbols {
		if !strings.HasPrefix(dummy.Name, lateRodataNamePrefix) || dummy.Section != rodataSec {
			continue
		}

		startSym := asmObj.FindSymbol(dummy.Name + "_asm_start")
		endSym := asmObj.FindSymbol(dummy.Name + "_asm_end")
		if startSym == nil || endSym == nil {
			continue
		}

		count := endSym.Value - startSym.Value
		asmData := startSym.Section.Data
		if int(startSym.Value+count) <= len(asmData) && int(dummy.Value+count) <= len(rodataSec.Data) {
			copy(rodataSec.Data[dummy.Value:dummy.Value+count], asmData[startSym.Value:startSym.Value+count])
			for i := uint32(0); i < count; i++ {
				lateRodata[int(dummy.Value+i)] = true
			}
		}
	}
}

// mergeSymbols combines target's and asmObj's symbol tables into a single
// sorted, deduplicated list: _asmpp_* stub/marker symbols are dropped,
// .late_rodata symbols are remapped onto .rodata, glabel-exported names are
// promoted to STT_FUNC, duplicate definitions across the two files are an
// error unless they agree on (section, value), and STB_LOCAL symbols sort
// before STB_GLOBAL/WEAK ones, with _gp_disp placed after every other
// symbol of its own binding.
func mergeSymbols(target, asmObj *goelf.Elf, opts *options.Options) error {
	rodataSec := target.FindSection(".rodata")

	byName := make(map[string]*goelf.Symbol)
	var merged []*goelf.Symbol

	addOrCheck := func(sym *goelf.Symbol) error {
		if existing, ok := byName[sym.Name]; ok {
			sameSite := existing.Section == sym.Section && existing.Value == sym.Value
			if !sameSite {
				return asmerr.Newf(asmerr.SymbolLookup, "", 0, "symbol %q defined twice with different values", sym.Name)
			}
			return nil
		}
		byName[sym.Name] = sym
		merged = append(merged, sym)
		return nil
	}

	for _, sym := range target.Symbols {
		if isTempName(sym.Name) {
			continue
		}
		if err := addOrCheck(sym); err != nil {
			return err
		}
	}

	relocatedSections := relocatedSectionSet(target, asmObj)

	for _, sym := range asmObj.Symbols {
		if isTempName(sym.Name) {
			continue
		}
		if sym.Binding == goelf.STB_LOCAL && sym.Section != nil && !relocatedSections[sym.Section.Name] {
			continue
		}

		// A glabel-declared name is a NOTYPE label the assembler emits at
		// the start of hand-written asm; promote it to STT_FUNC so it
		// behaves like any other compiler-emitted function symbol.
		symType := sym.Type
		if sym.Section != nil && sym.Section.Name == ".text" && symType == goelf.STT_NOTYPE && sym.Binding != goelf.STB_LOCAL {
			symType = goelf.STT_FUNC
		}

		section := sym.Section
		if sym.Section != nil && sym.Section.Name == ".late_rodata" {
			section = rodataSec
		}

		merged2 := &goelf.Symbol{
			Name: sym.Name, Type: symType, Binding: sym.Binding,
			Visibility: sym.Visibility, Other: sym.Other,
			Value:   sym.Value,
			Size:    sym.Size,
			Section: section,
		}

		if err := addOrCheck(merged2); err != nil {
			return err
		}
	}

	applyConvertStatics(merged, opts)
	sortMergedSymbols(merged)
	target.Symbols = merged

	return nil
}

func sortMergedSymbols(syms []*goelf.Symbol) {
	localFirst := func(s *goelf.Symbol) int {
		if s.Binding != goelf.STB_LOCAL {
			return 1
		}
		return 0
	}
	gpDispLast := func(s *goelf.Symbol) int {
		if s.Name == "_gp_disp" {
			return 1
		}
		return 0
	}

	// Stable insertion sort keyed on (bound-last, gp_disp-last, name):
	// small tables, clarity over micro-optimization.
	for i := 1; i < len(syms); i++ {
		for j := i; j > 0; j-- {
			a, b := syms[j-1], syms[j]
			if lessSymbol(a, b, localFirst, gpDispLast) {
				break
			}
			syms[j-1], syms[j] = syms[j], syms[j-1]
		}
	}
}

func lessSymbol(a, b *goelf.Symbol, localFirst, gpDispLast func(*goelf.Symbol) int) bool {
	if la, lb := localFirst(a), localFirst(b); la != lb {
		return la < lb
	}
	if ga, gb := gpDispLast(a), gpDispLast(b); ga != gb {
		return ga < gb
	}
	return a.Name < b.Name
}

// relocatedSectionSet returns the set of section names that have at least
// one relocation against them in either object, used to decide which
// asm-file local symbols must be kept (a local symbol that nothing
// relocates against can be safely dropped as assembler-internal noise).
func relocatedSectionSet(target, asmObj *goelf.Elf) map[string]bool {
	set := make(map[string]bool)
	for sec := range target.Relocations {
		set[sec.Name] = true
	}
	for sec := range asmObj.Relocations {
		set[sec.Name] = true
	}
	return set
}

// applyConvertStatics promotes STB_LOCAL symbols per the --convert-statics
// mode: "no" leaves them alone, "local" leaves binding alone but is still a
// distinct mode for callers that rename on collision (not needed here since
// mergeSymbols already rejects name collisions across files), "global"
// promotes to STB_GLOBAL, and "global-with-filename" additionally mangles
// the name with the source filename to keep cross-translation-unit statics
// distinguishable after promotion.
func applyConvertStatics(syms []*goelf.Symbol, opts *options.Options) {
	if opts.ConvertStatics == options.ConvertStaticsNo {
		return
	}
	for _, sym := range syms {
		if sym.Binding != goelf.STB_LOCAL || (sym.Type != goelf.STT_OBJECT && sym.Type != goelf.STT_FUNC) {
			continue
		}
		switch opts.ConvertStatics {
		case options.ConvertStaticsGlobal:
			sym.Binding = goelf.STB_GLOBAL
		case options.ConvertStaticsGlobalWithFilename:
			sym.Binding = goelf.STB_GLOBAL
			sym.Name = mangleWithFilename(sym.Name, opts.Filename)
		}
	}
}

func mangleWithFilename(name, filename string) string {
	base := filename
	if idx := strings.LastIndexByte(base, '/'); idx >= 0 {
		base = base[idx+1:]
	}
	if idx := strings.LastIndexByte(base, '.'); idx >= 0 {
		base = base[:idx]
	}
	var sb strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			sb.WriteRune(r)
		} else {
			sb.WriteByte('_')
		}
	}
	return name + "$" + sb.String()
}

// mergeRelocations drops relocations that targeted bytes the splice just
// overwrote (modifiedText/lateRodata), then translates every relocation
// from asmObj onto the merged symbol table and appends it to the matching
// output relocation section, creating that section if target didn't
// already have one.
func mergeRelocations(target, asmObj *goelf.Elf, modifiedText, lateRodata map[int]bool) error {
	for sec, relocs := range target.Relocations {
		if sec.Name != ".text" && sec.Name != ".rodata" {
			continue
		}
		target.Relocations[sec] = lo.Filter(relocs, func(r *goelf.Relocation, _ int) bool {
			switch sec.Name {
			case ".text":
				return !modifiedText[int(r.Offset)]
			case ".rodata":
				return !lateRodata[int(r.Offset)]
			default:
				return true
			}
		})
	}

	asmSymIndex := make(map[*goelf.Symbol]*goelf.Symbol)
	for _, sym := range asmObj.Symbols {
		asmSymIndex[sym] = findMergedEquivalent(target, sym)
	}

	for _, secName := range splicedSections {
		asmSec := asmObj.FindSection(secName)
		if asmSec == nil {
			continue
		}
		asmRelocs := asmObj.Relocations[asmSec]
		if len(asmRelocs) == 0 {
			continue
		}

		targetSec := target.FindSection(secName)
		if targetSec == nil {
			return asmerr.Newf(asmerr.SymbolLookup, "", 0, "relocations reference section %q with no target counterpart", secName)
		}

		for _, r := range asmRelocs {
			newSym := asmSymIndex[r.Symbol]
			if newSym == nil {
				return asmerr.Newf(asmerr.SymbolLookup, "", 0, "relocation in %q references unmapped symbol %q", secName, r.Symbol.Name)
			}
			target.Relocations[targetSec] = append(target.Relocations[targetSec], &goelf.Relocation{
				Offset:    r.Offset,
				Symbol:    newSym,
				Type:      r.Type,
				Addend:    r.Addend,
				HasAddend: r.HasAddend,
			})
		}
	}

	return nil
}

func findMergedEquivalent(target *goelf.Elf, sym *goelf.Symbol) *goelf.Symbol {
	if sym.Section != nil && sym.Section.Name == ".late_rodata" {
		rodataSym := target.FindSymbolInSection(sym.Name, target.FindSection(".rodata"))
		if rodataSym != nil {
			return rodataSym
		}
	}
	return target.FindSymbol(sym.Name)
}

// unifySegments makes every SHF_ALLOC section's address contiguous with
// the previous one, ordered (.text-like, .data-like, everything else),
// closing any gap the splice's differing section sizes introduced. This
// mirrors the legacy fixup_objfile's "unify segments" pass.
func unifySegments(target *goelf.Elf) {
	var alloc []*goelf.SectionHeader
	for _, sh := range target.Sections {
		if sh.Flags&goelf.SHF_ALLOC != 0 {
			alloc = append(alloc, sh)
		}
	}

	// Stable sort: executable sections first, then writable sections
	// (data, bss), then everything else (rodata), preserving relative
	// order within each bucket.
	sorted := make([]*goelf.SectionHeader, 0, len(alloc))
	bucket := func(sh *goelf.SectionHeader) int {
		switch {
		case sh.Flags&goelf.SHF_EXECINSTR != 0:
			return 0
		case sh.Flags&goelf.SHF_WRITE != 0:
			return 1
		default:
			return 2
		}
	}
	for b := 0; b < 3; b++ {
		for _, sh := range alloc {
			if bucket(sh) == b {
				sorted = append(sorted, sh)
			}
		}
	}

	var addr uint32
	for i, sh := range sorted {
		if i == 0 {
			addr = sh.Address
		}
		sh.Address = addr
		addr = sh.Address + sh.Size
		if sh.AddrAlign > 1 && addr%sh.AddrAlign != 0 {
			addr += sh.AddrAlign - addr%sh.AddrAlign
		}
	}
}
