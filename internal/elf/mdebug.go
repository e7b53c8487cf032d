package elf

import "strings"

// DropMdebugGptab removes every SHT_MIPS_DEBUG and SHT_MIPS_GPTAB section
// and every section whose name contains ".gptab." (IDO emits some gptab
// sections under other types, so the original tool matches on name as a
// belt-and-braces check alongside the type match). Relocations targeting a
// dropped section are dropped with it, surviving sections' LinkSection/
// RelTarget pointers to a dropped section are cleared, and symbols defined
// in a dropped section become SHN_UNDEF. The raw Link/Info numbers of the
// surviving sections are not rewritten.
func (e *Elf) DropMdebugGptab() {
	keep := make([]*SectionHeader, 0, len(e.Sections))
	dropped := make(map[*SectionHeader]bool)

	for _, sh := range e.Sections {
		if sh.Type == SHT_MIPS_DEBUG || sh.Type == SHT_MIPS_GPTAB || strings.Contains(sh.Name, ".gptab.") {
			dropped[sh] = true
			continue
		}
		keep = append(keep, sh)
	}

	if len(dropped) == 0 {
		return
	}

	for i, sh := range keep {
		sh.Index = i
	}
	e.Sections = keep

	for sh := range e.Relocations {
		if dropped[sh] {
			delete(e.Relocations, sh)
		}
	}

	for _, sh := range e.Sections {
		if sh.LinkSection != nil && dropped[sh.LinkSection] {
			sh.LinkSection = nil
		}
		if sh.RelTarget != nil && dropped[sh.RelTarget] {
			sh.RelTarget = nil
		}
	}

	for _, sym := range e.Symbols {
		if sym.Section != nil && dropped[sym.Section] {
			sym.Section = nil
			sym.SectionIdx = SHN_UNDEF
		}
	}
}
