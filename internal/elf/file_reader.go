package elf

import (
	"io"

	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
)

// ReadELF parses a full ELF32 MIPS relocatable object file from r. It runs
// in passes, the way the teacher's reader does, because later passes
// depend on state only available once every earlier pass has completed:
// every section header and its data must be read before sections can be
// linked to each other by their sh_link/sh_info indices and before
// shstrtab names can be resolved, and both must finish before symbol and
// relocation parsing can look up the tables they depend on.
func ReadELF(r io.ReadSeeker) (*Elf, error) {
	e := &Elf{}

	if err := e.readHeader(r); err != nil {
		return nil, err
	}
	if err := e.readProgramHeaders(r); err != nil {
		return nil, err
	}
	if err := e.readSectionHeaders(r); err != nil {
		return nil, err
	}

	if err := e.linkSections(); err != nil {
		return nil, err
	}
	if err := e.resolveSectionNames(); err != nil {
		return nil, err
	}

	if err := e.readSymbols(); err != nil {
		return nil, err
	}
	if err := e.readRelocations(); err != nil {
		return nil, err
	}

	e.dropMetaSections()

	return e, nil
}

// linkSections resolves LinkSection/RelTarget back-pointers from the raw
// sh_link/sh_info indices now that every section header has been parsed.
func (e *Elf) linkSections() error {
	for _, sh := range e.Sections {
		if sh.Link != 0 || sh.Type == SHT_SYMTAB || sh.Type == SHT_DYNSYM || sh.Type == SHT_REL || sh.Type == SHT_RELA {
			if int(sh.Link) >= len(e.Sections) {
				return asmerr.Newf(asmerr.ParseElf, "", 0, "section %d has out-of-range sh_link %d", sh.Index, sh.Link)
			}
			sh.LinkSection = e.Sections[sh.Link]
		}
		if sh.Type.HasSectionInInfo() {
			if int(sh.Info) >= len(e.Sections) {
				return asmerr.Newf(asmerr.ParseElf, "", 0, "section %d has out-of-range sh_info %d", sh.Index, sh.Info)
			}
			sh.RelTarget = e.Sections[sh.Info]
		}
	}
	return nil
}

func (e *Elf) resolveSectionNames() error {
	if int(e.secHdrStrIdx) >= len(e.Sections) {
		return asmerr.New(asmerr.ParseElf, "", 0, "section header string table index out of range")
	}
	shstrtab := e.Sections[e.secHdrStrIdx]

	for _, sh := range e.Sections {
		name, err := lookupString(shstrtab, sh.nameOffset)
		if err != nil {
			return err
		}
		sh.Name = name
	}
	return nil
}

// dropMetaSections removes sections whose content has already been fully
// absorbed into typed fields (symbol table, string tables, relocation
// lists) so downstream code only ever sees the sections a human author of
// the input would recognize: .text, .data, .rodata, .bss, and so on. The
// writer regenerates fresh versions of the dropped sections from e.Symbols
// and e.Relocations.
func (e *Elf) dropMetaSections() {
	kept := e.Sections[:0]
	for _, sh := range e.Sections {
		switch sh.Type {
		case SHT_NULL, SHT_SYMTAB, SHT_STRTAB, SHT_REL, SHT_RELA:
			continue
		}
		kept = append(kept, sh)
	}
	for i, sh := range kept {
		sh.Index = i
	}
	e.Sections = kept
}
