package elf

import (
	"encoding/binary"
	"io"
	"sort"
)

const alignUp4 = 4

func alignTo(n, align uint32) uint32 {
	if align == 0 {
		return n
	}
	if rem := n % align; rem != 0 {
		n += align - rem
	}
	return n
}

// Write serializes e back to ELF32 MIPS object bytes. It rebuilds
// .shstrtab, .strtab, .symtab, and one relocation section per entry in
// e.Relocations from scratch, the way the teacher's writer does, rather
// than trying to patch the original sections in place: every field that
// feeds those tables (symbol list, relocation list, section list) may have
// been mutated by the fixup stage since the file was read.
func (e *Elf) Write(w io.Writer) error {
	e.sortSymbolsLocalFirst()

	shstrtab := newStringTable(".shstrtab")
	strtab := newStringTable(".strtab")

	symtab := &SectionHeader{
		Name:      ".symtab",
		Type:      SHT_SYMTAB,
		EntrySize: symbolEntrySize,
		AddrAlign: 4,
	}

	localCount := 0
	for _, sym := range e.Symbols {
		if sym.Binding == STB_LOCAL {
			localCount++
		}
	}
	symtab.Info = uint32(localCount)

	order := e.ByteOrder()

	allSections := make([]*SectionHeader, 0, len(e.Sections))
	for _, sh := range e.Sections {
		if sh.Type == SHT_NULL {
			continue
		}
		allSections = append(allSections, sh)
	}

	symIndex := make(map[*Symbol]int, len(e.Symbols))
	for i, sym := range e.Symbols {
		symIndex[sym] = i
	}

	// Section order in the output: index 0 is the mandatory null section,
	// then original sections (indices must stay stable since
	// Symbol.Section and Relocation target pointers reference them), then
	// the rebuilt meta sections.
	sectionIndex := make(map[*SectionHeader]int, len(allSections)+8)
	for i, sh := range allSections {
		sh.Index = i + 1
		sectionIndex[sh] = sh.Index
	}

	relSections := e.buildRelocationSections(order, sectionIndex, symIndex)

	metaSections := append([]*SectionHeader{symtab, strtab}, relSections...)
	metaSections = append(metaSections, shstrtab)
	for i, sh := range metaSections {
		sh.Index = len(allSections) + 1 + i
		sectionIndex[sh] = sh.Index
	}

	symtab.Link = uint32(sectionIndex[strtab])
	for _, rs := range relSections {
		rs.Link = uint32(sectionIndex[symtab])
	}

	symtab.Data = e.encodeSymbols(strtab)
	symtab.Size = uint32(len(symtab.Data))
	seal(strtab)

	allOut := append(append([]*SectionHeader{}, allSections...), metaSections...)

	for _, sh := range allOut {
		addString(shstrtab, sh.Name)
	}
	seal(shstrtab)
	e.secHdrStrIdx = uint16(sectionIndex[shstrtab])

	// Index 0 is the mandatory all-zero null section header.
	nullSection := &SectionHeader{Type: SHT_NULL}
	headerList := append([]*SectionHeader{nullSection}, allOut...)

	return e.layoutAndWrite(w, order, headerList)
}

// sortSymbolsLocalFirst reorders e.Symbols so all STB_LOCAL symbols sort
// before any global/weak symbol, each group ordered by name, matching the
// gABI requirement that sh_info (the one-past-last-local index) partition
// the table cleanly.
func (e *Elf) sortSymbolsLocalFirst() {
	sort.SliceStable(e.Symbols, func(i, j int) bool {
		a, b := e.Symbols[i], e.Symbols[j]
		aLocal := a.Binding == STB_LOCAL
		bLocal := b.Binding == STB_LOCAL
		if aLocal != bLocal {
			return aLocal
		}
		return a.Name < b.Name
	})
}

func (e *Elf) buildRelocationSections(order binary.ByteOrder, sectionIndex map[*SectionHeader]int, symIndex map[*Symbol]int) []*SectionHeader {
	targets := make([]*SectionHeader, 0, len(e.Relocations))
	for target := range e.Relocations {
		targets = append(targets, target)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Name < targets[j].Name })

	out := make([]*SectionHeader, 0, len(targets))
	for _, target := range targets {
		relocs := e.Relocations[target]
		data, isRela := encodeRelocations(order, relocs, func(r *Relocation) int { return symIndex[r.Symbol] })

		prefix := ".rel"
		shtype := SHT_REL
		entrySize := uint32(relEntrySize)
		if isRela {
			prefix = ".rela"
			shtype = SHT_RELA
			entrySize = relaEntrySize
		}

		rs := &SectionHeader{
			Name:      prefix + target.Name,
			Type:      shtype,
			EntrySize: entrySize,
			AddrAlign: 4,
			Data:      data,
			Size:      uint32(len(data)),
		}
		rs.Info = uint32(sectionIndex[target])
		rs.RelTarget = target
		out = append(out, rs)
	}
	return out
}
