package elf

// FindSection returns the first section with the given name, or nil.
func (e *Elf) FindSection(name string) *SectionHeader {
	for _, sh := range e.Sections {
		if sh.Name == name {
			return sh
		}
	}
	return nil
}

// FindSymbol returns the first symbol with the given name, or nil.
func (e *Elf) FindSymbol(name string) *Symbol {
	for _, sym := range e.Symbols {
		if sym.Name == name {
			return sym
		}
	}
	return nil
}

// FindSymbolInSection returns the first symbol with the given name defined
// in the given section, or nil.
func (e *Elf) FindSymbolInSection(name string, section *SectionHeader) *Symbol {
	for _, sym := range e.Symbols {
		if sym.Name == name && sym.Section == section {
			return sym
		}
	}
	return nil
}

// AddSection appends a new section with the given name and data, returning
// it. The section's Index is assigned immediately, but Link/Info/RelTarget
// back-pointers are the caller's responsibility since AddSection doesn't
// know which kind of section it's creating.
func (e *Elf) AddSection(name string, shtype SectionHeaderType, flags SectionHeaderFlag, data []byte) *SectionHeader {
	sh := &SectionHeader{
		Name:  name,
		Type:  shtype,
		Flags: flags,
		Data:  data,
		Size:  uint32(len(data)),
		Index: len(e.Sections),
	}
	e.Sections = append(e.Sections, sh)
	return sh
}
