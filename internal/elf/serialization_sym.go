package elf

import (
	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
)

const symbolEntrySize = 16

type symbolFields struct {
	NameOffset uint32
	Value      uint32
	Size       uint32
	Info       uint8
	Other      uint8
	ShIndex    uint16
}

// readSymbols parses the SHT_SYMTAB section's data into e.Symbols. It must
// run after section headers and shstrtab names are resolved, since symbol
// names are looked up in the linked strtab (SectionHeader.LinkSection).
func (e *Elf) readSymbols() error {
	if e.symtabIdx == 0 {
		// No symbol table: an input object with no defined or referenced
		// symbols at all. Leave e.Symbols nil.
		return nil
	}

	symtab := e.Sections[e.symtabIdx]
	if symtab.EntrySize != symbolEntrySize {
		return asmerr.New(asmerr.ParseElf, "", 0, "symbol table entry size is not 16 bytes")
	}
	strtab := symtab.LinkSection
	if strtab == nil {
		return asmerr.New(asmerr.ParseElf, "", 0, "symbol table has no linked string table")
	}

	count := len(symtab.Data) / symbolEntrySize
	e.Symbols = make([]*Symbol, 0, count)

	order := e.ByteOrder()
	for i := 0; i < count; i++ {
		entry := symtab.Data[i*symbolEntrySize : (i+1)*symbolEntrySize]
		var fh symbolFields
		fh.NameOffset = order.Uint32(entry[0:4])
		fh.Value = order.Uint32(entry[4:8])
		fh.Size = order.Uint32(entry[8:12])
		fh.Info = entry[12]
		fh.Other = entry[13]
		fh.ShIndex = order.Uint16(entry[14:16])

		if fh.ShIndex == SHN_XINDEX {
			return asmerr.New(asmerr.Unsupported, "", 0, "SHN_XINDEX symbol section index is not supported")
		}

		sym := &Symbol{
			nameOffset: fh.NameOffset,
			Value:      fh.Value,
			Size:       fh.Size,
			Binding:    SymbolBinding(fh.Info >> 4),
			Type:       SymbolType(fh.Info & 0xF),
			Visibility: SymbolVisibility(fh.Other & 0x3),
			Other:      fh.Other,
			SectionIdx: fh.ShIndex,
		}

		name, err := lookupString(strtab, fh.NameOffset)
		if err != nil {
			return err
		}
		sym.Name = name

		if fh.ShIndex != SHN_UNDEF && fh.ShIndex != SHN_ABS && fh.ShIndex != SHN_COMMON {
			if int(fh.ShIndex) >= len(e.Sections) {
				return asmerr.Newf(asmerr.ParseElf, "", 0, "symbol %q refers to out-of-range section %d", sym.Name, fh.ShIndex)
			}
			sym.Section = e.Sections[fh.ShIndex]
		}

		e.Symbols = append(e.Symbols, sym)
	}

	return nil
}

// encodeSymbols serializes e.Symbols (already sorted local-then-global by
// the caller) into a fresh .symtab data buffer, writing names into strtab
// as it goes.
func (e *Elf) encodeSymbols(strtab *SectionHeader) []byte {
	order := e.ByteOrder()
	buf := make([]byte, len(e.Symbols)*symbolEntrySize)

	for i, sym := range e.Symbols {
		nameOff := addString(strtab, sym.Name)

		var shIndex uint16
		switch {
		case sym.Section != nil:
			shIndex = uint16(sym.Section.Index)
		default:
			shIndex = sym.SectionIdx
		}

		info := uint8(sym.Binding)<<4 | uint8(sym.Type)&0xF
		other := uint8(sym.Visibility) & 0x3

		entry := buf[i*symbolEntrySize : (i+1)*symbolEntrySize]
		order.PutUint32(entry[0:4], nameOff)
		order.PutUint32(entry[4:8], sym.Value)
		order.PutUint32(entry[8:12], sym.Size)
		entry[12] = info
		entry[13] = other
		order.PutUint16(entry[14:16], shIndex)
	}

	return buf
}

func sizeSymbolEntry() int {
	return symbolEntrySize
}
