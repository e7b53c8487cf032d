package elf

import (
	"encoding/binary"

	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
)

const relEntrySize = 8
const relaEntrySize = 12

// readRelocations parses every SHT_REL/SHT_RELA section's data into
// e.Relocations, keyed by the section header the relocations apply to
// (resolved via RelTarget during late-init). Must run after symbols are
// parsed, since each entry resolves a *Symbol.
func (e *Elf) readRelocations() error {
	e.Relocations = make(map[*SectionHeader][]*Relocation)
	order := e.ByteOrder()

	for _, sh := range e.Sections {
		if sh.Type != SHT_REL && sh.Type != SHT_RELA {
			continue
		}
		target := sh.RelTarget
		if target == nil {
			return asmerr.Newf(asmerr.ParseElf, "", 0, "relocation section %q has no target section", sh.Name)
		}

		hasAddend := sh.Type == SHT_RELA
		entrySize := relEntrySize
		if hasAddend {
			entrySize = relaEntrySize
		}
		if sh.EntrySize != 0 && int(sh.EntrySize) != entrySize {
			return asmerr.Newf(asmerr.ParseElf, "", 0, "relocation section %q has unexpected entry size %d", sh.Name, sh.EntrySize)
		}

		count := len(sh.Data) / entrySize
		relocs := make([]*Relocation, 0, count)

		for i := 0; i < count; i++ {
			entry := sh.Data[i*entrySize : (i+1)*entrySize]
			offset := order.Uint32(entry[0:4])
			info := order.Uint32(entry[4:8])
			symIndex := int(info >> 8)
			relType := info & 0xFF

			var addend int32
			if hasAddend {
				addend = int32(order.Uint32(entry[8:12]))
			}

			if symIndex >= len(e.Symbols) {
				return asmerr.Newf(asmerr.ParseElf, "", 0, "relocation in %q refers to out-of-range symbol %d", sh.Name, symIndex)
			}

			relocs = append(relocs, &Relocation{
				Offset:    offset,
				SymIndex:  symIndex,
				Symbol:    e.Symbols[symIndex],
				Type:      relType,
				Addend:    addend,
				HasAddend: hasAddend,
			})
		}

		e.Relocations[target] = relocs
	}

	return nil
}

// encodeRelocations serializes one section's relocation list into REL or
// RELA wire format, choosing RELA only if at least one entry carries a
// nonzero addend (mirroring the teacher writer's choice of representation).
func encodeRelocations(order binary.ByteOrder, relocs []*Relocation, symIndexOf func(*Relocation) int) (data []byte, isRela bool) {
	for _, rel := range relocs {
		if rel.HasAddend && rel.Addend != 0 {
			isRela = true
			break
		}
	}

	entrySize := relEntrySize
	if isRela {
		entrySize = relaEntrySize
	}

	data = make([]byte, len(relocs)*entrySize)
	for i, rel := range relocs {
		entry := data[i*entrySize : (i+1)*entrySize]
		order.PutUint32(entry[0:4], rel.Offset)
		info := uint32(symIndexOf(rel))<<8 | (rel.Type & 0xFF)
		order.PutUint32(entry[4:8], info)
		if isRela {
			order.PutUint32(entry[8:12], uint32(rel.Addend))
		}
	}

	return data, isRela
}
