package elf

import "github.com/marijnvdwerf/asm-processor/internal/asmerr"

// lookupString reads a NUL-terminated string out of a SHT_STRTAB section's
// data at the given byte offset.
func lookupString(strtab *SectionHeader, offset uint32) (string, error) {
	if strtab.Type != SHT_STRTAB {
		return "", asmerr.Newf(asmerr.ParseElf, "", 0, "section %q is not a string table", strtab.Name)
	}
	if int(offset) >= len(strtab.Data) {
		return "", asmerr.Newf(asmerr.ParseElf, "", 0, "string offset %d out of range in %q", offset, strtab.Name)
	}

	end := int(offset)
	for end < len(strtab.Data) && strtab.Data[end] != 0 {
		end++
	}
	return string(strtab.Data[offset:end]), nil
}

// addString appends a NUL-terminated string to a string table being built
// and returns its offset. Only an exact full-string match is reused;
// sharing a suffix the way GNU ld does (placing "bar\0" inside an existing
// "foobar\0" entry) is not attempted. Panics if the
// table has been sealed: once a consumer has cached offsets out of a
// string table within a pass, further mutation would invalidate them.
func addString(strtab *SectionHeader, s string) uint32 {
	if strtab.sealed {
		panic("asm-processor: addString on a sealed string table: " + strtab.Name)
	}

	if strtab.stringOffsets == nil {
		strtab.stringOffsets = make(map[string]uint32)
		if len(strtab.Data) == 0 {
			strtab.Data = append(strtab.Data, 0)
		}
	}

	if off, ok := strtab.stringOffsets[s]; ok {
		return off
	}

	off := uint32(len(strtab.Data))
	strtab.Data = append(strtab.Data, []byte(s)...)
	strtab.Data = append(strtab.Data, 0)
	strtab.stringOffsets[s] = off
	return off
}

// seal freezes a string table against further addString calls.
func seal(strtab *SectionHeader) {
	strtab.sealed = true
}

// newStringTable allocates a fresh, empty, unsealed SHT_STRTAB section. The
// first byte is always NUL, per the gABI convention that offset 0 names the
// empty string.
func newStringTable(name string) *SectionHeader {
	return &SectionHeader{
		Name:          name,
		Type:          SHT_STRTAB,
		Data:          []byte{0},
		stringOffsets: map[string]uint32{"": 0},
	}
}
