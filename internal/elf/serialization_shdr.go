package elf

import (
	"encoding/binary"
	"io"

	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
)

const sectionHeaderSize = 40

type sectionHeaderFields struct {
	NameOffset uint32
	Type       uint32
	Flags      uint32
	Address    uint32
	Offset     uint32
	Size       uint32
	Link       uint32
	Info       uint32
	AddrAlign  uint32
	EntrySize  uint32
}

// readSectionHeaders reads the section header table and, for any section
// with HasDataInFile, seeks to its file offset and reads its data. Name
// resolution against shstrtab and the late-init linking pass both happen
// afterwards, once every header is available.
func (e *Elf) readSectionHeaders(r io.ReadSeeker) error {
	e.Sections = make([]*SectionHeader, 0, e.secHdrCount)

	for i := 0; i < int(e.secHdrCount); i++ {
		if _, err := r.Seek(int64(e.secHdrOffset)+int64(i)*int64(e.secHdrEntrySize), io.SeekStart); err != nil {
			return asmerr.Wrap(asmerr.IO, "", 0, err)
		}

		var fh sectionHeaderFields
		if err := binary.Read(r, e.ByteOrder(), &fh); err != nil {
			return asmerr.Wrap(asmerr.ParseElf, "", 0, err)
		}

		sh := &SectionHeader{
			nameOffset: fh.NameOffset,
			Type:       SectionHeaderType(fh.Type),
			Flags:      SectionHeaderFlag(fh.Flags),
			Address:    fh.Address,
			offset:     fh.Offset,
			Size:       fh.Size,
			Link:       fh.Link,
			Info:       fh.Info,
			AddrAlign:  fh.AddrAlign,
			EntrySize:  fh.EntrySize,
			Index:      i,
		}

		if sh.Type.HasDataInFile() && sh.Type != SHT_NOBITS {
			data := make([]byte, sh.Size)
			if sh.Size > 0 {
				if _, err := r.Seek(int64(sh.offset), io.SeekStart); err != nil {
					return asmerr.Wrap(asmerr.IO, "", 0, err)
				}
				if _, err := io.ReadFull(r, data); err != nil {
					return asmerr.Wrap(asmerr.IO, "", 0, err)
				}
			}
			sh.Data = data
		}

		if sh.Type == SHT_SYMTAB {
			if e.symtabIdx != 0 {
				return asmerr.New(asmerr.Unsupported, "", 0, "multiple SHT_SYMTAB sections are not supported")
			}
			e.symtabIdx = i
		}

		e.Sections = append(e.Sections, sh)
	}

	return nil
}

func writeSectionHeader(w io.Writer, order binary.ByteOrder, sh *SectionHeader) error {
	fh := sectionHeaderFields{
		NameOffset: sh.nameOffset,
		Type:       uint32(sh.Type),
		Flags:      uint32(sh.Flags),
		Address:    sh.Address,
		Offset:     sh.offset,
		Size:       sh.Size,
		Link:       sh.Link,
		Info:       sh.Info,
		AddrAlign:  sh.AddrAlign,
		EntrySize:  sh.EntrySize,
	}
	return binary.Write(w, order, &fh)
}
