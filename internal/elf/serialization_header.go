package elf

import (
	"encoding/binary"
	"io"

	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
)

const elfIdentSize = 16
const elfHeaderSize = elfIdentSize + 36

type elfHeaderFields struct {
	Type             uint16
	Machine          uint16
	Version          uint32
	Entry            uint32
	ProgHdrOff       uint32
	SecHdrOff        uint32
	Flags            uint32
	HeaderSize       uint16
	ProgHdrEntrySize uint16
	ProgHdrCount     uint16
	SecHdrEntrySize  uint16
	SecHdrCount      uint16
	SecHdrStrIndex   uint16
}

func sizeElfHeader() int {
	return elfHeaderSize
}

// readHeader validates and parses the 52-byte ELF32 MIPS header, per
// spec.md 4.2: magic \x7fELF, class=32-bit, version=1, machine=MIPS.
func (e *Elf) readHeader(r io.Reader) error {
	ident := make([]byte, elfIdentSize)
	if _, err := io.ReadFull(r, ident); err != nil {
		return asmerr.Wrap(asmerr.InvalidElf, "", 0, err)
	}

	if ident[0] != 0x7F || ident[1] != 'E' || ident[2] != 'L' || ident[3] != 'F' {
		return asmerr.New(asmerr.InvalidElf, "", 0, "not an ELF file: bad magic")
	}

	e.Class = FileClass(ident[4])
	if e.Class != ELFCLASS32 {
		return asmerr.New(asmerr.InvalidElf, "", 0, "unsupported ELF class (only ELFCLASS32 is supported)")
	}

	e.Endian = FileEndian(ident[5])
	if e.Endian != ELFDATA2LSB && e.Endian != ELFDATA2MSB {
		return asmerr.New(asmerr.InvalidElf, "", 0, "invalid ELF data encoding")
	}
	e.HdrVersion = ident[6]

	var fh elfHeaderFields
	if err := binary.Read(r, e.ByteOrder(), &fh); err != nil {
		return asmerr.Wrap(asmerr.InvalidElf, "", 0, err)
	}

	e.Type = FileType(fh.Type)
	e.Machine = MachineType(fh.Machine)
	if e.Machine != EM_MIPS {
		return asmerr.New(asmerr.InvalidElf, "", 0, "not a MIPS object file")
	}
	if e.HdrVersion != 1 || fh.Version != 1 {
		return asmerr.New(asmerr.InvalidElf, "", 0, "unsupported ELF version (only version 1 is supported)")
	}
	e.Version = fh.Version
	e.Entry = fh.Entry
	e.progHdrOffset = fh.ProgHdrOff
	e.secHdrOffset = fh.SecHdrOff
	e.Flags = fh.Flags
	e.headerSize = fh.HeaderSize
	e.progHdrEntrySize = fh.ProgHdrEntrySize
	e.progHdrCount = fh.ProgHdrCount
	e.secHdrEntrySize = fh.SecHdrEntrySize
	e.secHdrCount = fh.SecHdrCount
	e.secHdrStrIdx = fh.SecHdrStrIndex

	if e.secHdrStrIdx == SHN_XINDEX {
		return asmerr.New(asmerr.Unsupported, "", 0, "SHN_XINDEX section string table index is not supported")
	}

	return nil
}

func (e *Elf) writeHeader(w io.Writer) error {
	ident := make([]byte, elfIdentSize)
	ident[0] = 0x7F
	ident[1] = 'E'
	ident[2] = 'L'
	ident[3] = 'F'
	ident[4] = uint8(e.Class)
	ident[5] = uint8(e.Endian)
	ident[6] = e.HdrVersion

	if _, err := w.Write(ident); err != nil {
		return err
	}

	fh := elfHeaderFields{
		Type:             uint16(e.Type),
		Machine:          uint16(e.Machine),
		Version:          e.Version,
		Entry:            e.Entry,
		ProgHdrOff:       e.progHdrOffset,
		SecHdrOff:        e.secHdrOffset,
		Flags:            e.Flags,
		HeaderSize:       e.headerSize,
		ProgHdrEntrySize: e.progHdrEntrySize,
		ProgHdrCount:     e.progHdrCount,
		SecHdrEntrySize:  e.secHdrEntrySize,
		SecHdrCount:      e.secHdrCount,
		SecHdrStrIndex:   e.secHdrStrIdx,
	}
	return binary.Write(w, e.ByteOrder(), &fh)
}
