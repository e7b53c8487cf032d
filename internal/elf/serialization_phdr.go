package elf

import (
	"encoding/binary"
	"io"

	"github.com/marijnvdwerf/asm-processor/internal/asmerr"
)

const programHeaderSize = 32

type programHeaderFields struct {
	Type     uint32
	Offset   uint32
	VAddr    uint32
	PAddr    uint32
	FileSize uint32
	MemSize  uint32
	Flags    uint32
	Align    uint32
}

// readProgramHeaders reads the program header table, if any. Relocatable
// MIPS object files produced by the compiler never carry one (e_phoff==0),
// but the reader supports it so a pre-linked input doesn't simply fail.
func (e *Elf) readProgramHeaders(r io.ReadSeeker) error {
	e.ProgramHeaders = make([]*ProgramHeader, 0, e.progHdrCount)
	if e.progHdrCount == 0 {
		return nil
	}

	for i := 0; i < int(e.progHdrCount); i++ {
		if _, err := r.Seek(int64(e.progHdrOffset)+int64(i)*int64(e.progHdrEntrySize), io.SeekStart); err != nil {
			return asmerr.Wrap(asmerr.IO, "", 0, err)
		}

		var fh programHeaderFields
		if err := binary.Read(r, e.ByteOrder(), &fh); err != nil {
			return asmerr.Wrap(asmerr.ParseElf, "", 0, err)
		}

		ph := &ProgramHeader{
			Type:     fh.Type,
			Flags:    fh.Flags,
			offset:   fh.Offset,
			VAddr:    fh.VAddr,
			PAddr:    fh.PAddr,
			fileSize: fh.FileSize,
			MemSize:  fh.MemSize,
			Align:    fh.Align,
		}

		if fh.FileSize > 0 {
			pos, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return asmerr.Wrap(asmerr.IO, "", 0, err)
			}
			if _, err := r.Seek(int64(fh.Offset), io.SeekStart); err != nil {
				return asmerr.Wrap(asmerr.IO, "", 0, err)
			}
			data := make([]byte, fh.FileSize)
			if _, err := io.ReadFull(r, data); err != nil {
				return asmerr.Wrap(asmerr.IO, "", 0, err)
			}
			ph.Data = data
			if _, err := r.Seek(pos, io.SeekStart); err != nil {
				return asmerr.Wrap(asmerr.IO, "", 0, err)
			}
		}

		e.ProgramHeaders = append(e.ProgramHeaders, ph)
	}

	return nil
}

func writeProgramHeader(w io.Writer, order binary.ByteOrder, ph *ProgramHeader) error {
	fh := programHeaderFields{
		Type:     ph.Type,
		Offset:   ph.offset,
		VAddr:    ph.VAddr,
		PAddr:    ph.PAddr,
		FileSize: ph.fileSize,
		MemSize:  ph.MemSize,
		Flags:    ph.Flags,
		Align:    ph.Align,
	}
	return binary.Write(w, order, &fh)
}
