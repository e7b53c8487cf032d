package elf

import (
	"encoding/binary"
	"io"
)

// layoutAndWrite assigns file offsets to every program header and section
// header in order, then writes the whole image: ELF header, program
// headers, program data, section data, section headers. This mirrors the
// teacher writer's layout order rather than attempting to preserve the
// input file's original offsets, since splicing changes section sizes and
// a packed re-layout is simpler to reason about than in-place patching.
func (e *Elf) layoutAndWrite(w io.Writer, order binary.ByteOrder, sections []*SectionHeader) error {
	offset := uint32(sizeElfHeader())

	e.progHdrCount = uint16(len(e.ProgramHeaders))
	e.progHdrEntrySize = programHeaderSize
	if len(e.ProgramHeaders) > 0 {
		e.progHdrOffset = offset
		offset += uint32(len(e.ProgramHeaders)) * programHeaderSize
	} else {
		e.progHdrOffset = 0
	}

	for _, ph := range e.ProgramHeaders {
		ph.offset = offset
		offset += ph.fileSize
	}

	for _, sh := range sections {
		if sh.Type == SHT_NULL || !sh.Type.HasDataInFile() {
			sh.offset = 0
			continue
		}
		if sh.AddrAlign > 1 {
			offset = alignTo(offset, sh.AddrAlign)
		}
		sh.offset = offset
		offset += uint32(len(sh.Data))
	}

	offset = alignTo(offset, alignUp4)
	e.secHdrOffset = offset
	e.secHdrEntrySize = sectionHeaderSize
	e.secHdrCount = uint16(len(sections))

	if len(sections) > 0xFF00 {
		return sectionOverflowError(len(sections))
	}

	if err := e.writeHeader(w); err != nil {
		return err
	}

	pos := int64(sizeElfHeader())

	for _, ph := range e.ProgramHeaders {
		if err := writeProgramHeader(w, order, ph); err != nil {
			return err
		}
		pos += programHeaderSize
	}
	for _, ph := range e.ProgramHeaders {
		if len(ph.Data) > 0 {
			if _, err := w.Write(ph.Data); err != nil {
				return err
			}
			pos += int64(len(ph.Data))
		}
	}

	for _, sh := range sections {
		if !sh.Type.HasDataInFile() || sh.Type == SHT_NULL {
			continue
		}
		if err := padUntil(w, &pos, int64(sh.offset)); err != nil {
			return err
		}
		if _, err := w.Write(sh.Data); err != nil {
			return err
		}
		pos += int64(len(sh.Data))
	}

	if err := padUntil(w, &pos, int64(e.secHdrOffset)); err != nil {
		return err
	}

	for _, sh := range sections {
		if err := writeSectionHeader(w, order, sh); err != nil {
			return err
		}
	}

	return nil
}

func padUntil(w io.Writer, pos *int64, target int64) error {
	if target <= *pos {
		return nil
	}
	n := target - *pos
	if _, err := w.Write(make([]byte, n)); err != nil {
		return err
	}
	*pos = target
	return nil
}

type sectionOverflowErr struct{ count int }

func (e sectionOverflowErr) Error() string {
	return "too many sections to represent without SHN_XINDEX support"
}

func sectionOverflowError(count int) error {
	return sectionOverflowErr{count: count}
}
