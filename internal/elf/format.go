package elf

import "encoding/binary"

// ByteOrder returns the byte order the rest of this file's fields were
// encoded with, derived from the e_ident[EI_DATA] byte at parse time.
func (e *Elf) ByteOrder() binary.ByteOrder {
	if e.Endian == ELFDATA2MSB {
		return binary.BigEndian
	}
	return binary.LittleEndian
}
