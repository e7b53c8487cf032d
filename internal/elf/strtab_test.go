package elf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddStringDedups(t *testing.T) {
	strtab := newStringTable(".strtab")

	off1 := addString(strtab, "foo")
	off2 := addString(strtab, "foo")
	off3 := addString(strtab, "bar")

	assert.Equal(t, off1, off2)
	assert.NotEqual(t, off1, off3)
}

func TestLookupStringRoundTrip(t *testing.T) {
	strtab := newStringTable(".strtab")
	off := addString(strtab, "hello")

	got, err := lookupString(strtab, off)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestAddStringPanicsWhenSealed(t *testing.T) {
	strtab := newStringTable(".strtab")
	seal(strtab)

	assert.Panics(t, func() {
		addString(strtab, "too late")
	})
}

func TestDropMdebugGptabRemovesMatchingSections(t *testing.T) {
	e := &Elf{}
	keep := &SectionHeader{Name: ".text", Type: SHT_PROGBITS}
	mdebug := &SectionHeader{Name: ".mdebug", Type: SHT_MIPS_DEBUG}
	gptab := &SectionHeader{Name: ".gptab.data", Type: SHT_PROGBITS}
	e.Sections = []*SectionHeader{keep, mdebug, gptab}
	for i, sh := range e.Sections {
		sh.Index = i
	}

	e.DropMdebugGptab()

	require.Len(t, e.Sections, 1)
	assert.Equal(t, ".text", e.Sections[0].Name)
	assert.Equal(t, 0, e.Sections[0].Index)
}
