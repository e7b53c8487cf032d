package asm

import (
	"testing"

	"github.com/marijnvdwerf/asm-processor/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockTracksTextSize(t *testing.T) {
	b := NewBlock("test.c:1", false, false)

	require.NoError(t, b.ProcessLine("glabel my_func", 1))
	require.NoError(t, b.ProcessLine("addiu $sp, $sp, -0x18", 2))
	require.NoError(t, b.ProcessLine("jr $ra", 3))
	require.NoError(t, b.ProcessLine("nop", 4))

	assert.Equal(t, 12, b.fnSectionSizes[SectionText])
	assert.Equal(t, []string{"my_func"}, b.textGlabels)
}

func TestBlockRejectsInstructionBeforeGlabel(t *testing.T) {
	b := NewBlock("test.c:1", false, false)
	err := b.ProcessLine("nop", 1)
	assert.Error(t, err)
}

func TestBlockDataDirectives(t *testing.T) {
	b := NewBlock("test.c:1", false, false)

	require.NoError(t, b.ProcessLine(".data", 1))
	require.NoError(t, b.ProcessLine(".word 1, 2, 3", 2))
	assert.Equal(t, 12, b.fnSectionSizes[SectionData])

	require.NoError(t, b.ProcessLine(".byte 1, 2, 3, 4, 5", 3))
	assert.Equal(t, 17, b.fnSectionSizes[SectionData])
}

func TestBlockRejectsUnalignedTextSize(t *testing.T) {
	b := NewBlock("test.c:1", false, false)
	require.NoError(t, b.ProcessLine("glabel f", 1))
	err := b.addSized(2, 2)
	assert.Error(t, err)
}

func TestCountQuotedSize(t *testing.T) {
	assert.Equal(t, 3, countQuotedSize("abc", false))
	assert.Equal(t, 4, countQuotedSize("abc", true))
	assert.Equal(t, 2, countQuotedSize(`\x41\x42`, false))
}

func TestFinishEmitsDummyBytesForLateRodata(t *testing.T) {
	b := NewBlock("test.c:1", false, false)
	// The dummy float stores live in the block's stub function, so the
	// block needs enough .text slots: one skipped plus three per float.
	require.NoError(t, b.ProcessLine("glabel my_func", 1))
	for i := 0; i < 8; i++ {
		require.NoError(t, b.ProcessLine("nop", 2))
	}
	require.NoError(t, b.ProcessLine(".late_rodata", 3))
	require.NoError(t, b.ProcessLine(".float 1.0", 4))
	require.NoError(t, b.ProcessLine(".float 2.0", 5))

	st := state.New(0, 1, false, false, false, false)
	fn, err := b.Finish(st)
	require.NoError(t, err)

	assert.Len(t, fn.LateRodataDummyBytes, 8)
	assert.Equal(t, 0, fn.JtblRodataSize)
}

func TestFinishFillsTextWithDummyStores(t *testing.T) {
	b := NewBlock("test.c:1", false, false)
	require.NoError(t, b.ProcessLine("glabel my_func", 1))
	require.NoError(t, b.ProcessLine("addiu $sp, $sp, -0x18", 2))
	require.NoError(t, b.ProcessLine("jr $ra", 3))
	require.NoError(t, b.ProcessLine("nop", 4))

	st := state.New(0, 0, false, false, false, false)
	fn, err := b.Finish(st)
	require.NoError(t, err)

	assert.Len(t, fn.TextFillerStmts, 3)
	src := fn.StubSource(st)
	assert.Contains(t, src, "void _asmpp_func1(void) {")
	assert.Contains(t, src, "*(volatile int*)0 = 0;")
}

func TestFinishTooShortTextBlockErrors(t *testing.T) {
	b := NewBlock("test.c:1", false, false)
	require.NoError(t, b.ProcessLine("glabel my_func", 1))
	require.NoError(t, b.ProcessLine("nop", 2))

	st := state.New(2, 1, false, false, false, false)
	_, err := b.Finish(st)
	assert.Error(t, err)
}

func TestStubSourceTypesDataRodataBss(t *testing.T) {
	b := NewBlock("test.c:1", false, false)
	require.NoError(t, b.ProcessLine(".data", 1))
	require.NoError(t, b.ProcessLine(".word 1, 2, 3", 2))
	require.NoError(t, b.ProcessLine(".rodata", 3))
	require.NoError(t, b.ProcessLine(".word 1, 2", 4))
	require.NoError(t, b.ProcessLine(".bss", 5))
	require.NoError(t, b.ProcessLine(".space 8", 6))

	st := state.New(0, 0, false, false, false, false)
	fn, err := b.Finish(st)
	require.NoError(t, err)

	src := fn.StubSource(st)
	assert.Contains(t, src, "static uint32_t "+fn.DataName+"[3]")
	assert.Contains(t, src, "static const uint32_t "+fn.RodataName+"[2]")
	assert.Contains(t, src, "static char "+fn.BssName+"[8];")
}

func TestFinishUsesJumpTableForLargeLateRodata(t *testing.T) {
	b := NewBlock("test.c:1", false, false)
	require.NoError(t, b.ProcessLine("glabel my_func", 1))
	for i := 0; i < 20; i++ {
		require.NoError(t, b.ProcessLine("nop", 2))
	}
	require.NoError(t, b.ProcessLine(".late_rodata", 3))
	for i := 0; i < 8; i++ {
		require.NoError(t, b.ProcessLine(".float 1.0", 4))
	}

	st := state.New(0, 0, true, false, false, false)
	fn, err := b.Finish(st)
	require.NoError(t, err)

	assert.Empty(t, fn.LateRodataDummyBytes)
	assert.Greater(t, fn.JtblRodataSize, 0)

	src := fn.StubSource(st)
	assert.Contains(t, src, "switch (*(volatile int*)0)")
}
