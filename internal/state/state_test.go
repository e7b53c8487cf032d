package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNextLateRodataHexAvoidsZeroLowHalf(t *testing.T) {
	s := New(2, 1, true, false, false, false)

	seen := make(map[uint32]bool)
	for i := 0; i < 8; i++ {
		b := s.NextLateRodataHex()
		v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		assert.NotZero(t, v&0xFFFF, "low 16 bits must never be zero")
		assert.False(t, seen[v], "value must be unique across calls")
		seen[v] = true
	}
}

func TestMakeNameIncrementsAcrossCategories(t *testing.T) {
	s := New(2, 1, true, false, false, false)

	a := s.MakeName("dummy")
	b := s.MakeName("jtbl")

	assert.Equal(t, "_asmpp_dummy1", a)
	assert.Equal(t, "_asmpp_jtbl2", b)
}

func TestFuncPrologueEpilogueC(t *testing.T) {
	s := New(2, 1, true, false, false, false)
	assert.Equal(t, "void _asmpp_dummy1(void) {", s.FuncPrologue("_asmpp_dummy1"))
	assert.Equal(t, "}", s.FuncEpilogue())
}

func TestFuncPrologueEpiloguePascal(t *testing.T) {
	s := New(2, 1, true, false, false, true)
	assert.Contains(t, s.FuncPrologue("proc1"), "procedure proc1;")
	assert.Equal(t, "end;", s.FuncEpilogue())
}

func TestPascalAssignmentAdvancesAddress(t *testing.T) {
	s := New(2, 1, true, false, false, true)
	first := s.PascalAssignment("f", "1.0")
	second := s.PascalAssignment("f", "2.0")

	assert.Equal(t, "vf := pf(0); vf^ := 1.0;", first)
	assert.Equal(t, "vf := pf(8); vf^ := 2.0;", second)
}
