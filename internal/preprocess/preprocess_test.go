package preprocess

import (
	"strings"
	"testing"

	"github.com/marijnvdwerf/asm-processor/internal/options"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSourceRewritesGlobalAsmBlock(t *testing.T) {
	src := `void other(void);
GLOBAL_ASM("glabel my_func\naddiu $sp, $sp, -0x18\njr $ra\nnop")
void another(void);
`
	opts := &options.Options{Opt: options.OptO0}
	res, err := ProcessSource(strings.NewReader(src), "test.c", opts)
	require.NoError(t, err)

	assert.NotContains(t, res.StubSource, "GLOBAL_ASM")
	assert.Contains(t, res.StubSource, "void _asmpp_func1(void) {")
	assert.Contains(t, res.AsmSource, "glabel my_func")
	assert.Contains(t, res.AsmSource, ".set noat")
	require.Len(t, res.Functions, 1)
	assert.Equal(t, []string{"my_func"}, res.Functions[0].TextGlabels)
}

func TestProcessSourceTracksIncludeDependency(t *testing.T) {
	src := `#include "asm/my_func.s"
`
	opts := &options.Options{Opt: options.OptO0}
	res, err := ProcessSource(strings.NewReader(src), "test.c", opts)
	require.NoError(t, err)

	assert.Contains(t, res.Dependencies, "asm/my_func.s")
	assert.Contains(t, res.StubSource, `#include "asm/my_func.s"`)
}

func TestProcessSourceRejectsUnbalancedIfdef(t *testing.T) {
	src := "#ifdef FOO\nint x;\n"
	opts := &options.Options{Opt: options.OptO0}
	_, err := ProcessSource(strings.NewReader(src), "test.c", opts)
	assert.Error(t, err)
}

func TestProcessSourceEncodesCutsceneFloats(t *testing.T) {
	src := "CUTSCENE_DATA(1.5f, 2.0f)\n"
	opts := &options.Options{Opt: options.OptO0, EncodeCutsceneDataFloats: true}
	res, err := ProcessSource(strings.NewReader(src), "test.c", opts)
	require.NoError(t, err)

	assert.Contains(t, res.StubSource, "0x3FC00000")
}

func TestNewStateComputesSkipAndMinInstrCountByOptLevel(t *testing.T) {
	st := newState(&options.Options{Opt: options.OptO2})
	assert.Equal(t, 2, st.MinInstrCount)
	assert.Equal(t, 4, st.SkipInstrCount)
	assert.True(t, st.UseJtblForRodata)
	assert.True(t, st.PreludeIfLateRodata)

	st = newState(&options.Options{Opt: options.OptO0})
	assert.Equal(t, 0, st.MinInstrCount)
	assert.Equal(t, 0, st.SkipInstrCount)
	assert.False(t, st.UseJtblForRodata)
	assert.False(t, st.PreludeIfLateRodata)

	st = newState(&options.Options{Opt: options.OptO1, FramePointer: true})
	assert.Equal(t, 3, st.MinInstrCount)
	assert.Equal(t, 1, st.SkipInstrCount)
}
