package fixup

import (
	"testing"

	goelf "github.com/marijnvdwerf/asm-processor/internal/elf"
	"github.com/marijnvdwerf/asm-processor/internal/options"
	"github.com/stretchr/testify/assert"
)

func TestIsTempName(t *testing.T) {
	assert.True(t, isTempName("_asmpp_dummy1"))
	assert.False(t, isTempName("my_func"))
}

func TestMangleWithFilename(t *testing.T) {
	got := mangleWithFilename("counter", "src/actors/boo.c")
	assert.Equal(t, "counter$boo", got)
}

func TestMangleWithFilenameReplacesNonWordBytes(t *testing.T) {
	got := mangleWithFilename("counter", "src/actors/boo-2.c")
	assert.Equal(t, "counter$boo_2", got)
}

func TestApplyConvertStaticsGlobal(t *testing.T) {
	sym := &goelf.Symbol{Name: "gCounter", Binding: goelf.STB_LOCAL, Type: goelf.STT_OBJECT}
	syms := []*goelf.Symbol{sym}

	applyConvertStatics(syms, &options.Options{ConvertStatics: options.ConvertStaticsGlobal})

	assert.Equal(t, goelf.STB_GLOBAL, sym.Binding)
	assert.Equal(t, "gCounter", sym.Name)
}

func TestApplyConvertStaticsGlobalWithFilename(t *testing.T) {
	sym := &goelf.Symbol{Name: "gCounter", Binding: goelf.STB_LOCAL, Type: goelf.STT_OBJECT}
	syms := []*goelf.Symbol{sym}

	applyConvertStatics(syms, &options.Options{
		ConvertStatics: options.ConvertStaticsGlobalWithFilename,
		Filename:       "boo.c",
	})

	assert.Equal(t, goelf.STB_GLOBAL, sym.Binding)
	assert.Equal(t, "gCounter$boo", sym.Name)
}

func TestApplyConvertStaticsNoLeavesSymbolsAlone(t *testing.T) {
	sym := &goelf.Symbol{Name: "gCounter", Binding: goelf.STB_LOCAL, Type: goelf.STT_OBJECT}
	syms := []*goelf.Symbol{sym}

	applyConvertStatics(syms, &options.Options{ConvertStatics: options.ConvertStaticsNo})

	assert.Equal(t, goelf.STB_LOCAL, sym.Binding)
}

func TestSortMergedSymbolsLocalsFirstAndGpDispLast(t *testing.T) {
	a := &goelf.Symbol{Name: "zzz", Binding: goelf.STB_GLOBAL}
	b := &goelf.Symbol{Name: "aaa", Binding: goelf.STB_LOCAL}
	gpDisp := &goelf.Symbol{Name: "_gp_disp", Binding: goelf.STB_LOCAL}

	syms := []*goelf.Symbol{a, gpDisp, b}
	sortMergedSymbols(syms)

	assert.Equal(t, "aaa", syms[0].Name)
	assert.Equal(t, "_gp_disp", syms[1].Name)
	assert.Equal(t, "zzz", syms[2].Name)
}
