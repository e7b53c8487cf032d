package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateMips1RequiresO1OrO2(t *testing.T) {
	o := &Options{Mips1: true, Opt: OptO0}
	assert.Error(t, o.Validate())

	o = &Options{Mips1: true, Opt: OptO1}
	assert.NoError(t, o.Validate())
}

func TestValidateMips1RejectsFramePointer(t *testing.T) {
	o := &Options{Mips1: true, FramePointer: true, Opt: OptO1}
	assert.Error(t, o.Validate())
}

func TestValidatePascalRequiresOptLevel(t *testing.T) {
	o := &Options{Pascal: true, Opt: OptO0}
	assert.Error(t, o.Validate())

	o = &Options{Pascal: true, Opt: OptG3}
	assert.NoError(t, o.Validate())
}

func TestValidateDefaultsEncodings(t *testing.T) {
	o := &Options{Opt: OptO1}
	assert.NoError(t, o.Validate())
	assert.Equal(t, "latin1", o.InputEncoding)
	assert.Equal(t, "latin1", o.OutputEncoding)
}

func TestParseConvertStatics(t *testing.T) {
	for _, tc := range []struct {
		in  string
		out ConvertStatics
	}{
		{"no", ConvertStaticsNo},
		{"local", ConvertStaticsLocal},
		{"global", ConvertStaticsGlobal},
		{"global-with-filename", ConvertStaticsGlobalWithFilename},
	} {
		got, err := ParseConvertStatics(tc.in)
		assert.NoError(t, err)
		assert.Equal(t, tc.out, got)
	}

	_, err := ParseConvertStatics("bogus")
	assert.Error(t, err)
}

func TestIsPascalSource(t *testing.T) {
	assert.True(t, IsPascalSource("foo.p"))
	assert.True(t, IsPascalSource("foo.pas"))
	assert.True(t, IsPascalSource("foo.pp"))
	assert.False(t, IsPascalSource("foo.c"))
}
