package abbrev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSimpleTable(t *testing.T) {
	buf := []byte{
		0x01,       // abbrev code 1
		0x11,       // DW_TAG_compile_unit
		0x01,       // has children
		0x03, 0x08, // DW_AT_name, DW_FORM_string
		0x00, 0x00, // end of attributes
		0x00, // end of table
	}
	table, err := Parse(buf)
	require.NoError(t, err)
	require.Contains(t, table, uint64(1))
	e := table[1]
	assert.Equal(t, uint64(0x11), e.Tag)
	assert.True(t, e.HasChildren)
	require.Len(t, e.Attributes, 1)
	assert.Equal(t, uint64(0x03), e.Attributes[0].Name)
	assert.Equal(t, uint64(0x08), e.Attributes[0].Form)
}

func TestParseImplicitConst(t *testing.T) {
	buf := []byte{
		0x01,       // code
		0x05,       // tag
		0x00,       // no children
		0x3a, 0x21, // DW_AT_decl_file, DW_FORM_implicit_const
		0x2a,       // SLEB128 value = 42
		0x00, 0x00, // end attrs
		0x00, // end table
	}
	table, err := Parse(buf)
	require.NoError(t, err)
	attr := table[1].Attributes[0]
	assert.True(t, attr.HasImplicitConst)
	assert.Equal(t, int64(42), attr.ImplicitConst)
}

func TestParseEmptyInput(t *testing.T) {
	table, err := Parse(nil)
	assert.Error(t, err)
	assert.Empty(t, table)
}

func TestParseRecoversPartialOnMalformed(t *testing.T) {
	buf := []byte{
		0x01, 0x11, 0x00, 0x00, 0x00, // a complete, valid first entry
		0x02, // second entry: code only, then truncated
	}
	table, err := Parse(buf)
	assert.Error(t, err)
	assert.Contains(t, table, uint64(1))
	assert.NotContains(t, table, uint64(2))
}
