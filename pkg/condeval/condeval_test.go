package condeval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalComparison(t *testing.T) {
	e := New()
	locals := map[string]interface{}{"x": int64(42)}

	ok, err := e.Eval("x > 3", locals)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.Eval("x == 41", locals)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvalMixedTypes(t *testing.T) {
	e := New()
	locals := map[string]interface{}{
		"count": uint64(7),
		"name":  "worker",
		"ratio": 0.5,
		"live":  true,
	}
	ok, err := e.Eval(`count % 2 == 1 and name == "worker" and ratio < 1.0 and live`, locals)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvalSyntaxError(t *testing.T) {
	e := New()
	_, err := e.Eval("x >", map[string]interface{}{"x": int64(1)})
	assert.Error(t, err)
}

func TestEvalUndefinedName(t *testing.T) {
	e := New()
	_, err := e.Eval("y > 0", map[string]interface{}{"x": int64(1)})
	assert.Error(t, err)
}

func TestBind(t *testing.T) {
	e := New()
	eval := e.Bind(map[string]interface{}{"hits": int64(3)})
	ok, err := eval("hits >= 3")
	require.NoError(t, err)
	assert.True(t, ok)
}
