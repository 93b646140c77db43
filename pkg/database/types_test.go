package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringArray_Scan(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want StringArray
	}{
		{"json", `["a","b"]`, StringArray{"a", "b"}},
		{"json bytes", []byte(`["x"]`), StringArray{"x"}},
		{"postgres", `{a,"b,c",d}`, StringArray{"a", "b,c", "d"}},
		{"postgres empty", `{}`, StringArray{}},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StringArray
			require.NoError(t, got.Scan(tt.in))
			assert.Equal(t, tt.want, got)
		})
	}

	var bad StringArray
	assert.Error(t, bad.Scan(42))
}

func TestStringArray_Value(t *testing.T) {
	v, err := StringArray{"a", "b"}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, v)

	v, err = StringArray(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)
}
