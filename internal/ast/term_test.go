package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTerm_Literals(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ok", "ok"},
		{"42", "42"},
		{"-7", "-7"},
		{"3.14", "3.14"},
		{`"hello"`, `"hello"`},
		{"'Quoted Atom'", "'Quoted Atom'"},
		{"[]", "[]"},
		{"[1, 2, 3]", "[1, 2, 3]"},
		{"[1 | rest]", "[1 | rest]"},
		{"{apple, 3}", "{apple, 3}"},
		{"{}", "{}"},
		{"#{a => 1, b => 2}", "#{a => 1, b => 2}"},
		{"[{apple,3},{pear,1}]", "[{apple, 3}, {pear, 1}]"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, err := ParseTerm(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Print(e))
		})
	}
}

func TestParseTerm_Opaque(t *testing.T) {
	e, err := ParseTerm("<0.80.0>")
	require.NoError(t, err)
	op, ok := e.(*Opaque)
	require.True(t, ok)
	assert.Equal(t, "pid", op.Tag)
	assert.Equal(t, "<0.80.0>", op.Text)

	e, err = ParseTerm("#Fun<shop.0.12345>")
	require.NoError(t, err)
	op = e.(*Opaque)
	assert.Equal(t, "fun", op.Tag)

	e, err = ParseTerm("<<1,2,3>>")
	require.NoError(t, err)
	op = e.(*Opaque)
	assert.Equal(t, "bin", op.Tag)
}

func TestParseTerm_NestedOpaqueInList(t *testing.T) {
	e, err := ParseTerm("[<0.80.0>, ok]")
	require.NoError(t, err)
	cons, ok := e.(*Cons)
	require.True(t, ok)
	_, isPid := cons.Head.(*Opaque)
	assert.True(t, isPid)
}

func TestParseTerm_Errors(t *testing.T) {
	for _, in := range []string{"", "{unclosed", "[1, 2", "1 2", "#bogus"} {
		_, err := ParseTerm(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestValueExpr_NeverFails(t *testing.T) {
	// malformed input still yields printable syntax
	e := ValueExpr("{truncated")
	op, ok := e.(*Opaque)
	require.True(t, ok)
	assert.Equal(t, "term", op.Tag)

	e = ValueExpr("#Ref<0.1.2.3")
	op = e.(*Opaque)
	assert.Equal(t, "ref", op.Tag)
}

func TestValueExpr_TaggedOpaqueRendering(t *testing.T) {
	out := Print(ValueExpr("<0.80.0>"))
	assert.Equal(t, `"pid:<0.80.0>"`, out)
}
