package subst

import (
	"strings"
	"testing"

	"retrace/internal/ast"
	"retrace/internal/records"
	"retrace/internal/source"
	"retrace/internal/touch"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// parseFn parses src and returns the named function with its touch
// structure, every top-level clause already marked at markLines.
func parseFn(t *testing.T, src, fn string, markLines ...int) (*ast.FuncDecl, []*touch.Clause) {
	t.Helper()
	m, err := source.ParseSource(src)
	require.NoError(t, err)
	for _, fd := range m.Functions {
		if fd.Name != fn {
			continue
		}
		cs := touch.Build(fd)
		for _, l := range markLines {
			touch.MarkReached(cs, l)
		}
		return fd, cs
	}
	t.Fatalf("function %s not in source", fn)
	return nil, nil
}

// declStore builds a record store over a module source's declarations.
type declStore struct{ m *source.Module }

func (d declStore) RecordDecls(string) ([]*source.RecordDecl, error) { return d.m.Records, nil }

func storeFrom(t *testing.T, src string) *records.Store {
	t.Helper()
	m, err := source.ParseSource(src)
	require.NoError(t, err)
	s := records.NewStore(declStore{m})
	_, err = s.Load(m.Name)
	require.NoError(t, err)
	return s
}

func TestRender_SimpleSubstitution(t *testing.T) {
	src := `-module(demo).
f(X) ->
    Y = X + 1,
    Y.
`
	fd, cs := parseFn(t, src, "f", 2)
	out, err := Render(fd, cs, map[string]string{"X": "2", "Y": "3"}, nil, 0, 4)
	require.NoError(t, err)

	want := "f(X) ->\n" +
		"    Y = 2 + 1,\n" +
		"    3."
	assert.Equal(t, want, out)
}

func TestRender_MissingBindingKept(t *testing.T) {
	src := `-module(demo).
f(X) ->
    Y = X + 1,
    Y.
`
	fd, cs := parseFn(t, src, "f", 2)
	out, err := Render(fd, cs, map[string]string{"X": "2"}, nil, 0, 4)
	require.NoError(t, err)
	assert.Contains(t, out, "Y = 2 + 1")
	assert.Contains(t, out, "    Y.")
}

func TestRender_UntouchedClauseVerbatim(t *testing.T) {
	src := `-module(demo).
f(0) ->
    zero;
f(N) ->
    N + 1.
`
	fd, cs := parseFn(t, src, "f", 4)
	out, err := Render(fd, cs, map[string]string{"N": "41"}, nil, 0, 4)
	require.NoError(t, err)

	assert.Contains(t, out, "41 + 1")
	// the untouched first clause keeps its source shape
	assert.Contains(t, out, "f(0) ->\n    zero;")
}

func TestRender_UntouchedCaseBranchVerbatim(t *testing.T) {
	src := `-module(demo).
f(N) ->
    case N of
        0 ->
            N;
        _ ->
            N * 2
    end.
`
	fd, cs := parseFn(t, src, "f", 2, 7)
	out, err := Render(fd, cs, map[string]string{"N": "5"}, nil, 0, 4)
	require.NoError(t, err)

	assert.Contains(t, out, "5 * 2")
	// the 0 branch never ran: its N stays a variable
	assert.Contains(t, out, "0 ->\n            N;")
}

func TestRender_FunParameterShadowsOuter(t *testing.T) {
	src := `-module(demo).
g(X) ->
    F = fun(X) -> X * 2 end,
    F(X).
`
	fd, cs := parseFn(t, src, "g", 2, 3)
	out, err := Render(fd, cs, map[string]string{"X": "10"}, nil, 0, 4)
	require.NoError(t, err)

	assert.Contains(t, out, "X * 2", "shadowed parameter must not be substituted")
	assert.NotContains(t, out, "10 * 2")
	assert.Contains(t, out, "F(10)")
}

func TestRender_GeneratorPatternShadows(t *testing.T) {
	src := `-module(demo).
h(X, L) ->
    [X + 1 || X <- L].
`
	fd, cs := parseFn(t, src, "h", 2)
	out, err := Render(fd, cs, map[string]string{"X": "9", "L": "[1,2]"}, nil, 0, 4)
	require.NoError(t, err)

	assert.Contains(t, out, "[X + 1 || X <- [1, 2]]")
	assert.NotContains(t, out, "9 + 1")
}

func TestRender_OpaqueValues(t *testing.T) {
	src := `-module(demo).
send(Pid, Msg) ->
    Pid ! Msg.
`
	fd, cs := parseFn(t, src, "send", 2)
	out, err := Render(fd, cs, map[string]string{"Pid": "<0.80.0>", "Msg": "hello"}, nil, 0, 4)
	require.NoError(t, err)
	assert.Contains(t, out, `"pid:<0.80.0>" ! hello`)
}

const pointSrc = `-module(geo).
-record(point, {x = 0, y = 0}).
-record(circle, {center = #point{}, r}).

mk() ->
    #point{x = 1, y = 2}.

move(P, DX) ->
    P#point{x = P#point.x + DX}.

radius(C) ->
    C#circle.r.
`

func TestRender_RecordConstructionExpands(t *testing.T) {
	defs := storeFrom(t, pointSrc)
	fd, cs := parseFn(t, pointSrc, "mk", 5)
	out, err := Render(fd, cs, nil, defs, 0, 4)
	require.NoError(t, err)
	assert.Contains(t, out, "{point, 1, 2}")
}

func TestRender_RecordUnresolvedPassesThrough(t *testing.T) {
	fd, cs := parseFn(t, pointSrc, "mk", 5)
	out, err := Render(fd, cs, nil, nil, 0, 4)
	require.NoError(t, err)
	assert.Contains(t, out, "#point{x = 1, y = 2}")
}

func TestRender_RecordUpdateAndAccess(t *testing.T) {
	defs := storeFrom(t, pointSrc)
	fd, cs := parseFn(t, pointSrc, "move", 8)
	out, err := Render(fd, cs, map[string]string{"P": "{point,1,2}", "DX": "5"}, defs, 0, 4)
	require.NoError(t, err)

	assert.Contains(t, out, "setelement(2, {point, 1, 2}, element(2, {point, 1, 2}) + 5)")
}

func TestRender_RecordDefaultsFill(t *testing.T) {
	src := `-module(geo2).
-record(point, {x = 0, y = 0, tag}).

mk() ->
    #point{x = 7}.
`
	defs := storeFrom(t, src)
	fd, cs := parseFn(t, src, "mk", 4)
	out, err := Render(fd, cs, nil, defs, 0, 4)
	require.NoError(t, err)
	assert.Contains(t, out, "{point, 7, 0, undefined}")
}

func TestRender_NestedRecordDefaultExpands(t *testing.T) {
	defs := storeFrom(t, pointSrc)
	src := `-module(geo3).
mk() ->
    #circle{r = 3}.
`
	fd, cs := parseFn(t, src, "mk", 2)
	out, err := Render(fd, cs, nil, defs, 0, 4)
	require.NoError(t, err)
	// the default center expands through its own record definition
	assert.Contains(t, out, "{circle, {point, 0, 0}, 3}")
}

func TestRender_ForgottenRecordsStayUnexpanded(t *testing.T) {
	defs := storeFrom(t, pointSrc)
	fd, cs := parseFn(t, pointSrc, "mk", 5)

	out, err := Render(fd, cs, nil, defs, 0, 4)
	require.NoError(t, err)
	require.Contains(t, out, "{point, 1, 2}")

	defs.ForgetAll()
	out, err = Render(fd, cs, nil, defs, 0, 4)
	require.NoError(t, err)
	assert.Contains(t, out, "#point{x = 1, y = 2}")
}

func TestRender_UnknownUpdateFieldUnsupported(t *testing.T) {
	src := `-module(geo4).
-record(point, {x, y}).

bad(P) ->
    P#point{z = 1}.
`
	defs := storeFrom(t, src)
	fd, cs := parseFn(t, src, "bad", 4)
	_, err := Render(fd, cs, map[string]string{"P": "{point,1,2}"}, defs, 0, 4)
	var ue *UnsupportedError
	require.ErrorAs(t, err, &ue)
	assert.Contains(t, ue.Error(), "unsupported expression")
}

func TestRender_DepthIndents(t *testing.T) {
	src := `-module(demo).
f(X) ->
    X.
`
	fd, cs := parseFn(t, src, "f", 2)
	out, err := Render(fd, cs, map[string]string{"X": "1"}, nil, 2, 4)
	require.NoError(t, err)
	for _, line := range strings.Split(out, "\n") {
		assert.True(t, strings.HasPrefix(line, "        "), "line %q not indented", line)
	}
}

// Round-trip: a fully bound, record-free rendering is re-parseable.
func TestRender_RoundTripParses(t *testing.T) {
	src := `-module(demo).
f(X, L) ->
    Y = X * 2,
    case L of
        [] ->
            Y;
        [H | T] ->
            {H, T, Y}
    end.
`
	fd, cs := parseFn(t, src, "f", 2, 8)
	out, err := Render(fd, cs, map[string]string{
		"X": "3", "Y": "6", "L": "[a,b]", "H": "a", "T": "[b]",
	}, nil, 0, 4)
	require.NoError(t, err)

	m, err := source.ParseSource("-module(check).\n" + out + "\n")
	require.NoError(t, err, "rendered text must re-parse:\n%s", out)
	require.Len(t, m.Functions, 1)
	assert.Equal(t, "f", m.Functions[0].Name)
}
