package calltree

import (
	"errors"
	"testing"

	"retrace/internal/ast"
	"retrace/internal/source"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// srcLoader serves function forms from in-memory module sources.
type srcLoader struct {
	mods map[string]string
}

func (l *srcLoader) FuncForm(module, function string, arity int) (*ast.FuncDecl, error) {
	src, ok := l.mods[module]
	if !ok {
		return nil, errors.New("no such module " + module)
	}
	m, err := source.ParseSource(src)
	if err != nil {
		return nil, err
	}
	for _, fd := range m.Functions {
		if fd.Name == function && fd.Arity == arity {
			return fd, nil
		}
	}
	return nil, errors.New("no such function " + function)
}

const mathSrc = `-module(math).
fact(N, Acc) ->
    case N of
        0 ->
            Acc;
        _ ->
            fact(N - 1, Acc * N)
    end.

double(X) ->
    twice(X).

twice(X) ->
    X + X.

triple(X) ->
    X + X + X.
`

func newMathTree() *Tree {
	return New(&srcLoader{mods: map[string]string{"math": mathSrc}})
}

func key(fn string, arity, depth int) Key {
	return Key{Module: "math", Function: fn, Arity: arity, Depth: depth}
}

func TestUpdate_FirstEventBecomesRootChild(t *testing.T) {
	tr := newMathTree()
	require.NoError(t, tr.Update(key("fact", 2, 1), 2, map[string]string{"N": "3"}))

	require.Equal(t, 2, tr.Len())
	n := tr.Node(1)
	assert.Equal(t, key("fact", 2, 1), n.Key)
	assert.True(t, n.Current)
	assert.Equal(t, 0, n.Parent)
	assert.Equal(t, "3", n.Bindings["N"])
	require.NotNil(t, n.Fun)
	assert.Equal(t, "fact", n.Fun.Name)
}

func TestUpdate_ForwardProgressRefreshesInPlace(t *testing.T) {
	tr := newMathTree()
	require.NoError(t, tr.Update(key("fact", 2, 1), 2, map[string]string{"N": "3"}))
	require.NoError(t, tr.Update(key("fact", 2, 1), 7, map[string]string{"N": "3", "Acc": "1"}))

	require.Equal(t, 2, tr.Len(), "progress within a clause must not add nodes")
	n := tr.Node(1)
	assert.Equal(t, 7, n.Line)
	assert.Equal(t, "1", n.Bindings["Acc"])
}

// Tail recursion: each re-entry at the clause head becomes a fresh
// sibling, never an in-place rewind.
func TestUpdate_TailRecursionSiblings(t *testing.T) {
	tr := newMathTree()
	k := key("fact", 2, 1)
	stops := []struct {
		line int
		bind map[string]string
	}{
		{2, map[string]string{"N": "3", "Acc": "1"}},
		{7, map[string]string{"N": "3", "Acc": "1"}},
		{2, map[string]string{"N": "2", "Acc": "3"}},
		{7, map[string]string{"N": "2", "Acc": "3"}},
		{2, map[string]string{"N": "1", "Acc": "6"}},
		{5, map[string]string{"N": "0", "Acc": "6"}},
	}
	for _, s := range stops {
		require.NoError(t, tr.Update(k, s.line, s.bind))
	}

	want := []int{1, 2, 3}
	if diff := cmp.Diff(want, tr.Root().Children); diff != "" {
		t.Fatalf("root children mismatch (-want +got):\n%s", diff)
	}
	// one current node, the last sibling
	assert.False(t, tr.Node(1).Current)
	assert.False(t, tr.Node(2).Current)
	assert.True(t, tr.Node(3).Current)
	// each pass kept its own bindings snapshot
	assert.Equal(t, "3", tr.Node(1).Bindings["N"])
	assert.Equal(t, "2", tr.Node(2).Bindings["N"])
	assert.Equal(t, "6", tr.Node(3).Bindings["Acc"])
	// the form is loaded once and shared across passes
	assert.Same(t, tr.Node(1).Fun, tr.Node(3).Fun)
}

const loopSrc = `-module(m).
loop([]) ->
    done;
loop([H | T]) ->
    loop(T).
`

// The final pass of a multi-clause tail recursion enters an earlier
// clause; it must become a fresh sibling, never fold into the previous
// pass's node with both alternatives touched and bindings merged.
func TestUpdate_EarlierClauseReentryIsNewSibling(t *testing.T) {
	tr := New(&srcLoader{mods: map[string]string{"m": loopSrc}})
	k := Key{Module: "m", Function: "loop", Arity: 1, Depth: 1}
	require.NoError(t, tr.Update(k, 4, map[string]string{"H": "a", "T": "[]"}))
	require.NoError(t, tr.Update(k, 5, map[string]string{"H": "a", "T": "[]"}))
	// the base case enters the first clause
	require.NoError(t, tr.Update(k, 2, nil))
	require.NoError(t, tr.Update(k, 3, nil))

	require.Equal(t, 3, tr.Len(), "final pass gets its own node")
	assert.Equal(t, []int{1, 2}, tr.Root().Children)

	prev, last := tr.Node(1), tr.Node(2)
	assert.False(t, prev.Clauses[0].Touched, "recursive pass never ran the base clause")
	assert.True(t, prev.Clauses[1].Touched)
	assert.True(t, last.Clauses[0].Touched)
	assert.False(t, last.Clauses[1].Touched, "final pass never ran the recursive clause")
	assert.NotContains(t, last.Bindings, "H", "prior-pass bindings must not leak")
}

func TestUpdate_CalleeAndReturn(t *testing.T) {
	tr := newMathTree()
	require.NoError(t, tr.Update(key("double", 1, 1), 10, map[string]string{"X": "5"}))
	require.NoError(t, tr.Update(key("twice", 1, 2), 13, map[string]string{"X": "5"}))

	assert.Equal(t, 2, tr.CurrentIndex())
	assert.Equal(t, 1, tr.Node(2).Parent)

	// execution returns to the caller
	require.NoError(t, tr.Update(key("double", 1, 1), 11, map[string]string{"X": "5"}))
	assert.Equal(t, 1, tr.CurrentIndex())
	assert.False(t, tr.Node(2).Current)
	assert.Equal(t, 11, tr.Node(1).Line)
}

func TestUpdate_SiblingCallAtSameDepth(t *testing.T) {
	tr := newMathTree()
	require.NoError(t, tr.Update(key("double", 1, 1), 10, nil))
	require.NoError(t, tr.Update(key("twice", 1, 2), 13, nil))
	// a different function shows up at depth 2: new sibling callee
	require.NoError(t, tr.Update(key("triple", 1, 2), 16, nil))

	n1 := tr.Node(1)
	require.Len(t, n1.Children, 2)
	assert.Equal(t, "twice", tr.Node(n1.Children[0]).Key.Function)
	assert.Equal(t, "triple", tr.Node(n1.Children[1]).Key.Function)
	assert.False(t, tr.Node(n1.Children[0]).Current)
	assert.True(t, tr.Node(n1.Children[1]).Current)
}

func TestUpdate_DepthSkipIsCorruption(t *testing.T) {
	tr := newMathTree()
	require.NoError(t, tr.Update(key("double", 1, 1), 10, nil))

	// an event at depth 0 has no frame on the chain
	err := tr.Update(key("double", 1, 0), 10, nil)
	var ce *CorruptionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 10, ce.Line)
}

func TestUpdate_UnknownFunctionSurfacesLoaderError(t *testing.T) {
	tr := newMathTree()
	err := tr.Update(key("missing", 1, 1), 2, nil)
	assert.Error(t, err)
}

func TestWalk_PreOrder(t *testing.T) {
	tr := newMathTree()
	require.NoError(t, tr.Update(key("double", 1, 1), 10, nil))
	require.NoError(t, tr.Update(key("twice", 1, 2), 13, nil))
	require.NoError(t, tr.Update(key("double", 1, 1), 11, nil))

	var seen []string
	tr.Walk(func(idx int, n *Node) {
		seen = append(seen, n.Key.Function)
	})
	assert.Equal(t, []string{"double", "twice"}, seen)
}

func TestCurrentIndex_RootWhenNoChildren(t *testing.T) {
	tr := newMathTree()
	assert.Equal(t, 0, tr.CurrentIndex())
}
