package touch

import (
	"testing"

	"retrace/internal/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFrom(t *testing.T, src, fn string) []*Clause {
	t.Helper()
	m, err := source.ParseSource(src)
	require.NoError(t, err)
	for _, fd := range m.Functions {
		if fd.Name == fn {
			return Build(fd)
		}
	}
	t.Fatalf("function %s not in source", fn)
	return nil
}

const factSrc = `-module(m).
fact(N, Acc) ->
    case N of
        0 ->
            Acc;
        _ ->
            fact(N - 1, Acc * N)
    end.
`

func TestBuild_NestedStructure(t *testing.T) {
	cs := buildFrom(t, factSrc, "fact")
	require.Len(t, cs, 1)
	assert.Equal(t, 2, cs[0].Line)
	// the case contributes two sub-clauses in line order
	require.Len(t, cs[0].Subs, 2)
	assert.Equal(t, 4, cs[0].Subs[0].Line)
	assert.Equal(t, 6, cs[0].Subs[1].Line)
	assert.True(t, cs[0].Subs[0].Line < cs[0].Subs[1].Line)
}

func TestMarkReached_SelectsContainingClause(t *testing.T) {
	cs := buildFrom(t, factSrc, "fact")

	MarkReached(cs, 7)
	assert.True(t, cs[0].Touched)
	assert.False(t, cs[0].Subs[0].Touched, "dead alternative must stay untouched")
	assert.True(t, cs[0].Subs[1].Touched)
}

func TestMarkReached_Idempotent(t *testing.T) {
	cs := buildFrom(t, factSrc, "fact")
	MarkReached(cs, 7)
	before := Touched(cs)
	MarkReached(cs, 7)
	assert.Equal(t, before, Touched(cs))
}

func TestMarkReached_NeverUntouches(t *testing.T) {
	cs := buildFrom(t, factSrc, "fact")
	MarkReached(cs, 7)
	MarkReached(cs, 2) // back at the clause head
	assert.True(t, cs[0].Touched)
	assert.True(t, cs[0].Subs[1].Touched, "prior touch survives")
}

func TestMarkReached_DeadAlternativeStaysDead(t *testing.T) {
	cs := buildFrom(t, factSrc, "fact")
	MarkReached(cs, 7)
	// a backwards line into the branch execution never took must not
	// mark it once the other alternative already won the group
	MarkReached(cs, 5)
	assert.False(t, cs[0].Subs[0].Touched, "earlier alternative stays untouched")
	assert.True(t, cs[0].Subs[1].Touched)
}

const loopSrc = `-module(m).
loop([]) ->
    done;
loop([H | T]) ->
    loop(T).
`

func TestMarkReached_DeadFunctionClauseStaysDead(t *testing.T) {
	cs := buildFrom(t, loopSrc, "loop")
	require.Len(t, cs, 2)
	MarkReached(cs, 5)
	MarkReached(cs, 3)
	assert.False(t, cs[0].Touched, "first clause never ran in this pass")
	assert.True(t, cs[1].Touched)
}

func TestMarkReached_AtMostOnePerGroupPerCall(t *testing.T) {
	cs := buildFrom(t, factSrc, "fact")
	MarkReached(cs, 5)
	group := cs[0].Subs
	n := 0
	for _, c := range group {
		if c.Touched {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestMarkReached_EmptyAndBeforeFirst(t *testing.T) {
	assert.Nil(t, MarkReached(nil, 10))

	cs := buildFrom(t, factSrc, "fact")
	MarkReached(cs, 1) // before any clause starts
	assert.Empty(t, Touched(cs))
}

func TestRepeats(t *testing.T) {
	cs := buildFrom(t, factSrc, "fact")

	// nothing touched yet: a stop is never a repeat
	assert.False(t, Repeats(cs, 2, 0))

	MarkReached(cs, 2)
	MarkReached(cs, 7)

	// re-entry at the clause head after reaching line 7 is a repeat
	assert.True(t, Repeats(cs, 2, 7))
	// advancing past the furthest line is progress
	assert.False(t, Repeats(cs, 8, 7))
	// a line before every clause is no hit at all
	assert.False(t, Repeats(cs, 1, 7))
}

func TestRepeats_EarlierClauseReentry(t *testing.T) {
	cs := buildFrom(t, loopSrc, "loop")
	MarkReached(cs, 4)
	MarkReached(cs, 5)

	// the tail call lands in the first clause, untouched but dead for
	// this pass: a new pass, not progress
	assert.True(t, Repeats(cs, 2, 5))
	// with nothing touched the same line is never a repeat
	fresh := buildFrom(t, loopSrc, "loop")
	assert.False(t, Repeats(fresh, 2, 5))
}

func TestTouchedAndKnown(t *testing.T) {
	cs := buildFrom(t, factSrc, "fact")
	MarkReached(cs, 7)

	known := Known(cs)
	assert.True(t, known[2])
	assert.True(t, known[4])
	assert.True(t, known[6])

	touched := Touched(cs)
	assert.True(t, touched[2])
	assert.False(t, touched[4])
	assert.True(t, touched[6])
}
