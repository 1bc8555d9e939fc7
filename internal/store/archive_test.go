package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := NewArchive(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchive_SaveAndGet(t *testing.T) {
	a := testArchive(t)
	rec := &Reconstruction{
		ID:       uuid.NewString(),
		Module:   "demo",
		Function: "f",
		Arity:    1,
		Status:   "complete",
		Document: "%% call demo:f/1\nf(X) ->\n    3.",
	}
	require.NoError(t, a.Save(rec))
	assert.False(t, rec.CreatedAt.IsZero(), "save stamps the record")

	got, err := a.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Module, got.Module)
	assert.Equal(t, rec.Arity, got.Arity)
	assert.Equal(t, rec.Document, got.Document)
}

func TestArchive_GetMissing(t *testing.T) {
	a := testArchive(t)
	_, err := a.Get(uuid.NewString())
	assert.ErrorContains(t, err, "not found")
}

func TestArchive_ListNewestFirst(t *testing.T) {
	a := testArchive(t)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		require.NoError(t, a.Save(&Reconstruction{
			ID:        uuid.NewString(),
			Module:    "demo",
			Function:  fmt.Sprintf("f%d", i),
			Arity:     0,
			Status:    "complete",
			Document:  "doc",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	recs, err := a.List(10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "f2", recs[0].Function)
	assert.Equal(t, "f0", recs[2].Function)
	// list omits document bodies
	assert.Empty(t, recs[0].Document)
}

func TestArchive_ListLimit(t *testing.T) {
	a := testArchive(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, a.Save(&Reconstruction{
			ID: uuid.NewString(), Module: "m", Function: "f", Status: "complete", Document: "d",
		}))
	}
	recs, err := a.List(2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestArchive_ReopenPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.db")
	a, err := NewArchive(path)
	require.NoError(t, err)
	id := uuid.NewString()
	require.NoError(t, a.Save(&Reconstruction{
		ID: id, Module: "m", Function: "f", Status: "partial", Document: "d",
	}))
	require.NoError(t, a.Close())

	b, err := NewArchive(path)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "partial", got.Status)
}
