package records

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWatcher_InvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeModule(t, dir, "geo", geoSrc)

	index := newIndex(t, dir)
	s := NewStore(index)
	_, err := s.Load("geo")
	require.NoError(t, err)
	require.Len(t, s.List(), 2)

	w, err := NewWatcher([]string{dir}, s, index)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// rewrite the module with one record gone
	require.NoError(t, os.WriteFile(path, []byte(`-module(geo).
-record(point, {x = 0, y = 0}).

area(_) -> 0.
`), 0o644))

	waitFor(t, 3*time.Second, func() bool {
		return w.Stats().FilesChanged > 0
	})
	waitFor(t, 3*time.Second, func() bool {
		return len(s.List()) == 0
	})

	// the next load picks up the new source
	names, err := s.Load("geo")
	require.NoError(t, err)
	assert.Equal(t, []string{"point"}, names)
}

func TestWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "geo", geoSrc)

	index := newIndex(t, dir)
	s := NewStore(index)
	_, err := s.Load("geo")
	require.NoError(t, err)

	w, err := NewWatcher([]string{dir}, s, index)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, 0, w.Stats().FilesChanged)
	assert.Len(t, s.List(), 2)
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	index := newIndex(t, dir)
	s := NewStore(index)
	w, err := NewWatcher([]string{dir}, s, index)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}
