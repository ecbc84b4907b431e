package sledkv

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gtarraga/kvs/internal/engine/kvserr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "sled.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSetGetRemove(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.Set("a", "1"))
	v, ok, err := st.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	require.NoError(t, st.Remove("a"))
	_, ok, err = st.Get("a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveMissingKeyIsNotFound(t *testing.T) {
	st := newTestStore(t)
	err := st.Remove("nope")
	require.True(t, kvserr.Is(err, kvserr.NotFound))
}

func TestGetMissingKey(t *testing.T) {
	st := newTestStore(t)
	_, ok, err := st.Get("nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCloneSharesState(t *testing.T) {
	st := newTestStore(t)
	clone := st.Clone()
	require.NoError(t, clone.Set("shared", "value"))

	v, ok, err := st.Get("shared")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", v)
}

func TestReopenPersistsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sled.db")

	st, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Set("k", "v"))
	require.NoError(t, st.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)
}
