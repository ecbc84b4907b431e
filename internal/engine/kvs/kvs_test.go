package kvs

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gtarraga/kvs/internal/engine/kvserr"
)

func TestSetGetRemove(t *testing.T) {
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Set("a", "1"))
	v, ok, err := st.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "1", v)

	require.NoError(t, st.Set("a", "2"))
	v, ok, err = st.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)

	require.NoError(t, st.Remove("a"))
	_, ok, err = st.Get("a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetMissingKey(t *testing.T) {
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	_, ok, err := st.Get("nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRemoveMissingKeyIsNotFound(t *testing.T) {
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	err = st.Remove("nope")
	require.True(t, kvserr.Is(err, kvserr.NotFound))
}

func TestCloneSharesState(t *testing.T) {
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	clone := st.Clone()
	require.NoError(t, clone.Set("shared", "value"))

	v, ok, err := st.Get("shared")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", v)
}

func TestReopenReplaysLog(t *testing.T) {
	dir := t.TempDir()

	st, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.Set("k1", "v1"))
	require.NoError(t, st.Set("k2", "v2"))
	require.NoError(t, st.Remove("k1"))
	require.NoError(t, st.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok, err := reopened.Get("k1")
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := reopened.Get("k2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", v)
}

func TestCompactionPreservesLatestValues(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, WithThreshold(1))
	require.NoError(t, err)
	defer st.Close()

	// Each Set crosses the 1-byte threshold, so every subsequent append
	// triggers a compaction cycle first.
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("key-%d", i%5)
		require.NoError(t, st.Set(key, fmt.Sprintf("val-%d", i)))
	}
	require.NoError(t, st.Remove("key-0"))

	_, ok, err := st.Get("key-0")
	require.NoError(t, err)
	require.False(t, ok)

	for i := 1; i < 5; i++ {
		v, ok, err := st.Get(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		require.True(t, ok)
		require.NotEmpty(t, v)
	}
}

func TestCompactionKeepsSegmentIdsContiguous(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir, WithThreshold(1))
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, st.Set(fmt.Sprintf("k%d", i), "v"))
	}
	require.NoError(t, st.Close())

	ids, err := discoverSegmentIDs(dir)
	require.NoError(t, err)
	require.NoError(t, requireContiguous(ids))
	require.LessOrEqual(t, len(ids), 2)
}

func TestOpenRefusesLeftoverCompactLock(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	lockPath := filepath.Join(dir, compactLockFile)
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))

	_, err = Open(dir)
	require.True(t, kvserr.Is(err, kvserr.CorruptState))
}

func TestOpenRejectsNonContiguousIDs(t *testing.T) {
	require.Error(t, requireContiguous([]int{2, 4}))
	require.NoError(t, requireContiguous([]int{2, 3}))
	require.NoError(t, requireContiguous([]int{5}))
}
