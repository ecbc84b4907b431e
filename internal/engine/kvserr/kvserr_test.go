package kvserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsMatchesKind(t *testing.T) {
	err := New(NotFound, "key missing")
	require.True(t, Is(err, NotFound))
	require.False(t, Is(err, IoError))
}

func TestIsFalseForPlainError(t *testing.T) {
	require.False(t, Is(errors.New("boom"), NotFound))
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(IoError, "flush segment", cause)
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "disk full")
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(New(CorruptState, "id gap"))
	require.True(t, ok)
	require.Equal(t, CorruptState, kind)

	_, ok = KindOf(errors.New("plain"))
	require.False(t, ok)
}
