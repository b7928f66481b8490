//go:build !memforge_strict

package memforge

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocator_DoubleFree(t *testing.T) {
	a := newAllocator(t, &Options{ArenaCount: 1})

	p, err := a.Malloc(64)
	require.NoError(t, err)
	guard, err := a.Malloc(64)
	require.NoError(t, err)

	require.NoError(t, a.Free(p))
	require.ErrorIs(t, a.Free(p), ErrDoubleFree)
	require.NoError(t, a.Free(guard))
	require.True(t, a.Validate())
}
