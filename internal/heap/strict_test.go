//go:build memforge_strict

package heap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_Strict_PanicsOnDoubleFree(t *testing.T) {
	h := newTestHeap(t, singleArena)

	p, err := h.Malloc(64)
	require.NoError(t, err)
	_, err = h.Malloc(64)
	require.NoError(t, err)

	require.NoError(t, h.Free(p))
	require.Panics(t, func() { _ = h.Free(p) })
}

func Test_Strict_PoisonsFreedPayload(t *testing.T) {
	h := newTestHeap(t, singleArena)

	p, err := h.Malloc(64)
	require.NoError(t, err)
	_, err = h.Malloc(64)
	require.NoError(t, err)

	fillPattern(p, 64, 0)
	require.NoError(t, h.Free(p))
	for i, c := range view(p, 64) {
		require.Equal(t, byte(poisonByte), c, "byte %d", i)
	}
}
