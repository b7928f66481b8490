//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package sysmem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtendHeap_ConsecutiveRegionsAdjoin(t *testing.T) {
	b, err := newOS(DefaultOptions())
	require.NoError(t, err)
	defer b.Close()
	require.NotNil(t, b.reserve, "reservation should succeed on a 64-bit unix test host")

	first, err := b.ExtendHeap(b.PageSize())
	require.NoError(t, err)
	second, err := b.ExtendHeap(2 * b.PageSize())
	require.NoError(t, err)

	require.True(t, b.Adjoins(first, second))
	require.False(t, b.Adjoins(second, first))
	require.Equal(t, 3*b.PageSize(), b.brk)

	// Releasing the union in one call is allowed for adjoining regions.
	union := first[:len(first)+len(second)]
	require.NoError(t, b.Release(KindHeap, union))
	require.Zero(t, b.brk, "releasing the top of the break lowers it")
}

func TestRelease_MiddleRegionKeepsBreak(t *testing.T) {
	b, err := newOS(DefaultOptions())
	require.NoError(t, err)
	defer b.Close()

	page := b.PageSize()
	low, err := b.ExtendHeap(page)
	require.NoError(t, err)
	top, err := b.ExtendHeap(page)
	require.NoError(t, err)

	require.NoError(t, b.Release(KindHeap, low))
	require.Equal(t, 2*page, b.brk)

	require.NoError(t, b.Release(KindHeap, top))
	require.Equal(t, page, b.brk)
}

func TestExtendHeap_FallsBackWhenReservationExhausted(t *testing.T) {
	b, err := newOS(Options{ReserveSize: 1})
	require.NoError(t, err)
	defer b.Close()

	page := b.PageSize()
	inside, err := b.ExtendHeap(page)
	require.NoError(t, err)
	require.Equal(t, page, b.brk)

	outside, err := b.ExtendHeap(page)
	require.NoError(t, err)
	require.Equal(t, page, b.brk, "fallback mapping must not move the break")

	fill(outside, 7)
	require.NoError(t, b.Release(KindHeap, outside))
	require.NoError(t, b.Release(KindHeap, inside))
}

func TestRelease_RejectsMisalignedRegion(t *testing.T) {
	b, err := newOS(DefaultOptions())
	require.NoError(t, err)
	defer b.Close()

	mem, err := b.MapDirect(2 * b.PageSize())
	require.NoError(t, err)
	require.ErrorIs(t, b.Release(KindDirect, mem[1:]), ErrBadRegion)
	require.NoError(t, b.Release(KindDirect, mem))
}
