package heap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memforge/internal/sizeclass"
)

func Test_Block_Layout(t *testing.T) {
	require.Zero(t, HeaderSize%Alignment)
	require.GreaterOrEqual(t, HeaderSize, unsafe.Sizeof(blockHeader{}))
	require.Zero(t, segHeaderSize%Alignment)
	require.Equal(t, 2*unsafe.Sizeof(uintptr(0)), Alignment)
	if unsafe.Sizeof(uintptr(0)) == 8 {
		require.Equal(t, uintptr(48), HeaderSize)
	}
}

func Test_Block_Request(t *testing.T) {
	tests := []struct {
		in, want uintptr
	}{
		{0, MinUnit},
		{1, MinUnit},
		{MinUnit, MinUnit},
		{MinUnit + 1, 2 * Alignment},
		{100, 112},
		{4096, 4096},
	}
	for _, tc := range tests {
		got, ok := request(tc.in)
		require.True(t, ok)
		require.Equal(t, tc.want, got, "request(%d)", tc.in)
	}

	_, ok := request(^uintptr(0))
	require.False(t, ok)
}

// Test_FreeLists_Find exercises the store on headers laid out in a plain buffer.
func Test_FreeLists_Find(t *testing.T) {
	table := sizeclass.MustNew(sizeclass.Default)
	buf := make([]byte, 8*HeaderSize)
	hdr := func(i int, size uintptr) *blockHeader {
		return initBlock(unsafe.Pointer(&buf[uintptr(i)*HeaderSize]), size, 0, nil, flagFree, 0)
	}

	var fl freeLists
	require.Nil(t, fl.find(table, 64, Hybrid), "empty store finds nothing")

	b704 := hdr(0, 704)
	b608 := hdr(1, 608)
	b4k := hdr(2, 4096)
	fl.add(table, b4k)
	fl.add(table, b608)
	fl.add(table, b704)

	require.Same(t, b704, fl.find(table, 520, FirstFit))
	fl.add(table, b704)
	require.Same(t, b608, fl.find(table, 520, BestFit))
	fl.add(table, b608)
	// b608 is back at the head, and hybrid takes the first fit in the class.
	require.Same(t, b608, fl.find(table, 520, Hybrid))
	fl.add(table, b608)

	// Nothing in the request's class: every strategy climbs to the 4 KiB block.
	for _, s := range []Strategy{FirstFit, BestFit, Hybrid} {
		got := fl.find(table, 1000, s)
		require.Same(t, b4k, got, s.String())
		fl.add(table, got)
	}

	require.Nil(t, fl.find(table, 8192, BestFit))

	fl.remove(table, b608)
	fl.remove(table, b704)
	fl.remove(table, b4k)
	for c := range fl.heads {
		require.Nil(t, fl.heads[c])
		require.Zero(t, fl.count[c])
	}
}

func Test_Strategy_String(t *testing.T) {
	require.Equal(t, "first-fit", FirstFit.String())
	require.Equal(t, "best-fit", BestFit.String())
	require.Equal(t, "hybrid", Hybrid.String())
	require.Equal(t, "unknown", Strategy(5).String())
	require.False(t, Strategy(5).Valid())
}
