package heap

import (
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memforge/internal/sysmem"
)

const testPage = 4096

// newTestHeap builds a heap from DefaultConfig with opts applied and
// closes it when the test ends.
func newTestHeap(t testing.TB, opts ...func(*Config)) *Heap {
	t.Helper()
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	h, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func singleArena(c *Config) { c.ArenaCount = 1 }

func withBackend(b sysmem.Backend) func(*Config) {
	return func(c *Config) { c.Backend = b }
}

func view(p unsafe.Pointer, n uintptr) []byte {
	return unsafe.Slice((*byte)(p), n)
}

func fillPattern(p unsafe.Pointer, n uintptr, seed byte) {
	buf := view(p, n)
	for i := range buf {
		buf[i] = seed + byte(i)
	}
}

func patternIntact(p unsafe.Pointer, n uintptr, seed byte) bool {
	for i, c := range view(p, n) {
		if c != seed+byte(i) {
			return false
		}
	}
	return true
}

func requireValid(t testing.TB, h *Heap) {
	t.Helper()
	require.NoError(t, h.Check())
}

// slabBackend serves heap extensions from one contiguous slab so that
// consecutive extensions always adjoin. Direct mappings are separate
// page-aligned slices.
type slabBackend struct {
	mu     sync.Mutex
	slab   []byte
	brk    uintptr
	keep   [][]byte
	heap   int // live heap regions
	direct int // live direct regions
}

func newSlabBackend(size uintptr) *slabBackend {
	return &slabBackend{slab: pageAligned(size)}
}

func pageAligned(n uintptr) []byte {
	raw := make([]byte, n+testPage)
	off := sysmem.RoundUp(uintptr(unsafe.Pointer(unsafe.SliceData(raw))), testPage) -
		uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	return raw[off : off+n : off+n]
}

func (s *slabBackend) ExtendHeap(size uintptr) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := sysmem.RoundUp(size, testPage)
	if n > uintptr(len(s.slab))-s.brk {
		return nil, sysmem.ErrNoMemory
	}
	mem := s.slab[s.brk : s.brk+n : s.brk+n]
	clear(mem)
	s.brk += n
	s.heap++
	return mem, nil
}

func (s *slabBackend) MapDirect(size uintptr) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mem := pageAligned(sysmem.RoundUp(size, testPage))
	s.keep = append(s.keep, mem)
	s.direct++
	return mem, nil
}

func (s *slabBackend) Release(kind sysmem.Kind, mem []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == sysmem.KindDirect {
		s.direct--
		return nil
	}
	s.heap--
	start := uintptr(unsafe.Pointer(unsafe.SliceData(mem))) - uintptr(unsafe.Pointer(unsafe.SliceData(s.slab)))
	if start+uintptr(len(mem)) == s.brk {
		s.brk = start
	}
	return nil
}

func (s *slabBackend) Adjoins(prev, next []byte) bool {
	return uintptr(unsafe.Pointer(unsafe.SliceData(prev)))+uintptr(len(prev)) ==
		uintptr(unsafe.Pointer(unsafe.SliceData(next)))
}

func (s *slabBackend) PageSize() uintptr { return testPage }

func (s *slabBackend) Close() error { return nil }
