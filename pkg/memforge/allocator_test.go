package memforge

import (
	"errors"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAllocator(t testing.TB, opts *Options) *Allocator {
	t.Helper()
	a, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Cleanup() })
	return a
}

func TestAllocator_LazyInit(t *testing.T) {
	var a Allocator
	defer a.Cleanup()

	require.Equal(t, Uninitialized, a.State())
	require.Equal(t, Stats{}, a.Stats())
	require.True(t, a.Validate())

	p, err := a.Malloc(10)
	require.NoError(t, err)
	require.Equal(t, Ready, a.State())
	require.NoError(t, a.Free(p))
}

func TestAllocator_Lifecycle(t *testing.T) {
	a := newAllocator(t, &Options{ArenaCount: 2})
	require.Equal(t, Ready, a.State())

	require.NoError(t, a.Init(&Options{ArenaCount: 7}), "second init is a no-op")
	require.Equal(t, 2, a.Options().ArenaCount)

	p, err := a.Malloc(64)
	require.NoError(t, err)

	require.NoError(t, a.Cleanup())
	require.Equal(t, Uninitialized, a.State())
	require.NoError(t, a.Cleanup(), "second cleanup is a no-op")
	require.ErrorIs(t, a.Free(p), ErrClosed)
	require.Zero(t, a.UsableSize(p))

	require.NoError(t, a.Reset())
	require.Equal(t, Ready, a.State())
	require.Equal(t, 2, a.Options().ArenaCount, "reset keeps the last options")
	require.Zero(t, a.Stats().AllocationCount)
}

func TestAllocator_InitRejectsBadOptions(t *testing.T) {
	for name, opts := range map[string]*Options{
		"page size": {PageSize: 3000},
		"strategy":  {Strategy: Strategy(42)},
		"layout":    {SizeClasses: "jumbo"},
		"arenas":    {ArenaCount: 1000},
		"negative":  {ArenaCount: -1},
	} {
		t.Run(name, func(t *testing.T) {
			a, err := New(opts)
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.Nil(t, a)
		})
	}

	var a Allocator
	require.ErrorIs(t, a.Init(&Options{PageSize: 3}), ErrInvalidConfig)
	require.Equal(t, Uninitialized, a.State())
}

func TestAllocator_EntryPoints(t *testing.T) {
	a := newAllocator(t, nil)

	p, err := a.Malloc(100)
	require.NoError(t, err)
	copy(Bytes(p, 100), "hello")
	require.GreaterOrEqual(t, a.UsableSize(p), uintptr(100))

	p, err = a.Realloc(p, 10_000)
	require.NoError(t, err)
	require.Equal(t, "hello", string(Bytes(p, 5)))
	require.NoError(t, a.Free(p))

	z, err := a.Calloc(10, 10)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 100), Bytes(z, 100))
	require.NoError(t, a.Free(z))

	_, err = a.Calloc(^uintptr(0), 16)
	require.ErrorIs(t, err, ErrOverflow)

	for _, align := range []uintptr{64, 4096} {
		m := a.Memalign(align, 33)
		require.NotNil(t, m)
		require.Zero(t, uintptr(m)%align)
		require.NoError(t, a.Free(m))

		m = a.AlignedAlloc(align, align)
		require.NotNil(t, m)
		require.Zero(t, uintptr(m)%align)
		require.NoError(t, a.Free(m))
	}

	_, err = a.PosixMemalign(3, 8)
	require.ErrorIs(t, err, ErrInvalidAlignment)
	require.Nil(t, a.Memalign(48, 8))

	v := a.Valloc(1)
	require.NotNil(t, v)
	require.Zero(t, uintptr(v)%a.Options().PageSize)
	require.NoError(t, a.Free(v))

	require.Nil(t, Bytes(nil, 10))
	require.NoError(t, a.Free(nil))
	require.True(t, a.Validate())
	require.Zero(t, a.Stats().CurrentUsage)
}

func TestAllocator_ThresholdScenario(t *testing.T) {
	a := newAllocator(t, &Options{MmapThreshold: 1024})

	big, err := a.Malloc(2048)
	require.NoError(t, err)
	small, err := a.Malloc(64)
	require.NoError(t, err)
	require.Equal(t, uint64(1), a.Stats().MmapCount)

	require.NoError(t, a.SetMmapThreshold(4096))
	mid, err := a.Malloc(2048)
	require.NoError(t, err)
	require.Equal(t, uint64(1), a.Stats().MmapCount)

	for _, p := range []unsafe.Pointer{big, small, mid} {
		require.NoError(t, a.Free(p))
	}
	require.NoError(t, a.Check())
}

func TestAllocator_SetStrategy(t *testing.T) {
	a := newAllocator(t, nil)
	require.Equal(t, Hybrid, a.Strategy())
	require.NoError(t, a.SetStrategy(FirstFit))
	require.Equal(t, FirstFit, a.Strategy())
	require.ErrorIs(t, a.SetStrategy(Strategy(9)), ErrInvalidConfig)
	require.Equal(t, FirstFit, a.Strategy())
}

func TestAllocator_ThreadUnsafe(t *testing.T) {
	a := newAllocator(t, &Options{ThreadSafe: Bool(false), ArenaCount: 8})
	opts := a.Options()
	require.False(t, *opts.ThreadSafe)
	require.Equal(t, 1, opts.ArenaCount)

	p, err := a.Malloc(1)
	require.NoError(t, err)
	require.NoError(t, a.Free(p))
}

func TestAllocator_MemoryLimit(t *testing.T) {
	a := newAllocator(t, &Options{ArenaCount: 1, MemoryLimit: 2 << 20})

	_, err := a.Malloc(4 << 20)
	require.ErrorIs(t, err, ErrNoMemory)
	require.True(t, a.Validate())
	require.Zero(t, a.Stats().AllocationCount)
}

func TestAllocator_TrimAndDump(t *testing.T) {
	a := newAllocator(t, &Options{ArenaCount: 1})

	var ptrs []unsafe.Pointer
	for range 8 {
		p, err := a.Malloc(100 << 10)
		require.NoError(t, err)
		ptrs = append(ptrs, p)
	}
	d := a.Dump(false)
	require.Len(t, d.Arenas, 1)
	require.NotEmpty(t, d.Arenas[0].Segments)
	require.Equal(t, "hybrid", d.Config.Strategy)

	for _, p := range ptrs {
		require.NoError(t, a.Free(p))
	}
	n, err := a.Trim(0)
	require.NoError(t, err)
	require.NotZero(t, n)
	require.Empty(t, a.Dump(false).Arenas[0].Segments)
}

func TestThread_PinnedAllocation(t *testing.T) {
	a := newAllocator(t, &Options{ArenaCount: 2})

	t1, err := a.Thread()
	require.NoError(t, err)
	t2, err := a.Thread()
	require.NoError(t, err)
	require.NotEqual(t, t1.Arena(), t2.Arena())

	p, err := t1.Malloc(300)
	require.NoError(t, err)
	p, err = t1.Realloc(p, 600)
	require.NoError(t, err)
	q, err := t2.Calloc(3, 100)
	require.NoError(t, err)
	r, err := t2.PosixMemalign(128, 10)
	require.NoError(t, err)
	require.Zero(t, uintptr(r)%128)

	// Cross-handle frees land in the owning arena.
	require.NoError(t, t2.Free(p))
	require.NoError(t, t1.Free(q))
	require.NoError(t, t1.Free(r))
	require.NoError(t, t1.Free(nil))
	require.True(t, a.Validate())

	require.NoError(t, a.Reset())
	_, err = t1.Malloc(8)
	require.ErrorIs(t, err, ErrClosed)
}

// TestAllocator_ConcurrentStress mixes Thread handles and unbound calls.
func TestAllocator_ConcurrentStress(t *testing.T) {
	const goroutines = 8
	cycles := 3000
	if testing.Short() {
		cycles = 300
	}
	a := newAllocator(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, goroutines)
	for g := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			malloc, free := a.Malloc, a.Free
			if g%2 == 1 {
				th, err := a.Thread()
				if err != nil {
					errs <- err
					return
				}
				malloc, free = th.Malloc, th.Free
			}
			errs <- churn(g, cycles, malloc, free)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, a.Check())
	st := a.Stats()
	assert.Zero(t, st.CurrentUsage)
	assert.Equal(t, st.AllocationCount, st.FreeCount)
}

func churn(id, cycles int, malloc func(uintptr) (unsafe.Pointer, error), free func(unsafe.Pointer) error) error {
	var live []unsafe.Pointer
	var sizes []uintptr
	tag := byte(id + 1)
	for i := range cycles {
		if i%3 == 2 && len(live) > 0 {
			j := (i * 7) % len(live)
			for _, c := range Bytes(live[j], sizes[j]) {
				if c != tag {
					return errors.New("block contents clobbered")
				}
			}
			if err := free(live[j]); err != nil {
				return err
			}
			live = append(live[:j], live[j+1:]...)
			sizes = append(sizes[:j], sizes[j+1:]...)
			continue
		}
		n := uintptr(8 + (i*37+id*11)%3000)
		p, err := malloc(n)
		if err != nil {
			return err
		}
		buf := Bytes(p, n)
		for k := range buf {
			buf[k] = tag
		}
		live = append(live, p)
		sizes = append(sizes, n)
	}
	for _, p := range live {
		if err := free(p); err != nil {
			return err
		}
	}
	return nil
}

func TestDefault_PackageFunctions(t *testing.T) {
	t.Cleanup(func() { _ = Cleanup() })
	require.Same(t, Default(), Default())

	p, err := Malloc(32)
	require.NoError(t, err)
	require.Equal(t, Ready, Default().State())
	require.GreaterOrEqual(t, UsableSize(p), uintptr(32))

	p, err = Realloc(p, 64)
	require.NoError(t, err)
	q, err := Calloc(2, 2)
	require.NoError(t, err)
	m := Memalign(256, 1)
	require.NotNil(t, m)
	al := AlignedAlloc(64, 64)
	require.NotNil(t, al)
	pm, err := PosixMemalign(32, 1)
	require.NoError(t, err)
	v := Valloc(1)
	require.NotNil(t, v)

	for _, ptr := range []unsafe.Pointer{p, q, m, al, pm, v} {
		require.NoError(t, Free(ptr))
	}
	require.NotZero(t, CurrentStats().AllocationCount)
	_, err = Trim(0)
	require.NoError(t, err)

	require.NoError(t, Cleanup())
	require.NoError(t, Init(&Options{ArenaCount: 1}))
	require.Equal(t, 1, Default().Options().ArenaCount)
}
