package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
	"unsafe"

	sigar "github.com/cloudfoundry/gosigar"

	"github.com/joshuapare/memforge/pkg/memforge"
)

// workload is a randomized malloc/realloc/free mix run by several
// goroutines against one allocator. Every block is filled with its
// worker's tag and checked before it is resized or freed.
type workload struct {
	goroutines int
	ops        int // per goroutine
	minSize    uintptr
	maxSize    uintptr
	maxLive    int     // per goroutine; 0 sizes it from host memory
	retain     float64 // fraction of the final live set left allocated
	pinned     bool    // use a Thread handle per goroutine
	seed       uint64
}

type workloadResult struct {
	Mallocs  uint64        `json:"mallocs"`
	Reallocs uint64        `json:"reallocs"`
	Frees    uint64        `json:"frees"`
	Failures uint64        `json:"failures"`
	Elapsed  time.Duration `json:"elapsed_ns"`
	MaxLive  int           `json:"max_live"`

	retained []unsafe.Pointer
}

// Ops is the number of allocator calls made.
func (r *workloadResult) Ops() uint64 { return r.Mallocs + r.Reallocs + r.Frees }

// release frees the blocks the workload left allocated.
func (r *workloadResult) release(a *memforge.Allocator) error {
	var errs []error
	for _, p := range r.retained {
		errs = append(errs, a.Free(p))
	}
	r.retained = nil
	return errors.Join(errs...)
}

var errClobbered = errors.New("block contents changed while allocated")

// hostMemory reports total and free physical memory.
func hostMemory() (total, free uint64) {
	mem := sigar.Mem{}
	if err := mem.Get(); err != nil {
		return 0, 0
	}
	return mem.Total, mem.ActualFree
}

// defaultMaxLive keeps the combined live set of all goroutines under an
// eighth of free host memory, between 64 and 4096 blocks each.
func (w *workload) defaultMaxLive() int {
	const lo, hi = 64, 4096
	_, free := hostMemory()
	avg := uint64(w.minSize+w.maxSize)/2 + 1
	if free == 0 {
		return 1024
	}
	n := free / 8 / avg / uint64(max(w.goroutines, 1))
	return int(min(max(n, lo), hi))
}

type slot struct {
	p    unsafe.Pointer
	size uintptr
}

func (w *workload) run(a *memforge.Allocator) (*workloadResult, error) {
	if w.goroutines < 1 || w.ops < 0 {
		return nil, fmt.Errorf("invalid workload: %d goroutines, %d ops", w.goroutines, w.ops)
	}
	if w.minSize > w.maxSize {
		return nil, fmt.Errorf("invalid workload: min size %d above max size %d", w.minSize, w.maxSize)
	}
	res := &workloadResult{MaxLive: w.maxLive}
	if res.MaxLive == 0 {
		res.MaxLive = w.defaultMaxLive()
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = make([]error, w.goroutines)
	)
	start := time.Now()
	for g := range w.goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var st workloadResult
			live, err := w.worker(a, g, res.MaxLive, &st)
			errs[g] = err

			keep := int(float64(len(live)) * w.retain)
			for _, s := range live[keep:] {
				if err := a.Free(s.p); err != nil && errs[g] == nil {
					errs[g] = err
				}
				st.Frees++
			}

			mu.Lock()
			res.Mallocs += st.Mallocs
			res.Reallocs += st.Reallocs
			res.Frees += st.Frees
			res.Failures += st.Failures
			for _, s := range live[:keep] {
				res.retained = append(res.retained, s.p)
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	res.Elapsed = time.Since(start)
	return res, errors.Join(errs...)
}

type allocFuncs struct {
	malloc  func(uintptr) (unsafe.Pointer, error)
	realloc func(unsafe.Pointer, uintptr) (unsafe.Pointer, error)
	free    func(unsafe.Pointer) error
}

func (w *workload) worker(a *memforge.Allocator, id, maxLive int, st *workloadResult) ([]slot, error) {
	fn := allocFuncs{a.Malloc, a.Realloc, a.Free}
	if w.pinned {
		t, err := a.Thread()
		if err != nil {
			return nil, err
		}
		fn = allocFuncs{t.Malloc, t.Realloc, t.Free}
	}

	rng := rand.New(rand.NewPCG(w.seed, uint64(id)))
	tag := byte(id%251 + 1)
	size := func() uintptr {
		span := uint64(w.maxSize - w.minSize)
		return w.minSize + uintptr(rng.Uint64N(span+1))
	}

	live := make([]slot, 0, maxLive)
	for range w.ops {
		r := rng.IntN(10)
		switch {
		case len(live) > 0 && (r < 3 || len(live) >= maxLive):
			i := rng.IntN(len(live))
			s := live[i]
			if !intact(s, tag) {
				return live, errClobbered
			}
			if err := fn.free(s.p); err != nil {
				return live, err
			}
			st.Frees++
			live[i] = live[len(live)-1]
			live = live[:len(live)-1]

		case len(live) > 0 && r < 5:
			i := rng.IntN(len(live))
			s := live[i]
			if !intact(s, tag) {
				return live, errClobbered
			}
			n := size()
			p, err := fn.realloc(s.p, n)
			st.Reallocs++
			if err != nil {
				if !errors.Is(err, memforge.ErrNoMemory) {
					return live, err
				}
				st.Failures++
				continue
			}
			live[i] = slot{p, n}
			stamp(live[i], tag)

		default:
			n := size()
			p, err := fn.malloc(n)
			st.Mallocs++
			if err != nil {
				if !errors.Is(err, memforge.ErrNoMemory) {
					return live, err
				}
				st.Failures++
				continue
			}
			s := slot{p, n}
			stamp(s, tag)
			live = append(live, s)
		}
	}
	return live, nil
}

func stamp(s slot, tag byte) {
	b := memforge.Bytes(s.p, s.size)
	for i := range b {
		b[i] = tag
	}
}

func intact(s slot, tag byte) bool {
	for _, c := range memforge.Bytes(s.p, s.size) {
		if c != tag {
			return false
		}
	}
	return true
}
