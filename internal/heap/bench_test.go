package heap

import (
	"fmt"
	"testing"
	"unsafe"
)

func BenchmarkMallocFree(b *testing.B) {
	for _, size := range []uintptr{16, 256, 4096, 200_000} {
		b.Run(sizeName(size), func(b *testing.B) {
			h := newTestHeap(b)
			b.ReportAllocs()
			for b.Loop() {
				p, err := h.Malloc(size)
				if err != nil {
					b.Fatal(err)
				}
				if err := h.Free(p); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkMallocFree_Parallel(b *testing.B) {
	h := newTestHeap(b)
	b.RunParallel(func(pb *testing.PB) {
		pin := h.Pin()
		var ring [64]unsafe.Pointer
		i := 0
		for pb.Next() {
			if ring[i] != nil {
				if err := pin.Free(ring[i]); err != nil {
					b.Error(err)
					return
				}
			}
			p, err := pin.Malloc(uintptr(16 + i*24))
			if err != nil {
				b.Error(err)
				return
			}
			ring[i] = p
			i = (i + 1) % len(ring)
		}
		for _, p := range ring {
			_ = pin.Free(p)
		}
	})
}

func BenchmarkStrategies(b *testing.B) {
	for _, s := range []Strategy{FirstFit, BestFit, Hybrid} {
		b.Run(s.String(), func(b *testing.B) {
			h := newTestHeap(b, singleArena, func(c *Config) { c.Strategy = s })
			// Fragment the heap so searches have work to do.
			var keep []unsafe.Pointer
			for i := range 512 {
				p, _ := h.Malloc(uintptr(32 + (i%17)*48))
				if i%2 == 0 {
					_ = h.Free(p)
				} else {
					keep = append(keep, p)
				}
			}
			b.ResetTimer()
			for b.Loop() {
				p, err := h.Malloc(300)
				if err != nil {
					b.Fatal(err)
				}
				_ = h.Free(p)
			}
			b.StopTimer()
			for _, p := range keep {
				_ = h.Free(p)
			}
		})
	}
}

func sizeName(n uintptr) string {
	if n >= 1<<10 {
		return fmt.Sprintf("%dKiB", n>>10)
	}
	return fmt.Sprintf("%dB", n)
}
