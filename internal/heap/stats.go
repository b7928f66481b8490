package heap

import (
	"sync/atomic"
)

// Stats is a point-in-time copy of the heap counters. Byte counts are
// payload bytes except TotalMapped, which counts every byte held from the
// backend.
type Stats struct {
	TotalMapped     uint64 `json:"total_mapped"`
	TotalAllocated  uint64 `json:"total_allocated"`
	TotalFreed      uint64 `json:"total_freed"`
	CurrentUsage    uint64 `json:"current_usage"`
	PeakUsage       uint64 `json:"peak_usage"`
	AllocationCount uint64 `json:"allocation_count"`
	FreeCount       uint64 `json:"free_count"`
	MmapCount       uint64 `json:"mmap_count"`
	HeapExtensions  uint64 `json:"heap_extensions"`
	Splits          uint64 `json:"splits"`
	Coalesces       uint64 `json:"coalesces"`
	Trims           uint64 `json:"trims"`
	Contention      uint64 `json:"contention"`
}

// counters are updated without the arena locks.
type counters struct {
	totalMapped     atomic.Uint64
	totalAllocated  atomic.Uint64
	totalFreed      atomic.Uint64
	currentUsage    atomic.Uint64
	peakUsage       atomic.Uint64
	allocationCount atomic.Uint64
	freeCount       atomic.Uint64
	mmapCount       atomic.Uint64
	heapExtensions  atomic.Uint64
	splits          atomic.Uint64
	coalesces       atomic.Uint64
	trims           atomic.Uint64
	contention      atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		TotalMapped:     c.totalMapped.Load(),
		TotalAllocated:  c.totalAllocated.Load(),
		TotalFreed:      c.totalFreed.Load(),
		CurrentUsage:    c.currentUsage.Load(),
		PeakUsage:       c.peakUsage.Load(),
		AllocationCount: c.allocationCount.Load(),
		FreeCount:       c.freeCount.Load(),
		MmapCount:       c.mmapCount.Load(),
		HeapExtensions:  c.heapExtensions.Load(),
		Splits:          c.splits.Load(),
		Coalesces:       c.coalesces.Load(),
		Trims:           c.trims.Load(),
		Contention:      c.contention.Load(),
	}
}

func (c *counters) mapped(n uintptr) { c.totalMapped.Add(uint64(n)) }

func (c *counters) unmapped(n uintptr) { c.totalMapped.Add(-uint64(n)) }

// allocated records a new block of n payload bytes.
func (c *counters) allocated(n uintptr) {
	c.allocationCount.Add(1)
	c.grew(n)
}

// released records the return of a block of n payload bytes.
func (c *counters) released(n uintptr) {
	c.freeCount.Add(1)
	c.shrank(n)
}

// grew and shrank track in-place size changes without counting a block.
func (c *counters) grew(n uintptr) {
	c.totalAllocated.Add(uint64(n))
	usage := c.currentUsage.Add(uint64(n))
	for {
		peak := c.peakUsage.Load()
		if usage <= peak || c.peakUsage.CompareAndSwap(peak, usage) {
			return
		}
	}
}

func (c *counters) shrank(n uintptr) {
	c.totalFreed.Add(uint64(n))
	c.currentUsage.Add(-uint64(n))
}
