package heap

// HeapDump is a structured picture of the heap for diagnostics.
type HeapDump struct {
	Config ConfigDump  `json:"config"`
	Stats  Stats       `json:"stats"`
	Arenas []ArenaDump `json:"arenas"`
}

// ConfigDump is the effective configuration.
type ConfigDump struct {
	PageSize      uintptr   `json:"page_size"`
	MmapThreshold uintptr   `json:"mmap_threshold"`
	SegmentSize   uintptr   `json:"segment_size"`
	Strategy      string    `json:"strategy"`
	ThreadSafe    bool      `json:"thread_safe"`
	Debug         bool      `json:"debug"`
	ArenaCount    int       `json:"arena_count"`
	MemoryLimit   uintptr   `json:"memory_limit"`
	SizeClasses   string    `json:"size_classes"`
	ClassBounds   []uintptr `json:"class_bounds"`
}

type ArenaDump struct {
	Index      int            `json:"index"`
	Allocated  uint64         `json:"allocated"`
	Freed      uint64         `json:"freed"`
	Contention uint64         `json:"contention"`
	HeapBytes  uintptr        `json:"heap_bytes"`
	Segments   []SegmentDump  `json:"segments"`
	FreeLists  []FreeListDump `json:"free_lists"`
	Mapped     []BlockDump    `json:"mapped"`
}

type SegmentDump struct {
	Addr   uintptr     `json:"addr"`
	Size   uintptr     `json:"size"`
	Blocks []BlockDump `json:"blocks,omitempty"`
}

// FreeListDump summarizes one non-empty free list. Bound is 0 for the
// oversized list.
type FreeListDump struct {
	Class int     `json:"class"`
	Bound uintptr `json:"bound"`
	Count int     `json:"count"`
	Bytes uintptr `json:"bytes"`
}

// BlockDump describes one block. Addr is the payload address.
type BlockDump struct {
	Addr   uintptr `json:"addr"`
	Size   uintptr `json:"size"`
	Free   bool    `json:"free,omitempty"`
	Mapped bool    `json:"mapped,omitempty"`
}

// Dump captures the heap one arena at a time. With blocks false the
// per-block listing of segments is left out.
func (h *Heap) Dump(blocks bool) HeapDump {
	cfg := h.Config()
	d := HeapDump{
		Config: ConfigDump{
			PageSize:      cfg.PageSize,
			MmapThreshold: cfg.MmapThreshold,
			SegmentSize:   cfg.SegmentSize,
			Strategy:      cfg.Strategy.String(),
			ThreadSafe:    cfg.ThreadSafe,
			Debug:         cfg.Debug,
			ArenaCount:    len(h.dir.arenas),
			MemoryLimit:   cfg.MemoryLimit,
			SizeClasses:   h.classes.String(),
			ClassBounds:   h.classes.Bounds(),
		},
	}
	if h.closed.Load() {
		d.Stats = h.Stats()
		return d
	}

	for _, a := range h.dir.arenas {
		h.lockArena(a)
		d.Arenas = append(d.Arenas, a.dump(h, blocks))
		a.unlock()
	}
	d.Stats = h.Stats()
	return d
}

func (a *arena) dump(h *Heap, blocks bool) ArenaDump {
	ad := ArenaDump{
		Index:      int(a.index),
		Allocated:  a.allocated,
		Freed:      a.freed,
		Contention: a.contention.Load(),
		HeapBytes:  a.heapSize,
	}

	for s := a.segs; s != nil; s = s.next {
		sd := SegmentDump{Addr: s.addr(), Size: s.size}
		if blocks {
			for b := s.first(); b != s.fence(); b = b.following() {
				sd.Blocks = append(sd.Blocks, BlockDump{
					Addr: uintptr(b.payload()),
					Size: b.size,
					Free: b.isFree(),
				})
			}
		}
		ad.Segments = append(ad.Segments, sd)
	}

	for c := 0; c <= h.classes.NumClasses(); c++ {
		if a.lists.count[c] == 0 {
			continue
		}
		fd := FreeListDump{Class: c, Bound: h.classes.Bound(c)}
		for b := a.lists.heads[c]; b != nil; b = b.next {
			fd.Count++
			fd.Bytes += b.size
		}
		ad.FreeLists = append(ad.FreeLists, fd)
	}

	for b := a.mapped; b != nil; b = b.next {
		ad.Mapped = append(ad.Mapped, BlockDump{Addr: uintptr(b.payload()), Size: b.size, Mapped: true})
	}
	return ad
}
