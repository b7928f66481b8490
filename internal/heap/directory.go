package heap

import (
	"sync/atomic"
)

// MaxArenas bounds Config.ArenaCount; block headers store the arena index
// in 16 bits but a handful of arenas is what contention actually needs.
const MaxArenas = 256

// directory is the fixed set of arenas created at init.
type directory struct {
	arenas []*arena
	assign atomic.Uint32 // round-robin counter for pinned handles
	cursor atomic.Uint32 // where unbound callers start probing
}

// next hands out arenas round-robin. A single arena is always returned as is.
func (d *directory) next() *arena {
	if len(d.arenas) == 1 {
		return d.arenas[0]
	}
	i := d.assign.Add(1) - 1
	return d.arenas[int(i%uint32(len(d.arenas)))]
}

// current is the arena unbound callers would try first, unlocked.
func (d *directory) current() *arena {
	return d.arenas[int(d.cursor.Load()%uint32(len(d.arenas)))]
}

// acquire returns a locked arena for an unbound caller. It try-locks every
// arena starting at the cursor, moves the cursor to the first free one,
// and blocks on the cursor arena only when all are busy.
func (d *directory) acquire(h *Heap) *arena {
	n := uint32(len(d.arenas))
	if n == 1 {
		a := d.arenas[0]
		h.lockArena(a)
		return a
	}

	start := d.cursor.Load() % n
	for i := uint32(0); i < n; i++ {
		idx := (start + i) % n
		a := d.arenas[idx]
		if a.tryLock() {
			if i > 0 {
				d.cursor.Store(idx)
			}
			return a
		}
		a.contention.Add(1)
		h.stats.contention.Add(1)
	}

	a := d.arenas[start]
	a.lock()
	return a
}

// lockArena locks a, counting contention when it had to wait.
func (h *Heap) lockArena(a *arena) {
	if a.tryLock() {
		return
	}
	a.contention.Add(1)
	h.stats.contention.Add(1)
	a.lock()
}
