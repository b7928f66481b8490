/*
Package memforge is a general-purpose memory allocator for memory that
lives outside the Go heap.

# Quick Start

	p, err := memforge.Malloc(256)
	if err != nil {
	    return err
	}
	defer memforge.Free(p)

	buf := memforge.Bytes(p, 256)
	copy(buf, payload)

The package-level functions use the process-wide allocator returned by
Default. It initializes itself on first use from the MEMFORGE_*
environment variables. Independent allocators come from New:

	a, err := memforge.New(&memforge.Options{
	    Strategy:      memforge.BestFit,
	    MmapThreshold: 64 << 10,
	    ThreadSafe:    memforge.Bool(true),
	})

# Design

Memory is obtained from the operating system (mmap on Unix, VirtualAlloc
on Windows) and carved into blocks kept on size-class segregated free
lists. Requests at or above the mmap threshold get their own mapping.
Freed blocks coalesce with free neighbours.

An allocator owns several arenas, each with its own lock. Unbound calls
take the first arena that is not busy; a Thread handle stays on one arena:

	t, err := a.Thread()
	p, err := t.Malloc(64)

# Configuration

Options fields left at their zero value fall back to the environment,
then to the defaults:

	MEMFORGE_MMAP_THRESHOLD   direct-mapping threshold (128KiB)
	MEMFORGE_PAGE_SIZE        growth granularity, power of two (OS page)
	MEMFORGE_STRATEGY         first-fit | best-fit | hybrid, or 0 | 1 | 2 (hybrid)
	MEMFORGE_DEBUG            debug logging and ownership checks (false)
	MEMFORGE_THREAD_SAFE      arena locking (true)
	MEMFORGE_ARENA_COUNT      number of arenas (4)
	MEMFORGE_SEGMENT_SIZE     smallest heap extension (128KiB)
	MEMFORGE_MEMORY_LIMIT     cap on bytes held from the OS (unlimited)
	MEMFORGE_SIZE_CLASSES     balanced | fine | coarse (balanced)

Invalid values are ignored.

# Errors

Free, Realloc and friends validate the header in front of the pointer.
A damaged header yields ErrCorrupt, a second free ErrDoubleFree:

	if err := memforge.Free(p); errors.Is(err, memforge.ErrDoubleFree) {
	    ...
	}

Check walks every structure and returns a *ValidationError describing
the first inconsistency. Built with -tags memforge_strict, invalid
pointers panic and freed memory is filled with 0xDD.

# Garbage Collection

Allocator memory is not scanned by the garbage collector. Do not store the
only reference to a Go heap object in it.
*/
package memforge
