package memforge

import "unsafe"

var std Allocator

// Default returns the process-wide allocator. It initializes itself from
// the environment on first use.
func Default() *Allocator { return &std }

// Init initializes the process-wide allocator with opts.
func Init(opts *Options) error { return std.Init(opts) }

// Cleanup releases the process-wide allocator's memory.
func Cleanup() error { return std.Cleanup() }

func Malloc(size uintptr) (unsafe.Pointer, error) { return std.Malloc(size) }

func Free(p unsafe.Pointer) error { return std.Free(p) }

func Calloc(n, size uintptr) (unsafe.Pointer, error) { return std.Calloc(n, size) }

func Realloc(p unsafe.Pointer, size uintptr) (unsafe.Pointer, error) { return std.Realloc(p, size) }

func Memalign(align, size uintptr) unsafe.Pointer { return std.Memalign(align, size) }

func AlignedAlloc(align, size uintptr) unsafe.Pointer { return std.AlignedAlloc(align, size) }

func PosixMemalign(align, size uintptr) (unsafe.Pointer, error) {
	return std.PosixMemalign(align, size)
}

func Valloc(size uintptr) unsafe.Pointer { return std.Valloc(size) }

func UsableSize(p unsafe.Pointer) uintptr { return std.UsableSize(p) }

func Trim(pad uintptr) (uintptr, error) { return std.Trim(pad) }

// CurrentStats returns the process-wide allocator's counters.
func CurrentStats() Stats { return std.Stats() }
