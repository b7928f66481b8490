// Package sysmem obtains raw memory from the operating system.
//
// # Paths
//
// Two acquisition paths are exposed through the Backend interface:
//
//   - ExtendHeap: incremental heap growth. On unix and windows the backend
//     reserves one large range of address space up front (PROT_NONE /
//     MEM_RESERVE) and commits successive page runs from it, emulating a
//     program break. Consecutive extensions are therefore usually adjacent,
//     which lets callers grow a segment in place (see Adjoins). When the
//     reservation is exhausted the backend falls back to fresh mappings.
//   - MapDirect: one private anonymous mapping per call, used for large
//     blocks and for allocator book-keeping.
//
// Release returns memory. Heap regions inside the reservation are decommitted
// (and the break lowered when the region sits at the top); everything else is
// unmapped.
//
// # Platforms
//
//	backend_unix.go     golang.org/x/sys/unix  mmap, mprotect, madvise
//	backend_windows.go  golang.org/x/sys/windows VirtualAlloc, VirtualFree
//	backend_other.go    Go heap, for targets without either
//
// # Thread Safety
//
// Backends are safe for concurrent use; they serialize internally.
package sysmem
