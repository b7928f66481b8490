package heap

import "errors"

var (
	// ErrNoMemory indicates the backend could not supply memory for a request.
	ErrNoMemory = errors.New("heap: out of memory")

	// ErrInvalidAlignment indicates an alignment that is not a power of two or
	// smaller than a pointer.
	ErrInvalidAlignment = errors.New("heap: invalid alignment")

	// ErrOverflow indicates that count*size does not fit in a uintptr.
	ErrOverflow = errors.New("heap: size overflow")

	// ErrCorrupt indicates a block header that failed validation.
	ErrCorrupt = errors.New("heap: corrupt block header")

	// ErrDoubleFree indicates a free of a block that is already free.
	ErrDoubleFree = errors.New("heap: double free")

	// ErrForeignPointer indicates a block that names an arena this heap does not have.
	ErrForeignPointer = errors.New("heap: pointer not owned by this heap")

	// ErrInvalidConfig indicates a Config that New cannot satisfy.
	ErrInvalidConfig = errors.New("heap: invalid configuration")

	// ErrClosed indicates use of a heap after Close.
	ErrClosed = errors.New("heap: closed")
)
