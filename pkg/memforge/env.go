package memforge

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/joshuapare/memforge/internal/sizeclass"
)

// Environment variables read at initialization. Sizes accept plain byte
// counts or humanized values such as 256KiB or 1MB.
const (
	EnvMmapThreshold = "MEMFORGE_MMAP_THRESHOLD"
	EnvPageSize      = "MEMFORGE_PAGE_SIZE"
	EnvStrategy      = "MEMFORGE_STRATEGY"
	EnvDebug         = "MEMFORGE_DEBUG"
	EnvThreadSafe    = "MEMFORGE_THREAD_SAFE"
	EnvArenaCount    = "MEMFORGE_ARENA_COUNT"
	EnvSegmentSize   = "MEMFORGE_SEGMENT_SIZE"
	EnvMemoryLimit   = "MEMFORGE_MEMORY_LIMIT"
	EnvSizeClasses   = "MEMFORGE_SIZE_CLASSES"
)

var lookupEnv = os.LookupEnv

// envIssue is an environment value that was ignored.
type envIssue struct {
	name, value string
	err         error
}

// envOptions reads the MEMFORGE_* variables. Invalid values are left
// unset and reported back so they can be logged once logging is up.
func envOptions(lookup func(string) (string, bool)) (Options, []envIssue) {
	var o Options
	var issues []envIssue

	get := func(name string) (string, bool) {
		v, ok := lookup(name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}
	size := func(name string, dst *uintptr, positive bool) {
		v, ok := get(name)
		if !ok {
			return
		}
		n, err := humanize.ParseBytes(v)
		switch {
		case err != nil:
		case positive && n == 0:
			err = errors.New("must be positive")
		case uint64(uintptr(n)) != n:
			err = errors.New("does not fit in an address")
		}
		if err != nil {
			issues = append(issues, envIssue{name, v, err})
			return
		}
		*dst = uintptr(n)
	}
	flag := func(name string, dst **bool) {
		v, ok := get(name)
		if !ok {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			issues = append(issues, envIssue{name, v, err})
			return
		}
		*dst = Bool(b)
	}

	size(EnvMmapThreshold, &o.MmapThreshold, true)
	size(EnvSegmentSize, &o.SegmentSize, true)
	size(EnvMemoryLimit, &o.MemoryLimit, false)

	var page uintptr
	size(EnvPageSize, &page, true)
	if page&(page-1) != 0 {
		issues = append(issues, envIssue{EnvPageSize, strconv.FormatUint(uint64(page), 10), errors.New("not a power of two")})
	} else {
		o.PageSize = page
	}

	if v, ok := get(EnvStrategy); ok {
		s, err := ParseStrategy(v)
		if err != nil {
			issues = append(issues, envIssue{EnvStrategy, v, err})
		} else {
			o.Strategy = s
		}
	}

	flag(EnvDebug, &o.Debug)
	flag(EnvThreadSafe, &o.ThreadSafe)

	if v, ok := get(EnvArenaCount); ok {
		n, err := strconv.Atoi(v)
		if err == nil && n < 1 {
			err = errors.New("must be positive")
		}
		if err != nil {
			issues = append(issues, envIssue{EnvArenaCount, v, err})
		} else {
			o.ArenaCount = n
		}
	}

	if v, ok := get(EnvSizeClasses); ok {
		if _, known := sizeclass.Lookup(v); known {
			o.SizeClasses = v
		} else {
			issues = append(issues, envIssue{EnvSizeClasses, v, errors.New("unknown layout")})
		}
	}
	return o, issues
}
