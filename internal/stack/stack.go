// Package stack is the region allocator glue the scheduler uses for thread
// stacks and TLS storage.
package stack

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/me/rumpsched/pkg/model"
)

// Canary is written to the lowest word of every region. A stack that grows
// past its base overwrites it.
const Canary uint64 = 0x670c1a5e_d0c0ffee

// canarySize is the number of bytes reserved for the canary.
const canarySize = 8

// Region is an exclusively owned block of memory. Base is aligned to the
// allocator's page size and Size is a whole number of pages.
type Region struct {
	Base uintptr
	Size uintptr

	mem []byte
}

// Top returns the address one past the end of the region, where a
// downward-growing stack starts.
func (r Region) Top() uintptr { return r.Base + r.Size }

// IsZero reports whether r is the zero Region (no memory).
func (r Region) IsZero() bool { return r.Size == 0 }

// Bytes exposes the backing memory.
func (r Region) Bytes() []byte { return r.mem }

// Allocator hands out regions for stacks and TLS blocks.
type Allocator interface {
	Alloc(size uintptr) (Region, error)
	Free(r Region)
	// Check reports whether the region's canary is intact.
	Check(r Region) bool
}

// PageAllocator manages a fixed arena of pages with first-fit allocation.
type PageAllocator struct {
	logger   *slog.Logger
	pageSize uintptr
	base     uintptr
	arena    []byte
	used     []bool
	inUse    int
}

// ArenaBase is the address the arena is mapped at. Any page-aligned value
// works; a fixed one keeps diagnostics reproducible.
const ArenaBase uintptr = 0x4000_0000

// NewPageAllocator creates an allocator over pages pages of pageSize bytes.
// pageSize must be a power of two of at least 16 bytes.
func NewPageAllocator(pageSize, pages int, logger *slog.Logger) (*PageAllocator, error) {
	if pageSize < 16 || pageSize&(pageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d: must be a power of two >= 16", pageSize)
	}
	if pages <= 0 {
		return nil, fmt.Errorf("page count %d: must be positive", pages)
	}
	a := &PageAllocator{
		logger:   logger.With("component", "stack"),
		pageSize: uintptr(pageSize),
		base:     ArenaBase,
		arena:    make([]byte, pageSize*pages),
		used:     make([]bool, pages),
	}
	a.logger.Debug("arena ready",
		"pages", pages,
		"page_size", humanize.IBytes(uint64(pageSize)),
		"total", humanize.IBytes(uint64(pageSize*pages)),
	)
	return a, nil
}

// PageSize returns the allocation unit.
func (a *PageAllocator) PageSize() uintptr { return a.pageSize }

// Alloc returns a region of at least size bytes rounded up to whole pages.
// It returns model.ErrNoMemory when no run of free pages is large enough.
func (a *PageAllocator) Alloc(size uintptr) (Region, error) {
	if size == 0 {
		size = a.pageSize
	}
	n := int((size + a.pageSize - 1) / a.pageSize)

	start, run := -1, 0
	for i, u := range a.used {
		if u {
			run = 0
			continue
		}
		run++
		if run == n {
			start = i - n + 1
			break
		}
	}
	if start < 0 {
		a.logger.Warn("allocation failed",
			"want", humanize.IBytes(uint64(n)*uint64(a.pageSize)),
			"free_pages", len(a.used)-a.inUse,
		)
		return Region{}, fmt.Errorf("alloc %s: %w", humanize.IBytes(uint64(size)), model.ErrNoMemory)
	}

	for i := start; i < start+n; i++ {
		a.used[i] = true
	}
	a.inUse += n

	off := uintptr(start) * a.pageSize
	r := Region{
		Base: a.base + off,
		Size: uintptr(n) * a.pageSize,
		mem:  a.arena[off : off+uintptr(n)*a.pageSize : off+uintptr(n)*a.pageSize],
	}
	binary.LittleEndian.PutUint64(r.mem[:canarySize], Canary)
	return r, nil
}

// Free returns a region's pages to the arena. Freeing the zero Region is a
// no-op.
func (a *PageAllocator) Free(r Region) {
	if r.IsZero() {
		return
	}
	start := int((r.Base - a.base) / a.pageSize)
	n := int(r.Size / a.pageSize)
	for i := start; i < start+n; i++ {
		a.used[i] = false
	}
	a.inUse -= n
	clear(r.mem)
}

// Check implements Allocator. Regions not backed by memory (the boot
// stack) always pass.
func (a *PageAllocator) Check(r Region) bool {
	if len(r.mem) < canarySize {
		return true
	}
	return binary.LittleEndian.Uint64(r.mem[:canarySize]) == Canary
}

// Usage returns the number of pages in use and the total.
func (a *PageAllocator) Usage() (used, total int) {
	return a.inUse, len(a.used)
}
