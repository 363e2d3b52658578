package stack

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/me/rumpsched/pkg/model"
)

func testAllocator(t *testing.T, pages int) *PageAllocator {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := NewPageAllocator(4096, pages, logger)
	if err != nil {
		t.Fatalf("NewPageAllocator: %v", err)
	}
	return a
}

func TestNewPageAllocator_Invalid(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name     string
		pageSize int
		pages    int
	}{
		{"not power of two", 3000, 4},
		{"too small", 8, 4},
		{"no pages", 4096, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPageAllocator(tt.pageSize, tt.pages, logger); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestAlloc_RoundsToPagesAndAligns(t *testing.T) {
	a := testAllocator(t, 8)

	r, err := a.Alloc(5000)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if r.Size != 8192 {
		t.Errorf("Size = %d, want 8192", r.Size)
	}
	if r.Base%4096 != 0 {
		t.Errorf("Base %#x not page aligned", r.Base)
	}
	if r.Top()%16 != 0 {
		t.Errorf("Top %#x not 16-byte aligned", r.Top())
	}
	if len(r.Bytes()) != int(r.Size) {
		t.Errorf("len(Bytes()) = %d, want %d", len(r.Bytes()), r.Size)
	}
	if used, total := a.Usage(); used != 2 || total != 8 {
		t.Errorf("Usage() = %d/%d, want 2/8", used, total)
	}
}

func TestAlloc_ExhaustionReturnsErrNoMemory(t *testing.T) {
	a := testAllocator(t, 2)

	if _, err := a.Alloc(8192); err != nil {
		t.Fatalf("first Alloc: %v", err)
	}
	_, err := a.Alloc(1)
	if !errors.Is(err, model.ErrNoMemory) {
		t.Fatalf("Alloc on full arena: err = %v, want ErrNoMemory", err)
	}
}

func TestFree_ReusesPages(t *testing.T) {
	a := testAllocator(t, 3)

	r1, _ := a.Alloc(4096)
	r2, _ := a.Alloc(4096)
	a.Free(r1)

	r3, err := a.Alloc(4096)
	if err != nil {
		t.Fatalf("Alloc after free: %v", err)
	}
	if r3.Base != r1.Base {
		t.Errorf("first fit should reuse %#x, got %#x", r1.Base, r3.Base)
	}
	if r2.Base == r3.Base {
		t.Error("live regions must not overlap")
	}

	// Two pages need a contiguous run: only the last page is free.
	if _, err := a.Alloc(8192); !errors.Is(err, model.ErrNoMemory) {
		t.Errorf("fragmented Alloc: err = %v, want ErrNoMemory", err)
	}
}

func TestCheck_DetectsClobberedCanary(t *testing.T) {
	a := testAllocator(t, 2)
	r, _ := a.Alloc(4096)

	if !a.Check(r) {
		t.Fatal("fresh region should pass Check")
	}
	r.Bytes()[0] ^= 0xff
	if a.Check(r) {
		t.Error("Check should fail after the canary is overwritten")
	}
	if !a.Check(Region{}) {
		t.Error("zero Region should pass Check")
	}
}

func TestFree_ZeroRegion(t *testing.T) {
	a := testAllocator(t, 1)
	a.Free(Region{})
	if used, _ := a.Usage(); used != 0 {
		t.Errorf("used = %d, want 0", used)
	}
}
