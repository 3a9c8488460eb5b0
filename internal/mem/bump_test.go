package mem

import (
	"errors"
	"sync"
	"testing"
)

func TestBumpAllocate(t *testing.T) {
	var a BumpAllocator
	if _, err := a.Allocate(8, 8); !errors.Is(err, ErrUninitialized) {
		t.Fatalf("Allocate before Init: %v", err)
	}
	if err := a.Init(0x80001001, 0x80002000); err != nil {
		t.Fatalf("Init: %v", err)
	}

	tests := []struct {
		size, align uint64
		want        uint64
	}{
		{16, 16, 0x80001010},
		{1, 0, 0x80001020},
		{8, 8, 0x80001028},
		{0x100, 0x1000, 0},
	}
	for _, tt := range tests {
		got, err := a.Allocate(tt.size, tt.align)
		if tt.want == 0 {
			if !errors.Is(err, ErrOutOfMemory) {
				t.Fatalf("Allocate(%d, %d) = %#x, %v; want out of memory", tt.size, tt.align, got, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("Allocate(%d, %d) = %#x, %v; want %#x", tt.size, tt.align, got, err, tt.want)
		}
	}
	if got := a.Available(); got != 0x80002000-0x80001030 {
		t.Fatalf("Available = %#x", got)
	}
}

func TestBumpErrors(t *testing.T) {
	var a BumpAllocator
	if err := a.Init(0x2000, 0x1000); err == nil {
		t.Fatalf("Init accepted an inverted range")
	}
	if err := a.Init(0x1000, 0x2000); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := a.Allocate(8, 3); !errors.Is(err, ErrBadAlignment) {
		t.Fatalf("align 3: %v", err)
	}
	if _, err := a.Allocate(^uint64(0), 1); !errors.Is(err, ErrOutOfMemory) {
		t.Fatalf("overflowing size: %v", err)
	}
	if _, err := a.Allocate(0x1000, 1); err != nil {
		t.Fatalf("exact fit: %v", err)
	}
	if a.Available() != 0 {
		t.Fatalf("Available = %d", a.Available())
	}
}

func TestBumpConcurrent(t *testing.T) {
	var a BumpAllocator
	if err := a.Init(0, 64*100); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[uint64]bool)
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr, err := a.Allocate(64, 64)
			if err != nil {
				t.Errorf("Allocate: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[addr] {
				t.Errorf("address %#x handed out twice", addr)
			}
			seen[addr] = true
		}()
	}
	wg.Wait()
	if a.Available() != 0 {
		t.Fatalf("Available = %d", a.Available())
	}
}
