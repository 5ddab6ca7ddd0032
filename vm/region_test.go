//go:build linux && amd64

package vm

import (
	"errors"
	"strings"
	"testing"
	"unsafe"

	"github.com/wardenvm/warden/kvm"
	"github.com/wardenvm/warden/mmap"
)

func TestSpan(t *testing.T) {
	span := Span{Start: 0x1000, Size: 0x3000}

	if got := span.End(); got != 0x4000 {
		t.Errorf("Expected end 0x4000, got 0x%x", got)
	}

	tests := []struct {
		name string
		addr uint64
		want bool
	}{
		{"start is inside", 0x1000, true},
		{"interior is inside", 0x2abc, true},
		{"last byte is inside", 0x3fff, true},
		{"end is outside", 0x4000, false},
		{"below start is outside", 0xfff, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := span.Contains(tt.addr); got != tt.want {
				t.Errorf("Contains(0x%x) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestTranslateToGuest(t *testing.T) {
	backing, err := mmap.Anonymous(4 * PageSize)
	if err != nil {
		t.Fatalf("Failed to map backing: %v", err)
	}
	defer backing.Release()

	region := newRegion(kvm.UserspaceMemoryRegion{
		Slot:          0,
		GuestPhysAddr: 0x100000,
		MemorySize:    4 * PageSize,
		UserspaceAddr: uint64(backing.Addr()),
	}, backing)

	base := backing.Addr()

	tests := []struct {
		name    string
		host    uintptr
		want    uint64
		wantErr bool
	}{
		{"region base", base, 0x100000, false},
		{"interior offset", base + 0x1234, 0x101234, false},
		{"last byte", base + 4*PageSize - 1, 0x103fff, false},
		{"one past the end", base + 4*PageSize, 0, true},
		{"below the base", base - 1, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := region.TranslateToGuest(tt.host)
			if tt.wantErr {
				if !errors.Is(err, ErrHostAddress) {
					t.Fatalf("Expected ErrHostAddress, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("TranslateToGuest(0x%x) failed: %v", tt.host, err)
			}
			if got != tt.want {
				t.Errorf("Expected guest 0x%x, got 0x%x", tt.want, got)
			}
		})
	}
}

func TestRegionSpans(t *testing.T) {
	backing, err := mmap.Anonymous(2 * PageSize)
	if err != nil {
		t.Fatalf("Failed to map backing: %v", err)
	}
	defer backing.Release()

	region := newRegion(kvm.UserspaceMemoryRegion{
		Slot:          3,
		GuestPhysAddr: 0x8000,
		MemorySize:    2 * PageSize,
		UserspaceAddr: uint64(backing.Addr()),
	}, backing)

	if got := region.Slot(); got != 3 {
		t.Errorf("Expected slot 3, got %d", got)
	}
	if got := region.AsGuest(); got != (Span{Start: 0x8000, Size: 2 * PageSize}) {
		t.Errorf("Unexpected guest span %+v", got)
	}
	if got := region.AsVirt(); got != (Span{Start: uint64(backing.Addr()), Size: 2 * PageSize}) {
		t.Errorf("Unexpected virtual span %+v", got)
	}
	if got := len(region.Bytes()); got != 2*PageSize {
		t.Errorf("Expected %d backing bytes, got %d", 2*PageSize, got)
	}
}

func TestPrefixLayout(t *testing.T) {
	if got := unsafe.Offsetof(Prefix{}.SharedPages); got != 0 {
		t.Errorf("Expected shared pages at offset 0, got 0x%x", got)
	}
	if got := unsafe.Offsetof(Prefix{}.PML4T); got != 2*PageSize {
		t.Errorf("Expected PML4T at offset 0x%x, got 0x%x", 2*PageSize, got)
	}
	if got := unsafe.Offsetof(Prefix{}.PDPT); got != 3*PageSize {
		t.Errorf("Expected PDPT at offset 0x%x, got 0x%x", 3*PageSize, got)
	}
	if PrefixSize != 4*PageSize {
		t.Errorf("Expected prefix size 0x%x, got 0x%x", 4*PageSize, PrefixSize)
	}
}

func TestBuildPageTables(t *testing.T) {
	var prefix Prefix
	prefix.buildPageTables(0)

	if got, want := prefix.PML4T[0], uint64(3*PageSize|entryPresent|entryWritable); got != want {
		t.Errorf("Expected PML4T[0]=0x%x, got 0x%x", want, got)
	}
	for i := 0; i < 4; i++ {
		want := uint64(i)<<30 | entryPresent | entryWritable | entryHuge
		if got := prefix.PDPT[i]; got != want {
			t.Errorf("Expected PDPT[%d]=0x%x, got 0x%x", i, want, got)
		}
	}
	if got := prefix.PDPT[4]; got != 0 {
		t.Errorf("Expected PDPT[4] unset, got 0x%x", got)
	}

	// A relocated region shifts only the PDPT pointer, not the
	// identity-mapped frames.
	prefix.buildPageTables(0x40000)
	if got, want := prefix.PML4T[0], uint64((0x40000+3*PageSize)|entryPresent|entryWritable); got != want {
		t.Errorf("Expected relocated PML4T[0]=0x%x, got 0x%x", want, got)
	}
	if got, want := prefix.PDPT[1], uint64(1<<30|entryPresent|entryWritable|entryHuge); got != want {
		t.Errorf("Expected PDPT[1]=0x%x, got 0x%x", want, got)
	}
}

func TestPrefixPanicsOffBootRegion(t *testing.T) {
	backing, err := mmap.Anonymous(int(PrefixSize))
	if err != nil {
		t.Fatalf("Failed to map backing: %v", err)
	}
	defer backing.Release()

	region := newRegion(kvm.UserspaceMemoryRegion{
		Slot:          2,
		GuestPhysAddr: 0x10000,
		MemorySize:    uint64(PrefixSize),
		UserspaceAddr: uint64(backing.Addr()),
	}, backing)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Expected Prefix to panic on a non-boot region")
		}
		if msg, ok := r.(string); !ok || !strings.Contains(msg, "slot 2") {
			t.Errorf("Unexpected panic value: %v", r)
		}
	}()
	region.Prefix()
}
