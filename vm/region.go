//go:build linux && amd64

package vm

import (
	"fmt"
	"unsafe"

	"github.com/wardenvm/warden/kvm"
	"github.com/wardenvm/warden/mmap"
)

// Span is a contiguous address range in one address space.
type Span struct {
	Start uint64
	Size  uint64
}

// End returns the first address past the span.
func (s Span) End() uint64 {
	return s.Start + s.Size
}

// Contains reports whether addr falls inside the span.
func (s Span) Contains(addr uint64) bool {
	return addr >= s.Start && addr < s.End()
}

// Region is one contiguous slice of guest physical address space and
// the single host mapping backing it. The region exclusively owns its
// backing; the machine holding the region releases it on close.
type Region struct {
	desc    kvm.UserspaceMemoryRegion
	backing *mmap.Mapping
}

func newRegion(desc kvm.UserspaceMemoryRegion, backing *mmap.Mapping) *Region {
	return &Region{desc: desc, backing: backing}
}

// Slot returns the memory slot index the region was registered with.
func (r *Region) Slot() uint32 {
	return r.desc.Slot
}

// AsGuest returns the guest physical span of the region.
func (r *Region) AsGuest() Span {
	return Span{Start: r.desc.GuestPhysAddr, Size: r.desc.MemorySize}
}

// AsVirt returns the host virtual span backing the region.
func (r *Region) AsVirt() Span {
	return Span{Start: r.desc.UserspaceAddr, Size: r.desc.MemorySize}
}

// Bytes exposes the backing memory. The slice is invalidated when the
// region is released.
func (r *Region) Bytes() []byte {
	return r.backing.Bytes()
}

// TranslateToGuest converts a host virtual address inside the region
// to its guest physical equivalent. Translation is a constant offset;
// addresses outside the backing span are rejected.
func (r *Region) TranslateToGuest(host uintptr) (uint64, error) {
	virt := r.AsVirt()
	if !virt.Contains(uint64(host)) {
		return 0, fmt.Errorf("%w: 0x%x not in [0x%x, 0x%x)", ErrHostAddress, host, virt.Start, virt.End())
	}
	return r.desc.GuestPhysAddr + (uint64(host) - virt.Start), nil
}

// Prefix returns the boot prefix at the head of region zero. Calling
// it on any other region is a programming error.
func (r *Region) Prefix() *Prefix {
	if r.desc.Slot != 0 {
		panic(fmt.Sprintf("vm: Prefix called on region slot %d", r.desc.Slot))
	}
	return (*Prefix)(unsafe.Pointer(&r.backing.Bytes()[0]))
}
