//go:build linux && amd64

package vm

import "unsafe"

// PageSize is the guest page granularity. Regions are sized and placed
// in multiples of it.
const PageSize = 0x1000

// Page is one guest page.
type Page [PageSize]byte

// PageTable is one page of 64-bit page table entries.
type PageTable [512]uint64

// Page table entry bits used by the boot identity map.
const (
	entryPresent  = 1 << 0
	entryWritable = 1 << 1
	entryHuge     = 1 << 7
)

// Prefix is the fixed head of region zero: the pages shared between
// host and guest, followed by the top-level page tables the boot
// thread starts with. Field order is guest ABI.
type Prefix struct {
	SharedPages [2]Page
	PML4T       PageTable
	PDPT        PageTable
}

// PrefixSize is the size of the boot prefix in bytes, a page multiple.
const PrefixSize = unsafe.Sizeof(Prefix{})

// buildPageTables writes the boot identity map: one PML4 entry points
// at the PDPT, whose huge entries cover the low 4 GiB of guest
// physical space. regionStart is the guest physical address the
// prefix lives at.
func (p *Prefix) buildPageTables(regionStart uint64) {
	pdpt := regionStart + uint64(unsafe.Offsetof(Prefix{}.PDPT))
	p.PML4T[0] = pdpt | entryPresent | entryWritable
	for i := 0; i < 4; i++ {
		p.PDPT[i] = uint64(i)<<30 | entryPresent | entryWritable | entryHuge
	}
}
