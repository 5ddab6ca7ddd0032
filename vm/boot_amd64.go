//go:build linux && amd64

package vm

import "github.com/wardenvm/warden/kvm"

// Control register and EFER bits for 64-bit boot.
const (
	cr0PE = 1 << 0
	cr0MP = 1 << 1
	cr0ET = 1 << 4
	cr0NE = 1 << 5
	cr0WP = 1 << 16
	cr0AM = 1 << 18
	cr0PG = 1 << 31

	cr4PAE = 1 << 5

	eferLME = 1 << 8
	eferLMA = 1 << 10

	// Bit 1 of RFLAGS is fixed to one.
	rflagsReserved = 1 << 1
)

// applyLongMode rewrites sregs for flat 64-bit execution with paging
// rooted at pageTable.
func applyLongMode(sregs *kvm.Sregs, pageTable uint64) {
	code := kvm.Segment{
		Base:     0,
		Limit:    0xffffffff,
		Selector: 1 << 3,
		Present:  1,
		Type:     11,
		S:        1,
		L:        1,
		G:        1,
	}
	data := code
	data.Selector = 2 << 3
	data.Type = 3
	data.L = 0
	data.DB = 1

	sregs.CS = code
	sregs.DS = data
	sregs.ES = data
	sregs.FS = data
	sregs.GS = data
	sregs.SS = data

	sregs.CR3 = pageTable
	sregs.CR4 = cr4PAE
	sregs.CR0 = cr0PE | cr0MP | cr0ET | cr0NE | cr0WP | cr0AM | cr0PG
	sregs.EFER = eferLME | eferLMA
}
