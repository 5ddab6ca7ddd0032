//go:build linux && amd64

package vm

import (
	"fmt"
	"io"
	"math"
	"unsafe"

	"github.com/wardenvm/warden/kvm"
	"github.com/wardenvm/warden/mmap"
)

// Machine owns the ordered region list and the hypervisor handles of
// one keep. It performs no locking of its own; Keep serializes all
// access.
type Machine struct {
	sys     SystemControl
	ctl     MachineControl
	regions []*Region
	ids     idAllocator

	// Guest physical addresses recorded by the builder: where the
	// shim image begins and where execution enters it.
	shimStart uint64
	shimEntry uint64

	closed bool
}

func newMachine(sys SystemControl, ctl MachineControl) *Machine {
	return &Machine{sys: sys, ctl: ctl}
}

// addMemory maps pages of zero-initialized read-write memory, registers
// it as the next memory slot directly after the last region, and
// appends the new region. On any failure nothing stays registered, the
// mapping is released, and the region list is unchanged. Returns the
// host virtual base of the new region.
func (m *Machine) addMemory(pages uint64) (uintptr, error) {
	if m.closed {
		return 0, ErrKeepClosed
	}
	if pages == 0 {
		recordRegionFailure()
		return 0, ErrNoPages
	}

	// Security: Prevent integer overflow vulnerabilities
	if pages > math.MaxInt32/PageSize {
		recordRegionFailure()
		return 0, fmt.Errorf("vm: region of %d pages too large (max %d bytes)", pages, math.MaxInt32)
	}
	size := pages * PageSize

	backing, err := mmap.Anonymous(int(size))
	if err != nil {
		recordRegionFailure()
		return 0, fmt.Errorf("failed to back %d-page region: %w", pages, err)
	}

	// The mapping is released unless ownership transfers into the
	// region list.
	registered := false
	defer func() {
		if !registered {
			backing.Release()
		}
	}()

	var base uint64
	if n := len(m.regions); n > 0 {
		base = m.regions[n-1].AsGuest().End()
	}

	desc := kvm.UserspaceMemoryRegion{
		Slot:          uint32(len(m.regions)),
		GuestPhysAddr: base,
		MemorySize:    size,
		UserspaceAddr: uint64(backing.Addr()),
	}
	if err := m.ctl.SetUserMemoryRegion(desc); err != nil {
		recordRegionFailure()
		return 0, fmt.Errorf("failed to register %d-page region at guest 0x%x: %w", pages, base, err)
	}

	m.regions = append(m.regions, newRegion(desc, backing))
	registered = true
	recordRegionAdd(size)

	return backing.Addr(), nil
}

// addThread allocates the next vCPU id and constructs its thread. The
// id is consumed even when construction fails. Only the boot thread
// (id 0) is supported; it is handed the shim start address in RSI and
// the guest physical address of the shared pages in RDI, sees the full
// host CPUID, and boots with CR3 at the prefix page tables.
func (m *Machine) addThread(keep *Keep) (Thread, error) {
	if m.closed {
		return nil, ErrKeepClosed
	}

	id := m.ids.nextID()
	if id != 0 {
		recordThreadFailure()
		return nil, fmt.Errorf("failed to add thread %d: %w", id, ErrUnsupported)
	}
	if len(m.regions) == 0 {
		recordThreadFailure()
		return nil, fmt.Errorf("vm: keep has no boot region")
	}

	region0 := m.regions[0]
	prefix := region0.Prefix()

	sharedGuest, err := region0.TranslateToGuest(uintptr(unsafe.Pointer(&prefix.SharedPages[0])))
	if err != nil {
		recordThreadFailure()
		return nil, fmt.Errorf("failed to locate shared pages: %w", err)
	}
	tableGuest, err := region0.TranslateToGuest(uintptr(unsafe.Pointer(&prefix.PML4T)))
	if err != nil {
		recordThreadFailure()
		return nil, fmt.Errorf("failed to locate boot page tables: %w", err)
	}

	vcpu, err := m.ctl.CreateVCPU(id)
	if err != nil {
		recordThreadFailure()
		return nil, fmt.Errorf("failed to create vCPU %d: %w", id, err)
	}

	regs, err := vcpu.GetRegs()
	if err != nil {
		vcpu.Close()
		recordThreadFailure()
		return nil, fmt.Errorf("failed to read vCPU %d registers: %w", id, err)
	}
	regs.RSI = m.shimStart
	regs.RDI = sharedGuest
	if err := vcpu.SetRegs(regs); err != nil {
		vcpu.Close()
		recordThreadFailure()
		return nil, fmt.Errorf("failed to write vCPU %d registers: %w", id, err)
	}

	entries, err := m.sys.SupportedCPUID()
	if err != nil {
		vcpu.Close()
		recordThreadFailure()
		return nil, fmt.Errorf("failed to query host CPUID: %w", err)
	}
	if err := vcpu.SetCPUID2(entries); err != nil {
		vcpu.Close()
		recordThreadFailure()
		return nil, fmt.Errorf("failed to install CPUID for vCPU %d: %w", id, err)
	}

	recordThreadStart()
	return newCpu(vcpu, id, keep, m.shimEntry, tableGuest), nil
}

// guestSpans snapshots the guest physical layout.
func (m *Machine) guestSpans() []Span {
	spans := make([]Span, len(m.regions))
	for i, r := range m.regions {
		spans[i] = r.AsGuest()
	}
	return spans
}

// close releases every region exactly once and closes the hypervisor
// handles. Idempotent; the first error wins but teardown continues.
func (m *Machine) close() error {
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for _, r := range m.regions {
		if err := r.backing.Release(); err != nil && firstErr == nil {
			firstErr = err
		}
		recordRegionRelease()
	}
	if m.ctl != nil {
		if err := m.ctl.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if closer, ok := m.sys.(io.Closer); ok {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
