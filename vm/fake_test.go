//go:build linux && amd64

package vm

import (
	"testing"

	"github.com/wardenvm/warden/kvm"
)

// fakeSystem implements SystemControl with a canned CPUID table.
type fakeSystem struct {
	entries  []kvm.CPUIDEntry
	cpuidErr error
	closed   bool
}

func (f *fakeSystem) SupportedCPUID() ([]kvm.CPUIDEntry, error) {
	if f.cpuidErr != nil {
		return nil, f.cpuidErr
	}
	return f.entries, nil
}

func (f *fakeSystem) Close() error {
	f.closed = true
	return nil
}

// fakeControl implements MachineControl, recording every accepted
// region descriptor and created vCPU. Setting regionErr or vcpuErr
// makes the matching call fail until the field is cleared; rejected
// region descriptors are recorded separately.
type fakeControl struct {
	regions  []kvm.UserspaceMemoryRegion
	rejected []kvm.UserspaceMemoryRegion
	vcpus    []*fakeVCPU

	regionErr error
	vcpuErr   error
	closed    bool
}

func (f *fakeControl) SetUserMemoryRegion(region kvm.UserspaceMemoryRegion) error {
	if f.regionErr != nil {
		f.rejected = append(f.rejected, region)
		return f.regionErr
	}
	f.regions = append(f.regions, region)
	return nil
}

func (f *fakeControl) CreateVCPU(id uint32) (VCPUControl, error) {
	if f.vcpuErr != nil {
		return nil, f.vcpuErr
	}
	v := &fakeVCPU{id: id}
	f.vcpus = append(f.vcpus, v)
	return v, nil
}

func (f *fakeControl) Close() error {
	f.closed = true
	return nil
}

// fakeVCPU implements VCPUControl over in-memory register state. Run
// pops exits from a queue and reports a halt once the queue drains.
type fakeVCPU struct {
	id    uint32
	regs  kvm.Regs
	sregs kvm.Sregs
	cpuid []kvm.CPUIDEntry
	exits []kvm.Exit

	getRegsErr  error
	setRegsErr  error
	getSregsErr error
	setSregsErr error
	cpuidErr    error
	runErr      error

	setRegsCalls  int
	setSregsCalls int
	runs          int
	closed        bool
}

func (f *fakeVCPU) GetRegs() (*kvm.Regs, error) {
	if f.getRegsErr != nil {
		return nil, f.getRegsErr
	}
	regs := f.regs
	return &regs, nil
}

func (f *fakeVCPU) SetRegs(regs *kvm.Regs) error {
	if f.setRegsErr != nil {
		return f.setRegsErr
	}
	f.setRegsCalls++
	f.regs = *regs
	return nil
}

func (f *fakeVCPU) GetSregs() (*kvm.Sregs, error) {
	if f.getSregsErr != nil {
		return nil, f.getSregsErr
	}
	sregs := f.sregs
	return &sregs, nil
}

func (f *fakeVCPU) SetSregs(sregs *kvm.Sregs) error {
	if f.setSregsErr != nil {
		return f.setSregsErr
	}
	f.setSregsCalls++
	f.sregs = *sregs
	return nil
}

func (f *fakeVCPU) SetCPUID2(entries []kvm.CPUIDEntry) error {
	if f.cpuidErr != nil {
		return f.cpuidErr
	}
	f.cpuid = append([]kvm.CPUIDEntry(nil), entries...)
	return nil
}

func (f *fakeVCPU) Run() (kvm.Exit, error) {
	f.runs++
	if f.runErr != nil {
		return kvm.Exit{}, f.runErr
	}
	if len(f.exits) == 0 {
		return kvm.Exit{Reason: kvm.ExitHLT}, nil
	}
	exit := f.exits[0]
	f.exits = f.exits[1:]
	return exit, nil
}

func (f *fakeVCPU) Close() error {
	f.closed = true
	return nil
}

// newTestKeep builds a keep over the fakes with a boot region of the
// given page count, its prefix page tables filled in, and shim
// addresses recorded the way the builder records them.
func newTestKeep(t *testing.T, pages uint64) (*Keep, *fakeControl, *fakeSystem) {
	t.Helper()

	sys := &fakeSystem{entries: []kvm.CPUIDEntry{
		{Function: 0, EAX: 0x16},
		{Function: 1, EAX: 0x000906ea},
	}}
	ctl := &fakeControl{}

	m := newMachine(sys, ctl)
	if _, err := m.addMemory(pages); err != nil {
		t.Fatalf("Failed to lay out boot region: %v", err)
	}

	region0 := m.regions[0]
	region0.Prefix().buildPageTables(region0.AsGuest().Start)
	m.shimStart = region0.AsGuest().Start + uint64(PrefixSize)
	m.shimEntry = m.shimStart + 0x38

	keep := newKeep(m)
	t.Cleanup(func() { keep.Close() })
	return keep, ctl, sys
}
