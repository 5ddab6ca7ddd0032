//go:build linux && amd64

package vm

import (
	"github.com/wardenvm/warden/kvm"
)

// SystemControl is the slice of the hypervisor system surface the
// machine consumes: the host-supported CPUID table. *kvm.System
// satisfies it.
type SystemControl interface {
	SupportedCPUID() ([]kvm.CPUIDEntry, error)
}

// MachineControl is the per-VM hypervisor surface: memory slot
// registration and vCPU creation.
type MachineControl interface {
	SetUserMemoryRegion(kvm.UserspaceMemoryRegion) error
	CreateVCPU(id uint32) (VCPUControl, error)
	Close() error
}

// VCPUControl is the per-vCPU hypervisor surface a thread drives.
// *kvm.VCPU satisfies it.
type VCPUControl interface {
	GetRegs() (*kvm.Regs, error)
	SetRegs(*kvm.Regs) error
	GetSregs() (*kvm.Sregs, error)
	SetSregs(*kvm.Sregs) error
	SetCPUID2([]kvm.CPUIDEntry) error
	Run() (kvm.Exit, error)
	Close() error
}

// kvmControl adapts *kvm.VM to MachineControl so the concrete
// CreateVCPU return type satisfies the interface.
type kvmControl struct {
	vm *kvm.VM
}

func (k kvmControl) SetUserMemoryRegion(region kvm.UserspaceMemoryRegion) error {
	return k.vm.SetUserMemoryRegion(region)
}

func (k kvmControl) CreateVCPU(id uint32) (VCPUControl, error) {
	return k.vm.CreateVCPU(id)
}

func (k kvmControl) Close() error {
	return k.vm.Close()
}
