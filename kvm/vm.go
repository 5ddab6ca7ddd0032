//go:build linux && amd64

package kvm

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// VM is a handle to one KVM virtual machine descriptor.
type VM struct {
	fd      int
	runSize int
	closed  bool
	closeMu sync.Mutex // Protect against concurrent Close() and finalizer
}

// SetUserMemoryRegion registers (or, with MemorySize 0, deletes) one
// guest memory slot. The guest physical address, userspace address,
// and size must be page-aligned.
func (vm *VM) SetUserMemoryRegion(region UserspaceMemoryRegion) error {
	if vm == nil {
		return fmt.Errorf("kvm: VM is nil")
	}
	vm.closeMu.Lock()
	defer vm.closeMu.Unlock()
	if vm.closed {
		return ErrClosed
	}

	if region.MemorySize == 0 && region.UserspaceAddr != 0 {
		return fmt.Errorf("%w: slot %d", ErrEmptyRegion, region.Slot)
	}

	// Security: Prevent integer overflow vulnerabilities
	if region.GuestPhysAddr > math.MaxUint64-region.MemorySize {
		return fmt.Errorf("kvm: guest address range would overflow")
	}

	// Performance: Fast alignment checks using cached masks
	if !isPageAligned(region.GuestPhysAddr) {
		return fmt.Errorf("%w: guest physical 0x%x (page size: %d)", ErrBadAlignment, region.GuestPhysAddr, pageSize())
	}
	if !isPageAligned(region.MemorySize) {
		return fmt.Errorf("%w: size 0x%x not a page multiple (page size: %d)", ErrBadAlignment, region.MemorySize, pageSize())
	}
	if !isPageAligned(region.UserspaceAddr) {
		return fmt.Errorf("%w: userspace address 0x%x (page size: %d)", ErrBadAlignment, region.UserspaceAddr, pageSize())
	}

	if err := ioctlPointer(vm.fd, kvmSetUserMemoryRegion, unsafe.Pointer(&region)); err != nil {
		return fmt.Errorf("failed to register memory slot %d (guest 0x%x, 0x%x bytes): %w",
			region.Slot, region.GuestPhysAddr, region.MemorySize, err)
	}
	return nil
}

// CreateVCPU creates a vCPU with the given id and maps its run area.
func (vm *VM) CreateVCPU(id uint32) (*VCPU, error) {
	if vm == nil {
		return nil, fmt.Errorf("kvm: VM is nil")
	}
	vm.closeMu.Lock()
	defer vm.closeMu.Unlock()
	if vm.closed {
		return nil, ErrClosed
	}

	fd, err := ioctlNone(vm.fd, kvmCreateVCPU, uintptr(id))
	if err != nil {
		return nil, fmt.Errorf("failed to create vCPU %d: %w", id, err)
	}

	run, err := unix.Mmap(int(fd), 0, vm.runSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(int(fd))
		return nil, fmt.Errorf("failed to map vCPU %d run area (%d bytes): %w", id, vm.runSize, wrapErrno(err))
	}

	c := &VCPU{id: id, fd: int(fd), run: run}

	// Set finalizer as safety net in case Close() is not called
	runtime.SetFinalizer(c, (*VCPU).finalize)

	return c, nil
}

// Close releases the VM descriptor. Idempotent. Memory slots and vCPU
// descriptors created from this VM are invalidated by the kernel when
// the last reference goes away; vCPU handles should still be closed
// individually to release their run areas.
func (vm *VM) Close() error {
	if vm == nil {
		return nil
	}

	vm.closeMu.Lock()
	defer vm.closeMu.Unlock()

	if vm.closed {
		return nil // Already closed
	}

	if err := unix.Close(vm.fd); err != nil {
		return fmt.Errorf("failed to close VM: %w", wrapErrno(err))
	}
	vm.closed = true

	// Clear finalizer since we've cleaned up properly
	runtime.SetFinalizer(vm, nil)

	return nil
}

// finalize is called by the garbage collector as a safety net
func (vm *VM) finalize() {
	if vm == nil {
		return
	}
	if vm.closeMu.TryLock() {
		defer vm.closeMu.Unlock()
		if !vm.closed {
			vm.closed = true
			unix.Close(vm.fd)
		}
	}
}
