//go:build linux && amd64

package kvm

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// VCPU is a handle to one virtual CPU and its shared run area.
type VCPU struct {
	id      uint32
	fd      int
	run     []byte
	closed  bool
	closeMu sync.Mutex // Protect against concurrent Close() and finalizer
}

// ID returns the vCPU id this handle was created with.
func (c *VCPU) ID() uint32 {
	if c == nil {
		return 0
	}
	return c.id
}

// GetRegs reads the general-purpose registers.
func (c *VCPU) GetRegs() (*Regs, error) {
	if c == nil {
		return nil, fmt.Errorf("kvm: vCPU is nil")
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	var regs Regs
	if err := ioctlPointer(c.fd, kvmGetRegs, unsafe.Pointer(&regs)); err != nil {
		return nil, fmt.Errorf("failed to get registers for vCPU %d: %w", c.id, err)
	}
	return &regs, nil
}

// SetRegs writes the general-purpose registers.
func (c *VCPU) SetRegs(regs *Regs) error {
	if c == nil {
		return fmt.Errorf("kvm: vCPU is nil")
	}
	if regs == nil {
		return fmt.Errorf("kvm: nil register set")
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if err := ioctlPointer(c.fd, kvmSetRegs, unsafe.Pointer(regs)); err != nil {
		return fmt.Errorf("failed to set registers for vCPU %d: %w", c.id, err)
	}
	return nil
}

// GetSregs reads the system registers.
func (c *VCPU) GetSregs() (*Sregs, error) {
	if c == nil {
		return nil, fmt.Errorf("kvm: vCPU is nil")
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	var sregs Sregs
	if err := ioctlPointer(c.fd, kvmGetSregs, unsafe.Pointer(&sregs)); err != nil {
		return nil, fmt.Errorf("failed to get system registers for vCPU %d: %w", c.id, err)
	}
	return &sregs, nil
}

// SetSregs writes the system registers.
func (c *VCPU) SetSregs(sregs *Sregs) error {
	if c == nil {
		return fmt.Errorf("kvm: vCPU is nil")
	}
	if sregs == nil {
		return fmt.Errorf("kvm: nil system register set")
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if err := ioctlPointer(c.fd, kvmSetSregs, unsafe.Pointer(sregs)); err != nil {
		return fmt.Errorf("failed to set system registers for vCPU %d: %w", c.id, err)
	}
	return nil
}

// SetCPUID2 installs the guest-visible CPUID table.
func (c *VCPU) SetCPUID2(entries []CPUIDEntry) error {
	if c == nil {
		return fmt.Errorf("kvm: vCPU is nil")
	}
	if len(entries) > MaxCPUIDEntries {
		return fmt.Errorf("%w: %d entries", ErrCPUIDOverflow, len(entries))
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return ErrClosed
	}

	var buf cpuidData
	buf.nr = uint32(len(entries))
	copy(buf.entries[:], entries)
	if err := ioctlPointer(c.fd, kvmSetCPUID2, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("failed to set CPUID for vCPU %d: %w", c.id, err)
	}
	return nil
}

// Run enters the guest and blocks until the next exit. An interrupted
// run (EINTR) is reported as ExitIntr rather than an error so callers
// can loop.
func (c *VCPU) Run() (Exit, error) {
	if c == nil {
		return Exit{}, fmt.Errorf("kvm: vCPU is nil")
	}

	// Security: Lock to prevent use-after-free
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return Exit{}, ErrClosed
	}

	if _, err := ioctlNone(c.fd, kvmRun, 0); err != nil {
		if errors.Is(err, unix.EINTR) {
			return Exit{Reason: ExitIntr}, nil
		}
		return Exit{}, fmt.Errorf("failed to run vCPU %d: %w", c.id, err)
	}
	return decodeExit(c.run), nil
}

// Close unmaps the run area and releases the vCPU descriptor. Idempotent.
func (c *VCPU) Close() error {
	if c == nil {
		return nil
	}

	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil // Already closed
	}

	if c.run != nil {
		if err := unix.Munmap(c.run); err != nil {
			return fmt.Errorf("failed to unmap vCPU %d run area: %w", c.id, wrapErrno(err))
		}
		c.run = nil
	}
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("failed to close vCPU %d: %w", c.id, wrapErrno(err))
	}
	c.closed = true

	// Clear finalizer since we've cleaned up properly
	runtime.SetFinalizer(c, nil)

	return nil
}

// finalize is called by the garbage collector as a safety net
func (c *VCPU) finalize() {
	if c == nil {
		return
	}
	if c.closeMu.TryLock() {
		defer c.closeMu.Unlock()
		if !c.closed {
			c.closed = true
			if c.run != nil {
				unix.Munmap(c.run)
				c.run = nil
			}
			unix.Close(c.fd)
		}
	}
}
