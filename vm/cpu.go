//go:build linux && amd64

package vm

import (
	"fmt"
	"sync"
	"time"

	"github.com/wardenvm/warden/kvm"
)

// Thread is one guest execution context of a keep.
type Thread interface {
	// ID returns the thread's vCPU id.
	ID() uint32
	// Enter runs the guest until its next exit.
	Enter() (kvm.Exit, error)
	// Close releases the thread's vCPU. Idempotent.
	Close() error
}

// Cpu is the KVM-backed Thread. The first Enter programs the boot
// state recorded at construction: long mode with CR3 at the prefix
// page tables and the instruction pointer at the shim entry.
type Cpu struct {
	vcpu      VCPUControl
	id        uint32
	keep      *Keep
	entry     uint64
	pageTable uint64

	booted  bool
	closed  bool
	closeMu sync.Mutex // Protect against concurrent Close() and Enter()
}

func newCpu(vcpu VCPUControl, id uint32, keep *Keep, entry, pageTable uint64) *Cpu {
	return &Cpu{vcpu: vcpu, id: id, keep: keep, entry: entry, pageTable: pageTable}
}

// ID returns the thread's vCPU id.
func (c *Cpu) ID() uint32 {
	if c == nil {
		return 0
	}
	return c.id
}

// Keep returns the shared keep handle the thread belongs to. Threads
// grow guest memory through it at runtime.
func (c *Cpu) Keep() *Keep {
	if c == nil {
		return nil
	}
	return c.keep
}

// PageTable returns the guest physical address of the boot page
// tables programmed into CR3.
func (c *Cpu) PageTable() uint64 {
	if c == nil {
		return 0
	}
	return c.pageTable
}

// Enter runs the guest until the next exit.
func (c *Cpu) Enter() (kvm.Exit, error) {
	start := time.Now()
	defer func() {
		recordEnter(time.Since(start))
	}()

	if c == nil {
		return kvm.Exit{}, fmt.Errorf("vm: thread is nil")
	}

	// Security: Lock to prevent use-after-free
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return kvm.Exit{}, ErrThreadClosed
	}

	if !c.booted {
		if err := c.boot(); err != nil {
			return kvm.Exit{}, err
		}
		c.booted = true
	}

	exit, err := c.vcpu.Run()
	if err != nil {
		return kvm.Exit{}, fmt.Errorf("failed to enter thread %d: %w", c.id, err)
	}
	return exit, nil
}

// boot programs the long-mode entry state. RSI and RDI keep the boot
// parameters installed when the thread was added.
func (c *Cpu) boot() error {
	sregs, err := c.vcpu.GetSregs()
	if err != nil {
		return fmt.Errorf("failed to read boot state for thread %d: %w", c.id, err)
	}
	applyLongMode(sregs, c.pageTable)
	if err := c.vcpu.SetSregs(sregs); err != nil {
		return fmt.Errorf("failed to program boot state for thread %d: %w", c.id, err)
	}

	regs, err := c.vcpu.GetRegs()
	if err != nil {
		return fmt.Errorf("failed to read registers for thread %d: %w", c.id, err)
	}
	regs.RIP = c.entry
	regs.RFLAGS = rflagsReserved
	if err := c.vcpu.SetRegs(regs); err != nil {
		return fmt.Errorf("failed to program entry for thread %d: %w", c.id, err)
	}
	return nil
}

// Close releases the thread's vCPU. Idempotent.
func (c *Cpu) Close() error {
	if c == nil {
		return nil
	}

	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return nil // Already closed
	}

	if err := c.vcpu.Close(); err != nil {
		return fmt.Errorf("failed to close thread %d: %w", c.id, err)
	}
	c.closed = true
	recordThreadClose()

	return nil
}
