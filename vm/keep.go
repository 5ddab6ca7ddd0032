//go:build linux && amd64

package vm

import (
	"fmt"
	"sync"
)

// Keep is the shared handle to one running keep. It is the only type
// intended to cross goroutine boundaries: every mutation of the
// underlying machine happens under the write lock, so the effects of
// concurrent calls are the same as some serial ordering of them.
type Keep struct {
	mu sync.RWMutex
	m  *Machine
}

func newKeep(m *Machine) *Keep {
	return &Keep{m: m}
}

// AddMemory appends pages of zero-initialized guest memory directly
// after the last region and returns the host virtual base address of
// the new region. Either the whole operation succeeds or the keep is
// left exactly as it was.
func (k *Keep) AddMemory(pages uint64) (uintptr, error) {
	if k == nil {
		return 0, fmt.Errorf("vm: keep is nil")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.m.addMemory(pages)
}

// AddThread creates the keep's next thread. The boot thread has id 0;
// requests beyond it fail with ErrUnsupported. Every call consumes an
// id, successful or not.
func (k *Keep) AddThread() (Thread, error) {
	if k == nil {
		return nil, fmt.Errorf("vm: keep is nil")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.m.addThread(k)
}

// Regions returns a snapshot of the guest physical layout in region
// order.
func (k *Keep) Regions() []Span {
	if k == nil {
		return nil
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.m.guestSpans()
}

// ShimStart returns the guest physical address the shim image begins
// at.
func (k *Keep) ShimStart() uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.m.shimStart
}

// ShimEntry returns the guest physical address execution enters the
// shim at.
func (k *Keep) ShimEntry() uint64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.m.shimEntry
}

// Close releases every region and the hypervisor handles. Threads must
// be closed first; their vCPU descriptors are not tracked here.
// Idempotent.
func (k *Keep) Close() error {
	if k == nil {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.m.close()
}
