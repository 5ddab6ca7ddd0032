//go:build linux

package mmap

import (
	"fmt"
	"math"
	"runtime"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var (
	cachedPageSize int
	cachedPageMask uint64 // For fast alignment checks: addr & mask == 0
	pageSizeOnce   sync.Once
)

// PageSize returns the system page size, cached for performance
func PageSize() int {
	pageSizeOnce.Do(func() {
		cachedPageSize = unix.Getpagesize()
		cachedPageMask = uint64(cachedPageSize - 1)
	})
	return cachedPageSize
}

// isPageAligned returns true if v is page-aligned (fast path)
func isPageAligned(v uint64) bool {
	pageSizeOnce.Do(func() {
		cachedPageSize = unix.Getpagesize()
		cachedPageMask = uint64(cachedPageSize - 1)
	})
	return v&cachedPageMask == 0
}

// Mapping is one anonymous private mapping. The zero value is not
// usable; obtain one from Anonymous.
type Mapping struct {
	data     []byte
	released bool
	mu       sync.Mutex // Protect against concurrent Release() and finalizer
}

// Anonymous creates a zero-initialized read-write private mapping of
// length bytes at a host-chosen address. The length must be a positive
// page multiple.
func Anonymous(length int) (*Mapping, error) {
	if length <= 0 {
		return nil, fmt.Errorf("mmap: length must be positive, got %d", length)
	}

	// Security: Prevent integer overflow vulnerabilities
	if length > math.MaxInt32 {
		return nil, fmt.Errorf("mmap: length too large (max %d bytes)", math.MaxInt32)
	}
	if !isPageAligned(uint64(length)) {
		return nil, fmt.Errorf("mmap: length not page multiple: %d (page size: %d)", length, PageSize())
	}

	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("failed to map %d anonymous bytes: %w", length, err)
	}

	m := &Mapping{data: data}

	// Set finalizer as safety net in case Release() is not called
	runtime.SetFinalizer(m, (*Mapping).finalize)

	return m, nil
}

// Addr returns the host virtual base address of the mapping.
func (m *Mapping) Addr() uintptr {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.released {
		return 0
	}
	return uintptr(unsafe.Pointer(&m.data[0]))
}

// Len returns the mapping length in bytes, zero once released.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}

// Bytes returns the mapped memory. The slice is invalidated by Release.
func (m *Mapping) Bytes() []byte {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Release unmaps the memory. Idempotent.
func (m *Mapping) Release() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return nil // Already released
	}

	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("failed to unmap %d bytes at 0x%x: %w", len(m.data), uintptr(unsafe.Pointer(&m.data[0])), err)
	}
	m.data = nil
	m.released = true

	// Clear finalizer since we've cleaned up properly
	runtime.SetFinalizer(m, nil)

	return nil
}

// finalize is called by the garbage collector as a safety net
func (m *Mapping) finalize() {
	if m == nil {
		return
	}
	if m.mu.TryLock() {
		defer m.mu.Unlock()
		if !m.released {
			m.released = true
			if m.data != nil {
				unix.Munmap(m.data)
				m.data = nil
			}
		}
	}
}
