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

// devicePath is the KVM control device node.
const devicePath = "/dev/kvm"

// stableAPIVersion is the only value KVM_GET_API_VERSION has returned
// since the API was declared stable.
const stableAPIVersion = 12

var (
	cachedPageSize int
	cachedPageMask uint64 // For fast alignment checks: addr & mask == 0
	pageSizeOnce   sync.Once
)

// pageSize returns the system page size, cached for performance
func pageSize() int {
	pageSizeOnce.Do(func() {
		cachedPageSize = unix.Getpagesize()
		cachedPageMask = uint64(cachedPageSize - 1)
	})
	return cachedPageSize
}

// isPageAligned returns true if addr is page-aligned (fast path)
func isPageAligned(addr uint64) bool {
	pageSizeOnce.Do(func() {
		cachedPageSize = unix.Getpagesize()
		cachedPageMask = uint64(cachedPageSize - 1)
	})
	return addr&cachedPageMask == 0
}

// System is a handle to the /dev/kvm control device.
type System struct {
	fd      int
	closed  bool
	closeMu sync.Mutex // Protect against concurrent Close() and finalizer
}

// OpenSystem opens /dev/kvm and verifies the stable API version.
func OpenSystem() (*System, error) {
	fd, err := unix.Open(devicePath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", devicePath, wrapErrno(err))
	}

	version, err := ioctlNone(fd, kvmGetAPIVersion, 0)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to query KVM API version: %w", err)
	}
	if version != stableAPIVersion {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: got %d, want %d", ErrBadAPIVersion, version, stableAPIVersion)
	}

	s := &System{fd: fd}

	// Set finalizer as safety net in case Close() is not called
	runtime.SetFinalizer(s, (*System).finalize)

	return s, nil
}

// APIVersion returns the KVM API version reported by the kernel.
func (s *System) APIVersion() (int, error) {
	if s == nil {
		return 0, fmt.Errorf("kvm: system handle is nil")
	}
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	version, err := ioctlNone(s.fd, kvmGetAPIVersion, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to query KVM API version: %w", err)
	}
	return int(version), nil
}

// CheckExtension returns the kernel's answer for a KVM_CAP_* value.
// Zero means the capability is absent.
func (s *System) CheckExtension(cap uintptr) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("kvm: system handle is nil")
	}
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	r, err := ioctlNone(s.fd, kvmCheckExtension, cap)
	if err != nil {
		return 0, fmt.Errorf("failed to check extension %d: %w", cap, err)
	}
	return int(r), nil
}

// VCPUMmapSize returns the size of the shared vCPU run area in bytes.
func (s *System) VCPUMmapSize() (int, error) {
	if s == nil {
		return 0, fmt.Errorf("kvm: system handle is nil")
	}
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return s.vcpuMmapSizeLocked()
}

func (s *System) vcpuMmapSizeLocked() (int, error) {
	size, err := ioctlNone(s.fd, kvmGetVCPUMmapSize, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to query vCPU mmap size: %w", err)
	}
	if size < unsafe.Sizeof(runData{}) {
		return 0, fmt.Errorf("%w: %d bytes", ErrRunShortBuffer, size)
	}
	return int(size), nil
}

// SupportedCPUID returns every CPUID entry the host kernel can expose
// to a guest, bounded by MaxCPUIDEntries.
func (s *System) SupportedCPUID() ([]CPUIDEntry, error) {
	if s == nil {
		return nil, fmt.Errorf("kvm: system handle is nil")
	}
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	var buf cpuidData
	buf.nr = MaxCPUIDEntries
	if err := ioctlPointer(s.fd, kvmGetSupportedCPUID, unsafe.Pointer(&buf)); err != nil {
		if errors.Is(err, unix.E2BIG) {
			return nil, fmt.Errorf("%w: kernel wants more than %d", ErrCPUIDOverflow, MaxCPUIDEntries)
		}
		return nil, fmt.Errorf("failed to query supported CPUID: %w", err)
	}
	if buf.nr > MaxCPUIDEntries {
		return nil, fmt.Errorf("%w: kernel reported %d entries", ErrCPUIDOverflow, buf.nr)
	}

	entries := make([]CPUIDEntry, buf.nr)
	copy(entries, buf.entries[:buf.nr])
	return entries, nil
}

// CreateVM asks the kernel for a new virtual machine descriptor.
func (s *System) CreateVM() (*VM, error) {
	if s == nil {
		return nil, fmt.Errorf("kvm: system handle is nil")
	}
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	fd, err := ioctlNone(s.fd, kvmCreateVM, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to create VM: %w", err)
	}

	runSize, err := s.vcpuMmapSizeLocked()
	if err != nil {
		unix.Close(int(fd))
		return nil, err
	}

	vm := &VM{fd: int(fd), runSize: runSize}

	// Set finalizer as safety net in case Close() is not called
	runtime.SetFinalizer(vm, (*VM).finalize)

	return vm, nil
}

// Close releases the /dev/kvm descriptor. Idempotent.
func (s *System) Close() error {
	if s == nil {
		return nil
	}

	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil // Already closed
	}

	if err := unix.Close(s.fd); err != nil {
		return fmt.Errorf("failed to close %s: %w", devicePath, wrapErrno(err))
	}
	s.closed = true

	// Clear finalizer since we've cleaned up properly
	runtime.SetFinalizer(s, nil)

	return nil
}

// finalize is called by the garbage collector as a safety net
func (s *System) finalize() {
	if s == nil {
		return
	}
	if s.closeMu.TryLock() {
		defer s.closeMu.Unlock()
		if !s.closed {
			s.closed = true
			unix.Close(s.fd)
		}
	}
}
