//go:build linux && amd64

package kvm

import (
	"fmt"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// Error wraps an errno returned by a KVM ioctl.
// Errno stores the raw kernel error value.
type Error struct {
	Errno   unix.Errno
	message string // Optional custom message for specific errors
}

func (e Error) Error() string {
	// Use custom message if available
	if e.message != "" {
		return e.message
	}

	// Security: Check if we should sanitize error messages
	if isProductionEnv() {
		return e.sanitizedError()
	}
	return e.detailedError()
}

// Unwrap exposes the underlying errno so callers can match with
// errors.Is(err, unix.ENOENT) and friends.
func (e Error) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// detailedError provides full error context for development
func (e Error) detailedError() string {
	switch e.Errno {
	case 0:
		return "kvm: success"
	case unix.ENOENT:
		return "kvm: device not found (ENOENT) - /dev/kvm is missing; is the kvm module loaded?"
	case unix.EPERM, unix.EACCES:
		return "kvm: access denied (EACCES) - check read/write permission on /dev/kvm (kvm group membership)"
	case unix.ENODEV:
		return "kvm: no device (ENODEV) - hardware virtualization unavailable or disabled in firmware"
	case unix.EBADF:
		return "kvm: bad file descriptor (EBADF) - handle already closed"
	case unix.EINVAL:
		return "kvm: invalid argument (EINVAL) - check slot numbers, flags, and alignment"
	case unix.ENOMEM:
		return "kvm: insufficient resources (ENOMEM) - kernel could not allocate memory for the request"
	case unix.EEXIST:
		return "kvm: resource exists (EEXIST) - memory slot overlaps or vCPU id already created"
	case unix.ENOSPC:
		return "kvm: no space (ENOSPC) - memory slot or vCPU limit reached"
	case unix.E2BIG:
		return "kvm: table too small (E2BIG) - entry buffer cannot hold the kernel's reply"
	case unix.EFAULT:
		return "kvm: bad address (EFAULT) - argument struct or userspace address is not accessible"
	case unix.EINTR:
		return "kvm: interrupted (EINTR) - request interrupted by a signal"
	case unix.ENXIO:
		return "kvm: no such device or address (ENXIO) - capability not present on this kernel"
	default:
		return fmt.Sprintf("kvm: errno %d (%s)", int(e.Errno), unix.ErrnoName(e.Errno))
	}
}

// sanitizedError provides minimal error information for production
func (e Error) sanitizedError() string {
	switch e.Errno {
	case 0:
		return "kvm: success"
	case unix.ENOENT:
		return "kvm: device not found"
	case unix.EPERM, unix.EACCES:
		return "kvm: access denied"
	case unix.ENODEV:
		return "kvm: no device"
	case unix.EBADF:
		return "kvm: bad file descriptor"
	case unix.EINVAL:
		return "kvm: invalid argument"
	case unix.ENOMEM:
		return "kvm: insufficient resources"
	case unix.EEXIST:
		return "kvm: resource exists"
	case unix.ENOSPC:
		return "kvm: no space"
	case unix.E2BIG:
		return "kvm: table too small"
	case unix.EFAULT:
		return "kvm: bad address"
	case unix.EINTR:
		return "kvm: interrupted"
	case unix.ENXIO:
		return "kvm: no such device or address"
	default:
		return "kvm: hypervisor error"
	}
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("WARDEN_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	// Check if debug mode is explicitly disabled
	if debug := os.Getenv("WARDEN_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

func errnoErr(errno unix.Errno) error {
	if errno == 0 {
		return nil
	}
	return Error{Errno: errno}
}

// Common specific errors for API consumers
var (
	ErrClosed         = &Error{Errno: unix.EBADF, message: "kvm: handle is closed"}
	ErrBadAPIVersion  = &Error{Errno: unix.EINVAL, message: "kvm: unexpected KVM API version"}
	ErrBadAlignment   = &Error{Errno: unix.EINVAL, message: "kvm: address not page-aligned"}
	ErrEmptyRegion    = &Error{Errno: unix.EINVAL, message: "kvm: memory region has zero size"}
	ErrCPUIDOverflow  = &Error{Errno: unix.E2BIG, message: "kvm: too many CPUID entries"}
	ErrRunShortBuffer = &Error{Errno: unix.EINVAL, message: "kvm: vCPU run area smaller than expected"}
)
