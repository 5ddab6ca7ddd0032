//go:build linux && amd64

package kvm

import (
	"unsafe"

	"github.com/vtolstov/go-ioctl"
	"golang.org/x/sys/unix"
)

// kvmIO is the KVMIO magic from <linux/kvm.h>.
const kvmIO = 0xAE

// Request numbers, constructed exactly as the kernel header does.
var (
	kvmGetAPIVersion       = ioctl.IO(kvmIO, 0x00)
	kvmCreateVM            = ioctl.IO(kvmIO, 0x01)
	kvmCheckExtension      = ioctl.IO(kvmIO, 0x03)
	kvmGetVCPUMmapSize     = ioctl.IO(kvmIO, 0x04)
	kvmGetSupportedCPUID   = ioctl.IOWR(kvmIO, 0x05, unsafe.Sizeof(cpuidHeader{}))
	kvmCreateVCPU          = ioctl.IO(kvmIO, 0x41)
	kvmSetUserMemoryRegion = ioctl.IOW(kvmIO, 0x46, unsafe.Sizeof(UserspaceMemoryRegion{}))
	kvmRun                 = ioctl.IO(kvmIO, 0x80)
	kvmGetRegs             = ioctl.IOR(kvmIO, 0x81, unsafe.Sizeof(Regs{}))
	kvmSetRegs             = ioctl.IOW(kvmIO, 0x82, unsafe.Sizeof(Regs{}))
	kvmGetSregs            = ioctl.IOR(kvmIO, 0x83, unsafe.Sizeof(Sregs{}))
	kvmSetSregs            = ioctl.IOW(kvmIO, 0x84, unsafe.Sizeof(Sregs{}))
	kvmSetCPUID2           = ioctl.IOW(kvmIO, 0x90, unsafe.Sizeof(cpuidHeader{}))
)

// ioctlNone issues req against fd with a plain integer argument.
func ioctlNone(fd int, req uintptr, arg uintptr) (uintptr, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return 0, errnoErr(errno)
	}
	return r, nil
}

// ioctlPointer issues req against fd with a pointer argument. The
// argument must stay allocated for the duration of the call.
func ioctlPointer(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errnoErr(errno)
	}
	return nil
}

// wrapErrno converts raw unix errors from x/sys into this package's
// Error type so callers get consistent messages.
func wrapErrno(err error) error {
	if errno, ok := err.(unix.Errno); ok {
		return errnoErr(errno)
	}
	return err
}
