//go:build linux && amd64

package kvm

import (
	"fmt"
	"unsafe"
)

// ExitReason categorizes vCPU exits. Values match KVM_EXIT_* from the
// kernel ABI.
type ExitReason uint32

const (
	ExitUnknown       ExitReason = 0
	ExitException     ExitReason = 1
	ExitIO            ExitReason = 2
	ExitHypercall     ExitReason = 3
	ExitDebug         ExitReason = 4
	ExitHLT           ExitReason = 5
	ExitMMIO          ExitReason = 6
	ExitIRQWindowOpen ExitReason = 7
	ExitShutdown      ExitReason = 8
	ExitFailEntry     ExitReason = 9
	ExitIntr          ExitReason = 10
	ExitSetTPR        ExitReason = 11
	ExitTPRAccess     ExitReason = 12
	ExitInternalError ExitReason = 17
	ExitSystemEvent   ExitReason = 24
)

// String returns the KVM_EXIT_* style name of the reason.
func (r ExitReason) String() string {
	switch r {
	case ExitUnknown:
		return "unknown"
	case ExitException:
		return "exception"
	case ExitIO:
		return "io"
	case ExitHypercall:
		return "hypercall"
	case ExitDebug:
		return "debug"
	case ExitHLT:
		return "hlt"
	case ExitMMIO:
		return "mmio"
	case ExitIRQWindowOpen:
		return "irq-window-open"
	case ExitShutdown:
		return "shutdown"
	case ExitFailEntry:
		return "fail-entry"
	case ExitIntr:
		return "intr"
	case ExitSetTPR:
		return "set-tpr"
	case ExitTPRAccess:
		return "tpr-access"
	case ExitInternalError:
		return "internal-error"
	case ExitSystemEvent:
		return "system-event"
	default:
		return fmt.Sprintf("exit(%d)", uint32(r))
	}
}

// I/O directions for ExitIO.
const (
	IODirectionIn  uint8 = 0
	IODirectionOut uint8 = 1
)

// ExitInfoIO describes a port I/O exit.
type ExitInfoIO struct {
	Direction uint8
	Size      uint8
	Port      uint16
	Count     uint32
	// Data is a window into the vCPU run area holding the bytes of
	// this access. It is only valid until the next Run call.
	Data []byte
}

// ExitInfoMMIO describes a memory-mapped I/O exit.
type ExitInfoMMIO struct {
	PhysAddr uint64
	Data     [8]byte
	Len      uint32
	IsWrite  bool
}

// Exit captures information about a single vCPU exit.
type Exit struct {
	Reason ExitReason
	IO     ExitInfoIO   // valid when Reason == ExitIO
	MMIO   ExitInfoMMIO // valid when Reason == ExitMMIO
	// FailEntry holds the hardware entry failure reason when
	// Reason == ExitFailEntry.
	FailEntry uint64
	// Suberror holds the KVM internal error code when
	// Reason == ExitInternalError.
	Suberror uint32
}

// runData mirrors the head of struct kvm_run. The data array overlays
// the exit union; individual exits decode out of it.
type runData struct {
	requestInterruptWindow     uint8
	immediateExit              uint8
	_                          [6]uint8
	exitReason                 uint32
	readyForInterruptInjection uint8
	ifFlag                     uint8
	flags                      uint16
	cr8                        uint64
	apicBase                   uint64
	data                       [32]uint64
}

// decodeExit reads the exit union out of a vCPU run area.
func decodeExit(run []byte) Exit {
	rd := (*runData)(unsafe.Pointer(&run[0]))
	exit := Exit{Reason: ExitReason(rd.exitReason)}

	switch exit.Reason {
	case ExitIO:
		word := rd.data[0]
		exit.IO = ExitInfoIO{
			Direction: uint8(word),
			Size:      uint8(word >> 8),
			Port:      uint16(word >> 16),
			Count:     uint32(word >> 32),
		}
		offset := rd.data[1]
		length := uint64(exit.IO.Size) * uint64(exit.IO.Count)
		if offset+length <= uint64(len(run)) {
			exit.IO.Data = run[offset : offset+length]
		}
	case ExitMMIO:
		exit.MMIO.PhysAddr = rd.data[0]
		raw := rd.data[1]
		for i := range exit.MMIO.Data {
			exit.MMIO.Data[i] = byte(raw >> (8 * i))
		}
		exit.MMIO.Len = uint32(rd.data[2])
		exit.MMIO.IsWrite = uint8(rd.data[2]>>32)&1 != 0
	case ExitFailEntry:
		exit.FailEntry = rd.data[0]
	case ExitInternalError:
		exit.Suberror = uint32(rd.data[0])
	}
	return exit
}
