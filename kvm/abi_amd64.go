//go:build linux && amd64

package kvm

// Regs mirrors struct kvm_regs.
type Regs struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RSP, RBP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFLAGS        uint64
}

// Segment mirrors struct kvm_segment.
type Segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Type     uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8
}

// DTable mirrors struct kvm_dtable.
type DTable struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

// Sregs mirrors struct kvm_sregs.
type Sregs struct {
	CS, DS, ES, FS, GS, SS Segment
	TR, LDT                Segment
	GDT, IDT               DTable
	CR0, CR2, CR3, CR4     uint64
	CR8                    uint64
	EFER                   uint64
	APICBase               uint64
	InterruptBitmap        [(256 + 63) / 64]uint64
}

// UserspaceMemoryRegion mirrors struct kvm_userspace_memory_region.
// Slot identifies the region to the kernel; registering a region with
// MemorySize 0 deletes the slot.
type UserspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// CPUIDEntry mirrors struct kvm_cpuid_entry2.
type CPUIDEntry struct {
	Function uint32
	Index    uint32
	Flags    uint32
	EAX      uint32
	EBX      uint32
	ECX      uint32
	EDX      uint32
	_        [3]uint32
}

// MaxCPUIDEntries bounds the entry buffer handed to the CPUID ioctls.
// Matches the kernel's KVM_MAX_CPUID_ENTRIES.
const MaxCPUIDEntries = 256

// cpuidHeader mirrors struct kvm_cpuid2 without its trailing entry
// array. Its size is what the ioctl request numbers encode.
type cpuidHeader struct {
	nr uint32
	_  uint32
}

// cpuidData is the fixed-capacity variant of struct kvm_cpuid2 passed
// to KVM_GET_SUPPORTED_CPUID and KVM_SET_CPUID2.
type cpuidData struct {
	cpuidHeader
	entries [MaxCPUIDEntries]CPUIDEntry
}
