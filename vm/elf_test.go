//go:build linux && amd64

package vm

import (
	"encoding/binary"
	"testing"
)

// shimSpec describes a single-segment ELF image for tests. Zero
// values mean: x86-64 machine, a PT_LOAD segment, file size equal to
// the code, memory size equal to the file size.
type shimSpec struct {
	machine uint16
	noLoad  bool
	vaddr   uint64
	entry   uint64
	filesz  uint64
	memsz   uint64
	code    []byte
}

const shimCodeOffset = 0x1000

// makeShim assembles a minimal ELF64 executable holding spec.code at
// spec.vaddr.
func makeShim(t *testing.T, spec shimSpec) []byte {
	t.Helper()

	machine := spec.machine
	if machine == 0 {
		machine = 62 // EM_X86_64
	}
	ptype := uint32(1) // PT_LOAD
	if spec.noLoad {
		ptype = 4 // PT_NOTE
	}
	filesz := spec.filesz
	if filesz == 0 {
		filesz = uint64(len(spec.code))
	}
	memsz := spec.memsz
	if memsz == 0 {
		memsz = filesz
	}

	img := make([]byte, shimCodeOffset+len(spec.code))
	le := binary.LittleEndian

	// ELF header.
	copy(img, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0}) // 64-bit LE, current version
	le.PutUint16(img[0x10:], 2)                        // ET_EXEC
	le.PutUint16(img[0x12:], machine)
	le.PutUint32(img[0x14:], 1) // EV_CURRENT
	le.PutUint64(img[0x18:], spec.entry)
	le.PutUint64(img[0x20:], 0x40) // program header offset
	le.PutUint16(img[0x34:], 0x40) // ELF header size
	le.PutUint16(img[0x36:], 0x38) // program header entry size
	le.PutUint16(img[0x38:], 1)    // one program header

	// Program header.
	le.PutUint32(img[0x40:], ptype)
	le.PutUint32(img[0x44:], 5) // R+X
	le.PutUint64(img[0x48:], shimCodeOffset)
	le.PutUint64(img[0x50:], spec.vaddr)
	le.PutUint64(img[0x58:], spec.vaddr)
	le.PutUint64(img[0x60:], filesz)
	le.PutUint64(img[0x68:], memsz)
	le.PutUint64(img[0x70:], 0x1000)

	copy(img[shimCodeOffset:], spec.code)
	return img
}
