//go:build linux && amd64

package vm

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
	"math"

	"github.com/wardenvm/warden/kvm"
)

// New builds a keep from a shim image: it opens the hypervisor,
// creates the machine, lays out region zero as the boot prefix
// followed by the shim, and returns the shared handle.
func New(shim []byte) (*Keep, error) {
	sys, err := kvm.OpenSystem()
	if err != nil {
		return nil, err
	}
	vmh, err := sys.CreateVM()
	if err != nil {
		sys.Close()
		return nil, err
	}
	keep, err := build(sys, kvmControl{vm: vmh}, shim)
	if err != nil {
		vmh.Close()
		sys.Close()
		return nil, err
	}
	return keep, nil
}

// build is the hypervisor-agnostic remainder of New.
func build(sys SystemControl, ctl MachineControl, shim []byte) (*Keep, error) {
	img, err := parseShim(shim)
	if err != nil {
		return nil, err
	}

	m := newMachine(sys, ctl)

	pages := (uint64(PrefixSize) + img.size + PageSize - 1) / PageSize
	if _, err := m.addMemory(pages); err != nil {
		return nil, fmt.Errorf("failed to lay out boot region: %w", err)
	}

	region0 := m.regions[0]
	prefix := region0.Prefix()
	prefix.buildPageTables(region0.AsGuest().Start)

	buf := region0.Bytes()
	for _, seg := range img.segments {
		copy(buf[uint64(PrefixSize)+seg.offset:], seg.data)
	}

	m.shimStart = region0.AsGuest().Start + uint64(PrefixSize)
	m.shimEntry = m.shimStart + img.entry

	return newKeep(m), nil
}

// shimSegment is one loadable piece of the shim, placed at offset
// bytes from the image base.
type shimSegment struct {
	offset uint64
	data   []byte
}

// shimImage is the load plan derived from the shim ELF: total memory
// footprint from the page-aligned image base, the entry point offset,
// and the file-backed segments.
type shimImage struct {
	size     uint64
	entry    uint64
	segments []shimSegment
}

// parseShim validates the shim ELF and derives its load plan.
func parseShim(shim []byte) (*shimImage, error) {
	f, err := elf.NewFile(bytes.NewReader(shim))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadShim, err)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: need a 64-bit x86 image, got class %v machine %v", ErrBadShim, f.Class, f.Machine)
	}

	var (
		min, max uint64
		found    bool
		loads    []*elf.Prog
	)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		if p.Filesz > p.Memsz {
			return nil, fmt.Errorf("%w: segment at 0x%x has file size beyond memory size", ErrBadShim, p.Vaddr)
		}
		if p.Vaddr > math.MaxUint64-p.Memsz {
			return nil, fmt.Errorf("%w: segment at 0x%x overflows", ErrBadShim, p.Vaddr)
		}
		if !found || p.Vaddr < min {
			min = p.Vaddr
		}
		if end := p.Vaddr + p.Memsz; end > max {
			max = end
		}
		loads = append(loads, p)
		found = true
	}
	if !found {
		return nil, fmt.Errorf("%w: no loadable segments", ErrBadShim)
	}
	if f.Entry < min || f.Entry >= max {
		return nil, fmt.Errorf("%w: entry 0x%x outside loaded image", ErrBadShim, f.Entry)
	}

	base := min &^ uint64(PageSize-1)
	img := &shimImage{
		size:  max - base,
		entry: f.Entry - base,
	}
	for _, p := range loads {
		if p.Filesz == 0 {
			continue
		}
		data := make([]byte, p.Filesz)
		if _, err := io.ReadFull(p.Open(), data); err != nil {
			return nil, fmt.Errorf("%w: segment at 0x%x truncated: %v", ErrBadShim, p.Vaddr, err)
		}
		img.segments = append(img.segments, shimSegment{offset: p.Vaddr - base, data: data})
	}
	return img, nil
}
