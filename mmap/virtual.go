//go:build linux

package mmap

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
)

// VirtualRegion describes one entry of this process's virtual address
// space as reported by the kernel.
type VirtualRegion struct {
	Start    uintptr
	End      uintptr
	Read     bool
	Write    bool
	Execute  bool
	Shared   bool
	Offset   uintptr
	Filename string
}

// mapsLine matches a single line from /proc/PID/maps.
var mapsLine = regexp.MustCompile("([0-9a-f]+)-([0-9a-f]+) ([r-][w-][x-][sp]) ([0-9a-f]+) [0-9a-f]{2,}:[0-9a-f]{2,} [0-9]+\\s*(.*)")

// VirtualRegions parses /proc/self/maps.
//
// The result is a snapshot; concurrent map and unmap activity makes it
// stale immediately.
func VirtualRegions() ([]VirtualRegion, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regions []VirtualRegion
	r := bufio.NewReader(f)
	for {
		b, err := r.ReadBytes('\n')
		if len(b) > 0 {
			m := mapsLine.FindSubmatch(b)
			if m == nil {
				return nil, fmt.Errorf("mmap: badly formed maps line: %q", string(b))
			}
			start, err := strconv.ParseUint(string(m[1]), 16, 64)
			if err != nil {
				return nil, fmt.Errorf("mmap: bad start address: %q", string(b))
			}
			end, err := strconv.ParseUint(string(m[2]), 16, 64)
			if err != nil {
				return nil, fmt.Errorf("mmap: bad end address: %q", string(b))
			}
			offset, err := strconv.ParseUint(string(m[4]), 16, 64)
			if err != nil {
				return nil, fmt.Errorf("mmap: bad offset: %q", string(b))
			}
			regions = append(regions, VirtualRegion{
				Start:    uintptr(start),
				End:      uintptr(end),
				Read:     m[3][0] == 'r',
				Write:    m[3][1] == 'w',
				Execute:  m[3][2] == 'x',
				Shared:   m[3][3] == 's',
				Offset:   uintptr(offset),
				Filename: string(m[5]),
			})
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
	}

	return regions, nil
}

// Mapped reports whether addr falls inside any current mapping of this
// process.
func Mapped(addr uintptr) (bool, error) {
	regions, err := VirtualRegions()
	if err != nil {
		return false, err
	}
	for _, r := range regions {
		if addr >= r.Start && addr < r.End {
			return true, nil
		}
	}
	return false, nil
}
