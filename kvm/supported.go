//go:build linux && amd64

package kvm

import (
	"errors"

	"golang.org/x/sys/unix"
)

// Supported returns true if /dev/kvm is present, accessible, and
// speaks the stable API version. A missing device or missing hardware
// virtualization reports (false, nil); permission and version problems
// report the underlying error.
func Supported() (bool, error) {
	s, err := OpenSystem()
	if err != nil {
		if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENODEV) {
			return false, nil
		}
		return false, err
	}
	if err := s.Close(); err != nil {
		return true, err
	}
	return true, nil
}
