//go:build linux && amd64

package warden

import (
	"github.com/wardenvm/warden/kvm"
)

// Supported returns true if keeps can be launched on this system:
// /dev/kvm must be present, accessible, and speak the stable API.
func Supported() (bool, error) {
	return kvm.Supported()
}
