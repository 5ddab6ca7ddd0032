//go:build !linux || !amd64

package warden

import "fmt"

// Supported returns false on platforms without KVM.
func Supported() (bool, error) {
	return false, fmt.Errorf("warden: not supported on this platform")
}
