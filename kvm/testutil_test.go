//go:build linux && amd64

package kvm

import (
	"os"
	"testing"
)

// isCI returns true if running in GitHub Actions
func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// requireKVM skips the test unless /dev/kvm is usable.
func requireKVM(t *testing.T) {
	t.Helper()
	if isCI() {
		t.Skip("Skipping KVM tests in CI environment")
	}
	supported, err := Supported()
	if err != nil {
		t.Skipf("Cannot probe /dev/kvm: %v", err)
	}
	if !supported {
		t.Skip("KVM not supported - skipping")
	}
}
