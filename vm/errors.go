//go:build linux && amd64

package vm

import "errors"

// Named errors for API consumers.
var (
	// ErrUnsupported reports an operation the keep cannot perform,
	// such as adding a vCPU beyond the boot thread.
	ErrUnsupported = errors.New("vm: operation unsupported")

	// ErrNoPages rejects AddMemory calls asking for zero pages.
	ErrNoPages = errors.New("vm: add memory requires at least one page")

	// ErrHostAddress reports a host virtual address that no region
	// translation covers.
	ErrHostAddress = errors.New("vm: host address outside region")

	// ErrKeepClosed reports use of a keep after Close.
	ErrKeepClosed = errors.New("vm: keep is closed")

	// ErrThreadClosed reports use of a thread after Close.
	ErrThreadClosed = errors.New("vm: thread is closed")

	// ErrBadShim reports a shim image the builder cannot load.
	ErrBadShim = errors.New("vm: invalid shim image")
)
