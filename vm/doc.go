// Package vm implements the KVM-backed execution core of a keep: the
// machine owning guest memory regions and hypervisor handles, the
// threads executing inside it, and the shared Keep handle that
// serializes access to both.
//
// Guest physical memory is an ordered list of regions. Each region is
// backed by exactly one anonymous host mapping and translates between
// host and guest addresses by a constant offset. Region zero starts
// with the boot Prefix (pages shared between host and guest, followed
// by the top-level page tables); New lays it out and loads the shim
// image directly after it.
//
// A Keep is the only handle meant to be shared between goroutines.
// AddMemory and AddThread take its write lock for their full duration,
// so concurrent calls behave as if executed one at a time.
package vm
