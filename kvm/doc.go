// Package kvm provides thin Go bindings for the Linux Kernel-based
// Virtual Machine (KVM) control interface on amd64.
//
// The package mirrors the three-level file-descriptor model of the KVM
// API: a System handle for /dev/kvm, a VM handle per virtual machine,
// and a VCPU handle per virtual CPU. All requests are issued as raw
// ioctls against those descriptors; no state is cached beyond what the
// handles need for their own lifecycle.
//
// All handles must be released with Close. Finalizers provide safety
// net cleanup for leaked handles.
package kvm
