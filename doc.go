// Package warden launches confidential workloads inside KVM-backed
// keeps on Linux x86-64 systems.
//
// A keep is a hardware-isolated virtual machine that runs a shim, a
// small static ELF executable, in 64-bit mode with paging already
// enabled. The keep owns an ordered list of guest-physical memory
// regions; the first region carries the launch prefix (two pages
// shared between host and guest, followed by the initial page
// tables) and the shim image itself.
//
// # Requirements
//
//   - Linux on x86-64 with hardware virtualization
//   - /dev/kvm present and read-write accessible
//   - KVM stable API (KVM_GET_API_VERSION == 12)
//
// Run `warden info` to probe all of the above at once.
//
// # Basic Usage
//
// Check if keeps can be launched:
//
//	supported, err := warden.Supported()
//	if err != nil || !supported {
//		log.Fatal("keeps not supported on this system")
//	}
//
// Build a keep from a shim image:
//
//	shim, err := os.ReadFile("shim.elf")
//	if err != nil {
//		log.Fatal("failed to read shim:", err)
//	}
//
//	keep, err := vm.New(shim)
//	if err != nil {
//		log.Fatal("failed to build keep:", err)
//	}
//	defer keep.Close()
//
// Add workload memory (appended as one contiguous region per call):
//
//	base, err := keep.AddMemory(256) // 256 pages, 1 MiB
//	if err != nil {
//		log.Fatal("failed to add memory:", err)
//	}
//
// Boot the primary thread and service exits:
//
//	thread, err := keep.AddThread()
//	if err != nil {
//		log.Fatal("failed to add thread:", err)
//	}
//	defer thread.Close()
//
//	for {
//		exit, err := thread.Enter()
//		if err != nil {
//			log.Fatal("failed to enter keep:", err)
//		}
//		if exit.Reason == kvm.ExitHLT {
//			break
//		}
//	}
//
// # Error Handling
//
// All errors implement the standard Go error interface and wrap their
// causes, so errors.Is and errors.As see through the chain. Hypervisor
// failures carry kvm.Errno values; lifecycle failures use named
// sentinels such as vm.ErrUnsupported and vm.ErrKeepClosed.
//
// # Resource Management
//
// Keeps and threads must be explicitly closed using Close().
// Finalizers provide safety net cleanup. Closing a keep unmaps every
// region and releases every thread it still owns.
//
// # Platform Support
//
// Linux x86-64 only. Other platforms return "not supported" errors.
package warden
