// Package mmap manages anonymous host memory mappings used as guest
// memory backing.
//
// A Mapping owns exactly one mmap'd range and releases it exactly
// once. Ownership is transferred by handing the Mapping to a longer
// lived holder; whoever holds it last calls Release. A finalizer
// releases leaked mappings as a safety net.
package mmap
