// Package device defines the lowest-level byte-addressable storage
// capability consumed by filesystem backends, together with a
// concurrency-safe wrapper that carries ownership, permissions and
// timestamps, and a registry that hands out stable handles for use as
// synchronous callback contexts.
//
// Concrete devices include a memory-backed store and a partition view over
// another device. Drivers for real media implement the same Device
// interface.
package device
