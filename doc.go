// Package planeset assigns compositor layers to a display's hardware
// scan-out planes.
//
// Given an Output's ordered stack of Layers and a Device's registered Planes,
// Apply searches for the assignment that puts as many layers into direct
// scan-out as possible, subject to each plane's property schema, pipe
// routing, z-order, and a kernel-supplied test-commit oracle that has the
// final say over whether an assignment is actually usable. Layers that
// cannot be placed on any plane are left for the caller to composite by
// other means (GPU blending, typically); planeset never does that
// compositing itself.
//
// The allocation core never talks to a kernel driver directly. Callers
// implement KernelAtomic and AtomicRequest against whatever ioctl, protocol,
// or test harness backs their display stack; see the mockkernel package for
// an in-memory implementation used by this module's own tests.
package planeset
