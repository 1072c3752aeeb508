package planeset

import (
	"context"
	"sync/atomic"

	"github.com/planeset/planeset/internal/core/alloc"
	"github.com/planeset/planeset/internal/core/filter"
	"github.com/planeset/planeset/internal/core/registry"
	"github.com/planeset/planeset/internal/core/scene"
)

var nextDeviceID uint32

// Device owns a kernel's plane registry and the scene of outputs/layers the
// caller builds against it. The zero value is not usable; construct one
// with DeviceCreate.
//
// Apply must not be called concurrently with another Apply on the same
// Device, nor concurrently with Scene Model mutation (LayerCreate,
// LayerSetProperty, and so on) on layers it is about to read. Nothing in
// Device enforces this with a mutex; callers serialize it the same way they
// already serialize a single kernel driver handle.
type Device struct {
	ID DeviceID

	kernel KernelAtomic
	fb     FramebufferLookup
	reg    *registry.Registry
	scene  *scene.Scene

	search *alloc.Search
	prev   map[OutputID]*alloc.Previous
}

// FramebufferLookup resolves a layer's FB_ID to its format/modifier pair.
type FramebufferLookup = filter.FramebufferLookup

// DeviceCreate returns a new, empty Device bound to k. No planes are
// registered yet; call DeviceRegisterAllPlanes before creating any Output.
func DeviceCreate(k KernelAtomic, fb FramebufferLookup) *Device {
	return &Device{
		ID:     DeviceID(atomic.AddUint32(&nextDeviceID, 1)),
		kernel: k,
		fb:     fb,
		scene:  scene.New(),
		prev:   make(map[OutputID]*alloc.Previous),
	}
}

// DeviceDestroy releases d's scene state. It does not touch the kernel
// boundary; the caller owns k's lifetime.
func DeviceDestroy(d *Device) {
	d.scene = scene.New()
	d.reg = nil
	d.prev = nil
}

// DeviceRegisterAllPlanes enumerates every plane k exposes and caches their
// property schemas. It must be called once, before any Output is created,
// and again only if the caller knows the kernel's plane set has changed.
func DeviceRegisterAllPlanes(ctx context.Context, d *Device) error {
	reg, err := registry.RegisterAllPlanes(ctx, d.kernel)
	if err != nil {
		return &EnumerationError{Device: d.ID, Operation: "register planes", Err: err}
	}
	d.reg = reg
	d.search = alloc.New(reg, d.fb, alloc.Config{})
	return nil
}

// DeviceConfigureDeadline installs a deadline the allocation search checks
// between branch-and-bound nodes (never inside a test-commit call itself).
// A zero cfg.Deadline disables the check.
func DeviceConfigureDeadline(d *Device, cfg Config) {
	d.search = alloc.New(d.reg, d.fb, alloc.Config{Clock: cfg.Clock, Deadline: cfg.Deadline})
}

// DeviceDumpRegistry renders a deterministic, human-readable summary of
// every plane DeviceRegisterAllPlanes registered, for diagnostics. Empty
// until DeviceRegisterAllPlanes has been called.
func DeviceDumpRegistry(d *Device) string {
	if d.reg == nil {
		return ""
	}
	return d.reg.Dump()
}
