package planeset

import (
	"github.com/planeset/planeset/internal/core/kernel"
)

// PlaneID, LayerID and OutputID identify planes, layers and outputs across
// the public API. They are the same stable handles the kernel boundary
// hands out; DeviceID is a process-local counter, since a Device has no
// kernel-side identity of its own.
type (
	PlaneID  = kernel.PlaneID
	LayerID  = kernel.LayerID
	OutputID = kernel.OutputID
)

// DeviceID identifies a Device returned by DeviceCreate.
type DeviceID uint32

// PlaneKind classifies a plane the way the kernel reports it.
type PlaneKind = kernel.PlaneKind

const (
	PlaneUnknown = kernel.PlaneUnknown
	PlanePrimary = kernel.PlanePrimary
	PlaneOverlay = kernel.PlaneOverlay
	PlaneCursor  = kernel.PlaneCursor
)

// Well-known property names the allocator interprets specially. Any other
// name is opaque to the core and only ever compared for presence/value.
const (
	PropFBID     = "FB_ID"
	PropCRTCX    = "CRTC_X"
	PropCRTCY    = "CRTC_Y"
	PropCRTCW    = "CRTC_W"
	PropCRTCH    = "CRTC_H"
	PropSRCX     = "SRC_X"
	PropSRCY     = "SRC_Y"
	PropSRCW     = "SRC_W"
	PropSRCH     = "SRC_H"
	PropCRTCID   = "CRTC_ID"
	PropAlpha    = "alpha"
	PropRotation = "rotation"
	PropZpos     = "zpos"
)

// KernelAtomic is the read side of the kernel boundary a caller implements:
// plane enumeration, property schema reads, and framebuffer metadata.
type KernelAtomic = kernel.KernelAtomic

// AtomicRequest is the write side of the kernel boundary: an append-only,
// checkpoint/truncate/test-commit batch of property writes.
type AtomicRequest = kernel.AtomicRequest

// Cursor is an opaque position inside an AtomicRequest's append log.
type Cursor = kernel.Cursor

// PropertyInfo describes one entry in a plane's property schema, as read
// from KernelAtomic.ReadPropertySchema.
type PropertyInfo = kernel.PropertyInfo

// FramebufferInfo is what ReadFramebufferInfo reports for an FB_ID value.
type FramebufferInfo = kernel.FramebufferInfo

// PlaneDescriptor is what EnumeratePlanes reports before the property
// schema has been read.
type PlaneDescriptor = kernel.PlaneDescriptor
