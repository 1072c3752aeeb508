// Package mockkernel is a hand-rolled test double for the kernel package's
// KernelAtomic and AtomicRequest interfaces. It is grounded on the shape of
// ardera/libliftoff's C mock driver (liftoff_mock_drm_*): compatibility is
// controlled entirely by a caller-supplied acceptance set, making the
// allocator fully deterministic under test (spec §9 "oracle dependency").
package mockkernel

import (
	"context"
	"fmt"

	"github.com/planeset/planeset/internal/core/kernel"
)

// Property is one entry a mock plane carries in its schema.
type Property struct {
	Name     string
	Mutable  bool
	Default  uint64
	HasRange bool
	Min, Max uint64
	Enum     []uint64
}

// Plane is a mock plane description, registered with Driver.AddPlane.
type Plane struct {
	Kind       kernel.PlaneKind
	PipeMask   uint32
	Properties []Property
}

// Framebuffer is a mock framebuffer's format/modifier pair.
type Framebuffer struct {
	Format   uint32
	Modifier uint64
	Width    uint32
	Height   uint32
}

// Driver is an in-memory stand-in for a kernel atomic-modesetting driver.
// It implements kernel.KernelAtomic directly; NewRequest returns
// kernel.AtomicRequest handles whose acceptance is decided per request by
// Request.Accepts.
type Driver struct {
	planes       map[kernel.PlaneID]*Plane
	nextPlaneID  kernel.PlaneID
	nextObjectID uint32
	framebuffers map[uint64]Framebuffer
	nextFBID     uint64

	// Compatible is not consulted by Request.TestCommit: acceptance is
	// decided only by Request.Accepts, and a request with no Accepts
	// accepts every commit whether or not Compatible is set.
	Compatible func(plane kernel.PlaneID, crtcIDWritten bool, assignedObjectID uint32) bool
}

// NewDriver returns an empty mock driver.
func NewDriver() *Driver {
	return &Driver{
		planes:       make(map[kernel.PlaneID]*Plane),
		framebuffers: make(map[uint64]Framebuffer),
	}
}

// AddPlane registers a new mock plane and returns its id.
func (d *Driver) AddPlane(p Plane) kernel.PlaneID {
	d.nextPlaneID++
	d.nextObjectID++
	cp := p
	cp.Properties = append([]Property(nil), p.Properties...)
	d.planes[d.nextPlaneID] = &cp
	return d.nextPlaneID
}

// ObjectID returns the mock object id backing a plane, for tests that need
// to assert on raw request writes.
func (d *Driver) ObjectID(id kernel.PlaneID) uint32 {
	return uint32(id)
}

// AddFramebuffer registers a mock framebuffer and returns its fb id.
func (d *Driver) AddFramebuffer(fb Framebuffer) uint64 {
	d.nextFBID++
	d.framebuffers[d.nextFBID] = fb
	return d.nextFBID
}

// EnumeratePlanes implements kernel.KernelAtomic.
func (d *Driver) EnumeratePlanes(ctx context.Context) ([]kernel.PlaneDescriptor, error) {
	out := make([]kernel.PlaneDescriptor, 0, len(d.planes))
	for id, p := range d.planes {
		out = append(out, kernel.PlaneDescriptor{
			ID:       id,
			Kind:     p.Kind,
			PipeMask: p.PipeMask,
			ObjectID: uint32(id),
		})
	}
	return out, nil
}

// ReadPropertySchema implements kernel.KernelAtomic.
func (d *Driver) ReadPropertySchema(ctx context.Context, plane kernel.PlaneID) (map[string]kernel.PropertyInfo, error) {
	p, ok := d.planes[plane]
	if !ok {
		return nil, fmt.Errorf("mockkernel: unknown plane %d", plane)
	}
	out := make(map[string]kernel.PropertyInfo, len(p.Properties))
	for i, prop := range p.Properties {
		out[prop.Name] = kernel.PropertyInfo{
			ID:         uint32(i + 1),
			Mutable:    prop.Mutable,
			Default:    prop.Default,
			HasRange:   prop.HasRange,
			Min:        prop.Min,
			Max:        prop.Max,
			EnumValues: prop.Enum,
		}
	}
	// CRTC_ID is always present and mutable, matching every real driver.
	if _, ok := out["CRTC_ID"]; !ok {
		out["CRTC_ID"] = kernel.PropertyInfo{ID: uint32(len(p.Properties) + 1), Mutable: true}
	}
	return out, nil
}

// ReadFramebufferInfo implements kernel.KernelAtomic.
func (d *Driver) ReadFramebufferInfo(ctx context.Context, fbID uint64) (kernel.FramebufferInfo, bool, error) {
	fb, ok := d.framebuffers[fbID]
	if !ok {
		return kernel.FramebufferInfo{}, false, nil
	}
	return kernel.FramebufferInfo{Format: fb.Format, Modifier: fb.Modifier, Width: fb.Width, Height: fb.Height}, true, nil
}

// write is one entry in the request's append-only log.
type write struct {
	objectID   uint32
	propertyID uint32
	value      uint64
}

// Request is the mock kernel.AtomicRequest: an append-only log plus a
// test-commit oracle decided by Accepts.
type Request struct {
	d    *Driver
	log  []write
	// Accepts, when non-nil, decides acceptance for this request from the
	// full current log (when nil, every commit is accepted), letting tests
	// express "plane P + layer-identifying value V is acceptable" directly
	// instead of reasoning about property ids.
	Accepts func(log []struct {
		ObjectID   uint32
		PropertyID uint32
		Value      uint64
	}) bool
}

// NewRequest returns a fresh, empty request over d.
func (d *Driver) NewRequest() *Request {
	return &Request{d: d}
}

// Append implements kernel.AtomicRequest.
func (r *Request) Append(objectID, propertyID uint32, value uint64) (kernel.Cursor, error) {
	c := kernel.Cursor(len(r.log))
	r.log = append(r.log, write{objectID, propertyID, value})
	return c, nil
}

// Truncate implements kernel.AtomicRequest.
func (r *Request) Truncate(c kernel.Cursor) error {
	if int(c) > len(r.log) {
		return fmt.Errorf("mockkernel: truncate cursor %d past log end %d", c, len(r.log))
	}
	r.log = r.log[:c]
	return nil
}

// SnapshotCursor implements kernel.AtomicRequest.
func (r *Request) SnapshotCursor() kernel.Cursor {
	return kernel.Cursor(len(r.log))
}

// TestCommit implements kernel.AtomicRequest. It never mutates r.log.
func (r *Request) TestCommit(ctx context.Context) (bool, error) {
	if r.Accepts != nil {
		view := make([]struct {
			ObjectID   uint32
			PropertyID uint32
			Value      uint64
		}, len(r.log))
		for i, w := range r.log {
			view[i] = struct {
				ObjectID   uint32
				PropertyID uint32
				Value      uint64
			}{w.objectID, w.propertyID, w.value}
		}
		return r.Accepts(view), nil
	}
	return true, nil
}

// Log returns a snapshot of the request's current writes, for assertions.
func (r *Request) Log() []struct {
	ObjectID   uint32
	PropertyID uint32
	Value      uint64
} {
	out := make([]struct {
		ObjectID   uint32
		PropertyID uint32
		Value      uint64
	}, len(r.log))
	for i, w := range r.log {
		out[i] = struct {
			ObjectID   uint32
			PropertyID uint32
			Value      uint64
		}{w.objectID, w.propertyID, w.value}
	}
	return out
}
