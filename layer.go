package planeset

import (
	"github.com/planeset/planeset/internal/core/filter"
	"github.com/planeset/planeset/internal/core/scene"
)

// Layer is a visual surface the caller wants placed on a plane. Layers are
// created topmost-last within their Output's stack: the first layer created
// is the bottom of the stack, and z-order constraints compare this relative
// order, not any later reshuffle.
type Layer struct {
	device *Device
	output *Output
	raw    *scene.Layer
}

// ID returns the layer's stable handle.
func (l *Layer) ID() LayerID { return l.raw.ID }

// LayerCreate appends a new layer to o, with no properties set and the
// given cost-function priority (spec: higher is preferred).
func LayerCreate(d *Device, o *Output, priority uint32) *Layer {
	raw := d.scene.CreateLayer(o.raw)
	raw.Priority = priority
	return &Layer{device: d, output: o, raw: raw}
}

// LayerDestroy removes l from its output.
func LayerDestroy(d *Device, o *Output, l *Layer) {
	d.scene.DestroyLayer(o.raw, l.raw)
}

// LayerSetProperty records a pending value for name on l. It takes effect
// on the next Apply; it is never validated against any plane's schema until
// then.
func LayerSetProperty(d *Device, l *Layer, name string, value uint64) {
	d.scene.SetProperty(l.raw, name, value)
}

// LayerUnsetProperty removes name from l's pending properties. This is
// distinct from setting it to the property's default: an unset property is
// omitted from the materialised request entirely.
func LayerUnsetProperty(d *Device, l *Layer, name string) {
	d.scene.UnsetProperty(l.raw, name)
}

// LayerGetPlaneID returns the plane l was assigned to by the most recent
// successful Apply, or (0, false) if l is currently left for composition.
func LayerGetPlaneID(l *Layer) (PlaneID, bool) {
	if l.raw.PlaneID == 0 {
		return 0, false
	}
	return l.raw.PlaneID, true
}

// LayerNeedsComposition reports whether l was left out of direct scan-out
// by the most recent Apply and must be drawn some other way. A layer that
// is a no-op (transparent, or framebuffer-less) never needs composition: it
// contributes nothing to the image either way.
func LayerNeedsComposition(l *Layer) bool {
	if filter.IsNoOp(l.raw) {
		return false
	}
	return l.raw.PlaneID == 0
}
