package planeset

import (
	"github.com/planeset/planeset/internal/core/kernel"
	"github.com/planeset/planeset/internal/core/scene"
)

// Output is a logical display pipe: an ordered, back-to-front stack of
// Layers belonging to one Device.
type Output struct {
	device *Device
	raw    *scene.Output
}

// ID returns the output's stable handle.
func (o *Output) ID() OutputID { return o.raw.ID }

// OutputCreate registers a new output on d, routed over pipeID — the small,
// caller-assigned integer identifying which of the kernel's CRTCs/pipes
// this output drives. pipeID must match the bit a plane's PipeMask reports
// for this pipe (kernel.PipeBit(pipeID)).
func OutputCreate(d *Device, pipeID uint32) *Output {
	raw := d.scene.CreateOutput(pipeID)
	return &Output{device: d, raw: raw}
}

// OutputDestroy removes o and every layer it owns from d's scene, and
// drops any cached incremental-reuse plan for it.
func OutputDestroy(d *Device, o *Output) {
	d.scene.DestroyOutput(o.raw)
	delete(d.prev, o.raw.ID)
}

// pipeBit returns the bit identifying this output's pipe within a plane's
// PipeMask.
func (o *Output) pipeBit() uint32 {
	return kernel.PipeBit(o.raw.PipeID)
}
