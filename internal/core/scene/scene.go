// Package scene implements the Scene Model: the compositor-supplied
// description of outputs, their ordered layers, and each layer's pending
// property values. Nothing here validates against a plane's schema — that
// is the Candidate Filter's job.
package scene

import "github.com/planeset/planeset/internal/core/kernel"

// PropertyValue is a 64-bit property value with an explicit "unset" state,
// distinct from the property's default. Unset means the caller imposes no
// constraint and the materialiser must omit the property entirely.
type PropertyValue struct {
	Value uint64
	Unset bool
}

// Layer is a visual surface the caller wants placed on a plane.
type Layer struct {
	ID     kernel.LayerID
	Output kernel.OutputID

	props map[string]PropertyValue

	// Priority is the caller-supplied weight used by the cost function
	// (spec §4.4): higher is preferred.
	Priority uint32

	// CompatibilityHint, when non-nil, restricts this layer to the given
	// plane set regardless of what the Candidate Filter would otherwise
	// allow. Used for testing and caller-side policy (spec §4.3).
	CompatibilityHint map[kernel.PlaneID]struct{}

	// PlaneID is the plane this layer was assigned to by the most recent
	// successful Apply, or 0 if unassigned.
	PlaneID kernel.PlaneID

	// stackIndex is this layer's position within its output's layer slice
	// at the time it was created; index 0 is the bottom of the stack.
	// It never changes once assigned, even if sibling layers are later
	// destroyed, because z-order constraints (spec §4.4) compare relative
	// stacking order, not slice position.
	stackIndex int
}

// StackIndex returns the layer's position in its output's back-to-front
// stacking order; lower indices are further back.
func (l *Layer) StackIndex() int { return l.stackIndex }

// Get returns the pending value for name and whether it is currently set
// (present and not Unset).
func (l *Layer) Get(name string) (PropertyValue, bool) {
	v, ok := l.props[name]
	if !ok || v.Unset {
		return PropertyValue{}, false
	}
	return v, true
}

// Properties returns the layer's full pending property map. Callers must
// not mutate the returned map.
func (l *Layer) Properties() map[string]PropertyValue {
	return l.props
}

// Output is a logical display pipe: an ordered list of layers in
// back-to-front stacking order, as declared by the compositor.
type Output struct {
	ID     kernel.OutputID
	PipeID uint32

	layers    []*Layer
	nextStack int
}

// Layers returns the output's layers in back-to-front (bottom-first, as
// created) stacking order. Callers must not mutate the returned slice.
func (o *Output) Layers() []*Layer { return o.layers }

// Scene owns every output and layer created through it, and hands out the
// stable ids other components reference.
type Scene struct {
	outputs map[kernel.OutputID]*Output
	layers  map[kernel.LayerID]*Layer

	nextOutput kernel.OutputID
	nextLayer  kernel.LayerID
}

// New returns an empty scene.
func New() *Scene {
	return &Scene{
		outputs: make(map[kernel.OutputID]*Output),
		layers:  make(map[kernel.LayerID]*Layer),
	}
}

// CreateOutput registers a new logical display pipe.
func (s *Scene) CreateOutput(pipeID uint32) *Output {
	s.nextOutput++
	o := &Output{ID: s.nextOutput, PipeID: pipeID}
	s.outputs[o.ID] = o
	return o
}

// DestroyOutput removes o and every layer it owns.
func (s *Scene) DestroyOutput(o *Output) {
	for _, l := range o.layers {
		delete(s.layers, l.ID)
	}
	delete(s.outputs, o.ID)
}

// Output looks up a previously created output by id.
func (s *Scene) Output(id kernel.OutputID) (*Output, bool) {
	o, ok := s.outputs[id]
	return o, ok
}

// Outputs returns every live output. Callers must not mutate the returned
// map.
func (s *Scene) Outputs() map[kernel.OutputID]*Output { return s.outputs }

// CreateLayer appends a new layer to output, ordered last (topmost). The
// layer starts with no properties set.
func (s *Scene) CreateLayer(o *Output) *Layer {
	s.nextLayer++
	l := &Layer{
		ID:         s.nextLayer,
		Output:     o.ID,
		props:      make(map[string]PropertyValue),
		stackIndex: o.nextStack,
	}
	o.nextStack++
	o.layers = append(o.layers, l)
	s.layers[l.ID] = l
	return l
}

// Layer looks up a previously created layer by id.
func (s *Scene) Layer(id kernel.LayerID) (*Layer, bool) {
	l, ok := s.layers[id]
	return l, ok
}

// SetProperty records a pending value for name on l. It does not validate
// against any plane's schema.
func (s *Scene) SetProperty(l *Layer, name string, value uint64) {
	l.props[name] = PropertyValue{Value: value}
}

// UnsetProperty removes name from l's pending map. This is distinct from
// setting name to the property's default value: after UnsetProperty, the
// materialiser omits the property entirely rather than writing a default.
func (s *Scene) UnsetProperty(l *Layer, name string) {
	delete(l.props, name)
}

// DestroyLayer removes l from its owning output and from the scene.
func (s *Scene) DestroyLayer(o *Output, l *Layer) {
	for i, candidate := range o.layers {
		if candidate.ID == l.ID {
			o.layers = append(o.layers[:i], o.layers[i+1:]...)
			break
		}
	}
	delete(s.layers, l.ID)
}
