// Package registry implements the Device Registry: a read-only catalogue of
// planes and their property schemas, built once at device start-up.
package registry

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/planeset/planeset/internal/core/kernel"
)

// Plane is the cached, immutable description of one hardware scan-out
// surface. It never changes between RegisterAllPlanes and device teardown.
type Plane struct {
	ID       kernel.PlaneID
	ObjectID uint32
	Kind     kernel.PlaneKind
	PipeMask uint32

	Properties map[string]kernel.PropertyInfo
	Formats    map[kernel.FormatModifier]struct{}

	// ImmutableZpos holds the plane's fixed zpos value when its zpos
	// property is reported as not mutable. Nil when zpos is mutable or the
	// plane has no zpos property at all.
	ImmutableZpos *uint64
}

// HasFormats reports whether the plane advertised an IN_FORMATS blob at
// all. A plane with no IN_FORMATS blob places no constraint on format or
// modifier (spec §4.3 rule 3 only applies "when IN_FORMATS is present").
func (p *Plane) HasFormats() bool {
	return p.Formats != nil
}

// AcceptsFormat reports whether (format, modifier) is in the plane's
// IN_FORMATS set. Always true when the plane has no IN_FORMATS blob.
func (p *Plane) AcceptsFormat(format uint32, modifier uint64) bool {
	if p.Formats == nil {
		return true
	}
	_, ok := p.Formats[kernel.FormatModifier{Format: format, Modifier: modifier}]
	return ok
}

// Registry is the immutable catalogue produced by RegisterAllPlanes.
type Registry struct {
	planes   map[kernel.PlaneID]*Plane
	ordered  []*Plane // stable enumeration order, ascending plane id
}

// Error wraps an enumeration or schema-read failure. It is fatal for the
// device handle it was produced for; a missing optional property is never
// reported through Error.
type Error struct {
	Plane     kernel.PlaneID // 0 when the failure precedes per-plane reads
	Operation string
	Err       error
}

func (e *Error) Error() string {
	if e.Plane != 0 {
		return fmt.Sprintf("registry: %s (plane %d): %v", e.Operation, e.Plane, e.Err)
	}
	return fmt.Sprintf("registry: %s: %v", e.Operation, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// RegisterAllPlanes enumerates planes from k, skips planes unusable by any
// output (a zero pipe mask), and reads each remaining plane's full property
// schema and IN_FORMATS blob.
func RegisterAllPlanes(ctx context.Context, k kernel.KernelAtomic) (*Registry, error) {
	descs, err := k.EnumeratePlanes(ctx)
	if err != nil {
		return nil, &Error{Operation: "enumerate planes", Err: err}
	}

	reg := &Registry{planes: make(map[kernel.PlaneID]*Plane, len(descs))}
	for _, d := range descs {
		if d.PipeMask == 0 {
			continue // unusable by any output
		}

		schema, err := k.ReadPropertySchema(ctx, d.ID)
		if err != nil {
			return nil, &Error{Plane: d.ID, Operation: "read property schema", Err: err}
		}

		p := &Plane{
			ID:         d.ID,
			ObjectID:   d.ObjectID,
			Kind:       d.Kind,
			PipeMask:   d.PipeMask,
			Properties: schema,
		}

		if info, ok := schema["zpos"]; ok && !info.Mutable {
			v := info.Default
			p.ImmutableZpos = &v
		}

		if formats, ok := parseInFormats(schema); ok {
			p.Formats = formats
		}

		reg.planes[d.ID] = p
	}

	reg.ordered = make([]*Plane, 0, len(reg.planes))
	for _, p := range reg.planes {
		reg.ordered = append(reg.ordered, p)
	}
	sort.Slice(reg.ordered, func(i, j int) bool { return reg.ordered[i].ID < reg.ordered[j].ID })

	return reg, nil
}

// parseInFormats extracts the (format, modifier) set from a plane's
// IN_FORMATS blob, if the schema carries one. The blob itself is opaque to
// this package's spec-facing model: callers encode it as an EnumValues list
// on a synthetic "IN_FORMATS" property, pairing format and modifier as
// adjacent entries (format at even index, modifier at the following odd
// index), the way the kernel's blob property is unpacked by the caller's
// KernelAtomic implementation before it ever reaches the registry.
func parseInFormats(schema map[string]kernel.PropertyInfo) (map[kernel.FormatModifier]struct{}, bool) {
	info, ok := schema["IN_FORMATS"]
	if !ok {
		return nil, false
	}
	pairs := info.EnumValues
	out := make(map[kernel.FormatModifier]struct{}, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out[kernel.FormatModifier{Format: uint32(pairs[i]), Modifier: pairs[i+1]}] = struct{}{}
	}
	return out, true
}

// LookupProperty answers "is property P mutable on plane Q?" and returns its
// full schema entry. The second return is false when the plane is unknown
// to the registry or the plane does not carry that property — a missing
// optional property is not an error, it is simply "not found".
func (r *Registry) LookupProperty(plane kernel.PlaneID, name string) (kernel.PropertyInfo, bool) {
	p, ok := r.planes[plane]
	if !ok {
		return kernel.PropertyInfo{}, false
	}
	info, ok := p.Properties[name]
	return info, ok
}

// Plane returns the cached description for id, or false if id was never
// registered (including planes skipped for having an empty pipe mask).
func (r *Registry) Plane(id kernel.PlaneID) (*Plane, bool) {
	p, ok := r.planes[id]
	return p, ok
}

// Planes returns every registered plane, ordered by ascending plane id.
func (r *Registry) Planes() []*Plane {
	return r.ordered
}

// ForPipe returns the registered planes whose pipe mask includes pipeBit,
// preserving ascending plane id order.
func (r *Registry) ForPipe(pipeBit uint32) []*Plane {
	out := make([]*Plane, 0, len(r.ordered))
	for _, p := range r.ordered {
		if p.PipeMask&pipeBit != 0 {
			out = append(out, p)
		}
	}
	return out
}

// Dump renders a deterministic, human-readable summary of the registry for
// diagnostics — property names are sorted so two runs over the same driver
// produce byte-identical output.
func (r *Registry) Dump() string {
	out := ""
	for _, p := range r.ordered {
		names := maps.Keys(p.Properties)
		sort.Strings(names)
		out += fmt.Sprintf("plane %d (%s, pipemask=%#x): %v\n", p.ID, p.Kind, p.PipeMask, names)
	}
	return out
}
