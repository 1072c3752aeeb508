// Package request implements the Request Materialiser: it writes a chosen
// Allocation Plan as property additions onto an atomic request handle, and
// restores that handle to its entry state on rollback.
package request

import (
	"context"
	"fmt"
	"sort"

	"github.com/planeset/planeset/internal/core/filter"
	"github.com/planeset/planeset/internal/core/kernel"
	"github.com/planeset/planeset/internal/core/registry"
	"github.com/planeset/planeset/internal/core/scene"
)

// UnassignedCRTC is the sentinel CRTC_ID value written to detach a plane
// from its output.
const UnassignedCRTC uint64 = 0

// Assignment pairs one plane with the layer staged onto it.
type Assignment struct {
	Plane kernel.PlaneID
	Layer kernel.LayerID
}

// Materialiser stages assignments onto a kernel.AtomicRequest and can roll
// its writes back. The request handle is treated as a log-structured,
// append-only buffer: the Materialiser keeps its entry cursor, and callers
// take a Checkpoint before a tentative write so a failed branch can be
// truncated back exactly (spec §4.5, §9).
type Materialiser struct {
	req   kernel.AtomicRequest
	entry kernel.Cursor
}

// New returns a Materialiser over req, capturing req's current position as
// the rollback point for RollbackToEntry.
func New(req kernel.AtomicRequest) *Materialiser {
	return &Materialiser{req: req, entry: req.SnapshotCursor()}
}

// Checkpoint returns the request's current cursor, for a caller that wants
// to undo only the writes made since this call (e.g. one rejected branch
// of the allocation search), without disturbing writes made earlier in the
// same Apply.
func (m *Materialiser) Checkpoint() kernel.Cursor {
	return m.req.SnapshotCursor()
}

// RollbackTo truncates the request back to a previously returned
// checkpoint.
func (m *Materialiser) RollbackTo(c kernel.Cursor) error {
	return m.req.Truncate(c)
}

// RollbackToEntry restores the request to the state it had when this
// Materialiser was constructed (spec §8 "request invariance on failure").
func (m *Materialiser) RollbackToEntry() error {
	return m.req.Truncate(m.entry)
}

// StagePair writes every property layer has set onto plane, plus CRTC_ID
// for the assignment, in the deterministic per-plane order required by
// spec §5 (plane id ascending is the caller's responsibility across
// multiple StagePair calls; within one call, property id ascending).
// Immutable properties and properties the layer has not set are never
// written.
func (m *Materialiser) StagePair(ctx context.Context, plane *registry.Plane, layer *scene.Layer) error {
	type write struct {
		propID uint32
		value  uint64
	}
	var writes []write

	for name, v := range layer.Properties() {
		if v.Unset {
			continue
		}
		info, known := plane.Properties[name]
		if !known || !info.Mutable {
			continue
		}
		if name == filter.PropZpos && plane.ImmutableZpos != nil {
			continue // value ignored; ordering enforced structurally
		}
		writes = append(writes, write{propID: info.ID, value: v.Value})
	}

	if crtcInfo, known := plane.Properties[filter.PropCRTCID]; known {
		writes = append(writes, write{propID: crtcInfo.ID, value: uint64(plane.ObjectID)})
	}

	sort.Slice(writes, func(i, j int) bool { return writes[i].propID < writes[j].propID })

	for _, w := range writes {
		if _, err := m.req.Append(plane.ObjectID, w.propID, w.value); err != nil {
			return fmt.Errorf("request: stage plane %d: %w", plane.ID, err)
		}
	}
	return nil
}

// Detach writes the unassigned sentinel to plane's CRTC_ID, for a plane the
// plan leaves unused.
func (m *Materialiser) Detach(plane *registry.Plane) error {
	info, known := plane.Properties[filter.PropCRTCID]
	if !known {
		return nil
	}
	if _, err := m.req.Append(plane.ObjectID, info.ID, UnassignedCRTC); err != nil {
		return fmt.Errorf("request: detach plane %d: %w", plane.ID, err)
	}
	return nil
}

// Stage materialises a complete plan: every plane in planes ascending by
// id, assigned planes get StagePair, unused planes get Detach.
func Stage(ctx context.Context, m *Materialiser, planes []*registry.Plane, assignments []Assignment, layerByID func(kernel.LayerID) (*scene.Layer, bool)) error {
	assigned := make(map[kernel.PlaneID]kernel.LayerID, len(assignments))
	for _, a := range assignments {
		assigned[a.Plane] = a.Layer
	}

	ordered := make([]*registry.Plane, len(planes))
	copy(ordered, planes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, p := range ordered {
		layerID, ok := assigned[p.ID]
		if !ok {
			if err := m.Detach(p); err != nil {
				return err
			}
			continue
		}
		layer, ok := layerByID(layerID)
		if !ok {
			return fmt.Errorf("request: plan references unknown layer %d", layerID)
		}
		if err := m.StagePair(ctx, p, layer); err != nil {
			return err
		}
	}
	return nil
}
