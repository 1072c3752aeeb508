package request

import (
	"context"
	"testing"

	"github.com/planeset/planeset/internal/core/kernel"
	"github.com/planeset/planeset/internal/core/registry"
	"github.com/planeset/planeset/internal/core/scene"
	"github.com/planeset/planeset/internal/mockkernel"
)

func newStagedPlane(id kernel.PlaneID, objectID uint32) *registry.Plane {
	return &registry.Plane{
		ID:       id,
		ObjectID: objectID,
		PipeMask: 1,
		Properties: map[string]kernel.PropertyInfo{
			"FB_ID":    {ID: 1, Mutable: true},
			"CRTC_ID":  {ID: 2, Mutable: true},
			"zpos":     {ID: 3, Mutable: false, Default: 5},
		},
	}
}

func TestStagePair_WritesSetPropertiesAndCRTCID(t *testing.T) {
	d := mockkernel.NewDriver()
	req := d.NewRequest()
	m := New(req)

	p := newStagedPlane(1, 100)
	sc := scene.New()
	out := sc.CreateOutput(0)
	l := sc.CreateLayer(out)
	sc.SetProperty(l, "FB_ID", 42)
	sc.SetProperty(l, "zpos", 99) // immutable on this plane: must not be written

	if err := m.StagePair(context.Background(), p, l); err != nil {
		t.Fatalf("StagePair: %v", err)
	}

	log := req.Log()
	if len(log) != 2 {
		t.Fatalf("expected 2 writes (FB_ID, CRTC_ID), got %d: %+v", len(log), log)
	}
	if log[0].ObjectID != 100 || log[0].PropertyID != 1 || log[0].Value != 42 {
		t.Errorf("unexpected FB_ID write: %+v", log[0])
	}
	if log[1].ObjectID != 100 || log[1].PropertyID != 2 || log[1].Value != 100 {
		t.Errorf("unexpected CRTC_ID write: %+v", log[1])
	}
}

func TestStagePair_OmitsUnsetProperties(t *testing.T) {
	d := mockkernel.NewDriver()
	req := d.NewRequest()
	m := New(req)

	p := newStagedPlane(1, 100)
	sc := scene.New()
	out := sc.CreateOutput(0)
	l := sc.CreateLayer(out)
	// l never sets FB_ID.

	if err := m.StagePair(context.Background(), p, l); err != nil {
		t.Fatalf("StagePair: %v", err)
	}

	log := req.Log()
	if len(log) != 1 || log[0].PropertyID != 2 {
		t.Fatalf("expected only the CRTC_ID write, got %+v", log)
	}
}

func TestDetach_WritesUnassignedSentinel(t *testing.T) {
	d := mockkernel.NewDriver()
	req := d.NewRequest()
	m := New(req)

	p := newStagedPlane(1, 100)
	if err := m.Detach(p); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	log := req.Log()
	if len(log) != 1 || log[0].ObjectID != 100 || log[0].PropertyID != 2 || log[0].Value != UnassignedCRTC {
		t.Fatalf("unexpected detach write: %+v", log)
	}
}

func TestRollbackToEntry_RestoresRequestExactly(t *testing.T) {
	d := mockkernel.NewDriver()
	req := d.NewRequest()

	req.Append(1, 1, 1) // some unrelated prior write
	entryCursor := req.SnapshotCursor()

	m := New(req)
	p := newStagedPlane(2, 200)
	if err := m.Detach(p); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	if len(req.Log()) != 2 {
		t.Fatalf("expected the detach write to be appended")
	}

	if err := m.RollbackToEntry(); err != nil {
		t.Fatalf("RollbackToEntry: %v", err)
	}
	if req.SnapshotCursor() != entryCursor {
		t.Fatalf("request should be restored to its entry cursor")
	}
}

func TestCheckpoint_RollsBackOnlyWritesSinceCheckpoint(t *testing.T) {
	d := mockkernel.NewDriver()
	req := d.NewRequest()
	m := New(req)

	p1 := newStagedPlane(1, 100)
	if err := m.Detach(p1); err != nil {
		t.Fatalf("Detach: %v", err)
	}
	checkpoint := m.Checkpoint()

	p2 := newStagedPlane(2, 200)
	if err := m.Detach(p2); err != nil {
		t.Fatalf("Detach: %v", err)
	}

	if err := m.RollbackTo(checkpoint); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}
	log := req.Log()
	if len(log) != 1 || log[0].ObjectID != 100 {
		t.Fatalf("expected only plane 1's detach write to survive, got %+v", log)
	}
}

func TestStage_AssignsAndDetachesInPlaneOrder(t *testing.T) {
	d := mockkernel.NewDriver()
	req := d.NewRequest()
	m := New(req)

	assigned := newStagedPlane(1, 100)
	unused := newStagedPlane(2, 200)

	sc := scene.New()
	out := sc.CreateOutput(0)
	l := sc.CreateLayer(out)
	sc.SetProperty(l, "FB_ID", 9)

	lookup := func(id kernel.LayerID) (*scene.Layer, bool) {
		if id == l.ID {
			return l, true
		}
		return nil, false
	}

	err := Stage(context.Background(), m, []*registry.Plane{unused, assigned}, []Assignment{{Plane: 1, Layer: l.ID}}, lookup)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}

	log := req.Log()
	if len(log) != 3 {
		t.Fatalf("expected 2 writes for the assigned plane plus 1 detach, got %d: %+v", len(log), log)
	}
	// Plane 1 (ascending id) is staged first, regardless of slice order.
	if log[0].ObjectID != 100 {
		t.Errorf("expected plane 1's writes first, got object %d", log[0].ObjectID)
	}
	if log[2].ObjectID != 200 || log[2].Value != UnassignedCRTC {
		t.Errorf("expected plane 2's detach last, got %+v", log[2])
	}
}
