package mockkernel

import (
	"context"
	"testing"

	"github.com/planeset/planeset/internal/core/kernel"
)

func TestEnumeratePlanes_ReportsRegisteredPlanes(t *testing.T) {
	d := NewDriver()
	id := d.AddPlane(Plane{Kind: kernel.PlanePrimary, PipeMask: 1})

	descs, err := d.EnumeratePlanes(context.Background())
	if err != nil {
		t.Fatalf("EnumeratePlanes: %v", err)
	}
	if len(descs) != 1 || descs[0].ID != id {
		t.Fatalf("unexpected planes: %+v", descs)
	}
}

func TestReadPropertySchema_AlwaysIncludesCRTCID(t *testing.T) {
	d := NewDriver()
	id := d.AddPlane(Plane{Kind: kernel.PlaneOverlay, PipeMask: 1})

	schema, err := d.ReadPropertySchema(context.Background(), id)
	if err != nil {
		t.Fatalf("ReadPropertySchema: %v", err)
	}
	info, ok := schema["CRTC_ID"]
	if !ok || !info.Mutable {
		t.Fatalf("expected a mutable synthetic CRTC_ID, got %+v (ok=%v)", info, ok)
	}
}

func TestReadFramebufferInfo_UnknownIDIsNotFoundNotError(t *testing.T) {
	d := NewDriver()
	_, found, err := d.ReadFramebufferInfo(context.Background(), 999)
	if err != nil {
		t.Fatalf("ReadFramebufferInfo: %v", err)
	}
	if found {
		t.Fatalf("expected found=false for an unregistered framebuffer id")
	}
}

func TestTruncate_DiscardsWritesAfterCursor(t *testing.T) {
	d := NewDriver()
	req := d.NewRequest()

	req.Append(1, 1, 1)
	mid := req.SnapshotCursor()
	req.Append(2, 2, 2)

	if err := req.Truncate(mid); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	log := req.Log()
	if len(log) != 1 || log[0].ObjectID != 1 {
		t.Fatalf("expected only the first write to survive, got %+v", log)
	}
}

func TestTestCommit_DelegatesToAccepts(t *testing.T) {
	d := NewDriver()
	req := d.NewRequest()
	req.Accepts = func(log []struct {
		ObjectID   uint32
		PropertyID uint32
		Value      uint64
	}) bool {
		return len(log) == 1 && log[0].Value == 42
	}

	req.Append(1, 1, 1)
	ok, err := req.TestCommit(context.Background())
	if err != nil {
		t.Fatalf("TestCommit: %v", err)
	}
	if ok {
		t.Fatalf("expected rejection for a value the Accepts func does not allow")
	}

	req.Truncate(0)
	req.Append(1, 1, 42)
	ok, err = req.TestCommit(context.Background())
	if err != nil {
		t.Fatalf("TestCommit: %v", err)
	}
	if !ok {
		t.Fatalf("expected acceptance for the value the Accepts func allows")
	}
}

func TestTestCommit_DefaultAcceptsEverything(t *testing.T) {
	d := NewDriver()
	req := d.NewRequest()
	req.Append(1, 1, 1)

	ok, err := req.TestCommit(context.Background())
	if err != nil {
		t.Fatalf("TestCommit: %v", err)
	}
	if !ok {
		t.Fatalf("a request with no Accepts override should always be accepted")
	}
}
