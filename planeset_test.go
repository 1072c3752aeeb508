package planeset_test

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/planeset/planeset"
	"github.com/planeset/planeset/internal/mockkernel"
)

func standardProps() []mockkernel.Property {
	return []mockkernel.Property{
		{Name: planeset.PropFBID, Mutable: true},
		{Name: planeset.PropCRTCX, Mutable: true},
		{Name: planeset.PropCRTCY, Mutable: true},
		{Name: planeset.PropCRTCW, Mutable: true},
		{Name: planeset.PropCRTCH, Mutable: true},
	}
}

func TestOutputApply_AssignsLayerToPrimary(t *testing.T) {
	ctx := context.Background()
	driver := mockkernel.NewDriver()
	driver.AddPlane(mockkernel.Plane{Kind: planeset.PlanePrimary, PipeMask: 1, Properties: standardProps()})

	d := planeset.DeviceCreate(driver, driver.ReadFramebufferInfo)
	if err := planeset.DeviceRegisterAllPlanes(ctx, d); err != nil {
		t.Fatalf("DeviceRegisterAllPlanes: %v", err)
	}

	out := planeset.OutputCreate(d, 0)
	fbID := driver.AddFramebuffer(mockkernel.Framebuffer{})
	l := planeset.LayerCreate(d, out, 1)
	planeset.LayerSetProperty(d, l, planeset.PropFBID, fbID)

	req := driver.NewRequest()
	got, err := planeset.OutputApply(ctx, d, out, req)
	if err != nil {
		t.Fatalf("OutputApply: %v", err)
	}
	want := planeset.Result{Assigned: true, Reused: false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Result mismatch (-want +got):\n%s", diff)
	}

	p, ok := planeset.LayerGetPlaneID(l)
	if !ok {
		t.Fatalf("expected the layer to be assigned a plane")
	}
	if planeset.LayerNeedsComposition(l) {
		t.Errorf("an assigned layer must not need composition")
	}
	_ = p
}

func TestOutputApply_OracleRejectsAllLeavesRequestUntouched(t *testing.T) {
	ctx := context.Background()
	driver := mockkernel.NewDriver()
	driver.AddPlane(mockkernel.Plane{Kind: planeset.PlanePrimary, PipeMask: 1, Properties: standardProps()})

	d := planeset.DeviceCreate(driver, driver.ReadFramebufferInfo)
	if err := planeset.DeviceRegisterAllPlanes(ctx, d); err != nil {
		t.Fatalf("DeviceRegisterAllPlanes: %v", err)
	}

	out := planeset.OutputCreate(d, 0)
	fbID := driver.AddFramebuffer(mockkernel.Framebuffer{})
	l := planeset.LayerCreate(d, out, 1)
	planeset.LayerSetProperty(d, l, planeset.PropFBID, fbID)

	req := driver.NewRequest()
	req.Accepts = func(log []struct {
		ObjectID   uint32
		PropertyID uint32
		Value      uint64
	}) bool {
		return false // nothing is ever acceptable to this driver
	}
	entry := req.SnapshotCursor()

	got, err := planeset.OutputApply(ctx, d, out, req)
	if err != nil {
		t.Fatalf("OutputApply: %v", err)
	}
	if got.Assigned {
		t.Errorf("expected allocation failure, not an assigned layer")
	}
	if req.SnapshotCursor() != entry {
		t.Errorf("request must be byte-identical to entry after an apply with no assignments")
	}
	if !planeset.LayerNeedsComposition(l) {
		t.Errorf("an unassigned, non-no-op layer must need composition")
	}
}

func TestDisplayApply_HandlesMultipleOutputsOnOneRequest(t *testing.T) {
	ctx := context.Background()
	driver := mockkernel.NewDriver()
	driver.AddPlane(mockkernel.Plane{Kind: planeset.PlanePrimary, PipeMask: 1 << 0, Properties: standardProps()})
	driver.AddPlane(mockkernel.Plane{Kind: planeset.PlanePrimary, PipeMask: 1 << 1, Properties: standardProps()})

	d := planeset.DeviceCreate(driver, driver.ReadFramebufferInfo)
	if err := planeset.DeviceRegisterAllPlanes(ctx, d); err != nil {
		t.Fatalf("DeviceRegisterAllPlanes: %v", err)
	}

	out0 := planeset.OutputCreate(d, 0)
	out1 := planeset.OutputCreate(d, 1)
	fbID := driver.AddFramebuffer(mockkernel.Framebuffer{})

	l0 := planeset.LayerCreate(d, out0, 1)
	planeset.LayerSetProperty(d, l0, planeset.PropFBID, fbID)
	l1 := planeset.LayerCreate(d, out1, 1)
	planeset.LayerSetProperty(d, l1, planeset.PropFBID, fbID)

	req := driver.NewRequest()
	results, err := planeset.DisplayApply(ctx, d, req)
	if err != nil {
		t.Fatalf("DisplayApply: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected a result per output, got %d", len(results))
	}
	for id, res := range results {
		if !res.Assigned {
			t.Errorf("output %d: expected its layer to be assigned", id)
		}
	}
}
