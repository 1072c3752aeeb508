// Command planesetctl exercises the allocation core against the in-memory
// mock kernel, for manual poking and as a worked example of the public API.
// It is not part of the library surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/planeset/planeset"
	"github.com/planeset/planeset/internal/mockkernel"
)

func main() {
	overlays := flag.Int("overlays", 2, "number of overlay planes to expose, in addition to one primary")
	layers := flag.Int("layers", 3, "number of layers to place on the output")
	verbose := flag.Bool("v", false, "log every property write staged onto the request")
	flag.Parse()

	if *overlays < 0 || *layers < 0 {
		log.Fatal("planesetctl: -overlays and -layers must be non-negative")
	}

	driver := buildDriver(*overlays)
	d := planeset.DeviceCreate(driver, driver.ReadFramebufferInfo)

	ctx := context.Background()
	if err := planeset.DeviceRegisterAllPlanes(ctx, d); err != nil {
		log.Fatalf("planesetctl: register planes: %v", err)
	}

	if *verbose {
		fmt.Print(planeset.DeviceDumpRegistry(d))
	}

	out := planeset.OutputCreate(d, 0)
	fbID := driver.AddFramebuffer(mockkernel.Framebuffer{Format: 0x34325258, Width: 1920, Height: 1080})

	for i := 0; i < *layers; i++ {
		l := planeset.LayerCreate(d, out, uint32(*layers-i)) // topmost layer gets lowest priority, matching typical compositor stacking
		planeset.LayerSetProperty(d, l, planeset.PropFBID, fbID)
		planeset.LayerSetProperty(d, l, planeset.PropCRTCW, 1920)
		planeset.LayerSetProperty(d, l, planeset.PropCRTCH, 1080)
	}

	req := driver.NewRequest()
	result, err := planeset.OutputApply(ctx, d, out, req)
	if err != nil {
		log.Fatalf("planesetctl: apply: %v", err)
	}

	fmt.Printf("assigned=%v reused=%v\n", result.Assigned, result.Reused)
	if *verbose {
		for _, w := range req.Log() {
			fmt.Printf("  write object=%d property=%d value=%d\n", w.ObjectID, w.PropertyID, w.Value)
		}
	}
}

// buildDriver returns a mock driver with one primary plane and n overlay
// planes, all usable on pipe 0 and all accepting every commit.
func buildDriver(overlayCount int) *mockkernel.Driver {
	d := mockkernel.NewDriver()

	props := []mockkernel.Property{
		{Name: planeset.PropFBID, Mutable: true},
		{Name: planeset.PropCRTCX, Mutable: true},
		{Name: planeset.PropCRTCY, Mutable: true},
		{Name: planeset.PropCRTCW, Mutable: true},
		{Name: planeset.PropCRTCH, Mutable: true},
		{Name: planeset.PropSRCX, Mutable: true},
		{Name: planeset.PropSRCY, Mutable: true},
		{Name: planeset.PropSRCW, Mutable: true},
		{Name: planeset.PropSRCH, Mutable: true},
	}

	d.AddPlane(mockkernel.Plane{Kind: planeset.PlanePrimary, PipeMask: 1 << 0, Properties: props})
	for i := 0; i < overlayCount; i++ {
		d.AddPlane(mockkernel.Plane{Kind: planeset.PlaneOverlay, PipeMask: 1 << 0, Properties: props})
	}

	return d
}
