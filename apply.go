package planeset

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/planeset/planeset/internal/core/alloc"
	"github.com/planeset/planeset/internal/core/filter"
	"github.com/planeset/planeset/internal/core/kernel"
	"github.com/planeset/planeset/internal/core/request"
	"github.com/planeset/planeset/internal/core/scene"
)

// Config carries the allocation search's optional deadline. A zero Config
// disables the check entirely: the search then runs to exhaustion.
type Config struct {
	Clock    func() time.Time
	Deadline time.Time
}

// ErrDeadlineExceeded is returned by OutputApply/DisplayApply when a
// configured deadline passes mid-search.
var ErrDeadlineExceeded = alloc.ErrDeadlineExceeded

// Result reports the outcome of one Output's Apply.
type Result struct {
	// Assigned is true iff every non-no-op layer on the output was placed
	// directly on a plane. False means at least one layer must be
	// composited by the caller; this is the documented "fell back to
	// composition" outcome and is never reported as an error.
	Assigned bool

	// Reused is true iff the previous frame's plan was re-validated and
	// reused without running a fresh search.
	Reused bool
}

// OutputApply computes and materialises a plane assignment for o's current
// layer stack onto req, consulting req.TestCommit as the oracle throughout.
// On return, every layer's LayerGetPlaneID reflects the new assignment.
//
// req is never left holding tentative, unaccepted writes: either the
// returned error is non-nil and req is exactly as it was on entry, or the
// accepted plan's writes (possibly none, if every layer fell back to
// composition) remain staged on req for the caller to commit for real.
func OutputApply(ctx context.Context, d *Device, o *Output, req AtomicRequest) (Result, error) {
	if d.reg == nil {
		return Result{}, &InvalidArgumentError{Parameter: "device", Message: "DeviceRegisterAllPlanes was never called"}
	}

	var layers []*scene.Layer
	for _, l := range o.raw.Layers() {
		if filter.IsNoOp(l) {
			l.PlaneID = 0
			continue
		}
		layers = append(layers, l)
	}

	plan, reused, err := d.search.Run(ctx, layers, o.pipeBit(), req, d.prev[o.raw.ID])
	if err != nil {
		return Result{}, translateAllocErr(err)
	}

	sortedIDs := make([]kernel.LayerID, len(layers))
	for i, l := range layers {
		sortedIDs[i] = l.ID
	}
	sort.Slice(sortedIDs, func(i, j int) bool { return sortedIDs[i] < sortedIDs[j] })

	if len(plan.Assignments) == 0 {
		// Nothing to stage or commit: req is exactly as the search left it
		// (untouched), and every layer falls back to composition.
		for _, l := range layers {
			l.PlaneID = 0
		}
		d.prev[o.raw.ID] = &alloc.Previous{Layers: sortedIDs, Plan: plan}
		return Result{Assigned: len(layers) == 0, Reused: reused}, nil
	}

	if !reused {
		mat := request.New(req)
		entry := mat.Checkpoint()
		layerByID := func(id kernel.LayerID) (*scene.Layer, bool) {
			for _, l := range layers {
				if l.ID == id {
					return l, true
				}
			}
			return nil, false
		}
		if err := request.Stage(ctx, mat, d.reg.ForPipe(o.pipeBit()), plan.Assignments, layerByID); err != nil {
			mat.RollbackTo(entry)
			return Result{}, err
		}
		ok, err := req.TestCommit(ctx)
		if err != nil {
			mat.RollbackTo(entry)
			return Result{}, &OracleError{Err: err}
		}
		if !ok {
			// The oracle is assumed monotone (spec §9): a plan the search
			// validated piecewise must still be accepted whole. A rejection
			// here means that assumption did not hold for this driver.
			mat.RollbackTo(entry)
			return Result{}, &OracleError{Err: errors.New("plan rejected on final commit after search accepted it")}
		}
	}

	assignedPlane := make(map[kernel.LayerID]kernel.PlaneID, len(plan.Assignments))
	for _, a := range plan.Assignments {
		assignedPlane[a.Layer] = a.Plane
	}
	allAssigned := true
	for _, l := range layers {
		if p, ok := assignedPlane[l.ID]; ok {
			l.PlaneID = p
		} else {
			l.PlaneID = 0
			allAssigned = false
		}
	}

	d.prev[o.raw.ID] = &alloc.Previous{Layers: sortedIDs, Plan: plan}

	return Result{Assigned: allAssigned, Reused: reused}, nil
}

// DisplayApply runs OutputApply for every output on d against one shared
// req, in ascending OutputID order. Each output's writes are bracketed by
// their own checkpoint: if one output's search fails, only that output's
// tentative writes are rolled back, and req still carries every prior
// output's accepted writes plus a rollback to entry for the failed one.
func DisplayApply(ctx context.Context, d *Device, req AtomicRequest) (map[OutputID]Result, error) {
	outputs := d.scene.Outputs()
	ids := make([]kernel.OutputID, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	results := make(map[OutputID]Result, len(ids))
	for _, id := range ids {
		raw := outputs[id]
		o := &Output{device: d, raw: raw}
		checkpoint := req.SnapshotCursor()
		res, err := OutputApply(ctx, d, o, req)
		if err != nil {
			req.Truncate(checkpoint)
			return results, err
		}
		results[id] = res
	}
	return results, nil
}

func translateAllocErr(err error) error {
	var tooMany *alloc.TooManyLayersError
	if errors.As(err, &tooMany) {
		return &InvalidArgumentError{Parameter: "layers", Message: tooMany.Error()}
	}
	var oracleErr *alloc.OracleError
	if errors.As(err, &oracleErr) {
		return &OracleError{Plane: oracleErr.Plane, Layer: oracleErr.Layer, Err: oracleErr.Err}
	}
	return err
}
