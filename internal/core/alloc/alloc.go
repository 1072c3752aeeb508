// Package alloc implements the Allocation Search: a depth-first
// branch-and-bound search over layer-to-plane assignments, guarded by the
// kernel test-commit oracle.
package alloc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/planeset/planeset/internal/core/filter"
	"github.com/planeset/planeset/internal/core/kernel"
	"github.com/planeset/planeset/internal/core/registry"
	"github.com/planeset/planeset/internal/core/request"
	"github.com/planeset/planeset/internal/core/scene"
)

// maxLayers caps the number of non-no-op layers one Run accepts; Run
// returns a TooManyLayersError above it. Real hardware rarely exceeds a
// dozen planes, so this is generous headroom, not a real limit.
const maxLayers = 64

// primaryBonus is the cost function's small bonus for occupying the
// primary plane (spec §4.4). It is kept well under the smallest possible
// priority weight (2^0 = 1) so it only ever breaks ties.
const primaryBonus = 0.5

// TooManyLayersError reports that an output carries more non-no-op layers
// than the search can track.
type TooManyLayersError struct{ Count int }

func (e *TooManyLayersError) Error() string {
	return fmt.Sprintf("alloc: %d layers exceeds the %d-layer search limit", e.Count, maxLayers)
}

// OracleError reports that a test-commit call failed for a reason other
// than rejection (spec §7 kind 4): an I/O error, a context cancellation,
// or similar transport failure.
type OracleError struct {
	Plane kernel.PlaneID
	Layer kernel.LayerID
	Err   error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("alloc: test-commit failed for plane %d / layer %d: %v", e.Plane, e.Layer, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// ErrDeadlineExceeded is returned when a caller-supplied Config.Deadline
// passes mid-search.
var ErrDeadlineExceeded = errors.New("alloc: deadline exceeded")

// Config carries the search's optional, caller-controlled deadline. The
// core imposes no time budget of its own (spec §4.4, §5): Clock and
// Deadline are both zero by default, which disables the check entirely.
type Config struct {
	Clock    func() time.Time
	Deadline time.Time
}

func (c Config) expired() bool {
	if c.Clock == nil || c.Deadline.IsZero() {
		return false
	}
	return !c.Clock().Before(c.Deadline)
}

// Plan is the result of a search: an ordered set of plane/layer pairs and
// the cost-function score they achieved. A Plan with no Assignments is the
// always-achievable trivial plan (spec §7 kind 3: allocation failure).
type Plan struct {
	Assignments []request.Assignment
	Score       float64
}

// PlaneFor returns the plane a layer was assigned in this plan, if any.
func (p *Plan) PlaneFor(layer kernel.LayerID) (kernel.PlaneID, bool) {
	for _, a := range p.Assignments {
		if a.Layer == layer {
			return a.Plane, true
		}
	}
	return 0, false
}

// Previous carries the prior frame's accepted plan, and the exact set of
// layers it was computed over, so Run can attempt the incremental-reuse
// fast path (spec §4.4).
type Previous struct {
	Layers []kernel.LayerID // sorted ascending
	Plan   *Plan
}

// Search runs the allocation engine for one registry of planes.
type Search struct {
	reg *registry.Registry
	fb  filter.FramebufferLookup
	cfg Config
}

// New returns a Search bound to reg and fb (the framebuffer metadata
// lookup used by the Candidate Filter's format/modifier rule).
func New(reg *registry.Registry, fb filter.FramebufferLookup, cfg Config) *Search {
	return &Search{reg: reg, fb: fb, cfg: cfg}
}

// Run searches for the highest-scoring Plan assigning layers (the
// non-no-op layers of one output) to the planes reachable via pipeBit. req
// is used only as the test-commit oracle during the search: every
// tentative write Run makes is rolled back before Run returns, win or
// lose, so the caller must separately materialise the winning Plan (see
// the request package) to make it stick.
//
// If prev is non-nil and its Layers set matches layers exactly, Run first
// re-tests prev.Plan's assignments against the current req and, if still
// accepted, returns it immediately with reused=true — no search runs, and
// in this one case the accepted writes are NOT rolled back, since they ARE
// the frame's materialisation (spec §4.4 "incremental reuse").
func (s *Search) Run(ctx context.Context, layers []*scene.Layer, pipeBit uint32, req kernel.AtomicRequest, prev *Previous) (plan *Plan, reused bool, err error) {
	if len(layers) > maxLayers {
		return nil, false, &TooManyLayersError{Count: len(layers)}
	}

	sortedIDs := layerIDsSorted(layers)

	planes := orderPlanes(s.reg.ForPipe(pipeBit))

	layerByID := make(map[kernel.LayerID]*scene.Layer, len(layers))
	for _, l := range layers {
		layerByID[l.ID] = l
	}

	if prev != nil && prev.Plan != nil && sameLayerSet(prev.Layers, sortedIDs) {
		ok, err := s.retest(ctx, req, planes, prev.Plan, layerByID)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return prev.Plan, true, nil
		}
	}

	candidates, err := s.buildCandidates(ctx, planes, layers, pipeBit)
	if err != nil {
		return nil, false, err
	}

	st := &searchState{
		ctx:           ctx,
		cfg:           s.cfg,
		req:           req,
		mat:           request.New(req),
		planes:        planes,
		candidates:    candidates,
		assignedLayer: make(map[kernel.LayerID]bool, len(layers)),
		best:          &Plan{},
	}
	entry := st.mat.Checkpoint()
	if err := st.step(0); err != nil {
		st.mat.RollbackTo(entry)
		return nil, false, err
	}
	st.mat.RollbackTo(entry) // Run never leaves tentative writes behind.
	return st.best, false, nil
}

// retest re-stages prev's exact assignments (including Detach writes for
// planes it leaves unused) and asks the oracle once. On rejection the
// request is restored to its entry state so a fresh search starts clean.
func (s *Search) retest(ctx context.Context, req kernel.AtomicRequest, planes []*registry.Plane, prev *Plan, layerByID map[kernel.LayerID]*scene.Layer) (bool, error) {
	if len(prev.Assignments) == 0 {
		// Nothing was ever staged for this plan: reusing it means staging
		// and committing nothing, so there is nothing to retest or roll
		// back. req is untouched either way.
		return true, nil
	}

	mat := request.New(req)
	entry := mat.Checkpoint()

	lookup := func(id kernel.LayerID) (*scene.Layer, bool) { l, ok := layerByID[id]; return l, ok }
	if err := request.Stage(ctx, mat, planes, prev.Assignments, lookup); err != nil {
		mat.RollbackTo(entry)
		return false, err
	}

	ok, err := req.TestCommit(ctx)
	if err != nil {
		mat.RollbackTo(entry)
		return false, &OracleError{Err: err}
	}
	if !ok {
		mat.RollbackTo(entry)
		return false, nil
	}
	return true, nil
}

func (s *Search) buildCandidates(ctx context.Context, planes []*registry.Plane, layers []*scene.Layer, pipeBit uint32) (map[kernel.PlaneID][]*scene.Layer, error) {
	out := make(map[kernel.PlaneID][]*scene.Layer, len(planes))
	for _, p := range planes {
		var list []*scene.Layer
		for _, l := range layers {
			ok, err := filter.Compatible(ctx, p, l, pipeBit, s.fb)
			if err != nil {
				return nil, &OracleError{Plane: p.ID, Layer: l.ID, Err: err}
			}
			if ok {
				list = append(list, l)
			}
		}
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].Priority != list[j].Priority {
				return list[i].Priority > list[j].Priority
			}
			return list[i].ID < list[j].ID
		})
		out[p.ID] = list
	}
	return out, nil
}

func weight(plane *registry.Plane, layer *scene.Layer) float64 {
	w := math.Pow(2, float64(layer.Priority))
	if plane.Kind == kernel.PlanePrimary {
		w += primaryBonus
	}
	return w
}

type zposEntry struct {
	zpos       uint64
	stackIndex int
}

// searchState holds the single mutable "current plan" the search
// backtracks through, and the undo information needed to unwind it without
// ever copying a Plan mid-search (spec §9).
type searchState struct {
	ctx context.Context
	cfg Config

	req kernel.AtomicRequest
	mat *request.Materialiser

	planes     []*registry.Plane
	candidates map[kernel.PlaneID][]*scene.Layer

	assignedLayer  map[kernel.LayerID]bool
	immutableTrail []zposEntry
	current        []request.Assignment
	currentScore   float64

	best *Plan
}

func (st *searchState) step(idx int) error {
	if err := st.ctx.Err(); err != nil {
		return err
	}
	if st.cfg.expired() {
		return ErrDeadlineExceeded
	}

	if idx == len(st.planes) {
		if st.currentScore > st.best.Score {
			assigned := make([]request.Assignment, len(st.current))
			copy(assigned, st.current)
			st.best = &Plan{Assignments: assigned, Score: st.currentScore}
		}
		return nil
	}

	if st.currentScore+st.remainingBound(idx) <= st.best.Score {
		return nil // branch-and-bound: this subtree cannot beat the best found
	}

	plane := st.planes[idx]
	for _, layer := range st.candidates[plane.ID] {
		if st.assignedLayer[layer.ID] {
			continue
		}
		if !st.zorderOK(plane, layer) {
			continue
		}

		cp := st.mat.Checkpoint()
		if err := st.mat.StagePair(st.ctx, plane, layer); err != nil {
			return err
		}
		ok, err := st.req.TestCommit(st.ctx)
		if err != nil {
			st.mat.RollbackTo(cp)
			return &OracleError{Plane: plane.ID, Layer: layer.ID, Err: err}
		}
		if !ok {
			st.mat.RollbackTo(cp)
			continue
		}

		st.assignedLayer[layer.ID] = true
		pushedZpos := plane.ImmutableZpos != nil
		if pushedZpos {
			st.immutableTrail = append(st.immutableTrail, zposEntry{*plane.ImmutableZpos, layer.StackIndex()})
		}
		st.current = append(st.current, request.Assignment{Plane: plane.ID, Layer: layer.ID})
		prevScore := st.currentScore
		st.currentScore += weight(plane, layer)

		err = st.step(idx + 1)

		st.current = st.current[:len(st.current)-1]
		st.currentScore = prevScore
		if pushedZpos {
			st.immutableTrail = st.immutableTrail[:len(st.immutableTrail)-1]
		}
		delete(st.assignedLayer, layer.ID)
		st.mat.RollbackTo(cp)

		if err != nil {
			return err
		}
	}

	// "leave plane P unused" is always tried, and tried last, so the search
	// prefers occupancy (spec §4.4).
	return st.step(idx + 1)
}

// remainingBound computes the upper bound on achievable score from planes
// idx onward: for each remaining plane, the best-case weight among its
// still-unassigned candidates (or 0, for "leave unused"). It ignores
// z-order feasibility, which can only make the bound looser, never wrong.
func (st *searchState) remainingBound(idx int) float64 {
	var sum float64
	for _, p := range st.planes[idx:] {
		var best float64
		for _, l := range st.candidates[p.ID] {
			if st.assignedLayer[l.ID] {
				continue
			}
			if w := weight(p, l); w > best {
				best = w
			}
		}
		sum += best
	}
	return sum
}

// zorderOK enforces spec §4.4's strict z-order constraint: planes with
// immutable zpos impose a strict ordering on the layers placed on them.
func (st *searchState) zorderOK(plane *registry.Plane, layer *scene.Layer) bool {
	if plane.ImmutableZpos == nil {
		return true
	}
	zp := *plane.ImmutableZpos
	for _, e := range st.immutableTrail {
		switch {
		case e.zpos > zp:
			if layer.StackIndex() >= e.stackIndex {
				return false
			}
		case e.zpos < zp:
			if layer.StackIndex() <= e.stackIndex {
				return false
			}
		}
	}
	return true
}

// orderPlanes sorts planes primary-first, then overlays by descending
// zpos (immutable value if fixed, else the property's mutable default,
// else 0) with ascending plane id as the tie-break, then cursor (spec
// §4.4).
func orderPlanes(planes []*registry.Plane) []*registry.Plane {
	var primary, overlay, cursor []*registry.Plane
	for _, p := range planes {
		switch p.Kind {
		case kernel.PlanePrimary:
			primary = append(primary, p)
		case kernel.PlaneCursor:
			cursor = append(cursor, p)
		default:
			overlay = append(overlay, p)
		}
	}

	zposOf := func(p *registry.Plane) uint64 {
		if p.ImmutableZpos != nil {
			return *p.ImmutableZpos
		}
		if info, ok := p.Properties[filter.PropZpos]; ok {
			return info.Default
		}
		return 0
	}

	sort.SliceStable(primary, func(i, j int) bool { return primary[i].ID < primary[j].ID })
	sort.SliceStable(overlay, func(i, j int) bool {
		zi, zj := zposOf(overlay[i]), zposOf(overlay[j])
		if zi != zj {
			return zi > zj
		}
		return overlay[i].ID < overlay[j].ID
	})
	sort.SliceStable(cursor, func(i, j int) bool { return cursor[i].ID < cursor[j].ID })

	out := make([]*registry.Plane, 0, len(planes))
	out = append(out, primary...)
	out = append(out, overlay...)
	out = append(out, cursor...)
	return out
}

func layerIDsSorted(layers []*scene.Layer) []kernel.LayerID {
	ids := make([]kernel.LayerID, len(layers))
	for i, l := range layers {
		ids[i] = l.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sameLayerSet(a, b []kernel.LayerID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
