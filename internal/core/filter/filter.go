// Package filter implements the Candidate Filter: a cheap, kernel-free
// rejection test for (layer, plane) pairs that can never work together.
package filter

import (
	"context"

	"github.com/planeset/planeset/internal/core/kernel"
	"github.com/planeset/planeset/internal/core/registry"
	"github.com/planeset/planeset/internal/core/scene"
)

// Known property names the core interprets specially (spec §6).
const (
	PropFBID     = "FB_ID"
	PropCRTCX    = "CRTC_X"
	PropCRTCY    = "CRTC_Y"
	PropCRTCW    = "CRTC_W"
	PropCRTCH    = "CRTC_H"
	PropSRCX     = "SRC_X"
	PropSRCY     = "SRC_Y"
	PropSRCW     = "SRC_W"
	PropSRCH     = "SRC_H"
	PropCRTCID   = "CRTC_ID"
	PropAlpha    = "alpha"
	PropRotation = "rotation"
	PropZpos     = "zpos"
)

// RotateNone is the rotation value meaning "no rotation" (rotate-0).
const RotateNone uint64 = 0

// AlphaOpaque is the conventional "fully opaque" alpha value used as the
// property's default when the caller never sets alpha at all.
const AlphaOpaque uint64 = 0xFFFF

// FramebufferLookup resolves a layer's FB_ID to its format/modifier pair.
// It mirrors kernel.KernelAtomic.ReadFramebufferInfo so callers can supply
// either the real collaborator or a narrower test double.
type FramebufferLookup func(ctx context.Context, fbID uint64) (kernel.FramebufferInfo, bool, error)

// IsNoOp reports whether l contributes nothing to the final image: FB_ID is
// 0 (or unset, which is equivalent to "no framebuffer"), or alpha is set to
// fully transparent (0). No-op layers bypass allocation entirely.
func IsNoOp(l *scene.Layer) bool {
	if fb, ok := l.Get(PropFBID); !ok || fb.Unset || fb.Value == 0 {
		return true
	}
	if a, ok := l.Get(PropAlpha); ok && !a.Unset && a.Value == 0 {
		return true
	}
	return false
}

// Compatible answers the Candidate Filter's core question for one (layer,
// plane) pair: can this pair possibly work, ignoring the kernel oracle?
// pipeBit is the bit, within p.PipeMask's space, that identifies the
// layer's owning output (the caller resolves this once per output, since
// scene.Layer itself only ever stores an OutputID, not a pipe bit).
//
// The pair is rejected (false, nil) when the pipe rule, the compatibility
// hint, the unknown-property rule or the IN_FORMATS rule fires. The no-op
// rule is not checked here; that is IsNoOp. fb is only consulted for the
// IN_FORMATS rule, when the plane has IN_FORMATS and the layer sets FB_ID
// to something other than 0. A non-nil error means fb
// itself failed, which the caller should treat as an oracle transport
// error (spec §7 kind 4), not a rejection.
func Compatible(ctx context.Context, p *registry.Plane, l *scene.Layer, pipeBit uint32, fb FramebufferLookup) (bool, error) {
	// Rule 1: pipe compatibility.
	if p.PipeMask&pipeBit == 0 {
		return false, nil
	}

	// Compatibility hint, when present, is an additional hard restriction.
	if l.CompatibilityHint != nil {
		if _, ok := l.CompatibilityHint[p.ID]; !ok {
			return false, nil
		}
	}

	// Rule 2: unknown property names the layer insists on at a non-default
	// value.
	for name, v := range l.Properties() {
		if v.Unset {
			continue
		}
		if _, known := p.Properties[name]; known {
			continue
		}
		// The plane has never heard of this property name at all: only a
		// problem if every plane must be assumed ignorant of it, which the
		// registry already encodes by it being absent from p.Properties.
		if !isDefaultFor(name, v.Value) {
			return false, nil
		}
	}

	// Rule 3: framebuffer format/modifier must fit IN_FORMATS, if present.
	if p.HasFormats() {
		if fbVal, ok := l.Get(PropFBID); ok && !fbVal.Unset && fbVal.Value != 0 {
			info, found, err := fb(ctx, fbVal.Value)
			if err != nil {
				return false, err
			}
			if !found {
				return false, nil
			}
			if !p.AcceptsFormat(info.Format, info.Modifier) {
				return false, nil
			}
		}
	}

	return true, nil
}

// isDefaultFor reports whether value is the conventional default for a
// well-known property name not present in a plane's schema. Names the core
// does not recognise specially have no notion of "default" and are always
// treated as non-default (spec §4.3 rule 2: a layer that insists on a
// non-default value the plane cannot honour can never match that plane).
func isDefaultFor(name string, value uint64) bool {
	switch name {
	case PropRotation:
		return value == RotateNone
	case PropAlpha:
		return value == AlphaOpaque
	default:
		return false
	}
}
