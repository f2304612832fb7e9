// Package alignment holds the device's tracking-space offset.
//
// A Rig models the root transform under which a headset renders the world.
// Aligning to an anchor moves the rig so that the anchor's pose becomes the
// local origin; two devices aligned to the same shared anchor then agree on
// world coordinates.
package alignment

import (
	"log/slog"
	"sync"

	"colocation/cmd/internal/anchor"
)

// Rig is a concurrency-safe alignment sink.
type Rig struct {
	log *slog.Logger

	mu      sync.RWMutex
	offset  anchor.Pose
	target  anchor.Handle
	applied int
}

// NewRig returns a Rig at the identity offset.
func NewRig(log *slog.Logger) *Rig {
	if log == nil {
		log = slog.Default()
	}
	return &Rig{log: log, offset: anchor.IdentityPose()}
}

// AlignTo re-bases the rig on h. Handles that are not localized are ignored.
func (r *Rig) AlignTo(h anchor.Handle) {
	if h == nil || !h.Localized() {
		r.log.Warn("alignment.skip", "reason", "anchor not localized")
		return
	}

	offset := h.Pose().Inverse()

	r.mu.Lock()
	r.offset = offset
	r.target = h
	r.applied++
	r.mu.Unlock()

	r.log.Info("alignment.apply", "anchor_id", h.ID(), "position", offset.Position)
}

// Offset returns the transform from tracking space into the shared frame.
func (r *Rig) Offset() anchor.Pose {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.offset
}

// Target returns the anchor the rig is aligned to, if any.
func (r *Rig) Target() (anchor.Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.target, r.target != nil
}

// Alignments returns how many times the rig was re-based.
func (r *Rig) Alignments() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.applied
}

// ToShared maps a point from this device's tracking space into the shared frame.
func (r *Rig) ToShared(p anchor.Vec3) anchor.Vec3 {
	return r.Offset().Apply(p)
}
