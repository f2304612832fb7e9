package anchor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handle is a live anchor instance owned by a device runtime.
//
// Lifecycle: pending -> Created (placement confirmed) -> Localized (pose resolved).
// Pose is only meaningful once Created reports true.
type Handle interface {
	ID() uuid.UUID
	Created() bool
	Localized() bool
	Pose() Pose
}

// Unbound is an anchor loaded from a shared group that has not been bound
// to a live handle yet.
type Unbound struct {
	ID    uuid.UUID
	Pose  Pose
	Group GroupID
}

// liveAnchor is the Runtime's Handle implementation.
type liveAnchor struct {
	id   uuid.UUID
	pose Pose

	created   atomic.Bool
	localized atomic.Bool
	saved     atomic.Bool

	mu    sync.Mutex
	timer *time.Timer
}

func newLiveAnchor(id uuid.UUID, pose Pose) *liveAnchor {
	return &liveAnchor{id: id, pose: pose}
}

func (a *liveAnchor) ID() uuid.UUID   { return a.id }
func (a *liveAnchor) Created() bool   { return a.created.Load() }
func (a *liveAnchor) Localized() bool { return a.localized.Load() }
func (a *liveAnchor) Pose() Pose      { return a.pose }

// place marks the anchor as placed and resolved in the local environment.
func (a *liveAnchor) place() {
	a.created.Store(true)
	a.localized.Store(true)
}

func (a *liveAnchor) setTimer(t *time.Timer) {
	a.mu.Lock()
	a.timer = t
	a.mu.Unlock()
}

// stop cancels a pending placement. It returns true if placement had not fired yet.
func (a *liveAnchor) stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer == nil {
		return false
	}
	stopped := a.timer.Stop()
	a.timer = nil
	return stopped
}
