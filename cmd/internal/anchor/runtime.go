package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RuntimeConfig tunes the simulated device behavior.
type RuntimeConfig struct {
	// PlacementDelay is how long a new anchor stays pending before Created flips.
	PlacementDelay time.Duration `env:"COLO_ANCHOR_PLACEMENT_DELAY" envDefault:"150ms"`
	// LocalizeDelay is how long resolving a loaded anchor against the environment takes.
	LocalizeDelay time.Duration `env:"COLO_ANCHOR_LOCALIZE_DELAY" envDefault:"200ms"`
}

// LocalizeFunc decides whether a loaded anchor resolves in the current environment.
type LocalizeFunc func(u Unbound) bool

// Runtime is a reference device anchor service.
//
// Live handles are tracked in memory; saving and sharing go to a Store that
// plays the role of the shared anchor cloud. Placement and localization are
// asynchronous and take the configured delays.
type Runtime struct {
	log      *slog.Logger
	store    Store
	cfg      RuntimeConfig
	localize LocalizeFunc

	mu   sync.Mutex
	live map[uuid.UUID]*liveAnchor
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithLocalizer overrides the default localizer, which resolves every anchor.
func WithLocalizer(fn LocalizeFunc) RuntimeOption {
	return func(r *Runtime) {
		if fn != nil {
			r.localize = fn
		}
	}
}

// NewRuntime constructs a Runtime on top of store.
func NewRuntime(log *slog.Logger, store Store, cfg RuntimeConfig, opts ...RuntimeOption) (*Runtime, error) {
	if store == nil {
		return nil, errors.New("anchor: nil store")
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Runtime{
		log:      log,
		store:    store,
		cfg:      cfg,
		localize: func(Unbound) bool { return true },
		live:     make(map[uuid.UUID]*liveAnchor),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Create instantiates a pending anchor at pose. Created flips after PlacementDelay.
func (r *Runtime) Create(ctx context.Context, pose Pose) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !pose.Valid() {
		return nil, ErrInvalidPose
	}

	a := newLiveAnchor(uuid.New(), Pose{Position: pose.Position, Orientation: pose.Orientation.Normalize()})

	r.mu.Lock()
	r.live[a.id] = a
	r.mu.Unlock()

	if r.cfg.PlacementDelay <= 0 {
		a.place()
	} else {
		a.setTimer(time.AfterFunc(r.cfg.PlacementDelay, a.place))
	}

	r.log.Debug("anchor.create", "anchor_id", a.id, "placement_delay", r.cfg.PlacementDelay)
	return a, nil
}

// Release frees a handle and cancels any pending placement.
func (r *Runtime) Release(_ context.Context, h Handle) error {
	a, err := r.lookup(h)
	if err != nil {
		return err
	}
	a.stop()

	r.mu.Lock()
	delete(r.live, a.id)
	r.mu.Unlock()

	r.log.Debug("anchor.release", "anchor_id", a.id)
	return nil
}

// Save persists a placed anchor to the store.
func (r *Runtime) Save(ctx context.Context, h Handle) error {
	a, err := r.lookup(h)
	if err != nil {
		return err
	}
	if !a.Created() {
		return ErrNotCreated
	}
	if err := r.store.SaveAnchor(ctx, StoredAnchor{ID: a.id, Pose: a.pose}); err != nil {
		return err
	}
	a.saved.Store(true)
	return nil
}

// Share associates localized anchors with group. Anchors that were not saved yet are saved first.
func (r *Runtime) Share(ctx context.Context, hs []Handle, group GroupID) error {
	if group.IsEmpty() {
		return ErrInvalidGroupID
	}
	if len(hs) == 0 {
		return ErrInvalidInput
	}

	ids := make([]uuid.UUID, 0, len(hs))
	for _, h := range hs {
		a, err := r.lookup(h)
		if err != nil {
			return err
		}
		if !a.Created() {
			return fmt.Errorf("%w: %s", ErrNotCreated, a.id)
		}
		if !a.Localized() {
			return fmt.Errorf("%w: %s", ErrNotLocalized, a.id)
		}
		if !a.saved.Load() {
			if err := r.Save(ctx, a); err != nil {
				return err
			}
		}
		ids = append(ids, a.id)
	}

	return r.store.ShareAnchors(ctx, group, ids)
}

// LoadGroup returns unbound anchors shared into group.
func (r *Runtime) LoadGroup(ctx context.Context, group GroupID) ([]Unbound, error) {
	stored, err := r.store.LoadGroup(ctx, group)
	if err != nil {
		return nil, err
	}
	out := make([]Unbound, 0, len(stored))
	for _, s := range stored {
		out = append(out, Unbound{ID: s.ID, Pose: s.Pose, Group: group})
	}
	return out, nil
}

// Localize resolves u against the environment after LocalizeDelay.
func (r *Runtime) Localize(ctx context.Context, u Unbound) (bool, error) {
	if r.cfg.LocalizeDelay > 0 {
		t := time.NewTimer(r.cfg.LocalizeDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.localize(u), nil
}

// Bind turns an unbound anchor into a live, localized handle.
func (r *Runtime) Bind(ctx context.Context, u Unbound) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if u.ID == uuid.Nil {
		return nil, ErrInvalidInput
	}

	a := newLiveAnchor(u.ID, u.Pose)
	a.place()
	a.saved.Store(true)

	r.mu.Lock()
	r.live[a.id] = a
	r.mu.Unlock()
	return a, nil
}

// Erase releases the handle and deletes it from the store.
// Anchors that were never saved are only released.
func (r *Runtime) Erase(ctx context.Context, h Handle) error {
	a, err := r.lookup(h)
	if err != nil {
		return err
	}
	if err := r.Release(ctx, a); err != nil {
		return err
	}
	if err := r.store.EraseAnchor(ctx, a.id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// LiveCount returns the number of handles currently allocated.
func (r *Runtime) LiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// Close cancels pending placements and drops all live handles.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.live {
		a.stop()
		delete(r.live, id)
	}
	return nil
}

func (r *Runtime) lookup(h Handle) (*liveAnchor, error) {
	if h == nil {
		return nil, ErrUnknownAnchor
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.live[h.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAnchor, h.ID())
	}
	return a, nil
}
