package colocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"colocation/cmd/internal/anchor"

	"github.com/samber/lo"
)

// CreateAnchor places a new anchor at pose and waits until it is created.
//
// The wait is bounded by Config.CreateTimeout. On timeout or cancellation the
// handle is released and nothing stays allocated.
func (c *Coordinator) CreateAnchor(ctx context.Context, pose anchor.Pose) (anchor.Handle, error) {
	start := time.Now()
	h, err := c.createAnchor(ctx, pose)
	c.metrics.observe("create_anchor", start, err)
	return h, err
}

func (c *Coordinator) createAnchor(ctx context.Context, pose anchor.Pose) (anchor.Handle, error) {
	if !pose.Valid() {
		return nil, c.fail("create_anchor", ErrInvalidInput, anchor.ErrInvalidPose, "Cannot create anchor: invalid pose")
	}

	h, err := c.anchors.Create(ctx, pose)
	if err != nil {
		return nil, c.fail("create_anchor", ctxKind(err, ErrAnchorCreate), err, "Failed to create anchor")
	}

	if err := c.awaitCreated(ctx, h); err != nil {
		// Release must run even when ctx is already done.
		if relErr := c.anchors.Release(context.WithoutCancel(ctx), h); relErr != nil {
			c.log.Warn("coordinator.create_anchor.release.fail", "anchor_id", h.ID(), "err", relErr)
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, c.fail("create_anchor", ErrAnchorCreationTimeout, err,
				fmt.Sprintf("Anchor creation timed out after %s", c.cfg.CreateTimeout))
		}
		return nil, c.fail("create_anchor", ctxKind(err, ErrAnchorCreationTimeout), err, "Anchor creation canceled")
	}

	c.AddAnchor(h)
	c.log.Info("coordinator.create_anchor", "anchor_id", h.ID())
	c.report(fmt.Sprintf("Anchor %s created", h.ID()), false)
	return h, nil
}

func (c *Coordinator) awaitCreated(ctx context.Context, h anchor.Handle) error {
	if h.Created() {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.CreateTimeout)
	defer cancel()

	t := time.NewTicker(c.cfg.CreatePollInterval)
	defer t.Stop()

	for {
		select {
		case <-waitCtx.Done():
			// A placement that lands on the deadline still counts.
			if h.Created() {
				return nil
			}
			return waitCtx.Err()
		case <-t.C:
			if h.Created() {
				return nil
			}
		}
	}
}

// Save persists one anchor. It must be created.
func (c *Coordinator) Save(ctx context.Context, h anchor.Handle) error {
	start := time.Now()
	err := c.save(ctx, h)
	c.metrics.observe("save", start, err)
	return err
}

func (c *Coordinator) save(ctx context.Context, h anchor.Handle) error {
	if h == nil {
		return c.fail("save", ErrAnchorSave, anchor.ErrInvalidInput, "Cannot save: no anchor")
	}
	if !h.Created() {
		return c.fail("save", ErrAnchorSave, anchor.ErrNotCreated, fmt.Sprintf("Cannot save anchor %s: not created yet", h.ID()))
	}
	if err := c.anchors.Save(ctx, h); err != nil {
		return c.fail("save", ctxKind(err, ErrAnchorSave), err, fmt.Sprintf("Failed to save anchor %s", h.ID()))
	}
	c.log.Info("coordinator.save", "anchor_id", h.ID())
	c.report(fmt.Sprintf("Saved anchor %s", h.ID()), false)
	return nil
}

// SaveSummary aggregates a SaveAll run.
type SaveSummary struct {
	Saved  int
	Failed int
	Err    error // joined per-anchor failures
}

// SaveAll saves every tracked anchor. One failure does not stop the rest.
func (c *Coordinator) SaveAll(ctx context.Context) SaveSummary {
	var (
		sum  SaveSummary
		errs []error
	)
	for _, h := range c.Anchors() {
		if err := c.Save(ctx, h); err != nil {
			sum.Failed++
			errs = append(errs, err)
			continue
		}
		sum.Saved++
	}
	sum.Err = errors.Join(errs...)
	c.report(fmt.Sprintf("Saved %d anchors, %d failed", sum.Saved, sum.Failed), sum.Failed > 0)
	return sum
}

// Share associates the localized subset of hs with group and returns how
// many anchors were shared. Anchors that are not localized are skipped
// silently; if none remain it fails with ErrNoValidAnchors without calling
// the anchor service.
func (c *Coordinator) Share(ctx context.Context, hs []anchor.Handle, group anchor.GroupID) (int, error) {
	start := time.Now()

	prev, err := c.begin("share", StateSharing, StateIdle, StateConnected)
	if err != nil {
		c.metrics.observe("share", start, err)
		return 0, err
	}

	n, err := c.share(ctx, hs, group)
	if err != nil {
		c.setState(StateIdle)
	} else {
		c.setState(prev)
	}
	c.metrics.observe("share", start, err)
	return n, err
}

func (c *Coordinator) share(ctx context.Context, hs []anchor.Handle, group anchor.GroupID) (int, error) {
	if group.IsEmpty() {
		return 0, c.fail("share", ErrInvalidGroupID, nil, "Cannot share: group identifier is empty")
	}

	localized := lo.Filter(hs, func(h anchor.Handle, _ int) bool { return h != nil && h.Localized() })
	if len(localized) == 0 {
		return 0, c.fail("share", ErrNoValidAnchors, nil, "No localized anchors to share")
	}

	if err := c.anchors.Share(ctx, localized, group); err != nil {
		return 0, c.fail("share", ctxKind(err, ErrShare), err, "Failed to share anchors")
	}

	c.log.Info("coordinator.share", "group", group.String(), "shared", len(localized), "skipped", len(hs)-len(localized))
	c.report(fmt.Sprintf("Shared %d anchors with group %s", len(localized), group), false)
	return len(localized), nil
}

// Clear erases every tracked anchor and stops tracking them. It is
// irreversible; callers gate it behind an explicit confirmation.
// It returns how many anchors were erased.
func (c *Coordinator) Clear(ctx context.Context) (int, error) {
	start := time.Now()

	c.mu.Lock()
	victims := c.tracked
	c.tracked = nil
	c.metrics.setTracked(0)
	c.mu.Unlock()

	var (
		erased int
		errs   []error
	)
	for _, h := range victims {
		if err := c.anchors.Erase(ctx, h); err != nil {
			c.log.Warn("coordinator.clear.erase.fail", "anchor_id", h.ID(), "err", err)
			errs = append(errs, fmt.Errorf("anchor %s: %w", h.ID(), err))
			continue
		}
		erased++
	}

	var err error
	if len(errs) > 0 {
		err = c.fail("clear", ErrClear, errors.Join(errs...), fmt.Sprintf("Cleared %d anchors, %d failed", erased, len(errs)))
	} else {
		c.log.Info("coordinator.clear", "erased", erased)
		c.report(fmt.Sprintf("Cleared %d anchors", erased), false)
	}
	c.metrics.observe("clear", start, err)
	return erased, err
}
