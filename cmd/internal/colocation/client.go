package colocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"colocation/cmd/internal/anchor"

	"github.com/cenkalti/backoff/v5"
)

// JoinAndAwaitGroup runs the client half of the handshake up to the GroupID.
//
// It joins the configured session and polls every Config.GroupPollInterval
// until the host's broadcast (or a manual SetGroupIdentifier) provides the
// group. There is no built-in upper bound; cancel ctx to give up. A
// malformed broadcast fails with ErrInvalidGroupID and is not re-polled.
func (c *Coordinator) JoinAndAwaitGroup(ctx context.Context) (anchor.GroupID, error) {
	start := time.Now()
	g, err := c.joinAndAwaitGroup(ctx)
	c.metrics.observe("join", start, err)
	return g, err
}

func (c *Coordinator) joinAndAwaitGroup(ctx context.Context) (anchor.GroupID, error) {
	if _, err := c.begin("join", StateDiscovering, StateIdle); err != nil {
		return anchor.GroupID{}, err
	}
	c.mu.Lock()
	c.role = RoleClient
	c.mu.Unlock()

	name := c.cfg.SessionName
	c.log.Info("coordinator.join.start", "session", name)
	c.report(fmt.Sprintf("Joining session %q", name), false)

	if err := c.transport.Start(ctx, RoleClient, name); err != nil {
		return c.abortJoin(ctx, c.fail("join", ctxKind(err, ErrTransport), err, fmt.Sprintf("Failed to join session %q", name)))
	}

	t := time.NewTicker(c.cfg.GroupPollInterval)
	defer t.Stop()

	for {
		g, done, err := c.pollGroup()
		if err != nil {
			return c.abortJoin(ctx, err)
		}
		if done {
			c.setState(StateConnected)
			c.log.Info("coordinator.join.ready", "session", name, "group", g.String())
			c.report(fmt.Sprintf("Received group identifier %s", g), false)
			return g, nil
		}
		if !c.transport.Running() {
			return c.abortJoin(ctx, c.fail("join", ErrTransport, errors.New("session ended"), "Session ended before a group identifier arrived"))
		}

		select {
		case <-ctx.Done():
			return c.abortJoin(ctx, c.fail("join", ctxKind(ctx.Err(), ErrCanceled), ctx.Err(), "Stopped waiting for group identifier"))
		case <-t.C:
		}
	}
}

// pollGroup consumes the buffered broadcast, if any.
func (c *Coordinator) pollGroup() (anchor.GroupID, bool, error) {
	c.mu.Lock()
	if !c.group.IsEmpty() {
		g := c.group
		c.mu.Unlock()
		return g, true, nil
	}
	raw := c.inbox
	c.inbox = ""
	c.mu.Unlock()

	if raw == "" {
		return anchor.GroupID{}, false, nil
	}

	g, err := anchor.ParseGroupID(raw)
	if err != nil {
		return anchor.GroupID{}, false, c.fail("join", ErrInvalidGroupID, err, "Received a malformed group identifier")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.group.IsEmpty() {
		c.group = g
	}
	c.log.Info("coordinator.group.set", "group", c.group.String(), "source", "broadcast")
	return c.group, true, nil
}

func (c *Coordinator) abortJoin(ctx context.Context, err error) (anchor.GroupID, error) {
	if c.transport.Running() {
		if leaveErr := c.transport.Leave(context.WithoutCancel(ctx)); leaveErr != nil {
			c.log.Warn("coordinator.join.leave.fail", "err", leaveErr)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	c.role = RoleNone
	c.inbox = ""
	c.mu.Unlock()
	return anchor.GroupID{}, err
}

// LoadAndAlign loads group's anchors and aligns to the first one that
// localizes. Anchors after the first success are not touched.
func (c *Coordinator) LoadAndAlign(ctx context.Context, group anchor.GroupID) (anchor.Handle, error) {
	start := time.Now()
	h, err := c.loadAndAlign(ctx, group, false)
	c.metrics.observe("load_align", start, err)
	return h, err
}

// retryable reports whether a load failure may succeed on a later attempt.
func retryable(err error) bool {
	return errors.Is(err, ErrNoAnchorsFound) || errors.Is(err, ErrLocalizationFailed)
}

// loadAndAlign drops to Idle on failure. With holdOnRetryable set, a
// retryable failure restores the entry state instead, so the caller can try
// again without losing its place in the session.
func (c *Coordinator) loadAndAlign(ctx context.Context, group anchor.GroupID, holdOnRetryable bool) (anchor.Handle, error) {
	if group.IsEmpty() {
		return nil, c.fail("load", ErrInvalidGroupID, nil, "Cannot load: group identifier is empty")
	}

	prev, err := c.begin("load", StateLoading, StateIdle, StateConnected)
	if err != nil {
		return nil, err
	}

	h, err := c.loadLocalizeBind(ctx, group)
	if err != nil {
		if holdOnRetryable && retryable(err) {
			c.setState(prev)
		} else {
			c.setState(StateIdle)
		}
		return nil, err
	}

	c.setState(StateAligning)
	c.sink.AlignTo(h)
	c.setState(prev)

	c.log.Info("coordinator.align", "group", group.String(), "anchor_id", h.ID())
	c.report(fmt.Sprintf("Aligned to anchor %s", h.ID()), false)
	return h, nil
}

func (c *Coordinator) loadLocalizeBind(ctx context.Context, group anchor.GroupID) (anchor.Handle, error) {
	unbound, err := c.anchors.LoadGroup(ctx, group)
	if err != nil {
		return nil, c.fail("load", ctxKind(err, ErrNoAnchorsFound), err, fmt.Sprintf("Failed to load anchors for group %s", group))
	}
	if len(unbound) == 0 {
		return nil, c.fail("load", ErrNoAnchorsFound, nil, fmt.Sprintf("No anchors shared with group %s yet", group))
	}
	c.log.Info("coordinator.load", "group", group.String(), "count", len(unbound))

	var errs []error
	for i, u := range unbound {
		ok, err := c.localize(ctx, u)
		c.metrics.localizeAttempt(ok && err == nil)
		if ctx.Err() != nil {
			return nil, c.fail("load", ErrCanceled, ctx.Err(), "Localization canceled")
		}
		if err != nil || !ok {
			if err == nil {
				err = errors.New("did not localize")
			}
			errs = append(errs, fmt.Errorf("anchor %s: %w", u.ID, err))
			c.log.Info("coordinator.localize.fail", "anchor_id", u.ID, "index", i, "err", err)
			c.report(fmt.Sprintf("Anchor %s did not localize, trying next", u.ID), true)
			continue
		}

		h, err := c.anchors.Bind(ctx, u)
		if err != nil {
			errs = append(errs, fmt.Errorf("bind %s: %w", u.ID, err))
			c.log.Warn("coordinator.bind.fail", "anchor_id", u.ID, "err", err)
			c.report(fmt.Sprintf("Failed to bind anchor %s, trying next", u.ID), true)
			continue
		}
		c.AddAnchor(h)
		return h, nil
	}

	return nil, c.fail("load", ErrLocalizationFailed, errors.Join(errs...),
		fmt.Sprintf("None of %d anchors localized", len(unbound)))
}

func (c *Coordinator) localize(ctx context.Context, u anchor.Unbound) (bool, error) {
	lctx, cancel := context.WithTimeout(ctx, c.cfg.LocalizeTimeout)
	defer cancel()
	return c.anchors.Localize(lctx, u)
}

// LoadAndAlignWithRetry repeats LoadAndAlign with exponential backoff while
// the failure is ErrNoAnchorsFound or ErrLocalizationFailed. The group id can
// arrive before the host's anchor is shared, so the first loads may be early.
// The entry state is kept between attempts; only the final failure drops to
// Idle.
func (c *Coordinator) LoadAndAlignWithRetry(ctx context.Context, group anchor.GroupID) (anchor.Handle, error) {
	rc := c.cfg.LoadRetry

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = rc.InitialInterval
	eb.MaxInterval = rc.MaxInterval

	attempt := 0
	op := func() (anchor.Handle, error) {
		attempt++
		start := time.Now()
		h, err := c.loadAndAlign(ctx, group, true)
		c.metrics.observe("load_align", start, err)
		if err == nil {
			return h, nil
		}
		if retryable(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	h, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(rc.MaxTries),
		backoff.WithMaxElapsedTime(rc.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Info("coordinator.load.retry", "group", group.String(), "attempt", attempt, "next", next, "err", err)
		}),
	)
	if err != nil {
		// Attempts held the entry state on retryable failures; other
		// failures already settled it.
		if retryable(err) || KindOf(err) == nil {
			c.setState(StateIdle)
		}
		if KindOf(err) == nil {
			return nil, c.fail("load", ctxKind(err, ErrCanceled), err, "Gave up loading anchors")
		}
		return nil, err
	}
	return h, nil
}
