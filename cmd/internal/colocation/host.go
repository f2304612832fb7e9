package colocation

import (
	"context"
	"fmt"
	"time"

	"colocation/cmd/internal/anchor"
)

// StartHosting runs the host half of the handshake.
//
// It advertises the configured session, mints the GroupID, broadcasts it,
// creates a reference anchor at the origin, then saves and shares it with the
// group. With Config.BroadcastAfterShare the broadcast moves after the share.
// Any failure erases the reference anchor, leaves the session, clears the
// GroupID and returns to Idle.
func (c *Coordinator) StartHosting(ctx context.Context) (anchor.GroupID, error) {
	start := time.Now()
	g, err := c.startHosting(ctx)
	c.metrics.observe("host", start, err)
	return g, err
}

func (c *Coordinator) startHosting(ctx context.Context) (anchor.GroupID, error) {
	if _, err := c.begin("host", StateHosting, StateIdle); err != nil {
		return anchor.GroupID{}, err
	}
	c.mu.Lock()
	c.role = RoleHost
	c.mu.Unlock()

	name := c.cfg.SessionName
	c.log.Info("coordinator.host.start", "session", name)
	c.report(fmt.Sprintf("Starting session %q as host", name), false)

	if err := c.transport.Start(ctx, RoleHost, name); err != nil {
		return c.abortHost(ctx, nil, c.fail("host", ctxKind(err, ErrTransport), err, fmt.Sprintf("Failed to start session %q", name)))
	}

	group := anchor.NewGroupID()
	c.mu.Lock()
	c.group = group
	c.inbox = ""
	c.mu.Unlock()
	c.log.Info("coordinator.group.set", "group", group.String(), "source", "host")

	if !c.cfg.BroadcastAfterShare {
		if err := c.broadcastGroup(ctx, group); err != nil {
			return c.abortHost(ctx, nil, err)
		}
	}

	h, err := c.createAnchor(ctx, anchor.IdentityPose())
	if err != nil {
		return c.abortHost(ctx, nil, err)
	}
	if err := c.save(ctx, h); err != nil {
		return c.abortHost(ctx, h, err)
	}
	if _, err := c.share(ctx, []anchor.Handle{h}, group); err != nil {
		return c.abortHost(ctx, h, err)
	}

	if c.cfg.BroadcastAfterShare {
		if err := c.broadcastGroup(ctx, group); err != nil {
			return c.abortHost(ctx, h, err)
		}
	}

	c.setState(StateConnected)
	c.log.Info("coordinator.host.ready", "session", name, "group", group.String(), "anchor_id", h.ID())
	c.report(fmt.Sprintf("Hosting %q with group %s", name, group), false)
	return group, nil
}

func (c *Coordinator) broadcastGroup(ctx context.Context, group anchor.GroupID) error {
	if !c.transport.Authority() {
		return c.fail("host", ErrTransport, fmt.Errorf("not the session authority"), "Cannot broadcast group identifier: not the session authority")
	}
	if err := c.transport.Broadcast(ctx, group.String()); err != nil {
		return c.fail("host", ctxKind(err, ErrTransport), err, "Failed to broadcast group identifier")
	}
	c.log.Info("coordinator.group.broadcast", "group", group.String())
	return nil
}

// abortHost unwinds a failed host attempt and passes err through. A non-nil
// ref is the reference anchor created so far; it is untracked and erased,
// which also drops any saved record.
func (c *Coordinator) abortHost(ctx context.Context, ref anchor.Handle, err error) (anchor.GroupID, error) {
	if ref != nil {
		c.untrack(ref)
		if eraseErr := c.anchors.Erase(context.WithoutCancel(ctx), ref); eraseErr != nil {
			c.log.Warn("coordinator.host.erase.fail", "anchor_id", ref.ID(), "err", eraseErr)
		}
	}
	if c.transport.Running() {
		if leaveErr := c.transport.Leave(context.WithoutCancel(ctx)); leaveErr != nil {
			c.log.Warn("coordinator.host.leave.fail", "err", leaveErr)
		}
	}

	c.mu.Lock()
	c.state = StateIdle
	c.role = RoleNone
	c.group = anchor.GroupID{}
	c.mu.Unlock()
	return anchor.GroupID{}, err
}
