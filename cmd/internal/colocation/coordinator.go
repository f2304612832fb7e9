package colocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"colocation/cmd/internal/anchor"

	"github.com/samber/lo"
)

// Coordinator runs one device's side of the colocation handshake and owns
// its GroupID and tracked anchors.
//
// Operations block only the calling goroutine. Broadcasts arrive on the
// transport's goroutine, so all fields below mu are guarded.
type Coordinator struct {
	log       *slog.Logger
	cfg       Config
	anchors   AnchorService
	transport Transport
	sink      AlignmentSink
	reporter  Reporter
	metrics   *Metrics

	mu      sync.Mutex
	state   State
	role    Role
	group   anchor.GroupID
	inbox   string // latest unparsed group broadcast, consumed by JoinAndAwaitGroup
	tracked []anchor.Handle
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithReporter sets the status sink. The default discards status lines.
func WithReporter(r Reporter) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.reporter = r
		}
	}
}

// WithMetrics instruments the coordinator.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// New constructs a Coordinator and subscribes it to transport broadcasts.
func New(log *slog.Logger, cfg Config, anchors AnchorService, transport Transport, sink AlignmentSink, opts ...Option) (*Coordinator, error) {
	if anchors == nil {
		return nil, errors.New("colocation: nil anchor service")
	}
	if transport == nil {
		return nil, errors.New("colocation: nil transport")
	}
	if sink == nil {
		return nil, errors.New("colocation: nil alignment sink")
	}
	if log == nil {
		log = slog.Default()
	}

	c := &Coordinator{
		log:       log,
		cfg:       cfg.normalized(),
		anchors:   anchors,
		transport: transport,
		sink:      sink,
		reporter:  nopReporter{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	transport.SetBroadcastHandler(c.onBroadcast)
	return c, nil
}

// ---- accessors ----

// State returns the current phase.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns the role of the current session attempt.
func (c *Coordinator) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// GroupIdentifier returns the shared group id, or the empty GroupID if none is established.
func (c *Coordinator) GroupIdentifier() anchor.GroupID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group
}

// SetGroupIdentifier overrides the group id, e.g. from manual entry.
func (c *Coordinator) SetGroupIdentifier(g anchor.GroupID) error {
	if g.IsEmpty() {
		return c.fail("set_group", ErrInvalidGroupID, nil, "Group identifier is empty")
	}
	c.mu.Lock()
	c.group = g
	c.inbox = ""
	c.mu.Unlock()

	c.log.Info("coordinator.group.set", "group", g.String(), "source", "manual")
	c.report(fmt.Sprintf("Group identifier set to %s", g), false)
	return nil
}

// Anchors returns a snapshot of the tracked anchors.
func (c *Coordinator) Anchors() []anchor.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.tracked)
}

// AddAnchor tracks a handle created outside the Coordinator. Nil and
// already-tracked handles are ignored.
func (c *Coordinator) AddAnchor(h anchor.Handle) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if lo.ContainsBy(c.tracked, func(t anchor.Handle) bool { return t.ID() == h.ID() }) {
		return
	}
	c.tracked = append(c.tracked, h)
	c.metrics.setTracked(len(c.tracked))
}

func (c *Coordinator) untrack(h anchor.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracked = lo.Reject(c.tracked, func(t anchor.Handle, _ int) bool { return t.ID() == h.ID() })
	c.metrics.setTracked(len(c.tracked))
}

// ---- session lifecycle ----

// Leave ends the session attempt: the transport is left, the group id is
// cleared and the Coordinator returns to Idle. Tracked anchors are kept.
func (c *Coordinator) Leave(ctx context.Context) error {
	start := time.Now()

	var err error
	if c.transport.Running() {
		err = c.transport.Leave(ctx)
	}

	c.mu.Lock()
	c.state = StateIdle
	c.role = RoleNone
	c.group = anchor.GroupID{}
	c.inbox = ""
	c.mu.Unlock()

	if err != nil {
		err = c.fail("leave", ErrTransport, err, "Failed to leave session")
	} else {
		c.log.Info("coordinator.leave")
		c.report("Left session", false)
	}
	c.metrics.observe("leave", start, err)
	return err
}

// onBroadcast is the transport's broadcast handler. It only buffers the raw
// value; JoinAndAwaitGroup validates it. Once a group is set, repeats are
// no-ops and different values are ignored.
func (c *Coordinator) onBroadcast(payload string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.group.IsEmpty() {
		if g, err := anchor.ParseGroupID(payload); err == nil && g == c.group {
			c.metrics.broadcastReceived("duplicate")
			return
		}
		c.metrics.broadcastReceived("ignored")
		c.log.Warn("coordinator.group.conflict", "current", c.group.String(), "received", payload)
		return
	}
	c.metrics.broadcastReceived("accepted")
	c.inbox = payload
}

// ---- internals ----

// begin moves from one of the allowed states into next and returns the state it left.
func (c *Coordinator) begin(op string, next State, allowed ...State) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state
	if !slices.Contains(allowed, prev) {
		return prev, &OpError{Op: op, Kind: ErrBusy, Err: fmt.Errorf("state %s", prev)}
	}
	c.state = next
	c.log.Debug("coordinator.state", "op", op, "from", prev.String(), "to", next.String())
	return prev, nil
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Coordinator) report(msg string, failed bool) {
	c.reporter.Report(msg, failed)
}

// fail logs and reports a failure and returns it as an *OpError.
func (c *Coordinator) fail(op string, kind, cause error, msg string) error {
	c.log.Warn("coordinator."+op+".fail", "kind", kind.Error(), "err", cause)
	c.report(msg, true)
	return &OpError{Op: op, Kind: kind, Err: cause}
}

// ctxKind maps a context error to ErrCanceled, otherwise returns fallback.
func ctxKind(err error, fallback error) error {
	if errors.Is(err, context.Canceled) {
		return ErrCanceled
	}
	return fallback
}
