package colocation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"colocation/cmd/internal/anchor"

	"github.com/google/uuid"
)

type fakeHandle struct {
	id        uuid.UUID
	pose      anchor.Pose
	created   atomic.Bool
	localized atomic.Bool
}

func newFakeHandle(created, localized bool) *fakeHandle {
	h := &fakeHandle{id: uuid.New(), pose: anchor.IdentityPose()}
	h.created.Store(created)
	h.localized.Store(localized)
	return h
}

func (h *fakeHandle) ID() uuid.UUID     { return h.id }
func (h *fakeHandle) Created() bool     { return h.created.Load() }
func (h *fakeHandle) Localized() bool   { return h.localized.Load() }
func (h *fakeHandle) Pose() anchor.Pose { return h.pose }

// fakeAnchors is a scripted AnchorService.
type fakeAnchors struct {
	mu sync.Mutex

	neverPlace bool
	createErr  error
	saveErr    map[uuid.UUID]error
	saveAllErr error
	shareErr   error
	loadErr    error
	eraseErr   map[uuid.UUID]error

	// loadPlan overrides groups; n is the 1-based LoadGroup call count.
	loadPlan   func(n int) []anchor.Unbound
	groups     map[anchor.GroupID][]anchor.Unbound
	localizeOK map[uuid.UUID]bool

	created   []uuid.UUID
	released  []uuid.UUID
	saved     []uuid.UUID
	shares    [][]uuid.UUID
	loads     int
	localized []uuid.UUID
	bound     []uuid.UUID
	erased    []uuid.UUID
}

func newFakeAnchors() *fakeAnchors {
	return &fakeAnchors{
		saveErr:    map[uuid.UUID]error{},
		eraseErr:   map[uuid.UUID]error{},
		groups:     map[anchor.GroupID][]anchor.Unbound{},
		localizeOK: map[uuid.UUID]bool{},
	}
}

func (f *fakeAnchors) Create(_ context.Context, _ anchor.Pose) (anchor.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	h := newFakeHandle(!f.neverPlace, !f.neverPlace)
	f.created = append(f.created, h.id)
	return h, nil
}

func (f *fakeAnchors) Release(_ context.Context, h anchor.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, h.ID())
	return nil
}

func (f *fakeAnchors) Save(_ context.Context, h anchor.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveAllErr != nil {
		return f.saveAllErr
	}
	if err := f.saveErr[h.ID()]; err != nil {
		return err
	}
	f.saved = append(f.saved, h.ID())
	return nil
}

func (f *fakeAnchors) Share(_ context.Context, hs []anchor.Handle, group anchor.GroupID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shareErr != nil {
		return f.shareErr
	}
	ids := make([]uuid.UUID, 0, len(hs))
	for _, h := range hs {
		ids = append(ids, h.ID())
		f.groups[group] = append(f.groups[group], anchor.Unbound{ID: h.ID(), Pose: h.Pose(), Group: group})
	}
	f.shares = append(f.shares, ids)
	return nil
}

func (f *fakeAnchors) LoadGroup(_ context.Context, group anchor.GroupID) ([]anchor.Unbound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.loadPlan != nil {
		return f.loadPlan(f.loads), nil
	}
	return slices.Clone(f.groups[group]), nil
}

func (f *fakeAnchors) Localize(_ context.Context, u anchor.Unbound) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.localized = append(f.localized, u.ID)
	return f.localizeOK[u.ID], nil
}

func (f *fakeAnchors) Bind(_ context.Context, u anchor.Unbound) (anchor.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bound = append(f.bound, u.ID)
	h := &fakeHandle{id: u.ID, pose: u.Pose}
	h.created.Store(true)
	h.localized.Store(true)
	return h, nil
}

func (f *fakeAnchors) Erase(_ context.Context, h anchor.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.eraseErr[h.ID()]; err != nil {
		return err
	}
	f.erased = append(f.erased, h.ID())
	return nil
}

func (f *fakeAnchors) snapshot(field *[]uuid.UUID) []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(*field)
}

func (f *fakeAnchors) shareCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.shares)
}

func (f *fakeAnchors) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

// fakeTransport is an in-process Transport.
type fakeTransport struct {
	mu sync.Mutex

	startErr error
	// replay is delivered to the handler during Start, like a retained broadcast.
	replay string
	// dropAfterStart ends the session right after Start succeeds.
	dropAfterStart bool
	// onBroadcast runs before each Broadcast is recorded.
	onBroadcast func()

	handler    func(string)
	running    bool
	authority  bool
	role       Role
	name       string
	broadcasts []string
	leaves     int
}

func (f *fakeTransport) Start(_ context.Context, role Role, name string) error {
	f.mu.Lock()
	if f.startErr != nil {
		f.mu.Unlock()
		return f.startErr
	}
	f.running = !f.dropAfterStart
	f.authority = role == RoleHost
	f.role = role
	f.name = name
	replay, h := f.replay, f.handler
	f.mu.Unlock()

	if replay != "" && h != nil {
		h(replay)
	}
	return nil
}

func (f *fakeTransport) Leave(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.authority = false
	f.leaves++
	return nil
}

func (f *fakeTransport) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeTransport) Authority() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running && f.authority
}

func (f *fakeTransport) Broadcast(_ context.Context, payload string) error {
	f.mu.Lock()
	hook := f.onBroadcast
	ok := f.running && f.authority
	f.mu.Unlock()
	if !ok {
		return errors.New("not authority")
	}
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	f.broadcasts = append(f.broadcasts, payload)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetBroadcastHandler(fn func(string)) {
	f.mu.Lock()
	f.handler = fn
	f.mu.Unlock()
}

func (f *fakeTransport) deliver(payload string) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(payload)
	}
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.broadcasts)
}

func (f *fakeTransport) leaveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leaves
}

type fakeSink struct {
	mu      sync.Mutex
	aligned []uuid.UUID
}

func (s *fakeSink) AlignTo(h anchor.Handle) {
	s.mu.Lock()
	s.aligned = append(s.aligned, h.ID())
	s.mu.Unlock()
}

func (s *fakeSink) got() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.aligned)
}

type recordingReporter struct {
	mu    sync.Mutex
	lines []string
	fails int
}

func (r *recordingReporter) Report(msg string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, msg)
	if failed {
		r.fails++
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CreateTimeout = 200 * time.Millisecond
	cfg.CreatePollInterval = time.Millisecond
	cfg.LocalizeTimeout = 100 * time.Millisecond
	cfg.GroupPollInterval = 2 * time.Millisecond
	cfg.LoadRetry = RetryConfig{
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		MaxElapsed:      5 * time.Second,
		MaxTries:        5,
	}
	return cfg
}

type rig struct {
	c        *Coordinator
	anchors  *fakeAnchors
	tr       *fakeTransport
	sink     *fakeSink
	reporter *recordingReporter
}

func newRig(cfg Config) rig {
	r := rig{
		anchors:  newFakeAnchors(),
		tr:       &fakeTransport{},
		sink:     &fakeSink{},
		reporter: &recordingReporter{},
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := New(log, cfg, r.anchors, r.tr, r.sink, WithReporter(r.reporter), WithMetrics(NewMetrics(nil)))
	if err != nil {
		panic(err)
	}
	r.c = c
	return r
}

func unboundSet(group anchor.GroupID, n int) []anchor.Unbound {
	out := make([]anchor.Unbound, n)
	for i := range out {
		out[i] = anchor.Unbound{ID: uuid.New(), Pose: anchor.IdentityPose(), Group: group}
	}
	return out
}
