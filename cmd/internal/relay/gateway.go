// Package relay is the session relay devices use to find each other.
//
// A host advertises a named session and becomes its authority; clients join by
// name. The authority's broadcasts fan out to every member and the latest one
// is retained and replayed to anyone who joins later.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"colocation/cmd/internal/ids"
	"colocation/cmd/security/passcode"
	v1 "colocation/shared/contracts/session/v1"

	"github.com/coder/websocket"
)

// Gateway is the WebSocket entrypoint of the relay.
//
// It enforces origin policy, subprotocol selection, rate limits, heartbeats,
// and routes validated envelopes to the Hub.
type Gateway struct {
	log      *slog.Logger
	hub      *Hub
	cfg      Config
	origins  originPolicy
	passcode passcode.Config
	metrics  *Metrics
}

// GatewayOption configures optional Gateway dependencies.
type GatewayOption func(*Gateway)

// WithMetrics instruments the gateway (and should be the same Metrics given to the Hub).
func WithMetrics(m *Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithPasscodeConfig overrides the Argon2id parameters used for session passcodes.
func WithPasscodeConfig(cfg passcode.Config) GatewayOption {
	return func(g *Gateway) { g.passcode = cfg }
}

// NewGateway constructs a gateway. A nil hub gets an in-memory one.
func NewGateway(log *slog.Logger, hub *Hub, cfg Config, opts ...GatewayOption) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	g := &Gateway{
		log:      log,
		cfg:      cfg,
		origins:  newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins),
		passcode: passcode.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if hub == nil {
		hub = NewHub(log, cfg, g.metrics)
	}
	g.hub = hub
	return g
}

// Hub returns the session hub served by the gateway.
func (g *Gateway) Hub() *Hub { return g.hub }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// conn is the per-connection state. session is also cleared by shutdown,
// which may run on the writer or heartbeat goroutine.
type conn struct {
	client *Client
	hello  bool

	mu      sync.Mutex
	session *Session
}

func (c *conn) current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *conn) set(s *Session) {
	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
}

func (c *conn) take() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.session
	c.session = nil
	return s
}

// HandleWS upgrades the request and runs the relay loop for one device.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.check(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.origins.patterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = ws.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := ws.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = ws.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	ws.SetReadLimit(maxFrameBytes)

	pid, err := ids.NewULID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.participant_id.fail", "err", err)
		_ = ws.Close(websocket.StatusInternalError, "id failure")
		return
	}
	c := &conn{client: NewClient(pid, g.cfg.SendQueueSize)}

	g.metrics.connOpened()
	defer g.metrics.connClosed()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. Membership removal happens before client.Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.leaveSession(c)
			c.client.Close()
			_ = ws.Close(code, reason)
			cancel()
		})
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.client.Done():
				return
			case env := <-c.client.Send:
				if err := writeEnvelope(ctx, ws, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "participant_id", pid, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	// The session closes a member it could not deliver to.
	go func() {
		select {
		case <-ctx.Done():
		case <-c.client.Done():
			shutdown(websocket.StatusTryAgainLater, "send queue full")
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, ws, c.client, shutdown)
	}()

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		env, err := readEnvelope(readCtx, ws)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.sendError(c.client, v1.CodeBadJSON, "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "participant_id", pid, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.sendError(c.client, v1.CodeRateLimited, "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.sendError(c.client, v1.CodeBadEnvelope, err.Error())
			continue readLoop
		}

		if env.Type != v1.TypeHello && !c.hello {
			g.sendError(c.client, v1.CodeHelloFailed, "hello required")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(c, env); err != nil {
				g.sendError(c.client, v1.CodeHelloFailed, err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeSessionHost:
			if err := g.onHost(c, env); err != nil {
				g.sendError(c.client, hostErrorCode(err), err.Error())
			}

		case v1.TypeSessionJoin:
			if err := g.onJoin(c, env); err != nil {
				g.sendError(c.client, joinErrorCode(err), err.Error())
			}

		case v1.TypeKeepalive:
			// Reading it already reset the idle timer.

		case v1.TypeSessionLeave:
			if c.current() == nil {
				g.sendError(c.client, v1.CodeNotJoined, "not in a session")
				continue readLoop
			}
			g.leaveSession(c)

		case v1.TypeBroadcast:
			if c.current() == nil {
				g.sendError(c.client, v1.CodeNotJoined, "join first")
				continue readLoop
			}
			if err := g.onBroadcast(c, env, now); err != nil {
				code := v1.CodeBroadcastFailed
				if errors.Is(err, ErrNotAuthority) {
					code = v1.CodeNotAuthority
				}
				g.sendError(c.client, code, err.Error())
			}

		default:
			g.sendError(c.client, v1.CodeUnsupported, fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *Gateway) heartbeat(ctx context.Context, ws *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := ws.Ping(hbCtx)
			hbCancel()

			if err != nil {
				failures++
				g.log.Info("ws.ping.fail", "participant_id", client.ParticipantID, "failures", failures, "err", err)
				if failures >= maxPingFailures {
					shutdown(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// ---- handlers ----

func (g *Gateway) onHello(c *conn, env v1.Envelope) error {
	var p v1.HelloPayload
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return fmt.Errorf("invalid payload: %w", err)
		}
	}
	c.client.setDevice(strings.TrimSpace(p.Device))
	c.hello = true

	if !g.send(c.client, v1.TypeHelloAck, "", v1.HelloAckPayload{ParticipantID: c.client.ParticipantID}) {
		return errors.New("backpressure: hello_ack")
	}
	g.log.Info("relay.hello", "participant_id", c.client.ParticipantID, "device", c.client.Device())
	return nil
}

func (g *Gateway) onHost(c *conn, env v1.Envelope) error {
	var p v1.SessionHostPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	var hash string
	if p.Passcode != "" {
		h, err := g.passcode.Hash(p.Passcode)
		if err != nil {
			return fmt.Errorf("passcode: %w", err)
		}
		hash = h
	}

	// Hosting again replaces any previous membership.
	g.leaveSession(c)

	s, err := g.hub.Host(p.Session, c.client, hash)
	if err != nil {
		return err
	}
	c.set(s)

	g.send(c.client, v1.TypeSessionJoined, s.Name, v1.SessionJoinedPayload{
		Session:   s.Name,
		Role:      v1.RoleHost,
		Authority: true,
		Members:   s.Members(),
	})
	return nil
}

func (g *Gateway) onJoin(c *conn, env v1.Envelope) error {
	var p v1.SessionJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if cur := c.current(); cur != nil && cur.AuthorityID() == c.client.ParticipantID {
		return errors.New("session authority cannot join another session")
	}

	verify := func(hash string) (bool, error) { return g.passcode.Verify(hash, p.Passcode) }
	s, members, err := g.hub.Join(p.Session, c.client, verify)
	if err != nil {
		return err
	}
	if cur := c.current(); cur != nil && cur != s {
		g.leaveSession(c)
	}
	c.set(s)

	g.send(c.client, v1.TypeSessionJoined, s.Name, v1.SessionJoinedPayload{
		Session: s.Name,
		Role:    v1.RoleClient,
		Members: members,
	})

	// Late joiners get the latest authority broadcast.
	if retained, ok := s.Retained(); ok {
		retained.Replayed = true
		if g.send(c.client, v1.TypeBroadcast, s.Name, retained) {
			g.metrics.replay()
		}
	}
	return nil
}

func (g *Gateway) onBroadcast(c *conn, env v1.Envelope, now time.Time) error {
	var p v1.BroadcastPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	s := c.current()
	if s == nil {
		return ErrSessionNotFound
	}
	p.Session = s.Name
	p.From = c.client.ParticipantID
	p.Replayed = false
	p.SentAt = now

	out, err := g.newEnvelope(v1.TypeBroadcast, s.Name, p)
	if err != nil {
		return err
	}
	delivered, err := s.broadcast(c.client, p, out)
	if err != nil {
		return err
	}
	g.metrics.broadcast()
	g.log.Info("relay.broadcast", "session", s.Name, "participant_id", c.client.ParticipantID, "delivered", delivered)
	return nil
}

// leaveSession drops c from its session. If c was the authority the
// remaining members are told the session closed.
func (g *Gateway) leaveSession(c *conn) {
	s := c.take()
	if s == nil {
		return
	}

	closed, orphans := g.hub.Leave(s, c.client.ParticipantID)
	if !closed {
		return
	}
	for _, m := range orphans {
		g.send(m, v1.TypeSessionClosed, s.Name, v1.SessionClosedPayload{Session: s.Name, Reason: "authority left"})
	}
}

func hostErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionTaken):
		return v1.CodeSessionTaken
	default:
		return v1.CodeHostFailed
	}
}

func joinErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return v1.CodeSessionNotFound
	case errors.Is(err, ErrBadPasscode):
		return v1.CodeBadPasscode
	default:
		return v1.CodeJoinFailed
	}
}

// ---- send helpers ----

func (g *Gateway) sendError(client *Client, code, msg string) {
	g.metrics.errorSent(code)
	g.send(client, v1.TypeError, "", v1.ErrorPayload{Code: code, Message: msg})
}

// send enqueues a typed payload without blocking.
func (g *Gateway) send(client *Client, typ, session string, payload any) bool {
	env, err := g.newEnvelope(typ, session, payload)
	if err != nil {
		g.log.Error("relay.envelope.fail", "type", typ, "err", err)
		return false
	}
	return client.offer(env)
}

func (g *Gateway) newEnvelope(typ, session string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, err
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.Envelope{V: v1.Version, Type: typ, ID: id, Session: session, TS: now, Payload: raw}, nil
}

// ---- envelope IO ----

func readEnvelope(ctx context.Context, ws *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := ws.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, ws *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return readErrBadJSON
	}
	return readErrUnknown
}
