// Package transport connects a device to the session relay.
//
// WS implements colocation.Transport over one WebSocket per session attempt.
// Broadcasts are read on a background goroutine and handed to the registered
// handler; the relay replays its retained broadcast when a client joins late.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"colocation/cmd/internal/colocation"
	"colocation/cmd/internal/ids"
	v1 "colocation/shared/contracts/session/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 16 << 10

var (
	ErrAlreadyRunning = errors.New("transport: session already running")
	ErrNotRunning     = errors.New("transport: no session")
	ErrNotAuthority   = errors.New("transport: not the session authority")
)

// RelayError is an error envelope returned by the relay.
type RelayError struct {
	Code    string
	Message string
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("relay: %s: %s", e.Code, e.Message)
}

var _ colocation.Transport = (*WS)(nil)

// WS is a relay-backed session transport.
type WS struct {
	log *slog.Logger
	cfg Config

	mu      sync.Mutex
	link    *link
	handler func(string)
}

// link is one live session connection.
type link struct {
	conn    *websocket.Conn
	session string
	pid     string
	host    bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewWS validates cfg and returns an idle transport.
func NewWS(log *slog.Logger, cfg Config) (*WS, error) {
	cfg = cfg.normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &WS{log: log, cfg: cfg}, nil
}

// SetBroadcastHandler registers fn for incoming broadcast data.
func (w *WS) SetBroadcastHandler(fn func(payload string)) {
	w.mu.Lock()
	w.handler = fn
	w.mu.Unlock()
}

// Running reports whether a session is live.
func (w *WS) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.link != nil
}

// Authority reports whether this device hosts the live session.
func (w *WS) Authority() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.link != nil && w.link.host
}

// ParticipantID returns the relay-assigned id of the live session, or "".
func (w *WS) ParticipantID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.link == nil {
		return ""
	}
	return w.link.pid
}

// Start dials the relay, completes the hello handshake and hosts or joins name.
func (w *WS) Start(ctx context.Context, role colocation.Role, name string) error {
	if role != colocation.RoleHost && role != colocation.RoleClient {
		return fmt.Errorf("transport: unsupported role %s", role)
	}

	w.mu.Lock()
	busy := w.link != nil
	w.mu.Unlock()
	if busy {
		return ErrAlreadyRunning
	}

	dialCtx, cancel := context.WithTimeout(ctx, w.cfg.DialTimeout)
	defer cancel()

	conn, err := w.dial(dialCtx)
	if err != nil {
		return err
	}

	l, err := w.handshake(dialCtx, conn, role, name)
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return err
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	l.cancel = runCancel

	w.mu.Lock()
	if w.link != nil {
		w.mu.Unlock()
		runCancel()
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
		return ErrAlreadyRunning
	}
	w.link = l
	w.mu.Unlock()

	go w.readLoop(runCtx, l)
	go w.keepalive(runCtx, l)

	w.log.Info("transport.start", "session", l.session, "role", role.String(), "participant_id", l.pid)
	return nil
}

func (w *WS) dial(ctx context.Context) (*websocket.Conn, error) {
	h := http.Header{}
	if w.cfg.Origin != "" {
		h.Set("Origin", w.cfg.Origin)
	}

	conn, resp, err := websocket.Dial(ctx, w.cfg.URL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", w.cfg.URL, err)
	}
	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return nil, fmt.Errorf("transport: relay selected subprotocol %q", sp)
	}
	conn.SetReadLimit(maxReadBytes)
	return conn, nil
}

func (w *WS) handshake(ctx context.Context, conn *websocket.Conn, role colocation.Role, name string) (*link, error) {
	if err := w.write(ctx, conn, v1.TypeHello, "", v1.HelloPayload{Device: w.cfg.Device}); err != nil {
		return nil, err
	}
	env, err := w.await(ctx, conn, v1.TypeHelloAck)
	if err != nil {
		return nil, err
	}
	var ack v1.HelloAckPayload
	if err := json.Unmarshal(env.Payload, &ack); err != nil {
		return nil, fmt.Errorf("transport: hello_ack: %w", err)
	}

	typ, payload := v1.TypeSessionJoin, any(v1.SessionJoinPayload{Session: name, Passcode: w.cfg.Passcode})
	if role == colocation.RoleHost {
		typ, payload = v1.TypeSessionHost, v1.SessionHostPayload{Session: name, Passcode: w.cfg.Passcode}
	}
	if err := w.write(ctx, conn, typ, name, payload); err != nil {
		return nil, err
	}
	env, err = w.await(ctx, conn, v1.TypeSessionJoined)
	if err != nil {
		return nil, err
	}
	var joined v1.SessionJoinedPayload
	if err := json.Unmarshal(env.Payload, &joined); err != nil {
		return nil, fmt.Errorf("transport: session_joined: %w", err)
	}

	return &link{
		conn:    conn,
		session: joined.Session,
		pid:     ack.ParticipantID,
		host:    joined.Authority,
		done:    make(chan struct{}),
	}, nil
}

// await reads until an envelope of type want arrives. Relay errors abort the wait.
func (w *WS) await(ctx context.Context, conn *websocket.Conn, want string) (v1.Envelope, error) {
	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return v1.Envelope{}, fmt.Errorf("transport: awaiting %s: %w", want, err)
		}
		switch env.Type {
		case want:
			return env, nil
		case v1.TypeError:
			return v1.Envelope{}, decodeRelayError(env)
		default:
			w.log.Debug("transport.skip", "type", env.Type, "awaiting", want)
		}
	}
}

// Broadcast sends payload to every other participant. Only the authority may broadcast.
func (w *WS) Broadcast(ctx context.Context, payload string) error {
	w.mu.Lock()
	l := w.link
	w.mu.Unlock()

	if l == nil {
		return ErrNotRunning
	}
	if !l.host {
		return ErrNotAuthority
	}

	p := v1.BroadcastPayload{Session: l.session, Data: payload}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("transport: broadcast: %w", err)
	}
	if err := w.write(ctx, l.conn, v1.TypeBroadcast, l.session, p); err != nil {
		return err
	}
	w.log.Info("transport.broadcast", "session", l.session, "bytes", len(payload))
	return nil
}

// Leave ends the live session. It is a no-op when nothing is running.
func (w *WS) Leave(ctx context.Context) error {
	w.mu.Lock()
	l := w.link
	w.link = nil
	w.mu.Unlock()

	if l == nil {
		return nil
	}

	err := w.write(ctx, l.conn, v1.TypeSessionLeave, l.session, v1.SessionLeavePayload{Session: l.session})
	_ = l.conn.Close(websocket.StatusNormalClosure, "leave")
	l.cancel()

	select {
	case <-l.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.log.Info("transport.leave", "session", l.session, "participant_id", l.pid)
	return err
}

func (w *WS) readLoop(ctx context.Context, l *link) {
	defer close(l.done)
	defer w.detach(l)

	for {
		_, data, err := l.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				w.log.Info("transport.read.fail", "session", l.session, "close_status", websocket.CloseStatus(err), "err", err)
			}
			return
		}
		env, err := decodeEnvelope(data)
		if err != nil {
			w.log.Warn("transport.read.bad_envelope", "session", l.session, "err", err)
			continue
		}

		switch env.Type {
		case v1.TypeBroadcast:
			var p v1.BroadcastPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				w.log.Warn("transport.broadcast.bad_payload", "err", err)
				continue
			}
			w.log.Info("transport.broadcast.recv", "session", l.session, "from", p.From, "replayed", p.Replayed)
			w.mu.Lock()
			fn := w.handler
			w.mu.Unlock()
			if fn != nil {
				fn(p.Data)
			}

		case v1.TypeSessionClosed:
			var p v1.SessionClosedPayload
			_ = json.Unmarshal(env.Payload, &p)
			w.log.Info("transport.session.closed", "session", l.session, "reason", p.Reason)
			w.detach(l)
			_ = l.conn.Close(websocket.StatusNormalClosure, "session closed")
			return

		case v1.TypeError:
			w.log.Warn("transport.relay.error", "session", l.session, "err", decodeRelayError(env))

		default:
			w.log.Debug("transport.skip", "type", env.Type)
		}
	}
}

func (w *WS) keepalive(ctx context.Context, l *link) {
	t := time.NewTicker(w.cfg.KeepaliveInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-t.C:
			if err := w.write(ctx, l.conn, v1.TypeKeepalive, l.session, nil); err != nil {
				w.log.Info("transport.keepalive.fail", "session", l.session, "err", err)
				return
			}
		}
	}
}

// detach forgets l if it is still the live link.
func (w *WS) detach(l *link) {
	w.mu.Lock()
	if w.link == l {
		w.link = nil
	}
	w.mu.Unlock()
}

func (w *WS) write(parent context.Context, conn *websocket.Conn, typ, session string, payload any) error {
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return err
	}

	env := v1.Envelope{V: v1.Version, Type: typ, ID: id, Session: session, TS: now}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		env.Payload = raw
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(parent, w.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		return fmt.Errorf("transport: write %s: %w", typ, err)
	}
	return nil
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	return decodeEnvelope(data)
}

func decodeEnvelope(data []byte) (v1.Envelope, error) {
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	if err := env.Validate(); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func decodeRelayError(env v1.Envelope) error {
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return &RelayError{Code: "unknown", Message: string(env.Payload)}
	}
	return &RelayError{Code: p.Code, Message: p.Message}
}
