// Package main provides a CI-friendly WebSocket smoke test for the session relay.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack participant assignment
//   - host advertises a session, client joins it
//   - authority broadcast reaches the client
//   - late joiner receives the retained broadcast as a replay
//   - non-authority broadcast is rejected
//   - authority leave closes the session for everyone
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "colocation/shared/contracts/session/v1"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

const maxReadBytes = 16 << 10

type smokeClient struct {
	name          string
	conn          *websocket.Conn
	participantID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin   = flag.String("origin", "http://localhost", "Origin header to send")
		session  = flag.String("session", "", "Session name (default: random)")
		passcode = flag.String("passcode", "", "Optional session passcode")
		timeout  = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose  = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if *session == "" {
		*session = "smoke-" + uuid.NewString()[:8]
	}

	root := context.Background()

	host := mustConnect(root, "host", *wsURL, *origin, *timeout)
	defer closeWS(host.conn)

	client := mustConnect(root, "client", *wsURL, *origin, *timeout)
	defer closeWS(client.conn)

	if *verbose {
		fmt.Printf("connected: host=%s client=%s origin=%q\n", host.participantID, client.participantID, *origin)
	}

	mustEnter(root, host, v1.TypeSessionHost, *session, *passcode, v1.RoleHost, *timeout)
	mustEnter(root, client, v1.TypeSessionJoin, *session, *passcode, v1.RoleClient, *timeout)

	group := uuid.NewString()
	mustWriteWithTimeout(root, host.conn, envelope(host.name+"-broadcast", v1.TypeBroadcast, v1.BroadcastPayload{Data: group}), *timeout)
	mustAssertBroadcast(root, client, group, host.participantID, false, *timeout)

	late := mustConnect(root, "late", *wsURL, *origin, *timeout)
	defer closeWS(late.conn)
	mustEnter(root, late, v1.TypeSessionJoin, *session, *passcode, v1.RoleClient, *timeout)
	mustAssertBroadcast(root, late, group, host.participantID, true, *timeout)

	mustWriteWithTimeout(root, client.conn, envelope(client.name+"-broadcast", v1.TypeBroadcast, v1.BroadcastPayload{Data: uuid.NewString()}), *timeout)
	mustAssertError(root, client, v1.CodeNotAuthority, *timeout)

	mustWriteWithTimeout(root, host.conn, envelope(host.name+"-leave", v1.TypeSessionLeave, v1.SessionLeavePayload{Session: *session}), *timeout)
	client.mustReadUntilType(root, v1.TypeSessionClosed, *timeout, nil)
	late.mustReadUntilType(root, v1.TypeSessionClosed, *timeout, nil)

	fmt.Printf("OK: session=%s host=%s client=%s late=%s group=%s\n", *session, host.participantID, client.participantID, late.participantID, group)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}
	assertSubprotocol(resp, v1.Subprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	mustWriteWithTimeout(parent, conn, envelope(name+"-hello", v1.TypeHello, v1.HelloPayload{Device: "smoke-" + name}), stepTimeout)
	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout, nil)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", name, err)
	}
	if strings.TrimSpace(p.ParticipantID) == "" {
		fatalf("hello_ack missing participant_id (%s)", name)
	}
	c.participantID = p.ParticipantID
	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got != "" && got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

// mustEnter hosts or joins a session and checks the granted role.
func mustEnter(parent context.Context, c *smokeClient, typ, session, passcode, wantRole string, stepTimeout time.Duration) {
	var payload any = v1.SessionJoinPayload{Session: session, Passcode: passcode}
	if typ == v1.TypeSessionHost {
		payload = v1.SessionHostPayload{Session: session, Passcode: passcode}
	}
	mustWriteWithTimeout(parent, c.conn, envelope(c.name+"-"+typ, typ, payload), stepTimeout)

	joined := c.mustReadUntilType(parent, v1.TypeSessionJoined, stepTimeout, nil)

	var p v1.SessionJoinedPayload
	if err := json.Unmarshal(joined.Payload, &p); err != nil {
		fatalf("unmarshal session_joined payload (%s): %v", c.name, err)
	}
	if p.Role != wantRole {
		fatalf("session_joined role mismatch (%s): got=%q want=%q", c.name, p.Role, wantRole)
	}
	if p.Authority != (wantRole == v1.RoleHost) {
		fatalf("session_joined authority mismatch (%s): got=%v", c.name, p.Authority)
	}
}

func mustAssertBroadcast(parent context.Context, c *smokeClient, data, from string, replayed bool, stepTimeout time.Duration) {
	env := c.mustReadUntilType(parent, v1.TypeBroadcast, stepTimeout, nil)

	var p v1.BroadcastPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("unmarshal broadcast payload (%s): %v", c.name, err)
	}
	if p.Data != data {
		fatalf("broadcast data mismatch (%s): got=%q want=%q", c.name, p.Data, data)
	}
	if p.From != from {
		fatalf("broadcast sender mismatch (%s): got=%q want=%q", c.name, p.From, from)
	}
	if p.Replayed != replayed {
		fatalf("broadcast replayed mismatch (%s): got=%v want=%v", c.name, p.Replayed, replayed)
	}
}

func mustAssertError(parent context.Context, c *smokeClient, code string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	select {
	case <-ctx.Done():
		fatalf("timeout waiting for error %q (%s)", code, c.name)
	case err := <-c.errCh:
		fatalf("connection error while waiting for error %q (%s): %v", code, c.name, err)
	case env, ok := <-c.inbox:
		if !ok {
			fatalf("connection closed while waiting for error %q (%s)", code, c.name)
		}
		if env.Type != v1.TypeError {
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, v1.TypeError)
		}
		var ep v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &ep)
		if ep.Code != code {
			fatalf("error code mismatch (%s): got=%q want=%q", c.name, ep.Code, code)
		}
	}
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", wantType, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %q (%s): %v", wantType, c.name, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", wantType, c.name)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error (%s): code=%q msg=%q", c.name, ep.Code, ep.Message)
			}
			if _, ok := skipTypes[env.Type]; ok {
				continue
			}
			fatalf("unexpected envelope type (%s): got=%q want=%q", c.name, env.Type, wantType)
		}
	}
}

func envelope(id, typ string, payload any) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: mustJSON(payload),
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
