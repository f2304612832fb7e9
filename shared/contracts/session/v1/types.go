// Package v1 defines the colocation session relay protocol v1 contract.
//
// It is shared between the relay server and device transports so the wire
// protocol stays authoritative in one place.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol negotiated by both ends.
const Subprotocol = "colocation.session.v1"

// MaxBroadcastBytes bounds the data carried by a single broadcast.
// A canonical group identifier is 36 bytes.
const MaxBroadcastBytes = 64

// Type constants (wire-stable).
const (
	// TypeHello starts a connection handshake (device -> relay).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the handshake and assigns a participant id (relay -> device).
	TypeHelloAck = "hello_ack"

	// TypeSessionHost advertises a named session with the sender as authority (device -> relay).
	TypeSessionHost = "session_host"
	// TypeSessionJoin joins an advertised session (device -> relay).
	TypeSessionJoin = "session_join"
	// TypeSessionJoined confirms host/join and reports the granted role (relay -> device).
	TypeSessionJoined = "session_joined"
	// TypeSessionLeave leaves the current session (device -> relay).
	TypeSessionLeave = "session_leave"
	// TypeSessionClosed reports that the authority left and the session ended (relay -> members).
	TypeSessionClosed = "session_closed"

	// TypeBroadcast carries authority-originated data (authority -> relay -> members).
	TypeBroadcast = "broadcast"

	// TypeKeepalive resets the relay's read-idle timer; it carries no payload (device -> relay).
	TypeKeepalive = "keepalive"

	// TypeError is a generic error envelope (relay -> device).
	TypeError = "error"
)

// Roles reported in SessionJoinedPayload.
const (
	RoleHost   = "host"
	RoleClient = "client"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Session string          `json:"session,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeSessionHost,
		TypeSessionJoin,
		TypeSessionJoined,
		TypeSessionLeave,
		TypeSessionClosed,
		TypeBroadcast,
		TypeKeepalive,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload is sent by the device to initiate a connection.
type HelloPayload struct {
	Device string `json:"device,omitempty"`
}

// HelloAckPayload carries the relay-assigned participant id.
type HelloAckPayload struct {
	ParticipantID string `json:"participant_id"`
}

// SessionHostPayload advertises a session. Passcode is optional.
type SessionHostPayload struct {
	Session  string `json:"session"`
	Passcode string `json:"passcode,omitempty"`
}

// SessionJoinPayload requests membership in an advertised session.
type SessionJoinPayload struct {
	Session  string `json:"session"`
	Passcode string `json:"passcode,omitempty"`
}

// SessionJoinedPayload confirms membership.
type SessionJoinedPayload struct {
	Session   string `json:"session"`
	Role      string `json:"role"`
	Authority bool   `json:"authority"`
	Members   int    `json:"members"`
}

// SessionLeavePayload leaves a session.
type SessionLeavePayload struct {
	Session string `json:"session"`
}

// SessionClosedPayload tells members the session is gone.
type SessionClosedPayload struct {
	Session string `json:"session"`
	Reason  string `json:"reason"`
}

// BroadcastPayload is authority-originated data. Replayed marks a retained
// value re-delivered to a participant that joined after it was first sent.
type BroadcastPayload struct {
	Session  string    `json:"session"`
	Data     string    `json:"data"`
	From     string    `json:"from,omitempty"`
	Replayed bool      `json:"replayed,omitempty"`
	SentAt   time.Time `json:"sent_at,omitempty"`
}

// Validate checks the broadcast data bound.
func (p BroadcastPayload) Validate() error {
	if p.Data == "" {
		return errors.New("empty data")
	}
	if len(p.Data) > MaxBroadcastBytes {
		return fmt.Errorf("data too long: max=%d bytes", MaxBroadcastBytes)
	}
	return nil
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes (wire-stable).
const (
	CodeBadJSON         = "bad_json"
	CodeBadEnvelope     = "bad_envelope"
	CodeRateLimited     = "rate_limited"
	CodeHelloFailed     = "hello_failed"
	CodeHostFailed      = "host_failed"
	CodeJoinFailed      = "join_failed"
	CodeSessionTaken    = "session_taken"
	CodeSessionNotFound = "session_not_found"
	CodeBadPasscode     = "bad_passcode"
	CodeNotJoined       = "not_joined"
	CodeNotAuthority    = "not_authority"
	CodeBroadcastFailed = "broadcast_failed"
	CodeUnsupported     = "unsupported"
)
