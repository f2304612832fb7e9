package relay

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeSessionName trims and NFC-normalizes a session name so visually
// identical names typed on different devices resolve to the same session.
func NormalizeSessionName(name string) (string, error) {
	n := norm.NFC.String(strings.TrimSpace(name))
	if n == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSessionName)
	}
	if len(n) > maxSessionNameBytes {
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidSessionName, maxSessionNameBytes)
	}
	for _, r := range n {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: control character", ErrInvalidSessionName)
		}
	}
	return n, nil
}

// Hub owns the advertised sessions, keyed by normalized name.
type Hub struct {
	log        *slog.Logger
	metrics    *Metrics
	maxSess    int
	maxMembers int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub constructs a Hub. A nil metrics disables instrumentation.
func NewHub(log *slog.Logger, cfg Config, metrics *Metrics) *Hub {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.normalized()
	return &Hub{
		log:        log,
		metrics:    metrics,
		maxSess:    cfg.MaxSessions,
		maxMembers: cfg.MaxSessionMembers,
		sessions:   make(map[string]*Session),
	}
}

// Host advertises a new session with c as its authority.
func (h *Hub) Host(name string, c *Client, passcodeHash string) (*Session, error) {
	name, err := NormalizeSessionName(name)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sessions[name]; ok {
		return nil, ErrSessionTaken
	}
	if len(h.sessions) >= h.maxSess {
		return nil, ErrTooManySessions
	}

	s := newSession(h.log, name, c, passcodeHash, h.maxMembers)
	h.sessions[name] = s
	h.metrics.setSessions(len(h.sessions))
	h.log.Info("relay.session.host", "session", name, "participant_id", c.ParticipantID, "passcode", passcodeHash != "")
	return s, nil
}

// Lookup returns the session advertised under name.
func (h *Hub) Lookup(name string) (*Session, error) {
	name, err := NormalizeSessionName(name)
	if err != nil {
		return nil, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[name]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Join adds c to an existing session. verify is called with the session's
// passcode hash when one is set.
func (h *Hub) Join(name string, c *Client, verify func(hash string) (bool, error)) (*Session, int, error) {
	s, err := h.Lookup(name)
	if err != nil {
		return nil, 0, err
	}
	if s.passcodeHash != "" {
		if verify == nil {
			return nil, 0, ErrBadPasscode
		}
		ok, err := verify(s.passcodeHash)
		if err != nil {
			return nil, 0, fmt.Errorf("verify passcode: %w", err)
		}
		if !ok {
			return nil, 0, ErrBadPasscode
		}
	}
	n, err := s.join(c)
	if err != nil {
		return nil, 0, err
	}
	return s, n, nil
}

// Leave removes participantID from s. When the authority leaves, the session
// is unadvertised and its remaining members are returned.
func (h *Hub) Leave(s *Session, participantID string) (closed bool, orphans []*Client) {
	if s == nil {
		return false, nil
	}
	closed, orphans = s.leave(participantID)
	if !closed {
		return false, nil
	}

	h.mu.Lock()
	if cur, ok := h.sessions[s.Name]; ok && cur == s {
		delete(h.sessions, s.Name)
	}
	h.metrics.setSessions(len(h.sessions))
	h.mu.Unlock()

	h.log.Info("relay.session.close", "session", s.Name, "orphans", len(orphans))
	return true, orphans
}

// Sessions returns the number of advertised sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
