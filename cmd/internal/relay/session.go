package relay

import (
	"log/slog"
	"sync"

	v1 "colocation/shared/contracts/session/v1"
)

// Session is a named colocation session: one authority plus joined members.
//
// Only the authority may broadcast. The latest broadcast is retained and
// replayed to every participant that joins afterwards.
type Session struct {
	log  *slog.Logger
	Name string

	passcodeHash string
	maxMembers   int

	mu        sync.RWMutex
	authority *Client
	members   map[string]*Client
	retained  *v1.BroadcastPayload
	closed    bool
}

func newSession(log *slog.Logger, name string, authority *Client, passcodeHash string, maxMembers int) *Session {
	s := &Session{
		log:          log,
		Name:         name,
		passcodeHash: passcodeHash,
		maxMembers:   maxMembers,
		authority:    authority,
		members:      map[string]*Client{authority.ParticipantID: authority},
	}
	return s
}

// AuthorityID returns the participant id of the session host.
func (s *Session) AuthorityID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.authority == nil {
		return ""
	}
	return s.authority.ParticipantID
}

// Members returns the current member count, authority included.
func (s *Session) Members() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

// Retained returns the latest broadcast, if any.
func (s *Session) Retained() (v1.BroadcastPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.retained == nil {
		return v1.BroadcastPayload{}, false
	}
	return *s.retained, true
}

func (s *Session) join(c *Client) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionNotFound
	}
	if _, ok := s.members[c.ParticipantID]; !ok && len(s.members) >= s.maxMembers {
		return 0, ErrSessionFull
	}
	s.members[c.ParticipantID] = c
	s.log.Info("relay.session.join", "session", s.Name, "participant_id", c.ParticipantID, "members", len(s.members))
	return len(s.members), nil
}

// leave removes a member. If the authority leaves, the session is closed and
// the remaining members are returned so the caller can notify them.
func (s *Session) leave(participantID string) (closed bool, orphans []*Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[participantID]; !ok {
		return false, nil
	}
	delete(s.members, participantID)
	s.log.Info("relay.session.leave", "session", s.Name, "participant_id", participantID, "members", len(s.members))

	if s.authority == nil || s.authority.ParticipantID != participantID {
		return false, nil
	}

	s.closed = true
	s.authority = nil
	orphans = make([]*Client, 0, len(s.members))
	for id, m := range s.members {
		orphans = append(orphans, m)
		delete(s.members, id)
	}
	return true, orphans
}

// broadcast retains p and fans env out to every member except the sender.
// Non-blocking: a member whose queue is full is closed so its connection ends
// and it can rejoin to get the retained value by replay. Returns the number
// of members the envelope was queued for.
func (s *Session) broadcast(from *Client, p v1.BroadcastPayload, env v1.Envelope) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSessionNotFound
	}
	if s.authority == nil || from == nil || s.authority.ParticipantID != from.ParticipantID {
		return 0, ErrNotAuthority
	}

	retained := p
	s.retained = &retained

	delivered := 0
	for id, m := range s.members {
		if id == from.ParticipantID || m == nil {
			continue
		}
		if m.offer(env) {
			delivered++
			continue
		}
		s.log.Warn("relay.session.broadcast.drop", "session", s.Name, "participant_id", id)
		m.Close()
	}
	return delivered, nil
}
