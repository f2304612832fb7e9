package anchor

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MaxGroupIDTextBytes bounds the text form accepted by ParseGroupID.
// It matches the relay broadcast field bound.
const MaxGroupIDTextBytes = 64

// GroupID identifies the set of anchors shared within one colocation session.
// The zero value is the empty sentinel meaning "not yet established".
type GroupID struct {
	id uuid.UUID
}

// NewGroupID generates a random (v4) group identifier.
func NewGroupID() GroupID {
	return GroupID{id: uuid.New()}
}

// ParseGroupID parses the text form of a group identifier.
// Blank, oversized, malformed and nil-UUID inputs fail with ErrInvalidGroupID.
func ParseGroupID(s string) (GroupID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return GroupID{}, fmt.Errorf("%w: empty", ErrInvalidGroupID)
	}
	if len(s) > MaxGroupIDTextBytes {
		return GroupID{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidGroupID, MaxGroupIDTextBytes)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return GroupID{}, fmt.Errorf("%w: %v", ErrInvalidGroupID, err)
	}
	if u == uuid.Nil {
		return GroupID{}, fmt.Errorf("%w: nil uuid", ErrInvalidGroupID)
	}
	return GroupID{id: u}, nil
}

// IsEmpty reports whether g is the empty sentinel.
func (g GroupID) IsEmpty() bool { return g.id == uuid.Nil }

// UUID returns the underlying 128-bit value.
func (g GroupID) UUID() uuid.UUID { return g.id }

// String returns the canonical hyphenated form, or "" for the empty sentinel.
func (g GroupID) String() string {
	if g.IsEmpty() {
		return ""
	}
	return g.id.String()
}

// MarshalText implements encoding.TextMarshaler.
func (g GroupID) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty text yields the empty sentinel.
func (g *GroupID) UnmarshalText(b []byte) error {
	if len(strings.TrimSpace(string(b))) == 0 {
		*g = GroupID{}
		return nil
	}
	parsed, err := ParseGroupID(string(b))
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}
