package anchor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// InMemoryStore is a dev-only Store used when no database is configured.
type InMemoryStore struct {
	mu      sync.Mutex
	anchors map[uuid.UUID]StoredAnchor
	groups  map[GroupID][]uuid.UUID // ordered by first share
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		anchors: make(map[uuid.UUID]StoredAnchor),
		groups:  make(map[GroupID][]uuid.UUID),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// SaveAnchor upserts an anchor.
func (s *InMemoryStore) SaveAnchor(ctx context.Context, a StoredAnchor) error {
	if err := validateStored(a); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.SavedAt.IsZero() {
		a.SavedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.anchors[a.ID] = a
	s.mu.Unlock()
	return nil
}

// ShareAnchors associates saved anchors with group.
func (s *InMemoryStore) ShareAnchors(ctx context.Context, group GroupID, ids []uuid.UUID) error {
	if err := validateShare(group, ids); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.anchors[id]; !ok {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	members := s.groups[group]
	for _, id := range ids {
		if !lo.Contains(members, id) {
			members = append(members, id)
		}
	}
	s.groups[group] = members
	return nil
}

// LoadGroup returns the anchors shared into group.
func (s *InMemoryStore) LoadGroup(ctx context.Context, group GroupID) ([]StoredAnchor, error) {
	if group.IsEmpty() {
		return nil, ErrInvalidGroupID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return lo.FilterMap(s.groups[group], func(id uuid.UUID, _ int) (StoredAnchor, bool) {
		a, ok := s.anchors[id]
		return a, ok
	}), nil
}

// EraseAnchor deletes an anchor and its group memberships.
func (s *InMemoryStore) EraseAnchor(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.anchors[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.anchors, id)
	for g, members := range s.groups {
		s.groups[g] = lo.Without(members, id)
	}
	return nil
}
