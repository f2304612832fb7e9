package anchor

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StoredAnchor is the canonical persisted anchor representation.
type StoredAnchor struct {
	ID      uuid.UUID
	Pose    Pose
	SavedAt time.Time
}

// Store is the shared anchor cloud.
//
// Requirements:
//   - SaveAnchor is an idempotent upsert by ID
//   - ShareAnchors fails with ErrNotFound if any ID was never saved; re-sharing is a no-op
//   - LoadGroup returns anchors in the order they were first shared into the group
//   - EraseAnchor removes the anchor and all of its group memberships
type Store interface {
	SaveAnchor(ctx context.Context, a StoredAnchor) error
	ShareAnchors(ctx context.Context, group GroupID, ids []uuid.UUID) error
	LoadGroup(ctx context.Context, group GroupID) ([]StoredAnchor, error)
	EraseAnchor(ctx context.Context, id uuid.UUID) error
	Close() error
}

func validateStored(a StoredAnchor) error {
	if a.ID == uuid.Nil {
		return ErrInvalidInput
	}
	if !a.Pose.Valid() {
		return ErrInvalidPose
	}
	return nil
}

func validateShare(group GroupID, ids []uuid.UUID) error {
	if group.IsEmpty() {
		return ErrInvalidGroupID
	}
	if len(ids) == 0 {
		return ErrInvalidInput
	}
	for _, id := range ids {
		if id == uuid.Nil {
			return ErrInvalidInput
		}
	}
	return nil
}
