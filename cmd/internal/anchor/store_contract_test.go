package anchor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// runStoreContract exercises the Store requirements against any backend.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	group := NewGroupID()
	a := StoredAnchor{ID: uuid.New(), Pose: Pose{Position: Vec3{1, 2, 3}, Orientation: IdentityQuat()}}
	b := StoredAnchor{ID: uuid.New(), Pose: Pose{Position: Vec3{-1, 0, 4}, Orientation: AxisAngle(Vec3{0, 1, 0}, 0.5)}}

	if err := store.SaveAnchor(ctx, a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.SaveAnchor(ctx, b); err != nil {
		t.Fatalf("save b: %v", err)
	}
	// Upsert is idempotent.
	if err := store.SaveAnchor(ctx, a); err != nil {
		t.Fatalf("re-save a: %v", err)
	}

	empty, err := store.LoadGroup(ctx, group)
	if err != nil {
		t.Fatalf("load empty group: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty group, got %d anchors", len(empty))
	}

	if err := store.ShareAnchors(ctx, group, []uuid.UUID{b.ID}); err != nil {
		t.Fatalf("share b: %v", err)
	}
	if err := store.ShareAnchors(ctx, group, []uuid.UUID{a.ID, b.ID}); err != nil {
		t.Fatalf("share a,b: %v", err)
	}

	got, err := store.LoadGroup(ctx, group)
	if err != nil {
		t.Fatalf("load group: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 anchors, got %d", len(got))
	}
	if got[0].ID != b.ID || got[1].ID != a.ID {
		t.Fatalf("expected first-share order [b a], got [%s %s]", got[0].ID, got[1].ID)
	}
	if !got[1].Pose.ApproxEqual(a.Pose, 1e-9) {
		t.Fatalf("pose mismatch: got=%+v want=%+v", got[1].Pose, a.Pose)
	}
	if got[0].SavedAt.IsZero() {
		t.Fatalf("expected SavedAt to be set")
	}

	if err := store.ShareAnchors(ctx, group, []uuid.UUID{uuid.New()}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("share unsaved: err=%v want=ErrNotFound", err)
	}
	if err := store.ShareAnchors(ctx, GroupID{}, []uuid.UUID{a.ID}); !errors.Is(err, ErrInvalidGroupID) {
		t.Fatalf("share empty group: err=%v want=ErrInvalidGroupID", err)
	}

	if err := store.EraseAnchor(ctx, b.ID); err != nil {
		t.Fatalf("erase b: %v", err)
	}
	if err := store.EraseAnchor(ctx, b.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("erase twice: err=%v want=ErrNotFound", err)
	}

	got, err = store.LoadGroup(ctx, group)
	if err != nil {
		t.Fatalf("load after erase: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("expected only a after erase, got %+v", got)
	}
}

func TestInMemoryStore_Contract(t *testing.T) {
	t.Parallel()
	runStoreContract(t, NewInMemoryStore())
}

func TestSQLiteStore_Contract(t *testing.T) {
	t.Parallel()

	store, err := OpenSQLite(t.TempDir() + "/anchors.db")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	runStoreContract(t, store)
}

func TestOpenSQLite_RequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := OpenSQLite("  "); err == nil {
		t.Fatalf("expected error for blank path")
	}
}
