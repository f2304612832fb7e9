package anchor

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS anchors (
  id       TEXT PRIMARY KEY,
  px       REAL NOT NULL,
  py       REAL NOT NULL,
  pz       REAL NOT NULL,
  qx       REAL NOT NULL,
  qy       REAL NOT NULL,
  qz       REAL NOT NULL,
  qw       REAL NOT NULL,
  saved_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS group_anchors (
  share_seq INTEGER PRIMARY KEY AUTOINCREMENT,
  group_id  TEXT NOT NULL,
  anchor_id TEXT NOT NULL REFERENCES anchors (id) ON DELETE CASCADE,
  shared_at INTEGER NOT NULL,
  UNIQUE (group_id, anchor_id)
);
CREATE INDEX IF NOT EXISTS group_anchors_group_idx ON group_anchors (group_id, share_seq);
`

// SQLiteStore persists anchors in a local SQLite file.
// It owns its database handle.
type SQLiteStore struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (or creates) a SQLite anchor store and applies the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

// SaveAnchor upserts an anchor.
func (s *SQLiteStore) SaveAnchor(ctx context.Context, a StoredAnchor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateStored(a); err != nil {
		return err
	}
	savedAt := a.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	p, q := a.Pose.Position, a.Pose.Orientation

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO anchors (id, px, py, pz, qx, qy, qz, qw, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE
		    SET px = excluded.px, py = excluded.py, pz = excluded.pz,
		        qx = excluded.qx, qy = excluded.qy, qz = excluded.qz, qw = excluded.qw,
		        saved_at = excluded.saved_at`,
		a.ID.String(), p.X, p.Y, p.Z, q.X, q.Y, q.Z, q.W, toMillis(savedAt),
	)
	if err != nil {
		return fmt.Errorf("save anchor: %w", err)
	}
	return nil
}

// ShareAnchors associates saved anchors with group in one transaction.
func (s *SQLiteStore) ShareAnchors(ctx context.Context, group GroupID, ids []uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := validateShare(group, ids); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := toMillis(time.Now())
	for _, id := range ids {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM anchors WHERE id = ?`, id.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO group_anchors (group_id, anchor_id, shared_at) VALUES (?, ?, ?)
			 ON CONFLICT (group_id, anchor_id) DO NOTHING`,
			group.String(), id.String(), now,
		); err != nil {
			return fmt.Errorf("share anchor: %w", err)
		}
	}
	return tx.Commit()
}

// LoadGroup returns anchors shared into group, ordered by first share.
func (s *SQLiteStore) LoadGroup(ctx context.Context, group GroupID) ([]StoredAnchor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if group.IsEmpty() {
		return nil, ErrInvalidGroupID
	}

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT a.id, a.px, a.py, a.pz, a.qx, a.qy, a.qz, a.qw, a.saved_at
		   FROM group_anchors m
		   JOIN anchors a ON a.id = m.anchor_id
		  WHERE m.group_id = ?
		  ORDER BY m.share_seq ASC`,
		group.String(),
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]StoredAnchor, 0, 4)
	for rows.Next() {
		var (
			idText  string
			savedAt int64
			a       StoredAnchor
		)
		p, q := &a.Pose.Position, &a.Pose.Orientation
		if err := rows.Scan(&idText, &p.X, &p.Y, &p.Z, &q.X, &q.Y, &q.Z, &q.W, &savedAt); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idText)
		if err != nil {
			return nil, fmt.Errorf("load group: bad anchor id %q: %w", idText, err)
		}
		a.ID = id
		a.SavedAt = fromMillis(savedAt)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EraseAnchor deletes an anchor; group memberships cascade.
func (s *SQLiteStore) EraseAnchor(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if id == uuid.Nil {
		return ErrInvalidInput
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM anchors WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("erase anchor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
