package anchor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "colocation").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("anchor: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("anchor: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "colocation",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("anchor: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// ApplySchema creates the store tables if they do not exist.
func (s *PostgresStore) ApplySchema(ctx context.Context) error {
	anchors := pgIdent(s.schema, "anchors")
	members := pgIdent(s.schema, "group_anchors")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{s.schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS ` + anchors + ` (
		   id       uuid PRIMARY KEY,
		   px       double precision NOT NULL,
		   py       double precision NOT NULL,
		   pz       double precision NOT NULL,
		   qx       double precision NOT NULL,
		   qy       double precision NOT NULL,
		   qz       double precision NOT NULL,
		   qw       double precision NOT NULL,
		   saved_at timestamptz NOT NULL
		 )`,
		`CREATE TABLE IF NOT EXISTS ` + members + ` (
		   group_id  uuid NOT NULL,
		   anchor_id uuid NOT NULL REFERENCES ` + anchors + ` (id) ON DELETE CASCADE,
		   share_seq bigint GENERATED ALWAYS AS IDENTITY,
		   shared_at timestamptz NOT NULL DEFAULT now(),
		   PRIMARY KEY (group_id, anchor_id)
		 )`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// SaveAnchor upserts an anchor.
func (s *PostgresStore) SaveAnchor(ctx context.Context, a StoredAnchor) error {
	if s == nil || s.pool == nil {
		return errors.New("anchor: nil store")
	}
	if err := validateStored(a); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	savedAt := a.SavedAt
	if savedAt.IsZero() {
		savedAt = time.Now().UTC()
	}
	p, q := a.Pose.Position, a.Pose.Orientation

	anchors := pgIdent(s.schema, "anchors")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+anchors+` (id, px, py, pz, qx, qy, qz, qw, saved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE
		    SET px = EXCLUDED.px, py = EXCLUDED.py, pz = EXCLUDED.pz,
		        qx = EXCLUDED.qx, qy = EXCLUDED.qy, qz = EXCLUDED.qz, qw = EXCLUDED.qw,
		        saved_at = EXCLUDED.saved_at`,
		a.ID.String(), p.X, p.Y, p.Z, q.X, q.Y, q.Z, q.W, savedAt,
	)
	if err != nil {
		return fmt.Errorf("save anchor: %w", err)
	}
	return nil
}

// ShareAnchors associates saved anchors with group in one transaction.
func (s *PostgresStore) ShareAnchors(ctx context.Context, group GroupID, ids []uuid.UUID) error {
	if s == nil || s.pool == nil {
		return errors.New("anchor: nil store")
	}
	if err := validateShare(group, ids); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	anchors := pgIdent(s.schema, "anchors")
	members := pgIdent(s.schema, "group_anchors")

	for _, id := range ids {
		var one int
		err := tx.QueryRow(ctx, `SELECT 1 FROM `+anchors+` WHERE id = $1`, id.String()).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO `+members+` (group_id, anchor_id) VALUES ($1, $2)
			 ON CONFLICT (group_id, anchor_id) DO NOTHING`,
			group.String(), id.String(),
		); err != nil {
			return fmt.Errorf("share anchor: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// LoadGroup returns anchors shared into group, ordered by first share.
func (s *PostgresStore) LoadGroup(ctx context.Context, group GroupID) ([]StoredAnchor, error) {
	if s == nil || s.pool == nil {
		return nil, errors.New("anchor: nil store")
	}
	if group.IsEmpty() {
		return nil, ErrInvalidGroupID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	anchors := pgIdent(s.schema, "anchors")
	members := pgIdent(s.schema, "group_anchors")

	rows, err := s.pool.Query(ctx,
		`SELECT a.id::text, a.px, a.py, a.pz, a.qx, a.qy, a.qz, a.qw, a.saved_at
		   FROM `+members+` m
		   JOIN `+anchors+` a ON a.id = m.anchor_id
		  WHERE m.group_id = $1
		  ORDER BY m.share_seq ASC`,
		group.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StoredAnchor, 0, 4)
	for rows.Next() {
		var (
			idText string
			a      StoredAnchor
			p      = &a.Pose.Position
			q      = &a.Pose.Orientation
		)
		if err := rows.Scan(&idText, &p.X, &p.Y, &p.Z, &q.X, &q.Y, &q.Z, &q.W, &a.SavedAt); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(idText)
		if err != nil {
			return nil, fmt.Errorf("load group: bad anchor id %q: %w", idText, err)
		}
		a.ID = id
		a.SavedAt = a.SavedAt.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// EraseAnchor deletes an anchor; group memberships cascade.
func (s *PostgresStore) EraseAnchor(ctx context.Context, id uuid.UUID) error {
	if s == nil || s.pool == nil {
		return errors.New("anchor: nil store")
	}
	if id == uuid.Nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	anchors := pgIdent(s.schema, "anchors")
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+anchors+` WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("erase anchor: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
