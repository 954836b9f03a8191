package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"media-queue/internal/repository"
)

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS snapshots (
	name TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// DefaultSnapshotName is the row used when no name is configured.
const DefaultSnapshotName = "task-store"

type SnapshotRepository struct {
	db   *sql.DB
	name string
}

func NewSnapshotRepository(db *sql.DB, name string) *SnapshotRepository {
	if name == "" {
		name = DefaultSnapshotName
	}
	return &SnapshotRepository{db: db, name: name}
}

func (r *SnapshotRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}
	return r.ensureSnapshotColumns(ctx)
}

func (r *SnapshotRepository) ensureSnapshotColumns(ctx context.Context) error {
	rows, err := r.db.QueryContext(ctx, `PRAGMA table_info(snapshots)`)
	if err != nil {
		return fmt.Errorf("describe snapshots table: %w", err)
	}
	defer rows.Close()

	columns := map[string]struct{}{}
	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notnull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return fmt.Errorf("scan pragma table info: %w", err)
		}
		columns[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate pragma table info: %w", err)
	}

	addColumn := func(name, statement string) error {
		if _, exists := columns[name]; exists {
			return nil
		}
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("add column %s: %w", name, err)
		}
		return nil
	}

	if err := addColumn("size_bytes", `ALTER TABLE snapshots ADD COLUMN size_bytes INTEGER NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	if err := addColumn("revision", `ALTER TABLE snapshots ADD COLUMN revision INTEGER NOT NULL DEFAULT 0`); err != nil {
		return err
	}
	return nil
}

func (r *SnapshotRepository) LoadSnapshot(ctx context.Context) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE name=?`, r.name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	return data, nil
}

func (r *SnapshotRepository) SaveSnapshot(ctx context.Context, data []byte) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO snapshots (name, data, updated_at, size_bytes, revision)
VALUES (?, ?, ?, ?, 1)
ON CONFLICT(name) DO UPDATE SET
	data=excluded.data,
	updated_at=excluded.updated_at,
	size_bytes=excluded.size_bytes,
	revision=snapshots.revision + 1`,
		r.name,
		data,
		time.Now().UTC(),
		len(data),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Revision reports how many times the snapshot has been written.
func (r *SnapshotRepository) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := r.db.QueryRowContext(ctx, `SELECT revision FROM snapshots WHERE name=?`, r.name).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query snapshot revision: %w", err)
	}
	return rev, nil
}

var _ repository.SnapshotRepository = (*SnapshotRepository)(nil)
