package banditstore

import (
	"context"
	"database/sql"
	"slices"

	"github.com/lib/pq"

	"github.com/alextanhongpin/mab/ab"
)

const (
	createTableStmt = `CREATE TABLE IF NOT EXISTS bandits (
	name text PRIMARY KEY,
	record jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
)`

	selectStmt = `SELECT name, record FROM bandits`

	upsertStmt = `INSERT INTO bandits (name, record) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET record = excluded.record, updated_at = now()`

	deleteStaleStmt = `DELETE FROM bandits WHERE NOT (name = ANY($1))`
)

var _ Store = (*SQLStore)(nil)

// SQLStore keeps one jsonb row per experiment in postgres.
type SQLStore struct {
	db   *sql.DB
	opts *options
}

func NewSQLStore(db *sql.DB, opts ...Option) *SQLStore {
	return &SQLStore{
		db:   db,
		opts: newOptions(opts...),
	}
}

// Migrate creates the bandits table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createTableStmt)
	return err
}

func (s *SQLStore) Load(ctx context.Context) (map[string]*ab.Bandit, error) {
	rows, err := s.db.QueryContext(ctx, selectStmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	raw := make(map[string][]byte)
	for rows.Next() {
		var (
			name string
			data []byte
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, err
		}
		raw[name] = data
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s.opts.decode(ctx, "sql", raw), nil
}

// Save upserts every bandit and deletes rows of experiments no longer present,
// all in one transaction.
func (s *SQLStore) Save(ctx context.Context, bandits map[string]*ab.Bandit) error {
	raw, err := encode(bandits)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	slices.Sort(names)

	return writeError(s.tx(ctx, func(tx *sql.Tx) error {
		for _, name := range names {
			if _, err := tx.ExecContext(ctx, upsertStmt, name, raw[name]); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, deleteStaleStmt, pq.Array(names))
		return err
	}))
}

func (s *SQLStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}
