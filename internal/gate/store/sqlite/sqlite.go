package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	dbpkg "github.com/BrandonDHaskell/Portunus/gate/internal/db"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
)

// Store keeps identities, card bindings, presence and the audit log in one
// SQLite database.  Updates go through the single-writer Worker, so every
// workflow's writes land in exactly one transaction.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

func (s *Store) View(ctx context.Context, fn store.TxFn) error {
	// Reads run in a plain transaction that is always rolled back; writes
	// are refused by the tx wrapper.
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("View begin: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	return fn(ctx, &tx{q: sqlTx, readOnly: true})
}

func (s *Store) Update(ctx context.Context, fn store.TxFn) error {
	return s.writer.Do(ctx, func(ctx context.Context, sqlTx *sql.Tx) error {
		return fn(ctx, &tx{q: sqlTx})
	})
}

type tx struct {
	q        *sql.Tx
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *tx) identityExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := t.q.QueryRowContext(ctx, `SELECT 1 FROM identities WHERE identity_id = ?;`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
