package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

func (t *tx) GetIdentity(ctx context.Context, id string) (types.Identity, error) {
	row := t.q.QueryRowContext(ctx, `
SELECT identity_id, display_name, vector, vector_len, enrolled_at_ms
FROM identities
WHERE identity_id = ?;
`, id)

	ident, err := scanIdentity(row)
	if err == sql.ErrNoRows {
		return types.Identity{}, store.ErrNotFound
	}
	if err != nil {
		return types.Identity{}, fmt.Errorf("GetIdentity: %w", err)
	}
	return ident, nil
}

// ListIdentities returns identities in enrollment order.  A row whose vector
// blob is corrupt is still returned, with a nil vector, so one bad row cannot
// hide the rest; the matcher skips vectors of the wrong length.
func (t *tx) ListIdentities(ctx context.Context) ([]types.Identity, error) {
	rows, err := t.q.QueryContext(ctx, `
SELECT identity_id, display_name, vector, vector_len, enrolled_at_ms
FROM identities
ORDER BY seq;
`)
	if err != nil {
		return nil, fmt.Errorf("ListIdentities query: %w", err)
	}
	defer rows.Close()

	var out []types.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("ListIdentities scan: %w", err)
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListIdentities rows: %w", err)
	}
	return out, nil
}

func (t *tx) InsertIdentity(ctx context.Context, ident types.Identity) error {
	if err := t.writable(); err != nil {
		return err
	}
	exists, err := t.identityExists(ctx, ident.ID)
	if err != nil {
		return fmt.Errorf("InsertIdentity lookup: %w", err)
	}
	if exists {
		return store.ErrIdentityExists
	}
	if ident.EnrolledAt.IsZero() {
		ident.EnrolledAt = time.Now().UTC()
	}

	if _, err := t.q.ExecContext(ctx, `
INSERT INTO identities(identity_id, display_name, vector, vector_len, enrolled_at_ms)
VALUES (?, ?, ?, ?, ?);
`, ident.ID, ident.DisplayName, encodeVector(ident.Vector), len(ident.Vector),
		ident.EnrolledAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("InsertIdentity insert: %w", err)
	}
	return nil
}

func (t *tx) DeleteIdentity(ctx context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM identities WHERE identity_id = ?;`, id)
	if err != nil {
		return fmt.Errorf("DeleteIdentity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(r rowScanner) (types.Identity, error) {
	var (
		ident      types.Identity
		blob       []byte
		vectorLen  int
		enrolledMs int64
	)
	if err := r.Scan(&ident.ID, &ident.DisplayName, &blob, &vectorLen, &enrolledMs); err != nil {
		return types.Identity{}, err
	}
	if v, err := decodeVector(blob, vectorLen); err == nil {
		ident.Vector = v
	}
	ident.EnrolledAt = time.UnixMilli(enrolledMs).UTC()
	return ident, nil
}
