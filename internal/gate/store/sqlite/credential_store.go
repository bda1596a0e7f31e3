package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

func (t *tx) BindingFor(ctx context.Context, identityID string) (types.CredentialBinding, error) {
	var (
		b       types.CredentialBinding
		boundMs int64
	)
	err := t.q.QueryRowContext(ctx, `
SELECT identity_id, card_uid, bound_at_ms
FROM credential_bindings
WHERE identity_id = ?;
`, identityID).Scan(&b.IdentityID, &b.CardUID, &boundMs)
	if err == sql.ErrNoRows {
		return types.CredentialBinding{}, store.ErrNotFound
	}
	if err != nil {
		return types.CredentialBinding{}, fmt.Errorf("BindingFor: %w", err)
	}
	b.BoundAt = time.UnixMilli(boundMs).UTC()
	return b, nil
}

func (t *tx) OwnerOf(ctx context.Context, cardUID string) (string, error) {
	var owner string
	err := t.q.QueryRowContext(ctx, `
SELECT identity_id FROM credential_bindings WHERE card_uid = ?;
`, cardUID).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("OwnerOf: %w", err)
	}
	return owner, nil
}

// Bind checks both uniqueness invariants before inserting so a conflict is
// reported as a sentinel error instead of a constraint violation.
func (t *tx) Bind(ctx context.Context, b types.CredentialBinding) error {
	if err := t.writable(); err != nil {
		return err
	}

	exists, err := t.identityExists(ctx, b.IdentityID)
	if err != nil {
		return fmt.Errorf("Bind identity lookup: %w", err)
	}
	if !exists {
		return store.ErrUnknownIdentity
	}

	owner, err := t.OwnerOf(ctx, b.CardUID)
	switch {
	case err == nil && owner != b.IdentityID:
		return store.ErrCardOwned
	case err != nil && err != store.ErrNotFound:
		return err
	}

	if _, err := t.BindingFor(ctx, b.IdentityID); err == nil {
		return store.ErrAlreadyBound
	} else if err != store.ErrNotFound {
		return err
	}

	if b.BoundAt.IsZero() {
		b.BoundAt = time.Now().UTC()
	}
	if _, err := t.q.ExecContext(ctx, `
INSERT INTO credential_bindings(identity_id, card_uid, bound_at_ms)
VALUES (?, ?, ?);
`, b.IdentityID, b.CardUID, b.BoundAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("Bind insert: %w", err)
	}
	return nil
}

func (t *tx) Unbind(ctx context.Context, identityID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM credential_bindings WHERE identity_id = ?;`, identityID)
	if err != nil {
		return false, fmt.Errorf("Unbind: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *tx) ListBindings(ctx context.Context) ([]types.CredentialBinding, error) {
	rows, err := t.q.QueryContext(ctx, `
SELECT identity_id, card_uid, bound_at_ms
FROM credential_bindings
ORDER BY identity_id;
`)
	if err != nil {
		return nil, fmt.Errorf("ListBindings query: %w", err)
	}
	defer rows.Close()

	var out []types.CredentialBinding
	for rows.Next() {
		var (
			b       types.CredentialBinding
			boundMs int64
		)
		if err := rows.Scan(&b.IdentityID, &b.CardUID, &boundMs); err != nil {
			return nil, fmt.Errorf("ListBindings scan: %w", err)
		}
		b.BoundAt = time.UnixMilli(boundMs).UTC()
		out = append(out, b)
	}
	return out, rows.Err()
}
