package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

func (t *tx) Presence(ctx context.Context, identityID string) (types.PresenceRecord, error) {
	var (
		p        types.PresenceRecord
		state    string
		accessMs int64
	)
	err := t.q.QueryRowContext(ctx, `
SELECT identity_id, state, last_access_ms FROM presence WHERE identity_id = ?;
`, identityID).Scan(&p.IdentityID, &state, &accessMs)
	if err == sql.ErrNoRows {
		return types.PresenceRecord{}, store.ErrNotFound
	}
	if err != nil {
		return types.PresenceRecord{}, fmt.Errorf("Presence: %w", err)
	}
	p.State = types.PresenceState(state)
	p.LastAccess = time.UnixMilli(accessMs).UTC()
	return p, nil
}

func (t *tx) PutPresence(ctx context.Context, rec types.PresenceRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	exists, err := t.identityExists(ctx, rec.IdentityID)
	if err != nil {
		return fmt.Errorf("PutPresence identity lookup: %w", err)
	}
	if !exists {
		return store.ErrUnknownIdentity
	}

	if _, err := t.q.ExecContext(ctx, `
INSERT INTO presence(identity_id, state, last_access_ms)
VALUES (?, ?, ?)
ON CONFLICT(identity_id) DO UPDATE SET
  state = excluded.state,
  last_access_ms = excluded.last_access_ms;
`, rec.IdentityID, string(rec.State), rec.LastAccess.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("PutPresence upsert: %w", err)
	}
	return nil
}

func (t *tx) DeletePresence(ctx context.Context, identityID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM presence WHERE identity_id = ?;`, identityID)
	if err != nil {
		return false, fmt.Errorf("DeletePresence: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *tx) ListPresence(ctx context.Context) ([]types.PresenceRecord, error) {
	rows, err := t.q.QueryContext(ctx, `
SELECT identity_id, state, last_access_ms FROM presence ORDER BY identity_id;
`)
	if err != nil {
		return nil, fmt.Errorf("ListPresence query: %w", err)
	}
	defer rows.Close()

	var out []types.PresenceRecord
	for rows.Next() {
		var (
			p        types.PresenceRecord
			state    string
			accessMs int64
		)
		if err := rows.Scan(&p.IdentityID, &state, &accessMs); err != nil {
			return nil, fmt.Errorf("ListPresence scan: %w", err)
		}
		p.State = types.PresenceState(state)
		p.LastAccess = time.UnixMilli(accessMs).UTC()
		out = append(out, p)
	}
	return out, rows.Err()
}
