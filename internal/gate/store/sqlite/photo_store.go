package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

func (t *tx) Photo(ctx context.Context, identityID string) (types.Photo, error) {
	var (
		p          types.Photo
		capturedMs int64
	)
	err := t.q.QueryRowContext(ctx, `
SELECT identity_id, content_type, data, captured_at_ms FROM identity_photos WHERE identity_id = ?;
`, identityID).Scan(&p.IdentityID, &p.ContentType, &p.Data, &capturedMs)
	if err == sql.ErrNoRows {
		return types.Photo{}, store.ErrNotFound
	}
	if err != nil {
		return types.Photo{}, fmt.Errorf("Photo: %w", err)
	}
	p.CapturedAt = time.UnixMilli(capturedMs).UTC()
	return p, nil
}

func (t *tx) PutPhoto(ctx context.Context, p types.Photo) error {
	if err := t.writable(); err != nil {
		return err
	}
	exists, err := t.identityExists(ctx, p.IdentityID)
	if err != nil {
		return fmt.Errorf("PutPhoto identity lookup: %w", err)
	}
	if !exists {
		return store.ErrUnknownIdentity
	}

	if _, err := t.q.ExecContext(ctx, `
INSERT INTO identity_photos(identity_id, content_type, data, captured_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(identity_id) DO UPDATE SET
  content_type = excluded.content_type,
  data = excluded.data,
  captured_at_ms = excluded.captured_at_ms;
`, p.IdentityID, p.ContentType, p.Data, p.CapturedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("PutPhoto upsert: %w", err)
	}
	return nil
}

func (t *tx) DeletePhoto(ctx context.Context, identityID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM identity_photos WHERE identity_id = ?;`, identityID)
	if err != nil {
		return false, fmt.Errorf("DeletePhoto: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (t *tx) PhotoIDs(ctx context.Context) ([]string, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT identity_id FROM identity_photos ORDER BY identity_id;`)
	if err != nil {
		return nil, fmt.Errorf("PhotoIDs query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("PhotoIDs scan: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
