package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

func (t *tx) AppendAudit(ctx context.Context, e types.AuditEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var identityID any
	if e.IdentityID != "" {
		identityID = e.IdentityID
	}

	if _, err := t.q.ExecContext(ctx, `
INSERT INTO audit_log(entry_id, ts_ms, identity_id, kind, detail)
VALUES (?, ?, ?, ?, ?);
`, e.ID, e.Timestamp.UTC().UnixMilli(), identityID, string(e.Kind), e.Detail); err != nil {
		return fmt.Errorf("AppendAudit insert: %w", err)
	}
	return nil
}

func (t *tx) RecentAudit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := t.q.QueryContext(ctx, `
SELECT entry_id, ts_ms, identity_id, kind, detail
FROM audit_log
ORDER BY seq DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("RecentAudit query: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var (
			e          types.AuditEntry
			tsMs       int64
			identityID sql.NullString
			kind       string
		)
		if err := rows.Scan(&e.ID, &tsMs, &identityID, &kind, &e.Detail); err != nil {
			return nil, fmt.Errorf("RecentAudit scan: %w", err)
		}
		e.Timestamp = time.UnixMilli(tsMs).UTC()
		e.IdentityID = identityID.String
		e.Kind = types.AuditKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
