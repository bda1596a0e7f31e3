package types

import "time"

type AuditKind string

const (
	KindEntry        AuditKind = "entry"
	KindExit         AuditKind = "exit"
	KindCardBound    AuditKind = "card_bound"
	KindCardMismatch AuditKind = "card_mismatch"
	KindCardConflict AuditKind = "card_conflict"
	KindDenied       AuditKind = "denied"
	KindEnrolled     AuditKind = "enrolled"
	KindEnrollDenied AuditKind = "enroll_rejected"
	KindRemoved      AuditKind = "removed"
	KindReconciled   AuditKind = "reconciled"
)

// AuditEntry is one row of the append-only audit log.  IdentityID is empty
// when the event could not be attributed (for example an unrecognized face).
type AuditEntry struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	IdentityID string    `json:"identity_id,omitempty"`
	Kind       AuditKind `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
}
