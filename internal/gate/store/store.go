package store

import (
	"context"
	"errors"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrIdentityExists  = errors.New("identity already exists")
	ErrUnknownIdentity = errors.New("identity does not exist")
	ErrCardOwned       = errors.New("card uid is bound to another identity")
	ErrAlreadyBound    = errors.New("identity already has a bound card")
	ErrReadOnly        = errors.New("write attempted in a read-only transaction")
)

// IdentityStore holds enrolled identities and their face encodings.
// ListIdentities returns identities in enrollment order; matching relies
// on that order being stable.
type IdentityStore interface {
	GetIdentity(ctx context.Context, id string) (types.Identity, error)
	ListIdentities(ctx context.Context) ([]types.Identity, error)
	InsertIdentity(ctx context.Context, ident types.Identity) error
	DeleteIdentity(ctx context.Context, id string) error
}

// CredentialStore enforces one card per identity and one identity per card.
type CredentialStore interface {
	BindingFor(ctx context.Context, identityID string) (types.CredentialBinding, error)
	OwnerOf(ctx context.Context, cardUID string) (string, error)
	Bind(ctx context.Context, b types.CredentialBinding) error
	Unbind(ctx context.Context, identityID string) (bool, error)
	ListBindings(ctx context.Context) ([]types.CredentialBinding, error)
}

// PresenceStore is the inside/outside ledger keyed by identity.
type PresenceStore interface {
	Presence(ctx context.Context, identityID string) (types.PresenceRecord, error)
	PutPresence(ctx context.Context, rec types.PresenceRecord) error
	DeletePresence(ctx context.Context, identityID string) (bool, error)
	ListPresence(ctx context.Context) ([]types.PresenceRecord, error)
}

// PhotoStore keeps the enrollment frame of each identity.  A photo cannot
// outlive its identity.
type PhotoStore interface {
	Photo(ctx context.Context, identityID string) (types.Photo, error)
	PutPhoto(ctx context.Context, p types.Photo) error
	DeletePhoto(ctx context.Context, identityID string) (bool, error)
	// PhotoIDs lists the identities that have a photo without loading it.
	PhotoIDs(ctx context.Context) ([]string, error)
}

// AuditLog is append-only.  RecentAudit returns newest first.
type AuditLog interface {
	AppendAudit(ctx context.Context, e types.AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]types.AuditEntry, error)
}

// Tx exposes every collection inside one transaction.
type Tx interface {
	IdentityStore
	CredentialStore
	PresenceStore
	PhotoStore
	AuditLog
}

type TxFn func(ctx context.Context, tx Tx) error

// Store runs functions against all collections at once.  Update commits
// every write made by fn or none of them; View sees a consistent snapshot
// and rejects writes with ErrReadOnly.
type Store interface {
	View(ctx context.Context, fn TxFn) error
	Update(ctx context.Context, fn TxFn) error
}
