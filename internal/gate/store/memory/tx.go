package memory

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

type tx struct {
	st       *state
	readOnly bool
}

func (t *tx) writable() error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	return nil
}

func (t *tx) indexOf(id string) int {
	for i, ident := range t.st.identities {
		if ident.ID == id {
			return i
		}
	}
	return -1
}

// ── Identities ───────────────────────────────────────────────────────────────

func (t *tx) GetIdentity(_ context.Context, id string) (types.Identity, error) {
	i := t.indexOf(id)
	if i < 0 {
		return types.Identity{}, store.ErrNotFound
	}
	ident := t.st.identities[i]
	ident.Vector = ident.Vector.Clone()
	return ident, nil
}

func (t *tx) ListIdentities(_ context.Context) ([]types.Identity, error) {
	out := make([]types.Identity, len(t.st.identities))
	for i, ident := range t.st.identities {
		ident.Vector = ident.Vector.Clone()
		out[i] = ident
	}
	return out, nil
}

func (t *tx) InsertIdentity(_ context.Context, ident types.Identity) error {
	if err := t.writable(); err != nil {
		return err
	}
	if t.indexOf(ident.ID) >= 0 {
		return store.ErrIdentityExists
	}
	ident.Vector = ident.Vector.Clone()
	t.st.identities = append(t.st.identities, ident)
	return nil
}

func (t *tx) DeleteIdentity(_ context.Context, id string) error {
	if err := t.writable(); err != nil {
		return err
	}
	i := t.indexOf(id)
	if i < 0 {
		return store.ErrNotFound
	}
	t.st.identities = append(t.st.identities[:i], t.st.identities[i+1:]...)
	return nil
}

// ── Credentials ──────────────────────────────────────────────────────────────

func (t *tx) BindingFor(_ context.Context, identityID string) (types.CredentialBinding, error) {
	b, ok := t.st.bindings[identityID]
	if !ok {
		return types.CredentialBinding{}, store.ErrNotFound
	}
	return b, nil
}

func (t *tx) OwnerOf(_ context.Context, cardUID string) (string, error) {
	owner, ok := t.st.owners[cardUID]
	if !ok {
		return "", store.ErrNotFound
	}
	return owner, nil
}

func (t *tx) Bind(_ context.Context, b types.CredentialBinding) error {
	if err := t.writable(); err != nil {
		return err
	}
	if t.indexOf(b.IdentityID) < 0 {
		return store.ErrUnknownIdentity
	}
	if owner, ok := t.st.owners[b.CardUID]; ok && owner != b.IdentityID {
		return store.ErrCardOwned
	}
	if _, ok := t.st.bindings[b.IdentityID]; ok {
		return store.ErrAlreadyBound
	}
	t.st.bindings[b.IdentityID] = b
	t.st.owners[b.CardUID] = b.IdentityID
	return nil
}

func (t *tx) Unbind(_ context.Context, identityID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	b, ok := t.st.bindings[identityID]
	if !ok {
		return false, nil
	}
	delete(t.st.bindings, identityID)
	delete(t.st.owners, b.CardUID)
	return true, nil
}

func (t *tx) ListBindings(_ context.Context) ([]types.CredentialBinding, error) {
	out := make([]types.CredentialBinding, 0, len(t.st.bindings))
	for _, b := range t.st.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	return out, nil
}

// ── Presence ─────────────────────────────────────────────────────────────────

func (t *tx) Presence(_ context.Context, identityID string) (types.PresenceRecord, error) {
	p, ok := t.st.presence[identityID]
	if !ok {
		return types.PresenceRecord{}, store.ErrNotFound
	}
	return p, nil
}

func (t *tx) PutPresence(_ context.Context, rec types.PresenceRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	if t.indexOf(rec.IdentityID) < 0 {
		return store.ErrUnknownIdentity
	}
	t.st.presence[rec.IdentityID] = rec
	return nil
}

func (t *tx) DeletePresence(_ context.Context, identityID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := t.st.presence[identityID]; !ok {
		return false, nil
	}
	delete(t.st.presence, identityID)
	return true, nil
}

func (t *tx) ListPresence(_ context.Context) ([]types.PresenceRecord, error) {
	out := make([]types.PresenceRecord, 0, len(t.st.presence))
	for _, p := range t.st.presence {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	return out, nil
}

// ── Photos ───────────────────────────────────────────────────────────────────

func (t *tx) Photo(_ context.Context, identityID string) (types.Photo, error) {
	p, ok := t.st.photos[identityID]
	if !ok {
		return types.Photo{}, store.ErrNotFound
	}
	p.Data = append([]byte(nil), p.Data...)
	return p, nil
}

func (t *tx) PutPhoto(_ context.Context, p types.Photo) error {
	if err := t.writable(); err != nil {
		return err
	}
	if t.indexOf(p.IdentityID) < 0 {
		return store.ErrUnknownIdentity
	}
	p.Data = append([]byte(nil), p.Data...)
	t.st.photos[p.IdentityID] = p
	return nil
}

func (t *tx) DeletePhoto(_ context.Context, identityID string) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	if _, ok := t.st.photos[identityID]; !ok {
		return false, nil
	}
	delete(t.st.photos, identityID)
	return true, nil
}

func (t *tx) PhotoIDs(_ context.Context) ([]string, error) {
	out := make([]string, 0, len(t.st.photos))
	for id := range t.st.photos {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ── Audit ────────────────────────────────────────────────────────────────────

func (t *tx) AppendAudit(_ context.Context, e types.AuditEntry) error {
	if err := t.writable(); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	t.st.audit = append(t.st.audit, e)
	return nil
}

func (t *tx) RecentAudit(_ context.Context, limit int) ([]types.AuditEntry, error) {
	n := len(t.st.audit)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]types.AuditEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.st.audit[i])
	}
	return out, nil
}
