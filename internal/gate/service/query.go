package service

import (
	"context"
	"errors"
	"strings"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 1000
)

// ListIdentities returns a snapshot of every identity in enrollment order.
// A non-empty filter keeps identities whose display name or key contains it,
// ignoring case.
func (e *Engine) ListIdentities(ctx context.Context, filter string) ([]types.IdentitySummary, error) {
	filter = strings.ToLower(strings.TrimSpace(filter))

	var out []types.IdentitySummary
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		identities, err := tx.ListIdentities(ctx)
		if err != nil {
			return err
		}
		bindings, presence, err := indexes(ctx, tx)
		if err != nil {
			return err
		}
		photoIDs, err := tx.PhotoIDs(ctx)
		if err != nil {
			return err
		}
		photos := make(map[string]bool, len(photoIDs))
		for _, id := range photoIDs {
			photos[id] = true
		}

		out = make([]types.IdentitySummary, 0, len(identities))
		for _, ident := range identities {
			if filter != "" &&
				!strings.Contains(strings.ToLower(ident.DisplayName), filter) &&
				!strings.Contains(strings.ToLower(ident.ID), filter) {
				continue
			}
			s := summarize(ident, bindings, presence)
			s.HasPhoto = photos[ident.ID]
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// Identity returns one identity's summary.  ref follows the same resolution
// rules as Remove.
func (e *Engine) Identity(ctx context.Context, ref string) (types.IdentitySummary, error) {
	var out types.IdentitySummary
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		id, err := e.directory.Resolve(ctx, tx, ref)
		if err != nil {
			return err
		}
		ident, err := tx.GetIdentity(ctx, id)
		if err != nil {
			return err
		}

		bindings := map[string]types.CredentialBinding{}
		if b, err := tx.BindingFor(ctx, id); err == nil {
			bindings[id] = b
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		presence := map[string]types.PresenceRecord{}
		if p, err := tx.Presence(ctx, id); err == nil {
			presence[id] = p
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		out = summarize(ident, bindings, presence)
		if _, err := tx.Photo(ctx, id); err == nil {
			out.HasPhoto = true
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return nil
	})
	return out, err
}

// Photo returns the frame an identity was enrolled from.  It fails with
// store.ErrNotFound when the identity has none.
func (e *Engine) Photo(ctx context.Context, ref string) (types.Photo, error) {
	var out types.Photo
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		id, err := e.directory.Resolve(ctx, tx, ref)
		if err != nil {
			return err
		}
		out, err = tx.Photo(ctx, id)
		return err
	})
	return out, err
}

// Audit returns up to limit entries, newest first.
func (e *Engine) Audit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	if limit <= 0 {
		limit = DefaultAuditLimit
	}
	if limit > MaxAuditLimit {
		limit = MaxAuditLimit
	}

	var out []types.AuditEntry
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = tx.RecentAudit(ctx, limit)
		return err
	})
	return out, err
}

// Status reports counts and settings for the access point.
func (e *Engine) Status(ctx context.Context) (types.Status, error) {
	tolerance, policy := e.matcher.Settings()
	st := types.Status{
		ReaderPresent:  e.poller.Present(),
		Workflow:       e.ActiveWorkflow(),
		MatchTolerance: tolerance,
		MatchPolicy:    string(policy),
		ServerTime:     e.serverTime(),
	}

	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		identities, err := tx.ListIdentities(ctx)
		if err != nil {
			return err
		}
		bindings, err := tx.ListBindings(ctx)
		if err != nil {
			return err
		}
		presence, err := tx.ListPresence(ctx)
		if err != nil {
			return err
		}

		st.Identities = len(identities)
		st.Bindings = len(bindings)
		for _, p := range presence {
			if p.State == types.PresenceInside {
				st.Inside++
			}
		}
		return nil
	})
	return st, err
}

func indexes(ctx context.Context, tx store.Tx) (map[string]types.CredentialBinding, map[string]types.PresenceRecord, error) {
	bl, err := tx.ListBindings(ctx)
	if err != nil {
		return nil, nil, err
	}
	pl, err := tx.ListPresence(ctx)
	if err != nil {
		return nil, nil, err
	}

	bindings := make(map[string]types.CredentialBinding, len(bl))
	for _, b := range bl {
		bindings[b.IdentityID] = b
	}
	presence := make(map[string]types.PresenceRecord, len(pl))
	for _, p := range pl {
		presence[p.IdentityID] = p
	}
	return bindings, presence, nil
}

func summarize(ident types.Identity, bindings map[string]types.CredentialBinding, presence map[string]types.PresenceRecord) types.IdentitySummary {
	s := types.IdentitySummary{
		ID:          ident.ID,
		DisplayName: ident.DisplayName,
		Presence:    types.PresenceOutside,
		EnrolledAt:  ident.EnrolledAt,
	}
	if b, ok := bindings[ident.ID]; ok {
		s.HasBinding = true
		s.CardUIDSuffix = maskUID(b.CardUID)
	}
	if p, ok := presence[ident.ID]; ok {
		s.Presence = p.State
		last := p.LastAccess
		s.LastAccess = &last
	}
	return s
}

// maskUID keeps the last four characters of a card UID.
func maskUID(uid string) string {
	r := []rune(uid)
	if len(r) <= 4 {
		return string(r)
	}
	return "…" + string(r[len(r)-4:])
}
