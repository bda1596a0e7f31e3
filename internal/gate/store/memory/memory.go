package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// Store is an in-memory implementation of store.Store.  Update runs fn
// against a private copy of the state and swaps it in only if fn succeeds,
// so a failed workflow never leaves partial writes behind.
//
// It is intended for use in tests and ephemeral runs.
type Store struct {
	mu    sync.RWMutex
	state *state
}

type state struct {
	identities []types.Identity
	bindings   map[string]types.CredentialBinding
	owners     map[string]string
	presence   map[string]types.PresenceRecord
	photos     map[string]types.Photo
	audit      []types.AuditEntry
}

func New() *Store {
	return &Store{state: newState()}
}

func newState() *state {
	return &state{
		bindings: make(map[string]types.CredentialBinding),
		owners:   make(map[string]string),
		presence: make(map[string]types.PresenceRecord),
		photos:   make(map[string]types.Photo),
	}
}

func (s *state) clone() *state {
	out := newState()
	out.identities = make([]types.Identity, len(s.identities))
	for i, ident := range s.identities {
		ident.Vector = ident.Vector.Clone()
		out.identities[i] = ident
	}
	for k, v := range s.bindings {
		out.bindings[k] = v
	}
	for k, v := range s.owners {
		out.owners[k] = v
	}
	for k, v := range s.presence {
		out.presence[k] = v
	}
	// Photo bytes are never mutated in place.
	for k, v := range s.photos {
		out.photos[k] = v
	}
	out.audit = append([]types.AuditEntry(nil), s.audit...)
	return out
}

func (s *Store) View(ctx context.Context, fn store.TxFn) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(ctx, &tx{st: s.state, readOnly: true})
}

func (s *Store) Update(ctx context.Context, fn store.TxFn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.state.clone()
	if err := fn(ctx, &tx{st: next}); err != nil {
		return err
	}
	s.state = next
	return nil
}

// SeedOrphans inserts bindings and presence rows without checking that their
// identity exists.
func (s *Store) SeedOrphans(bindings []types.CredentialBinding, presence []types.PresenceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bindings {
		s.state.bindings[b.IdentityID] = b
		s.state.owners[b.CardUID] = b.IdentityID
	}
	for _, p := range presence {
		s.state.presence[p.IdentityID] = p
	}
}
