package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

func TestRemove_ClearsAllStoresAndFaceIsNoLongerRecognized(t *testing.T) {
	h := newHarness(t)
	v := vec(0.2)
	require.Equal(t, types.EnrollCreated, h.enroll(t, "alice", v, "AA:BB:11").Status)
	require.Equal(t, types.UnlockGranted, h.unlock(t, v, "AA:BB:11", &fakeOperator{}).Status)
	h.enroll(t, "bob", vec(0.9), "")

	res := h.engine.Remove(context.Background(), "alice")
	require.Equal(t, types.RemoveRemoved, res.Status)
	require.True(t, res.BindingRemoved)
	require.True(t, res.PresenceRemoved)
	require.True(t, res.PhotoRemoved)
	require.Equal(t, []string{"bob"}, h.photoIDs(t))
	_, err := h.engine.Photo(context.Background(), "alice")
	require.ErrorIs(t, err, store.ErrNotFound)

	list, err := h.engine.ListIdentities(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "bob", list[0].ID)

	_, ok := h.binding(t, "alice")
	require.False(t, ok)
	_, ok = h.presence(t, "alice")
	require.False(t, ok)

	// The freed card can be bound again.
	require.Equal(t, types.EnrollCreated, h.enroll(t, "carl", vec(-0.5), "AA:BB:11").Status)

	got := h.unlock(t, v, "", &fakeOperator{})
	require.Equal(t, types.UnlockDenied, got.Status)
	require.Equal(t, types.ReasonNotRecognized, got.Reason)
}

func TestRemove_WithoutBindingOrPresence(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "dora", vec(0.2), "")

	res := h.engine.Remove(context.Background(), "dora")
	require.Equal(t, types.RemoveRemoved, res.Status)
	require.False(t, res.BindingRemoved)
	require.False(t, res.PresenceRemoved)
	require.Zero(t, h.identityCount(t))
}

func TestRemove_NotFound(t *testing.T) {
	h := newHarness(t)

	res := h.engine.Remove(context.Background(), "ghost")
	require.Equal(t, types.RemoveNotFound, res.Status)
	require.Equal(t, types.ReasonNotFound, res.Reason)
}

func TestRemove_AmbiguousDisplayName(t *testing.T) {
	h := newHarness(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, h.store.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, id := range []string{"emp-1", "emp-2"} {
			if err := tx.InsertIdentity(ctx, types.Identity{ID: id, DisplayName: "Eve", Vector: vec(0), EnrolledAt: at}); err != nil {
				return err
			}
		}
		return nil
	}))

	res := h.engine.Remove(context.Background(), "Eve")
	require.Equal(t, types.RemoveNotFound, res.Status)
	require.Equal(t, types.ReasonAmbiguous, res.Reason)
	require.Equal(t, 2, h.identityCount(t))

	res = h.engine.Remove(context.Background(), "emp-2")
	require.Equal(t, types.RemoveRemoved, res.Status)

	// With one "Eve" left, the display name resolves.
	res = h.engine.Remove(context.Background(), "Eve")
	require.Equal(t, types.RemoveRemoved, res.Status)
	require.Equal(t, "emp-1", res.IdentityID)
}

func TestRemove_PartialMatchDoesNotResolve(t *testing.T) {
	h := newHarness(t)
	h.enroll(t, "Frank", vec(0.2), "")

	res := h.engine.Remove(context.Background(), "fran")
	require.Equal(t, types.RemoveNotFound, res.Status)
	require.Equal(t, 1, h.identityCount(t))
}
