package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// Remove deletes an identity together with its binding, presence row and
// photo in one transaction.  ref is an identity key or an exact display name.
func (e *Engine) Remove(ctx context.Context, ref string) types.RemoveResult {
	wf, release, err := e.begin(workflowRemove)
	if err != nil {
		return types.RemoveResult{Status: types.RemoveError, Reason: types.ReasonBusy, ServerTime: e.serverTime()}
	}
	defer release()

	res := e.remove(ctx, wf, ref)
	res.ServerTime = e.serverTime()
	e.finish(wf, string(res.Status), res.Reason, res.Status == types.RemoveRemoved,
		zap.String("ref", ref), zap.String("identity_id", res.IdentityID))
	return res
}

func (e *Engine) remove(ctx context.Context, wf *workflow, ref string) types.RemoveResult {
	var res types.RemoveResult
	at := e.now().UTC()

	err := e.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		id, err := e.directory.Resolve(ctx, tx, ref)
		if err != nil {
			return err
		}
		res.IdentityID = id

		// Dependent rows go first so none of them ever
		// outlives its identity, even inside the transaction.
		if res.BindingRemoved, err = tx.Unbind(ctx, id); err != nil {
			return err
		}
		if res.PresenceRemoved, err = tx.DeletePresence(ctx, id); err != nil {
			return err
		}
		if res.PhotoRemoved, err = tx.DeletePhoto(ctx, id); err != nil {
			return err
		}
		if err := tx.DeleteIdentity(ctx, id); err != nil {
			return err
		}
		detail := fmt.Sprintf("binding_removed=%t presence_removed=%t photo_removed=%t",
			res.BindingRemoved, res.PresenceRemoved, res.PhotoRemoved)
		return tx.AppendAudit(ctx, types.AuditEntry{
			Timestamp:  at,
			IdentityID: id,
			Kind:       types.KindRemoved,
			Detail:     detail,
		})
	})
	switch {
	case err == nil:
		res.Status = types.RemoveRemoved
	case errors.Is(err, store.ErrNotFound):
		res = types.RemoveResult{Status: types.RemoveNotFound, Reason: types.ReasonNotFound}
	case errors.Is(err, ErrAmbiguous):
		res = types.RemoveResult{Status: types.RemoveNotFound, Reason: types.ReasonAmbiguous}
	default:
		wf.log.Error("remove failed", zap.Error(err))
		res = types.RemoveResult{Status: types.RemoveError, Reason: types.ReasonStorage, IdentityID: res.IdentityID}
	}
	return res
}
