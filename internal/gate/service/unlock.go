package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// Unlock runs one unlock attempt: capture, match, card wait, decision.
// Every store write happens before a granted result is returned; the lock
// is signalled after the commit.
func (e *Engine) Unlock(ctx context.Context, op Operator) types.UnlockResult {
	wf, release, err := e.begin(workflowUnlock)
	if err != nil {
		return types.UnlockResult{Status: types.UnlockError, Reason: types.ReasonBusy, ServerTime: e.serverTime()}
	}
	defer release()

	res := e.unlock(ctx, wf, op)
	res.ServerTime = e.serverTime()
	e.finish(wf, string(res.Status), res.Reason, res.Status == types.UnlockGranted,
		zap.String("identity_id", res.IdentityID))
	return res
}

func (e *Engine) unlock(ctx context.Context, wf *workflow, op Operator) types.UnlockResult {
	_, vector, reason, hard := e.captureVector(ctx, wf)
	if vector == nil {
		if hard {
			return types.UnlockResult{Status: types.UnlockError, Reason: reason}
		}
		return types.UnlockResult{Status: types.UnlockDenied, Reason: reason}
	}

	var identities []types.Identity
	err := e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		identities, err = tx.ListIdentities(ctx)
		return err
	})
	if err != nil {
		wf.log.Error("list identities failed", zap.Error(err))
		return types.UnlockResult{Status: types.UnlockError, Reason: types.ReasonStorage}
	}

	ident, ok := e.matcher.Match(vector, identities)
	if !ok {
		e.audit(ctx, wf, types.AuditEntry{Kind: types.KindDenied, Detail: types.ReasonNotRecognized})
		return types.UnlockResult{Status: types.UnlockDenied, Reason: types.ReasonNotRecognized}
	}
	wf.log.Info("face matched", zap.String("identity_id", ident.ID))

	base := types.UnlockResult{IdentityID: ident.ID, DisplayName: ident.DisplayName}

	uid, outcome := e.awaitCard(ctx, wf)
	switch outcome {
	case WaitCard:
	case WaitCancelled:
		base.Status, base.Reason = types.UnlockCancelled, types.ReasonWaitCancelled
		return base
	default:
		e.audit(ctx, wf, types.AuditEntry{
			IdentityID: ident.ID,
			Kind:       types.KindDenied,
			Detail:     fmt.Sprintf("%s (%s)", types.ReasonNoCard, outcome),
		})
		base.Status, base.Reason = types.UnlockDenied, types.ReasonNoCard
		return base
	}

	var binding *types.CredentialBinding
	err = e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.BindingFor(ctx, ident.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		binding = &b
		return nil
	})
	if err != nil {
		wf.log.Error("binding lookup failed", zap.Error(err))
		base.Status, base.Reason = types.UnlockError, types.ReasonStorage
		return base
	}

	if binding != nil {
		return e.unlockBound(ctx, wf, base, *binding, uid)
	}
	return e.unlockUnbound(ctx, wf, base, ident, uid, op)
}

func (e *Engine) unlockBound(
	ctx context.Context,
	wf *workflow,
	res types.UnlockResult,
	binding types.CredentialBinding,
	uid string,
) types.UnlockResult {
	res.CardBound = true

	if binding.CardUID != uid {
		e.audit(ctx, wf, types.AuditEntry{
			IdentityID: res.IdentityID,
			Kind:       types.KindCardMismatch,
			Detail:     fmt.Sprintf("presented=%s expected=%s", uid, binding.CardUID),
		})
		res.Status, res.Reason = types.UnlockDenied, types.ReasonCardMismatch
		return res
	}

	var next types.PresenceState
	err := e.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		prev, err := tx.Presence(ctx, res.IdentityID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			prev = types.PresenceRecord{IdentityID: res.IdentityID, State: types.PresenceOutside}
		case err != nil:
			return err
		}

		next = prev.State.Toggle()
		at := e.stamp(prev.LastAccess)
		if err := tx.PutPresence(ctx, types.PresenceRecord{
			IdentityID: res.IdentityID,
			State:      next,
			LastAccess: at,
		}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, types.AuditEntry{
			Timestamp:  at,
			IdentityID: res.IdentityID,
			Kind:       presenceKind(next),
			Detail:     "card=" + uid,
		})
	})
	if err != nil {
		wf.log.Error("presence update failed", zap.Error(err))
		res.Status, res.Reason = types.UnlockError, types.ReasonStorage
		return res
	}

	e.openLock(ctx, wf)
	res.Status, res.Reason, res.Presence = types.UnlockGranted, types.ReasonCardMatched, next
	return res
}

func (e *Engine) unlockUnbound(
	ctx context.Context,
	wf *workflow,
	res types.UnlockResult,
	ident types.Identity,
	uid string,
	op Operator,
) types.UnlockResult {
	confirmed, err := op.ConfirmBind(ctx, ident, uid)
	if err != nil {
		if ctx.Err() != nil {
			res.Status, res.Reason = types.UnlockCancelled, types.ReasonWaitCancelled
			return res
		}
		wf.log.Error("bind confirmation failed", zap.Error(err))
		res.Status, res.Reason = types.UnlockError, types.ReasonConfirmFailed
		return res
	}
	if !confirmed {
		res.Status, res.Reason = types.UnlockCancelled, types.ReasonBindDeclined
		return res
	}

	var owner string
	at := e.now().UTC()
	err = e.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.OwnerOf(ctx, uid)
		switch {
		case err == nil && o != ident.ID:
			owner = o
			return store.ErrCardOwned
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return err
		}

		if err := tx.Bind(ctx, types.CredentialBinding{IdentityID: ident.ID, CardUID: uid, BoundAt: at}); err != nil {
			return err
		}
		if err := tx.PutPresence(ctx, types.PresenceRecord{
			IdentityID: ident.ID,
			State:      types.PresenceInside,
			LastAccess: at,
		}); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, types.AuditEntry{
			Timestamp:  at,
			IdentityID: ident.ID,
			Kind:       types.KindCardBound,
			Detail:     "card=" + uid,
		}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, types.AuditEntry{
			Timestamp:  at,
			IdentityID: ident.ID,
			Kind:       types.KindEntry,
			Detail:     "card=" + uid,
		})
	})
	switch {
	case errors.Is(err, store.ErrCardOwned):
		e.audit(ctx, wf, types.AuditEntry{
			IdentityID: ident.ID,
			Kind:       types.KindCardConflict,
			Detail:     fmt.Sprintf("card=%s owner=%s", uid, owner),
		})
		res.Status, res.Reason = types.UnlockDenied, types.ReasonCardOwned
		return res
	case err != nil:
		wf.log.Error("bind failed", zap.Error(err))
		res.Status, res.Reason = types.UnlockError, types.ReasonStorage
		return res
	}

	e.openLock(ctx, wf)
	res.Status, res.Reason = types.UnlockGranted, types.ReasonCardBound
	res.Presence, res.CardBound = types.PresenceInside, true
	return res
}

// stamp returns the access time for a presence update, never earlier than
// the previous one even if the wall clock stepped back.
func (e *Engine) stamp(prev time.Time) time.Time {
	now := e.now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

func (e *Engine) openLock(ctx context.Context, wf *workflow) {
	if err := e.lock.Open(ctx); err != nil {
		wf.log.Error("lock actuation failed", zap.Error(err))
	}
}

func presenceKind(s types.PresenceState) types.AuditKind {
	if s == types.PresenceInside {
		return types.KindEntry
	}
	return types.KindExit
}
