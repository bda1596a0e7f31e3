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

// Enroll creates an identity from the current frame.  With WithCard set, a
// card must also be presented and the identity and its binding are
// committed together or not at all.
func (e *Engine) Enroll(ctx context.Context, req types.EnrollRequest) types.EnrollResult {
	wf, release, err := e.begin(workflowEnroll)
	if err != nil {
		return types.EnrollResult{Status: types.EnrollRejected, Reason: types.ReasonBusy, ServerTime: e.serverTime()}
	}
	defer release()

	res := e.enroll(ctx, wf, req)
	res.ServerTime = e.serverTime()
	ok := res.Status == types.EnrollCreated || res.Status == types.EnrollCreatedWithoutCard
	e.finish(wf, string(res.Status), res.Reason, ok,
		zap.String("identity_id", res.IdentityID), zap.Bool("with_card", req.WithCard))
	return res
}

func (e *Engine) enroll(ctx context.Context, wf *workflow, req types.EnrollRequest) types.EnrollResult {
	id, displayName, err := e.directory.Canonical(req.Label)
	if err != nil {
		return types.EnrollResult{Status: types.EnrollRejected, Reason: types.ReasonInvalidLabel}
	}
	res := types.EnrollResult{IdentityID: id, DisplayName: displayName}

	frame, vector, reason, _ := e.captureVector(ctx, wf)
	if vector == nil {
		res.Status, res.Reason = types.EnrollError, reason
		return res
	}

	// Reject a duplicate before asking for a card so the operator is not
	// made to present one for nothing.
	err = e.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetIdentity(ctx, id)
		return err
	})
	switch {
	case err == nil:
		return e.rejectEnroll(ctx, wf, res, types.ReasonDuplicate, "")
	case !errors.Is(err, store.ErrNotFound):
		wf.log.Error("identity lookup failed", zap.Error(err))
		res.Status, res.Reason = types.EnrollError, types.ReasonStorage
		return res
	}

	var uid string
	if req.WithCard {
		var outcome WaitOutcome
		uid, outcome = e.awaitCard(ctx, wf)
		switch outcome {
		case WaitCard:
		case WaitCancelled:
			return e.rejectEnroll(ctx, wf, res, types.ReasonWaitCancelled, "")
		default:
			return e.rejectEnroll(ctx, wf, res, types.ReasonNoCard, string(outcome))
		}
	}

	var owner string
	at := e.now().UTC()
	err = e.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		// Ownership is checked before anything is written.
		if uid != "" {
			o, err := tx.OwnerOf(ctx, uid)
			switch {
			case err == nil:
				owner = o
				return store.ErrCardOwned
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if err := tx.InsertIdentity(ctx, types.Identity{
			ID:          id,
			DisplayName: displayName,
			Vector:      vector,
			EnrolledAt:  at,
		}); err != nil {
			return err
		}
		if photo, ok := enrollmentPhoto(id, frame, at); ok {
			if err := tx.PutPhoto(ctx, photo); err != nil {
				return err
			}
		}

		detail := "without card"
		if uid != "" {
			if err := tx.Bind(ctx, types.CredentialBinding{IdentityID: id, CardUID: uid, BoundAt: at}); err != nil {
				return err
			}
			detail = "card=" + uid
		}
		return tx.AppendAudit(ctx, types.AuditEntry{
			Timestamp:  at,
			IdentityID: id,
			Kind:       types.KindEnrolled,
			Detail:     detail,
		})
	})
	switch {
	case errors.Is(err, store.ErrCardOwned):
		return e.rejectEnroll(ctx, wf, res, types.ReasonCardOwned, fmt.Sprintf("card=%s owner=%s", uid, owner))
	case errors.Is(err, store.ErrIdentityExists):
		return e.rejectEnroll(ctx, wf, res, types.ReasonDuplicate, "")
	case err != nil:
		wf.log.Error("enroll commit failed", zap.Error(err))
		res.Status, res.Reason = types.EnrollError, types.ReasonStorage
		return res
	}

	if uid == "" {
		res.Status = types.EnrollCreatedWithoutCard
	} else {
		res.Status = types.EnrollCreated
	}
	return res
}

func (e *Engine) rejectEnroll(ctx context.Context, wf *workflow, res types.EnrollResult, reason, detail string) types.EnrollResult {
	if detail == "" {
		detail = reason
	} else {
		detail = reason + " " + detail
	}
	e.audit(ctx, wf, types.AuditEntry{Kind: types.KindEnrollDenied, Detail: fmt.Sprintf("label=%s %s", res.IdentityID, detail)})
	res.Status, res.Reason = types.EnrollRejected, reason
	return res
}

// enrollmentPhoto turns the frame the vector was taken from into the stored
// photo.  An empty frame stores nothing.
func enrollmentPhoto(identityID string, frame Frame, enrolledAt time.Time) (types.Photo, bool) {
	if len(frame.Data) == 0 {
		return types.Photo{}, false
	}
	p := types.Photo{
		IdentityID:  identityID,
		ContentType: frame.ContentType,
		Data:        frame.Data,
		CapturedAt:  frame.CapturedAt.UTC(),
	}
	if p.ContentType == "" {
		p.ContentType = "application/octet-stream"
	}
	if frame.CapturedAt.IsZero() {
		p.CapturedAt = enrolledAt
	}
	return p, true
}
