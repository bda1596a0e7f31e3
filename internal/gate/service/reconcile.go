package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// Reconcile deletes card bindings and presence rows whose identity no
// longer exists, writing one audit entry per repaired row.  The daemon runs
// it once at startup.
func (e *Engine) Reconcile(ctx context.Context) (types.ReconcileReport, error) {
	wf, release, err := e.begin(workflowReconcile)
	if err != nil {
		return types.ReconcileReport{}, err
	}
	defer release()

	var report types.ReconcileReport
	at := e.now().UTC()

	err = e.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		report = types.ReconcileReport{}

		identities, err := tx.ListIdentities(ctx)
		if err != nil {
			return err
		}
		known := make(map[string]struct{}, len(identities))
		for _, ident := range identities {
			known[ident.ID] = struct{}{}
		}

		bindings, err := tx.ListBindings(ctx)
		if err != nil {
			return err
		}
		for _, b := range bindings {
			if _, ok := known[b.IdentityID]; ok {
				continue
			}
			if _, err := tx.Unbind(ctx, b.IdentityID); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, types.AuditEntry{
				Timestamp:  at,
				IdentityID: b.IdentityID,
				Kind:       types.KindReconciled,
				Detail:     "orphan binding card=" + b.CardUID,
			}); err != nil {
				return err
			}
			report.OrphanBindings = append(report.OrphanBindings, b.IdentityID)
		}

		presence, err := tx.ListPresence(ctx)
		if err != nil {
			return err
		}
		for _, p := range presence {
			if _, ok := known[p.IdentityID]; ok {
				continue
			}
			if _, err := tx.DeletePresence(ctx, p.IdentityID); err != nil {
				return err
			}
			if err := tx.AppendAudit(ctx, types.AuditEntry{
				Timestamp:  at,
				IdentityID: p.IdentityID,
				Kind:       types.KindReconciled,
				Detail:     "orphan presence state=" + string(p.State),
			}); err != nil {
				return err
			}
			report.OrphanPresence = append(report.OrphanPresence, p.IdentityID)
		}
		return nil
	})
	if err != nil {
		wf.log.Error("reconcile failed", zap.Error(err))
		return types.ReconcileReport{}, err
	}

	if n := len(report.OrphanBindings) + len(report.OrphanPresence); n > 0 {
		wf.log.Warn("reconcile repaired orphan rows",
			zap.Strings("bindings", report.OrphanBindings),
			zap.Strings("presence", report.OrphanPresence))
	} else {
		wf.log.Info("stores consistent")
	}
	return report, nil
}
