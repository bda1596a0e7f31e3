package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/match"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

var ErrBusy = errors.New("another workflow is running")

const (
	workflowUnlock    = "unlock"
	workflowEnroll    = "enroll"
	workflowRemove    = "remove"
	workflowReconcile = "reconcile"
)

// Engine runs the Unlock, Enroll and Remove workflows.  At most one
// workflow runs at a time; a second caller is turned away with reason busy
// rather than queued.  The engine is the only writer of the store.
type Engine struct {
	store     store.Store
	matcher   *match.Matcher
	capture   Capture
	extractor Extractor
	poller    *CardPoller
	lock      LockActuator
	directory Directory
	metrics   *Metrics
	logger    *zap.Logger
	now       func() time.Time

	cardTimeout time.Duration

	run    sync.Mutex
	mu     sync.Mutex
	active string
}

// Deps are the collaborators an Engine needs.  Metrics may be nil.  Now
// defaults to time.Now.
type Deps struct {
	Store     store.Store
	Matcher   *match.Matcher
	Capture   Capture
	Extractor Extractor
	Poller    *CardPoller
	Lock      LockActuator
	Metrics   *Metrics
	Logger    *zap.Logger
	Now       func() time.Time
}

type EngineConfig struct {
	// CardWaitTimeout bounds each card wait.  Zero waits until the
	// operator cancels.
	CardWaitTimeout time.Duration
}

func NewEngine(d Deps, cfg EngineConfig) *Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		store:       d.Store,
		matcher:     d.Matcher,
		capture:     d.Capture,
		extractor:   d.Extractor,
		poller:      d.Poller,
		lock:        d.Lock,
		metrics:     d.Metrics,
		logger:      d.Logger,
		now:         d.Now,
		cardTimeout: cfg.CardWaitTimeout,
	}
}

// workflow carries the per-run correlation id and start time.
type workflow struct {
	id      string
	kind    string
	started time.Time
	log     *zap.Logger
}

// begin claims the engine for one workflow.  The returned release func must
// be called exactly once.
func (e *Engine) begin(kind string) (*workflow, func(), error) {
	if !e.run.TryLock() {
		e.metrics.ObserveBusy()
		e.mu.Lock()
		active := e.active
		e.mu.Unlock()
		e.logger.Warn("workflow rejected", zap.String("workflow", kind), zap.String("active", active))
		return nil, nil, ErrBusy
	}

	e.mu.Lock()
	e.active = kind
	e.mu.Unlock()

	wf := &workflow{id: uuid.NewString(), kind: kind, started: e.now()}
	wf.log = e.logger.With(zap.String("workflow", kind), zap.String("workflow_id", wf.id))

	release := func() {
		e.mu.Lock()
		e.active = ""
		e.mu.Unlock()
		e.run.Unlock()
	}
	return wf, release, nil
}

// finish logs and counts one terminal outcome.
func (e *Engine) finish(wf *workflow, status, reason string, ok bool, fields ...zap.Field) {
	fields = append(fields, zap.String("status", status), zap.String("reason", reason))
	if ok {
		wf.log.Info("workflow finished", fields...)
	} else {
		wf.log.Warn("workflow finished", fields...)
	}
	e.metrics.ObserveWorkflow(wf.kind, status, reason, e.now().Sub(wf.started))
}

func (e *Engine) serverTime() string {
	return e.now().UTC().Format(time.RFC3339Nano)
}

// awaitCard runs one card wait and counts its outcome.
func (e *Engine) awaitCard(ctx context.Context, wf *workflow) (string, WaitOutcome) {
	wf.log.Info("awaiting card", zap.Duration("timeout", e.cardTimeout))
	uid, outcome := e.poller.Await(ctx, e.cardTimeout)
	e.metrics.ObserveCardWait(outcome)
	return uid, outcome
}

// audit appends one entry outside any workflow transaction.  It is used on
// denial paths only, where a failed audit write must not change the
// outcome reported to the caller.
func (e *Engine) audit(ctx context.Context, wf *workflow, entry types.AuditEntry) {
	entry.Timestamp = e.now().UTC()
	err := e.store.Update(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.AppendAudit(ctx, entry)
	})
	if err != nil {
		wf.log.Error("audit append failed", zap.String("kind", string(entry.Kind)), zap.Error(err))
	}
}

// CancelWait cancels the card wait of the running workflow, if any.
func (e *Engine) CancelWait() bool {
	return e.poller.CancelWait()
}

// ActiveWorkflow names the running workflow, or "" when idle.
func (e *Engine) ActiveWorkflow() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// captureVector acquires one frame and extracts its encoding.  On failure
// it returns the reason and whether the failure is a hard error (as
// opposed to a normal negative outcome such as no face).
func (e *Engine) captureVector(ctx context.Context, wf *workflow) (Frame, types.Vector, string, bool) {
	frame, ok, err := e.capture.AcquireFrame(ctx)
	if err != nil {
		wf.log.Error("frame capture failed", zap.Error(err))
		return Frame{}, nil, types.ReasonCaptureFailed, true
	}
	if !ok {
		return Frame{}, nil, types.ReasonNoFrame, true
	}

	v, ok, err := e.extractor.FeatureVector(ctx, frame)
	if err != nil {
		wf.log.Error("feature extraction failed", zap.Error(err))
		return Frame{}, nil, types.ReasonExtractFailed, true
	}
	if !ok {
		return Frame{}, nil, types.ReasonNoFace, false
	}
	if len(v) != e.matcher.Length() || !match.Finite(v) {
		wf.log.Error("extractor returned malformed encoding",
			zap.Int("length", len(v)), zap.Int("want", e.matcher.Length()), zap.Bool("finite", match.Finite(v)))
		return Frame{}, nil, types.ReasonExtractFailed, true
	}
	return frame, v, "", false
}
