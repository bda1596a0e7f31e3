package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/match"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/service"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/store/memory"
	"github.com/BrandonDHaskell/Portunus/gate/internal/gate/types"
)

// ── Capabilities ─────────────────────────────────────────────────────────────

type fakeCapture struct {
	noFrame bool
	err     error
}

func (c *fakeCapture) AcquireFrame(context.Context) (service.Frame, bool, error) {
	if c.err != nil {
		return service.Frame{}, false, c.err
	}
	if c.noFrame {
		return service.Frame{}, false, nil
	}
	return service.Frame{Data: []byte{0xff, 0xd8}, ContentType: "image/jpeg"}, true, nil
}

// fakeExtractor returns the vector set by show; nil means no face.
type fakeExtractor struct {
	mu   sync.Mutex
	next types.Vector
}

func (x *fakeExtractor) show(v types.Vector) {
	x.mu.Lock()
	x.next = v
	x.mu.Unlock()
}

func (x *fakeExtractor) FeatureVector(context.Context, service.Frame) (types.Vector, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.next == nil {
		return nil, false, nil
	}
	return x.next.Clone(), true, nil
}

// fakeReader simulates a person presenting a card after the prompt: each
// ResetBuffers discards buffered lines and queues the next scripted
// presentation.
type fakeReader struct {
	mu     sync.Mutex
	absent bool
	buffer []string
	script [][]string
	resets int
}

// present queues the lines one card presentation produces.
func (r *fakeReader) present(lines ...string) {
	r.mu.Lock()
	r.script = append(r.script, lines)
	r.mu.Unlock()
}

func (r *fakeReader) Poll() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buffer) == 0 {
		return "", false
	}
	line := r.buffer[0]
	r.buffer = r.buffer[1:]
	return line, true
}

func (r *fakeReader) ResetBuffers() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
	r.buffer = nil
	if len(r.script) > 0 {
		r.buffer = append(r.buffer, r.script[0]...)
		r.script = r.script[1:]
	}
}

func (r *fakeReader) Present() bool { return !r.absent }

type fakeLock struct {
	opens atomic.Int32
	err   error
}

func (l *fakeLock) Open(context.Context) error {
	l.opens.Add(1)
	return l.err
}

type fakeOperator struct {
	answer bool
	err    error
	calls  atomic.Int32
}

func (o *fakeOperator) ConfirmBind(context.Context, types.Identity, string) (bool, error) {
	o.calls.Add(1)
	return o.answer, o.err
}

// fakeClock is settable wall time.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ── Harness ──────────────────────────────────────────────────────────────────

type harness struct {
	engine    *service.Engine
	store     store.Store
	mem       *memory.Store
	extractor *fakeExtractor
	capture   *fakeCapture
	reader    *fakeReader
	lock      *fakeLock
	clock     *fakeClock
	metrics   *service.Metrics
	poller    *service.CardPoller
	cfg       harnessConfig
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	readerAbsent bool
	cardTimeout  time.Duration
	policy       match.Policy
	store        store.Store
}

func withoutReader() harnessOption {
	return func(c *harnessConfig) { c.readerAbsent = true }
}

func withCardTimeout(d time.Duration) harnessOption {
	return func(c *harnessConfig) { c.cardTimeout = d }
}

// withStore runs the engine on st instead of a fresh memory store.
func withStore(st store.Store) harnessOption {
	return func(c *harnessConfig) { c.store = st }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := harnessConfig{cardTimeout: 2 * time.Second, policy: match.PolicyFirst}
	for _, o := range opts {
		o(&cfg)
	}

	h := &harness{
		extractor: &fakeExtractor{},
		capture:   &fakeCapture{},
		reader:    &fakeReader{absent: cfg.readerAbsent},
		lock:      &fakeLock{},
		clock:     &fakeClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)},
		cfg:       cfg,
	}
	if cfg.store == nil {
		h.mem = memory.New()
		cfg.store = h.mem
	}
	h.restart(t, cfg.store)
	return h
}

// restart replaces the engine and card poller with fresh ones on st, as a
// daemon restart would.  The fakes carry over.
func (h *harness) restart(t *testing.T, st store.Store) {
	t.Helper()
	if h.poller != nil {
		h.poller.Stop()
	}

	poller, err := service.NewCardPoller(h.reader, service.PollerConfig{
		Interval:    time.Millisecond,
		SettleDelay: time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	poller.Start(context.Background())
	t.Cleanup(poller.Stop)

	matcher, err := match.New(match.DefaultTolerance, h.cfg.policy, types.VectorLength)
	require.NoError(t, err)

	h.poller = poller
	h.store = st
	h.metrics = service.NewMetrics(prometheus.NewRegistry())
	h.engine = service.NewEngine(service.Deps{
		Store:     st,
		Matcher:   matcher,
		Capture:   h.capture,
		Extractor: h.extractor,
		Poller:    poller,
		Lock:      h.lock,
		Metrics:   h.metrics,
		Logger:    zap.NewNop(),
		Now:       h.clock.Now,
	}, service.EngineConfig{CardWaitTimeout: h.cfg.cardTimeout})
}

func vec(fill float64) types.Vector {
	v := make(types.Vector, types.VectorLength)
	for i := range v {
		v[i] = fill
	}
	return v
}

// enroll shows v to the camera and enrolls it under label, optionally
// presenting card.
func (h *harness) enroll(t *testing.T, label string, v types.Vector, card string) types.EnrollResult {
	t.Helper()
	h.extractor.show(v)
	if card != "" {
		h.reader.present(card)
	}
	return h.engine.Enroll(context.Background(), types.EnrollRequest{Label: label, WithCard: card != ""})
}

// unlock shows v, presents card (if any) and runs Unlock with op.
func (h *harness) unlock(t *testing.T, v types.Vector, card string, op service.Operator) types.UnlockResult {
	t.Helper()
	h.extractor.show(v)
	if card != "" {
		h.reader.present(card)
	}
	return h.engine.Unlock(context.Background(), op)
}

func (h *harness) binding(t *testing.T, id string) (types.CredentialBinding, bool) {
	t.Helper()
	var (
		b     types.CredentialBinding
		found bool
	)
	err := h.store.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		b, err = tx.BindingFor(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	require.NoError(t, err)
	return b, found
}

func (h *harness) presence(t *testing.T, id string) (types.PresenceRecord, bool) {
	t.Helper()
	var (
		p     types.PresenceRecord
		found bool
	)
	err := h.store.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		p, err = tx.Presence(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	require.NoError(t, err)
	return p, found
}

func (h *harness) photoIDs(t *testing.T) []string {
	t.Helper()
	var ids []string
	err := h.store.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = tx.PhotoIDs(ctx)
		return err
	})
	require.NoError(t, err)
	return ids
}

func (h *harness) identityCount(t *testing.T) int {
	t.Helper()
	list, err := h.engine.ListIdentities(context.Background(), "")
	require.NoError(t, err)
	return len(list)
}

func auditKinds(entries []types.AuditEntry) []types.AuditKind {
	out := make([]types.AuditKind, len(entries))
	for i, e := range entries {
		out[i] = e.Kind
	}
	return out
}
