package service

import (
	"context"
	"regexp"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultUIDPattern accepts hex digits with the usual separators.  Reader
// lines that do not contain a run of at least four such characters are
// diagnostics and are dropped.
const DefaultUIDPattern = `([0-9A-Fa-f:\-\.]{4,})`

// WaitOutcome is how a card wait ended.
type WaitOutcome string

const (
	WaitCard      WaitOutcome = "card"
	WaitCancelled WaitOutcome = "cancelled"
	WaitTimeout   WaitOutcome = "timeout"
	WaitNoReader  WaitOutcome = "no_reader"
)

// CardPoller drains a CardReader on a fixed interval in the background and
// hands the first valid UID to whichever workflow is waiting for one.  It is
// the only reader of the underlying device.
type CardPoller struct {
	reader   CardReader
	pattern  *regexp.Regexp
	interval time.Duration
	settle   time.Duration
	logger   *zap.Logger

	// readMu orders reader polls against the buffer reset in Await, so a
	// line is either read before the reset (stale) or after it.
	readMu sync.Mutex

	mu     sync.Mutex
	waiter *cardWaiter

	cancel context.CancelFunc
	done   chan struct{}
}

type cardWaiter struct {
	uid       chan string
	cancelled chan struct{}
	once      sync.Once
	armed     bool // guarded by CardPoller.mu
}

func (w *cardWaiter) cancel() {
	w.once.Do(func() { close(w.cancelled) })
}

// PollerConfig holds the parameters for NewCardPoller.
type PollerConfig struct {
	// Interval between reader polls.  Defaults to 50ms.
	Interval time.Duration

	// SettleDelay is how long Await waits after resetting the reader
	// buffers before it accepts a UID.  Defaults to 50ms.
	SettleDelay time.Duration

	// UIDPattern must contain one capture group.  Defaults to
	// DefaultUIDPattern.
	UIDPattern string
}

// NewCardPoller creates a poller but does not start it.
func NewCardPoller(reader CardReader, cfg PollerConfig, logger *zap.Logger) (*CardPoller, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.UIDPattern == "" {
		cfg.UIDPattern = DefaultUIDPattern
	}
	re, err := regexp.Compile(cfg.UIDPattern)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CardPoller{
		reader:   reader,
		pattern:  re,
		interval: cfg.Interval,
		settle:   cfg.SettleDelay,
		logger:   logger,
		done:     make(chan struct{}),
	}, nil
}

// Start begins the polling loop.  It exits when ctx is cancelled or Stop is
// called.  An absent reader is reported once and the loop is not started.
func (p *CardPoller) Start(ctx context.Context) {
	if !p.reader.Present() {
		p.logger.Warn("card reader not present; card waits resolve to no_reader")
		close(p.done)
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	go p.loop(ctx)

	p.logger.Info("card poller started", zap.Duration("interval", p.interval))
}

// Stop signals the loop to exit and waits for it.  Any pending wait is
// cancelled.
func (p *CardPoller) Stop() {
	p.CancelWait()
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
}

// Present reports whether a card reader is attached.
func (p *CardPoller) Present() bool {
	return p.reader.Present()
}

func (p *CardPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain()
		}
	}
}

// drain consumes every line the reader has buffered.  Lines read while no
// workflow is waiting are discarded.  While a wait is settling the reader
// is left alone, so a card presented during the settle delay stays
// buffered until the wait is armed.
func (p *CardPoller) drain() {
	for {
		p.readMu.Lock()
		p.mu.Lock()
		w := p.waiter
		armed := w != nil && w.armed
		p.mu.Unlock()
		if w != nil && !armed {
			p.readMu.Unlock()
			return
		}
		line, ok := p.reader.Poll()
		p.readMu.Unlock()
		if !ok {
			return
		}

		uid, ok := p.ParseUID(line)
		if !ok {
			p.logger.Debug("ignoring reader line", zap.String("line", line))
			continue
		}
		if w == nil {
			continue
		}

		// Deliver only to the waiter that was armed when the line was read.
		p.mu.Lock()
		current := p.waiter == w
		if current {
			p.waiter = nil
		}
		p.mu.Unlock()

		if current {
			w.uid <- uid
		}
	}
}

// ParseUID extracts the UID from one raw reader line.
func (p *CardPoller) ParseUID(line string) (string, bool) {
	m := p.pattern.FindStringSubmatch(line)
	if m == nil {
		return "", false
	}
	uid := m[0]
	if len(m) > 1 {
		uid = m[1]
	}
	return uid, uid != ""
}

// Await resets the reader, waits for the settle delay and then blocks until
// a UID arrives, CancelWait is called, ctx is done, or timeout elapses.  A
// zero timeout waits until cancelled.  Only one wait may be pending.
func (p *CardPoller) Await(ctx context.Context, timeout time.Duration) (string, WaitOutcome) {
	if !p.reader.Present() {
		return "", WaitNoReader
	}

	w := &cardWaiter{uid: make(chan string, 1), cancelled: make(chan struct{})}

	// Stale UIDs from before the prompt must not satisfy this wait.  The
	// waiter is registered unarmed and the buffers reset in one step; it
	// can be cancelled during the settle delay but receives nothing.
	p.readMu.Lock()
	p.mu.Lock()
	if p.waiter != nil {
		p.waiter.cancel()
	}
	p.waiter = w
	p.mu.Unlock()
	p.reader.ResetBuffers()
	p.readMu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.waiter == w {
			p.waiter = nil
		}
		p.mu.Unlock()
	}()

	if p.settle > 0 {
		t := time.NewTimer(p.settle)
		select {
		case <-t.C:
		case <-w.cancelled:
			t.Stop()
			return "", WaitCancelled
		case <-ctx.Done():
			t.Stop()
			return "", WaitCancelled
		}
	}
	p.mu.Lock()
	w.armed = true
	p.mu.Unlock()

	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}

	select {
	case uid := <-w.uid:
		return uid, WaitCard
	case <-w.cancelled:
		return "", WaitCancelled
	case <-ctx.Done():
		return "", WaitCancelled
	case <-deadline:
		return "", WaitTimeout
	}
}

// CancelWait cancels the pending wait, if any, and reports whether there
// was one.
func (p *CardPoller) CancelWait() bool {
	p.mu.Lock()
	w := p.waiter
	p.waiter = nil
	p.mu.Unlock()

	if w == nil {
		return false
	}
	w.cancel()
	return true
}
