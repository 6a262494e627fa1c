package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"velo/internal/contact"
	"velo/internal/transport"
	logx "velo/pkg/logx"
)

type Config struct {
	// SendTimeout bounds a single Transport call.
	SendTimeout time.Duration
	// MaxRecipients is the safety threshold; larger lists need Plan.Confirmed. 0 disables the gate.
	MaxRecipients int
	// PollInterval is the granularity at which waits observe pause and stop.
	PollInterval time.Duration
	// MaxPerHour is a hard send ceiling layered under the pacing delay. 0 disables it.
	MaxPerHour int
	// RetryMax is the number of extra attempts for timeout/error outcomes. Rejections are never retried.
	RetryMax   int
	RetryDelay time.Duration
	// SaveTimeout bounds one progress-store write.
	SaveTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 20 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 5 * time.Second
	}
	return c
}

// Plan describes one campaign start request.
type Plan struct {
	Identity Identity
	Contacts []contact.Contact
	// Confirmed acknowledges a list larger than Config.MaxRecipients.
	Confirmed bool
	// Fresh discards any saved progress instead of resuming it.
	Fresh bool
}

type Option func(*Engine)

func WithLogger(l logx.Logger) Option { return func(e *Engine) { e.log = l } }

// WithClock overrides the clock used for record timestamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine is the dispatch campaign state machine. The control methods (Pause,
// Resume, Stop) only flip request flags; the single worker goroutine started
// by Start is the only writer of the cursor and counters.
type Engine struct {
	cfg     Config
	pacer   Pacer
	tr      transport.Transport
	store   ProgressStore
	log     logx.Logger
	now     func() time.Time
	bus     *bus
	limiter *rate.Limiter

	// inflight holds the result channel of a send that outlived SendTimeout.
	// Only the worker touches it.
	inflight <-chan transport.Outcome

	// startMu serializes Start and Reset.
	startMu sync.Mutex

	mu         sync.Mutex
	status     Status
	contacts   []contact.Contact
	cp         Checkpoint
	resumed    bool
	sending    bool
	nextSendAt time.Time
	tok        *token
	done       chan struct{}
	summary    *Summary
}

func New(cfg Config, pacer Pacer, tr transport.Transport, store ProgressStore, opts ...Option) (*Engine, error) {
	if pacer == nil {
		return nil, errors.New("campaign: pacer is nil")
	}
	if tr == nil {
		return nil, errors.New("campaign: transport is nil")
	}
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:    cfg,
		pacer:  pacer,
		tr:     tr,
		store:  store,
		now:    time.Now,
		bus:    newBus(),
		status: StatusIdle,
	}
	for _, o := range opts {
		o(e)
	}
	if e.store == nil {
		e.store = nopStore{}
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "campaign"))
	if cfg.MaxPerHour > 0 {
		e.limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.MaxPerHour)), 1)
	}
	return e, nil
}

// NeedsConfirmation reports whether a list of n contacts crosses the safety threshold.
func (e *Engine) NeedsConfirmation(n int) bool {
	return e.cfg.MaxRecipients > 0 && n > e.cfg.MaxRecipients
}

// Start begins a run from Idle or a terminal status. Saved progress whose
// identity matches plan.Identity is resumed at its cursor; anything else
// starts at 0.
func (e *Engine) Start(ctx context.Context, plan Plan) error {
	if len(plan.Contacts) == 0 {
		return ErrEmptyCampaign
	}
	if e.NeedsConfirmation(len(plan.Contacts)) && !plan.Confirmed {
		return fmt.Errorf("%w (%d > %d)", ErrConfirmationRequired, len(plan.Contacts), e.cfg.MaxRecipients)
	}
	if plan.Identity.Hash == "" {
		plan.Identity = NewIdentity(plan.Identity.Source, plan.Contacts)
	}

	e.startMu.Lock()
	defer e.startMu.Unlock()

	e.mu.Lock()
	if e.status.Active() {
		st := e.status
		e.mu.Unlock()
		return fmt.Errorf("%w: start while %s", ErrInvalidTransition, st)
	}
	e.mu.Unlock()

	cp, resumed := e.restore(ctx, plan)

	e.mu.Lock()
	e.contacts = append([]contact.Contact(nil), plan.Contacts...)
	e.cp = cp
	e.resumed = resumed
	e.status = StatusRunning
	e.nextSendAt = time.Time{}
	e.summary = nil
	e.tok = newToken()
	e.done = make(chan struct{})
	tok, done := e.tok, e.done
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.log.Info("campaign started",
		logx.String("run", cp.RunID),
		logx.String("source", plan.Identity.Source),
		logx.String("identity", plan.Identity.Short()),
		logx.Int("total", cp.Total),
		logx.Int("cursor", cp.Cursor),
		logx.Bool("resumed", resumed),
		logx.String("transport", e.tr.Name()),
	)
	e.bus.publish(Event{Kind: EventStatus, Snapshot: snap})

	go e.run(ctx, tok, done)
	return nil
}

// restore picks the checkpoint a new run starts from. Unreadable, stale or
// inconsistent saved progress degrades to a fresh start.
func (e *Engine) restore(ctx context.Context, plan Plan) (Checkpoint, bool) {
	fresh := Checkpoint{
		Identity:  plan.Identity,
		RunID:     uuid.NewString(),
		Total:     len(plan.Contacts),
		FailedLog: []FailureRecord{},
		Status:    StatusRunning,
		StartedAt: e.now(),
		UpdatedAt: e.now(),
	}
	if plan.Fresh {
		e.discard(ctx, "fresh start requested")
		return fresh, false
	}
	saved, err := e.store.Load(ctx)
	if err != nil {
		e.log.Warn("saved progress unreadable; starting fresh", logx.Err(err))
		return fresh, false
	}
	if saved == nil {
		return fresh, false
	}
	if !saved.Identity.Matches(plan.Identity) {
		e.log.Info("saved progress belongs to a different contact list",
			logx.String("saved_source", saved.Identity.Source),
			logx.String("saved_identity", saved.Identity.Short()))
		e.discard(ctx, "identity mismatch")
		return fresh, false
	}
	if err := saved.Validate(); err != nil || saved.Total != len(plan.Contacts) || saved.Cursor >= saved.Total {
		e.discard(ctx, "saved progress is not resumable")
		return fresh, false
	}

	cp := *saved
	cp.Identity = plan.Identity
	cp.Status = StatusRunning
	cp.FailedLog = append([]FailureRecord{}, saved.FailedLog...)
	if cp.RunID == "" {
		cp.RunID = uuid.NewString()
	}
	cp.UpdatedAt = e.now()
	return cp, true
}

func (e *Engine) discard(ctx context.Context, why string) {
	if err := e.store.Clear(ctx); err != nil {
		e.log.Warn("clearing saved progress failed", logx.String("why", why), logx.Err(err))
		return
	}
	e.log.Debug("saved progress cleared", logx.String("why", why))
}

// Resumable returns the saved checkpoint when it can be resumed for id, or nil.
func (e *Engine) Resumable(ctx context.Context, id Identity) (*Checkpoint, error) {
	saved, err := e.store.Load(ctx)
	if err != nil || saved == nil {
		return nil, err
	}
	if !saved.Identity.Matches(id) || saved.Validate() != nil || saved.Cursor >= saved.Total {
		return nil, nil
	}
	return saved, nil
}

// Pause asks the worker to halt before the next send. A send already in
// flight finishes first; the status stays Running until it has.
func (e *Engine) Pause() error {
	return e.transition("pause", func(s Status) (Status, bool) {
		if s != StatusRunning || e.tok.isPaused() {
			return s, false
		}
		if e.sending {
			return StatusRunning, true
		}
		return StatusPaused, true
	}, func(t *token) { t.setPaused(true) })
}

// Resume also withdraws a pause that has not settled yet.
func (e *Engine) Resume() error {
	return e.transition("resume", func(s Status) (Status, bool) {
		return StatusRunning, s == StatusPaused || (s == StatusRunning && e.tok.isPaused())
	}, func(t *token) { t.setPaused(false) })
}

// Stop requests a graceful halt. A send already in flight completes and is recorded.
func (e *Engine) Stop() error {
	return e.transition("stop", func(s Status) (Status, bool) {
		return StatusStopping, s == StatusRunning || s == StatusPaused
	}, func(t *token) { t.stop() })
}

func (e *Engine) transition(op string, next func(Status) (Status, bool), signal func(*token)) error {
	e.mu.Lock()
	to, ok := next(e.status)
	if !ok {
		from := e.status
		e.mu.Unlock()
		return fmt.Errorf("%w: %s while %s", ErrInvalidTransition, op, from)
	}
	e.status = to
	e.cp.Status = to
	signal(e.tok)
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.log.Info("campaign "+op+" requested", logx.Int("cursor", snap.Cursor), logx.Int("total", snap.Total))
	e.bus.publish(Event{Kind: EventStatus, Snapshot: snap})
	return nil
}

// Reset clears saved progress and returns a finished engine to Idle.
func (e *Engine) Reset(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	e.mu.Lock()
	if e.status.Active() {
		st := e.status
		e.mu.Unlock()
		return fmt.Errorf("%w: reset while %s", ErrInvalidTransition, st)
	}
	e.mu.Unlock()

	if err := e.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}

	e.mu.Lock()
	e.status = StatusIdle
	e.contacts = nil
	e.cp = Checkpoint{}
	e.resumed = false
	e.summary = nil
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.log.Info("campaign reset")
	e.bus.publish(Event{Kind: EventStatus, Snapshot: snap})
	return nil
}

// Done is closed when the current run's worker has exited. Before any run it
// is already closed.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return e.done
}

// Wait blocks until the current run ends and returns its summary.
func (e *Engine) Wait(ctx context.Context) (Summary, error) {
	select {
	case <-e.Done():
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.summary == nil {
		return Summary{}, nil
	}
	return *e.summary, nil
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Status:     e.status,
		RunID:      e.cp.RunID,
		Identity:   e.cp.Identity,
		Total:      e.cp.Total,
		Cursor:     e.cp.Cursor,
		Success:    e.cp.SuccessCount,
		Failed:     e.cp.FailedCount,
		Resumed:    e.resumed,
		StartedAt:  e.cp.StartedAt,
		UpdatedAt:  e.cp.UpdatedAt,
		NextSendAt: e.nextSendAt,
	}
}

// Failures returns a copy of the failure log in append order.
func (e *Engine) Failures() []FailureRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]FailureRecord(nil), e.cp.FailedLog...)
}

// Subscribe registers an observer. Call the returned func to unsubscribe.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	return e.bus.subscribe(buffer)
}

func (e *Engine) checkpointLocked() Checkpoint {
	cp := e.cp
	cp.Status = e.status
	cp.FailedLog = append([]FailureRecord{}, e.cp.FailedLog...)
	return cp
}

type nopStore struct{}

func (nopStore) Load(context.Context) (*Checkpoint, error) { return nil, nil }
func (nopStore) Save(context.Context, Checkpoint) error    { return nil }
func (nopStore) Clear(context.Context) error               { return nil }
