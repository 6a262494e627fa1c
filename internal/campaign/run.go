package campaign

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"velo/internal/contact"
	"velo/internal/transport"
	logx "velo/pkg/logx"
)

func (e *Engine) run(ctx context.Context, tok *token, done chan struct{}) {
	start := time.Now()
	defer close(done)
	defer e.finish(ctx, start)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in campaign worker", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()

	e.persist(ctx)
	for {
		if !e.awaitInflight(ctx, tok) {
			return
		}
		// Block while paused; exit on stop.
		if !e.wait(ctx, tok, 0) {
			return
		}
		idx, c, ok := e.next()
		if !ok {
			return
		}
		if !e.awaitCeiling(ctx, tok) {
			return
		}

		out := e.deliver(ctx, tok, c)
		last := e.record(idx, c, out)
		e.persist(ctx)
		if last {
			return
		}
		if _, stopped, _ := tok.state(); stopped {
			return
		}

		d := e.pacer.Delay(idx + 1)
		e.announce(d)
		if !e.wait(ctx, tok, d) {
			return
		}
	}
}

func (e *Engine) next() (int, contact.Contact, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cp.Cursor >= len(e.contacts) {
		return 0, contact.Contact{}, false
	}
	e.nextSendAt = time.Time{}
	return e.cp.Cursor, e.contacts[e.cp.Cursor], true
}

// record applies one outcome: counters, failure log and cursor move together.
// It reports whether idx was the last contact.
func (e *Engine) record(idx int, c contact.Contact, out transport.Outcome) bool {
	at := e.now()

	e.mu.Lock()
	var fr *FailureRecord
	if out.OK() {
		e.cp.SuccessCount++
	} else {
		rec := FailureRecord{
			RecipientID: c.RecipientID,
			DisplayName: c.DisplayName,
			Reason:      reasonFor(out),
			Detail:      out.Detail,
			SourceRow:   c.SourceRow,
			At:          at,
		}
		e.cp.FailedLog = append(e.cp.FailedLog, rec)
		e.cp.FailedCount++
		fr = &rec
	}
	e.cp.Cursor = idx + 1
	e.cp.UpdatedAt = at
	snap := e.snapshotLocked()
	last := e.cp.Cursor >= len(e.contacts)
	e.mu.Unlock()

	fields := []logx.Field{
		logx.Int("n", idx+1),
		logx.Int("total", snap.Total),
		logx.String("recipient", c.RecipientID),
		logx.String("name", c.DisplayName),
		logx.Int("row", c.SourceRow),
	}
	if fr == nil {
		e.log.Info("message sent", fields...)
		e.bus.publish(Event{Kind: EventSent, At: at, Snapshot: snap})
		return last
	}
	e.log.Warn("message failed", append(fields, logx.String("reason", string(fr.Reason)), logx.String("detail", fr.Detail))...)
	e.bus.publish(Event{Kind: EventFailed, At: at, Snapshot: snap, Failure: fr})
	return last
}

// persist writes the current checkpoint. Errors are logged and retried
// implicitly by the next contact's save.
func (e *Engine) persist(ctx context.Context) {
	e.mu.Lock()
	cp := e.checkpointLocked()
	e.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SaveTimeout)
	defer cancel()
	if err := e.store.Save(sctx, cp); err != nil {
		e.log.Warn("progress save failed", logx.Int("cursor", cp.Cursor), logx.Err(err))
		e.bus.publish(Event{Kind: EventPersistError, Snapshot: e.Snapshot(), Err: err})
	}
}

// deliver sends to c, retrying timeout and error outcomes up to RetryMax times.
func (e *Engine) deliver(ctx context.Context, tok *token, c contact.Contact) transport.Outcome {
	var out transport.Outcome
	for attempt := 0; ; attempt++ {
		out = e.sendOnce(ctx, c)
		if out.OK() || out.Kind == transport.KindRejected || attempt >= e.cfg.RetryMax {
			return out
		}
		e.log.Debug("send retry scheduled",
			logx.String("recipient", c.RecipientID),
			logx.Int("attempt", attempt+2),
			logx.Duration("delay", e.cfg.RetryDelay),
			logx.String("outcome", out.String()))
		if !e.awaitInflight(ctx, tok) || !e.wait(ctx, tok, e.cfg.RetryDelay) {
			return out
		}
	}
}

// sendOnce bounds one Transport call by SendTimeout. The call is detached
// from ctx cancellation so a shutdown never aborts a send halfway; a panic in
// the transport is recorded as an error outcome. A call that outlives the
// timeout is left in e.inflight for awaitInflight.
func (e *Engine) sendOnce(ctx context.Context, c contact.Contact) transport.Outcome {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SendTimeout)
	defer cancel()

	e.setSending(true)
	defer e.setSending(false)

	res := make(chan transport.Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.log.Error("panic in transport", logx.String("transport", e.tr.Name()), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				res <- transport.Failed("panic: %v", r)
			}
		}()
		res <- e.tr.Send(sctx, c.RecipientID, c.MessageBody)
	}()

	select {
	case out := <-res:
		if out.Kind == "" {
			return transport.Failed("transport returned no outcome")
		}
		return out
	case <-sctx.Done():
		e.inflight = res
		return transport.TimedOut(fmt.Sprintf("no acknowledgement within %s", e.cfg.SendTimeout))
	}
}

func (e *Engine) setSending(v bool) {
	e.mu.Lock()
	e.sending = v
	e.mu.Unlock()
}

// awaitInflight holds the next send until a call abandoned by sendOnce has
// returned, so the transport never sees two sends at once.
func (e *Engine) awaitInflight(ctx context.Context, tok *token) bool {
	if e.inflight == nil {
		return true
	}
	e.log.Warn("previous send still running after its timeout; holding next send")
	for {
		_, stopped, wake := tok.state()
		if stopped || ctx.Err() != nil {
			return false
		}
		select {
		case out := <-e.inflight:
			e.inflight = nil
			e.log.Info("abandoned send returned", logx.String("outcome", out.String()))
			return true
		case <-wake:
		case <-ctx.Done():
			return false
		}
	}
}

// settlePause turns a pause requested mid-send into Paused once the worker
// is idle. Called from wait.
func (e *Engine) settlePause(tok *token) {
	e.mu.Lock()
	if e.status != StatusRunning || e.tok != tok || !tok.isPaused() {
		e.mu.Unlock()
		return
	}
	e.status = StatusPaused
	e.cp.Status = StatusPaused
	snap := e.snapshotLocked()
	e.mu.Unlock()

	e.log.Info("campaign paused", logx.Int("cursor", snap.Cursor), logx.Int("total", snap.Total))
	e.bus.publish(Event{Kind: EventStatus, Snapshot: snap})
}

// awaitCeiling holds the next send while the hourly ceiling is exhausted.
func (e *Engine) awaitCeiling(ctx context.Context, tok *token) bool {
	if e.limiter == nil {
		return true
	}
	r := e.limiter.Reserve()
	d := r.Delay()
	if d <= 0 {
		return true
	}
	e.log.Info("hourly ceiling reached; holding next send", logx.Duration("wait", d))
	e.announce(d)
	if !e.wait(ctx, tok, d) {
		r.Cancel()
		return false
	}
	return true
}

func (e *Engine) announce(d time.Duration) {
	e.mu.Lock()
	e.nextSendAt = time.Now().Add(d)
	snap := e.snapshotLocked()
	e.mu.Unlock()
	e.log.Debug("waiting before next send", logx.Duration("delay", d), logx.Int("cursor", snap.Cursor))
	e.bus.publish(Event{Kind: EventWaiting, Snapshot: snap, Delay: d})
}

// wait sleeps for d in slices of at most PollInterval, observing pause and
// stop between slices and immediately on a token change. Time spent paused
// does not count towards d, and a paused wait does not return until resumed.
// It reports false when the run must end (stop requested or ctx done).
func (e *Engine) wait(ctx context.Context, tok *token, d time.Duration) bool {
	remaining := d
	last := time.Now()
	for {
		paused, stopped, wake := tok.state()
		if stopped || ctx.Err() != nil {
			return false
		}
		if paused {
			e.settlePause(tok)
		} else if remaining <= 0 {
			return true
		}
		slice := e.cfg.PollInterval
		if !paused && remaining < slice {
			slice = remaining
		}
		t := time.NewTimer(slice)
		select {
		case <-ctx.Done():
			t.Stop()
			return false
		case <-wake:
			t.Stop()
		case <-t.C:
		}
		now := time.Now()
		if !paused {
			remaining -= now.Sub(last)
		}
		last = now
	}
}

// finish settles the terminal status, writes or clears the checkpoint, and
// publishes the summary.
func (e *Engine) finish(ctx context.Context, start time.Time) {
	if e.inflight != nil {
		t := time.NewTimer(e.cfg.SendTimeout)
		select {
		case <-e.inflight:
		case <-t.C:
			e.log.Warn("abandoned send still running at exit")
		}
		t.Stop()
		e.inflight = nil
	}

	e.mu.Lock()
	final := StatusStopped
	if e.cp.Cursor >= len(e.contacts) {
		final = StatusCompleted
	}
	e.cp.Status = final
	e.cp.UpdatedAt = e.now()
	cp := e.cp
	cp.FailedLog = append([]FailureRecord{}, e.cp.FailedLog...)
	e.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SaveTimeout)
	defer cancel()
	if final == StatusCompleted {
		if err := e.store.Clear(sctx); err != nil {
			e.log.Warn("clearing progress after completion failed", logx.Err(err))
		}
	} else if err := e.store.Save(sctx, cp); err != nil {
		e.log.Warn("progress save failed", logx.Int("cursor", cp.Cursor), logx.Err(err))
	}

	sum := Summary{
		RunID:    cp.RunID,
		Status:   final,
		Total:    cp.Total,
		Success:  cp.SuccessCount,
		Failed:   cp.FailedCount,
		Cursor:   cp.Cursor,
		Duration: time.Since(start),
	}
	e.mu.Lock()
	e.status = final
	e.nextSendAt = time.Time{}
	e.summary = &sum
	snap := e.snapshotLocked()
	e.mu.Unlock()

	fields := []logx.Field{
		logx.String("run", sum.RunID),
		logx.String("status", string(final)),
		logx.Int("total", sum.Total),
		logx.Int("success", sum.Success),
		logx.Int("failed", sum.Failed),
		logx.Int("cursor", sum.Cursor),
		logx.Duration("dur", sum.Duration),
	}
	if sum.Failed > 0 {
		e.log.Warn("campaign finished with failures", fields...)
	} else {
		e.log.Info("campaign finished", fields...)
	}
	e.bus.publish(Event{Kind: EventStatus, Snapshot: snap})
	e.bus.publish(Event{Kind: EventFinished, Snapshot: snap, Summary: &sum})
}
