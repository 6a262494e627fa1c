package app

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "velo/pkg/logx"
)

// Supervisor runs the app's background loops on a shared context.
// Loops are named for logging, panics are recovered, and Stop waits for all
// of them with the caller's deadline.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	wg       sync.WaitGroup
	active   atomic.Int64
	errOnce  sync.Once
	firstErr atomic.Value // error
}

func NewSupervisor(parent context.Context, log logx.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Supervisor{ctx: ctx, cancel: cancel, log: log}
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Active reports how many loops are running.
func (s *Supervisor) Active() int64 { return s.active.Load() }

// Err returns the first error a loop returned, if any.
func (s *Supervisor) Err() error {
	if err, ok := s.firstErr.Load().(error); ok {
		return err
	}
	return nil
}

func (s *Supervisor) setErr(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
}

// Go runs fn once. A non-nil error (other than cancellation) is recorded
// but does not cancel the other loops.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		if err := s.runOnce(name, fn); err != nil {
			s.setErr(err)
		}
	}()
}

func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("loop panicked", logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	s.log.Debug("loop started", logx.String("name", name))
	err = fn(s.ctx)
	s.log.Debug("loop stopped", logx.String("name", name))
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// GoRestart runs fn and restarts it with jittered exponential backoff when
// it fails or panics. A clean return ends the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, minBackoff, maxBackoff time.Duration) {
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff = max(maxBackoff, minBackoff)
	s.Go(name+".restart", func(ctx context.Context) error {
		backoff := minBackoff
		for {
			started := time.Now()
			err := s.runOnce(name, fn)
			if err == nil || ctx.Err() != nil {
				return nil
			}
			if time.Since(started) >= 30*time.Second {
				backoff = minBackoff
			}
			wait := backoff + time.Duration(time.Now().UnixNano()%int64(backoff/5+1))
			s.log.Warn("loop restarting", logx.String("name", name), logx.Duration("backoff", wait), logx.Err(err))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
			backoff = min(backoff*2, maxBackoff)
		}
	})
}

// Stop cancels every loop and waits for them until ctx is done.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return s.Err()
	}
}
