// Package dryrun is a transport that delivers nothing. It simulates latency,
// rejections and periodic failures so a campaign can be rehearsed end to end.
package dryrun

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"velo/internal/transport"
	logx "velo/pkg/logx"
)

type Config struct {
	Latency time.Duration
	// Reject lists recipient ids reported as not registered.
	Reject []string
	// FailEvery makes every n-th send fail. 0 disables.
	FailEvery int
}

type Transport struct {
	cfg    Config
	log    logx.Logger
	reject map[string]struct{}

	calls atomic.Int64

	mu   sync.Mutex
	sent []Message
}

// Message is one simulated delivery.
type Message struct {
	RecipientID string
	Body        string
	At          time.Time
}

func New(cfg Config, log logx.Logger) *Transport {
	if log.IsZero() {
		log = logx.Nop()
	}
	rej := make(map[string]struct{}, len(cfg.Reject))
	for _, id := range cfg.Reject {
		if id = strings.TrimSpace(id); id != "" {
			rej[id] = struct{}{}
		}
	}
	return &Transport{cfg: cfg, log: log.With(logx.String("comp", "transport.dryrun")), reject: rej}
}

func (t *Transport) Name() string { return "dryrun" }

func (t *Transport) Send(ctx context.Context, recipientID, message string) transport.Outcome {
	n := t.calls.Add(1)
	if t.cfg.Latency > 0 {
		timer := time.NewTimer(t.cfg.Latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return transport.FromError(ctx.Err())
		case <-timer.C:
		}
	}
	if _, ok := t.reject[recipientID]; ok {
		return transport.Rejected("recipient not registered")
	}
	if t.cfg.FailEvery > 0 && n%int64(t.cfg.FailEvery) == 0 {
		return transport.Failed("simulated failure on send %d", n)
	}

	t.mu.Lock()
	t.sent = append(t.sent, Message{RecipientID: recipientID, Body: message, At: time.Now()})
	t.mu.Unlock()
	t.log.Debug("dry-run delivery", logx.String("to", recipientID), logx.Int("chars", len([]rune(message))))
	return transport.Delivered()
}

// Sent returns a copy of the simulated deliveries.
func (t *Transport) Sent() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.sent...)
}
