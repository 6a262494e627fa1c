// Package notify reports campaign outcomes and log alerts to an operator chat.
//
// Delivery is best-effort: a failed notification is logged and never
// affects the campaign.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"velo/internal/campaign"
	logx "velo/pkg/logx"
)

// Sender delivers one text message.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

type Config struct {
	// Summary sends a report when a run ends.
	Summary bool
	// ProgressEvery sends a progress line every n processed contacts. 0 disables.
	ProgressEvery int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	SendTimeout   time.Duration
	// MaxListed caps the failed recipients listed in a summary.
	MaxListed int
}

type Notifier struct {
	cfg     Config
	sender  Sender
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, sender Sender, log logx.Logger) *Notifier {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.MaxListed <= 0 {
		cfg.MaxListed = 20
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		cfg:     cfg,
		sender:  sender,
		log:     log.With(logx.String("comp", "notify")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
	}
}

// SendAlert implements logx.AlertSender.
func (n *Notifier) SendAlert(ctx context.Context, text string) error {
	return n.send(ctx, "⚠️ <b>velo alert</b>\n<pre>"+html.EscapeString(text)+"</pre>")
}

func (n *Notifier) send(ctx context.Context, text string) error {
	attempts := 1 + max(n.cfg.RetryMax, 0)
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if werr := n.limiter.Wait(ctx); werr != nil {
			return werr
		}
		cctx, cancel := context.WithTimeout(ctx, n.cfg.SendTimeout)
		err = n.sender.SendText(cctx, text)
		cancel()
		if err == nil {
			return nil
		}
		n.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(n.cfg.RetryBase << (attempt - 1))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return err
}

// Run forwards engine events until events is closed or ctx is done. Once ctx
// is done, a summary still buffered in events is delivered before returning.
// failures supplies the failure list for summaries; it may be nil.
func (n *Notifier) Run(ctx context.Context, events <-chan campaign.Event, failures func() []campaign.FailureRecord) {
	for {
		if ctx.Err() != nil {
			n.drain(ctx, events, failures)
			return
		}
		select {
		case <-ctx.Done():
			n.drain(ctx, events, failures)
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			n.handle(ctx, ev, failures)
		}
	}
}

// drain empties events without blocking; progress lines are dropped.
func (n *Notifier) drain(ctx context.Context, events <-chan campaign.Event, failures func() []campaign.FailureRecord) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == campaign.EventFinished {
				n.handle(ctx, ev, failures)
			}
		default:
			return
		}
	}
}

func (n *Notifier) handle(ctx context.Context, ev campaign.Event, failures func() []campaign.FailureRecord) {
	var text string
	switch ev.Kind {
	case campaign.EventFinished:
		if !n.cfg.Summary || ev.Summary == nil {
			return
		}
		var fl []campaign.FailureRecord
		if failures != nil {
			fl = failures()
		}
		text = CampaignSummary(*ev.Summary, fl, n.cfg.MaxListed)
	case campaign.EventSent, campaign.EventFailed:
		s := ev.Snapshot
		if n.cfg.ProgressEvery <= 0 || s.Cursor == 0 || s.Cursor%n.cfg.ProgressEvery != 0 || s.Cursor == s.Total {
			return
		}
		text = ProgressLine(s)
	default:
		return
	}
	// Summaries are sent even while the process is shutting down.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := n.send(sctx, text); err != nil {
		n.log.Warn("notification not delivered", logx.String("event", string(ev.Kind)), logx.Err(err))
	}
}

func ProgressLine(s campaign.Snapshot) string {
	pct := 0.0
	if s.Total > 0 {
		pct = float64(s.Cursor) * 100 / float64(s.Total)
	}
	return fmt.Sprintf("📨 <b>%d/%d</b> (%.0f%%) sent %d, failed %d", s.Cursor, s.Total, pct, s.Success, s.Failed)
}

// CampaignSummary renders the end-of-run report as Telegram HTML.
func CampaignSummary(s campaign.Summary, failures []campaign.FailureRecord, maxListed int) string {
	var b strings.Builder
	icon := "✅"
	switch {
	case s.Status != campaign.StatusCompleted:
		icon = "⏹"
	case s.Failed > 0:
		icon = "⚠️"
	}
	fmt.Fprintf(&b, "%s <b>Campaign %s</b>\n", icon, html.EscapeString(string(s.Status)))
	if s.RunID != "" {
		fmt.Fprintf(&b, "Run: <code>%s</code>\n", html.EscapeString(s.RunID))
	}
	fmt.Fprintf(&b, "Processed: %d/%d\n", s.Cursor, s.Total)
	fmt.Fprintf(&b, "Sent: %d\nFailed: %d\n", s.Success, s.Failed)
	if s.Duration > 0 {
		fmt.Fprintf(&b, "Duration: %s\n", s.Duration.Round(time.Second))
	}
	if s.Status != campaign.StatusCompleted && s.Cursor < s.Total {
		fmt.Fprintf(&b, "Remaining: %d (resume with the same contact list)\n", s.Total-s.Cursor)
	}
	if len(failures) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}
	b.WriteString("\n<b>Failed recipients</b>\n")
	for i, f := range failures {
		if maxListed > 0 && i == maxListed {
			fmt.Fprintf(&b, "… and %d more\n", len(failures)-maxListed)
			break
		}
		name := f.DisplayName
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(&b, "%d. %s <code>%s</code> %s\n", i+1, html.EscapeString(name), html.EscapeString(f.RecipientID), f.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}
