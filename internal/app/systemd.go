package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"velo/internal/campaign"
	logx "velo/pkg/logx"
)

// sdNotifier reports readiness and campaign progress to systemd. Outside a
// Type=notify unit every call is a no-op.
type sdNotifier struct {
	log    logx.Logger
	notify func(state string) (bool, error)

	mu   sync.Mutex
	last time.Time
}

func newSDNotifier(log logx.Logger) *sdNotifier {
	return &sdNotifier{
		log:    log,
		notify: func(state string) (bool, error) { return daemon.SdNotify(false, state) },
	}
}

func (n *sdNotifier) send(state string) {
	if _, err := n.notify(state); err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
	}
}

func (n *sdNotifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *sdNotifier) Stopping() { n.send(daemon.SdNotifyStopping) }

func (n *sdNotifier) Status(text string) { n.send("STATUS=" + text) }

// Observe publishes a STATUS line per event, at most once per second except
// for status changes.
func (n *sdNotifier) Observe(ev campaign.Event) {
	now := time.Now()
	n.mu.Lock()
	throttled := ev.Kind != campaign.EventStatus && ev.Kind != campaign.EventFinished && now.Sub(n.last) < time.Second
	if !throttled {
		n.last = now
	}
	n.mu.Unlock()
	if throttled {
		return
	}
	n.Status(statusLine(ev.Snapshot))
}

func statusLine(s campaign.Snapshot) string {
	line := fmt.Sprintf("%s %d/%d sent=%d failed=%d", s.Status, s.Cursor, s.Total, s.Success, s.Failed)
	if s.Status == campaign.StatusRunning && !s.NextSendAt.IsZero() {
		line += " next=" + s.NextSendAt.Format("15:04:05")
	}
	return line
}
