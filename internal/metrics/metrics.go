// Package metrics exports campaign progress as Prometheus metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"velo/internal/campaign"
)

var statuses = []campaign.Status{
	campaign.StatusIdle,
	campaign.StatusRunning,
	campaign.StatusPaused,
	campaign.StatusStopping,
	campaign.StatusStopped,
	campaign.StatusCompleted,
}

// Metrics owns a private registry so several engines (or tests) never
// collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	messages      *prometheus.CounterVec
	failures      *prometheus.CounterVec
	persistErrors prometheus.Counter
	finished      *prometheus.CounterVec
	status        *prometheus.GaugeVec
	total         prometheus.Gauge
	cursor        prometheus.Gauge
	remaining     prometheus.Gauge
	delay         prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "velo_messages_total",
			Help: "Contacts processed, by result.",
		}, []string{"result"}), // result: sent, failed
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "velo_failures_total",
			Help: "Failed contacts, by reason.",
		}, []string{"reason"}),
		persistErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "velo_progress_persist_errors_total",
			Help: "Checkpoint writes that failed.",
		}),
		finished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "velo_campaigns_finished_total",
			Help: "Campaign runs that ended, by final status.",
		}, []string{"status"}),
		status: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "velo_campaign_status",
			Help: "1 for the current engine status, 0 otherwise.",
		}, []string{"status"}),
		total: f.NewGauge(prometheus.GaugeOpts{
			Name: "velo_campaign_contacts",
			Help: "Contacts in the current campaign.",
		}),
		cursor: f.NewGauge(prometheus.GaugeOpts{
			Name: "velo_campaign_cursor",
			Help: "Contacts already processed in the current campaign.",
		}),
		remaining: f.NewGauge(prometheus.GaugeOpts{
			Name: "velo_campaign_remaining",
			Help: "Contacts not yet processed in the current campaign.",
		}),
		delay: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "velo_pacing_delay_seconds",
			Help:    "Scheduled wait between two sends.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Observe folds one engine event into the metrics.
func (m *Metrics) Observe(ev campaign.Event) {
	switch ev.Kind {
	case campaign.EventSent:
		m.messages.WithLabelValues("sent").Inc()
	case campaign.EventFailed:
		m.messages.WithLabelValues("failed").Inc()
		if ev.Failure != nil {
			m.failures.WithLabelValues(string(ev.Failure.Reason)).Inc()
		}
	case campaign.EventWaiting:
		m.delay.Observe(ev.Delay.Seconds())
	case campaign.EventPersistError:
		m.persistErrors.Inc()
	case campaign.EventFinished:
		if ev.Summary != nil {
			m.finished.WithLabelValues(string(ev.Summary.Status)).Inc()
		}
	}
	m.setSnapshot(ev.Snapshot)
}

func (m *Metrics) setSnapshot(s campaign.Snapshot) {
	if s.Status == "" {
		return
	}
	for _, st := range statuses {
		v := 0.0
		if st == s.Status {
			v = 1
		}
		m.status.WithLabelValues(string(st)).Set(v)
	}
	m.total.Set(float64(s.Total))
	m.cursor.Set(float64(s.Cursor))
	m.remaining.Set(float64(s.Remaining()))
}

// Run observes events until ch is closed or ctx is done.
func (m *Metrics) Run(ctx context.Context, ch <-chan campaign.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(ev)
		}
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
