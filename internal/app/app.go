// Package app wires configuration, logging, storage, transport and the
// campaign engine into one process and runs a campaign end to end.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"velo/internal/campaign"
	"velo/internal/config"
	"velo/internal/control"
	"velo/internal/metrics"
	"velo/internal/notify"
	"velo/internal/pacing"
	"velo/internal/progress"
	"velo/internal/transport"
	"velo/internal/transport/dryrun"
	"velo/internal/transport/whatsweb"
	logx "velo/pkg/logx"
)

type Options struct {
	ConfigPath string
	// DryRun replaces the configured transport with the simulated one.
	DryRun bool
	// Transport, when set, is used instead of the configured transport.
	Transport transport.Transport
}

type App struct {
	cfgm *config.Manager
	cfg  *config.Config

	logs *logx.Service
	log  logx.Logger

	params  pacing.Params
	store   progress.Store
	tr      transport.Transport
	engine  *campaign.Engine
	metrics *metrics.Metrics
	notif   *notify.Notifier
	control *control.Server
	sd      *sdNotifier

	sup *Supervisor
}

func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logs, log := logx.NewService(cfg.LogConfig())
	a := &App{cfgm: cfgm, cfg: cfg, logs: logs, log: log.With(logx.String("comp", "app"))}
	cfgm.SetLogger(log.With(logx.String("comp", "config")))
	a.sd = newSDNotifier(a.log)

	if err := a.wire(opts); err != nil {
		_ = a.closeStore()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(opts Options) error {
	cfg := a.cfg
	log := a.logs.Logger()

	params, err := cfg.PacingParams()
	if err != nil {
		return err
	}
	a.params = params
	pacer, err := pacing.New(params, nil)
	if err != nil {
		return err
	}

	pc, err := cfg.ProgressConfig()
	if err != nil {
		return err
	}
	if a.store, err = progress.Open(pc, log.With(logx.String("comp", "progress"))); err != nil {
		return err
	}

	switch {
	case opts.Transport != nil:
		a.tr = opts.Transport
	case opts.DryRun:
		a.tr = newDryRun(cfg, log)
	default:
		if a.tr, err = newTransport(cfg, log); err != nil {
			return err
		}
	}

	ec, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	if a.engine, err = campaign.New(ec, pacer, a.tr, a.store, campaign.WithLogger(log)); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
	}

	if t := cfg.Notify.Telegram; t.Enabled {
		tg, err := notify.NewTelegram(t.Token, t.ChatID, t.ThreadID)
		if err != nil {
			return fmt.Errorf("notify.telegram: %w", err)
		}
		a.notif = notify.New(notify.Config{
			Summary:       t.Summary,
			ProgressEvery: t.ProgressEvery,
			RetryMax:      2,
		}, tg, log)
		a.logs.SetAlertSender(a.notif)
	}

	if cfg.Control.Enabled {
		cc := control.Config{Addr: cfg.Control.Addr, Token: cfg.Control.Token, Pprof: cfg.Control.Pprof}
		if a.metrics != nil {
			cc.Metrics = a.metrics.Handler()
			cc.MetricsPath = cfg.Metrics.Path
		}
		a.control = control.NewServer(cc, a.engine, log)
	}
	return nil
}

func newDryRun(cfg *config.Config, log logx.Logger) transport.Transport {
	latency, _ := config.ParseDurationField("transport.dryrun.latency", cfg.Transport.DryRun.Latency)
	return dryrun.New(dryrun.Config{
		Latency:   latency,
		Reject:    cfg.Transport.DryRun.Reject,
		FailEvery: cfg.Transport.DryRun.FailEvery,
	}, log)
}

func newTransport(cfg *config.Config, log logx.Logger) (transport.Transport, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Transport.Driver)) {
	case "dryrun":
		return newDryRun(cfg, log), nil
	case "whatsweb", "":
		w := cfg.Transport.WhatsWeb
		login, err := config.ParseDurationOrDefault("transport.whatsweb.login_timeout", w.LoginTimeout, 2*time.Minute)
		if err != nil {
			return nil, err
		}
		page, err := config.ParseDurationOrDefault("transport.whatsweb.page_timeout", w.PageTimeout, 15*time.Second)
		if err != nil {
			return nil, err
		}
		return whatsweb.New(whatsweb.Config{
			ProfileDir:   w.ProfileDir,
			Headless:     w.Headless,
			BrowserBin:   w.BrowserBin,
			BaseURL:      w.BaseURL,
			LoginTimeout: login,
			PageTimeout:  page,
		}, log), nil
	default:
		return nil, fmt.Errorf("transport.driver: unknown driver %q", cfg.Transport.Driver)
	}
}

func (a *App) Config() *config.Config         { return a.cfg }
func (a *App) Logger() logx.Logger            { return a.log }
func (a *App) Engine() *campaign.Engine       { return a.engine }
func (a *App) Store() progress.Store          { return a.store }
func (a *App) Transport() transport.Transport { return a.tr }
func (a *App) Pacing() pacing.Params          { return a.params }

// Start launches the background loops: config watch, control server and the
// event bridges to metrics, notifications and systemd.
func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, a.log)

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
	reloads := a.cfgm.Subscribe(4)
	a.sup.Go("config.apply", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(reloads)
		a.applyLoop(c, reloads)
		return nil
	})

	if a.control != nil {
		if err := a.control.Start(ctx); err != nil {
			return fmt.Errorf("control: %w", err)
		}
	}

	if a.metrics != nil {
		events, unsub := a.engine.Subscribe(256)
		a.sup.Go("metrics.bridge", func(c context.Context) error {
			defer unsub()
			a.metrics.Run(c, events)
			return nil
		})
	}
	if a.notif != nil {
		events, unsub := a.engine.Subscribe(64)
		a.sup.Go("notify.bridge", func(c context.Context) error {
			defer unsub()
			a.notif.Run(c, events, a.engine.Failures)
			return nil
		})
	}
	events, unsub := a.engine.Subscribe(64)
	a.sup.Go("systemd.bridge", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				a.sd.Observe(ev)
			}
		}
	})

	a.sd.Ready()
	return nil
}

// applyLoop applies live sections of reloaded configs. Everything else is
// captured when a campaign starts.
func (a *App) applyLoop(ctx context.Context, ch <-chan *config.Config) {
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-ch:
			if !ok {
				return
			}
			sections, fields := config.SummarizeChange(applied, next)
			if len(sections) == 0 {
				a.log.Debug("config reload without effective changes")
				continue
			}
			a.log.Info("config changed", append([]logx.Field{logx.String("sections", strings.Join(sections, ","))}, fields...)...)
			for _, s := range sections {
				if !config.LiveSections[s] {
					a.log.Warn("config section changed; takes effect on next start", logx.String("section", s))
				}
			}
			a.logs.Apply(next.LogConfig())
			applied = next
		}
	}
}

// WaitSchedule blocks until the next activation of campaign.schedule. It
// returns immediately when no schedule is configured.
func (a *App) WaitSchedule(ctx context.Context) error {
	sched, err := a.cfg.CronSchedule()
	if err != nil || sched == nil {
		return err
	}
	next := sched.Next(time.Now())
	if next.IsZero() {
		return errors.New("campaign.schedule never fires")
	}
	a.log.Info("waiting for scheduled start", logx.Time("at", next), logx.Duration("in", time.Until(next).Round(time.Second)))
	a.sd.Status("waiting for schedule " + next.Format(time.RFC3339))
	t := time.NewTimer(time.Until(next))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run opens the transport session, runs plan to its end and returns the
// summary. Cancelling ctx stops the campaign gracefully; its progress is kept.
func (a *App) Run(ctx context.Context, plan campaign.Plan) (campaign.Summary, error) {
	if err := transport.Open(ctx, a.tr); err != nil {
		return campaign.Summary{}, err
	}
	defer func() {
		if err := transport.Close(a.tr); err != nil {
			a.log.Warn("transport close failed", logx.Err(err))
		}
	}()

	if err := a.engine.Start(ctx, plan); err != nil {
		return campaign.Summary{}, err
	}
	snap := a.engine.Snapshot()
	a.log.Info("campaign estimate",
		logx.Int("remaining", snap.Remaining()),
		logx.Duration("eta", pacing.Estimate(a.params, snap.Remaining()).Round(time.Second)),
		logx.String("pacing", string(a.params.Mode)),
	)

	<-a.engine.Done()
	return a.engine.Wait(context.Background())
}

// Close stops background loops and releases the store and log sinks.
func (a *App) Close(ctx context.Context) error {
	a.sd.Stopping()
	var errs []error
	if a.control != nil {
		if err := a.control.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeStore(); err != nil {
		errs = append(errs, err)
	}
	if err := a.logs.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeStore() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}
