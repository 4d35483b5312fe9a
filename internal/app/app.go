// Package app wires the sampler, DNS capture, persistence service, correlator
// and API into one process and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"Go2NetMonitor/internal/api"
	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/correlator"
	"Go2NetMonitor/internal/dnscap"
	"Go2NetMonitor/internal/export"
	"Go2NetMonitor/internal/logging"
	"Go2NetMonitor/internal/metrics"
	"Go2NetMonitor/internal/model"
	"Go2NetMonitor/internal/persist"
	"Go2NetMonitor/internal/sampler"

	"golang.org/x/sync/errgroup"
)

// App is one running monitor.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	store      *persist.Service
	sampler    *sampler.Sampler
	capture    *dnscap.Capture
	correlator *correlator.Correlator
	publisher  *export.Publisher
	api        *api.Server
}

// New builds every component from cfg. Nothing runs until Run.
func New(cfg *config.Config) *App {
	m := metrics.New()
	batches := make(chan model.SnapshotBatch, cfg.Sampler.QueueSize)
	records := make(chan model.DNSRecord, cfg.DNS.QueueSize)

	a := &App{
		cfg:     cfg,
		logger:  logging.Component("app"),
		metrics: m,
		store:   persist.New(cfg.Store, logging.Component("persist"), m),
		sampler: sampler.New(NewSource(cfg.Sampler), cfg.Sampler.IgnorePrefixes, batches, logging.Component("sampler"), m),
		capture: dnscap.NewCapture(cfg.DNS, records, logging.Component("dnscap"), m),
	}
	a.correlator = correlator.New(correlator.SettingsFromConfig(cfg.View), a.store, batches, records, logging.Component("correlator"), m)

	if cfg.API.Enabled {
		a.api = api.New(cfg.API, api.Deps{
			Orchestrator: a.correlator,
			Querier:      a.store,
			Sampler:      &samplerControl{s: a.sampler, interval: config.Duration(cfg.Sampler.Interval)},
			Capture:      a.capture,
			Metrics:      m,
		}, cfg.View.TopDomains, logging.Component("api"))
	}
	return a
}

// NewSource selects the interface counter source named in cfg.
func NewSource(cfg config.SamplerConfig) sampler.Source {
	if cfg.Source == "netlink" {
		return sampler.NetlinkSource{}
	}
	return sampler.NewSysfsSource(cfg.SysfsRoot)
}

// samplerControl binds the configured interval so the API can start the sampler.
type samplerControl struct {
	s        *sampler.Sampler
	interval time.Duration
}

func (c *samplerControl) Start() error  { c.s.Start(c.interval); return nil }
func (c *samplerControl) Stop()         { c.s.Stop() }
func (c *samplerControl) Running() bool { return c.s.Running() }

// Run starts the persistence service and waits for it to come up, then starts
// the producers, the correlator and the API. It blocks until ctx is cancelled
// and returns an error only if a component fails.
func (a *App) Run(ctx context.Context) error {
	storeCtx, stopStore := context.WithCancel(context.Background())
	defer stopStore()
	go func() { _ = a.store.Run(storeCtx) }()

	select {
	case <-a.store.Ready():
		a.logger.Info("Persistence service ready.", "path", a.cfg.Store.Path)
	case err := <-a.store.Failed():
		return fmt.Errorf("persistence service failed to start: %w", err)
	case <-ctx.Done():
		a.store.Close()
		return nil
	}

	if a.cfg.Export.NATSURL != "" {
		pub, err := export.NewPublisher(a.cfg.Export, logging.Component("export"))
		if err != nil {
			a.logger.Warn("NATS export disabled.", "err", err)
		} else {
			a.publisher = pub
			a.correlator.SetExporter(pub)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.correlator.Run(gctx) })
	if a.api != nil {
		g.Go(func() error { return a.api.Run(gctx) })
	}

	a.sampler.Start(config.Duration(a.cfg.Sampler.Interval))
	if a.cfg.DNS.Enabled {
		if err := a.capture.Start(); err != nil {
			a.logger.Error("DNS capture unavailable, continuing without it.", "err", err)
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		a.shutdown()
		return nil
	})
	return g.Wait()
}

// shutdown stops the producers and the persistence service, giving each the
// configured grace period. A component that overruns it is left behind.
func (a *App) shutdown() {
	grace := config.Duration(a.cfg.ShutdownGrace)
	a.logger.Info("Shutting down.", "grace", grace)

	a.sampler.Stop()
	a.capture.Stop()
	a.waitFor("sampler", a.sampler.Done(), grace)
	a.waitFor("dnscap", a.capture.Done(), grace)

	a.store.Close()
	a.waitFor("persist", a.store.Done(), grace)

	if a.publisher != nil {
		a.publisher.Close()
	}
}

func (a *App) waitFor(name string, done <-chan struct{}, grace time.Duration) {
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		a.logger.Warn("Component did not stop within the grace period.", "component", name, "grace", grace)
	}
}
