// Package persist runs the store behind a command inbox so that only one
// goroutine ever touches the database.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/metrics"
	"Go2NetMonitor/internal/model"
	"Go2NetMonitor/internal/store"
)

// DefaultRetention is used when the configured retention is unset.
const DefaultRetention = 30 * 24 * time.Hour

// ErrQueueFull is returned when a command is dropped because the inbox is full.
var ErrQueueFull = errors.New("persistence queue is full")

type command struct {
	name  string
	write bool
	run   func(ctx context.Context, st *store.Store)
}

// Service owns the store. Writes are fire-and-forget; queries answer on the
// caller's reply channel with the caller's request id.
type Service struct {
	cfg     config.StoreConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	inbox     chan command
	ready     chan struct{}
	failed    chan error
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a service. Nothing is opened until Run.
func New(cfg config.StoreConfig, logger *slog.Logger, m *metrics.Metrics) *Service {
	size := cfg.QueueSize
	if size <= 0 {
		size = 4096
	}
	return &Service{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		inbox:   make(chan command, size),
		ready:   make(chan struct{}),
		failed:  make(chan error, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Ready is closed once the store is open, the schema exists and old rows are pruned.
func (s *Service) Ready() <-chan struct{} { return s.ready }

// Failed receives the initialization error, at most once.
func (s *Service) Failed() <-chan error { return s.failed }

// Done is closed when Run has returned.
func (s *Service) Done() <-chan struct{} { return s.done }

// Close asks Run to flush queued writes and return.
func (s *Service) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// Run initializes the store and serves commands until ctx is done or Close
// is called. Queued writes are flushed before it returns.
func (s *Service) Run(ctx context.Context) error {
	defer close(s.done)

	st, err := s.initialize(ctx)
	if err != nil {
		s.logger.Error("Persistence initialization failed.", "path", s.cfg.Path, "err", err)
		s.failed <- err
		return err
	}
	defer st.Close()
	close(s.ready)
	s.logger.Info("Persistence service ready.", "path", s.cfg.Path)

	for {
		select {
		case cmd := <-s.inbox:
			cmd.run(ctx, st)
		case <-ctx.Done():
			s.flush(st)
			return nil
		case <-s.closing:
			s.flush(st)
			return nil
		}
	}
}

func (s *Service) initialize(ctx context.Context) (*store.Store, error) {
	st, err := store.Open(s.cfg.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		st.Close()
		return nil, err
	}

	retention := config.Duration(s.cfg.Retention)
	if retention <= 0 {
		retention = DefaultRetention
	}
	removed, err := st.Prune(ctx, s.now().Add(-retention))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to prune old rows: %w", err)
	}
	if removed > 0 {
		s.logger.Info("Pruned expired rows.", "rows", removed, "retention", retention)
	}
	return st, nil
}

// flush applies the writes still queued; pending queries are dropped since
// nobody is left to read their replies.
func (s *Service) flush(st *store.Store) {
	ctx := context.Background()
	flushed := 0
	for {
		select {
		case cmd := <-s.inbox:
			if cmd.write {
				cmd.run(ctx, st)
				flushed++
			}
		default:
			if flushed > 0 {
				s.logger.Info("Flushed queued writes.", "count", flushed)
			}
			return
		}
	}
}

func (s *Service) enqueue(cmd command) error {
	select {
	case s.inbox <- cmd:
		return nil
	default:
		s.metrics.QueueDropped(cmd.name)
		s.logger.Warn("Persistence queue is full, dropping command.", "command", cmd.name)
		return ErrQueueFull
	}
}

func (s *Service) deliver(ctx context.Context, reply chan<- Reply, r Reply) {
	select {
	case reply <- r:
	case <-ctx.Done():
	case <-s.closing:
	}
}

// AddSnapshots queues a batch for upsert. Failures are logged and dropped.
func (s *Service) AddSnapshots(batch model.SnapshotBatch) error {
	return s.enqueue(command{name: "add_snapshots", write: true, run: func(ctx context.Context, st *store.Store) {
		if err := st.AddSnapshots(ctx, batch); err != nil {
			s.metrics.WriteFailed("snapshots")
			s.logger.Warn("Failed to store snapshot batch.", "interfaces", len(batch.Snapshots), "err", err)
			return
		}
		s.metrics.SnapshotsStored(len(batch.Snapshots))
	}})
}

// AddDNSRecord queues one DNS log row. Failures are logged and dropped.
func (s *Service) AddDNSRecord(rec model.DNSRecord) error {
	return s.enqueue(command{name: "add_dns_record", write: true, run: func(ctx context.Context, st *store.Store) {
		if err := st.AddDNSRecord(ctx, rec); err != nil {
			s.metrics.WriteFailed("dns")
			s.logger.Warn("Failed to store DNS record.", "domain", rec.QueryDomain, "err", err)
			return
		}
		s.metrics.DNSStored()
	}})
}

func (s *Service) GetSnapshotsInRange(id uint64, iface string, startMs, endMs int64, reply chan<- Reply) error {
	return s.enqueue(command{name: "get_snapshots", run: func(ctx context.Context, st *store.Store) {
		points, err := st.SnapshotsInRange(ctx, iface, startMs, endMs)
		if err != nil {
			s.logger.Warn("Snapshot query failed.", "interface", iface, "err", err)
			points = nil
		}
		s.deliver(ctx, reply, SnapshotsReply{RequestID: id, Interface: iface, StartMs: startMs, EndMs: endMs, Points: points, Err: err})
	}})
}

func (s *Service) GetQPSSeries(id uint64, startMs, endMs int64, intervalSecs int, reply chan<- Reply) error {
	return s.enqueue(command{name: "get_qps", run: func(ctx context.Context, st *store.Store) {
		buckets, err := st.QPSSeries(ctx, startMs, endMs, intervalSecs)
		if err != nil {
			s.logger.Warn("QPS query failed.", "err", err)
			buckets = nil
		}
		s.deliver(ctx, reply, QPSReply{RequestID: id, StartMs: startMs, EndMs: endMs, IntervalSecs: intervalSecs, Buckets: buckets, Err: err})
	}})
}

// GetTopDomains answers with at most limit domains; limit <= 0 uses the store default.
func (s *Service) GetTopDomains(id uint64, startMs, endMs int64, limit int, reply chan<- Reply) error {
	return s.enqueue(command{name: "get_top_domains", run: func(ctx context.Context, st *store.Store) {
		domains, err := st.TopDomains(ctx, startMs, endMs, limit)
		if err != nil {
			s.logger.Warn("Top domains query failed.", "err", err)
			domains = nil
		}
		s.deliver(ctx, reply, TopDomainsReply{RequestID: id, StartMs: startMs, EndMs: endMs, Domains: domains, Err: err})
	}})
}

func (s *Service) GetAllDomains(id uint64, startMs, endMs int64, reply chan<- Reply) error {
	return s.enqueue(command{name: "get_all_domains", run: func(ctx context.Context, st *store.Store) {
		domains, err := st.AllDomains(ctx, startMs, endMs)
		if err != nil {
			s.logger.Warn("Domain list query failed.", "err", err)
			domains = nil
		}
		s.deliver(ctx, reply, AllDomainsReply{RequestID: id, StartMs: startMs, EndMs: endMs, Domains: domains, Err: err})
	}})
}

func (s *Service) GetDomainDetails(id uint64, domain string, startMs, endMs int64, reply chan<- Reply) error {
	return s.enqueue(command{name: "get_domain_details", run: func(ctx context.Context, st *store.Store) {
		records, err := st.DomainDetails(ctx, domain, startMs, endMs)
		if err != nil {
			s.logger.Warn("Domain details query failed.", "domain", domain, "err", err)
			records = nil
		}
		s.deliver(ctx, reply, DomainDetailsReply{RequestID: id, Domain: domain, StartMs: startMs, EndMs: endMs, Records: records, Err: err})
	}})
}
