package sampler

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"Go2NetMonitor/internal/metrics"
	"Go2NetMonitor/internal/model"
)

// Sampler polls a Source on a fixed period and emits one SnapshotBatch per tick.
type Sampler struct {
	src            Source
	ignorePrefixes []string
	out            chan<- model.SnapshotBatch
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	mu      sync.Mutex
	ticker  *time.Ticker
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// New creates a sampler that writes batches to out.
func New(src Source, ignorePrefixes []string, out chan<- model.SnapshotBatch, logger *slog.Logger, m *metrics.Metrics) *Sampler {
	closed := make(chan struct{})
	close(closed)
	return &Sampler{
		src:            src,
		ignorePrefixes: ignorePrefixes,
		out:            out,
		logger:         logger,
		metrics:        m,
		now:            time.Now,
		doneCh:         closed,
	}
}

// Start begins periodic emission. Calling Start on a running sampler only
// re-arms the ticker with the new interval.
func (s *Sampler) Start(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.ticker.Reset(interval)
		s.logger.Info("Sampler interval re-armed.", "interval", interval)
		return
	}

	s.ticker = time.NewTicker(interval)
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true

	go s.run(s.ticker, s.stopCh, s.doneCh)
	s.logger.Info("Sampler started.", "interval", interval)
}

// Stop halts emission. It is safe to call on a stopped sampler.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.ticker.Stop()
	close(s.stopCh)
	s.logger.Info("Sampler stopping.")
}

// Running reports whether the tick loop is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Done is closed once the most recently started tick loop has exited.
func (s *Sampler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doneCh
}

func (s *Sampler) run(ticker *time.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-stop:
			return
		}
	}
}

func (s *Sampler) tick() {
	batch, err := s.Collect()
	if err != nil {
		s.logger.Warn("Failed to collect interface stats.", "err", err)
		return
	}
	s.metrics.BatchSampled()

	select {
	case s.out <- batch:
	default:
		s.metrics.BatchDropped()
		s.logger.Warn("Snapshot consumer is behind, dropping batch.", "interfaces", len(batch.Snapshots))
	}
}

// Collect takes one synchronous sample of every eligible interface.
func (s *Sampler) Collect() (model.SnapshotBatch, error) {
	links, err := s.src.Links()
	if err != nil {
		return model.SnapshotBatch{}, err
	}

	ts := s.now()
	batch := model.SnapshotBatch{Timestamp: ts}
	for _, l := range links {
		if s.ignored(l.Name) || !operational(l.OperState) {
			continue
		}
		batch.Snapshots = append(batch.Snapshots, model.InterfaceSnapshot{
			Name:          l.Name,
			BytesReceived: l.RxBytes,
			BytesSent:     l.TxBytes,
			Timestamp:     ts,
		})
	}
	s.logger.Debug("Collected interface stats.", "interfaces", len(batch.Snapshots))
	return batch, nil
}

func (s *Sampler) ignored(name string) bool {
	for _, prefix := range s.ignorePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// operational treats "unknown" like "up"; PPP and tun links report it.
func operational(state string) bool {
	return state == "up" || state == "unknown"
}
