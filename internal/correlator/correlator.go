// Package correlator joins the sampler, the DNS capture and the persistence
// service on a single goroutine that owns all presentation state.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"Go2NetMonitor/internal/metrics"
	"Go2NetMonitor/internal/model"
	"Go2NetMonitor/internal/persist"
)

// ErrStopped is returned by requests made after the event loop has exited.
var ErrStopped = errors.New("correlator stopped")

// ErrInvalidRange is returned for a manual range whose end is not after its start.
var ErrInvalidRange = errors.New("invalid range")

// Persistence is the part of the persistence service the correlator drives.
type Persistence interface {
	AddSnapshots(batch model.SnapshotBatch) error
	AddDNSRecord(rec model.DNSRecord) error
	GetSnapshotsInRange(id uint64, iface string, startMs, endMs int64, reply chan<- persist.Reply) error
	GetQPSSeries(id uint64, startMs, endMs int64, intervalSecs int, reply chan<- persist.Reply) error
	GetTopDomains(id uint64, startMs, endMs int64, limit int, reply chan<- persist.Reply) error
	GetAllDomains(id uint64, startMs, endMs int64, reply chan<- persist.Reply) error
	GetDomainDetails(id uint64, domain string, startMs, endMs int64, reply chan<- persist.Reply) error
}

// Exporter receives a copy of every observation.
type Exporter interface {
	PublishSnapshots(batch model.SnapshotBatch) error
	PublishDNS(rec model.DNSRecord) error
}

// EventKind tells subscribers what an Event carries.
type EventKind string

const (
	EventSnapshots EventKind = "snapshots"
	EventDNS       EventKind = "dns"
)

// Event is a live observation fanned out to subscribers.
type Event struct {
	Kind   EventKind
	Batch  model.SnapshotBatch
	Record model.DNSRecord
}

type trafficState struct {
	view      View
	series    map[string]*Series
	pending   int
	firstMs   int64
	draggable bool
	isolated  string
}

type dnsState struct {
	view      View
	qps       []model.SeriesPoint
	top       []model.DomainCount
	domains   []string
	details   *DomainDetails
	firstMs   int64
	draggable bool
}

// Correlator is the orchestrator. All fields below the channels are only
// touched by the Run goroutine.
type Correlator struct {
	settings Settings
	store    Persistence
	exporter Exporter
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	batches  <-chan model.SnapshotBatch
	records  <-chan model.DNSRecord
	replies  chan persist.Reply
	controls chan func()
	done     chan struct{}

	gens        Generations
	traffic     trafficState
	dns         dnsState
	timers      [2]*time.Timer
	subscribers map[uint64]chan Event
	nextSub     uint64
}

// New creates a correlator reading batches and records from the producers.
func New(settings Settings, store Persistence, batches <-chan model.SnapshotBatch, records <-chan model.DNSRecord, logger *slog.Logger, m *metrics.Metrics) *Correlator {
	return &Correlator{
		settings:    settings,
		store:       store,
		logger:      logger,
		metrics:     m,
		now:         time.Now,
		batches:     batches,
		records:     records,
		replies:     make(chan persist.Reply, 64),
		controls:    make(chan func()),
		done:        make(chan struct{}),
		traffic:     trafficState{series: make(map[string]*Series)},
		subscribers: make(map[uint64]chan Event),
	}
}

// SetExporter forwards every observation to e. It must be called before Run.
func (c *Correlator) SetExporter(e Exporter) {
	c.exporter = e
}

// Done is closed when Run has returned.
func (c *Correlator) Done() <-chan struct{} { return c.done }

// Run loads the initial views and then serves events until ctx is done.
func (c *Correlator) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.closeSubscribers()
	defer c.stopTimers()

	refresh := time.NewTicker(c.settings.DNSRefresh)
	defer refresh.Stop()

	c.logger.Info("Correlator started.")
	c.snapBack(SurfaceTraffic)
	c.snapBack(SurfaceDNS)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Correlator stopped.")
			return nil
		case b, ok := <-c.batches:
			if !ok {
				c.batches = nil
				continue
			}
			c.handleBatch(b)
		case rec, ok := <-c.records:
			if !ok {
				c.records = nil
				continue
			}
			c.handleRecord(rec)
		case r := <-c.replies:
			c.handleReply(r)
		case <-refresh.C:
			if c.dns.view.Mode == Live {
				c.requestDNS()
			}
		case <-c.timerC(SurfaceTraffic):
			c.logger.Info("Snap-back timer fired, resetting to live view.", "surface", SurfaceTraffic)
			c.snapBack(SurfaceTraffic)
		case <-c.timerC(SurfaceDNS):
			c.logger.Info("Snap-back timer fired, resetting to live view.", "surface", SurfaceDNS)
			c.snapBack(SurfaceDNS)
		case fn := <-c.controls:
			fn()
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish. ctx only
// bounds the hand-off; once the loop has taken fn it always runs to the end,
// so do waits for it before returning.
func (c *Correlator) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case c.controls <- func() { fn(); close(finished) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
	<-finished
	return nil
}

// TrafficView returns a copy of the traffic surface.
func (c *Correlator) TrafficView(ctx context.Context) (TrafficView, error) {
	var v TrafficView
	err := c.do(ctx, func() { v = c.trafficView() })
	return v, err
}

// DNSView returns a copy of the DNS surface.
func (c *Correlator) DNSView(ctx context.Context) (DNSView, error) {
	var v DNSView
	err := c.do(ctx, func() { v = c.dnsView() })
	return v, err
}

// InteractionStarted freezes surface on its current range and arms the
// snap-back timer.
func (c *Correlator) InteractionStarted(ctx context.Context, s Surface) error {
	return c.do(ctx, func() { c.interactionStarted(s) })
}

// InteractionFinished loads [startMs, endMs] into surface and re-arms the
// snap-back timer.
func (c *Correlator) InteractionFinished(ctx context.Context, s Surface, startMs, endMs int64) error {
	if endMs <= startMs {
		return fmt.Errorf("%w: end %d is not after start %d", ErrInvalidRange, endMs, startMs)
	}
	return c.do(ctx, func() { c.interactionFinished(s, startMs, endMs) })
}

// SnapBack returns surface to the live view immediately.
func (c *Correlator) SnapBack(ctx context.Context, s Surface) error {
	return c.do(ctx, func() { c.snapBack(s) })
}

// Isolate shows only iface on the traffic surface, or every interface again
// if iface was already isolated. It returns the interface now isolated.
func (c *Correlator) Isolate(ctx context.Context, iface string) (string, error) {
	var isolated string
	err := c.do(ctx, func() {
		if c.traffic.isolated == iface {
			c.traffic.isolated = ""
		} else {
			c.traffic.isolated = iface
		}
		isolated = c.traffic.isolated
	})
	return isolated, err
}

// RequestDomains asks for the distinct domains in the range; the answer
// appears in DNSView. It returns the request id.
func (c *Correlator) RequestDomains(ctx context.Context, startMs, endMs int64) (uint64, error) {
	var id uint64
	err := c.do(ctx, func() {
		id = c.gens.Next(StreamDomains)
		if err := c.store.GetAllDomains(id, startMs, endMs, c.replies); err != nil {
			c.logger.Warn("Failed to request domain list.", "err", err)
		}
	})
	return id, err
}

// RequestDomainDetails asks for every record of domain in the range; the
// answer appears in DNSView. It returns the request id.
func (c *Correlator) RequestDomainDetails(ctx context.Context, domain string, startMs, endMs int64) (uint64, error) {
	var id uint64
	err := c.do(ctx, func() {
		id = c.gens.Next(StreamDomainDetails)
		if err := c.store.GetDomainDetails(id, domain, startMs, endMs, c.replies); err != nil {
			c.logger.Warn("Failed to request domain details.", "domain", domain, "err", err)
		}
	})
	return id, err
}

// Subscribe registers for live events. Events are dropped for a subscriber
// whose buffer is full. The returned func unsubscribes and closes the channel.
func (c *Correlator) Subscribe(ctx context.Context, buffer int) (<-chan Event, func(), error) {
	ch := make(chan Event, buffer)
	var id uint64
	err := c.do(ctx, func() {
		c.nextSub++
		id = c.nextSub
		c.subscribers[id] = ch
	})
	if err != nil {
		return nil, nil, err
	}
	cancel := func() {
		_ = c.do(context.Background(), func() {
			if sub, ok := c.subscribers[id]; ok {
				delete(c.subscribers, id)
				close(sub)
			}
		})
	}
	return ch, cancel, nil
}

func (c *Correlator) closeSubscribers() {
	for id, ch := range c.subscribers {
		delete(c.subscribers, id)
		close(ch)
	}
}

func (c *Correlator) broadcast(ev Event) {
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Correlator) handleBatch(b model.SnapshotBatch) {
	if err := c.store.AddSnapshots(b); err != nil {
		c.logger.Debug("Snapshot batch not queued for storage.", "err", err)
	}
	if c.exporter != nil {
		if err := c.exporter.PublishSnapshots(b); err != nil {
			c.logger.Warn("Failed to export snapshot batch.", "err", err)
		}
	}

	var added []string
	for _, snap := range b.Snapshots {
		if _, ok := c.traffic.series[snap.Name]; !ok && !slices.Contains(added, snap.Name) {
			added = append(added, snap.Name)
		}
	}

	if c.traffic.view.Mode == Live {
		tsMs := b.Timestamp.UnixMilli()
		cutoff := tsMs - c.settings.Retention().Milliseconds()
		for _, snap := range b.Snapshots {
			if s, ok := c.traffic.series[snap.Name]; ok {
				s.Observe(model.TrafficPoint{TimestampMs: tsMs, BytesReceived: snap.BytesReceived, BytesSent: snap.BytesSent}, cutoff)
			}
		}
		c.traffic.view.StartMs = tsMs - c.settings.VisibleWindow.Milliseconds()
		c.traffic.view.EndMs = tsMs
		if c.traffic.firstMs == 0 {
			c.traffic.firstMs = tsMs
		}

		if !c.traffic.draggable && c.traffic.firstMs != 0 && tsMs-c.traffic.firstMs > c.settings.VisibleWindow.Milliseconds() {
			c.traffic.draggable = true
			c.logger.Info("Sufficient data collected, enabling chart dragging.", "surface", SurfaceTraffic)
		}
	}

	if len(added) > 0 {
		for _, name := range added {
			c.traffic.series[name] = &Series{}
			c.logger.Info("Tracking new interface.", "interface", name)
		}
		c.loadTraffic(c.trafficRange())
	}

	c.broadcast(Event{Kind: EventSnapshots, Batch: b})
}

func (c *Correlator) handleRecord(rec model.DNSRecord) {
	if err := c.store.AddDNSRecord(rec); err != nil {
		c.logger.Debug("DNS record not queued for storage.", "err", err)
	}
	if c.exporter != nil {
		if err := c.exporter.PublishDNS(rec); err != nil {
			c.logger.Warn("Failed to export DNS record.", "err", err)
		}
	}
	c.broadcast(Event{Kind: EventDNS, Record: rec})
}

// trafficRange is the range a reload should cover: the moving window when
// live, the picked range when manual.
func (c *Correlator) trafficRange() (int64, int64) {
	if c.traffic.view.Mode == Manual {
		return c.traffic.view.StartMs, c.traffic.view.EndMs
	}
	end := c.now().UnixMilli()
	return end - c.settings.VisibleWindow.Milliseconds(), end
}

func (c *Correlator) loadTraffic(startMs, endMs int64) {
	if len(c.traffic.series) == 0 {
		return
	}
	id := c.gens.Next(StreamTraffic)
	c.traffic.pending = 0
	c.logger.Debug("Requesting traffic load.", "id", id, "start_ms", startMs, "end_ms", endMs)
	for name := range c.traffic.series {
		if err := c.store.GetSnapshotsInRange(id, name, startMs, endMs, c.replies); err != nil {
			c.logger.Warn("Failed to request snapshots.", "interface", name, "err", err)
			continue
		}
		c.traffic.pending++
	}
}

func (c *Correlator) requestDNS() {
	nowMs := c.now().UnixMilli()
	liveStart := nowMs - c.settings.DNSHistory.Milliseconds()

	start, end := liveStart, nowMs
	if c.dns.view.Mode == Manual {
		start, end = c.dns.view.StartMs, c.dns.view.EndMs
	}

	qpsID := c.gens.Next(StreamQPS)
	if err := c.store.GetQPSSeries(qpsID, start, end, int(c.settings.DNSBucket/time.Second), c.replies); err != nil {
		c.logger.Warn("Failed to request QPS series.", "err", err)
	}
	// The table always covers the recent history, whatever the chart shows.
	topID := c.gens.Next(StreamTopDomains)
	if err := c.store.GetTopDomains(topID, liveStart, nowMs, c.settings.TopDomains, c.replies); err != nil {
		c.logger.Warn("Failed to request top domains.", "err", err)
	}
}

func (c *Correlator) handleReply(r persist.Reply) {
	switch r := r.(type) {
	case persist.SnapshotsReply:
		c.applySnapshots(r)
	case persist.QPSReply:
		c.applyQPS(r)
	case persist.TopDomainsReply:
		if c.stale(StreamTopDomains, r.RequestID) {
			return
		}
		c.dns.top = r.Domains
	case persist.AllDomainsReply:
		if c.stale(StreamDomains, r.RequestID) {
			return
		}
		c.dns.domains = r.Domains
	case persist.DomainDetailsReply:
		if c.stale(StreamDomainDetails, r.RequestID) {
			return
		}
		c.dns.details = &DomainDetails{Domain: r.Domain, Records: r.Records}
	}
	if err := r.Error(); err != nil {
		c.logger.Warn("Query failed, showing empty result.", "id", r.ID(), "err", err)
	}
}

func (c *Correlator) stale(s Stream, id uint64) bool {
	if c.gens.Current(s, id) {
		return false
	}
	c.metrics.StaleReply(s.String())
	c.logger.Debug("Ignoring stale reply.", "stream", s, "id", id, "current", c.gens.Latest(s))
	return true
}

func (c *Correlator) applySnapshots(r persist.SnapshotsReply) {
	if c.stale(StreamTraffic, r.RequestID) {
		return
	}

	if s, ok := c.traffic.series[r.Interface]; ok {
		sorted := sortTraffic(r.Points)
		upload, download := BuildRateSeries(sorted, c.settings.GapThreshold)
		var last *model.TrafficPoint
		if len(sorted) >= 2 {
			if c.traffic.firstMs == 0 || sorted[1].TimestampMs < c.traffic.firstMs {
				c.traffic.firstMs = sorted[1].TimestampMs
			}
			last = &sorted[len(sorted)-1]
		}
		s.Replace(upload, download, last)
	}

	c.traffic.pending--
	if c.traffic.pending <= 0 && c.traffic.view.Mode == Live {
		end := c.now().UnixMilli()
		c.traffic.view.StartMs = end - c.settings.VisibleWindow.Milliseconds()
		c.traffic.view.EndMs = end
	}
}

func (c *Correlator) applyQPS(r persist.QPSReply) {
	if c.stale(StreamQPS, r.RequestID) {
		return
	}

	if !c.dns.draggable && len(r.Buckets) > 0 {
		if c.dns.firstMs == 0 {
			c.dns.firstMs = r.Buckets[0].WindowStartMs
		}
		if c.now().UnixMilli()-c.dns.firstMs > c.settings.DNSHistory.Milliseconds() {
			c.dns.draggable = true
			c.logger.Info("Sufficient data collected, enabling chart dragging.", "surface", SurfaceDNS)
		}
	}

	c.dns.qps = FillBuckets(r.Buckets, r.StartMs, r.EndMs, time.Duration(r.IntervalSecs)*time.Second)
	if c.dns.view.Mode == Live {
		c.dns.view.StartMs, c.dns.view.EndMs = r.StartMs, r.EndMs
	}
}

func (c *Correlator) interactionStarted(s Surface) {
	v := c.viewOf(s)
	if v.Mode == Live {
		v.Mode = Manual
		c.logger.Info("Interaction started, pausing live updates.", "surface", s)
	}
	c.armSnapBack(s)
}

func (c *Correlator) interactionFinished(s Surface, startMs, endMs int64) {
	v := c.viewOf(s)
	v.Mode = Manual
	v.StartMs, v.EndMs = startMs, endMs
	c.logger.Info("Interaction finished, loading the new range.", "surface", s, "start_ms", startMs, "end_ms", endMs)

	if s == SurfaceTraffic {
		c.loadTraffic(startMs, endMs)
	} else {
		c.requestDNS()
	}
	c.armSnapBack(s)
}

func (c *Correlator) snapBack(s Surface) {
	c.disarmSnapBack(s)
	v := c.viewOf(s)
	v.Mode = Live

	if s == SurfaceTraffic {
		start, end := c.trafficRange()
		v.StartMs, v.EndMs = start, end
		c.loadTraffic(start, end)
		return
	}
	c.requestDNS()
}

func (c *Correlator) viewOf(s Surface) *View {
	if s == SurfaceDNS {
		return &c.dns.view
	}
	return &c.traffic.view
}

func (c *Correlator) armSnapBack(s Surface) {
	if c.timers[s] == nil {
		c.timers[s] = time.NewTimer(c.settings.SnapBackTimeout)
		return
	}
	c.timers[s].Reset(c.settings.SnapBackTimeout)
}

func (c *Correlator) disarmSnapBack(s Surface) {
	if c.timers[s] != nil {
		c.timers[s].Stop()
	}
}

func (c *Correlator) timerC(s Surface) <-chan time.Time {
	if c.timers[s] == nil {
		return nil
	}
	return c.timers[s].C
}

func (c *Correlator) stopTimers() {
	for _, t := range c.timers {
		if t != nil {
			t.Stop()
		}
	}
}

func (c *Correlator) trafficView() TrafficView {
	names := make([]string, 0, len(c.traffic.series))
	for name := range c.traffic.series {
		names = append(names, name)
	}
	sort.Strings(names)

	v := TrafficView{
		View:       c.traffic.view,
		Draggable:  c.traffic.draggable,
		Isolated:   c.traffic.isolated,
		Interfaces: make([]InterfaceRates, 0, len(names)),
	}
	var visible [][]model.SeriesPoint
	for _, name := range names {
		s := c.traffic.series[name]
		rates := InterfaceRates{
			Name:     name,
			Visible:  c.traffic.isolated == "" || c.traffic.isolated == name,
			Upload:   slices.Clone(s.Upload),
			Download: slices.Clone(s.Download),
		}
		if rates.Visible {
			visible = append(visible, rates.Upload, rates.Download)
		}
		v.Interfaces = append(v.Interfaces, rates)
	}
	v.ScaleMax = scaleMax(minTrafficScale, v.View.StartMs, v.View.EndMs, visible...)
	return v
}

func (c *Correlator) dnsView() DNSView {
	v := DNSView{
		View:       c.dns.view,
		Draggable:  c.dns.draggable,
		QPS:        slices.Clone(c.dns.qps),
		TopDomains: slices.Clone(c.dns.top),
		Domains:    slices.Clone(c.dns.domains),
	}
	if c.dns.details != nil {
		records := make([]model.DNSRecord, len(c.dns.details.Records))
		for i, rec := range c.dns.details.Records {
			rec.ResponseData = slices.Clone(rec.ResponseData)
			records[i] = rec
		}
		v.Details = &DomainDetails{Domain: c.dns.details.Domain, Records: records}
	}
	v.ScaleMax = scaleMax(minDNSScale, v.View.StartMs, v.View.EndMs, v.QPS)
	return v
}
