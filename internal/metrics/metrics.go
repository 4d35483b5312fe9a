package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the pipeline health counters. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	Registry *prometheus.Registry

	batchesSampled  prometheus.Counter
	batchesDropped  prometheus.Counter
	packetsDecoded  prometheus.Counter
	packetsDropped  prometheus.Counter
	snapshotsStored prometheus.Counter
	dnsStored       prometheus.Counter
	writeFailures   *prometheus.CounterVec
	queueDrops      *prometheus.CounterVec
	staleReplies    *prometheus.CounterVec
}

// New creates a registry with the process collectors and the pipeline counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		Registry: reg,
		batchesSampled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_sampler_batches_total",
			Help: "Snapshot batches produced by the interface sampler.",
		}),
		batchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_sampler_batches_dropped_total",
			Help: "Snapshot batches dropped because the consumer was behind.",
		}),
		packetsDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_dns_records_decoded_total",
			Help: "DNS records decoded from captured packets.",
		}),
		packetsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_dns_records_dropped_total",
			Help: "Decoded DNS records dropped because the consumer was behind.",
		}),
		snapshotsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_store_snapshots_total",
			Help: "Interface snapshot rows written to the store.",
		}),
		dnsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "netmon_store_dns_records_total",
			Help: "DNS log rows written to the store.",
		}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_store_write_failures_total",
			Help: "Store writes that failed and were dropped.",
		}, []string{"kind"}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_persist_queue_drops_total",
			Help: "Persistence commands dropped because the inbox was full.",
		}, []string{"command"}),
		staleReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "netmon_stale_replies_total",
			Help: "Query replies discarded because a newer request superseded them.",
		}, []string{"stream"}),
	}

	reg.MustRegister(
		m.batchesSampled, m.batchesDropped,
		m.packetsDecoded, m.packetsDropped,
		m.snapshotsStored, m.dnsStored,
		m.writeFailures, m.queueDrops, m.staleReplies,
	)
	return m
}

func (m *Metrics) BatchSampled() {
	if m != nil {
		m.batchesSampled.Inc()
	}
}

func (m *Metrics) BatchDropped() {
	if m != nil {
		m.batchesDropped.Inc()
	}
}

func (m *Metrics) RecordDecoded() {
	if m != nil {
		m.packetsDecoded.Inc()
	}
}

func (m *Metrics) RecordDropped() {
	if m != nil {
		m.packetsDropped.Inc()
	}
}

func (m *Metrics) SnapshotsStored(n int) {
	if m != nil {
		m.snapshotsStored.Add(float64(n))
	}
}

func (m *Metrics) DNSStored() {
	if m != nil {
		m.dnsStored.Inc()
	}
}

// WriteFailed counts a dropped write; kind is "snapshots" or "dns".
func (m *Metrics) WriteFailed(kind string) {
	if m != nil {
		m.writeFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) QueueDropped(command string) {
	if m != nil {
		m.queueDrops.WithLabelValues(command).Inc()
	}
}

func (m *Metrics) StaleReply(stream string) {
	if m != nil {
		m.staleReplies.WithLabelValues(stream).Inc()
	}
}
