package model

import (
	"fmt"
	"time"
)

// InterfaceSnapshot is one reading of an interface's cumulative byte counters.
type InterfaceSnapshot struct {
	Name          string    `json:"name"`
	BytesReceived uint64    `json:"bytes_received"`
	BytesSent     uint64    `json:"bytes_sent"`
	Timestamp     time.Time `json:"timestamp"`
}

// SnapshotBatch holds every snapshot taken during a single sampler tick.
type SnapshotBatch struct {
	Snapshots []InterfaceSnapshot `json:"snapshots"`
	Timestamp time.Time           `json:"timestamp"`
}

// TrafficPoint is a persisted snapshot row for one interface.
type TrafficPoint struct {
	TimestampMs   int64  `json:"timestamp_ms"`
	BytesReceived uint64 `json:"bytes_received"`
	BytesSent     uint64 `json:"bytes_sent"`
}

// Direction tells whether a DNS packet was a query or an answer.
// The numeric values are persisted.
type Direction uint8

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "request"
	case DirectionResponse:
		return "response"
	default:
		return "unknown"
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "request":
		*d = DirectionRequest
	case "response":
		*d = DirectionResponse
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// DNSRecord is a decoded DNS request or response.
// ResponseCode and ResponseData are only set for responses.
type DNSRecord struct {
	Timestamp     time.Time `json:"timestamp"`
	TransactionID uint16    `json:"transaction_id"`
	Direction     Direction `json:"direction"`
	QueryDomain   string    `json:"query_domain"`
	QueryType     string    `json:"query_type"`
	ResponseCode  string    `json:"response_code,omitempty"`
	ResponseData  []string  `json:"response_data,omitempty"`
	ResolverIP    string    `json:"resolver_ip"`
}

// QPSBucket counts DNS requests in a fixed-width window starting at WindowStartMs.
type QPSBucket struct {
	WindowStartMs int64 `json:"window_start_ms"`
	Count         int   `json:"count"`
}

// DomainCount is a domain with its request count over a range.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// SeriesPoint is one derived value on a time axis, e.g. a KB/s rate or a request count.
type SeriesPoint struct {
	TimestampMs int64   `json:"timestamp_ms"`
	Value       float64 `json:"value"`
}

// Millis converts t to milliseconds since the epoch.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}
