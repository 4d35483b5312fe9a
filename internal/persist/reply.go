package persist

import "Go2NetMonitor/internal/model"

// Reply is the answer to a tagged query. The concrete type tells which query
// it answers; ID echoes the caller's request id. A failed query carries an
// empty result and a non-nil Err.
type Reply interface {
	ID() uint64
	Error() error
	isReply()
}

type SnapshotsReply struct {
	RequestID uint64               `json:"id"`
	Interface string               `json:"interface"`
	StartMs   int64                `json:"start_ms"`
	EndMs     int64                `json:"end_ms"`
	Points    []model.TrafficPoint `json:"points"`
	Err       error                `json:"-"`
}

type QPSReply struct {
	RequestID    uint64            `json:"id"`
	StartMs      int64             `json:"start_ms"`
	EndMs        int64             `json:"end_ms"`
	IntervalSecs int               `json:"interval_secs"`
	Buckets      []model.QPSBucket `json:"buckets"`
	Err          error             `json:"-"`
}

type TopDomainsReply struct {
	RequestID uint64              `json:"id"`
	StartMs   int64               `json:"start_ms"`
	EndMs     int64               `json:"end_ms"`
	Domains   []model.DomainCount `json:"domains"`
	Err       error               `json:"-"`
}

type AllDomainsReply struct {
	RequestID uint64   `json:"id"`
	StartMs   int64    `json:"start_ms"`
	EndMs     int64    `json:"end_ms"`
	Domains   []string `json:"domains"`
	Err       error    `json:"-"`
}

type DomainDetailsReply struct {
	RequestID uint64            `json:"id"`
	Domain    string            `json:"domain"`
	StartMs   int64             `json:"start_ms"`
	EndMs     int64             `json:"end_ms"`
	Records   []model.DNSRecord `json:"records"`
	Err       error             `json:"-"`
}

func (r SnapshotsReply) ID() uint64     { return r.RequestID }
func (r QPSReply) ID() uint64           { return r.RequestID }
func (r TopDomainsReply) ID() uint64    { return r.RequestID }
func (r AllDomainsReply) ID() uint64    { return r.RequestID }
func (r DomainDetailsReply) ID() uint64 { return r.RequestID }

func (r SnapshotsReply) Error() error     { return r.Err }
func (r QPSReply) Error() error           { return r.Err }
func (r TopDomainsReply) Error() error    { return r.Err }
func (r AllDomainsReply) Error() error    { return r.Err }
func (r DomainDetailsReply) Error() error { return r.Err }

func (SnapshotsReply) isReply()     {}
func (QPSReply) isReply()           {}
func (TopDomainsReply) isReply()    {}
func (AllDomainsReply) isReply()    {}
func (DomainDetailsReply) isReply() {}
