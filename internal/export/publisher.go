// Package export mirrors observations onto NATS subjects.
package export

import (
	"fmt"
	"log/slog"

	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/model"

	"github.com/nats-io/nats.go"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const defaultPrefix = "netmon"

type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes snapshot batches to <prefix>.snapshots and DNS records
// to <prefix>.dns as protobuf-encoded google.protobuf.Struct messages.
type Publisher struct {
	nc     conn
	close  func()
	prefix string
	logger *slog.Logger
}

// NewPublisher connects to the configured NATS server.
func NewPublisher(cfg config.ExportConfig, logger *slog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("netmon"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATSURL, err)
	}
	logger.Info("Connected to NATS server.", "url", cfg.NATSURL)

	p := newPublisher(nc, cfg.SubjectPrefix, logger)
	p.close = func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("Failed to drain NATS connection.", "err", err)
			nc.Close()
			return
		}
		logger.Info("NATS connection drained and closed.")
	}
	return p, nil
}

func newPublisher(nc conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// SnapshotsSubject is the subject snapshot batches are published on.
func (p *Publisher) SnapshotsSubject() string { return p.prefix + ".snapshots" }

// DNSSubject is the subject DNS records are published on.
func (p *Publisher) DNSSubject() string { return p.prefix + ".dns" }

func (p *Publisher) PublishSnapshots(batch model.SnapshotBatch) error {
	msg, err := SnapshotsPayload(batch)
	if err != nil {
		return err
	}
	return p.publish(p.SnapshotsSubject(), msg)
}

func (p *Publisher) PublishDNS(rec model.DNSRecord) error {
	msg, err := DNSPayload(rec)
	if err != nil {
		return err
	}
	return p.publish(p.DNSSubject(), msg)
}

func (p *Publisher) publish(subject string, msg *structpb.Struct) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", subject, err)
	}
	return p.nc.Publish(subject, data)
}

// Close drains and closes the NATS connection.
func (p *Publisher) Close() {
	if p.close != nil {
		p.close()
	}
}

// SnapshotsPayload encodes a batch. Counters become JSON numbers.
func SnapshotsPayload(batch model.SnapshotBatch) (*structpb.Struct, error) {
	ifaces := make([]any, 0, len(batch.Snapshots))
	for _, s := range batch.Snapshots {
		ifaces = append(ifaces, map[string]any{
			"name":           s.Name,
			"bytes_received": s.BytesReceived,
			"bytes_sent":     s.BytesSent,
		})
	}
	msg, err := structpb.NewStruct(map[string]any{
		"timestamp_ms": batch.Timestamp.UnixMilli(),
		"interfaces":   ifaces,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot batch: %w", err)
	}
	return msg, nil
}

// DNSPayload encodes one DNS record.
func DNSPayload(rec model.DNSRecord) (*structpb.Struct, error) {
	answers := make([]any, 0, len(rec.ResponseData))
	for _, a := range rec.ResponseData {
		answers = append(answers, a)
	}
	msg, err := structpb.NewStruct(map[string]any{
		"timestamp_ms":   rec.Timestamp.UnixMilli(),
		"transaction_id": uint32(rec.TransactionID),
		"direction":      rec.Direction.String(),
		"query_domain":   rec.QueryDomain,
		"query_type":     rec.QueryType,
		"response_code":  rec.ResponseCode,
		"response_data":  answers,
		"resolver_ip":    rec.ResolverIP,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode dns record: %w", err)
	}
	return msg, nil
}
