// Package store keeps interface snapshots and DNS logs in a local SQLite file.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"Go2NetMonitor/internal/model"

	_ "modernc.org/sqlite"
)

// DefaultTopDomains is the row limit used when TopDomains is given no limit.
const DefaultTopDomains = 10

const responseDataSep = ", "

var schema = []string{
	`CREATE TABLE IF NOT EXISTS traffic_snapshots (
	timestamp INTEGER NOT NULL,
	interface_name TEXT NOT NULL,
	bytes_received INTEGER NOT NULL,
	bytes_sent INTEGER NOT NULL,
	PRIMARY KEY (timestamp, interface_name)
)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshot_time ON traffic_snapshots (timestamp)`,
	`CREATE TABLE IF NOT EXISTS dns_logs (
	timestamp INTEGER NOT NULL,
	transaction_id INTEGER,
	direction INTEGER,
	query_domain TEXT,
	query_type TEXT,
	response_code TEXT,
	response_data TEXT,
	resolver_ip TEXT
)`,
	`CREATE INDEX IF NOT EXISTS idx_dns_time ON dns_logs (timestamp)`,
}

// Store wraps the SQLite connection. It is not meant to be shared between
// goroutines; the persistence service is its only user.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path. ":memory:" opens a
// private in-memory database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Init creates the tables and indices if they do not exist.
func (s *Store) Init(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside a transaction. fn returning an error or panicking
// rolls back; otherwise the transaction is committed.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	err = fn(tx)
	return
}

// AddSnapshots upserts every snapshot of the batch in one transaction. A row
// with the same (timestamp, interface) is replaced. An empty batch writes nothing.
func (s *Store) AddSnapshots(ctx context.Context, batch model.SnapshotBatch) error {
	if len(batch.Snapshots) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO traffic_snapshots
			(timestamp, interface_name, bytes_received, bytes_sent) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("failed to prepare snapshot insert: %w", err)
		}
		defer stmt.Close()

		for _, snap := range batch.Snapshots {
			ts := snap.Timestamp
			if ts.IsZero() {
				ts = batch.Timestamp
			}
			if _, err := stmt.ExecContext(ctx, ts.UnixMilli(), snap.Name,
				int64(snap.BytesReceived), int64(snap.BytesSent)); err != nil {
				return fmt.Errorf("failed to insert snapshot for %s: %w", snap.Name, err)
			}
		}
		return nil
	})
}

// AddDNSRecord appends one DNS log row. Duplicates are kept.
func (s *Store) AddDNSRecord(ctx context.Context, rec model.DNSRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO dns_logs
		(timestamp, transaction_id, direction, query_domain, query_type, response_code, response_data, resolver_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixMilli(), int64(rec.TransactionID), int64(rec.Direction),
		rec.QueryDomain, rec.QueryType, rec.ResponseCode,
		strings.Join(rec.ResponseData, responseDataSep), rec.ResolverIP)
	if err != nil {
		return fmt.Errorf("failed to insert dns record: %w", err)
	}
	return nil
}

// SnapshotsInRange returns the points of iface inside [startMs, endMs] plus
// the latest point strictly before startMs, so the first in-range rate can be
// computed. Points are ascending by timestamp.
func (s *Store) SnapshotsInRange(ctx context.Context, iface string, startMs, endMs int64) ([]model.TrafficPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, bytes_received, bytes_sent FROM (
	SELECT * FROM (
		SELECT timestamp, bytes_received, bytes_sent FROM traffic_snapshots
		WHERE interface_name = ? AND timestamp < ?
		ORDER BY timestamp DESC LIMIT 1
	)
	UNION ALL
	SELECT timestamp, bytes_received, bytes_sent FROM traffic_snapshots
	WHERE interface_name = ? AND timestamp BETWEEN ? AND ?
) ORDER BY timestamp ASC`, iface, startMs, iface, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query snapshots for %s: %w", iface, err)
	}
	defer rows.Close()

	var points []model.TrafficPoint
	for rows.Next() {
		var ts, rx, tx int64
		if err := rows.Scan(&ts, &rx, &tx); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		points = append(points, model.TrafficPoint{TimestampMs: ts, BytesReceived: uint64(rx), BytesSent: uint64(tx)})
	}
	return points, rows.Err()
}

// QPSSeries counts DNS requests in floor-aligned buckets of intervalSecs.
// Only non-empty buckets are returned, ascending.
func (s *Store) QPSSeries(ctx context.Context, startMs, endMs int64, intervalSecs int) ([]model.QPSBucket, error) {
	if intervalSecs <= 0 {
		return nil, nil
	}
	width := int64(intervalSecs) * 1000

	rows, err := s.db.QueryContext(ctx, `
SELECT (timestamp / ?) * ? AS bucket, COUNT(*) FROM dns_logs
WHERE direction = ? AND timestamp BETWEEN ? AND ?
GROUP BY bucket ORDER BY bucket ASC`, width, width, int64(model.DirectionRequest), startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query qps series: %w", err)
	}
	defer rows.Close()

	var buckets []model.QPSBucket
	for rows.Next() {
		var b model.QPSBucket
		if err := rows.Scan(&b.WindowStartMs, &b.Count); err != nil {
			return nil, fmt.Errorf("scan qps row: %w", err)
		}
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// TopDomains returns the most requested domains, count descending with ties
// broken by domain name. A limit <= 0 means DefaultTopDomains.
func (s *Store) TopDomains(ctx context.Context, startMs, endMs int64, limit int) ([]model.DomainCount, error) {
	if limit <= 0 {
		limit = DefaultTopDomains
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT query_domain, COUNT(*) AS hits FROM dns_logs
WHERE direction = ? AND timestamp BETWEEN ? AND ?
GROUP BY query_domain ORDER BY hits DESC, query_domain ASC LIMIT ?`,
		int64(model.DirectionRequest), startMs, endMs, limit)
	if err != nil {
		return nil, fmt.Errorf("query top domains: %w", err)
	}
	defer rows.Close()

	var out []model.DomainCount
	for rows.Next() {
		var dc model.DomainCount
		if err := rows.Scan(&dc.Domain, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan top domain row: %w", err)
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// AllDomains returns every distinct queried domain in the range, sorted.
func (s *Store) AllDomains(ctx context.Context, startMs, endMs int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT query_domain FROM dns_logs
WHERE timestamp BETWEEN ? AND ? ORDER BY query_domain ASC`, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan domain row: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DomainDetails returns every request and response logged for domain in the
// range, in insertion order within equal timestamps.
func (s *Store) DomainDetails(ctx context.Context, domain string, startMs, endMs int64) ([]model.DNSRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT timestamp, transaction_id, direction, query_type, response_code, response_data, resolver_ip
FROM dns_logs WHERE query_domain = ? AND timestamp BETWEEN ? AND ?
ORDER BY timestamp ASC, rowid ASC`, domain, startMs, endMs)
	if err != nil {
		return nil, fmt.Errorf("query details for %s: %w", domain, err)
	}
	defer rows.Close()

	var out []model.DNSRecord
	for rows.Next() {
		var (
			ts, txID, dir                 int64
			qtype, rcode, rdata, resolver sql.NullString
		)
		if err := rows.Scan(&ts, &txID, &dir, &qtype, &rcode, &rdata, &resolver); err != nil {
			return nil, fmt.Errorf("scan dns row: %w", err)
		}
		rec := model.DNSRecord{
			Timestamp:     time.UnixMilli(ts),
			TransactionID: uint16(txID),
			Direction:     model.Direction(dir),
			QueryDomain:   domain,
			QueryType:     qtype.String,
			ResponseCode:  rcode.String,
			ResolverIP:    resolver.String,
		}
		if rdata.String != "" {
			rec.ResponseData = strings.Split(rdata.String, responseDataSep)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Prune deletes snapshot and DNS rows older than before and returns how many
// rows were removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UnixMilli()
	var removed int64
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"traffic_snapshots", "dns_logs"} {
			res, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE timestamp < ?", cutoff)
			if err != nil {
				return fmt.Errorf("prune %s: %w", table, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("prune %s: %w", table, err)
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}
