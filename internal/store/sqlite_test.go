package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"Go2NetMonitor/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "netmon.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return s
}

func snapshotBatch(ms int64, snaps ...model.InterfaceSnapshot) model.SnapshotBatch {
	ts := time.UnixMilli(ms)
	for i := range snaps {
		snaps[i].Timestamp = ts
	}
	return model.SnapshotBatch{Snapshots: snaps, Timestamp: ts}
}

func dnsRequest(ms int64, domain string) model.DNSRecord {
	return model.DNSRecord{
		Timestamp:   time.UnixMilli(ms),
		Direction:   model.DirectionRequest,
		QueryDomain: domain,
		QueryType:   "A",
		ResolverIP:  "8.8.8.8",
	}
}

func TestInit_Idempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Second Init failed: %v", err)
	}
}

func TestOpen_Memory(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := s.AddDNSRecord(ctx, dnsRequest(1, "a.com")); err != nil {
		t.Fatalf("AddDNSRecord failed: %v", err)
	}
	domains, err := s.AllDomains(ctx, 0, 10)
	if err != nil || len(domains) != 1 {
		t.Fatalf("Expected the in-memory row to be visible, got %v (%v)", domains, err)
	}
}

func TestAddSnapshots_UpsertLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// 1. Same (timestamp, interface) written twice
	if err := s.AddSnapshots(ctx, snapshotBatch(1000, model.InterfaceSnapshot{Name: "eth0", BytesReceived: 10, BytesSent: 20})); err != nil {
		t.Fatalf("First AddSnapshots failed: %v", err)
	}
	if err := s.AddSnapshots(ctx, snapshotBatch(1000, model.InterfaceSnapshot{Name: "eth0", BytesReceived: 11, BytesSent: 22})); err != nil {
		t.Fatalf("Second AddSnapshots failed: %v", err)
	}

	// 2. Only the second survives
	points, err := s.SnapshotsInRange(ctx, "eth0", 0, 2000)
	if err != nil {
		t.Fatalf("SnapshotsInRange failed: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("Expected 1 point, got %d", len(points))
	}
	if points[0].BytesReceived != 11 || points[0].BytesSent != 22 {
		t.Errorf("Expected last write (11, 22), got (%d, %d)", points[0].BytesReceived, points[0].BytesSent)
	}
}

func TestAddSnapshots_EmptyBatch(t *testing.T) {
	s := openTestStore(t)
	if err := s.AddSnapshots(context.Background(), model.SnapshotBatch{Timestamp: time.Now()}); err != nil {
		t.Fatalf("Expected empty batch to be a no-op, got %v", err)
	}
}

func TestAddSnapshots_LargeCounters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	big := uint64(1) << 62
	if err := s.AddSnapshots(ctx, snapshotBatch(5, model.InterfaceSnapshot{Name: "eth0", BytesReceived: big, BytesSent: big + 1})); err != nil {
		t.Fatalf("AddSnapshots failed: %v", err)
	}
	points, err := s.SnapshotsInRange(ctx, "eth0", 0, 10)
	if err != nil || len(points) != 1 {
		t.Fatalf("Expected one point, got %v (%v)", points, err)
	}
	if points[0].BytesReceived != big || points[0].BytesSent != big+1 {
		t.Errorf("Counters did not round-trip: %+v", points[0])
	}
}

func TestSnapshotsInRange_SeedRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ms := range []int64{100, 200, 300, 400, 500} {
		b := snapshotBatch(ms,
			model.InterfaceSnapshot{Name: "eth0", BytesReceived: uint64(ms), BytesSent: uint64(ms * 2)},
			model.InterfaceSnapshot{Name: "wlan0", BytesReceived: 1, BytesSent: 1},
		)
		if err := s.AddSnapshots(ctx, b); err != nil {
			t.Fatalf("AddSnapshots(%d) failed: %v", ms, err)
		}
	}

	points, err := s.SnapshotsInRange(ctx, "eth0", 250, 400)
	if err != nil {
		t.Fatalf("SnapshotsInRange failed: %v", err)
	}
	// Latest row before 250 is 200; then 300 and 400 in range.
	want := []int64{200, 300, 400}
	if len(points) != len(want) {
		t.Fatalf("Expected timestamps %v, got %+v", want, points)
	}
	for i, ms := range want {
		if points[i].TimestampMs != ms {
			t.Errorf("Point %d: expected ts %d, got %d", i, ms, points[i].TimestampMs)
		}
	}

	none, err := s.SnapshotsInRange(ctx, "eth9", 0, 1000)
	if err != nil {
		t.Fatalf("SnapshotsInRange for unknown interface failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no points for unknown interface, got %d", len(none))
	}
}

func TestQPSSeries_Buckets(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for _, ms := range []int64{1500, 2500, 11000} {
		if err := s.AddDNSRecord(ctx, dnsRequest(ms, "example.com")); err != nil {
			t.Fatalf("AddDNSRecord failed: %v", err)
		}
	}
	// Responses are not counted.
	resp := dnsRequest(3000, "example.com")
	resp.Direction = model.DirectionResponse
	if err := s.AddDNSRecord(ctx, resp); err != nil {
		t.Fatalf("AddDNSRecord failed: %v", err)
	}

	buckets, err := s.QPSSeries(ctx, 0, 20000, 10)
	if err != nil {
		t.Fatalf("QPSSeries failed: %v", err)
	}
	want := []model.QPSBucket{{WindowStartMs: 0, Count: 2}, {WindowStartMs: 10000, Count: 1}}
	if len(buckets) != len(want) {
		t.Fatalf("Expected %v, got %v", want, buckets)
	}
	for i := range want {
		if buckets[i] != want[i] {
			t.Errorf("Bucket %d: expected %+v, got %+v", i, want[i], buckets[i])
		}
	}

	empty, err := s.QPSSeries(ctx, 0, 20000, 0)
	if err != nil || len(empty) != 0 {
		t.Errorf("Expected no buckets for a zero interval, got %v (%v)", empty, err)
	}
}

func TestTopDomains_OrderAndLimit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	counts := map[string]int{"b.com": 3, "a.com": 3, "c.com": 1, "d.com": 2}
	ms := int64(1000)
	for domain, n := range counts {
		for i := 0; i < n; i++ {
			ms++
			if err := s.AddDNSRecord(ctx, dnsRequest(ms, domain)); err != nil {
				t.Fatalf("AddDNSRecord failed: %v", err)
			}
		}
	}

	top, err := s.TopDomains(ctx, 0, 5000, 3)
	if err != nil {
		t.Fatalf("TopDomains failed: %v", err)
	}
	want := []model.DomainCount{{Domain: "a.com", Count: 3}, {Domain: "b.com", Count: 3}, {Domain: "d.com", Count: 2}}
	if len(top) != len(want) {
		t.Fatalf("Expected %v, got %v", want, top)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("Rank %d: expected %+v, got %+v", i, want[i], top[i])
		}
	}

	all, err := s.TopDomains(ctx, 0, 5000, 0)
	if err != nil {
		t.Fatalf("TopDomains with default limit failed: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected all 4 domains under the default limit, got %d", len(all))
	}
}

func TestDNSRequestResponseStorage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	req := model.DNSRecord{
		Timestamp:     time.UnixMilli(0),
		TransactionID: 42,
		Direction:     model.DirectionRequest,
		QueryDomain:   "example.com",
		QueryType:     "A",
		ResolverIP:    "8.8.8.8",
	}
	resp := req
	resp.Timestamp = time.UnixMilli(5)
	resp.Direction = model.DirectionResponse
	resp.ResponseCode = "NoError"
	resp.ResponseData = []string{"93.184.216.34"}

	for _, r := range []model.DNSRecord{req, resp} {
		if err := s.AddDNSRecord(ctx, r); err != nil {
			t.Fatalf("AddDNSRecord failed: %v", err)
		}
	}

	// Stored text matches the persisted format
	var code, data string
	err := s.db.QueryRow(`SELECT response_code, response_data FROM dns_logs WHERE direction = 0`).Scan(&code, &data)
	if err != nil {
		t.Fatalf("Failed to read request row: %v", err)
	}
	if code != "" || data != "" {
		t.Errorf("Expected empty response fields on the request row, got %q %q", code, data)
	}
	err = s.db.QueryRow(`SELECT response_code, response_data FROM dns_logs WHERE direction = 1`).Scan(&code, &data)
	if err != nil {
		t.Fatalf("Failed to read response row: %v", err)
	}
	if code != "NoError" || data != "93.184.216.34" {
		t.Errorf("Expected NoError/93.184.216.34, got %q %q", code, data)
	}

	details, err := s.DomainDetails(ctx, "example.com", 0, 10)
	if err != nil {
		t.Fatalf("DomainDetails failed: %v", err)
	}
	if len(details) != 2 {
		t.Fatalf("Expected 2 detail rows, got %d", len(details))
	}
	if details[0].Direction != model.DirectionRequest || details[1].Direction != model.DirectionResponse {
		t.Errorf("Expected request then response, got %s then %s", details[0].Direction, details[1].Direction)
	}
	if details[1].TransactionID != 42 || len(details[1].ResponseData) != 1 || details[1].ResponseData[0] != "93.184.216.34" {
		t.Errorf("Unexpected response details: %+v", details[1])
	}
	if details[0].ResponseData != nil {
		t.Errorf("Expected nil answers on the request, got %v", details[0].ResponseData)
	}
}

func TestDomainDetails_MultipleAnswers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	rec := dnsRequest(10, "multi.example")
	rec.Direction = model.DirectionResponse
	rec.ResponseCode = "NoError"
	rec.ResponseData = []string{"edge.example", "10.0.0.1", "10.0.0.2"}
	if err := s.AddDNSRecord(ctx, rec); err != nil {
		t.Fatalf("AddDNSRecord failed: %v", err)
	}

	details, err := s.DomainDetails(ctx, "multi.example", 0, 100)
	if err != nil || len(details) != 1 {
		t.Fatalf("Expected one row, got %v (%v)", details, err)
	}
	if got := details[0].ResponseData; len(got) != 3 || got[1] != "10.0.0.1" {
		t.Errorf("Expected answers split on the separator, got %v", got)
	}
}

func TestAllDomains_DistinctSorted(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for i, d := range []string{"z.com", "a.com", "z.com", "m.com"} {
		if err := s.AddDNSRecord(ctx, dnsRequest(int64(100+i), d)); err != nil {
			t.Fatalf("AddDNSRecord failed: %v", err)
		}
	}
	domains, err := s.AllDomains(ctx, 0, 1000)
	if err != nil {
		t.Fatalf("AllDomains failed: %v", err)
	}
	want := []string{"a.com", "m.com", "z.com"}
	if len(domains) != len(want) {
		t.Fatalf("Expected %v, got %v", want, domains)
	}
	for i := range want {
		if domains[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, domains)
			break
		}
	}
}

func TestPrune_BothTables(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.UnixMilli(100 * 24 * 3600 * 1000)
	old := now.Add(-31 * 24 * time.Hour).UnixMilli()
	recent := now.Add(-time.Hour).UnixMilli()

	for _, ms := range []int64{old, recent} {
		if err := s.AddSnapshots(ctx, snapshotBatch(ms, model.InterfaceSnapshot{Name: "eth0"})); err != nil {
			t.Fatalf("AddSnapshots failed: %v", err)
		}
		if err := s.AddDNSRecord(ctx, dnsRequest(ms, "example.com")); err != nil {
			t.Fatalf("AddDNSRecord failed: %v", err)
		}
	}

	removed, err := s.Prune(ctx, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 rows removed, got %d", removed)
	}

	points, _ := s.SnapshotsInRange(ctx, "eth0", 0, now.UnixMilli())
	if len(points) != 1 || points[0].TimestampMs != recent {
		t.Errorf("Expected only the recent snapshot to survive, got %+v", points)
	}
	buckets, _ := s.QPSSeries(ctx, 0, now.UnixMilli(), 3600)
	if len(buckets) != 1 || buckets[0].Count != 1 {
		t.Errorf("Expected only the recent DNS row to survive, got %+v", buckets)
	}
}

func TestWithTx_RollbackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO traffic_snapshots VALUES (1, 'eth0', 1, 1)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	points, err := s.SnapshotsInRange(ctx, "eth0", 0, 10)
	if err != nil {
		t.Fatalf("SnapshotsInRange failed: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("Expected rollback to discard the insert, got %+v", points)
	}
}
