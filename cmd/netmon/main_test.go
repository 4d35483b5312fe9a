package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Go2NetMonitor/internal/model"
	"Go2NetMonitor/internal/store"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	sys := filepath.Join(dir, "sys", "eth0", "statistics")
	if err := os.MkdirAll(sys, 0o755); err != nil {
		t.Fatalf("Failed to create sysfs dir: %v", err)
	}
	for name, content := range map[string]string{
		filepath.Join(dir, "sys", "eth0", "operstate"): "up",
		filepath.Join(sys, "rx_bytes"):                  "4096",
		filepath.Join(sys, "tx_bytes"):                  "1024",
	} {
		if err := os.WriteFile(name, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	dbPath := filepath.Join(dir, "netmon.db")
	cfg := "log_level: error\nsampler:\n  sysfs_root: " + filepath.Join(dir, "sys") + "\nstore:\n  path: " + dbPath + "\n"
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path, dbPath
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("netmon %s failed: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

func TestSampleCommand(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	out := execute(t, "--config", cfgPath, "sample")
	if !strings.Contains(out, "eth0") || !strings.Contains(out, "4096") {
		t.Errorf("Expected eth0 counters in output, got:\n%s", out)
	}
}

func TestQueryAndPruneCommands(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	// 1. Seed the store directly
	ctx := context.Background()
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := st.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	now := time.Now()
	for _, rec := range []model.DNSRecord{
		{Timestamp: now.Add(-time.Minute), QueryDomain: "example.com", QueryType: "A"},
		{Timestamp: now.Add(-time.Minute), QueryDomain: "example.com", QueryType: "A"},
		{Timestamp: now.Add(-30 * time.Second), QueryDomain: "golang.org", QueryType: "AAAA"},
		{Timestamp: now.Add(-48 * time.Hour), QueryDomain: "old.example", QueryType: "A"},
	} {
		if err := st.AddDNSRecord(ctx, rec); err != nil {
			t.Fatalf("AddDNSRecord failed: %v", err)
		}
	}
	_ = st.Close()

	// 2. Top and domain listings only see the window
	out := execute(t, "--config", cfgPath, "query", "top", "--since", "10m")
	if !strings.Contains(out, "example.com") || strings.Contains(out, "old.example") {
		t.Errorf("Unexpected top output:\n%s", out)
	}
	out = execute(t, "--config", cfgPath, "query", "domains", "--since", "72h")
	if strings.TrimSpace(out) != "example.com\ngolang.org\nold.example" {
		t.Errorf("Unexpected domains output:\n%s", out)
	}

	// 3. Prune removes the old row
	out = execute(t, "--config", cfgPath, "prune", "--retention", "24h")
	if !strings.Contains(out, "Pruned 1 rows") {
		t.Errorf("Unexpected prune output: %s", out)
	}
}
