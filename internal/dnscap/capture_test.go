package dnscap

import (
	"testing"
	"time"

	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/logging"
	"Go2NetMonitor/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

func TestCapture_EmitDropsWhenConsumerBehind(t *testing.T) {
	out := make(chan model.DNSRecord, 1)
	c := NewCapture(config.Default().DNS, out, logging.Discard(), nil)
	fixed := time.UnixMilli(1_700_000_000_000)
	c.now = func() time.Time { return fixed }

	req := udpPacket(t, clientIP, resolverIP, 53001, 53, exampleRequest())
	c.emit(req, nil)
	c.emit(req, nil)
	c.emit(udpPacket(t, clientIP, resolverIP, 53001, 9999, gopacket.Payload([]byte("x"))), nil)

	if len(out) != 1 {
		t.Fatalf("Expected one buffered record, got %d", len(out))
	}
	if rec := <-out; !rec.Timestamp.Equal(fixed) {
		t.Errorf("Expected decode time %v, got %v", fixed, rec.Timestamp)
	}
}

func TestCapture_StopWithoutStart(t *testing.T) {
	c := NewCapture(config.Default().DNS, make(chan model.DNSRecord, 1), logging.Discard(), nil)
	c.Stop()
	if c.Running() {
		t.Error("Expected a never-started capture to report stopped")
	}
	select {
	case <-c.Done():
	default:
		t.Error("Expected Done to be closed before any Start")
	}
}

func TestReadTimeout(t *testing.T) {
	cfg := config.Default().DNS
	if got := readTimeout(cfg); got != 500*time.Millisecond {
		t.Errorf("Expected the configured 500ms, got %s", got)
	}
	cfg.ReadTimeout = "0s"
	if got := readTimeout(cfg); got != pcap.BlockForever {
		t.Errorf("Expected a zero timeout to block, got %s", got)
	}
}
