package dnscap

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/metrics"
	"Go2NetMonitor/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// ErrNoDevice is returned when no device is configured and none can be discovered.
var ErrNoDevice = errors.New("no capture device available")

// Capture sniffs live DNS traffic and hands decoded records to a channel.
type Capture struct {
	cfg     config.DNSConfig
	out     chan<- model.DNSRecord
	decoder *Decoder
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	handle  *pcap.Handle
	archive *Archive
	stopCh  chan struct{}
	doneCh  chan struct{}
	device  string
}

// NewCapture creates a capture that writes records to out. Nothing is opened
// until Start is called.
func NewCapture(cfg config.DNSConfig, out chan<- model.DNSRecord, logger *slog.Logger, m *metrics.Metrics) *Capture {
	closed := make(chan struct{})
	close(closed)
	return &Capture{
		cfg:     cfg,
		out:     out,
		decoder: NewDecoder(cfg.Port),
		logger:  logger,
		metrics: m,
		now:     time.Now,
		doneCh:  closed,
	}
}

// Start opens the capture device, installs the port filter and begins
// decoding on a background goroutine. On error nothing is emitted and the
// capture stays stopped. Starting a running capture is a no-op.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return nil
	}

	device := c.cfg.Device
	if device == "" {
		var err error
		if device, err = firstDevice(); err != nil {
			return err
		}
	}

	handle, err := pcap.OpenLive(device, c.cfg.SnapLen, c.cfg.Promiscuous, readTimeout(c.cfg))
	if err != nil {
		return fmt.Errorf("error opening device %s: %w", device, err)
	}

	filter := fmt.Sprintf("port %d", c.decoder.port)
	if err := handle.SetBPFFilter(filter); err != nil {
		handle.Close()
		return fmt.Errorf("failed to set BPF filter %q: %w", filter, err)
	}

	var archive *Archive
	if c.cfg.ArchivePath != "" {
		archive, err = OpenArchive(c.cfg.ArchivePath, uint32(c.cfg.SnapLen), handle.LinkType())
		if err != nil {
			handle.Close()
			return err
		}
	}

	c.handle = handle
	c.archive = archive
	c.device = device
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})

	source := gopacket.NewPacketSource(handle, handle.LinkType())
	go c.run(source.Packets(), handle, archive, c.stopCh, c.doneCh)

	c.logger.Info("DNS capture started.", "device", device, "filter", filter)
	return nil
}

// Stop halts the capture and releases the device. It is safe to call on a
// stopped capture.
func (c *Capture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return
	}
	close(c.stopCh)
	c.handle = nil
	c.archive = nil
	c.logger.Info("DNS capture stopping.", "device", c.device)
}

// Running reports whether a device is open.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// Done is closed once the most recently started capture loop has exited and
// its handle is closed.
func (c *Capture) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneCh
}

func (c *Capture) run(packets <-chan gopacket.Packet, handle *pcap.Handle, archive *Archive, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer handle.Close()
	if archive != nil {
		defer archive.Close()
	}

	for {
		select {
		case <-stop:
			return
		case packet, ok := <-packets:
			if !ok {
				c.logger.Warn("Capture source closed.")
				return
			}
			c.emit(packet, archive)
		}
	}
}

func (c *Capture) emit(packet gopacket.Packet, archive *Archive) {
	rec, ok := c.decoder.Decode(packet, c.now())
	if !ok {
		return
	}
	c.metrics.RecordDecoded()

	if archive != nil {
		if err := archive.WritePacket(packet); err != nil {
			c.logger.Warn("Failed to archive DNS packet.", "err", err)
		}
	}

	select {
	case c.out <- rec:
	default:
		c.metrics.RecordDropped()
		c.logger.Warn("DNS consumer is behind, dropping record.", "domain", rec.QueryDomain)
	}
}

// readTimeout maps a zero dns.read_timeout to a blocking read.
func readTimeout(cfg config.DNSConfig) time.Duration {
	if timeout := config.Duration(cfg.ReadTimeout); timeout > 0 {
		return timeout
	}
	return pcap.BlockForever
}

func firstDevice() (string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("failed to list capture devices: %w", err)
	}
	if len(devs) == 0 {
		return "", ErrNoDevice
	}
	return devs[0].Name, nil
}
