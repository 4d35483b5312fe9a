package dnscap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"Go2NetMonitor/internal/model"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// Replay decodes every DNS packet of a pcap stream and sends the records to
// out, blocking until each is accepted or ctx is done. Records are stamped
// with the packet's capture time. It returns the number of records sent.
func (d *Decoder) Replay(ctx context.Context, r io.Reader, out chan<- model.DNSRecord) (int, error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read pcap header: %w", err)
	}

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	sent := 0
	for {
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			return sent, nil
		}
		if err != nil {
			return sent, fmt.Errorf("failed to read packet: %w", err)
		}

		rec, ok := d.Decode(packet, packet.Metadata().Timestamp)
		if !ok {
			continue
		}
		select {
		case out <- rec:
			sent++
		case <-ctx.Done():
			return sent, ctx.Err()
		}
	}
}
