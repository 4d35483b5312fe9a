package dnscap

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// Archive appends DNS-bearing packets to a pcap stream so a capture session
// can be replayed later.
type Archive struct {
	mu     sync.Mutex
	w      *pcapgo.Writer
	closer io.Closer
}

// NewArchive writes a pcap file header to w and returns an archive writing to it.
func NewArchive(w io.Writer, snapLen uint32, linkType layers.LinkType) (*Archive, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, linkType); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Archive{w: pw}, nil
}

// OpenArchive opens path for appending. A header is written only when the
// file is new or empty.
func OpenArchive(path string, snapLen uint32, linkType layers.LinkType) (*Archive, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat archive %s: %w", path, err)
	}

	a := &Archive{w: pcapgo.NewWriter(f), closer: f}
	if info.Size() == 0 {
		if err := a.w.WriteFileHeader(snapLen, linkType); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write pcap header: %w", err)
		}
	}
	return a, nil
}

// WritePacket appends one packet with its capture metadata.
func (a *Archive) WritePacket(packet gopacket.Packet) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	ci := packet.Metadata().CaptureInfo
	data := packet.Data()
	if ci.CaptureLength != len(data) {
		ci.CaptureLength = len(data)
	}
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	return a.w.WritePacket(ci, data)
}

// Close closes the underlying file, if the archive owns one.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}
