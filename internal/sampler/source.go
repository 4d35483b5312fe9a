package sampler

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vishvananda/netlink"
)

// Link is the raw per-interface reading a Source reports.
type Link struct {
	Name      string
	OperState string
	RxBytes   uint64
	TxBytes   uint64
}

// Source enumerates interfaces with their counters and operational state.
type Source interface {
	Links() ([]Link, error)
}

// SysfsSource reads counters from /sys/class/net style directories.
type SysfsSource struct {
	Root string
}

// NewSysfsSource returns a SysfsSource rooted at root, or /sys/class/net when empty.
func NewSysfsSource(root string) *SysfsSource {
	if root == "" {
		root = "/sys/class/net"
	}
	return &SysfsSource{Root: root}
}

// Links lists every interface directory. An interface whose operstate cannot
// be read is left out; unreadable counters are reported as 0.
func (s *SysfsSource) Links() ([]Link, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", s.Root, err)
	}

	links := make([]Link, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		dir := filepath.Join(s.Root, name)

		state, err := os.ReadFile(filepath.Join(dir, "operstate"))
		if err != nil {
			continue
		}

		links = append(links, Link{
			Name:      name,
			OperState: strings.TrimSpace(string(state)),
			RxBytes:   readCounter(filepath.Join(dir, "statistics", "rx_bytes")),
			TxBytes:   readCounter(filepath.Join(dir, "statistics", "tx_bytes")),
		})
	}
	return links, nil
}

func readCounter(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// NetlinkSource reads counters over rtnetlink.
type NetlinkSource struct{}

// Links lists links known to the kernel. Links without statistics report 0.
func (NetlinkSource) Links() ([]Link, error) {
	nlLinks, err := netlink.LinkList()
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}

	links := make([]Link, 0, len(nlLinks))
	for _, l := range nlLinks {
		attrs := l.Attrs()
		link := Link{
			Name:      attrs.Name,
			OperState: attrs.OperState.String(),
		}
		if st := attrs.Statistics; st != nil {
			link.RxBytes = st.RxBytes
			link.TxBytes = st.TxBytes
		}
		links = append(links, link)
	}
	return links, nil
}
