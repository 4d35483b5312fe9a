package correlator

import (
	"fmt"
	"time"

	"Go2NetMonitor/internal/config"
	"Go2NetMonitor/internal/model"
)

// Surface is one chart the presentation layer shows.
type Surface int

const (
	SurfaceTraffic Surface = iota
	SurfaceDNS
)

func (s Surface) String() string {
	if s == SurfaceDNS {
		return "dns"
	}
	return "traffic"
}

// ParseSurface maps "traffic" or "dns" to a Surface.
func ParseSurface(name string) (Surface, error) {
	switch name {
	case "traffic":
		return SurfaceTraffic, nil
	case "dns":
		return SurfaceDNS, nil
	default:
		return 0, fmt.Errorf("unknown surface %q", name)
	}
}

// Mode tells whether a surface follows the present or is frozen on a range.
type Mode int

const (
	Live Mode = iota
	Manual
)

func (m Mode) String() string {
	if m == Manual {
		return "manual"
	}
	return "live"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// View is the displayed range of a surface. In Live mode the range moves
// with the clock; in Manual mode it is the range the user picked.
type View struct {
	Mode    Mode  `json:"mode"`
	StartMs int64 `json:"start_ms"`
	EndMs   int64 `json:"end_ms"`
}

// Settings are the windows and timers of both surfaces.
type Settings struct {
	VisibleWindow   time.Duration
	BufferFactor    int
	GapThreshold    time.Duration
	SnapBackTimeout time.Duration
	DNSRefresh      time.Duration
	DNSHistory      time.Duration
	DNSBucket       time.Duration
	TopDomains      int
}

// SettingsFromConfig converts validated view configuration.
func SettingsFromConfig(cfg config.ViewConfig) Settings {
	return Settings{
		VisibleWindow:   config.Duration(cfg.VisibleWindow),
		BufferFactor:    cfg.BufferFactor,
		GapThreshold:    config.Duration(cfg.GapThreshold),
		SnapBackTimeout: config.Duration(cfg.SnapBackTimeout),
		DNSRefresh:      config.Duration(cfg.DNSRefresh),
		DNSHistory:      config.Duration(cfg.DNSHistory),
		DNSBucket:       config.Duration(cfg.DNSBucket),
		TopDomains:      cfg.TopDomains,
	}
}

// Retention is how far back live series keep points.
func (s Settings) Retention() time.Duration {
	return s.VisibleWindow * time.Duration(s.BufferFactor)
}

// InterfaceRates is the rate history of one interface as shown.
type InterfaceRates struct {
	Name     string              `json:"name"`
	Visible  bool                `json:"visible"`
	Upload   []model.SeriesPoint `json:"upload"`
	Download []model.SeriesPoint `json:"download"`
}

// TrafficView is a copy of the traffic surface state.
type TrafficView struct {
	View       View             `json:"view"`
	Draggable  bool             `json:"draggable"`
	Isolated   string           `json:"isolated,omitempty"`
	ScaleMax   float64          `json:"scale_max"`
	Interfaces []InterfaceRates `json:"interfaces"`
}

// DomainDetails is the per-record listing of one domain.
type DomainDetails struct {
	Domain  string            `json:"domain"`
	Records []model.DNSRecord `json:"records"`
}

// DNSView is a copy of the DNS surface state.
type DNSView struct {
	View       View                `json:"view"`
	Draggable  bool                `json:"draggable"`
	ScaleMax   float64             `json:"scale_max"`
	QPS        []model.SeriesPoint `json:"qps"`
	TopDomains []model.DomainCount `json:"top_domains"`
	Domains    []string            `json:"domains"`
	Details    *DomainDetails      `json:"details,omitempty"`
}

const (
	minTrafficScale = 100.0
	minDNSScale     = 10.0
)

// scaleMax returns the axis maximum for the points inside [startMs, endMs]:
// 1.2 times the largest value, but never below floor.
func scaleMax(floor float64, startMs, endMs int64, series ...[]model.SeriesPoint) float64 {
	maxV := 0.0
	for _, points := range series {
		for _, p := range points {
			if p.TimestampMs >= startMs && p.TimestampMs <= endMs && p.Value > maxV {
				maxV = p.Value
			}
		}
	}
	return max(floor, maxV*1.2)
}
