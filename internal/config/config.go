package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultIgnorePrefixes lists interface name prefixes that are never sampled:
// loopback, VPN, virtual and container bridges.
var DefaultIgnorePrefixes = []string{"lo", "tailscale", "vnet", "veth", "br-", "docker", "virbr", "vmnet"}

// SamplerConfig holds the interface sampler settings.
type SamplerConfig struct {
	Source         string   `yaml:"source"` // "sysfs" or "netlink"
	SysfsRoot      string   `yaml:"sysfs_root"`
	Interval       string   `yaml:"interval"`
	IgnorePrefixes []string `yaml:"ignore_prefixes"`
	QueueSize      int      `yaml:"queue_size"`
}

// DNSConfig holds the DNS capture settings.
type DNSConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Device      string `yaml:"device"` // empty selects the first capture device
	Port        int    `yaml:"port"`
	SnapLen     int32  `yaml:"snap_len"`
	Promiscuous bool   `yaml:"promiscuous"`
	ReadTimeout string `yaml:"read_timeout"`
	ArchivePath string `yaml:"archive_path"`
	QueueSize   int    `yaml:"queue_size"`
}

// StoreConfig holds the persistence service settings.
type StoreConfig struct {
	Path      string `yaml:"path"`
	Retention string `yaml:"retention"`
	QueueSize int    `yaml:"queue_size"`
}

// ViewConfig holds the correlator's display windows and timers.
type ViewConfig struct {
	VisibleWindow   string `yaml:"visible_window"`
	BufferFactor    int    `yaml:"buffer_factor"`
	GapThreshold    string `yaml:"gap_threshold"`
	SnapBackTimeout string `yaml:"snap_back_timeout"`
	DNSRefresh      string `yaml:"dns_refresh"`
	DNSHistory      string `yaml:"dns_history"`
	DNSBucket       string `yaml:"dns_bucket"`
	TopDomains      int    `yaml:"top_domains"`
}

// APIConfig holds the presentation-facing HTTP settings.
type APIConfig struct {
	Enabled        bool     `yaml:"enabled"`
	ListenAddr     string   `yaml:"listen_addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ExportConfig holds the optional NATS export settings.
type ExportConfig struct {
	NATSURL       string `yaml:"nats_url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	LogLevel      string        `yaml:"log_level"`
	ShutdownGrace string        `yaml:"shutdown_grace"`
	Sampler       SamplerConfig `yaml:"sampler"`
	DNS           DNSConfig     `yaml:"dns"`
	Store         StoreConfig   `yaml:"store"`
	View          ViewConfig    `yaml:"view"`
	API           APIConfig     `yaml:"api"`
	Export        ExportConfig  `yaml:"export"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		ShutdownGrace: "1s",
		Sampler: SamplerConfig{
			Source:         "sysfs",
			SysfsRoot:      "/sys/class/net",
			Interval:       "1s",
			IgnorePrefixes: append([]string(nil), DefaultIgnorePrefixes...),
			QueueSize:      64,
		},
		DNS: DNSConfig{
			Enabled:     true,
			Port:        53,
			SnapLen:     1600,
			Promiscuous: true,
			ReadTimeout: "500ms",
			QueueSize:   1024,
		},
		Store: StoreConfig{
			Path:      "data/network_monitor.db",
			Retention: "720h",
			QueueSize: 4096,
		},
		View: ViewConfig{
			VisibleWindow:   "15m",
			BufferFactor:    2,
			GapThreshold:    "5s",
			SnapBackTimeout: "5s",
			DNSRefresh:      "10s",
			DNSHistory:      "180s",
			DNSBucket:       "10s",
			TopDomains:      10,
		},
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1:8089",
		},
		Export: ExportConfig{
			SubjectPrefix: "netmon",
		},
	}
}

// LoadConfig reads the configuration from a YAML file on top of the defaults,
// then applies environment overrides. An empty path yields defaults plus overrides.
func LoadConfig(filePath string) (*Config, error) {
	cfg := Default()

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
		}
	}

	// A missing .env file is fine; real deployments set the variables directly.
	_ = godotenv.Load()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("NETMON_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("NETMON_DNS_DEVICE"); v != "" {
		c.DNS.Device = v
	}
	if v := os.Getenv("NETMON_LISTEN_ADDR"); v != "" {
		c.API.ListenAddr = v
	}
	if v := os.Getenv("NETMON_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("NETMON_NATS_URL"); v != "" {
		c.Export.NATSURL = v
	}
}

// Validate checks that every duration parses and every size is usable.
func (c *Config) Validate() error {
	var errs []error

	durations := map[string]string{
		"shutdown_grace":         c.ShutdownGrace,
		"sampler.interval":       c.Sampler.Interval,
		"store.retention":        c.Store.Retention,
		"view.visible_window":    c.View.VisibleWindow,
		"view.gap_threshold":     c.View.GapThreshold,
		"view.snap_back_timeout": c.View.SnapBackTimeout,
		"view.dns_refresh":       c.View.DNSRefresh,
		"view.dns_history":       c.View.DNSHistory,
		"view.dns_bucket":        c.View.DNSBucket,
	}
	for name, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
			continue
		}
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be a positive duration", name))
		}
	}

	// A zero read timeout blocks until a packet arrives.
	if d, err := time.ParseDuration(c.DNS.ReadTimeout); err != nil {
		errs = append(errs, fmt.Errorf("invalid dns.read_timeout: %w", err))
	} else if d < 0 {
		errs = append(errs, errors.New("dns.read_timeout must not be negative"))
	}

	switch strings.ToLower(c.Sampler.Source) {
	case "sysfs", "netlink":
	default:
		errs = append(errs, fmt.Errorf("unknown sampler.source %q", c.Sampler.Source))
	}
	if c.View.BufferFactor < 1 {
		errs = append(errs, errors.New("view.buffer_factor must be at least 1"))
	}
	if c.DNS.Port <= 0 || c.DNS.Port > 65535 {
		errs = append(errs, fmt.Errorf("dns.port %d out of range", c.DNS.Port))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	return errors.Join(errs...)
}

// Duration parses a duration field that Validate has already accepted.
func Duration(raw string) time.Duration {
	d, _ := time.ParseDuration(raw)
	return d
}
