// Package config loads the stack's runtime parameters with koanf/v2,
// layering a YAML file and TAPSTACK_-prefixed environment variables over
// built-in defaults, mirroring gobfd's koanf-based configuration package.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete tapstackd configuration.
type Config struct {
	Device  DeviceConfig  `koanf:"device"`
	Network NetworkConfig `koanf:"network"`
	ARP     ARPConfig     `koanf:"arp"`
	Socket  SocketConfig  `koanf:"socket"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// DeviceConfig describes the TAP device to attach to.
type DeviceConfig struct {
	// Name is the TAP interface name reported in tapstackd's startup log
	// (e.g. "tap0"). tapstackd does not pass it to the device it opens, so
	// the kernel chooses the interface's actual name.
	Name string `koanf:"name"`
	// MTU bounds the size of frames read from and written to the device.
	MTU int `koanf:"mtu"`
}

// NetworkConfig holds the addressing the stack answers to.
type NetworkConfig struct {
	// LocalAddr is the IPv4 address the stack claims as its own.
	LocalAddr string `koanf:"local_addr"`
	// DefaultTTL is stamped into the ICMP echo replies the stack
	// originates. UDP datagrams sent through udpsock carry
	// tapstack.DefaultTTL regardless of this setting.
	DefaultTTL uint8 `koanf:"default_ttl"`
}

// ARPConfig tunes ARP resolution for the link egress worker.
type ARPConfig struct {
	// MaxRetries bounds how many times an unresolved egress target is
	// re-queued behind an ARP request before the packet is dropped.
	MaxRetries int `koanf:"max_retries"`
	// RetryBackoff is the initial delay between ARP retries; each
	// successive retry doubles it.
	RetryBackoff time.Duration `koanf:"retry_backoff"`
	// EntryTTL is how long a learned ARP mapping is trusted before the
	// cache treats it as stale.
	EntryTTL time.Duration `koanf:"entry_ttl"`
}

// SocketConfig tunes the UDP socket table.
type SocketConfig struct {
	// MaxBufferDepth caps the number of undelivered datagrams a bound
	// socket will hold before newly arriving ones are dropped.
	MaxBufferDepth int `koanf:"max_buffer_depth"`
}

// LogConfig holds the zap logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint.
	Addr string `koanf:"addr"`
	// Path is the URL path the metrics handler is served under.
	Path string `koanf:"path"`
}

// DefaultConfig returns a Config populated with the defaults named in
// spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			Name: "tap0",
			MTU:  1600,
		},
		Network: NetworkConfig{
			LocalAddr:  "10.0.0.2",
			DefaultTTL: 50,
		},
		ARP: ARPConfig{
			MaxRetries:   5,
			RetryBackoff: 100 * time.Millisecond,
			EntryTTL:     20 * time.Minute,
		},
		Socket: SocketConfig{
			MaxBufferDepth: 10000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
	}
}

// envPrefix is the environment variable prefix for tapstackd configuration.
// Variables are named TAPSTACK_<section>_<key>, e.g. TAPSTACK_DEVICE_NAME.
const envPrefix = "TAPSTACK_"

// Load reads configuration from a YAML file at path (skipped if path is
// empty), overlays TAPSTACK_-prefixed environment variable overrides, and
// merges both on top of DefaultConfig(). Missing fields inherit defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := loadDefaults(k, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// envKeyMapper transforms TAPSTACK_DEVICE_NAME -> device.name. Only the
// first underscore separates section from key, so multi-word keys such as
// TAPSTACK_NETWORK_LOCAL_ADDR map to network.local_addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

func loadDefaults(k *koanf.Koanf, d *Config) error {
	defaults := map[string]any{
		"device.name":             d.Device.Name,
		"device.mtu":              d.Device.MTU,
		"network.local_addr":      d.Network.LocalAddr,
		"network.default_ttl":     d.Network.DefaultTTL,
		"arp.max_retries":         d.ARP.MaxRetries,
		"arp.retry_backoff":       d.ARP.RetryBackoff.String(),
		"arp.entry_ttl":           d.ARP.EntryTTL.String(),
		"socket.max_buffer_depth": d.Socket.MaxBufferDepth,
		"log.level":               d.Log.Level,
		"log.format":              d.Log.Format,
		"metrics.addr":            d.Metrics.Addr,
		"metrics.path":            d.Metrics.Path,
	}
	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validation errors.
var (
	ErrEmptyLocalAddr  = errors.New("network.local_addr must not be empty")
	ErrInvalidMTU      = errors.New("device.mtu must be > 0")
	ErrInvalidARPRetry = errors.New("arp.max_retries must be >= 0")
	ErrInvalidBuffer   = errors.New("socket.max_buffer_depth must be > 0")
)

// Validate checks the configuration for logical errors.
func Validate(cfg *Config) error {
	if cfg.Network.LocalAddr == "" {
		return ErrEmptyLocalAddr
	}
	if cfg.Device.MTU <= 0 {
		return ErrInvalidMTU
	}
	if cfg.ARP.MaxRetries < 0 {
		return ErrInvalidARPRetry
	}
	if cfg.Socket.MaxBufferDepth <= 0 {
		return ErrInvalidBuffer
	}
	return nil
}
