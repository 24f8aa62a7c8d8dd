package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"wlcmgr/internal/capability"
)

// Config represents the complete daemon configuration
type Config struct {
	Interfaces  InterfacesConfig `yaml:"interfaces"`
	Limits      LimitsConfig     `yaml:"limits"`
	Timing      TimingConfig     `yaml:"timing"`
	Reconnect   ReconnectConfig  `yaml:"reconnect"`
	Roaming     RoamingConfig    `yaml:"roaming"`
	HostSleep   HostSleepConfig  `yaml:"hostSleep"`
	Regulatory  RegulatoryConfig `yaml:"regulatory"`
	Negotiation string           `yaml:"negotiation"` // "firmware" or "supplicant"
	Features    capability.Rules `yaml:"features"`
	Logging     LoggingConfig    `yaml:"logging"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	DBus        DBusConfig       `yaml:"dbus"`
	Networks    []NetworkConfig  `yaml:"networks"`
	AP          APDefaultsConfig `yaml:"ap"`
	Simulation  SimulationConfig `yaml:"simulation"`
}

// InterfacesConfig names the kernel interfaces of both roles
type InterfacesConfig struct {
	Station string `yaml:"station"`
	UAP     string `yaml:"uap"`
}

// LimitsConfig holds retry limits and table sizes
type LimitsConfig struct {
	Rescan         int `yaml:"rescan"`
	Reconnect      int `yaml:"reconnect"`
	CommandRetries int `yaml:"commandRetries"`
	QueueCapacity  int `yaml:"queueCapacity"`
	MaxNetworks    int `yaml:"maxNetworks"`
}

// TimingConfig holds timeouts in milliseconds
type TimingConfig struct {
	PermitWaitMs       int `yaml:"permitWaitMs"`
	ReconnectBackoffMs int `yaml:"reconnectBackoffMs"`
	HostSleepAckMs     int `yaml:"hostSleepAckMs"`
	NeighborReportMs   int `yaml:"neighborReportMs"`
	StatusPollMs       int `yaml:"statusPollMs"`
	DHCPTimeoutMs      int `yaml:"dhcpTimeoutMs"`
}

// ReconnectConfig controls automatic reconnection
type ReconnectConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RoamingConfig controls RSSI-triggered same-ESS roaming
type RoamingConfig struct {
	Enabled       bool `yaml:"enabled"`
	RSSIThreshold int  `yaml:"rssiThreshold"`
}

// HostSleepConfig holds the default host-sleep wake configuration
type HostSleepConfig struct {
	Mode string   `yaml:"mode"` // "disabled", "oneshot" or "periodic"
	Wake []string `yaml:"wake"`
}

// RegulatoryConfig lists the channels allowed for the soft-AP
type RegulatoryConfig struct {
	Country  string `yaml:"country"`
	Channels []int  `yaml:"channels"`
}

// APDefaultsConfig holds soft-AP defaults restored after every stop
type APDefaultsConfig struct {
	BeaconPeriod int `yaml:"beaconPeriod"` // TU
	Bandwidth    int `yaml:"bandwidth"`    // MHz
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // "text" or "json"
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
}

// MetricsConfig holds the Prometheus listener
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// DBusConfig selects the bus the API is exported on
type DBusConfig struct {
	Bus string `yaml:"bus"` // "system" or "session"
}

// SimulationConfig describes the simulated radio environment
type SimulationConfig struct {
	Firmware string         `yaml:"firmware"`
	BSS      []SimulatedBSS `yaml:"bss"`
}

// SimulatedBSS is one access point visible to the simulated radio
type SimulatedBSS struct {
	BSSID      string   `yaml:"bssid"`
	SSID       string   `yaml:"ssid"`
	Channel    int      `yaml:"channel"`
	RSSI       int      `yaml:"rssi"`
	Security   []string `yaml:"security"`
	Passphrase string   `yaml:"passphrase"`
	Hidden     bool     `yaml:"hidden"`
}

// Load reads path over the defaults, applies environment overrides and validates
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Interfaces: InterfacesConfig{
			Station: "mlan0",
			UAP:     "uap0",
		},
		Limits: LimitsConfig{
			Rescan:         5,
			Reconnect:      5,
			CommandRetries: 3,
			QueueCapacity:  32,
			MaxNetworks:    5,
		},
		Timing: TimingConfig{
			PermitWaitMs:       5000,
			ReconnectBackoffMs: 1000,
			HostSleepAckMs:     2000,
			NeighborReportMs:   3000,
			StatusPollMs:       10000,
			DHCPTimeoutMs:      15000,
		},
		Reconnect: ReconnectConfig{Enabled: true},
		Roaming: RoamingConfig{
			Enabled:       false,
			RSSIThreshold: -70,
		},
		HostSleep: HostSleepConfig{
			Mode: "disabled",
			Wake: []string{"unicast", "mac-event", "mgmt-frame"},
		},
		Regulatory: RegulatoryConfig{
			Country:  "US",
			Channels: []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 36, 40, 44, 48, 149, 153, 157, 161, 165},
		},
		Negotiation: "firmware",
		AP: APDefaultsConfig{
			BeaconPeriod: 100,
			Bandwidth:    40,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		DBus: DBusConfig{Bus: "system"},
		Simulation: SimulationConfig{
			Firmware: "18.99.3",
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WLCMGR_STATION_IFACE"); v != "" {
		cfg.Interfaces.Station = v
	}
	if v := os.Getenv("WLCMGR_UAP_IFACE"); v != "" {
		cfg.Interfaces.UAP = v
	}
	if v := os.Getenv("WLCMGR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WLCMGR_NEGOTIATION"); v != "" {
		cfg.Negotiation = v
	}
	if v := os.Getenv("WLCMGR_RECONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Reconnect.Enabled = b
		}
	}
}

// Validate checks ranges and enumerations
func (c *Config) Validate() error {
	var errs []error

	if c.Interfaces.Station == "" {
		errs = append(errs, errors.New("interfaces.station must be set"))
	}
	if c.Limits.Rescan < 1 {
		errs = append(errs, fmt.Errorf("limits.rescan must be at least 1, got %d", c.Limits.Rescan))
	}
	if c.Limits.Reconnect < 0 {
		errs = append(errs, fmt.Errorf("limits.reconnect must not be negative, got %d", c.Limits.Reconnect))
	}
	if c.Limits.CommandRetries < 1 {
		errs = append(errs, fmt.Errorf("limits.commandRetries must be at least 1, got %d", c.Limits.CommandRetries))
	}
	if c.Limits.QueueCapacity < 4 {
		errs = append(errs, fmt.Errorf("limits.queueCapacity must be at least 4, got %d", c.Limits.QueueCapacity))
	}
	if c.Limits.MaxNetworks < 1 {
		errs = append(errs, fmt.Errorf("limits.maxNetworks must be at least 1, got %d", c.Limits.MaxNetworks))
	}
	if len(c.Networks) > c.Limits.MaxNetworks {
		errs = append(errs, fmt.Errorf("%d networks configured, limit is %d", len(c.Networks), c.Limits.MaxNetworks))
	}

	switch c.Negotiation {
	case "firmware", "supplicant":
	default:
		errs = append(errs, fmt.Errorf("negotiation must be firmware or supplicant, got %q", c.Negotiation))
	}
	switch c.HostSleep.Mode {
	case "disabled", "oneshot", "periodic":
	default:
		errs = append(errs, fmt.Errorf("hostSleep.mode must be disabled, oneshot or periodic, got %q", c.HostSleep.Mode))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	switch c.DBus.Bus {
	case "system", "session", "none":
	default:
		errs = append(errs, fmt.Errorf("dbus.bus must be system, session or none, got %q", c.DBus.Bus))
	}

	for _, ch := range c.Regulatory.Channels {
		if ch < 1 || ch > 233 {
			errs = append(errs, fmt.Errorf("regulatory channel %d out of range", ch))
		}
	}
	if c.AP.BeaconPeriod < 20 || c.AP.BeaconPeriod > 1000 {
		errs = append(errs, fmt.Errorf("ap.beaconPeriod must be 20..1000 TU, got %d", c.AP.BeaconPeriod))
	}
	switch c.AP.Bandwidth {
	case 20, 40, 80:
	default:
		errs = append(errs, fmt.Errorf("ap.bandwidth must be 20, 40 or 80, got %d", c.AP.Bandwidth))
	}

	for i, n := range c.Networks {
		if _, err := n.Profile(); err != nil {
			errs = append(errs, fmt.Errorf("networks[%d]: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Ms converts a millisecond setting to a duration
func Ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
