package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/profile"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wlcmgr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5, cfg.Limits.Rescan)
	assert.Equal(t, 5, cfg.Limits.Reconnect)
	assert.Equal(t, 5, cfg.Limits.MaxNetworks)
	assert.Equal(t, "firmware", cfg.Negotiation)
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
interfaces:
  station: wlan0
limits:
  rescan: 3
  reconnect: 2
negotiation: supplicant
features:
  sae: ">= 18"
networks:
  - name: home
    ssid: home
    security:
      type: wpa2
      passphrase: correct horse
  - name: hotspot
    role: ap
    ssid: devhotspot
    channel: 6
    security:
      type: wpa2
      passphrase: hotspot-pass
    ip:
      type: static
      address: 192.168.50.1/24
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "wlan0", cfg.Interfaces.Station)
	assert.Equal(t, "uap0", cfg.Interfaces.UAP, "unset keys keep defaults")
	assert.Equal(t, 3, cfg.Limits.Rescan)
	assert.Equal(t, ">= 18", cfg.Features.SAE)
	require.Len(t, cfg.Networks, 2)

	ap, err := cfg.Networks[1].Profile()
	require.NoError(t, err)
	assert.Equal(t, profile.RoleAccessPoint, ap.Role)
	assert.Equal(t, profile.AddrStatic, ap.IP.Type)
	assert.Equal(t, "192.168.50.1/24", ap.IP.Address.String())
	assert.Equal(t, 6, ap.Channel)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WLCMGR_STATION_IFACE", "wlp2s0")
	t.Setenv("WLCMGR_RECONNECT", "false")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "wlp2s0", cfg.Interfaces.Station)
	assert.False(t, cfg.Reconnect.Enabled)
}

func TestValidateRejects(t *testing.T) {
	tests := map[string]func(c *Config){
		"zero rescan":     func(c *Config) { c.Limits.Rescan = 0 },
		"tiny queue":      func(c *Config) { c.Limits.QueueCapacity = 1 },
		"bad negotiation": func(c *Config) { c.Negotiation = "magic" },
		"bad host sleep":  func(c *Config) { c.HostSleep.Mode = "always" },
		"bad channel":     func(c *Config) { c.Regulatory.Channels = []int{0} },
		"bad bandwidth":   func(c *Config) { c.AP.Bandwidth = 30 },
		"too many networks": func(c *Config) {
			c.Limits.MaxNetworks = 1
			c.Networks = []NetworkConfig{{Name: "a"}, {Name: "b"}}
		},
		"bad network role": func(c *Config) { c.Networks = []NetworkConfig{{Name: "a", Role: "mesh"}} },
		"bad bssid":        func(c *Config) { c.Networks = []NetworkConfig{{Name: "a", BSSID: "zz"}} },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
