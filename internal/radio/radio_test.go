package radio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBSSID(t *testing.T) {
	b, err := ParseBSSID("02:11:22:33:44:55")
	require.NoError(t, err)
	assert.Equal(t, "02:11:22:33:44:55", b.String())
	assert.False(t, b.IsZero())

	_, err = ParseBSSID("not-a-mac")
	assert.Error(t, err)

	_, err = ParseBSSID("02:00:5e:10:00:00:00:01")
	assert.Error(t, err, "EUI-64 must be rejected")
}

func TestSecurityCaps(t *testing.T) {
	assert.True(t, SecurityCaps(0).Open())
	assert.True(t, CapPMFCapable.Open(), "pmf alone is not a security class")
	assert.False(t, CapWPA2.Open())
	assert.Equal(t, "open", SecurityCaps(0).String())
	assert.Equal(t, "sae+wpa2", (CapWPA2 | CapSAE).String())
	assert.True(t, (CapWPA2 | CapPMFCapable).Has(CapPMFCapable))
}

func TestParseWakeConditions(t *testing.T) {
	w, err := ParseWakeConditions([]string{"unicast", "ARP-Broadcast", "mgmt-frame"})
	require.NoError(t, err)
	assert.Equal(t, WakeConditions(2|16|64), w)

	_, err = ParseWakeConditions([]string{"gpio"})
	assert.Error(t, err)
}

func TestParsePowerMode(t *testing.T) {
	m, err := ParsePowerMode("Deep-Sleep")
	require.NoError(t, err)
	assert.Equal(t, PowerDeepSleep, m)

	_, err = ParsePowerMode("turbo")
	assert.Error(t, err)
}

func TestParseSecurityCaps(t *testing.T) {
	c, err := ParseSecurityCaps([]string{"wpa2", "SAE", "pmf-capable"})
	require.NoError(t, err)
	assert.Equal(t, CapWPA2|CapSAE|CapPMFCapable, c)

	c, err = ParseSecurityCaps([]string{"open"})
	require.NoError(t, err)
	assert.True(t, c.Open())

	_, err = ParseSecurityCaps([]string{"wpa4"})
	assert.Error(t, err)
}
