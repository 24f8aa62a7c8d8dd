package traffic

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/state"
)

func writeCounters(t *testing.T, root, iface string, rx, tx uint64) {
	t.Helper()
	dir := filepath.Join(root, iface, "statistics")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rx_bytes"), []byte(strconv.FormatUint(rx, 10)+"\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tx_bytes"), []byte(strconv.FormatUint(tx, 10)+"\n"), 0o644))
}

func TestSampleStation(t *testing.T) {
	root := t.TempDir()
	st := state.NewManager()
	st.Update(func(s *state.State) {
		s.Station = state.StationConnected
		s.InterfaceName = "mlan0"
	})
	m := NewMonitor(st)
	m.root = root

	writeCounters(t, root, "mlan0", 1000, 500)
	m.sample()
	assert.Zero(t, st.Get().TrafficIn, "first sample only sets the baseline")

	writeCounters(t, root, "mlan0", 6000, 700)
	m.sample()
	assert.Equal(t, uint64(5000), st.Get().TrafficIn)
	assert.Equal(t, uint64(200), st.Get().TrafficOut)

	m.sample()
	assert.Zero(t, st.Get().TrafficIn, "idle resets to zero")
}

func TestSampleFollowsAP(t *testing.T) {
	root := t.TempDir()
	st := state.NewManager()
	st.Update(func(s *state.State) {
		s.Station = state.StationIdle
		s.InterfaceName = "mlan0"
		s.AP = state.APIPUp
		s.APInterface = "uap0"
	})
	m := NewMonitor(st)
	m.root = root

	writeCounters(t, root, "uap0", 0, 100)
	m.sample()
	writeCounters(t, root, "uap0", 0, 4100)
	m.sample()
	assert.Equal(t, uint64(4000), st.Get().TrafficOut)

	st.Update(func(s *state.State) { s.AP = state.APInitializing })
	m.sample()
	assert.Zero(t, st.Get().TrafficOut)
	assert.Empty(t, m.iface)
}

func TestActiveInterface(t *testing.T) {
	assert.Empty(t, activeInterface(state.State{Station: state.StationScanning, InterfaceName: "mlan0"}))
	assert.Equal(t, "mlan0", activeInterface(state.State{Station: state.StationAssociated, InterfaceName: "mlan0"}))
}
