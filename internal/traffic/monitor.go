package traffic

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wlcmgr/internal/state"
)

const (
	sysClassNet    = "/sys/class/net"
	updateInterval = 1 * time.Second
	minDeltaBytes  = 100 // Only publish if delta > 100 bytes
)

var logger = logrus.WithField("module", "traffic")

// Monitor publishes per-second byte rates of the active Wi-Fi interface
type Monitor struct {
	stateMgr *state.Manager
	root     string

	iface       string
	lastRx      uint64
	lastTx      uint64
	idleEmitted bool // zero rates already published
}

// NewMonitor creates a new traffic monitor
func NewMonitor(stateMgr *state.Manager) *Monitor {
	return &Monitor{stateMgr: stateMgr, root: sysClassNet}
}

// Run samples counters every second until ctx is done
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(updateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

// activeInterface prefers the station link and falls back to the soft-AP
func activeInterface(st state.State) string {
	if st.Station.Linked() && st.InterfaceName != "" {
		return st.InterfaceName
	}
	if (st.AP == state.APStarted || st.AP == state.APIPUp) && st.APInterface != "" {
		return st.APInterface
	}
	return ""
}

// sample reads current counters and publishes the delta
func (m *Monitor) sample() {
	iface := activeInterface(m.stateMgr.Get())
	if iface == "" {
		if m.iface != "" {
			m.reset()
			m.publish(0, 0)
			m.idleEmitted = true
		}
		return
	}
	if iface != m.iface {
		logger.WithField("iface", iface).Debug("Following interface")
		m.reset()
		m.iface = iface
	}

	rx, tx, ok := m.readStats(iface)
	if !ok {
		return
	}

	var deltaRx, deltaTx uint64
	first := m.lastRx == 0 && m.lastTx == 0
	if !first && rx >= m.lastRx && tx >= m.lastTx {
		deltaRx = rx - m.lastRx
		deltaTx = tx - m.lastTx
	}
	m.lastRx = rx
	m.lastTx = tx
	if first {
		return
	}

	if deltaRx > minDeltaBytes || deltaTx > minDeltaBytes {
		m.publish(deltaRx, deltaTx)
		m.idleEmitted = false
	} else if deltaRx == 0 && deltaTx == 0 && !m.idleEmitted {
		// Reset to 0 once when idle, not every second
		m.publish(0, 0)
		m.idleEmitted = true
	}
}

func (m *Monitor) reset() {
	m.iface = ""
	m.lastRx, m.lastTx = 0, 0
}

func (m *Monitor) publish(in, out uint64) {
	m.stateMgr.Update(func(s *state.State) {
		s.TrafficIn = in
		s.TrafficOut = out
	})
}

// readStats reads RX/TX bytes from sysfs
func (m *Monitor) readStats(iface string) (rx, tx uint64, ok bool) {
	rx, okRx := readUint64File(filepath.Join(m.root, iface, "statistics/rx_bytes"))
	tx, okTx := readUint64File(filepath.Join(m.root, iface, "statistics/tx_bytes"))
	return rx, tx, okRx && okTx
}

// readUint64File reads a uint64 from a file
func readUint64File(path string) (uint64, bool) {
	file, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, false
	}
	val, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 10, 64)
	if err != nil {
		return 0, false
	}
	return val, true
}
