package state

import (
	"sync"
	"time"
)

// StationState is the station role's position in the connection sequence
type StationState string

const (
	StationInitializing      StationState = "initializing"
	StationIdle              StationState = "idle"
	StationScanning          StationState = "scanning"
	StationUserScanning      StationState = "user-scanning"
	StationAssociating       StationState = "associating"
	StationAssociated        StationState = "associated"
	StationAuthenticated     StationState = "authenticated"
	StationRequestingAddress StationState = "requesting-address"
	StationObtainingAddress  StationState = "obtaining-address" // DHCP in progress
	StationConnected         StationState = "connected"
)

// Connecting reports whether a connection attempt is between scan and address
func (s StationState) Connecting() bool {
	switch s {
	case StationScanning, StationAssociating, StationAssociated, StationAuthenticated,
		StationRequestingAddress, StationObtainingAddress:
		return true
	}
	return false
}

// Linked reports whether the station holds an association
func (s StationState) Linked() bool {
	switch s {
	case StationAssociated, StationAuthenticated, StationRequestingAddress,
		StationObtainingAddress, StationConnected:
		return true
	}
	return false
}

// APState is the soft-AP role's state
type APState string

const (
	APInitializing APState = "initializing"
	APConfigured   APState = "configured"
	APStarted      APState = "started"
	APIPUp         APState = "ip-up"
)

// Network represents a BSS from the last user scan
type Network struct {
	SSID      string
	BSSID     string
	Security  string
	SignalDBm int16 // Raw RSSI in dBm
	Signal    uint8 // Derived percentage 0-100
	Channel   int
	Frequency uint32 // MHz
}

// State is the published snapshot read by status queries
type State struct {
	Firmware string

	// Station role
	Station        StationState
	ActiveNetwork  string // profile name, empty when none
	ActiveSSID     string
	ActiveBSSID    string
	ActiveSecurity string
	Channel        int
	Frequency      uint32
	SignalRSSI     int16
	SignalStrength uint8

	InterfaceName string
	MacAddress    string
	IpAddress     string
	Gateway       string

	// Traffic (bytes/sec)
	TrafficIn  uint64
	TrafficOut uint64

	// Soft-AP role
	AP          APState
	APNetwork   string
	APSSID      string
	APChannel   int
	APInterface string
	APAddress   string
	APClients   int

	// Power
	PowerSave      []string
	HostSleep      string // "disabled", "armed", "suspending", "activated"
	WakeConditions uint32

	Networks []Network
	Profiles []string

	LastReason string
	LastError  string
	UpdatedAt  time.Time
}

// Manager manages state with thread-safe access
type Manager struct {
	mu       sync.RWMutex
	state    State
	onChange func(*State) // Callback when state changes
}

// NewManager creates a new state manager
func NewManager() *Manager {
	return &Manager{
		state: State{
			Station:   StationInitializing,
			AP:        APInitializing,
			HostSleep: "disabled",
		},
	}
}

// SetOnChange sets the callback for state changes
func (m *Manager) SetOnChange(fn func(*State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Get returns a copy of current state
func (m *Manager) Get() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Update atomically updates state and triggers callback
func (m *Manager) Update(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	m.state.UpdatedAt = time.Now()
	stateCopy := m.state
	onChange := m.onChange
	m.mu.Unlock()

	if onChange != nil {
		onChange(&stateCopy)
	}
}

// DBmToPercent maps -100..-50 dBm linearly onto 0..100
func DBmToPercent(dBm int16) uint8 {
	if dBm <= -100 {
		return 0
	}
	if dBm >= -50 {
		return 100
	}
	return uint8(2 * (int(dBm) + 100))
}

// ChannelToFrequency returns the center frequency of a 2.4/5 GHz channel
func ChannelToFrequency(ch int) uint32 {
	switch {
	case ch == 14:
		return 2484
	case ch >= 1 && ch <= 13:
		return uint32(2407 + 5*ch)
	case ch >= 32 && ch <= 177:
		return uint32(5000 + 5*ch)
	}
	return 0
}

// FrequencyToBand names the band of a frequency
func FrequencyToBand(freq uint32) string {
	if freq >= 2400 && freq < 2500 {
		return "2.4GHz"
	}
	if freq >= 5000 && freq < 5925 {
		return "5GHz"
	}
	if freq >= 5925 {
		return "6GHz"
	}
	return "unknown"
}
