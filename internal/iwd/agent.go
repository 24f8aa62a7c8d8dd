package iwd

import (
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"wlcmgr/internal/radio"
)

const (
	AgentPath       = "/org/wlcmgr/agent"
	AgentIface      = "net.connman.iwd.Agent"
	AgentMgrIface   = "net.connman.iwd.AgentManager"
	SignalAgentPath = "/org/wlcmgr/signal"
	SignalAgentIfc  = "net.connman.iwd.SignalLevelAgent"
	CredentialTTL   = 30 * time.Second
)

// Agent implements net.connman.iwd.Agent. iwd calls RequestPassphrase
// while a Network.Connect is in flight; the radio arms one credential per
// associate command.
type Agent struct {
	mu      sync.Mutex
	key     string
	armed   time.Time
	pending bool
	used    bool
	now     func() time.Time
}

// NewAgent creates an agent with no credential armed
func NewAgent() *Agent {
	return &Agent{now: time.Now}
}

// SetPending arms the key handed out for the next passphrase request
func (a *Agent) SetPending(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.key = key
	a.armed = a.now()
	a.pending = true
	a.used = false
}

// ClearPending drops the armed key and reports whether iwd asked for it
func (a *Agent) ClearPending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	used := a.used
	a.key = ""
	a.pending = false
	a.used = false
	return used
}

// RequestPassphrase is called by iwd for PSK and SAE networks
func (a *Agent) RequestPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.pending {
		logger.WithField("network", network).Debug("Agent: no pending credential")
		return "", dbus.NewError(AgentIface+".Error.Canceled", []interface{}{"No credential available"})
	}
	if a.now().Sub(a.armed) > CredentialTTL {
		logger.WithField("network", network).Warn("Agent: credential expired")
		a.pending = false
		a.key = ""
		return "", dbus.NewError(AgentIface+".Error.Canceled", []interface{}{"Credential expired"})
	}
	a.used = true
	return a.key, nil
}

// RequestPrivateKeyPassphrase is called for 802.1x networks. Not supported.
func (a *Agent) RequestPrivateKeyPassphrase(network dbus.ObjectPath) (string, *dbus.Error) {
	return "", dbus.NewError(AgentIface+".Error.Canceled",
		[]interface{}{"Private key passphrase not supported"})
}

// RequestUserNameAndPassword is called for 802.1x EAP networks. Not supported.
func (a *Agent) RequestUserNameAndPassword(network dbus.ObjectPath) (string, string, *dbus.Error) {
	return "", "", dbus.NewError(AgentIface+".Error.Canceled",
		[]interface{}{"User/password authentication not supported"})
}

// RequestUserPassword is called for some EAP networks. Not supported.
func (a *Agent) RequestUserPassword(network dbus.ObjectPath, user string) (string, *dbus.Error) {
	return "", dbus.NewError(AgentIface+".Error.Canceled",
		[]interface{}{"User password authentication not supported"})
}

// Cancel is called by iwd when a request is cancelled
// Reasons: "out-of-range", "user-canceled", "timed-out", "shutdown"
func (a *Agent) Cancel(reason string) *dbus.Error {
	logger.WithField("reason", reason).Debug("Agent: request cancelled")
	return nil
}

// Release is called by iwd when the agent is unregistered
func (a *Agent) Release() *dbus.Error {
	logger.Debug("Agent: released by iwd")
	a.ClearPending()
	return nil
}

// register exports the agent and registers it with the AgentManager
func (a *Agent) register(conn *dbus.Conn) error {
	if err := conn.Export(a, dbus.ObjectPath(AgentPath), AgentIface); err != nil {
		return err
	}
	obj := conn.Object(IWDService, "/net/connman/iwd")
	return obj.Call(AgentMgrIface+".RegisterAgent", 0, dbus.ObjectPath(AgentPath)).Err
}

// signalAgent receives RSSI level crossings for the threshold it was
// registered with
type signalAgent struct {
	threshold int
	emit      func(radio.Event)
}

// levelEvent maps an iwd level index to an RSSI event. With a single
// threshold level 0 is above it and level 1 below.
func levelEvent(level uint8, threshold int) radio.Event {
	if level == 0 {
		return radio.RSSIHigh{RSSI: threshold}
	}
	return radio.RSSILow{RSSI: threshold - 1}
}

// Changed is called by iwd when the signal level index changes
func (s *signalAgent) Changed(device dbus.ObjectPath, level uint8) *dbus.Error {
	s.emit(levelEvent(level, s.threshold))
	return nil
}

// Release is called by iwd when the signal agent is dropped
func (s *signalAgent) Release(device dbus.ObjectPath) *dbus.Error {
	logger.WithField("device", device).Debug("Signal agent released")
	return nil
}

func (s *signalAgent) register(conn *dbus.Conn, station dbus.ObjectPath) error {
	if err := conn.Export(s, dbus.ObjectPath(SignalAgentPath), SignalAgentIfc); err != nil {
		return err
	}
	obj := conn.Object(IWDService, station)
	return obj.Call(StationIface+".RegisterSignalLevelAgent", 0,
		dbus.ObjectPath(SignalAgentPath), []int16{int16(s.threshold)}).Err
}
