package dbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/sirupsen/logrus"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
	"wlcmgr/internal/wlcmgr"
)

const (
	ServiceName = "org.wlcmgr.ConnectionManager"
	ObjectPath  = "/org/wlcmgr/ConnectionManager"
	Interface   = "org.wlcmgr.ConnectionManager"
)

var logger = logrus.WithField("module", "dbus")

// Backend is the connection manager API exported on the bus
type Backend interface {
	AddNetwork(ctx context.Context, p profile.Profile) error
	RemoveNetwork(ctx context.Context, name string) error
	GetNetwork(ctx context.Context, name string) (profile.Profile, error)
	ListNetworks(ctx context.Context) ([]profile.Profile, error)
	Connect(ctx context.Context, name string) error
	Disconnect(ctx context.Context) error
	Reassociate(ctx context.Context) error
	Scan(ctx context.Context, filter wlcmgr.ScanFilter, cb wlcmgr.ScanCallback) error
	StartNetwork(ctx context.Context, name string) error
	StopNetwork(ctx context.Context, name string) error
	SetPowerSave(ctx context.Context, mode radio.PowerMode) error
	ClearPowerSave(ctx context.Context, mode radio.PowerMode) error
	ConfigureHostSleep(ctx context.Context, mode wlcmgr.HostSleepMode, wake radio.WakeConditions) error
	CancelHostSleep(ctx context.Context) error
	GetConnectionState() state.StationState
	GetUapConnectionState() state.APState
	OnEvent(fn wlcmgr.EventHandler)
}

// emitter is the part of the bus connection the service sends on
type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Service represents the D-Bus service
type Service struct {
	conn     *dbus.Conn
	out      emitter
	backend  Backend
	stateMgr *state.Manager
}

// NewService creates and registers the D-Bus service
func NewService(busType string, backend Backend, stateMgr *state.Manager) (*Service, error) {
	var conn *dbus.Conn
	var err error

	if busType == "system" {
		conn, err = dbus.SystemBus()
	} else {
		conn, err = dbus.SessionBus()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to D-Bus: %w", err)
	}

	s := &Service{conn: conn, out: conn, backend: backend, stateMgr: stateMgr}

	reply, err := conn.RequestName(ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("name %s already taken", ServiceName)
	}

	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export: %w", err)
	}
	if err := conn.Export(s, ObjectPath, "org.freedesktop.DBus.Properties"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export properties: %w", err)
	}

	node := &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:       Interface,
				Methods:    s.methods(),
				Properties: s.properties(),
				Signals:    s.signals(),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export introspection: %w", err)
	}

	s.attach()
	return s, nil
}

// newService builds a service that emits through out without owning a bus
func newService(out emitter, backend Backend, stateMgr *state.Manager) *Service {
	s := &Service{out: out, backend: backend, stateMgr: stateMgr}
	s.attach()
	return s
}

// attach subscribes to snapshot changes and connection events
func (s *Service) attach() {
	s.stateMgr.SetOnChange(s.onStateChange)
	s.backend.OnEvent(s.onEvent)
}

// Close closes the D-Bus connection
func (s *Service) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *Service) onStateChange(st *state.State) {
	err := s.out.Emit(ObjectPath, "org.freedesktop.DBus.Properties.PropertiesChanged",
		Interface, propertyMap(st), []string{})
	if err != nil {
		logger.WithError(err).Debug("Failed to emit PropertiesChanged")
	}
}

func (s *Service) onEvent(ev wlcmgr.Event) {
	s.EmitSignal("ConnectionEvent", ev.Reason.String(), ev.Network)
}

// EmitSignal emits a signal on the service interface
func (s *Service) EmitSignal(name string, values ...interface{}) {
	if err := s.out.Emit(ObjectPath, Interface+"."+name, values...); err != nil {
		logger.WithError(err).WithField("signal", name).Warn("Failed to emit signal")
	}
}

// methods returns introspection method definitions
func (s *Service) methods() []introspect.Method {
	name := introspect.Arg{Name: "name", Type: "s", Direction: "in"}
	return []introspect.Method{
		{Name: "AddNetwork", Args: []introspect.Arg{
			{Name: "params", Type: "a{sv}", Direction: "in"},
		}},
		{Name: "RemoveNetwork", Args: []introspect.Arg{name}},
		{Name: "GetNetwork", Args: []introspect.Arg{
			name,
			{Name: "params", Type: "a{sv}", Direction: "out"},
		}},
		{Name: "ListNetworks", Args: []introspect.Arg{
			{Name: "networks", Type: "a(sss)", Direction: "out"},
		}},
		{Name: "Connect", Args: []introspect.Arg{name}},
		{Name: "Disconnect"},
		{Name: "Reassociate"},
		{Name: "Scan", Args: []introspect.Arg{
			{Name: "filter", Type: "a{sv}", Direction: "in"},
		}},
		{Name: "StartNetwork", Args: []introspect.Arg{name}},
		{Name: "StopNetwork", Args: []introspect.Arg{name}},
		{Name: "SetPowerSave", Args: []introspect.Arg{
			{Name: "mode", Type: "s", Direction: "in"},
		}},
		{Name: "ClearPowerSave", Args: []introspect.Arg{
			{Name: "mode", Type: "s", Direction: "in"},
		}},
		{Name: "ConfigureHostSleep", Args: []introspect.Arg{
			{Name: "mode", Type: "s", Direction: "in"},
			{Name: "wake", Type: "as", Direction: "in"},
		}},
		{Name: "CancelHostSleep"},
		{Name: "GetConnectionState", Args: []introspect.Arg{
			{Name: "state", Type: "s", Direction: "out"},
		}},
		{Name: "GetUapConnectionState", Args: []introspect.Arg{
			{Name: "state", Type: "s", Direction: "out"},
		}},
	}
}

// properties returns introspection property definitions
func (s *Service) properties() []introspect.Property {
	return []introspect.Property{
		{Name: "Firmware", Type: "s", Access: "read"},
		{Name: "Station", Type: "s", Access: "read"},
		{Name: "ActiveNetwork", Type: "s", Access: "read"},
		{Name: "ActiveSSID", Type: "s", Access: "read"},
		{Name: "ActiveBSSID", Type: "s", Access: "read"},
		{Name: "ActiveSecurity", Type: "s", Access: "read"},
		{Name: "Channel", Type: "i", Access: "read"},
		{Name: "Frequency", Type: "u", Access: "read"},
		{Name: "Band", Type: "s", Access: "read"},
		{Name: "SignalRSSI", Type: "n", Access: "read"},
		{Name: "SignalStrength", Type: "y", Access: "read"},
		{Name: "InterfaceName", Type: "s", Access: "read"},
		{Name: "IpAddress", Type: "s", Access: "read"},
		{Name: "Gateway", Type: "s", Access: "read"},
		{Name: "TrafficIn", Type: "t", Access: "read"},
		{Name: "TrafficOut", Type: "t", Access: "read"},
		{Name: "AP", Type: "s", Access: "read"},
		{Name: "APNetwork", Type: "s", Access: "read"},
		{Name: "APSSID", Type: "s", Access: "read"},
		{Name: "APChannel", Type: "i", Access: "read"},
		{Name: "APAddress", Type: "s", Access: "read"},
		{Name: "APClients", Type: "i", Access: "read"},
		{Name: "PowerSave", Type: "as", Access: "read"},
		{Name: "HostSleep", Type: "s", Access: "read"},
		{Name: "WakeConditions", Type: "u", Access: "read"},
		{Name: "Networks", Type: "a(ssisn)", Access: "read"},
		{Name: "Profiles", Type: "as", Access: "read"},
		{Name: "LastReason", Type: "s", Access: "read"},
		{Name: "LastError", Type: "s", Access: "read"},
	}
}

// signals returns introspection signal definitions
func (s *Service) signals() []introspect.Signal {
	return []introspect.Signal{
		{Name: "ConnectionEvent", Args: []introspect.Arg{
			{Name: "reason", Type: "s"},
			{Name: "network", Type: "s"},
		}},
		{Name: "ScanCompleted", Args: []introspect.Arg{
			{Name: "results", Type: "a(ssisn)"},
		}},
		{Name: "Error", Args: []introspect.Arg{
			{Name: "operation", Type: "s"},
			{Name: "message", Type: "s"},
		}},
	}
}
