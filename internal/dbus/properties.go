package dbus

import (
	"github.com/godbus/dbus/v5"

	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
)

// Properties interface implementation for org.freedesktop.DBus.Properties

// Get implements org.freedesktop.DBus.Properties.Get
func (s *Service) Get(iface, propName string) (dbus.Variant, *dbus.Error) {
	if iface != Interface {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{"Unknown interface"})
	}
	st := s.stateMgr.Get()
	v, ok := propertyMap(&st)[propName]
	if !ok {
		return dbus.Variant{}, dbus.NewError("org.freedesktop.DBus.Error.UnknownProperty", []interface{}{"Unknown property: " + propName})
	}
	return v, nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll
func (s *Service) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != Interface {
		return nil, dbus.NewError("org.freedesktop.DBus.Error.UnknownInterface", []interface{}{"Unknown interface"})
	}
	st := s.stateMgr.Get()
	return propertyMap(&st), nil
}

// Set implements org.freedesktop.DBus.Properties.Set (read-only, returns error)
func (s *Service) Set(iface, propName string, value dbus.Variant) *dbus.Error {
	return dbus.NewError("org.freedesktop.DBus.Error.PropertyReadOnly", []interface{}{"Properties are read-only"})
}

func propertyMap(st *state.State) map[string]dbus.Variant {
	powerSave := st.PowerSave
	if powerSave == nil {
		powerSave = []string{}
	}
	profiles := st.Profiles
	if profiles == nil {
		profiles = []string{}
	}
	return map[string]dbus.Variant{
		"Firmware":       dbus.MakeVariant(st.Firmware),
		"Station":        dbus.MakeVariant(string(st.Station)),
		"ActiveNetwork":  dbus.MakeVariant(st.ActiveNetwork),
		"ActiveSSID":     dbus.MakeVariant(st.ActiveSSID),
		"ActiveBSSID":    dbus.MakeVariant(st.ActiveBSSID),
		"ActiveSecurity": dbus.MakeVariant(st.ActiveSecurity),
		"Channel":        dbus.MakeVariant(int32(st.Channel)),
		"Frequency":      dbus.MakeVariant(st.Frequency),
		"Band":           dbus.MakeVariant(state.FrequencyToBand(st.Frequency)),
		"SignalRSSI":     dbus.MakeVariant(st.SignalRSSI),
		"SignalStrength": dbus.MakeVariant(st.SignalStrength),
		"InterfaceName":  dbus.MakeVariant(st.InterfaceName),
		"IpAddress":      dbus.MakeVariant(st.IpAddress),
		"Gateway":        dbus.MakeVariant(st.Gateway),
		"TrafficIn":      dbus.MakeVariant(st.TrafficIn),
		"TrafficOut":     dbus.MakeVariant(st.TrafficOut),
		"AP":             dbus.MakeVariant(string(st.AP)),
		"APNetwork":      dbus.MakeVariant(st.APNetwork),
		"APSSID":         dbus.MakeVariant(st.APSSID),
		"APChannel":      dbus.MakeVariant(int32(st.APChannel)),
		"APAddress":      dbus.MakeVariant(st.APAddress),
		"APClients":      dbus.MakeVariant(int32(st.APClients)),
		"PowerSave":      dbus.MakeVariant(powerSave),
		"HostSleep":      dbus.MakeVariant(st.HostSleep),
		"WakeConditions": dbus.MakeVariant(st.WakeConditions),
		"Networks":       dbus.MakeVariant(networksToDBus(st.Networks)),
		"Profiles":       dbus.MakeVariant(profiles),
		"LastReason":     dbus.MakeVariant(st.LastReason),
		"LastError":      dbus.MakeVariant(st.LastError),
	}
}

// NetworkDBus represents a scanned BSS for D-Bus
type NetworkDBus struct {
	SSID      string
	BSSID     string
	Channel   int32
	Security  string
	SignalDBm int16
}

// networksToDBus converts the last user scan to D-Bus format
func networksToDBus(networks []state.Network) []NetworkDBus {
	result := make([]NetworkDBus, len(networks))
	for i, n := range networks {
		result[i] = NetworkDBus{
			SSID:      n.SSID,
			BSSID:     n.BSSID,
			Channel:   int32(n.Channel),
			Security:  n.Security,
			SignalDBm: n.SignalDBm,
		}
	}
	return result
}

// resultsToDBus converts raw scan results to D-Bus format
func resultsToDBus(results []radio.ScanResult) []NetworkDBus {
	out := make([]NetworkDBus, len(results))
	for i, r := range results {
		out[i] = NetworkDBus{
			SSID:      r.SSID,
			BSSID:     r.BSSID.String(),
			Channel:   int32(r.Channel),
			Security:  r.Security.String(),
			SignalDBm: int16(r.RSSI),
		}
	}
	return out
}
