package dbus

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/wlcmgr"
)

// errInvalidArgs marks a malformed bus request
var errInvalidArgs = errors.New("invalid arguments")

func invalidArgs(err error) error {
	return fmt.Errorf("%w: %v", errInvalidArgs, err)
}

func invalidArgsf(format string, args ...interface{}) error {
	return invalidArgs(fmt.Errorf(format, args...))
}

// errorNames maps manager errors to the suffix of their bus error name
var errorNames = []struct {
	err  error
	name string
}{
	{errInvalidArgs, "InvalidArgs"},
	{wlcmgr.ErrInvalidProfile, "InvalidProfile"},
	{wlcmgr.ErrScanBusy, "Busy"},
	{wlcmgr.ErrState, "InvalidState"},
	{wlcmgr.ErrNotConnected, "NotConnected"},
	{wlcmgr.ErrNetworkInUse, "InUse"},
	{wlcmgr.ErrQueueFull, "QueueFull"},
	{wlcmgr.ErrSuspendRefused, "SuspendRefused"},
	{wlcmgr.ErrHostSleepTimeout, "Timeout"},
	{wlcmgr.ErrChannelNotAllowed, "ChannelNotAllowed"},
	{wlcmgr.ErrNotRunning, "NotRunning"},
	{wlcmgr.ErrUnsupported, "NotSupported"},
	{profile.ErrUnsupported, "NotSupported"},
	{profile.ErrNotFound, "UnknownNetwork"},
	{profile.ErrDuplicate, "Exists"},
	{profile.ErrFull, "Full"},
	{profile.ErrInvalidName, "InvalidProfile"},
	{profile.ErrInvalidSSID, "InvalidProfile"},
	{profile.ErrInvalidSecurity, "InvalidProfile"},
	{profile.ErrInvalidAddress, "InvalidProfile"},
}

// errorName returns the bus error name for err
func errorName(err error) string {
	for _, e := range errorNames {
		if errors.Is(err, e.err) {
			return Interface + ".Error." + e.name
		}
	}
	return Interface + ".Error.Failed"
}

func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return dbus.NewError(errorName(err), []interface{}{err.Error()})
}

// profileToParams renders a profile as AddNetwork-style parameters with
// the credentials left out
func profileToParams(p profile.Profile) map[string]dbus.Variant {
	out := map[string]dbus.Variant{
		"name":        dbus.MakeVariant(p.Name),
		"role":        dbus.MakeVariant(p.Role.String()),
		"ssid":        dbus.MakeVariant(p.SSID),
		"channel":     dbus.MakeVariant(int32(p.Channel)),
		"hidden":      dbus.MakeVariant(p.Hidden),
		"security":    dbus.MakeVariant(p.Security.Type.String()),
		"pmfCapable":  dbus.MakeVariant(p.Security.PMFCapable),
		"pmfRequired": dbus.MakeVariant(p.Security.PMFRequired),
		"ipType":      dbus.MakeVariant(p.IP.Type.String()),
	}
	if !p.BSSID.IsZero() {
		out["bssid"] = dbus.MakeVariant(p.BSSID.String())
	}
	if p.IP.Address.IsValid() {
		out["address"] = dbus.MakeVariant(p.IP.Address.String())
	}
	if p.IP.Gateway.IsValid() {
		out["gateway"] = dbus.MakeVariant(p.IP.Gateway.String())
	}
	if len(p.IP.DNS) > 0 {
		dns := make([]string, len(p.IP.DNS))
		for i, a := range p.IP.DNS {
			dns[i] = a.String()
		}
		out["dns"] = dbus.MakeVariant(dns)
	}
	if p.IP.Bridge != "" {
		out["bridge"] = dbus.MakeVariant(p.IP.Bridge)
	}
	if p.Security.EAP != nil {
		out["eapIdentity"] = dbus.MakeVariant(p.Security.EAP.Identity)
	}
	return out
}
