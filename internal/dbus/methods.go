package dbus

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"wlcmgr/internal/config"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
	"wlcmgr/internal/wlcmgr"
)

// callTimeout bounds how long a bus caller waits for the event loop
const callTimeout = 10 * time.Second

// D-Bus method implementations

// result turns a backend error into a bus error and records it
func (s *Service) result(op string, err error) *dbus.Error {
	if err == nil {
		return nil
	}
	entry := logger.WithFields(logrus.Fields{"op": op, "error": err})
	if wlcmgr.IsUserError(err) {
		entry.Debug("Request rejected")
	} else {
		entry.Warn("Request failed")
	}
	s.stateMgr.Update(func(st *state.State) {
		st.LastError = err.Error()
	})
	s.EmitSignal("Error", op, err.Error())
	return toDBusError(err)
}

func (s *Service) do(op string, fn func(ctx context.Context) error) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return s.result(op, fn(ctx))
}

// AddNetwork stores a profile described by params
func (s *Service) AddNetwork(params map[string]dbus.Variant) *dbus.Error {
	nc, err := paramsToNetwork(params)
	if err != nil {
		return s.result("AddNetwork", err)
	}
	p, err := nc.Profile()
	if err != nil {
		return s.result("AddNetwork", invalidArgs(err))
	}
	logger.WithFields(logrus.Fields{"network": p.Name, "role": p.Role}).Info("Adding network")
	return s.do("AddNetwork", func(ctx context.Context) error {
		return s.backend.AddNetwork(ctx, p)
	})
}

// RemoveNetwork deletes a stored profile
func (s *Service) RemoveNetwork(name string) *dbus.Error {
	return s.do("RemoveNetwork", func(ctx context.Context) error {
		return s.backend.RemoveNetwork(ctx, name)
	})
}

// GetNetwork returns a stored profile without its secrets
func (s *Service) GetNetwork(name string) (map[string]dbus.Variant, *dbus.Error) {
	var out map[string]dbus.Variant
	derr := s.do("GetNetwork", func(ctx context.Context) error {
		p, err := s.backend.GetNetwork(ctx, name)
		if err != nil {
			return err
		}
		out = profileToParams(p)
		return nil
	})
	return out, derr
}

// ProfileDBus is a ListNetworks entry
type ProfileDBus struct {
	Name string
	Role string
	SSID string
}

// ListNetworks returns the stored profiles in insertion order
func (s *Service) ListNetworks() ([]ProfileDBus, *dbus.Error) {
	out := []ProfileDBus{}
	derr := s.do("ListNetworks", func(ctx context.Context) error {
		list, err := s.backend.ListNetworks(ctx)
		for _, p := range list {
			out = append(out, ProfileDBus{Name: p.Name, Role: p.Role.String(), SSID: p.SSID})
		}
		return err
	})
	return out, derr
}

// Connect starts connecting to a stored station profile
func (s *Service) Connect(name string) *dbus.Error {
	logger.WithField("network", name).Info("Connect requested")
	s.stateMgr.Update(func(st *state.State) {
		st.LastError = ""
	})
	return s.do("Connect", func(ctx context.Context) error {
		return s.backend.Connect(ctx, name)
	})
}

// Disconnect disconnects from the current network
func (s *Service) Disconnect() *dbus.Error {
	return s.do("Disconnect", s.backend.Disconnect)
}

// Reassociate rejoins the current network
func (s *Service) Reassociate() *dbus.Error {
	return s.do("Reassociate", s.backend.Reassociate)
}

// Scan triggers a scan narrowed by filter (ssid, bssid, channels); results
// arrive in the ScanCompleted signal
func (s *Service) Scan(filter map[string]dbus.Variant) *dbus.Error {
	f, err := paramsToFilter(filter)
	if err != nil {
		return s.result("Scan", err)
	}
	return s.do("Scan", func(ctx context.Context) error {
		return s.backend.Scan(ctx, f, func(results []radio.ScanResult, err error) {
			if err != nil {
				s.EmitSignal("Error", "Scan", err.Error())
				return
			}
			s.EmitSignal("ScanCompleted", resultsToDBus(results))
		})
	})
}

// StartNetwork starts the soft-AP
func (s *Service) StartNetwork(name string) *dbus.Error {
	return s.do("StartNetwork", func(ctx context.Context) error {
		return s.backend.StartNetwork(ctx, name)
	})
}

// StopNetwork stops the soft-AP
func (s *Service) StopNetwork(name string) *dbus.Error {
	return s.do("StopNetwork", func(ctx context.Context) error {
		return s.backend.StopNetwork(ctx, name)
	})
}

// SetPowerSave enables a power-save mode by name
func (s *Service) SetPowerSave(mode string) *dbus.Error {
	m, err := radio.ParsePowerMode(mode)
	if err != nil {
		return s.result("SetPowerSave", invalidArgs(err))
	}
	return s.do("SetPowerSave", func(ctx context.Context) error {
		return s.backend.SetPowerSave(ctx, m)
	})
}

// ClearPowerSave disables a power-save mode by name
func (s *Service) ClearPowerSave(mode string) *dbus.Error {
	m, err := radio.ParsePowerMode(mode)
	if err != nil {
		return s.result("ClearPowerSave", invalidArgs(err))
	}
	return s.do("ClearPowerSave", func(ctx context.Context) error {
		return s.backend.ClearPowerSave(ctx, m)
	})
}

// ConfigureHostSleep sets the host-sleep mode and wake conditions
func (s *Service) ConfigureHostSleep(mode string, wake []string) *dbus.Error {
	m, err := wlcmgr.ParseHostSleepMode(mode)
	if err != nil {
		return s.result("ConfigureHostSleep", invalidArgs(err))
	}
	w, err := radio.ParseWakeConditions(wake)
	if err != nil {
		return s.result("ConfigureHostSleep", invalidArgs(err))
	}
	return s.do("ConfigureHostSleep", func(ctx context.Context) error {
		return s.backend.ConfigureHostSleep(ctx, m, w)
	})
}

// CancelHostSleep disables host sleep
func (s *Service) CancelHostSleep() *dbus.Error {
	return s.do("CancelHostSleep", s.backend.CancelHostSleep)
}

// GetConnectionState returns the station state
func (s *Service) GetConnectionState() (string, *dbus.Error) {
	return string(s.backend.GetConnectionState()), nil
}

// GetUapConnectionState returns the soft-AP state
func (s *Service) GetUapConnectionState() (string, *dbus.Error) {
	return string(s.backend.GetUapConnectionState()), nil
}

// paramsToNetwork reads AddNetwork parameters into a NetworkConfig
func paramsToNetwork(params map[string]dbus.Variant) (config.NetworkConfig, error) {
	var nc config.NetworkConfig
	r := paramReader{params: params}
	r.str("name", &nc.Name)
	r.str("role", &nc.Role)
	r.str("ssid", &nc.SSID)
	r.str("bssid", &nc.BSSID)
	r.integer("channel", &nc.Channel)
	r.boolean("hidden", &nc.Hidden)
	r.str("security", &nc.Security.Type)
	r.str("passphrase", &nc.Security.Passphrase)
	r.str("password", &nc.Security.Password)
	r.str("wepKey", &nc.Security.WEPKey)
	r.boolean("pmfCapable", &nc.Security.PMFCapable)
	r.boolean("pmfRequired", &nc.Security.PMFRequired)
	r.str("ipType", &nc.IP.Type)
	r.str("address", &nc.IP.Address)
	r.str("gateway", &nc.IP.Gateway)
	r.strings("dns", &nc.IP.DNS)
	r.str("bridge", &nc.IP.Bridge)
	if _, ok := params["eapIdentity"]; ok {
		nc.Security.EAP = &config.EAPConfig{}
		r.str("eapIdentity", &nc.Security.EAP.Identity)
		r.str("eapCACert", &nc.Security.EAP.CACert)
		r.str("eapClientCert", &nc.Security.EAP.ClientCert)
		r.str("eapClientKey", &nc.Security.EAP.ClientKey)
		r.str("eapKeyPassword", &nc.Security.EAP.KeyPass)
	}
	return nc, r.err
}

// paramsToFilter reads Scan parameters into a ScanFilter
func paramsToFilter(params map[string]dbus.Variant) (wlcmgr.ScanFilter, error) {
	var f wlcmgr.ScanFilter
	var bssid string
	r := paramReader{params: params}
	r.str("ssid", &f.SSID)
	r.str("bssid", &bssid)
	r.ints("channels", &f.Channels)
	if r.err != nil {
		return f, r.err
	}
	if bssid != "" {
		b, err := radio.ParseBSSID(bssid)
		if err != nil {
			return f, invalidArgs(err)
		}
		f.BSSID = b
	}
	return f, nil
}

// paramReader collects the first type mismatch while reading a{sv} values
type paramReader struct {
	params map[string]dbus.Variant
	err    error
}

func (r *paramReader) value(key string) (interface{}, bool) {
	v, ok := r.params[key]
	if !ok || r.err != nil {
		return nil, false
	}
	return v.Value(), true
}

func (r *paramReader) mismatch(key, want string) {
	r.err = invalidArgsf("parameter %q must be %s", key, want)
}

func (r *paramReader) str(key string, dst *string) {
	if v, ok := r.value(key); ok {
		if s, ok := v.(string); ok {
			*dst = s
		} else {
			r.mismatch(key, "a string")
		}
	}
}

func (r *paramReader) boolean(key string, dst *bool) {
	if v, ok := r.value(key); ok {
		if b, ok := v.(bool); ok {
			*dst = b
		} else {
			r.mismatch(key, "a boolean")
		}
	}
}

func (r *paramReader) integer(key string, dst *int) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	switch n := v.(type) {
	case int32:
		*dst = int(n)
	case uint32:
		*dst = int(n)
	case int16:
		*dst = int(n)
	case uint16:
		*dst = int(n)
	case byte:
		*dst = int(n)
	default:
		r.mismatch(key, "an integer")
	}
}

func (r *paramReader) strings(key string, dst *[]string) {
	if v, ok := r.value(key); ok {
		if s, ok := v.([]string); ok {
			*dst = s
		} else {
			r.mismatch(key, "a string array")
		}
	}
}

func (r *paramReader) ints(key string, dst *[]int) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	switch list := v.(type) {
	case []int32:
		for _, n := range list {
			*dst = append(*dst, int(n))
		}
	case []uint32:
		for _, n := range list {
			*dst = append(*dst, int(n))
		}
	case []byte:
		for _, n := range list {
			*dst = append(*dst, int(n))
		}
	default:
		r.mismatch(key, "an integer array")
	}
}
