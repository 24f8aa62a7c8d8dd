package dbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/ipstack"
	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/radio/sim"
	"wlcmgr/internal/state"
	"wlcmgr/internal/wlcmgr"
)

type signal struct {
	name   string
	values []interface{}
}

type recorder struct {
	mu      sync.Mutex
	signals []signal
}

func (r *recorder) Emit(path dbus.ObjectPath, name string, values ...interface{}) error {
	if path != ObjectPath {
		return fmt.Errorf("unexpected path %s", path)
	}
	r.mu.Lock()
	r.signals = append(r.signals, signal{name: name, values: values})
	r.mu.Unlock()
	return nil
}

// find returns the first signal named name whose first value matches first
func (r *recorder) find(name string, first interface{}) (signal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.signals {
		if s.name == name && (first == nil || (len(s.values) > 0 && s.values[0] == first)) {
			return s, true
		}
	}
	return signal{}, false
}

func (r *recorder) wait(t *testing.T, name string, first interface{}) signal {
	t.Helper()
	var got signal
	require.Eventually(t, func() bool {
		var ok bool
		got, ok = r.find(name, first)
		return ok
	}, 2*time.Second, 5*time.Millisecond, "signal %s %v never emitted", name, first)
	return got
}

type fixture struct {
	radio *sim.Radio
	rec   *recorder
	svc   *Service
	st    *state.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := wlcmgr.DefaultOptions()
	opts.RescanLimit = 2
	opts.PermitWait = time.Second
	opts.StatusPoll = 0

	r := sim.New("18.99.3")
	st := state.NewManager()
	mgr := wlcmgr.New(opts, r, ipstack.NewSim(), st, nil)
	rec := &recorder{}
	svc := newService(rec, mgr, st)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- mgr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errc
		r.Close()
	})

	rec.wait(t, Interface+".ConnectionEvent", "initialized")
	require.Eventually(t, func() bool {
		return mgr.GetConnectionState() == state.StationIdle
	}, time.Second, 5*time.Millisecond)
	return &fixture{radio: r, rec: rec, svc: svc, st: st}
}

func homeParams() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"name":       dbus.MakeVariant("home"),
		"ssid":       dbus.MakeVariant("home"),
		"security":   dbus.MakeVariant("wpa2"),
		"passphrase": dbus.MakeVariant("correct horse"),
	}
}

func TestAddAndInspectNetwork(t *testing.T) {
	f := newFixture(t)
	require.Nil(t, f.svc.AddNetwork(homeParams()))

	list, derr := f.svc.ListNetworks()
	require.Nil(t, derr)
	assert.Equal(t, []ProfileDBus{{Name: "home", Role: "station", SSID: "home"}}, list)

	params, derr := f.svc.GetNetwork("home")
	require.Nil(t, derr)
	assert.Equal(t, "wpa2", params["security"].Value())
	assert.Equal(t, "dhcp", params["ipType"].Value())
	assert.NotContains(t, params, "passphrase")

	derr = f.svc.AddNetwork(homeParams())
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.Exists", derr.Name)

	_, derr = f.svc.GetNetwork("office")
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.UnknownNetwork", derr.Name)
}

func TestAddNetworkRejectsBadParams(t *testing.T) {
	f := newFixture(t)

	params := homeParams()
	params["channel"] = dbus.MakeVariant("six")
	derr := f.svc.AddNetwork(params)
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.InvalidArgs", derr.Name)

	params = homeParams()
	params["role"] = dbus.MakeVariant("mesh")
	derr = f.svc.AddNetwork(params)
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.InvalidArgs", derr.Name)

	s := f.rec.wait(t, Interface+".Error", "AddNetwork")
	assert.Len(t, s.values, 2)
}

func TestConnectOverBus(t *testing.T) {
	f := newFixture(t)
	f.radio.AddBSS(sim.BSS{ScanResult: radio.ScanResult{
		BSSID: radio.BSSID{0x02, 0, 0, 0, 0, 0x0a}, SSID: "home", Channel: 6,
		Security: radio.CapWPA2, RSSI: -45,
	}})
	require.Nil(t, f.svc.AddNetwork(homeParams()))
	require.Nil(t, f.svc.Connect("home"))

	ev := f.rec.wait(t, Interface+".ConnectionEvent", "success")
	assert.Equal(t, "home", ev.values[1])

	require.Eventually(t, func() bool {
		v, derr := f.svc.Get(Interface, "Station")
		return derr == nil && v.Value() == string(state.StationConnected)
	}, 2*time.Second, 5*time.Millisecond)

	got, _ := f.svc.GetConnectionState()
	assert.Equal(t, "connected", got)
	_, ok := f.rec.find("org.freedesktop.DBus.Properties.PropertiesChanged", Interface)
	assert.True(t, ok)

	require.Nil(t, f.svc.Disconnect())
	f.rec.wait(t, Interface+".ConnectionEvent", "user-disconnect")

	derr := f.svc.Disconnect()
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.NotConnected", derr.Name)
}

func TestConnectFailureRecordsLastError(t *testing.T) {
	f := newFixture(t)
	derr := f.svc.Connect("nowhere")
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.InvalidProfile", derr.Name)
	assert.NotEmpty(t, f.st.Get().LastError)
}

func TestScanOverBus(t *testing.T) {
	f := newFixture(t)
	f.radio.AddBSS(sim.BSS{ScanResult: radio.ScanResult{
		BSSID: radio.BSSID{0x02, 0, 0, 0, 0, 0x0b}, SSID: "cafe", Channel: 11, RSSI: -70,
	}})
	require.Nil(t, f.svc.Scan(nil))

	s := f.rec.wait(t, Interface+".ScanCompleted", nil)
	results := s.values[0].([]NetworkDBus)
	require.Len(t, results, 1)
	assert.Equal(t, NetworkDBus{SSID: "cafe", BSSID: "02:00:00:00:00:0b", Channel: 11, Security: "open", SignalDBm: -70}, results[0])
}

func TestScanFilterOverBus(t *testing.T) {
	f := newFixture(t)
	f.radio.AddBSS(sim.BSS{ScanResult: radio.ScanResult{
		BSSID: radio.BSSID{0x02, 0, 0, 0, 0, 0x0b}, SSID: "cafe", Channel: 11, RSSI: -70,
	}})
	f.radio.AddBSS(sim.BSS{ScanResult: radio.ScanResult{
		BSSID: radio.BSSID{0x02, 0, 0, 0, 0, 0x0c}, SSID: "library", Channel: 36, RSSI: -60,
	}})

	derr := f.svc.Scan(map[string]dbus.Variant{"channels": dbus.MakeVariant("36")})
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.InvalidArgs", derr.Name)
	derr = f.svc.Scan(map[string]dbus.Variant{"bssid": dbus.MakeVariant("nope")})
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.InvalidArgs", derr.Name)
	derr = f.svc.Scan(map[string]dbus.Variant{"channels": dbus.MakeVariant([]uint32{14})})
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.ChannelNotAllowed", derr.Name)

	require.Nil(t, f.svc.Scan(map[string]dbus.Variant{"channels": dbus.MakeVariant([]uint32{36})}))
	s := f.rec.wait(t, Interface+".ScanCompleted", nil)
	results := s.values[0].([]NetworkDBus)
	require.Len(t, results, 1)
	assert.Equal(t, "library", results[0].SSID)
}

func TestParamsToFilter(t *testing.T) {
	filter, err := paramsToFilter(map[string]dbus.Variant{
		"ssid":     dbus.MakeVariant("cafe"),
		"bssid":    dbus.MakeVariant("02:00:00:00:00:0b"),
		"channels": dbus.MakeVariant([]int32{1, 6}),
	})
	require.NoError(t, err)
	assert.Equal(t, wlcmgr.ScanFilter{
		SSID:     "cafe",
		BSSID:    radio.BSSID{0x02, 0, 0, 0, 0, 0x0b},
		Channels: []int{1, 6},
	}, filter)

	filter, err = paramsToFilter(nil)
	require.NoError(t, err)
	assert.Equal(t, wlcmgr.ScanFilter{}, filter)
}

func TestPowerArguments(t *testing.T) {
	f := newFixture(t)

	derr := f.svc.SetPowerSave("turbo")
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.InvalidArgs", derr.Name)

	assert.Nil(t, f.svc.SetPowerSave("ieee"))
	assert.Nil(t, f.svc.ClearPowerSave("ieee"))

	derr = f.svc.ConfigureHostSleep("sometimes", nil)
	require.NotNil(t, derr)
	assert.Equal(t, Interface+".Error.InvalidArgs", derr.Name)
	assert.Nil(t, f.svc.ConfigureHostSleep("periodic", []string{"unicast"}))
	assert.Nil(t, f.svc.CancelHostSleep())
}

func TestProperties(t *testing.T) {
	f := newFixture(t)

	all, derr := f.svc.GetAll(Interface)
	require.Nil(t, derr)
	assert.Equal(t, "idle", all["Station"].Value())
	assert.Equal(t, "18.99.3", all["Firmware"].Value())
	assert.Len(t, all, len(f.svc.properties()))

	_, derr = f.svc.Get(Interface, "Bogus")
	require.NotNil(t, derr)
	assert.Equal(t, "org.freedesktop.DBus.Error.UnknownProperty", derr.Name)

	_, derr = f.svc.GetAll("org.example")
	assert.NotNil(t, derr)
	assert.NotNil(t, f.svc.Set(Interface, "Station", dbus.MakeVariant("idle")))
}

func TestErrorName(t *testing.T) {
	assert.Equal(t, Interface+".Error.Busy", errorName(wlcmgr.ErrScanBusy))
	assert.Equal(t, Interface+".Error.InvalidProfile", errorName(fmt.Errorf("add: %w", profile.ErrInvalidSSID)))
	assert.Equal(t, Interface+".Error.Failed", errorName(errors.New("boom")))
	assert.Nil(t, toDBusError(nil))
}
