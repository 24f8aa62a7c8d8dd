// Package iwd drives a Linux wireless device through iwd's D-Bus API and
// presents it as a radio.Radio.
package iwd

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"wlcmgr/internal/radio"
)

const (
	IWDService       = "net.connman.iwd"
	DaemonIface      = "net.connman.iwd.Daemon"
	StationIface     = "net.connman.iwd.Station"
	DeviceIface      = "net.connman.iwd.Device"
	NetworkIface     = "net.connman.iwd.Network"
	AccessPointIface = "net.connman.iwd.AccessPoint"
	BSSIface         = "net.connman.iwd.BasicServiceSet"

	objectManager   = "org.freedesktop.DBus.ObjectManager"
	propertiesIface = "org.freedesktop.DBus.Properties"
)

var logger = logrus.WithField("module", "iwd")

// ErrUnsupported is returned for commands iwd has no D-Bus equivalent for
var ErrUnsupported = errors.New("iwd: command not supported")

var errNoStation = errors.New("iwd: no wifi station found")

// Radio is the iwd-backed radio
type Radio struct {
	conn    *dbus.Conn
	agent   *Agent
	signals *signalAgent

	mu          sync.Mutex
	handler     func(radio.Event)
	version     string
	devicePath  dbus.ObjectPath
	stationPath dbus.ObjectPath
	networks    map[string]dbus.ObjectPath // ssid of the last scan
	scanPending bool
	scanReq     radio.ScanRequest
	link        linkTracker
	subscribed  bool
}

// New creates a radio on the system bus connection conn. rssiThreshold is
// the level at which RSSILow/RSSIHigh events are raised.
func New(conn *dbus.Conn, rssiThreshold int) *Radio {
	r := &Radio{
		conn:     conn,
		agent:    NewAgent(),
		networks: make(map[string]dbus.ObjectPath),
	}
	r.signals = &signalAgent{threshold: rssiThreshold, emit: r.emit}
	return r
}

// Subscribe registers the event handler
func (r *Radio) Subscribe(fn func(radio.Event)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

func (r *Radio) emit(ev radio.Event) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Init locates the station, powers it up and registers the agents. It is
// called again after iwd restarts.
func (r *Radio) Init(ctx context.Context) error {
	if err := r.findDevice(ctx); err != nil {
		return err
	}
	version := r.daemonVersion(ctx)
	r.mu.Lock()
	r.version = version
	station := r.stationPath
	first := !r.subscribed
	r.subscribed = true
	r.link = linkTracker{}
	r.mu.Unlock()

	if first {
		if err := r.subscribeSignals(); err != nil {
			return fmt.Errorf("subscribe to iwd signals: %w", err)
		}
	}
	if err := r.agent.register(r.conn); err != nil {
		logger.WithError(err).Warn("Failed to register agent; only known networks can connect")
	}
	if err := r.signals.register(r.conn, station); err != nil {
		logger.WithError(err).Warn("Failed to register signal level agent")
	}

	logger.WithFields(logrus.Fields{
		"station": station,
		"version": r.FirmwareVersion(),
	}).Info("iwd station ready")
	return nil
}

// FirmwareVersion returns the iwd daemon version
func (r *Radio) FirmwareVersion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

func (r *Radio) findDevice(ctx context.Context) error {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := r.conn.Object(IWDService, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		return fmt.Errorf("failed to get managed objects: %w", err)
	}

	var station dbus.ObjectPath
	var powered bool
	for path, ifaces := range objects {
		if _, ok := ifaces[StationIface]; !ok {
			continue
		}
		station = path
		if dev, ok := ifaces[DeviceIface]; ok {
			powered, _ = dev["Powered"].Value().(bool)
		}
		break
	}
	if station == "" {
		return errNoStation
	}

	r.mu.Lock()
	r.stationPath = station
	r.devicePath = station
	r.mu.Unlock()

	if !powered {
		err := r.conn.Object(IWDService, station).CallWithContext(ctx, propertiesIface+".Set", 0,
			DeviceIface, "Powered", dbus.MakeVariant(true)).Err
		if err != nil {
			return fmt.Errorf("power up %s: %w", station, err)
		}
	}
	return nil
}

func (r *Radio) daemonVersion(ctx context.Context) string {
	var info map[string]dbus.Variant
	err := r.conn.Object(IWDService, "/net/connman/iwd").CallWithContext(ctx, DaemonIface+".GetInfo", 0).Store(&info)
	if err == nil {
		if v, ok := info["Version"].Value().(string); ok {
			return v
		}
	}
	logger.WithError(err).Warn("Cannot read iwd version")
	return "0.0"
}

// subscribeSignals follows station properties and the iwd bus name
func (r *Radio) subscribeSignals() error {
	if err := r.conn.AddMatchSignal(
		dbus.WithMatchSender(IWDService),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return err
	}
	if err := r.conn.AddMatchSignal(
		dbus.WithMatchSender("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, IWDService),
	); err != nil {
		return err
	}

	ch := make(chan *dbus.Signal, 16)
	r.conn.Signal(ch)
	go func() {
		for sig := range ch {
			r.handleSignal(sig)
		}
	}()
	return nil
}

func (r *Radio) handleSignal(sig *dbus.Signal) {
	switch sig.Name {
	case "org.freedesktop.DBus.NameOwnerChanged":
		if len(sig.Body) == 3 {
			name, _ := sig.Body[0].(string)
			newOwner, _ := sig.Body[2].(string)
			if name == IWDService && newOwner == "" {
				logger.Warn("iwd left the bus")
				r.emit(radio.FirmwareHang{Reason: "iwd exited"})
			}
		}

	case propertiesIface + ".PropertiesChanged":
		r.mu.Lock()
		station := r.stationPath
		r.mu.Unlock()
		if sig.Path != station || len(sig.Body) < 2 {
			return
		}
		iface, _ := sig.Body[0].(string)
		props, ok := sig.Body[1].(map[string]dbus.Variant)
		if iface != StationIface || !ok {
			return
		}
		r.handleStationChange(props)
	}
}

func (r *Radio) handleStationChange(props map[string]dbus.Variant) {
	if v, ok := props["State"]; ok {
		if s, ok := v.Value().(string); ok {
			r.mu.Lock()
			ev := r.link.stationState(s)
			r.mu.Unlock()
			logger.WithField("state", s).Debug("Station state")
			if ev != nil {
				r.emit(ev)
			}
		}
	}
	if v, ok := props["Scanning"]; ok {
		if scanning, ok := v.Value().(bool); ok && !scanning {
			r.mu.Lock()
			pending := r.scanPending
			r.scanPending = false
			req := r.scanReq
			r.mu.Unlock()
			if pending {
				go r.finishScan(req)
			}
		}
	}
}

// Scan starts a station scan. Results are collected when iwd reports the
// scan finished.
func (r *Radio) Scan(req radio.ScanRequest) error {
	r.mu.Lock()
	station := r.stationPath
	if station == "" {
		r.mu.Unlock()
		return errNoStation
	}
	r.scanPending = true
	r.scanReq = req
	r.mu.Unlock()

	err := r.conn.Object(IWDService, station).Call(StationIface+".Scan", 0).Err
	if errorName(err) == "net.connman.iwd.Busy" {
		// A scan is already running; its completion answers this one.
		return nil
	}
	if err != nil {
		r.mu.Lock()
		r.scanPending = false
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *Radio) finishScan(req radio.ScanRequest) {
	results, networks, err := r.collectResults()
	if err != nil {
		r.emit(radio.ScanResults{Err: err})
		return
	}
	r.mu.Lock()
	r.networks = networks
	r.mu.Unlock()
	r.emit(radio.ScanResults{Results: filterResults(results, req)})
}

func (r *Radio) collectResults() ([]radio.ScanResult, map[string]dbus.ObjectPath, error) {
	r.mu.Lock()
	station := r.conn.Object(IWDService, r.stationPath)
	r.mu.Unlock()

	var ordered []struct {
		Path dbus.ObjectPath
		RSSI int16
	}
	if err := station.Call(StationIface+".GetOrderedNetworks", 0).Store(&ordered); err != nil {
		return nil, nil, fmt.Errorf("GetOrderedNetworks: %w", err)
	}

	var results []radio.ScanResult
	networks := make(map[string]dbus.ObjectPath, len(ordered))
	for _, o := range ordered {
		var props map[string]dbus.Variant
		if err := r.conn.Object(IWDService, o.Path).Call(propertiesIface+".GetAll", 0, NetworkIface).Store(&props); err != nil {
			logger.WithError(err).WithField("network", o.Path).Debug("Skipping network")
			continue
		}
		name, _ := props["Name"].Value().(string)
		typ, _ := props["Type"].Value().(string)
		ess, _ := props["ExtendedServiceSet"].Value().([]dbus.ObjectPath)

		base := radio.ScanResult{
			SSID:     name,
			Security: securityFromType(typ),
			RSSI:     int(o.RSSI / 100), // 1/100 dBm
		}
		networks[name] = o.Path
		bssids := r.bssAddresses(ess)
		if len(bssids) == 0 {
			results = append(results, base)
			continue
		}
		for _, b := range bssids {
			res := base
			res.BSSID = b
			results = append(results, res)
		}
	}

	var hidden []struct {
		Address string
		RSSI    int16
		Type    string
	}
	if err := station.Call(StationIface+".GetHiddenAccessPoints", 0).Store(&hidden); err == nil {
		for _, h := range hidden {
			bssid, err := radio.ParseBSSID(h.Address)
			if err != nil {
				continue
			}
			results = append(results, radio.ScanResult{
				BSSID:    bssid,
				Security: securityFromType(h.Type),
				RSSI:     int(h.RSSI / 100),
			})
		}
	}
	return results, networks, nil
}

func (r *Radio) bssAddresses(paths []dbus.ObjectPath) []radio.BSSID {
	var out []radio.BSSID
	for _, p := range paths {
		v, err := r.conn.Object(IWDService, p).GetProperty(BSSIface + ".Address")
		if err != nil {
			continue
		}
		s, _ := v.Value().(string)
		if b, err := radio.ParseBSSID(s); err == nil {
			out = append(out, b)
		}
	}
	return out
}

// Associate connects to the network named in req. The key is handed to
// iwd through the agent.
func (r *Radio) Associate(req radio.AssociateRequest) error {
	r.mu.Lock()
	station := r.stationPath
	path, known := r.networks[req.SSID]
	r.link = linkTracker{bssid: req.BSSID}
	r.mu.Unlock()
	if station == "" {
		return errNoStation
	}

	if req.Key != "" {
		r.agent.SetPending(req.Key)
	}
	go func() {
		var call *dbus.Call
		if known {
			call = r.conn.Object(IWDService, path).Call(NetworkIface+".Connect", 0)
		} else {
			call = r.conn.Object(IWDService, station).Call(StationIface+".ConnectHiddenNetwork", 0, req.SSID)
		}
		keyUsed := r.agent.ClearPending()
		if call.Err != nil {
			logger.WithError(call.Err).WithField("ssid", req.SSID).Info("iwd connect failed")
			for _, ev := range connectFailure(req.BSSID, call.Err, keyUsed) {
				r.emit(ev)
			}
			return
		}
		r.mu.Lock()
		r.link.connected = true
		r.mu.Unlock()
		r.emit(radio.Association{BSSID: req.BSSID, OK: true})
		r.emit(radio.Authentication{BSSID: req.BSSID, OK: true})
	}()
	return nil
}

// Deauthenticate leaves the current network
func (r *Radio) Deauthenticate(bssid radio.BSSID) error {
	r.mu.Lock()
	station := r.stationPath
	r.link.leaving = true
	r.mu.Unlock()

	err := r.conn.Object(IWDService, station).Call(StationIface+".Disconnect", 0).Err
	if errorName(err) == "net.connman.iwd.NotConnected" {
		return nil
	}
	return err
}

// SetPowerMode is not exposed by iwd
func (r *Radio) SetPowerMode(mode radio.PowerMode, enable bool) error {
	return fmt.Errorf("%w: power mode %s", ErrUnsupported, mode)
}

// ConfigureHostSleep is not exposed by iwd
func (r *Radio) ConfigureHostSleep(req radio.HostSleepRequest) error {
	return fmt.Errorf("%w: host sleep", ErrUnsupported)
}

// RequestNeighborReport is not exposed by iwd
func (r *Radio) RequestNeighborReport(ssid string) error {
	return fmt.Errorf("%w: neighbor report", ErrUnsupported)
}

// StartAP switches the device to AP mode and starts a WPA2 network
func (r *Radio) StartAP(cfg radio.APConfig) error {
	if cfg.Key == "" {
		return fmt.Errorf("%w: open access point", ErrUnsupported)
	}
	r.mu.Lock()
	device := r.devicePath
	r.mu.Unlock()

	go func() {
		obj := r.conn.Object(IWDService, device)
		err := obj.Call(propertiesIface+".Set", 0, DeviceIface, "Mode", dbus.MakeVariant("ap")).Err
		if err == nil {
			err = obj.Call(AccessPointIface+".Start", 0, cfg.SSID, cfg.Key).Err
		}
		if err != nil {
			logger.WithError(err).Warn("iwd access point start failed")
			r.emit(radio.APStarted{OK: false})
			return
		}
		ch := cfg.Channel
		if v, err := obj.GetProperty(AccessPointIface + ".Frequency"); err == nil {
			if f, ok := v.Value().(uint32); ok {
				ch = frequencyToChannel(f)
			}
		}
		r.emit(radio.APStarted{OK: true, Channel: ch})
	}()
	return nil
}

// StopAP stops the access point and returns the device to station mode
func (r *Radio) StopAP() error {
	r.mu.Lock()
	device := r.devicePath
	r.mu.Unlock()

	go func() {
		obj := r.conn.Object(IWDService, device)
		err := obj.Call(AccessPointIface+".Stop", 0).Err
		if err == nil {
			err = obj.Call(propertiesIface+".Set", 0, DeviceIface, "Mode", dbus.MakeVariant("station")).Err
		}
		if err != nil {
			logger.WithError(err).Warn("iwd access point stop failed")
		}
		r.emit(radio.APStopped{OK: err == nil})
	}()
	return nil
}
