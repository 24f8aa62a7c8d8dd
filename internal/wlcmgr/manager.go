package wlcmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"wlcmgr/internal/capability"
	"wlcmgr/internal/config"
	"wlcmgr/internal/ipstack"
	"wlcmgr/internal/metrics"
	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/scan"
	"wlcmgr/internal/state"
)

// HostSleepMode controls whether host sleep stays armed after a resume
type HostSleepMode int

const (
	HostSleepDisabled HostSleepMode = iota
	HostSleepOneshot
	HostSleepPeriodic
)

func (m HostSleepMode) String() string {
	switch m {
	case HostSleepOneshot:
		return "oneshot"
	case HostSleepPeriodic:
		return "periodic"
	}
	return "disabled"
}

// ParseHostSleepMode maps a configuration name to a HostSleepMode
func ParseHostSleepMode(s string) (HostSleepMode, error) {
	switch s {
	case "", "disabled":
		return HostSleepDisabled, nil
	case "oneshot":
		return HostSleepOneshot, nil
	case "periodic":
		return HostSleepPeriodic, nil
	}
	return 0, fmt.Errorf("unknown host sleep mode %q", s)
}

// Options holds the tunables of a Manager
type Options struct {
	StationIface string
	UAPIface     string

	RescanLimit    int
	ReconnectLimit int
	CommandRetries int
	QueueCapacity  int
	MaxNetworks    int

	PermitWait       time.Duration
	ReconnectBackoff time.Duration
	HostSleepAck     time.Duration
	NeighborReport   time.Duration
	StatusPoll       time.Duration
	ReinitBackoff    time.Duration

	Reconnect     bool
	Roaming       bool
	RoamThreshold int

	Channels     []int // regulatory channel set
	BeaconPeriod int
	Bandwidth    int

	HostSleepMode HostSleepMode
	Wake          radio.WakeConditions

	Negotiation string
	Features    capability.Rules
}

// DefaultOptions mirrors config.Default
func DefaultOptions() Options {
	opts, _ := OptionsFromConfig(config.Default())
	return opts
}

// OptionsFromConfig converts the daemon configuration
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	wake, err := radio.ParseWakeConditions(cfg.HostSleep.Wake)
	if err != nil {
		return Options{}, err
	}
	hs, err := ParseHostSleepMode(cfg.HostSleep.Mode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		StationIface:     cfg.Interfaces.Station,
		UAPIface:         cfg.Interfaces.UAP,
		RescanLimit:      cfg.Limits.Rescan,
		ReconnectLimit:   cfg.Limits.Reconnect,
		CommandRetries:   cfg.Limits.CommandRetries,
		QueueCapacity:    cfg.Limits.QueueCapacity,
		MaxNetworks:      cfg.Limits.MaxNetworks,
		PermitWait:       config.Ms(cfg.Timing.PermitWaitMs),
		ReconnectBackoff: config.Ms(cfg.Timing.ReconnectBackoffMs),
		HostSleepAck:     config.Ms(cfg.Timing.HostSleepAckMs),
		NeighborReport:   config.Ms(cfg.Timing.NeighborReportMs),
		StatusPoll:       config.Ms(cfg.Timing.StatusPollMs),
		ReinitBackoff:    5 * time.Second,
		Reconnect:        cfg.Reconnect.Enabled,
		Roaming:          cfg.Roaming.Enabled,
		RoamThreshold:    cfg.Roaming.RSSIThreshold,
		Channels:         cfg.Regulatory.Channels,
		BeaconPeriod:     cfg.AP.BeaconPeriod,
		Bandwidth:        cfg.AP.Bandwidth,
		HostSleepMode:    hs,
		Wake:             wake,
		Negotiation:      cfg.Negotiation,
		Features:         cfg.Features,
	}, nil
}

// Manager owns both role state machines. All mutable state below the
// "loop-owned" marker is only touched by the goroutine running Run.
type Manager struct {
	opts    Options
	radio   radio.Radio
	ip      ipstack.Stack
	status  *state.Manager
	metrics *metrics.Collector

	queue    chan message
	permit   *scan.Permit
	notifier *notifier
	running  atomic.Bool
	stopped  atomic.Bool
	done     chan struct{}
	capsPub  atomic.Pointer[capability.Capabilities]

	handlersMu sync.Mutex
	handlers   []EventHandler

	// loop-owned
	caps       capability.Capabilities
	negotiator Negotiator
	roamer     Roamer
	store      *profile.Store
	sta        stationContext
	ap         apContext
	power      powerContext
	userScan   *userScanReq
	networks   []state.Network
	scans      []scanPurpose
	timers     map[timerKind]*time.Timer
	timerGen   map[timerKind]uint64
	ctx        context.Context
}

// New creates a Manager. Nothing talks to the radio until Run.
func New(opts Options, r radio.Radio, ip ipstack.Stack, status *state.Manager, m *metrics.Collector) *Manager {
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = 32
	}
	if opts.CommandRetries <= 0 {
		opts.CommandRetries = 1
	}
	if opts.RescanLimit <= 0 {
		opts.RescanLimit = 1
	}
	if status == nil {
		status = state.NewManager()
	}
	return &Manager{
		opts:     opts,
		radio:    r,
		ip:       ip,
		status:   status,
		metrics:  m,
		queue:    make(chan message, opts.QueueCapacity),
		permit:   scan.NewPermit(),
		notifier: newNotifier(),
		done:     make(chan struct{}),
		timers:   make(map[timerKind]*time.Timer),
		timerGen: make(map[timerKind]uint64),
		sta:      stationContext{state: state.StationInitializing},
		ap:       apContext{state: state.APInitializing},
	}
}

// OnEvent registers a handler for connection events
func (m *Manager) OnEvent(fn EventHandler) {
	m.handlersMu.Lock()
	m.handlers = append(m.handlers, fn)
	m.handlersMu.Unlock()
}

// State returns the published snapshot
func (m *Manager) State() state.State {
	return m.status.Get()
}

// Capabilities returns what the firmware supports. Valid after Run has
// initialized the radio.
func (m *Manager) Capabilities() capability.Capabilities {
	if caps := m.capsPub.Load(); caps != nil {
		return *caps
	}
	return capability.Capabilities{}
}

// Run initializes the radio and processes events until ctx is done
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("connection manager already running")
	}
	defer close(m.done)

	go m.notifier.run()
	defer m.notifier.close()

	m.ctx = ctx
	m.radio.Subscribe(m.onRadioEvent)
	m.ip.Subscribe(m.onIPEvent)

	if err := m.initialize(ctx); err != nil {
		m.report(ReasonInitializationFailed, "")
		m.stopped.Store(true)
		m.drain()
		return fmt.Errorf("radio initialization failed: %w", err)
	}
	m.report(ReasonInitialized, "")
	m.publish()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case msg := <-m.queue:
			m.metrics.SetQueueDepth(len(m.queue))
			m.dispatch(msg)
			m.publish()
		}
	}
}

// initialize brings up the radio and resolves firmware capabilities
func (m *Manager) initialize(ctx context.Context) error {
	if err := m.radio.Init(ctx); err != nil {
		return err
	}
	var err error
	m.negotiator, err = NewNegotiator(m.opts.Negotiation, m.opts.RescanLimit, nil)
	if err != nil {
		return err
	}
	m.store = profile.NewStore(m.opts.MaxNetworks, profile.Options{})
	m.ap.overrides = m.defaultOverrides()
	m.power.mode = m.opts.HostSleepMode
	m.power.wake = m.opts.Wake

	fw := m.radio.FirmwareVersion()
	if err := m.applyFirmware(fw); err != nil {
		return err
	}
	m.status.Update(func(s *state.State) {
		s.InterfaceName = m.opts.StationIface
		s.APInterface = m.opts.UAPIface
	})
	m.setStation(state.StationIdle)

	logger.WithFields(logrus.Fields{
		"firmware":    fw,
		"negotiation": m.negotiator.Name(),
		"sae":         m.caps.SAE,
		"owe":         m.caps.OWE,
		"roaming":     m.roamer != nil,
	}).Info("Radio initialized")
	return nil
}

// applyFirmware resolves the capabilities of firmware version fw and
// enables or disables the features depending on them
func (m *Manager) applyFirmware(fw string) error {
	caps, err := capability.Resolve(fw, m.opts.Features)
	if err != nil {
		return err
	}
	m.caps = caps
	m.capsPub.Store(&caps)

	m.roamer = nil
	if m.opts.Roaming && caps.Roaming {
		m.roamer = NewRSSIRoamer(m.opts.RoamThreshold, caps.NeighborReport)
	}
	m.store.SetOptions(profile.Options{
		SAE:        caps.SAE,
		OWE:        caps.OWE,
		Enterprise: caps.Enterprise && m.negotiator.Supports(profile.SecurityEAPTLS),
	})
	if m.power.mode != HostSleepDisabled && caps.HostSleep {
		if m.power.hs == hostSleepOff {
			m.power.hs = hostSleepArmed
		}
	} else {
		m.power.hs = hostSleepOff
	}

	m.status.Update(func(s *state.State) {
		s.Firmware = fw
	})
	return nil
}

// shutdown tears both roles down and fails anything still queued
func (m *Manager) shutdown() {
	logger.Info("Connection manager stopping")
	m.stopped.Store(true)
	for kind := range m.timers {
		m.stopTimer(kind)
	}
	if m.sta.state != state.StationIdle && m.sta.state != state.StationInitializing {
		m.teardownStation()
	}
	if m.ap.state != state.APInitializing {
		m.teardownAP()
		if err := m.radio.StopAP(); err != nil {
			logger.WithError(err).Warn("Failed to stop soft-AP")
		}
	}
	if m.userScan != nil {
		m.finishUserScan(nil, ErrNotRunning)
	}
	m.failSuspend(ErrNotRunning)
	m.drain()
}

// drain answers every queued request with ErrNotRunning
func (m *Manager) drain() {
	for {
		select {
		case msg := <-m.queue:
			if req, ok := msg.(request); ok {
				if req.holdsPermit() {
					m.permit.Release()
				}
				req.fail(ErrNotRunning)
			}
		default:
			return
		}
	}
}

// enqueue hands msg to the loop without blocking
func (m *Manager) enqueue(msg message) error {
	if m.stopped.Load() {
		return ErrNotRunning
	}
	select {
	case m.queue <- msg:
		return nil
	default:
		logger.WithField("capacity", cap(m.queue)).Error("Event queue full, dropping message")
		return ErrQueueFull
	}
}

func (m *Manager) onRadioEvent(ev radio.Event) {
	m.enqueue(radioMsg{ev: ev})
}

func (m *Manager) onIPEvent(ev ipstack.Event) {
	m.enqueue(ipMsg{ev: ev})
}

// call enqueues a request and waits for its reply
func (m *Manager) call(ctx context.Context, req request, reply chan error) error {
	if err := m.enqueue(req); err != nil {
		if req.holdsPermit() {
			m.permit.Release()
		}
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrNotRunning
	}
}

func (m *Manager) dispatch(msg message) {
	switch msg := msg.(type) {
	case radioMsg:
		m.metrics.ObserveRadioEvent(msg.ev.Kind())
		m.handleRadioEvent(msg.ev)
	case ipMsg:
		m.handleIPEvent(msg.ev)
	case timerMsg:
		if msg.gen != m.timerGen[msg.kind] {
			return
		}
		delete(m.timers, msg.kind)
		m.handleTimer(msg.kind)
	case reinitDone:
		m.handleReinitDone(msg.err)
	case request:
		if m.sta.state == state.StationInitializing && !msg.allowedDuringInit() {
			if msg.holdsPermit() {
				m.permit.Release()
			}
			msg.fail(ErrState)
			return
		}
		m.handleRequest(msg)
	}
}

func (m *Manager) handleRadioEvent(ev radio.Event) {
	logger.WithField("event", ev.Kind()).Debug("Radio event")
	switch ev := ev.(type) {
	case radio.ScanResults:
		m.handleScanResults(ev)
	case radio.Association:
		m.handleAssociation(ev)
	case radio.Authentication:
		m.handleAuthentication(ev)
	case radio.LinkLoss:
		m.handleLinkDown(ev.BSSID, ev.Reason, "link loss")
	case radio.Disassociation:
		m.handleLinkDown(ev.BSSID, ev.Reason, "disassociated")
	case radio.Deauthentication:
		m.handleLinkDown(ev.BSSID, ev.Reason, "deauthenticated")
	case radio.RSSILow:
		m.handleRSSILow(ev)
	case radio.RSSIHigh:
		m.sta.rssi = ev.RSSI
		m.report(ReasonRssiHigh, m.sta.active)
	case radio.ChannelSwitch:
		m.handleChannelSwitch(ev)
	case radio.NeighborReport:
		m.handleNeighborReport(ev)
	case radio.APStarted:
		m.handleAPStarted(ev)
	case radio.APStopped:
		m.handleAPStopped(ev)
	case radio.ClientAssociated:
		m.handleClient(ev.MAC.String(), true)
	case radio.ClientDisassociated:
		m.handleClient(ev.MAC.String(), false)
	case radio.HostSleepActivated:
		m.handleHostSleepActivated(ev)
	case radio.PowerModeChanged:
		m.handlePowerModeChanged(ev)
	case radio.FirmwareHang:
		m.handleFirmwareHang(ev)
	default:
		logger.WithField("event", ev.Kind()).Warn("Unhandled radio event")
	}
}

func (m *Manager) handleIPEvent(ev ipstack.Event) {
	switch ev := ev.(type) {
	case ipstack.AddressAcquired:
		if ev.Iface == m.opts.StationIface {
			m.handleAddressAcquired(ev)
		}
	case ipstack.AddressFailed:
		if ev.Iface == m.opts.StationIface {
			m.handleAddressFailed(ev)
		}
	}
}

func (m *Manager) handleTimer(kind timerKind) {
	switch kind {
	case timerReconnect:
		m.reconnectNow()
	case timerNeighborReport:
		m.handleNeighborTimeout()
	case timerHostSleepAck:
		m.handleHostSleepTimeout()
	case timerStatusPoll:
		m.pollStatus()
	case timerReinit:
		m.reinit()
	}
}

// startTimer (re)arms a one-shot timer that posts back into the loop
func (m *Manager) startTimer(kind timerKind, d time.Duration) {
	m.stopTimer(kind)
	gen := m.timerGen[kind]
	m.timers[kind] = time.AfterFunc(d, func() {
		m.enqueue(timerMsg{kind: kind, gen: gen})
	})
}

// stopTimer cancels kind; a message already queued becomes stale
func (m *Manager) stopTimer(kind timerKind) {
	m.timerGen[kind]++
	if t, ok := m.timers[kind]; ok {
		t.Stop()
		delete(m.timers, kind)
	}
}

// retry submits a radio command up to the configured number of times
func (m *Manager) retry(name string, fn func() error) error {
	var err error
	for i := 0; i < m.opts.CommandRetries; i++ {
		if err = fn(); err == nil {
			return nil
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"command": name,
			"attempt": i + 1,
		}).Warn("Radio command submission failed")
	}
	return fmt.Errorf("%s: %w", name, err)
}

// report queues a connection event for the registered handlers
func (m *Manager) report(reason Reason, network string) {
	ev := Event{Reason: reason, Network: network, Time: time.Now()}
	m.metrics.ObserveEvent(reason.String())
	logger.WithFields(logrus.Fields{
		"reason":  reason.String(),
		"network": network,
	}).Info("Connection event")

	m.status.Update(func(s *state.State) {
		s.LastReason = reason.String()
	})

	m.handlersMu.Lock()
	handlers := append([]EventHandler(nil), m.handlers...)
	m.handlersMu.Unlock()
	m.notifier.post(func() {
		for _, h := range handlers {
			h(ev)
		}
	})
}

func (m *Manager) setStation(s state.StationState) {
	if m.sta.state == s {
		return
	}
	logger.WithFields(logrus.Fields{
		"from": m.sta.state,
		"to":   s,
	}).Debug("Station state change")
	m.sta.state = s
	m.metrics.ObserveTransition("station", string(s))
}

func (m *Manager) setAP(s state.APState) {
	if m.ap.state == s {
		return
	}
	logger.WithFields(logrus.Fields{
		"from": m.ap.state,
		"to":   s,
	}).Debug("Soft-AP state change")
	m.ap.state = s
	m.metrics.ObserveTransition("uap", string(s))
}

// publish copies loop state into the snapshot read by status queries
func (m *Manager) publish() {
	m.metrics.SetPermitHeld(m.permit.Held())
	var names []string
	if m.store != nil {
		for _, p := range m.store.List() {
			names = append(names, p.Name)
		}
	}
	sta := m.sta
	ap := m.ap
	pw := m.power
	networks := m.networks
	m.status.Update(func(s *state.State) {
		s.Station = sta.state
		s.ActiveNetwork = sta.active
		s.ActiveSSID, s.ActiveBSSID, s.ActiveSecurity = "", "", ""
		s.Channel, s.Frequency = 0, 0
		if sta.state.Linked() {
			s.ActiveSSID = sta.prof.SSID
			s.ActiveBSSID = sta.cand.Result.BSSID.String()
			s.ActiveSecurity = sta.cand.Security.String()
			s.Channel = sta.channel
			s.Frequency = state.ChannelToFrequency(sta.channel)
			s.SignalRSSI = int16(sta.rssi)
			s.SignalStrength = state.DBmToPercent(int16(sta.rssi))
		}
		if sta.addr.IsValid() {
			s.IpAddress = sta.addr.String()
		} else {
			s.IpAddress = ""
		}
		if sta.gateway.IsValid() {
			s.Gateway = sta.gateway.String()
		} else {
			s.Gateway = ""
		}

		s.AP = ap.state
		s.APNetwork = ap.active
		s.APSSID = ""
		if ap.active != "" {
			s.APSSID = ap.prof.SSID
		}
		s.APChannel = ap.channel
		s.APClients = len(ap.clients)
		if ap.addr.IsValid() {
			s.APAddress = ap.addr.String()
		} else if ap.active == "" {
			s.APAddress = ""
		}

		s.PowerSave = pw.activeNames()
		s.HostSleep = pw.hs.String()
		s.WakeConditions = uint32(pw.wake)
		s.Profiles = names
		s.Networks = networks
	})
}
