// Package sim provides an in-memory radio that answers commands with the
// same asynchronous events real firmware produces.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"wlcmgr/internal/radio"
)

var logger = logrus.WithField("module", "radio-sim")

// ErrCommandFailed is returned by commands armed with FailCommand
var ErrCommandFailed = errors.New("sim: command submission failed")

// BSS is one simulated access point
type BSS struct {
	radio.ScanResult
	HideSSID    bool
	Passphrase  string // empty accepts any key
	RejectAssoc bool
	RejectAuth  bool
	// PeerCerts is presented during EAP authentication
	PeerCerts [][]byte
}

// Radio is a simulated firmware endpoint
type Radio struct {
	mu        sync.Mutex
	version   string
	handler   func(radio.Event)
	bss       []BSS
	fail      map[string]int
	commands  []string
	initErr   error
	neighbors []int
	hsAck     bool
	hsSilent  bool
	apReject  bool
	apConfig  radio.APConfig

	events    chan radio.Event
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a simulated radio reporting firmware version
func New(version string) *Radio {
	r := &Radio{
		version: version,
		fail:    make(map[string]int),
		hsAck:   true,
		events:  make(chan radio.Event, 128),
		done:    make(chan struct{}),
	}
	go r.deliver()
	return r
}

func (r *Radio) deliver() {
	for {
		select {
		case ev := <-r.events:
			r.mu.Lock()
			fn := r.handler
			r.mu.Unlock()
			if fn != nil {
				fn(ev)
			}
		case <-r.done:
			return
		}
	}
}

// Close stops event delivery
func (r *Radio) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// AddBSS makes an access point visible to scans
func (r *Radio) AddBSS(b BSS) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bss = append(r.bss, b)
}

// RemoveBSS takes an access point off the air
func (r *Radio) RemoveBSS(bssid radio.BSSID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, b := range r.bss {
		if b.BSSID == bssid {
			r.bss = append(r.bss[:i], r.bss[i+1:]...)
			return
		}
	}
}

// FailCommand makes the next n submissions of the named command fail.
// Names are the lowercase method names, e.g. "scan" or "associate".
func (r *Radio) FailCommand(name string, n int) {
	r.mu.Lock()
	r.fail[name] = n
	r.mu.Unlock()
}

// SetInitError makes Init fail with err until cleared with nil
func (r *Radio) SetInitError(err error) {
	r.mu.Lock()
	r.initErr = err
	r.mu.Unlock()
}

// SetNeighbors sets the channels returned by neighbor reports
func (r *Radio) SetNeighbors(channels []int) {
	r.mu.Lock()
	r.neighbors = channels
	r.mu.Unlock()
}

// SetHostSleepAck controls the answer to host-sleep activation. With
// silent set no acknowledgement is sent at all.
func (r *Radio) SetHostSleepAck(ok, silent bool) {
	r.mu.Lock()
	r.hsAck = ok
	r.hsSilent = silent
	r.mu.Unlock()
}

// SetAPReject makes the next soft-AP starts fail in firmware
func (r *Radio) SetAPReject(reject bool) {
	r.mu.Lock()
	r.apReject = reject
	r.mu.Unlock()
}

// Inject delivers an unsolicited event such as LinkLoss or FirmwareHang
func (r *Radio) Inject(ev radio.Event) {
	r.emit(ev)
}

// Commands returns the submitted commands in order
func (r *Radio) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

// Count returns how many times the named command was submitted
func (r *Radio) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.commands {
		if c == name {
			n++
		}
	}
	return n
}

// LastAPConfig returns the most recent soft-AP start request
func (r *Radio) LastAPConfig() radio.APConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.apConfig
}

func (r *Radio) emit(ev radio.Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

// record must be called with mu held
func (r *Radio) record(name string) error {
	r.commands = append(r.commands, name)
	if n := r.fail[name]; n > 0 {
		r.fail[name] = n - 1
		return fmt.Errorf("%s: %w", name, ErrCommandFailed)
	}
	return nil
}

func (r *Radio) Subscribe(fn func(radio.Event)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

func (r *Radio) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record("init"); err != nil {
		return err
	}
	if r.initErr != nil {
		return r.initErr
	}
	logger.WithField("firmware", r.version).Debug("Simulated radio initialized")
	return ctx.Err()
}

func (r *Radio) FirmwareVersion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// SetFirmwareVersion changes the version reported after the next Init
func (r *Radio) SetFirmwareVersion(v string) {
	r.mu.Lock()
	r.version = v
	r.mu.Unlock()
}

func (r *Radio) Scan(req radio.ScanRequest) error {
	r.mu.Lock()
	if err := r.record("scan"); err != nil {
		r.mu.Unlock()
		return err
	}
	var results []radio.ScanResult
	for _, b := range r.bss {
		if res, ok := visible(b, req); ok {
			results = append(results, res)
		}
	}
	r.mu.Unlock()

	r.emit(radio.ScanResults{Results: results})
	return nil
}

// visible filters b against req and hides the SSID unless probed directly
func visible(b BSS, req radio.ScanRequest) (radio.ScanResult, bool) {
	res := b.ScanResult
	if len(req.Channels) > 0 && !contains(req.Channels, res.Channel) {
		return res, false
	}
	if !req.BSSID.IsZero() && req.BSSID != res.BSSID {
		return res, false
	}
	if req.SSID != "" && req.SSID != b.SSID {
		return res, false
	}
	if b.HideSSID && req.SSID == "" {
		res.SSID = ""
	}
	return res, true
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (r *Radio) Associate(req radio.AssociateRequest) error {
	r.mu.Lock()
	if err := r.record("associate"); err != nil {
		r.mu.Unlock()
		return err
	}
	var target *BSS
	for i := range r.bss {
		if r.bss[i].BSSID == req.BSSID {
			target = &r.bss[i]
			break
		}
	}
	if target == nil || target.RejectAssoc {
		r.mu.Unlock()
		r.emit(radio.Association{BSSID: req.BSSID, OK: false, Status: 1})
		return nil
	}
	auth := radio.Authentication{BSSID: req.BSSID, OK: true, PeerCerts: target.PeerCerts}
	keyed := !req.Security.Open() && !req.Security.Has(radio.CapOWE) && !req.Security.Has(radio.CapEAP)
	if target.RejectAuth || (keyed && target.Passphrase != "" && req.Key != target.Passphrase) {
		auth.OK = false
		auth.Reason = radio.ReasonFourWayHandshake
	}
	r.mu.Unlock()

	r.emit(radio.Association{BSSID: req.BSSID, OK: true})
	r.emit(auth)
	return nil
}

func (r *Radio) Deauthenticate(bssid radio.BSSID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record("deauthenticate")
}

func (r *Radio) SetPowerMode(mode radio.PowerMode, enable bool) error {
	r.mu.Lock()
	if err := r.record("power"); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	r.emit(radio.PowerModeChanged{Mode: mode, Entered: enable})
	return nil
}

func (r *Radio) ConfigureHostSleep(req radio.HostSleepRequest) error {
	r.mu.Lock()
	if err := r.record("host-sleep"); err != nil {
		r.mu.Unlock()
		return err
	}
	ack, silent := r.hsAck, r.hsSilent
	r.mu.Unlock()
	if req.Activate && !silent {
		r.emit(radio.HostSleepActivated{OK: ack})
	}
	return nil
}

func (r *Radio) StartAP(cfg radio.APConfig) error {
	r.mu.Lock()
	if err := r.record("start-ap"); err != nil {
		r.mu.Unlock()
		return err
	}
	reject := r.apReject
	r.apConfig = cfg
	r.mu.Unlock()

	ch := cfg.Channel
	if ch == 0 {
		ch = 6
	}
	r.emit(radio.APStarted{OK: !reject, Channel: ch})
	return nil
}

func (r *Radio) StopAP() error {
	r.mu.Lock()
	if err := r.record("stop-ap"); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()
	r.emit(radio.APStopped{OK: true})
	return nil
}

func (r *Radio) RequestNeighborReport(ssid string) error {
	r.mu.Lock()
	if err := r.record("neighbor-report"); err != nil {
		r.mu.Unlock()
		return err
	}
	channels := append([]int(nil), r.neighbors...)
	r.mu.Unlock()
	r.emit(radio.NeighborReport{Channels: channels})
	return nil
}
