package iwd

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"wlcmgr/internal/radio"
)

// statusUnspecified is the 802.11 status code reported for a failed
// association iwd gives no detail for
const statusUnspecified = 1

// linkTracker turns iwd station states into link events for the
// connection started by the last associate command
type linkTracker struct {
	bssid     radio.BSSID
	connected bool
	leaving   bool
}

// stationState returns the event raised by a State property change, if any
func (l *linkTracker) stationState(s string) radio.Event {
	if s != "disconnected" {
		return nil
	}
	var ev radio.Event
	if l.connected && !l.leaving {
		ev = radio.LinkLoss{BSSID: l.bssid, Reason: radio.ReasonUnspecified}
	}
	l.connected = false
	l.leaving = false
	return ev
}

// errorName returns the D-Bus error name carried by err
func errorName(err error) string {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name
	}
	var pderr *dbus.Error
	if errors.As(err, &pderr) {
		return pderr.Name
	}
	return ""
}

// connectFailure maps a failed Network.Connect to radio events. A failure
// after iwd fetched the key is a key exchange failure.
func connectFailure(bssid radio.BSSID, err error, keyUsed bool) []radio.Event {
	switch {
	case errorName(err) == "net.connman.iwd.Aborted":
		return []radio.Event{radio.Association{BSSID: bssid, OK: false, Status: statusUnspecified}}
	case keyUsed || errorName(err) == "net.connman.iwd.InvalidFormat":
		return []radio.Event{
			radio.Association{BSSID: bssid, OK: true},
			radio.Authentication{BSSID: bssid, OK: false, Reason: radio.ReasonFourWayHandshake},
		}
	}
	return []radio.Event{radio.Association{BSSID: bssid, OK: false, Status: statusUnspecified}}
}

// securityFromType maps iwd's Network.Type to capability bits
func securityFromType(t string) radio.SecurityCaps {
	switch t {
	case "wep":
		return radio.CapWEP
	case "psk":
		return radio.CapWPA2
	case "8021x":
		return radio.CapEAP
	}
	return 0
}

// frequencyToChannel converts a center frequency in MHz to a channel number
func frequencyToChannel(freq uint32) int {
	switch {
	case freq == 2484:
		return 14
	case freq >= 2412 && freq <= 2472:
		return int(freq-2407) / 5
	case freq >= 5160 && freq <= 5885:
		return int(freq-5000) / 5
	case freq >= 5955 && freq <= 7115:
		return int(freq-5950) / 5
	}
	return 0
}

// filterResults applies the BSSID and SSID filters of a scan request.
// Hidden entries survive an SSID filter so a directed probe can match them.
func filterResults(results []radio.ScanResult, req radio.ScanRequest) []radio.ScanResult {
	out := results[:0:0]
	for _, r := range results {
		if !req.BSSID.IsZero() && r.BSSID != req.BSSID {
			continue
		}
		if req.SSID != "" && !r.Hidden() && r.SSID != req.SSID {
			continue
		}
		out = append(out, r)
	}
	return out
}
