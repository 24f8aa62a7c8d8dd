package scan

import (
	"sort"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
)

// Candidate is a scan result a profile can join, with the security class
// that will be negotiated
type Candidate struct {
	Result   radio.ScanResult
	Security profile.SecurityType
}

// Preference steers selection among matching candidates
type Preference struct {
	Hint  radio.BSSID // preferred target, wins whenever it matches
	Avoid radio.BSSID // only chosen when nothing else matches
}

// Request builds the initial scan request for a profile
func Request(p profile.Profile) radio.ScanRequest {
	req := radio.ScanRequest{}
	if p.ChannelSpecific {
		req.Channels = []int{p.Channel}
	}
	if p.BSSIDSpecific {
		req.BSSID = p.BSSID
	}
	return req
}

// Match reports whether r satisfies p and which security class applies
func Match(p profile.Profile, r radio.ScanResult) (profile.SecurityType, bool) {
	if p.ChannelSpecific && r.Channel != p.Channel {
		return 0, false
	}
	if p.BSSIDSpecific && r.BSSID != p.BSSID {
		return 0, false
	}
	if p.SSIDSpecific && r.SSID != p.SSID {
		return 0, false
	}
	if p.Security.Type == profile.SecurityWPA2FT && !r.Vendor.Has(radio.Cap11r) {
		return 0, false
	}
	return Negotiate(p.Security, r.Security)
}

// Negotiate picks the security class used against a BSS advertising caps.
// Wildcard security takes the strongest class available.
func Negotiate(s profile.Security, caps radio.SecurityCaps) (profile.SecurityType, bool) {
	var t profile.SecurityType
	switch s.Type {
	case profile.SecurityNone:
		if !caps.Open() {
			return 0, false
		}
		return profile.SecurityNone, true
	case profile.SecurityWildcard:
		return strongest(caps)
	case profile.SecurityWPAWPA2Mixed:
		switch {
		case caps.Has(radio.CapWPA2):
			t = profile.SecurityWPA2
		case caps.Has(radio.CapWPA):
			t = profile.SecurityWPA
		default:
			return 0, false
		}
	case profile.SecurityWPA2WPA3Mixed:
		switch {
		case caps.Has(radio.CapSAE | radio.CapPMFCapable):
			t = profile.SecurityWPA3SAE
		case caps.Has(radio.CapWPA2):
			t = profile.SecurityWPA2
		default:
			return 0, false
		}
	case profile.SecurityWPA3SAE, profile.SecurityWPA3SAEExtKey:
		if !caps.Has(s.Type.Caps() | radio.CapPMFCapable) {
			return 0, false
		}
		t = s.Type
	default:
		if !caps.Has(s.Type.Caps()) {
			return 0, false
		}
		t = s.Type
	}

	if !pmfCompatible(s, t, caps) {
		return 0, false
	}
	return t, true
}

// pmfCompatible checks 802.11w flags on both sides. SAE always runs with PMF.
func pmfCompatible(s profile.Security, t profile.SecurityType, caps radio.SecurityCaps) bool {
	if s.PMFRequired && !caps.Has(radio.CapPMFCapable) {
		return false
	}
	sae := t == profile.SecurityWPA3SAE || t == profile.SecurityWPA3SAEExtKey
	if caps.Has(radio.CapPMFRequired) && !s.PMFCapable && !sae {
		return false
	}
	return true
}

// strongest ranks SAE over WPA2 over WPA over WEP. OWE is an open variant.
func strongest(caps radio.SecurityCaps) (profile.SecurityType, bool) {
	switch {
	case caps.Has(radio.CapSAE | radio.CapPMFCapable):
		return profile.SecurityWPA3SAE, true
	case caps.Has(radio.CapWPA2):
		return profile.SecurityWPA2, true
	case caps.Has(radio.CapWPA):
		return profile.SecurityWPA, true
	case caps.Has(radio.CapWEP):
		return profile.SecurityWEPOpen, true
	case caps.Has(radio.CapOWE):
		return profile.SecurityOWE, true
	case caps.Open():
		return profile.SecurityNone, true
	}
	return 0, false
}

// Candidates returns every joinable result in descending RSSI order
func Candidates(p profile.Profile, results []radio.ScanResult) []Candidate {
	var out []Candidate
	for _, r := range results {
		if sec, ok := Match(p, r); ok {
			out = append(out, Candidate{Result: r, Security: sec})
			continue
		}
		if c, ok := oweTransition(p, r, results); ok {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Result.RSSI > out[j].Result.RSSI
	})
	return out
}

// oweTransition resolves an open BSS advertising a transition element to the
// hidden OWE BSS it points at
func oweTransition(p profile.Profile, r radio.ScanResult, results []radio.ScanResult) (Candidate, bool) {
	if p.Security.Type != profile.SecurityOWE || r.Transition == nil || !r.Security.Open() {
		return Candidate{}, false
	}
	if p.SSIDSpecific && r.SSID != p.SSID {
		return Candidate{}, false
	}
	if p.ChannelSpecific && r.Channel != p.Channel {
		return Candidate{}, false
	}
	for _, t := range results {
		if t.BSSID != r.Transition.BSSID || !t.Security.Has(radio.CapOWE) {
			continue
		}
		if p.BSSIDSpecific && t.BSSID != p.BSSID {
			return Candidate{}, false
		}
		t.SSID = r.Transition.SSID
		return Candidate{Result: t, Security: profile.SecurityOWE}, true
	}
	return Candidate{}, false
}

// Select picks the best candidate: the hint if it matched, otherwise the
// strongest signal that is not avoided
func Select(p profile.Profile, results []radio.ScanResult, pref Preference) (Candidate, bool) {
	cands := Candidates(p, results)
	if len(cands) == 0 {
		return Candidate{}, false
	}
	if !pref.Hint.IsZero() {
		for _, c := range cands {
			if c.Result.BSSID == pref.Hint {
				return c, true
			}
		}
	}
	if !pref.Avoid.IsZero() {
		for _, c := range cands {
			if c.Result.BSSID != pref.Avoid {
				return c, true
			}
		}
	}
	return cands[0], true
}

// HiddenProbe returns the directed scan to issue when a hidden profile did
// not match anything. Channels come from hidden BSSes in the last results,
// or the profile's own channel when it is specific.
func HiddenProbe(p profile.Profile, results []radio.ScanResult) (radio.ScanRequest, bool) {
	if !p.Hidden || p.SSID == "" {
		return radio.ScanRequest{}, false
	}
	req := radio.ScanRequest{SSID: p.SSID, BSSID: Request(p).BSSID}
	if p.ChannelSpecific {
		req.Channels = []int{p.Channel}
		return req, true
	}
	seen := map[int]bool{}
	for _, r := range results {
		if r.Hidden() && !seen[r.Channel] {
			seen[r.Channel] = true
			req.Channels = append(req.Channels, r.Channel)
		}
	}
	sort.Ints(req.Channels)
	return req, true
}
