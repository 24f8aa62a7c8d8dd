package radio

import "net"

// Event is an asynchronous notification from the radio firmware
type Event interface {
	Kind() string
}

// IEEE 802.11 reason codes carried by link events
const (
	ReasonUnspecified         = 1
	ReasonPrevAuthNotValid    = 2
	ReasonDeauthLeaving       = 3
	ReasonInactivity          = 4
	ReasonDisassocAPBusy      = 5
	ReasonMICFailure          = 14
	ReasonFourWayHandshake    = 15
	ReasonGroupKeyHandshake   = 16
	ReasonIEEE8021XAuthFailed = 23
	ReasonBeaconLoss          = 0x8000 // vendor: firmware lost beacons
)

// ScanResults reports a completed scan
type ScanResults struct {
	Results []ScanResult
	Err     error
}

// Association reports the outcome of an associate command
type Association struct {
	BSSID  BSSID
	OK     bool
	Status int
}

// Authentication reports the key exchange outcome after association
type Authentication struct {
	BSSID  BSSID
	OK     bool
	Reason int
	// PeerCerts is the DER certificate chain presented by the
	// authentication server during EAP-TLS, leaf first.
	PeerCerts [][]byte
}

// LinkLoss reports loss of an established link
type LinkLoss struct {
	BSSID  BSSID
	Reason int
}

// Disassociation is sent when the AP disassociates us
type Disassociation struct {
	BSSID  BSSID
	Reason int
}

// Deauthentication is sent when the AP deauthenticates us
type Deauthentication struct {
	BSSID  BSSID
	Reason int
}

// RSSILow crosses the low signal threshold
type RSSILow struct {
	RSSI int
}

// RSSIHigh crosses the high signal threshold
type RSSIHigh struct {
	RSSI int
}

// ChannelSwitch reports a CSA-driven channel change on the station link
type ChannelSwitch struct {
	Channel int
}

// APStarted reports the outcome of a soft-AP start
type APStarted struct {
	OK      bool
	Channel int
}

// APStopped reports the outcome of a soft-AP stop
type APStopped struct {
	OK bool
}

// ClientAssociated reports a station joining the soft-AP
type ClientAssociated struct {
	MAC net.HardwareAddr
}

// ClientDisassociated reports a station leaving the soft-AP
type ClientDisassociated struct {
	MAC net.HardwareAddr
}

// HostSleepActivated acknowledges a host-sleep prepare command
type HostSleepActivated struct {
	OK bool
}

// PowerModeChanged reports that a power-save mode took effect or was left
type PowerModeChanged struct {
	Mode    PowerMode
	Entered bool
}

// NeighborReport carries the channels of neighbor APs (802.11k)
type NeighborReport struct {
	Channels []int
}

// FirmwareHang is raised when the firmware stops responding
type FirmwareHang struct {
	Reason string
}

func (ScanResults) Kind() string         { return "scan-results" }
func (Association) Kind() string         { return "association" }
func (Authentication) Kind() string      { return "authentication" }
func (LinkLoss) Kind() string            { return "link-loss" }
func (Disassociation) Kind() string      { return "disassociation" }
func (Deauthentication) Kind() string    { return "deauthentication" }
func (RSSILow) Kind() string             { return "rssi-low" }
func (RSSIHigh) Kind() string            { return "rssi-high" }
func (ChannelSwitch) Kind() string       { return "channel-switch" }
func (APStarted) Kind() string           { return "ap-started" }
func (APStopped) Kind() string           { return "ap-stopped" }
func (ClientAssociated) Kind() string    { return "client-associated" }
func (ClientDisassociated) Kind() string { return "client-disassociated" }
func (HostSleepActivated) Kind() string  { return "host-sleep-activated" }
func (PowerModeChanged) Kind() string    { return "power-mode" }
func (NeighborReport) Kind() string      { return "neighbor-report" }
func (FirmwareHang) Kind() string        { return "firmware-hang" }
