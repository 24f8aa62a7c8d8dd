package wlcmgr

import "fmt"

// Reason is the code delivered with every connection event
type Reason int

const (
	ReasonSuccess Reason = iota
	ReasonConnectFailed
	ReasonNetworkNotFound
	ReasonNetworkAuthFailed
	ReasonAddressSuccess
	ReasonAddressFailed
	ReasonLinkLost
	ReasonChanSwitch
	ReasonUserDisconnect
	ReasonInitialized
	ReasonInitializationFailed
	ReasonFwHang
	ReasonFwReset
	ReasonPsEnter
	ReasonPsExit
	ReasonUapSuccess
	ReasonUapClientAssoc
	ReasonUapClientDissoc
	ReasonUapStartFailed
	ReasonUapStopFailed
	ReasonUapStopped
	ReasonRssiLow
	ReasonRssiHigh
	ReasonScanDone
	ReasonHostSleepActivated
)

var reasonNames = [...]string{
	ReasonSuccess:              "success",
	ReasonConnectFailed:        "connect-failed",
	ReasonNetworkNotFound:      "network-not-found",
	ReasonNetworkAuthFailed:    "network-auth-failed",
	ReasonAddressSuccess:       "address-success",
	ReasonAddressFailed:        "address-failed",
	ReasonLinkLost:             "link-lost",
	ReasonChanSwitch:           "channel-switch",
	ReasonUserDisconnect:       "user-disconnect",
	ReasonInitialized:          "initialized",
	ReasonInitializationFailed: "initialization-failed",
	ReasonFwHang:               "firmware-hang",
	ReasonFwReset:              "firmware-reset",
	ReasonPsEnter:              "ps-enter",
	ReasonPsExit:               "ps-exit",
	ReasonUapSuccess:           "uap-success",
	ReasonUapClientAssoc:       "uap-client-assoc",
	ReasonUapClientDissoc:      "uap-client-dissoc",
	ReasonUapStartFailed:       "uap-start-failed",
	ReasonUapStopFailed:        "uap-stop-failed",
	ReasonUapStopped:           "uap-stopped",
	ReasonRssiLow:              "rssi-low",
	ReasonRssiHigh:             "rssi-high",
	ReasonScanDone:             "scan-done",
	ReasonHostSleepActivated:   "host-sleep-activated",
}

func (r Reason) String() string {
	if r >= 0 && int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", int(r))
}
