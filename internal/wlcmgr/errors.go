package wlcmgr

import "errors"

var (
	ErrInvalidProfile    = errors.New("invalid profile")
	ErrScanBusy          = errors.New("scan permit busy")
	ErrState             = errors.New("operation not valid in current state")
	ErrNotConnected      = errors.New("not connected")
	ErrNetworkInUse      = errors.New("network is in use")
	ErrQueueFull         = errors.New("event queue full")
	ErrSuspendRefused    = errors.New("suspend refused")
	ErrHostSleepTimeout  = errors.New("host sleep not acknowledged")
	ErrChannelNotAllowed = errors.New("channel not allowed by regulatory domain")
	ErrNotRunning        = errors.New("connection manager not running")
	ErrUnsupported       = errors.New("not supported by firmware")
	ErrFirmwareReset     = errors.New("firmware reset")
)
