package wlcmgr

import (
	"context"
	"errors"
	"fmt"

	"wlcmgr/internal/profile"
	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
)

// acquirePermit waits up to the configured time for the scan permit
func (m *Manager) acquirePermit(ctx context.Context) error {
	wait := m.opts.PermitWait
	if wait <= 0 {
		if !m.permit.TryAcquire() {
			return ErrScanBusy
		}
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := m.permit.Acquire(wctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrScanBusy
	}
	return nil
}

func (m *Manager) simple(ctx context.Context, build func(errReply) request) error {
	reply := newReply()
	return m.call(ctx, build(reply), reply)
}

// AddNetwork validates p and stores it
func (m *Manager) AddNetwork(ctx context.Context, p profile.Profile) error {
	return m.simple(ctx, func(r errReply) request { return addNetworkReq{errReply: r, p: p} })
}

// RemoveNetwork deletes a profile that is not in use
func (m *Manager) RemoveNetwork(ctx context.Context, name string) error {
	return m.simple(ctx, func(r errReply) request { return removeNetworkReq{errReply: r, name: name} })
}

// GetNetwork returns a stored profile. Wildcard fields carry the values
// resolved for the current connection, if any.
func (m *Manager) GetNetwork(ctx context.Context, name string) (profile.Profile, error) {
	reply := make(chan getNetworkResp, 1)
	if err := m.enqueue(getNetworkReq{name: name, reply: reply}); err != nil {
		return profile.Profile{}, err
	}
	select {
	case resp := <-reply:
		return resp.p, resp.err
	case <-ctx.Done():
		return profile.Profile{}, ctx.Err()
	case <-m.done:
		return profile.Profile{}, ErrNotRunning
	}
}

// ListNetworks returns all stored profiles in insertion order
func (m *Manager) ListNetworks(ctx context.Context) ([]profile.Profile, error) {
	reply := make(chan []profile.Profile, 1)
	if err := m.enqueue(listNetworksReq{reply: reply}); err != nil {
		return nil, err
	}
	select {
	case list := <-reply:
		return list, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrNotRunning
	}
}

// Connect starts connecting to a station profile. It returns once the
// attempt has started; the outcome is delivered as an Event.
func (m *Manager) Connect(ctx context.Context, name string) error {
	if err := m.acquirePermit(ctx); err != nil {
		return err
	}
	return m.simple(ctx, func(r errReply) request { return connectReq{errReply: r, name: name} })
}

// Disconnect abandons the current attempt or connection
func (m *Manager) Disconnect(ctx context.Context) error {
	return m.simple(ctx, func(r errReply) request { return disconnectReq{errReply: r} })
}

// Reassociate rescans and rejoins the current network
func (m *Manager) Reassociate(ctx context.Context) error {
	if err := m.acquirePermit(ctx); err != nil {
		return err
	}
	return m.simple(ctx, func(r errReply) request { return reassociateReq{errReply: r} })
}

// Scan starts a scan narrowed by filter and calls cb with the results. It
// fails with ErrScanBusy when another scan or connection attempt is running.
func (m *Manager) Scan(ctx context.Context, filter ScanFilter, cb ScanCallback) error {
	if len(filter.SSID) > profile.MaxSSIDLen {
		return fmt.Errorf("%w: ssid longer than %d bytes", profile.ErrInvalidSSID, profile.MaxSSIDLen)
	}
	if !m.permit.TryAcquire() {
		return ErrScanBusy
	}
	return m.simple(ctx, func(r errReply) request { return userScanReq{errReply: r, filter: filter, cb: cb} })
}

// StartNetwork starts the soft-AP with an access point profile
func (m *Manager) StartNetwork(ctx context.Context, name string) error {
	return m.simple(ctx, func(r errReply) request { return startNetworkReq{errReply: r, name: name} })
}

// StopNetwork stops the soft-AP running name
func (m *Manager) StopNetwork(ctx context.Context, name string) error {
	return m.simple(ctx, func(r errReply) request { return stopNetworkReq{errReply: r, name: name} })
}

// SetAPOverrides adjusts the next soft-AP start
func (m *Manager) SetAPOverrides(ctx context.Context, ov APOverrides) error {
	return m.simple(ctx, func(r errReply) request { return apOverridesReq{errReply: r, ov: ov} })
}

// SetPowerSave enables a power-save mode
func (m *Manager) SetPowerSave(ctx context.Context, mode radio.PowerMode) error {
	return m.simple(ctx, func(r errReply) request { return powerReq{errReply: r, mode: mode, enable: true} })
}

// ClearPowerSave disables a power-save mode
func (m *Manager) ClearPowerSave(ctx context.Context, mode radio.PowerMode) error {
	return m.simple(ctx, func(r errReply) request { return powerReq{errReply: r, mode: mode, enable: false} })
}

// ConfigureHostSleep sets the host-sleep mode and wake conditions. A zero
// wake bitmap keeps the current conditions.
func (m *Manager) ConfigureHostSleep(ctx context.Context, mode HostSleepMode, wake radio.WakeConditions) error {
	return m.simple(ctx, func(r errReply) request { return hostSleepReq{errReply: r, mode: mode, wake: wake} })
}

// CancelHostSleep disables host sleep
func (m *Manager) CancelHostSleep(ctx context.Context) error {
	return m.ConfigureHostSleep(ctx, HostSleepDisabled, 0)
}

// PrepareSuspend arms host sleep and blocks until the firmware confirms.
// It is refused while a connection attempt or scan is in flight, while a
// wakelock is held, or when host sleep is disabled.
func (m *Manager) PrepareSuspend(ctx context.Context) error {
	return m.simple(ctx, func(r errReply) request { return suspendReq{errReply: r} })
}

// Resume cancels host sleep after the host woke up
func (m *Manager) Resume(ctx context.Context) error {
	return m.simple(ctx, func(r errReply) request { return resumeReq{errReply: r} })
}

// AcquireWakelock keeps the host from suspending until released
func (m *Manager) AcquireWakelock(ctx context.Context) error {
	return m.simple(ctx, func(r errReply) request { return wakelockReq{errReply: r, acquire: true} })
}

// ReleaseWakelock drops one wakelock
func (m *Manager) ReleaseWakelock(ctx context.Context) error {
	return m.simple(ctx, func(r errReply) request { return wakelockReq{errReply: r} })
}

// GetConnectionState returns the station state from the snapshot
func (m *Manager) GetConnectionState() state.StationState {
	return m.status.Get().Station
}

// GetUapConnectionState returns the soft-AP state from the snapshot
func (m *Manager) GetUapConnectionState() state.APState {
	return m.status.Get().AP
}

// IsUserError reports whether err was caused by the request rather than
// by the radio or the manager
func IsUserError(err error) bool {
	for _, target := range []error{
		ErrInvalidProfile, ErrNotConnected, ErrNetworkInUse, ErrChannelNotAllowed,
		profile.ErrInvalidName, profile.ErrInvalidSSID, profile.ErrInvalidSecurity,
		profile.ErrInvalidAddress, profile.ErrUnsupported, profile.ErrDuplicate,
		profile.ErrFull, profile.ErrNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
