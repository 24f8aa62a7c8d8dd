package wlcmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/radio"
	"wlcmgr/internal/state"
)

func (h *harness) waitHostSleep(want string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.mgr.State().HostSleep == want
	}, time.Second, 5*time.Millisecond, "host sleep never became %s", want)
}

func TestPowerSave(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.mgr.SetPowerSave(h.ctx, radio.PowerIEEE))
	h.expect(ReasonPsEnter)
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"ieee"}, h.mgr.State().PowerSave)
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.mgr.SetPowerSave(h.ctx, radio.PowerIEEE))
	assert.Equal(t, 1, h.radio.Count("power"), "enabling twice sends one command")

	require.NoError(t, h.mgr.ClearPowerSave(h.ctx, radio.PowerIEEE))
	h.expect(ReasonPsExit)
}

func TestDeepSleep(t *testing.T) {
	h := newHarness(t, nil)
	h.radio.AddBSS(homeBSS(bssA, 6, -45))
	h.add(homeProfile())

	require.NoError(t, h.mgr.SetPowerSave(h.ctx, radio.PowerDeepSleep))
	h.expect(ReasonPsEnter)

	h.connect("home")
	h.expect(ReasonPsExit, ReasonSuccess)
	h.waitStation(state.StationConnected)

	assert.ErrorIs(t, h.mgr.SetPowerSave(h.ctx, radio.PowerDeepSleep), ErrState)
}

func TestWNMNeedsFirmwareSupport(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Features.WNM = "none" })
	assert.ErrorIs(t, h.mgr.SetPowerSave(h.ctx, radio.PowerWNM), ErrUnsupported)
	assert.ErrorIs(t, h.mgr.SetPowerSave(h.ctx, radio.PowerMode(0x80)), ErrUnsupported)
}

func TestSuspendRefusedWhenDisabled(t *testing.T) {
	h := newHarness(t, nil)
	assert.ErrorIs(t, h.mgr.PrepareSuspend(h.ctx), ErrSuspendRefused)
	assert.Equal(t, 0, h.radio.Count("host-sleep"))
}

func TestSuspendRefusedMidConnection(t *testing.T) {
	h := newHarness(t, nil)
	h.ip.SetDHCPDelay(200 * time.Millisecond)
	require.NoError(t, h.mgr.ConfigureHostSleep(h.ctx, HostSleepOneshot, radio.WakeUnicast))

	h.radio.AddBSS(homeBSS(bssA, 6, -45))
	h.add(homeProfile())
	h.connect("home")
	h.waitStation(state.StationObtainingAddress)

	assert.ErrorIs(t, h.mgr.PrepareSuspend(h.ctx), ErrSuspendRefused)

	h.expect(ReasonSuccess)
	h.waitStation(state.StationConnected)
	require.NoError(t, h.mgr.PrepareSuspend(h.ctx))
	h.expect(ReasonHostSleepActivated)
	h.waitHostSleep("activated")
	assert.Equal(t, uint32(radio.WakeUnicast), h.mgr.State().WakeConditions)

	assert.ErrorIs(t, h.mgr.Connect(h.ctx, "home"), ErrState)

	require.NoError(t, h.mgr.Resume(h.ctx))
	h.waitHostSleep("disabled")
	assert.Equal(t, 2, h.radio.Count("host-sleep"), "activate then cancel")
	assert.Equal(t, state.StationConnected, h.mgr.GetConnectionState())
}

func TestSuspendWakelocks(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mgr.ConfigureHostSleep(h.ctx, HostSleepPeriodic, 0))

	require.NoError(t, h.mgr.AcquireWakelock(h.ctx))
	assert.ErrorIs(t, h.mgr.PrepareSuspend(h.ctx), ErrSuspendRefused)
	require.NoError(t, h.mgr.ReleaseWakelock(h.ctx))
	assert.ErrorIs(t, h.mgr.ReleaseWakelock(h.ctx), ErrState)

	require.NoError(t, h.mgr.PrepareSuspend(h.ctx))
	h.expect(ReasonHostSleepActivated)
	require.NoError(t, h.mgr.Resume(h.ctx))
	h.waitHostSleep("armed")

	require.NoError(t, h.mgr.PrepareSuspend(h.ctx), "periodic mode stays armed")
	h.expect(ReasonHostSleepActivated)
}

func TestSuspendAckTimeout(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mgr.ConfigureHostSleep(h.ctx, HostSleepPeriodic, 0))
	h.radio.SetHostSleepAck(true, true)

	assert.ErrorIs(t, h.mgr.PrepareSuspend(h.ctx), ErrHostSleepTimeout)
	h.waitHostSleep("armed")
	assert.Equal(t, 2, h.radio.Count("host-sleep"), "activate then cancel")
}

func TestSuspendFirmwareRejects(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.mgr.ConfigureHostSleep(h.ctx, HostSleepOneshot, 0))
	h.radio.SetHostSleepAck(false, false)

	assert.ErrorIs(t, h.mgr.PrepareSuspend(h.ctx), ErrSuspendRefused)
	h.waitHostSleep("armed")
}

func TestHostSleepNeedsFirmwareSupport(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Features.HostSleep = "none" })
	assert.ErrorIs(t, h.mgr.ConfigureHostSleep(h.ctx, HostSleepOneshot, 0), ErrUnsupported)
	require.NoError(t, h.mgr.CancelHostSleep(h.ctx))
}

func TestParseHostSleepMode(t *testing.T) {
	for in, want := range map[string]HostSleepMode{
		"":         HostSleepDisabled,
		"disabled": HostSleepDisabled,
		"oneshot":  HostSleepOneshot,
		"periodic": HostSleepPeriodic,
	} {
		got, err := ParseHostSleepMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseHostSleepMode("always")
	assert.Error(t, err)
}
