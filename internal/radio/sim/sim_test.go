package sim

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/radio"
)

func collect(r *Radio) chan radio.Event {
	ch := make(chan radio.Event, 16)
	r.Subscribe(func(ev radio.Event) { ch <- ev })
	return ch
}

func next(t *testing.T, ch chan radio.Event) radio.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return nil
	}
}

var (
	bssA = radio.BSSID{0x02, 0, 0, 0, 0, 0x0a}
	bssB = radio.BSSID{0x02, 0, 0, 0, 0, 0x0b}
)

func TestScanHidesCloakedSSID(t *testing.T) {
	r := New("18.99.3")
	defer r.Close()
	events := collect(r)

	r.AddBSS(BSS{ScanResult: radio.ScanResult{BSSID: bssA, SSID: "open", Channel: 1, RSSI: -40}})
	r.AddBSS(BSS{ScanResult: radio.ScanResult{BSSID: bssB, SSID: "secret", Channel: 6, RSSI: -50}, HideSSID: true})

	require.NoError(t, r.Scan(radio.ScanRequest{}))
	res := next(t, events).(radio.ScanResults)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "", res.Results[1].SSID)

	require.NoError(t, r.Scan(radio.ScanRequest{SSID: "secret", Channels: []int{6}}))
	res = next(t, events).(radio.ScanResults)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "secret", res.Results[0].SSID)
}

func TestAssociateChecksKey(t *testing.T) {
	r := New("18.99.3")
	defer r.Close()
	events := collect(r)
	r.AddBSS(BSS{ScanResult: radio.ScanResult{BSSID: bssA, SSID: "home", Security: radio.CapWPA2}, Passphrase: "correct horse"})

	require.NoError(t, r.Associate(radio.AssociateRequest{BSSID: bssA, Security: radio.CapWPA2, Key: "wrong pass"}))
	assert.True(t, next(t, events).(radio.Association).OK)
	auth := next(t, events).(radio.Authentication)
	assert.False(t, auth.OK)
	assert.Equal(t, radio.ReasonFourWayHandshake, auth.Reason)

	require.NoError(t, r.Associate(radio.AssociateRequest{BSSID: bssA, Security: radio.CapWPA2, Key: "correct horse"}))
	next(t, events)
	assert.True(t, next(t, events).(radio.Authentication).OK)

	require.NoError(t, r.Associate(radio.AssociateRequest{BSSID: bssB}))
	assert.False(t, next(t, events).(radio.Association).OK)
}

func TestFailCommand(t *testing.T) {
	r := New("18.99.3")
	defer r.Close()
	r.FailCommand("scan", 2)

	assert.ErrorIs(t, r.Scan(radio.ScanRequest{}), ErrCommandFailed)
	assert.ErrorIs(t, r.Scan(radio.ScanRequest{}), ErrCommandFailed)
	assert.NoError(t, r.Scan(radio.ScanRequest{}))
	assert.Equal(t, 3, r.Count("scan"))
}

func TestInitError(t *testing.T) {
	r := New("18.99.3")
	defer r.Close()
	assert.NoError(t, r.Init(context.Background()))
	r.SetInitError(assert.AnError)
	assert.ErrorIs(t, r.Init(context.Background()), assert.AnError)
	assert.Equal(t, "18.99.3", r.FirmwareVersion())
}

func TestHostSleepAndAP(t *testing.T) {
	r := New("18.99.3")
	defer r.Close()
	events := collect(r)

	require.NoError(t, r.ConfigureHostSleep(radio.HostSleepRequest{Activate: true}))
	assert.Equal(t, radio.HostSleepActivated{OK: true}, next(t, events))

	require.NoError(t, r.StartAP(radio.APConfig{SSID: "ap"}))
	assert.Equal(t, radio.APStarted{OK: true, Channel: 6}, next(t, events))
	require.NoError(t, r.StopAP())
	assert.Equal(t, radio.APStopped{OK: true}, next(t, events))
}
