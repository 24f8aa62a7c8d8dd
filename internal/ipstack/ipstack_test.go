package ipstack

import (
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/insomniacslk/dhcp/dhcpv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wlcmgr/internal/profile"
)

func TestPoolAllocate(t *testing.T) {
	p := newPool(netip.MustParsePrefix("10.0.0.1/29"), time.Hour)

	a, err := p.allocate("aa", netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", a.String(), "network and server addresses are skipped")

	again, err := p.allocate("aa", netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, a, again, "existing lease is renewed")

	b, err := p.allocate("bb", netip.MustParseAddr("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", b.String())

	c, err := p.allocate("cc", netip.MustParseAddr("10.0.0.5"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.3", c.String(), "taken request falls back to the lowest free")

	_, err = p.allocate("dd", netip.Addr{})
	require.NoError(t, err) // .4
	_, err = p.allocate("ee", netip.Addr{})
	require.NoError(t, err) // .6
	_, err = p.allocate("ff", netip.Addr{})
	assert.ErrorIs(t, err, errPoolExhausted, ".7 is broadcast")

	p.release("aa")
	d, err := p.allocate("ff", netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", d.String())
}

func TestPoolExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	p := newPool(netip.MustParsePrefix("10.0.0.1/30"), time.Minute)
	p.now = func() time.Time { return now }

	a, err := p.allocate("aa", netip.Addr{})
	require.NoError(t, err)
	_, err = p.allocate("bb", netip.Addr{})
	assert.ErrorIs(t, err, errPoolExhausted)

	now = now.Add(2 * time.Minute)
	b, err := p.allocate("bb", netip.Addr{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDHCPServerReply(t *testing.T) {
	s := &dhcpServer{iface: "uap0", pool: newPool(netip.MustParsePrefix("192.168.50.1/24"), time.Hour)}
	mac := net.HardwareAddr{0x02, 0, 0, 0, 0, 0x10}

	discover, err := dhcpv4.NewDiscovery(mac)
	require.NoError(t, err)
	offer, err := s.reply(discover)
	require.NoError(t, err)
	require.NotNil(t, offer)
	assert.Equal(t, dhcpv4.MessageTypeOffer, offer.MessageType())
	assert.Equal(t, "192.168.50.2", offer.YourIPAddr.String())
	assert.Equal(t, "192.168.50.1", offer.ServerIdentifier().String())

	request, err := dhcpv4.NewRequestFromOffer(offer)
	require.NoError(t, err)
	ack, err := s.reply(request)
	require.NoError(t, err)
	assert.Equal(t, dhcpv4.MessageTypeAck, ack.MessageType())
	assert.Equal(t, offer.YourIPAddr.String(), ack.YourIPAddr.String())
}

func TestLeaseConfig(t *testing.T) {
	ev, cfg, ok := leaseConfig("mlan0",
		net.ParseIP("192.168.1.20"), net.CIDRMask(24, 32),
		[]net.IP{net.ParseIP("192.168.1.1")}, []net.IP{net.ParseIP("1.1.1.1")})
	require.True(t, ok)
	assert.Equal(t, "192.168.1.20/24", ev.Prefix.String())
	assert.Equal(t, "192.168.1.1", ev.Gateway.String())
	assert.Equal(t, profile.AddrStatic, cfg.Type)
	assert.Len(t, cfg.DNS, 1)

	_, _, ok = leaseConfig("mlan0", net.IPv4zero, nil, nil, nil)
	assert.False(t, ok)
}

func TestBroadcast(t *testing.T) {
	assert.Equal(t, "192.168.1.255", broadcast(netip.MustParsePrefix("192.168.1.7/24")).String())
	assert.Equal(t, "10.0.0.7", broadcast(netip.MustParsePrefix("10.0.0.1/29")).String())
}

func TestSimDHCP(t *testing.T) {
	s := NewSim()
	events := make(chan Event, 4)
	s.Subscribe(func(ev Event) { events <- ev })

	first, err := s.StartDHCP("mlan0")
	require.NoError(t, err)
	select {
	case ev := <-events:
		acq, ok := ev.(AddressAcquired)
		require.True(t, ok)
		assert.Equal(t, "192.168.1.100/24", acq.Prefix.String())
		assert.Equal(t, first, acq.Session)
	case <-time.After(time.Second):
		t.Fatal("no dhcp event")
	}
	p, ok := s.Address("mlan0")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.100/24", p.String())

	s.SetDHCPFailure(true)
	second, err := s.StartDHCP("mlan0")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, second, s.Session("mlan0"))
	select {
	case ev := <-events:
		failed, ok := ev.(AddressFailed)
		require.True(t, ok)
		assert.Equal(t, second, failed.Session)
	case <-time.After(time.Second):
		t.Fatal("no dhcp event")
	}

	_, err = s.StartDHCP("mlan0")
	require.NoError(t, err)
	s.StopDHCP("mlan0")
	select {
	case ev := <-events:
		t.Fatalf("stopped dhcp reported %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStoppedLeaseNotApplied(t *testing.T) {
	n := &Netlink{}
	events := make(chan Event, 1)
	n.Subscribe(func(ev Event) { events <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := profile.IPConfig{Type: profile.AddrStatic, Address: netip.MustParsePrefix("192.168.1.7/24")}
	assert.ErrorIs(t, n.applyLease(ctx, "mlan0", cfg), context.Canceled)

	n.emitLive(ctx, AddressAcquired{Iface: "mlan0", Session: 1})
	assert.Empty(t, events)
}
