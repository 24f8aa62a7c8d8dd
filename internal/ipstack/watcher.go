package ipstack

import (
	"context"
	"fmt"
	"net"
	"os"
	"syscall"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"

	"wlcmgr/internal/state"
)

// Netlink message types (from syscall)
const (
	RTM_NEWLINK = syscall.RTM_NEWLINK // 16
	RTM_DELLINK = syscall.RTM_DELLINK // 17
	RTM_NEWADDR = syscall.RTM_NEWADDR // 20
	RTM_DELADDR = syscall.RTM_DELADDR // 21
)

// Watcher mirrors kernel link and address changes of the managed
// interfaces into the status snapshot
type Watcher struct {
	conn          *netlink.Conn   // raw multicast subscription, keeps Header.Type
	rtConn        *rtnetlink.Conn // List operations
	stateMgr      *state.Manager
	station       string
	uap           string
	lastLinkState map[uint32]string // dedups link logs
}

// NewWatcher subscribes to RTMGRP_LINK and RTMGRP_IPV4_IFADDR
func NewWatcher(stateMgr *state.Manager, station, uap string) (*Watcher, error) {
	conn, err := netlink.Dial(syscall.NETLINK_ROUTE, &netlink.Config{
		Groups: 0x1 | 0x10, // RTMGRP_LINK | RTMGRP_IPV4_IFADDR
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial netlink: %w", err)
	}

	rtConn, err := rtnetlink.Dial(nil)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to dial rtnetlink: %w", err)
	}

	if !isWifiInterface(station) {
		logger.WithField("iface", station).Warn("Station interface has no wireless sysfs node")
	}

	return &Watcher{
		conn:          conn,
		rtConn:        rtConn,
		stateMgr:      stateMgr,
		station:       station,
		uap:           uap,
		lastLinkState: make(map[uint32]string),
	}, nil
}

// Run performs an initial fetch and then follows events until ctx is done
func (w *Watcher) Run(ctx context.Context) {
	w.fetchInterfaces()
	w.fetchAddresses()
	w.fetchGateway()

	go func() {
		<-ctx.Done()
		w.conn.Close()
		w.rtConn.Close()
	}()

	for {
		msgs, err := w.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WithError(err).Warn("Netlink receive error")
			continue
		}
		for _, msg := range msgs {
			w.handleRawMessage(msg)
		}
	}
}

func (w *Watcher) handleRawMessage(msg netlink.Message) {
	switch msg.Header.Type {
	case RTM_NEWLINK:
		w.handleLinkMessage(msg.Data, false)
	case RTM_DELLINK:
		w.handleLinkMessage(msg.Data, true)
	case RTM_NEWADDR:
		w.handleAddressMessage(msg.Data, false)
	case RTM_DELADDR:
		w.handleAddressMessage(msg.Data, true)
	}
}

func (w *Watcher) managed(name string) bool {
	return name != "" && (name == w.station || name == w.uap)
}

func (w *Watcher) handleLinkMessage(data []byte, isRemoved bool) {
	var msg rtnetlink.LinkMessage
	if err := msg.UnmarshalBinary(data); err != nil {
		logger.WithError(err).Debug("Failed to parse link message")
		return
	}
	if msg.Attributes == nil || !w.managed(msg.Attributes.Name) {
		return
	}
	name := msg.Attributes.Name

	if isRemoved {
		logger.WithFields(logrus.Fields{"iface": name, "index": msg.Index}).Warn("Managed interface removed")
		w.stateMgr.Update(func(st *state.State) {
			if name == w.station {
				st.IpAddress = ""
				st.Gateway = ""
			} else {
				st.APAddress = ""
			}
		})
		return
	}

	isUp := msg.Attributes.OperationalState == rtnetlink.OperStateUp
	hasCarrier := msg.Attributes.Carrier != nil && *msg.Attributes.Carrier == 1

	stateKey := fmt.Sprintf("%v:%v", isUp, hasCarrier)
	if w.lastLinkState[msg.Index] != stateKey {
		logger.WithFields(logrus.Fields{
			"iface":   name,
			"up":      isUp,
			"carrier": hasCarrier,
		}).Info("Link state changed")
		w.lastLinkState[msg.Index] = stateKey
	}

	w.stateMgr.Update(func(st *state.State) {
		if name == w.station {
			st.InterfaceName = name
			st.MacAddress = net.HardwareAddr(msg.Attributes.Address).String()
		} else {
			st.APInterface = name
		}
	})
}

func (w *Watcher) handleAddressMessage(data []byte, isRemoved bool) {
	var msg rtnetlink.AddressMessage
	if err := msg.UnmarshalBinary(data); err != nil {
		logger.WithError(err).Debug("Failed to parse address message")
		return
	}
	if msg.Attributes == nil || msg.Attributes.Address.To4() == nil {
		return
	}

	name := w.nameOf(msg.Index)
	if !w.managed(name) {
		return
	}

	ip := msg.Attributes.Address.String()
	logger.WithFields(logrus.Fields{"iface": name, "address": ip, "removed": isRemoved}).Debug("Address change")

	w.stateMgr.Update(func(st *state.State) {
		switch {
		case name == w.station && isRemoved && st.IpAddress == ip:
			st.IpAddress = ""
		case name == w.station && !isRemoved:
			st.IpAddress = ip
		case name == w.uap && isRemoved && st.APAddress == ip:
			st.APAddress = ""
		case name == w.uap && !isRemoved:
			st.APAddress = ip
		}
	})

	if name == w.station {
		w.fetchGateway()
	}
}

func (w *Watcher) nameOf(index uint32) string {
	link, err := w.rtConn.Link.Get(index)
	if err != nil || link.Attributes == nil {
		return ""
	}
	return link.Attributes.Name
}

// fetchInterfaces seeds interface names and MAC address
func (w *Watcher) fetchInterfaces() {
	links, err := w.rtConn.Link.List()
	if err != nil {
		logger.WithError(err).Warn("Failed to list links")
		return
	}
	for _, link := range links {
		if link.Attributes == nil || !w.managed(link.Attributes.Name) {
			continue
		}
		name := link.Attributes.Name
		mac := net.HardwareAddr(link.Attributes.Address).String()
		w.stateMgr.Update(func(st *state.State) {
			if name == w.station {
				st.InterfaceName = name
				st.MacAddress = mac
			} else {
				st.APInterface = name
			}
		})
	}
}

// fetchAddresses seeds current IPv4 addresses
func (w *Watcher) fetchAddresses() {
	addrs, err := w.rtConn.Address.List()
	if err != nil {
		return
	}
	for _, addr := range addrs {
		if addr.Attributes == nil || addr.Attributes.Address.To4() == nil {
			continue
		}
		name := w.nameOf(addr.Index)
		ip := addr.Attributes.Address.String()
		switch name {
		case w.station:
			w.stateMgr.Update(func(st *state.State) { st.IpAddress = ip })
		case w.uap:
			w.stateMgr.Update(func(st *state.State) { st.APAddress = ip })
		}
	}
}

// fetchGateway records the default route via the station interface
func (w *Watcher) fetchGateway() {
	ifi, err := net.InterfaceByName(w.station)
	if err != nil {
		return
	}
	routes, err := w.rtConn.Route.List()
	if err != nil {
		return
	}

	gw := ""
	for _, route := range routes {
		if route.Attributes.Dst == nil && route.Attributes.Gateway != nil &&
			route.Attributes.OutIface == uint32(ifi.Index) {
			gw = route.Attributes.Gateway.String()
			break
		}
	}
	w.stateMgr.Update(func(st *state.State) {
		st.Gateway = gw
	})
}

// isWifiInterface checks for /sys/class/net/<iface>/wireless
func isWifiInterface(name string) bool {
	_, err := os.Stat("/sys/class/net/" + name + "/wireless")
	return err == nil
}
