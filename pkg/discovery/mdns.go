// Package discovery advertises and locates casters on the local
// network via multicast DNS, using the same name-resolution primitive
// pion/webrtc relies on for mDNS ICE candidates.
package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"

	"github.com/ethan/screencaster/pkg/logger"
)

// ServiceName is the mDNS hostname casters advertise themselves under.
const ServiceName = "screen-caster.local"

// Advertiser answers mDNS queries for ServiceName with this host's
// address, letting receivers on the LAN find the caster without a
// signaling server.
type Advertiser struct {
	log  *logger.Logger
	conn *mdns.Conn
}

// Advertise starts answering mDNS queries for name ("" selects
// ServiceName) with localAddr.
func Advertise(name string, localAddr net.IP, log *logger.Logger) (*Advertiser, error) {
	if name == "" {
		name = ServiceName
	}

	addr, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve mdns multicast address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen mdns multicast: %w", err)
	}

	mc, err := mdns.Server(ipv4.NewPacketConn(conn), nil, &mdns.Config{
		LocalNames:   []string{name},
		LocalAddress: localAddr,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("start mdns server: %w", err)
	}

	log.Info("advertising mdns service", "name", name, "address", localAddr)
	return &Advertiser{log: log, conn: mc}, nil
}

// Close stops advertising.
func (a *Advertiser) Close() error {
	return a.conn.Close()
}

// Resolve locates a caster advertised under name ("" selects
// ServiceName), returning its address.
func Resolve(ctx context.Context, name string, log *logger.Logger) (net.IP, error) {
	if name == "" {
		name = ServiceName
	}

	addr, err := net.ResolveUDPAddr("udp4", mdns.DefaultAddress)
	if err != nil {
		return nil, fmt.Errorf("resolve mdns multicast address: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen mdns multicast: %w", err)
	}
	defer conn.Close()

	mc, err := mdns.Server(ipv4.NewPacketConn(conn), nil, &mdns.Config{})
	if err != nil {
		return nil, fmt.Errorf("start mdns query client: %w", err)
	}
	defer mc.Close()

	queryAddr, _, err := mc.QueryAddr(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", name, err)
	}

	udpAddr, ok := queryAddr.(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected mdns query address type %T", queryAddr)
	}

	log.Info("resolved mdns service", "name", name, "address", udpAddr.IP)
	return udpAddr.IP, nil
}
