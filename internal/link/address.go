package link

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/openstation/engine/internal/logging"
)

// DatagramPort is the port the control datagram is sent to on the robot.
const DatagramPort = 1110

// StreamPort is the bidirectional TCP stream port.
const StreamPort = 1740

// usbAddr is the fixed address of a roboRIO reached over its USB gadget NIC.
var usbAddr = net.IPv4(172, 22, 11, 2)

const mdnsServiceType = "_ni._tcp"
const mdnsTimeout = 2 * time.Second

// Resolver looks up a roboRIO's IP address by mDNS hostname. The production
// implementation wraps github.com/grandcat/zeroconf; tests inject a fake.
type Resolver interface {
	Resolve(ctx context.Context, team uint32, timeout time.Duration) (net.IP, bool)
}

// ZeroconfResolver browses for "_ni._tcp.local." services and matches the
// one whose instance name embeds the team number, mirroring the roboRIO's
// NI mDNS announcement.
type ZeroconfResolver struct{}

func (ZeroconfResolver) Resolve(ctx context.Context, team uint32, timeout time.Duration) (net.IP, bool) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		logging.L().Warn("mdns_resolver_init_failed", "error", err)
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 8)
	want := strconv.FormatUint(uint64(team), 10)

	// result is buffered so the browse goroutine never blocks delivering it,
	// and is the only thing read after <-ctx.Done() — no shared variable is
	// written by one goroutine and read by another without synchronization.
	result := make(chan net.IP, 1)
	go func() {
		for entry := range entries {
			if strings.Contains(entry.Instance, want) || strings.Contains(entry.HostName, want) {
				for _, ip := range entry.AddrIPv4 {
					result <- ip
					cancel()
					return
				}
			}
		}
	}()

	if err := resolver.Browse(ctx, mdnsServiceType, "local.", entries); err != nil {
		logging.L().Warn("mdns_browse_failed", "error", err)
		return nil, false
	}
	<-ctx.Done()
	select {
	case ip := <-result:
		return ip, true
	default:
		return nil, false
	}
}

// TeamToIP derives the static fallback address 10.<TE>.<AM>.2 from a team
// number, the same convention roboRIO imaging uses.
func TeamToIP(team uint32) net.IP {
	te := byte((team / 100) % 256)
	am := byte(team % 100)
	return net.IPv4(10, te, am, 2)
}

// ResolveAddress picks the roboRIO address to talk to, in priority order:
// USB gadget NIC, mDNS, then the static fallback convention.
func ResolveAddress(ctx context.Context, team uint32, useUSB bool, resolver Resolver) net.IP {
	if useUSB {
		logging.L().Info("address_resolved", "method", "usb", "addr", usbAddr.String())
		return usbAddr
	}

	if resolver != nil {
		if ip, ok := resolver.Resolve(ctx, team, mdnsTimeout); ok {
			logging.L().Info("address_resolved", "method", "mdns", "addr", ip.String())
			return ip
		}
	}

	ip := TeamToIP(team)
	logging.L().Info("address_resolved", "method", "static", "addr", ip.String())
	return ip
}

// hostPort formats an ip:port dial target.
func hostPort(ip net.IP, port int) string {
	return fmt.Sprintf("%s:%d", ip.String(), port)
}
