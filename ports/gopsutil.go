package ports

import (
	"context"
	"net"
	"slices"
	"strconv"
	"syscall"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
)

// GopsutilProber lists listening TCP sockets and bound UDP sockets as
// "proto addr:port" lines, sorted.
type GopsutilProber struct {
	Timeout time.Duration
}

var listConnections = gnet.ConnectionsWithContext

func (p *GopsutilProber) Probe(ctx context.Context) ([]string, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	conns, err := listConnections(ctx, "inet")
	if err != nil {
		return nil, err
	}
	lines := []string{}
	for _, c := range conns {
		var proto string
		switch {
		case c.Type == syscall.SOCK_STREAM && c.Status == "LISTEN":
			proto = "tcp"
		case c.Type == syscall.SOCK_DGRAM && c.Raddr.Port == 0:
			proto = "udp"
		default:
			continue
		}
		lines = append(lines, listenerLine(proto, c.Laddr.IP, uint64(c.Laddr.Port)))
	}
	slices.Sort(lines)
	return slices.Compact(lines), nil
}

func listenerLine(proto, ip string, port uint64) string {
	if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() == nil {
		proto += "6"
	}
	return proto + " " + net.JoinHostPort(ip, strconv.FormatUint(port, 10))
}
