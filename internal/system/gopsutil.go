package system

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"

	gnet "github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

const (
	sockStream = 1
	sockDgram  = 2
)

// GopsutilAccessor reads interfaces, sockets, counters and process CPU via gopsutil.
// Process handles are cached between calls so CPU percent is measured over the
// interval since the previous collection.
type GopsutilAccessor struct {
	mu    sync.Mutex
	procs map[int32]*process.Process
}

func NewGopsutilAccessor() *GopsutilAccessor {
	return &GopsutilAccessor{procs: make(map[int32]*process.Process)}
}

func (a *GopsutilAccessor) Interfaces(ctx context.Context) ([]InterfaceInfo, error) {
	list, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	out := make([]InterfaceInfo, 0, len(list))
	for _, iface := range list {
		info := InterfaceInfo{Name: iface.Name}
		for _, ia := range iface.Addrs {
			if addr, ok := parseInterfaceAddr(ia.Addr); ok {
				info.Addrs = append(info.Addrs, addr)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

func (a *GopsutilAccessor) Sockets(ctx context.Context) ([]Socket, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("list sockets: %w", err)
	}
	out := make([]Socket, 0, len(conns))
	for _, c := range conns {
		proto := ""
		switch c.Type {
		case sockStream:
			proto = ProtocolTCP
		case sockDgram:
			proto = ProtocolUDP
		default:
			continue
		}
		local, ok := toAddrPort(c.Laddr)
		if !ok {
			continue
		}
		remote, _ := toAddrPort(c.Raddr)
		out = append(out, Socket{Protocol: proto, Local: local, Remote: remote, PID: c.Pid})
	}
	return out, nil
}

func (a *GopsutilAccessor) Counters(ctx context.Context) ([]TrafficCounters, error) {
	stats, err := gnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("read interface counters: %w", err)
	}
	out := make([]TrafficCounters, 0, len(stats))
	for _, s := range stats {
		out = append(out, TrafficCounters{Name: s.Name, BytesRecv: s.BytesRecv, BytesSent: s.BytesSent})
	}
	return out, nil
}

func (a *GopsutilAccessor) ProcessCPU(ctx context.Context, pids []int32) (map[int32]float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	wanted := make(map[int32]struct{}, len(pids))
	out := make(map[int32]float64, len(pids))
	var firstErr error
	for _, pid := range pids {
		if pid <= 0 {
			continue
		}
		wanted[pid] = struct{}{}
		p, ok := a.procs[pid]
		if !ok {
			np, err := process.NewProcessWithContext(ctx, pid)
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("open process %d: %w", pid, err)
				}
				continue
			}
			a.procs[pid] = np
			p = np
		}
		pct, err := p.PercentWithContext(ctx, 0)
		if err != nil {
			delete(a.procs, pid)
			continue
		}
		out[pid] = pct
	}
	for pid := range a.procs {
		if _, ok := wanted[pid]; !ok {
			delete(a.procs, pid)
		}
	}
	return out, firstErr
}

func parseInterfaceAddr(raw string) (netip.Addr, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return netip.Addr{}, false
	}
	if prefix, err := netip.ParsePrefix(raw); err == nil {
		return prefix.Addr().Unmap(), true
	}
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		raw = raw[:i]
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.WithZone("").Unmap(), true
}

func toAddrPort(a gnet.Addr) (netip.AddrPort, bool) {
	if a.IP == "" {
		return netip.AddrPort{}, false
	}
	addr, err := netip.ParseAddr(a.IP)
	if err != nil {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(addr.WithZone("").Unmap(), uint16(a.Port)), true
}
