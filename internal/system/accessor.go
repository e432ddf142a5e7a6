package system

import (
	"context"
	"net/netip"
)

type InterfaceInfo struct {
	Name  string
	Addrs []netip.Addr
}

type Socket struct {
	Protocol string
	Local    netip.AddrPort
	Remote   netip.AddrPort
	PID      int32
}

type TrafficCounters struct {
	Name      string
	BytesRecv uint64
	BytesSent uint64
}

// Accessor is the point-in-time view of the host network and process tables.
type Accessor interface {
	Interfaces(ctx context.Context) ([]InterfaceInfo, error)
	Sockets(ctx context.Context) ([]Socket, error)
	Counters(ctx context.Context) ([]TrafficCounters, error)
	// ProcessCPU refreshes CPU accounting for pids and returns percent usage per pid.
	ProcessCPU(ctx context.Context, pids []int32) (map[int32]float64, error)
}

const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"
)
