package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"time"

	"netwatch-agent/internal/model"
	"netwatch-agent/internal/system"
)

const bitsPerMegabit = 1_000_000

// InterfaceCollector builds one ordered snapshot of host interfaces per call.
// It never fails: accessor errors are logged and the affected part of the
// snapshot is left empty.
type InterfaceCollector struct {
	accessor system.Accessor
	logger   *slog.Logger
	now      func() time.Time
}

func NewInterfaceCollector(accessor system.Accessor, logger *slog.Logger) *InterfaceCollector {
	return &InterfaceCollector{accessor: accessor, logger: logger, now: time.Now}
}

type ifaceUsage struct {
	pids  []int32
	ports []uint16
}

func (c *InterfaceCollector) Collect(ctx context.Context) []model.InterfaceRecord {
	ifaces, err := c.accessor.Interfaces(ctx)
	if err != nil {
		c.logger.Warn("interface enumeration failed", "error", err)
	}
	addrOwner := make(map[netip.Addr]string)
	byName := make(map[string]system.InterfaceInfo, len(ifaces))
	for _, iface := range ifaces {
		byName[iface.Name] = iface
		for _, a := range iface.Addrs {
			addrOwner[a] = iface.Name
		}
	}

	sockets, err := c.accessor.Sockets(ctx)
	if err != nil {
		c.logger.Warn("socket enumeration failed", "error", err)
	}
	usage := attributeSockets(sockets, addrOwner)

	cpu := c.interfaceCPU(ctx, usage)

	counters, err := c.accessor.Counters(ctx)
	if err != nil {
		c.logger.Warn("interface counters unavailable", "error", err)
	}
	if len(counters) == 0 && len(ifaces) > 0 {
		counters = make([]system.TrafficCounters, 0, len(ifaces))
		for _, iface := range ifaces {
			counters = append(counters, system.TrafficCounters{Name: iface.Name})
		}
	}

	now := c.now().UTC()
	records := make([]model.InterfaceRecord, 0, len(counters))
	for i, ctr := range counters {
		rec := model.InterfaceRecord{
			ID:               fmt.Sprintf("iface_%d", i),
			Name:             ctr.Name,
			Status:           model.StatusIdle,
			Anomaly:          model.BenignAnomaly(),
			Bandwidth:        bandwidthOf(ctr),
			ReceivedBytes:    ctr.BytesRecv,
			TransmittedBytes: ctr.BytesSent,
			ActivePorts:      []uint16{},
			LastSeen:         now,
			CPUUsage:         cpu[ctr.Name],
		}
		if ctr.BytesRecv+ctr.BytesSent > 0 {
			rec.Status = model.StatusActive
		}
		if u, ok := usage[ctr.Name]; ok {
			rec.ActivePorts = u.ports
		}
		if iface, ok := byName[ctr.Name]; ok {
			rec.Addressing, rec.Address = addressingOf(iface)
		}
		records = append(records, rec)
	}

	model.SortInterfaces(records)
	return records
}

func (c *InterfaceCollector) interfaceCPU(ctx context.Context, usage map[string]*ifaceUsage) map[string]float64 {
	var all []int32
	for _, u := range usage {
		all = append(all, u.pids...)
	}
	slices.Sort(all)
	all = slices.Compact(all)

	out := make(map[string]float64, len(usage))
	if len(all) == 0 {
		return out
	}
	perPID, err := c.accessor.ProcessCPU(ctx, all)
	if err != nil {
		c.logger.Debug("process cpu refresh incomplete", "error", err)
	}
	for name, u := range usage {
		var total float64
		for _, pid := range u.pids {
			total += perPID[pid]
		}
		out[name] = total
	}
	return out
}

// attributeSockets maps each socket to the interface owning its local address.
// Only the first owning pid of a socket counts, and each pid counts once per interface.
func attributeSockets(sockets []system.Socket, addrOwner map[netip.Addr]string) map[string]*ifaceUsage {
	usage := make(map[string]*ifaceUsage)
	for _, s := range sockets {
		name, ok := addrOwner[s.Local.Addr()]
		if !ok {
			continue
		}
		u := usage[name]
		if u == nil {
			u = &ifaceUsage{}
			usage[name] = u
		}
		if s.PID > 0 && !slices.Contains(u.pids, s.PID) {
			u.pids = append(u.pids, s.PID)
		}
		if port := s.Local.Port(); port != 0 && !slices.Contains(u.ports, port) {
			u.ports = append(u.ports, port)
		}
	}
	for _, u := range usage {
		slices.Sort(u.ports)
	}
	return usage
}

func bandwidthOf(c system.TrafficCounters) model.Bandwidth {
	return model.Bandwidth{
		Download: float64(c.BytesRecv) * 8 / bitsPerMegabit,
		Upload:   float64(c.BytesSent) * 8 / bitsPerMegabit,
	}
}

func addressingOf(iface system.InterfaceInfo) (model.Addressing, string) {
	var out model.Addressing
	raw := ""
	for _, a := range iface.Addrs {
		switch {
		case a.Is4() && out.IPv4 == nil:
			raw = a.String()
			masked := model.MaskIPv4(raw)
			out.IPv4 = &masked
		case a.Is6() && out.IPv6 == nil:
			v6 := a.String()
			out.IPv6 = &v6
		}
	}
	return out, raw
}
