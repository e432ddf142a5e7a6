package model

import (
	"slices"
	"strings"
	"time"
)

const (
	StatusActive = "active"
	StatusIdle   = "idle"

	LabelBenign  = "BENIGN"
	LabelAnomaly = "ANOMALY"
)

// AnomalyState is the classification attached to an interface by worker events.
type AnomalyState struct {
	IsAnomalous bool   `json:"isAnomalous"`
	Label       string `json:"anomalyType"`
}

func BenignAnomaly() AnomalyState {
	return AnomalyState{IsAnomalous: false, Label: LabelBenign}
}

type Addressing struct {
	IPv4 *string `json:"ipv4"`
	IPv6 *string `json:"ipv6"`
}

// Bandwidth is expressed in Mbps.
type Bandwidth struct {
	Download float64 `json:"download"`
	Upload   float64 `json:"upload"`
}

// InterfaceRecord is one network interface as seen during a single collection cycle.
// ID is regenerated from enumeration order every cycle and is display-only;
// Name and Address identify the interface across cycles.
type InterfaceRecord struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Status           string       `json:"status"`
	Anomaly          AnomalyState `json:"anomaly"`
	Addressing       Addressing   `json:"ipInfo"`
	Bandwidth        Bandwidth    `json:"bandwidth"`
	ReceivedBytes    uint64       `json:"receivedBytes"`
	TransmittedBytes uint64       `json:"transmittedBytes"`
	ActivePorts      []uint16     `json:"activePorts"`
	LastSeen         time.Time    `json:"lastSeen"`
	CPUUsage         float64      `json:"cpuUsage"`

	// Address is the unmasked IPv4 address used to key workers and events.
	Address string `json:"-"`
}

func (r InterfaceRecord) Active() bool {
	return r.Status == StatusActive
}

// Clone returns a deep copy so callers can hand records out without sharing slices.
func (r InterfaceRecord) Clone() InterfaceRecord {
	out := r
	out.ActivePorts = slices.Clone(r.ActivePorts)
	if r.Addressing.IPv4 != nil {
		v := *r.Addressing.IPv4
		out.Addressing.IPv4 = &v
	}
	if r.Addressing.IPv6 != nil {
		v := *r.Addressing.IPv6
		out.Addressing.IPv6 = &v
	}
	return out
}

func CloneRecords(in []InterfaceRecord) []InterfaceRecord {
	out := make([]InterfaceRecord, 0, len(in))
	for _, r := range in {
		out = append(out, r.Clone())
	}
	return out
}

// SortInterfaces orders records anomalous first, then active before idle,
// then by case-insensitive name.
func SortInterfaces(records []InterfaceRecord) {
	slices.SortStableFunc(records, compareInterfaces)
}

func compareInterfaces(a, b InterfaceRecord) int {
	if a.Anomaly.IsAnomalous != b.Anomaly.IsAnomalous {
		if a.Anomaly.IsAnomalous {
			return -1
		}
		return 1
	}
	if a.Active() != b.Active() {
		if a.Active() {
			return -1
		}
		return 1
	}
	return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
}
