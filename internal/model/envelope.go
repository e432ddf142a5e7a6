package model

import "time"

type MetricType string

const (
	MetricTypeNetworkUpdate MetricType = "network_update"
)

// Envelope is transport-agnostic framing for stream payloads.
type Envelope struct {
	Type          MetricType `json:"type"`
	NodeID        string     `json:"node_id"`
	TimestampUnix int64      `json:"timestamp_unix"`
	Payload       any        `json:"payload"`
}

// NetworkUpdate is the full, ordered interface snapshot pushed to subscribers.
type NetworkUpdate struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  time.Time         `json:"timestamp"`
	Interfaces []InterfaceRecord `json:"interfaces"`
}
