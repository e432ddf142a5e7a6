package stream

import (
	"context"
	"encoding/json"

	"netwatch-agent/internal/model"
)

// Sink receives every published network snapshot.
type Sink interface {
	SendNetworkUpdate(ctx context.Context, u model.NetworkUpdate) error
	Close(ctx context.Context) error
}

type NetworkFrame struct {
	NodeID        string                  `json:"node_id"`
	TimestampUnix int64                   `json:"timestamp_unix"`
	Sequence      uint64                  `json:"sequence"`
	Interfaces    []model.InterfaceRecord `json:"interfaces"`
}

func EncodeEnvelope(e model.Envelope) ([]byte, error) {
	return json.Marshal(e)
}

func NewNetworkFrame(nodeID string, u model.NetworkUpdate) NetworkFrame {
	return NetworkFrame{
		NodeID:        nodeID,
		TimestampUnix: u.Timestamp.Unix(),
		Sequence:      u.Sequence,
		Interfaces:    u.Interfaces,
	}
}

func NewNetworkEnvelope(nodeID string, u model.NetworkUpdate) model.Envelope {
	return model.Envelope{
		Type:          model.MetricTypeNetworkUpdate,
		NodeID:        nodeID,
		TimestampUnix: u.Timestamp.Unix(),
		Payload:       u,
	}
}
