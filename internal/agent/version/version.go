package version

import (
	"time"

	"netwatch-agent/internal/config"
)

type Info struct {
	NodeID        string `json:"node_id"`
	Hostname      string `json:"hostname"`
	AgentVersion  string `json:"agent_version"`
	HTTPAddr      string `json:"http_addr"`
	UpstreamMode  string `json:"upstream_mode"`
	CheckedAtUnix int64  `json:"checked_at_unix"`
}

func Get(cfg config.Config) Info {
	mode := "disabled"
	if cfg.UpstreamGRPCAddr != "" {
		mode = "grpc"
	}
	return Info{
		NodeID:        cfg.NodeID,
		Hostname:      cfg.Hostname,
		AgentVersion:  cfg.AgentVersion,
		HTTPAddr:      cfg.HTTPListenAddr,
		UpstreamMode:  mode,
		CheckedAtUnix: time.Now().UTC().Unix(),
	}
}
