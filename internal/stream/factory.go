package stream

import (
	"crypto/tls"
	"log/slog"
	"strings"

	"netwatch-agent/internal/config"
)

// NewSinkFromConfig returns the upstream sink, or nil when no upstream is configured.
func NewSinkFromConfig(cfg config.Config, tlsCfg *tls.Config, logger *slog.Logger) Sink {
	if strings.TrimSpace(cfg.UpstreamGRPCAddr) == "" {
		return nil
	}
	method := cfg.UpstreamMethod
	if method == "" {
		method = DefaultNetworkStreamMethod
	}
	return NewGRPCClient(cfg.UpstreamGRPCAddr, tlsCfg, cfg.UpstreamToken, cfg.NodeID, method, logger)
}
