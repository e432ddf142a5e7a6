package agent

import (
	"context"
	"log/slog"

	"netwatch-agent/internal/collector"
	"netwatch-agent/internal/config"
	"netwatch-agent/internal/model"
	"netwatch-agent/internal/resolver"
	"netwatch-agent/internal/system"
)

// CollectOnce takes a single interface snapshot without starting workers.
func CollectOnce(ctx context.Context, logger *slog.Logger) []model.InterfaceRecord {
	return collector.NewInterfaceCollector(system.NewGopsutilAccessor(), logger).Collect(ctx)
}

// ResolveNames runs the helper script once with the configured retry policy.
func ResolveNames(ctx context.Context, cfg config.Config, logger *slog.Logger) *resolver.NameIndex {
	r := resolver.New(NewRunner(cfg), cfg.HelperScript, cfg.ResolveRetries, cfg.ResolveRetryDelay, logger)
	return r.Resolve(ctx)
}
