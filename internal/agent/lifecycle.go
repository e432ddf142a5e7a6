package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

func (a *Agent) run(ctx context.Context) error {
	idx := a.resolver.Resolve(ctx)
	a.names.Set(idx)
	a.health.SetNamesResolved(idx.Len())
	if idx.Len() == 0 {
		a.logger.Warn("no interface names resolved, running without workers")
	}

	srv, err := a.listen()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		return a.runHealthLoop(gctx)
	})
	g.Go(func() error {
		return a.serveHTTP(gctx, srv)
	})
	if a.sink != nil {
		g.Go(func() error {
			return a.publisher.Forward(gctx, a.sink, a.cfg.SubscriberBuffer)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (a *Agent) runHealthLoop(ctx context.Context) error {
	t := time.NewTicker(a.cfg.HealthInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			status := "ok"
			if last := a.health.LastCycleAt(); !last.IsZero() && time.Since(last) > 3*a.cfg.PollInterval {
				status = "stalled"
				a.logger.Warn("reconciliation loop stalled", "last_cycle_at", last)
			}
			a.logHealth(status)
		}
	}
}

func (a *Agent) logHealth(status string) {
	a.logger.Log(context.Background(), slog.LevelDebug, "agent health", "status", status, "snapshot", a.healthSnapshot())
}

func (a *Agent) shutdown(ctx context.Context) {
	a.supervisor.StopAll()
	if a.sink != nil {
		if err := a.sink.Close(ctx); err != nil {
			a.logger.Warn("upstream sink close failed", "error", err)
		}
		a.health.SetUpstreamConnected(false)
	}
}
