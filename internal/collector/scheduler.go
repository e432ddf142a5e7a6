package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"netwatch-agent/internal/model"
	"netwatch-agent/internal/worker"
)

type Snapshotter interface {
	Collect(ctx context.Context) []model.InterfaceRecord
}

type Reconciler interface {
	Reconcile(ctx context.Context, previous, current []string, names worker.NameLookup)
}

type Replacer interface {
	Replace(records []model.InterfaceRecord) []model.InterfaceRecord
}

type Publisher interface {
	Publish(records []model.InterfaceRecord)
}

// CycleResult summarizes one reconciliation pass.
type CycleResult struct {
	At         time.Time
	Interfaces int
	Addresses  int
	Duration   time.Duration
}

// Scheduler drives the fixed-interval reconciliation loop: collect, reconcile
// workers, replace the store, publish.
type Scheduler struct {
	logger     *slog.Logger
	collector  Snapshotter
	workers    Reconciler
	store      Replacer
	publisher  Publisher
	names      worker.NameLookup
	interval   time.Duration
	onCycle    func(CycleResult)
	mu         sync.Mutex
	previous   []string
	cycleCount uint64
}

func NewScheduler(
	logger *slog.Logger,
	collector Snapshotter,
	workers Reconciler,
	store Replacer,
	publisher Publisher,
	names worker.NameLookup,
	interval time.Duration,
) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		logger:    logger,
		collector: collector,
		workers:   workers,
		store:     store,
		publisher: publisher,
		names:     names,
		interval:  interval,
	}
}

// OnCycle registers a hook invoked after every pass. It takes effect from the
// next pass if a cycle is running.
func (s *Scheduler) OnCycle(fn func(CycleResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCycle = fn
}

func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one reconciliation pass and returns its summary.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	records := s.collector.Collect(ctx)
	current := Addresses(records)

	s.workers.Reconcile(ctx, s.previous, current, s.names)
	merged := s.store.Replace(records)
	s.publisher.Publish(merged)
	s.previous = current
	s.cycleCount++

	res := CycleResult{
		At:         start.UTC(),
		Interfaces: len(merged),
		Addresses:  len(current),
		Duration:   time.Since(start),
	}
	cycleDuration.Observe(res.Duration.Seconds())
	cyclesTotal.Inc()
	s.logger.Debug("reconciliation cycle complete",
		"cycle", s.cycleCount,
		"interfaces", res.Interfaces,
		"addresses", res.Addresses,
		"duration", res.Duration,
	)
	if s.onCycle != nil {
		s.onCycle(res)
	}
	return res
}

// Addresses returns the raw IPv4 address of every record that has one, in
// snapshot order.
func Addresses(records []model.InterfaceRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		if r.Address != "" {
			out = append(out, r.Address)
		}
	}
	return out
}
