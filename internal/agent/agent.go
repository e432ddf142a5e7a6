package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netwatch-agent/internal/collector"
	"netwatch-agent/internal/config"
	"netwatch-agent/internal/ingest"
	"netwatch-agent/internal/model"
	"netwatch-agent/internal/resolver"
	"netwatch-agent/internal/state"
	"netwatch-agent/internal/stream"
	"netwatch-agent/internal/system"
	"netwatch-agent/internal/worker"
)

type Agent struct {
	cfg        config.Config
	logger     *slog.Logger
	resolver   *resolver.Resolver
	names      *nameIndexRef
	supervisor *worker.Supervisor
	store      *state.Store
	query      snapshotQuerier
	publisher  *stream.Publisher
	ingestor   *ingest.Ingestor
	scheduler  *collector.Scheduler
	hub        *stream.Hub
	sink       stream.Sink
	health     *HealthStatus
}

// Deps are the host-facing collaborators. Zero fields get the real implementations.
type Deps struct {
	Accessor system.Accessor
	Helper   resolver.Helper
	Launcher worker.Launcher
	Sink     stream.Sink
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	return NewWithDeps(cfg, logger, Deps{})
}

func NewWithDeps(cfg config.Config, logger *slog.Logger, deps Deps) (*Agent, error) {
	runner := NewRunner(cfg)
	if deps.Accessor == nil {
		deps.Accessor = system.NewGopsutilAccessor()
	}
	if deps.Helper == nil {
		deps.Helper = runner
	}
	if deps.Launcher == nil {
		deps.Launcher = runner
	}

	health := NewHealthStatus()
	if deps.Sink == nil {
		tlsCfg, err := cfg.TLSConfig()
		if err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
		deps.Sink = stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	}
	var sink stream.Sink
	if deps.Sink != nil {
		sink = &healthSink{sink: deps.Sink, health: health}
	}

	names := &nameIndexRef{}
	store := state.NewStore()
	publisher := stream.NewPublisher(logger)
	ingestor := ingest.NewIngestor(names, store, publisher, logger)
	supervisor := worker.NewSupervisor(deps.Launcher, ingestor, cfg.WorkerDrainTimeout, logger)
	scheduler := collector.NewScheduler(
		logger,
		collector.NewInterfaceCollector(deps.Accessor, logger),
		supervisor,
		store,
		publisher,
		names,
		cfg.PollInterval,
	)
	scheduler.OnCycle(health.MarkCycle)

	return &Agent{
		cfg:        cfg,
		logger:     logger,
		resolver:   resolver.New(deps.Helper, cfg.HelperScript, cfg.ResolveRetries, cfg.ResolveRetryDelay, logger),
		names:      names,
		supervisor: supervisor,
		store:      store,
		query:      store,
		publisher:  publisher,
		ingestor:   ingestor,
		scheduler:  scheduler,
		hub:        stream.NewHub(publisher, cfg.NodeID, cfg.SubscriberBuffer, cfg.WSWriteTimeout, cfg.WSPingInterval, cfg.AllowedOrigins, logger),
		sink:       sink,
		health:     health,
	}, nil
}

// NewRunner returns the interpreter runner used for both the helper and the workers.
func NewRunner(cfg config.Config) *worker.Runner {
	return &worker.Runner{
		Interpreter: cfg.Interpreter,
		Dir:         cfg.RuntimeDir,
		IfaceFlag:   cfg.WorkerIfaceFlag,
		Script:      cfg.WorkerScript,
		WaitDelay:   cfg.WorkerDrainTimeout,
	}
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting netwatch-agent",
		"node_id", a.cfg.NodeID,
		"version", a.cfg.AgentVersion,
		"http_addr", a.cfg.HTTPListenAddr,
		"upstream", a.cfg.UpstreamGRPCAddr,
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("netwatch-agent stopped")
	return nil
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendNetworkUpdate(ctx context.Context, u model.NetworkUpdate) error {
	err := s.sink.SendNetworkUpdate(ctx, u)
	if err != nil {
		s.health.SetUpstreamConnected(false)
		return err
	}
	s.health.SetUpstreamConnected(true)
	s.health.MarkUpstreamSend(u.Timestamp)
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
