package worker

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

var ErrNoInterfaceName = errors.New("no interface name for address")

const (
	defaultDrainTimeout = 3 * time.Second
	maxLineBytes        = 1 << 20
)

// State is the lifecycle position of the worker for one address.
type State int

const (
	StateAbsent State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Process is a started worker with piped output.
type Process interface {
	PID() int
	Stdout() io.Reader
	Stderr() io.Reader
	Kill() error
	Wait() error
}

type Launcher interface {
	Launch(iface string) (Process, error)
}

// LineHandler receives every stdout line of every worker.
type LineHandler interface {
	HandleLine(line string)
}

type NameLookup interface {
	Lookup(addr string) (string, bool)
}

type handle struct {
	addr      string
	iface     string
	proc      Process
	startedAt time.Time
	drained   sync.WaitGroup
}

// Supervisor owns the address -> worker table. The table lock is held only
// for inserts and removals, never while a process is started or reaped.
type Supervisor struct {
	mu      sync.Mutex
	workers map[string]*handle

	launcher     Launcher
	lines        LineHandler
	logger       *slog.Logger
	drainTimeout time.Duration
	maxLine      int
}

func NewSupervisor(launcher Launcher, lines LineHandler, drainTimeout time.Duration, logger *slog.Logger) *Supervisor {
	if drainTimeout <= 0 {
		drainTimeout = defaultDrainTimeout
	}
	return &Supervisor{
		workers:      make(map[string]*handle),
		launcher:     launcher,
		lines:        lines,
		logger:       logger,
		drainTimeout: drainTimeout,
		maxLine:      maxLineBytes,
	}
}

// Reconcile starts a worker for every address that newly appeared and stops
// the worker of every address that disappeared. Failures are logged only.
func (s *Supervisor) Reconcile(ctx context.Context, previous, current []string, names NameLookup) {
	added, removed := Diff(previous, current)

	for _, addr := range added {
		if ctx.Err() != nil {
			return
		}
		if err := s.start(addr, names); err != nil {
			if errors.Is(err, ErrNoInterfaceName) {
				s.logger.Debug("no interface name for address, not monitoring", "addr", addr)
				continue
			}
			s.logger.Warn("worker spawn failed", "addr", addr, "error", err)
		}
	}

	for _, addr := range removed {
		s.stop(addr)
	}
}

func (s *Supervisor) start(addr string, names NameLookup) error {
	iface, ok := names.Lookup(addr)
	if !ok {
		workerSpawnsTotal.WithLabelValues("unresolved").Inc()
		return ErrNoInterfaceName
	}
	if s.State(addr) == StateRunning {
		return nil
	}

	proc, err := s.launcher.Launch(iface)
	if err != nil {
		workerSpawnsTotal.WithLabelValues("error").Inc()
		return err
	}

	h := &handle{addr: addr, iface: iface, proc: proc, startedAt: time.Now().UTC()}
	h.drained.Add(2)

	s.mu.Lock()
	s.workers[addr] = h
	n := len(s.workers)
	s.mu.Unlock()

	go s.drainStdout(h)
	go s.drainStderr(h)
	go s.reapOnExit(h)

	workerSpawnsTotal.WithLabelValues("ok").Inc()
	workersRunning.Set(float64(n))
	s.logger.Info("started worker", "addr", addr, "iface", iface, "pid", proc.PID())
	return nil
}

func (s *Supervisor) stop(addr string) {
	s.mu.Lock()
	h, ok := s.workers[addr]
	delete(s.workers, addr)
	n := len(s.workers)
	s.mu.Unlock()
	if !ok {
		return
	}
	workersRunning.Set(float64(n))
	s.terminate(h)
}

// terminate kills the process, lets the drain loops see the pipes close and
// reaps the child. A kill error still leaves the handle removed.
func (s *Supervisor) terminate(h *handle) {
	result := "ok"
	if err := h.proc.Kill(); err != nil {
		result = "kill_error"
		s.logger.Warn("worker kill failed", "addr", h.addr, "iface", h.iface, "error", err)
	}

	done := make(chan struct{})
	go func() {
		h.drained.Wait()
		close(done)
	}()
	t := time.NewTimer(s.drainTimeout)
	select {
	case <-done:
	case <-t.C:
		s.logger.Warn("worker output still open after kill", "addr", h.addr, "iface", h.iface, "timeout", s.drainTimeout)
	}
	t.Stop()

	if err := h.proc.Wait(); err != nil {
		s.logger.Debug("worker exited", "addr", h.addr, "iface", h.iface, "error", err)
	}
	workerTerminationsTotal.WithLabelValues(result).Inc()
	s.logger.Info("stopped worker", "addr", h.addr, "iface", h.iface, "uptime", time.Since(h.startedAt).Round(time.Second))
}

// StopAll terminates every live worker.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	handles := slices.Collect(maps.Values(s.workers))
	clear(s.workers)
	s.mu.Unlock()
	workersRunning.Set(0)

	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.terminate(h)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) State(addr string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[addr]; ok {
		return StateRunning
	}
	return StateAbsent
}

// Running returns the addresses with a live worker, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.workers))
}

func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// reapOnExit removes and reaps a worker whose output closed while it was
// still registered, i.e. one that exited without being stopped. Handles
// already taken out of the table are reaped by terminate.
func (s *Supervisor) reapOnExit(h *handle) {
	h.drained.Wait()

	s.mu.Lock()
	cur, ok := s.workers[h.addr]
	if !ok || cur != h {
		s.mu.Unlock()
		return
	}
	delete(s.workers, h.addr)
	n := len(s.workers)
	s.mu.Unlock()

	workersRunning.Set(float64(n))
	err := h.proc.Wait()
	workerTerminationsTotal.WithLabelValues("exited").Inc()
	s.logger.Warn("worker exited on its own", "addr", h.addr, "iface", h.iface, "error", err,
		"uptime", time.Since(h.startedAt).Round(time.Second))
}

func (s *Supervisor) drainStdout(h *handle) {
	defer h.drained.Done()
	s.readLines(h, h.proc.Stdout(), func(line string) {
		if s.lines != nil {
			s.lines.HandleLine(line)
		}
	})
}

func (s *Supervisor) drainStderr(h *handle) {
	defer h.drained.Done()
	s.readLines(h, h.proc.Stderr(), func(line string) {
		s.logger.Debug("worker stderr", "iface", h.iface, "line", line)
	})
}

func (s *Supervisor) readLines(h *handle, r io.Reader, fn func(string)) {
	readLines(r, s.maxLine, fn, func(n int) {
		s.logger.Warn("dropping oversized worker line", "iface", h.iface, "bytes", n, "limit", s.maxLine)
	})
}

// readLines calls fn for every newline-terminated line of r until r is
// exhausted. Lines longer than limit are skipped whole and reported to tooLong.
func readLines(r io.Reader, limit int, fn func(string), tooLong func(int)) {
	if r == nil {
		return
	}
	br := bufio.NewReaderSize(r, 64*1024)
	var line []byte
	skipped := 0
	for {
		frag, err := br.ReadSlice('\n')
		if skipped > 0 {
			skipped += len(frag)
		} else {
			line = append(line, frag...)
			if len(line) > limit+1 {
				skipped = len(line)
				line = line[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		switch {
		case skipped > 0:
			tooLong(skipped)
		case len(line) > 0:
			text := strings.TrimSuffix(string(line), "\n")
			text = strings.TrimSuffix(text, "\r")
			if len(text) > limit {
				tooLong(len(text))
			} else {
				fn(text)
			}
		}
		line = line[:0]
		skipped = 0
		if err != nil {
			return
		}
	}
}
