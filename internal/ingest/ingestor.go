package ingest

import (
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"netwatch-agent/internal/model"
)

var ErrUnknownInterface = errors.New("no address for worker interface")

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "netwatch_worker_events_total",
	Help: "Worker output lines by ingestion result",
}, []string{"result"})

type AddressLookup interface {
	Address(name string) (string, bool)
}

type AnomalyWriter interface {
	ApplyAnomaly(name, address string, isAnomalous bool, label string) bool
	Snapshot() []model.InterfaceRecord
}

type Publisher interface {
	Publish(records []model.InterfaceRecord)
}

// Ingestor applies worker classification lines to the state store and
// republishes the snapshot after every applied event.
type Ingestor struct {
	names     AddressLookup
	store     AnomalyWriter
	publisher Publisher
	logger    *slog.Logger

	discardLog rate.Sometimes
	lastEvent  atomic.Int64
}

func NewIngestor(names AddressLookup, store AnomalyWriter, publisher Publisher, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		names:      names,
		store:      store,
		publisher:  publisher,
		logger:     logger,
		discardLog: rate.Sometimes{First: 3, Interval: 10 * time.Second},
	}
}

// HandleLine consumes one worker stdout line. Invalid lines are dropped.
func (i *Ingestor) HandleLine(line string) {
	if err := i.Apply(line); err != nil {
		switch {
		case errors.Is(err, ErrMalformedEvent):
			eventsTotal.WithLabelValues("malformed").Inc()
			i.discardLog.Do(func() {
				i.logger.Debug("discarding worker line", "error", err)
			})
		case errors.Is(err, ErrUnknownInterface):
			eventsTotal.WithLabelValues("unresolved").Inc()
			i.logger.Debug("discarding worker event", "error", err)
		default:
			eventsTotal.WithLabelValues("unmatched").Inc()
			i.logger.Debug("worker event matched no interface", "error", err)
		}
	}
}

// Apply decodes line, resolves its interface and updates the store.
func (i *Ingestor) Apply(line string) error {
	ev, err := Decode(line)
	if err != nil {
		return err
	}
	addr, ok := i.names.Address(ev.Interface)
	if !ok {
		return &eventError{err: ErrUnknownInterface, iface: ev.Interface}
	}
	if !i.store.ApplyAnomaly(ev.Interface, addr, ev.IsAnomalous, strings.ToUpper(ev.Label)) {
		return &eventError{err: errNoRecord, iface: ev.Interface, addr: addr}
	}

	eventsTotal.WithLabelValues("applied").Inc()
	i.lastEvent.Store(time.Now().UnixNano())
	if i.publisher != nil {
		i.publisher.Publish(i.store.Snapshot())
	}
	return nil
}

// LastEventAt is the time of the most recently applied event.
func (i *Ingestor) LastEventAt() time.Time {
	v := i.lastEvent.Load()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v).UTC()
}

var errNoRecord = errors.New("no matching interface record")

type eventError struct {
	err   error
	iface string
	addr  string
}

func (e *eventError) Error() string {
	if e.addr != "" {
		return e.err.Error() + ": " + e.iface + " (" + e.addr + ")"
	}
	return e.err.Error() + ": " + e.iface
}

func (e *eventError) Unwrap() error { return e.err }
