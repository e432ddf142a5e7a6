package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"netwatch-agent/internal/model"
)

// Subscription is one consumer of network updates. Its channel keeps only the
// most recent updates; older ones are dropped when the consumer falls behind.
type Subscription struct {
	ID      string
	ch      chan model.NetworkUpdate
	dropped atomic.Uint64
}

func (s *Subscription) Updates() <-chan model.NetworkUpdate { return s.ch }

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Publisher fans snapshots out to subscribers without ever blocking the caller.
type Publisher struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	latest *model.NetworkUpdate

	seq    uint64
	logger *slog.Logger
	now    func() time.Time
}

func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{subs: make(map[string]*Subscription), logger: logger, now: time.Now}
}

// Publish stamps records with the next sequence number and offers them to every
// subscriber. Sequencing and fan-out share the write lock, so each subscriber
// sees strictly increasing sequences; offer never blocks.
func (p *Publisher) Publish(records []model.InterfaceRecord) {
	snapshot := model.CloneRecords(records)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	u := model.NetworkUpdate{
		Sequence:   p.seq,
		Timestamp:  p.now().UTC(),
		Interfaces: snapshot,
	}
	p.latest = &u
	for _, s := range p.subs {
		offer(s, u)
	}
	publishedTotal.Inc()
}

func offer(s *Subscription, u model.NetworkUpdate) {
	select {
	case s.ch <- u:
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- u:
	default:
		s.dropped.Add(1)
	}
}

// Latest returns the most recently published update, if any.
func (p *Publisher) Latest() (model.NetworkUpdate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return model.NetworkUpdate{}, false
	}
	return *p.latest, true
}

func (p *Publisher) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 1
	}
	s := &Subscription{ID: uuid.NewString(), ch: make(chan model.NetworkUpdate, buffer)}
	p.mu.Lock()
	p.subs[s.ID] = s
	n := len(p.subs)
	p.mu.Unlock()
	subscribersGauge.Set(float64(n))
	p.logger.Debug("subscriber added", "subscriber_id", s.ID, "subscribers", n)
	return s
}

func (p *Publisher) Unsubscribe(s *Subscription) {
	p.mu.Lock()
	if _, ok := p.subs[s.ID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.subs, s.ID)
	close(s.ch)
	n := len(p.subs)
	p.mu.Unlock()
	subscribersGauge.Set(float64(n))
	p.logger.Debug("subscriber removed", "subscriber_id", s.ID, "subscribers", n, "dropped", s.Dropped())
}

func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// Forward delivers updates to sink until ctx is done. Send failures are logged
// and the next update is tried; a slow sink only loses intermediate updates.
func (p *Publisher) Forward(ctx context.Context, sink Sink, buffer int) error {
	sub := p.Subscribe(buffer)
	defer p.Unsubscribe(sub)

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case u, ok := <-sub.Updates():
			if !ok {
				return nil
			}
			if u.Sequence <= lastSeq {
				continue
			}
			lastSeq = u.Sequence
			if err := sink.SendNetworkUpdate(ctx, u); err != nil {
				p.logger.Warn("sink send failed", "error", err, "sequence", u.Sequence)
			}
		}
	}
}
