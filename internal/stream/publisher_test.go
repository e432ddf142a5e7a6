package stream

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwatch-agent/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func records(names ...string) []model.InterfaceRecord {
	out := make([]model.InterfaceRecord, 0, len(names))
	for _, n := range names {
		out = append(out, model.InterfaceRecord{Name: n, Status: model.StatusIdle, Anomaly: model.BenignAnomaly()})
	}
	return out
}

type recordingSink struct {
	mu      sync.Mutex
	updates []model.NetworkUpdate
	got     chan struct{}
}

func (s *recordingSink) SendNetworkUpdate(_ context.Context, u model.NetworkUpdate) error {
	s.mu.Lock()
	s.updates = append(s.updates, u)
	s.mu.Unlock()
	select {
	case s.got <- struct{}{}:
	default:
	}
	return nil
}

func (s *recordingSink) Close(context.Context) error { return nil }

func TestPublisher_PublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	p := NewPublisher(discardLogger())
	sub := p.Subscribe(1)
	defer p.Unsubscribe(sub)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			p.Publish(records("eth0"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a subscriber that never reads")
	}

	u := <-sub.Updates()
	assert.Equal(t, uint64(50), u.Sequence, "subscriber keeps the latest update")
	assert.Equal(t, uint64(49), sub.Dropped())
}

func TestPublisher_LatestIsIndependentCopy(t *testing.T) {
	p := NewPublisher(discardLogger())
	_, ok := p.Latest()
	assert.False(t, ok)

	in := records("eth0", "wlan0")
	p.Publish(in)
	in[0].Name = "mutated"

	latest, ok := p.Latest()
	require.True(t, ok)
	require.Len(t, latest.Interfaces, 2)
	assert.Equal(t, "eth0", latest.Interfaces[0].Name)
	assert.Equal(t, uint64(1), latest.Sequence)
}

func TestPublisher_UnsubscribeClosesChannel(t *testing.T) {
	p := NewPublisher(discardLogger())
	sub := p.Subscribe(2)
	assert.Equal(t, 1, p.Subscribers())

	p.Unsubscribe(sub)
	p.Unsubscribe(sub)

	_, ok := <-sub.Updates()
	assert.False(t, ok)
	assert.Equal(t, 0, p.Subscribers())

	p.Publish(records("eth0"))
}

func TestPublisher_ForwardDeliversToSink(t *testing.T) {
	p := NewPublisher(discardLogger())
	sink := &recordingSink{got: make(chan struct{}, 1)}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Forward(ctx, sink, 4) }()

	require.Eventually(t, func() bool { return p.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	p.Publish(records("eth0"))

	select {
	case <-sink.got:
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the update")
	}

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, 0, p.Subscribers())

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.updates, 1)
	assert.Equal(t, "eth0", sink.updates[0].Interfaces[0].Name)
}

func TestNewNetworkEnvelope(t *testing.T) {
	ts := time.Unix(1700000000, 0).UTC()
	env := NewNetworkEnvelope("node-1", model.NetworkUpdate{Sequence: 3, Timestamp: ts})

	assert.Equal(t, model.MetricTypeNetworkUpdate, env.Type)
	assert.Equal(t, "node-1", env.NodeID)
	assert.Equal(t, int64(1700000000), env.TimestampUnix)

	raw, err := EncodeEnvelope(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"network_update"`)
}

func TestPublisher_ConcurrentPublishersKeepSequenceOrder(t *testing.T) {
	p := NewPublisher(discardLogger())
	sub := p.Subscribe(1)

	var seen []uint64
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for u := range sub.Updates() {
			seen = append(seen, u.Sequence)
		}
	}()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 250 {
				p.Publish(records("eth0"))
			}
		}()
	}
	wg.Wait()
	p.Unsubscribe(sub)
	<-readerDone

	require.NotEmpty(t, seen)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i], seen[i-1], "update %d delivered out of order", i)
	}
	assert.Equal(t, uint64(2000), seen[len(seen)-1], "the final update is never lost")

	latest, ok := p.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(2000), latest.Sequence)
}
