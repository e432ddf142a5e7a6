package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"netwatch-agent/internal/model"
	"netwatch-agent/internal/worker"
)

type scriptedSnapshots struct {
	frames [][]model.InterfaceRecord
	calls  int
}

func (s *scriptedSnapshots) Collect(context.Context) []model.InterfaceRecord {
	i := s.calls
	if i >= len(s.frames) {
		i = len(s.frames) - 1
	}
	s.calls++
	return s.frames[i]
}

type reconcileCall struct {
	previous []string
	current  []string
}

type recordingReconciler struct {
	calls []reconcileCall
}

func (r *recordingReconciler) Reconcile(_ context.Context, previous, current []string, _ worker.NameLookup) {
	r.calls = append(r.calls, reconcileCall{previous: previous, current: current})
}

type passthroughStore struct{}

func (passthroughStore) Replace(records []model.InterfaceRecord) []model.InterfaceRecord {
	return model.CloneRecords(records)
}

type recordingPublisher struct {
	mu        sync.Mutex
	published [][]model.InterfaceRecord
}

func (p *recordingPublisher) Publish(records []model.InterfaceRecord) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, records)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type noNames struct{}

func (noNames) Lookup(string) (string, bool) { return "", false }

func withAddr(name, addr string) model.InterfaceRecord {
	return model.InterfaceRecord{Name: name, Address: addr, Anomaly: model.BenignAnomaly()}
}

func TestScheduler_PassesPreviousAddresses(t *testing.T) {
	snaps := &scriptedSnapshots{frames: [][]model.InterfaceRecord{
		{withAddr("eth0", "10.0.0.1")},
		{withAddr("eth0", "10.0.0.1"), withAddr("eth1", "10.0.0.2"), withAddr("lo", "")},
		{withAddr("eth1", "10.0.0.2")},
	}}
	rec := &recordingReconciler{}
	pub := &recordingPublisher{}
	s := NewScheduler(discardLogger(), snaps, rec, passthroughStore{}, pub, noNames{}, time.Minute)

	var results []CycleResult
	s.OnCycle(func(r CycleResult) { results = append(results, r) })

	for range 3 {
		s.RunCycle(context.Background())
	}

	require.Len(t, rec.calls, 3)
	assert.Empty(t, rec.calls[0].previous)
	assert.Equal(t, []string{"10.0.0.1"}, rec.calls[0].current)
	assert.Equal(t, []string{"10.0.0.1"}, rec.calls[1].previous)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, rec.calls[1].current)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, rec.calls[2].previous)
	assert.Equal(t, []string{"10.0.0.2"}, rec.calls[2].current)

	assert.Equal(t, 3, pub.count())
	require.Len(t, results, 3)
	assert.Equal(t, 3, results[1].Interfaces)
	assert.Equal(t, 2, results[1].Addresses)
}

func TestScheduler_RunCyclesUntilCancelled(t *testing.T) {
	snaps := &scriptedSnapshots{frames: [][]model.InterfaceRecord{{withAddr("eth0", "10.0.0.1")}}}
	pub := &recordingPublisher{}
	s := NewScheduler(discardLogger(), snaps, &recordingReconciler{}, passthroughStore{}, pub, noNames{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestScheduler_OnCycleWhileRunning(t *testing.T) {
	snaps := &scriptedSnapshots{frames: [][]model.InterfaceRecord{{withAddr("eth0", "10.0.0.1")}}}
	pub := &recordingPublisher{}
	s := NewScheduler(discardLogger(), snaps, &recordingReconciler{}, passthroughStore{}, pub, noNames{}, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() >= 1 }, 2*time.Second, 5*time.Millisecond)

	var hooked atomic.Int64
	s.OnCycle(func(CycleResult) { hooked.Add(1) })

	assert.Eventually(t, func() bool { return hooked.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
