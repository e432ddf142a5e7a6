package state

import (
	"context"
	"errors"
	"sync"
	"time"

	"netwatch-agent/internal/model"
)

var ErrStateUnavailable = errors.New("network state unavailable")

const queryRetryInterval = 5 * time.Millisecond

// Store is the single source of truth for the interface snapshot.
//
// Two writers share one lock: Replace (collection cycle, full refresh) and
// ApplyAnomaly (worker events, anomaly sub-field only). They are not ordered
// relative to each other; last commit wins. Replace never resets the anomaly
// of an interface it already knows, so the only loss is an anomaly update
// landing between a stale collection and its Replace.
type Store struct {
	mu      sync.RWMutex
	records []model.InterfaceRecord
	now     func() time.Time
}

func NewStore() *Store {
	return &Store{now: time.Now}
}

// Replace synchronises the store to records. Interfaces already present (same
// name or address) keep their AnomalyState; new ones start benign; interfaces
// missing from records are dropped. It returns the merged, ordered snapshot.
func (s *Store) Replace(records []model.InterfaceRecord) []model.InterfaceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	byName := make(map[string]model.AnomalyState, len(s.records))
	byAddr := make(map[string]model.AnomalyState, len(s.records))
	for _, r := range s.records {
		byName[r.Name] = r.Anomaly
		if r.Address != "" {
			byAddr[r.Address] = r.Anomaly
		}
	}

	merged := make([]model.InterfaceRecord, 0, len(records))
	for _, in := range records {
		rec := in.Clone()
		if prev, ok := byName[rec.Name]; ok {
			rec.Anomaly = prev
		} else if prev, ok := byAddr[rec.Address]; ok && rec.Address != "" {
			rec.Anomaly = prev
		} else {
			rec.Anomaly = model.BenignAnomaly()
		}
		merged = append(merged, rec)
	}
	model.SortInterfaces(merged)
	s.records = merged
	return model.CloneRecords(merged)
}

// ApplyAnomaly sets the anomaly state of the interface matching name or address
// and refreshes its LastSeen. It reports whether any record matched.
func (s *Store) ApplyAnomaly(name, address string, isAnomalous bool, label string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	matched := false
	for i := range s.records {
		r := &s.records[i]
		if r.Name != name && (address == "" || r.Address != address) {
			continue
		}
		r.Anomaly = model.AnomalyState{IsAnomalous: isAnomalous, Label: label}
		r.LastSeen = now
		matched = true
	}
	if matched {
		model.SortInterfaces(s.records)
	}
	return matched
}

// Snapshot returns a point-in-time copy of the stored records.
func (s *Store) Snapshot() []model.InterfaceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.CloneRecords(s.records)
}

// Query is Snapshot for external callers: it gives up with ErrStateUnavailable
// if the read lock cannot be taken before ctx is done.
func (s *Store) Query(ctx context.Context) ([]model.InterfaceRecord, error) {
	for !s.mu.TryRLock() {
		t := time.NewTimer(queryRetryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, errors.Join(ErrStateUnavailable, ctx.Err())
		case <-t.C:
		}
	}
	defer s.mu.RUnlock()
	return model.CloneRecords(s.records), nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
