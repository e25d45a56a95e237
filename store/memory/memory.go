// Package memory provides an in-memory store, for tests and single-node
// deployments that can afford to lose their audit trail on restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	censor "github.com/phoenix4ge/censor"
	"github.com/phoenix4ge/censor/store"
	"github.com/phoenix4ge/censor/threshold"
)

// Store implements store.Store in memory.
type Store struct {
	mu          sync.RWMutex
	models      map[censor.UsageContext]store.ModelRecord
	syncs       []store.SyncRecord
	moderations map[string]store.ModerationRecord
	now         func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		models:      make(map[censor.UsageContext]store.ModelRecord),
		moderations: make(map[string]store.ModerationRecord),
		now:         time.Now,
	}
}

// WithClock replaces the clock used for UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) GetModel(_ context.Context, uc censor.UsageContext) (*store.ModelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.models[uc]
	if !ok {
		return nil, censor.ErrModelNotFound
	}
	rec.Model = rec.Model.Clone()
	return &rec, nil
}

func (s *Store) SaveModel(_ context.Context, uc censor.UsageContext, model threshold.Model, actor string) (*store.ModelRecord, error) {
	if err := model.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := store.ModelRecord{
		Context:   uc,
		Model:     model.Clone(),
		Version:   s.models[uc].Version + 1,
		UpdatedBy: actor,
		UpdatedAt: s.now(),
	}
	s.models[uc] = rec

	out := rec
	out.Model = rec.Model.Clone()
	return &out, nil
}

func (s *Store) SaveSyncRecord(_ context.Context, rec store.SyncRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs = append(s.syncs, rec)
	return nil
}

// ListSyncRecords returns matching records, newest first.
func (s *Store) ListSyncRecords(_ context.Context, filter store.SyncFilter) ([]store.SyncRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.SyncRecord
	for _, rec := range s.syncs {
		if filter.Matches(rec) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) SaveModeration(_ context.Context, rec store.ModerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moderations[rec.RequestID] = rec
	return nil
}

func (s *Store) GetModeration(_ context.Context, requestID string) (*store.ModerationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.moderations[requestID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

var _ store.Store = (*Store)(nil)
