package render

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store holds job records. Implementations must make Update an atomic
// read-modify-write with respect to Get, and must return copies so callers
// never observe a record mid-update.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)

	// Update applies fn to the current record and persists the result.
	// Terminal records return ErrTerminal and progress never decreases.
	Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error)

	// List returns up to limit jobs, newest first.
	List(ctx context.Context, limit int) ([]*Job, error)

	// DeleteFinishedBefore evicts terminal jobs finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

const defaultListLimit = 50

// MemoryStore is a map-backed Store for single node deployments.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*Job)}
}

func (s *MemoryStore) Create(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrExists
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if current.Status.Terminal() {
		return current.Clone(), ErrTerminal
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return current.Clone(), err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := checkTransition(current, next); err != nil {
		return current.Clone(), err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.RLock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

func (s *MemoryStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status.Terminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			n++
		}
	}
	return n, nil
}
