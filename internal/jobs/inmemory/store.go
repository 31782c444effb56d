package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/spend-assistant/internal/jobs"
)

// DefaultRetention is how many finished export jobs are kept per user.
const DefaultRetention = 100

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithRetention caps the finished jobs kept per user. Zero or less keeps
// every job.
func WithRetention(n int) StoreOption {
	return func(s *Store) {
		s.retention = n
	}
}

// Store is an in-memory JobStore indexed by user. Every recorded transaction
// produces a job, so finished jobs beyond the retention limit are dropped
// oldest first; unfinished jobs are always kept.
type Store struct {
	mu        sync.RWMutex
	jobs      map[string]*jobs.ExportEntryJob
	byUser    map[string][]string // job IDs in first-save order
	retention int
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		jobs:      make(map[string]*jobs.ExportEntryJob),
		byUser:    make(map[string][]string),
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func finished(status jobs.JobStatus) bool {
	return status == jobs.JobStatusCompleted || status == jobs.JobStatusFailed
}

// SaveJob implements jobs.JobStore. The store keeps its own copy.
func (s *Store) SaveJob(ctx context.Context, job *jobs.ExportEntryJob) error {
	if job.JobID == "" {
		return errors.New("SaveJob: job ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; !exists {
		s.byUser[job.UserID] = append(s.byUser[job.UserID], job.JobID)
	}
	stored := *job
	s.jobs[job.JobID] = &stored

	if finished(stored.Status) {
		s.prune(stored.UserID)
	}
	return nil
}

func (s *Store) prune(userID string) {
	if s.retention <= 0 {
		return
	}

	ids := s.byUser[userID]
	excess := -s.retention
	for _, id := range ids {
		if finished(s.jobs[id].Status) {
			excess++
		}
	}
	if excess <= 0 {
		return
	}

	kept := ids[:0]
	for _, id := range ids {
		if excess > 0 && finished(s.jobs[id].Status) {
			delete(s.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.byUser[userID] = kept
}

// GetJob implements jobs.JobStore.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.ExportEntryJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", jobs.ErrJobNotFound, jobID)
	}

	out := *job
	return &out, nil
}

// ListJobs implements jobs.JobStore. Results are ordered newest first, ties
// broken by job ID.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.ExportEntryJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var candidates []*jobs.ExportEntryJob
	if filter.UserID != "" {
		for _, id := range s.byUser[filter.UserID] {
			candidates = append(candidates, s.jobs[id])
		}
	} else {
		for _, job := range s.jobs {
			candidates = append(candidates, job)
		}
	}

	result := []*jobs.ExportEntryJob{}
	for _, job := range candidates {
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		out := *job
		result = append(result, &out)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.ExportEntryJob{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}
	return result, nil
}

var _ jobs.JobStore = (*Store)(nil)
