package jobs

import (
	"errors"
	"sort"
	"sync"
)

// ErrJobExists is returned when creating a job whose ID is already taken.
var ErrJobExists = errors.New("job already exists")

// Store is a thread-safe in-memory mapping from job ID to job record.
// Every read and write goes through the store's lock; callers receive
// copies and never hold a reference into the map. Critical sections stay
// short: no blocking I/O ever happens under the lock.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{jobs: make(map[string]*Job)}
}

// Create registers a new job record. Exactly one record may exist per ID.
func (s *Store) Create(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrJobExists
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// Get returns a self-consistent snapshot of one job.
func (s *Store) Get(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return snapshot(job), true
}

// List returns compact summaries of all jobs, newest first.
func (s *Store) List() []JobSummary {
	s.mu.RLock()
	out := make([]JobSummary, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, JobSummary{
			ID:      job.ID,
			Kind:    job.Kind,
			Status:  job.Status,
			Created: job.Created,
			Error:   job.Error,
		})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Created.Equal(out[j].Created) {
			return out[i].Created.After(out[j].Created)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// Update applies fn to the job record under the store lock and reports
// whether the job existed. fn must be quick and must never block; status
// regressions and mutation of terminal records (other than the finish
// timestamp) are the caller's contract.
func (s *Store) Update(id string, fn func(*Job)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	fn(job)
	return true
}

// snapshot deep-copies the mutable slices so a polling reader never
// observes a partially written record.
func snapshot(job *Job) Job {
	cp := *job
	if job.Pages != nil {
		cp.Pages = make([]PageResult, len(job.Pages))
		copy(cp.Pages, job.Pages)
	}
	if job.Prospects != nil {
		cp.Prospects = make([]ProspectResult, len(job.Prospects))
		copy(cp.Prospects, job.Prospects)
	}
	return cp
}
