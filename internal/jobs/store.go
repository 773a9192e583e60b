package jobs

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultCapacity is the number of live jobs a store holds when no capacity is given
	DefaultCapacity = 1024

	cancelledDetail = "cancelled by request"
	unknownError    = "unknown error"
)

// entry is one slot of the arena. The record it points to is immutable.
type entry struct {
	rec atomic.Pointer[Job]
}

// Store is the authoritative in-process mapping from job id to job record.
// Reads are a single atomic load; writes are per-entry compare-and-set, so there is
// no table-wide lock on the polling path.
type Store struct {
	entries  sync.Map // map[string]*entry
	size     atomic.Int64
	capacity int64
	now      func() time.Time
	newID    func() string
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithClock overrides the time source
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithIDGenerator overrides job id generation
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) {
		s.newID = gen
	}
}

// NewStore creates a store that holds at most capacity live jobs
func NewStore(capacity int, opts ...StoreOption) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	s := &Store{
		capacity: int64(capacity),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create inserts a queued job and returns its id
func (s *Store) Create(params Params, input Input) (string, error) {
	if s.size.Add(1) > s.capacity {
		s.size.Add(-1)
		return "", fmt.Errorf("%w: store holds %d jobs", ErrResourceExhausted, s.capacity)
	}

	job := &Job{
		Status: StatusQueued,
		Params: params,
		Input: Input{
			Content: cloneBytes(input.Content),
			Style:   cloneBytes(input.Style),
		},
		CreatedAt: s.now(),
	}

	for {
		job.ID = s.newID()
		e := &entry{}
		e.rec.Store(job)
		if _, loaded := s.entries.LoadOrStore(job.ID, e); !loaded {
			return job.ID, nil
		}
	}
}

// Get returns a snapshot of the job
func (s *Store) Get(id string) (View, error) {
	e, ok := s.load(id)
	if !ok {
		return View{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.rec.Load().View(), nil
}

// Transition atomically moves a job from one status to another and applies the terminal
// payload. It returns the new record. ErrConflict means the job was not in status from.
func (s *Store) Transition(id string, from, to Status, upd Update) (Job, error) {
	if !from.CanTransition(to) {
		return Job{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if to == StatusDone && (upd.Result == nil || len(upd.Result.Data) == 0) {
		return Job{}, fmt.Errorf("%w: done requires a result", ErrInvalidTransition)
	}

	e, ok := s.load(id)
	if !ok {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	for {
		cur := e.rec.Load()
		if cur.Status != from {
			return Job{}, fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, id, cur.Status, from)
		}

		next := s.apply(cur, to, upd)
		if e.rec.CompareAndSwap(cur, next) {
			return *next, nil
		}
	}
}

// apply builds the successor record of cur
func (s *Store) apply(cur *Job, to Status, upd Update) *Job {
	next := *cur
	next.Status = to
	now := s.now()

	switch to {
	case StatusProcessing:
		next.StartedAt = now
	case StatusDone:
		next.Result = upd.Result
		next.ErrorDetail = ""
	case StatusError:
		next.ErrorDetail = upd.ErrorDetail
		if next.ErrorDetail == "" {
			next.ErrorDetail = unknownError
		}
	case StatusCancelled:
		next.ErrorDetail = upd.ErrorDetail
		if next.ErrorDetail == "" {
			next.ErrorDetail = cancelledDetail
		}
	}

	if to.IsTerminal() {
		next.CompletedAt = now
		// Clock skew must not break started_at <= completed_at
		if !next.StartedAt.IsZero() && next.CompletedAt.Before(next.StartedAt) {
			next.CompletedAt = next.StartedAt
		}
		next.Input = Input{}
	}
	return &next
}

// Remove deletes a job regardless of status. Used to roll back a create that could not be scheduled.
func (s *Store) Remove(id string) bool {
	if _, ok := s.entries.LoadAndDelete(id); ok {
		s.size.Add(-1)
		return true
	}
	return false
}

// Evict removes terminal jobs completed before cutoff and returns how many were removed
func (s *Store) Evict(cutoff time.Time) int {
	evicted := 0
	s.entries.Range(func(key, value any) bool {
		job := value.(*entry).rec.Load()
		if job.Status.IsTerminal() && job.CompletedAt.Before(cutoff) {
			if s.Remove(key.(string)) {
				evicted++
			}
		}
		return true
	})
	return evicted
}

// Len returns the number of live jobs
func (s *Store) Len() int {
	return int(s.size.Load())
}

// Capacity returns the maximum number of live jobs
func (s *Store) Capacity() int {
	return int(s.capacity)
}

// Counts returns the number of live jobs per status
func (s *Store) Counts() map[Status]int {
	counts := map[Status]int{
		StatusQueued:     0,
		StatusProcessing: 0,
		StatusDone:       0,
		StatusError:      0,
		StatusCancelled:  0,
	}
	s.entries.Range(func(_, value any) bool {
		counts[value.(*entry).rec.Load().Status]++
		return true
	})
	return counts
}

func (s *Store) load(id string) (*entry, bool) {
	v, ok := s.entries.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
