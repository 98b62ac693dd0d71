// Package taskstore is the in-process registry of workflow tasks. It is the
// single source of truth for status, progress and results; workflows never
// share memory with each other.
package taskstore

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/apperrors"
)

const (
	// DefaultTTL is how long terminal tasks stay queryable.
	DefaultTTL = time.Hour
	// DefaultSweepInterval is the cleanup cadence.
	DefaultSweepInterval = 5 * time.Minute
	// DefaultMaxConcurrent is the soft cap on non-terminal tasks.
	DefaultMaxConcurrent = 20
)

// Store holds tasks for one process lifetime. A background sweeper removes
// expired terminal tasks; Close stops it.
type Store struct {
	mu    sync.Mutex
	tasks map[string]*Task

	ttl           time.Duration
	maxConcurrent int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets terminal-task retention.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxConcurrent sets the non-terminal task cap.
func WithMaxConcurrent(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxConcurrent = n
		}
	}
}

// New creates a store and starts its sweeper with the given interval.
// A non-positive interval disables the sweeper (tests call Cleanup directly).
func New(logger *zap.Logger, sweepInterval time.Duration, opts ...Option) *Store {
	s := &Store{
		tasks:         make(map[string]*Task),
		ttl:           DefaultTTL,
		maxConcurrent: DefaultMaxConcurrent,
		stop:          make(chan struct{}),
		logger:        logger.Named("taskstore"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if sweepInterval > 0 {
		s.wg.Add(1)
		go s.sweep(sweepInterval)
	}
	return s
}

func (s *Store) sweep(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.Cleanup(); n > 0 {
				s.logger.Info("swept expired tasks", zap.Int("count", n))
			}
		}
	}
}

// Close stops the sweeper. Tasks remain readable until the process exits.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Create registers a new pending task. Fails when the non-terminal task
// count has reached the cap.
func (s *Store) Create(taskType string, args map[string]any) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := 0
	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			active++
		}
	}
	if active >= s.maxConcurrent {
		return nil, fmt.Errorf("%w (%d active)", apperrors.ErrTaskLimitReached, active)
	}

	now := time.Now()
	task := &Task{
		ID:        "task_" + uuid.New().String(),
		Type:      taskType,
		Status:    StatusPending,
		Args:      args,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.tasks[task.ID] = task

	s.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("task_type", taskType))

	return task.clone(), nil
}

// Get returns a snapshot of a task.
func (s *Store) Get(id string) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// List returns summaries, optionally filtered by status, newest first.
func (s *Store) List(status Status) []Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Summary, 0, len(s.tasks))
	for _, t := range s.tasks {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// legalTransition enforces the one-way lifecycle
// pending -> working -> {completed | failed | cancelled}.
func legalTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusWorking || to == StatusCancelled || to == StatusFailed
	case StatusWorking:
		return to.IsTerminal()
	default:
		return false
	}
}

// UpdateStatus transitions a task. Illegal transitions, including any write
// to a terminal task, return ErrTaskTerminal.
func (s *Store) UpdateStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateStatusLocked(id, status)
}

func (s *Store) updateStatusLocked(id string, status Status) error {
	t, ok := s.tasks[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !legalTransition(t.Status, status) {
		return fmt.Errorf("%w: %s -> %s", apperrors.ErrTaskTerminal, t.Status, status)
	}
	t.Status = status
	t.UpdatedAt = time.Now()
	if status.IsTerminal() {
		t.ExpiresAt = t.UpdatedAt.Add(s.ttl)
	}
	return nil
}

// UpdateProgress replaces the task's progress record. Writes against
// terminal tasks are silently dropped; progress is a hint.
func (s *Store) UpdateProgress(id string, p Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if t.Status.IsTerminal() {
		return nil
	}
	t.Progress = p
	t.UpdatedAt = time.Now()
	return nil
}

// UpdateSearchProgress mirrors upstream found/analyzed counters into the
// task's progress without disturbing the step fields.
func (s *Store) UpdateSearchProgress(id string, found, analyzed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if t.Status.IsTerminal() {
		return nil
	}
	t.Progress.Found = found
	t.Progress.Analyzed = analyzed
	t.Progress.Message = fmt.Sprintf("found %d, analyzed %d", found, analyzed)
	t.UpdatedAt = time.Now()
	return nil
}

// SetResult stores the final result and completes the task.
func (s *Store) SetResult(id string, result any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateStatusLocked(id, StatusCompleted); err != nil {
		return err
	}
	s.tasks[id].Result = result
	return nil
}

// SetError stores the failure record and fails the task.
func (s *Store) SetError(id string, taskErr *Error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateStatusLocked(id, StatusFailed); err != nil {
		return err
	}
	s.tasks[id].Error = taskErr
	return nil
}

// SetPartialResult checkpoints intermediate state so callers can recover
// manually after a failure or timeout.
func (s *Store) SetPartialResult(id string, partial any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	if t.Status.IsTerminal() {
		return nil
	}
	t.PartialResult = partial
	t.UpdatedAt = time.Now()
	return nil
}

// Cancel is advisory: it flips the status and relies on workflows observing
// it at their checkpoints. Returns false when the task is unknown or already
// terminal.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Status.IsTerminal() {
		return false
	}
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now()
	t.ExpiresAt = t.UpdatedAt.Add(s.ttl)

	s.logger.Info("task cancelled", zap.String("task_id", id))
	return true
}

// Delete removes the record even if live.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return false
	}
	delete(s.tasks, id)
	return true
}

// Cleanup removes expired terminal tasks and returns the removed count.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for id, t := range s.tasks {
		if t.Status.IsTerminal() && now.After(t.ExpiresAt) {
			delete(s.tasks, id)
			removed++
		}
	}
	return removed
}
