package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Persister saves task records. Implementations must be safe for
// concurrent use.
type Persister interface {
	SaveTask(ctx context.Context, t *Task) error
	DeleteTask(ctx context.Context, id string) error
	LoadTasks(ctx context.Context) ([]*Task, error)
}

type entry struct {
	mu             sync.Mutex
	task           *Task
	token          StopToken
	lastCheckpoint time.Time
}

// TaskStore is the authoritative set of tasks. Each task has its own lock;
// the store lock guards membership and the destination index.
type TaskStore struct {
	mu      sync.RWMutex
	entries map[string]*entry
	dests   map[string]string // destination -> id of the unfinished task holding it
	seq     int64

	persister          Persister
	checkpointInterval time.Duration
	notify             func(id string)
	logger             *slog.Logger
	now                func() time.Time
}

// StoreOption configures a TaskStore.
type StoreOption func(*TaskStore)

// WithPersister saves every change through p.
func WithPersister(p Persister) StoreOption {
	return func(s *TaskStore) { s.persister = p }
}

// WithCheckpointInterval throttles progress saves per task.
func WithCheckpointInterval(d time.Duration) StoreOption {
	return func(s *TaskStore) { s.checkpointInterval = d }
}

// WithNotify registers a hook called after each change. It must not block.
func WithNotify(fn func(id string)) StoreOption {
	return func(s *TaskStore) { s.notify = fn }
}

// WithStoreLogger sets the logger.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(s *TaskStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewTaskStore(opts ...StoreOption) *TaskStore {
	s := &TaskStore{
		entries:            make(map[string]*entry),
		dests:              make(map[string]string),
		checkpointInterval: time.Second,
		logger:             slog.Default(),
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TaskStore) entry(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return e, nil
}

// Insert adds a new task. It assigns Seq and CreatedAt and rejects a
// destination still held by an unfinished task.
func (s *TaskStore) Insert(t *Task) (*Task, error) {
	if t.Destination == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidDestination)
	}
	if !t.Priority.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPriority, t.Priority)
	}

	s.mu.Lock()
	if _, exists := s.entries[t.ID]; exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("task %s already exists", t.ID)
	}
	if _, held := s.dests[t.Destination]; held {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDestinationInUse, t.Destination)
	}

	s.seq++
	task := t.Clone()
	task.Seq = s.seq
	task.State = StateQueued
	task.CreatedAt = s.now()
	task.Progress.ETASeconds = -1
	e := &entry{task: task}
	s.entries[task.ID] = e
	s.dests[task.Destination] = task.ID
	s.mu.Unlock()

	s.save(e)
	s.changed(task.ID)
	return task.Clone(), nil
}

// Get returns a copy of the task.
func (s *TaskStore) Get(id string) (*Task, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.task.Clone(), nil
}

// List returns copies of all tasks in submission order.
func (s *TaskStore) List() []*Task {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	tasks := make([]*Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		tasks = append(tasks, e.task.Clone())
		e.mu.Unlock()
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return tasks
}

// Update applies fn to a copy of the task under the task's lock, checks
// the result and commits it. fn returning an error aborts the update.
func (s *TaskStore) Update(id string, fn func(t *Task) error) (*Task, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	old := e.task
	next := old.Clone()
	if err := fn(next); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if err := s.check(old, next); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	s.stamp(old, next)
	e.task = next
	e.lastCheckpoint = s.now()
	s.saveLocked(e)
	out := next.Clone()
	e.mu.Unlock()

	if old.State != next.State {
		if next.State.Finished() {
			s.release(next.Destination, id)
		}
		s.logger.Info("task state changed", "id", id, "from", old.State.String(), "to", next.State.String())
	}
	s.changed(id)
	return out, nil
}

func (s *TaskStore) check(old, next *Task) error {
	if next.ID != old.ID || next.URL != old.URL || next.Destination != old.Destination ||
		next.Seq != old.Seq || !next.CreatedAt.Equal(old.CreatedAt) {
		return fmt.Errorf("task %s: immutable field changed", old.ID)
	}
	if next.State != old.State && !CanTransition(old.State, next.State) {
		return &TransitionError{ID: old.ID, From: old.State, To: next.State}
	}
	if next.Priority != old.Priority {
		if !next.Priority.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidPriority, next.Priority)
		}
		if old.State != StateQueued {
			return fmt.Errorf("task %s: priority can only change while queued, task is %s", old.ID, old.State)
		}
	}
	if err := checkProgress(next.Progress); err != nil {
		return fmt.Errorf("task %s: %w", old.ID, err)
	}
	if next.Retries < 0 {
		return fmt.Errorf("task %s: negative retry count", old.ID)
	}
	return nil
}

func checkProgress(p Progress) error {
	if p.DownloadedBytes < 0 {
		return fmt.Errorf("negative byte count %d", p.DownloadedBytes)
	}
	if p.TotalBytes > 0 && p.DownloadedBytes > p.TotalBytes {
		return fmt.Errorf("downloaded %d exceeds total %d", p.DownloadedBytes, p.TotalBytes)
	}
	return nil
}

// stamp maintains timestamps and clears the error outside Failed.
func (s *TaskStore) stamp(old, next *Task) {
	if next.State == old.State {
		if next.State != StateFailed {
			next.Error, next.ErrorKind = "", ""
		}
		return
	}

	now := s.now()
	switch next.State {
	case StateDownloading:
		if next.StartedAt == nil {
			next.StartedAt = &now
		}
	case StateCompleted, StateCancelled, StateFailed:
		next.CompletedAt = &now
	case StateQueued:
		if old.State == StateFailed {
			next.CompletedAt = nil
		}
	}
	if next.State != StateFailed {
		next.Error, next.ErrorKind = "", ""
	}
}

// UpdateProgress records transfer progress of a Downloading task. Saves
// are throttled to the checkpoint interval.
func (s *TaskStore) UpdateProgress(id string, p Progress) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.task.State != StateDownloading {
		e.mu.Unlock()
		return &TransitionError{ID: id, From: e.task.State, To: StateDownloading}
	}
	if err := checkProgress(p); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("task %s: %w", id, err)
	}
	e.task.Progress = p
	if now := s.now(); now.Sub(e.lastCheckpoint) >= s.checkpointInterval {
		e.lastCheckpoint = now
		s.saveLocked(e)
	}
	e.mu.Unlock()

	s.changed(id)
	return nil
}

// SetResume records what the transfer response said about ranges and size.
func (s *TaskStore) SetResume(id string, supportsResume bool, total int64) error {
	_, err := s.Update(id, func(t *Task) error {
		t.SupportsResume = supportsResume
		if total > 0 {
			t.Progress.TotalBytes = total
		}
		return nil
	})
	return err
}

// Checkpoint saves the task now.
func (s *TaskStore) Checkpoint(id string) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.lastCheckpoint = s.now()
	s.saveLocked(e)
	e.mu.Unlock()
	return nil
}

// Delete removes a finished task.
func (s *TaskStore) Delete(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	e.mu.Lock()
	state, dest := e.task.State, e.task.Destination
	e.mu.Unlock()
	if !state.Finished() {
		s.mu.Unlock()
		return fmt.Errorf("task %s: cannot delete a %s task", id, state)
	}
	delete(s.entries, id)
	if s.dests[dest] == id {
		delete(s.dests, dest)
	}
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.DeleteTask(context.Background(), id); err != nil {
			s.logger.Warn("failed to delete task record", "id", id, "error", err)
		}
	}
	s.changed(id)
	return nil
}

// Token returns the stop token of id.
func (s *TaskStore) Token(id string) (*StopToken, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	return &e.token, nil
}

// Restore loads saved tasks. Tasks left Downloading by an earlier process
// become Queued, or Paused / Cancelled when that stop had been requested.
func (s *TaskStore) Restore(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	tasks, err := s.persister.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	var demoted []*entry
	s.mu.Lock()
	for _, t := range tasks {
		if _, exists := s.entries[t.ID]; exists {
			continue
		}
		t.Progress.Speed = 0
		t.Progress.ETASeconds = -1
		e := &entry{task: t}
		if t.State == StateDownloading {
			switch t.StopRequest {
			case StopRequestPause:
				t.State = StatePaused
			case StopRequestCancel:
				t.State = StateCancelled
				now := s.now()
				t.CompletedAt = &now
			default:
				t.State = StateQueued
			}
			t.StopRequest = StopRequestNone
			demoted = append(demoted, e)
		}
		s.entries[t.ID] = e
		if !t.State.Finished() {
			s.dests[t.Destination] = t.ID
		}
		if t.Seq > s.seq {
			s.seq = t.Seq
		}
	}
	s.mu.Unlock()

	for _, e := range demoted {
		s.save(e)
		s.logger.Info("task demoted after restart", "id", e.task.ID, "state", e.task.State.String())
	}
	s.logger.Info("tasks restored", "count", len(tasks), "demoted", len(demoted))
	return nil
}

// Stats summarises all tasks.
func (s *TaskStore) Stats() QueueStats {
	var st QueueStats
	for _, t := range s.List() {
		st.Total++
		switch t.State {
		case StateQueued:
			st.Queued++
		case StateDownloading:
			st.Downloading++
			st.Speed += t.Progress.Speed
		case StatePaused:
			st.Paused++
		case StateCompleted:
			st.Completed++
		case StateFailed:
			st.Failed++
		case StateCancelled:
			st.Cancelled++
		}
		if t.State != StateCancelled {
			st.DownloadedBytes += t.Progress.DownloadedBytes
			st.TotalBytes += t.Progress.TotalBytes
		}
	}
	if st.TotalBytes > 0 {
		st.Percent = float64(st.DownloadedBytes) / float64(st.TotalBytes) * 100
	}
	return st
}

// release frees dest if id still holds it.
func (s *TaskStore) release(dest, id string) {
	s.mu.Lock()
	if s.dests[dest] == id {
		delete(s.dests, dest)
	}
	s.mu.Unlock()
}

func (s *TaskStore) save(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s.saveLocked(e)
}

func (s *TaskStore) saveLocked(e *entry) {
	if s.persister == nil {
		return
	}
	if err := s.persister.SaveTask(context.Background(), e.task); err != nil {
		s.logger.Warn("failed to save task", "id", e.task.ID, "error", err)
	}
}

func (s *TaskStore) changed(id string) {
	if s.notify != nil {
		s.notify(id)
	}
}
