package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/google/uuid"

	"launcher-go/internal/source"
	"launcher-go/internal/transport"
)

var errNotQueued = errors.New("task left the ready set")

// Scheduler owns the ready set and drives workers within the governor's
// bounds. Commands and settlements are serialised by its mutex; the lock
// order is scheduler, then task.
type Scheduler struct {
	mu      sync.Mutex
	cfg     Config
	running map[string]*StopToken
	started bool
	closed  bool

	store    *TaskStore
	queue    *Queue
	gov      *Governor
	retry    *RetryPolicy
	reporter *ProgressReporter
	verifier *ChecksumVerifier
	worker   *Worker
	fs       billy.Filesystem
	client   *transport.Client
	logger   *slog.Logger
	newID    func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	loops  sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithFilesystem sets where destinations are written. The default is the
// host filesystem.
func WithFilesystem(fs billy.Filesystem) Option {
	return func(s *Scheduler) { s.fs = fs }
}

// WithClient sets the transfer client.
func WithClient(c *transport.Client) Option {
	return func(s *Scheduler) { s.client = c }
}

// WithStore uses an existing store, typically one with a persister.
func WithStore(store *TaskStore) Option {
	return func(s *Scheduler) { s.store = store }
}

// WithIDGenerator replaces the UUID task IDs.
func WithIDGenerator(fn func() string) Option {
	return func(s *Scheduler) { s.newID = fn }
}

func NewScheduler(cfg *Config, opts ...Option) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Scheduler{
		cfg:     *cfg,
		running: make(map[string]*StopToken),
		queue:   NewQueue(),
		logger:  slog.Default(),
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.cfg.ChunkSize <= 0 {
		s.cfg.ChunkSize = 32 * 1024
	}
	if s.fs == nil {
		s.fs = osfs.New("/")
	}
	if s.client == nil {
		topts := transport.TransferOptions()
		if s.cfg.UserAgent != "" {
			topts.UserAgent = s.cfg.UserAgent
		}
		topts.Logger = s.logger
		s.client = transport.NewClient(topts)
	}
	if s.store == nil {
		s.store = NewTaskStore(WithCheckpointInterval(s.cfg.CheckpointInterval), WithStoreLogger(s.logger))
	}

	s.reporter = NewProgressReporter(s.store.Stats)
	s.store.notify = s.reporter.Notify
	s.gov = NewGovernor(s.cfg.ParallelDownloads, s.cfg.SpeedLimit, s.cfg.ChunkSize)
	s.cfg.ParallelDownloads = s.gov.Capacity()
	s.retry = NewRetryPolicy(s.cfg.MaxRetries)
	s.verifier = NewChecksumVerifier(s.fs)
	s.worker = &Worker{
		client:    s.client,
		fs:        s.fs,
		gov:       s.gov,
		store:     s.store,
		reporter:  s.reporter,
		verifier:  s.verifier,
		chunkSize: s.cfg.ChunkSize,
		logger:    s.logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start restores saved tasks, queues the runnable ones and begins
// dispatching. Cancelling ctx has the same effect as Close.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.store.Restore(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	if s.started {
		return nil
	}
	s.started = true

	for _, t := range s.store.List() {
		if t.State == StateQueued {
			s.queue.Add(t.ID, t.Priority, t.Seq)
		}
	}

	s.loops.Add(2)
	go func() {
		defer s.loops.Done()
		s.reporter.Run(s.ctx)
	}()
	go func() {
		defer s.loops.Done()
		s.processQueue()
	}()
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.ctx.Done():
		}
	}()

	s.dispatchLocked()
	return nil
}

// Close stops dispatching and interrupts running transfers. Their tasks
// stay Downloading with a final checkpoint and are requeued on the next
// Start.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, token := range s.running {
		token.Signal(StopShutdown)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
	s.loops.Wait()
	s.logger.Info("scheduler stopped")
}

// processQueue is a safety net for dispatch; every command and settlement
// dispatches directly.
func (s *Scheduler) processQueue() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.dispatchLocked()
			s.mu.Unlock()
		}
	}
}

// SubmitOption adjusts a submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	destination    string
	destinationSet bool
	checksum       string
	metadata       map[string]string
}

// WithDestination sets the output path. Relative paths are joined to the
// download directory.
func WithDestination(path string) SubmitOption {
	return func(o *submitOptions) {
		o.destination = path
		o.destinationSet = true
	}
}

// WithChecksum sets the expected digest, "algo:hex" or bare hex.
func WithChecksum(sum string) SubmitOption {
	return func(o *submitOptions) { o.checksum = sum }
}

// WithMetadata attaches caller annotations.
func WithMetadata(md map[string]string) SubmitOption {
	return func(o *submitOptions) { o.metadata = md }
}

// Submit records a new Queued task for desc and returns its ID.
func (s *Scheduler) Submit(desc source.Descriptor, priority Priority, opts ...SubmitOption) (string, error) {
	if desc == nil || desc.URL() == "" {
		return "", fmt.Errorf("submit: descriptor has no URL")
	}
	if !priority.Valid() {
		return "", fmt.Errorf("submit: %w: %d", ErrInvalidPriority, priority)
	}

	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	dest, err := s.destination(desc, o)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	if o.checksum != "" {
		if _, _, err := ParseChecksum(o.checksum); err != nil {
			return "", fmt.Errorf("submit: %w", err)
		}
	}

	task := &Task{
		ID:               s.newID(),
		URL:              desc.URL(),
		Destination:      dest,
		FileName:         filepath.Base(dest),
		SourceKind:       string(desc.Kind()),
		Provider:         desc.Provider(),
		Priority:         priority,
		ExpectedChecksum: o.checksum,
		SupportsResume:   desc.ResumeHint(),
		Metadata:         o.metadata,
		Progress:         Progress{TotalBytes: desc.Size(), ETASeconds: -1},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrSchedulerClosed
	}

	inserted, err := s.store.Insert(task)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	s.queue.Add(inserted.ID, inserted.Priority, inserted.Seq)
	s.logger.Info("task submitted", "id", inserted.ID, "url", inserted.URL, "destination", inserted.Destination, "priority", priority.String())

	s.dispatchLocked()
	return inserted.ID, nil
}

func (s *Scheduler) destination(desc source.Descriptor, o submitOptions) (string, error) {
	dest := desc.FileName()
	if o.destinationSet {
		dest = strings.TrimSpace(o.destination)
		if dest == "" {
			return "", fmt.Errorf("%w: empty path", ErrInvalidDestination)
		}
	} else if s.cfg.DownloadDir == "" {
		return "", fmt.Errorf("%w: no download directory configured", ErrInvalidDestination)
	}

	if !filepath.IsAbs(dest) {
		dest = filepath.Join(s.cfg.DownloadDir, dest)
	}
	dest = filepath.Clean(dest)
	if strings.HasSuffix(dest, string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidDestination, dest)
	}
	return dest, nil
}

// dispatchLocked starts queued tasks while slots are free.
func (s *Scheduler) dispatchLocked() {
	if !s.started || s.closed {
		return
	}

	for s.queue.Len() > 0 {
		if !s.gov.TryAcquire() {
			return
		}
		id, _ := s.queue.Next()

		task, err := s.store.Update(id, func(t *Task) error {
			if t.State != StateQueued {
				return errNotQueued
			}
			t.State = StateDownloading
			t.StopRequest = StopRequestNone
			t.Progress.Speed = 0
			t.Progress.ETASeconds = -1
			return nil
		})
		if err != nil {
			s.gov.Release()
			s.logger.Debug("skipping stale queue entry", "id", id, "error", err)
			continue
		}

		token, err := s.store.Token(id)
		if err != nil {
			s.gov.Release()
			continue
		}
		ctx := token.Arm(s.ctx)
		s.running[id] = token

		s.wg.Add(1)
		go s.execute(ctx, task, token)
	}
}

func (s *Scheduler) execute(ctx context.Context, t *Task, token *StopToken) {
	defer s.wg.Done()

	s.logger.Debug("transfer started", "id", t.ID, "url", t.URL, "offset", t.Progress.DownloadedBytes)
	err := s.worker.Run(ctx, t, token)
	s.settle(t.ID, token, err)
}

// settle records the outcome of a worker run.
func (s *Scheduler) settle(id string, token *StopToken, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reason := token.Reason()
	token.Disarm()
	delete(s.running, id)
	s.gov.Release()
	s.reporter.Forget(id)

	var err error
	switch {
	case runErr == nil:
		_, err = s.store.Update(id, func(t *Task) error {
			t.State = StateCompleted
			if t.Progress.TotalBytes == 0 {
				t.Progress.TotalBytes = t.Progress.DownloadedBytes
			}
			t.Progress.Percent = 100
			t.Progress.Speed = 0
			t.Progress.ETASeconds = 0
			t.StopRequest = StopRequestNone
			return nil
		})
	case reason == StopCancel:
		var t *Task
		t, err = s.store.Update(id, func(t *Task) error {
			t.State = StateCancelled
			t.Progress.Speed = 0
			t.Progress.ETASeconds = -1
			t.StopRequest = StopRequestNone
			return nil
		})
		if err == nil {
			s.cleanup(t)
		}
	case reason == StopPause:
		_, err = s.store.Update(id, func(t *Task) error {
			t.State = StatePaused
			t.Progress.Speed = 0
			t.Progress.ETASeconds = -1
			t.StopRequest = StopRequestNone
			return nil
		})
	case reason == StopShutdown:
		err = s.store.Checkpoint(id)
	default:
		var d Decision
		_, err = s.store.Update(id, func(t *Task) error {
			d = s.retry.Apply(t, runErr)
			return nil
		})
		if err == nil {
			if d.Requeue {
				t, _ := s.store.Get(id)
				s.queue.Add(id, t.Priority, t.Seq)
				s.logger.Warn("transfer failed, requeued", "id", id, "kind", string(d.Kind), "retries", t.Retries, "error", runErr)
			} else {
				s.logger.Warn("transfer failed", "id", id, "kind", string(d.Kind), "error", runErr)
			}
		}
	}
	if err != nil {
		s.logger.Error("failed to settle task", "id", id, "error", err)
	}

	s.dispatchLocked()
}

// cleanup removes a partial file that cannot be resumed. A task that never
// started owns nothing at its destination.
func (s *Scheduler) cleanup(t *Task) {
	if t.SupportsResume || t.StartedAt == nil {
		return
	}
	if err := s.fs.Remove(t.Destination); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to remove partial file", "id", t.ID, "path", t.Destination, "error", err)
	}
}

// Pause stops a Downloading task at its next chunk boundary, or parks a
// Queued one.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseLocked(id)
}

func (s *Scheduler) pauseLocked(id string) error {
	t, err := s.store.Get(id)
	if err != nil {
		return err
	}

	switch t.State {
	case StateQueued:
		s.queue.Remove(id)
		_, err = s.store.Update(id, func(t *Task) error {
			t.State = StatePaused
			return nil
		})
		return err
	case StateDownloading:
		token, ok := s.running[id]
		if !ok {
			return &TransitionError{ID: id, From: t.State, To: StatePaused}
		}
		token.Signal(StopPause)
		_, err = s.store.Update(id, func(t *Task) error {
			if t.StopRequest != StopRequestCancel {
				t.StopRequest = StopRequestPause
			}
			return nil
		})
		return err
	default:
		return &TransitionError{ID: id, From: t.State, To: StatePaused}
	}
}

// Resume requeues a Paused task.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requeueLocked(id, StatePaused, false); err != nil {
		return err
	}
	s.dispatchLocked()
	return nil
}

// Retry requeues a Failed task with a fresh retry budget. Bytes already
// on disk are kept.
func (s *Scheduler) Retry(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requeueLocked(id, StateFailed, true); err != nil {
		return err
	}
	s.dispatchLocked()
	return nil
}

func (s *Scheduler) requeueLocked(id string, from State, resetRetries bool) error {
	t, err := s.store.Update(id, func(t *Task) error {
		if t.State != from {
			return &TransitionError{ID: id, From: t.State, To: StateQueued}
		}
		t.State = StateQueued
		t.Progress.ETASeconds = -1
		if resetRetries {
			t.Retries = 0
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.queue.Add(t.ID, t.Priority, t.Seq)
	return nil
}

// Cancel ends a task. A Downloading task stops at its next chunk boundary.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(id)
}

func (s *Scheduler) cancelLocked(id string) error {
	t, err := s.store.Get(id)
	if err != nil {
		return err
	}

	switch t.State {
	case StateQueued, StatePaused:
		s.queue.Remove(id)
		t, err = s.store.Update(id, func(t *Task) error {
			t.State = StateCancelled
			t.Progress.ETASeconds = -1
			return nil
		})
		if err != nil {
			return err
		}
		s.cleanup(t)
		return nil
	case StateDownloading:
		token, ok := s.running[id]
		if !ok {
			return &TransitionError{ID: id, From: t.State, To: StateCancelled}
		}
		token.Signal(StopCancel)
		_, err = s.store.Update(id, func(t *Task) error {
			t.StopRequest = StopRequestCancel
			return nil
		})
		return err
	default:
		return &TransitionError{ID: id, From: t.State, To: StateCancelled}
	}
}

// SetPriority changes the priority of a Queued task and repositions it.
func (s *Scheduler) SetPriority(id string, p Priority) error {
	if !p.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPriority, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.Update(id, func(t *Task) error {
		if t.State != StateQueued {
			return fmt.Errorf("task %s is %s: priority can only change while queued", id, t.State)
		}
		t.Priority = p
		return nil
	})
	if err != nil {
		return err
	}
	s.queue.SetPriority(id, p)
	return nil
}

// PauseAll pauses every Downloading and Queued task and returns how many
// were affected.
func (s *Scheduler) PauseAll() int {
	return s.each(func(t *Task) bool {
		return t.State == StateDownloading || t.State == StateQueued
	}, s.pauseLocked)
}

// ResumeAll requeues every Paused task.
func (s *Scheduler) ResumeAll() int {
	n := s.each(func(t *Task) bool { return t.State == StatePaused }, func(id string) error {
		return s.requeueLocked(id, StatePaused, false)
	})
	s.mu.Lock()
	s.dispatchLocked()
	s.mu.Unlock()
	return n
}

// CancelAll cancels every Downloading and Queued task.
func (s *Scheduler) CancelAll() int {
	return s.each(func(t *Task) bool {
		return t.State == StateDownloading || t.State == StateQueued
	}, s.cancelLocked)
}

// RetryFailed requeues every Failed task.
func (s *Scheduler) RetryFailed() int {
	n := s.each(func(t *Task) bool { return t.State == StateFailed }, func(id string) error {
		return s.requeueLocked(id, StateFailed, true)
	})
	s.mu.Lock()
	s.dispatchLocked()
	s.mu.Unlock()
	return n
}

// ClearFinished removes Completed and Cancelled tasks.
func (s *Scheduler) ClearFinished() int {
	return s.each(func(t *Task) bool { return t.State.Finished() }, s.store.Delete)
}

// each applies fn to the tasks selected by match, in submission order,
// and counts the successes.
func (s *Scheduler) each(match func(*Task) bool, fn func(id string) error) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.store.List() {
		if !match(t) {
			continue
		}
		if err := fn(t.ID); err != nil {
			s.logger.Debug("bulk command skipped task", "id", t.ID, "error", err)
			continue
		}
		n++
	}
	return n
}

// CompletedPath returns the destination of a Completed task whose file
// still exists.
func (s *Scheduler) CompletedPath(id string) (string, error) {
	t, err := s.store.Get(id)
	if err != nil {
		return "", err
	}
	if t.State != StateCompleted {
		return "", fmt.Errorf("%w: %s is %s", ErrNotCompleted, id, t.State)
	}
	if _, err := s.fs.Stat(t.Destination); err != nil {
		return "", fmt.Errorf("stat %s: %w", t.Destination, err)
	}
	return t.Destination, nil
}

// CalculateChecksum hashes the file of a Completed task. It does not
// change the task.
func (s *Scheduler) CalculateChecksum(id, algo string) (string, error) {
	path, err := s.CompletedPath(id)
	if err != nil {
		return "", err
	}
	return s.verifier.Compute(path, algo)
}

// Get returns a copy of a task.
func (s *Scheduler) Get(id string) (*Task, error) {
	return s.store.Get(id)
}

// List returns copies of all tasks in submission order.
func (s *Scheduler) List() []*Task {
	return s.store.List()
}

// Queued returns the ready set in dispatch order.
func (s *Scheduler) Queued() []string {
	return s.queue.GetAll()
}

// Stats computes queue totals now.
func (s *Scheduler) Stats() QueueStats {
	return s.store.Stats()
}

// Subscribe streams task and queue events.
func (s *Scheduler) Subscribe(buffer int) (<-chan Event, func()) {
	return s.reporter.Subscribe(buffer)
}

// SetParallelDownloads changes the slot bound and returns the applied
// value. Lowering it lets running transfers finish.
func (s *Scheduler) SetParallelDownloads(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := s.gov.SetCapacity(n)
	s.cfg.ParallelDownloads = applied
	s.logger.Info("parallel downloads changed", "value", applied)
	s.dispatchLocked()
	return applied
}

// SetSpeedLimit changes the aggregate limit in bytes per second, 0 for
// unlimited.
func (s *Scheduler) SetSpeedLimit(bytesPerSecond int64) {
	s.gov.SetSpeedLimit(bytesPerSecond)
	s.mu.Lock()
	s.cfg.SpeedLimit = s.gov.SpeedLimit()
	s.mu.Unlock()
}

// SetMaxRetries changes the automatic retry budget.
// SetMaxRetries changes the cap. Unfinished tasks already past a lowered
// cap are clamped to it.
func (s *Scheduler) SetMaxRetries(n int) {
	s.retry.SetMaxRetries(n)
	limit := s.retry.MaxRetries()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.MaxRetries = limit
	for _, t := range s.store.List() {
		if t.State.Finished() || t.Retries <= limit {
			continue
		}
		_, err := s.store.Update(t.ID, func(t *Task) error {
			t.Retries = min(t.Retries, limit)
			return nil
		})
		if err != nil {
			s.logger.Warn("failed to clamp retries", "id", t.ID, "error", err)
		}
	}
}

// Config returns the live settings.
func (s *Scheduler) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}
