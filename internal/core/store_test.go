package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryPersister keeps saved tasks in a map.
type memoryPersister struct {
	mu    sync.Mutex
	tasks map[string]*Task
	saves int
}

func newMemoryPersister(tasks ...*Task) *memoryPersister {
	p := &memoryPersister{tasks: make(map[string]*Task)}
	for _, t := range tasks {
		p.tasks[t.ID] = t.Clone()
	}
	return p
}

func (p *memoryPersister) SaveTask(_ context.Context, t *Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks[t.ID] = t.Clone()
	p.saves++
	return nil
}

func (p *memoryPersister) DeleteTask(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tasks, id)
	return nil
}

func (p *memoryPersister) LoadTasks(context.Context) ([]*Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Task, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, t.Clone())
	}
	return out, nil
}

func (p *memoryPersister) get(id string) *Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t, ok := p.tasks[id]; ok {
		return t.Clone()
	}
	return nil
}

func newTask(id, dest string) *Task {
	return &Task{ID: id, URL: "https://example.com/" + id, Destination: dest, Priority: PriorityNormal}
}

func TestTaskStoreInsert(t *testing.T) {
	p := newMemoryPersister()
	s := NewTaskStore(WithPersister(p))

	a, err := s.Insert(newTask("a", "/dl/a.bin"))
	require.NoError(t, err)
	assert.Equal(t, StateQueued, a.State)
	assert.Equal(t, int64(1), a.Seq)
	assert.False(t, a.CreatedAt.IsZero())
	assert.NotNil(t, p.get("a"))

	b, err := s.Insert(newTask("b", "/dl/b.bin"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Seq)

	_, err = s.Insert(newTask("c", "/dl/a.bin"))
	assert.ErrorIs(t, err, ErrDestinationInUse)

	_, err = s.Insert(newTask("a", "/dl/other.bin"))
	assert.Error(t, err)

	bad := newTask("d", "/dl/d.bin")
	bad.Priority = 3
	_, err = s.Insert(bad)
	assert.ErrorIs(t, err, ErrInvalidPriority)

	_, err = s.Insert(newTask("e", ""))
	assert.ErrorIs(t, err, ErrInvalidDestination)
}

func TestTaskStoreReleasesFinishedDestinations(t *testing.T) {
	s := NewTaskStore()
	_, err := s.Insert(newTask("a", "/dl/a.bin"))
	require.NoError(t, err)

	_, err = s.Update("a", func(t *Task) error {
		t.State = StateCancelled
		return nil
	})
	require.NoError(t, err)

	_, err = s.Insert(newTask("b", "/dl/a.bin"))
	assert.NoError(t, err)
}

func TestTaskStoreDestinationIndex(t *testing.T) {
	p := newMemoryPersister(
		&Task{ID: "old", Destination: "/dl/old.bin", Priority: PriorityNormal, State: StateQueued, Seq: 1},
		&Task{ID: "done", Destination: "/dl/done.bin", Priority: PriorityNormal, State: StateCompleted, Seq: 2},
	)
	s := NewTaskStore(WithPersister(p))
	require.NoError(t, s.Restore(context.Background()))

	_, err := s.Insert(newTask("a", "/dl/old.bin"))
	assert.ErrorIs(t, err, ErrDestinationInUse, "restored queued tasks hold their destination")
	_, err = s.Insert(newTask("b", "/dl/done.bin"))
	assert.NoError(t, err, "restored completed tasks do not")

	_, err = s.Update("old", func(t *Task) error {
		t.State = StateDownloading
		return nil
	})
	require.NoError(t, err)
	_, err = s.Update("old", func(t *Task) error {
		t.State = StateFailed
		return nil
	})
	require.NoError(t, err)
	_, err = s.Insert(newTask("c", "/dl/old.bin"))
	assert.ErrorIs(t, err, ErrDestinationInUse, "failed tasks keep their destination")

	_, err = s.Update("b", func(t *Task) error {
		t.State = StateCancelled
		return nil
	})
	require.NoError(t, err)
	_, err = s.Insert(newTask("d", "/dl/done.bin"))
	require.NoError(t, err)
	require.NoError(t, s.Delete("b"))
	_, err = s.Insert(newTask("e", "/dl/done.bin"))
	assert.ErrorIs(t, err, ErrDestinationInUse, "deleting the cancelled task leaves the new holder indexed")
}

func TestTaskStoreUpdateValidates(t *testing.T) {
	s := NewTaskStore()
	_, err := s.Insert(newTask("a", "/dl/a.bin"))
	require.NoError(t, err)

	_, err = s.Update("a", func(t *Task) error {
		t.State = StateCompleted
		return nil
	})
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StateQueued, te.From)

	_, err = s.Update("a", func(t *Task) error {
		t.URL = "https://elsewhere"
		return nil
	})
	assert.Error(t, err)

	_, err = s.Update("a", func(t *Task) error {
		t.Progress = Progress{DownloadedBytes: 20, TotalBytes: 10}
		return nil
	})
	assert.Error(t, err)

	sentinel := errors.New("abort")
	_, err = s.Update("a", func(t *Task) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)

	_, err = s.Update("missing", func(t *Task) error { return nil })
	assert.ErrorIs(t, err, ErrTaskNotFound)

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, got.State, "rejected updates leave the task untouched")
}

func TestTaskStorePriorityOnlyWhileQueued(t *testing.T) {
	s := NewTaskStore()
	_, err := s.Insert(newTask("a", "/dl/a.bin"))
	require.NoError(t, err)

	_, err = s.Update("a", func(t *Task) error {
		t.Priority = PriorityCritical
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update("a", func(t *Task) error {
		t.State = StateDownloading
		return nil
	})
	require.NoError(t, err)

	_, err = s.Update("a", func(t *Task) error {
		t.Priority = PriorityLow
		return nil
	})
	assert.Error(t, err)
}

func TestTaskStoreTimestamps(t *testing.T) {
	s := NewTaskStore()
	_, err := s.Insert(newTask("a", "/dl/a.bin"))
	require.NoError(t, err)

	set := func(st State) *Task {
		task, err := s.Update("a", func(t *Task) error {
			t.State = st
			if st == StateFailed {
				t.Error = "boom"
			}
			return nil
		})
		require.NoError(t, err)
		return task
	}

	task := set(StateDownloading)
	require.NotNil(t, task.StartedAt)
	started := *task.StartedAt

	task = set(StateFailed)
	assert.NotNil(t, task.CompletedAt)
	assert.Equal(t, "boom", task.Error)

	task = set(StateQueued)
	assert.Nil(t, task.CompletedAt)
	assert.Empty(t, task.Error)

	task = set(StateDownloading)
	assert.True(t, started.Equal(*task.StartedAt), "StartedAt records the first start")
}

func TestTaskStoreProgressCheckpoints(t *testing.T) {
	p := newMemoryPersister()
	s := NewTaskStore(WithPersister(p), WithCheckpointInterval(time.Hour))
	_, err := s.Insert(newTask("a", "/dl/a.bin"))
	require.NoError(t, err)

	err = s.UpdateProgress("a", Progress{DownloadedBytes: 10, TotalBytes: 100})
	var te *TransitionError
	assert.ErrorAs(t, err, &te, "progress needs a Downloading task")

	_, err = s.Update("a", func(t *Task) error {
		t.State = StateDownloading
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.UpdateProgress("a", Progress{DownloadedBytes: 10, TotalBytes: 100}))
	require.NoError(t, s.UpdateProgress("a", Progress{DownloadedBytes: 20, TotalBytes: 100}))

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.Progress.DownloadedBytes)
	assert.Zero(t, p.get("a").Progress.DownloadedBytes, "saves are throttled")

	require.NoError(t, s.Checkpoint("a"))
	assert.Equal(t, int64(20), p.get("a").Progress.DownloadedBytes)
}

func TestTaskStoreDelete(t *testing.T) {
	p := newMemoryPersister()
	s := NewTaskStore(WithPersister(p))
	_, err := s.Insert(newTask("a", "/dl/a.bin"))
	require.NoError(t, err)

	assert.Error(t, s.Delete("a"), "unfinished tasks stay")

	_, err = s.Update("a", func(t *Task) error {
		t.State = StateCancelled
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Delete("a"))

	_, err = s.Get("a")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.Nil(t, p.get("a"))
}

func TestTaskStoreRestoreDemotesDownloading(t *testing.T) {
	p := newMemoryPersister(
		&Task{ID: "run", Destination: "/dl/run", Priority: PriorityNormal, State: StateDownloading, Seq: 1,
			Progress: Progress{DownloadedBytes: 50, TotalBytes: 100, Speed: 99, ETASeconds: 1}},
		&Task{ID: "pausing", Destination: "/dl/pausing", Priority: PriorityNormal, State: StateDownloading, Seq: 2, StopRequest: StopRequestPause},
		&Task{ID: "cancelling", Destination: "/dl/cancelling", Priority: PriorityNormal, State: StateDownloading, Seq: 3, StopRequest: StopRequestCancel},
		&Task{ID: "done", Destination: "/dl/done", Priority: PriorityNormal, State: StateCompleted, Seq: 7},
	)
	s := NewTaskStore(WithPersister(p))
	require.NoError(t, s.Restore(context.Background()))

	run, err := s.Get("run")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, run.State)
	assert.Equal(t, int64(50), run.Progress.DownloadedBytes)
	assert.Zero(t, run.Progress.Speed)
	assert.Equal(t, int64(-1), run.Progress.ETASeconds)

	pausing, err := s.Get("pausing")
	require.NoError(t, err)
	assert.Equal(t, StatePaused, pausing.State)
	assert.Empty(t, pausing.StopRequest)

	cancelling, err := s.Get("cancelling")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, cancelling.State)
	assert.NotNil(t, cancelling.CompletedAt)

	assert.Equal(t, StateQueued, p.get("run").State, "demotions are saved")

	next, err := s.Insert(newTask("new", "/dl/new"))
	require.NoError(t, err)
	assert.Equal(t, int64(8), next.Seq, "sequence continues after restored tasks")

	ids := make([]string, 0)
	for _, task := range s.List() {
		ids = append(ids, task.ID)
	}
	assert.Equal(t, []string{"run", "pausing", "cancelling", "done", "new"}, ids)
}

func TestTaskStoreStats(t *testing.T) {
	s := NewTaskStore()
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Insert(newTask(id, "/dl/"+id))
		require.NoError(t, err)
	}
	_, err := s.Update("a", func(t *Task) error {
		t.State = StateDownloading
		t.Progress = Progress{DownloadedBytes: 30, TotalBytes: 100, Speed: 10}
		return nil
	})
	require.NoError(t, err)
	_, err = s.Update("b", func(t *Task) error {
		t.State = StateCancelled
		t.Progress = Progress{DownloadedBytes: 500, TotalBytes: 1000}
		return nil
	})
	require.NoError(t, err)
	_, err = s.Update("c", func(t *Task) error {
		t.Progress.TotalBytes = 100
		return nil
	})
	require.NoError(t, err)

	st := s.Stats()
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 1, st.Downloading)
	assert.Equal(t, 1, st.Cancelled)
	assert.Equal(t, 1, st.Queued)
	assert.Equal(t, int64(30), st.DownloadedBytes)
	assert.Equal(t, int64(200), st.TotalBytes)
	assert.InDelta(t, 15, st.Percent, 0.01)
	assert.InDelta(t, 10, st.Speed, 0.01)
}
