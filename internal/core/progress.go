package core

import (
	"context"
	"sync"
	"time"
)

// EventType names an engine event.
type EventType int

const (
	EventTaskChanged EventType = iota
	EventQueueStatsChanged
)

// Event is delivered to subscribers. TaskID is set for EventTaskChanged,
// Stats for EventQueueStatsChanged.
type Event struct {
	Type   EventType
	TaskID string
	Stats  QueueStats
}

const speedWindow = 5 * time.Second

type sample struct {
	at    time.Time
	bytes int64
}

// ProgressReporter derives speed and ETA from byte counts and fans task
// and queue changes out to subscribers.
type ProgressReporter struct {
	now   func() time.Time
	stats func() QueueStats

	mu      sync.Mutex
	samples map[string][]sample
	dirty   map[string]struct{}
	wake    chan struct{}

	subsMu sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewProgressReporter creates a reporter. stats is called after each batch
// of changes to publish queue totals.
func NewProgressReporter(stats func() QueueStats) *ProgressReporter {
	return &ProgressReporter{
		now:     time.Now,
		stats:   stats,
		samples: make(map[string][]sample),
		dirty:   make(map[string]struct{}),
		wake:    make(chan struct{}, 1),
		subs:    make(map[int]chan Event),
	}
}

// Observe records a byte count for id and returns the derived progress.
func (r *ProgressReporter) Observe(id string, downloaded, total int64) Progress {
	now := r.now()

	r.mu.Lock()
	window := r.samples[id]
	if n := len(window); n > 0 && downloaded < window[n-1].bytes {
		window = window[:0]
	}
	window = append(window, sample{at: now, bytes: downloaded})
	cut := 0
	for cut < len(window)-2 && now.Sub(window[cut].at) > speedWindow {
		cut++
	}
	window = window[cut:]
	r.samples[id] = window
	first := window[0]
	r.mu.Unlock()

	p := Progress{DownloadedBytes: downloaded, TotalBytes: total, ETASeconds: -1}
	if elapsed := now.Sub(first.at).Seconds(); elapsed > 0 {
		p.Speed = float64(downloaded-first.bytes) / elapsed
	}
	if total > 0 {
		p.Percent = float64(downloaded) / float64(total) * 100
		if p.Speed > 0 {
			p.ETASeconds = int64(float64(total-downloaded) / p.Speed)
		}
	}
	return p
}

// Forget drops the speed window of id.
func (r *ProgressReporter) Forget(id string) {
	r.mu.Lock()
	delete(r.samples, id)
	r.mu.Unlock()
}

// Notify marks id changed. It never blocks.
func (r *ProgressReporter) Notify(id string) {
	r.mu.Lock()
	r.dirty[id] = struct{}{}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Run publishes pending changes until ctx is done.
func (r *ProgressReporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.wake:
			r.flush()
		}
	}
}

func (r *ProgressReporter) flush() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.dirty))
	for id := range r.dirty {
		ids = append(ids, id)
	}
	clear(r.dirty)
	r.mu.Unlock()

	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		r.publish(Event{Type: EventTaskChanged, TaskID: id})
	}
	if r.stats != nil {
		r.publish(Event{Type: EventQueueStatsChanged, Stats: r.stats()})
	}
}

// Subscribe returns a channel of events and a function that ends the
// subscription. A subscriber whose buffer is full misses events.
func (r *ProgressReporter) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))

	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subsMu.Lock()
			delete(r.subs, id)
			r.subsMu.Unlock()
			close(ch)
		})
	}
}

func (r *ProgressReporter) publish(e Event) {
	r.subsMu.RLock()
	defer r.subsMu.RUnlock()

	for _, ch := range r.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
