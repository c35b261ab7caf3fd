package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestProgressReporterSpeedAndETA(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewProgressReporter(nil)
	r.now = clock.now

	p := r.Observe("t1", 0, 1000)
	assert.Zero(t, p.Speed)
	assert.Equal(t, int64(-1), p.ETASeconds)

	clock.advance(time.Second)
	p = r.Observe("t1", 100, 1000)
	assert.InDelta(t, 100, p.Speed, 0.01)
	assert.InDelta(t, 10, p.Percent, 0.01)
	assert.Equal(t, int64(9), p.ETASeconds)

	clock.advance(time.Second)
	p = r.Observe("t1", 300, 1000)
	assert.InDelta(t, 150, p.Speed, 0.01)
}

func TestProgressReporterWindowSlides(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewProgressReporter(nil)
	r.now = clock.now

	r.Observe("t1", 0, 0)
	clock.advance(10 * time.Second)
	r.Observe("t1", 10_000, 0)
	clock.advance(time.Second)
	p := r.Observe("t1", 10_500, 0)

	// the first sample fell out of the window
	assert.InDelta(t, 500, p.Speed, 0.01)
	assert.Zero(t, p.Percent)
	assert.Equal(t, int64(-1), p.ETASeconds, "unknown total has no ETA")
}

func TestProgressReporterResetsOnRestart(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	r := NewProgressReporter(nil)
	r.now = clock.now

	r.Observe("t1", 5000, 10_000)
	clock.advance(time.Second)
	p := r.Observe("t1", 0, 10_000)
	assert.Zero(t, p.Speed)

	r.Forget("t1")
	p = r.Observe("t1", 200, 10_000)
	assert.Zero(t, p.Speed)
}

func TestProgressReporterPublishes(t *testing.T) {
	r := NewProgressReporter(func() QueueStats { return QueueStats{Total: 1, Queued: 1} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	events, unsubscribe := r.Subscribe(8)
	r.Notify("t1")

	var gotTask, gotStats bool
	timeout := time.After(2 * time.Second)
	for !gotTask || !gotStats {
		select {
		case e := <-events:
			switch e.Type {
			case EventTaskChanged:
				assert.Equal(t, "t1", e.TaskID)
				gotTask = true
			case EventQueueStatsChanged:
				assert.Equal(t, 1, e.Stats.Queued)
				gotStats = true
			}
		case <-timeout:
			t.Fatal("no events published")
		}
	}

	unsubscribe()
	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestProgressReporterSlowSubscriberDoesNotBlock(t *testing.T) {
	r := NewProgressReporter(nil)
	_, unsubscribe := r.Subscribe(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Notify(string(rune('a' + i%26)))
			r.flush()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "publish blocked on a full subscriber")
	}
}
