package core

import (
	"context"
	"sync"
	"sync/atomic"
)

// StopReason is why a running transfer was asked to stop. Reasons are
// ordered: a stronger reason replaces a weaker one, never the reverse.
type StopReason int32

const (
	StopNone StopReason = iota
	StopShutdown
	StopPause
	StopCancel
)

func (r StopReason) String() string {
	switch r {
	case StopShutdown:
		return "shutdown"
	case StopPause:
		return "pause"
	case StopCancel:
		return "cancel"
	default:
		return "none"
	}
}

// StopToken signals a running worker to stop at its next chunk boundary.
// Signal also cancels the context handed out by Arm so blocked reads
// return promptly.
type StopToken struct {
	reason atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Arm clears any previous reason and returns a context for one run.
func (t *StopToken) Arm(parent context.Context) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}
	t.reason.Store(int32(StopNone))
	ctx, cancel := context.WithCancel(parent)
	t.cancel = cancel
	return ctx
}

// Disarm releases the run context.
func (t *StopToken) Disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// Signal records reason if it is stronger than the current one.
func (t *StopToken) Signal(reason StopReason) {
	for {
		cur := t.reason.Load()
		if StopReason(cur) >= reason {
			break
		}
		if t.reason.CompareAndSwap(cur, int32(reason)) {
			break
		}
	}

	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()
}

// Reason returns the strongest reason signalled since the last Arm.
func (t *StopToken) Reason() StopReason {
	return StopReason(t.reason.Load())
}

// Err returns a StopError when a stop was signalled, nil otherwise.
func (t *StopToken) Err() error {
	if r := t.Reason(); r != StopNone {
		return &StopError{Reason: r}
	}
	return nil
}
