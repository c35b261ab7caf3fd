package core

import (
	"errors"
	"sync/atomic"
)

// Decision is the outcome of a failed transfer.
type Decision struct {
	Requeue bool
	Kind    ErrorKind
	Message string
}

// RetryPolicy decides whether a failed task is requeued or fails.
type RetryPolicy struct {
	maxRetries atomic.Int32
}

func NewRetryPolicy(maxRetries int) *RetryPolicy {
	p := &RetryPolicy{}
	p.SetMaxRetries(maxRetries)
	return p
}

func (p *RetryPolicy) MaxRetries() int {
	return int(p.maxRetries.Load())
}

func (p *RetryPolicy) SetMaxRetries(n int) {
	p.maxRetries.Store(int32(max(n, 0)))
}

// Decide classifies err for t without changing anything.
func (p *RetryPolicy) Decide(t *Task, err error) Decision {
	te := Classify(err)
	d := Decision{Kind: te.Kind, Message: te.Error()}
	if te.Kind.Retryable() && t.Retries < p.MaxRetries() {
		d.Requeue = true
	}
	return d
}

// Apply decides and mutates t accordingly. Callers hold the task's lock.
func (p *RetryPolicy) Apply(t *Task, err error) Decision {
	d := p.Decide(t, err)

	t.Progress.Speed = 0
	t.Progress.ETASeconds = -1
	t.StopRequest = StopRequestNone

	if d.Requeue {
		t.Retries++
		t.State = StateQueued
		t.Error = ""
		t.ErrorKind = ""
		var mismatch *ChecksumMismatchError
		if d.Kind == KindChecksumMismatch || errors.As(err, &mismatch) {
			// the bytes on disk are wrong
			t.Progress.DownloadedBytes = 0
			t.Progress.Percent = 0
		}
		return d
	}

	t.State = StateFailed
	t.Error = d.Message
	t.ErrorKind = d.Kind
	return d
}
