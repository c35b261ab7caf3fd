package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyRequeuesNetworkErrors(t *testing.T) {
	p := NewRetryPolicy(3)
	task := &Task{ID: "t1", State: StateDownloading, Retries: 2, Progress: Progress{DownloadedBytes: 100, TotalBytes: 400, Speed: 50}}

	d := p.Apply(task, networkError(errors.New("connection reset")))
	assert.True(t, d.Requeue)
	assert.Equal(t, KindNetwork, d.Kind)
	assert.Equal(t, StateQueued, task.State)
	assert.Equal(t, 3, task.Retries)
	assert.Empty(t, task.Error)
	assert.Equal(t, int64(100), task.Progress.DownloadedBytes, "network retries resume")
	assert.Zero(t, task.Progress.Speed)

	// the budget is spent
	task.State = StateDownloading
	d = p.Apply(task, networkError(errors.New("connection reset")))
	assert.False(t, d.Requeue)
	assert.Equal(t, StateFailed, task.State)
	assert.Equal(t, 3, task.Retries)
	assert.Contains(t, task.Error, "connection reset")
	assert.Equal(t, KindNetwork, task.ErrorKind)
}

func TestRetryPolicyChecksumMismatchRestarts(t *testing.T) {
	p := NewRetryPolicy(3)
	task := &Task{State: StateDownloading, Progress: Progress{DownloadedBytes: 400, TotalBytes: 400, Percent: 100}}

	err := &TaskError{Kind: KindChecksumMismatch, Err: &ChecksumMismatchError{Algorithm: "sha256", Expected: "aa", Actual: "bb"}}
	d := p.Apply(task, err)

	assert.True(t, d.Requeue)
	assert.Equal(t, 1, task.Retries)
	assert.Zero(t, task.Progress.DownloadedBytes)
	assert.Zero(t, task.Progress.Percent)
}

func TestRetryPolicyTerminalKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind ErrorKind
	}{
		{"destination", destinationError(errors.New("read-only file system")), KindInvalidDestination},
		{"authentication", authenticationError("github", errors.New("401")), KindAuthentication},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{State: StateDownloading}
			d := NewRetryPolicy(3).Apply(task, tt.err)

			assert.False(t, d.Requeue)
			assert.Equal(t, StateFailed, task.State)
			assert.Equal(t, tt.kind, task.ErrorKind)
			assert.Zero(t, task.Retries)
		})
	}
}

func TestRetryPolicyClassifiesPlainErrors(t *testing.T) {
	task := &Task{Retries: 0}
	d := NewRetryPolicy(0).Decide(task, fmt.Errorf("wrapped: %w", errors.New("eof")))

	assert.Equal(t, KindNetwork, d.Kind)
	assert.False(t, d.Requeue, "zero retries fails at once")
}

func TestRetryPolicySetMaxRetries(t *testing.T) {
	p := NewRetryPolicy(3)
	p.SetMaxRetries(-1)
	assert.Equal(t, 0, p.MaxRetries())
	p.SetMaxRetries(5)
	assert.Equal(t, 5, p.MaxRetries())
}
