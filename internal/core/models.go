package core

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// State is the lifecycle state of a download task.
type State int

const (
	StateQueued State = iota
	StateDownloading
	StatePaused
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "Queued"
	case StateDownloading:
		return "Downloading"
	case StatePaused:
		return "Paused"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ParseState is the inverse of State.String, case-insensitive.
func ParseState(s string) (State, error) {
	for st := StateQueued; st <= StateCancelled; st++ {
		if strings.EqualFold(st.String(), s) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown state %q", s)
}

// Finished reports whether the task no longer holds its destination.
func (s State) Finished() bool {
	return s == StateCompleted || s == StateCancelled
}

// Priority orders queued tasks; higher runs first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 5
	PriorityHigh     Priority = 8
	PriorityCritical Priority = 10
)

// Valid reports whether p is one of the four levels.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority accepts the level names.
func ParsePriority(s string) (Priority, error) {
	for _, p := range []Priority{PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical} {
		if strings.EqualFold(p.String(), s) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, s)
}

// Progress is the transfer state of a task. TotalBytes 0 means unknown,
// ETASeconds -1 means unknown.
type Progress struct {
	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Speed           float64 `json:"speed"` // bytes per second
	Percent         float64 `json:"percent"`
	ETASeconds      int64   `json:"eta_seconds"`
}

// StopRequest is a pending cooperative stop on a running task.
type StopRequest string

const (
	StopRequestNone   StopRequest = ""
	StopRequestPause  StopRequest = "pause"
	StopRequestCancel StopRequest = "cancel"
)

// Task is a download task.
type Task struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Destination string `json:"destination"`
	FileName    string `json:"file_name"`
	SourceKind  string `json:"source_kind"`
	Provider    string `json:"provider,omitempty"`

	State    State    `json:"state"`
	Progress Progress `json:"progress"`
	Priority Priority `json:"priority"`
	Retries  int      `json:"retries"`

	ExpectedChecksum string            `json:"expected_checksum,omitempty"`
	SupportsResume   bool              `json:"supports_resume"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Seq         int64       `json:"seq"`
	StopRequest StopRequest `json:"stop_request,omitempty"`
}

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	c := *t
	if t.Metadata != nil {
		c.Metadata = maps.Clone(t.Metadata)
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		c.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return &c
}

// QueueStats summarises all tasks.
type QueueStats struct {
	Total       int `json:"total"`
	Queued      int `json:"queued"`
	Downloading int `json:"downloading"`
	Paused      int `json:"paused"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Cancelled   int `json:"cancelled"`

	DownloadedBytes int64   `json:"downloaded_bytes"`
	TotalBytes      int64   `json:"total_bytes"`
	Speed           float64 `json:"speed"`
	Percent         float64 `json:"percent"`
}

// Config holds the engine settings.
type Config struct {
	DownloadDir        string
	ParallelDownloads  int
	SpeedLimit         int64 // bytes per second, 0 for unlimited
	MaxRetries         int
	ChunkSize          int
	CheckpointInterval time.Duration
	UserAgent          string
}

func DefaultConfig() *Config {
	return &Config{
		DownloadDir:        ".",
		ParallelDownloads:  4,
		SpeedLimit:         0,
		MaxRetries:         3,
		ChunkSize:          32 * 1024,
		CheckpointInterval: time.Second,
		UserAgent:          "launcher-go/1.0",
	}
}
