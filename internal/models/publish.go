package models

import "time"

// PublishState is one step of the publish state machine
type PublishState string

const (
	StateUploading       PublishState = "Uploading"
	StateFillingMetadata PublishState = "FillingMetadata"
	StateTaggingContent  PublishState = "TaggingContent"
	StateSchedulingTime  PublishState = "SchedulingTime"
	StateSubmitting      PublishState = "Submitting"
	StateDone            PublishState = "Done"
	StateFailed          PublishState = "Failed"
)

// PublishTimeLayout is the wire and UI format of a scheduled publish time
const PublishTimeLayout = "2006-01-02 15:04"

// Content is the text payload of a post
type Content struct {
	Title  string `json:"title"`
	Script string `json:"script"`
}

// PublishRequest is created at the inbound boundary and is immutable once enqueued
type PublishRequest struct {
	ID        string    `json:"id"`
	Account   string    `json:"account"`
	Content   Content   `json:"content"`
	Extra     string    `json:"content_extra,omitempty"`
	Tags      []string  `json:"tags"`
	VideoURL  string    `json:"video_url,omitempty"`
	PublishAt time.Time `json:"publish_at,omitempty"` // zero = publish at the earliest default slot
	CreatedAt time.Time `json:"created_at"`
}

// HasPublishTime reports whether the caller asked for a specific time
func (r *PublishRequest) HasPublishTime() bool {
	return !r.PublishAt.IsZero()
}

// PublishTask is the queue-internal wrapper around a request. Never persisted.
type PublishTask struct {
	Request    *PublishRequest
	Sequence   uint64
	Position   int // 1-based position at enqueue time
	Attempts   int
	LastError  error
	EnqueuedAt time.Time
	StartedAt  time.Time
}

// ID returns the identity of the wrapped request
func (t *PublishTask) ID() string {
	if t == nil || t.Request == nil {
		return ""
	}
	return t.Request.ID
}

// Artifact is a per-task staged video file on local storage
type Artifact struct {
	TaskID string `json:"task_id"`
	Path   string `json:"path"`   // absolute path
	Source string `json:"source"` // URL or local path it was staged from
	Staged bool   `json:"staged"` // true when Path is a temporary copy owned by the task
}

// PublishJob is everything one publish attempt needs once staging and defaults are resolved
type PublishJob struct {
	TaskID    string
	Account   string
	Content   Content
	Extra     string
	Tags      []string
	VideoPath string
	PublishAt time.Time
}
