package domain

import "time"

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the job finished its attempt cycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether moving from s to next is a legal edge.
// Processing may fall back to pending when a run is cancelled mid-call.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed || next == JobStatusPending
	case JobStatusCompleted, JobStatusFailed:
		return next == JobStatusPending
	}
	return false
}

// ImageJob is one unit of work: an uploaded image (or a text-only request)
// plus everything the pipeline learned while processing it.
type ImageJob struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	SourceBytes []byte    `json:"-"`
	SourceMIME  string    `json:"source_mime,omitempty"`
	GroupID     string    `json:"group_id,omitempty"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	Result      []byte    `json:"-"`
	ResultMIME  string    `json:"result_mime,omitempty"`
	Error       string    `json:"error,omitempty"`
	Selected    bool      `json:"selected"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasResult reports whether the job carries a deliverable result.
func (j ImageJob) HasResult() bool {
	return j.Status == JobStatusCompleted && len(j.Result) > 0
}

// Clone returns a deep copy so snapshots never alias queue-owned buffers.
func (j ImageJob) Clone() ImageJob {
	out := j
	if j.SourceBytes != nil {
		out.SourceBytes = append([]byte(nil), j.SourceBytes...)
	}
	if j.Result != nil {
		out.Result = append([]byte(nil), j.Result...)
	}
	return out
}

// Summary aggregates the outcome of one processing run.
type Summary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Total     int `json:"total"`
}
