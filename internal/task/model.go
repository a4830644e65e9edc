package task

import "time"

type State string

const (
	StatePending    State = "PENDING"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

const (
	NoteQueued    = "waiting in queue"
	NoteResolving = "resolving input"
	NoteInvoking  = "invoking compute service"
	NoteSaving    = "saving result"
	NoteDone      = "analysis complete"
)

type Task struct {
	ID            string     `json:"id"`
	RequestedName string     `json:"requested_name"`
	ResolvedName  *string    `json:"resolved_name"`
	State         State      `json:"state"`
	ProgressNote  string     `json:"progress_note"`
	ErrorDetail   *string    `json:"error_detail"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
	ResultID      *int64     `json:"result_id"`
}

// Clone returns a deep copy so callers can mutate a snapshot without
// touching the stored record.
func (t *Task) Clone() *Task {
	c := *t
	if t.ResolvedName != nil {
		v := *t.ResolvedName
		c.ResolvedName = &v
	}
	if t.ErrorDetail != nil {
		v := *t.ErrorDetail
		c.ErrorDetail = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.ResultID != nil {
		v := *t.ResultID
		c.ResultID = &v
	}
	return &c
}

// ResolvedOrRequested is the name the task's input is known by downstream.
func (t *Task) ResolvedOrRequested() string {
	if t.ResolvedName != nil && *t.ResolvedName != "" {
		return *t.ResolvedName
	}
	return t.RequestedName
}
