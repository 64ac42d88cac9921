package types

import "encoding/json"

// TaskStatus is the lifecycle state of a task inside the sandbox.
type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Statuses as reported by the archive. Anything not yet terminal is Pending.
const (
	ArchivePending = "Pending"
	ArchiveSuccess = "Success"
	ArchiveFailed  = "Failed"
)

// Public maps an internal status onto the archive vocabulary.
func (s TaskStatus) Public() string {
	switch s {
	case StatusCompleted:
		return ArchiveSuccess
	case StatusFailed:
		return ArchiveFailed
	default:
		return ArchivePending
	}
}

func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is an archive entry as returned by GET /requests/{id}.
type Task struct {
	ID              string              `json:"id"`
	Status          string              `json:"status"`
	Namespace       string              `json:"namespace"`
	Endpoint        string              `json:"endpoint"`
	Query           map[string][]string `json:"query,omitempty"`
	Data            json.RawMessage     `json:"data,omitempty"`
	FailureReason   *string             `json:"failure_reason,omitempty"`
	ResultsLocation string              `json:"results_location"`
	CreatedAt       string              `json:"created_at"`
	DispatchedAt    *string             `json:"dispatched_at,omitempty"`
	CompletedAt     *string             `json:"completed_at,omitempty"`
}

// SubmitResponse is returned when a task is accepted for later resolution.
type SubmitResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	ResultsLocation string `json:"results_location"`
}

type ListTasksResponse struct {
	Requests   []Task  `json:"requests"`
	Total      int     `json:"total"`
	Limit      int     `json:"limit"`
	NextCursor *string `json:"next_cursor,omitempty"`
}
