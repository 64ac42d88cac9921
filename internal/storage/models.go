package storage

import (
	"encoding/json"
	"time"

	"github.com/georgeshao/outscraper-go/pkg/types"
)

// DefaultNamespace is created on startup and cannot be deleted.
const DefaultNamespace = "default"

type NamespaceRecord struct {
	Name           string
	Description    string
	UpstreamURL    *string
	UpstreamAPIKey *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type TaskRecord struct {
	ID            string
	Namespace     string
	Endpoint      string
	Method        string
	Query         map[string][]string
	Body          json.RawMessage
	Status        types.TaskStatus
	ResultPayload json.RawMessage
	Error         *string
	CreatedAt     time.Time
	DispatchedAt  *time.Time
	CompletedAt   *time.Time
}

type TaskFilter struct {
	Namespace *string
	Status    *types.TaskStatus
	Limit     int
	Cursor    *time.Time // newest first; only tasks created strictly before the cursor
}

var taskStatuses = []types.TaskStatus{
	types.StatusQueued,
	types.StatusProcessing,
	types.StatusCompleted,
	types.StatusFailed,
}

// TaskStatuses lists every lifecycle state in order.
func TaskStatuses() []types.TaskStatus {
	out := make([]types.TaskStatus, len(taskStatuses))
	copy(out, taskStatuses)
	return out
}
