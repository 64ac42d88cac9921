package types

const (
	DispatchStarted = "dispatching"
	DispatchIdle    = "no_tasks"
)

// DispatchRequest asks the sandbox to drain a namespace's queue now. An empty
// namespace falls back to the X-Namespace header.
type DispatchRequest struct {
	Namespace string `json:"namespace,omitempty"`
}

type DispatchResponse struct {
	DispatchID  string `json:"dispatch_id"`
	Namespace   string `json:"namespace"`
	QueuedCount int    `json:"queued_count"`
	Status      string `json:"status"`
}
