package types

type Namespace struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Upstream    *UpstreamOverride `json:"upstream,omitempty"`
	Stats       *NamespaceStats   `json:"stats,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

// UpstreamOverride points a namespace at a real extraction API instead of
// the built-in fixtures. The key is write-only and never echoed back.
type UpstreamOverride struct {
	BaseURL *string `json:"base_url,omitempty"`
	APIKey  *string `json:"api_key,omitempty"`
}

type NamespaceStats struct {
	TotalTasks int `json:"total_tasks"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

type CreateNamespaceRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Upstream    *UpstreamOverride `json:"upstream,omitempty"`
}

type UpdateNamespaceRequest struct {
	Description *string           `json:"description,omitempty"`
	Upstream    *UpstreamOverride `json:"upstream,omitempty"`
}

type DeleteNamespaceResponse struct {
	Message      string `json:"message"`
	DeletedTasks int    `json:"deleted_tasks"`
}

type DeleteNamespaceConflictResponse struct {
	ErrorResponse
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
}
