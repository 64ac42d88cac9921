package api

import (
	"strings"
	"time"

	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/pkg/types"
)

func recordToNamespace(record *storage.NamespaceRecord) types.Namespace {
	ns := types.Namespace{
		Name:        record.Name,
		Description: record.Description,
		CreatedAt:   record.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   record.UpdatedAt.Format(time.RFC3339),
	}

	if record.UpstreamURL != nil {
		ns.Upstream = &types.UpstreamOverride{BaseURL: record.UpstreamURL}
	}

	return ns
}

// recordToTask renders an archive entry. baseURL is used for results_location.
func recordToTask(record *storage.TaskRecord, baseURL string) types.Task {
	task := types.Task{
		ID:              record.ID,
		Status:          record.Status.Public(),
		Namespace:       record.Namespace,
		Endpoint:        record.Endpoint,
		Query:           record.Query,
		FailureReason:   record.Error,
		ResultsLocation: resultsLocation(baseURL, record.ID),
		CreatedAt:       record.CreatedAt.Format(time.RFC3339),
	}

	if record.Status == types.StatusCompleted {
		task.Data = record.ResultPayload
	}

	if record.DispatchedAt != nil {
		dispatchedAt := record.DispatchedAt.Format(time.RFC3339)
		task.DispatchedAt = &dispatchedAt
	}

	if record.CompletedAt != nil {
		completedAt := record.CompletedAt.Format(time.RFC3339)
		task.CompletedAt = &completedAt
	}

	return task
}

func resultsLocation(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/requests/" + id
}
