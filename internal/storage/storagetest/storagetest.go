// Package storagetest holds behavioural tests shared by every storage.Store
// implementation.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/pkg/types"
)

// Factory opens a fresh, empty store and returns a cleanup func.
type Factory func(t *testing.T) (storage.Store, func())

// Run exercises store against the storage.Store contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("NamespaceCRUD", func(t *testing.T) { testNamespaceCRUD(t, newStore) })
	t.Run("NamespaceUpstream", func(t *testing.T) { testNamespaceUpstream(t, newStore) })
	t.Run("TaskLifecycle", func(t *testing.T) { testTaskLifecycle(t, newStore) })
	t.Run("TaskError", func(t *testing.T) { testTaskError(t, newStore) })
	t.Run("MissingTask", func(t *testing.T) { testMissingTask(t, newStore) })
	t.Run("ListTasks", func(t *testing.T) { testListTasks(t, newStore) })
	t.Run("NamespaceStats", func(t *testing.T) { testNamespaceStats(t, newStore) })
	t.Run("QueuedTasks", func(t *testing.T) { testQueuedTasks(t, newStore) })
	t.Run("DeleteNamespaceWithTasks", func(t *testing.T) { testDeleteNamespaceWithTasks(t, newStore) })
}

func mustCreateNamespace(t *testing.T, store storage.Store, name string) {
	t.Helper()
	now := time.Now()
	err := store.CreateNamespace(context.Background(), &storage.NamespaceRecord{
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}
}

func mustCreateTask(t *testing.T, store storage.Store, id, ns string, status types.TaskStatus, createdAt time.Time) {
	t.Helper()
	err := store.CreateTask(context.Background(), &storage.TaskRecord{
		ID:        id,
		Namespace: ns,
		Endpoint:  "maps/search",
		Query:     map[string][]string{"query": {"cafe, Paris"}},
		Status:    status,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
}

func testNamespaceCRUD(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()

	ns := &storage.NamespaceRecord{
		Name:        "test-namespace",
		Description: "Test description",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := store.CreateNamespace(ctx, ns); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}

	retrieved, err := store.GetNamespace(ctx, "test-namespace")
	if err != nil {
		t.Fatalf("GetNamespace failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("GetNamespace returned nil")
	}
	if retrieved.Description != "Test description" {
		t.Errorf("Description mismatch: got %s", retrieved.Description)
	}
	if retrieved.CreatedAt.UnixNano() != now.UnixNano() {
		t.Errorf("CreatedAt mismatch: got %v, want %v", retrieved.CreatedAt, now)
	}

	retrieved.Description = "Updated"
	retrieved.UpdatedAt = time.Now()
	if err := store.UpdateNamespace(ctx, "test-namespace", retrieved); err != nil {
		t.Fatalf("UpdateNamespace failed: %v", err)
	}

	updated, err := store.GetNamespace(ctx, "test-namespace")
	if err != nil {
		t.Fatalf("GetNamespace after update failed: %v", err)
	}
	if updated.Description != "Updated" {
		t.Errorf("Description not updated: got %s", updated.Description)
	}

	if err := store.UpdateNamespace(ctx, "nope", retrieved); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateNamespace on missing namespace: got %v, want ErrNotFound", err)
	}

	namespaces, err := store.ListNamespaces(ctx)
	if err != nil {
		t.Fatalf("ListNamespaces failed: %v", err)
	}
	if len(namespaces) != 1 {
		t.Errorf("Expected 1 namespace, got %d", len(namespaces))
	}

	deleted, err := store.DeleteNamespace(ctx, "test-namespace")
	if err != nil {
		t.Fatalf("DeleteNamespace failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("Expected 0 deleted tasks, got %d", deleted)
	}

	retrieved, err = store.GetNamespace(ctx, "test-namespace")
	if err != nil {
		t.Fatalf("GetNamespace after delete failed: %v", err)
	}
	if retrieved != nil {
		t.Error("Namespace should have been deleted")
	}

	if _, err := store.DeleteNamespace(ctx, "test-namespace"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second DeleteNamespace: got %v, want ErrNotFound", err)
	}
}

func testNamespaceUpstream(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()
	baseURL := "https://api.app.outscraper.com"
	apiKey := "upstream-key"

	err := store.CreateNamespace(ctx, &storage.NamespaceRecord{
		Name:           "live",
		UpstreamURL:    &baseURL,
		UpstreamAPIKey: &apiKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}

	ns, err := store.GetNamespace(ctx, "live")
	if err != nil {
		t.Fatalf("GetNamespace failed: %v", err)
	}
	if ns.UpstreamURL == nil || *ns.UpstreamURL != baseURL {
		t.Errorf("UpstreamURL mismatch: %v", ns.UpstreamURL)
	}
	if ns.UpstreamAPIKey == nil || *ns.UpstreamAPIKey != apiKey {
		t.Errorf("UpstreamAPIKey mismatch: %v", ns.UpstreamAPIKey)
	}

	ns.UpstreamURL = nil
	ns.UpstreamAPIKey = nil
	if err := store.UpdateNamespace(ctx, "live", ns); err != nil {
		t.Fatalf("UpdateNamespace failed: %v", err)
	}
	ns, _ = store.GetNamespace(ctx, "live")
	if ns.UpstreamURL != nil || ns.UpstreamAPIKey != nil {
		t.Error("upstream override should have been cleared")
	}
}

func testTaskLifecycle(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreateNamespace(t, store, "test-ns")

	body := json.RawMessage(`{"query":["a","b"]}`)
	task := &storage.TaskRecord{
		ID:        "task_123",
		Namespace: "test-ns",
		Endpoint:  "maps/reviews-v2",
		Method:    "POST",
		Query:     map[string][]string{"query": {"a", "b"}, "limit": {"3"}},
		Body:      body,
		Status:    types.StatusQueued,
		CreatedAt: time.Now(),
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	retrieved, err := store.GetTask(ctx, "task_123")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("GetTask returned nil")
	}
	if retrieved.Endpoint != "maps/reviews-v2" || retrieved.Method != "POST" {
		t.Errorf("endpoint/method mismatch: %s %s", retrieved.Method, retrieved.Endpoint)
	}
	if got := retrieved.Query["query"]; len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Query mismatch: %v", retrieved.Query)
	}
	if string(retrieved.Body) != string(body) {
		t.Errorf("Body mismatch: %s", retrieved.Body)
	}
	if retrieved.Status != types.StatusQueued {
		t.Errorf("Status mismatch: got %s", retrieved.Status)
	}

	dispatchedAt := time.Now()
	if err := store.UpdateTaskStatus(ctx, "task_123", types.StatusProcessing, dispatchedAt); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}

	retrieved, _ = store.GetTask(ctx, "task_123")
	if retrieved.Status != types.StatusProcessing {
		t.Errorf("Status not updated: got %s", retrieved.Status)
	}
	if retrieved.DispatchedAt == nil {
		t.Error("DispatchedAt should be set")
	} else if retrieved.DispatchedAt.UnixNano() != dispatchedAt.UnixNano() {
		t.Errorf("DispatchedAt mismatch: got %v, want %v", retrieved.DispatchedAt, dispatchedAt)
	}

	result := json.RawMessage(`[[{"name":"Cafe","rating":4.5}]]`)
	if err := store.UpdateTaskResult(ctx, "task_123", result); err != nil {
		t.Fatalf("UpdateTaskResult failed: %v", err)
	}

	retrieved, _ = store.GetTask(ctx, "task_123")
	if retrieved.Status != types.StatusCompleted {
		t.Errorf("Status should be completed: got %s", retrieved.Status)
	}
	if string(retrieved.ResultPayload) != string(result) {
		t.Errorf("ResultPayload mismatch: %s", retrieved.ResultPayload)
	}
	if retrieved.CompletedAt == nil {
		t.Error("CompletedAt should not be nil")
	}
}

func testTaskError(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()
	mustCreateNamespace(t, store, "test-ns")
	mustCreateTask(t, store, "task_err", "test-ns", types.StatusQueued, time.Now())

	if err := store.UpdateTaskError(ctx, "task_err", "upstream unavailable"); err != nil {
		t.Fatalf("UpdateTaskError failed: %v", err)
	}

	retrieved, _ := store.GetTask(ctx, "task_err")
	if retrieved.Status != types.StatusFailed {
		t.Errorf("Status should be failed: got %s", retrieved.Status)
	}
	if retrieved.Error == nil || *retrieved.Error != "upstream unavailable" {
		t.Error("Error message mismatch")
	}
	if retrieved.CompletedAt == nil {
		t.Error("CompletedAt should be set on failure")
	}
}

func testMissingTask(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()

	task, err := store.GetTask(ctx, "missing")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task != nil {
		t.Error("expected nil task")
	}

	if err := store.UpdateTaskStatus(ctx, "missing", types.StatusProcessing, time.Now()); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateTaskStatus: got %v, want ErrNotFound", err)
	}
	if err := store.UpdateTaskResult(ctx, "missing", json.RawMessage(`[]`)); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateTaskResult: got %v, want ErrNotFound", err)
	}
	if err := store.UpdateTaskError(ctx, "missing", "x"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateTaskError: got %v, want ErrNotFound", err)
	}
}

func testListTasks(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()
	mustCreateNamespace(t, store, "test-ns")
	mustCreateNamespace(t, store, "other")

	for i := 0; i < 5; i++ {
		mustCreateTask(t, store, fmt.Sprintf("task_%d", i), "test-ns", types.StatusQueued, now.Add(time.Duration(i)*time.Second))
	}
	mustCreateTask(t, store, "task_other", "other", types.StatusQueued, now)

	namespace := "test-ns"
	tasks, total, err := store.ListTasks(ctx, storage.TaskFilter{Namespace: &namespace})
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Expected 5 total tasks, got %d", total)
	}
	if len(tasks) != 5 {
		t.Fatalf("Expected 5 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != "task_4" || tasks[4].ID != "task_0" {
		t.Errorf("expected newest first, got %s ... %s", tasks[0].ID, tasks[4].ID)
	}

	tasks, total, err = store.ListTasks(ctx, storage.TaskFilter{Namespace: &namespace, Limit: 2})
	if err != nil {
		t.Fatalf("ListTasks with limit failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Total should still be 5, got %d", total)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks with limit, got %d", len(tasks))
	}

	cursor := tasks[len(tasks)-1].CreatedAt
	tasks, total, err = store.ListTasks(ctx, storage.TaskFilter{Namespace: &namespace, Limit: 2, Cursor: &cursor})
	if err != nil {
		t.Fatalf("ListTasks with cursor failed: %v", err)
	}
	if total != 5 {
		t.Errorf("Total should still be 5, got %d", total)
	}
	if len(tasks) != 2 {
		t.Fatalf("Expected 2 tasks on second page, got %d", len(tasks))
	}
	if tasks[0].ID != "task_2" || tasks[1].ID != "task_1" {
		t.Errorf("second page mismatch: %s, %s", tasks[0].ID, tasks[1].ID)
	}

	if err := store.UpdateTaskError(ctx, "task_3", "boom"); err != nil {
		t.Fatalf("UpdateTaskError failed: %v", err)
	}
	status := types.StatusFailed
	tasks, total, err = store.ListTasks(ctx, storage.TaskFilter{Namespace: &namespace, Status: &status})
	if err != nil {
		t.Fatalf("ListTasks by status failed: %v", err)
	}
	if total != 1 || len(tasks) != 1 || tasks[0].ID != "task_3" {
		t.Errorf("expected only task_3 as failed, got total=%d len=%d", total, len(tasks))
	}

	if _, _, err := store.ListTasks(ctx, storage.TaskFilter{}); err == nil {
		t.Error("ListTasks without namespace should fail")
	}
}

func testNamespaceStats(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()
	mustCreateNamespace(t, store, "test-ns")

	statuses := []types.TaskStatus{
		types.StatusQueued,
		types.StatusQueued,
		types.StatusProcessing,
		types.StatusCompleted,
		types.StatusFailed,
	}
	for i, status := range statuses {
		mustCreateTask(t, store, fmt.Sprintf("task_%d", i), "test-ns", status, now)
	}

	stats, err := store.GetNamespaceStats(ctx, "test-ns")
	if err != nil {
		t.Fatalf("GetNamespaceStats failed: %v", err)
	}

	if stats.TotalTasks != 5 {
		t.Errorf("TotalTasks: got %d, want 5", stats.TotalTasks)
	}
	if stats.Queued != 2 {
		t.Errorf("Queued: got %d, want 2", stats.Queued)
	}
	if stats.Processing != 1 {
		t.Errorf("Processing: got %d, want 1", stats.Processing)
	}
	if stats.Completed != 1 {
		t.Errorf("Completed: got %d, want 1", stats.Completed)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed: got %d, want 1", stats.Failed)
	}

	if err := store.UpdateTaskStatus(ctx, "task_0", types.StatusProcessing, time.Now()); err != nil {
		t.Fatalf("UpdateTaskStatus failed: %v", err)
	}
	stats, _ = store.GetNamespaceStats(ctx, "test-ns")
	if stats.Queued != 1 || stats.Processing != 2 || stats.TotalTasks != 5 {
		t.Errorf("stats after transition: %+v", stats)
	}
}

func testQueuedTasks(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()
	mustCreateNamespace(t, store, "test-ns")

	for i := 0; i < 3; i++ {
		mustCreateTask(t, store, fmt.Sprintf("task_queued_%d", i), "test-ns", types.StatusQueued, now.Add(time.Duration(i)*time.Millisecond))
	}
	mustCreateTask(t, store, "task_completed", "test-ns", types.StatusCompleted, now)

	queued, err := store.GetQueuedTasks(ctx, "test-ns")
	if err != nil {
		t.Fatalf("GetQueuedTasks failed: %v", err)
	}
	if len(queued) != 3 {
		t.Fatalf("Expected 3 queued tasks, got %d", len(queued))
	}
	for i, task := range queued {
		if task.Status != types.StatusQueued {
			t.Errorf("Expected queued status, got %s", task.Status)
		}
		if want := fmt.Sprintf("task_queued_%d", i); task.ID != want {
			t.Errorf("queued order: got %s, want %s", task.ID, want)
		}
	}
}

func testDeleteNamespaceWithTasks(t *testing.T, newStore Factory) {
	store, cleanup := newStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()
	mustCreateNamespace(t, store, "test-ns")

	for i := 0; i < 3; i++ {
		mustCreateTask(t, store, fmt.Sprintf("task_%d", i), "test-ns", types.StatusCompleted, now)
	}

	deleted, err := store.DeleteNamespace(ctx, "test-ns")
	if err != nil {
		t.Fatalf("DeleteNamespace failed: %v", err)
	}
	if deleted != 3 {
		t.Errorf("Expected 3 deleted tasks, got %d", deleted)
	}

	task, err := store.GetTask(ctx, "task_0")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task != nil {
		t.Error("tasks should be deleted with their namespace")
	}

	stats, err := store.GetNamespaceStats(ctx, "test-ns")
	if err != nil {
		t.Fatalf("GetNamespaceStats failed: %v", err)
	}
	if stats.TotalTasks != 0 {
		t.Errorf("Expected 0 tasks after delete, got %d", stats.TotalTasks)
	}
}
