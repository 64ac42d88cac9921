package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/internal/storage/sqlite"
	"github.com/georgeshao/outscraper-go/pkg/types"
)

func setupTestStore(t *testing.T) (storage.Store, func()) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "dispatcher_test")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		os.RemoveAll(tempDir)
		t.Fatalf("Failed to create store: %v", err)
	}

	now := time.Now()
	if err := store.CreateNamespace(context.Background(), &storage.NamespaceRecord{
		Name:      storage.DefaultNamespace,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreateNamespace failed: %v", err)
	}

	cleanup := func() {
		if err := store.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
		os.RemoveAll(tempDir)
	}
	return store, cleanup
}

func queueTask(t *testing.T, store storage.Store, id string, query map[string][]string) {
	t.Helper()
	err := store.CreateTask(context.Background(), &storage.TaskRecord{
		ID:        id,
		Namespace: storage.DefaultNamespace,
		Endpoint:  "maps/search",
		Query:     query,
		Status:    types.StatusQueued,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
}

func getTask(t *testing.T, store storage.Store, id string) *storage.TaskRecord {
	t.Helper()
	task, err := store.GetTask(context.Background(), id)
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if task == nil {
		t.Fatalf("task %s not found", id)
	}
	return task
}

func fastConfig() Config {
	return Config{MaxWorkers: 4, RequestTimeout: 5 * time.Second}
}

func TestDispatchResolvesQueuedTasks(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	for i := 0; i < 5; i++ {
		queueTask(t, store, fmt.Sprintf("task_%d", i), map[string][]string{"query": {"a", "b"}})
	}

	d := New(store, FixtureResolver{}, fastConfig(), nil)
	d.Dispatch(storage.DefaultNamespace, "disp_test")

	for i := 0; i < 5; i++ {
		task := getTask(t, store, fmt.Sprintf("task_%d", i))
		if task.Status != types.StatusCompleted {
			t.Errorf("task_%d status = %s, want completed", i, task.Status)
		}
		if task.DispatchedAt == nil || task.CompletedAt == nil {
			t.Errorf("task_%d timestamps not set", i)
		}

		var data [][]fixtureRow
		if err := json.Unmarshal(task.ResultPayload, &data); err != nil {
			t.Fatalf("result is not fixture data: %v", err)
		}
		if len(data) != 2 || data[0][0].Query != "a" || data[1][0].Query != "b" {
			t.Errorf("unexpected fixture data: %s", task.ResultPayload)
		}
	}
}

func TestDispatchRecordsFailures(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	queueTask(t, store, "task_fail", map[string][]string{
		"query":            {"a"},
		SimulateErrorParam: {"quota exceeded"},
	})

	d := New(store, FixtureResolver{}, fastConfig(), nil)
	d.Dispatch(storage.DefaultNamespace, "disp_test")

	task := getTask(t, store, "task_fail")
	if task.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if task.Error == nil || *task.Error != "quota exceeded" {
		t.Errorf("error = %v, want quota exceeded", task.Error)
	}
}

func TestDispatchUnknownNamespace(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	d := New(store, FixtureResolver{}, fastConfig(), nil)
	d.Dispatch("missing", "disp_test")
}

// gateResolver blocks every call until release is closed.
type gateResolver struct {
	started chan string
	release chan struct{}
	calls   atomic.Int32
}

func (g *gateResolver) Resolve(ctx context.Context, ns *storage.NamespaceRecord, task *storage.TaskRecord) (json.RawMessage, error) {
	g.calls.Add(1)
	g.started <- task.ID
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return json.RawMessage(`[]`), nil
}

func TestSubmissionDuringDispatchIsNotStranded(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	gate := &gateResolver{started: make(chan string, 10), release: make(chan struct{})}
	d := New(store, gate, fastConfig(), nil)

	queueTask(t, store, "task_first", map[string][]string{"query": {"a"}})
	d.Start(storage.DefaultNamespace)

	select {
	case <-gate.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first task never started")
	}

	// Arrives while the first pass is blocked.
	queueTask(t, store, "task_second", map[string][]string{"query": {"b"}})
	d.Start(storage.DefaultNamespace)

	close(gate.release)
	d.Wait()

	for _, id := range []string{"task_first", "task_second"} {
		if task := getTask(t, store, id); task.Status != types.StatusCompleted {
			t.Errorf("%s status = %s, want completed", id, task.Status)
		}
	}
	if got := gate.calls.Load(); got != 2 {
		t.Errorf("resolver calls = %d, want 2", got)
	}
}

// countingResolver tracks peak concurrency.
type countingResolver struct {
	mu      sync.Mutex
	current int
	peak    int
}

func (c *countingResolver) Resolve(ctx context.Context, ns *storage.NamespaceRecord, task *storage.TaskRecord) (json.RawMessage, error) {
	c.mu.Lock()
	c.current++
	if c.current > c.peak {
		c.peak = c.current
	}
	c.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	c.mu.Lock()
	c.current--
	c.mu.Unlock()
	return json.RawMessage(`[]`), nil
}

func TestDispatchRespectsMaxWorkers(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	for i := 0; i < 12; i++ {
		queueTask(t, store, fmt.Sprintf("task_%02d", i), nil)
	}

	res := &countingResolver{}
	d := New(store, res, Config{MaxWorkers: 3, RequestTimeout: time.Second}, nil)
	d.Dispatch(storage.DefaultNamespace, "disp_test")

	if res.peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", res.peak)
	}
	stats, err := store.GetNamespaceStats(context.Background(), storage.DefaultNamespace)
	if err != nil {
		t.Fatalf("GetNamespaceStats failed: %v", err)
	}
	if stats.Completed != 12 {
		t.Errorf("completed = %d, want 12", stats.Completed)
	}
}

func TestResolveInline(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()
	task := &storage.TaskRecord{
		ID:           "task_inline",
		Namespace:    storage.DefaultNamespace,
		Endpoint:     "phones-enricher",
		Query:        map[string][]string{"query": {"+1 281 236 8208"}},
		Status:       types.StatusProcessing,
		CreatedAt:    now,
		DispatchedAt: &now,
	}
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	ns, _ := store.GetNamespace(ctx, storage.DefaultNamespace)

	d := New(store, FixtureResolver{}, fastConfig(), nil)
	if err := d.Resolve(ctx, ns, task); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if got := getTask(t, store, "task_inline"); got.Status != types.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}

func TestResolveFailsTaskWhenRateLimited(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now()
	for _, id := range []string{"task_first", "task_throttled"} {
		if err := store.CreateTask(ctx, &storage.TaskRecord{
			ID:           id,
			Namespace:    storage.DefaultNamespace,
			Endpoint:     "google-search-v3",
			Query:        map[string][]string{"query": {"a"}},
			Status:       types.StatusProcessing,
			CreatedAt:    now,
			DispatchedAt: &now,
		}); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}
	ns, _ := store.GetNamespace(ctx, storage.DefaultNamespace)

	d := New(store, FixtureResolver{}, Config{MaxWorkers: 1, RequestTimeout: time.Second, RequestsPerSecond: 0.1}, nil)
	if err := d.Resolve(ctx, ns, getTask(t, store, "task_first")); err != nil {
		t.Fatalf("first Resolve failed: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := d.Resolve(shortCtx, ns, getTask(t, store, "task_throttled")); err == nil {
		t.Fatal("expected the limiter to refuse the second task")
	}

	d.Start(storage.DefaultNamespace)
	d.Wait()

	task := getTask(t, store, "task_throttled")
	if task.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if task.Error == nil || *task.Error == "" {
		t.Error("error message should be stored")
	}
	if task.CompletedAt == nil {
		t.Error("completed_at should be set")
	}
}

func TestRequestTimeoutFailsTask(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	queueTask(t, store, "task_slow", map[string][]string{"query": {"a"}})

	d := New(store, FixtureResolver{Delay: time.Second}, Config{MaxWorkers: 1, RequestTimeout: 10 * time.Millisecond}, nil)
	d.Dispatch(storage.DefaultNamespace, "disp_test")

	task := getTask(t, store, "task_slow")
	if task.Status != types.StatusFailed {
		t.Fatalf("status = %s, want failed", task.Status)
	}
	if task.Error == nil || *task.Error != context.DeadlineExceeded.Error() {
		t.Errorf("error = %v, want deadline exceeded", task.Error)
	}
}

func TestFixtureResolverHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := FixtureResolver{Delay: time.Hour}.Resolve(ctx, &storage.NamespaceRecord{}, &storage.TaskRecord{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
