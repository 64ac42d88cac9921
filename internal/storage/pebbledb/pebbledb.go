package pebbledb

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/pkg/types"
)

const (
	prefixNs    = "ns:"    // ns:{name} → namespace JSON
	prefixTask  = "task:"  // task:{id} → task JSON
	prefixSt    = "st:"    // st:{ns}:{status}:{ts}:{id} → empty
	prefixCount = "count:" // count:{ns}:{status} → int64
)

type PebbleStore struct {
	db          *pebble.DB
	batchWriter *BatchWriter
	useBatch    bool

	// serializes read-modify-write of a task and its index entries
	mu sync.Mutex
}

type namespaceData struct {
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	UpstreamURL    *string `json:"upstream_url,omitempty"`
	UpstreamAPIKey *string `json:"upstream_api_key,omitempty"`
	CreatedAt      int64   `json:"created_at"` // unix nano
	UpdatedAt      int64   `json:"updated_at"`
}

type taskData struct {
	ID            string              `json:"id"`
	Namespace     string              `json:"namespace"`
	Endpoint      string              `json:"endpoint"`
	Method        string              `json:"method"`
	Query         map[string][]string `json:"query,omitempty"`
	Body          json.RawMessage     `json:"body,omitempty"`
	Status        string              `json:"status"`
	ResultPayload json.RawMessage     `json:"result_payload,omitempty"`
	Error         *string             `json:"error,omitempty"`
	CreatedAt     int64               `json:"created_at"`
	DispatchedAt  *int64              `json:"dispatched_at,omitempty"`
	CompletedAt   *int64              `json:"completed_at,omitempty"`
}

// New opens a pebble store at dbPath. With useBatch, task submissions are
// queued on a BatchWriter and flushed before any read.
func New(dbPath string, useBatch bool, logger *zap.Logger) (*PebbleStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := &pebble.Options{
		Merger: &pebble.Merger{
			Name: "int64_add",
			Merge: func(key, value []byte) (pebble.ValueMerger, error) {
				return &int64Merger{sum: decodeInt64(value)}, nil
			},
		},
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database: %w", err)
	}

	store := &PebbleStore{
		db:       db,
		useBatch: useBatch,
	}
	if useBatch {
		store.batchWriter = NewBatchWriter(db, DefaultBatchWriterConfig(), logger)
	}

	return store, nil
}

func (s *PebbleStore) Close() error {
	if s.batchWriter != nil {
		if err := s.batchWriter.Close(); err != nil {
			return fmt.Errorf("failed to close batch writer: %w", err)
		}
	}
	return s.db.Close()
}

// sync makes queued submissions visible to readers.
func (s *PebbleStore) sync() {
	if s.useBatch {
		s.batchWriter.Flush()
	}
}

func nsKey(name string) []byte {
	return []byte(prefixNs + name)
}

func taskKey(id string) []byte {
	return []byte(prefixTask + id)
}

func stKey(ns, status string, ts int64, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:%020d:%s", prefixSt, ns, status, ts, id))
}

func stPrefix(ns, status string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s:", prefixSt, ns, status))
}

func countKey(ns, status string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixCount, ns, status))
}

func encodeInt64(n int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeInt64(b []byte) int64 {
	if len(b) != 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

type int64Merger struct {
	sum int64
}

func (m *int64Merger) MergeNewer(value []byte) error {
	m.sum += decodeInt64(value)
	return nil
}

func (m *int64Merger) MergeOlder(value []byte) error {
	m.sum += decodeInt64(value)
	return nil
}

func (m *int64Merger) Finish(includesBase bool) ([]byte, io.Closer, error) {
	return encodeInt64(m.sum), nil, nil
}

func upperBound(prefix []byte) []byte {
	ub := make([]byte, len(prefix))
	copy(ub, prefix)
	for i := len(ub) - 1; i >= 0; i-- {
		if ub[i] < 0xff {
			ub[i]++
			return ub[:i+1]
		}
	}
	return nil
}

func (s *PebbleStore) CreateNamespace(ctx context.Context, ns *storage.NamespaceRecord) error {
	value, err := json.Marshal(fromNamespaceRecord(ns))
	if err != nil {
		return fmt.Errorf("failed to marshal namespace: %w", err)
	}
	return s.db.Set(nsKey(ns.Name), value, pebble.Sync)
}

func (s *PebbleStore) GetNamespace(ctx context.Context, name string) (*storage.NamespaceRecord, error) {
	value, closer, err := s.db.Get(nsKey(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get namespace: %w", err)
	}
	defer closer.Close()

	var data namespaceData
	if err := json.Unmarshal(value, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal namespace: %w", err)
	}
	return toNamespaceRecord(&data), nil
}

func (s *PebbleStore) UpdateNamespace(ctx context.Context, name string, ns *storage.NamespaceRecord) error {
	existing, err := s.GetNamespace(ctx, name)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("namespace %s: %w", name, storage.ErrNotFound)
	}

	data := fromNamespaceRecord(ns)
	data.Name = name
	data.CreatedAt = existing.CreatedAt.UnixNano()

	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal namespace: %w", err)
	}
	return s.db.Set(nsKey(name), value, pebble.Sync)
}

func (s *PebbleStore) DeleteNamespace(ctx context.Context, name string) (int, error) {
	s.sync()
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.GetNamespace(ctx, name)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return 0, fmt.Errorf("namespace %s: %w", name, storage.ErrNotFound)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	deletedCount := 0
	for _, status := range storage.TaskStatuses() {
		err := s.scanIndex(name, string(status), func(key []byte, id string) error {
			batch.Delete(taskKey(id), nil)
			batch.Delete(key, nil)
			deletedCount++
			return nil
		})
		if err != nil {
			return 0, err
		}
		batch.Delete(countKey(name, string(status)), nil)
	}
	batch.Delete(nsKey(name), nil)

	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return deletedCount, nil
}

func (s *PebbleStore) ListNamespaces(ctx context.Context) ([]*storage.NamespaceRecord, error) {
	prefix := []byte(prefixNs)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var records []*storage.NamespaceRecord
	for iter.First(); iter.Valid(); iter.Next() {
		var data namespaceData
		if err := json.Unmarshal(iter.Value(), &data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal namespace: %w", err)
		}
		records = append(records, toNamespaceRecord(&data))
	}
	return records, nil
}

func (s *PebbleStore) GetNamespaceStats(ctx context.Context, name string) (*types.NamespaceStats, error) {
	s.sync()

	stats := &types.NamespaceStats{}
	for _, status := range storage.TaskStatuses() {
		count, err := s.getCount(name, string(status))
		if err != nil {
			return nil, err
		}
		switch status {
		case types.StatusQueued:
			stats.Queued = count
		case types.StatusProcessing:
			stats.Processing = count
		case types.StatusCompleted:
			stats.Completed = count
		case types.StatusFailed:
			stats.Failed = count
		}
		stats.TotalTasks += count
	}
	return stats, nil
}

func (s *PebbleStore) getCount(ns, status string) (int, error) {
	value, closer, err := s.db.Get(countKey(ns, status))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	defer closer.Close()
	return int(decodeInt64(value)), nil
}

func (s *PebbleStore) CreateTask(ctx context.Context, task *storage.TaskRecord) error {
	data := fromTaskRecord(task)
	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if s.useBatch {
		s.batchWriter.Set(taskKey(task.ID), value)
		s.batchWriter.Set(stKey(task.Namespace, data.Status, data.CreatedAt, task.ID), nil)
		s.batchWriter.Merge(countKey(task.Namespace, data.Status), encodeInt64(1))
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	batch.Set(taskKey(task.ID), value, nil)
	batch.Set(stKey(task.Namespace, data.Status, data.CreatedAt, task.ID), nil, nil)
	batch.Merge(countKey(task.Namespace, data.Status), encodeInt64(1), nil)
	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) GetTask(ctx context.Context, id string) (*storage.TaskRecord, error) {
	s.sync()
	data, err := s.getTaskData(id)
	if err != nil || data == nil {
		return nil, err
	}
	return toTaskRecord(data), nil
}

func (s *PebbleStore) getTaskData(id string) (*taskData, error) {
	value, closer, err := s.db.Get(taskKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	defer closer.Close()

	var data taskData
	if err := json.Unmarshal(value, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &data, nil
}

// scanIndex calls fn for every status index entry of ns in creation order.
func (s *PebbleStore) scanIndex(ns, status string, fn func(key []byte, id string) error) error {
	prefix := stPrefix(ns, status)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		id := extractIDFromStKey(iter.Key())
		if id == "" {
			continue
		}
		key := append([]byte(nil), iter.Key()...)
		if err := fn(key, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *PebbleStore) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*storage.TaskRecord, int, error) {
	if filter.Namespace == nil {
		return nil, 0, fmt.Errorf("namespace is required")
	}
	s.sync()

	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}

	statuses := storage.TaskStatuses()
	if filter.Status != nil {
		statuses = []types.TaskStatus{*filter.Status}
	}

	var all []*taskData
	for _, status := range statuses {
		err := s.scanIndex(*filter.Namespace, string(status), func(_ []byte, id string) error {
			data, err := s.getTaskData(id)
			if err != nil {
				return err
			}
			if data != nil {
				all = append(all, data)
			}
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt != all[j].CreatedAt {
			return all[i].CreatedAt > all[j].CreatedAt
		}
		return all[i].ID > all[j].ID
	})

	var records []*storage.TaskRecord
	for _, data := range all {
		if len(records) == limit {
			break
		}
		if filter.Cursor != nil && data.CreatedAt >= filter.Cursor.UnixNano() {
			continue
		}
		records = append(records, toTaskRecord(data))
	}

	return records, len(all), nil
}

// transition rewrites a task and moves its status index entry and counters.
func (s *PebbleStore) transition(id string, mutate func(*taskData)) error {
	s.sync()
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.getTaskData(id)
	if err != nil {
		return err
	}
	if data == nil {
		return fmt.Errorf("task %s: %w", id, storage.ErrNotFound)
	}

	oldStatus := data.Status
	mutate(data)

	value, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	batch.Set(taskKey(id), value, nil)
	if oldStatus != data.Status {
		batch.Delete(stKey(data.Namespace, oldStatus, data.CreatedAt, id), nil)
		batch.Set(stKey(data.Namespace, data.Status, data.CreatedAt, id), nil, nil)
		batch.Merge(countKey(data.Namespace, oldStatus), encodeInt64(-1), nil)
		batch.Merge(countKey(data.Namespace, data.Status), encodeInt64(1), nil)
	}

	return batch.Commit(pebble.Sync)
}

func (s *PebbleStore) UpdateTaskStatus(ctx context.Context, id string, status types.TaskStatus, dispatchedAt time.Time) error {
	return s.transition(id, func(data *taskData) {
		data.Status = string(status)
		ts := dispatchedAt.UnixNano()
		data.DispatchedAt = &ts
	})
}

func (s *PebbleStore) UpdateTaskResult(ctx context.Context, id string, result json.RawMessage) error {
	return s.transition(id, func(data *taskData) {
		data.Status = string(types.StatusCompleted)
		data.ResultPayload = result
		data.Error = nil
		ts := time.Now().UnixNano()
		data.CompletedAt = &ts
	})
}

func (s *PebbleStore) UpdateTaskError(ctx context.Context, id string, errMsg string) error {
	return s.transition(id, func(data *taskData) {
		data.Status = string(types.StatusFailed)
		data.Error = &errMsg
		ts := time.Now().UnixNano()
		data.CompletedAt = &ts
	})
}

func (s *PebbleStore) GetQueuedTasks(ctx context.Context, namespace string) ([]*storage.TaskRecord, error) {
	s.sync()

	var records []*storage.TaskRecord
	err := s.scanIndex(namespace, string(types.StatusQueued), func(_ []byte, id string) error {
		data, err := s.getTaskData(id)
		if err != nil {
			return err
		}
		if data != nil {
			records = append(records, toTaskRecord(data))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

func fromNamespaceRecord(ns *storage.NamespaceRecord) namespaceData {
	return namespaceData{
		Name:           ns.Name,
		Description:    ns.Description,
		UpstreamURL:    ns.UpstreamURL,
		UpstreamAPIKey: ns.UpstreamAPIKey,
		CreatedAt:      ns.CreatedAt.UnixNano(),
		UpdatedAt:      ns.UpdatedAt.UnixNano(),
	}
}

func toNamespaceRecord(data *namespaceData) *storage.NamespaceRecord {
	return &storage.NamespaceRecord{
		Name:           data.Name,
		Description:    data.Description,
		UpstreamURL:    data.UpstreamURL,
		UpstreamAPIKey: data.UpstreamAPIKey,
		CreatedAt:      time.Unix(0, data.CreatedAt),
		UpdatedAt:      time.Unix(0, data.UpdatedAt),
	}
}

func fromTaskRecord(task *storage.TaskRecord) *taskData {
	method := task.Method
	if method == "" {
		method = "GET"
	}
	return &taskData{
		ID:            task.ID,
		Namespace:     task.Namespace,
		Endpoint:      task.Endpoint,
		Method:        method,
		Query:         task.Query,
		Body:          task.Body,
		Status:        string(task.Status),
		ResultPayload: task.ResultPayload,
		Error:         task.Error,
		CreatedAt:     task.CreatedAt.UnixNano(),
	}
}

func toTaskRecord(data *taskData) *storage.TaskRecord {
	record := &storage.TaskRecord{
		ID:            data.ID,
		Namespace:     data.Namespace,
		Endpoint:      data.Endpoint,
		Method:        data.Method,
		Query:         data.Query,
		Body:          data.Body,
		Status:        types.TaskStatus(data.Status),
		ResultPayload: data.ResultPayload,
		Error:         data.Error,
		CreatedAt:     time.Unix(0, data.CreatedAt),
	}
	if data.DispatchedAt != nil {
		t := time.Unix(0, *data.DispatchedAt)
		record.DispatchedAt = &t
	}
	if data.CompletedAt != nil {
		t := time.Unix(0, *data.CompletedAt)
		record.CompletedAt = &t
	}
	return record
}

// extractIDFromStKey returns the task id from st:{ns}:{status}:{ts}:{id}.
func extractIDFromStKey(key []byte) string {
	i := bytes.LastIndexByte(key, ':')
	if i < 0 || i == len(key)-1 {
		return ""
	}
	return string(key[i+1:])
}
