package api

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/georgeshao/outscraper-go/internal/metrics"
	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/pkg/outscraper"
	"github.com/georgeshao/outscraper-go/pkg/types"
)

// Endpoint is a task route served by the sandbox. Immediate endpoints
// resolve inline unless the caller passes async=1 (or true).
type Endpoint struct {
	Path      string
	Immediate bool
}

var DefaultEndpoints = []Endpoint{
	{Path: "google-search-v3", Immediate: true},
	{Path: "maps/search"},
	{Path: "maps/search-v2"},
	{Path: "maps/reviews-v2"},
	{Path: "maps/reviews-v3"},
	{Path: "emails-and-contacts"},
	{Path: "phones-enricher"},
}

// Params consumed by the sandbox itself and never stored with the task.
var controlParams = []string{"async", "ui", "webhook"}

// SubmitTask accepts a task on one of the configured endpoints. With async=0
// (or false) the task is resolved before the call returns and the archive
// entry is sent back; otherwise it is queued and a dispatch is started.
func (h *Handler) SubmitTask(c *fiber.Ctx) error {
	endpoint := strings.Trim(c.Path(), "/")
	ep, ok := h.endpoints[endpoint]
	if !ok {
		return fail(c, fiber.StatusNotFound, "Unknown endpoint: "+endpoint)
	}

	namespace := c.Get(HeaderNamespace, storage.DefaultNamespace)
	ns, err := h.store.GetNamespace(c.Context(), namespace)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get namespace")
	}
	if ns == nil {
		return fail(c, fiber.StatusNotFound, "Namespace not found: "+namespace)
	}

	values, err := url.ParseQuery(outscraper.StripIndexedKeys(string(c.Request().URI().QueryString())))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid query string")
	}
	query := outscraper.ParamsFromValues(values).Values()

	var body json.RawMessage
	if c.Method() == fiber.MethodPost && len(c.Body()) > 0 {
		if !json.Valid(c.Body()) {
			return fail(c, fiber.StatusBadRequest, "Invalid request body")
		}
		body = append(json.RawMessage(nil), c.Body()...)
		if err := mergeBodyParams(query, body); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid request body")
		}
	}

	if len(query["query"]) == 0 {
		return fail(c, fiber.StatusBadRequest, `Parameter "query" is required`)
	}

	inline := ep.Immediate
	if async, err := strconv.ParseBool(first(query["async"])); err == nil {
		inline = !async
	}
	for _, k := range controlParams {
		delete(query, k)
	}

	now := time.Now()
	record := &storage.TaskRecord{
		ID:        newTaskID(),
		Namespace: namespace,
		Endpoint:  endpoint,
		Method:    c.Method(),
		Query:     query,
		Body:      body,
		Status:    types.StatusQueued,
		CreatedAt: now,
	}
	if inline {
		record.Status = types.StatusProcessing
		record.DispatchedAt = &now
	}

	if err := h.store.CreateTask(c.Context(), record); err != nil {
		h.logger.Error("failed to store task", zap.String("namespace", namespace), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to queue task")
	}
	metrics.RecordSubmitted(namespace, endpoint)

	if !inline {
		h.dispatcher.Start(namespace)
		return c.Status(fiber.StatusAccepted).JSON(types.SubmitResponse{
			ID:              record.ID,
			Status:          types.ArchivePending,
			ResultsLocation: resultsLocation(c.BaseURL(), record.ID),
		})
	}

	if err := h.dispatcher.Resolve(c.Context(), ns, record); err != nil {
		return fail(c, fiber.StatusServiceUnavailable, "Failed to resolve task: "+err.Error())
	}

	resolved, err := h.store.GetTask(c.Context(), record.ID)
	if err != nil || resolved == nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get task")
	}
	return c.JSON(recordToTask(resolved, c.BaseURL()))
}

// GetTask serves the request archive. Lookups are by id alone.
func (h *Handler) GetTask(c *fiber.Ctx) error {
	id := c.Params("id")

	record, err := h.store.GetTask(c.Context(), id)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get task")
	}
	if record == nil {
		metrics.RecordArchiveLookup("not_found")
		return fail(c, fiber.StatusNotFound, "Request not found")
	}

	task := recordToTask(record, c.BaseURL())
	metrics.RecordArchiveLookup(task.Status)
	return c.JSON(task)
}

// ListTasks serves the request history of the caller's namespace.
func (h *Handler) ListTasks(c *fiber.Ctx) error {
	namespace := c.Get(HeaderNamespace, storage.DefaultNamespace)
	status := c.Query("status")
	cursor := c.Query("cursor")
	limit := c.QueryInt("limit", 100)
	if limit < 1 || limit > 1000 {
		return fail(c, fiber.StatusBadRequest, "limit must be between 1 and 1000")
	}

	filter := storage.TaskFilter{
		Namespace: &namespace,
		Limit:     limit,
	}

	if status != "" {
		s, ok := parseStatus(status)
		if !ok {
			return fail(c, fiber.StatusBadRequest, "Invalid status: "+status)
		}
		filter.Status = &s
	}
	if cursor != "" {
		t, err := time.Parse(time.RFC3339Nano, cursor)
		if err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid cursor format")
		}
		filter.Cursor = &t
	}

	records, total, err := h.store.ListTasks(c.Context(), filter)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to list tasks")
	}

	tasks := make([]types.Task, len(records))
	for i, record := range records {
		tasks[i] = recordToTask(record, c.BaseURL())
	}

	var nextCursor *string
	if len(records) == limit {
		last := records[len(records)-1].CreatedAt.Format(time.RFC3339Nano)
		nextCursor = &last
	}

	return c.JSON(types.ListTasksResponse{
		Requests:   tasks,
		Total:      total,
		Limit:      limit,
		NextCursor: nextCursor,
	})
}

func newTaskID() string {
	return "task_" + uuid.New().String()
}

// parseStatus accepts both the internal and the archive vocabulary.
// "Pending" maps to queued.
func parseStatus(s string) (types.TaskStatus, bool) {
	switch s {
	case types.ArchivePending:
		return types.StatusQueued, true
	case types.ArchiveSuccess:
		return types.StatusCompleted, true
	case types.ArchiveFailed:
		return types.StatusFailed, true
	}
	for _, st := range storage.TaskStatuses() {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

// mergeBodyParams folds string and string-array fields of a JSON object
// body into query. Other field types stay in the body only.
func mergeBodyParams(query url.Values, body json.RawMessage) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return err
	}
	for k, raw := range fields {
		var one string
		if json.Unmarshal(raw, &one) == nil {
			query[k] = append(query[k], one)
			continue
		}
		var many []string
		if json.Unmarshal(raw, &many) == nil {
			query[k] = append(query[k], many...)
		}
	}
	return nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
