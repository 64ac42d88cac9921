package api

import (
	"errors"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/georgeshao/outscraper-go/internal/dispatcher"
	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/pkg/types"
)

var namespaceNameRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

type Handler struct {
	store      storage.Store
	dispatcher *dispatcher.Dispatcher
	endpoints  map[string]Endpoint
	logger     *zap.Logger
}

func NewHandler(store storage.Store, d *dispatcher.Dispatcher, endpoints []Endpoint, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	byPath := make(map[string]Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byPath[ep.Path] = ep
	}
	return &Handler{
		store:      store,
		dispatcher: d,
		endpoints:  byPath,
		logger:     logger,
	}
}

func (h *Handler) CreateNamespace(c *fiber.Ctx) error {
	var req types.CreateNamespaceRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	if req.Name == "" {
		return fail(c, fiber.StatusBadRequest, "Name is required")
	}
	if !namespaceNameRe.MatchString(req.Name) {
		return fail(c, fiber.StatusBadRequest, "Name may only contain lowercase letters, digits, '-' and '_'")
	}

	existing, err := h.store.GetNamespace(c.Context(), req.Name)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to check namespace")
	}
	if existing != nil {
		return fail(c, fiber.StatusConflict, "Namespace already exists")
	}

	now := time.Now()
	record := &storage.NamespaceRecord{
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	applyUpstream(record, req.Upstream)

	if err := h.store.CreateNamespace(c.Context(), record); err != nil {
		h.logger.Error("failed to create namespace", zap.String("namespace", req.Name), zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to create namespace")
	}

	return c.Status(fiber.StatusCreated).JSON(recordToNamespace(record))
}

func (h *Handler) GetNamespace(c *fiber.Ctx) error {
	name := c.Params("name")

	record, err := h.store.GetNamespace(c.Context(), name)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get namespace")
	}
	if record == nil {
		return fail(c, fiber.StatusNotFound, "Namespace not found")
	}

	stats, err := h.store.GetNamespaceStats(c.Context(), name)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get namespace stats")
	}

	resp := recordToNamespace(record)
	resp.Stats = stats
	return c.JSON(resp)
}

func (h *Handler) UpdateNamespace(c *fiber.Ctx) error {
	name := c.Params("name")

	var req types.UpdateNamespaceRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	existing, err := h.store.GetNamespace(c.Context(), name)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get namespace")
	}
	if existing == nil {
		return fail(c, fiber.StatusNotFound, "Namespace not found")
	}

	if req.Description != nil {
		existing.Description = *req.Description
	}
	applyUpstream(existing, req.Upstream)
	existing.UpdatedAt = time.Now()

	if err := h.store.UpdateNamespace(c.Context(), name, existing); err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to update namespace")
	}

	return c.JSON(recordToNamespace(existing))
}

// DeleteNamespace refuses while the namespace still has tasks in flight.
func (h *Handler) DeleteNamespace(c *fiber.Ctx) error {
	name := c.Params("name")
	if name == storage.DefaultNamespace {
		return fail(c, fiber.StatusForbidden, "Cannot delete default namespace")
	}

	stats, err := h.store.GetNamespaceStats(c.Context(), name)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get namespace stats")
	}
	if stats.Queued > 0 || stats.Processing > 0 {
		return c.Status(fiber.StatusConflict).JSON(types.DeleteNamespaceConflictResponse{
			ErrorResponse: types.NewErrorResponse("Namespace has unfinished tasks"),
			Queued:        stats.Queued,
			Processing:    stats.Processing,
		})
	}

	deleted, err := h.store.DeleteNamespace(c.Context(), name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "Namespace not found")
		}
		return fail(c, fiber.StatusInternalServerError, "Failed to delete namespace")
	}

	return c.JSON(types.DeleteNamespaceResponse{
		Message:      "Namespace '" + name + "' deleted successfully",
		DeletedTasks: deleted,
	})
}

func (h *Handler) ListNamespaces(c *fiber.Ctx) error {
	records, err := h.store.ListNamespaces(c.Context())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to list namespaces")
	}

	namespaces := make([]types.Namespace, len(records))
	for i, record := range records {
		namespaces[i] = recordToNamespace(record)
	}

	return c.JSON(namespaces)
}

func (h *Handler) TriggerDispatch(c *fiber.Ctx) error {
	var req types.DispatchRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, "Invalid request body")
		}
	}
	if req.Namespace == "" {
		req.Namespace = c.Get(HeaderNamespace, storage.DefaultNamespace)
	}

	ns, err := h.store.GetNamespace(c.Context(), req.Namespace)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get namespace")
	}
	if ns == nil {
		return fail(c, fiber.StatusNotFound, "Namespace not found")
	}

	queued, err := h.store.GetQueuedTasks(c.Context(), req.Namespace)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to get queued tasks")
	}

	if len(queued) == 0 {
		return c.JSON(types.DispatchResponse{
			DispatchID:  dispatcher.NewDispatchID(),
			Namespace:   req.Namespace,
			QueuedCount: 0,
			Status:      types.DispatchIdle,
		})
	}

	dispatchID := h.dispatcher.Start(req.Namespace)

	return c.Status(fiber.StatusAccepted).JSON(types.DispatchResponse{
		DispatchID:  dispatchID,
		Namespace:   req.Namespace,
		QueuedCount: len(queued),
		Status:      types.DispatchStarted,
	})
}

// applyUpstream copies an override onto record. An empty base_url clears it.
func applyUpstream(record *storage.NamespaceRecord, up *types.UpstreamOverride) {
	if up == nil {
		return
	}
	if up.BaseURL != nil {
		if *up.BaseURL == "" {
			record.UpstreamURL = nil
			record.UpstreamAPIKey = nil
			return
		}
		url := *up.BaseURL
		record.UpstreamURL = &url
	}
	if up.APIKey != nil {
		key := *up.APIKey
		record.UpstreamAPIKey = &key
	}
}
