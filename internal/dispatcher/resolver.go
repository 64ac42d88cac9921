package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/pkg/outscraper"
)

// Resolver turns a submitted task into its result data.
type Resolver interface {
	Resolve(ctx context.Context, ns *storage.NamespaceRecord, task *storage.TaskRecord) (json.RawMessage, error)
}

// SimulateErrorParam makes the fixture resolver fail a task with the given
// message.
const SimulateErrorParam = "simulateError"

// FixtureResolver answers every task locally with deterministic data: one
// result list per query value.
type FixtureResolver struct {
	Delay time.Duration
}

type fixtureRow struct {
	Query    string `json:"query"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	Position int    `json:"position"`
}

func (f FixtureResolver) Resolve(ctx context.Context, ns *storage.NamespaceRecord, task *storage.TaskRecord) (json.RawMessage, error) {
	if f.Delay > 0 {
		timer := time.NewTimer(f.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if msg := first(task.Query[SimulateErrorParam]); msg != "" {
		return nil, errors.New(msg)
	}

	queries := task.Query["query"]
	data := make([][]fixtureRow, len(queries))
	for i, q := range queries {
		data[i] = []fixtureRow{{
			Query:    q,
			Name:     q + " (fixture)",
			Endpoint: task.Endpoint,
			Position: 1,
		}}
	}
	return json.Marshal(data)
}

// UpstreamResolver forwards tasks to a real extraction API through the SDK.
// Namespaces may override the base URL and key; when neither the namespace
// nor the defaults name an upstream, the fallback resolver is used.
type UpstreamResolver struct {
	defaults outscraper.Config
	fallback Resolver
	logger   *zap.Logger
	opts     []outscraper.Option

	mu      sync.Mutex
	clients map[string]*outscraper.Client
}

func NewUpstreamResolver(defaults outscraper.Config, fallback Resolver, logger *zap.Logger, opts ...outscraper.Option) *UpstreamResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UpstreamResolver{
		defaults: defaults,
		fallback: fallback,
		logger:   logger,
		opts:     append([]outscraper.Option{outscraper.WithLogger(logger)}, opts...),
		clients:  make(map[string]*outscraper.Client),
	}
}

func (r *UpstreamResolver) Resolve(ctx context.Context, ns *storage.NamespaceRecord, task *storage.TaskRecord) (json.RawMessage, error) {
	cfg := r.defaults
	if ns.UpstreamURL != nil {
		cfg.BaseURL = *ns.UpstreamURL
	}
	if ns.UpstreamAPIKey != nil {
		cfg.APIKey = *ns.UpstreamAPIKey
	}
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		if r.fallback == nil {
			return nil, fmt.Errorf("no upstream configured for namespace %s", ns.Name)
		}
		return r.fallback.Resolve(ctx, ns, task)
	}

	client, err := r.client(cfg)
	if err != nil {
		return nil, err
	}

	req := outscraper.Request{
		Method: task.Method,
		Path:   task.Endpoint,
		Params: outscraper.ParamsFromValues(task.Query).SetBool("async", false),
	}
	if len(task.Body) > 0 {
		req.Body = task.Body
	}

	raw, err := client.Dispatch(ctx, req, outscraper.Immediate)
	if err != nil {
		return nil, err
	}

	// Some endpoints ignore async=0 for large jobs and hand back a task.
	if pending, err := outscraper.DecodeTask(raw); err == nil && pending.Pending() && pending.ID != "" {
		r.logger.Debug("upstream returned a pending task",
			zap.String("task_id", task.ID),
			zap.String("upstream_id", pending.ID))
		raw, err = client.AwaitCompletion(ctx, pending.ID)
		if err != nil {
			return nil, err
		}
		if done, err := outscraper.DecodeTask(raw); err == nil && done.Status == "Failed" {
			return nil, fmt.Errorf("upstream task %s failed", pending.ID)
		}
	}

	return outscraper.ExtractData(raw)
}

func (r *UpstreamResolver) client(cfg outscraper.Config) (*outscraper.Client, error) {
	key := cfg.BaseURL + "\x00" + cfg.APIKey

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c, nil
	}
	c, err := outscraper.NewClient(cfg, r.opts...)
	if err != nil {
		return nil, fmt.Errorf("build upstream client: %w", err)
	}
	r.clients[key] = c
	return c, nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
