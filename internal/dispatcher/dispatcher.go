package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/georgeshao/outscraper-go/internal/metrics"
	"github.com/georgeshao/outscraper-go/internal/storage"
	"github.com/georgeshao/outscraper-go/pkg/types"
)

type Config struct {
	MaxWorkers        int
	RequestTimeout    time.Duration
	RequestsPerSecond float64 // per namespace; <= 0 means unlimited
}

func DefaultConfig() Config {
	return Config{
		MaxWorkers:        10,
		RequestTimeout:    300 * time.Second,
		RequestsPerSecond: 10,
	}
}

// Dispatcher drains queued tasks through a Resolver. At most one dispatch
// loop runs per namespace; a trigger that arrives while one is running makes
// it go around again instead of starting a second loop.
type Dispatcher struct {
	store    storage.Store
	resolver Resolver
	config   Config
	logger   *zap.Logger

	mu               sync.Mutex
	activeDispatches map[string]bool
	rerun            map[string]bool
	rateLimiters     map[string]*rate.Limiter

	wg sync.WaitGroup
}

func New(store storage.Store, resolver Resolver, config Config, logger *zap.Logger) *Dispatcher {
	if config.MaxWorkers < 1 {
		config.MaxWorkers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		store:            store,
		resolver:         resolver,
		config:           config,
		logger:           logger,
		activeDispatches: make(map[string]bool),
		rerun:            make(map[string]bool),
		rateLimiters:     make(map[string]*rate.Limiter),
	}
}

func NewDispatchID() string {
	return "disp_" + uuid.New().String()
}

// Start runs Dispatch in the background and returns its dispatch id.
func (d *Dispatcher) Start(namespace string) string {
	dispatchID := NewDispatchID()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Dispatch(namespace, dispatchID)
	}()
	return dispatchID
}

// Wait blocks until every dispatch started with Start has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Dispatch resolves queued tasks of namespace until none are left.
func (d *Dispatcher) Dispatch(namespace string, dispatchID string) {
	log := d.logger.With(zap.String("dispatch_id", dispatchID), zap.String("namespace", namespace))

	d.mu.Lock()
	if d.activeDispatches[namespace] {
		d.rerun[namespace] = true
		d.mu.Unlock()
		log.Debug("dispatch already in progress, scheduled another pass")
		return
	}
	d.activeDispatches[namespace] = true
	d.mu.Unlock()

	metrics.ActiveDispatches.Inc()
	defer metrics.ActiveDispatches.Dec()

	for {
		d.drain(context.Background(), namespace, log)

		d.mu.Lock()
		if !d.rerun[namespace] {
			delete(d.activeDispatches, namespace)
			d.mu.Unlock()
			return
		}
		delete(d.rerun, namespace)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) drain(ctx context.Context, namespace string, log *zap.Logger) {
	ns, err := d.store.GetNamespace(ctx, namespace)
	if err != nil || ns == nil {
		log.Warn("failed to get namespace", zap.Error(err))
		return
	}

	for {
		tasks, err := d.store.GetQueuedTasks(ctx, namespace)
		if err != nil {
			log.Error("failed to get queued tasks", zap.Error(err))
			return
		}
		if len(tasks) == 0 {
			log.Debug("no queued tasks")
			return
		}

		log.Info("processing tasks", zap.Int("count", len(tasks)))
		if moved := d.runBatch(ctx, ns, tasks, log); moved == 0 {
			log.Error("no task left the queue, giving up on this pass")
			return
		}
	}
}

// runBatch resolves tasks concurrently and reports how many left the queue.
func (d *Dispatcher) runBatch(ctx context.Context, ns *storage.NamespaceRecord, tasks []*storage.TaskRecord, log *zap.Logger) int {
	limiter := d.getRateLimiter(ns.Name)

	g, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, d.config.MaxWorkers)

	var mu sync.Mutex
	moved := 0

	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}

			sem <- struct{}{}
			defer func() { <-sem }()

			if d.processTask(ctx, ns, task, log) {
				mu.Lock()
				moved++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Warn("dispatch pass completed with errors", zap.Error(err))
	}
	return moved
}

// Resolve runs a single task inline, bypassing the queue. The task must
// already be stored with StatusProcessing. If the namespace limiter gives up
// first, the task is marked failed so it never lingers as processing.
func (d *Dispatcher) Resolve(ctx context.Context, ns *storage.NamespaceRecord, task *storage.TaskRecord) error {
	log := d.logger.With(zap.String("namespace", ns.Name), zap.Bool("inline", true))

	if err := d.getRateLimiter(ns.Name).Wait(ctx); err != nil {
		log.Warn("inline task not started", zap.String("task_id", task.ID), zap.Error(err))
		if updateErr := d.store.UpdateTaskError(context.WithoutCancel(ctx), task.ID, err.Error()); updateErr != nil {
			log.Error("failed to store task error", zap.String("task_id", task.ID), zap.Error(updateErr))
		}
		metrics.RecordResolved(ns.Name, types.ArchiveFailed, 0)
		return err
	}

	d.processTask(ctx, ns, task, log)
	return nil
}

// processTask returns false if the task could not be moved out of the queue.
func (d *Dispatcher) processTask(ctx context.Context, ns *storage.NamespaceRecord, task *storage.TaskRecord, log *zap.Logger) bool {
	log = log.With(zap.String("task_id", task.ID), zap.String("endpoint", task.Endpoint))
	start := time.Now()

	if task.Status == types.StatusQueued {
		if err := d.store.UpdateTaskStatus(ctx, task.ID, types.StatusProcessing, start); err != nil {
			log.Error("failed to mark task processing", zap.Error(err))
			return false
		}
	}

	resolveCtx, cancel := context.WithTimeout(ctx, d.config.RequestTimeout)
	defer cancel()

	result, err := d.resolver.Resolve(resolveCtx, ns, task)
	if err != nil {
		log.Warn("task failed", zap.Error(err))
		if updateErr := d.store.UpdateTaskError(ctx, task.ID, err.Error()); updateErr != nil {
			log.Error("failed to store task error", zap.Error(updateErr))
		}
		metrics.RecordResolved(ns.Name, types.ArchiveFailed, time.Since(start))
		return true
	}

	if err := d.store.UpdateTaskResult(ctx, task.ID, result); err != nil {
		log.Error("failed to store task result", zap.Error(err))
		return true
	}

	metrics.RecordResolved(ns.Name, types.ArchiveSuccess, time.Since(start))
	log.Info("task completed", zap.Duration("took", time.Since(start)))
	return true
}

func (d *Dispatcher) getRateLimiter(namespace string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()

	if limiter, ok := d.rateLimiters[namespace]; ok {
		return limiter
	}

	limit := rate.Inf
	if d.config.RequestsPerSecond > 0 {
		limit = rate.Limit(d.config.RequestsPerSecond)
	}
	limiter := rate.NewLimiter(limit, 1)
	d.rateLimiters[namespace] = limiter
	return limiter
}
