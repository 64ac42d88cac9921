// Package outscraper is a client for a data-extraction API that answers
// either directly or with a task id to be polled from the request archive.
//
// Endpoint wrappers describe a call as a Request and pick a Mode; the Client
// takes care of the HTTP exchange, the service's error envelope and, for
// SubmitAndWait, polling the archive until the task is no longer pending.
package outscraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Mode selects what Dispatch does with the first response.
type Mode int

const (
	// Immediate returns the response of a synchronous endpoint.
	Immediate Mode = iota
	// SubmitOnly returns the submission envelope untouched so the caller can
	// poll the task id later.
	SubmitOnly
	// SubmitAndWait submits, then blocks until the task is archived.
	SubmitAndWait
)

func (m Mode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case SubmitOnly:
		return "submit_only"
	case SubmitAndWait:
		return "submit_and_wait"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ModeFor maps a caller's wait decision onto a task-based mode.
func ModeFor(wait bool) Mode {
	if wait {
		return SubmitAndWait
	}
	return SubmitOnly
}

type Option func(*Client)

func WithHTTPClient(hc HTTPClient) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Client is safe for concurrent use: it only holds read-only configuration.
type Client struct {
	cfg        Config
	httpClient HTTPClient
	logger     *zap.Logger
	sleep      func(ctx context.Context, d time.Duration) error

	transport *Transport
	poller    *taskPoller
}

// NewClient validates cfg (after defaults) and builds a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.GetDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:    cfg,
		logger: zap.NewNop(),
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c.transport = newTransport(cfg, c.httpClient, c.logger)
	c.poller = &taskPoller{
		caller:   c,
		interval: cfg.PollInterval,
		budget:   cfg.pollBudget(),
		sleep:    c.sleep,
		logger:   c.logger,
	}
	return c, nil
}

func (c *Client) Config() Config {
	return c.cfg
}

// Transport exposes the raw HTTP layer: one exchange, no envelope check.
func (c *Client) Transport() *Transport {
	return c.transport
}

// call is one Transport round trip followed by envelope validation.
func (c *Client) call(ctx context.Context, req Request) (json.RawMessage, error) {
	raw, err := c.transport.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return Validate(raw)
}

// Dispatch runs req according to mode. The mode is the caller's decision;
// Dispatch never infers it from the request.
func (c *Client) Dispatch(ctx context.Context, req Request, mode Mode) (json.RawMessage, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	switch mode {
	case Immediate, SubmitOnly:
		raw, err := c.call(ctx, req)
		if err != nil {
			return nil, err
		}
		if mode == Immediate && req.ExtractData {
			return ExtractData(raw)
		}
		return raw, nil

	case SubmitAndWait:
		raw, err := c.call(ctx, req)
		if err != nil {
			return nil, err
		}

		task, err := DecodeTask(raw)
		if err != nil {
			return nil, err
		}
		if task.ID == "" {
			return nil, invalidArgument("id", "missing from submission response of "+req.Path)
		}

		c.logger.Info("task submitted",
			zap.String("path", req.Path),
			zap.String("request_id", task.ID))

		result, err := c.poller.AwaitCompletion(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if req.ExtractData {
			return ExtractData(result)
		}
		return result, nil

	default:
		return nil, invalidArgument("mode", mode.String()+" is not supported")
	}
}

// DispatchAll runs independent requests concurrently, at most limit at a
// time (limit <= 0 means no limit). Results keep the order of reqs. The first
// failure cancels the calls still in flight.
func (c *Client) DispatchAll(ctx context.Context, reqs []Request, mode Mode, limit int) ([]json.RawMessage, error) {
	results := make([]json.RawMessage, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			raw, err := c.Dispatch(ctx, req, mode)
			if err != nil {
				return fmt.Errorf("request %d (%s): %w", i, req.Path, err)
			}
			results[i] = raw
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// AwaitCompletion polls the archive for a task id previously returned by a
// SubmitOnly dispatch.
func (c *Client) AwaitCompletion(ctx context.Context, requestID string) (json.RawMessage, error) {
	return c.poller.AwaitCompletion(ctx, requestID)
}

// RequestsHistory fetches the account's most recent requests.
func (c *Client) RequestsHistory(ctx context.Context) (json.RawMessage, error) {
	return c.Dispatch(ctx, Request{Path: archivePath}, Immediate)
}

// RequestArchive fetches one archived request by id.
func (c *Client) RequestArchive(ctx context.Context, requestID string) (json.RawMessage, error) {
	if requestID == "" {
		return nil, invalidArgument("request_id", "must have a value")
	}
	return c.Dispatch(ctx, Request{Path: archivePath + "/" + url.PathEscape(requestID)}, Immediate)
}
