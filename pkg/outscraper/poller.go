package outscraper

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// archivePath is the "fetch archived request by id" endpoint.
const archivePath = "requests"

type caller interface {
	call(ctx context.Context, req Request) (json.RawMessage, error)
}

// taskPoller waits for a task to leave the pending state by re-fetching its
// archive entry at a fixed interval.
type taskPoller struct {
	caller   caller
	interval time.Duration
	budget   int
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *zap.Logger
}

// AwaitCompletion sleeps, fetches, and repeats until the archived status is
// anything other than "Pending". Terminal statuses, failed ones included, are
// returned unchanged. When the budget runs out first a *TimeoutError is
// returned.
func (p *taskPoller) AwaitCompletion(ctx context.Context, requestID string) (json.RawMessage, error) {
	if requestID == "" {
		return nil, invalidArgument("request_id", "must have a value")
	}

	started := time.Now()
	req := Request{Path: archivePath + "/" + url.PathEscape(requestID)}

	for remaining := p.budget; remaining > 0; {
		if err := p.sleep(ctx, p.interval); err != nil {
			return nil, fmt.Errorf("wait for request %s: %w", requestID, err)
		}
		remaining--

		raw, err := p.caller.call(ctx, req)
		if err != nil {
			return nil, err
		}

		task, err := DecodeTask(raw)
		if err != nil {
			return nil, err
		}

		p.logger.Debug("polled request archive",
			zap.String("request_id", requestID),
			zap.String("status", task.Status),
			zap.Int("remaining", remaining))

		if !task.Pending() {
			return raw, nil
		}
	}

	p.logger.Warn("request still pending after poll budget",
		zap.String("request_id", requestID),
		zap.Int("attempts", p.budget))

	return nil, &TimeoutError{RequestID: requestID, Attempts: p.budget, Waited: time.Since(started)}
}

// sleepContext suspends for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
