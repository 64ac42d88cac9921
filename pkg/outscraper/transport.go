package outscraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPClient is satisfied by *http.Client and lets tests swap the network out.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one call against the service. It is built per call and
// never retained by the client.
type Request struct {
	Method string // http.MethodGet or http.MethodPost; empty means GET
	Path   string // relative to the base URL, e.g. "maps/search"
	Params *Params
	Body   any // POST only, encoded as a single JSON object

	// ExtractData makes the orchestrator return the "data" field of the final
	// payload instead of the whole envelope.
	ExtractData bool
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(r.Method)
}

func (r Request) validate() error {
	if strings.Trim(r.Path, "/ ") == "" {
		return invalidArgument("path", "must have a value")
	}
	switch r.method() {
	case http.MethodGet:
		if r.Body != nil {
			return invalidArgument("body", "is only allowed on POST requests")
		}
	case http.MethodPost:
	default:
		return invalidArgument("method", fmt.Sprintf("%q is not supported", r.Method))
	}
	return nil
}

// Transport performs exactly one HTTP exchange per Execute call. It never
// retries.
type Transport struct {
	baseURL string
	headers http.Header
	client  HTTPClient
	limiter *rate.Limiter
	logger  *zap.Logger
}

func newTransport(cfg Config, client HTTPClient, logger *zap.Logger) *Transport {
	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set("Client", cfg.ClientName)
	headers.Set("X-API-KEY", cfg.APIKey)

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	return &Transport{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		headers: headers,
		client:  client,
		limiter: limiter,
		logger:  logger,
	}
}

// buildURL joins base and path and appends the query. Any query already
// embedded in path is cleaned of indexed-bracket keys first.
func (t *Transport) buildURL(req Request) string {
	path, rawQuery, _ := strings.Cut(strings.TrimLeft(req.Path, "/"), "?")
	rawQuery = StripIndexedKeys(rawQuery)

	if encoded := req.Params.Encode(); encoded != "" {
		if rawQuery != "" {
			rawQuery += "&"
		}
		rawQuery += encoded
	}

	u := t.baseURL + "/" + path
	if rawQuery != "" {
		u += "?" + rawQuery
	}
	return u
}

// Execute sends req and returns the raw JSON body.
func (t *Transport) Execute(ctx context.Context, req Request) (json.RawMessage, error) {
	method := req.method()
	target := t.buildURL(req)

	var body io.Reader
	if method == http.MethodPost {
		payload := req.Body
		if payload == nil {
			payload = map[string]any{}
		}
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	for k, v := range t.headers {
		httpReq.Header[k] = v
	}
	if method == http.MethodPost {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	t.logger.Debug("sending request", zap.String("method", method), zap.String("url", target))

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if !json.Valid(raw) {
		return nil, &TransportError{Method: method, URL: target, StatusCode: resp.StatusCode, Err: ErrInvalidJSON}
	}

	return json.RawMessage(raw), nil
}
