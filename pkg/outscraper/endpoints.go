package outscraper

import (
	"context"
	"encoding/json"
	"strconv"
)

// TaskOptions controls how a task-based endpoint is dispatched.
type TaskOptions struct {
	// Async returns the submission envelope instead of waiting for the result.
	Async bool
	// UI submits the task as if it came from the web app; such tasks are
	// always returned without waiting.
	UI bool
}

func (o TaskOptions) mode() Mode {
	return ModeFor(!o.Async && !o.UI)
}

func (o TaskOptions) apply(p *Params) {
	p.SetBool("async", o.Async || o.UI)
	if o.UI {
		p.SetBool("ui", true)
	}
}

type GoogleSearchOptions struct {
	PagesPerQuery int
	UULE          string
	Language      string
	Region        string
}

// GoogleSearch returns search results for one or more queries.
func (c *Client) GoogleSearch(ctx context.Context, queries []string, opts GoogleSearchOptions) (json.RawMessage, error) {
	if len(queries) == 0 {
		return nil, invalidArgument("query", "must have a value")
	}
	if opts.PagesPerQuery == 0 {
		opts.PagesPerQuery = 1
	}

	p := NewParams().
		Add("query", queries...).
		SetInt("pagesPerQuery", opts.PagesPerQuery).
		Set("uule", opts.UULE).
		Set("language", defaultString(opts.Language, "en")).
		SetOptional("region", opts.Region)

	return c.Dispatch(ctx, Request{Path: "google-search-v3", Params: p, ExtractData: true}, Immediate)
}

type MapsSearchOptions struct {
	Language        string
	Region          string
	Limit           int
	Coordinates     string
	DropDuplicates  bool
	ExtractContacts bool
	Skip            int
}

func (o MapsSearchOptions) params(queries []string) *Params {
	if o.Limit == 0 {
		o.Limit = 400
	}
	return NewParams().
		Add("query", queries...).
		Set("language", defaultString(o.Language, "en")).
		SetOptional("region", o.Region).
		SetInt("organizationsPerQueryLimit", o.Limit).
		SetOptional("coordinates", o.Coordinates).
		SetBool("dropDuplicates", o.DropDuplicates)
}

// GoogleMapsSearchV1 runs a places search as a task.
func (c *Client) GoogleMapsSearchV1(ctx context.Context, queries []string, opts MapsSearchOptions, task TaskOptions) (json.RawMessage, error) {
	if len(queries) == 0 {
		return nil, invalidArgument("query", "must have a value")
	}
	p := opts.params(queries).SetBool("extractContacts", opts.ExtractContacts)
	task.apply(p)

	return c.Dispatch(ctx, Request{Path: "maps/search", Params: p}, task.mode())
}

// GoogleMapsSearch is the speed-optimized places search; it never creates a task.
func (c *Client) GoogleMapsSearch(ctx context.Context, queries []string, opts MapsSearchOptions) (json.RawMessage, error) {
	if len(queries) == 0 {
		return nil, invalidArgument("query", "must have a value")
	}
	p := opts.params(queries).
		SetInt("skipPlaces", opts.Skip).
		SetBool("async", false)

	return c.Dispatch(ctx, Request{Path: "maps/search-v2", Params: p, ExtractData: true}, Immediate)
}

type MapsReviewsOptions struct {
	Language     string
	Region       string
	Limit        int
	ReviewsLimit int
	Coordinates  string
	Cutoff       int64
	CutoffRating int
	Sort         string
	ReviewsQuery string
}

func (o MapsReviewsOptions) params(queries []string) *Params {
	if o.Limit == 0 {
		o.Limit = 1
	}
	if o.ReviewsLimit == 0 {
		o.ReviewsLimit = 100
	}
	p := NewParams().
		Add("query", queries...).
		Set("language", defaultString(o.Language, "en")).
		SetOptional("region", o.Region).
		SetInt("organizationsPerQueryLimit", o.Limit).
		SetInt("reviewsPerOrganizationLimit", o.ReviewsLimit).
		SetOptional("coordinates", o.Coordinates).
		SetOptional("reviewsQuery", o.ReviewsQuery).
		Set("sort", defaultString(o.Sort, "most_relevant"))
	if o.Cutoff > 0 {
		p.Set("cutoff", strconv.FormatInt(o.Cutoff, 10))
	}
	if o.CutoffRating > 0 {
		p.SetInt("cutoffRating", o.CutoffRating)
	}
	return p
}

// GoogleMapsReviewsV2 extracts reviews as a task.
func (c *Client) GoogleMapsReviewsV2(ctx context.Context, queries []string, opts MapsReviewsOptions, task TaskOptions) (json.RawMessage, error) {
	if len(queries) == 0 {
		return nil, invalidArgument("query", "must have a value")
	}
	p := opts.params(queries)
	task.apply(p)

	return c.Dispatch(ctx, Request{Path: "maps/reviews-v2", Params: p}, task.mode())
}

// GoogleMapsReviews is the speed-optimized reviews endpoint.
func (c *Client) GoogleMapsReviews(ctx context.Context, queries []string, opts MapsReviewsOptions) (json.RawMessage, error) {
	if len(queries) == 0 {
		return nil, invalidArgument("query", "must have a value")
	}
	p := opts.params(queries).SetBool("async", false)

	return c.Dispatch(ctx, Request{Path: "maps/reviews-v3", Params: p, ExtractData: true}, Immediate)
}

// EmailsAndContacts returns emails, social links and phones found on domains.
func (c *Client) EmailsAndContacts(ctx context.Context, domains []string) (json.RawMessage, error) {
	return c.immediateQuery(ctx, "emails-and-contacts", domains)
}

// PhonesEnricher returns carrier data for phone numbers.
func (c *Client) PhonesEnricher(ctx context.Context, phones []string) (json.RawMessage, error) {
	return c.immediateQuery(ctx, "phones-enricher", phones)
}

func (c *Client) immediateQuery(ctx context.Context, path string, queries []string) (json.RawMessage, error) {
	if len(queries) == 0 {
		return nil, invalidArgument("query", "must have a value")
	}
	p := NewParams().Add("query", queries...).SetBool("async", false)
	return c.Dispatch(ctx, Request{Path: path, Params: p, ExtractData: true}, Immediate)
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
