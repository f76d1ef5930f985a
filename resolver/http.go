package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// GraphQLPath is appended to the code host endpoint.
const GraphQLPath = "/.api/graphql"

// HTTPQuerier posts GraphQL queries to a code host. Identical concurrent
// queries share one round trip, and requests are rate limited.
type HTTPQuerier struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	flight  singleflight.Group
}

// HTTPOption configures an HTTPQuerier.
type HTTPOption func(*HTTPQuerier)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(q *HTTPQuerier) { q.client = c }
}

// WithTimeout bounds each round trip. The client is copied, so a client
// passed to WithHTTPClient is left untouched.
func WithTimeout(d time.Duration) HTTPOption {
	return func(q *HTTPQuerier) {
		if d > 0 {
			c := *q.client
			c.Timeout = d
			q.client = &c
		}
	}
}

// WithRateLimit allows r queries per second with the given burst. A zero
// rate disables limiting.
func WithRateLimit(r float64, burst int) HTTPOption {
	return func(q *HTTPQuerier) {
		if r <= 0 {
			q.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst < 1 {
			burst = 1
		}
		q.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// NewHTTPQuerier creates a querier for the code host at endpoint.
func NewHTTPQuerier(endpoint string, opts ...HTTPOption) *HTTPQuerier {
	q := &HTTPQuerier{
		url:     strings.TrimRight(endpoint, "/") + GraphQLPath,
		client:  &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Inf, 0),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

// QueryGraphQL implements Querier.
func (q *HTTPQuerier) QueryGraphQL(ctx context.Context, query string, variables map[string]interface{}) (*Response, error) {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("encoding graphql request: %w", err)
	}

	ch := q.flight.DoChan(string(body), func() (interface{}, error) {
		return q.post(context.WithoutCancel(ctx), body)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Response), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *HTTPQuerier) post(ctx context.Context, body []byte) (*Response, error) {
	if err := q.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("reading graphql response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := data
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, fmt.Errorf("graphql endpoint returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding graphql response: %w", err)
	}
	return &out, nil
}
