package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/lenslabs/webset-engine/pkg/apperrors"
)

// Client is the subset of the websets API the workflow layer consumes.
// Workflows and tools depend on this interface; tests substitute stubs.
type Client interface {
	CreateWebset(ctx context.Context, req *CreateWebsetRequest) (*Webset, error)
	GetWebset(ctx context.Context, id string) (*Webset, error)
	CancelWebset(ctx context.Context, id string) error
	DeleteWebset(ctx context.Context, id string) error
	// ListItems pages through the webset's items, stopping at limit (<=0
	// means no cap).
	ListItems(ctx context.Context, websetID string, limit int) ([]WebsetItem, error)
	CreateMonitor(ctx context.Context, req *CreateMonitorRequest) (*Monitor, error)
	CreateResearch(ctx context.Context, req *CreateResearchRequest) (*Research, error)
	GetResearch(ctx context.Context, id string) (*Research, error)
	// PollResearch polls a research job until it reaches a terminal state or
	// the deadline elapses; on deadline the latest observed state is returned.
	PollResearch(ctx context.Context, id string, deadline time.Duration) (*Research, error)
}

// HTTPClient implements Client over the websets HTTP API.
type HTTPClient struct {
	baseURL      string
	apiKey       string
	http         *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPDoer replaces the underlying http.Client.
func WithHTTPDoer(c *http.Client) HTTPClientOption {
	return func(h *HTTPClient) { h.http = c }
}

// WithResearchPollInterval overrides the research poll cadence.
func WithResearchPollInterval(d time.Duration) HTTPClientOption {
	return func(h *HTTPClient) { h.pollInterval = d }
}

// NewHTTPClient creates a websets API client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger, opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:      baseURL,
		apiKey:       apiKey,
		http:         &http.Client{Timeout: timeout},
		pollInterval: 5 * time.Second,
		logger:       logger.Named("upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx upstream response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is a rate limit or server error.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s %s: %w", method, path, apperrors.ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// CreateWebset creates a webset with one search and optional enrichments.
func (c *HTTPClient) CreateWebset(ctx context.Context, req *CreateWebsetRequest) (*Webset, error) {
	var ws Webset
	if err := c.do(ctx, http.MethodPost, "/websets", req, &ws); err != nil {
		return nil, err
	}
	c.logger.Debug("webset created", zap.String("webset_id", ws.ID), zap.String("query", req.Search.Query))
	return &ws, nil
}

// GetWebset fetches a webset with its searches and enrichment definitions.
func (c *HTTPClient) GetWebset(ctx context.Context, id string) (*Webset, error) {
	var ws Webset
	if err := c.do(ctx, http.MethodGet, "/websets/"+url.PathEscape(id), nil, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// CancelWebset stops all running searches and enrichments on a webset.
func (c *HTTPClient) CancelWebset(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/websets/"+url.PathEscape(id)+"/cancel", nil, nil)
}

// DeleteWebset removes a webset upstream.
func (c *HTTPClient) DeleteWebset(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/websets/"+url.PathEscape(id), nil, nil)
}

type listItemsResponse struct {
	Data       []WebsetItem `json:"data"`
	HasMore    bool         `json:"hasMore"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// ListItems pages through a webset's items until limit is reached or the
// listing is exhausted.
func (c *HTTPClient) ListItems(ctx context.Context, websetID string, limit int) ([]WebsetItem, error) {
	var items []WebsetItem
	cursor := ""
	for {
		pageSize := 100
		if limit > 0 && limit-len(items) < pageSize {
			pageSize = limit - len(items)
		}
		path := "/websets/" + url.PathEscape(websetID) + "/items?limit=" + strconv.Itoa(pageSize)
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}

		var page listItemsResponse
		if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
			return items, err
		}
		items = append(items, page.Data...)

		if !page.HasMore || page.NextCursor == "" {
			return items, nil
		}
		if limit > 0 && len(items) >= limit {
			return items[:limit], nil
		}
		cursor = page.NextCursor
	}
}

// CreateMonitor registers a cron monitor on a webset.
func (c *HTTPClient) CreateMonitor(ctx context.Context, req *CreateMonitorRequest) (*Monitor, error) {
	var m Monitor
	if err := c.do(ctx, http.MethodPost, "/monitors", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateResearch dispatches a deep-research job.
func (c *HTTPClient) CreateResearch(ctx context.Context, req *CreateResearchRequest) (*Research, error) {
	var r Research
	if err := c.do(ctx, http.MethodPost, "/research", req, &r); err != nil {
		return nil, err
	}
	c.logger.Debug("research created", zap.String("research_id", r.ID))
	return &r, nil
}

// GetResearch fetches a research job by id.
func (c *HTTPClient) GetResearch(ctx context.Context, id string) (*Research, error) {
	var r Research
	if err := c.do(ctx, http.MethodGet, "/research/"+url.PathEscape(id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PollResearch polls a research job until terminal or deadline. A deadline
// hit is not an error; the latest state is returned so callers can decide.
func (c *HTTPClient) PollResearch(ctx context.Context, id string, deadline time.Duration) (*Research, error) {
	deadlineAt := time.Now().Add(deadline)
	var last *Research
	for {
		r, err := c.GetResearch(ctx, id)
		if err != nil {
			return last, err
		}
		last = r
		switch r.Status {
		case ResearchStatusCompleted, ResearchStatusFailed, ResearchStatusCanceled:
			return r, nil
		}
		if time.Now().After(deadlineAt) {
			return last, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}
