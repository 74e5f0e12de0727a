// Package api implements the client side of the remote sync contract: the
// bulk create endpoint, the individual idempotent endpoint, the change feed,
// and the bootstrap listing endpoint.
package api

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

	"github.com/rs/zerolog"

	"github.com/prudhvinik1/tracksync/models"
)

const (
	// IdempotencyKeyHeader carries the per-mutation idempotency key on the
	// individual endpoint.
	IdempotencyKeyHeader = "Idempotency-Key"

	// ReplayedHeader is set by the server when it returns a cached response
	// for a previously seen idempotency key.
	ReplayedHeader = "X-Idempotency-Replayed"

	// DefaultRequestTimeout bounds every network call; there is no
	// cross-cycle cancellation beyond this.
	DefaultRequestTimeout = 30 * time.Second

	// MaxBatchSize is the server-side cap on bulk create payloads.
	MaxBatchSize = 50
)

// Client talks to the remote sync API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenProvider
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests inject
// httptest server clients here).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger attaches a structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a client for the given API root, e.g.
// "https://api.example.com/api/v1".
func NewClient(baseURL string, tokens TokenProvider, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultRequestTimeout},
		tokens:  tokens,
		timeout: DefaultRequestTimeout,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitRequest is the body for the individual idempotent endpoint.
type SubmitRequest struct {
	EntityType models.EntityType `json:"entity_type"`
	Operation  models.Operation  `json:"operation"`
	EntityID   string            `json:"entity_id"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// SubmitResponse reports the outcome of an individual submission.
type SubmitResponse struct {
	EntityID string `json:"entity_id"`
	Replayed bool   `json:"-"` // set from the replay header, not the body
}

// Health performs the lightweight pre-sync check. It validates both
// connectivity and the credential in a single round trip.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// CreateBatch submits up to MaxBatchSize creates in one call. Duplicate IDs
// are success, not error: the bulk path has upsert semantics.
func (c *Client) CreateBatch(ctx context.Context, items []models.BatchItem) (*models.BatchResponse, error) {
	if len(items) == 0 {
		return &models.BatchResponse{}, nil
	}
	if len(items) > MaxBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds maximum of %d", len(items), MaxBatchSize)
	}

	var resp models.BatchResponse
	if err := c.do(ctx, http.MethodPost, "/entities/batch", nil, items, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug().Int("items", len(items)).Int("results", len(resp.Results)).
		Msg("batch create accepted")
	return &resp, nil
}

// Submit sends one mutation through the individual endpoint. Replaying the
// same key returns the original result; a key reused with a different
// payload yields a 409, surfaced via IsConflict.
func (c *Client) Submit(ctx context.Context, idempotencyKey string, req SubmitRequest) (*SubmitResponse, error) {
	headers := map[string]string{IdempotencyKeyHeader: idempotencyKey}

	var resp SubmitResponse
	replayed, err := c.doWithHeaders(ctx, http.MethodPost, "/entities", nil, headers, req, &resp)
	if err != nil {
		return nil, err
	}
	resp.Replayed = replayed
	if resp.EntityID == "" {
		resp.EntityID = req.EntityID
	}

	if replayed {
		c.logger.Debug().Str("entity_id", req.EntityID).Msg("idempotent replay")
	}
	return &resp, nil
}

// Changes fetches change-log entries with id strictly greater than since.
func (c *Client) Changes(ctx context.Context, since int64, limit int) (*models.ChangeFeedResponse, error) {
	params := url.Values{}
	params.Set("since", strconv.FormatInt(since, 10))
	params.Set("limit", strconv.Itoa(limit))

	var resp models.ChangeFeedResponse
	if err := c.do(ctx, http.MethodGet, "/changes", params, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LatestCursor returns the server's current max change-log ID. Bootstrap uses
// it to set the post-import cursor; the UI uses it to estimate backlog.
func (c *Client) LatestCursor(ctx context.Context) (int64, error) {
	var resp struct {
		Cursor int64 `json:"cursor"`
	}
	if err := c.do(ctx, http.MethodGet, "/changes/latest", nil, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Cursor, nil
}

// EntityRecord is one row of a bootstrap listing.
type EntityRecord struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// ListEntities returns one page of the full listing for a type. Only
// bootstrap calls this.
func (c *Client) ListEntities(ctx context.Context, entityType models.EntityType, offset, limit int) ([]EntityRecord, error) {
	params := url.Values{}
	params.Set("type", string(entityType))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))

	var records []EntityRecord
	if err := c.do(ctx, http.MethodGet, "/entities", params, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, body, out any) error {
	_, err := c.doWithHeaders(ctx, method, path, params, nil, body, out)
	return err
}

func (c *Client) doWithHeaders(ctx context.Context, method, path string, params url.Values, headers map[string]string, body, out any) (replayed bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to obtain credential: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	replayed = resp.Header.Get(ReplayedHeader) == "true"

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return replayed, &Error{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return replayed, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return replayed, nil
}
