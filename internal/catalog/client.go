package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"
)

// Client provides access to the catalog REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a catalog client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       slog.Default(),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// Resolve maps an event slug or id to its member outcome tokens.
//
// A reference containing only digits is treated as an id, anything else as a
// slug. Failures never mutate any engine state: the caller decides what to
// do with the error.
func (c *Client) Resolve(ctx context.Context, ref string) (Resolution, error) {
	query := url.Values{}
	if isNumeric(ref) {
		query.Set("id", ref)
	} else {
		query.Set("slug", ref)
	}

	var events []apiEvent
	if err := c.get(ctx, "/events", query, &events); err != nil {
		return Resolution{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if len(events) == 0 {
		return Resolution{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}

	ev := events[0]
	tokens, err := memberTokens(ev)
	if err != nil {
		return Resolution{}, err
	}

	return Resolution{
		EventID:         ev.ID,
		Title:           ev.Title,
		Slug:            ev.Slug,
		Tokens:          tokens,
		ExpectedMembers: len(tokens),
	}, nil
}

// memberTokens extracts the mutually exclusive outcome set from an event.
//
// Two shapes occur: a single market whose outcomes are the event's sides
// (2-way moneyline), or one binary market per side where the first token of
// each market is that side's "yes" (2-way or 3-way with draw).
func memberTokens(ev apiEvent) ([]Token, error) {
	open := make([]apiMarket, 0, len(ev.Markets))
	for _, m := range ev.Markets {
		if m.Closed {
			continue
		}
		open = append(open, m)
	}

	if len(open) == 1 {
		ids, err := decodeStringArray(open[0].ClobTokenIDs)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
		}
		outcomes, err := decodeStringArray(open[0].Outcomes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedShape, err)
		}

		tokens := make([]Token, 0, len(ids))
		for i, id := range ids {
			if id == "" {
				continue
			}
			name := fmt.Sprintf("Option %d", i+1)
			if i < len(outcomes) {
				name = outcomes[i]
			}
			tokens = append(tokens, Token{ID: id, Outcome: name})
		}
		if len(tokens) != 2 && len(tokens) != 3 {
			return nil, fmt.Errorf("%w: %d outcomes in single market", ErrUnsupportedShape, len(tokens))
		}
		return tokens, nil
	}

	if len(open) == 2 || len(open) == 3 {
		tokens := make([]Token, 0, len(open))
		for _, m := range open {
			ids, err := decodeStringArray(m.ClobTokenIDs)
			if err != nil || len(ids) == 0 || ids[0] == "" {
				return nil, fmt.Errorf("%w: market %q has no tokens", ErrUnsupportedShape, m.Question)
			}
			name := m.GroupItemTitle
			if name == "" {
				name = m.Question
			}
			tokens = append(tokens, Token{ID: ids[0], Outcome: name})
		}
		return tokens, nil
	}

	return nil, fmt.Errorf("%w: %d open markets", ErrUnsupportedShape, len(open))
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// doRequest performs a single HTTP request.
func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
			Body:       body,
		}
	}

	return body, nil
}

// doWithRetry performs a request with jittered exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying catalog request",
				"attempt", attempt,
				"backoff", jitter,
				"path", path,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}

		lastErr = err

		apiErr, ok := err.(*APIError)
		if !ok || !apiErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// get performs a GET request with retries and unmarshals the result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, path, query)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}
