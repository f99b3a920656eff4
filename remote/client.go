package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/singleflight"
)

// Operation describes one remote API operation. Invalidates lists the query
// families a successful mutation wipes from the cache.
type Operation struct {
	Name        string
	Document    string
	Invalidates []string
}

type ClientConfig struct {
	BaseURL          string
	RequestTimeout   time.Duration
	CacheTTL         time.Duration
	CacheMaxEntries  int
	RetryMaxAttempts int
	RetryMaxDelay    time.Duration
	Logger           *slog.Logger
}

// Client is the typed gateway to the remote tournament service. Construct one
// per process and share it: a fresh client per job means a cold cache and the
// N+1-call problem all over again.
type Client struct {
	httpClient       *http.Client
	baseURL          string
	cache            *queryCache
	flight           singleflight.Group
	requestTimeout   time.Duration
	retryMaxAttempts int
	retryMaxDelay    time.Duration
	logger           *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 4
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		httpClient:       &http.Client{Timeout: cfg.RequestTimeout},
		baseURL:          cfg.BaseURL,
		cache:            newQueryCache(cfg.CacheMaxEntries, cfg.CacheTTL),
		requestTimeout:   cfg.RequestTimeout,
		retryMaxAttempts: cfg.RetryMaxAttempts,
		retryMaxDelay:    cfg.RetryMaxDelay,
		logger:           cfg.Logger,
	}
}

// Query runs a read operation. Results are cached by (operation, credential,
// serialized variables); identical in-flight requests are coalesced into one
// network call. The credential is part of the key so one tournament owner's
// responses are never served to a caller holding a different token.
func (c *Client) Query(ctx context.Context, token string, op Operation, vars map[string]any) (json.RawMessage, error) {
	key, err := requestKey(op.Name, token, vars)
	if err != nil {
		return nil, err
	}

	if cached, ok := c.cache.get(key); ok {
		return cached, nil
	}

	result, err, _ := c.flight.Do(key, func() (any, error) {
		if cached, ok := c.cache.get(key); ok {
			return cached, nil
		}
		data, doErr := c.do(ctx, token, op, vars)
		if doErr != nil {
			return nil, doErr
		}
		c.cache.set(key, op.Name, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

// Mutate runs a write operation. Mutations are never cached; a successful
// mutation invalidates the query families it declares.
func (c *Client) Mutate(ctx context.Context, token string, op Operation, vars map[string]any) (json.RawMessage, error) {
	data, err := c.do(ctx, token, op, vars)
	if err != nil {
		return nil, err
	}
	c.cache.invalidateOperations(op.Invalidates)
	return data, nil
}

// do performs the request with exponential backoff plus jitter, bounded by
// the configured attempt count and maximum delay. Auth and business errors
// are permanent; rate limits and transport failures are retried.
func (c *Client) do(ctx context.Context, token string, op Operation, vars map[string]any) (json.RawMessage, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 500 * time.Millisecond
	expo.MaxInterval = c.retryMaxDelay

	attempt := 0
	return backoff.Retry(ctx, func() (json.RawMessage, error) {
		attempt++
		data, err := c.doOnce(ctx, token, op, vars)
		if err != nil && attempt < c.retryMaxAttempts {
			c.logger.Warn("remote API call failed, may retry",
				slog.String("operation", op.Name),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
		return data, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(c.retryMaxAttempts)))
}

func (c *Client) doOnce(ctx context.Context, token string, op Operation, vars map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"operationName": op.Name,
		"query":         op.Document,
		"variables":     vars,
	})
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to encode %s request: %w", op.Name, err))
	}

	// Hard per-request timeout so a hung remote call cannot stall a poll cycle.
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build %s request: %w", op.Name, err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Transport failure: transient, retried.
		return nil, fmt.Errorf("%s request failed: %w", op.Name, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, backoff.Permanent(&AuthError{Status: resp.StatusCode, Message: string(msg)})

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter > 0 {
			// Honor the server-provided delay instead of our own schedule.
			return nil, &backoff.RetryAfterError{Duration: retryAfter}
		}
		return nil, &RateLimitError{}

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%s returned status %d", op.Name, resp.StatusCode)

	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, backoff.Permanent(fmt.Errorf("%s returned unexpected status %d: %s", op.Name, resp.StatusCode, string(msg)))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []GraphQLError  `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", op.Name, err)
	}
	if len(envelope.Errors) > 0 {
		return nil, backoff.Permanent(&APIError{Operation: op.Name, Errors: envelope.Errors})
	}
	return envelope.Data, nil
}

func requestKey(operation, token string, vars map[string]any) (string, error) {
	// json.Marshal sorts map keys, so the key is deterministic. The token is
	// hashed, never stored in the clear.
	serialized, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("failed to serialize variables for %s: %w", operation, err)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(token))
	return fmt.Sprintf("%s:%x:%s", operation, h.Sum64(), serialized), nil
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
