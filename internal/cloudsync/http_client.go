package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tripweaver/tripsync/internal/tripsync"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

type ClientOptions struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	UserAgent  string
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client talks to the trip-planner cloud API. Transport-level retries here
// (network errors, 429, 5xx) are independent of the sync queue's drain
// retries: the queue counts whole delivery attempts, the client smooths over
// momentary blips inside one attempt.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	userAgent  string
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewClient(opts ClientOptions) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		userAgent:  strings.TrimSpace(opts.UserAgent),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

// Collection returns the remote backend handle for one collection.
func (c *Client) Collection(name string) tripsync.CollectionBackend {
	return &collectionClient{client: c, collection: strings.TrimSpace(name)}
}

// RegisterCollections wires a backend per collection into the registry. With
// no explicit names it registers the four standard collections.
func RegisterCollections(registry *tripsync.BackendRegistry, client *Client, collections ...string) {
	if registry == nil || client == nil {
		return
	}
	if len(collections) == 0 {
		collections = tripsync.Collections()
	}
	for _, name := range collections {
		registry.Register(name, client.Collection(name))
	}
}

type collectionClient struct {
	client     *Client
	collection string
}

func (cc *collectionClient) GetItems(ctx context.Context, scopeID string) ([]tripsync.Record, error) {
	var out struct {
		Items []tripsync.Record `json:"items"`
	}
	if err := cc.client.doJSON(ctx, http.MethodGet, cc.path(scopeID), nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []tripsync.Record{}
	}
	return out.Items, nil
}

func (cc *collectionClient) SaveItems(ctx context.Context, scopeID string, records []tripsync.Record) error {
	body := map[string]any{"items": records}
	return cc.client.doJSON(ctx, http.MethodPut, cc.path(scopeID), body, nil)
}

func (cc *collectionClient) DeleteItems(ctx context.Context, scopeID string) error {
	return cc.client.doJSON(ctx, http.MethodDelete, cc.path(scopeID), nil, nil)
}

func (cc *collectionClient) path(scopeID string) string {
	return fmt.Sprintf("/v1/trips/%s/%s", url.PathEscape(strings.TrimSpace(scopeID)), url.PathEscape(cc.collection))
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		if errPayload.Message == "" {
			errPayload.Message = strings.TrimSpace(string(payloadBytes))
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	if delay > c.maxDelay {
		return c.maxDelay
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
