// Package audius resolves Audius references into tracks and collections and opens
// lazily-resolved media streams for them.
package audius

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultDiscoveryURL returns the list of available discovery providers.
	DefaultDiscoveryURL = "https://api.audius.co"
	// DefaultAppName identifies this client to the upstream.
	DefaultAppName = "audiussource"
	// DefaultRequestTimeout bounds every metadata request.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultMaxConcurrentRequests bounds the number of in-flight upstream requests.
	DefaultMaxConcurrentRequests = 16
	// maxHTTPRedirects is the maximum number of HTTP redirects to follow.
	maxHTTPRedirects = 5
	// maxResponseSize caps the size of a decoded JSON response.
	maxResponseSize = 8 << 20
	userAgent       = "audiussource/1.0"
)

// Outcome labels reported to a RequestObserver.
const (
	OutcomeSuccess   = "success"
	OutcomeNotFound  = "not_found"
	OutcomeUpstream  = "upstream_error"
	OutcomeMalformed = "malformed"
	OutcomeTransport = "transport_error"
)

// ErrTooManyRedirects is returned when too many redirects are encountered.
var ErrTooManyRedirects = errors.New("too many redirects")

// RequestObserver receives one call per upstream request.
type RequestObserver func(endpoint, outcome string, elapsed time.Duration)

// envelope is the `{ data, error }` wrapper every upstream response uses.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error json.RawMessage `json:"error"`
}

// Client performs single GET requests against the upstream and classifies the responses.
type Client struct {
	httpClient *http.Client
	appName    string
	sem        *semaphore.Weighted
	observe    RequestObserver
	logger     *zap.Logger
}

// newHTTPClient creates an HTTP client with a timeout and redirect validation.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= maxHTTPRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

// NewClient creates an upstream client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	opts = opts.withDefaults()
	return &Client{
		httpClient: newHTTPClient(opts.RequestTimeout),
		appName:    opts.AppName,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrentRequests)),
		observe:    opts.Observer,
		logger:     logger,
	}
}

// apiURL builds a provider URL with the app_name parameter appended.
func (c *Client) apiURL(provider Provider, path string, params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("app_name", c.appName)
	return strings.TrimRight(string(provider), "/") + path + "?" + params.Encode()
}

// get fetches reqURL and returns the raw `data` payload.
// The endpoint label is used for metrics and id tags transport errors.
func (c *Client) get(ctx context.Context, endpoint, id, reqURL string) (json.RawMessage, error) {
	start := time.Now()
	data, err := c.fetch(ctx, id, reqURL)
	if c.observe != nil {
		c.observe(endpoint, outcomeOf(err), time.Since(start))
	}
	return data, err
}

func (c *Client) fetch(ctx context.Context, id, reqURL string) (json.RawMessage, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, &TransportError{ID: id, Err: err}
	}
	defer c.sem.Release(1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("Fetching upstream", zap.String("url", reqURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{ID: id, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &TransportError{ID: id, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	return c.classify(reqURL, resp.StatusCode, body)
}

// classify maps a response onto data, ErrNotFound or a *ProtocolError.
func (c *Client) classify(reqURL string, status int, body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	ok := status >= 200 && status < 300
	if ok && (len(body) == 0 || bytes.Equal(body, []byte("null"))) {
		c.logger.Info("Upstream returned an empty response", zap.String("url", reqURL))
		return nil, ErrNotFound
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if !ok {
			return nil, &ProtocolError{URL: reqURL, Message: fmt.Sprintf("status %d", status)}
		}
		return nil, &ProtocolError{URL: reqURL, Message: fmt.Sprintf("malformed response: %v", err), Malformed: true}
	}

	if msg, present := errorText(env.Error); present {
		if isNotFoundMessage(msg) {
			c.logger.Info("Upstream resource not found", zap.String("url", reqURL), zap.String("error", msg))
			return nil, ErrNotFound
		}
		c.logger.Warn("Upstream returned error", zap.String("url", reqURL), zap.String("error", msg))
		return nil, &ProtocolError{URL: reqURL, Message: msg}
	}

	if !ok {
		return nil, &ProtocolError{URL: reqURL, Message: fmt.Sprintf("status %d", status)}
	}

	if isNull(env.Data) {
		c.logger.Warn("Upstream response is missing data", zap.String("url", reqURL))
		return nil, &ProtocolError{URL: reqURL, Message: "response is missing data field", Malformed: true}
	}

	return env.Data, nil
}

// errorText reports whether an error field is present and returns its text.
func errorText(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return string(raw), true
	}
	return msg, true
}

func isNotFoundMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "not found") || strings.Contains(msg, "resource for id")
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func outcomeOf(err error) string {
	var protoErr *ProtocolError
	var transportErr *TransportError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrNotFound):
		return OutcomeNotFound
	case errors.As(err, &transportErr):
		return OutcomeTransport
	case errors.As(err, &protoErr):
		if protoErr.Malformed {
			return OutcomeMalformed
		}
		return OutcomeUpstream
	default:
		return OutcomeTransport
	}
}
