// Package notionapi is a thin HTTP client for the Notion REST API. Requests
// are described by manifest operations rather than hand-written per
// endpoint, so the client stays a single code path for every operation the
// local backend serves.
package notionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"notionfast-go/internal/openapi"
)

// DefaultTimeout bounds a single API round trip.
const DefaultTimeout = 30 * time.Second

// Client calls the Notion REST API.
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client for the given base URL. token may be empty, in which
// case requests carry no Authorization header and the API will reject
// protected endpoints.
func New(baseURL, token, version string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		token:      token,
		version:    version,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured API origin.
func (c *Client) BaseURL() string { return c.baseURL }

// Version returns the Notion-Version header value sent with every request.
func (c *Client) Version() string { return c.version }

// AuthorizationHeader returns the Authorization header value, or "" when no
// token is configured. The cache key fingerprint is derived from this.
func (c *Client) AuthorizationHeader() string {
	if c.token == "" {
		return ""
	}
	return "Bearer " + c.token
}

// APIError is a non-2xx response from the API. Data holds the decoded error
// body when it was JSON, otherwise the raw text.
type APIError struct {
	StatusCode int
	Status     string
	Data       interface{}
	Headers    http.Header
}

func (e *APIError) Error() string {
	if msg := e.message(); msg != "" {
		return fmt.Sprintf("notion api: %s: %s", e.Status, msg)
	}
	return fmt.Sprintf("notion api: %s", e.Status)
}

func (e *APIError) message() string {
	obj, ok := e.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	msg, _ := obj["message"].(string)
	return msg
}

// Call executes the operation with the given arguments. Path parameters are
// substituted into the URL, query parameters become the query string, and
// for methods with a body every remaining argument is sent as JSON. A 2xx
// response returns the raw body; anything else returns an *APIError.
func (c *Client) Call(ctx context.Context, op openapi.Operation, args map[string]interface{}) (string, error) {
	reqURL, used, err := c.buildURL(op, args)
	if err != nil {
		return "", err
	}

	var body io.Reader
	if methodHasBody(op.Method) {
		payload := make(map[string]interface{})
		for name, value := range args {
			if used[name] {
				continue
			}
			payload[name] = value
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return "", fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, op.Method, reqURL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	if auth := c.AuthorizationHeader(); auth != "" {
		req.Header.Set("Authorization", auth)
	}
	req.Header.Set("Notion-Version", c.version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("call %s: %w", op.ID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response for %s: %w", op.ID, err)
	}

	c.logger.Debug("Notion API call completed",
		zap.String("operation", op.ID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Headers:    resp.Header,
		}
		var decoded interface{}
		if err := json.Unmarshal(respBody, &decoded); err == nil {
			apiErr.Data = decoded
		} else {
			apiErr.Data = string(respBody)
		}
		return "", apiErr
	}

	return string(respBody), nil
}

// buildURL substitutes path parameters and assembles the query string. The
// returned set records which argument names were consumed so they are not
// duplicated into a request body.
func (c *Client) buildURL(op openapi.Operation, args map[string]interface{}) (string, map[string]bool, error) {
	used := make(map[string]bool)
	path := op.Path

	query := url.Values{}
	for _, param := range op.Parameters {
		value, present := args[param.Name]
		switch param.In {
		case "path":
			if !present {
				return "", nil, fmt.Errorf("operation %s: missing required path parameter %q", op.ID, param.Name)
			}
			path = strings.ReplaceAll(path, "{"+param.Name+"}", url.PathEscape(stringify(value)))
			used[param.Name] = true
		case "query":
			if !present {
				continue
			}
			if items, ok := value.([]interface{}); ok {
				for _, item := range items {
					query.Add(param.Name, stringify(item))
				}
			} else {
				query.Set(param.Name, stringify(value))
			}
			used[param.Name] = true
		}
	}

	// Undeclared arguments on body-less methods have nowhere to travel.
	if !methodHasBody(op.Method) {
		for name := range args {
			if !used[name] {
				c.logger.Debug("Dropping argument with no parameter mapping",
					zap.String("operation", op.ID), zap.String("argument", name))
				used[name] = true
			}
		}
	}

	reqURL := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}
	return reqURL, used, nil
}

func methodHasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut:
		return true
	default:
		return false
	}
}

// stringify renders an argument for use in a URL segment or query value.
func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		// Integral floats print without a trailing .0, matching how JSON
		// numbers arrive from MCP arguments.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case bool:
		return fmt.Sprintf("%t", v)
	case nil:
		return ""
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}
