// Package httpclient is a Go client for a robomesh node's HTTP API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

var errNotAuthenticated = errors.New("client not authenticated - call Authenticate() first")

// Client provides HTTP client for the robomesh API
type Client struct {
	config     Config
	httpClient *http.Client
	token      string
	baseURL    *url.URL
}

// NewClient creates a new robomesh HTTP client
func NewClient(config Config) (*Client, error) {
	config.SetDefaults()

	if config.ServerURL == "" {
		return nil, errors.New("ServerURL is required")
	}
	if config.ClientID == "" {
		return nil, errors.New("ClientID is required")
	}

	baseURL, err := url.Parse(config.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ServerURL: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		baseURL:    baseURL,
	}, nil
}

// Authenticate obtains a token, an admin one when AdminSecret is set
func (c *Client) Authenticate(ctx context.Context) error {
	authReq := map[string]string{"clientId": c.config.ClientID}
	if c.config.AdminSecret != "" {
		authReq["adminSecret"] = c.config.AdminSecret
	}

	var authResp AuthResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v1/auth/login", authReq, &authResp, false); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	c.token = authResp.Token
	return nil
}

// GetHealth returns the health of the node. An unhealthy node answers
// 503, which is reported as the decoded status rather than an error.
func (c *Client) GetHealth(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.doRequest(ctx, http.MethodGet, "/api/v1/health", nil, &resp, false)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
		resp.Healthy = false
		if resp.Message == "" {
			resp.Message = apiErr.Message
		}
		return &resp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get health status: %w", err)
	}
	return &resp, nil
}

// Topics returns the node's topic table
func (c *Client) Topics(ctx context.Context) (*TopicsResponse, error) {
	var resp TopicsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/topics", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	return &resp, nil
}

// Links returns the node's links and connections
func (c *Client) Links(ctx context.Context) (*LinksResponse, error) {
	var resp LinksResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/links", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	return &resp, nil
}

// Connect asks the node to dial address and attach it as name (admin only)
func (c *Client) Connect(ctx context.Context, address, name string) (*Connection, error) {
	var resp Connection
	req := ConnectRequest{Address: address, Name: name}
	if err := c.authed(ctx, http.MethodPost, "/api/v1/links", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to connect %s: %w", address, err)
	}
	return &resp, nil
}

// Disconnect drops the link attached under name (admin only)
func (c *Client) Disconnect(ctx context.Context, name string) error {
	if err := c.authed(ctx, http.MethodDelete, "/api/v1/links/"+url.PathEscape(name), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", name, err)
	}
	return nil
}

// Transmit routes a message through the node
func (c *Client) Transmit(ctx context.Context, req TransmitRequest) (*TransmitResponse, error) {
	var resp TransmitResponse
	if err := c.authed(ctx, http.MethodPost, "/api/v1/transmit", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to transmit to %s: %w", req.Destination, err)
	}
	return &resp, nil
}

// ReadLogs reads up to limit records of target starting at offset.
// A non-positive limit uses the server default.
func (c *Client) ReadLogs(ctx context.Context, target string, offset int64, limit int) (*LogsResponse, error) {
	query := url.Values{}
	query.Set("offset", strconv.FormatInt(offset, 10))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var resp LogsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/logs/"+url.PathEscape(target), query, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return &resp, nil
}

// Discover lists the topics provided at peer
func (c *Client) Discover(ctx context.Context, peer string) (*DiscoverResponse, error) {
	var resp DiscoverResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/discover/"+peer, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to discover %s: %w", peer, err)
	}
	return &resp, nil
}

// Ping probes path through the node
func (c *Client) Ping(ctx context.Context, path string) (*PingResponse, error) {
	var resp PingResponse
	if err := c.authed(ctx, http.MethodPost, "/api/v1/ping", nil, map[string]string{"path": path}, &resp); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", path, err)
	}
	return &resp, nil
}

// Query describes device at peer
func (c *Client) Query(ctx context.Context, peer, device string) (*QueryResponse, error) {
	var resp QueryResponse
	req := map[string]string{"peer": peer, "device": device}
	if err := c.authed(ctx, http.MethodPost, "/api/v1/rpc/query", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", device, err)
	}
	return &resp, nil
}

// Signal applies data to a field of device at peer
func (c *Client) Signal(ctx context.Context, req SignalRequest) (*SignalResponse, error) {
	var resp SignalResponse
	if err := c.authed(ctx, http.MethodPost, "/api/v1/rpc/signal", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("failed to signal %s: %w", req.Device, err)
	}
	return &resp, nil
}

// AdminGetStats returns node statistics (admin only)
func (c *Client) AdminGetStats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.authed(ctx, http.MethodGet, "/api/v1/admin/stats", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &resp, nil
}

// AdminBridgeRecords lists the typed topics held by the node's bridge (admin only)
func (c *Client) AdminBridgeRecords(ctx context.Context) ([]BridgeRecord, error) {
	var resp []BridgeRecord
	if err := c.authed(ctx, http.MethodGet, "/api/v1/admin/bridge", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("failed to list bridge records: %w", err)
	}
	return resp, nil
}

func (c *Client) authed(ctx context.Context, method, path string, query url.Values, reqBody, respBody any) error {
	if c.token == "" {
		return errNotAuthenticated
	}
	return c.doRequestWithQuery(ctx, method, path, query, reqBody, respBody, true)
}

// doRequestWithQuery performs an HTTP request, retrying GETs that fail
// with a transport error or a 5xx other than 503.
func (c *Client) doRequestWithQuery(ctx context.Context, method, path string, queryParams url.Values, reqBody, respBody any, requireAuth bool) error {
	attempts := 1
	if method == http.MethodGet {
		attempts += c.config.MaxRetries
	}

	delay := c.config.RetryDelay
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		err = c.do(ctx, method, path, queryParams, reqBody, respBody, requireAuth)
		if !retryable(err) {
			return err
		}
	}
	return err
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 && apiErr.StatusCode != http.StatusServiceUnavailable
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (c *Client) do(ctx context.Context, method, path string, queryParams url.Values, reqBody, respBody any, requireAuth bool) error {
	u := &url.URL{Path: path}
	if len(queryParams) > 0 {
		u.RawQuery = queryParams.Encode()
	}
	fullURL := c.baseURL.ResolveReference(u)

	var bodyReader io.Reader
	if reqBody != nil {
		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requireAuth && c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(bytes.TrimSpace(bodyBytes))}
		var errResp ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Message != "" {
			apiErr.Message = errResp.Message
		}
		// Health reports its status in the body even when unhealthy.
		if respBody != nil {
			_ = json.Unmarshal(bodyBytes, respBody)
		}
		return apiErr
	}

	if respBody != nil && len(bodyBytes) > 0 {
		if err := json.Unmarshal(bodyBytes, respBody); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// doRequest performs an HTTP request with optional authentication
func (c *Client) doRequest(ctx context.Context, method, path string, reqBody, respBody any, requireAuth bool) error {
	return c.doRequestWithQuery(ctx, method, path, nil, reqBody, respBody, requireAuth)
}

// IsAuthenticated returns whether the client has a token
func (c *Client) IsAuthenticated() bool {
	return c.token != ""
}

// GetToken returns the current authentication token
func (c *Client) GetToken() string {
	return c.token
}

// SetToken sets the authentication token
func (c *Client) SetToken(token string) {
	c.token = token
}
