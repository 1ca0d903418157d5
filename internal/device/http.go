package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to the board's own REST API. It implements both Source
// and Dispatcher.
type HTTPClient struct {
	baseURL     string
	httpClient  *http.Client
	pingTimeout time.Duration
	now         func() time.Time
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPTimeout sets the per-request timeout.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// WithPingTimeout sets the timeout used by Ping.
func WithPingTimeout(d time.Duration) HTTPOption {
	return func(c *HTTPClient) {
		c.pingTimeout = d
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) HTTPOption {
	return func(c *HTTPClient) {
		c.now = now
	}
}

// NewHTTPClient creates a client for the board at addr. A bare host or
// host:port gets an http:// scheme.
func NewHTTPClient(addr string, opts ...HTTPOption) *HTTPClient {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	c := &HTTPClient{
		baseURL:     strings.TrimRight(addr, "/"),
		httpClient:  &http.Client{Timeout: 5 * time.Second},
		pingTimeout: 2 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, header http.Header) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("device error (status %d): %s", resp.StatusCode, truncate(string(data), 200))
	}
	return data, nil
}

// Sensors implements Source.
func (c *HTTPClient) Sensors(ctx context.Context) (*SensorReading, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/sensors", nil, nil)
	if err != nil {
		return nil, err
	}
	var r SensorReading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode sensors: %w", err)
	}
	r.FromFallback = false
	return &r, nil
}

// Status implements Source.
func (c *HTTPClient) Status(ctx context.Context) (*Status, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/status", nil, nil)
	if err != nil {
		return nil, err
	}
	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &s, nil
}

// LastSeen implements Source. A reachable board is seen at the timestamp it
// reports; a board that does not stamp its status is seen now.
func (c *HTTPClient) LastSeen(ctx context.Context) (int64, error) {
	s, err := c.Status(ctx)
	if err != nil {
		return 0, err
	}
	if s.Timestamp > 0 {
		return s.Timestamp, nil
	}
	return c.now().UnixMilli(), nil
}

// Ping checks that the board answers at all.
func (c *HTTPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()
	_, err := c.do(ctx, http.MethodGet, "/", nil, nil)
	return err
}

// Dispatch implements Dispatcher by POSTing to /api/control/<kind>.
func (c *HTTPClient) Dispatch(ctx context.Context, cmd Command) (Ack, error) {
	h := http.Header{}
	h.Set("X-Command-ID", cmd.ID)
	data, err := c.do(ctx, http.MethodPost, "/api/control/"+string(cmd.Kind), cmd.Body(), h)
	if err != nil {
		return Ack{}, err
	}
	return parseAck(data), nil
}

// parseAck accepts either a JSON {success,message} reply or plain text.
func parseAck(data []byte) Ack {
	var raw struct {
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &raw); err == nil {
		ack := Ack{Success: true, Message: raw.Message}
		if raw.Success != nil {
			ack.Success = *raw.Success
		}
		return ack
	}
	return Ack{Success: true, Message: strings.TrimSpace(string(data))}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
