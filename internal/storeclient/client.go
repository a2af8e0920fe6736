// Package storeclient is the typed client for the remote state store. The
// store is an external collaborator (spec §6): this package only knows how
// to shape requests and decode responses over HTTP (query/mutation) and a
// websocket (onUpdate live subscription). It never touches a local
// database — persistence is entirely the store's problem.
package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Config configures a Client.
type Config struct {
	BaseURL    string // e.g. https://api.example.com
	Token      string // bearer token, CONVEX_URL-style deployment credential
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a typed RPC client over the store's query/mutation/onUpdate
// surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a Client from Config, applying sane defaults for the HTTP
// client and logger.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    httpClient,
		logger:  logger,
	}
}

// rpcEnvelope is the wire shape for both query and mutation calls.
type rpcEnvelope struct {
	Endpoint string `json:"endpoint"`
	Args     any    `json:"args"`
}

// Query invokes a read-only store endpoint and decodes the result into out.
func (c *Client) Query(ctx context.Context, endpoint string, args any, out any) error {
	return c.call(ctx, "query", endpoint, args, out)
}

// Mutation invokes a state-mutating store endpoint and decodes the result
// into out.
func (c *Client) Mutation(ctx context.Context, endpoint string, args any, out any) error {
	return c.call(ctx, "mutation", endpoint, args, out)
}

func (c *Client) call(ctx context.Context, kind, endpoint string, args any, out any) error {
	body, err := json.Marshal(rpcEnvelope{Endpoint: endpoint, Args: args})
	if err != nil {
		return fmt.Errorf("store %s %s: marshal args: %w", kind, endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/"+kind, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("store %s %s: build request: %w", kind, endpoint, err)
	}
	req.Header.Set("content-type", "application/json")
	if c.token != "" {
		req.Header.Set("authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("store %s %s: %w", kind, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("store %s %s: read response: %w", kind, endpoint, err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("store %s %s: status %d: %s", kind, endpoint, resp.StatusCode, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("store %s %s: decode response: %w", kind, endpoint, err)
	}
	return nil
}

// Subscription is a live handle on a store onUpdate endpoint. Each inbound
// frame is a full snapshot of the endpoint's current result, matching the
// store's pull-subscribe semantics (spec §9: "model it as a channel of
// ready-task snapshots with a single reader goroutine").
type Subscription struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// Subscribe opens a live subscription to endpoint with args, returning a
// Subscription whose Next method yields decoded snapshots as they arrive.
// The caller owns the subscription's lifetime and must call Close.
func (c *Client) Subscribe(ctx context.Context, endpoint string, args any) (*Subscription, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: parse base url: %w", endpoint, err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/subscribe"
	q := u.Query()
	q.Set("endpoint", endpoint)
	if c.token != "" {
		q.Set("token", c.token)
	}
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: dial: %w", endpoint, err)
	}

	if err := wsjson.Write(ctx, conn, rpcEnvelope{Endpoint: endpoint, Args: args}); err != nil {
		conn.Close(websocket.StatusInternalError, "subscribe handshake failed")
		return nil, fmt.Errorf("subscribe %s: send args: %w", endpoint, err)
	}

	return &Subscription{conn: conn, logger: c.logger}, nil
}

// Next blocks for the next snapshot frame and decodes it into out. It
// returns an error (including context cancellation or socket closure) when
// no further snapshots will arrive; callers should stop reading at that
// point.
func (s *Subscription) Next(ctx context.Context, out any) error {
	return wsjson.Read(ctx, s.conn, out)
}

// Close closes the underlying websocket.
func (s *Subscription) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "bye")
}
