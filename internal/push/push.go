// Package push maintains the single authenticated websocket connection to
// the control plane that notifies the runner of newly available tasks, and
// reconnects with jittered backoff when the socket drops.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const pingInterval = 20 * time.Second

// Event is what the Client emits to its listener.
type Event struct {
	Kind    string // "connected", "disconnected", "error", "task.available"
	Payload json.RawMessage
	Err     error
}

// TicketMinter mints a short-lived ticket for the websocket handshake.
type TicketMinter func(ctx context.Context) (string, error)

// Config configures a Client.
type Config struct {
	WSURL       string
	MintTicket  TicketMinter
	BaseBackoff time.Duration // default 1s
	MaxBackoff  time.Duration // default 30s
	Logger      *slog.Logger
	OnEvent     func(Event)
}

// Client is the push client of spec §4.5.
type Client struct {
	cfg Config

	mu              sync.Mutex
	stopped         bool
	cancel          context.CancelFunc
	reconnectAttempt int
}

// New builds a Client with spec defaults (base 1s, cap 30s).
func New(cfg Config) *Client {
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg}
}

// Start connects and keeps reconnecting (with backoff) until Stop is
// called. It returns immediately; the connection loop runs in the
// background.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = false
	c.mu.Unlock()

	go c.runLoop(ctx)
}

// Stop disables further reconnects and closes the active socket. Stop is
// idempotent.
func (c *Client) Stop() {
	c.mu.Lock()
	c.stopped = true
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *Client) emit(ev Event) {
	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(ev)
	}
}

func (c *Client) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *Client) runLoop(ctx context.Context) {
	for {
		if c.isStopped() || ctx.Err() != nil {
			return
		}

		err := c.connectAndServe(ctx)
		if c.isStopped() || ctx.Err() != nil {
			return
		}

		c.emit(Event{Kind: "disconnected", Err: err})
		delay := c.nextBackoff()
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// nextBackoff computes delay = min(maxBackoff, max(base, base*2^attempt))
// and increments the attempt counter (spec §4.5).
func (c *Client) nextBackoff() time.Duration {
	c.mu.Lock()
	attempt := c.reconnectAttempt
	c.reconnectAttempt++
	c.mu.Unlock()

	base := c.cfg.BaseBackoff
	scaled := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	delay := scaled
	if delay < base {
		delay = base
	}
	if delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	return delay
}

func (c *Client) connectAndServe(ctx context.Context) error {
	ticket, err := c.cfg.MintTicket(ctx)
	if err != nil {
		return fmt.Errorf("mint push ticket: %w", err)
	}

	u, err := url.Parse(c.cfg.WSURL)
	if err != nil {
		return fmt.Errorf("parse ws url: %w", err)
	}
	q := u.Query()
	q.Set("ticket", ticket)
	u.RawQuery = q.Encode()

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c.mu.Lock()
	c.reconnectAttempt = 0
	c.mu.Unlock()
	c.emit(Event{Kind: "connected"})

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(connCtx, conn)
	}()

	readErr := c.readLoop(connCtx, conn)
	cancelConn()
	wg.Wait()
	return readErr
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, map[string]string{"type": "ping"}); err != nil {
				return
			}
		}
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// readLoop reads raw frames rather than using wsjson.Read directly so that
// a malformed frame is ignored (spec §4.5 step 4) rather than torn down as
// a transport error; only a genuine read/connection error ends the loop.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.emit(Event{Kind: "error", Err: err})
			return err
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "task.available" {
			continue
		}
		c.emit(Event{Kind: "task.available", Payload: msg.Payload})
	}
}
