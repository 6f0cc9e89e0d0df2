// Package hub maintains the agent's single outbound connection to the hub:
// connect, authenticate, heartbeat, reconnect, and dispatch. The client
// never mutates session state itself; it translates inbound messages into
// registry calls and registry callbacks into outbound messages.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/tether-sh/tether/internal/authfile"
	"github.com/tether-sh/tether/internal/files"
	"github.com/tether-sh/tether/internal/gitops"
	"github.com/tether-sh/tether/internal/session"
)

// ErrAuthRejected is returned when the hub rejects the handshake credentials.
// It is fatal: bad credentials never enter the retry loop.
var ErrAuthRejected = errors.New("hub rejected authentication")

// ErrNotConnected is returned by writes attempted while the link is down.
var ErrNotConnected = errors.New("not connected")

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultInitialAttempts   = 5
	defaultBackoffBase       = time.Second
	defaultBackoffMax        = 10 * time.Second
	defaultRemoteCloseDelay  = 2 * time.Second
	defaultLocalCloseDelay   = 10 * time.Second

	writeTimeout = 10 * time.Second
	readLimit    = 512 * 1024
	tokenTTL     = 5 * time.Minute
)

// disconnectCause distinguishes how a connection ended; each cause has its
// own retry delay.
type disconnectCause int

const (
	causeDrop disconnectCause = iota // network-level failure: exponential backoff
	causeRemoteClose                 // clean close from the hub: short fixed delay
	causeLocalClose                  // clean close initiated here: longer fixed delay
)

// Client is the outbound websocket client connecting this agent to the hub.
type Client struct {
	HubURL   string // e.g. "wss://hub.example.com/ws/agent"
	AgentID  string
	Secret   []byte // HS256 signing secret for the handshake token
	Hostname string
	Platform string
	Version  string

	Registry *session.Registry
	Files    files.Service
	Git      gitops.Service
	Auth     *authfile.Service

	HeartbeatInterval time.Duration
	InitialAttempts   int // bounded attempts before the first success
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	RemoteCloseDelay  time.Duration
	LocalCloseDelay   time.Duration

	// OnStateChange is called on connection state transitions.
	OnStateChange func(state string, err error)

	conn      *websocket.Conn
	mu        sync.Mutex
	closing   bool // set when a local clean close is in flight
	startedAt time.Time
	dropLog   rate.Sometimes
}

func (c *Client) heartbeatInterval() time.Duration {
	if c.HeartbeatInterval > 0 {
		return c.HeartbeatInterval
	}
	return defaultHeartbeatInterval
}

func (c *Client) notifyState(state string, err error) {
	if c.OnStateChange != nil {
		c.OnStateChange(state, err)
	}
}

// Run connects to the hub and processes events until ctx is cancelled.
// The initial connect is bounded: after InitialAttempts consecutive
// failures with no successful connection it returns the last error. Once
// connected at least once, it reconnects forever: transport drops use
// exponential backoff, clean closes use their configured fixed delays.
// Returns ErrAuthRejected immediately if the hub refuses the credentials.
func (c *Client) Run(ctx context.Context) error {
	c.startedAt = time.Now()
	c.dropLog = rate.Sometimes{Interval: 10 * time.Second, First: 3}

	attempts := c.InitialAttempts
	if attempts <= 0 {
		attempts = defaultInitialAttempts
	}
	base, max := c.BackoffBase, c.BackoffMax
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max <= 0 {
		max = defaultBackoffMax
	}
	bo := NewBackoff(base, max)

	everConnected := false
	failed := 0
	for {
		c.notifyState("connecting", nil)
		connected, cause, err := c.connectAndServe(ctx)
		if ctx.Err() != nil {
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		}
		if isAuthError(err) {
			c.notifyState("auth_failed", err)
			return fmt.Errorf("%w: %v", ErrAuthRejected, err)
		}
		if connected {
			everConnected = true
			bo.Reset()
		}
		c.notifyState("disconnected", err)

		if !everConnected {
			failed++
			if failed >= attempts {
				return fmt.Errorf("could not connect after %d attempts: %w", failed, err)
			}
		}

		var delay time.Duration
		switch cause {
		case causeRemoteClose:
			delay = c.remoteCloseDelay()
		case causeLocalClose:
			delay = c.localCloseDelay()
		default:
			delay = bo.Next()
		}
		c.dropLog.Do(func() {
			slog.Warn("hub disconnected, retrying", "err", err, "delay", delay)
		})

		select {
		case <-ctx.Done():
			c.notifyState("disconnected", ctx.Err())
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (c *Client) remoteCloseDelay() time.Duration {
	if c.RemoteCloseDelay > 0 {
		return c.RemoteCloseDelay
	}
	return defaultRemoteCloseDelay
}

func (c *Client) localCloseDelay() time.Duration {
	if c.LocalCloseDelay > 0 {
		return c.LocalCloseDelay
	}
	return defaultLocalCloseDelay
}

// isAuthError reports whether the handshake was rejected outright.
func isAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "401") || strings.Contains(msg, "403")
}

// mintToken signs a short-lived identity token for the handshake.
func (c *Client) mintToken() (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:   c.AgentID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (c *Client) connectAndServe(ctx context.Context) (connected bool, cause disconnectCause, err error) {
	token, err := c.mintToken()
	if err != nil {
		return false, causeDrop, err
	}
	opts := &websocket.DialOptions{
		HTTPHeader: make(map[string][]string),
	}
	opts.HTTPHeader.Set("Authorization", "Bearer "+token)

	conn, _, dialErr := websocket.Dial(ctx, c.HubURL, opts)
	if dialErr != nil {
		return false, causeDrop, fmt.Errorf("dial: %w", dialErr)
	}
	conn.SetReadLimit(readLimit)

	c.mu.Lock()
	c.conn = conn
	c.closing = false
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		conn.CloseNow()
	}()
	connected = true

	// Announce identity on every (re)connect, exactly once per connection.
	// Scrollback is never replayed here: that happens lazily, per session,
	// on an explicit terminal:reattach from the hub.
	if err := c.sendSystemInfo(ctx); err != nil {
		return connected, causeDrop, fmt.Errorf("announce: %w", err)
	}
	c.notifyState("connected", nil)
	slog.Info("connected to hub", "url", c.HubURL, "agent", c.AgentID)

	// Heartbeat runs only while connected; missed beats are not queued.
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go c.heartbeatLoop(hbCtx)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return connected, c.classify(err), fmt.Errorf("read: %w", err)
		}
		c.handle(ctx, data)
	}
}

// classify maps a read error to a disconnect cause. A received close frame
// with a normal status is a clean close from the hub; a close we initiated
// ourselves was flagged by Disconnect.
func (c *Client) classify(err error) disconnectCause {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return causeLocalClose
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return causeRemoteClose
	}
	return causeDrop
}

// Disconnect initiates a local clean close. Run reconnects after the
// configured local-close delay, giving the hub time to see the close
// acknowledged before this agent dials back in.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	conn := c.conn
	c.closing = conn != nil
	c.mu.Unlock()
	if conn == nil {
		return
	}
	conn.Close(websocket.StatusNormalClosure, reason)
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.heartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hb := Heartbeat{
				Type:          EventHeartbeat,
				AgentID:       c.AgentID,
				UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
			}
			if err := c.writeJSON(ctx, hb); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendSystemInfo(ctx context.Context) error {
	return c.writeJSON(ctx, SystemInfo{
		Type:          EventSystemInfo,
		AgentID:       c.AgentID,
		Hostname:      c.Hostname,
		Platform:      c.Platform,
		Version:       c.Version,
		UptimeSeconds: int64(time.Since(c.startedAt).Seconds()),
	})
}

func (c *Client) writeJSON(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
