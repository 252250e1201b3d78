package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"crm-whatsapp/internal/realtime"

	"github.com/gorilla/websocket"
)

// ErrNotConnected is returned by the send helpers while no connection is open.
var ErrNotConnected = errors.New("sync client not connected")

const writeWait = 10 * time.Second

// Config describes the realtime endpoint and reconnect policy.
type Config struct {
	URL        string
	UserID     int64
	TenantID   int64
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Observer receives events that do not touch the cache. Every field is optional.
type Observer struct {
	OnConnect func(socketID string)
	OnTyping  func(t realtime.Typing, typing bool)
	OnError   func(message string)
}

// Client keeps one realtime connection open and reconciles a QueryCache with it.
type Client struct {
	cfg    Config
	cache  *QueryCache
	obs    Observer
	logger *slog.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	conn     *websocket.Conn
	socketID string
}

// New creates a client. Zero retry settings fall back to 5 retries, 1s base and 5s cap.
func New(cfg Config, cache *QueryCache, obs Observer, logger *slog.Logger) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	return &Client{
		cfg:    cfg,
		cache:  cache,
		obs:    obs,
		logger: logger.With("component", "syncclient"),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// SocketID returns the id assigned by the server on the current connection.
func (c *Client) SocketID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.socketID
}

// Run connects and keeps reconnecting until ctx is cancelled. It returns an error once
// MaxRetries consecutive dials have failed; a successful connection resets the count.
func (c *Client) Run(ctx context.Context) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	failures := 0
	for {
		conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			if failures > c.cfg.MaxRetries {
				return fmt.Errorf("realtime connect failed after %d attempts: %w", failures, err)
			}
			wait := c.backoff(failures)
			c.logger.Warn("realtime dial failed", "attempt", failures, "sleep", wait, "error", err)
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		failures = 0
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("realtime connection lost", "error", err)
		if !sleep(ctx, c.cfg.BaseDelay) {
			return nil
		}
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	q := u.Query()
	q.Set("userId", strconv.FormatInt(c.cfg.UserID, 10))
	q.Set("tenantId", strconv.FormatInt(c.cfg.TenantID, 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// backoff doubles from BaseDelay for each consecutive failure, capped at MaxDelay.
func (c *Client) backoff(failures int) time.Duration {
	d := c.cfg.BaseDelay
	for i := 1; i < failures && d < c.cfg.MaxDelay; i++ {
		d *= 2
	}
	return min(d, c.cfg.MaxDelay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer func() {
		stop()
		c.mu.Lock()
		c.conn = nil
		c.socketID = ""
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		var frame realtime.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame realtime.Frame) {
	switch frame.Event {
	case realtime.EventConnect:
		var p realtime.Connected
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			c.logger.Warn("invalid connect frame", "error", err)
			return
		}
		c.mu.Lock()
		c.socketID = p.SocketID
		c.mu.Unlock()
		// Events missed while disconnected are not replayed.
		c.cache.InvalidateAll()
		if c.obs.OnConnect != nil {
			c.obs.OnConnect(p.SocketID)
		}

	case realtime.EventNewMessage:
		var p realtime.NewMessage
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			c.logger.Warn("invalid message frame", "error", err)
			return
		}
		c.cache.Invalidate(ConversationKey(p.ContactID))

	case realtime.EventInboxUpdate:
		c.cache.Invalidate(InboxKey)

	case realtime.EventUserTyping, realtime.EventUserStoppedTyping:
		var p realtime.Typing
		if err := json.Unmarshal(frame.Data, &p); err != nil {
			return
		}
		if c.obs.OnTyping != nil {
			c.obs.OnTyping(p, frame.Event == realtime.EventUserTyping)
		}

	case realtime.EventError:
		var p realtime.ErrorPayload
		_ = json.Unmarshal(frame.Data, &p)
		c.logger.Warn("server reported error", "message", p.Message)
		if c.obs.OnError != nil {
			c.obs.OnError(p.Message)
		}

	case realtime.EventDisconnect:
		c.logger.Info("server closing realtime connection")

	default:
		c.logger.Debug("ignoring realtime event", "event", frame.Event)
	}
}

// SendMessage asks the server to send a text to a contact.
func (c *Client) SendMessage(contactID int64, text string) error {
	return c.send(realtime.EventSendMessage, realtime.SendMessageRequest{ContactID: contactID, Content: text})
}

// MarkRead marks a conversation as read.
func (c *Client) MarkRead(contactID int64) error {
	return c.send(realtime.EventMarkRead, realtime.ContactRequest{ContactID: contactID})
}

// StartTyping tells the tenant's other sessions the user is typing.
func (c *Client) StartTyping(contactID int64) error {
	return c.send(realtime.EventTyping, realtime.ContactRequest{ContactID: contactID})
}

// StopTyping clears the typing indicator.
func (c *Client) StopTyping(contactID int64) error {
	return c.send(realtime.EventStopTyping, realtime.ContactRequest{ContactID: contactID})
}

func (c *Client) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(realtime.Frame{Event: event, Data: raw})
}
