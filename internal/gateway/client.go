package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm-whatsapp/internal/metrics"
)

const defaultTimeout = 30 * time.Second

// Config holds gateway client configuration.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client provides typed access to the WhatsApp gateway REST API. It keeps no state besides
// its configuration and never retries.
type Client struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	http    *http.Client
	metrics *metrics.Metrics
}

// New creates a new gateway client.
func New(cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		logger:  logger.With("component", "gateway"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		metrics: metrics,
	}
}

// CreateInstance registers a new WhatsApp session and asks for a QR code.
func (c *Client) CreateInstance(ctx context.Context, name string) (*CreateInstanceResult, error) {
	body := map[string]any{
		"instanceName": name,
		"qrcode":       true,
		"integration":  "WHATSAPP-BAILEYS",
	}
	var out CreateInstanceResult
	if err := c.do(ctx, "create_instance", http.MethodPost, "/instance/create", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectInstance returns pairing material for the instance.
func (c *Client) ConnectInstance(ctx context.Context, name string) (*QRCode, error) {
	var out QRCode
	if err := c.do(ctx, "connect_instance", http.MethodGet, "/instance/connect/"+pathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConnectionState fetches the live connection state of the instance.
func (c *Client) ConnectionState(ctx context.Context, name string) (*ConnectionState, error) {
	var out struct {
		Instance struct {
			InstanceName string `json:"instanceName"`
			State        string `json:"state"`
		} `json:"instance"`
		State string `json:"state"`
	}
	if err := c.do(ctx, "connection_state", http.MethodGet, "/instance/connectionState/"+pathEscape(name), nil, &out); err != nil {
		return nil, err
	}
	state := out.Instance.State
	if state == "" {
		state = out.State
	}
	return &ConnectionState{Instance: name, State: state}, nil
}

// LogoutInstance disconnects the WhatsApp session but keeps the instance.
func (c *Client) LogoutInstance(ctx context.Context, name string) error {
	return c.do(ctx, "logout_instance", http.MethodDelete, "/instance/logout/"+pathEscape(name), nil, nil)
}

// DeleteInstance removes the instance from the gateway.
func (c *Client) DeleteInstance(ctx context.Context, name string) error {
	return c.do(ctx, "delete_instance", http.MethodDelete, "/instance/delete/"+pathEscape(name), nil, nil)
}

// SendText sends a plain text message to a phone number.
func (c *Client) SendText(ctx context.Context, instance, number, text string) (*MessageRecord, error) {
	body := map[string]any{
		"number": number,
		"text":   text,
	}
	var out MessageRecord
	if err := c.do(ctx, "send_text", http.MethodPost, "/message/sendText/"+pathEscape(instance), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SendMedia sends an image, video, audio or document.
func (c *Client) SendMedia(ctx context.Context, instance string, req SendMediaRequest) (*MessageRecord, error) {
	var out MessageRecord
	if err := c.do(ctx, "send_media", http.MethodPost, "/message/sendMedia/"+pathEscape(instance), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindContacts lists the contacts known to the instance.
func (c *Client) FindContacts(ctx context.Context, instance string) ([]Contact, error) {
	var out []Contact
	body := map[string]any{"where": map[string]any{}}
	if err := c.do(ctx, "find_contacts", http.MethodPost, "/chat/findContacts/"+pathEscape(instance), body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FindMessages returns the stored history of one chat.
func (c *Client) FindMessages(ctx context.Context, instance, remoteJID string, limit int) ([]MessageRecord, error) {
	body := map[string]any{
		"where": map[string]any{
			"key": map[string]any{"remoteJid": remoteJID},
		},
	}
	if limit > 0 {
		body["limit"] = limit
	}
	var raw json.RawMessage
	if err := c.do(ctx, "find_messages", http.MethodPost, "/chat/findMessages/"+pathEscape(instance), body, &raw); err != nil {
		return nil, err
	}
	records, err := decodeMessageRecords(raw)
	if err != nil {
		return nil, &Error{Op: "find_messages", Message: err.Error(), Err: err}
	}
	return records, nil
}

// MarkRead marks the given inbound messages as read on the phone.
func (c *Client) MarkRead(ctx context.Context, instance string, keys []MessageKey) error {
	if len(keys) == 0 {
		return nil
	}
	body := map[string]any{"readMessages": keys}
	return c.do(ctx, "mark_read", http.MethodPost, "/chat/markMessageAsRead/"+pathEscape(instance), body, nil)
}

// SetWebhook points the instance's event delivery at the given settings.
func (c *Client) SetWebhook(ctx context.Context, instance string, settings WebhookSettings) error {
	if settings.Events == nil {
		settings.Events = DefaultWebhookEvents
	}
	body := map[string]any{"webhook": settings}
	return c.do(ctx, "set_webhook", http.MethodPost, "/webhook/set/"+pathEscape(instance), body, nil)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, payload any, dest any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return &Error{Op: op, Message: fmt.Sprintf("encode request: %v", err), Err: err}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return &Error{Op: op, Message: fmt.Sprintf("new request: %v", err), Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "crm-whatsapp/gateway-client")
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.observe(op, "error", start)
		c.logger.Warn("gateway request failed", "operation", op, "error", err)
		return transportError(op, err)
	}
	defer res.Body.Close()
	c.observe(op, strconv.Itoa(res.StatusCode), start)

	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return transportError(op, fmt.Errorf("read response: %w", err))
	}

	if res.StatusCode >= 400 {
		gwErr := classifyHTTPError(op, res.StatusCode, bodyBytes)
		c.logger.Warn("gateway rejected request", "operation", op, "status", res.StatusCode, "error", gwErr)
		return gwErr
	}

	if dest == nil || len(bytes.TrimSpace(bodyBytes)) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return &Error{Op: op, Status: res.StatusCode, Message: fmt.Sprintf("decode response: %v", err), Err: err}
	}
	return nil
}

func (c *Client) observe(op, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.GatewayRequests.WithLabelValues(op, status).Inc()
	c.metrics.GatewayLatency.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

// decodeMessageRecords accepts a bare list or the paginated {messages:{records:[...]}} shape.
func decodeMessageRecords(raw json.RawMessage) ([]MessageRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []MessageRecord
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode message list: %w", err)
		}
		return list, nil
	}
	var paged struct {
		Messages struct {
			Records []MessageRecord `json:"records"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(trimmed, &paged); err != nil {
		return nil, fmt.Errorf("decode message page: %w", err)
	}
	return paged.Messages.Records, nil
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}
