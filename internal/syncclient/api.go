package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm-whatsapp/internal/cache"
)

// API reads current state from the request/response API.
type API struct {
	baseURL  string
	tenantID int64
	userID   int64
	http     *http.Client
}

// NewAPI returns a client for baseURL, e.g. "https://crm.example.com/api/v1".
func NewAPI(baseURL string, tenantID, userID int64, httpClient *http.Client) *API {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &API{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tenantID: tenantID,
		userID:   userID,
		http:     httpClient,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// Inbox returns the raw inbox list.
func (a *API) Inbox(ctx context.Context) (any, error) {
	raw, err := a.get(ctx, "/inbox")
	if err != nil {
		return nil, err
	}
	return raw, nil
}

// Conversation returns a fetch function for one contact's messages.
func (a *API) Conversation(contactID int64) FetchFunc {
	return func(ctx context.Context) (any, error) {
		raw, err := a.get(ctx, "/contacts/"+strconv.FormatInt(contactID, 10)+"/messages")
		if err != nil {
			return nil, err
		}
		return raw, nil
	}
}

// InstanceStatus returns the gateway connection state of an instance.
func (a *API) InstanceStatus(ctx context.Context, name string) (*cache.InstanceStatus, error) {
	raw, err := a.get(ctx, "/instances/"+url.PathEscape(name)+"/status")
	if err != nil {
		return nil, err
	}
	var st cache.InstanceStatus
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode instance status: %w", err)
	}
	return &st, nil
}

func (a *API) get(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Tenant-ID", strconv.FormatInt(a.tenantID, 10))
	req.Header.Set("X-User-ID", strconv.FormatInt(a.userID, 10))

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode %s: status=%d: %w", path, resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 || !env.Success {
		msg := env.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("get %s: status=%d: %w", path, resp.StatusCode, errors.New(msg))
	}
	return env.Data, nil
}
