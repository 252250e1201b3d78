package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrNotFound indicates the gateway does not know the instance or resource.
	ErrNotFound = errors.New("gateway resource not found")
	// ErrUnauthorized indicates the gateway rejected the API key.
	ErrUnauthorized = errors.New("gateway unauthorized")
)

// Error is returned by every failed gateway call.
type Error struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway %s: status=%d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorMessage returns the gateway's own message carried by err, if any.
func ErrorMessage(err error) string {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func classifyHTTPError(op string, status int, body []byte) error {
	msg := extractMessage(body)
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := &Error{Op: op, Status: status, Message: msg}
	switch status {
	case http.StatusNotFound:
		e.Err = ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Err = ErrUnauthorized
	}
	return e
}

func transportError(op string, err error) error {
	return &Error{Op: op, Message: err.Error(), Err: err}
}

// extractMessage reads response.message (string or list), then error, then message.
func extractMessage(body []byte) string {
	var env struct {
		Response struct {
			Message json.RawMessage `json:"message"`
		} `json:"response"`
		Error   json.RawMessage `json:"error"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, raw := range []json.RawMessage{env.Response.Message, env.Error, env.Message} {
		if msg := rawText(raw); msg != "" {
			return msg
		}
	}
	return ""
}

func rawText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			switch v := item.(type) {
			case string:
				parts = append(parts, v)
			default:
				if b, err := json.Marshal(v); err == nil {
					parts = append(parts, string(b))
				}
			}
		}
		return strings.TrimSpace(strings.Join(parts, "; "))
	}
	return ""
}
