package gateway

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// MessageKey identifies a message on the gateway.
type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// MessageRecord is the gateway's message shape, shared by webhook deliveries and history fetches.
type MessageRecord struct {
	Key              MessageKey      `json:"key"`
	PushName         string          `json:"pushName,omitempty"`
	Message          json.RawMessage `json:"message,omitempty"`
	MessageType      string          `json:"messageType,omitempty"`
	MessageTimestamp Timestamp       `json:"messageTimestamp,omitempty"`
	Status           string          `json:"status,omitempty"`
}

// Timestamp accepts unix seconds as a number, a string or a Long object.
type Timestamp int64

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*t = 0
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			*t = Timestamp(v)
			return nil
		}
		if f, err := n.Float64(); err == nil {
			*t = Timestamp(int64(f))
			return nil
		}
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			*t = 0
			return nil
		}
		*t = Timestamp(v)
		return nil
	}
	var long struct {
		Low  int64 `json:"low"`
		High int64 `json:"high"`
	}
	if err := json.Unmarshal(data, &long); err == nil {
		*t = Timestamp(long.High<<32 | (long.Low & 0xffffffff))
		return nil
	}
	*t = 0
	return nil
}

// Time converts the timestamp, returning the zero time when unset.
func (t Timestamp) Time() time.Time {
	if t <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(t), 0).UTC()
}

// Contact is one entry of the gateway's contact list.
type Contact struct {
	ID            string `json:"id"`
	RemoteJID     string `json:"remoteJid"`
	PushName      string `json:"pushName"`
	ProfilePicURL string `json:"profilePicUrl"`
}

// JID returns the contact's jid regardless of gateway version.
func (c Contact) JID() string {
	if c.RemoteJID != "" {
		return c.RemoteJID
	}
	return c.ID
}

// InstanceInfo describes a gateway instance.
type InstanceInfo struct {
	InstanceName string `json:"instanceName"`
	InstanceID   string `json:"instanceId"`
	Status       string `json:"status"`
}

// QRCode carries pairing material for a disconnected instance.
type QRCode struct {
	PairingCode string `json:"pairingCode,omitempty"`
	Code        string `json:"code,omitempty"`
	Base64      string `json:"base64,omitempty"`
	Count       int    `json:"count,omitempty"`
}

// CreateInstanceResult is the gateway reply to instance creation.
type CreateInstanceResult struct {
	Instance InstanceInfo    `json:"instance"`
	Hash     json.RawMessage `json:"hash,omitempty"`
	QRCode   *QRCode         `json:"qrcode,omitempty"`
}

// ConnectionState is the live state of an instance: open, close or connecting.
type ConnectionState struct {
	Instance string `json:"instance"`
	State    string `json:"state"`
}

// MediaType values accepted by SendMedia.
const (
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaAudio    = "audio"
	MediaDocument = "document"
)

// SendMediaRequest describes an outbound media message. Media is a URL or base64 payload.
type SendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Mimetype  string `json:"mimetype,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Media     string `json:"media"`
	FileName  string `json:"fileName,omitempty"`
}

// WebhookSettings configures where the gateway posts events.
type WebhookSettings struct {
	Enabled  bool     `json:"enabled"`
	URL      string   `json:"url"`
	ByEvents bool     `json:"webhookByEvents"`
	Base64   bool     `json:"webhookBase64"`
	Events   []string `json:"events,omitempty"`
}

// DefaultWebhookEvents are the events this service consumes.
var DefaultWebhookEvents = []string{"MESSAGES_UPSERT", "CONNECTION_UPDATE", "CONTACTS_UPSERT", "QRCODE_UPDATED"}
