package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"crm-whatsapp/internal/gateway"
)

// Normalized event names.
const (
	NameMessagesUpsert   = "messages.upsert"
	NameConnectionUpdate = "connection.update"
	NameContactsUpsert   = "contacts.upsert"
)

// Event is one decoded gateway delivery.
type Event interface {
	Name() string
	InstanceName() string
}

// MessageUpsert carries one or more new messages.
type MessageUpsert struct {
	Instance string
	Records  []gateway.MessageRecord
}

// ConnectionUpdate reports a new connection state of an instance.
type ConnectionUpdate struct {
	Instance     string
	State        string
	StatusReason int
}

// ContactsUpsert carries contact list changes.
type ContactsUpsert struct {
	Instance string
	Contacts []gateway.Contact
}

// Unrecognized is any event this service does not model. Handling it is a no-op.
type Unrecognized struct {
	Instance string
	Event    string
}

func (e MessageUpsert) Name() string            { return NameMessagesUpsert }
func (e MessageUpsert) InstanceName() string    { return e.Instance }
func (e ConnectionUpdate) Name() string         { return NameConnectionUpdate }
func (e ConnectionUpdate) InstanceName() string { return e.Instance }
func (e ContactsUpsert) Name() string           { return NameContactsUpsert }
func (e ContactsUpsert) InstanceName() string   { return e.Instance }
func (e Unrecognized) Name() string             { return e.Event }
func (e Unrecognized) InstanceName() string     { return e.Instance }

var errMissingData = errors.New("missing data")

type envelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

// NormalizeEventName lowercases the name and maps the gateway's separators to dots,
// so MESSAGES_UPSERT, messages-upsert and messages.upsert are the same event.
func NormalizeEventName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.NewReplacer("_", ".", "-", ".").Replace(name)
}

// Decode parses a webhook body. pathEvent is used when the body carries no event name.
// Unknown events decode to Unrecognized; a malformed body of a known event is an error.
func Decode(body []byte, pathEvent string) (Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	name := NormalizeEventName(env.Event)
	if name == "" {
		name = NormalizeEventName(pathEvent)
	}

	switch name {
	case NameMessagesUpsert:
		records, err := decodeOneOrMany[gateway.MessageRecord](env.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return MessageUpsert{Instance: env.Instance, Records: records}, nil

	case NameConnectionUpdate:
		var data struct {
			Instance     string `json:"instance"`
			State        string `json:"state"`
			StatusReason int    `json:"statusReason"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		instance := env.Instance
		if instance == "" {
			instance = data.Instance
		}
		return ConnectionUpdate{Instance: instance, State: strings.ToLower(data.State), StatusReason: data.StatusReason}, nil

	case NameContactsUpsert:
		contacts, err := decodeOneOrMany[gateway.Contact](env.Data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		return ContactsUpsert{Instance: env.Instance, Contacts: contacts}, nil

	default:
		return Unrecognized{Instance: env.Instance, Event: name}, nil
	}
}

func decodeOneOrMany[T any](raw json.RawMessage) ([]T, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, errMissingData
	}
	if trimmed[0] == '[' {
		var list []T
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, err
		}
		return list, nil
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, err
	}
	return []T{one}, nil
}
