package realtime

import (
	"encoding/json"
	"strconv"
	"time"

	"crm-whatsapp/internal/repo"
)

// Server to client events.
const (
	EventConnect           = "connect"
	EventDisconnect        = "disconnect"
	EventNewMessage        = "chat:mensagem-nova"
	EventInboxUpdate       = "inbox:atualizar"
	EventUserTyping        = "chat:usuario-digitando"
	EventUserStoppedTyping = "chat:usuario-parou-digitar"
	EventError             = "erro"
)

// Client to server events.
const (
	EventSendMessage = "mensagem:enviar"
	EventMarkRead    = "mensagem:marcar-lido"
	EventTyping      = "chat:digitando"
	EventStopTyping  = "chat:parou-digitar"
)

// Message directions.
const (
	DirectionInbound  = "entrada"
	DirectionOutbound = "saida"
)

// Frame is the wire format in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Connected is the payload of the connect event.
type Connected struct {
	SocketID string `json:"socketId"`
}

// NewMessage is the payload of chat:mensagem-nova.
type NewMessage struct {
	ID          int64     `json:"id"`
	ContactID   int64     `json:"contatoId"`
	ContactName string    `json:"contatoNome"`
	Content     string    `json:"conteudo"`
	Kind        string    `json:"tipo"`
	Direction   string    `json:"direcao"`
	MediaURL    *string   `json:"mediaUrl,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// LastMessage summarises the newest message of a conversation.
type LastMessage struct {
	Content   string    `json:"conteudo"`
	Kind      string    `json:"tipo"`
	Timestamp time.Time `json:"timestamp"`
}

// InboxUpdate is the payload of inbox:atualizar. Exactly one of LastMessage and AllRead is set.
type InboxUpdate struct {
	ContactID   int64        `json:"contatoId"`
	LastMessage *LastMessage `json:"ultimaMensagem,omitempty"`
	AllRead     bool         `json:"todasLidas,omitempty"`
}

// Typing is the payload of both typing indicators.
type Typing struct {
	ContactID int64 `json:"contatoId"`
	UserID    int64 `json:"usuarioId"`
}

// ErrorPayload is the payload of erro.
type ErrorPayload struct {
	Message string `json:"mensagem"`
}

// SendMessageRequest is the payload of mensagem:enviar.
type SendMessageRequest struct {
	ContactID int64  `json:"contatoId"`
	Content   string `json:"conteudo"`
}

// ContactRequest is the payload of mensagem:marcar-lido and the typing events.
type ContactRequest struct {
	ContactID int64 `json:"contatoId"`
}

// MessageEvent builds the chat:mensagem-nova payload for a stored message.
func MessageEvent(msg repo.Message, contactName string) NewMessage {
	direction := DirectionInbound
	if msg.Sender == repo.SenderUser {
		direction = DirectionOutbound
	}
	return NewMessage{
		ID:          msg.ID,
		ContactID:   msg.ContactID,
		ContactName: contactName,
		Content:     msg.Content,
		Kind:        msg.Kind,
		Direction:   direction,
		MediaURL:    msg.MediaURL,
		Timestamp:   msg.CreatedAt,
	}
}

// InboxEvent builds the "last message" flavour of inbox:atualizar.
func InboxEvent(msg repo.Message) InboxUpdate {
	return InboxUpdate{
		ContactID: msg.ContactID,
		LastMessage: &LastMessage{
			Content:   msg.Content,
			Kind:      msg.Kind,
			Timestamp: msg.CreatedAt,
		},
	}
}

// TenantRoom names the broadcast room shared by every session of a tenant.
func TenantRoom(tenantID int64) string {
	return "tenant:" + strconv.FormatInt(tenantID, 10)
}

// UserRoom names the room of every session of one user.
func UserRoom(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
