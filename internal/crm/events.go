package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/realtime"
	"crm-whatsapp/internal/repo"
)

// clientError carries the text shown to the user next to the underlying cause.
type clientError struct {
	msg string
	err error
}

func (e *clientError) Error() string { return e.msg }
func (e *clientError) Unwrap() error { return e.err }

// HandleClientEvent dispatches an event received on a realtime session. Unknown events are
// ignored.
func (s *Service) HandleClientEvent(ctx context.Context, session realtime.Session, event string, data json.RawMessage) error {
	switch event {
	case realtime.EventSendMessage:
		var req realtime.SendMessageRequest
		if err := decodePayload(data, &req); err != nil {
			return err
		}
		if req.ContactID <= 0 {
			return &clientError{msg: "contatoId é obrigatório", err: ErrInvalidInput}
		}
		_, err := s.SendText(ctx, session.TenantID, session.UserID, req.ContactID, req.Content)
		return userFacing("falha ao enviar mensagem", err)

	case realtime.EventMarkRead:
		var req realtime.ContactRequest
		if err := decodePayload(data, &req); err != nil {
			return err
		}
		_, err := s.MarkRead(ctx, session.TenantID, req.ContactID)
		return userFacing("falha ao marcar mensagens como lidas", err)

	case realtime.EventTyping, realtime.EventStopTyping:
		var req realtime.ContactRequest
		if err := decodePayload(data, &req); err != nil {
			return err
		}
		return userFacing("evento de digitação inválido", s.Typing(session, req.ContactID, event == realtime.EventTyping))

	default:
		s.logger.Debug("ignoring client event", "event", event, "socket_id", session.SocketID)
		return nil
	}
}

func decodePayload(data json.RawMessage, dest any) error {
	if len(data) == 0 {
		return &clientError{msg: "dados do evento ausentes", err: ErrInvalidInput}
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return &clientError{msg: "dados do evento inválidos", err: fmt.Errorf("%w: %v", ErrInvalidInput, err)}
	}
	return nil
}

func userFacing(action string, err error) error {
	if err == nil {
		return nil
	}
	var msg string
	switch {
	case errors.Is(err, repo.ErrNotFound):
		msg = "contato não encontrado"
	case errors.Is(err, ErrNoInstance):
		msg = "nenhuma instância do WhatsApp configurada"
	case errors.Is(err, ErrInvalidInput):
		msg = action + ": " + err.Error()
	default:
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			msg = action + ": " + gwErr.Message
		} else {
			msg = action
		}
	}
	return &clientError{msg: msg, err: err}
}
