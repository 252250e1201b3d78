package crm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/realtime"
	"crm-whatsapp/internal/repo"
	"crm-whatsapp/internal/wa"
)

const maxTextLength = 4096

// MediaInput describes an outbound media message. Media is a public URL or base64 data.
type MediaInput struct {
	MediaType string
	Media     string
	Mimetype  string
	Caption   string
	FileName  string
}

// SendText delivers a text through the tenant's instance, stores it and notifies every session.
func (s *Service) SendText(ctx context.Context, tenantID, userID, contactID int64, text string) (*repo.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalid("message text is empty")
	}
	if len([]rune(text)) > maxTextLength {
		return nil, invalid("message text longer than %d characters", maxTextLength)
	}

	contact, inst, err := s.sendTarget(ctx, tenantID, contactID)
	if err != nil {
		return nil, err
	}

	sent, err := s.gw.SendText(ctx, inst.Name, contact.Phone, text)
	if err != nil {
		s.countError("crm_send")
		return nil, fmt.Errorf("send text: %w", err)
	}

	return s.recordOutbound(ctx, tenantID, userID, contact, sent, repo.KindText, text, nil)
}

// SendMedia delivers an image, video, audio or document.
func (s *Service) SendMedia(ctx context.Context, tenantID, userID, contactID int64, in MediaInput) (*repo.Message, error) {
	in.MediaType = strings.ToLower(strings.TrimSpace(in.MediaType))
	kind, placeholder, ok := mediaKind(in.MediaType)
	if !ok {
		return nil, invalid("unsupported media type %q", in.MediaType)
	}
	if strings.TrimSpace(in.Media) == "" {
		return nil, invalid("media is empty")
	}

	contact, inst, err := s.sendTarget(ctx, tenantID, contactID)
	if err != nil {
		return nil, err
	}

	sent, err := s.gw.SendMedia(ctx, inst.Name, gateway.SendMediaRequest{
		Number:    contact.Phone,
		MediaType: in.MediaType,
		Mimetype:  in.Mimetype,
		Caption:   in.Caption,
		Media:     in.Media,
		FileName:  in.FileName,
	})
	if err != nil {
		s.countError("crm_send")
		return nil, fmt.Errorf("send media: %w", err)
	}

	content := strings.TrimSpace(in.Caption)
	if content == "" && in.MediaType == gateway.MediaDocument {
		content = strings.TrimSpace(in.FileName)
	}
	if content == "" {
		content = placeholder
	}
	var mediaURL *string
	if strings.HasPrefix(in.Media, "http://") || strings.HasPrefix(in.Media, "https://") {
		mediaURL = &in.Media
	}
	return s.recordOutbound(ctx, tenantID, userID, contact, sent, kind, content, mediaURL)
}

func mediaKind(mediaType string) (kind, placeholder string, ok bool) {
	switch mediaType {
	case gateway.MediaImage:
		return repo.KindImage, wa.ImagePlaceholder, true
	case gateway.MediaVideo:
		return repo.KindFile, wa.VideoPlaceholder, true
	case gateway.MediaAudio:
		return repo.KindAudio, wa.AudioPlaceholder, true
	case gateway.MediaDocument:
		return repo.KindFile, wa.DocumentPlaceholder, true
	}
	return "", "", false
}

func (s *Service) sendTarget(ctx context.Context, tenantID, contactID int64) (*repo.Contact, *repo.Instance, error) {
	contact, err := s.store.GetContact(ctx, tenantID, contactID)
	if err != nil {
		return nil, nil, err
	}
	inst, err := s.activeInstance(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return contact, inst, nil
}

func (s *Service) recordOutbound(ctx context.Context, tenantID, userID int64, contact *repo.Contact, sent *gateway.MessageRecord, kind, content string, mediaURL *string) (*repo.Message, error) {
	msg := repo.Message{
		TenantID:  tenantID,
		ContactID: contact.ID,
		Sender:    repo.SenderUser,
		Content:   content,
		Kind:      kind,
		MediaURL:  mediaURL,
		Read:      true,
		CreatedAt: s.now(),
	}
	if sent != nil && sent.Key.ID != "" {
		id := sent.Key.ID
		msg.ExternalID = &id
	}

	stored, err := s.store.InsertMessage(ctx, msg)
	switch {
	case errors.Is(err, repo.ErrDuplicate) && msg.ExternalID != nil:
		// The gateway already delivered it; a history import may have stored the same id first.
		stored, err = s.store.GetMessageByExternalID(ctx, tenantID, *msg.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("load outbound message: %w", err)
		}
		s.logger.Info("outbound message already stored", "tenant_id", tenantID, "external_id", *msg.ExternalID)
	case err != nil:
		return nil, fmt.Errorf("store outbound message: %w", err)
	case s.metrics != nil:
		s.metrics.MessagesStored.WithLabelValues(realtime.DirectionOutbound).Inc()
	}

	if advanced, err := s.store.AdvanceLead(ctx, tenantID, contact.ID); err != nil {
		s.logger.Warn("advance lead failed", "tenant_id", tenantID, "contact_id", contact.ID, "error", err)
	} else if advanced {
		s.logger.Info("lead moved to em_atendimento", "tenant_id", tenantID, "contact_id", contact.ID, "user_id", userID)
	}

	s.hub.EmitToTenant(tenantID, realtime.EventNewMessage, realtime.MessageEvent(*stored, contact.Name), "")
	s.hub.EmitToTenant(tenantID, realtime.EventInboxUpdate, realtime.InboxEvent(*stored), "")
	return stored, nil
}

// MarkRead flags every unread inbound message of the conversation as read and returns how many
// changed. The gateway is told too, but its failure does not undo the local update.
func (s *Service) MarkRead(ctx context.Context, tenantID, contactID int64) (int, error) {
	contact, err := s.store.GetContact(ctx, tenantID, contactID)
	if err != nil {
		return 0, err
	}
	flipped, err := s.store.MarkMessagesRead(ctx, tenantID, contactID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}

	if keys := readKeys(contact.Phone, flipped); len(keys) > 0 {
		if inst, err := s.activeInstance(ctx, tenantID); err == nil {
			if err := s.gw.MarkRead(ctx, inst.Name, keys); err != nil {
				s.logger.Warn("gateway mark read failed", "tenant_id", tenantID, "contact_id", contactID, "error", err)
			}
		}
	}

	s.hub.EmitToTenant(tenantID, realtime.EventInboxUpdate, realtime.InboxUpdate{ContactID: contactID, AllRead: true}, "")
	return len(flipped), nil
}

func readKeys(phone string, msgs []repo.Message) []gateway.MessageKey {
	jid := wa.PhoneJID(phone)
	keys := make([]gateway.MessageKey, 0, len(msgs))
	for _, m := range msgs {
		if m.ExternalID == nil {
			continue
		}
		keys = append(keys, gateway.MessageKey{RemoteJID: jid, FromMe: false, ID: *m.ExternalID})
	}
	return keys
}

// Typing relays a typing indicator to the tenant's other sessions. Nothing is stored.
func (s *Service) Typing(session realtime.Session, contactID int64, typing bool) error {
	if contactID <= 0 {
		return invalid("contatoId is required")
	}
	event := realtime.EventUserStoppedTyping
	if typing {
		event = realtime.EventUserTyping
	}
	s.hub.EmitToTenant(session.TenantID, event, realtime.Typing{ContactID: contactID, UserID: session.UserID}, session.SocketID)
	return nil
}

// ImportHistory copies the gateway's stored history of one conversation. Messages already
// present are skipped, so importing twice is harmless.
func (s *Service) ImportHistory(ctx context.Context, tenantID, contactID int64, limit int) (int, error) {
	contact, inst, err := s.sendTarget(ctx, tenantID, contactID)
	if err != nil {
		return 0, err
	}
	records, err := s.gw.FindMessages(ctx, inst.Name, wa.PhoneJID(contact.Phone), limit)
	if err != nil {
		return 0, fmt.Errorf("fetch history: %w", err)
	}

	imported := 0
	var last *repo.Message
	for _, rec := range records {
		if rec.Key.ID == "" {
			continue
		}
		content := wa.ExtractContent(rec.Message)
		sender := repo.SenderContact
		if rec.Key.FromMe {
			sender = repo.SenderUser
		}
		id := rec.Key.ID
		msg := repo.Message{
			TenantID:   tenantID,
			ContactID:  contact.ID,
			ExternalID: &id,
			Sender:     sender,
			Content:    content.Text,
			Kind:       content.Kind,
			Read:       true,
			CreatedAt:  rec.MessageTimestamp.Time(),
		}
		if content.MediaURL != "" {
			msg.MediaURL = &content.MediaURL
		}
		stored, err := s.store.InsertMessage(ctx, msg)
		if errors.Is(err, repo.ErrDuplicate) {
			continue
		}
		if err != nil {
			return imported, fmt.Errorf("store imported message: %w", err)
		}
		imported++
		if last == nil || !stored.CreatedAt.Before(last.CreatedAt) {
			last = stored
		}
	}

	if last != nil {
		s.hub.EmitToTenant(tenantID, realtime.EventInboxUpdate, realtime.InboxEvent(*last), "")
	}
	s.logger.Info("history imported", "tenant_id", tenantID, "contact_id", contactID, "imported", imported, "fetched", len(records))
	return imported, nil
}
