package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crm-whatsapp/internal/cache"
	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/metrics"
	"crm-whatsapp/internal/realtime"
	"crm-whatsapp/internal/repo"
	"crm-whatsapp/internal/wa"
)

// Outcomes reported per event.
const (
	OutcomeStored        = "stored"
	OutcomeDuplicate     = "duplicate"
	OutcomeIgnored       = "ignored"
	OutcomeUpdated       = "updated"
	OutcomeUnknownTenant = "unknown_tenant"
	OutcomeUnrecognized  = "unrecognized"
)

// LeadOrigin is recorded on leads created from inbound messages.
const LeadOrigin = "whatsapp"

// Store is the part of the repository webhook ingestion writes to.
type Store interface {
	GetInstanceByName(ctx context.Context, name string) (*repo.Instance, error)
	UpsertInstance(ctx context.Context, inst repo.Instance) (*repo.Instance, error)
	UpdateInstanceStatus(ctx context.Context, name, status string) error
	FindOrCreateContact(ctx context.Context, contact repo.Contact) (*repo.Contact, bool, error)
	UpsertContact(ctx context.Context, contact repo.Contact) (*repo.Contact, error)
	EnsureLead(ctx context.Context, tenantID, contactID int64, origin string) (*repo.Lead, error)
	InsertMessage(ctx context.Context, msg repo.Message) (*repo.Message, error)
}

// Broadcaster fans events out to a tenant's sessions.
type Broadcaster interface {
	EmitToTenant(tenantID int64, event string, data any, exceptSocketID string)
}

// StatusCache stores instance connection states for quick reads.
type StatusCache interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// IngestorConfig tunes tenant resolution and status caching.
type IngestorConfig struct {
	DefaultTenantID int64
	StatusTTL       time.Duration
}

// Ingestor applies decoded gateway events to the store and the realtime rooms.
type Ingestor struct {
	store   Store
	hub     Broadcaster
	status  StatusCache
	cfg     IngestorConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewIngestor creates an ingestor. status may be nil.
func NewIngestor(store Store, hub Broadcaster, status StatusCache, cfg IngestorConfig, logger *slog.Logger, metrics *metrics.Metrics) *Ingestor {
	return &Ingestor{
		store:   store,
		hub:     hub,
		status:  status,
		cfg:     cfg,
		logger:  logger.With("component", "webhook_ingest"),
		metrics: metrics,
	}
}

// Handle processes one event and reports what happened to it.
func (i *Ingestor) Handle(ctx context.Context, ev Event) (string, error) {
	if _, ok := ev.(Unrecognized); ok {
		i.logger.Debug("ignoring unrecognized event", "event", ev.Name(), "instance", ev.InstanceName())
		return OutcomeUnrecognized, nil
	}

	tenantID, ok, err := i.resolveTenant(ctx, ev.InstanceName())
	if err != nil {
		return "", err
	}
	if !ok {
		i.logger.Warn("no tenant for instance, event ignored", "event", ev.Name(), "instance", ev.InstanceName())
		return OutcomeUnknownTenant, nil
	}

	switch e := ev.(type) {
	case MessageUpsert:
		return i.handleMessages(ctx, tenantID, e)
	case ConnectionUpdate:
		return i.handleConnection(ctx, tenantID, e)
	case ContactsUpsert:
		return i.handleContacts(ctx, tenantID, e)
	default:
		return OutcomeUnrecognized, nil
	}
}

func (i *Ingestor) resolveTenant(ctx context.Context, instance string) (int64, bool, error) {
	if instance != "" {
		inst, err := i.store.GetInstanceByName(ctx, instance)
		switch {
		case err == nil:
			return inst.TenantID, true, nil
		case !errors.Is(err, repo.ErrNotFound):
			return 0, false, fmt.Errorf("resolve tenant: %w", err)
		}
	}
	if i.cfg.DefaultTenantID > 0 {
		return i.cfg.DefaultTenantID, true, nil
	}
	return 0, false, nil
}

func (i *Ingestor) handleMessages(ctx context.Context, tenantID int64, ev MessageUpsert) (string, error) {
	outcome := OutcomeIgnored
	for _, rec := range ev.Records {
		res, err := i.storeMessage(ctx, tenantID, rec)
		if err != nil {
			return "", err
		}
		if res == OutcomeStored || (res == OutcomeDuplicate && outcome == OutcomeIgnored) {
			outcome = res
		}
	}
	return outcome, nil
}

func (i *Ingestor) storeMessage(ctx context.Context, tenantID int64, rec gateway.MessageRecord) (string, error) {
	if rec.Key.FromMe {
		return OutcomeIgnored, nil
	}

	phone, err := wa.ParsePhone(rec.Key.RemoteJID)
	if err != nil {
		if errors.Is(err, wa.ErrNotPerson) {
			i.logger.Debug("ignoring non-person chat", "remote_jid", rec.Key.RemoteJID)
			return OutcomeIgnored, nil
		}
		return "", fmt.Errorf("parse remote jid: %w", err)
	}

	name := strings.TrimSpace(rec.PushName)
	if name == "" {
		name = phone
	}
	contact, created, err := i.store.FindOrCreateContact(ctx, repo.Contact{TenantID: tenantID, Name: name, Phone: phone})
	if err != nil {
		return "", fmt.Errorf("find or create contact: %w", err)
	}
	if created {
		i.logger.Info("contact created from inbound message", "tenant_id", tenantID, "contact_id", contact.ID)
	}
	if _, err := i.store.EnsureLead(ctx, tenantID, contact.ID, LeadOrigin); err != nil {
		return "", fmt.Errorf("ensure lead: %w", err)
	}

	content := wa.ExtractContent(rec.Message)
	msg := repo.Message{
		TenantID:   tenantID,
		ContactID:  contact.ID,
		ExternalID: optional(rec.Key.ID),
		Sender:     repo.SenderContact,
		Content:    content.Text,
		Kind:       content.Kind,
		MediaURL:   optional(content.MediaURL),
		CreatedAt:  rec.MessageTimestamp.Time(),
	}
	stored, err := i.store.InsertMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			i.logger.Info("duplicate delivery ignored", "tenant_id", tenantID, "external_id", rec.Key.ID)
			return OutcomeDuplicate, nil
		}
		return "", fmt.Errorf("insert message: %w", err)
	}
	if i.metrics != nil {
		i.metrics.MessagesStored.WithLabelValues(realtime.DirectionInbound).Inc()
	}

	i.hub.EmitToTenant(tenantID, realtime.EventNewMessage, realtime.MessageEvent(*stored, contact.Name), "")
	i.hub.EmitToTenant(tenantID, realtime.EventInboxUpdate, realtime.InboxEvent(*stored), "")
	return OutcomeStored, nil
}

func (i *Ingestor) handleConnection(ctx context.Context, tenantID int64, ev ConnectionUpdate) (string, error) {
	if ev.Instance == "" || ev.State == "" {
		return OutcomeIgnored, nil
	}
	i.logger.Info("instance connection changed", "tenant_id", tenantID, "instance", ev.Instance, "state", ev.State, "status_reason", ev.StatusReason)

	err := i.store.UpdateInstanceStatus(ctx, ev.Instance, ev.State)
	if errors.Is(err, repo.ErrNotFound) {
		_, err = i.store.UpsertInstance(ctx, repo.Instance{TenantID: tenantID, Name: ev.Instance, Status: ev.State})
	}
	if err != nil {
		return "", fmt.Errorf("record instance state: %w", err)
	}

	if i.status != nil {
		status := cache.InstanceStatus{Instance: ev.Instance, State: ev.State, UpdatedAt: time.Now().UTC()}
		if err := i.status.SetJSON(ctx, cache.InstanceStatusKey(ev.Instance), status, i.cfg.StatusTTL); err != nil {
			i.logger.Warn("cache instance status failed", "instance", ev.Instance, "error", err)
		}
	}
	return OutcomeUpdated, nil
}

func (i *Ingestor) handleContacts(ctx context.Context, tenantID int64, ev ContactsUpsert) (string, error) {
	updated := 0
	for _, c := range ev.Contacts {
		phone, err := wa.ParsePhone(c.JID())
		if err != nil {
			continue
		}
		name := strings.TrimSpace(c.PushName)
		if name == "" {
			name = phone
		}
		if _, err := i.store.UpsertContact(ctx, repo.Contact{
			TenantID:  tenantID,
			Name:      name,
			Phone:     phone,
			AvatarURL: optional(c.ProfilePicURL),
		}); err != nil {
			return "", fmt.Errorf("upsert contact: %w", err)
		}
		updated++
	}
	if updated == 0 {
		return OutcomeIgnored, nil
	}
	return OutcomeUpdated, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
