package crm

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"crm-whatsapp/internal/cache"
	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/repo"
	"crm-whatsapp/internal/wa"
)

var instanceNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{1,63}$`)

// CreatedInstance is the result of CreateInstance.
type CreatedInstance struct {
	Instance *repo.Instance
	QRCode   *gateway.QRCode
}

// ListInstances returns the tenant's instances, connected ones first.
func (s *Service) ListInstances(ctx context.Context, tenantID int64) ([]repo.Instance, error) {
	return s.store.ListInstances(ctx, tenantID)
}

// CreateInstance creates the gateway session, points its webhook at this service and records it.
func (s *Service) CreateInstance(ctx context.Context, tenantID int64, name string) (*CreatedInstance, error) {
	name = strings.TrimSpace(name)
	if !instanceNamePattern.MatchString(name) {
		return nil, invalid("instance name %q must be 2-64 letters, digits, '-' or '_'", name)
	}
	existing, err := s.store.GetInstanceByName(ctx, name)
	switch {
	case err == nil && existing.TenantID != tenantID:
		return nil, invalid("instance name %q is taken", name)
	case err != nil && !errors.Is(err, repo.ErrNotFound):
		return nil, err
	}

	created, err := s.gw.CreateInstance(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	if hook := s.webhookURL(); hook != "" {
		err := s.gw.SetWebhook(ctx, name, gateway.WebhookSettings{Enabled: true, URL: hook})
		if err != nil {
			s.logger.Warn("set webhook failed", "tenant_id", tenantID, "instance", name, "error", err)
		}
	} else {
		s.logger.Warn("PUBLIC_BASE_URL not set, instance created without webhook", "instance", name)
	}

	inst, err := s.store.UpsertInstance(ctx, repo.Instance{TenantID: tenantID, Name: name, Status: repo.InstanceConnecting})
	if err != nil {
		return nil, fmt.Errorf("record instance: %w", err)
	}
	s.logger.Info("instance created", "tenant_id", tenantID, "instance", name)
	return &CreatedInstance{Instance: inst, QRCode: created.QRCode}, nil
}

func (s *Service) webhookURL() string {
	if s.cfg.WebhookURL == "" || s.cfg.WebhookToken == "" {
		return s.cfg.WebhookURL
	}
	u, err := url.Parse(s.cfg.WebhookURL)
	if err != nil {
		return s.cfg.WebhookURL
	}
	q := u.Query()
	q.Set("token", s.cfg.WebhookToken)
	u.RawQuery = q.Encode()
	return u.String()
}

// ConnectInstance returns a QR code or pairing code for the instance.
func (s *Service) ConnectInstance(ctx context.Context, tenantID int64, name string) (*gateway.QRCode, error) {
	if _, err := s.ownedInstance(ctx, tenantID, name); err != nil {
		return nil, err
	}
	qr, err := s.gw.ConnectInstance(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("connect instance: %w", err)
	}
	return qr, nil
}

// InstanceStatus returns the live connection state, served from the short-lived cache when
// possible, and mirrors it into the instances table.
func (s *Service) InstanceStatus(ctx context.Context, tenantID int64, name string) (*cache.InstanceStatus, error) {
	inst, err := s.ownedInstance(ctx, tenantID, name)
	if err != nil {
		return nil, err
	}

	key := cache.InstanceStatusKey(name)
	if s.status != nil {
		var cached cache.InstanceStatus
		ok, err := s.status.GetJSON(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("read instance status cache failed", "instance", name, "error", err)
		} else if ok {
			return &cached, nil
		}
	}

	state, err := s.gw.ConnectionState(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("connection state: %w", err)
	}
	status := &cache.InstanceStatus{Instance: name, State: state.State, UpdatedAt: s.now()}

	if state.State != "" && state.State != inst.Status {
		if err := s.store.UpdateInstanceStatus(ctx, name, state.State); err != nil {
			s.logger.Warn("mirror instance status failed", "instance", name, "error", err)
		}
	}
	if s.status != nil {
		if err := s.status.SetJSON(ctx, key, status, s.cfg.StatusTTL); err != nil {
			s.logger.Warn("cache instance status failed", "instance", name, "error", err)
		}
	}
	return status, nil
}

// LogoutInstance disconnects the WhatsApp number but keeps the instance.
func (s *Service) LogoutInstance(ctx context.Context, tenantID int64, name string) error {
	if _, err := s.ownedInstance(ctx, tenantID, name); err != nil {
		return err
	}
	if err := s.gw.LogoutInstance(ctx, name); err != nil {
		return fmt.Errorf("logout instance: %w", err)
	}
	if err := s.store.UpdateInstanceStatus(ctx, name, repo.InstanceClose); err != nil {
		return err
	}
	s.forgetStatus(ctx, name)
	return nil
}

// DeleteInstance removes the instance from the gateway and from this service. An instance the
// gateway no longer knows is still removed locally.
func (s *Service) DeleteInstance(ctx context.Context, tenantID int64, name string) error {
	if _, err := s.ownedInstance(ctx, tenantID, name); err != nil {
		return err
	}
	if err := s.gw.DeleteInstance(ctx, name); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return fmt.Errorf("delete instance: %w", err)
	}
	if err := s.store.DeleteInstance(ctx, tenantID, name); err != nil {
		return err
	}
	s.forgetStatus(ctx, name)
	return nil
}

func (s *Service) forgetStatus(ctx context.Context, name string) {
	if s.status == nil {
		return
	}
	if err := s.status.Delete(ctx, cache.InstanceStatusKey(name)); err != nil {
		s.logger.Warn("drop instance status cache failed", "instance", name, "error", err)
	}
}

// SyncContacts copies the instance's contact list into the tenant's contacts and returns how
// many person contacts were written.
func (s *Service) SyncContacts(ctx context.Context, tenantID int64, name string) (int, error) {
	if _, err := s.ownedInstance(ctx, tenantID, name); err != nil {
		return 0, err
	}
	contacts, err := s.gw.FindContacts(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("fetch contacts: %w", err)
	}

	synced := 0
	for _, c := range contacts {
		phone, err := wa.ParsePhone(c.JID())
		if err != nil {
			continue
		}
		contact := repo.Contact{TenantID: tenantID, Name: strings.TrimSpace(c.PushName), Phone: phone}
		if contact.Name == "" {
			contact.Name = phone
		}
		if c.ProfilePicURL != "" {
			pic := c.ProfilePicURL
			contact.AvatarURL = &pic
		}
		if _, err := s.store.UpsertContact(ctx, contact); err != nil {
			return synced, fmt.Errorf("upsert contact: %w", err)
		}
		synced++
	}
	s.logger.Info("contacts synced", "tenant_id", tenantID, "instance", name, "synced", synced, "fetched", len(contacts))
	return synced, nil
}
