package crm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/metrics"
	"crm-whatsapp/internal/repo"
)

var (
	// ErrInvalidInput marks requests rejected before touching any collaborator.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoInstance is returned when the tenant has no gateway instance to send through.
	ErrNoInstance = errors.New("tenant has no whatsapp instance")
)

// Gateway is the subset of the gateway client the service calls.
type Gateway interface {
	CreateInstance(ctx context.Context, name string) (*gateway.CreateInstanceResult, error)
	ConnectInstance(ctx context.Context, name string) (*gateway.QRCode, error)
	ConnectionState(ctx context.Context, name string) (*gateway.ConnectionState, error)
	LogoutInstance(ctx context.Context, name string) error
	DeleteInstance(ctx context.Context, name string) error
	SendText(ctx context.Context, instance, number, text string) (*gateway.MessageRecord, error)
	SendMedia(ctx context.Context, instance string, req gateway.SendMediaRequest) (*gateway.MessageRecord, error)
	FindContacts(ctx context.Context, instance string) ([]gateway.Contact, error)
	FindMessages(ctx context.Context, instance, remoteJID string, limit int) ([]gateway.MessageRecord, error)
	MarkRead(ctx context.Context, instance string, keys []gateway.MessageKey) error
	SetWebhook(ctx context.Context, instance string, settings gateway.WebhookSettings) error
}

// Broadcaster pushes realtime events to connected sessions.
type Broadcaster interface {
	EmitToTenant(tenantID int64, event string, data any, exceptSocketID string)
}

// StatusCache keeps short-lived instance states.
type StatusCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Config holds service settings.
type Config struct {
	WebhookURL   string
	WebhookToken string
	StatusTTL    time.Duration
}

// Service implements the CRM operations shared by the HTTP API and the realtime channel.
type Service struct {
	store   repo.Repository
	gw      Gateway
	hub     Broadcaster
	status  StatusCache
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a service. status may be nil.
func New(store repo.Repository, gw Gateway, hub Broadcaster, status StatusCache, cfg Config, logger *slog.Logger, metrics *metrics.Metrics) *Service {
	if cfg.StatusTTL <= 0 {
		cfg.StatusTTL = 3 * time.Second
	}
	return &Service{
		store:   store,
		gw:      gw,
		hub:     hub,
		status:  status,
		cfg:     cfg,
		logger:  logger.With("component", "crm"),
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// activeInstance picks the tenant's instance to send through, connected ones first.
func (s *Service) activeInstance(ctx context.Context, tenantID int64) (*repo.Instance, error) {
	instances, err := s.store.ListInstances(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, ErrNoInstance
	}
	return &instances[0], nil
}

// ownedInstance loads an instance and hides instances of other tenants.
func (s *Service) ownedInstance(ctx context.Context, tenantID int64, name string) (*repo.Instance, error) {
	inst, err := s.store.GetInstanceByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if inst.TenantID != tenantID {
		return nil, fmt.Errorf("instance %s: %w", name, repo.ErrNotFound)
	}
	return inst, nil
}

func (s *Service) countError(component string) {
	if s.metrics != nil {
		s.metrics.Errors.WithLabelValues(component).Inc()
	}
}
