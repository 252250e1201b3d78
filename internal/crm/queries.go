package crm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm-whatsapp/internal/repo"
	"crm-whatsapp/internal/wa"
)

const (
	dashboardWindow = 30 * 24 * time.Hour
	manualOrigin    = "manual"
)

// Conversation returns one page of a contact's messages, oldest first.
func (s *Service) Conversation(ctx context.Context, tenantID, contactID int64, limit, offset int) ([]repo.Message, error) {
	if _, err := s.store.GetContact(ctx, tenantID, contactID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, tenantID, contactID, limit, offset)
}

// Inbox lists every conversation of the tenant, most recent first.
func (s *Service) Inbox(ctx context.Context, tenantID int64) ([]repo.InboxEntry, error) {
	return s.store.ListInbox(ctx, tenantID)
}

// Contacts lists the tenant's contacts by name.
func (s *Service) Contacts(ctx context.Context, tenantID int64) ([]repo.Contact, error) {
	return s.store.ListContacts(ctx, tenantID)
}

// CreateContact adds a contact by hand. An existing phone returns the stored contact.
func (s *Service) CreateContact(ctx context.Context, tenantID int64, name, phone string) (*repo.Contact, bool, error) {
	phone = wa.NormalizePhone(phone)
	if len(phone) < 8 {
		return nil, false, invalid("phone %q is not a valid number", phone)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = phone
	}
	contact, created, err := s.store.FindOrCreateContact(ctx, repo.Contact{TenantID: tenantID, Name: name, Phone: phone})
	if err != nil {
		return nil, false, err
	}
	if _, err := s.store.EnsureLead(ctx, tenantID, contact.ID, manualOrigin); err != nil {
		return nil, false, fmt.Errorf("ensure lead: %w", err)
	}
	return contact, created, nil
}

// Leads lists leads, optionally filtered by status.
func (s *Service) Leads(ctx context.Context, tenantID int64, status string) ([]repo.Lead, error) {
	if status != "" && !validLeadStatus(status) {
		return nil, invalid("unknown lead status %q", status)
	}
	return s.store.ListLeads(ctx, tenantID, status)
}

// UpdateLeadStatus moves a lead to any status.
func (s *Service) UpdateLeadStatus(ctx context.Context, tenantID, leadID int64, status string) (*repo.Lead, error) {
	if !validLeadStatus(status) {
		return nil, invalid("unknown lead status %q", status)
	}
	return s.store.UpdateLeadStatus(ctx, tenantID, leadID, status)
}

func validLeadStatus(status string) bool {
	switch status {
	case repo.LeadNew, repo.LeadInProgress, repo.LeadConverted, repo.LeadLost:
		return true
	}
	return false
}

// OrderInput holds the fields of a new order.
type OrderInput struct {
	ContactID   int64
	Description string
	AmountCents int64
	Metadata    map[string]any
}

// Orders lists the tenant's orders, newest first.
func (s *Service) Orders(ctx context.Context, tenantID int64) ([]repo.Order, error) {
	return s.store.ListOrders(ctx, tenantID)
}

// CreateOrder records a pending order for a contact.
func (s *Service) CreateOrder(ctx context.Context, tenantID int64, in OrderInput) (*repo.Order, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Description == "" {
		return nil, invalid("description is required")
	}
	if in.AmountCents < 0 {
		return nil, invalid("amount must not be negative")
	}
	if _, err := s.store.GetContact(ctx, tenantID, in.ContactID); err != nil {
		return nil, err
	}
	return s.store.InsertOrder(ctx, repo.Order{
		TenantID:    tenantID,
		ContactID:   in.ContactID,
		Description: in.Description,
		AmountCents: in.AmountCents,
		Status:      repo.OrderPending,
		Metadata:    in.Metadata,
	})
}

// UpdateOrderStatus sets pendente, pago or cancelado.
func (s *Service) UpdateOrderStatus(ctx context.Context, tenantID, orderID int64, status string) (*repo.Order, error) {
	switch status {
	case repo.OrderPending, repo.OrderPaid, repo.OrderCancelled:
	default:
		return nil, invalid("unknown order status %q", status)
	}
	return s.store.UpdateOrderStatus(ctx, tenantID, orderID, status)
}

// Dashboard aggregates the tenant's commercial indicators.
type Dashboard struct {
	LeadsByStatus      map[string]int
	TotalLeads         int
	ConversionRate     float64
	AvgResponseSeconds float64
	RespondedCount     int
	OrderCount         int
	PaidRevenueCents   int64
}

// Dashboard computes lead counts, conversion rate, mean first response time over the last
// 30 days, order count and paid revenue.
func (s *Service) Dashboard(ctx context.Context, tenantID int64) (*Dashboard, error) {
	leads, err := s.store.ListLeads(ctx, tenantID, "")
	if err != nil {
		return nil, fmt.Errorf("list leads: %w", err)
	}
	orders, err := s.store.ListOrders(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	msgs, err := s.store.ListMessagesSince(ctx, tenantID, s.now().Add(-dashboardWindow))
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}

	d := &Dashboard{
		LeadsByStatus: map[string]int{
			repo.LeadNew:        0,
			repo.LeadInProgress: 0,
			repo.LeadConverted:  0,
			repo.LeadLost:       0,
		},
		TotalLeads: len(leads),
		OrderCount: len(orders),
	}
	for _, l := range leads {
		d.LeadsByStatus[l.Status]++
	}
	if d.TotalLeads > 0 {
		d.ConversionRate = float64(d.LeadsByStatus[repo.LeadConverted]) / float64(d.TotalLeads)
	}
	for _, o := range orders {
		if o.Status == repo.OrderPaid {
			d.PaidRevenueCents += o.AmountCents
		}
	}
	d.AvgResponseSeconds, d.RespondedCount = responseTime(msgs)
	return d, nil
}

// responseTime measures, per conversation, the gap between the first unanswered inbound
// message and the next outbound one. msgs must be ordered by contact then time.
func responseTime(msgs []repo.Message) (float64, int) {
	var (
		total     time.Duration
		count     int
		contactID int64
		waiting   *time.Time
	)
	for i := range msgs {
		m := msgs[i]
		if m.ContactID != contactID {
			contactID = m.ContactID
			waiting = nil
		}
		switch m.Sender {
		case repo.SenderContact:
			if waiting == nil {
				at := m.CreatedAt
				waiting = &at
			}
		case repo.SenderUser:
			if waiting != nil {
				total += m.CreatedAt.Sub(*waiting)
				count++
				waiting = nil
			}
		}
	}
	if count == 0 {
		return 0, 0
	}
	return total.Seconds() / float64(count), count
}
