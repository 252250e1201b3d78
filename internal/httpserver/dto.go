package httpserver

import (
	"net/http"
	"time"

	"crm-whatsapp/internal/crm"
	"crm-whatsapp/internal/repo"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type createContactRequest struct {
	Name  string `json:"name" validate:"omitempty,max=120"`
	Phone string `json:"phone" validate:"required,min=8,max=32"`
}

func (req *createContactRequest) Bind(_ *http.Request) error { return validate.Struct(req) }

type sendTextRequest struct {
	Text string `json:"text" validate:"required,max=16384"`
}

func (req *sendTextRequest) Bind(_ *http.Request) error { return validate.Struct(req) }

type sendMediaRequest struct {
	MediaType string `json:"mediaType" validate:"required,oneof=image video audio document"`
	Media     string `json:"media" validate:"required"`
	Mimetype  string `json:"mimetype" validate:"omitempty,max=128"`
	Caption   string `json:"caption" validate:"omitempty,max=1024"`
	FileName  string `json:"fileName" validate:"omitempty,max=255"`
}

func (req *sendMediaRequest) Bind(_ *http.Request) error { return validate.Struct(req) }

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (req *statusRequest) Bind(_ *http.Request) error { return validate.Struct(req) }

type createOrderRequest struct {
	ContactID   int64          `json:"contactId" validate:"required,gt=0"`
	Description string         `json:"description" validate:"required,max=500"`
	AmountCents int64          `json:"amountCents" validate:"gte=0"`
	Metadata    map[string]any `json:"metadata"`
}

func (req *createOrderRequest) Bind(_ *http.Request) error { return validate.Struct(req) }

type createInstanceRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

func (req *createInstanceRequest) Bind(_ *http.Request) error { return validate.Struct(req) }

type contactDTO struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toContact(c repo.Contact) contactDTO {
	return contactDTO{ID: c.ID, Name: c.Name, Phone: c.Phone, AvatarURL: c.AvatarURL, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}
}

type messageDTO struct {
	ID         int64     `json:"id"`
	ContactID  int64     `json:"contactId"`
	ExternalID *string   `json:"externalId,omitempty"`
	Sender     string    `json:"sender"`
	Content    string    `json:"content"`
	Kind       string    `json:"kind"`
	MediaURL   *string   `json:"mediaUrl,omitempty"`
	Read       bool      `json:"read"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toMessage(m repo.Message) messageDTO {
	return messageDTO{
		ID:         m.ID,
		ContactID:  m.ContactID,
		ExternalID: m.ExternalID,
		Sender:     m.Sender,
		Content:    m.Content,
		Kind:       m.Kind,
		MediaURL:   m.MediaURL,
		Read:       m.Read,
		CreatedAt:  m.CreatedAt,
	}
}

type lastMessageDTO struct {
	Content string    `json:"content"`
	Kind    string    `json:"kind"`
	Sender  string    `json:"sender"`
	At      time.Time `json:"at"`
}

type inboxDTO struct {
	ContactID   int64          `json:"contactId"`
	ContactName string         `json:"contactName"`
	Phone       string         `json:"phone"`
	AvatarURL   *string        `json:"avatarUrl,omitempty"`
	LastMessage lastMessageDTO `json:"lastMessage"`
	Unread      int            `json:"unread"`
}

func toInbox(e repo.InboxEntry) inboxDTO {
	return inboxDTO{
		ContactID:   e.ContactID,
		ContactName: e.ContactName,
		Phone:       e.Phone,
		AvatarURL:   e.AvatarURL,
		LastMessage: lastMessageDTO{Content: e.LastContent, Kind: e.LastKind, Sender: e.LastSender, At: e.LastMessageAt},
		Unread:      e.Unread,
	}
}

type leadDTO struct {
	ID        int64     `json:"id"`
	ContactID int64     `json:"contactId"`
	Status    string    `json:"status"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toLead(l repo.Lead) leadDTO {
	return leadDTO{ID: l.ID, ContactID: l.ContactID, Status: l.Status, Origin: l.Origin, CreatedAt: l.CreatedAt, UpdatedAt: l.UpdatedAt}
}

type orderDTO struct {
	ID          int64          `json:"id"`
	ContactID   int64          `json:"contactId"`
	Description string         `json:"description"`
	AmountCents int64          `json:"amountCents"`
	Status      string         `json:"status"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

func toOrder(o repo.Order) orderDTO {
	return orderDTO{
		ID:          o.ID,
		ContactID:   o.ContactID,
		Description: o.Description,
		AmountCents: o.AmountCents,
		Status:      o.Status,
		Metadata:    o.Metadata,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

type instanceDTO struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toInstance(i repo.Instance) instanceDTO {
	return instanceDTO{Name: i.Name, Status: i.Status, CreatedAt: i.CreatedAt, UpdatedAt: i.UpdatedAt}
}

type dashboardDTO struct {
	LeadsByStatus      map[string]int `json:"leadsByStatus"`
	TotalLeads         int            `json:"totalLeads"`
	ConversionRate     float64        `json:"conversionRate"`
	AvgResponseSeconds float64        `json:"avgResponseSeconds"`
	RespondedCount     int            `json:"respondedCount"`
	OrderCount         int            `json:"orderCount"`
	PaidRevenueCents   int64          `json:"paidRevenueCents"`
}

func toDashboard(d *crm.Dashboard) dashboardDTO {
	return dashboardDTO{
		LeadsByStatus:      d.LeadsByStatus,
		TotalLeads:         d.TotalLeads,
		ConversionRate:     d.ConversionRate,
		AvgResponseSeconds: d.AvgResponseSeconds,
		RespondedCount:     d.RespondedCount,
		OrderCount:         d.OrderCount,
		PaidRevenueCents:   d.PaidRevenueCents,
	}
}

func mapSlice[T, D any](in []T, fn func(T) D) []D {
	out := make([]D, 0, len(in))
	for _, v := range in {
		out = append(out, fn(v))
	}
	return out
}
