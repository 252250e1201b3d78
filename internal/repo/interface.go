package repo

import (
	"context"
	"io/fs"
	"time"
)

// Repository defines the interface for data persistence. Every query is tenant scoped.
type Repository interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Instances
	UpsertInstance(ctx context.Context, inst Instance) (*Instance, error)
	GetInstanceByName(ctx context.Context, name string) (*Instance, error)
	ListInstances(ctx context.Context, tenantID int64) ([]Instance, error)
	UpdateInstanceStatus(ctx context.Context, name, status string) error
	DeleteInstance(ctx context.Context, tenantID int64, name string) error

	// Contacts
	GetContact(ctx context.Context, tenantID, id int64) (*Contact, error)
	GetContactByPhone(ctx context.Context, tenantID int64, phone string) (*Contact, error)
	FindOrCreateContact(ctx context.Context, contact Contact) (*Contact, bool, error)
	UpsertContact(ctx context.Context, contact Contact) (*Contact, error)
	ListContacts(ctx context.Context, tenantID int64) ([]Contact, error)

	// Messages
	InsertMessage(ctx context.Context, msg Message) (*Message, error)
	GetMessageByExternalID(ctx context.Context, tenantID int64, externalID string) (*Message, error)
	ListMessages(ctx context.Context, tenantID, contactID int64, limit, offset int) ([]Message, error)
	ListMessagesSince(ctx context.Context, tenantID int64, since time.Time) ([]Message, error)
	MarkMessagesRead(ctx context.Context, tenantID, contactID int64) ([]Message, error)
	ListInbox(ctx context.Context, tenantID int64) ([]InboxEntry, error)

	// Leads
	EnsureLead(ctx context.Context, tenantID, contactID int64, origin string) (*Lead, error)
	GetLead(ctx context.Context, tenantID, id int64) (*Lead, error)
	ListLeads(ctx context.Context, tenantID int64, status string) ([]Lead, error)
	UpdateLeadStatus(ctx context.Context, tenantID, id int64, status string) (*Lead, error)
	AdvanceLead(ctx context.Context, tenantID, contactID int64) (bool, error)

	// Orders
	InsertOrder(ctx context.Context, order Order) (*Order, error)
	ListOrders(ctx context.Context, tenantID int64) ([]Order, error)
	UpdateOrderStatus(ctx context.Context, tenantID, id int64, status string) (*Order, error)
}
