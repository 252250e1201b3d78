package repo

import "time"

// Message senders.
const (
	SenderUser    = "usuario"
	SenderContact = "contato"
)

// Message kinds.
const (
	KindText   = "texto"
	KindImage  = "imagem"
	KindAudio  = "audio"
	KindFile   = "arquivo"
	KindSystem = "sistema"
)

// Lead statuses. Any status may follow any other.
const (
	LeadNew        = "novo"
	LeadInProgress = "em_atendimento"
	LeadConverted  = "convertido"
	LeadLost       = "perdido"
)

// Order statuses.
const (
	OrderPending   = "pendente"
	OrderPaid      = "pago"
	OrderCancelled = "cancelado"
)

// Instance connection states as reported by the gateway.
const (
	InstanceOpen       = "open"
	InstanceClose      = "close"
	InstanceConnecting = "connecting"
)

// Instance mirrors one gateway session for display and tenant resolution.
type Instance struct {
	ID        int64
	TenantID  int64
	Name      string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contact represents the contacts table row.
type Contact struct {
	ID        int64
	TenantID  int64
	Name      string
	Phone     string
	AvatarURL *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is immutable once stored except for Read, which only moves from false to true.
type Message struct {
	ID         int64
	TenantID   int64
	ContactID  int64
	ExternalID *string
	Sender     string
	Content    string
	Kind       string
	MediaURL   *string
	Read       bool
	CreatedAt  time.Time
}

// InboxEntry summarises one conversation for the inbox list.
type InboxEntry struct {
	ContactID     int64
	ContactName   string
	Phone         string
	AvatarURL     *string
	LastContent   string
	LastKind      string
	LastSender    string
	LastMessageAt time.Time
	Unread        int
}

// Lead represents a conversation's commercial state.
type Lead struct {
	ID        int64
	TenantID  int64
	ContactID int64
	Status    string
	Origin    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Order represents a row in orders table.
type Order struct {
	ID          int64
	TenantID    int64
	ContactID   int64
	Description string
	AmountCents int64
	Status      string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
