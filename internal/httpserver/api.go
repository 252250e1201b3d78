package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"crm-whatsapp/internal/cache"
	"crm-whatsapp/internal/crm"
	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/repo"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// CRM is the service behind the request/response API.
type CRM interface {
	Inbox(ctx context.Context, tenantID int64) ([]repo.InboxEntry, error)
	Contacts(ctx context.Context, tenantID int64) ([]repo.Contact, error)
	CreateContact(ctx context.Context, tenantID int64, name, phone string) (*repo.Contact, bool, error)
	Conversation(ctx context.Context, tenantID, contactID int64, limit, offset int) ([]repo.Message, error)
	SendText(ctx context.Context, tenantID, userID, contactID int64, text string) (*repo.Message, error)
	SendMedia(ctx context.Context, tenantID, userID, contactID int64, in crm.MediaInput) (*repo.Message, error)
	MarkRead(ctx context.Context, tenantID, contactID int64) (int, error)
	ImportHistory(ctx context.Context, tenantID, contactID int64, limit int) (int, error)

	Leads(ctx context.Context, tenantID int64, status string) ([]repo.Lead, error)
	UpdateLeadStatus(ctx context.Context, tenantID, leadID int64, status string) (*repo.Lead, error)
	Orders(ctx context.Context, tenantID int64) ([]repo.Order, error)
	CreateOrder(ctx context.Context, tenantID int64, in crm.OrderInput) (*repo.Order, error)
	UpdateOrderStatus(ctx context.Context, tenantID, orderID int64, status string) (*repo.Order, error)
	Dashboard(ctx context.Context, tenantID int64) (*crm.Dashboard, error)

	ListInstances(ctx context.Context, tenantID int64) ([]repo.Instance, error)
	CreateInstance(ctx context.Context, tenantID int64, name string) (*crm.CreatedInstance, error)
	ConnectInstance(ctx context.Context, tenantID int64, name string) (*gateway.QRCode, error)
	InstanceStatus(ctx context.Context, tenantID int64, name string) (*cache.InstanceStatus, error)
	LogoutInstance(ctx context.Context, tenantID int64, name string) error
	DeleteInstance(ctx context.Context, tenantID int64, name string) error
	SyncContacts(ctx context.Context, tenantID int64, name string) (int, error)
}

type api struct {
	svc    CRM
	logger *slog.Logger
}

func (a *api) routes(r chi.Router) {
	r.Use(requireIdentity)

	r.Get("/inbox", a.inbox)
	r.Route("/contacts", func(r chi.Router) {
		r.Get("/", a.contacts)
		r.Post("/", a.createContact)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/messages", a.conversation)
			r.Post("/messages", a.sendText)
			r.Post("/media", a.sendMedia)
			r.Post("/read", a.markRead)
			r.Post("/import", a.importHistory)
		})
	})
	r.Get("/leads", a.leads)
	r.Patch("/leads/{id}/status", a.updateLeadStatus)
	r.Get("/orders", a.orders)
	r.Post("/orders", a.createOrder)
	r.Patch("/orders/{id}/status", a.updateOrderStatus)
	r.Get("/dashboard", a.dashboard)
	r.Route("/instances", func(r chi.Router) {
		r.Get("/", a.instances)
		r.Post("/", a.createInstance)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/connect", a.connectInstance)
			r.Get("/status", a.instanceStatus)
			r.Post("/logout", a.logoutInstance)
			r.Delete("/", a.deleteInstance)
			r.Post("/sync-contacts", a.syncContacts)
		})
	})
}

// fail maps err to a status code; 5xx errors are logged with the request id.
func (a *api) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error(op+" failed",
			"request_id", middleware.GetReqID(r.Context()),
			"tenant_id", identityFrom(r.Context()).TenantID,
			"error", err,
		)
	}
	fail(w, r, status, msg)
}

func (a *api) bind(w http.ResponseWriter, r *http.Request, v render.Binder) bool {
	if err := render.Bind(r, v); err != nil {
		a.fail(w, r, "bind", badRequest(err))
		return false
	}
	return true
}

func badRequest(err error) error {
	return fmt.Errorf("%w: %w", crm.ErrInvalidInput, err)
}

func pathID(r *http.Request) (int64, error) {
	id, err := positiveID(chi.URLParam(r, "id"))
	if err != nil {
		return 0, fmt.Errorf("%w: invalid id %q", crm.ErrInvalidInput, chi.URLParam(r, "id"))
	}
	return id, nil
}

func queryInt(r *http.Request, key string, def, maxVal int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", crm.ErrInvalidInput, key, raw)
	}
	if maxVal > 0 && n > maxVal {
		n = maxVal
	}
	return n, nil
}

func (a *api) inbox(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.Inbox(r.Context(), identityFrom(r.Context()).TenantID)
	if err != nil {
		a.fail(w, r, "inbox", err)
		return
	}
	ok(w, r, http.StatusOK, mapSlice(entries, toInbox))
}

func (a *api) contacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := a.svc.Contacts(r.Context(), identityFrom(r.Context()).TenantID)
	if err != nil {
		a.fail(w, r, "list contacts", err)
		return
	}
	ok(w, r, http.StatusOK, mapSlice(contacts, toContact))
}

func (a *api) createContact(w http.ResponseWriter, r *http.Request) {
	var req createContactRequest
	if !a.bind(w, r, &req) {
		return
	}
	contact, created, err := a.svc.CreateContact(r.Context(), identityFrom(r.Context()).TenantID, req.Name, req.Phone)
	if err != nil {
		a.fail(w, r, "create contact", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(w, r, status, toContact(*contact))
}

func (a *api) conversation(w http.ResponseWriter, r *http.Request) {
	contactID, err := pathID(r)
	if err != nil {
		a.fail(w, r, "conversation", err)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize, maxPageSize)
	if err != nil {
		a.fail(w, r, "conversation", err)
		return
	}
	offset, err := queryInt(r, "offset", 0, 0)
	if err != nil {
		a.fail(w, r, "conversation", err)
		return
	}
	msgs, err := a.svc.Conversation(r.Context(), identityFrom(r.Context()).TenantID, contactID, limit, offset)
	if err != nil {
		a.fail(w, r, "conversation", err)
		return
	}
	ok(w, r, http.StatusOK, mapSlice(msgs, toMessage))
}

func (a *api) sendText(w http.ResponseWriter, r *http.Request) {
	contactID, err := pathID(r)
	if err != nil {
		a.fail(w, r, "send text", err)
		return
	}
	var req sendTextRequest
	if !a.bind(w, r, &req) {
		return
	}
	id := identityFrom(r.Context())
	msg, err := a.svc.SendText(r.Context(), id.TenantID, id.UserID, contactID, req.Text)
	if err != nil {
		a.fail(w, r, "send text", err)
		return
	}
	ok(w, r, http.StatusCreated, toMessage(*msg))
}

func (a *api) sendMedia(w http.ResponseWriter, r *http.Request) {
	contactID, err := pathID(r)
	if err != nil {
		a.fail(w, r, "send media", err)
		return
	}
	var req sendMediaRequest
	if !a.bind(w, r, &req) {
		return
	}
	id := identityFrom(r.Context())
	msg, err := a.svc.SendMedia(r.Context(), id.TenantID, id.UserID, contactID, crm.MediaInput{
		MediaType: req.MediaType,
		Media:     req.Media,
		Mimetype:  req.Mimetype,
		Caption:   req.Caption,
		FileName:  req.FileName,
	})
	if err != nil {
		a.fail(w, r, "send media", err)
		return
	}
	ok(w, r, http.StatusCreated, toMessage(*msg))
}

func (a *api) markRead(w http.ResponseWriter, r *http.Request) {
	contactID, err := pathID(r)
	if err != nil {
		a.fail(w, r, "mark read", err)
		return
	}
	n, err := a.svc.MarkRead(r.Context(), identityFrom(r.Context()).TenantID, contactID)
	if err != nil {
		a.fail(w, r, "mark read", err)
		return
	}
	ok(w, r, http.StatusOK, map[string]int{"marked": n})
}

func (a *api) importHistory(w http.ResponseWriter, r *http.Request) {
	contactID, err := pathID(r)
	if err != nil {
		a.fail(w, r, "import history", err)
		return
	}
	limit, err := queryInt(r, "limit", 100, 1000)
	if err != nil {
		a.fail(w, r, "import history", err)
		return
	}
	n, err := a.svc.ImportHistory(r.Context(), identityFrom(r.Context()).TenantID, contactID, limit)
	if err != nil {
		a.fail(w, r, "import history", err)
		return
	}
	ok(w, r, http.StatusOK, map[string]int{"imported": n})
}

func (a *api) leads(w http.ResponseWriter, r *http.Request) {
	leads, err := a.svc.Leads(r.Context(), identityFrom(r.Context()).TenantID, r.URL.Query().Get("status"))
	if err != nil {
		a.fail(w, r, "list leads", err)
		return
	}
	ok(w, r, http.StatusOK, mapSlice(leads, toLead))
}

func (a *api) updateLeadStatus(w http.ResponseWriter, r *http.Request) {
	leadID, err := pathID(r)
	if err != nil {
		a.fail(w, r, "update lead", err)
		return
	}
	var req statusRequest
	if !a.bind(w, r, &req) {
		return
	}
	lead, err := a.svc.UpdateLeadStatus(r.Context(), identityFrom(r.Context()).TenantID, leadID, req.Status)
	if err != nil {
		a.fail(w, r, "update lead", err)
		return
	}
	ok(w, r, http.StatusOK, toLead(*lead))
}

func (a *api) orders(w http.ResponseWriter, r *http.Request) {
	orders, err := a.svc.Orders(r.Context(), identityFrom(r.Context()).TenantID)
	if err != nil {
		a.fail(w, r, "list orders", err)
		return
	}
	ok(w, r, http.StatusOK, mapSlice(orders, toOrder))
}

func (a *api) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !a.bind(w, r, &req) {
		return
	}
	order, err := a.svc.CreateOrder(r.Context(), identityFrom(r.Context()).TenantID, crm.OrderInput{
		ContactID:   req.ContactID,
		Description: req.Description,
		AmountCents: req.AmountCents,
		Metadata:    req.Metadata,
	})
	if err != nil {
		a.fail(w, r, "create order", err)
		return
	}
	ok(w, r, http.StatusCreated, toOrder(*order))
}

func (a *api) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r)
	if err != nil {
		a.fail(w, r, "update order", err)
		return
	}
	var req statusRequest
	if !a.bind(w, r, &req) {
		return
	}
	order, err := a.svc.UpdateOrderStatus(r.Context(), identityFrom(r.Context()).TenantID, orderID, req.Status)
	if err != nil {
		a.fail(w, r, "update order", err)
		return
	}
	ok(w, r, http.StatusOK, toOrder(*order))
}

func (a *api) dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := a.svc.Dashboard(r.Context(), identityFrom(r.Context()).TenantID)
	if err != nil {
		a.fail(w, r, "dashboard", err)
		return
	}
	ok(w, r, http.StatusOK, toDashboard(d))
}

func (a *api) instances(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.ListInstances(r.Context(), identityFrom(r.Context()).TenantID)
	if err != nil {
		a.fail(w, r, "list instances", err)
		return
	}
	ok(w, r, http.StatusOK, mapSlice(list, toInstance))
}

func (a *api) createInstance(w http.ResponseWriter, r *http.Request) {
	var req createInstanceRequest
	if !a.bind(w, r, &req) {
		return
	}
	res, err := a.svc.CreateInstance(r.Context(), identityFrom(r.Context()).TenantID, req.Name)
	if err != nil {
		a.fail(w, r, "create instance", err)
		return
	}
	ok(w, r, http.StatusCreated, struct {
		Instance instanceDTO     `json:"instance"`
		QRCode   *gateway.QRCode `json:"qrcode,omitempty"`
	}{toInstance(*res.Instance), res.QRCode})
}

func (a *api) connectInstance(w http.ResponseWriter, r *http.Request) {
	qr, err := a.svc.ConnectInstance(r.Context(), identityFrom(r.Context()).TenantID, chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, "connect instance", err)
		return
	}
	ok(w, r, http.StatusOK, qr)
}

func (a *api) instanceStatus(w http.ResponseWriter, r *http.Request) {
	st, err := a.svc.InstanceStatus(r.Context(), identityFrom(r.Context()).TenantID, chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, "instance status", err)
		return
	}
	ok(w, r, http.StatusOK, st)
}

func (a *api) logoutInstance(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.LogoutInstance(r.Context(), identityFrom(r.Context()).TenantID, chi.URLParam(r, "name")); err != nil {
		a.fail(w, r, "logout instance", err)
		return
	}
	ok(w, r, http.StatusOK, nil)
}

func (a *api) deleteInstance(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteInstance(r.Context(), identityFrom(r.Context()).TenantID, chi.URLParam(r, "name")); err != nil {
		a.fail(w, r, "delete instance", err)
		return
	}
	ok(w, r, http.StatusOK, nil)
}

func (a *api) syncContacts(w http.ResponseWriter, r *http.Request) {
	n, err := a.svc.SyncContacts(r.Context(), identityFrom(r.Context()).TenantID, chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, "sync contacts", err)
		return
	}
	ok(w, r, http.StatusOK, map[string]int{"synced": n})
}
