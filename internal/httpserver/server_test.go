package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"crm-whatsapp/internal/crm"
	"crm-whatsapp/internal/gateway"
	"crm-whatsapp/internal/logging"
	"crm-whatsapp/internal/repo"
	"crm-whatsapp/migrations"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	sent int
}

func (g *stubGateway) CreateInstance(_ context.Context, name string) (*gateway.CreateInstanceResult, error) {
	return &gateway.CreateInstanceResult{Instance: gateway.InstanceInfo{InstanceName: name}, QRCode: &gateway.QRCode{Code: "qr"}}, nil
}
func (g *stubGateway) ConnectInstance(context.Context, string) (*gateway.QRCode, error) {
	return &gateway.QRCode{Code: "qr"}, nil
}
func (g *stubGateway) ConnectionState(_ context.Context, name string) (*gateway.ConnectionState, error) {
	return &gateway.ConnectionState{Instance: name, State: "open"}, nil
}
func (g *stubGateway) LogoutInstance(context.Context, string) error { return nil }
func (g *stubGateway) DeleteInstance(context.Context, string) error {
	return &gateway.Error{Op: "delete_instance", Status: 401, Message: "bad apikey", Err: gateway.ErrUnauthorized}
}
func (g *stubGateway) SendText(context.Context, string, string, string) (*gateway.MessageRecord, error) {
	g.sent++
	return &gateway.MessageRecord{Key: gateway.MessageKey{ID: "OUT1", FromMe: true}}, nil
}
func (g *stubGateway) SendMedia(context.Context, string, gateway.SendMediaRequest) (*gateway.MessageRecord, error) {
	return &gateway.MessageRecord{Key: gateway.MessageKey{ID: "OUT2", FromMe: true}}, nil
}
func (g *stubGateway) FindContacts(context.Context, string) ([]gateway.Contact, error) { return nil, nil }
func (g *stubGateway) FindMessages(context.Context, string, string, int) ([]gateway.MessageRecord, error) {
	return nil, nil
}
func (g *stubGateway) MarkRead(context.Context, string, []gateway.MessageKey) error { return nil }
func (g *stubGateway) SetWebhook(context.Context, string, gateway.WebhookSettings) error {
	return nil
}

type nopHub struct{}

func (nopHub) EmitToTenant(int64, string, any, string) {}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type fixture struct {
	store   *repo.SQLiteRepository
	gw      *stubGateway
	handler http.Handler
}

func newFixture(t *testing.T, basePath string) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "crm.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.SQLite()))

	gw := &stubGateway{}
	svc := crm.New(store, gw, nopHub{}, nil, crm.Config{}, logging.Discard(), nil)
	srv := New(":0", logging.Discard(), nil, Handlers{CRM: svc, Health: store}, basePath)
	return &fixture{store: store, gw: gw, handler: srv.httpServer.Handler}
}

func (f *fixture) do(t *testing.T, method, path, body string, tenantID string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
		req.Header.Set("X-User-ID", "7")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")
	rec, _ := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAPIRequiresIdentity(t *testing.T) {
	f := newFixture(t, "")
	rec, env := f.do(t, http.MethodGet, "/api/v1/inbox", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/inbox", "", "abc")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContactsAndMessages(t *testing.T) {
	f := newFixture(t, "")

	rec, env := f.do(t, http.MethodPost, "/api/v1/contacts", `{"name":"João","phone":"+55 11 98888-7777"}`, "1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var contact contactDTO
	require.NoError(t, json.Unmarshal(env.Data, &contact))
	assert.Equal(t, "5511988887777", contact.Phone)

	rec, _ = f.do(t, http.MethodPost, "/api/v1/contacts", `{"phone":"5511988887777"}`, "1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodPost, "/api/v1/contacts", `{"name":"x"}`, "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, env.Error, "Phone")

	rec, _ = f.do(t, http.MethodPost, "/api/v1/contacts", `{not json`, "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	path := "/api/v1/contacts/" + itoa(contact.ID) + "/messages"
	rec, env = f.do(t, http.MethodPost, path, `{"text":"Olá"}`, "1")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.False(t, env.Success)

	_, err := f.store.UpsertInstance(context.Background(), repo.Instance{TenantID: 1, Name: "loja", Status: "open"})
	require.NoError(t, err)

	rec, env = f.do(t, http.MethodPost, path, `{"text":"Olá"}`, "1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var msg messageDTO
	require.NoError(t, json.Unmarshal(env.Data, &msg))
	assert.Equal(t, "usuario", msg.Sender)
	assert.Equal(t, 1, f.gw.sent)

	rec, env = f.do(t, http.MethodGet, path+"?limit=10", "", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	var msgs []messageDTO
	require.NoError(t, json.Unmarshal(env.Data, &msgs))
	assert.Len(t, msgs, 1)

	rec, _ = f.do(t, http.MethodGet, path, "", "2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/contacts/abc/messages", "", "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodGet, path+"?limit=-1", "", "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = f.do(t, http.MethodGet, "/api/v1/inbox", "", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	var inbox []inboxDTO
	require.NoError(t, json.Unmarshal(env.Data, &inbox))
	require.Len(t, inbox, 1)
	assert.Equal(t, "Olá", inbox[0].LastMessage.Content)
}

func TestSendMediaValidation(t *testing.T) {
	f := newFixture(t, "")
	rec, _ := f.do(t, http.MethodPost, "/api/v1/contacts/1/media", `{"mediaType":"sticker","media":"x"}`, "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLeadsAndOrders(t *testing.T) {
	f := newFixture(t, "")
	_, env := f.do(t, http.MethodPost, "/api/v1/contacts", `{"name":"Ana","phone":"5511911112222"}`, "1")
	var contact contactDTO
	require.NoError(t, json.Unmarshal(env.Data, &contact))

	rec, env := f.do(t, http.MethodGet, "/api/v1/leads?status=novo", "", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	var leads []leadDTO
	require.NoError(t, json.Unmarshal(env.Data, &leads))
	require.Len(t, leads, 1)

	leadPath := "/api/v1/leads/" + itoa(leads[0].ID) + "/status"
	rec, _ = f.do(t, http.MethodPatch, leadPath, `{"status":"ganho"}`, "1")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = f.do(t, http.MethodPatch, leadPath, `{"status":"convertido"}`, "1")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = f.do(t, http.MethodPatch, leadPath, `{"status":"perdido"}`, "2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = f.do(t, http.MethodPost, "/api/v1/orders", `{"contactId":`+itoa(contact.ID)+`,"description":"Bolo","amountCents":4500,"metadata":{"sabor":"chocolate"}}`, "1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var order orderDTO
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, "pendente", order.Status)
	assert.Equal(t, "chocolate", order.Metadata["sabor"])

	rec, _ = f.do(t, http.MethodPatch, "/api/v1/orders/"+itoa(order.ID)+"/status", `{"status":"pago"}`, "1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = f.do(t, http.MethodGet, "/api/v1/dashboard", "", "1")
	require.Equal(t, http.StatusOK, rec.Code)
	var d dashboardDTO
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, 1, d.TotalLeads)
	assert.Equal(t, 1.0, d.ConversionRate)
	assert.Equal(t, int64(4500), d.PaidRevenueCents)
}

func TestInstances(t *testing.T) {
	f := newFixture(t, "")
	rec, env := f.do(t, http.MethodPost, "/api/v1/instances", `{"name":"loja"}`, "1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, string(env.Data), `"qrcode"`)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/instances/loja/status", "", "1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/instances/loja/status", "", "2")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = f.do(t, http.MethodDelete, "/api/v1/instances/loja", "", "1")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "gateway: bad apikey", env.Error)
}

func TestBasePath(t *testing.T) {
	f := newFixture(t, "/crm/")
	rec, _ := f.do(t, http.MethodGet, "/crm/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/crmx/healthz", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNormaliseBasePath(t *testing.T) {
	assert.Equal(t, "", normaliseBasePath(" / "))
	assert.Equal(t, "/crm", normaliseBasePath("crm/"))
	assert.Equal(t, "/a/b", normaliseBasePath("/a/b"))
}

func itoa(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
