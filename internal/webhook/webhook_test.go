package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-whatsapp/internal/cache"
	"crm-whatsapp/internal/logging"
	"crm-whatsapp/internal/realtime"
	"crm-whatsapp/internal/repo"
	"crm-whatsapp/migrations"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type emission struct {
	tenantID int64
	event    string
	data     any
}

type fakeHub struct {
	mu     sync.Mutex
	events []emission
}

func (f *fakeHub) EmitToTenant(tenantID int64, event string, data any, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, emission{tenantID: tenantID, event: event, data: data})
}

func (f *fakeHub) named(event string) []emission {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emission
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store  *repo.SQLiteRepository
	hub    *fakeHub
	router http.Handler
}

func newFixture(t *testing.T, token string, cfg IngestorConfig, status StatusCache) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := repo.NewSQLite(ctx, filepath.Join(t.TempDir(), "crm.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.RunMigrations(ctx, migrations.SQLite()))

	hub := &fakeHub{}
	ingestor := NewIngestor(store, hub, status, cfg, logging.Discard(), nil)
	h := NewHandler(logging.Discard(), nil, token, ingestor)

	r := chi.NewRouter()
	r.Post("/webhook", h.ServeHTTP)
	r.Post("/webhook/{event}", h.ServeHTTP)
	return &fixture{store: store, hub: hub, router: r}
}

func (f *fixture) post(t *testing.T, path, body string, header map[string]string) (*httptest.ResponseRecorder, response) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

const joaoPayload = `{
  "event": "messages.upsert",
  "instance": "loja",
  "data": {
    "key": {"remoteJid": "5511999999999@s.whatsapp.net", "fromMe": false, "id": "m1"},
    "message": {"conversation": "Olá"},
    "messageTimestamp": 1760000000,
    "pushName": "João"
  }
}`

func TestInboundMessageCreatesContactAndBroadcasts(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{DefaultTenantID: 1}, nil)

	rec, resp := f.post(t, "/webhook", joaoPayload, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	ctx := context.Background()
	contacts, err := f.store.ListContacts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "5511999999999", contacts[0].Phone)
	assert.Equal(t, "João", contacts[0].Name)

	msgs, err := f.store.ListMessages(ctx, 1, contacts[0].ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "Olá", msgs[0].Content)
	assert.Equal(t, repo.SenderContact, msgs[0].Sender)
	assert.False(t, msgs[0].Read)
	assert.Equal(t, time.Unix(1760000000, 0).UTC(), msgs[0].CreatedAt.UTC())

	newMsgs := f.hub.named(realtime.EventNewMessage)
	require.Len(t, newMsgs, 1)
	assert.Equal(t, int64(1), newMsgs[0].tenantID)
	payload := newMsgs[0].data.(realtime.NewMessage)
	assert.Equal(t, contacts[0].ID, payload.ContactID)
	assert.Equal(t, "João", payload.ContactName)
	assert.Equal(t, realtime.DirectionInbound, payload.Direction)
	assert.Len(t, f.hub.named(realtime.EventInboxUpdate), 1)

	leads, err := f.store.ListLeads(ctx, 1, repo.LeadNew)
	require.NoError(t, err)
	assert.Len(t, leads, 1)
}

func TestFromMeIsDiscarded(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{DefaultTenantID: 1}, nil)
	body := strings.Replace(joaoPayload, `"fromMe": false`, `"fromMe": true`, 1)

	rec, resp := f.post(t, "/webhook", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	contacts, err := f.store.ListContacts(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, contacts)
	assert.Empty(t, f.hub.events)
}

func TestDuplicateDeliveryIsDeduplicated(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{DefaultTenantID: 1}, nil)

	for range 2 {
		rec, resp := f.post(t, "/webhook", joaoPayload, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		require.True(t, resp.Success)
	}

	ctx := context.Background()
	c, err := f.store.GetContactByPhone(ctx, 1, "5511999999999")
	require.NoError(t, err)
	msgs, err := f.store.ListMessages(ctx, 1, c.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	assert.Len(t, f.hub.named(realtime.EventNewMessage), 1)
}

func TestUnknownEventIsAcknowledged(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{DefaultTenantID: 1}, nil)

	rec, resp := f.post(t, "/webhook", `{"event":"presence.update","instance":"loja","data":{"id":"x"}}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Empty(t, f.hub.events)

	contacts, err := f.store.ListContacts(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, contacts)
}

func TestMalformedPayloadIs500(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{DefaultTenantID: 1}, nil)

	rec, resp := f.post(t, "/webhook", `{"event":"messages.upsert","instance":"loja"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	rec, resp = f.post(t, "/webhook", `{"event":"messages.upsert","data":{"key":{"remoteJid":"","id":"z"}}}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, resp.Success)
}

func TestTenantResolvedFromInstance(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{}, nil)
	ctx := context.Background()
	_, err := f.store.UpsertInstance(ctx, repo.Instance{TenantID: 7, Name: "loja", Status: repo.InstanceOpen})
	require.NoError(t, err)

	rec, _ := f.post(t, "/webhook", joaoPayload, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = f.store.GetContactByPhone(ctx, 7, "5511999999999")
	require.NoError(t, err)
	require.Len(t, f.hub.named(realtime.EventNewMessage), 1)
	assert.Equal(t, int64(7), f.hub.named(realtime.EventNewMessage)[0].tenantID)
}

func TestUnknownTenantIsIgnored(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{}, nil)

	rec, resp := f.post(t, "/webhook", joaoPayload, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
	assert.Empty(t, f.hub.events)
}

func TestGroupMessagesAreIgnored(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{DefaultTenantID: 1}, nil)
	body := strings.Replace(joaoPayload, "5511999999999@s.whatsapp.net", "120363025246125486@g.us", 1)

	rec, _ := f.post(t, "/webhook", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.hub.events)
}

func TestEventNameFromPathAndCase(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{DefaultTenantID: 1}, nil)

	upper := strings.Replace(joaoPayload, `"messages.upsert"`, `"MESSAGES_UPSERT"`, 1)
	rec, _ := f.post(t, "/webhook", upper, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	noName := `{"instance":"loja","data":{"key":{"remoteJid":"5511888888888@s.whatsapp.net","fromMe":false,"id":"m2"},"message":{"conversation":"oi"}}}`
	rec, _ = f.post(t, "/webhook/messages-upsert", noName, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Len(t, f.hub.named(realtime.EventNewMessage), 2)
}

func TestWebhookToken(t *testing.T) {
	f := newFixture(t, "s3cret", IngestorConfig{DefaultTenantID: 1}, nil)
	unknown := `{"event":"presence.update","data":{}}`

	rec, resp := f.post(t, "/webhook", unknown, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = f.post(t, "/webhook", unknown, map[string]string{"X-Webhook-Token": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.post(t, "/webhook", unknown, map[string]string{"X-Webhook-Token": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.post(t, "/webhook", unknown, map[string]string{"apikey": "s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = f.post(t, "/webhook?token=s3cret", unknown, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestConnectionUpdateMirrorsState(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := cache.New(cache.Config{Addr: mr.Addr()}, logging.Discard())
	t.Cleanup(func() { rdb.Close() })

	f := newFixture(t, "", IngestorConfig{StatusTTL: time.Minute}, rdb)
	ctx := context.Background()
	_, err := f.store.UpsertInstance(ctx, repo.Instance{TenantID: 3, Name: "loja", Status: repo.InstanceConnecting})
	require.NoError(t, err)

	rec, _ := f.post(t, "/webhook", `{"event":"connection.update","instance":"loja","data":{"instance":"loja","state":"open","statusReason":200}}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	inst, err := f.store.GetInstanceByName(ctx, "loja")
	require.NoError(t, err)
	assert.Equal(t, repo.InstanceOpen, inst.Status)

	var cached cache.InstanceStatus
	ok, err := rdb.GetJSON(ctx, cache.InstanceStatusKey("loja"), &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, repo.InstanceOpen, cached.State)
}

func TestContactsUpsertRefreshesAvatar(t *testing.T) {
	f := newFixture(t, "", IngestorConfig{DefaultTenantID: 1}, nil)
	ctx := context.Background()
	_, _, err := f.store.FindOrCreateContact(ctx, repo.Contact{TenantID: 1, Name: "Ana", Phone: "5511777777777"})
	require.NoError(t, err)

	body := `{"event":"contacts.upsert","instance":"loja","data":[
	  {"remoteJid":"5511777777777@s.whatsapp.net","pushName":"Ana","profilePicUrl":"https://pics/ana.jpg"},
	  {"remoteJid":"5511666666666@s.whatsapp.net","pushName":"Bruno"},
	  {"remoteJid":"120363025246125486@g.us","pushName":"Grupo"}
	]}`
	rec, _ := f.post(t, "/webhook", body, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ana, err := f.store.GetContactByPhone(ctx, 1, "5511777777777")
	require.NoError(t, err)
	require.NotNil(t, ana.AvatarURL)
	assert.Equal(t, "https://pics/ana.jpg", *ana.AvatarURL)

	contacts, err := f.store.ListContacts(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, contacts, 2)
	assert.Empty(t, f.hub.events)
}
