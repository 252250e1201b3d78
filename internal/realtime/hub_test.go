package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"crm-whatsapp/internal/cache"
	"crm-whatsapp/internal/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type handlerFunc func(ctx context.Context, s Session, event string, data json.RawMessage) error

func (f handlerFunc) HandleClientEvent(ctx context.Context, s Session, event string, data json.RawMessage) error {
	return f(ctx, s, event, data)
}

func startHub(t *testing.T, handler ClientHandler) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(logging.Discard(), nil)
	hub.SetHandler(handler)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
}

func dial(t *testing.T, srv *httptest.Server, query string) (*websocket.Conn, string) {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	f := readFrame(t, conn)
	require.Equal(t, EventConnect, f.Event)
	var c Connected
	require.NoError(t, json.Unmarshal(f.Data, &c))
	require.NotEmpty(t, c.SocketID)
	return conn, c.SocketID
}

func readFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func assertSilent(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, _, err := conn.ReadMessage()
	var netErr interface{ Timeout() bool }
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no frame, got err=%v", err)
}

func TestHandshakeRequiresBothIDs(t *testing.T) {
	hub, srv := startHub(t, nil)

	for _, q := range []string{"", "userId=1", "tenantId=5", "userId=abc&tenantId=5", "userId=1&tenantId=0"} {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, q), nil)
		require.Error(t, err, q)
		require.NotNil(t, resp, q)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, q)
	}
	assert.Equal(t, 0, hub.SessionCount())
}

func TestTenantIsolation(t *testing.T) {
	hub, srv := startHub(t, nil)
	five, _ := dial(t, srv, "userId=1&tenantId=5")
	six, _ := dial(t, srv, "userId=2&tenantId=6")
	assert.Equal(t, 2, hub.SessionCount())

	hub.EmitToTenant(5, EventNewMessage, NewMessage{ID: 10, ContactID: 3, Content: "Olá", Direction: DirectionInbound}, "")

	f := readFrame(t, five)
	assert.Equal(t, EventNewMessage, f.Event)
	var msg NewMessage
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	assert.Equal(t, int64(10), msg.ID)
	assert.Equal(t, "Olá", msg.Content)

	assertSilent(t, six)
}

func TestEmitExcludesOriginSocket(t *testing.T) {
	hub, srv := startHub(t, nil)
	origin, originID := dial(t, srv, "userId=1&tenantId=5")
	peer, _ := dial(t, srv, "userId=2&tenantId=5")

	hub.EmitToTenant(5, EventUserTyping, Typing{ContactID: 3, UserID: 1}, originID)

	f := readFrame(t, peer)
	assert.Equal(t, EventUserTyping, f.Event)
	assertSilent(t, origin)
}

func TestEmitToUser(t *testing.T) {
	hub, srv := startHub(t, nil)
	mine, _ := dial(t, srv, "userId=7&tenantId=5")
	other, _ := dial(t, srv, "userId=8&tenantId=5")

	hub.EmitToUser(7, EventInboxUpdate, InboxUpdate{ContactID: 1, AllRead: true})

	f := readFrame(t, mine)
	assert.Equal(t, EventInboxUpdate, f.Event)
	assert.JSONEq(t, `{"contatoId":1,"todasLidas":true}`, string(f.Data))
	assertSilent(t, other)
}

func TestHandlerErrorBecomesErroEvent(t *testing.T) {
	sessions := make(chan Session, 4)
	_, srv := startHub(t, handlerFunc(func(_ context.Context, s Session, event string, data json.RawMessage) error {
		sessions <- s
		if event == EventSendMessage {
			return errors.New("contato não encontrado")
		}
		return nil
	}))
	conn, socketID := dial(t, srv, "userId=1&tenantId=5")

	require.NoError(t, conn.WriteJSON(map[string]any{"event": EventSendMessage, "data": map[string]any{"contatoId": 99, "conteudo": "oi"}}))
	f := readFrame(t, conn)
	assert.Equal(t, EventError, f.Event)
	assert.JSONEq(t, `{"mensagem":"contato não encontrado"}`, string(f.Data))
	got := <-sessions
	assert.Equal(t, socketID, got.SocketID)
	assert.Equal(t, int64(5), got.TenantID)
	assert.Equal(t, int64(1), got.UserID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f = readFrame(t, conn)
	assert.Equal(t, EventError, f.Event)
}

func TestDisconnectRemovesSession(t *testing.T) {
	hub, srv := startHub(t, nil)
	conn, _ := dial(t, srv, "userId=1&tenantId=5")
	require.Equal(t, 1, hub.SessionCount())

	conn.Close()
	require.Eventually(t, func() bool { return hub.SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestRedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	newNode := func() (*Hub, *httptest.Server) {
		hub, srv := startHub(t, nil)
		rdb := cache.New(cache.Config{Addr: mr.Addr()}, logging.Discard())
		t.Cleanup(func() { rdb.Close() })
		relay := NewRedisRelay(rdb, logging.Discard())
		hub.SetRelay(relay)
		require.NoError(t, relay.Start(ctx, hub))
		return hub, srv
	}

	hubA, srvA := newNode()
	_, srvB := newNode()

	local, _ := dial(t, srvA, "userId=1&tenantId=5")
	remote, _ := dial(t, srvB, "userId=2&tenantId=5")
	otherTenant, _ := dial(t, srvB, "userId=3&tenantId=6")

	hubA.EmitToTenant(5, EventInboxUpdate, InboxUpdate{ContactID: 4, AllRead: true}, "")

	f := readFrame(t, remote)
	assert.Equal(t, EventInboxUpdate, f.Event)

	f = readFrame(t, local)
	assert.Equal(t, EventInboxUpdate, f.Event)
	// The origin node ignores its own relay message.
	assertSilent(t, local)
	assertSilent(t, otherTenant)
}
