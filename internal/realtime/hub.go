package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"crm-whatsapp/internal/metrics"
)

// Session identifies one authenticated connection.
type Session struct {
	SocketID string
	UserID   int64
	TenantID int64
}

// ClientHandler handles events sent by browser sessions.
type ClientHandler interface {
	HandleClientEvent(ctx context.Context, session Session, event string, data json.RawMessage) error
}

// Relay forwards emissions to other processes serving the same tenants.
type Relay interface {
	Publish(ctx context.Context, room, except string, frame []byte) error
}

type delivery struct {
	room     string
	socketID string
	except   string
	frame    []byte
}

// Hub owns the session table and the rooms. Only the Run loop mutates them.
type Hub struct {
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	register   chan *Client
	unregister chan *Client
	deliveries chan delivery
	done       chan struct{}

	sessions atomic.Int64
	handler  ClientHandler
	relay    Relay
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewHub creates a new Hub instance.
func NewHub(logger *slog.Logger, metrics *metrics.Metrics) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliveries: make(chan delivery, 256),
		done:       make(chan struct{}),
		logger:     logger.With("component", "realtime"),
		metrics:    metrics,
	}
}

// SetHandler sets the handler for incoming client events.
func (h *Hub) SetHandler(handler ClientHandler) {
	h.handler = handler
}

// SetRelay enables cross-process fan-out.
func (h *Hub) SetRelay(relay Relay) {
	h.relay = relay
}

// SessionCount reports the number of connected sessions.
func (h *Hub) SessionCount() int {
	return int(h.sessions.Load())
}

// Run starts the hub's event loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			h.add(c)

		case c := <-h.unregister:
			h.remove(c)

		case d := <-h.deliveries:
			h.deliver(d)

		case <-ctx.Done():
			frame, _ := encodeFrame(EventDisconnect, struct{}{})
			for _, c := range h.clients {
				select {
				case c.send <- frame:
				default:
				}
				h.remove(c)
			}
			return
		}
	}
}

func (h *Hub) add(c *Client) {
	h.clients[c.session.SocketID] = c
	for _, room := range []string{TenantRoom(c.session.TenantID), UserRoom(c.session.UserID)} {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[string]*Client)
			h.rooms[room] = members
		}
		members[c.session.SocketID] = c
	}
	h.sessions.Add(1)
	if h.metrics != nil {
		h.metrics.RealtimeSessions.Inc()
	}

	frame, err := encodeFrame(EventConnect, Connected{SocketID: c.session.SocketID})
	if err == nil {
		c.send <- frame
	}
	h.logger.Debug("session connected", "socket_id", c.session.SocketID, "user_id", c.session.UserID, "tenant_id", c.session.TenantID)
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c.session.SocketID]; !ok {
		return
	}
	delete(h.clients, c.session.SocketID)
	for _, room := range []string{TenantRoom(c.session.TenantID), UserRoom(c.session.UserID)} {
		if members, ok := h.rooms[room]; ok {
			delete(members, c.session.SocketID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(c.send)
	h.sessions.Add(-1)
	if h.metrics != nil {
		h.metrics.RealtimeSessions.Dec()
	}
	h.logger.Debug("session disconnected", "socket_id", c.session.SocketID)
}

func (h *Hub) deliver(d delivery) {
	if d.socketID != "" {
		if c, ok := h.clients[d.socketID]; ok {
			h.push(c, d.frame)
		}
		return
	}
	for id, c := range h.rooms[d.room] {
		if id == d.except {
			continue
		}
		h.push(c, d.frame)
	}
}

// push drops sessions whose send buffer is full.
func (h *Hub) push(c *Client, frame []byte) {
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("dropping slow session", "socket_id", c.session.SocketID)
		h.remove(c)
	}
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.deliveries <- d:
	case <-h.done:
	}
}

// EmitToTenant broadcasts an event to every session of the tenant except exceptSocketID.
func (h *Hub) EmitToTenant(tenantID int64, event string, data any, exceptSocketID string) {
	h.emit(TenantRoom(tenantID), event, data, exceptSocketID)
}

// EmitToUser sends an event to every session of one user.
func (h *Hub) EmitToUser(userID int64, event string, data any) {
	h.emit(UserRoom(userID), event, data, "")
}

func (h *Hub) emit(room, event string, data any, except string) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("encode realtime event failed", "event", event, "error", err)
		return
	}
	if h.metrics != nil {
		h.metrics.RealtimeEvents.WithLabelValues(event).Inc()
	}
	h.enqueue(delivery{room: room, except: except, frame: frame})

	if h.relay != nil {
		if err := h.relay.Publish(context.Background(), room, except, frame); err != nil {
			h.logger.Warn("relay publish failed", "room", room, "event", event, "error", err)
		}
	}
}

// DeliverRemote emits a frame received from another process to local sessions only.
func (h *Hub) DeliverRemote(room, except string, frame []byte) {
	h.enqueue(delivery{room: room, except: except, frame: frame})
}

// SendError emits erro to a single session.
func (h *Hub) SendError(socketID, message string) {
	frame, err := encodeFrame(EventError, ErrorPayload{Message: message})
	if err != nil {
		return
	}
	h.enqueue(delivery{socketID: socketID, frame: frame})
}

func (h *Hub) dispatch(c *Client, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Event == "" {
		h.SendError(c.session.SocketID, "evento inválido")
		return
	}
	if h.handler == nil {
		return
	}
	if err := h.handler.HandleClientEvent(context.Background(), c.session, f.Event, f.Data); err != nil {
		h.logger.Warn("client event failed", "event", f.Event, "socket_id", c.session.SocketID, "tenant_id", c.session.TenantID, "error", err)
		if h.metrics != nil {
			h.metrics.Errors.WithLabelValues("realtime").Inc()
		}
		h.SendError(c.session.SocketID, err.Error())
	}
}
