package webhook

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"crm-whatsapp/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

const maxBodyBytes = 16 << 20

// Processor applies a decoded event.
type Processor interface {
	Handle(ctx context.Context, ev Event) (string, error)
}

// Handler receives gateway webhook deliveries.
type Handler struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	token     string
	processor Processor
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// NewHandler creates a new webhook handler. An empty token disables the shared-secret check.
func NewHandler(logger *slog.Logger, metrics *metrics.Metrics, token string, processor Processor) *Handler {
	return &Handler{
		logger:    logger.With("component", "webhook"),
		metrics:   metrics,
		token:     strings.TrimSpace(token),
		processor: processor,
	}
}

// ServeHTTP satisfies http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		h.countError("webhook_auth")
		h.reply(w, r, http.StatusUnauthorized, response{Success: false, Error: "unauthorized"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.countError("webhook")
		h.reply(w, r, http.StatusInternalServerError, response{Success: false, Error: "failed to read body"})
		return
	}
	defer r.Body.Close()

	ev, err := Decode(body, chi.URLParam(r, "event"))
	if err != nil {
		h.logger.Error("malformed webhook payload", "error", err)
		h.countError("webhook_decode")
		h.count("malformed", "error")
		h.reply(w, r, http.StatusInternalServerError, response{Success: false, Error: err.Error()})
		return
	}

	outcome, err := h.processor.Handle(r.Context(), ev)
	if err != nil {
		h.logger.Error("failed processing webhook", "error", err, "event", ev.Name(), "instance", ev.InstanceName())
		h.countError("webhook_process")
		h.count(ev.Name(), "error")
		h.reply(w, r, http.StatusInternalServerError, response{Success: false, Error: err.Error()})
		return
	}

	h.count(ev.Name(), outcome)
	h.reply(w, r, http.StatusOK, response{Success: true})
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.token == "" {
		return true
	}
	for _, candidate := range []string{
		r.Header.Get("X-Webhook-Token"),
		r.Header.Get("apikey"),
		r.URL.Query().Get("token"),
	} {
		candidate = strings.TrimSpace(candidate)
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(h.token)) == 1 {
			return true
		}
	}
	return false
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, status int, body response) {
	render.Status(r, status)
	render.JSON(w, r, body)
}

func (h *Handler) count(event, outcome string) {
	if h.metrics == nil {
		return
	}
	if event == "" {
		event = "unknown"
	}
	h.metrics.WebhookEvents.WithLabelValues(event, outcome).Inc()
}

func (h *Handler) countError(component string) {
	if h.metrics != nil {
		h.metrics.Errors.WithLabelValues(component).Inc()
	}
}
