package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/rably/internal/relay"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "rably-websocket"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp int64  `json:"timestamp"`
}

// PresenceResponse is the body of GET /channels/{channel}/presence.
type PresenceResponse struct {
	Channel      string               `json:"channel"`
	Participants []relay.ClientRecord `json:"participants"`
}

// Handler serves the relay's HTTP surface.
type Handler struct {
	relay    *relay.Relay
	upgrader websocket.Upgrader
	log      zerolog.Logger
	now      func() time.Time
}

// NewHandler creates a Handler that upgrades connections allowed by origins
// and hands them to r.
func NewHandler(r *relay.Relay, origins *OriginPolicy, logger zerolog.Logger) *Handler {
	return &Handler{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.CheckOrigin,
		},
		log: logger,
		now: time.Now,
	}
}

// RegisterRoutes mounts the handler's endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Health)
	r.Get("/health", h.Health)
	r.Get("/ws", h.WebSocket)
	r.Get("/test", h.TestPage)
	r.Get("/channels/{channel}/presence", h.Presence)
}

// WebSocket upgrades the request and runs a relay session on the connection
// until it closes.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	if err := h.relay.Serve(conn, r.RemoteAddr); err != nil && !errors.Is(err, relay.ErrRelayClosed) {
		h.log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("session ended with error")
	}
}

// Health reports that the service is up.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Service:   ServiceName,
		Timestamp: h.now().Unix(),
	})
}

// Presence lists the participants currently recorded for a channel.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	// chi matches on RawPath when the request carries escaped characters.
	if r.URL.RawPath != "" {
		decoded, err := url.PathUnescape(channel)
		if err != nil {
			http.Error(w, "invalid channel", http.StatusBadRequest)
			return
		}
		channel = decoded
	}

	h.respondJSON(w, http.StatusOK, PresenceResponse{
		Channel:      channel,
		Participants: h.relay.Presence().Snapshot(channel),
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Error().Err(err).Msg("error writing JSON response")
	}
}
