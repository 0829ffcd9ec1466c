package gateway

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AnonymousName is the display identity used when no credential is presented
// or the credential does not validate.
const AnonymousName = "Anonymous"

// IdentityResolver validates an optional bearer credential and returns the
// caller's display identity. Credential issuance and validation live outside
// this service; a nil resolver means every connection is anonymous.
type IdentityResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// WebSocketHandler handles WebSocket upgrade requests for estimation
// connections.
type WebSocketHandler struct {
	service  *Service
	identity IdentityResolver
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(service *Service, identity IdentityResolver) *WebSocketHandler {
	return &WebSocketHandler{
		service:  service,
		identity: identity,
	}
}

// HandleEstimationConnection upgrades the request and registers the
// connection. The current global queue snapshot is pushed immediately so the
// client can render the staging list before joining a session.
func (h *WebSocketHandler) HandleEstimationConnection(w http.ResponseWriter, r *http.Request) {
	name := h.resolveIdentity(r)

	cm := h.service.connectionManager
	wsConn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		Name:        name,
		Conn:        wsConn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}
	cm.registerConnection(conn)

	go conn.writePump()
	go conn.readPump()

	s := h.service
	s.broadcastQueueTo(conn.ID)

	log.Info().
		Str("conn_id", conn.ID).
		Str("name", name).
		Msg("WebSocket connection established")
}

// resolveIdentity extracts an optional bearer token and asks the external
// identity collaborator for a display name. Absent or invalid credentials
// fall back to an anonymous identity tied to the connection.
func (h *WebSocketHandler) resolveIdentity(r *http.Request) string {
	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" || h.identity == nil {
		return AnonymousName
	}
	name, err := h.identity.Resolve(r.Context(), token)
	if err != nil || name == "" {
		log.Debug().Err(err).Msg("credential did not validate, continuing anonymously")
		return AnonymousName
	}
	return name
}

// HandleConnectionStats returns statistics about active connections.
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	conns, rooms := h.service.connectionManager.Stats()
	sessions := h.service.registry.SessionCount()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"total_connections":%d,"active_rooms":%d,"live_sessions":%d}`, conns, rooms, sessions)
}

// RegisterRoutes registers WebSocket routes with an HTTP mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/estimation", h.HandleEstimationConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}
