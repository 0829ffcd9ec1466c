package gateway

import (
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/events"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/queue"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/registry"
)

// Service ties the transport layer together: it accepts connections,
// dispatches inbound operations to the session registry and the global
// queue, and converts failures into caller-only error events.
type Service struct {
	connectionManager *ConnectionManager
	registry          *registry.Registry
	queue             *queue.Queue
	wsHandler         *WebSocketHandler
	clock             clockwork.Clock
}

// NewService creates the gateway service. The returned service's connection
// manager is the registry's Notifier.
func NewService(cm *ConnectionManager, reg *registry.Registry, q *queue.Queue, identity IdentityResolver, clock clockwork.Clock) *Service {
	s := &Service{
		connectionManager: cm,
		registry:          reg,
		queue:             q,
		clock:             clock,
	}
	s.wsHandler = NewWebSocketHandler(s, identity)

	cm.onMessage = s.handleMessage
	cm.onDisconnect = reg.HandleDisconnect
	return s
}

// RegisterRoutes registers the WebSocket HTTP routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("estimation gateway routes registered")
}

// broadcastQueueTo pushes the current queue snapshot to a single connection,
// used right after connection establishment.
func (s *Service) broadcastQueueTo(connID string) {
	evt, err := events.New(events.EventTypeQueueUpdated, s.clock.Now().UTC(), events.QueueUpdatedPayload{Items: s.queue.Snapshot()})
	if err != nil {
		log.Error().Err(err).Msg("failed to build queue event")
		return
	}
	s.connectionManager.SendToConn(connID, evt)
}
