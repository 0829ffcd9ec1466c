package gateway

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/scrumdeck/scrumdeck/go/internal/models"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/events"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/registry"
)

// handleMessage routes one inbound message. Operation failures become an
// error event addressed only to the initiating connection; they are never
// broadcast and never take the process down.
func (s *Service) handleMessage(conn *Connection, raw []byte) {
	env, err := parseEnvelope(raw)
	if err != nil {
		s.sendError(conn.ID, err)
		return
	}
	if err := s.dispatch(conn, env); err != nil {
		log.Debug().
			Err(err).
			Str("conn_id", conn.ID).
			Str("kind", string(env.Kind)).
			Msg("operation rejected")
		s.sendError(conn.ID, err)
	}
}

func (s *Service) dispatch(conn *Connection, env *Envelope) error {
	switch env.Kind {
	case KindCreateSession:
		var p CreateSessionPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		name := p.HostName
		if name == "" {
			name = conn.Name
		}
		_, err := s.registry.CreateSession(name, conn.ID)
		return err

	case KindJoinSession:
		var p JoinSessionPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		name := p.UserName
		if name == "" {
			name = conn.Name
		}
		return s.registry.JoinSession(p.SessionID, name, conn.ID)

	case KindLeaveSession:
		var p SessionPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		return s.registry.LeaveSession(p.SessionID, conn.ID)

	case KindStartVoting:
		var p StartVotingPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		return s.registry.StartVoting(p.SessionID, conn.ID, p.ItemKey)

	case KindSubmitVote:
		var p SubmitVotePayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		if err := requireField(env.Kind, "vote", p.Vote); err != nil {
			return err
		}
		return s.registry.SubmitVote(p.SessionID, conn.ID, p.Vote)

	case KindRevealVotes:
		var p SessionPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		return s.registry.RevealVotes(p.SessionID, conn.ID)

	case KindNextItem:
		var p SessionPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		return s.registry.NextItem(p.SessionID, conn.ID)

	case KindRestartVoting:
		var p SessionPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		return s.registry.RestartVoting(p.SessionID, conn.ID)

	case KindTransferHost:
		var p TransferHostPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		if err := requireField(env.Kind, "newHostId", p.NewHostID); err != nil {
			return err
		}
		return s.registry.TransferHost(p.SessionID, conn.ID, p.NewHostID)

	case KindCloseSession:
		var p SessionPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		return s.registry.CloseSession(p.SessionID, conn.ID)

	case KindAddItemToSession:
		var p ItemKeyPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		if err := requireField(env.Kind, "itemKey", p.ItemKey); err != nil {
			return err
		}
		return s.registry.AddItemToSession(p.SessionID, conn.ID, p.ItemKey)

	case KindSetFinalEstimation:
		var p SetFinalEstimationPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "sessionId", p.SessionID); err != nil {
			return err
		}
		if err := requireField(env.Kind, "itemKey", p.ItemKey); err != nil {
			return err
		}
		if err := requireField(env.Kind, "value", p.Value); err != nil {
			return err
		}
		return s.registry.SetFinalEstimation(p.SessionID, conn.ID, p.ItemKey, p.Value)

	case KindQueueAdd:
		var p QueueAddPayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if len(p.Items) == 0 {
			return fmt.Errorf("%w: queueAdd requires items", registry.ErrValidation)
		}
		items, _ := s.queue.Add(p.Items)
		s.broadcastQueue(items)
		return nil

	case KindQueueRemove:
		var p QueueRemovePayload
		if err := decodePayload(env, &p); err != nil {
			return err
		}
		if err := requireField(env.Kind, "key", p.Key); err != nil {
			return err
		}
		// Absent key: no-op, no broadcast.
		if s.queue.Remove(p.Key) {
			s.broadcastQueue(s.queue.Snapshot())
		}
		return nil

	case KindQueueClear:
		// Always broadcast, even when the queue was already empty, so every
		// client converges on the same view.
		s.queue.Clear()
		s.broadcastQueue(s.queue.Snapshot())
		return nil

	default:
		return fmt.Errorf("%w: unknown message kind %q", registry.ErrValidation, env.Kind)
	}
}

// broadcastQueue pushes the full queue to every live connection. Queue
// updates are not session-scoped.
func (s *Service) broadcastQueue(items []models.Item) {
	evt, err := events.New(events.EventTypeQueueUpdated, s.clock.Now().UTC(), events.QueueUpdatedPayload{Items: items})
	if err != nil {
		log.Error().Err(err).Msg("failed to build queue event")
		return
	}
	s.connectionManager.BroadcastAll(evt)
}

func (s *Service) sendError(connID string, opErr error) {
	evt, err := events.New(events.EventTypeError, s.clock.Now().UTC(), events.ErrorPayload{Message: opErr.Error()})
	if err != nil {
		log.Error().Err(err).Msg("failed to build error event")
		return
	}
	s.connectionManager.SendToConn(connID, evt)
}
