package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/scrumdeck/scrumdeck/go/internal/models"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/registry"
)

// Envelope is the tagged-union wrapper for every inbound client message.
// The payload is validated against the schema for its kind before any of it
// reaches the state machine.
type Envelope struct {
	Kind    MessageKind     `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MessageKind represents the type of an inbound client operation.
type MessageKind string

const (
	KindCreateSession      MessageKind = "createSession"
	KindJoinSession        MessageKind = "joinSession"
	KindLeaveSession       MessageKind = "leaveSession"
	KindStartVoting        MessageKind = "startVoting"
	KindSubmitVote         MessageKind = "submitVote"
	KindRevealVotes        MessageKind = "revealVotes"
	KindNextItem           MessageKind = "nextItem"
	KindRestartVoting      MessageKind = "restartVoting"
	KindTransferHost       MessageKind = "transferHost"
	KindCloseSession       MessageKind = "closeSession"
	KindAddItemToSession   MessageKind = "addItemToSession"
	KindSetFinalEstimation MessageKind = "setFinalEstimation"
	KindQueueAdd           MessageKind = "queueAdd"
	KindQueueRemove        MessageKind = "queueRemove"
	KindQueueClear         MessageKind = "queueClear"
)

// CreateSessionPayload opens a new session hosted by the caller.
type CreateSessionPayload struct {
	HostName string `json:"hostName"`
}

// JoinSessionPayload adds the caller to an existing session.
type JoinSessionPayload struct {
	SessionID string `json:"sessionId"`
	UserName  string `json:"userName"`
}

// SessionPayload addresses an operation that needs only a session id:
// leaveSession, revealVotes, nextItem, restartVoting, closeSession.
type SessionPayload struct {
	SessionID string `json:"sessionId"`
}

// StartVotingPayload opens a round, optionally targeting a specific item.
type StartVotingPayload struct {
	SessionID string `json:"sessionId"`
	ItemKey   string `json:"itemKey,omitempty"`
}

// SubmitVotePayload records the caller's vote for the open round.
type SubmitVotePayload struct {
	SessionID string `json:"sessionId"`
	Vote      string `json:"vote"`
}

// TransferHostPayload hands the host role to another participant.
type TransferHostPayload struct {
	SessionID string `json:"sessionId"`
	NewHostID string `json:"newHostId"`
}

// ItemKeyPayload addresses one item within a session (addItemToSession).
type ItemKeyPayload struct {
	SessionID string `json:"sessionId"`
	ItemKey   string `json:"itemKey"`
}

// SetFinalEstimationPayload records the agreed value for an item.
type SetFinalEstimationPayload struct {
	SessionID string `json:"sessionId"`
	ItemKey   string `json:"itemKey"`
	Value     string `json:"value"`
}

// QueueAddPayload appends items to the global queue.
type QueueAddPayload struct {
	Items []models.Item `json:"items"`
}

// QueueRemovePayload removes one item from the global queue.
type QueueRemovePayload struct {
	Key string `json:"key"`
}

func parseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", registry.ErrValidation, err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("%w: missing message kind", registry.ErrValidation)
	}
	return &env, nil
}

func decodePayload(env *Envelope, dst interface{}) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%w: missing payload for %s", registry.ErrValidation, env.Kind)
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("%w: malformed %s payload: %v", registry.ErrValidation, env.Kind, err)
	}
	return nil
}

func requireField(kind MessageKind, name, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s requires %s", registry.ErrValidation, kind, name)
	}
	return nil
}
