package events

import (
	"time"

	"github.com/scrumdeck/scrumdeck/go/internal/models"
)

// RedactedVote is the marker shown in place of another participant's vote
// while votes have not been revealed.
const RedactedVote = "VOTED"

// Session termination reasons.
const (
	ReasonLeft       = "left"
	ReasonHostLeft   = "host left"
	ReasonHostClosed = "host closed the session"
)

// ParticipantView is a recipient-scoped projection of one participant.
// Vote carries the literal value only for the viewer themselves or after
// reveal; otherwise it is RedactedVote or null.
type ParticipantView struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	IsHost   bool    `json:"isHost"`
	HasVoted bool    `json:"hasVoted"`
	Vote     *string `json:"vote"`
}

// SessionView is the tailored session snapshot sent to one recipient.
type SessionView struct {
	ID             string            `json:"id"`
	HostID         string            `json:"hostId"`
	Users          []ParticipantView `json:"users"`
	Items          []models.Item     `json:"items"`
	CurrentItemKey *string           `json:"currentItemKey"`
	VotingOpen     bool              `json:"votingOpen"`
	VotesRevealed  bool              `json:"votesRevealed"`
	FinalEstimates map[string]string `json:"finalEstimates"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// SessionTerminatedPayload notifies a participant that a session ended.
type SessionTerminatedPayload struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

// QueueUpdatedPayload carries the full global queue after any queue mutation.
type QueueUpdatedPayload struct {
	Items []models.Item `json:"items"`
}

// ErrorPayload is sent only to the connection whose request failed.
type ErrorPayload struct {
	Message string `json:"message"`
}
