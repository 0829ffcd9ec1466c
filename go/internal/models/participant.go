package models

import "time"

// Participant represents one connected member of an estimation session.
// ConnID is the transport-assigned connection identity.
type Participant struct {
	ConnID   string    `json:"connId"`
	Name     string    `json:"name"`
	IsHost   bool      `json:"isHost"`
	HasVoted bool      `json:"hasVoted"`
	Vote     *string   `json:"vote"`
	JoinedAt time.Time `json:"joinedAt"`
}
