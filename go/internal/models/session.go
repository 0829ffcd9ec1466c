package models

import "time"

// Session represents one live estimation meeting: a host, a roster and an
// item snapshot taken from the global queue at creation time.
type Session struct {
	ID             string            `json:"id"`
	HostID         string            `json:"hostId"`
	Users          []*Participant    `json:"users"`
	Items          []Item            `json:"items"`
	CurrentItemKey *string           `json:"currentItemKey"`
	VotingOpen     bool              `json:"votingOpen"`
	VotesRevealed  bool              `json:"votesRevealed"`
	FinalEstimates map[string]string `json:"finalEstimates"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// FindUser returns the participant with the given connection identity, or nil.
func (s *Session) FindUser(connID string) *Participant {
	for _, u := range s.Users {
		if u.ConnID == connID {
			return u
		}
	}
	return nil
}

// ItemIndex returns the position of the item with the given key, or -1.
func (s *Session) ItemIndex(key string) int {
	for i, item := range s.Items {
		if item.Key == key {
			return i
		}
	}
	return -1
}

// HasItem reports whether the session snapshot contains the given key.
func (s *Session) HasItem(key string) bool {
	return s.ItemIndex(key) >= 0
}
