package registry

import (
	"github.com/scrumdeck/scrumdeck/go/internal/models"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/events"
)

// StateForUser projects a session into the snapshot delivered to one
// recipient. Until votes are revealed, every other participant's vote is
// replaced with the RedactedVote marker (if they voted) or null; the
// viewer's own vote stays literal. The rule is identical for host and
// non-host viewers. This is the single place vote secrecy is enforced.
func StateForUser(sess *models.Session, viewerConnID string) *events.SessionView {
	view := &events.SessionView{
		ID:             sess.ID,
		HostID:         sess.HostID,
		Users:          make([]events.ParticipantView, 0, len(sess.Users)),
		Items:          make([]models.Item, len(sess.Items)),
		VotingOpen:     sess.VotingOpen,
		VotesRevealed:  sess.VotesRevealed,
		FinalEstimates: make(map[string]string, len(sess.FinalEstimates)),
		CreatedAt:      sess.CreatedAt,
	}
	copy(view.Items, sess.Items)
	if sess.CurrentItemKey != nil {
		key := *sess.CurrentItemKey
		view.CurrentItemKey = &key
	}
	for k, v := range sess.FinalEstimates {
		view.FinalEstimates[k] = v
	}

	for _, u := range sess.Users {
		pv := events.ParticipantView{
			ID:       u.ConnID,
			Name:     u.Name,
			IsHost:   u.IsHost,
			HasVoted: u.HasVoted,
		}
		switch {
		case u.Vote == nil:
			pv.Vote = nil
		case sess.VotesRevealed || u.ConnID == viewerConnID:
			v := *u.Vote
			pv.Vote = &v
		case u.HasVoted:
			redacted := events.RedactedVote
			pv.Vote = &redacted
		}
		view.Users = append(view.Users, pv)
	}
	return view
}
