package registry

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/scrumdeck/scrumdeck/go/internal/models"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/events"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/queue"
)

// Notifier defines what the registry needs from the transport layer.
// Deliveries are best-effort: a send to a closed or unknown connection is a
// no-op and must never block the calling operation.
type Notifier interface {
	JoinRoom(sessionID, connID string)
	LeaveRoom(sessionID, connID string)
	CloseRoom(sessionID string)
	SendToConn(connID string, event *events.Event)
}

// Registry owns every live estimation session. A single mutex guards the
// session map and all session state, so each operation runs to completion
// without interleaving.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*models.Session

	queue    *queue.Queue
	notifier Notifier
	clock    clockwork.Clock
}

// New creates a registry backed by the given global queue and transport.
func New(q *queue.Queue, notifier Notifier, clock clockwork.Clock) *Registry {
	return &Registry{
		sessions: make(map[string]*models.Session),
		queue:    q,
		notifier: notifier,
		clock:    clock,
	}
}

// CreateSession starts a new session hosted by the caller, snapshotting the
// current global queue as the session's item list.
func (r *Registry) CreateSession(hostName, connID string) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	items := r.queue.Snapshot()
	if len(items) == 0 {
		return nil, ErrEmptyQueue
	}
	if r.findMembershipLocked(connID) != nil {
		return nil, ErrAlreadyInSession
	}

	id, err := r.newSessionIDLocked()
	if err != nil {
		return nil, err
	}

	now := r.clock.Now().UTC()
	current := items[0].Key
	sess := &models.Session{
		ID:     id,
		HostID: connID,
		Users: []*models.Participant{{
			ConnID:   connID,
			Name:     hostName,
			IsHost:   true,
			JoinedAt: now,
		}},
		Items:          items,
		CurrentItemKey: &current,
		FinalEstimates: make(map[string]string),
		CreatedAt:      now,
	}
	r.sessions[id] = sess

	r.notifier.JoinRoom(id, connID)
	r.sendStateLocked(sess, connID, events.EventTypeSessionCreated)

	log.Info().
		Str("session_id", id).
		Str("host_conn_id", connID).
		Int("items", len(items)).
		Msg("session created")
	return sess, nil
}

// JoinSession adds the caller to an existing session. Joining a session the
// caller already belongs to is idempotent: membership is re-registered and
// the current state re-delivered, without duplicating the participant.
func (r *Registry) JoinSession(sessionID, userName, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	if sess.FindUser(connID) != nil {
		// Reconnect case.
		r.notifier.JoinRoom(sessionID, connID)
		r.sendStateLocked(sess, connID, events.EventTypeSessionUpdated)
		return nil
	}
	if r.findMembershipLocked(connID) != nil {
		return ErrAlreadyInSession
	}

	sess.Users = append(sess.Users, &models.Participant{
		ConnID:   connID,
		Name:     userName,
		JoinedAt: r.clock.Now().UTC(),
	})
	r.notifier.JoinRoom(sessionID, connID)
	r.broadcastStateLocked(sess)

	log.Info().
		Str("session_id", sessionID).
		Str("conn_id", connID).
		Int("roster_size", len(sess.Users)).
		Msg("participant joined session")
	return nil
}

// LeaveSession removes the caller from a session. A host leaving terminates
// the session for everyone; the role is never handed off. Unknown sessions
// or participants are a no-op.
func (r *Registry) LeaveSession(sessionID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	if sess.FindUser(connID) == nil {
		return nil
	}
	r.leaveLocked(sess, connID)
	return nil
}

// HandleDisconnect applies leave semantics for a connection that dropped
// without an explicit leave. Safe to call multiple times for the same
// identity.
func (r *Registry) HandleDisconnect(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess := r.findMembershipLocked(connID)
	if sess == nil {
		return
	}
	log.Info().
		Str("session_id", sess.ID).
		Str("conn_id", connID).
		Msg("participant disconnected")
	r.leaveLocked(sess, connID)
}

// StartVoting opens a voting round. The target is itemKey when given and
// present in the session snapshot, otherwise the current item.
func (r *Registry) StartVoting(sessionID, connID, itemKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.hostSessionLocked(sessionID, connID)
	if err != nil {
		return err
	}

	target := ""
	if itemKey != "" && sess.HasItem(itemKey) {
		target = itemKey
	} else if sess.CurrentItemKey != nil {
		target = *sess.CurrentItemKey
	}
	if target == "" {
		return ErrNoCurrentItem
	}

	sess.CurrentItemKey = &target
	sess.VotingOpen = true
	sess.VotesRevealed = false
	clearVotes(sess)
	r.broadcastStateLocked(sess)

	log.Info().
		Str("session_id", sessionID).
		Str("item_key", target).
		Msg("voting started")
	return nil
}

// SubmitVote records the caller's vote for the open round.
func (r *Registry) SubmitVote(sessionID, connID, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	user := sess.FindUser(connID)
	if user == nil {
		return ErrNotMember
	}
	if !sess.VotingOpen || sess.VotesRevealed {
		return ErrVotingClosed
	}

	v := value
	user.Vote = &v
	user.HasVoted = true
	r.broadcastStateLocked(sess)
	return nil
}

// RevealVotes closes the open round and makes every vote visible.
func (r *Registry) RevealVotes(sessionID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.hostSessionLocked(sessionID, connID)
	if err != nil {
		return err
	}
	if !sess.VotingOpen {
		return ErrVotingClosed
	}

	sess.VotesRevealed = true
	sess.VotingOpen = false
	r.broadcastStateLocked(sess)

	log.Info().Str("session_id", sessionID).Msg("votes revealed")
	return nil
}

// RestartVoting re-opens voting on the current item, discarding prior votes.
func (r *Registry) RestartVoting(sessionID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.hostSessionLocked(sessionID, connID)
	if err != nil {
		return err
	}
	if sess.CurrentItemKey == nil {
		return ErrNoCurrentItem
	}

	sess.VotingOpen = true
	sess.VotesRevealed = false
	clearVotes(sess)
	r.broadcastStateLocked(sess)
	return nil
}

// NextItem advances to the following item with voting closed, or enters the
// end-of-deck state when the current item is the last. The host must call
// StartVoting explicitly to open the next round.
func (r *Registry) NextItem(sessionID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.hostSessionLocked(sessionID, connID)
	if err != nil {
		return err
	}

	idx := -1
	if sess.CurrentItemKey != nil {
		idx = sess.ItemIndex(*sess.CurrentItemKey)
	}
	if idx < 0 || idx >= len(sess.Items)-1 {
		sess.CurrentItemKey = nil
	} else {
		next := sess.Items[idx+1].Key
		sess.CurrentItemKey = &next
		clearVotes(sess)
	}
	sess.VotingOpen = false
	sess.VotesRevealed = false
	r.broadcastStateLocked(sess)
	return nil
}

// TransferHost hands the host role to another participant.
func (r *Registry) TransferHost(sessionID, connID, newHostID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.hostSessionLocked(sessionID, connID)
	if err != nil {
		return err
	}
	next := sess.FindUser(newHostID)
	if next == nil {
		return ErrParticipantNotFound
	}
	if next.ConnID == connID {
		return nil
	}

	sess.FindUser(connID).IsHost = false
	next.IsHost = true
	sess.HostID = next.ConnID
	r.broadcastStateLocked(sess)

	log.Info().
		Str("session_id", sessionID).
		Str("new_host_conn_id", newHostID).
		Msg("host role transferred")
	return nil
}

// CloseSession terminates the session for every participant.
func (r *Registry) CloseSession(sessionID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.hostSessionLocked(sessionID, connID)
	if err != nil {
		return err
	}
	r.terminateLocked(sess, events.ReasonHostClosed)

	log.Info().Str("session_id", sessionID).Msg("session closed by host")
	return nil
}

// AddItemToSession pulls one more item from the global queue into a live
// session. The queue itself is not mutated. If the session was at the end of
// its deck the new item becomes current, with voting closed.
func (r *Registry) AddItemToSession(sessionID, connID, itemKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.hostSessionLocked(sessionID, connID)
	if err != nil {
		return err
	}
	item, ok := r.queue.Get(itemKey)
	if !ok {
		return ErrItemNotFound
	}
	if sess.HasItem(itemKey) {
		return ErrDuplicateItem
	}

	sess.Items = append(sess.Items, item)
	if sess.CurrentItemKey == nil {
		key := item.Key
		sess.CurrentItemKey = &key
		sess.VotingOpen = false
		sess.VotesRevealed = false
	}
	r.broadcastStateLocked(sess)
	return nil
}

// SetFinalEstimation records the agreed value for an item, independent of
// any vote average.
func (r *Registry) SetFinalEstimation(sessionID, connID, itemKey, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, err := r.hostSessionLocked(sessionID, connID)
	if err != nil {
		return err
	}
	if !sess.HasItem(itemKey) {
		return ErrItemNotFound
	}
	if value == "" {
		return fmt.Errorf("%w: empty estimation value", ErrValidation)
	}

	sess.FinalEstimates[itemKey] = value
	r.broadcastStateLocked(sess)
	return nil
}

// Session returns the live session with the given id, if any. Intended for
// tests and diagnostics; callers must not mutate the result.
func (r *Registry) Session(sessionID string) (*models.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) hostSessionLocked(sessionID, connID string) (*models.Session, error) {
	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.HostID != connID {
		return nil, ErrNotHost
	}
	return sess, nil
}

func (r *Registry) findMembershipLocked(connID string) *models.Session {
	for _, sess := range r.sessions {
		if sess.FindUser(connID) != nil {
			return sess
		}
	}
	return nil
}

// leaveLocked removes a participant, notifying the leaver first so the
// "left" notice precedes any termination or roster broadcast.
func (r *Registry) leaveLocked(sess *models.Session, connID string) {
	r.sendTerminatedLocked(connID, sess.ID, events.ReasonLeft)
	r.notifier.LeaveRoom(sess.ID, connID)

	wasHost := sess.HostID == connID
	for i, u := range sess.Users {
		if u.ConnID == connID {
			sess.Users = append(sess.Users[:i], sess.Users[i+1:]...)
			break
		}
	}

	switch {
	case wasHost && len(sess.Users) > 0:
		// No silent takeover: the meeting ends when the host leaves.
		r.terminateLocked(sess, events.ReasonHostLeft)
		log.Info().Str("session_id", sess.ID).Msg("session terminated, host left")
	case len(sess.Users) == 0:
		r.deleteLocked(sess)
	default:
		r.broadcastStateLocked(sess)
	}
}

// terminateLocked notifies every remaining participant and deletes the
// session.
func (r *Registry) terminateLocked(sess *models.Session, reason string) {
	for _, u := range sess.Users {
		r.sendTerminatedLocked(u.ConnID, sess.ID, reason)
	}
	r.deleteLocked(sess)
}

func (r *Registry) deleteLocked(sess *models.Session) {
	r.notifier.CloseRoom(sess.ID)
	delete(r.sessions, sess.ID)
}

// broadcastStateLocked pushes a tailored snapshot to every participant.
// Every outbound session state routes through StateForUser per recipient.
func (r *Registry) broadcastStateLocked(sess *models.Session) {
	for _, u := range sess.Users {
		r.sendStateLocked(sess, u.ConnID, events.EventTypeSessionUpdated)
	}
}

func (r *Registry) sendStateLocked(sess *models.Session, connID string, t events.EventType) {
	evt, err := events.New(t, r.clock.Now().UTC(), StateForUser(sess, connID))
	if err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to build session event")
		return
	}
	r.notifier.SendToConn(connID, evt)
}

func (r *Registry) sendTerminatedLocked(connID, sessionID, reason string) {
	evt, err := events.New(events.EventTypeSessionTerminated, r.clock.Now().UTC(), events.SessionTerminatedPayload{
		SessionID: sessionID,
		Reason:    reason,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to build termination event")
		return
	}
	r.notifier.SendToConn(connID, evt)
}

// newSessionIDLocked draws random 8-digit ids until one is free.
func (r *Registry) newSessionIDLocked() (string, error) {
	for i := 0; i < 100; i++ {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("failed to generate session id: %w", err)
		}
		id := fmt.Sprintf("%08d", binary.BigEndian.Uint32(buf[:])%100000000)
		if _, taken := r.sessions[id]; !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to generate session id: id space exhausted")
}

func clearVotes(sess *models.Session) {
	for _, u := range sess.Users {
		u.Vote = nil
		u.HasVoted = false
	}
}
