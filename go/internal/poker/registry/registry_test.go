package registry

import (
	"encoding/json"
	"errors"
	"regexp"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/scrumdeck/scrumdeck/go/internal/models"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/events"
	"github.com/scrumdeck/scrumdeck/go/internal/poker/queue"
)

// fakeNotifier records everything the registry asks the transport to do.
type fakeNotifier struct {
	mu     sync.Mutex
	joins  map[string][]string
	events map[string][]*events.Event
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		joins:  make(map[string][]string),
		events: make(map[string][]*events.Event),
	}
}

func (f *fakeNotifier) JoinRoom(sessionID, connID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins[sessionID] = append(f.joins[sessionID], connID)
}

func (f *fakeNotifier) LeaveRoom(sessionID, connID string) {}
func (f *fakeNotifier) CloseRoom(sessionID string)         {}

func (f *fakeNotifier) SendToConn(connID string, event *events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[connID] = append(f.events[connID], event)
}

func (f *fakeNotifier) lastEvent(t *testing.T, connID string) *events.Event {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	evts := f.events[connID]
	if len(evts) == 0 {
		t.Fatalf("no events delivered to %s", connID)
	}
	return evts[len(evts)-1]
}

func (f *fakeNotifier) lastView(t *testing.T, connID string) *events.SessionView {
	t.Helper()
	evt := f.lastEvent(t, connID)
	if evt.Type != events.EventTypeSessionCreated && evt.Type != events.EventTypeSessionUpdated {
		t.Fatalf("last event to %s is %s, not a session snapshot", connID, evt.Type)
	}
	var view events.SessionView
	if err := json.Unmarshal(evt.Payload, &view); err != nil {
		t.Fatalf("failed to decode session view: %v", err)
	}
	return &view
}

func (f *fakeNotifier) terminations(t *testing.T, connID string) []events.SessionTerminatedPayload {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []events.SessionTerminatedPayload
	for _, evt := range f.events[connID] {
		if evt.Type != events.EventTypeSessionTerminated {
			continue
		}
		var p events.SessionTerminatedPayload
		if err := json.Unmarshal(evt.Payload, &p); err != nil {
			t.Fatalf("failed to decode termination payload: %v", err)
		}
		out = append(out, p)
	}
	return out
}

func seededQueue(keys ...string) *queue.Queue {
	q := queue.New()
	items := make([]models.Item, 0, len(keys))
	for _, k := range keys {
		items = append(items, models.Item{Key: k, Title: "title " + k, Link: "https://tracker.example.com/" + k})
	}
	q.Add(items)
	return q
}

func newTestRegistry(q *queue.Queue) (*Registry, *fakeNotifier) {
	n := newFakeNotifier()
	return New(q, n, clockwork.NewFakeClock()), n
}

func vote(t *testing.T, view *events.SessionView, connID string) *string {
	t.Helper()
	for _, u := range view.Users {
		if u.ID == connID {
			return u.Vote
		}
	}
	t.Fatalf("participant %s not in view", connID)
	return nil
}

func TestCreateSessionFailsOnEmptyQueue(t *testing.T) {
	r, _ := newTestRegistry(queue.New())

	_, err := r.CreateSession("Alice", "conn1")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
	if r.SessionCount() != 0 {
		t.Error("registry holds a session after a failed create")
	}
}

func TestCreateSessionSnapshotsQueue(t *testing.T) {
	q := seededQueue("K1", "K2")
	r, n := newTestRegistry(q)

	sess, err := r.CreateSession("Alice", "conn1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if !regexp.MustCompile(`^\d{8}$`).MatchString(sess.ID) {
		t.Errorf("session id %q is not an 8-digit string", sess.ID)
	}
	if sess.HostID != "conn1" {
		t.Errorf("hostId = %q, want conn1", sess.HostID)
	}
	if len(sess.Items) != 2 || sess.Items[0].Key != "K1" || sess.Items[1].Key != "K2" {
		t.Errorf("items snapshot wrong: %+v", sess.Items)
	}
	if sess.CurrentItemKey == nil || *sess.CurrentItemKey != "K1" {
		t.Errorf("currentItemKey = %v, want K1", sess.CurrentItemKey)
	}
	if sess.VotingOpen || sess.VotesRevealed {
		t.Error("new session must start with voting closed and unrevealed")
	}

	evt := n.lastEvent(t, "conn1")
	if evt.Type != events.EventTypeSessionCreated {
		t.Errorf("creator received %s, want sessionCreated", evt.Type)
	}

	// The snapshot is decoupled from later queue mutations.
	q.Add([]models.Item{{Key: "K3", Title: "late", Link: "x"}})
	if len(sess.Items) != 2 {
		t.Error("queue mutation leaked into the session snapshot")
	}
}

func TestCreateSessionRejectsDualMembership(t *testing.T) {
	r, _ := newTestRegistry(seededQueue("K1"))

	if _, err := r.CreateSession("Alice", "conn1"); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := r.CreateSession("Alice again", "conn1"); !errors.Is(err, ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
}

func TestJoinSessionBroadcastsRoster(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1", "K2"))
	sess, _ := r.CreateSession("Alice", "conn1")

	if err := r.JoinSession(sess.ID, "Bob", "conn2"); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}

	for _, conn := range []string{"conn1", "conn2"} {
		view := n.lastView(t, conn)
		if len(view.Users) != 2 {
			t.Errorf("%s sees %d users, want 2", conn, len(view.Users))
		}
	}
}

func TestJoinSessionNotFound(t *testing.T) {
	r, _ := newTestRegistry(seededQueue("K1"))
	if err := r.JoinSession("00000000", "Bob", "conn2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestJoinSessionIsIdempotentForSameConnection(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1"))
	sess, _ := r.CreateSession("Alice", "conn1")
	if err := r.JoinSession(sess.ID, "Bob", "conn2"); err != nil {
		t.Fatalf("JoinSession: %v", err)
	}

	if err := r.JoinSession(sess.ID, "Bob", "conn2"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	got, _ := r.Session(sess.ID)
	if len(got.Users) != 2 {
		t.Fatalf("roster size after rejoin = %d, want 2", len(got.Users))
	}
	// The rejoining connection gets the state re-delivered.
	view := n.lastView(t, "conn2")
	if view.ID != sess.ID {
		t.Errorf("re-delivered view targets session %s, want %s", view.ID, sess.ID)
	}
}

func TestJoinSessionRejectsMemberOfOtherSession(t *testing.T) {
	r, _ := newTestRegistry(seededQueue("K1"))
	a, _ := r.CreateSession("Alice", "conn1")
	b, _ := r.CreateSession("Carol", "conn3")
	if a.ID == b.ID {
		t.Fatal("distinct sessions share an id")
	}

	if err := r.JoinSession(b.ID, "Alice", "conn1"); !errors.Is(err, ErrAlreadyInSession) {
		t.Fatalf("expected ErrAlreadyInSession, got %v", err)
	}
}

func TestVotingRoundLifecycle(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1", "K2"))
	sess, _ := r.CreateSession("Alice", "conn1")
	r.JoinSession(sess.ID, "Bob", "conn2")

	if err := r.StartVoting(sess.ID, "conn2", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-host StartVoting: got %v, want forbidden", err)
	}
	if err := r.SubmitVote(sess.ID, "conn2", "5"); !errors.Is(err, ErrVotingClosed) {
		t.Fatalf("vote before round opened: got %v, want voting closed", err)
	}

	if err := r.StartVoting(sess.ID, "conn1", "K1"); err != nil {
		t.Fatalf("StartVoting: %v", err)
	}
	if err := r.SubmitVote(sess.ID, "conn2", "5"); err != nil {
		t.Fatalf("SubmitVote: %v", err)
	}

	// Alice sees the redacted marker, Bob sees his own literal vote.
	aliceView := n.lastView(t, "conn1")
	if v := vote(t, aliceView, "conn2"); v == nil || *v != events.RedactedVote {
		t.Errorf("host view of Bob's vote before reveal = %v, want %q", v, events.RedactedVote)
	}
	bobView := n.lastView(t, "conn2")
	if v := vote(t, bobView, "conn2"); v == nil || *v != "5" {
		t.Errorf("own vote in own view = %v, want literal 5", v)
	}

	if err := r.RevealVotes(sess.ID, "conn2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-host RevealVotes: got %v, want forbidden", err)
	}
	if err := r.RevealVotes(sess.ID, "conn1"); err != nil {
		t.Fatalf("RevealVotes: %v", err)
	}

	aliceView = n.lastView(t, "conn1")
	if !aliceView.VotesRevealed || aliceView.VotingOpen {
		t.Error("reveal must close the round and set votesRevealed")
	}
	if v := vote(t, aliceView, "conn2"); v == nil || *v != "5" {
		t.Errorf("host view of Bob's vote after reveal = %v, want 5", v)
	}

	// Revealed rounds accept no further votes.
	if err := r.SubmitVote(sess.ID, "conn2", "8"); !errors.Is(err, ErrVotingClosed) {
		t.Fatalf("vote after reveal: got %v, want voting closed", err)
	}

	// Reveal is sticky until an explicit restart.
	if err := r.RestartVoting(sess.ID, "conn1"); err != nil {
		t.Fatalf("RestartVoting: %v", err)
	}
	view := n.lastView(t, "conn1")
	if !view.VotingOpen || view.VotesRevealed {
		t.Error("restart must reopen voting and drop the revealed flag")
	}
	if v := vote(t, view, "conn2"); v != nil {
		t.Errorf("restart must clear votes, Bob's vote = %v", v)
	}
}

func TestRevealRequiresOpenRound(t *testing.T) {
	r, _ := newTestRegistry(seededQueue("K1"))
	sess, _ := r.CreateSession("Alice", "conn1")

	if err := r.RevealVotes(sess.ID, "conn1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("reveal without open round: got %v, want invalid state", err)
	}
}

func TestStartVotingFallsBackToCurrentItem(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1", "K2"))
	sess, _ := r.CreateSession("Alice", "conn1")

	// Unknown key falls back to the current item rather than failing.
	if err := r.StartVoting(sess.ID, "conn1", "NOPE"); err != nil {
		t.Fatalf("StartVoting with unknown key: %v", err)
	}
	view := n.lastView(t, "conn1")
	if view.CurrentItemKey == nil || *view.CurrentItemKey != "K1" {
		t.Errorf("currentItemKey = %v, want fallback K1", view.CurrentItemKey)
	}
	if !view.VotingOpen {
		t.Error("round did not open")
	}
}

func TestNextItemAdvancesAndEndsDeck(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1", "K2"))
	sess, _ := r.CreateSession("Alice", "conn1")
	r.JoinSession(sess.ID, "Bob", "conn2")
	r.StartVoting(sess.ID, "conn1", "")
	r.SubmitVote(sess.ID, "conn2", "3")

	if err := r.NextItem(sess.ID, "conn2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-host NextItem: got %v, want forbidden", err)
	}

	if err := r.NextItem(sess.ID, "conn1"); err != nil {
		t.Fatalf("NextItem: %v", err)
	}
	view := n.lastView(t, "conn1")
	if view.CurrentItemKey == nil || *view.CurrentItemKey != "K2" {
		t.Errorf("currentItemKey = %v, want K2", view.CurrentItemKey)
	}
	if view.VotingOpen || view.VotesRevealed {
		t.Error("advancing must not auto-open the next round")
	}
	if v := vote(t, view, "conn2"); v != nil {
		t.Errorf("advancing must clear votes, got %v", v)
	}

	if err := r.NextItem(sess.ID, "conn1"); err != nil {
		t.Fatalf("NextItem at last item: %v", err)
	}
	view = n.lastView(t, "conn1")
	if view.CurrentItemKey != nil {
		t.Errorf("end of deck must null currentItemKey, got %v", *view.CurrentItemKey)
	}
}

func TestTransferHostKeepsExactlyOneHost(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1"))
	sess, _ := r.CreateSession("Alice", "conn1")
	r.JoinSession(sess.ID, "Bob", "conn2")

	if err := r.TransferHost(sess.ID, "conn1", "conn9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("transfer to stranger: got %v, want not found", err)
	}
	if err := r.TransferHost(sess.ID, "conn1", "conn2"); err != nil {
		t.Fatalf("TransferHost: %v", err)
	}

	view := n.lastView(t, "conn2")
	if view.HostID != "conn2" {
		t.Errorf("hostId = %q, want conn2", view.HostID)
	}
	hosts := 0
	for _, u := range view.Users {
		if u.IsHost {
			hosts++
		}
	}
	if hosts != 1 {
		t.Errorf("found %d hosts, want exactly 1", hosts)
	}

	// The old host no longer wields host powers.
	if err := r.StartVoting(sess.ID, "conn1", ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("old host StartVoting: got %v, want forbidden", err)
	}
}

func TestHostLeavingTerminatesSession(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1"))
	sess, _ := r.CreateSession("Alice", "conn1")
	r.JoinSession(sess.ID, "Bob", "conn2")

	r.HandleDisconnect("conn1")

	terms := n.terminations(t, "conn2")
	if len(terms) != 1 || terms[0].Reason != events.ReasonHostLeft {
		t.Fatalf("Bob's terminations = %+v, want one with reason %q", terms, events.ReasonHostLeft)
	}
	if terms[0].SessionID != sess.ID {
		t.Errorf("termination targets %s, want %s", terms[0].SessionID, sess.ID)
	}
	if r.SessionCount() != 0 {
		t.Error("session survived the host leaving")
	}

	// A second disconnect for the same identity is a no-op.
	r.HandleDisconnect("conn1")
	if got := n.terminations(t, "conn2"); len(got) != 1 {
		t.Errorf("duplicate disconnect produced extra terminations: %+v", got)
	}
}

func TestSoleParticipantLeavingDeletesSilently(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1"))
	sess, _ := r.CreateSession("Alice", "conn1")

	if err := r.LeaveSession(sess.ID, "conn1"); err != nil {
		t.Fatalf("LeaveSession: %v", err)
	}
	if r.SessionCount() != 0 {
		t.Error("empty session kept alive")
	}
	// The leaver still gets their own "left" notice, nothing more.
	terms := n.terminations(t, "conn1")
	if len(terms) != 1 || terms[0].Reason != events.ReasonLeft {
		t.Fatalf("leaver terminations = %+v, want one %q notice", terms, events.ReasonLeft)
	}
}

func TestNonHostLeaveBroadcastsRoster(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1"))
	sess, _ := r.CreateSession("Alice", "conn1")
	r.JoinSession(sess.ID, "Bob", "conn2")

	if err := r.LeaveSession(sess.ID, "conn2"); err != nil {
		t.Fatalf("LeaveSession: %v", err)
	}
	view := n.lastView(t, "conn1")
	if len(view.Users) != 1 || view.Users[0].ID != "conn1" {
		t.Errorf("roster after leave = %+v, want Alice alone", view.Users)
	}
	if r.SessionCount() != 1 {
		t.Error("session with a remaining participant was deleted")
	}

	// Leaving a session you are not in is a no-op.
	if err := r.LeaveSession(sess.ID, "conn9"); err != nil {
		t.Fatalf("stranger LeaveSession: %v", err)
	}
}

func TestCloseSessionNotifiesEveryone(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1"))
	sess, _ := r.CreateSession("Alice", "conn1")
	r.JoinSession(sess.ID, "Bob", "conn2")

	if err := r.CloseSession(sess.ID, "conn2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-host CloseSession: got %v, want forbidden", err)
	}
	if err := r.CloseSession(sess.ID, "conn1"); err != nil {
		t.Fatalf("CloseSession: %v", err)
	}

	for _, conn := range []string{"conn1", "conn2"} {
		terms := n.terminations(t, conn)
		if len(terms) != 1 || terms[0].Reason != events.ReasonHostClosed {
			t.Errorf("%s terminations = %+v, want one %q", conn, terms, events.ReasonHostClosed)
		}
	}
	if r.SessionCount() != 0 {
		t.Error("closed session still registered")
	}
}

func TestAddItemToSession(t *testing.T) {
	q := seededQueue("K1", "K2")
	r, n := newTestRegistry(q)
	sess, _ := r.CreateSession("Alice", "conn1")

	// K3 arrives in the queue after the session snapshot.
	q.Add([]models.Item{{Key: "K3", Title: "late", Link: "x"}})

	if err := r.AddItemToSession(sess.ID, "conn1", "K9"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown queue key: got %v, want not found", err)
	}
	if err := r.AddItemToSession(sess.ID, "conn1", "K1"); !errors.Is(err, ErrDuplicateItem) {
		t.Fatalf("duplicate key: got %v, want ErrDuplicateItem", err)
	}
	if err := r.AddItemToSession(sess.ID, "conn1", "K3"); err != nil {
		t.Fatalf("AddItemToSession: %v", err)
	}

	view := n.lastView(t, "conn1")
	if len(view.Items) != 3 || view.Items[2].Key != "K3" {
		t.Errorf("items after add = %+v, want K3 appended", view.Items)
	}
	// The global queue itself is untouched.
	if q.Len() != 3 {
		t.Errorf("queue length = %d, want 3", q.Len())
	}
}

func TestAddItemToSessionRevivesEndOfDeck(t *testing.T) {
	q := seededQueue("K1")
	r, n := newTestRegistry(q)
	sess, _ := r.CreateSession("Alice", "conn1")
	r.NextItem(sess.ID, "conn1") // end of deck

	q.Add([]models.Item{{Key: "K2", Title: "more", Link: "x"}})
	if err := r.AddItemToSession(sess.ID, "conn1", "K2"); err != nil {
		t.Fatalf("AddItemToSession: %v", err)
	}

	view := n.lastView(t, "conn1")
	if view.CurrentItemKey == nil || *view.CurrentItemKey != "K2" {
		t.Errorf("currentItemKey = %v, want K2", view.CurrentItemKey)
	}
	if view.VotingOpen {
		t.Error("revived item must not auto-open voting")
	}
}

func TestSetFinalEstimation(t *testing.T) {
	r, n := newTestRegistry(seededQueue("K1", "K2"))
	sess, _ := r.CreateSession("Alice", "conn1")
	r.JoinSession(sess.ID, "Bob", "conn2")

	if err := r.SetFinalEstimation(sess.ID, "conn2", "K1", "8"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("non-host SetFinalEstimation: got %v, want forbidden", err)
	}
	if err := r.SetFinalEstimation(sess.ID, "conn1", "K9", "8"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown item: got %v, want not found", err)
	}
	if err := r.SetFinalEstimation(sess.ID, "conn1", "K1", ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty value: got %v, want validation error", err)
	}
	if err := r.SetFinalEstimation(sess.ID, "conn1", "K1", "8"); err != nil {
		t.Fatalf("SetFinalEstimation: %v", err)
	}

	for _, conn := range []string{"conn1", "conn2"} {
		view := n.lastView(t, conn)
		if view.FinalEstimates["K1"] != "8" {
			t.Errorf("%s sees finalEstimates = %v, want K1:8", conn, view.FinalEstimates)
		}
	}
}
