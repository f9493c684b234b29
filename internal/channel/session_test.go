package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codraft/internal/protocol"
)

// signalLog collects notification callbacks for assertions.
type signalLog struct {
	mu        sync.Mutex
	joined    []string
	left      []string
	rosters   [][]PresenceEntry
	typing    [][]string
	replaced  []string
	remote    []string
	chats     []ChatMessage
	comments  []string
	rejected  []string
	confirmed []bool
	expiring  []int
}

func (l *signalLog) notifications() Notifications {
	return Notifications{
		UserJoined:        func(e PresenceEntry) { l.mu.Lock(); l.joined = append(l.joined, e.UserID); l.mu.Unlock() },
		UserLeft:          func(e PresenceEntry) { l.mu.Lock(); l.left = append(l.left, e.UserID); l.mu.Unlock() },
		RosterChanged:     func(r []PresenceEntry) { l.mu.Lock(); l.rosters = append(l.rosters, r); l.mu.Unlock() },
		TypingChanged:     func(n []string) { l.mu.Lock(); l.typing = append(l.typing, n); l.mu.Unlock() },
		ContentReplaced:   func(c string) { l.mu.Lock(); l.replaced = append(l.replaced, c); l.mu.Unlock() },
		RemoteEditApplied: func(c string) { l.mu.Lock(); l.remote = append(l.remote, c); l.mu.Unlock() },
		ChatReceived:      func(m ChatMessage) { l.mu.Lock(); l.chats = append(l.chats, m); l.mu.Unlock() },
		CommentAdded:      func(id string) { l.mu.Lock(); l.comments = append(l.comments, id); l.mu.Unlock() },
		SaveRejected:      func(r string) { l.mu.Lock(); l.rejected = append(l.rejected, r); l.mu.Unlock() },
		SaveConfirmed:     func(own bool) { l.mu.Lock(); l.confirmed = append(l.confirmed, own); l.mu.Unlock() },
		DraftExpiring:     func(s int) { l.mu.Lock(); l.expiring = append(l.expiring, s); l.mu.Unlock() },
	}
}

func newTestSession(t *testing.T) (*DocumentSession, *fakeConn, *signalLog, *fakeClock) {
	t.Helper()
	conn := newFakeConn()
	log := &signalLog{}
	session := NewDocumentSession(conn, "doc-42", "u1", "Ada", &fakeVersionStore{}, log.notifications())
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	session.clock = clock.Now
	return session, conn, log, clock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestJoinPublishesIntentAndSnapshotRequest(t *testing.T) {
	session, conn, _, _ := newTestSession(t)
	require.NoError(t, session.Join())

	published := conn.published()
	require.Len(t, published, 2)
	assert.Equal(t, protocol.JoinIntent{DocumentID: "doc-42"}, published[0])
	assert.Equal(t, protocol.OnlineUsersIntent{DocumentID: "doc-42"}, published[1])
}

func TestJoinTwiceIsCallerError(t *testing.T) {
	session, _, _, _ := newTestSession(t)
	require.NoError(t, session.Join())
	assert.ErrorIs(t, session.Join(), ErrAlreadyJoined)

	session.Leave()
	assert.NoError(t, session.Join(), "join is legal again after leave")
}

func TestLeaveWhileDisconnectedIsNoop(t *testing.T) {
	session, conn, _, _ := newTestSession(t)
	require.NoError(t, session.Join())
	conn.setConnected(false)
	session.Leave()

	// The leave intent is dropped on the floor, not an error.
	assert.Len(t, conn.published(), 2)
	assert.False(t, session.Joined())
}

func TestRejoinRepublishesJoinOnlyWhenStillJoined(t *testing.T) {
	session, conn, _, _ := newTestSession(t)
	session.Rejoin()
	assert.Empty(t, conn.published(), "rejoin before join publishes nothing")

	require.NoError(t, session.Join())
	session.Rejoin()
	joins := 0
	for _, intent := range conn.published() {
		if _, ok := intent.(protocol.JoinIntent); ok {
			joins++
		}
	}
	assert.Equal(t, 2, joins, "reconnect requires an explicit re-join; membership never resumes silently")
}

func TestLeavePurgeOnRemoteLeave(t *testing.T) {
	session, _, log, _ := newTestSession(t)
	require.NoError(t, session.Join())

	session.HandleEvent(protocol.JoinEvent{DocumentID: "doc-42", UserID: "u2", Nickname: "Grace"})
	session.HandleEvent(protocol.CursorEvent{DocumentID: "doc-42", UserID: "u2", Nickname: "Grace", Line: 2, Column: 7})
	session.HandleEvent(protocol.DraftEditEvent{DocumentID: "doc-42", UserID: "u2", Nickname: "Grace", Content: "x"})

	require.Len(t, session.Cursors(), 1)
	require.Contains(t, session.Typing(), "Grace")

	session.HandleEvent(protocol.LeaveEvent{DocumentID: "doc-42", UserID: "u2", Nickname: "Grace"})

	// Roster entry, cursor, and typing indicator all go atomically.
	assert.Empty(t, session.Cursors())
	assert.Empty(t, session.Typing())
	for _, entry := range session.Roster() {
		assert.NotEqual(t, "u2", entry.UserID)
	}
	assert.Equal(t, []string{"u2"}, log.left)
}

func TestSnapshotAuthority(t *testing.T) {
	session, _, log, _ := newTestSession(t)

	session.HandleEvent(protocol.JoinEvent{DocumentID: "doc-42", UserID: "a", Nickname: "A"})
	session.HandleEvent(protocol.JoinEvent{DocumentID: "doc-42", UserID: "b", Nickname: "B"})
	session.HandleEvent(protocol.JoinEvent{DocumentID: "doc-42", UserID: "c", Nickname: "C"})

	joinSignals := len(log.joined)
	leaveSignals := len(log.left)

	session.HandleEvent(protocol.OnlineUsersEvent{DocumentID: "doc-42", Roster: []protocol.RosterEntry{
		{UserID: "b", Nickname: "B"},
		{UserID: "d", Nickname: "D"},
	}})

	roster := session.Roster()
	require.Len(t, roster, 2)
	assert.Equal(t, "b", roster[0].UserID)
	assert.Equal(t, "d", roster[1].UserID)

	// A snapshot is a passive resync: no synthetic join/leave signals.
	assert.Len(t, log.joined, joinSignals)
	assert.Len(t, log.left, leaveSignals)
}

func TestEventsForOtherDocumentsAreIgnored(t *testing.T) {
	session, _, log, _ := newTestSession(t)
	session.HandleEvent(protocol.JoinEvent{DocumentID: "doc-99", UserID: "u2", Nickname: "Grace"})
	session.HandleEvent(protocol.DraftEditEvent{DocumentID: "doc-99", UserID: "u2", Content: "other doc"})

	assert.Empty(t, session.Roster())
	assert.Empty(t, session.Content())
	assert.Empty(t, log.remote)
}

// Scenario: User1 (this session is User2's view) broadcasts an edit; the
// content applies, a typing indicator appears and expires after 2s of
// silence.
func TestRemoteEditThenTypingExpiry(t *testing.T) {
	session, _, log, clock := newTestSession(t)
	session.ApplyDraftSnapshot("hello", -1)

	session.HandleEvent(protocol.DraftEditEvent{DocumentID: "doc-42", UserID: "u2", Nickname: "Grace", Content: "hello world"})
	assert.Equal(t, "hello world", session.Content())
	assert.Equal(t, []string{"Grace"}, session.Typing())
	require.Len(t, log.remote, 1)

	clock.Advance(1999 * time.Millisecond)
	session.Tick()
	assert.Equal(t, []string{"Grace"}, session.Typing(), "still typing before the window elapses")

	clock.Advance(2 * time.Millisecond)
	session.Tick()
	assert.Empty(t, session.Typing())
	require.NotEmpty(t, log.typing)
	assert.Empty(t, log.typing[len(log.typing)-1], "sweep signals the now-empty indicator set")
}

// Scenario: both users save in the same tick; the server confirms the
// peer's save first. Content converges to the peer's content and the local
// dirty flag clears even though the local edit was not the one persisted.
func TestConcurrentSaveLastConfirmedWins(t *testing.T) {
	session, _, log, _ := newTestSession(t)
	session.SetContent("user1 content")
	session.Save()
	require.Equal(t, StateSaving, session.SaveState())

	session.HandleEvent(protocol.SaveConfirmedEvent{DocumentID: "doc-42", UserID: "u2", Nickname: "Grace", Content: "user2 content"})
	assert.Equal(t, "user2 content", session.Content())
	assert.False(t, session.Dirty(), "silent overwrite of unsaved intent is the reference behavior")
	assert.Equal(t, StateSaving, session.SaveState(), "own save still awaiting its confirmation")
	assert.Equal(t, []string{"user2 content"}, log.replaced)

	session.HandleEvent(protocol.SaveConfirmedEvent{DocumentID: "doc-42", UserID: "u1", Nickname: "Ada", Content: "user1 content"})
	assert.Equal(t, StateClean, session.SaveState())
	assert.Equal(t, []bool{false, true}, log.confirmed)
}

func TestSaveRejectedSurfacesReason(t *testing.T) {
	session, _, log, _ := newTestSession(t)
	session.SetContent("draft")
	session.Save()

	session.HandleEvent(protocol.SaveRejectedEvent{DocumentID: "doc-42", UserID: "u1", Reason: "draft too large"})
	assert.Equal(t, StateDirty, session.SaveState())
	assert.Equal(t, []string{"draft too large"}, log.rejected)
	assert.Equal(t, "draft too large", session.LastRejection())
}

func TestSaveRejectedForPeerIsIgnored(t *testing.T) {
	session, _, log, _ := newTestSession(t)
	session.SetContent("draft")
	session.Save()

	session.HandleEvent(protocol.SaveRejectedEvent{DocumentID: "doc-42", UserID: "u2", Reason: "not yours"})
	assert.Equal(t, StateSaving, session.SaveState())
	assert.Empty(t, log.rejected)
}

func TestOwnDraftEchoDoesNotFeedBack(t *testing.T) {
	session, conn, log, _ := newTestSession(t)
	session.SetContent("hello")
	require.Len(t, conn.edits(), 1)

	session.HandleEvent(protocol.DraftEditEvent{DocumentID: "doc-42", UserID: "u1", Nickname: "Ada", Content: "hello"})
	assert.Len(t, conn.edits(), 1, "no rebroadcast of the echo")
	assert.Empty(t, log.remote)
	assert.Empty(t, session.Typing(), "own edits never show a self typing indicator")
}

func TestDraftSnapshotReplacesWithoutBroadcast(t *testing.T) {
	session, conn, log, _ := newTestSession(t)
	session.SetContent("stale local")
	editCount := len(conn.edits())

	session.ApplyDraftSnapshot("server truth", 300)
	assert.Equal(t, "server truth", session.Content())
	assert.False(t, session.Dirty())
	assert.Equal(t, 300, session.TTLRemaining())
	assert.Len(t, conn.edits(), editCount, "resync is not a local edit")
	assert.Equal(t, []string{"server truth"}, log.replaced)
}

func TestTTLWarningSignal(t *testing.T) {
	session, _, log, _ := newTestSession(t)
	session.ApplyDraftSnapshot("content", 181)

	session.Tick()
	require.Equal(t, []int{180}, log.expiring)
	session.Tick()
	session.Tick()
	assert.Equal(t, []int{180}, log.expiring, "warning fires once per descent")
}

func TestChatSignalsAndUnread(t *testing.T) {
	session, _, log, _ := newTestSession(t)
	session.HandleEvent(protocol.ChatEvent{ID: "m1", DocumentID: "doc-42", UserID: "u2", Nickname: "Grace", Content: "hi"})

	require.Len(t, log.chats, 1)
	assert.Equal(t, "hi", log.chats[0].Content)
	assert.Equal(t, 1, session.UnreadChat())

	session.SetChatFocused(true)
	assert.Equal(t, 0, session.UnreadChat())
}

func TestCommentSignalTriggersRefetch(t *testing.T) {
	session, _, log, _ := newTestSession(t)
	session.HandleEvent(protocol.CommentEvent{DocumentID: "doc-42", UserID: "u2", CommentID: "c7"})
	assert.Equal(t, []string{"c7"}, log.comments)
}

func TestCursorSignal(t *testing.T) {
	session, conn, _, _ := newTestSession(t)
	session.SendCursor(4, 12)

	published := conn.published()
	require.Len(t, published, 1)
	assert.Equal(t, protocol.CursorIntent{DocumentID: "doc-42", Line: 4, Column: 12}, published[0])

	session.HandleEvent(protocol.CursorEvent{DocumentID: "doc-42", UserID: "u2", Nickname: "Grace", Line: 1, Column: 2})
	cursors := session.Cursors()
	require.Len(t, cursors, 1)
	assert.Equal(t, ColorFor("u2"), cursors[0].Color)
}
