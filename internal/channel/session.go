package channel

import (
	"context"
	"errors"
	"sync"
	"time"

	"codraft/internal/protocol"
)

// ErrAlreadyJoined is returned when Join is called again before a matching
// Leave; re-entry is a caller error.
var ErrAlreadyJoined = errors.New("document already joined")

// Publisher is the realtime transport a session publishes through. *Conn
// satisfies it; tests substitute an in-memory fake.
type Publisher interface {
	Publish(protocol.Intent)
	IsConnected() bool
}

// Notifications are the host-facing signals of a session. Any callback may
// be nil. Callbacks run on the event-delivery goroutine after the session's
// own state is settled; they must not block for long.
type Notifications struct {
	UserJoined        func(PresenceEntry)
	UserLeft          func(PresenceEntry)
	RosterChanged     func([]PresenceEntry)
	RemoteEditApplied func(content string)
	ContentReplaced   func(content string)
	TypingChanged     func(nicknames []string)
	DraftExpiring     func(secondsLeft int)
	CursorMoved       func(CursorState)
	ChatReceived      func(ChatMessage)
	CommentAdded      func(commentID string)
	SaveConfirmed     func(own bool)
	SaveRejected      func(reason string)
}

// DocumentSession is the per-document composition of the channel core:
// presence roster, draft engine, cursor table, chat log, and save
// coordinator, all fed by one event stream. It implements protocol.Handler;
// wire Conn's OnEvent to HandleEvent.
//
// A session mutex stands in for the reference system's single event loop:
// every handler runs to completion before the next, and host calls
// interleave at method granularity.
type DocumentSession struct {
	documentID string
	selfID     string
	selfName   string

	conn    Publisher
	roster  *Roster
	cursors *CursorTable
	draft   *DraftEngine
	chat    *ChatLog
	saves   *SaveCoordinator
	notify  Notifications

	mu     sync.Mutex
	joined bool
	clock  func() time.Time
}

func NewDocumentSession(conn Publisher, documentID, selfID, selfName string, versions VersionStore, notify Notifications) *DocumentSession {
	s := &DocumentSession{
		documentID: documentID,
		selfID:     selfID,
		selfName:   selfName,
		conn:       conn,
		roster:     NewRoster(),
		cursors:    NewCursorTable(selfID),
		notify:     notify,
		clock:      time.Now,
	}
	s.draft = NewDraftEngine(documentID, selfID, conn.Publish)
	s.chat = NewChatLog(documentID, conn.Publish)
	s.saves = NewSaveCoordinator(documentID, selfID, conn.Publish, s.draft, versions)
	return s
}

// HandleEvent dispatches one inbound event into the session.
func (s *DocumentSession) HandleEvent(event protocol.Event) {
	protocol.Dispatch(event, s)
}

// Join subscribes to the document topic and requests a roster snapshot.
// At most once per open document; Leave first to re-enter.
func (s *DocumentSession) Join() error {
	s.mu.Lock()
	if s.joined {
		s.mu.Unlock()
		return ErrAlreadyJoined
	}
	s.joined = true
	s.mu.Unlock()

	s.conn.Publish(protocol.JoinIntent{DocumentID: s.documentID})
	s.conn.Publish(protocol.OnlineUsersIntent{DocumentID: s.documentID})
	return nil
}

// Leave withdraws from the document topic. A no-op on the wire when
// disconnected; local state is cleared either way.
func (s *DocumentSession) Leave() {
	s.mu.Lock()
	s.joined = false
	s.mu.Unlock()
	s.conn.Publish(protocol.LeaveIntent{DocumentID: s.documentID})
}

// Rejoin re-issues the join intent after a reconnect. The server forgets
// membership on connection loss, so the host calls this when the connection
// status returns to connected; a bare reconnect resumes nothing.
func (s *DocumentSession) Rejoin() {
	s.mu.Lock()
	joined := s.joined
	s.mu.Unlock()
	if !joined {
		return
	}
	s.conn.Publish(protocol.JoinIntent{DocumentID: s.documentID})
	s.conn.Publish(protocol.OnlineUsersIntent{DocumentID: s.documentID})
}

func (s *DocumentSession) Joined() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.joined
}

// SetContent records a local edit and broadcasts it.
func (s *DocumentSession) SetContent(content string) {
	s.mu.Lock()
	s.draft.SetLocalContent(content)
	s.mu.Unlock()
}

// ApplyDraftSnapshot installs authoritative cached content fetched from the
// draft store, e.g. on join or resync. Never treated as a local edit.
func (s *DocumentSession) ApplyDraftSnapshot(content string, ttlSeconds int) {
	s.mu.Lock()
	s.draft.ApplyAuthoritative(content)
	s.draft.SetTTL(ttlSeconds)
	s.mu.Unlock()
	if s.notify.ContentReplaced != nil {
		s.notify.ContentReplaced(content)
	}
}

// SendCursor publishes the local caret position, fire-and-forget.
func (s *DocumentSession) SendCursor(line, column int) {
	s.conn.Publish(protocol.CursorIntent{DocumentID: s.documentID, Line: line, Column: column})
}

// SendChat publishes a chat message; blank content is dropped. The message
// appears locally only when the server echoes it back.
func (s *DocumentSession) SendChat(content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.Send(content)
}

// SeedChat installs chat history fetched from the external store.
func (s *DocumentSession) SeedChat(history []ChatMessage) {
	s.mu.Lock()
	s.chat.Seed(history)
	s.mu.Unlock()
}

func (s *DocumentSession) SetChatFocused(focused bool) {
	s.mu.Lock()
	s.chat.SetFocused(focused)
	s.mu.Unlock()
}

// Save publishes the current content to the shared draft cache.
func (s *DocumentSession) Save() {
	s.mu.Lock()
	s.saves.Save()
	s.mu.Unlock()
}

// AutoSaveTick saves only when dirty; harmless no-op when clean.
func (s *DocumentSession) AutoSaveTick() {
	s.mu.Lock()
	s.saves.AutoSaveTick()
	s.mu.Unlock()
}

// Commit snapshots the current content as an immutable version.
func (s *DocumentSession) Commit(ctx context.Context, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.saves.Commit(ctx, message)
	return err
}

// Rollback restores a prior version's content via the version store.
func (s *DocumentSession) Rollback(ctx context.Context, version int) error {
	s.mu.Lock()
	err := s.saves.Rollback(ctx, version)
	content := s.draft.Content()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if s.notify.ContentReplaced != nil {
		s.notify.ContentReplaced(content)
	}
	return nil
}

// RefreshVersions reloads the version list.
func (s *DocumentSession) RefreshVersions(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves.RefreshVersions(ctx)
}

// Tick advances the session's shared one-second clock: the draft TTL
// countdown and the typing-indicator sweep.
func (s *DocumentSession) Tick() {
	now := s.clock()
	s.mu.Lock()
	secondsLeft, warn := s.draft.TickTTL()
	swept := s.draft.Typing().Sweep(now)
	active := s.draft.Typing().Active(now)
	s.mu.Unlock()

	if warn && s.notify.DraftExpiring != nil {
		s.notify.DraftExpiring(secondsLeft)
	}
	if swept && s.notify.TypingChanged != nil {
		s.notify.TypingChanged(active)
	}
}

// --- protocol.Handler ---

func (s *DocumentSession) HandleJoin(ev protocol.JoinEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	s.mu.Lock()
	if len(ev.Roster) > 0 {
		s.roster.Replace(ev.Roster)
	} else {
		s.roster.Add(ev.UserID, ev.Nickname)
	}
	entry := PresenceEntry{UserID: ev.UserID, Nickname: ev.Nickname, Color: ColorFor(ev.UserID)}
	entries := s.roster.Entries()
	s.mu.Unlock()

	if ev.UserID != s.selfID && s.notify.UserJoined != nil {
		s.notify.UserJoined(entry)
	}
	if s.notify.RosterChanged != nil {
		s.notify.RosterChanged(entries)
	}
}

func (s *DocumentSession) HandleLeave(ev protocol.LeaveEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	s.mu.Lock()
	// Roster entry, cursor, and typing indicator go together; no orphans.
	entry, present := s.roster.Remove(ev.UserID)
	s.cursors.Remove(ev.UserID)
	s.draft.Typing().Remove(ev.UserID)
	entries := s.roster.Entries()
	s.mu.Unlock()

	if !present {
		return
	}
	if ev.UserID != s.selfID && s.notify.UserLeft != nil {
		s.notify.UserLeft(entry)
	}
	if s.notify.RosterChanged != nil {
		s.notify.RosterChanged(entries)
	}
}

func (s *DocumentSession) HandleOnlineUsers(ev protocol.OnlineUsersEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	s.mu.Lock()
	// Passive resync: replace wholesale, no synthetic join/leave signals.
	s.roster.Replace(ev.Roster)
	entries := s.roster.Entries()
	s.mu.Unlock()

	if s.notify.RosterChanged != nil {
		s.notify.RosterChanged(entries)
	}
}

func (s *DocumentSession) HandleDraftEdit(ev protocol.DraftEditEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	now := s.clock()
	s.mu.Lock()
	applied := s.draft.ApplyRemote(ev, now)
	active := s.draft.Typing().Active(now)
	s.mu.Unlock()

	if !applied {
		return
	}
	if s.notify.RemoteEditApplied != nil {
		s.notify.RemoteEditApplied(ev.Content)
	}
	if s.notify.TypingChanged != nil {
		s.notify.TypingChanged(active)
	}
}

func (s *DocumentSession) HandleSaveConfirmed(ev protocol.SaveConfirmedEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	s.mu.Lock()
	own := s.saves.HandleConfirmed(ev)
	s.mu.Unlock()

	if s.notify.SaveConfirmed != nil {
		s.notify.SaveConfirmed(own)
	}
	if !own && s.notify.ContentReplaced != nil {
		s.notify.ContentReplaced(ev.Content)
	}
}

func (s *DocumentSession) HandleSaveRejected(ev protocol.SaveRejectedEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	if ev.UserID != "" && ev.UserID != s.selfID {
		return
	}
	s.mu.Lock()
	s.saves.HandleRejected(ev)
	s.mu.Unlock()

	if s.notify.SaveRejected != nil {
		s.notify.SaveRejected(ev.Reason)
	}
}

func (s *DocumentSession) HandleCursor(ev protocol.CursorEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	s.mu.Lock()
	changed := s.cursors.Upsert(ev)
	state, _ := s.cursors.Get(ev.UserID)
	s.mu.Unlock()

	if changed && s.notify.CursorMoved != nil {
		s.notify.CursorMoved(state)
	}
}

func (s *DocumentSession) HandleChat(ev protocol.ChatEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	s.mu.Lock()
	msg := s.chat.Append(ev)
	s.mu.Unlock()

	if s.notify.ChatReceived != nil {
		s.notify.ChatReceived(msg)
	}
}

func (s *DocumentSession) HandleComment(ev protocol.CommentEvent) {
	if ev.DocumentID != s.documentID {
		return
	}
	// No body on the wire; the host refetches from the comment store.
	if s.notify.CommentAdded != nil {
		s.notify.CommentAdded(ev.CommentID)
	}
}

// --- accessors ---

func (s *DocumentSession) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Content()
}

func (s *DocumentSession) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Dirty()
}

func (s *DocumentSession) SaveState() SaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves.State()
}

func (s *DocumentSession) LastRejection() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves.LastRejection()
}

func (s *DocumentSession) Roster() []PresenceEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roster.Entries()
}

func (s *DocumentSession) Cursors() []CursorState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors.All()
}

func (s *DocumentSession) Typing() []string {
	now := s.clock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.Typing().Active(now)
}

func (s *DocumentSession) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.Messages()
}

func (s *DocumentSession) UnreadChat() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chat.Unread()
}

func (s *DocumentSession) TTLRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.TTLRemaining()
}
