// Package protocol defines the wire taxonomy of the document channel: the
// inbound events a client can receive, the outbound intents it can send, and
// the JSON codec between them. Inbound events form a closed sum type
// dispatched through Handler, so a new event type fails to compile until
// every consumer handles it.
package protocol

// RosterEntry is one member of a document's presence roster.
type RosterEntry struct {
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
}

// Event is an inbound server-to-client message on a document topic.
type Event interface {
	eventType() string
}

// JoinEvent announces a user joining, carrying the authoritative roster
// snapshot as of the join.
type JoinEvent struct {
	DocumentID string
	UserID     string
	Nickname   string
	Roster     []RosterEntry
}

// LeaveEvent announces a user leaving.
type LeaveEvent struct {
	DocumentID string
	UserID     string
	Nickname   string
}

// OnlineUsersEvent is a passive roster resync; it replaces local presence
// state wholesale and never produces join/leave notifications.
type OnlineUsersEvent struct {
	DocumentID string
	Roster     []RosterEntry
}

// DraftEditEvent carries a peer's full in-progress content.
type DraftEditEvent struct {
	DocumentID string
	UserID     string
	Nickname   string
	Content    string
}

// SaveConfirmedEvent confirms a save into the shared draft cache. The content
// is authoritative for everyone, saver included.
type SaveConfirmedEvent struct {
	DocumentID string
	UserID     string
	Nickname   string
	Content    string
}

// SaveRejectedEvent rejects a save attempt; delivered only to the saver.
type SaveRejectedEvent struct {
	DocumentID string
	UserID     string
	Reason     string
}

// CursorEvent carries a peer's caret position.
type CursorEvent struct {
	DocumentID string
	UserID     string
	Nickname   string
	Line       int
	Column     int
}

// ChatEvent is one chat message as fanned out by the server. Senders rely on
// this echo for their own messages; the server assigns the id.
type ChatEvent struct {
	ID         string
	DocumentID string
	UserID     string
	Nickname   string
	Content    string
}

// CommentEvent signals that a persisted comment was added. It carries no
// body; receivers refetch from the comment store.
type CommentEvent struct {
	DocumentID string
	UserID     string
	CommentID  string
}

func (JoinEvent) eventType() string          { return TypeJoin }
func (LeaveEvent) eventType() string         { return TypeLeave }
func (OnlineUsersEvent) eventType() string   { return TypeOnlineUsers }
func (DraftEditEvent) eventType() string     { return TypeDraftEdit }
func (SaveConfirmedEvent) eventType() string { return TypeSaveConfirmed }
func (SaveRejectedEvent) eventType() string  { return TypeSaveRejected }
func (CursorEvent) eventType() string        { return TypeCursor }
func (ChatEvent) eventType() string          { return TypeChat }
func (CommentEvent) eventType() string       { return TypeComment }

// Handler receives dispatched events. One method per event type keeps the
// taxonomy exhaustive at compile time.
type Handler interface {
	HandleJoin(JoinEvent)
	HandleLeave(LeaveEvent)
	HandleOnlineUsers(OnlineUsersEvent)
	HandleDraftEdit(DraftEditEvent)
	HandleSaveConfirmed(SaveConfirmedEvent)
	HandleSaveRejected(SaveRejectedEvent)
	HandleCursor(CursorEvent)
	HandleChat(ChatEvent)
	HandleComment(CommentEvent)
}

// Dispatch routes an event to the matching Handler method.
func Dispatch(event Event, handler Handler) {
	switch ev := event.(type) {
	case JoinEvent:
		handler.HandleJoin(ev)
	case LeaveEvent:
		handler.HandleLeave(ev)
	case OnlineUsersEvent:
		handler.HandleOnlineUsers(ev)
	case DraftEditEvent:
		handler.HandleDraftEdit(ev)
	case SaveConfirmedEvent:
		handler.HandleSaveConfirmed(ev)
	case SaveRejectedEvent:
		handler.HandleSaveRejected(ev)
	case CursorEvent:
		handler.HandleCursor(ev)
	case ChatEvent:
		handler.HandleChat(ev)
	case CommentEvent:
		handler.HandleComment(ev)
	}
}
