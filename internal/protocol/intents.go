package protocol

// Intent is an outbound client-to-server message. All intents are
// fire-and-forget: a client never blocks on or retries one.
type Intent interface {
	intentType() string
}

// JoinIntent subscribes the sender to a document topic and requests the
// current roster snapshot.
type JoinIntent struct {
	DocumentID string
}

// LeaveIntent withdraws the sender from a document topic.
type LeaveIntent struct {
	DocumentID string
}

// EditIntent broadcasts the sender's full in-progress content. Full content,
// not a diff: the receiver's view is overwritten entirely.
type EditIntent struct {
	DocumentID string
	Content    string
}

// CursorIntent publishes the sender's caret position.
type CursorIntent struct {
	DocumentID string
	Line       int
	Column     int
}

// ChatIntent publishes a chat message. The sender renders nothing until the
// server echoes it back with an assigned id.
type ChatIntent struct {
	DocumentID string
	Content    string
}

// SaveIntent asks the server to persist the content into the shared draft
// cache; answered with SAVE_CONFIRMED or SAVE_REJECTED.
type SaveIntent struct {
	DocumentID string
	Content    string
}

// OnlineUsersIntent requests a roster snapshot without joining.
type OnlineUsersIntent struct {
	DocumentID string
}

func (JoinIntent) intentType() string        { return TypeIntentJoin }
func (LeaveIntent) intentType() string       { return TypeIntentLeave }
func (EditIntent) intentType() string        { return TypeIntentEdit }
func (CursorIntent) intentType() string      { return TypeIntentCursor }
func (ChatIntent) intentType() string        { return TypeIntentChat }
func (SaveIntent) intentType() string        { return TypeIntentSave }
func (OnlineUsersIntent) intentType() string { return TypeIntentOnlineUsers }
