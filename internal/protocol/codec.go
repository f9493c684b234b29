package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound event discriminators.
const (
	TypeJoin          = "JOIN"
	TypeLeave         = "LEAVE"
	TypeOnlineUsers   = "ONLINE_USERS"
	TypeDraftEdit     = "DRAFT_EDIT"
	TypeSaveConfirmed = "SAVE_CONFIRMED"
	TypeSaveRejected  = "SAVE_REJECTED"
	TypeCursor        = "CURSOR"
	TypeChat          = "CHAT"
	TypeComment       = "COMMENT"
)

// Outbound intent discriminators.
const (
	TypeIntentJoin        = "join"
	TypeIntentLeave       = "leave"
	TypeIntentEdit        = "edit"
	TypeIntentCursor      = "cursor"
	TypeIntentChat        = "chat"
	TypeIntentSave        = "save"
	TypeIntentOnlineUsers = "online_users"
)

// frame is the flat wire envelope shared by events and intents. Only the
// fields relevant to a given type are populated.
type frame struct {
	Type       string        `json:"type"`
	DocumentID string        `json:"documentId,omitempty"`
	UserID     string        `json:"userId,omitempty"`
	Nickname   string        `json:"nickname,omitempty"`
	Content    string        `json:"content,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	ID         string        `json:"id,omitempty"`
	CommentID  string        `json:"commentId,omitempty"`
	Line       int           `json:"line,omitempty"`
	Column     int           `json:"column,omitempty"`
	Roster     []RosterEntry `json:"roster,omitempty"`
}

// EncodeEvent serializes a server-to-client event.
func EncodeEvent(event Event) ([]byte, error) {
	f := frame{Type: event.eventType()}
	switch ev := event.(type) {
	case JoinEvent:
		f.DocumentID, f.UserID, f.Nickname, f.Roster = ev.DocumentID, ev.UserID, ev.Nickname, ev.Roster
	case LeaveEvent:
		f.DocumentID, f.UserID, f.Nickname = ev.DocumentID, ev.UserID, ev.Nickname
	case OnlineUsersEvent:
		f.DocumentID, f.Roster = ev.DocumentID, ev.Roster
	case DraftEditEvent:
		f.DocumentID, f.UserID, f.Nickname, f.Content = ev.DocumentID, ev.UserID, ev.Nickname, ev.Content
	case SaveConfirmedEvent:
		f.DocumentID, f.UserID, f.Nickname, f.Content = ev.DocumentID, ev.UserID, ev.Nickname, ev.Content
	case SaveRejectedEvent:
		f.DocumentID, f.UserID, f.Reason = ev.DocumentID, ev.UserID, ev.Reason
	case CursorEvent:
		f.DocumentID, f.UserID, f.Nickname, f.Line, f.Column = ev.DocumentID, ev.UserID, ev.Nickname, ev.Line, ev.Column
	case ChatEvent:
		f.ID, f.DocumentID, f.UserID, f.Nickname, f.Content = ev.ID, ev.DocumentID, ev.UserID, ev.Nickname, ev.Content
	case CommentEvent:
		f.DocumentID, f.UserID, f.CommentID = ev.DocumentID, ev.UserID, ev.CommentID
	default:
		return nil, fmt.Errorf("encode event: unknown type %T", event)
	}
	return json.Marshal(f)
}

// DecodeEvent parses a server-to-client frame into its event type.
func DecodeEvent(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch f.Type {
	case TypeJoin:
		return JoinEvent{DocumentID: f.DocumentID, UserID: f.UserID, Nickname: f.Nickname, Roster: f.Roster}, nil
	case TypeLeave:
		return LeaveEvent{DocumentID: f.DocumentID, UserID: f.UserID, Nickname: f.Nickname}, nil
	case TypeOnlineUsers:
		return OnlineUsersEvent{DocumentID: f.DocumentID, Roster: f.Roster}, nil
	case TypeDraftEdit:
		return DraftEditEvent{DocumentID: f.DocumentID, UserID: f.UserID, Nickname: f.Nickname, Content: f.Content}, nil
	case TypeSaveConfirmed:
		return SaveConfirmedEvent{DocumentID: f.DocumentID, UserID: f.UserID, Nickname: f.Nickname, Content: f.Content}, nil
	case TypeSaveRejected:
		return SaveRejectedEvent{DocumentID: f.DocumentID, UserID: f.UserID, Reason: f.Reason}, nil
	case TypeCursor:
		return CursorEvent{DocumentID: f.DocumentID, UserID: f.UserID, Nickname: f.Nickname, Line: f.Line, Column: f.Column}, nil
	case TypeChat:
		return ChatEvent{ID: f.ID, DocumentID: f.DocumentID, UserID: f.UserID, Nickname: f.Nickname, Content: f.Content}, nil
	case TypeComment:
		return CommentEvent{DocumentID: f.DocumentID, UserID: f.UserID, CommentID: f.CommentID}, nil
	case "":
		return nil, fmt.Errorf("decode event: missing type")
	default:
		return nil, fmt.Errorf("decode event: unknown type %q", f.Type)
	}
}

// EncodeIntent serializes a client-to-server intent.
func EncodeIntent(intent Intent) ([]byte, error) {
	f := frame{Type: intent.intentType()}
	switch in := intent.(type) {
	case JoinIntent:
		f.DocumentID = in.DocumentID
	case LeaveIntent:
		f.DocumentID = in.DocumentID
	case EditIntent:
		f.DocumentID, f.Content = in.DocumentID, in.Content
	case CursorIntent:
		f.DocumentID, f.Line, f.Column = in.DocumentID, in.Line, in.Column
	case ChatIntent:
		f.DocumentID, f.Content = in.DocumentID, in.Content
	case SaveIntent:
		f.DocumentID, f.Content = in.DocumentID, in.Content
	case OnlineUsersIntent:
		f.DocumentID = in.DocumentID
	default:
		return nil, fmt.Errorf("encode intent: unknown type %T", intent)
	}
	return json.Marshal(f)
}

// DecodeIntent parses a client-to-server frame into its intent type.
func DecodeIntent(data []byte) (Intent, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode intent: %w", err)
	}
	switch f.Type {
	case TypeIntentJoin:
		return JoinIntent{DocumentID: f.DocumentID}, nil
	case TypeIntentLeave:
		return LeaveIntent{DocumentID: f.DocumentID}, nil
	case TypeIntentEdit:
		return EditIntent{DocumentID: f.DocumentID, Content: f.Content}, nil
	case TypeIntentCursor:
		return CursorIntent{DocumentID: f.DocumentID, Line: f.Line, Column: f.Column}, nil
	case TypeIntentChat:
		return ChatIntent{DocumentID: f.DocumentID, Content: f.Content}, nil
	case TypeIntentSave:
		return SaveIntent{DocumentID: f.DocumentID, Content: f.Content}, nil
	case TypeIntentOnlineUsers:
		return OnlineUsersIntent{DocumentID: f.DocumentID}, nil
	case "":
		return nil, fmt.Errorf("decode intent: missing type")
	default:
		return nil, fmt.Errorf("decode intent: unknown type %q", f.Type)
	}
}
