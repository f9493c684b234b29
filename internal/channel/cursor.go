package channel

import (
	"sort"

	"codraft/internal/protocol"
)

// CursorState is the last known caret position of a remote collaborator.
// Last value wins; out-of-order arrivals are not reconciled.
type CursorState struct {
	UserID   string
	Nickname string
	Line     int
	Column   int
	Color    string
}

// CursorTable holds remote cursors for one document. The local user's own
// cursor is never stored. Not safe for concurrent use.
type CursorTable struct {
	selfID  string
	cursors map[string]CursorState
}

func NewCursorTable(selfID string) *CursorTable {
	return &CursorTable{selfID: selfID, cursors: make(map[string]CursorState)}
}

// Upsert records a remote cursor update, ignoring the local user's echo.
// Reports whether the table changed.
func (t *CursorTable) Upsert(ev protocol.CursorEvent) bool {
	if ev.UserID == t.selfID {
		return false
	}
	t.cursors[ev.UserID] = CursorState{
		UserID:   ev.UserID,
		Nickname: ev.Nickname,
		Line:     ev.Line,
		Column:   ev.Column,
		Color:    ColorFor(ev.UserID),
	}
	return true
}

// Remove purges a user's cursor, typically because they left the document.
func (t *CursorTable) Remove(userID string) {
	delete(t.cursors, userID)
}

func (t *CursorTable) Get(userID string) (CursorState, bool) {
	state, found := t.cursors[userID]
	return state, found
}

// All returns cursors ordered by user id.
func (t *CursorTable) All() []CursorState {
	out := make([]CursorState, 0, len(t.cursors))
	for _, state := range t.cursors {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
