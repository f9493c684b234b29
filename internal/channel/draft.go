package channel

import (
	"time"

	"codraft/internal/protocol"
)

// ttlWarnThreshold is the remaining-seconds mark at which the engine warns
// that the shared draft cache entry is about to expire.
const ttlWarnThreshold = 180

// DraftEngine owns the single shared mutable resource of a document channel:
// the draft content. Local edits enter through SetLocalContent, which
// broadcasts; remote and authoritative content enters through ApplyRemote
// and ApplyAuthoritative, which never broadcast. Splitting the entry points
// structurally is what prevents publish feedback loops. Not safe for
// concurrent use; the owning session serializes access.
type DraftEngine struct {
	documentID string
	selfID     string
	publish    func(protocol.Intent)

	content string
	dirty   bool

	typing *TypingTable

	// ttlRemaining counts down locally between server refreshes; -1 means
	// the cache reported no TTL.
	ttlRemaining int
	ttlWarned    bool
}

func NewDraftEngine(documentID, selfID string, publish func(protocol.Intent)) *DraftEngine {
	return &DraftEngine{
		documentID:   documentID,
		selfID:       selfID,
		publish:      publish,
		typing:       NewTypingTable(),
		ttlRemaining: -1,
	}
}

func (e *DraftEngine) Content() string { return e.content }
func (e *DraftEngine) Dirty() bool     { return e.dirty }

// SetLocalContent records a local edit: update content, mark dirty, and
// broadcast the full new content. Identical content is a no-op so that an
// editor re-emitting a programmatic replacement does not re-broadcast it.
func (e *DraftEngine) SetLocalContent(content string) {
	if content == e.content {
		return
	}
	e.content = content
	e.dirty = true
	e.publish(protocol.EditIntent{DocumentID: e.documentID, Content: content})
}

// ApplyRemote applies a peer's draft edit. The local user's own echo is
// never applied. Receipt of a remote edit doubles as the peer's typing
// signal. Reports whether the edit was applied.
func (e *DraftEngine) ApplyRemote(ev protocol.DraftEditEvent, now time.Time) bool {
	if ev.UserID == e.selfID {
		return false
	}
	e.content = ev.Content
	e.typing.Refresh(ev.UserID, ev.Nickname, now)
	return true
}

// ApplyAuthoritative replaces local content with server truth (cache fetch,
// save confirmation, rollback). Clears dirty and never broadcasts.
func (e *DraftEngine) ApplyAuthoritative(content string) {
	e.content = content
	e.dirty = false
}

// markDirty restores the dirty flag after a rejected save; the user's
// pending content must not look saved.
func (e *DraftEngine) markDirty() { e.dirty = true }

// markClean clears dirty after a successful commit of the current content.
func (e *DraftEngine) markClean() { e.dirty = false }

// Typing exposes the per-user typing indicator table.
func (e *DraftEngine) Typing() *TypingTable { return e.typing }

// SetTTL installs a fresh remaining-TTL reading from the draft cache. Rising
// back above the warning threshold re-arms the one-shot warning.
func (e *DraftEngine) SetTTL(seconds int) {
	e.ttlRemaining = seconds
	if seconds > ttlWarnThreshold {
		e.ttlWarned = false
	}
}

// TTLRemaining returns the locally counted-down TTL, or -1 if unknown.
func (e *DraftEngine) TTLRemaining() int { return e.ttlRemaining }

// TickTTL advances the local one-second countdown. It reports an expiring
// warning exactly once per descent through the threshold; further ticks
// below it stay silent until a fresh reading rises back above.
func (e *DraftEngine) TickTTL() (secondsLeft int, warn bool) {
	if e.ttlRemaining < 0 {
		return -1, false
	}
	if e.ttlRemaining > 0 {
		e.ttlRemaining--
	}
	if e.ttlRemaining <= ttlWarnThreshold && !e.ttlWarned {
		e.ttlWarned = true
		return e.ttlRemaining, true
	}
	return e.ttlRemaining, false
}
