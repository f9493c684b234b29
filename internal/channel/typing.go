package channel

import (
	"sort"
	"time"
)

// typingIdleWindow is how long after a peer's last draft edit their typing
// indicator stays visible. There is no explicit stopped-typing signal; the
// indicator is inferred from edit receipt and expires by itself.
const typingIdleWindow = 2 * time.Second

type typingEntry struct {
	nickname  string
	expiresAt time.Time
}

// TypingTable is an expiring per-user table of inferred typing indicators.
// Entries are swept on a shared tick rather than one timer per user. Not
// safe for concurrent use.
type TypingTable struct {
	window  time.Duration
	entries map[string]typingEntry
}

func NewTypingTable() *TypingTable {
	return &TypingTable{window: typingIdleWindow, entries: make(map[string]typingEntry)}
}

// Refresh marks a user as typing as of now, replacing any earlier expiry.
func (t *TypingTable) Refresh(userID, nickname string, now time.Time) {
	t.entries[userID] = typingEntry{nickname: nickname, expiresAt: now.Add(t.window)}
}

// Remove drops a user's indicator immediately, e.g. on LEAVE.
func (t *TypingTable) Remove(userID string) {
	delete(t.entries, userID)
}

// Sweep expires stale entries and reports whether anything was removed.
func (t *TypingTable) Sweep(now time.Time) bool {
	removed := false
	for userID, entry := range t.entries {
		if !now.Before(entry.expiresAt) {
			delete(t.entries, userID)
			removed = true
		}
	}
	return removed
}

// IsTyping reports whether a user's indicator is live at the given time.
func (t *TypingTable) IsTyping(userID string, now time.Time) bool {
	entry, found := t.entries[userID]
	return found && now.Before(entry.expiresAt)
}

// Active returns nicknames of users typing at the given time, sorted.
func (t *TypingTable) Active(now time.Time) []string {
	out := make([]string, 0, len(t.entries))
	for _, entry := range t.entries {
		if now.Before(entry.expiresAt) {
			out = append(out, entry.nickname)
		}
	}
	sort.Strings(out)
	return out
}
