package channel

import (
	"hash/fnv"
	"sort"

	"codraft/internal/protocol"
)

// palette is the fixed color set shared by every client. Identical palettes
// and identical derivation are what make a user render the same color on
// every collaborator's screen.
var palette = [...]string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#008080",
}

// ColorFor derives a stable presence color from a user id. Pure function of
// the id: two independent clients always agree.
func ColorFor(userID string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return palette[h.Sum32()%uint32(len(palette))]
}

// PresenceEntry is one user currently viewing a document.
type PresenceEntry struct {
	UserID   string
	Nickname string
	Color    string
}

// Roster tracks the live set of users on one document channel. Not safe for
// concurrent use; the owning session serializes access.
type Roster struct {
	entries map[string]PresenceEntry
}

func NewRoster() *Roster {
	return &Roster{entries: make(map[string]PresenceEntry)}
}

// Add inserts a user and reports whether the roster changed. A duplicate
// join for a present user refreshes the nickname but is not a change.
func (r *Roster) Add(userID, nickname string) bool {
	_, present := r.entries[userID]
	r.entries[userID] = PresenceEntry{UserID: userID, Nickname: nickname, Color: ColorFor(userID)}
	return !present
}

// Remove deletes a user and reports whether they were present.
func (r *Roster) Remove(userID string) (PresenceEntry, bool) {
	entry, present := r.entries[userID]
	if present {
		delete(r.entries, userID)
	}
	return entry, present
}

// Replace swaps the roster wholesale with an authoritative snapshot. No
// diffing: the snapshot is truth regardless of prior contents.
func (r *Roster) Replace(snapshot []protocol.RosterEntry) {
	r.entries = make(map[string]PresenceEntry, len(snapshot))
	for _, member := range snapshot {
		r.entries[member.UserID] = PresenceEntry{
			UserID:   member.UserID,
			Nickname: member.Nickname,
			Color:    ColorFor(member.UserID),
		}
	}
}

func (r *Roster) Contains(userID string) bool {
	_, present := r.entries[userID]
	return present
}

func (r *Roster) Len() int {
	return len(r.entries)
}

// Entries returns the roster ordered by user id for stable rendering.
func (r *Roster) Entries() []PresenceEntry {
	out := make([]PresenceEntry, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
