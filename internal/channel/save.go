package channel

import (
	"context"
	"fmt"

	"codraft/internal/docstore"
	"codraft/internal/protocol"
)

// SaveState is the coordinator's per-document state machine:
// Clean -> Dirty -> Saving -> {Clean | Dirty}.
type SaveState int

const (
	StateClean SaveState = iota
	StateDirty
	StateSaving
)

func (s SaveState) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	default:
		return fmt.Sprintf("SaveState(%d)", int(s))
	}
}

// VersionStore is the external version-store collaborator consumed by
// commit and rollback. *docstore.Client satisfies it.
type VersionStore interface {
	Commit(ctx context.Context, documentID, content, message string) (docstore.Version, error)
	Rollback(ctx context.Context, documentID string, version int) (string, error)
	ListVersions(ctx context.Context, documentID string) ([]docstore.Version, error)
}

// SaveCoordinator arbitrates saves against the shared draft cache and owns
// the commit/rollback boundary. Saves ride the realtime channel and resolve
// asynchronously via SAVE_CONFIRMED/SAVE_REJECTED; commit and rollback are
// synchronous calls to the version store. Concurrent saves from different
// users have no conflict detection: the last confirmed content wins everywhere,
// including clearing a loser's dirty flag through the authoritative-replace
// path. That weak-consistency behavior is deliberate and preserved.
type SaveCoordinator struct {
	documentID string
	selfID     string
	publish    func(protocol.Intent)
	engine     *DraftEngine
	versions   VersionStore

	saving        bool
	lastRejection string
	versionList   []docstore.Version
}

func NewSaveCoordinator(documentID, selfID string, publish func(protocol.Intent), engine *DraftEngine, versions VersionStore) *SaveCoordinator {
	return &SaveCoordinator{
		documentID: documentID,
		selfID:     selfID,
		publish:    publish,
		engine:     engine,
		versions:   versions,
	}
}

// State derives the machine state from the engine's dirty flag and the
// pending-save marker.
func (c *SaveCoordinator) State() SaveState {
	if c.saving {
		return StateSaving
	}
	if c.engine.Dirty() {
		return StateDirty
	}
	return StateClean
}

// Save publishes the current content to the shared draft cache. Legal from
// Clean as well as Dirty: saving an already-saved state is idempotent.
func (c *SaveCoordinator) Save() {
	c.saving = true
	c.publish(protocol.SaveIntent{DocumentID: c.documentID, Content: c.engine.Content()})
}

// AutoSaveTick is the interval hook for hosts that auto-save: it saves only
// when dirty and is a harmless no-op otherwise.
func (c *SaveCoordinator) AutoSaveTick() {
	if c.engine.Dirty() && !c.saving {
		c.Save()
	}
}

// HandleConfirmed applies a save confirmation. The confirmed content is
// authoritative for everyone. Only the local user's own confirmation
// resolves the pending save; a peer's confirmation must not.
func (c *SaveCoordinator) HandleConfirmed(ev protocol.SaveConfirmedEvent) (own bool) {
	own = ev.UserID == c.selfID
	if own {
		c.saving = false
		c.lastRejection = ""
	}
	c.engine.ApplyAuthoritative(ev.Content)
	return own
}

// HandleRejected records a rejection of the local user's save. The state
// returns to Dirty; pending local content is kept, never discarded.
func (c *SaveCoordinator) HandleRejected(ev protocol.SaveRejectedEvent) {
	c.saving = false
	c.lastRejection = ev.Reason
	c.engine.markDirty()
}

// LastRejection returns the most recent rejection reason, cleared by the
// next confirmed save.
func (c *SaveCoordinator) LastRejection() string { return c.lastRejection }

// Commit snapshots current content as an immutable version. Success clears
// dirty and refreshes the version list; failure leaves state untouched.
func (c *SaveCoordinator) Commit(ctx context.Context, message string) (docstore.Version, error) {
	version, err := c.versions.Commit(ctx, c.documentID, c.engine.Content(), message)
	if err != nil {
		return docstore.Version{}, fmt.Errorf("commit version: %w", err)
	}
	c.engine.markClean()
	if list, listErr := c.versions.ListVersions(ctx, c.documentID); listErr == nil {
		c.versionList = list
	} else {
		c.versionList = append([]docstore.Version{version}, c.versionList...)
	}
	return version, nil
}

// Rollback restores a prior version's content. The restored content arrives
// through the authoritative-replace path, not as a local edit.
func (c *SaveCoordinator) Rollback(ctx context.Context, version int) error {
	content, err := c.versions.Rollback(ctx, c.documentID, version)
	if err != nil {
		return fmt.Errorf("rollback to version %d: %w", version, err)
	}
	c.engine.ApplyAuthoritative(content)
	return nil
}

// RefreshVersions reloads the version list from the store.
func (c *SaveCoordinator) RefreshVersions(ctx context.Context) error {
	list, err := c.versions.ListVersions(ctx, c.documentID)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	c.versionList = list
	return nil
}

// Versions returns the last fetched version list, newest first.
func (c *SaveCoordinator) Versions() []docstore.Version {
	out := make([]docstore.Version, len(c.versionList))
	copy(out, c.versionList)
	return out
}
