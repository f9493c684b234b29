package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codraft/internal/docstore"
	"codraft/internal/protocol"
)

// fakeVersionStore implements VersionStore in memory.
type fakeVersionStore struct {
	versions   []docstore.Version
	commitErr  error
	listErr    error
	rollbackTo map[int]string
}

func (f *fakeVersionStore) Commit(_ context.Context, documentID, content, message string) (docstore.Version, error) {
	if f.commitErr != nil {
		return docstore.Version{}, f.commitErr
	}
	version := docstore.Version{
		DocumentID: documentID,
		Number:     len(f.versions) + 1,
		Content:    content,
		Message:    message,
		AuthorID:   "me",
		CreatedAt:  time.Now(),
	}
	f.versions = append([]docstore.Version{version}, f.versions...)
	return version, nil
}

func (f *fakeVersionStore) Rollback(_ context.Context, _ string, version int) (string, error) {
	content, found := f.rollbackTo[version]
	if !found {
		return "", errors.New("version not found")
	}
	return content, nil
}

func (f *fakeVersionStore) ListVersions(_ context.Context, _ string) ([]docstore.Version, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.versions, nil
}

func newTestCoordinator(store *fakeVersionStore) (*SaveCoordinator, *DraftEngine, *fakeConn) {
	conn := newFakeConn()
	engine := NewDraftEngine("doc-1", "me", conn.Publish)
	return NewSaveCoordinator("doc-1", "me", conn.Publish, engine, store), engine, conn
}

func TestSaveStateMachineRejected(t *testing.T) {
	coord, engine, conn := newTestCoordinator(&fakeVersionStore{})
	engine.SetLocalContent("draft")
	require.Equal(t, StateDirty, coord.State())

	coord.Save()
	assert.Equal(t, StateSaving, coord.State())
	require.Len(t, conn.saves(), 1)
	assert.Equal(t, "draft", conn.saves()[0].Content)

	coord.HandleRejected(protocol.SaveRejectedEvent{DocumentID: "doc-1", UserID: "me", Reason: "draft too large"})
	assert.Equal(t, StateDirty, coord.State(), "rejected save returns to Dirty, not Clean")
	assert.True(t, engine.Dirty())
	assert.Equal(t, "draft", engine.Content(), "pending content is never discarded")
	assert.Equal(t, "draft too large", coord.LastRejection())
}

func TestSaveStateMachineConfirmedOwn(t *testing.T) {
	coord, engine, _ := newTestCoordinator(&fakeVersionStore{})
	engine.SetLocalContent("draft")
	coord.Save()

	own := coord.HandleConfirmed(protocol.SaveConfirmedEvent{DocumentID: "doc-1", UserID: "me", Content: "draft"})
	assert.True(t, own)
	assert.Equal(t, StateClean, coord.State())
	assert.False(t, engine.Dirty())
}

func TestForeignConfirmDoesNotResolvePendingSave(t *testing.T) {
	coord, engine, _ := newTestCoordinator(&fakeVersionStore{})
	engine.SetLocalContent("mine")
	coord.Save()

	// A peer's save lands first: their content becomes authoritative
	// everywhere, but the local pending save stays pending.
	own := coord.HandleConfirmed(protocol.SaveConfirmedEvent{DocumentID: "doc-1", UserID: "u2", Content: "theirs"})
	assert.False(t, own)
	assert.Equal(t, "theirs", engine.Content(), "last confirmed wins")
	assert.False(t, engine.Dirty())
	assert.Equal(t, StateSaving, coord.State(), "own save still pending")

	own = coord.HandleConfirmed(protocol.SaveConfirmedEvent{DocumentID: "doc-1", UserID: "me", Content: "mine"})
	assert.True(t, own)
	assert.Equal(t, StateClean, coord.State())
}

func TestSaveFromCleanIsAllowed(t *testing.T) {
	coord, _, conn := newTestCoordinator(&fakeVersionStore{})
	require.Equal(t, StateClean, coord.State())
	coord.Save()
	assert.Len(t, conn.saves(), 1, "idempotent save of current state")
}

func TestAutoSaveTickOnlyWhenDirty(t *testing.T) {
	coord, engine, conn := newTestCoordinator(&fakeVersionStore{})

	coord.AutoSaveTick()
	assert.Empty(t, conn.saves(), "clean auto-save is a harmless no-op")

	engine.SetLocalContent("draft")
	coord.AutoSaveTick()
	assert.Len(t, conn.saves(), 1)

	coord.AutoSaveTick()
	assert.Len(t, conn.saves(), 1, "no duplicate save while one is pending")
}

func TestCommitSuccessClearsDirtyAndRefreshesVersions(t *testing.T) {
	store := &fakeVersionStore{}
	coord, engine, _ := newTestCoordinator(store)
	engine.SetLocalContent("v1 content")

	version, err := coord.Commit(context.Background(), "first version")
	require.NoError(t, err)
	assert.Equal(t, 1, version.Number)
	assert.Equal(t, "first version", version.Message)
	assert.False(t, engine.Dirty())

	versions := coord.Versions()
	require.Len(t, versions, 1)
	assert.Equal(t, "v1 content", versions[0].Content)
}

func TestCommitFailureLeavesStateUntouched(t *testing.T) {
	store := &fakeVersionStore{commitErr: errors.New("store down")}
	coord, engine, _ := newTestCoordinator(store)
	engine.SetLocalContent("draft")

	_, err := coord.Commit(context.Background(), "attempt")
	require.Error(t, err)
	assert.True(t, engine.Dirty(), "failed commit leaves Dirty untouched")
	assert.Equal(t, "draft", engine.Content())
	assert.Empty(t, coord.Versions())
}

func TestRollbackAppliesAuthoritativeContent(t *testing.T) {
	store := &fakeVersionStore{rollbackTo: map[int]string{3: "old content"}}
	coord, engine, conn := newTestCoordinator(store)
	engine.SetLocalContent("new content")

	require.NoError(t, coord.Rollback(context.Background(), 3))
	assert.Equal(t, "old content", engine.Content())
	assert.False(t, engine.Dirty())
	assert.Len(t, conn.edits(), 1, "restored content is not rebroadcast as a local edit")
}

func TestRollbackFailure(t *testing.T) {
	store := &fakeVersionStore{rollbackTo: map[int]string{}}
	coord, engine, _ := newTestCoordinator(store)
	engine.SetLocalContent("draft")

	require.Error(t, coord.Rollback(context.Background(), 9))
	assert.Equal(t, "draft", engine.Content())
	assert.True(t, engine.Dirty())
}
