package relay

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"codraft/internal/cache"
	"codraft/internal/gitarchive"
	"codraft/internal/protocol"
	"codraft/internal/store"
)

const testSecret = "test-secret"

// fakeDocStore is an in-memory DocumentStore.
type fakeDocStore struct {
	mu       sync.Mutex
	docs     map[string]store.Document
	versions map[string][]store.Version
	comments map[string][]store.Comment
	users    map[string]store.User
	nextID   int
	pingErr  error
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{
		docs:     make(map[string]store.Document),
		versions: make(map[string][]store.Version),
		comments: make(map[string][]store.Comment),
		users:    make(map[string]store.User),
	}
}

func (f *fakeDocStore) Ping(ctx context.Context) error { return f.pingErr }

func (f *fakeDocStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeDocStore) InsertDocument(ctx context.Context, title, content string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	doc := store.Document{
		ID:        fmt.Sprintf("doc-%d", f.nextID),
		Title:     title,
		Content:   content,
		UpdatedAt: time.Now(),
	}
	f.docs[doc.ID] = doc
	return doc, nil
}

func (f *fakeDocStore) ListDocuments(ctx context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Document, 0, len(f.docs))
	for _, doc := range f.docs {
		items = append(items, doc)
	}
	return items, nil
}

func (f *fakeDocStore) CommitVersion(ctx context.Context, documentID, content, message, authorID, authorName string) (store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[documentID]
	if !ok {
		return store.Version{}, store.ErrNotFound
	}
	version := store.Version{
		DocumentID: documentID,
		Number:     doc.CurrentVersion + 1,
		Content:    content,
		Message:    message,
		AuthorID:   authorID,
		AuthorName: authorName,
		CreatedAt:  time.Now(),
	}
	f.versions[documentID] = append([]store.Version{version}, f.versions[documentID]...)
	doc.Content = content
	doc.CurrentVersion = version.Number
	f.docs[documentID] = doc
	return version, nil
}

func (f *fakeDocStore) ListVersions(ctx context.Context, documentID string) ([]store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Version(nil), f.versions[documentID]...), nil
}

func (f *fakeDocStore) GetVersion(ctx context.Context, documentID string, number int) (store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, version := range f.versions[documentID] {
		if version.Number == number {
			return version, nil
		}
	}
	return store.Version{}, store.ErrNotFound
}

func (f *fakeDocStore) ListComments(ctx context.Context, documentID string) ([]store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Comment(nil), f.comments[documentID]...), nil
}

func (f *fakeDocStore) InsertComment(ctx context.Context, documentID, userID, nickname, content string) (store.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	comment := store.Comment{
		ID:         fmt.Sprintf("comment-%d", f.nextID),
		DocumentID: documentID,
		UserID:     userID,
		Nickname:   nickname,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	f.comments[documentID] = append(f.comments[documentID], comment)
	return comment, nil
}

func (f *fakeDocStore) EnsureUser(ctx context.Context, userID, displayName string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := store.User{ID: userID, DisplayName: displayName, CreatedAt: time.Now()}
	f.users[userID] = user
	return user, nil
}

func (f *fakeDocStore) SearchUsers(ctx context.Context, query string, limit int) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.User, 0)
	for _, user := range f.users {
		items = append(items, user)
	}
	return items, nil
}

// fakeArchiver records archived versions.
type fakeArchiver struct {
	mu       sync.Mutex
	ensured  []string
	archived []store.Version
}

func (f *fakeArchiver) EnsureDocumentRepo(doc store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, doc.ID)
	return nil
}

func (f *fakeArchiver) ArchiveVersion(version store.Version) (gitarchive.CommitInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.archived = append(f.archived, version)
	return gitarchive.CommitInfo{Hash: "abc1234"}, nil
}

type testRelay struct {
	service *Service
	hub     *Hub
	store   *fakeDocStore
	cache   *cache.RedisStore
	archive *fakeArchiver
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	mr := miniredis.RunT(t)
	redisStore, err := cache.NewRedisStore("redis://"+mr.Addr(), 30*time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { redisStore.Close() })

	docStore := newFakeDocStore()
	archive := &fakeArchiver{}
	hub := NewHub(redisStore)
	service := NewService(docStore, redisStore, archive, hub, []byte(testSecret), 1024)
	return &testRelay{service: service, hub: hub, store: docStore, cache: redisStore, archive: archive}
}

// waitEvent reads and decodes the next frame queued for a client.
func waitEvent(t *testing.T, c *Client) protocol.Event {
	t.Helper()
	select {
	case frame := <-c.Send:
		event, err := protocol.DecodeEvent(frame)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

// assertNoEvent checks that nothing is queued for a client.
func assertNoEvent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.Send:
		t.Fatalf("unexpected frame: %s", frame)
	case <-time.After(100 * time.Millisecond):
	}
}
