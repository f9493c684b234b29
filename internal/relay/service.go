package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"codraft/internal/auth"
	"codraft/internal/cache"
	"codraft/internal/gitarchive"
	"codraft/internal/protocol"
	"codraft/internal/store"
)

// DocumentStore is the relational persistence the relay commits to.
// *store.PostgresStore satisfies it.
type DocumentStore interface {
	Ping(ctx context.Context) error
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	InsertDocument(ctx context.Context, title, content string) (store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	CommitVersion(ctx context.Context, documentID, content, message, authorID, authorName string) (store.Version, error)
	ListVersions(ctx context.Context, documentID string) ([]store.Version, error)
	GetVersion(ctx context.Context, documentID string, number int) (store.Version, error)
	ListComments(ctx context.Context, documentID string) ([]store.Comment, error)
	InsertComment(ctx context.Context, documentID, userID, nickname, content string) (store.Comment, error)
	EnsureUser(ctx context.Context, userID, displayName string) (store.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]store.User, error)
}

// DraftCache is the Redis-backed shared state. *cache.RedisStore satisfies it.
type DraftCache interface {
	Bus
	SaveDraft(ctx context.Context, documentID, content, savedBy string) error
	FetchDraft(ctx context.Context, documentID string) (cache.DraftState, int, bool, error)
	ClearDraft(ctx context.Context, documentID string) error
	AddPresence(ctx context.Context, documentID, userID, nickname string) error
	RemovePresence(ctx context.Context, documentID, userID string) error
	Roster(ctx context.Context, documentID string) ([]protocol.RosterEntry, error)
	AppendChat(ctx context.Context, documentID string, frame []byte) error
	ChatHistory(ctx context.Context, documentID string) ([][]byte, error)
}

// Archiver mirrors committed versions into git. *gitarchive.Archive
// satisfies it; a nil Archiver disables the mirror.
type Archiver interface {
	EnsureDocumentRepo(doc store.Document) error
	ArchiveVersion(version store.Version) (gitarchive.CommitInfo, error)
}

type Service struct {
	store         DocumentStore
	cache         DraftCache
	archive       Archiver
	hub           *Hub
	tokenSecret   []byte
	maxDraftBytes int
}

func NewService(st DocumentStore, ca DraftCache, archive Archiver, hub *Hub, tokenSecret []byte, maxDraftBytes int) *Service {
	return &Service{
		store:         st,
		cache:         ca,
		archive:       archive,
		hub:           hub,
		tokenSecret:   tokenSecret,
		maxDraftBytes: maxDraftBytes,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Session is an authenticated caller, decoded from a bearer token.
type Session struct {
	UserID   string
	Nickname string
}

func (s *Service) SessionFromToken(token string) (Session, error) {
	claims, err := auth.ParseToken(s.tokenSecret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{UserID: claims.Sub, Nickname: claims.Name}, nil
}

// Login registers (or refreshes) a user and issues an access token. An empty
// userID mints a fresh identity.
func (s *Service) Login(ctx context.Context, userID, name string, accessTTL time.Duration) (store.User, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.User{}, "", domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	if userID == "" {
		userID = uuid.NewString()
	}
	user, err := s.store.EnsureUser(ctx, userID, name)
	if err != nil {
		return store.User{}, "", err
	}
	token, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  uuid.NewString(),
		Exp:  time.Now().Add(accessTTL).Unix(),
	})
	if err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

// HandleIntent interprets one decoded client frame. Rejections that only the
// sender should see go back through SendDirect; everything else fans out on
// the document topic.
func (s *Service) HandleIntent(ctx context.Context, documentID string, c *Client, intent protocol.Intent) {
	var err error
	switch in := intent.(type) {
	case protocol.JoinIntent:
		err = s.handleJoin(ctx, documentID, c)
	case protocol.LeaveIntent:
		err = s.handleLeave(ctx, documentID, c)
	case protocol.OnlineUsersIntent:
		err = s.handleOnlineUsers(ctx, documentID, c)
	case protocol.EditIntent:
		err = s.handleEdit(ctx, documentID, c, in.Content)
	case protocol.CursorIntent:
		err = s.handleCursor(ctx, documentID, c, in.Line, in.Column)
	case protocol.ChatIntent:
		err = s.handleChat(ctx, documentID, c, in.Content)
	case protocol.SaveIntent:
		err = s.handleSave(ctx, documentID, c, in.Content)
	}
	if err != nil {
		log.Printf("intent %T failed user=%s doc=%s: %v", intent, c.UserID, documentID, err)
	}
}

func (s *Service) handleJoin(ctx context.Context, documentID string, c *Client) error {
	if err := s.cache.AddPresence(ctx, documentID, c.UserID, c.Nickname); err != nil {
		return err
	}
	roster, err := s.cache.Roster(ctx, documentID)
	if err != nil {
		return err
	}
	return s.broadcast(ctx, documentID, protocol.JoinEvent{
		DocumentID: documentID,
		UserID:     c.UserID,
		Nickname:   c.Nickname,
		Roster:     roster,
	})
}

func (s *Service) handleLeave(ctx context.Context, documentID string, c *Client) error {
	if err := s.cache.RemovePresence(ctx, documentID, c.UserID); err != nil {
		return err
	}
	return s.broadcast(ctx, documentID, protocol.LeaveEvent{
		DocumentID: documentID,
		UserID:     c.UserID,
		Nickname:   c.Nickname,
	})
}

func (s *Service) handleOnlineUsers(ctx context.Context, documentID string, c *Client) error {
	roster, err := s.cache.Roster(ctx, documentID)
	if err != nil {
		return err
	}
	frame, err := protocol.EncodeEvent(protocol.OnlineUsersEvent{DocumentID: documentID, Roster: roster})
	if err != nil {
		return err
	}
	s.hub.SendDirect(documentID, c, frame)
	return nil
}

func (s *Service) handleEdit(ctx context.Context, documentID string, c *Client, content string) error {
	if len(content) > s.maxDraftBytes {
		// Oversized live edits are dropped silently; the save path is the
		// one that reports the limit back.
		return nil
	}
	return s.broadcast(ctx, documentID, protocol.DraftEditEvent{
		DocumentID: documentID,
		UserID:     c.UserID,
		Nickname:   c.Nickname,
		Content:    content,
	})
}

func (s *Service) handleCursor(ctx context.Context, documentID string, c *Client, line, column int) error {
	return s.broadcast(ctx, documentID, protocol.CursorEvent{
		DocumentID: documentID,
		UserID:     c.UserID,
		Nickname:   c.Nickname,
		Line:       line,
		Column:     column,
	})
}

func (s *Service) handleChat(ctx context.Context, documentID string, c *Client, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}
	event := protocol.ChatEvent{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		UserID:     c.UserID,
		Nickname:   c.Nickname,
		Content:    content,
	}
	frame, err := protocol.EncodeEvent(event)
	if err != nil {
		return err
	}
	if err := s.cache.AppendChat(ctx, documentID, frame); err != nil {
		return err
	}
	return s.hub.Broadcast(ctx, documentID, frame)
}

// handleSave applies last-writer-wins: whatever content arrives replaces the
// cached draft, no comparison against what the saver last read.
func (s *Service) handleSave(ctx context.Context, documentID string, c *Client, content string) error {
	if len(content) > s.maxDraftBytes {
		return s.reject(documentID, c, fmt.Sprintf("draft exceeds %d bytes", s.maxDraftBytes))
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return s.reject(documentID, c, "unknown document")
		}
		return err
	}
	if err := s.cache.SaveDraft(ctx, documentID, content, c.UserID); err != nil {
		return s.reject(documentID, c, "draft cache unavailable")
	}
	return s.broadcast(ctx, documentID, protocol.SaveConfirmedEvent{
		DocumentID: documentID,
		UserID:     c.UserID,
		Nickname:   c.Nickname,
		Content:    content,
	})
}

func (s *Service) reject(documentID string, c *Client, reason string) error {
	frame, err := protocol.EncodeEvent(protocol.SaveRejectedEvent{
		DocumentID: documentID,
		UserID:     c.UserID,
		Reason:     reason,
	})
	if err != nil {
		return err
	}
	s.hub.SendDirect(documentID, c, frame)
	return nil
}

// Disconnected cleans up after a websocket drop without a leave intent.
func (s *Service) Disconnected(ctx context.Context, documentID string, c *Client) {
	if err := s.handleLeave(ctx, documentID, c); err != nil {
		log.Printf("disconnect cleanup failed user=%s doc=%s: %v", c.UserID, documentID, err)
	}
}

func (s *Service) broadcast(ctx context.Context, documentID string, event protocol.Event) error {
	frame, err := protocol.EncodeEvent(event)
	if err != nil {
		return err
	}
	return s.hub.Broadcast(ctx, documentID, frame)
}

// Document operations backing the HTTP surface.

func (s *Service) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	return s.store.GetDocument(ctx, documentID)
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

func (s *Service) CreateDocument(ctx context.Context, title, content string) (store.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return store.Document{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	doc, err := s.store.InsertDocument(ctx, title, content)
	if err != nil {
		return store.Document{}, err
	}
	if s.archive != nil {
		if err := s.archive.EnsureDocumentRepo(doc); err != nil {
			log.Printf("archive init failed doc=%s: %v", doc.ID, err)
		}
	}
	return doc, nil
}

func (s *Service) FetchDraft(ctx context.Context, documentID string) (cache.DraftState, int, bool, error) {
	return s.cache.FetchDraft(ctx, documentID)
}

func (s *Service) ListVersions(ctx context.Context, documentID string) ([]store.Version, error) {
	return s.store.ListVersions(ctx, documentID)
}

// Commit persists content as an immutable numbered version, mirrors it to
// the git archive, and consumes the cached draft.
func (s *Service) Commit(ctx context.Context, session Session, documentID, content, message string) (store.Version, error) {
	version, err := s.store.CommitVersion(ctx, documentID, content, message, session.UserID, session.Nickname)
	if err != nil {
		return store.Version{}, err
	}
	s.archiveVersion(version)
	if err := s.cache.ClearDraft(ctx, documentID); err != nil {
		log.Printf("clear draft failed doc=%s: %v", documentID, err)
	}
	return version, nil
}

// Rollback restores a prior version's content as a new version and fans the
// restored content out so live editors converge on it.
func (s *Service) Rollback(ctx context.Context, session Session, documentID string, number int) (string, error) {
	prior, err := s.store.GetVersion(ctx, documentID, number)
	if err != nil {
		return "", err
	}
	version, err := s.store.CommitVersion(ctx, documentID, prior.Content,
		fmt.Sprintf("rollback to v%d", number), session.UserID, session.Nickname)
	if err != nil {
		return "", err
	}
	s.archiveVersion(version)
	if err := s.cache.ClearDraft(ctx, documentID); err != nil {
		log.Printf("clear draft failed doc=%s: %v", documentID, err)
	}
	if err := s.broadcast(ctx, documentID, protocol.SaveConfirmedEvent{
		DocumentID: documentID,
		UserID:     session.UserID,
		Nickname:   session.Nickname,
		Content:    prior.Content,
	}); err != nil {
		log.Printf("rollback broadcast failed doc=%s: %v", documentID, err)
	}
	return prior.Content, nil
}

func (s *Service) archiveVersion(version store.Version) {
	if s.archive == nil {
		return
	}
	if _, err := s.archive.ArchiveVersion(version); err != nil {
		log.Printf("archive version failed doc=%s v=%d: %v", version.DocumentID, version.Number, err)
	}
}

func (s *Service) ListComments(ctx context.Context, documentID string) ([]store.Comment, error) {
	return s.store.ListComments(ctx, documentID)
}

// CreateComment persists a comment and signals its existence on the topic;
// the event carries only the id, receivers refetch the list.
func (s *Service) CreateComment(ctx context.Context, session Session, documentID, body string) (store.Comment, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return store.Comment{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	comment, err := s.store.InsertComment(ctx, documentID, session.UserID, session.Nickname, body)
	if err != nil {
		return store.Comment{}, err
	}
	if err := s.broadcast(ctx, documentID, protocol.CommentEvent{
		DocumentID: documentID,
		UserID:     session.UserID,
		CommentID:  comment.ID,
	}); err != nil {
		log.Printf("comment broadcast failed doc=%s: %v", documentID, err)
	}
	return comment, nil
}

// ChatHistory decodes the retained chat frames, skipping any that fail to
// parse.
func (s *Service) ChatHistory(ctx context.Context, documentID string) ([]protocol.ChatEvent, error) {
	frames, err := s.cache.ChatHistory(ctx, documentID)
	if err != nil {
		return nil, err
	}
	entries := make([]protocol.ChatEvent, 0, len(frames))
	for _, frame := range frames {
		event, err := protocol.DecodeEvent(frame)
		if err != nil {
			continue
		}
		if chat, ok := event.(protocol.ChatEvent); ok {
			entries = append(entries, chat)
		}
	}
	return entries, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string, limit int) ([]store.User, error) {
	return s.store.SearchUsers(ctx, query, limit)
}
