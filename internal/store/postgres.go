package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a document, version, or user does not exist.
var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, current_version, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, title, content string) (Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (title, content)
		VALUES ($1, $2)
		RETURNING id, title, content, current_version, created_at, updated_at
	`, title, content).Scan(&doc.ID, &doc.Title, &doc.Content, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, current_version, created_at, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content, &doc.CurrentVersion, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

// CommitVersion persists draft content as the document's next numbered
// version and updates the document row to match. Commits are serialized
// per document by the row lock on documents.
func (s *PostgresStore) CommitVersion(ctx context.Context, documentID, content, message, authorID, authorName string) (Version, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Version{}, fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx, `SELECT current_version FROM documents WHERE id=$1 FOR UPDATE`, documentID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("lock document: %w", err)
	}

	var version Version
	err = tx.QueryRowContext(ctx, `
		INSERT INTO document_versions (document_id, number, content, message, author_id, author_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING document_id, number, content, message, author_id, author_name, created_at
	`, documentID, current+1, content, message, authorID, authorName).Scan(
		&version.DocumentID, &version.Number, &version.Content, &version.Message,
		&version.AuthorID, &version.AuthorName, &version.CreatedAt)
	if err != nil {
		return Version{}, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET content=$2, current_version=$3, updated_at=NOW() WHERE id=$1
	`, documentID, content, version.Number); err != nil {
		return Version{}, fmt.Errorf("update document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Version{}, fmt.Errorf("commit tx: %w", err)
	}
	return version, nil
}

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, number, content, message, author_id, author_name, created_at
		FROM document_versions
		WHERE document_id=$1
		ORDER BY number DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var v Version
		if err := rows.Scan(&v.DocumentID, &v.Number, &v.Content, &v.Message, &v.AuthorID, &v.AuthorName, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, number int) (Version, error) {
	var v Version
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, number, content, message, author_id, author_name, created_at
		FROM document_versions
		WHERE document_id=$1 AND number=$2
	`, documentID, number).Scan(&v.DocumentID, &v.Number, &v.Content, &v.Message, &v.AuthorID, &v.AuthorName, &v.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("get version: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, user_id, nickname, content, created_at
		FROM comments
		WHERE document_id=$1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.UserID, &c.Nickname, &c.Content, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, documentID, userID, nickname, content string) (Comment, error) {
	var c Comment
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO comments (document_id, user_id, nickname, content)
		VALUES ($1, $2, $3, $4)
		RETURNING id, document_id, user_id, nickname, content, created_at
	`, documentID, userID, nickname, content).Scan(&c.ID, &c.DocumentID, &c.UserID, &c.Nickname, &c.Content, &c.CreatedAt)
	if err != nil {
		return Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) EnsureUser(ctx context.Context, userID, displayName string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name=EXCLUDED.display_name
		RETURNING id, display_name, created_at
	`, userID, displayName).Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

// likeEscaper neutralizes LIKE metacharacters in user input, so a search for
// "%" matches a literal percent sign instead of every row.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]User, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, created_at
		FROM users
		WHERE display_name ILIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY display_name ASC
		LIMIT $2
	`, likeEscaper.Replace(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.DisplayName, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}
