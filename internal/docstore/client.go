// Package docstore is the HTTP client for the external document
// collaborators: document metadata/content, the shared draft cache, version
// history, commit and rollback, comments, chat history, and user search.
// The channel core treats all of these as opaque request/response calls.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Document struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	CurrentVersion int       `json:"currentVersion"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Draft is the server-cached uncommitted content for a document.
// TTLSeconds is the remaining cache lifetime at fetch time; -1 when the
// cache reported none.
type Draft struct {
	Content    string `json:"content"`
	SavedBy    string `json:"savedBy"`
	TTLSeconds int    `json:"ttlSeconds"`
	Found      bool   `json:"found"`
}

type Version struct {
	DocumentID string    `json:"documentId"`
	Number     int       `json:"number"`
	Content    string    `json:"content"`
	Message    string    `json:"message"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Comment struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ChatEntry struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	Content  string `json:"content"`
}

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// APIError is a non-2xx response decoded from the collaborator's error
// envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) FetchDocument(ctx context.Context, documentID string) (Document, error) {
	var doc Document
	err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(documentID), nil, &doc)
	return doc, err
}

func (c *Client) FetchDraft(ctx context.Context, documentID string) (Draft, error) {
	var draft Draft
	err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(documentID)+"/draft", nil, &draft)
	if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusNotFound {
		return Draft{TTLSeconds: -1}, nil
	}
	return draft, err
}

func (c *Client) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	var versions []Version
	err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(documentID)+"/versions", nil, &versions)
	return versions, err
}

// Commit snapshots content as a new immutable version with a message.
func (c *Client) Commit(ctx context.Context, documentID, content, message string) (Version, error) {
	body := map[string]string{"content": content, "message": message}
	var version Version
	err := c.do(ctx, http.MethodPost, "/api/documents/"+url.PathEscape(documentID)+"/versions", body, &version)
	return version, err
}

// Rollback replaces current content with a prior version's content and
// returns the restored content.
func (c *Client) Rollback(ctx context.Context, documentID string, version int) (string, error) {
	body := map[string]int{"version": version}
	var out struct {
		Content string `json:"content"`
	}
	err := c.do(ctx, http.MethodPost, "/api/documents/"+url.PathEscape(documentID)+"/rollback", body, &out)
	return out.Content, err
}

func (c *Client) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	var comments []Comment
	err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(documentID)+"/comments", nil, &comments)
	return comments, err
}

func (c *Client) CreateComment(ctx context.Context, documentID, body string) (Comment, error) {
	payload := map[string]string{"body": body}
	var comment Comment
	err := c.do(ctx, http.MethodPost, "/api/documents/"+url.PathEscape(documentID)+"/comments", payload, &comment)
	return comment, err
}

// FetchChatHistory returns recent chat for a document, oldest first.
func (c *Client) FetchChatHistory(ctx context.Context, documentID string) ([]ChatEntry, error) {
	var entries []ChatEntry
	err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(documentID)+"/chat", nil, &entries)
	return entries, err
}

func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	var users []User
	err := c.do(ctx, http.MethodGet, "/api/users/search?q="+url.QueryEscape(query), nil, &users)
	return users, err
}

func (c *Client) do(ctx context.Context, method, path string, body, target any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var envelope struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		if envelope.Code == "" {
			envelope.Code = "SERVER_ERROR"
		}
		return &APIError{Status: resp.StatusCode, Code: envelope.Code, Message: envelope.Error}
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
