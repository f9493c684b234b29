package store

import "time"

type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

type Document struct {
	ID             string
	Title          string
	Content        string
	CurrentVersion int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Version struct {
	DocumentID string
	Number     int
	Content    string
	Message    string
	AuthorID   string
	AuthorName string
	CreatedAt  time.Time
}

type Comment struct {
	ID         string
	DocumentID string
	UserID     string
	Nickname   string
	Content    string
	CreatedAt  time.Time
}
