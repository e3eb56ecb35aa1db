package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastSeenAt   time.Time
}

type Workspace struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	IsDefault   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkspaceAccess is a workspace seen through one user's membership.
type WorkspaceAccess struct {
	Workspace
	AccessLevel string
	ChatCount   int
}

type WorkspaceMember struct {
	WorkspaceID string
	UserID      string
	DisplayName string
	Email       string
	AccessLevel string
	AddedAt     time.Time
}

type Chat struct {
	ID            string
	UserID        string
	WorkspaceID   string
	Title         string
	MessageCount  int
	LastMessageAt *time.Time
	IsArchived    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChatSummary is a chat row in history listings.
type ChatSummary struct {
	Chat
	LastMessage string
}

type ChatFilter struct {
	UserID      string
	WorkspaceID string
	Archived    bool
	Limit       int
	Offset      int
}

type Message struct {
	ID         string
	ChatID     string
	UserID     string
	Role       string
	Content    string
	Model      string
	TokensUsed int
	IsError    bool
	CreatedAt  time.Time
}

type MessageAction struct {
	ID        string
	MessageID string
	UserID    string
	Action    string
	CreatedAt time.Time
}

// Bookmark is a bookmarked message joined with its chat.
type Bookmark struct {
	MessageID    string
	ChatID       string
	ChatTitle    string
	WorkspaceID  string
	Role         string
	Content      string
	MessageAt    time.Time
	BookmarkedAt time.Time
}

type File struct {
	ID          string
	UserID      string
	WorkspaceID string
	ChatID      string
	MessageID   string
	FileName    string
	ContentType string
	SizeBytes   int64
	BlobName    string
	CreatedAt   time.Time
}

// MessageHit is a message search result restricted to chats the caller can see.
type MessageHit struct {
	MessageID   string
	ChatID      string
	ChatTitle   string
	WorkspaceID string
	Role        string
	Content     string
	CreatedAt   time.Time
}
