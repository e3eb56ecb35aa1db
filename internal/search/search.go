package search

import "time"

// Result is a single message hit returned to the caller.
type Result struct {
	MessageID   string    `json:"messageId"`
	ChatID      string    `json:"chatId"`
	ChatTitle   string    `json:"chatTitle"`
	WorkspaceID string    `json:"workspaceId,omitempty"`
	Role        string    `json:"role"`
	Snippet     string    `json:"snippet"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Query describes a search request. Results are restricted to chats owned by
// UserID or living in one of MemberOf.
type Query struct {
	Text        string
	UserID      string
	MemberOf    []string
	WorkspaceID string
	Limit       int
	Offset      int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID          string `json:"id"`
	ChatID      string `json:"chatId"`
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	CreatedAt   int64  `json:"createdAt"`
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
