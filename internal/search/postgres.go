package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

const visibleChatClause = `(c.user_id = $1 OR c.workspace_id IN (SELECT workspace_id FROM workspace_members WHERE user_id = $1))`

// Postgres searches message content with ILIKE (backed by a trigram index) and
// hydrates ids returned by Meilisearch.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []Result{}, 0, nil
	}
	pattern := "%" + escapeLike(text) + "%"

	where := visibleChatClause + ` AND m.content ILIKE $2 ESCAPE '\' AND ($3 = '' OR c.workspace_id = $3)`

	var total int
	if err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages m JOIN chats c ON c.id = m.chat_id WHERE `+where,
		q.UserID, pattern, q.WorkspaceID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count message search: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, c.title, COALESCE(c.workspace_id, ''), m.role, m.content, m.created_at
		FROM messages m
		JOIN chats c ON c.id = m.chat_id
		WHERE `+where+`
		ORDER BY m.created_at DESC
		LIMIT $4 OFFSET $5`,
		q.UserID, pattern, q.WorkspaceID, normalizeLimit(q.Limit), max(q.Offset, 0))
	if err != nil {
		return nil, 0, fmt.Errorf("message search: %w", err)
	}
	defer rows.Close()

	results, err := scanResults(rows, text)
	if err != nil {
		return nil, 0, err
	}
	return results, total, nil
}

// Hydrate loads the visible messages among ids, keeping the order of ids.
func (p *Postgres) Hydrate(ctx context.Context, userID string, ids []string, query string) ([]Result, error) {
	if len(ids) == 0 {
		return []Result{}, nil
	}
	args := []any{userID}
	placeholders := make([]string, len(ids))
	for i, id := range ids {
		args = append(args, id)
		placeholders[i] = fmt.Sprintf("$%d", i+2)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, c.title, COALESCE(c.workspace_id, ''), m.role, m.content, m.created_at
		FROM messages m
		JOIN chats c ON c.id = m.chat_id
		WHERE `+visibleChatClause+` AND m.id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("hydrate search hits: %w", err)
	}
	defer rows.Close()

	found, err := scanResults(rows, query)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Result, len(found))
	for _, r := range found {
		byID[r.MessageID] = r
	}
	ordered := make([]Result, 0, len(found))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered, nil
}

// LoadAllRecords returns every message for a full reindex.
func (p *Postgres) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, c.user_id, COALESCE(c.workspace_id, ''), m.role, m.content, m.created_at
		FROM messages m
		JOIN chats c ON c.id = m.chat_id
		WHERE NOT m.is_error
	`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	records := make([]MessageRecord, 0)
	for rows.Next() {
		var r MessageRecord
		var createdAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.ChatID, &r.UserID, &r.WorkspaceID, &r.Role, &r.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message record: %w", err)
		}
		if createdAt.Valid {
			r.CreatedAt = createdAt.Time.Unix()
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message records: %w", err)
	}
	return records, nil
}

func scanResults(rows *sql.Rows, query string) ([]Result, error) {
	results := make([]Result, 0)
	for rows.Next() {
		var r Result
		var content string
		if err := rows.Scan(&r.MessageID, &r.ChatID, &r.ChatTitle, &r.WorkspaceID, &r.Role, &content, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		r.Snippet = Snippet(content, query, snippetRunes)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search hits: %w", err)
	}
	return results, nil
}

func escapeLike(value string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(value)
}

const snippetRunes = 160

// Snippet returns about width runes of content centred on the first match of query.
func Snippet(content, query string, width int) string {
	content = strings.Join(strings.Fields(content), " ")
	runes := []rune(content)
	if len(runes) <= width {
		return content
	}

	start := 0
	if matchAt := foldIndex(runes, strings.TrimSpace(query)); matchAt > 0 {
		start = max(matchAt-width/3, 0)
	}
	end := min(start+width, len(runes))
	if end-start < width {
		start = max(end-width, 0)
	}

	snippet := string(runes[start:end])
	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(runes) {
		snippet += "..."
	}
	return snippet
}

// foldIndex returns the rune offset of the first case-insensitive match of query, or -1.
// Case folding is compared rune by rune so offsets always index the original text.
func foldIndex(runes []rune, query string) int {
	needle := []rune(query)
	if len(needle) == 0 || len(needle) > len(runes) {
		return -1
	}
	for i := 0; i+len(needle) <= len(runes); i++ {
		if strings.EqualFold(string(runes[i:i+len(needle)]), query) {
			return i
		}
	}
	return -1
}
