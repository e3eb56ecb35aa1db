package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

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

const userColumns = `id, display_name, COALESCE(email, ''), password_hash, created_at, updated_at, last_seen_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt, &user.LastSeenAt)
	return user, err
}

// EnsureUser upserts a user row by id and refreshes last_seen_at.
func (s *PostgresStore) EnsureUser(ctx context.Context, user User) (User, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, display_name, email)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE SET last_seen_at = NOW()
		RETURNING `+userColumns,
		user.ID, user.DisplayName, user.Email)
	ensured, err := scanUser(row)
	if err != nil {
		return User{}, fmt.Errorf("ensure user: %w", err)
	}
	return ensured, nil
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, id, name string) (User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE display_name = $1 AND email IS NULL ORDER BY created_at LIMIT 1`, name))
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return s.EnsureUser(ctx, User{ID: id, DisplayName: name})
}

func (s *PostgresStore) EnsureUserByEmail(ctx context.Context, id, email, name string) (User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, err
	}
	return s.EnsureUser(ctx, User{ID: id, DisplayName: name, Email: email})
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email))
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT u.id, u.display_name, COALESCE(u.email, ''), u.password_hash, u.created_at, u.updated_at, u.last_seen_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash))
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Workspaces

const workspaceColumns = `w.id, w.name, w.description, w.owner_id, w.is_default, w.created_at, w.updated_at`

func scanWorkspace(row interface{ Scan(...any) error }, extra ...any) (Workspace, error) {
	var ws Workspace
	dest := append([]any{&ws.ID, &ws.Name, &ws.Description, &ws.OwnerID, &ws.IsDefault, &ws.CreatedAt, &ws.UpdatedAt}, extra...)
	err := row.Scan(dest...)
	return ws, err
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, workspaceID string) (Workspace, error) {
	return scanWorkspace(s.db.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces w WHERE w.id = $1`, workspaceID))
}

func (s *PostgresStore) GetDefaultWorkspace(ctx context.Context, userID string) (Workspace, error) {
	return scanWorkspace(s.db.QueryRowContext(ctx, `
		SELECT `+workspaceColumns+`
		FROM workspaces w
		WHERE w.owner_id = $1 AND w.is_default
	`, userID))
}

// CreateWorkspace inserts the workspace and the owner's membership in one transaction.
func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws Workspace) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin workspace tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, description, owner_id, is_default)
		VALUES ($1, $2, $3, $4, $5)
	`, ws.ID, ws.Name, ws.Description, ws.OwnerID, ws.IsDefault); err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, access_level)
		VALUES ($1, $2, 'owner')
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET access_level = 'owner'
	`, ws.ID, ws.OwnerID); err != nil {
		return fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit workspace: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, workspaceID, name, description string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE workspaces SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
	`, workspaceID, name, description)
	if err != nil {
		return fmt.Errorf("update workspace: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, workspaceID)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) ListWorkspacesForUser(ctx context.Context, userID string) ([]WorkspaceAccess, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+workspaceColumns+`, wm.access_level,
			(SELECT COUNT(*) FROM chats c WHERE c.workspace_id = w.id AND NOT c.is_archived) AS chat_count
		FROM workspaces w
		JOIN workspace_members wm ON wm.workspace_id = w.id
		WHERE wm.user_id = $1
		ORDER BY w.is_default DESC, w.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceAccess, 0)
	for rows.Next() {
		var item WorkspaceAccess
		ws, err := scanWorkspace(rows, &item.AccessLevel, &item.ChatCount)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		item.Workspace = ws
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return items, nil
}

// GetAccessLevel returns sql.ErrNoRows when the user is not a member.
func (s *PostgresStore) GetAccessLevel(ctx context.Context, workspaceID, userID string) (string, error) {
	var level string
	err := s.db.QueryRowContext(ctx, `
		SELECT access_level FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID).Scan(&level)
	if err != nil {
		return "", err
	}
	return level, nil
}

func (s *PostgresStore) ListWorkspaceMembers(ctx context.Context, workspaceID string) ([]WorkspaceMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT wm.workspace_id, wm.user_id, u.display_name, COALESCE(u.email, ''), wm.access_level, wm.added_at
		FROM workspace_members wm
		JOIN users u ON u.id = wm.user_id
		WHERE wm.workspace_id = $1
		ORDER BY CASE wm.access_level WHEN 'owner' THEN 0 WHEN 'member' THEN 1 ELSE 2 END, u.display_name
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	items := make([]WorkspaceMember, 0)
	for rows.Next() {
		var item WorkspaceMember
		if err := rows.Scan(&item.WorkspaceID, &item.UserID, &item.DisplayName, &item.Email, &item.AccessLevel, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertWorkspaceMember(ctx context.Context, workspaceID, userID, accessLevel string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, access_level)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET access_level = EXCLUDED.access_level
	`, workspaceID, userID, accessLevel)
	if err != nil {
		return fmt.Errorf("upsert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveWorkspaceMember(ctx context.Context, workspaceID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return requireAffected(result)
}

// Chats

const chatColumns = `c.id, c.user_id, COALESCE(c.workspace_id, ''), c.title, c.message_count, c.last_message_at, c.is_archived, c.created_at, c.updated_at`

func scanChat(row interface{ Scan(...any) error }, extra ...any) (Chat, error) {
	var chat Chat
	var lastMessageAt sql.NullTime
	dest := append([]any{&chat.ID, &chat.UserID, &chat.WorkspaceID, &chat.Title, &chat.MessageCount, &lastMessageAt, &chat.IsArchived, &chat.CreatedAt, &chat.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Chat{}, err
	}
	if lastMessageAt.Valid {
		value := lastMessageAt.Time
		chat.LastMessageAt = &value
	}
	return chat, nil
}

func (s *PostgresStore) InsertChat(ctx context.Context, chat Chat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_id, workspace_id, title)
		VALUES ($1, $2, NULLIF($3, ''), $4)
	`, chat.ID, chat.UserID, chat.WorkspaceID, chat.Title)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (Chat, error) {
	return scanChat(s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id = $1`, chatID))
}

func (s *PostgresStore) UpdateChat(ctx context.Context, chat Chat) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE chats
		SET title = $2, workspace_id = NULLIF($3, ''), is_archived = $4, updated_at = NOW()
		WHERE id = $1
	`, chat.ID, chat.Title, chat.WorkspaceID, chat.IsArchived)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	return requireAffected(result)
}

// RecordChatActivity bumps the message counter and activity timestamps.
func (s *PostgresStore) RecordChatActivity(ctx context.Context, chatID string, added int, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE chats
		SET message_count = message_count + $2, last_message_at = $3, updated_at = $3
		WHERE id = $1
	`, chatID, added, at)
	if err != nil {
		return fmt.Errorf("record chat activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteChat(ctx context.Context, chatID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = $1`, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return requireAffected(result)
}

// DeleteChats removes every chat owned by userID, optionally within one workspace.
func (s *PostgresStore) DeleteChats(ctx context.Context, userID, workspaceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		DELETE FROM chats
		WHERE user_id = $1 AND ($2 = '' OR workspace_id = $2)
		RETURNING id
	`, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("delete chats: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan deleted chat: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deleted chats: %w", err)
	}
	return ids, nil
}

// ListChats returns chats owned by the user or living in one of their workspaces.
func (s *PostgresStore) ListChats(ctx context.Context, filter ChatFilter) ([]ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chatColumns+`,
			COALESCE((SELECT m.content FROM messages m WHERE m.chat_id = c.id ORDER BY m.created_at DESC LIMIT 1), '')
		FROM chats c
		WHERE (c.user_id = $1 OR c.workspace_id IN (SELECT workspace_id FROM workspace_members WHERE user_id = $1))
			AND ($2 = '' OR c.workspace_id = $2)
			AND c.is_archived = $3
		ORDER BY COALESCE(c.last_message_at, c.created_at) DESC
		LIMIT $4 OFFSET $5
	`, filter.UserID, filter.WorkspaceID, filter.Archived, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	items := make([]ChatSummary, 0)
	for rows.Next() {
		var item ChatSummary
		chat, err := scanChat(rows, &item.LastMessage)
		if err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		item.Chat = chat
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}
	return items, nil
}

// Messages

const messageColumns = `m.id, m.chat_id, m.user_id, m.role, m.content, m.model, m.tokens_used, m.is_error, m.created_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var msg Message
	err := row.Scan(&msg.ID, &msg.ChatID, &msg.UserID, &msg.Role, &msg.Content, &msg.Model, &msg.TokensUsed, &msg.IsError, &msg.CreatedAt)
	return msg, err
}

func (s *PostgresStore) InsertMessage(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, chat_id, user_id, role, content, model, tokens_used, is_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, msg.ID, msg.ChatID, msg.UserID, msg.Role, msg.Content, msg.Model, msg.TokensUsed, msg.IsError, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	return scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages m WHERE m.id = $1`, messageID))
}

// ListMessages returns the chat's messages oldest first. A positive limit keeps only the latest ones.
func (s *PostgresStore) ListMessages(ctx context.Context, chatID string, limit int) ([]Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.chat_id = $1 ORDER BY m.created_at ASC, m.id ASC`
	args := []any{chatID}
	if limit > 0 {
		query = `SELECT * FROM (
			SELECT ` + messageColumns + ` FROM messages m WHERE m.chat_id = $1 ORDER BY m.created_at DESC, m.id DESC LIMIT $2
		) recent ORDER BY created_at ASC, id ASC`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// Message actions

func (s *PostgresStore) ListMessageActions(ctx context.Context, messageID, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action FROM message_actions WHERE message_id = $1 AND user_id = $2 ORDER BY action
	`, messageID, userID)
	if err != nil {
		return nil, fmt.Errorf("list message actions: %w", err)
	}
	defer rows.Close()

	actions := make([]string, 0)
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, fmt.Errorf("scan message action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message actions: %w", err)
	}
	return actions, nil
}

// ListChatActions returns the user's actions keyed by message id.
func (s *PostgresStore) ListChatActions(ctx context.Context, chatID, userID string) (map[string][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ma.message_id, ma.action
		FROM message_actions ma
		JOIN messages m ON m.id = ma.message_id
		WHERE m.chat_id = $1 AND ma.user_id = $2
		ORDER BY ma.message_id, ma.action
	`, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("list chat actions: %w", err)
	}
	defer rows.Close()

	actions := make(map[string][]string)
	for rows.Next() {
		var messageID, action string
		if err := rows.Scan(&messageID, &action); err != nil {
			return nil, fmt.Errorf("scan chat action: %w", err)
		}
		actions[messageID] = append(actions[messageID], action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat actions: %w", err)
	}
	return actions, nil
}

// SetMessageAction adds or clears one action. Setting like clears dislike and the reverse.
func (s *PostgresStore) SetMessageAction(ctx context.Context, action MessageAction, active bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin action tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if !active {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM message_actions WHERE message_id = $1 AND user_id = $2 AND action = $3
		`, action.MessageID, action.UserID, action.Action); err != nil {
			return fmt.Errorf("clear message action: %w", err)
		}
		return tx.Commit()
	}

	if opposite := oppositeAction(action.Action); opposite != "" {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM message_actions WHERE message_id = $1 AND user_id = $2 AND action = $3
		`, action.MessageID, action.UserID, opposite); err != nil {
			return fmt.Errorf("clear opposite action: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_actions (id, message_id, user_id, action)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id, action) DO NOTHING
	`, action.ID, action.MessageID, action.UserID, action.Action); err != nil {
		return fmt.Errorf("insert message action: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message action: %w", err)
	}
	return nil
}

func oppositeAction(action string) string {
	switch action {
	case "like":
		return "dislike"
	case "dislike":
		return "like"
	default:
		return ""
	}
}

func (s *PostgresStore) ListBookmarks(ctx context.Context, userID, workspaceID string) ([]Bookmark, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_id, c.title, COALESCE(c.workspace_id, ''), m.role, m.content, m.created_at, ma.created_at
		FROM message_actions ma
		JOIN messages m ON m.id = ma.message_id
		JOIN chats c ON c.id = m.chat_id
		WHERE ma.user_id = $1 AND ma.action = 'bookmark'
			AND (c.user_id = $1 OR c.workspace_id IN (SELECT workspace_id FROM workspace_members WHERE user_id = $1))
			AND ($2 = '' OR c.workspace_id = $2)
		ORDER BY ma.created_at DESC
	`, userID, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	items := make([]Bookmark, 0)
	for rows.Next() {
		var item Bookmark
		if err := rows.Scan(&item.MessageID, &item.ChatID, &item.ChatTitle, &item.WorkspaceID, &item.Role, &item.Content, &item.MessageAt, &item.BookmarkedAt); err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return items, nil
}

// Files

const fileColumns = `f.id, f.user_id, COALESCE(f.workspace_id, ''), COALESCE(f.chat_id, ''), COALESCE(f.message_id, ''), f.file_name, f.content_type, f.size_bytes, f.blob_name, f.created_at`

func scanFile(row interface{ Scan(...any) error }) (File, error) {
	var file File
	err := row.Scan(&file.ID, &file.UserID, &file.WorkspaceID, &file.ChatID, &file.MessageID, &file.FileName, &file.ContentType, &file.SizeBytes, &file.BlobName, &file.CreatedAt)
	return file, err
}

func (s *PostgresStore) InsertFile(ctx context.Context, file File) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, user_id, workspace_id, chat_id, message_id, file_name, content_type, size_bytes, blob_name)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9)
	`, file.ID, file.UserID, file.WorkspaceID, file.ChatID, file.MessageID, file.FileName, file.ContentType, file.SizeBytes, file.BlobName)
	if err != nil {
		return fmt.Errorf("insert file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetFile(ctx context.Context, fileID string) (File, error) {
	return scanFile(s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files f WHERE f.id = $1`, fileID))
}

// ListFiles returns the user's files, optionally limited to one chat.
func (s *PostgresStore) ListFiles(ctx context.Context, userID, chatID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+`
		FROM files f
		WHERE f.user_id = $1 AND ($2 = '' OR f.chat_id = $2)
		ORDER BY f.created_at DESC
	`, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func (s *PostgresStore) ListChatFiles(ctx context.Context, chatIDs []string) ([]File, error) {
	if len(chatIDs) == 0 {
		return []File{}, nil
	}
	placeholders := make([]string, len(chatIDs))
	args := make([]any, len(chatIDs))
	for i, id := range chatIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+fileColumns+` FROM files f WHERE f.chat_id IN (`+strings.Join(placeholders, ", ")+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("list chat files: %w", err)
	}
	defer rows.Close()
	return collectFiles(rows)
}

func collectFiles(rows *sql.Rows) ([]File, error) {
	items := make([]File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		items = append(items, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return items, nil
}

// AttachFiles links uploaded files to the chat and message they were sent with.
func (s *PostgresStore) AttachFiles(ctx context.Context, fileIDs []string, chatID, messageID string) error {
	for _, id := range fileIDs {
		if _, err := s.db.ExecContext(ctx, `
			UPDATE files SET chat_id = $2, message_id = $3 WHERE id = $1
		`, id, chatID, messageID); err != nil {
			return fmt.Errorf("attach file %s: %w", id, err)
		}
	}
	return nil
}

func (s *PostgresStore) DeleteFile(ctx context.Context, fileID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, fileID)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return requireAffected(result)
}

func (s *PostgresStore) DeleteFiles(ctx context.Context, fileIDs []string) error {
	for _, id := range fileIDs {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete file %s: %w", id, err)
		}
	}
	return nil
}

func requireAffected(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
