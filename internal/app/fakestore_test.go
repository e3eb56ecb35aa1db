package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"aiva/api/internal/store"
)

type refreshRecord struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

// fakeStore keeps every table in memory and mirrors the Postgres store's
// visibility, cascade and not-found behavior.
type fakeStore struct {
	mu sync.Mutex

	pingFn func(context.Context) error

	seq        int
	users      map[string]store.User
	refresh    map[string]refreshRecord
	revoked    map[string]time.Time
	workspaces map[string]store.Workspace
	members    map[string]map[string]store.WorkspaceMember
	chats      map[string]store.Chat
	messages   []store.Message
	actions    []store.MessageAction
	files      map[string]store.File
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      map[string]store.User{},
		refresh:    map[string]refreshRecord{},
		revoked:    map[string]time.Time{},
		workspaces: map[string]store.Workspace{},
		members:    map[string]map[string]store.WorkspaceMember{},
		chats:      map[string]store.Chat{},
		files:      map[string]store.File{},
	}
}

var fakeEpoch = time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)

// tick returns strictly increasing timestamps so ordering is deterministic.
func (f *fakeStore) tick() time.Time {
	f.seq++
	return fakeEpoch.Add(time.Duration(f.seq) * time.Second)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Users

func (f *fakeStore) EnsureUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureUserLocked(user), nil
}

func (f *fakeStore) ensureUserLocked(user store.User) store.User {
	now := f.tick()
	if existing, ok := f.users[user.ID]; ok {
		existing.LastSeenAt = now
		f.users[user.ID] = existing
		return existing
	}
	user.CreatedAt, user.UpdatedAt, user.LastSeenAt = now, now, now
	f.users[user.ID] = user
	return user
}

func (f *fakeStore) EnsureUserByName(_ context.Context, id, name string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.DisplayName == name && user.Email == "" {
			return user, nil
		}
	}
	return f.ensureUserLocked(store.User{ID: id, DisplayName: name}), nil
}

func (f *fakeStore) EnsureUserByEmail(_ context.Context, id, email, name string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.userByEmailLocked(email); ok {
		return user, nil
	}
	return f.ensureUserLocked(store.User{ID: id, DisplayName: name, Email: email}), nil
}

func (f *fakeStore) userByEmailLocked(email string) (store.User, bool) {
	for _, user := range f.users {
		if user.Email != "" && strings.EqualFold(user.Email, email) {
			return user, true
		}
	}
	return store.User{}, false
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.userByEmailLocked(email)
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.ID]; ok {
		return errors.New("duplicate user id")
	}
	if _, ok := f.userByEmailLocked(user.Email); ok {
		return errors.New("duplicate email")
	}
	now := f.tick()
	user.CreatedAt, user.UpdatedAt, user.LastSeenAt = now, now, now
	f.users[user.ID] = user
	return nil
}

// Tokens

func (f *fakeStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[tokenHash] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (f *fakeStore) LookupRefreshSession(_ context.Context, tokenHash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.refresh[tokenHash]
	if !ok || record.revoked || !record.expiresAt.After(time.Now()) {
		return store.User{}, sql.ErrNoRows
	}
	user, ok := f.users[record.userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if record, ok := f.refresh[tokenHash]; ok {
		record.revoked = true
		f.refresh[tokenHash] = record
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = exp
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.revoked[jti]
	return ok, nil
}

// Workspaces

func (f *fakeStore) GetWorkspace(_ context.Context, workspaceID string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[workspaceID]
	if !ok {
		return store.Workspace{}, sql.ErrNoRows
	}
	return ws, nil
}

func (f *fakeStore) GetDefaultWorkspace(_ context.Context, userID string) (store.Workspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ws := range f.workspaces {
		if ws.OwnerID == userID && ws.IsDefault {
			return ws, nil
		}
	}
	return store.Workspace{}, sql.ErrNoRows
}

func (f *fakeStore) CreateWorkspace(_ context.Context, ws store.Workspace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workspaces[ws.ID]; ok {
		return errors.New("duplicate workspace id")
	}
	now := f.tick()
	ws.CreatedAt, ws.UpdatedAt = now, now
	f.workspaces[ws.ID] = ws
	f.upsertMemberLocked(ws.ID, ws.OwnerID, "owner")
	return nil
}

func (f *fakeStore) UpdateWorkspace(_ context.Context, workspaceID, name, description string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ws, ok := f.workspaces[workspaceID]
	if !ok {
		return sql.ErrNoRows
	}
	ws.Name, ws.Description, ws.UpdatedAt = name, description, f.tick()
	f.workspaces[workspaceID] = ws
	return nil
}

func (f *fakeStore) DeleteWorkspace(_ context.Context, workspaceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workspaces[workspaceID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.workspaces, workspaceID)
	delete(f.members, workspaceID)
	for id, chat := range f.chats {
		if chat.WorkspaceID == workspaceID {
			chat.WorkspaceID = ""
			f.chats[id] = chat
		}
	}
	for id, file := range f.files {
		if file.WorkspaceID == workspaceID {
			file.WorkspaceID = ""
			f.files[id] = file
		}
	}
	return nil
}

func (f *fakeStore) ListWorkspacesForUser(_ context.Context, userID string) ([]store.WorkspaceAccess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.WorkspaceAccess, 0)
	for wsID, members := range f.members {
		member, ok := members[userID]
		if !ok {
			continue
		}
		count := 0
		for _, chat := range f.chats {
			if chat.WorkspaceID == wsID && !chat.IsArchived {
				count++
			}
		}
		items = append(items, store.WorkspaceAccess{
			Workspace:   f.workspaces[wsID],
			AccessLevel: member.AccessLevel,
			ChatCount:   count,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDefault != items[j].IsDefault {
			return items[i].IsDefault
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (f *fakeStore) GetAccessLevel(_ context.Context, workspaceID, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	member, ok := f.members[workspaceID][userID]
	if !ok {
		return "", sql.ErrNoRows
	}
	return member.AccessLevel, nil
}

func (f *fakeStore) ListWorkspaceMembers(_ context.Context, workspaceID string) ([]store.WorkspaceMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.WorkspaceMember, 0)
	for userID, member := range f.members[workspaceID] {
		user := f.users[userID]
		member.DisplayName, member.Email = user.DisplayName, user.Email
		items = append(items, member)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].AddedAt.Before(items[j].AddedAt) })
	return items, nil
}

func (f *fakeStore) UpsertWorkspaceMember(_ context.Context, workspaceID, userID, accessLevel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertMemberLocked(workspaceID, userID, accessLevel)
	return nil
}

func (f *fakeStore) upsertMemberLocked(workspaceID, userID, accessLevel string) {
	if f.members[workspaceID] == nil {
		f.members[workspaceID] = map[string]store.WorkspaceMember{}
	}
	member, ok := f.members[workspaceID][userID]
	if !ok {
		member = store.WorkspaceMember{WorkspaceID: workspaceID, UserID: userID, AddedAt: f.tick()}
	}
	member.AccessLevel = accessLevel
	f.members[workspaceID][userID] = member
}

func (f *fakeStore) RemoveWorkspaceMember(_ context.Context, workspaceID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.members[workspaceID][userID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.members[workspaceID], userID)
	return nil
}

// Chats

func (f *fakeStore) InsertChat(_ context.Context, chat store.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := f.tick()
	chat.CreatedAt, chat.UpdatedAt = now, now
	f.chats[chat.ID] = chat
	return nil
}

func (f *fakeStore) GetChat(_ context.Context, chatID string) (store.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return store.Chat{}, sql.ErrNoRows
	}
	return chat, nil
}

func (f *fakeStore) UpdateChat(_ context.Context, chat store.Chat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.chats[chat.ID]
	if !ok {
		return sql.ErrNoRows
	}
	existing.Title, existing.WorkspaceID, existing.IsArchived = chat.Title, chat.WorkspaceID, chat.IsArchived
	existing.UpdatedAt = f.tick()
	f.chats[chat.ID] = existing
	return nil
}

func (f *fakeStore) RecordChatActivity(_ context.Context, chatID string, added int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	chat, ok := f.chats[chatID]
	if !ok {
		return nil
	}
	chat.MessageCount += added
	chat.LastMessageAt = &at
	chat.UpdatedAt = at
	f.chats[chatID] = chat
	return nil
}

func (f *fakeStore) DeleteChat(_ context.Context, chatID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chats[chatID]; !ok {
		return sql.ErrNoRows
	}
	f.deleteChatLocked(chatID)
	return nil
}

func (f *fakeStore) deleteChatLocked(chatID string) {
	delete(f.chats, chatID)
	removed := map[string]bool{}
	kept := f.messages[:0]
	for _, msg := range f.messages {
		if msg.ChatID == chatID {
			removed[msg.ID] = true
			continue
		}
		kept = append(kept, msg)
	}
	f.messages = kept
	actions := f.actions[:0]
	for _, action := range f.actions {
		if !removed[action.MessageID] {
			actions = append(actions, action)
		}
	}
	f.actions = actions
	for id, file := range f.files {
		if file.ChatID == chatID {
			file.ChatID, file.MessageID = "", ""
			f.files[id] = file
		}
	}
}

func (f *fakeStore) DeleteChats(_ context.Context, userID, workspaceID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0)
	for id, chat := range f.chats {
		if chat.UserID == userID && (workspaceID == "" || chat.WorkspaceID == workspaceID) {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		f.deleteChatLocked(id)
	}
	return ids, nil
}

// visibleLocked mirrors the SQL rule: own chats plus chats in workspaces the user belongs to.
func (f *fakeStore) visibleLocked(chat store.Chat, userID string) bool {
	if chat.UserID == userID {
		return true
	}
	_, member := f.members[chat.WorkspaceID][userID]
	return chat.WorkspaceID != "" && member
}

func (f *fakeStore) ListChats(_ context.Context, filter store.ChatFilter) ([]store.ChatSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.ChatSummary, 0)
	for _, chat := range f.chats {
		if !f.visibleLocked(chat, filter.UserID) {
			continue
		}
		if filter.WorkspaceID != "" && chat.WorkspaceID != filter.WorkspaceID {
			continue
		}
		if chat.IsArchived != filter.Archived {
			continue
		}
		summary := store.ChatSummary{Chat: chat}
		for _, msg := range f.messages {
			if msg.ChatID == chat.ID {
				summary.LastMessage = msg.Content
			}
		}
		items = append(items, summary)
	}
	activity := func(chat store.Chat) time.Time {
		if chat.LastMessageAt != nil {
			return *chat.LastMessageAt
		}
		return chat.CreatedAt
	}
	sort.Slice(items, func(i, j int) bool { return activity(items[i].Chat).After(activity(items[j].Chat)) })
	if filter.Offset >= len(items) {
		return []store.ChatSummary{}, nil
	}
	items = items[filter.Offset:]
	if filter.Limit > 0 && len(items) > filter.Limit {
		items = items[:filter.Limit]
	}
	return items, nil
}

// Messages

func (f *fakeStore) InsertMessage(_ context.Context, msg store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.chats[msg.ChatID]; !ok {
		return errors.New("insert message: chat does not exist")
	}
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) GetMessage(_ context.Context, messageID string) (store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, msg := range f.messages {
		if msg.ID == messageID {
			return msg, nil
		}
	}
	return store.Message{}, sql.ErrNoRows
}

func (f *fakeStore) ListMessages(_ context.Context, chatID string, limit int) ([]store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Message, 0)
	for _, msg := range f.messages {
		if msg.ChatID == chatID {
			items = append(items, msg)
		}
	}
	if limit > 0 && len(items) > limit {
		items = items[len(items)-limit:]
	}
	return items, nil
}

// Message actions

func (f *fakeStore) ListMessageActions(_ context.Context, messageID, userID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := make([]string, 0)
	for _, action := range f.actions {
		if action.MessageID == messageID && action.UserID == userID {
			actions = append(actions, action.Action)
		}
	}
	sort.Strings(actions)
	return actions, nil
}

func (f *fakeStore) ListChatActions(_ context.Context, chatID, userID string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inChat := map[string]bool{}
	for _, msg := range f.messages {
		if msg.ChatID == chatID {
			inChat[msg.ID] = true
		}
	}
	actions := map[string][]string{}
	for _, action := range f.actions {
		if inChat[action.MessageID] && action.UserID == userID {
			actions[action.MessageID] = append(actions[action.MessageID], action.Action)
		}
	}
	return actions, nil
}

func (f *fakeStore) SetMessageAction(_ context.Context, action store.MessageAction, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	remove := map[string]bool{}
	if !active {
		remove[action.Action] = true
	} else {
		switch action.Action {
		case "like":
			remove["dislike"] = true
		case "dislike":
			remove["like"] = true
		}
	}
	kept := f.actions[:0]
	exists := false
	for _, existing := range f.actions {
		if existing.MessageID == action.MessageID && existing.UserID == action.UserID {
			if remove[existing.Action] {
				continue
			}
			if existing.Action == action.Action {
				exists = true
			}
		}
		kept = append(kept, existing)
	}
	f.actions = kept
	if active && !exists {
		action.CreatedAt = f.tick()
		f.actions = append(f.actions, action)
	}
	return nil
}

func (f *fakeStore) ListBookmarks(_ context.Context, userID, workspaceID string) ([]store.Bookmark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Bookmark, 0)
	for _, action := range f.actions {
		if action.UserID != userID || action.Action != "bookmark" {
			continue
		}
		for _, msg := range f.messages {
			if msg.ID != action.MessageID {
				continue
			}
			chat := f.chats[msg.ChatID]
			if !f.visibleLocked(chat, userID) {
				continue
			}
			if workspaceID != "" && chat.WorkspaceID != workspaceID {
				continue
			}
			items = append(items, store.Bookmark{
				MessageID:    msg.ID,
				ChatID:       chat.ID,
				ChatTitle:    chat.Title,
				WorkspaceID:  chat.WorkspaceID,
				Role:         msg.Role,
				Content:      msg.Content,
				MessageAt:    msg.CreatedAt,
				BookmarkedAt: action.CreatedAt,
			})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].BookmarkedAt.After(items[j].BookmarkedAt) })
	return items, nil
}

// Files

func (f *fakeStore) InsertFile(_ context.Context, file store.File) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	file.CreatedAt = f.tick()
	f.files[file.ID] = file
	return nil
}

func (f *fakeStore) GetFile(_ context.Context, fileID string) (store.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[fileID]
	if !ok {
		return store.File{}, sql.ErrNoRows
	}
	return file, nil
}

func (f *fakeStore) ListFiles(_ context.Context, userID, chatID string) ([]store.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.File, 0)
	for _, file := range f.files {
		if file.UserID == userID && (chatID == "" || file.ChatID == chatID) {
			items = append(items, file)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (f *fakeStore) ListChatFiles(_ context.Context, chatIDs []string) ([]store.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := map[string]bool{}
	for _, id := range chatIDs {
		wanted[id] = true
	}
	items := make([]store.File, 0)
	for _, file := range f.files {
		if wanted[file.ChatID] {
			items = append(items, file)
		}
	}
	return items, nil
}

func (f *fakeStore) AttachFiles(_ context.Context, fileIDs []string, chatID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range fileIDs {
		if file, ok := f.files[id]; ok {
			file.ChatID, file.MessageID = chatID, messageID
			f.files[id] = file
		}
	}
	return nil
}

func (f *fakeStore) DeleteFile(_ context.Context, fileID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.files[fileID]; !ok {
		return sql.ErrNoRows
	}
	delete(f.files, fileID)
	return nil
}

func (f *fakeStore) DeleteFiles(_ context.Context, fileIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range fileIDs {
		delete(f.files, id)
	}
	return nil
}

func (f *fakeStore) messageCount(chatID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, msg := range f.messages {
		if msg.ChatID == chatID {
			count++
		}
	}
	return count
}
