package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"aiva/api/internal/appconfig"
	"aiva/api/internal/blob"
	"aiva/api/internal/extract"
	"aiva/api/internal/llm"
	"aiva/api/internal/rbac"
	"aiva/api/internal/search"
	"aiva/api/internal/store"
	"aiva/api/internal/util"
	"go.uber.org/zap"
)

const (
	// PlaceholderReply is stored as the assistant turn when the model call fails.
	PlaceholderReply = "I'm sorry, I couldn't generate a response. Please try again."

	maxTitleLength   = 50
	defaultChatTitle = "New Chat"
	previewLength    = 120

	defaultHistoryPage = 50
	maxHistoryPage     = 200
)

type SendMessageInput struct {
	Message     string
	ChatID      string
	WorkspaceID string
	FileIDs     []string
}

// SendMessageResult is the outcome of one chat turn. Success is false when the
// model failed and a placeholder reply was stored instead.
type SendMessageResult struct {
	Success          bool
	ChatID           string
	WorkspaceID      string
	IsNewChat        bool
	Chat             store.Chat
	UserMessage      store.Message
	AssistantMessage store.Message
	ErrorMessage     string
}

func (r SendMessageResult) Payload() map[string]any {
	payload := map[string]any{
		"success":          r.Success,
		"chatId":           r.ChatID,
		"workspaceId":      nilIfEmpty(r.WorkspaceID),
		"userMessage":      messagePayload(r.UserMessage, nil),
		"assistantMessage": messagePayload(r.AssistantMessage, nil),
	}
	if r.Success {
		payload["chat"] = chatPayload(r.Chat)
		payload["isNewChat"] = r.IsNewChat
		return payload
	}
	payload["code"] = "LLM_ERROR"
	payload["error"] = r.ErrorMessage
	return payload
}

// SendMessage runs one chat turn: it resolves the workspace and chat, builds the
// prompt from history and attached files, calls the model and stores both sides.
func (s *Service) SendMessage(ctx context.Context, current Session, input SendMessageInput) (SendMessageResult, error) {
	message := strings.TrimSpace(input.Message)
	fileIDs := uniqueIDs(input.FileIDs)
	if message == "" && len(fileIDs) == 0 {
		return SendMessageResult{}, errValidation("message or fileIds is required")
	}
	if s.cfg.MaxMessageChars > 0 && utf8.RuneCountInString(message) > s.cfg.MaxMessageChars {
		return SendMessageResult{}, errValidation(fmt.Sprintf("message must be at most %d characters", s.cfg.MaxMessageChars))
	}

	user, err := s.ensureUser(ctx, current)
	if err != nil {
		return SendMessageResult{}, err
	}

	ws, err := s.resolveWriteWorkspace(ctx, user, input.WorkspaceID)
	if err != nil {
		return SendMessageResult{}, err
	}

	files, err := s.ownedFiles(ctx, user.ID, fileIDs)
	if err != nil {
		return SendMessageResult{}, err
	}

	chat, isNew, history, err := s.resolveChat(ctx, user, ws, input.ChatID, message, files)
	if err != nil {
		return SendMessageResult{}, err
	}

	prompt := s.buildUserTurn(ctx, message, files)

	userMessage := store.Message{
		ID:        util.NewID("msg"),
		ChatID:    chat.ID,
		UserID:    user.ID,
		Role:      llm.RoleUser,
		Content:   message,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, userMessage); err != nil {
		return SendMessageResult{}, err
	}
	if len(files) > 0 {
		if err := s.store.AttachFiles(ctx, fileIDs, chat.ID, userMessage.ID); err != nil {
			return SendMessageResult{}, err
		}
	}

	reply, callErr := s.complete(ctx, history, prompt)

	assistant := store.Message{
		ID:     util.NewID("msg"),
		ChatID: chat.ID,
		UserID: user.ID,
		Role:   llm.RoleAssistant,
	}
	if callErr != nil {
		s.logger.Warn("chat completion failed",
			zap.String("chat_id", chat.ID),
			zap.String("user_id", user.ID),
			zap.Error(callErr),
		)
		assistant.Content = PlaceholderReply
		assistant.Model = s.modelName()
		assistant.IsError = true
	} else {
		assistant.Content = reply.Content
		assistant.Model = reply.Model
		assistant.TokensUsed = reply.TokensUsed
	}
	assistant.CreatedAt = s.now().UTC()
	if !assistant.CreatedAt.After(userMessage.CreatedAt) {
		assistant.CreatedAt = userMessage.CreatedAt.Add(time.Millisecond)
	}

	if err := s.store.InsertMessage(ctx, assistant); err != nil {
		return SendMessageResult{}, err
	}
	if err := s.store.RecordChatActivity(ctx, chat.ID, 2, assistant.CreatedAt); err != nil {
		return SendMessageResult{}, err
	}

	result := SendMessageResult{
		Success:          callErr == nil,
		ChatID:           chat.ID,
		WorkspaceID:      chat.WorkspaceID,
		IsNewChat:        isNew,
		UserMessage:      userMessage,
		AssistantMessage: assistant,
	}
	if callErr != nil {
		result.ErrorMessage = llm.UserFacingError(callErr)
		s.search.IndexMessages(messageRecord(userMessage, chat))
		return result, nil
	}

	s.search.IndexMessages(messageRecord(userMessage, chat), messageRecord(assistant, chat))

	refreshed, err := s.store.GetChat(ctx, chat.ID)
	if err != nil {
		return SendMessageResult{}, err
	}
	result.Chat = refreshed
	return result, nil
}

// resolveWriteWorkspace returns the workspace a new turn is written to. A requested
// workspace that no longer exists falls back to the user's default workspace.
func (s *Service) resolveWriteWorkspace(ctx context.Context, user store.User, workspaceID string) (store.Workspace, error) {
	workspaceID = strings.TrimSpace(workspaceID)
	if workspaceID == "" {
		return s.ensureDefaultWorkspace(ctx, user)
	}
	ws, _, err := s.workspaceAccess(ctx, workspaceID, user.ID, rbac.ActionWrite)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Code == errCodeWorkspaceNotFound {
			s.logger.Warn("requested workspace missing, using default",
				zap.String("workspace_id", workspaceID),
				zap.String("user_id", user.ID),
			)
			return s.ensureDefaultWorkspace(ctx, user)
		}
		return store.Workspace{}, err
	}
	return ws, nil
}

// resolveChat loads or creates the chat for a turn and returns its recent history.
func (s *Service) resolveChat(ctx context.Context, user store.User, ws store.Workspace, chatID, message string, files []store.File) (store.Chat, bool, []store.Message, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		chat := store.Chat{
			ID:          util.NewID("chat"),
			UserID:      user.ID,
			WorkspaceID: ws.ID,
			Title:       chatTitle(message, files),
		}
		if err := s.store.InsertChat(ctx, chat); err != nil {
			return store.Chat{}, false, nil, err
		}
		return chat, true, nil, nil
	}

	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Chat{}, false, nil, errNotFound("chat")
		}
		return store.Chat{}, false, nil, err
	}
	if chat.UserID != user.ID {
		return store.Chat{}, false, nil, errNotFound("chat")
	}
	if chat.WorkspaceID == "" {
		chat.WorkspaceID = ws.ID
		if err := s.store.UpdateChat(ctx, chat); err != nil {
			return store.Chat{}, false, nil, err
		}
		s.logger.Info("reattached chat to workspace", zap.String("chat_id", chat.ID), zap.String("workspace_id", ws.ID))
	}

	limit := s.settings.Int(ctx, appconfig.KeyHistoryLimit, s.cfg.HistoryLimit)
	if limit <= 0 {
		return chat, false, nil, nil
	}
	history, err := s.store.ListMessages(ctx, chat.ID, limit)
	if err != nil {
		return store.Chat{}, false, nil, err
	}
	return chat, false, history, nil
}

func (s *Service) ownedFiles(ctx context.Context, userID string, fileIDs []string) ([]store.File, error) {
	files := make([]store.File, 0, len(fileIDs))
	for _, id := range fileIDs {
		file, err := s.store.GetFile(ctx, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, errNotFound("file")
			}
			return nil, err
		}
		if file.UserID != userID {
			return nil, errNotFound("file")
		}
		files = append(files, file)
	}
	return files, nil
}

// buildUserTurn appends the extracted text of every attached file to the message.
func (s *Service) buildUserTurn(ctx context.Context, message string, files []store.File) string {
	if len(files) == 0 {
		return message
	}
	results := make([]extract.Result, 0, len(files))
	for _, file := range files {
		results = append(results, s.extractFile(ctx, file))
	}
	return extract.BuildPrompt(message, results, s.cfg.MaxPromptFileChars)
}

func (s *Service) extractFile(ctx context.Context, file store.File) extract.Result {
	obj, err := s.blobs.Get(ctx, file.BlobName)
	if err != nil {
		s.logger.Warn("read attached file", zap.String("file_id", file.ID), zap.Error(err))
		return extract.Result{
			FileName: file.FileName,
			Kind:     extract.DetectKind(file.FileName, file.ContentType),
			Content:  "[File could not be read]",
		}
	}
	result, err := extract.Extract(file.FileName, file.ContentType, obj.Data, s.cfg.MaxFileChars)
	if err != nil {
		s.logger.Warn("extract attached file", zap.String("file_id", file.ID), zap.Error(err))
		return extract.Result{
			FileName: file.FileName,
			Kind:     extract.DetectKind(file.FileName, file.ContentType),
			Content:  "[File content could not be extracted]",
		}
	}
	return result
}

// complete sends history plus the new turn to the model with the configured limits.
func (s *Service) complete(ctx context.Context, history []store.Message, userTurn string) (llm.Response, error) {
	if s.llm == nil {
		return llm.Response{}, llm.ErrNotConfigured
	}
	turns := make([]llm.Message, 0, len(history))
	for _, msg := range history {
		if msg.IsError {
			continue
		}
		turns = append(turns, llm.Message{Role: msg.Role, Content: msg.Content})
	}

	req := llm.Request{
		Messages:    llm.BuildMessages(s.settings.String(ctx, appconfig.KeySystemPrompt, s.cfg.SystemPrompt), turns, userTurn),
		MaxTokens:   s.settings.Int(ctx, appconfig.KeyMaxTokens, s.cfg.MaxTokens),
		Temperature: s.settings.Float(ctx, appconfig.KeyTemperature, s.cfg.Temperature),
	}

	started := time.Now()
	resp, err := s.llm.Complete(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveCompletion(s.llm.Model(), outcome, time.Since(started), resp.TokensUsed)
	return resp, err
}

// chatTitle derives a title from the first line of the message, or from the
// first attached file when there is no text.
func chatTitle(message string, files []store.File) string {
	firstLine, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	firstLine = util.CollapseSpace(firstLine)
	if firstLine != "" {
		return util.Truncate(firstLine, maxTitleLength, "...")
	}
	if len(files) > 0 {
		return util.Truncate("Chat about "+files[0].FileName, maxTitleLength, "...")
	}
	return defaultChatTitle
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func messageRecord(msg store.Message, chat store.Chat) search.MessageRecord {
	return search.MessageRecord{
		ID:          msg.ID,
		ChatID:      chat.ID,
		UserID:      chat.UserID,
		WorkspaceID: chat.WorkspaceID,
		Role:        msg.Role,
		Content:     msg.Content,
		CreatedAt:   msg.CreatedAt.Unix(),
	}
}

// chatAccess returns the caller's level on a chat. The creator is treated as owner;
// other users get their workspace level. Chats without a workspace are private.
func (s *Service) chatAccess(ctx context.Context, chatID, userID string) (store.Chat, rbac.Level, error) {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Chat{}, "", errNotFound("chat")
		}
		return store.Chat{}, "", err
	}
	if chat.UserID == userID {
		return chat, rbac.LevelOwner, nil
	}
	if chat.WorkspaceID == "" {
		return store.Chat{}, "", errNotFound("chat")
	}
	raw, err := s.store.GetAccessLevel(ctx, chat.WorkspaceID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Chat{}, "", errNotFound("chat")
		}
		return store.Chat{}, "", err
	}
	return chat, rbac.Normalize(raw), nil
}

func (s *Service) requireChat(ctx context.Context, chatID, userID string, action rbac.Action) (store.Chat, error) {
	chat, level, err := s.chatAccess(ctx, chatID, userID)
	if err != nil {
		return store.Chat{}, err
	}
	if !rbac.Can(level, action) {
		return store.Chat{}, errForbidden()
	}
	return chat, nil
}

// CreateChat creates an empty chat in the requested or default workspace.
func (s *Service) CreateChat(ctx context.Context, current Session, workspaceID, title string) (map[string]any, error) {
	user, err := s.ensureUser(ctx, current)
	if err != nil {
		return nil, err
	}
	ws, err := s.resolveWriteWorkspace(ctx, user, workspaceID)
	if err != nil {
		return nil, err
	}
	title = util.CollapseSpace(title)
	if title == "" {
		title = defaultChatTitle
	}
	chat := store.Chat{
		ID:          util.NewID("chat"),
		UserID:      user.ID,
		WorkspaceID: ws.ID,
		Title:       util.Truncate(title, maxTitleLength*2, "..."),
	}
	if err := s.store.InsertChat(ctx, chat); err != nil {
		return nil, err
	}
	created, err := s.store.GetChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chat": chatPayload(created)}, nil
}

// GetChat returns the chat with its messages and the caller's actions on each.
func (s *Service) GetChat(ctx context.Context, current Session, chatID string) (map[string]any, error) {
	chat, level, err := s.chatAccess(ctx, chatID, current.UserID)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, chat.ID, 0)
	if err != nil {
		return nil, err
	}
	actions, err := s.store.ListChatActions(ctx, chat.ID, current.UserID)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListChatFiles(ctx, []string{chat.ID})
	if err != nil {
		return nil, err
	}
	filesByMessage := make(map[string][]map[string]any)
	for _, file := range files {
		if file.MessageID != "" {
			filesByMessage[file.MessageID] = append(filesByMessage[file.MessageID], filePayload(file))
		}
	}

	items := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		payload := messagePayload(msg, actions[msg.ID])
		if attached := filesByMessage[msg.ID]; len(attached) > 0 {
			payload["files"] = attached
		}
		items = append(items, payload)
	}
	payload := chatPayload(chat)
	payload["accessLevel"] = string(level)
	return map[string]any{"chat": payload, "messages": items}, nil
}

type UpdateChatInput struct {
	Title       *string
	WorkspaceID *string
	IsArchived  *bool
}

// UpdateChat renames, moves or archives a chat.
func (s *Service) UpdateChat(ctx context.Context, current Session, chatID string, input UpdateChatInput) (map[string]any, error) {
	chat, err := s.requireChat(ctx, chatID, current.UserID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	if input.Title != nil {
		title := util.CollapseSpace(*input.Title)
		if title == "" {
			return nil, errValidation("title cannot be empty")
		}
		chat.Title = util.Truncate(title, maxTitleLength*2, "...")
	}
	if input.WorkspaceID != nil && strings.TrimSpace(*input.WorkspaceID) != chat.WorkspaceID {
		target, _, err := s.workspaceAccess(ctx, strings.TrimSpace(*input.WorkspaceID), current.UserID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		chat.WorkspaceID = target.ID
	}
	if input.IsArchived != nil {
		chat.IsArchived = *input.IsArchived
	}
	if err := s.store.UpdateChat(ctx, chat); err != nil {
		return nil, err
	}
	updated, err := s.store.GetChat(ctx, chat.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chat": chatPayload(updated)}, nil
}

// DeleteChat removes the chat, its messages and the blobs of its files.
func (s *Service) DeleteChat(ctx context.Context, current Session, chatID string) error {
	chat, err := s.requireChat(ctx, chatID, current.UserID, rbac.ActionManage)
	if err != nil {
		return err
	}
	messages, err := s.store.ListMessages(ctx, chat.ID, 0)
	if err != nil {
		return err
	}
	files, err := s.store.ListChatFiles(ctx, []string{chat.ID})
	if err != nil {
		return err
	}
	if err := s.store.DeleteChat(ctx, chat.ID); err != nil {
		return err
	}
	s.removeFiles(ctx, files)

	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	s.search.DeleteMessages(ids...)
	return nil
}

// removeFiles deletes blobs then rows. Blob failures are logged and the row is still removed.
func (s *Service) removeFiles(ctx context.Context, files []store.File) {
	if len(files) == 0 {
		return
	}
	ids := make([]string, 0, len(files))
	for _, file := range files {
		if err := s.blobs.Delete(ctx, file.BlobName); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("delete file blob", zap.String("file_id", file.ID), zap.Error(err))
		}
		ids = append(ids, file.ID)
	}
	if err := s.store.DeleteFiles(ctx, ids); err != nil {
		s.logger.Warn("delete file rows", zap.Int("count", len(ids)), zap.Error(err))
	}
}

type HistoryQuery struct {
	WorkspaceID string
	Limit       int
	Offset      int
	Archived    bool
}

// History lists chats visible to the caller, newest activity first.
func (s *Service) History(ctx context.Context, current Session, query HistoryQuery) (map[string]any, error) {
	if query.WorkspaceID != "" {
		if _, _, err := s.workspaceAccess(ctx, query.WorkspaceID, current.UserID, rbac.ActionRead); err != nil {
			return nil, err
		}
	}
	return s.listChats(ctx, store.ChatFilter{
		UserID:      current.UserID,
		WorkspaceID: query.WorkspaceID,
		Archived:    query.Archived,
		Limit:       query.Limit,
		Offset:      query.Offset,
	})
}

func (s *Service) listChats(ctx context.Context, filter store.ChatFilter) (map[string]any, error) {
	filter.Limit = clampPage(filter.Limit)
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	chats, err := s.store.ListChats(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(chats))
	for _, chat := range chats {
		payload := chatPayload(chat.Chat)
		payload["preview"] = util.Truncate(util.CollapseSpace(chat.LastMessage), previewLength, "...")
		payload["isOwner"] = chat.UserID == filter.UserID
		items = append(items, payload)
	}
	return map[string]any{
		"chats":   items,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
		"hasMore": len(items) == filter.Limit,
	}, nil
}

func clampPage(limit int) int {
	if limit <= 0 {
		return defaultHistoryPage
	}
	if limit > maxHistoryPage {
		return maxHistoryPage
	}
	return limit
}

// SearchHistory searches message content in chats the caller can see.
func (s *Service) SearchHistory(ctx context.Context, current Session, text, workspaceID string, limit, offset int) (search.Response, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return search.Response{}, errValidation("q is required")
	}
	workspaces, err := s.store.ListWorkspacesForUser(ctx, current.UserID)
	if err != nil {
		return search.Response{}, err
	}
	memberOf := make([]string, 0, len(workspaces))
	for _, ws := range workspaces {
		memberOf = append(memberOf, ws.ID)
	}
	if workspaceID != "" && !containsString(memberOf, workspaceID) {
		return search.Response{}, errForbidden()
	}
	return s.search.Search(ctx, search.Query{
		Text:        text,
		UserID:      current.UserID,
		MemberOf:    memberOf,
		WorkspaceID: workspaceID,
		Limit:       limit,
		Offset:      offset,
	}), nil
}

// DeleteHistory deletes all chats the caller created, optionally in one workspace.
func (s *Service) DeleteHistory(ctx context.Context, current Session, workspaceID string) (int, error) {
	files, err := s.store.ListFiles(ctx, current.UserID, "")
	if err != nil {
		return 0, err
	}
	deleted, err := s.store.DeleteChats(ctx, current.UserID, workspaceID)
	if err != nil {
		return 0, err
	}
	gone := make(map[string]struct{}, len(deleted))
	for _, id := range deleted {
		gone[id] = struct{}{}
	}
	orphaned := make([]store.File, 0)
	for _, file := range files {
		if _, ok := gone[file.ChatID]; ok {
			orphaned = append(orphaned, file)
		}
	}
	s.removeFiles(ctx, orphaned)
	s.logger.Info("deleted chat history", zap.String("user_id", current.UserID), zap.Int("chats", len(deleted)))
	return len(deleted), nil
}

func containsString(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func chatPayload(chat store.Chat) map[string]any {
	return map[string]any{
		"id":            chat.ID,
		"userId":        chat.UserID,
		"workspaceId":   nilIfEmpty(chat.WorkspaceID),
		"title":         chat.Title,
		"messageCount":  chat.MessageCount,
		"lastMessageAt": chat.LastMessageAt,
		"isArchived":    chat.IsArchived,
		"createdAt":     chat.CreatedAt,
		"updatedAt":     chat.UpdatedAt,
	}
}

func messagePayload(msg store.Message, actions []string) map[string]any {
	payload := map[string]any{
		"id":         msg.ID,
		"chatId":     msg.ChatID,
		"role":       msg.Role,
		"content":    msg.Content,
		"model":      nilIfEmpty(msg.Model),
		"tokensUsed": msg.TokensUsed,
		"isError":    msg.IsError,
		"createdAt":  msg.CreatedAt,
	}
	if msg.Role == llm.RoleAssistant {
		payload["actions"] = actionSet(actions)
	}
	return payload
}
