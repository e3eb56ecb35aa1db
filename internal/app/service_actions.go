package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"aiva/api/internal/llm"
	"aiva/api/internal/rbac"
	"aiva/api/internal/store"
	"aiva/api/internal/util"
)

const (
	ActionLike     = "like"
	ActionDislike  = "dislike"
	ActionStar     = "star"
	ActionBookmark = "bookmark"

	bookmarkSnippetLength = 200
)

var messageActions = []string{ActionLike, ActionDislike, ActionStar, ActionBookmark}

func validAction(action string) bool {
	for _, known := range messageActions {
		if action == known {
			return true
		}
	}
	return false
}

func actionSet(actions []string) map[string]bool {
	set := make(map[string]bool, len(messageActions))
	for _, action := range messageActions {
		set[action] = false
	}
	for _, action := range actions {
		if _, ok := set[action]; ok {
			set[action] = true
		}
	}
	return set
}

// actionTarget loads a message the caller may tag. Only assistant messages take actions.
func (s *Service) actionTarget(ctx context.Context, messageID, userID string) (store.Message, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Message{}, errNotFound("message")
		}
		return store.Message{}, err
	}
	if _, err := s.requireChat(ctx, msg.ChatID, userID, rbac.ActionRead); err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) && domainErr.Status == http.StatusNotFound {
			return store.Message{}, errNotFound("message")
		}
		return store.Message{}, err
	}
	if msg.Role != llm.RoleAssistant {
		return store.Message{}, domainError(http.StatusUnprocessableEntity, "INVALID_MESSAGE_ROLE", "Actions can only be applied to assistant messages", nil)
	}
	return msg, nil
}

func (s *Service) messageActionsPayload(ctx context.Context, messageID, userID string) (map[string]any, error) {
	actions, err := s.store.ListMessageActions(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"messageId": messageID, "actions": actionSet(actions)}, nil
}

// ToggleMessageAction flips one action for the caller.
func (s *Service) ToggleMessageAction(ctx context.Context, current Session, messageID, action string) (map[string]any, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if !validAction(action) {
		return nil, errValidation("action must be one of like, dislike, star, bookmark")
	}
	msg, err := s.actionTarget(ctx, messageID, current.UserID)
	if err != nil {
		return nil, err
	}
	existing, err := s.store.ListMessageActions(ctx, msg.ID, current.UserID)
	if err != nil {
		return nil, err
	}
	active := !containsString(existing, action)
	return s.applyMessageAction(ctx, current, msg.ID, action, active)
}

// SetMessageAction sets or clears one action explicitly.
func (s *Service) SetMessageAction(ctx context.Context, current Session, messageID, action string, active bool) (map[string]any, error) {
	action = strings.ToLower(strings.TrimSpace(action))
	if !validAction(action) {
		return nil, errValidation("action must be one of like, dislike, star, bookmark")
	}
	msg, err := s.actionTarget(ctx, messageID, current.UserID)
	if err != nil {
		return nil, err
	}
	return s.applyMessageAction(ctx, current, msg.ID, action, active)
}

func (s *Service) applyMessageAction(ctx context.Context, current Session, messageID, action string, active bool) (map[string]any, error) {
	if err := s.store.SetMessageAction(ctx, store.MessageAction{
		ID:        util.NewID("act"),
		MessageID: messageID,
		UserID:    current.UserID,
		Action:    action,
	}, active); err != nil {
		return nil, err
	}
	return s.messageActionsPayload(ctx, messageID, current.UserID)
}

func (s *Service) GetMessageActions(ctx context.Context, current Session, messageID string) (map[string]any, error) {
	msg, err := s.actionTarget(ctx, messageID, current.UserID)
	if err != nil {
		return nil, err
	}
	return s.messageActionsPayload(ctx, msg.ID, current.UserID)
}

func (s *Service) ListBookmarks(ctx context.Context, current Session, workspaceID string) (map[string]any, error) {
	bookmarks, err := s.store.ListBookmarks(ctx, current.UserID, workspaceID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(bookmarks))
	for _, bm := range bookmarks {
		items = append(items, map[string]any{
			"messageId":    bm.MessageID,
			"chatId":       bm.ChatID,
			"chatTitle":    bm.ChatTitle,
			"workspaceId":  nilIfEmpty(bm.WorkspaceID),
			"role":         bm.Role,
			"content":      bm.Content,
			"snippet":      util.Truncate(util.CollapseSpace(bm.Content), bookmarkSnippetLength, "..."),
			"createdAt":    bm.MessageAt,
			"bookmarkedAt": bm.BookmarkedAt,
		})
	}
	return map[string]any{"bookmarks": items}, nil
}

func (s *Service) AddBookmark(ctx context.Context, current Session, messageID string) (map[string]any, error) {
	return s.SetMessageAction(ctx, current, messageID, ActionBookmark, true)
}

func (s *Service) RemoveBookmark(ctx context.Context, current Session, messageID string) (map[string]any, error) {
	return s.SetMessageAction(ctx, current, messageID, ActionBookmark, false)
}
