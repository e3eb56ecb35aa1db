package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"aiva/api/internal/email"
	"aiva/api/internal/rbac"
	"aiva/api/internal/store"
	"aiva/api/internal/util"
	"go.uber.org/zap"
)

const (
	defaultWorkspaceName     = "Personal Workspace"
	maxWorkspaceNameLength   = 100
	maxWorkspaceDescLength   = 500
	workspaceInvitationApp   = "AIVA"
	defaultWorkspaceDesc     = "Your private chats"
	errCodeDefaultWorkspace  = "DEFAULT_WORKSPACE"
	errCodeOwnerMembership   = "OWNER_MEMBERSHIP"
	errCodeUserNotFound      = "USER_NOT_FOUND"
	errCodeWorkspaceNotFound = "WORKSPACE_NOT_FOUND"
)

// ensureDefaultWorkspace returns the user's default workspace, creating it or
// repairing its owner membership when needed.
func (s *Service) ensureDefaultWorkspace(ctx context.Context, user store.User) (store.Workspace, error) {
	ws, err := s.store.GetDefaultWorkspace(ctx, user.ID)
	if errors.Is(err, sql.ErrNoRows) {
		ws = store.Workspace{
			ID:          util.NewID("ws"),
			Name:        defaultWorkspaceName,
			Description: defaultWorkspaceDesc,
			OwnerID:     user.ID,
			IsDefault:   true,
		}
		if err := s.store.CreateWorkspace(ctx, ws); err != nil {
			return store.Workspace{}, err
		}
		s.logger.Info("created default workspace", zap.String("user_id", user.ID), zap.String("workspace_id", ws.ID))
		return s.store.GetWorkspace(ctx, ws.ID)
	}
	if err != nil {
		return store.Workspace{}, err
	}

	if _, err := s.store.GetAccessLevel(ctx, ws.ID, user.ID); errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("repairing default workspace membership", zap.String("user_id", user.ID), zap.String("workspace_id", ws.ID))
		if err := s.store.UpsertWorkspaceMember(ctx, ws.ID, user.ID, string(rbac.LevelOwner)); err != nil {
			return store.Workspace{}, err
		}
	} else if err != nil {
		return store.Workspace{}, err
	}
	return ws, nil
}

// workspaceAccess loads a workspace and checks that userID may perform action on it.
func (s *Service) workspaceAccess(ctx context.Context, workspaceID, userID string, action rbac.Action) (store.Workspace, rbac.Level, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Workspace{}, "", domainError(http.StatusNotFound, errCodeWorkspaceNotFound, "Workspace not found", nil)
		}
		return store.Workspace{}, "", err
	}
	raw, err := s.store.GetAccessLevel(ctx, workspaceID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Workspace{}, "", errForbidden()
		}
		return store.Workspace{}, "", err
	}
	level := rbac.Normalize(raw)
	if !rbac.Can(level, action) {
		return store.Workspace{}, "", errForbidden()
	}
	return ws, level, nil
}

func validateWorkspaceName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errValidation("name is required")
	}
	if utf8.RuneCountInString(name) > maxWorkspaceNameLength {
		return "", errValidation("name must be at most 100 characters")
	}
	return name, nil
}

func validateWorkspaceDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxWorkspaceDescLength {
		return "", errValidation("description must be at most 500 characters")
	}
	return description, nil
}

func (s *Service) ListWorkspaces(ctx context.Context, current Session) (map[string]any, error) {
	user, err := s.ensureUser(ctx, current)
	if err != nil {
		return nil, err
	}
	if _, err := s.ensureDefaultWorkspace(ctx, user); err != nil {
		return nil, err
	}
	items, err := s.store.ListWorkspacesForUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	workspaces := make([]map[string]any, 0, len(items))
	for _, item := range items {
		payload := workspacePayload(item.Workspace, item.AccessLevel)
		payload["chatCount"] = item.ChatCount
		workspaces = append(workspaces, payload)
	}
	return map[string]any{"workspaces": workspaces}, nil
}

func (s *Service) CreateWorkspace(ctx context.Context, current Session, name, description string) (map[string]any, error) {
	name, err := validateWorkspaceName(name)
	if err != nil {
		return nil, err
	}
	description, err = validateWorkspaceDescription(description)
	if err != nil {
		return nil, err
	}
	user, err := s.ensureUser(ctx, current)
	if err != nil {
		return nil, err
	}
	ws := store.Workspace{
		ID:          util.NewID("ws"),
		Name:        name,
		Description: description,
		OwnerID:     user.ID,
	}
	if err := s.store.CreateWorkspace(ctx, ws); err != nil {
		return nil, err
	}
	created, err := s.store.GetWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	return workspacePayload(created, string(rbac.LevelOwner)), nil
}

func (s *Service) GetWorkspace(ctx context.Context, current Session, workspaceID string) (map[string]any, error) {
	ws, level, err := s.workspaceAccess(ctx, workspaceID, current.UserID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return workspacePayload(ws, string(level)), nil
}

// UpdateWorkspace changes the fields that are non-nil.
func (s *Service) UpdateWorkspace(ctx context.Context, current Session, workspaceID string, name, description *string) (map[string]any, error) {
	ws, level, err := s.workspaceAccess(ctx, workspaceID, current.UserID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	if name != nil {
		if ws.Name, err = validateWorkspaceName(*name); err != nil {
			return nil, err
		}
	}
	if description != nil {
		if ws.Description, err = validateWorkspaceDescription(*description); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateWorkspace(ctx, ws.ID, ws.Name, ws.Description); err != nil {
		return nil, err
	}
	updated, err := s.store.GetWorkspace(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	return workspacePayload(updated, string(level)), nil
}

// DeleteWorkspace removes a workspace. Its chats stay with their creators
// without a workspace until their next message.
func (s *Service) DeleteWorkspace(ctx context.Context, current Session, workspaceID string) error {
	ws, _, err := s.workspaceAccess(ctx, workspaceID, current.UserID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if ws.IsDefault {
		return domainError(http.StatusConflict, errCodeDefaultWorkspace, "The default workspace cannot be deleted", nil)
	}
	return s.store.DeleteWorkspace(ctx, ws.ID)
}

func (s *Service) ListWorkspaceMembers(ctx context.Context, current Session, workspaceID string) (map[string]any, error) {
	ws, _, err := s.workspaceAccess(ctx, workspaceID, current.UserID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListWorkspaceMembers(ctx, ws.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, member := range members {
		items = append(items, memberPayload(member))
	}
	return map[string]any{"workspaceId": ws.ID, "members": items}, nil
}

type AddMemberInput struct {
	Email       string
	UserID      string
	AccessLevel string
}

// AddWorkspaceMember grants access to an existing user and e-mails them when SMTP is set up.
func (s *Service) AddWorkspaceMember(ctx context.Context, current Session, workspaceID string, input AddMemberInput) (map[string]any, error) {
	ws, _, err := s.workspaceAccess(ctx, workspaceID, current.UserID, rbac.ActionManage)
	if err != nil {
		return nil, err
	}
	level := strings.ToLower(strings.TrimSpace(input.AccessLevel))
	if level == "" {
		level = string(rbac.LevelMember)
	}
	if !rbac.Grantable(level) {
		return nil, errValidation("accessLevel must be member or readonly")
	}

	var target store.User
	switch {
	case strings.TrimSpace(input.UserID) != "":
		target, err = s.store.GetUserByID(ctx, strings.TrimSpace(input.UserID))
	case strings.TrimSpace(input.Email) != "":
		target, err = s.store.GetUserByEmail(ctx, strings.TrimSpace(input.Email))
	default:
		return nil, errValidation("email or userId is required")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusNotFound, errCodeUserNotFound, "User not found", nil)
		}
		return nil, err
	}
	if target.ID == ws.OwnerID {
		return nil, domainError(http.StatusConflict, errCodeOwnerMembership, "The owner's access cannot be changed", nil)
	}

	if err := s.store.UpsertWorkspaceMember(ctx, ws.ID, target.ID, level); err != nil {
		return nil, err
	}

	invited := false
	if target.Email != "" && s.mailer.IsConfigured() {
		err := s.mailer.SendWorkspaceInvitation(target.Email, email.InvitationData{
			AppName:       workspaceInvitationApp,
			InviteeName:   target.DisplayName,
			InviterName:   current.UserName,
			WorkspaceName: ws.Name,
			AccessLevel:   level,
		})
		if err != nil {
			s.logger.Warn("send workspace invitation", zap.String("workspace_id", ws.ID), zap.String("user_id", target.ID), zap.Error(err))
		} else {
			invited = true
		}
	}

	return map[string]any{
		"member": memberPayload(store.WorkspaceMember{
			WorkspaceID: ws.ID,
			UserID:      target.ID,
			DisplayName: target.DisplayName,
			Email:       target.Email,
			AccessLevel: level,
			AddedAt:     s.now(),
		}),
		"invitationSent": invited,
	}, nil
}

func (s *Service) RemoveWorkspaceMember(ctx context.Context, current Session, workspaceID, userID string) error {
	ws, _, err := s.workspaceAccess(ctx, workspaceID, current.UserID, rbac.ActionManage)
	if err != nil {
		return err
	}
	if userID == ws.OwnerID {
		return domainError(http.StatusConflict, errCodeOwnerMembership, "The owner cannot be removed", nil)
	}
	return s.store.RemoveWorkspaceMember(ctx, ws.ID, userID)
}

func (s *Service) ListWorkspaceChats(ctx context.Context, current Session, workspaceID string, limit, offset int, archived bool) (map[string]any, error) {
	ws, _, err := s.workspaceAccess(ctx, workspaceID, current.UserID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	return s.listChats(ctx, store.ChatFilter{
		UserID:      current.UserID,
		WorkspaceID: ws.ID,
		Archived:    archived,
		Limit:       limit,
		Offset:      offset,
	})
}

func workspacePayload(ws store.Workspace, accessLevel string) map[string]any {
	return map[string]any{
		"id":          ws.ID,
		"name":        ws.Name,
		"description": ws.Description,
		"ownerId":     ws.OwnerID,
		"isDefault":   ws.IsDefault,
		"accessLevel": accessLevel,
		"createdAt":   ws.CreatedAt,
		"updatedAt":   ws.UpdatedAt,
	}
}

func memberPayload(member store.WorkspaceMember) map[string]any {
	return map[string]any{
		"userId":      member.UserID,
		"displayName": member.DisplayName,
		"email":       nilIfEmpty(member.Email),
		"accessLevel": member.AccessLevel,
		"addedAt":     member.AddedAt,
	}
}
