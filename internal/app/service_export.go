package app

import (
	"context"
	"errors"
	"net/http"

	"aiva/api/internal/export"
	"aiva/api/internal/rbac"
	"go.uber.org/zap"
)

// ExportChat renders a readable chat as a downloadable transcript.
func (s *Service) ExportChat(ctx context.Context, current Session, chatID, rawFormat string) (*export.Result, error) {
	format, err := export.ParseFormat(rawFormat)
	if err != nil {
		return nil, errValidation("format must be markdown, pdf or docx")
	}
	chat, err := s.requireChat(ctx, chatID, current.UserID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	messages, err := s.store.ListMessages(ctx, chat.ID, 0)
	if err != nil {
		return nil, err
	}

	transcript := export.Transcript{
		Title:      chat.Title,
		Author:     current.UserName,
		CreatedAt:  chat.CreatedAt,
		ExportedAt: s.now(),
		Messages:   make([]export.TranscriptMessage, 0, len(messages)),
	}
	if chat.WorkspaceID != "" {
		if ws, err := s.store.GetWorkspace(ctx, chat.WorkspaceID); err == nil {
			transcript.WorkspaceName = ws.Name
		}
	}
	if owner, err := s.store.GetUserByID(ctx, chat.UserID); err == nil {
		transcript.Author = owner.DisplayName
	}
	for _, msg := range messages {
		transcript.Messages = append(transcript.Messages, export.TranscriptMessage{
			Role:      msg.Role,
			Content:   msg.Content,
			Model:     msg.Model,
			IsError:   msg.IsError,
			CreatedAt: msg.CreatedAt,
		})
	}

	result, err := s.exporter.Export(ctx, transcript, format)
	if err != nil {
		s.logger.Warn("export chat", zap.String("chat_id", chat.ID), zap.String("format", string(format)), zap.Error(err))
		switch {
		case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
			return nil, domainError(http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "This export format is not available on the server", nil)
		case errors.Is(err, export.ErrUnsupportedFormat):
			return nil, errValidation("format must be markdown, pdf or docx")
		}
		return nil, err
	}
	return result, nil
}
