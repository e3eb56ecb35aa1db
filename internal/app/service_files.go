package app

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"aiva/api/internal/appconfig"
	"aiva/api/internal/blob"
	"aiva/api/internal/extract"
	"aiva/api/internal/llm"
	"aiva/api/internal/rbac"
	"aiva/api/internal/store"
	"aiva/api/internal/util"
	"go.uber.org/zap"
)

const analyzePrompt = "You analyze documents for a chat assistant. Reply only with a JSON object " +
	`of the form {"summary": string, "keyPoints": [string], "fileType": string}. ` +
	"Keep the summary under 120 words and list at most 7 key points."

type UploadInput struct {
	FileName    string
	ContentType string
	Data        []byte
	ChatID      string
	WorkspaceID string
}

// UploadFile stores the bytes in blob storage and records the file for the caller.
func (s *Service) UploadFile(ctx context.Context, current Session, input UploadInput) (map[string]any, error) {
	name := strings.TrimSpace(path.Base(strings.ReplaceAll(input.FileName, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return nil, errValidation("file name is required")
	}
	if len(input.Data) == 0 {
		return nil, errValidation("file is empty")
	}
	if s.cfg.MaxUploadBytes > 0 && int64(len(input.Data)) > s.cfg.MaxUploadBytes {
		return nil, errFileTooLarge(s.cfg.MaxUploadBytes)
	}

	user, err := s.ensureUser(ctx, current)
	if err != nil {
		return nil, err
	}

	var workspaceID, chatID string
	switch {
	case strings.TrimSpace(input.ChatID) != "":
		chat, err := s.requireChat(ctx, strings.TrimSpace(input.ChatID), user.ID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		chatID, workspaceID = chat.ID, chat.WorkspaceID
	case strings.TrimSpace(input.WorkspaceID) != "":
		ws, _, err := s.workspaceAccess(ctx, strings.TrimSpace(input.WorkspaceID), user.ID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		workspaceID = ws.ID
	default:
		ws, err := s.ensureDefaultWorkspace(ctx, user)
		if err != nil {
			return nil, err
		}
		workspaceID = ws.ID
	}

	contentType := detectContentType(name, input.ContentType, input.Data)
	file := store.File{
		ID:          util.NewID("file"),
		UserID:      user.ID,
		WorkspaceID: workspaceID,
		ChatID:      chatID,
		FileName:    name,
		ContentType: contentType,
		SizeBytes:   int64(len(input.Data)),
	}
	file.BlobName = blob.ObjectName(user.ID, file.ID, name)

	if err := s.blobs.Put(ctx, file.BlobName, bytes.NewReader(input.Data), file.SizeBytes, contentType); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if err := s.store.InsertFile(ctx, file); err != nil {
		if delErr := s.blobs.Delete(ctx, file.BlobName); delErr != nil {
			s.logger.Warn("remove orphaned blob", zap.String("blob", file.BlobName), zap.Error(delErr))
		}
		return nil, err
	}
	s.metrics.IncUpload(string(extract.DetectKind(name, contentType)))

	stored, err := s.store.GetFile(ctx, file.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"file": filePayload(stored)}, nil
}

// textTypes covers extensions the platform mime table may not know.
var textTypes = map[string]string{
	".txt":      "text/plain; charset=utf-8",
	".log":      "text/plain; charset=utf-8",
	".md":       "text/markdown; charset=utf-8",
	".markdown": "text/markdown; charset=utf-8",
	".csv":      "text/csv; charset=utf-8",
	".json":     "application/json",
}

func detectContentType(name, declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	ext := strings.ToLower(path.Ext(name))
	if known, ok := textTypes[ext]; ok {
		return known
	}
	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

func (s *Service) ownedFile(ctx context.Context, userID, fileID string) (store.File, error) {
	file, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.File{}, errNotFound("file")
		}
		return store.File{}, err
	}
	if file.UserID != userID {
		return store.File{}, errNotFound("file")
	}
	return file, nil
}

func (s *Service) ListFiles(ctx context.Context, current Session, chatID string) (map[string]any, error) {
	files, err := s.store.ListFiles(ctx, current.UserID, strings.TrimSpace(chatID))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(files))
	for _, file := range files {
		items = append(items, filePayload(file))
	}
	return map[string]any{"files": items}, nil
}

func (s *Service) GetFile(ctx context.Context, current Session, fileID string) (map[string]any, error) {
	file, err := s.ownedFile(ctx, current.UserID, fileID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"file": filePayload(file)}, nil
}

// FileContent returns the stored bytes of one of the caller's files.
func (s *Service) FileContent(ctx context.Context, current Session, fileID string) (store.File, blob.Object, error) {
	file, err := s.ownedFile(ctx, current.UserID, fileID)
	if err != nil {
		return store.File{}, blob.Object{}, err
	}
	obj, err := s.blobs.Get(ctx, file.BlobName)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return store.File{}, blob.Object{}, domainError(http.StatusNotFound, "BLOB_NOT_FOUND", "File content is missing", nil)
		}
		return store.File{}, blob.Object{}, err
	}
	if obj.ContentType == "" {
		obj.ContentType = file.ContentType
	}
	return file, obj, nil
}

func (s *Service) DeleteFile(ctx context.Context, current Session, fileID string) error {
	file, err := s.ownedFile(ctx, current.UserID, fileID)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, file.BlobName); err != nil && !errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return s.store.DeleteFile(ctx, file.ID)
}

type FileAnalysis struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"keyPoints"`
	FileType  string   `json:"fileType"`
}

// AnalyzeFile extracts the file and asks the model for a structured summary.
// A reply that is not JSON becomes the summary as is.
func (s *Service) AnalyzeFile(ctx context.Context, current Session, fileID string) (map[string]any, error) {
	file, err := s.ownedFile(ctx, current.UserID, fileID)
	if err != nil {
		return nil, err
	}
	obj, err := s.blobs.Get(ctx, file.BlobName)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, domainError(http.StatusNotFound, "BLOB_NOT_FOUND", "File content is missing", nil)
		}
		return nil, err
	}
	extracted, err := extract.Extract(file.FileName, file.ContentType, obj.Data, s.cfg.MaxFileChars)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "EXTRACTION_FAILED", "The file content could not be read", nil)
	}
	if s.llm == nil {
		return nil, llm.ErrNotConfigured
	}

	userTurn := fmt.Sprintf("File: %s (%s)\n\n%s", file.FileName, extracted.Kind, extracted.Content)
	req := llm.Request{
		Messages:    llm.BuildMessages(analyzePrompt, nil, userTurn),
		MaxTokens:   s.settings.Int(ctx, appconfig.KeyMaxTokens, s.cfg.MaxTokens),
		Temperature: 0.2,
	}
	resp, err := s.llm.Complete(ctx, req)
	if err != nil {
		s.logger.Warn("file analysis failed", zap.String("file_id", file.ID), zap.Error(err))
		return nil, domainError(http.StatusBadGateway, "LLM_ERROR", llm.UserFacingError(err), nil)
	}

	var analysis FileAnalysis
	if err := llm.RecoverJSON(resp.Content, &analysis); err != nil || strings.TrimSpace(analysis.Summary) == "" {
		analysis = FileAnalysis{Summary: strings.TrimSpace(resp.Content)}
	}
	if analysis.KeyPoints == nil {
		analysis.KeyPoints = []string{}
	}
	if analysis.FileType == "" {
		analysis.FileType = string(extracted.Kind)
	}

	return map[string]any{
		"fileId":    file.ID,
		"fileName":  file.FileName,
		"summary":   analysis.Summary,
		"keyPoints": analysis.KeyPoints,
		"fileType":  analysis.FileType,
		"truncated": extracted.Truncated,
		"model":     resp.Model,
	}, nil
}

func filePayload(file store.File) map[string]any {
	return map[string]any{
		"id":          file.ID,
		"fileName":    file.FileName,
		"contentType": file.ContentType,
		"sizeBytes":   file.SizeBytes,
		"kind":        string(extract.DetectKind(file.FileName, file.ContentType)),
		"workspaceId": nilIfEmpty(file.WorkspaceID),
		"chatId":      nilIfEmpty(file.ChatID),
		"messageId":   nilIfEmpty(file.MessageID),
		"createdAt":   file.CreatedAt,
	}
}
