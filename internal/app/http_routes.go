package app

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// multipartOverhead leaves room for form fields and boundaries around the file part.
const multipartOverhead = 1 << 20

func (s *HTTPServer) handleChat(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			WorkspaceID string `json:"workspaceId"`
			Title       string `json:"title"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateChat(r.Context(), session, body.WorkspaceID, body.Title)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if len(parts) == 1 && parts[0] == "message" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Message     string   `json:"message"`
			ChatID      string   `json:"chatId"`
			WorkspaceID string   `json:"workspaceId"`
			FileIDs     []string `json:"fileIds"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SendMessage(r.Context(), session, SendMessageInput{
			Message:     body.Message,
			ChatID:      body.ChatID,
			WorkspaceID: body.WorkspaceID,
			FileIDs:     body.FileIDs,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		status := http.StatusOK
		if !result.Success {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, result.Payload())
		return
	}

	chatID := parts[0]

	if len(parts) == 2 && parts[1] == "export" {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		result, err := s.service.ExportChat(r.Context(), session, chatID, r.URL.Query().Get("format"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
		w.Header().Set("Content-Type", result.MimeType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
		return
	}

	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetChat(r.Context(), session, chatID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPut:
		var body struct {
			Title       *string `json:"title"`
			WorkspaceID *string `json:"workspaceId"`
			IsArchived  *bool   `json:"isArchived"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateChat(r.Context(), session, chatID, UpdateChatInput{
			Title:       body.Title,
			WorkspaceID: body.WorkspaceID,
			IsArchived:  body.IsArchived,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteChat(r.Context(), session, chatID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "chatId": chatID})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleHistory(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	query := r.URL.Query()
	workspaceID := strings.TrimSpace(query.Get("workspaceId"))

	if len(parts) == 1 && parts[0] == "search" && r.Method == http.MethodGet {
		limit, err := queryInt(r, "limit", 20)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		payload, err := s.service.SearchHistory(r.Context(), session, query.Get("q"), workspaceID, limit, offset)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
		return
	}

	if len(parts) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		limit, err := queryInt(r, "limit", defaultHistoryPage)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		archived, _ := strconv.ParseBool(query.Get("archived"))
		payload, err := s.service.History(r.Context(), session, HistoryQuery{
			WorkspaceID: workspaceID,
			Limit:       limit,
			Offset:      offset,
			Archived:    archived,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodDelete:
		deleted, err := s.service.DeleteHistory(r.Context(), session, workspaceID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleWorkspaces(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListWorkspaces(r.Context(), session)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateWorkspace(r.Context(), session, body.Name, body.Description)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	workspaceID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetWorkspace(r.Context(), session, workspaceID)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var body struct {
				Name        *string `json:"name"`
				Description *string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.UpdateWorkspace(r.Context(), session, workspaceID, body.Name, body.Description)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodDelete:
			if err := s.service.DeleteWorkspace(r.Context(), session, workspaceID); err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case len(parts) == 2 && parts[1] == "members" && r.Method == http.MethodGet:
		payload, err := s.service.ListWorkspaceMembers(r.Context(), session, workspaceID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case len(parts) == 2 && parts[1] == "members" && r.Method == http.MethodPost:
		var body struct {
			Email       string `json:"email"`
			UserID      string `json:"userId"`
			AccessLevel string `json:"accessLevel"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AddWorkspaceMember(r.Context(), session, workspaceID, AddMemberInput{
			Email:       body.Email,
			UserID:      body.UserID,
			AccessLevel: body.AccessLevel,
		})
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case len(parts) == 3 && parts[1] == "members" && r.Method == http.MethodDelete:
		if err := s.service.RemoveWorkspaceMember(r.Context(), session, workspaceID, parts[2]); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case len(parts) == 2 && parts[1] == "chats" && r.Method == http.MethodGet:
		limit, err := queryInt(r, "limit", defaultHistoryPage)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		offset, err := queryInt(r, "offset", 0)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		archived, _ := strconv.ParseBool(r.URL.Query().Get("archived"))
		payload, err := s.service.ListWorkspaceChats(r.Context(), session, workspaceID, limit, offset, archived)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMessageActions(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) != 2 || parts[1] != "actions" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	messageID := parts[0]

	var (
		payload map[string]any
		err     error
	)
	switch r.Method {
	case http.MethodGet:
		payload, err = s.service.GetMessageActions(r.Context(), session, messageID)
	case http.MethodPost:
		var body struct {
			Action string `json:"action"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err = s.service.ToggleMessageAction(r.Context(), session, messageID, body.Action)
	case http.MethodPut:
		var body struct {
			Action string `json:"action"`
			Active *bool  `json:"active"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Active == nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "active is required", nil)
			return
		}
		payload, err = s.service.SetMessageAction(r.Context(), session, messageID, body.Action, *body.Active)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleBookmarks(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		payload, err := s.service.ListBookmarks(r.Context(), session, strings.TrimSpace(r.URL.Query().Get("workspaceId")))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			MessageID string `json:"messageId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.MessageID) == "" {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "messageId is required", nil)
			return
		}
		payload, err := s.service.AddBookmark(r.Context(), session, strings.TrimSpace(body.MessageID))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		payload, err := s.service.RemoveBookmark(r.Context(), session, parts[0])
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleFiles(w http.ResponseWriter, r *http.Request, session Session, parts []string) {
	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListFiles(r.Context(), session, r.URL.Query().Get("chatId"))
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPost:
			s.handleUpload(w, r, session)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	fileID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		payload, err := s.service.GetFile(r.Context(), session, fileID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteFile(r.Context(), session, fileID); err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fileId": fileID})
	case len(parts) == 2 && parts[1] == "content" && r.Method == http.MethodGet:
		file, obj, err := s.service.FileContent(r.Context(), session, fileID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", obj.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
		w.Header().Set("Content-Disposition", "inline; filename=\""+strings.ReplaceAll(file.FileName, "\"", "")+"\"")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(obj.Data)
	case len(parts) == 2 && parts[1] == "analyze" && r.Method == http.MethodPost:
		payload, err := s.service.AnalyzeFile(r.Context(), session, fileID)
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, session Session) {
	limit := s.service.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeMappedError(w, errFileTooLarge(limit))
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Expected a multipart form with a file field", nil)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	part, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		s.service.logger.Warn("read upload", zap.Error(err))
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "Could not read the uploaded file", nil)
		return
	}
	if int64(len(data)) > limit {
		writeMappedError(w, errFileTooLarge(limit))
		return
	}

	payload, err := s.service.UploadFile(r.Context(), session, UploadInput{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		ChatID:      r.FormValue("chatId"),
		WorkspaceID: r.FormValue("workspaceId"),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, payload)
}
