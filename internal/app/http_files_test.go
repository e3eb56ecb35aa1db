package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func uploadRequest(t *testing.T, server *HTTPServer, token, fileName string, data []byte, fields map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/files", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	payload := map[string]any{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return rr, payload
}

func TestUploadAndDownloadFile(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*", nil)
	session := loginAs(t, svc, "Avery")
	content := []byte("name,amount\nalpha,1\nbeta,2\n")

	rr, payload := uploadRequest(t, server, session.Token, "ledger.csv", content, nil)

	expectStatus(t, rr, http.StatusCreated)
	file := objectField(t, payload, "file")
	if file["fileName"] != "ledger.csv" || file["sizeBytes"] != float64(len(content)) {
		t.Fatalf("unexpected file %v", file)
	}
	if file["kind"] != "csv" {
		t.Fatalf("expected csv kind, got %v", file["kind"])
	}
	if file["workspaceId"] != defaultWorkspaceID(t, svc, session) {
		t.Fatalf("expected default workspace, got %v", file["workspaceId"])
	}
	fileID, _ := file["id"].(string)

	req := httptest.NewRequest(http.MethodGet, "/api/files/"+fileID+"/content", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	download := httptest.NewRecorder()
	server.Handler().ServeHTTP(download, req)

	expectStatus(t, download, http.StatusOK)
	if !bytes.Equal(download.Body.Bytes(), content) {
		t.Fatalf("expected original bytes, got %q", download.Body.String())
	}
	if ct := download.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected csv content type, got %q", ct)
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/files", session.Token, "")
	expectStatus(t, rr, http.StatusOK)
	if files := listField(t, payload, "files"); len(files) != 1 {
		t.Fatalf("expected 1 file, got %d", len(files))
	}

	rr, _ = doJSON(t, server, http.MethodDelete, "/api/files/"+fileID, session.Token, "")
	expectStatus(t, rr, http.StatusOK)

	rr, payload = doJSON(t, server, http.MethodGet, "/api/files/"+fileID, session.Token, "")
	expectCode(t, rr, payload, http.StatusNotFound, "FILE_NOT_FOUND")
}

func TestUploadRejectsLargeFile(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	svc.cfg.MaxUploadBytes = 16
	server := NewHTTPServer(svc, "*", nil)
	session := loginAs(t, svc, "Avery")

	rr, payload := uploadRequest(t, server, session.Token, "big.txt", bytes.Repeat([]byte("x"), 64), nil)

	expectCode(t, rr, payload, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE")
	if len(fs.files) != 0 {
		t.Fatalf("expected no stored file, got %d", len(fs.files))
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*", nil)
	session := loginAs(t, svc, "Avery")

	rr, payload := uploadRequest(t, server, session.Token, "empty.txt", nil, nil)

	expectCode(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")
}

func TestUploadIntoReadOnlyWorkspaceIsForbidden(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*", nil)
	owner := loginAs(t, svc, "Avery")
	viewer := loginAs(t, svc, "Blake")
	wsID := sharedWorkspace(t, svc, fs, owner, viewer, "readonly")

	rr, payload := uploadRequest(t, server, viewer.Token, "notes.txt", []byte("hello"), map[string]string{"workspaceId": wsID})

	expectCode(t, rr, payload, http.StatusForbidden, "FORBIDDEN")
}

func TestFilesAreOwnerOnly(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*", nil)
	owner := loginAs(t, svc, "Avery")
	other := loginAs(t, svc, "Blake")

	rr, payload := uploadRequest(t, server, owner.Token, "notes.txt", []byte("hello"), nil)
	expectStatus(t, rr, http.StatusCreated)
	fileID, _ := objectField(t, payload, "file")["id"].(string)

	for _, path := range []string{"/api/files/" + fileID, "/api/files/" + fileID + "/content"} {
		rr, payload := doJSON(t, server, http.MethodGet, path, other.Token, "")
		expectCode(t, rr, payload, http.StatusNotFound, "FILE_NOT_FOUND")
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/chat/message", other.Token, `{"message":"peek","fileIds":["`+fileID+`"]}`)
	expectCode(t, rr, payload, http.StatusNotFound, "FILE_NOT_FOUND")
}

func TestAnalyzeFileParsesStructuredReply(t *testing.T) {
	svc := newTestService(newFakeStore())
	echoOf(t, svc).ReplyWith("Here you go:\n```json\n{\"summary\":\"Sales grew.\",\"keyPoints\":[\"Q1 up\",\"Q2 flat\"],\"fileType\":\"report\"}\n```")
	server := NewHTTPServer(svc, "*", nil)
	session := loginAs(t, svc, "Avery")

	rr, payload := uploadRequest(t, server, session.Token, "sales.md", []byte("# Sales\n\nQ1 up, Q2 flat."), nil)
	expectStatus(t, rr, http.StatusCreated)
	fileID, _ := objectField(t, payload, "file")["id"].(string)

	rr, payload = doJSON(t, server, http.MethodPost, "/api/files/"+fileID+"/analyze", session.Token, "")

	expectStatus(t, rr, http.StatusOK)
	if payload["summary"] != "Sales grew." || payload["fileType"] != "report" {
		t.Fatalf("unexpected analysis %v", payload)
	}
	if points := listField(t, payload, "keyPoints"); len(points) != 2 {
		t.Fatalf("expected 2 key points, got %v", points)
	}

	requests := echoOf(t, svc).Requests()
	last := requests[len(requests)-1]
	if last.Temperature != 0.2 {
		t.Fatalf("expected analysis temperature 0.2, got %v", last.Temperature)
	}
}

func TestAnalyzeFileFallsBackToPlainSummary(t *testing.T) {
	svc := newTestService(newFakeStore())
	echoOf(t, svc).ReplyWith("This file lists two sales figures.")
	server := NewHTTPServer(svc, "*", nil)
	session := loginAs(t, svc, "Avery")

	rr, payload := uploadRequest(t, server, session.Token, "sales.txt", []byte("Q1 up, Q2 flat."), nil)
	expectStatus(t, rr, http.StatusCreated)
	fileID, _ := objectField(t, payload, "file")["id"].(string)

	rr, payload = doJSON(t, server, http.MethodPost, "/api/files/"+fileID+"/analyze", session.Token, "")

	expectStatus(t, rr, http.StatusOK)
	if payload["summary"] != "This file lists two sales figures." || payload["fileType"] != "text" {
		t.Fatalf("unexpected analysis %v", payload)
	}
	if points := listField(t, payload, "keyPoints"); len(points) != 0 {
		t.Fatalf("expected no key points, got %v", points)
	}
}

func TestAnalyzeFileReportsModelFailure(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*", nil)
	session := loginAs(t, svc, "Avery")

	rr, payload := uploadRequest(t, server, session.Token, "sales.txt", []byte("Q1 up."), nil)
	expectStatus(t, rr, http.StatusCreated)
	fileID, _ := objectField(t, payload, "file")["id"].(string)

	echoOf(t, svc).FailWith(errors.New("context deadline exceeded"))
	rr, payload = doJSON(t, server, http.MethodPost, "/api/files/"+fileID+"/analyze", session.Token, "")

	expectCode(t, rr, payload, http.StatusBadGateway, "LLM_ERROR")
}
