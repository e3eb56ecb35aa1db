package app

import (
	"context"
	"net/http"
	"testing"
)

func TestWorkspaceLifecycle(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*", nil)
	owner := loginAs(t, svc, "Avery")

	rr, payload := doJSON(t, server, http.MethodPost, "/api/workspaces", owner.Token, `{"name":"  Research  ","description":"Papers"}`)
	expectStatus(t, rr, http.StatusCreated)
	if payload["name"] != "Research" || payload["accessLevel"] != "owner" || payload["isDefault"] != false {
		t.Fatalf("unexpected workspace %v", payload)
	}
	wsID, _ := payload["id"].(string)

	rr, payload = doJSON(t, server, http.MethodGet, "/api/workspaces", owner.Token, "")
	expectStatus(t, rr, http.StatusOK)
	workspaces := listField(t, payload, "workspaces")
	if len(workspaces) != 2 {
		t.Fatalf("expected default plus created workspace, got %d", len(workspaces))
	}
	if first := workspaces[0].(map[string]any); first["isDefault"] != true {
		t.Fatalf("expected default workspace first, got %v", first)
	}

	rr, payload = doJSON(t, server, http.MethodPut, "/api/workspaces/"+wsID, owner.Token, `{"name":"Research 2026"}`)
	expectStatus(t, rr, http.StatusOK)
	if payload["name"] != "Research 2026" || payload["description"] != "Papers" {
		t.Fatalf("unexpected update %v", payload)
	}

	rr, payload = doJSON(t, server, http.MethodPost, "/api/workspaces", owner.Token, `{"name":"   "}`)
	expectCode(t, rr, payload, http.StatusBadRequest, "VALIDATION_ERROR")

	rr, _ = doJSON(t, server, http.MethodDelete, "/api/workspaces/"+wsID, owner.Token, "")
	expectStatus(t, rr, http.StatusOK)
	if _, ok := fs.workspaces[wsID]; ok {
		t.Fatalf("expected workspace deleted")
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/workspaces/"+wsID, owner.Token, "")
	expectCode(t, rr, payload, http.StatusNotFound, "WORKSPACE_NOT_FOUND")
}

func TestDefaultWorkspaceCannotBeDeleted(t *testing.T) {
	svc := newTestService(newFakeStore())
	server := NewHTTPServer(svc, "*", nil)
	owner := loginAs(t, svc, "Avery")
	wsID := defaultWorkspaceID(t, svc, owner)

	rr, payload := doJSON(t, server, http.MethodDelete, "/api/workspaces/"+wsID, owner.Token, "")

	expectCode(t, rr, payload, http.StatusConflict, "DEFAULT_WORKSPACE")
}

func TestWorkspaceMembers(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*", nil)
	owner := loginAs(t, svc, "Avery")
	invitee := loginWithEmail(t, svc, "Blake", "blake@example.com")

	created, err := svc.CreateWorkspace(context.Background(), owner, "Team", "")
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	wsID, _ := created["id"].(string)

	rr, payload := doJSON(t, server, http.MethodPost, "/api/workspaces/"+wsID+"/members", owner.Token, `{"email":"BLAKE@example.com","accessLevel":"readonly"}`)
	expectStatus(t, rr, http.StatusOK)
	member := objectField(t, payload, "member")
	if member["userId"] != invitee.UserID || member["accessLevel"] != "readonly" {
		t.Fatalf("unexpected member %v", member)
	}
	if payload["invitationSent"] != false {
		t.Fatalf("expected no invitation without smtp, got %v", payload["invitationSent"])
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/workspaces/"+wsID+"/members", invitee.Token, "")
	expectStatus(t, rr, http.StatusOK)
	if members := listField(t, payload, "members"); len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	cases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "owner level is not grantable", body: `{"userId":"` + invitee.UserID + `","accessLevel":"owner"}`, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "unknown user", body: `{"email":"nobody@example.com"}`, status: http.StatusNotFound, code: "USER_NOT_FOUND"},
		{name: "owner cannot be re-added", body: `{"userId":"` + owner.UserID + `"}`, status: http.StatusConflict, code: "OWNER_MEMBERSHIP"},
		{name: "target required", body: `{}`, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, payload := doJSON(t, server, http.MethodPost, "/api/workspaces/"+wsID+"/members", owner.Token, tc.body)
			expectCode(t, rr, payload, tc.status, tc.code)
		})
	}

	rr, payload = doJSON(t, server, http.MethodDelete, "/api/workspaces/"+wsID+"/members/"+owner.UserID, owner.Token, "")
	expectCode(t, rr, payload, http.StatusConflict, "OWNER_MEMBERSHIP")

	rr, _ = doJSON(t, server, http.MethodDelete, "/api/workspaces/"+wsID+"/members/"+invitee.UserID, owner.Token, "")
	expectStatus(t, rr, http.StatusOK)
	if _, err := fs.GetAccessLevel(context.Background(), wsID, invitee.UserID); err == nil {
		t.Fatalf("expected membership removed")
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/workspaces/"+wsID, invitee.Token, "")
	expectCode(t, rr, payload, http.StatusForbidden, "FORBIDDEN")
}

func TestReadOnlyMemberCannotWrite(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*", nil)
	owner := loginAs(t, svc, "Avery")
	viewer := loginAs(t, svc, "Blake")
	wsID := sharedWorkspace(t, svc, fs, owner, viewer, "readonly")
	chat := sendMessage(t, svc, owner, SendMessageInput{Message: "Team update", WorkspaceID: wsID})

	cases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{name: "send message", method: http.MethodPost, path: "/api/chat/message", body: `{"message":"hi","workspaceId":"` + wsID + `"}`},
		{name: "create chat", method: http.MethodPost, path: "/api/chat", body: `{"workspaceId":"` + wsID + `"}`},
		{name: "rename workspace", method: http.MethodPut, path: "/api/workspaces/" + wsID, body: `{"name":"Mine now"}`},
		{name: "delete workspace", method: http.MethodDelete, path: "/api/workspaces/" + wsID},
		{name: "add member", method: http.MethodPost, path: "/api/workspaces/" + wsID + "/members", body: `{"userId":"` + viewer.UserID + `"}`},
		{name: "rename chat", method: http.MethodPut, path: "/api/chat/" + chat.ChatID, body: `{"title":"Mine now"}`},
		{name: "delete chat", method: http.MethodDelete, path: "/api/chat/" + chat.ChatID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr, payload := doJSON(t, server, tc.method, tc.path, viewer.Token, tc.body)
			expectCode(t, rr, payload, http.StatusForbidden, "FORBIDDEN")
		})
	}

	readable := []string{
		"/api/workspaces/" + wsID,
		"/api/workspaces/" + wsID + "/chats",
		"/api/workspaces/" + wsID + "/members",
		"/api/chat/" + chat.ChatID,
		"/api/chat/" + chat.ChatID + "/export",
	}
	for _, path := range readable {
		rr, _ := doJSON(t, server, http.MethodGet, path, viewer.Token, "")
		expectStatus(t, rr, http.StatusOK)
	}

	rr, payload := doJSON(t, server, http.MethodGet, "/api/chat/"+chat.ChatID, viewer.Token, "")
	expectStatus(t, rr, http.StatusOK)
	if level := objectField(t, payload, "chat")["accessLevel"]; level != "readonly" {
		t.Fatalf("expected readonly access, got %v", level)
	}
}

func TestMemberCanChatButNotManageOthersChats(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*", nil)
	owner := loginAs(t, svc, "Avery")
	member := loginAs(t, svc, "Blake")
	wsID := sharedWorkspace(t, svc, fs, owner, member, "member")
	ownerChat := sendMessage(t, svc, owner, SendMessageInput{Message: "Owner thread", WorkspaceID: wsID})

	rr, payload := doJSON(t, server, http.MethodPost, "/api/chat/message", member.Token, `{"message":"Member thread","workspaceId":"`+wsID+`"}`)
	expectStatus(t, rr, http.StatusOK)
	if payload["workspaceId"] != wsID {
		t.Fatalf("expected member chat in shared workspace, got %v", payload["workspaceId"])
	}

	rr, payload = doJSON(t, server, http.MethodDelete, "/api/chat/"+ownerChat.ChatID, member.Token, "")
	expectCode(t, rr, payload, http.StatusForbidden, "FORBIDDEN")

	rr, payload = doJSON(t, server, http.MethodGet, "/api/workspaces/"+wsID+"/chats", member.Token, "")
	expectStatus(t, rr, http.StatusOK)
	if chats := listField(t, payload, "chats"); len(chats) != 2 {
		t.Fatalf("expected both workspace chats, got %d", len(chats))
	}

	rr, payload = doJSON(t, server, http.MethodGet, "/api/history", member.Token, "")
	expectStatus(t, rr, http.StatusOK)
	for _, item := range listField(t, payload, "chats") {
		chat := item.(map[string]any)
		if chat["id"] == ownerChat.ChatID && chat["isOwner"] != false {
			t.Fatalf("expected isOwner false on shared chat")
		}
	}
}

func TestOutsiderCannotSeeWorkspaceChats(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*", nil)
	owner := loginAs(t, svc, "Avery")
	outsider := loginAs(t, svc, "Casey")
	chat := sendMessage(t, svc, owner, SendMessageInput{Message: "Secret"})

	rr, payload := doJSON(t, server, http.MethodGet, "/api/chat/"+chat.ChatID, outsider.Token, "")
	expectCode(t, rr, payload, http.StatusNotFound, "CHAT_NOT_FOUND")

	rr, payload = doJSON(t, server, http.MethodGet, "/api/workspaces/"+chat.WorkspaceID+"/chats", outsider.Token, "")
	expectCode(t, rr, payload, http.StatusForbidden, "FORBIDDEN")

	rr, payload = doJSON(t, server, http.MethodGet, "/api/history", outsider.Token, "")
	expectStatus(t, rr, http.StatusOK)
	if chats := listField(t, payload, "chats"); len(chats) != 0 {
		t.Fatalf("expected no visible chats, got %d", len(chats))
	}
}
