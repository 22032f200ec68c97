package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"vaultnotes/client/internal/access"
	"vaultnotes/client/internal/auth"
	"vaultnotes/client/internal/docstore"
	"vaultnotes/client/internal/engine"
	"vaultnotes/client/internal/engine/memengine"
	"vaultnotes/client/internal/eventlog"
	"vaultnotes/client/internal/passcode"
	"vaultnotes/client/internal/session"
)

var testSecret = []byte("http-test-secret")

type testEnv struct {
	server *httptest.Server
	token  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	m := memengine.New(testSecret)

	// a second known user for grant targets
	userA := engine.UserIdentity{ID: "user-a", DisplayName: "Alice"}
	brokerA := auth.NewBroker(testSecret, time.Minute, func() engine.UserIdentity { return userA })
	if _, err := m.CreateUser(ctx, brokerA, "alice-pass", engine.CreateUserOptions{}); err != nil {
		t.Fatalf("create user-a: %v", err)
	}

	owner := engine.UserIdentity{ID: "user-owner", DisplayName: "Owner"}
	broker := auth.NewBroker(testSecret, time.Minute, func() engine.UserIdentity { return owner })

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := docstore.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { store.Close() })

	markers := session.NewMarkerStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { markers.Close() })

	events := eventlog.New()
	challenge := passcode.New()
	init := session.New(m, broker, challenge, markers, events, owner)
	coord := access.NewCoordinator(owner, m.Documents(), m.Groups(), store, events)
	service := NewService(m, broker, testSecret, challenge, init, coord, events)

	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)

	token, err := broker.Credential(ctx)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return &testEnv{server: server, token: token}
}

func (e *testEnv) request(t *testing.T, method, path string, body any, auth bool) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp.StatusCode, payload
}

// establishSession runs the initialize flow end to end: start, answer the
// passcode challenge, wait for Ready.
func (e *testEnv) establishSession(t *testing.T) {
	t.Helper()
	status, _ := e.request(t, http.MethodPost, "/api/session/initialize", nil, false)
	if status != http.StatusOK {
		t.Fatalf("initialize status = %d", status)
	}

	e.waitForSession(t, func(payload map[string]any) bool {
		return payload["pendingPasscode"] != nil
	}, "passcode prompt")

	status, _ = e.request(t, http.MethodPost, "/api/session/passcode", map[string]any{"passcode": "hunter2"}, false)
	if status != http.StatusOK {
		t.Fatalf("supply passcode status = %d", status)
	}

	e.waitForSession(t, func(payload map[string]any) bool {
		return payload["state"] == string(session.StateReady)
	}, "ready state")
}

func (e *testEnv) waitForSession(t *testing.T, done func(map[string]any) bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, payload := e.request(t, http.MethodGet, "/api/session", nil, false)
		if done(payload) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s, last session payload: %v", what, payload)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	status, payload := env.request(t, http.MethodGet, "/api/health", nil, false)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if payload["ok"] != true {
		t.Fatalf("payload = %v", payload)
	}
}

func TestSessionInitializeFlow(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	_, payload := env.request(t, http.MethodGet, "/api/session", nil, false)
	if payload["userId"] != "user-owner" {
		t.Fatalf("session payload = %v", payload)
	}
	if payload["status"] != string(engine.UserStatusNew) {
		t.Fatalf("status = %v", payload["status"])
	}
}

func TestSessionMarkerLifecycle(t *testing.T) {
	env := newTestEnv(t)

	_, payload := env.request(t, http.MethodGet, "/api/session", nil, false)
	if payload["previouslyEstablished"] != false {
		t.Fatalf("fresh session payload = %v", payload)
	}

	env.establishSession(t)

	_, payload = env.request(t, http.MethodGet, "/api/session", nil, false)
	if payload["previouslyEstablished"] != true {
		t.Fatalf("marker not visible after ready: %v", payload)
	}

	status, payload := env.request(t, http.MethodDelete, "/api/session", nil, true)
	if status != http.StatusNoContent {
		t.Fatalf("teardown status = %d, payload = %v", status, payload)
	}

	_, payload = env.request(t, http.MethodGet, "/api/session", nil, false)
	if payload["previouslyEstablished"] != false {
		t.Fatalf("marker survived teardown: %v", payload)
	}
}

func TestSessionTeardownRequiresBearer(t *testing.T) {
	env := newTestEnv(t)
	status, _ := env.request(t, http.MethodDelete, "/api/session", nil, false)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d", status)
	}
}

func TestPasscodeChangeOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	status, payload := env.request(t, http.MethodPost, "/api/session/passcode/change", map[string]any{
		"currentPasscode": "wrong",
		"newPasscode":     "correct horse",
	}, true)
	if status != http.StatusForbidden {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}
	if payload["code"] != "INCORRECT_PASSCODE" {
		t.Fatalf("code = %v", payload["code"])
	}

	status, payload = env.request(t, http.MethodPost, "/api/session/passcode/change", map[string]any{
		"currentPasscode": "hunter2",
		"newPasscode":     "correct horse",
	}, true)
	if status != http.StatusOK {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}

	status, payload = env.request(t, http.MethodPost, "/api/session/passcode/change", map[string]any{
		"currentPasscode": "correct horse",
		"newPasscode":     "",
	}, true)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("empty new passcode status = %d, payload = %v", status, payload)
	}
}

func TestDeviceDeauthorizeOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	status, payload := env.request(t, http.MethodPost, "/api/session/device/deauthorize", nil, true)
	if status != http.StatusOK {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}
	if payload["transformKeyDeleted"] != true {
		t.Fatalf("payload = %v", payload)
	}

	status, payload = env.request(t, http.MethodPost, "/api/session/device/deauthorize", nil, true)
	if status != http.StatusOK {
		t.Fatalf("repeat status = %d, payload = %v", status, payload)
	}
	if payload["transformKeyDeleted"] != false {
		t.Fatalf("repeat payload = %v", payload)
	}
}

func TestPasscodeWithoutChallenge(t *testing.T) {
	env := newTestEnv(t)
	status, payload := env.request(t, http.MethodPost, "/api/session/passcode", map[string]any{"passcode": "x"}, false)
	if status != http.StatusConflict {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}
	if payload["code"] != "NO_CHALLENGE" {
		t.Fatalf("code = %v", payload["code"])
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	env := newTestEnv(t)
	status, payload := env.request(t, http.MethodGet, "/api/documents", nil, false)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	status, payload := env.request(t, http.MethodPost, "/api/documents", map[string]any{
		"id":      "L1",
		"name":    "Groceries",
		"content": map[string]any{"type": "list", "content": []string{"milk"}},
	}, true)
	if status != http.StatusOK {
		t.Fatalf("create status = %d, payload = %v", status, payload)
	}
	if payload["storage"] != string(access.StorageLocal) {
		t.Fatalf("storage = %v", payload["storage"])
	}

	status, payload = env.request(t, http.MethodPost, "/api/documents/L1/items", map[string]any{"item": "eggs"}, true)
	if status != http.StatusOK {
		t.Fatalf("add item status = %d, payload = %v", status, payload)
	}

	status, payload = env.request(t, http.MethodGet, "/api/documents/L1", nil, true)
	if status != http.StatusOK {
		t.Fatalf("read status = %d", status)
	}
	content := payload["content"].(map[string]any)
	items := content["content"].([]any)
	if len(items) != 2 || items[0] != "milk" || items[1] != "eggs" {
		t.Fatalf("items = %v", items)
	}

	status, payload = env.request(t, http.MethodGet, "/api/documents", nil, true)
	if status != http.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	docs := payload["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("documents = %v", docs)
	}
}

func TestDocumentNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	status, payload := env.request(t, http.MethodGet, "/api/documents/doc-missing", nil, true)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}
}

func TestGrantPartialOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	if status, payload := env.request(t, http.MethodPost, "/api/documents", map[string]any{
		"id":      "L1",
		"content": map[string]any{"type": "list", "content": []string{"milk"}},
	}, true); status != http.StatusOK {
		t.Fatalf("create status = %d, payload = %v", status, payload)
	}

	status, payload := env.request(t, http.MethodPost, "/api/documents/L1/grant", map[string]any{
		"users": []string{"user-a", "user-bogus"},
	}, true)
	if status != http.StatusOK {
		t.Fatalf("grant status = %d, payload = %v", status, payload)
	}
	succeeded := payload["succeeded"].([]any)
	failed := payload["failed"].([]any)
	if len(succeeded) != 1 || len(failed) != 1 {
		t.Fatalf("succeeded = %v, failed = %v", succeeded, failed)
	}
	if payload["visibleTo"] == nil {
		t.Fatal("expected a visibility refresh")
	}
}

func TestRevokeSelfRejectedOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	status, payload := env.request(t, http.MethodPost, "/api/documents/L1/revoke", map[string]any{
		"users": []string{"user-owner"},
	}, true)
	if status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, payload = %v", status, payload)
	}
	if payload["code"] != "SELF_REVOKE" {
		t.Fatalf("code = %v", payload["code"])
	}
}

func TestGroupRoutes(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	status, payload := env.request(t, http.MethodPost, "/api/groups", map[string]any{
		"name":        "Team",
		"addAsMember": true,
	}, true)
	if status != http.StatusOK {
		t.Fatalf("create group status = %d, payload = %v", status, payload)
	}
	groupID := payload["groupId"].(string)

	status, payload = env.request(t, http.MethodPost, fmt.Sprintf("/api/groups/%s/members/add", groupID), map[string]any{
		"users": []string{"user-a", "user-bogus"},
	}, true)
	if status != http.StatusOK {
		t.Fatalf("add members status = %d, payload = %v", status, payload)
	}
	if len(payload["succeeded"].([]any)) != 1 || len(payload["failed"].([]any)) != 1 {
		t.Fatalf("member result = %v", payload)
	}

	status, payload = env.request(t, http.MethodGet, "/api/groups", nil, true)
	if status != http.StatusOK {
		t.Fatalf("list groups status = %d", status)
	}
	if len(payload["groups"].([]any)) != 1 {
		t.Fatalf("groups = %v", payload["groups"])
	}
}

func TestEventsBacklog(t *testing.T) {
	env := newTestEnv(t)
	env.establishSession(t)

	status, payload := env.request(t, http.MethodGet, "/api/events", nil, true)
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	events := payload["events"].([]any)
	if len(events) == 0 {
		t.Fatal("expected initialization events in the backlog")
	}
}
