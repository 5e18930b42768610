package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pairmsg/pairmsg/internal/bus"
	"github.com/pairmsg/pairmsg/internal/engine"
	"github.com/pairmsg/pairmsg/internal/identity"
	"github.com/pairmsg/pairmsg/internal/store"
)

var alice = identity.Session{
	Email: "alice@example.com", FirstName: "Alice", LastName: "Liddell",
	DisplayName: "Alice Liddell",
}

func testServer(t *testing.T) (*Server, *store.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path, bus.New())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	eng := engine.New(db, nil)
	return New("127.0.0.1:0", eng, db, nil, alice, nil), db
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateSendAndListFlow(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, "POST", "/api/conversations",
		`{"other_user_email":"bob@x.com","name":"Bob","message":{"type":"text","content":"hi"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	convID := created["conversation_id"]
	if !strings.HasPrefix(convID, "conversation_") {
		t.Fatalf("conversation_id = %q, want conversation_ prefix", convID)
	}

	rec = do(t, s, "POST", "/api/conversations/"+convID+"/messages",
		`{"other_user_email":"bob@x.com","name":"Bob","message":{"type":"location","content":"10.0,20.0"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d, body %s", rec.Code, rec.Body.String())
	}
	var sent map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatal(err)
	}
	if sent["sender_index_ok"] != true || sent["recipient_index_ok"] != true {
		t.Errorf("receipt = %v, want both sides ok", sent)
	}

	rec = do(t, s, "GET", "/api/conversations/"+convID+"/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list messages status = %d", rec.Code)
	}
	var msgs []messageDTO
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Type != "location" || msgs[1].Content != "10.0,20.0" {
		t.Errorf("msgs[1] = %+v, want location 10.0,20.0", msgs[1])
	}

	rec = do(t, s, "GET", "/api/conversations", "")
	var list []store.ConversationSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].LatestMessage.Message != "10.0,20.0" {
		t.Errorf("conversations = %+v, want latest 10.0,20.0", list)
	}
}

func TestCreateConversationRejectsMalformedContent(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, "POST", "/api/conversations",
		`{"other_user_email":"bob@x.com","name":"Bob","message":{"type":"location","content":"garbage"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListConversationsEmptyForFreshUser(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, "GET", "/api/conversations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestDeleteConversationNotFound(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, "DELETE", "/api/conversations/conversation_nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRegisterAndDirectory(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, "POST", "/api/register", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("register status = %d", rec.Code)
	}

	rec = do(t, s, "GET", "/api/users/exists?email=alice@example.com", "")
	if !strings.Contains(rec.Body.String(), "true") {
		t.Errorf("exists body = %q, want true", rec.Body.String())
	}

	rec = do(t, s, "GET", "/api/users/search?q=alice", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "alice@example.com") {
		t.Errorf("search = %d %q, want alice hit", rec.Code, rec.Body.String())
	}
}

func TestQueueMessageAccepted(t *testing.T) {
	s, db := testServer(t)

	rec := do(t, s, "POST", "/api/outbox",
		`{"conversation_id":"conversation_m1","other_user_email":"bob@x.com","name":"Bob","message":{"type":"text","content":"later"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Content != "later" {
		t.Errorf("pending = %+v, want one queued entry", pending)
	}
}

func TestUploadWithoutMediaConfigured(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, "POST", "/api/media/photos?message_id=m1", "bytes")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
