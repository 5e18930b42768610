package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pairmsg/pairmsg/internal/bus"
	"github.com/pairmsg/pairmsg/internal/codec"
	"github.com/pairmsg/pairmsg/internal/identity"
	"github.com/pairmsg/pairmsg/internal/store"
)

var (
	alice = identity.Session{
		Email: "alice@example.com", FirstName: "Alice", LastName: "Liddell",
		DisplayName: "Alice Liddell",
	}
	bobKey = identity.DeriveKey("bob@x.com")
)

func testEngine(t *testing.T) (*Engine, *store.DB) {
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
	return New(db, nil), db
}

func TestCreateConversation(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	first := Outgoing{
		ID:      "m1",
		Content: codec.Text{Body: "hi"},
		Date:    time.Date(2023, 2, 8, 15, 0, 0, 0, time.UTC),
	}
	convID, err := e.CreateConversation(ctx, alice, bobKey, "Bob", first)
	if err != nil {
		t.Fatal(err)
	}
	if convID != "conversation_m1" {
		t.Errorf("conversation id = %q, want conversation_m1", convID)
	}

	// Both indexes carry exactly one summary with the shared id, each
	// naming the other side as counterpart.
	aliceList, err := db.ReadConversations(alice.UserKey())
	if err != nil {
		t.Fatal(err)
	}
	if len(aliceList) != 1 || aliceList[0].ID != convID {
		t.Fatalf("alice index = %+v, want one summary %q", aliceList, convID)
	}
	if aliceList[0].OtherUserKey != bobKey || aliceList[0].Name != "Bob" {
		t.Errorf("alice summary counterpart = (%q, %q), want (%q, Bob)",
			aliceList[0].OtherUserKey, aliceList[0].Name, bobKey)
	}

	bobList, err := db.ReadConversations(bobKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(bobList) != 1 || bobList[0].ID != convID {
		t.Fatalf("bob index = %+v, want one summary %q", bobList, convID)
	}
	if bobList[0].OtherUserKey != alice.UserKey() || bobList[0].Name != "Alice Liddell" {
		t.Errorf("bob summary counterpart = (%q, %q), want alice",
			bobList[0].OtherUserKey, bobList[0].Name)
	}
	if bobList[0].LatestMessage.IsRead {
		t.Error("latest message is_read = true, want false on write")
	}

	// One text record in the log.
	msgs, err := db.ReadMessages(convID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("log length = %d, want 1", len(msgs))
	}
	if txt, ok := msgs[0].Content.(codec.Text); !ok || txt.Body != "hi" {
		t.Errorf("first record content = %#v, want Text{hi}", msgs[0].Content)
	}
}

func TestSendMessageUpdatesBothIndexes(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	convID, err := e.CreateConversation(ctx, alice, bobKey, "Bob",
		Outgoing{ID: "m1", Content: codec.Text{Body: "hi"}, Date: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	receipt, err := e.SendMessage(ctx, alice, convID, bobKey, "Bob",
		Outgoing{ID: "m2", Content: codec.Text{Body: "how are you"}, Date: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.Ok() {
		t.Fatalf("receipt = %+v, want both sides ok", receipt)
	}

	msgs, err := db.ReadMessages(convID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("log length = %d, want 2", len(msgs))
	}

	for _, side := range []struct {
		key, counterpart, name string
	}{
		{alice.UserKey(), bobKey, "Bob"},
		{bobKey, alice.UserKey(), "Alice Liddell"},
	} {
		list, err := db.ReadConversations(side.key)
		if err != nil {
			t.Fatal(err)
		}
		if len(list) != 1 {
			t.Fatalf("%s index length = %d, want 1", side.key, len(list))
		}
		s := list[0]
		if s.LatestMessage.Message != "how are you" {
			t.Errorf("%s latest = %q, want updated preview", side.key, s.LatestMessage.Message)
		}
		if s.ID != convID || s.OtherUserKey != side.counterpart || s.Name != side.name {
			t.Errorf("%s summary identity changed: %+v", side.key, s)
		}
	}
}

func TestSendLocationMessage(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	convID, err := e.CreateConversation(ctx, alice, bobKey, "Bob",
		Outgoing{ID: "m1", Content: codec.Text{Body: "hi"}, Date: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.SendMessage(ctx, alice, convID, bobKey, "Bob",
		Outgoing{ID: "m2", Content: codec.Location{Longitude: 10.0, Latitude: 20.0}, Date: time.Now()}); err != nil {
		t.Fatal(err)
	}

	// The stored flat form is "<longitude>,<latitude>".
	var flat string
	if err := db.QueryRow(`SELECT content FROM conversation_messages WHERE msg_id = 'm2'`).Scan(&flat); err != nil {
		t.Fatal(err)
	}
	if flat != "10.0,20.0" {
		t.Errorf("stored content = %q, want 10.0,20.0", flat)
	}

	msgs, err := db.ReadMessages(convID)
	if err != nil {
		t.Fatal(err)
	}
	loc, ok := msgs[1].Content.(codec.Location)
	if !ok {
		t.Fatalf("decoded content = %#v, want Location", msgs[1].Content)
	}
	if loc.Longitude != 10.0 || loc.Latitude != 20.0 {
		t.Errorf("decoded coords = (%v, %v), want (10, 20)", loc.Longitude, loc.Latitude)
	}
}

// A send into a conversation missing from one side's index synthesizes
// the summary there instead of failing, so a lagging recipient index
// self-heals.
func TestSendMessageSynthesizesMissingSummary(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	convID, err := e.CreateConversation(ctx, alice, bobKey, "Bob",
		Outgoing{ID: "m1", Content: codec.Text{Body: "hi"}, Date: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	// Bob deletes the conversation on his side.
	if err := db.RemoveSummary(bobKey, convID); err != nil {
		t.Fatal(err)
	}

	receipt, err := e.SendMessage(ctx, alice, convID, bobKey, "Bob",
		Outgoing{ID: "m2", Content: codec.Text{Body: "still there?"}, Date: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	if !receipt.Ok() {
		t.Fatalf("receipt = %+v, want ok", receipt)
	}

	bobList, err := db.ReadConversations(bobKey)
	if err != nil {
		t.Fatal(err)
	}
	if len(bobList) != 1 {
		t.Fatalf("bob index length = %d, want resynthesized summary", len(bobList))
	}
	if bobList[0].OtherUserKey != alice.UserKey() || bobList[0].Name != "Alice Liddell" {
		t.Errorf("synthesized summary counterpart = %+v, want alice", bobList[0])
	}
}

func TestDeleteConversation(t *testing.T) {
	e, db := testEngine(t)
	ctx := context.Background()

	convID, err := e.CreateConversation(ctx, alice, bobKey, "Bob",
		Outgoing{ID: "m1", Content: codec.Text{Body: "hi"}, Date: time.Now()})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.DeleteConversation(ctx, alice, convID); err != nil {
		t.Fatal(err)
	}

	aliceList, err := db.ReadConversations(alice.UserKey())
	if err != nil {
		t.Fatal(err)
	}
	if len(aliceList) != 0 {
		t.Errorf("alice index = %+v, want empty", aliceList)
	}

	// One-sided: bob keeps his entry, the log survives.
	bobList, _ := db.ReadConversations(bobKey)
	if len(bobList) != 1 {
		t.Errorf("bob index length = %d, want 1", len(bobList))
	}
	msgs, _ := db.ReadMessages(convID)
	if len(msgs) != 1 {
		t.Errorf("log length = %d, want 1 (log untouched by delete)", len(msgs))
	}
}

func TestDeleteConversationMissing(t *testing.T) {
	e, _ := testEngine(t)
	err := e.DeleteConversation(context.Background(), alice, "conversation_nope")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestWritesRequireSession(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()
	none := identity.Session{}

	if _, err := e.CreateConversation(ctx, none, bobKey, "Bob", Outgoing{ID: "m1", Content: codec.Text{}}); !errors.Is(err, identity.ErrNoSession) {
		t.Errorf("CreateConversation error = %v, want ErrNoSession", err)
	}
	if _, err := e.SendMessage(ctx, none, "c", bobKey, "Bob", Outgoing{ID: "m1", Content: codec.Text{}}); !errors.Is(err, identity.ErrNoSession) {
		t.Errorf("SendMessage error = %v, want ErrNoSession", err)
	}
	if err := e.DeleteConversation(ctx, none, "c"); !errors.Is(err, identity.ErrNoSession) {
		t.Errorf("DeleteConversation error = %v, want ErrNoSession", err)
	}
}

func TestListConversationsUnknownUser(t *testing.T) {
	e, _ := testEngine(t)
	if _, err := e.ListConversations(context.Background(), "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRegisterAccount(t *testing.T) {
	e, db := testEngine(t)
	if err := e.RegisterAccount(context.Background(), alice); err != nil {
		t.Fatal(err)
	}
	ok, err := db.UserExists("alice@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("account not registered in directory")
	}
	if _, err := db.GetMailbox(alice.UserKey()); err != nil {
		t.Errorf("mailbox not created: %v", err)
	}
}
