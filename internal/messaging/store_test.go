package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/logging"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/realtime"
)

func TestNewGormStore_Validation(t *testing.T) {
	if _, err := NewGormStore(StoreOpts{Publisher: realtime.NewHub(0)}); err == nil {
		t.Error("expected error for missing db")
	}
	if _, err := NewGormStore(StoreOpts{DB: openMessagingTestDB(t)}); err == nil {
		t.Error("expected error for missing publisher")
	}
}

func TestStartConversation_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := f.profile(t, "seller")
	buyer := f.profile(t, "buyer")
	listing := f.listing(t, seller, "lamp")

	sub, _ := f.hub.Subscribe(ctx, realtime.Filter{Table: TableConversations})
	defer sub.Close()

	first, err := f.store.StartConversation(ctx, listing, buyer)
	if err != nil {
		t.Fatalf("StartConversation: %v", err)
	}
	second, err := f.store.StartConversation(ctx, listing, buyer)
	if err != nil {
		t.Fatalf("StartConversation again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("ids differ: %s vs %s", first.ID, second.ID)
	}
	if first.SellerID != seller || first.BuyerID != buyer {
		t.Errorf("participants = %s/%s", first.BuyerID, first.SellerID)
	}

	var n int64
	f.db.Model(&models.Conversation{}).Count(&n)
	if n != 1 {
		t.Errorf("conversations = %d, want 1", n)
	}
	if len(sub.C()) != 1 {
		t.Errorf("published %d conversation inserts, want 1", len(sub.C()))
	}
}

func TestStartConversation_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seller := f.profile(t, "seller")
	listing := f.listing(t, seller, "desk")

	tests := []struct {
		name      string
		listingID string
		buyerID   string
		want      error
	}{
		{"own listing", listing, seller, apperr.ErrInvalid},
		{"missing listing", "nope", "buyer", apperr.ErrNotFound},
		{"empty listing", "", "buyer", apperr.ErrInvalid},
		{"empty buyer", listing, "", apperr.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.store.StartConversation(ctx, tt.listingID, tt.buyerID)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInsertMessage_Participants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.profile(t, "a"), f.profile(t, "b"), f.profile(t, "c")
	conv := f.conversation(t, a, b)

	sub, _ := f.hub.Subscribe(ctx, realtime.Filter{Table: TableMessages, Column: "conversation_id", Value: conv.ID})
	defer sub.Close()

	m := models.Message{ConversationID: conv.ID, SenderID: c, Content: "hi"}
	if err := f.store.InsertMessage(ctx, &m); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("outsider insert err = %v, want forbidden", err)
	}
	m = models.Message{ConversationID: "missing", SenderID: a, Content: "hi"}
	if err := f.store.InsertMessage(ctx, &m); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing conversation err = %v, want not found", err)
	}

	sent := f.send(t, conv.ID, a, "hello")
	if sent.ID == "" || sent.CreatedAt.IsZero() {
		t.Fatalf("insert did not fill id/created_at: %+v", sent)
	}
	select {
	case ch := <-sub.C():
		if ch.Type != realtime.Insert {
			t.Errorf("change type = %s", ch.Type)
		}
		var got models.Message
		if err := ch.Decode(&got); err != nil || got.ID != sent.ID {
			t.Errorf("decoded %+v, err %v", got, err)
		}
	default:
		t.Fatal("no insert published")
	}
}

func TestHistory_LatestWindowAscending(t *testing.T) {
	f := newFixture(t)
	a, b := f.profile(t, "a"), f.profile(t, "b")
	conv := f.conversation(t, a, b)
	var sent []string
	for _, s := range []string{"one", "two", "three", "four", "five"} {
		sent = append(sent, f.send(t, conv.ID, a, s).ID)
	}

	got, err := f.store.History(context.Background(), conv.ID, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if !equalIDs(ids(got), sent[2:]) {
		t.Errorf("History = %v, want %v", ids(got), sent[2:])
	}

	all, _ := f.store.History(context.Background(), conv.ID, 0)
	if len(all) != 5 {
		t.Errorf("unlimited history len = %d", len(all))
	}
}

func TestMarkRead_OnlyCounterpartyUnread(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.profile(t, "a"), f.profile(t, "b")
	conv := f.conversation(t, a, b)
	fromA := f.send(t, conv.ID, a, "from a")
	fromB := f.send(t, conv.ID, b, "from b")

	sub, _ := f.hub.Subscribe(ctx, realtime.Filter{Table: TableMessages, Type: realtime.Update})
	defer sub.Close()

	marked, err := f.store.MarkRead(ctx, b, []string{fromA.ID, fromB.ID})
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if len(marked) != 1 || marked[0].ID != fromA.ID || !marked[0].IsRead {
		t.Fatalf("marked = %+v", marked)
	}
	if len(sub.C()) != 1 {
		t.Errorf("published %d updates, want 1", len(sub.C()))
	}

	again, err := f.store.MarkRead(ctx, b, []string{fromA.ID})
	if err != nil || len(again) != 0 {
		t.Errorf("second MarkRead = %v, %v", again, err)
	}

	var stored models.Message
	f.db.First(&stored, "id = ?", fromB.ID)
	if stored.IsRead {
		t.Error("own message marked read")
	}
}

func TestUnreadCountsAndIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, d := f.profile(t, "a"), f.profile(t, "b"), f.profile(t, "d")
	ab := f.conversation(t, b, a)
	bd := f.conversation(t, b, d)
	f.send(t, ab.ID, a, "1")
	f.send(t, ab.ID, a, "2")
	f.send(t, ab.ID, b, "mine")
	f.send(t, bd.ID, d, "3")

	convIDs, err := f.store.ConversationIDs(ctx, b)
	if err != nil || len(convIDs) != 2 {
		t.Fatalf("ConversationIDs = %v, %v", convIDs, err)
	}
	counts, err := f.store.UnreadCounts(ctx, b, convIDs)
	if err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	if counts[ab.ID] != 2 || counts[bd.ID] != 1 {
		t.Errorf("counts = %v", counts)
	}
	unread, err := f.store.UnreadMessageIDs(ctx, b, convIDs)
	if err != nil || len(unread) != 3 {
		t.Errorf("UnreadMessageIDs = %v, %v", unread, err)
	}

	empty, err := f.store.UnreadCounts(ctx, b, nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("UnreadCounts(nil) = %v, %v", empty, err)
	}
}

func TestListConversations_MostRecentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, d := f.profile(t, "a"), f.profile(t, "b"), f.profile(t, "d")
	older := f.conversation(t, a, b)
	newer := f.conversation(t, a, d)

	got, err := f.store.ListConversations(ctx, a, 10)
	if err != nil {
		t.Fatalf("ListConversations: %v", err)
	}
	if len(got) != 2 || got[0].ID != newer.ID {
		t.Fatalf("order = %v", []string{got[0].ID, got[1].ID})
	}
	if got[0].Listing == nil || got[0].Seller == nil {
		t.Error("relations not preloaded")
	}

	if err := f.store.TouchConversation(ctx, older.ID, f.clock.Now()); err != nil {
		t.Fatalf("TouchConversation: %v", err)
	}
	got, _ = f.store.ListConversations(ctx, a, 1)
	if len(got) != 1 || got[0].ID != older.ID {
		t.Errorf("after touch first = %v", got)
	}
}

func TestTouchConversation_NotFound(t *testing.T) {
	f := newFixture(t)
	err := f.store.TouchConversation(context.Background(), "missing", time.Now())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestConversation_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Conversation(context.Background(), "missing")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestGormStore_DB(t *testing.T) {
	gdb := openMessagingTestDB(t)
	s, err := NewGormStore(StoreOpts{DB: gdb, Publisher: realtime.NewHub(0), Logger: logging.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	if s.DB() != gdb {
		t.Error("DB() returned a different handle")
	}
}

func TestStore_InsertPublishesParticipants(t *testing.T) {
	f := newFixture(t)
	buyer, seller := f.profile(t, "buyer"), f.profile(t, "seller")
	conv := f.conversation(t, buyer, seller)
	sub, err := f.hub.Subscribe(context.Background(), realtime.Filter{Table: TableMessages})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()

	f.send(t, conv.ID, buyer, "hi")
	select {
	case c := <-sub.C():
		if c.Keys["buyer_id"] != buyer || c.Keys["seller_id"] != seller {
			t.Errorf("keys = %v", c.Keys)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
}
