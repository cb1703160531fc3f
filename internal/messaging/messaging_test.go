package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/peerly/internal/apperr"
)

func TestInbox(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, d := f.profile(t, "a"), f.profile(t, "b"), f.profile(t, "d")
	ab := f.conversation(t, a, b)
	ad := f.conversation(t, a, d)
	f.send(t, ab.ID, b, "first")
	f.send(t, ab.ID, a, "mine")
	f.send(t, ad.ID, d, "second")

	msgs, err := Inbox(ctx, f.db, a)
	if err != nil {
		t.Fatalf("Inbox: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("inbox = %+v", msgs)
	}

	n, err := UnreadCount(ctx, f.db, a)
	if err != nil || n != 2 {
		t.Errorf("UnreadCount = %d, %v", n, err)
	}
}

func TestInbox_MissingUser(t *testing.T) {
	_, err := Inbox(context.Background(), nil, "")
	if err == nil {
		t.Fatal("expected error for missing userID")
	}
	if got := err.Error(); got != "messaging: userID is required" {
		t.Errorf("error = %q", got)
	}
	if _, err := UnreadCount(context.Background(), nil, ""); err == nil {
		t.Error("expected error for missing userID")
	}
}

func TestThreadAndMarkConversationRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.profile(t, "a"), f.profile(t, "b"), f.profile(t, "c")
	conv := f.conversation(t, a, b)
	f.send(t, conv.ID, b, "one")
	f.send(t, conv.ID, b, "two")
	f.send(t, conv.ID, a, "three")

	msgs, err := Thread(ctx, f.store, conv.ID, a, 2)
	if err != nil {
		t.Fatalf("Thread: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Content != "two" {
		t.Errorf("thread = %+v", msgs)
	}
	if _, err := Thread(ctx, f.store, conv.ID, c, 10); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("outsider Thread err = %v", err)
	}

	n, err := MarkConversationRead(ctx, f.store, conv.ID, a, 10)
	if err != nil || n != 2 {
		t.Errorf("MarkConversationRead = %d, %v", n, err)
	}
	n, _ = MarkConversationRead(ctx, f.store, conv.ID, a, 10)
	if n != 0 {
		t.Errorf("second MarkConversationRead = %d", n)
	}
}

func TestConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b, c := f.profile(t, "a"), f.profile(t, "b"), f.profile(t, "c")
	ab := f.conversation(t, a, b)
	ac := f.conversation(t, c, a)
	f.send(t, ab.ID, b, "hi")
	f.send(t, ab.ID, b, "there")
	if err := f.store.TouchConversation(ctx, ac.ID, f.clock.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	entries, err := Conversations(ctx, f.store, a, 10)
	if err != nil {
		t.Fatalf("Conversations: %v", err)
	}
	if len(entries) != 2 || entries[0].ID != ac.ID || entries[1].ID != ab.ID {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[1].UnreadCount != 2 || entries[0].UnreadCount != 0 {
		t.Errorf("unread = %d, %d", entries[0].UnreadCount, entries[1].UnreadCount)
	}
	if entries[0].OtherParty == nil || entries[0].OtherParty.ID != c {
		t.Errorf("other party = %+v", entries[0].OtherParty)
	}
}
