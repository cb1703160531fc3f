package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zulandar/peerly/internal/logging"
	"github.com/zulandar/peerly/internal/models"
)

func newTestDirectory(t *testing.T, store Store, viewer string) *Directory {
	t.Helper()
	d, err := NewDirectory(DirectoryOpts{Store: store, ViewerID: viewer, Logger: logging.Nop()})
	if err != nil {
		t.Fatalf("NewDirectory: %v", err)
	}
	return d
}

func TestDirectory_Load(t *testing.T) {
	f := newFixture(t)
	a, b, d := f.profile(t, "alice"), f.profile(t, "bob"), f.profile(t, "dana")
	withB := f.conversation(t, a, b)
	withD := f.conversation(t, d, a)
	f.send(t, withB.ID, b, "one")
	f.send(t, withB.ID, b, "two")
	f.send(t, withD.ID, a, "mine")

	dir := newTestDirectory(t, f.store, a)
	entries, err := dir.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	// withD was created last.
	if entries[0].ID != withD.ID || entries[1].ID != withB.ID {
		t.Errorf("order = %s, %s", entries[0].ID, entries[1].ID)
	}
	if entries[0].OtherParty == nil || entries[0].OtherParty.FullName != "dana" {
		t.Errorf("other party = %+v", entries[0].OtherParty)
	}
	if entries[1].OtherParty == nil || entries[1].OtherParty.FullName != "bob" {
		t.Errorf("other party = %+v", entries[1].OtherParty)
	}
	if entries[0].UnreadCount != 0 || entries[1].UnreadCount != 2 {
		t.Errorf("unread = %d, %d", entries[0].UnreadCount, entries[1].UnreadCount)
	}
	if entries[1].Listing == nil || entries[1].Listing.Thumbnail == "" {
		t.Errorf("listing summary = %+v", entries[1].Listing)
	}
	if !dir.Contains(withB.ID) || dir.Contains("other") {
		t.Error("Contains mismatch")
	}
}

func TestDirectory_LoadEmpty(t *testing.T) {
	f := newFixture(t)
	dir := newTestDirectory(t, f.store, f.profile(t, "loner"))
	entries, err := dir.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %+v", entries)
	}
}

func TestDirectory_LoadFailure(t *testing.T) {
	f := newFixture(t)
	dir := newTestDirectory(t, &faultyStore{Store: f.store, failList: true}, "viewer")
	if _, err := dir.Load(context.Background()); !errors.Is(err, errBoom) {
		t.Errorf("err = %v, want boom", err)
	}
	if len(dir.Entries()) != 0 {
		t.Error("entries populated after failure")
	}
}

func TestDirectory_BumpAndClearUnread(t *testing.T) {
	f := newFixture(t)
	a, b, d := f.profile(t, "a"), f.profile(t, "b"), f.profile(t, "d")
	older := f.conversation(t, a, b)
	newer := f.conversation(t, a, d)
	f.send(t, older.ID, b, "hi")

	var emitted int
	dir, err := NewDirectory(DirectoryOpts{
		Store:    f.store,
		ViewerID: a,
		Logger:   logging.Nop(),
		OnChange: func([]Entry) { emitted++ },
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if dir.Entries()[0].ID != newer.ID {
		t.Fatalf("unexpected initial order")
	}

	dir.Bump(older.ID, f.clock.Now().Add(time.Hour))
	if dir.Entries()[0].ID != older.ID {
		t.Error("bump did not move conversation to the top")
	}
	dir.Bump("unknown", time.Now())

	dir.ClearUnread(older.ID)
	dir.ClearUnread(older.ID)
	if dir.Entries()[0].UnreadCount != 0 {
		t.Error("unread not cleared")
	}
	// load, bump, first clear
	if emitted != 3 {
		t.Errorf("emitted %d changes, want 3", emitted)
	}
}

func TestBuildEntries_ViewerNotParticipant(t *testing.T) {
	convs := []models.Conversation{{ID: "c1", BuyerID: "b", SellerID: "s", Buyer: &models.Profile{ID: "b"}}}
	entries := BuildEntries("x", convs, map[string]int{"c1": 4})
	if entries[0].OtherParty != nil || entries[0].UnreadCount != 4 {
		t.Errorf("entry = %+v", entries[0])
	}
}
