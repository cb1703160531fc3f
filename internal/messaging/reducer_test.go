package messaging

import (
	"testing"
	"time"

	"github.com/zulandar/peerly/internal/models"
)

func msg(id, conv, sender string, read bool) models.Message {
	return models.Message{ID: id, ConversationID: conv, SenderID: sender, Content: "text " + id, IsRead: read}
}

func ids(msgs []models.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReduce(t *testing.T) {
	tests := []struct {
		name   string
		events []Event
		want   []string
	}{
		{
			name: "history then insert appends",
			events: []Event{
				{Kind: EventHistory, ConversationID: "c1", Messages: []models.Message{msg("m1", "c1", "a", true), msg("m2", "c1", "b", true)}},
				{Kind: EventInsert, ConversationID: "c1", Message: msg("m3", "c1", "a", false)},
			},
			want: []string{"m1", "m2", "m3"},
		},
		{
			name: "duplicate insert is idempotent",
			events: []Event{
				{Kind: EventInsert, ConversationID: "c1", Message: msg("m1", "c1", "a", false)},
				{Kind: EventInsert, ConversationID: "c1", Message: msg("m1", "c1", "a", false)},
			},
			want: []string{"m1"},
		},
		{
			name: "insert present in history is not duplicated",
			events: []Event{
				{Kind: EventInsert, ConversationID: "c1", Message: msg("m2", "c1", "a", false)},
				{Kind: EventHistory, ConversationID: "c1", Messages: []models.Message{msg("m1", "c1", "a", true), msg("m2", "c1", "a", false)}},
			},
			want: []string{"m1", "m2"},
		},
		{
			name: "pushed entries missing from history stay at the tail",
			events: []Event{
				{Kind: EventInsert, ConversationID: "c1", Message: msg("m9", "c1", "a", false)},
				{Kind: EventHistory, ConversationID: "c1", Messages: []models.Message{msg("m1", "c1", "a", true)}},
			},
			want: []string{"m1", "m9"},
		},
		{
			name: "other conversation ignored",
			events: []Event{
				{Kind: EventInsert, ConversationID: "c2", Message: msg("m1", "c2", "a", false)},
				{Kind: EventHistory, ConversationID: "c2", Messages: []models.Message{msg("m2", "c2", "a", false)}},
			},
			want: []string{},
		},
		{
			name: "insert tagged with the wrong conversation ignored",
			events: []Event{
				{Kind: EventInsert, ConversationID: "c1", Message: msg("m1", "c2", "a", false)},
			},
			want: []string{},
		},
		{
			name: "update for unknown id ignored",
			events: []Event{
				{Kind: EventUpdate, ConversationID: "c1", Message: msg("m1", "c1", "a", true)},
			},
			want: []string{},
		},
		{
			name: "arrival order kept without re-sorting",
			events: []Event{
				{Kind: EventInsert, ConversationID: "c1", Message: msg("m5", "c1", "a", false)},
				{Kind: EventInsert, ConversationID: "c1", Message: msg("m4", "c1", "b", false)},
			},
			want: []string{"m5", "m4"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Fold(Timeline{ConversationID: "c1"}, tt.events...)
			if !equalIDs(ids(got.Messages), tt.want) {
				t.Errorf("ids = %v, want %v", ids(got.Messages), tt.want)
			}
		})
	}
}

func TestReduce_HistoryShorterThanTimeline(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	at := func(id string, minute int) models.Message {
		m := msg(id, "c1", "a", true)
		m.CreatedAt = base.Add(time.Duration(minute) * time.Minute)
		return m
	}
	echo := at("m7", 7)
	echo.ClientID = "client-7"

	tl := Timeline{ConversationID: "c1", Messages: []models.Message{at("m1", 1), at("m2", 2), at("m3", 3), echo}}
	tl = Reduce(tl, Event{Kind: EventHistory, ConversationID: "c1", Messages: []models.Message{
		at("m2", 2), at("m3", 3), at("m4", 4), at("m6", 6),
	}})
	// m5 arrives by push and a later refetch that raced with it lacks it.
	tl = Reduce(tl, Event{Kind: EventInsert, ConversationID: "c1", Message: at("m5", 5)})
	tl = Reduce(tl, Event{Kind: EventHistory, ConversationID: "c1", Messages: []models.Message{
		at("m3", 3), at("m4", 4), at("m6", 6),
	}})

	want := []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	if got := ids(tl.Messages); !equalIDs(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	if tl.Messages[6].ClientID != "client-7" {
		t.Errorf("local echo lost its ClientID: %+v", tl.Messages[6])
	}
}

func TestReduce_ReadStateMonotonic(t *testing.T) {
	tl := Fold(Timeline{ConversationID: "c1"},
		Event{Kind: EventInsert, ConversationID: "c1", Message: msg("m1", "c1", "a", false)},
		Event{Kind: EventUpdate, ConversationID: "c1", Message: msg("m1", "c1", "a", true)},
	)
	if !tl.Messages[0].IsRead {
		t.Fatal("update did not mark read")
	}

	// A late copy of the insert and a stale history window both carry the
	// old unread flag.
	tl = Fold(tl,
		Event{Kind: EventInsert, ConversationID: "c1", Message: msg("m1", "c1", "a", false)},
		Event{Kind: EventHistory, ConversationID: "c1", Messages: []models.Message{msg("m1", "c1", "a", false)}},
		Event{Kind: EventUpdate, ConversationID: "c1", Message: msg("m1", "c1", "a", false)},
	)
	if len(tl.Messages) != 1 {
		t.Fatalf("len = %d, want 1", len(tl.Messages))
	}
	if !tl.Messages[0].IsRead {
		t.Error("read message went back to unread")
	}
}

func TestReduce_LocalEchoReconciledByClientID(t *testing.T) {
	local := msg("m1", "c1", "me", false)
	local.ClientID = "client-1"
	pushed := local
	pushed.Content = "server copy"

	for _, order := range []string{"local first", "push first"} {
		t.Run(order, func(t *testing.T) {
			first, second := Event{Kind: EventLocalSend, ConversationID: "c1", Message: local},
				Event{Kind: EventInsert, ConversationID: "c1", Message: pushed}
			if order == "push first" {
				first, second = second, first
			}
			tl := Fold(Timeline{ConversationID: "c1"}, first, second)
			if len(tl.Messages) != 1 {
				t.Fatalf("len = %d, want 1", len(tl.Messages))
			}
			if tl.Messages[0].ClientID != "client-1" {
				t.Errorf("ClientID = %q", tl.Messages[0].ClientID)
			}
		})
	}
}

func TestReduce_ClientIDMatchWithoutID(t *testing.T) {
	tl := Timeline{ConversationID: "c1", Messages: []models.Message{{ID: "tmp", ConversationID: "c1", SenderID: "me", ClientID: "k"}}}
	tl = Reduce(tl, Event{Kind: EventInsert, ConversationID: "c1", Message: models.Message{ID: "m1", ConversationID: "c1", SenderID: "me", ClientID: "k"}})
	if got := ids(tl.Messages); !equalIDs(got, []string{"m1"}) {
		t.Errorf("ids = %v, want [m1]", got)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	orig := Timeline{ConversationID: "c1", Messages: []models.Message{msg("m1", "c1", "a", false)}}
	_ = Reduce(orig, Event{Kind: EventUpdate, ConversationID: "c1", Message: msg("m1", "c1", "a", true)})
	_ = Reduce(orig, Event{Kind: EventInsert, ConversationID: "c1", Message: msg("m2", "c1", "a", false)})
	if orig.Messages[0].IsRead || len(orig.Messages) != 1 {
		t.Errorf("input timeline mutated: %+v", orig.Messages)
	}
}

func TestUnreadFrom(t *testing.T) {
	msgs := []models.Message{
		msg("m1", "c1", "a", false),
		msg("m2", "c1", "b", false),
		msg("m3", "c1", "a", true),
		msg("m4", "c1", "a", false),
	}
	if got := UnreadFrom("b", msgs); !equalIDs(got, []string{"m1", "m4"}) {
		t.Errorf("UnreadFrom = %v", got)
	}
	if got := UnreadFrom("a", msgs); !equalIDs(got, []string{"m2"}) {
		t.Errorf("UnreadFrom = %v", got)
	}
}

func TestEventKindString(t *testing.T) {
	if EventLocalSend.String() != "local-send" || EventKind(99).String() != "unknown" {
		t.Error("unexpected EventKind strings")
	}
}
