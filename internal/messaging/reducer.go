package messaging

import (
	"github.com/zulandar/peerly/internal/models"
)

// EventKind tags a timeline event.
type EventKind int

const (
	// EventHistory carries a fetched history window.
	EventHistory EventKind = iota
	// EventInsert carries a pushed insert.
	EventInsert
	// EventUpdate carries a pushed update (read flag flips).
	EventUpdate
	// EventLocalSend carries the sender's own message after persistence ack.
	EventLocalSend
)

func (k EventKind) String() string {
	switch k {
	case EventHistory:
		return "history"
	case EventInsert:
		return "insert"
	case EventUpdate:
		return "update"
	case EventLocalSend:
		return "local-send"
	}
	return "unknown"
}

// Event is one input to Reduce.
type Event struct {
	Kind           EventKind
	ConversationID string
	Messages       []models.Message // EventHistory
	Message        models.Message   // all other kinds
}

// Timeline is the displayed message sequence of one conversation.
// Messages are unique by ID.
type Timeline struct {
	ConversationID string
	Messages       []models.Message
}

// Reduce folds e into t and returns the new timeline; t is not modified.
//
// History replaces the sequence with the fetched window. Known entries the
// window lacks keep their place by creation time: older ones before the
// window, newer ones (local echoes, pushes the fetch missed) after it.
// Inserts and local
// sends are idempotent by ID, and a local echo is reconciled with its
// pushed copy by ClientID; new entries are appended at the tail without
// re-sorting. Updates apply only to known IDs. A read flag never goes
// back to unread.
func Reduce(t Timeline, e Event) Timeline {
	if e.ConversationID != t.ConversationID {
		return t
	}
	switch e.Kind {
	case EventHistory:
		return applyHistory(t, e.Messages)
	case EventInsert, EventLocalSend:
		if e.Message.ConversationID != t.ConversationID || e.Message.ID == "" {
			return t
		}
		return merge(t, e.Message, true)
	case EventUpdate:
		if e.Message.ConversationID != t.ConversationID {
			return t
		}
		return merge(t, e.Message, false)
	}
	return t
}

// applyHistory folds a fetched window, ordered by creation time, into t.
func applyHistory(t Timeline, window []models.Message) Timeline {
	out := Timeline{ConversationID: t.ConversationID}
	for _, m := range window {
		if m.ConversationID == t.ConversationID {
			out = merge(out, m, true)
		}
	}
	fetched := len(out.Messages)
	if fetched == 0 {
		for _, m := range t.Messages {
			out = merge(out, m, true)
		}
		return out
	}
	first, last := out.Messages[0].CreatedAt, out.Messages[fetched-1].CreatedAt

	var head, tail []models.Message
	for _, m := range t.Messages {
		if i := indexOf(out.Messages, m); i >= 0 {
			out.Messages[i].IsRead = out.Messages[i].IsRead || m.IsRead
			if out.Messages[i].ClientID == "" {
				out.Messages[i].ClientID = m.ClientID
			}
			continue
		}
		switch {
		case m.CreatedAt.Before(first):
			head = append(head, m)
		case !m.CreatedAt.Before(last):
			tail = append(tail, m)
		default:
			// Inside the window's span: place it by creation time.
			pos := fetched
			for pos > 0 && m.CreatedAt.Before(out.Messages[pos-1].CreatedAt) {
				pos--
			}
			out.Messages = append(out.Messages[:pos], append([]models.Message{m}, out.Messages[pos:]...)...)
			fetched++
		}
	}

	msgs := make([]models.Message, 0, len(head)+len(out.Messages)+len(tail))
	msgs = append(msgs, head...)
	msgs = append(msgs, out.Messages...)
	msgs = append(msgs, tail...)
	return Timeline{ConversationID: t.ConversationID, Messages: msgs}
}

// indexOf finds m in msgs by ID, then by ClientID, or returns -1.
func indexOf(msgs []models.Message, m models.Message) int {
	for i := range msgs {
		if msgs[i].ID == m.ID {
			return i
		}
	}
	if m.ClientID != "" {
		for i := range msgs {
			if msgs[i].ClientID == m.ClientID {
				return i
			}
		}
	}
	return -1
}

// merge applies m by ID, then by ClientID. When appendNew is false an
// unknown message is dropped.
func merge(t Timeline, m models.Message, appendNew bool) Timeline {
	idx := indexOf(t.Messages, m)
	if idx < 0 {
		if !appendNew {
			return t
		}
		msgs := make([]models.Message, len(t.Messages), len(t.Messages)+1)
		copy(msgs, t.Messages)
		return Timeline{ConversationID: t.ConversationID, Messages: append(msgs, m)}
	}

	msgs := make([]models.Message, len(t.Messages))
	copy(msgs, t.Messages)
	prev := msgs[idx]
	m.IsRead = m.IsRead || prev.IsRead
	if m.ClientID == "" {
		m.ClientID = prev.ClientID
	}
	msgs[idx] = m
	return Timeline{ConversationID: t.ConversationID, Messages: msgs}
}

// Fold applies events in order.
func Fold(t Timeline, events ...Event) Timeline {
	for _, e := range events {
		t = Reduce(t, e)
	}
	return t
}

// UnreadFrom returns the IDs of unread messages in msgs not sent by viewerID.
func UnreadFrom(viewerID string, msgs []models.Message) []string {
	var ids []string
	for _, m := range msgs {
		if m.SenderID != viewerID && !m.IsRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
