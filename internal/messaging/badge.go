package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/realtime"
)

// Badge maintains the viewer's unread message count across every
// conversation.
//
// The count is the size of a set of unread counterparty message IDs,
// seeded by a full recompute and then adjusted per change: an unread
// insert into one of the viewer's conversations adds its ID, a read flip
// removes it. A message for an unknown conversation the viewer takes part
// in, or a Resync from the change feed, triggers a full recompute. Traffic
// in other users' conversations is ignored.
type Badge struct {
	store    Store
	sub      realtime.Subscriber
	viewerID string
	delay    time.Duration
	log      zerolog.Logger
	onChange func(int)

	mu     sync.Mutex
	convs  map[string]bool
	unread map[string]bool
	count  int
	ready  bool
}

// BadgeOpts holds parameters for NewBadge.
type BadgeOpts struct {
	Store      Store
	Subscriber realtime.Subscriber
	ViewerID   string
	Delay      time.Duration // wait before the first subscribe, default 500ms
	Logger     zerolog.Logger
	OnChange   func(count int)
}

// NewBadge validates opts and returns a Badge. Call Run to start it.
func NewBadge(opts BadgeOpts) (*Badge, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("messaging: store is required")
	}
	if opts.Subscriber == nil {
		return nil, fmt.Errorf("messaging: subscriber is required")
	}
	if opts.ViewerID == "" {
		return nil, fmt.Errorf("messaging: viewer is required")
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &Badge{
		store:    opts.Store,
		sub:      opts.Subscriber,
		viewerID: opts.ViewerID,
		delay:    opts.Delay,
		log:      opts.Logger,
		onChange: opts.OnChange,
		convs:    make(map[string]bool),
		unread:   make(map[string]bool),
	}, nil
}

// Count returns the current unread count.
func (b *Badge) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Ready reports whether the first recompute has completed.
func (b *Badge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Run waits the initial delay, subscribes to all message and conversation
// changes, recomputes once and then applies changes until ctx is done.
func (b *Badge) Run(ctx context.Context) error {
	if b.delay > 0 {
		timer := time.NewTimer(b.delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}

	sub, err := b.sub.Subscribe(ctx, realtime.Filter{})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("messaging: badge subscribe: %w", err)
	}
	defer sub.Close()

	b.Recompute(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case c, ok := <-sub.C():
			if !ok {
				return nil
			}
			b.Apply(ctx, c)
		}
	}
}

// Recompute rebuilds the conversation set and unread set from the store.
// Failures are logged and leave the previous count in place.
func (b *Badge) Recompute(ctx context.Context) {
	convIDs, err := b.store.ConversationIDs(ctx, b.viewerID)
	var unreadIDs []string
	if err == nil {
		unreadIDs, err = b.store.UnreadMessageIDs(ctx, b.viewerID, convIDs)
	}
	if err != nil {
		if !apperr.IsTransient(err) {
			b.log.Error().Err(err).Msg("error fetching unread count")
		}
		return
	}

	convs := make(map[string]bool, len(convIDs))
	for _, id := range convIDs {
		convs[id] = true
	}
	unread := make(map[string]bool, len(unreadIDs))
	for _, id := range unreadIDs {
		unread[id] = true
	}

	b.mu.Lock()
	b.convs = convs
	b.unread = unread
	first := !b.ready
	b.ready = true
	b.setCountLocked(first)
}

// Apply adjusts the count for one change.
func (b *Badge) Apply(ctx context.Context, c realtime.Change) {
	switch {
	case c.Type == realtime.Resync:
		b.Recompute(ctx)
	case c.Table == TableConversations && c.Type == realtime.Insert:
		var conv models.Conversation
		if err := c.Decode(&conv); err != nil {
			return
		}
		if conv.HasParticipant(b.viewerID) {
			b.mu.Lock()
			b.convs[conv.ID] = true
			b.mu.Unlock()
		}
	case c.Table == TableMessages:
		var m models.Message
		if err := c.Decode(&m); err != nil {
			b.log.Error().Err(err).Msg("dropping undecodable message change")
			return
		}
		b.applyMessage(ctx, c, m)
	}
}

func (b *Badge) applyMessage(ctx context.Context, c realtime.Change, m models.Message) {
	typ := c.Type
	b.mu.Lock()
	if !b.convs[m.ConversationID] {
		b.mu.Unlock()
		if typ == realtime.Insert && m.SenderID != b.viewerID && b.participates(c.Keys) {
			// A conversation whose insert this badge missed.
			b.Recompute(ctx)
		}
		return
	}
	switch typ {
	case realtime.Insert, realtime.Update:
		if m.SenderID != b.viewerID && !m.IsRead {
			b.unread[m.ID] = true
		} else {
			delete(b.unread, m.ID)
		}
	case realtime.Delete:
		delete(b.unread, m.ID)
	}
	b.setCountLocked(false)
}

// participates reports whether change keys name the viewer as buyer or
// seller.
func (b *Badge) participates(keys map[string]string) bool {
	return keys["buyer_id"] == b.viewerID || keys["seller_id"] == b.viewerID
}

// setCountLocked publishes the set size and releases b.mu.
func (b *Badge) setCountLocked(force bool) {
	changed := force || b.count != len(b.unread)
	b.count = len(b.unread)
	n := b.count
	b.mu.Unlock()
	if changed && b.onChange != nil {
		b.onChange(n)
	}
}
