package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/realtime"
)

// FeedState is the state of a Feed.
type FeedState string

const (
	FeedIdle           FeedState = "idle"
	FeedLoadingHistory FeedState = "loading-history"
	FeedReady          FeedState = "ready"
)

// ErrSuperseded is returned by Select when another selection replaced this
// one before its history arrived. The stale result was discarded.
var ErrSuperseded = errors.New("messaging: selection superseded")

// FeedSnapshot is a point-in-time copy of a Feed.
type FeedSnapshot struct {
	ConversationID string           `json:"conversation_id"`
	State          FeedState        `json:"state"`
	Messages       []models.Message `json:"messages"`
}

// Feed holds the message sequence of the selected conversation and keeps
// it current from the change feed.
//
// Selecting a conversation closes the previous subscription, opens one
// filtered to the new conversation, then loads history. Changes arriving
// during the load queue on the subscription and are folded in after the
// history, so nothing inserted between the fetch and the subscription is
// missed. Every selection carries a token; results for a superseded token
// are dropped.
type Feed struct {
	store        Store
	sub          realtime.Subscriber
	viewerID     string
	historyLimit int
	log          zerolog.Logger
	onChange     func(FeedSnapshot)
	onInsert     func(models.Message)

	mu           sync.Mutex
	state        FeedState
	token        uint64
	timeline     Timeline
	subscription *realtime.Subscription
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// FeedOpts holds parameters for NewFeed.
type FeedOpts struct {
	Store        Store
	Subscriber   realtime.Subscriber
	ViewerID     string
	HistoryLimit int // default 100
	Logger       zerolog.Logger
	// OnChange receives a snapshot after every timeline change.
	OnChange func(FeedSnapshot)
	// OnInsert receives every pushed insert folded into the timeline.
	OnInsert func(models.Message)
}

// NewFeed validates opts and returns an idle Feed.
func NewFeed(opts FeedOpts) (*Feed, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("messaging: store is required")
	}
	if opts.Subscriber == nil {
		return nil, fmt.Errorf("messaging: subscriber is required")
	}
	if opts.ViewerID == "" {
		return nil, fmt.Errorf("messaging: viewer is required")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 100
	}
	return &Feed{
		store:        opts.Store,
		sub:          opts.Subscriber,
		viewerID:     opts.ViewerID,
		historyLimit: opts.HistoryLimit,
		log:          opts.Logger,
		onChange:     opts.OnChange,
		onInsert:     opts.OnInsert,
		state:        FeedIdle,
	}, nil
}

// Snapshot returns a copy of the current state.
func (f *Feed) Snapshot() FeedSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked()
}

func (f *Feed) snapshotLocked() FeedSnapshot {
	msgs := make([]models.Message, len(f.timeline.Messages))
	copy(msgs, f.timeline.Messages)
	return FeedSnapshot{ConversationID: f.timeline.ConversationID, State: f.state, Messages: msgs}
}

// Selected returns the selected conversation ID, or empty when idle.
func (f *Feed) Selected() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timeline.ConversationID
}

// releaseLocked closes the current subscription and stops its pump.
func (f *Feed) releaseLocked() {
	f.token++
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	if f.subscription != nil {
		f.subscription.Close()
		f.subscription = nil
	}
	f.state = FeedIdle
	f.timeline = Timeline{}
}

// Select switches the feed to conversationID and loads its history. An
// empty ID deselects. A history failure leaves the timeline empty but the
// feed still becomes ready with its subscription open; the error is
// returned after logging.
func (f *Feed) Select(ctx context.Context, conversationID string) error {
	f.mu.Lock()
	f.releaseLocked()
	if conversationID == "" {
		snap := f.snapshotLocked()
		f.mu.Unlock()
		f.emit(snap)
		return nil
	}
	token := f.token
	selCtx, cancel := context.WithCancel(context.Background())
	sub, err := f.sub.Subscribe(selCtx, realtime.Filter{
		Table:  TableMessages,
		Column: "conversation_id",
		Value:  conversationID,
	})
	if err != nil {
		cancel()
		f.mu.Unlock()
		return fmt.Errorf("messaging: subscribe %s: %w", conversationID, err)
	}
	f.cancel = cancel
	f.subscription = sub
	f.state = FeedLoadingHistory
	f.timeline = Timeline{ConversationID: conversationID}
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.emit(snap)

	fetchCtx, stop := mergeCancel(ctx, selCtx)
	defer stop()
	history, histErr := f.store.History(fetchCtx, conversationID, f.historyLimit)
	var marked []models.Message
	if histErr == nil {
		if ids := UnreadFrom(f.viewerID, history); len(ids) > 0 {
			var err error
			marked, err = f.store.MarkRead(fetchCtx, f.viewerID, ids)
			if err != nil && !apperr.IsTransient(err) {
				f.log.Error().Err(err).Str("conversation", conversationID).Msg("error marking messages read")
			}
		}
	}

	f.mu.Lock()
	if f.token != token {
		f.mu.Unlock()
		return ErrSuperseded
	}
	if histErr != nil {
		if !apperr.IsTransient(histErr) {
			f.log.Error().Err(histErr).Str("conversation", conversationID).Msg("error fetching messages")
		}
		history = nil
	}
	if len(marked) > 0 {
		read := make(map[string]bool, len(marked))
		for _, m := range marked {
			read[m.ID] = true
		}
		for i := range history {
			if read[history[i].ID] {
				history[i].IsRead = true
			}
		}
	}
	f.timeline = Reduce(f.timeline, Event{Kind: EventHistory, ConversationID: conversationID, Messages: history})
	f.state = FeedReady
	snap = f.snapshotLocked()
	f.wg.Add(1)
	go f.pump(selCtx, token, sub)
	f.mu.Unlock()
	f.emit(snap)

	if histErr != nil {
		return fmt.Errorf("messaging: history %s: %w", conversationID, histErr)
	}
	return nil
}

// mergeCancel returns a context done when either parent is done.
func mergeCancel(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// pump folds subscription changes into the timeline until the selection
// changes.
func (f *Feed) pump(ctx context.Context, token uint64, sub *realtime.Subscription) {
	defer f.wg.Done()
	for c := range sub.C() {
		switch c.Type {
		case realtime.Resync:
			f.resync(ctx, token)
			continue
		case realtime.Insert, realtime.Update:
		default:
			continue
		}
		var m models.Message
		if err := c.Decode(&m); err != nil {
			f.log.Error().Err(err).Msg("dropping undecodable message change")
			continue
		}
		kind := EventInsert
		if c.Type == realtime.Update {
			kind = EventUpdate
		}
		if !f.apply(token, Event{Kind: kind, ConversationID: m.ConversationID, Message: m}) {
			return
		}
		if kind == EventInsert && f.onInsert != nil {
			f.onInsert(m)
		}
	}
}

// apply reduces e into the timeline if token is still current.
func (f *Feed) apply(token uint64, e Event) bool {
	f.mu.Lock()
	if f.token != token {
		f.mu.Unlock()
		return false
	}
	f.timeline = Reduce(f.timeline, e)
	snap := f.snapshotLocked()
	f.mu.Unlock()
	f.emit(snap)
	return true
}

// resync refetches history after the change feed reported lost events.
func (f *Feed) resync(ctx context.Context, token uint64) {
	f.mu.Lock()
	convID := f.timeline.ConversationID
	current := f.token == token
	f.mu.Unlock()
	if !current {
		return
	}
	history, err := f.store.History(ctx, convID, f.historyLimit)
	if err != nil {
		if !apperr.IsTransient(err) {
			f.log.Error().Err(err).Str("conversation", convID).Msg("error refetching messages")
		}
		return
	}
	f.apply(token, Event{Kind: EventHistory, ConversationID: convID, Messages: history})
}

// AppendLocal folds the viewer's own acknowledged message into the
// timeline if its conversation is selected and ready.
func (f *Feed) AppendLocal(m models.Message) bool {
	f.mu.Lock()
	if f.state != FeedReady || f.timeline.ConversationID != m.ConversationID {
		f.mu.Unlock()
		return false
	}
	token := f.token
	f.mu.Unlock()
	return f.apply(token, Event{Kind: EventLocalSend, ConversationID: m.ConversationID, Message: m})
}

// Close releases the subscription and waits for the pump to stop.
func (f *Feed) Close() {
	f.mu.Lock()
	f.releaseLocked()
	f.mu.Unlock()
	f.wg.Wait()
}

func (f *Feed) emit(s FeedSnapshot) {
	if f.onChange != nil {
		f.onChange(s)
	}
}
