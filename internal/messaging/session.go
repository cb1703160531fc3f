package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/realtime"
)

// Update event names, shared by the SSE and WebSocket streams.
const (
	UpdateConversations = "conversation"
	UpdateMessages      = "message"
	UpdateUnread        = "unread"
	UpdateInput         = "input"
)

// Update is one notification for the client rendering a Session.
type Update struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// UnreadData is the payload of an unread update.
type UnreadData struct {
	Count int `json:"count"`
}

// Settings tunes a Session.
type Settings struct {
	HistoryLimit      int
	DirectoryLimit    int
	BadgeDelay        time.Duration
	LocalEcho         bool
	SendRatePerMinute int
}

// Session is one signed-in view of the messaging UI: a conversation
// directory, a message feed for the selected conversation, the global
// unread badge and a composer, all for one viewer.
type Session struct {
	ID     string
	UserID string

	Directory *Directory
	Feed      *Feed
	Badge     *Badge
	Composer  *Composer

	store   Store
	log     zerolog.Logger
	updates chan Update

	mu        sync.Mutex
	cancel    context.CancelFunc
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

// SessionOpts holds parameters for NewSession.
type SessionOpts struct {
	Store      Store
	Subscriber realtime.Subscriber
	UserID     string
	Settings   Settings
	Logger     zerolog.Logger
	// Buffer is the depth of the Updates channel, default 64.
	Buffer int
}

// NewSession wires the messaging components for one viewer. Call Start to
// load the directory and run the badge.
func NewSession(opts SessionOpts) (*Session, error) {
	if opts.UserID == "" {
		return nil, fmt.Errorf("messaging: user is required")
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 64
	}
	s := &Session{
		ID:      uuid.NewString(),
		UserID:  opts.UserID,
		store:   opts.Store,
		updates: make(chan Update, opts.Buffer),
		done:    make(chan struct{}),
	}
	s.log = opts.Logger.With().Str("session", s.ID).Str("user", opts.UserID).Logger()

	var err error
	s.Directory, err = NewDirectory(DirectoryOpts{
		Store:    opts.Store,
		ViewerID: opts.UserID,
		Limit:    opts.Settings.DirectoryLimit,
		Logger:   s.log,
		OnChange: func(e []Entry) { s.push(UpdateConversations, e) },
	})
	if err != nil {
		return nil, err
	}
	s.Feed, err = NewFeed(FeedOpts{
		Store:        opts.Store,
		Subscriber:   opts.Subscriber,
		ViewerID:     opts.UserID,
		HistoryLimit: opts.Settings.HistoryLimit,
		Logger:       s.log,
		OnChange:     func(f FeedSnapshot) { s.push(UpdateMessages, f) },
		OnInsert:     func(m models.Message) { s.Directory.Bump(m.ConversationID, m.CreatedAt) },
	})
	if err != nil {
		return nil, err
	}
	s.Badge, err = NewBadge(BadgeOpts{
		Store:      opts.Store,
		Subscriber: opts.Subscriber,
		ViewerID:   opts.UserID,
		Delay:      opts.Settings.BadgeDelay,
		Logger:     s.log,
		OnChange:   func(n int) { s.push(UpdateUnread, UnreadData{Count: n}) },
	})
	if err != nil {
		return nil, err
	}
	s.Composer, err = NewComposer(ComposerOpts{
		Store:         opts.Store,
		ViewerID:      opts.UserID,
		LocalEcho:     opts.Settings.LocalEcho,
		RatePerMinute: opts.Settings.SendRatePerMinute,
		Logger:        s.log,
		OnSent:        func(m models.Message) { s.Feed.AppendLocal(m) },
		OnInput:       func(in string) { s.push(UpdateInput, in) },
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start loads the directory and runs the badge until Close. A directory
// failure is logged by the directory and does not stop the session. Start
// does nothing once the session is started or closed.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	go func() {
		defer close(s.done)
		if err := s.Badge.Run(ctx); err != nil {
			s.log.Error().Err(err).Msg("unread badge stopped")
		}
	}()
	s.Directory.Load(ctx)
}

// Updates streams notifications for the client. Updates are dropped when
// the client falls more than the buffer behind.
func (s *Session) Updates() <-chan Update { return s.updates }

// Done is closed once the session has stopped, either through Close or
// because the context passed to Start ended.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) push(event string, data any) {
	select {
	case s.updates <- Update{Event: event, Data: data}:
	default:
		s.log.Warn().Str("event", event).Msg("session update dropped")
	}
}

// Select opens conversationID in the feed after checking the viewer takes
// part in it, and clears its directory unread count.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	if conversationID != "" {
		conv, err := s.store.Conversation(ctx, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(s.UserID) {
			return apperr.Forbidden("not a participant in this conversation")
		}
	}
	err := s.Feed.Select(ctx, conversationID)
	if err == nil && conversationID != "" {
		s.Directory.ClearUnread(conversationID)
	}
	return err
}

// Send puts text in the composer and submits it to the selected
// conversation.
func (s *Session) Send(ctx context.Context, text string) (*models.Message, error) {
	s.Composer.SetInput(text)
	return s.Composer.Submit(ctx, s.Feed.Selected())
}

// Close stops the badge, releases the feed subscription and waits for
// background work to finish.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
			<-s.done
		} else {
			close(s.done)
		}
		s.Feed.Close()
	})
}

// Registry tracks live sessions so they can be found by ID and torn down
// when their user signs out.
type Registry struct {
	store      Store
	subscriber realtime.Subscriber
	settings   Settings
	log        zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// RegistryOpts holds parameters for NewRegistry.
type RegistryOpts struct {
	Store      Store
	Subscriber realtime.Subscriber
	Settings   Settings
	Logger     zerolog.Logger
}

// NewRegistry validates opts and returns an empty Registry.
func NewRegistry(opts RegistryOpts) (*Registry, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("messaging: store is required")
	}
	if opts.Subscriber == nil {
		return nil, fmt.Errorf("messaging: subscriber is required")
	}
	return &Registry{
		store:      opts.Store,
		subscriber: opts.Subscriber,
		settings:   opts.Settings,
		log:        opts.Logger,
		sessions:   make(map[string]*Session),
	}, nil
}

// Open creates, registers and starts a session for userID.
func (r *Registry) Open(ctx context.Context, userID string) (*Session, error) {
	s, err := NewSession(SessionOpts{
		Store:      r.store,
		Subscriber: r.subscriber,
		UserID:     userID,
		Settings:   r.settings,
		Logger:     r.log,
	})
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	s.Start(ctx)
	return s, nil
}

// Get returns the session with id if it belongs to userID.
func (r *Registry) Get(id, userID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok || s.UserID != userID {
		return nil, apperr.NotFound("session not found")
	}
	return s, nil
}

// Close closes and forgets one session.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
}

// CloseUser closes every session of userID and returns how many there were.
func (r *Registry) CloseUser(userID string) int {
	r.mu.Lock()
	var victims []*Session
	for id, s := range r.sessions {
		if s.UserID == userID {
			victims = append(victims, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range victims {
		s.Close()
	}
	return len(victims)
}

// CloseAll closes every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
