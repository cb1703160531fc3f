package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"golang.org/x/time/rate"
)

// MaxContentLength bounds a single message.
const MaxContentLength = 4000

// Send persists a message and then bumps the conversation's last-activity
// marker. The two writes are independent: a failed touch is logged and
// the message is still returned.
func Send(ctx context.Context, store Store, log zerolog.Logger, conversationID, senderID, text string) (*models.Message, error) {
	if conversationID == "" {
		return nil, apperr.Invalid("conversation is required")
	}
	if senderID == "" {
		return nil, apperr.Invalid("sender is required")
	}
	content := strings.TrimSpace(text)
	if content == "" {
		return nil, apperr.Invalid("message is empty")
	}
	if len(content) > MaxContentLength {
		return nil, apperr.Invalid(fmt.Sprintf("message exceeds %d characters", MaxContentLength))
	}

	msg := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ClientID:       uuid.NewString(),
	}
	if err := store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := store.TouchConversation(ctx, conversationID, msg.CreatedAt); err != nil && !apperr.IsTransient(err) {
		log.Error().Err(err).Str("conversation", conversationID).Msg("error updating conversation timestamp")
	}
	return msg, nil
}

// Composer holds the viewer's unsent input. Submit clears the input before
// persisting and restores it verbatim if persistence fails.
type Composer struct {
	store    Store
	viewerID string
	echo     bool
	log      zerolog.Logger
	limiter  *rate.Limiter
	onSent   func(models.Message)
	onInput  func(string)

	mu      sync.Mutex
	input   string
	sending bool
}

// ComposerOpts holds parameters for NewComposer.
type ComposerOpts struct {
	Store    Store
	ViewerID string
	// LocalEcho hands each acknowledged message to OnSent without waiting
	// for the change feed.
	LocalEcho bool
	// RatePerMinute caps sends; zero disables the limit.
	RatePerMinute int
	Logger        zerolog.Logger
	OnSent        func(models.Message)
	OnInput       func(string)
}

// NewComposer validates opts and returns a Composer with empty input.
func NewComposer(opts ComposerOpts) (*Composer, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("messaging: store is required")
	}
	if opts.ViewerID == "" {
		return nil, fmt.Errorf("messaging: viewer is required")
	}
	c := &Composer{
		store:    opts.Store,
		viewerID: opts.ViewerID,
		echo:     opts.LocalEcho,
		log:      opts.Logger,
		onSent:   opts.OnSent,
		onInput:  opts.OnInput,
	}
	if opts.RatePerMinute > 0 {
		burst := opts.RatePerMinute / 3
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(opts.RatePerMinute)/60.0), burst)
	}
	return c, nil
}

// Input returns the current input text.
func (c *Composer) Input() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// SetInput replaces the input text.
func (c *Composer) SetInput(s string) {
	c.mu.Lock()
	c.input = s
	c.mu.Unlock()
	c.emitInput(s)
}

// Submit sends the current input to conversationID.
func (c *Composer) Submit(ctx context.Context, conversationID string) (*models.Message, error) {
	c.mu.Lock()
	raw := c.input
	switch {
	case strings.TrimSpace(raw) == "":
		c.mu.Unlock()
		return nil, apperr.Invalid("message is empty")
	case len(strings.TrimSpace(raw)) > MaxContentLength:
		c.mu.Unlock()
		return nil, apperr.Invalid(fmt.Sprintf("message exceeds %d characters", MaxContentLength))
	case conversationID == "":
		c.mu.Unlock()
		return nil, apperr.Invalid("conversation is required")
	case c.sending:
		c.mu.Unlock()
		return nil, apperr.New(apperr.ErrConflict, "a message is already being sent")
	case c.limiter != nil && !c.limiter.Allow():
		c.mu.Unlock()
		return nil, apperr.New(apperr.ErrRateLimited, "you are sending messages too quickly")
	}
	c.sending = true
	c.input = ""
	c.mu.Unlock()
	c.emitInput("")

	msg, err := Send(ctx, c.store, c.log, conversationID, c.viewerID, raw)

	c.mu.Lock()
	c.sending = false
	if err != nil {
		c.input = raw
	}
	c.mu.Unlock()

	if err != nil {
		if !apperr.IsTransient(err) {
			c.log.Error().Err(err).Str("conversation", conversationID).Msg("error sending message")
		}
		c.emitInput(raw)
		return nil, err
	}
	if c.echo && c.onSent != nil {
		c.onSent(*msg)
	}
	return msg, nil
}

func (c *Composer) emitInput(s string) {
	if c.onInput != nil {
		c.onInput(s)
	}
}
