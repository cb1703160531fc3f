// Package slack posts moderation alerts to a Slack channel.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/peerly/internal/moderation"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier implements moderation.Notifier with chat.postMessage.
type Notifier struct {
	client      slackClient
	channelID   string
	baseBackoff time.Duration
}

// Opts holds parameters for New.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel is required")
	}
	client := opts.Client
	if client == nil {
		client = slackapi.New(opts.BotToken)
	}
	return &Notifier{client: client, channelID: opts.ChannelID, baseBackoff: time.Second}, nil
}

// Notify posts a as a message attachment.
func (n *Notifier) Notify(ctx context.Context, a moderation.Alert) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(a.Title, false),
		slackapi.MsgOptionAttachments(alertToAttachment(a)),
	}
	err := n.retryOnRateLimit(ctx, func() error {
		_, _, err := n.client.PostMessage(n.channelID, options...)
		return err
	})
	if err != nil {
		return fmt.Errorf("slack: post alert: %w", err)
	}
	return nil
}

func alertToAttachment(a moderation.Alert) slackapi.Attachment {
	att := slackapi.Attachment{
		Title:    a.Title,
		Text:     a.Body,
		Color:    a.Color,
		Fallback: a.Title,
	}
	for _, f := range a.Fields {
		att.Fields = append(att.Fields, slackapi.AttachmentField{
			Title: f.Name,
			Value: f.Value,
			Short: f.Short,
		})
	}
	return att
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors, honoring Slack's RetryAfter and context cancellation.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
