// Package discord posts moderation alerts to a Discord channel.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/peerly/internal/moderation"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries  = 3
	baseBackoff = 2 * time.Second
	maxBackoff  = 30 * time.Second
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier implements moderation.Notifier over the Discord REST API. No
// gateway connection is opened.
type Notifier struct {
	sess        session
	channelID   string
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for New.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel is required")
	}
	sess := opts.Session
	if sess == nil {
		s, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: new session: %w", err)
		}
		sess = s
	}
	return &Notifier{sess: sess, channelID: opts.ChannelID, baseBackoff: baseBackoff, maxBackoff: maxBackoff}, nil
}

// Notify posts a as an embed.
func (n *Notifier) Notify(ctx context.Context, a moderation.Alert) error {
	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{alertToEmbed(a)}}
	err := n.retryOnRateLimit(ctx, func() error {
		_, err := n.sess.ChannelMessageSendComplex(n.channelID, data, discordgo.WithContext(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("discord: send alert: %w", err)
	}
	return nil
}

func alertToEmbed(a moderation.Alert) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		Description: a.Body,
		Color:       parseHexColor(a.Color),
	}
	for _, f := range a.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Short,
		})
	}
	return embed
}

// parseHexColor converts "#36a64f" to an int. Invalid digits are skipped.
func parseHexColor(hex string) int {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	var color int
	for _, c := range hex {
		switch {
		case c >= '0' && c <= '9':
			color = color<<4 | int(c-'0')
		case c >= 'a' && c <= 'f':
			color = color<<4 | int(c-'a'+10)
		case c >= 'A' && c <= 'F':
			color = color<<4 | int(c-'A'+10)
		}
	}
	return color
}

// retryOnRateLimit calls fn and retries with exponential backoff on HTTP
// 429 responses. It respects context cancellation.
func (n *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil ||
			restErr.Response.StatusCode != http.StatusTooManyRequests || attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * n.baseBackoff
		if wait > n.maxBackoff {
			wait = n.maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
