package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBridge publishes changes to Redis channels named <prefix>:<table>
// and pumps every such channel back into a local Hub, so sessions served
// by different processes see the same feed.
type RedisBridge struct {
	client  *redis.Client
	prefix  string
	hub     *Hub
	log     zerolog.Logger
	backoff time.Duration
}

// RedisBridgeOpts holds parameters for NewRedisBridge.
type RedisBridgeOpts struct {
	Client  *redis.Client
	Prefix  string
	Hub     *Hub
	Logger  zerolog.Logger
	Backoff time.Duration // delay before resubscribing, default 2s
}

// NewRedisBridge validates opts and returns a bridge. Call Run to start
// pumping remote changes into the hub.
func NewRedisBridge(opts RedisBridgeOpts) (*RedisBridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("realtime: redis client is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("realtime: hub is required")
	}
	if opts.Prefix == "" {
		opts.Prefix = "peerly"
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 2 * time.Second
	}
	return &RedisBridge{
		client:  opts.Client,
		prefix:  opts.Prefix,
		hub:     opts.Hub,
		log:     opts.Logger,
		backoff: opts.Backoff,
	}, nil
}

// Channel returns the Redis channel for table.
func (b *RedisBridge) Channel(table string) string {
	return b.prefix + ":" + table
}

// Publish sends c to Redis. Local subscribers receive it through Run.
func (b *RedisBridge) Publish(ctx context.Context, c Change) error {
	if c.At.IsZero() {
		c.At = time.Now().UTC()
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("realtime: marshal change: %w", err)
	}
	if err := b.client.Publish(ctx, b.Channel(c.Table), data).Err(); err != nil {
		return fmt.Errorf("realtime: publish %s: %w", b.Channel(c.Table), err)
	}
	return nil
}

// Subscribe opens a subscription on the local hub.
func (b *RedisBridge) Subscribe(ctx context.Context, f Filter) (*Subscription, error) {
	return b.hub.Subscribe(ctx, f)
}

// Run pattern-subscribes to <prefix>:* and forwards every message into the
// hub until ctx is done. Each successful (re)subscription broadcasts a
// Resync, since anything published while disconnected was missed.
func (b *RedisBridge) Run(ctx context.Context) error {
	for {
		err := b.pump(ctx)
		if ctx.Err() != nil {
			return nil
		}
		b.log.Warn().Err(err).Dur("backoff", b.backoff).Msg("redis subscription lost")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(b.backoff):
		}
	}
}

func (b *RedisBridge) pump(ctx context.Context) error {
	ps := b.client.PSubscribe(ctx, b.prefix+":*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("realtime: psubscribe: %w", err)
	}
	b.log.Debug().Str("pattern", b.prefix+":*").Msg("redis subscription active")
	b.hub.Publish(ctx, Change{Type: Resync, At: time.Now().UTC()})

	for {
		msg, err := ps.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, redis.ErrClosed) {
				return err
			}
			return fmt.Errorf("realtime: receive: %w", err)
		}
		c, err := b.decode(msg)
		if err != nil {
			b.log.Error().Err(err).Str("channel", msg.Channel).Msg("dropping malformed change")
			continue
		}
		b.hub.Publish(ctx, c)
	}
}

func (b *RedisBridge) decode(msg *redis.Message) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
		return Change{}, fmt.Errorf("realtime: decode change: %w", err)
	}
	if c.Table == "" {
		c.Table = strings.TrimPrefix(msg.Channel, b.prefix+":")
	}
	return c, nil
}
