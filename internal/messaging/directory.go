package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
)

// Party is the display summary of the other participant.
type Party struct {
	ID        string  `json:"id"`
	FullName  string  `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}

// ListingSummary is the display summary of a conversation's listing.
type ListingSummary struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// Entry is one row of the conversation directory.
type Entry struct {
	ID          string          `json:"id"`
	ListingID   string          `json:"listing_id"`
	BuyerID     string          `json:"buyer_id"`
	SellerID    string          `json:"seller_id"`
	UpdatedAt   time.Time       `json:"updated_at"`
	OtherParty  *Party          `json:"other_party"`
	Listing     *ListingSummary `json:"listing,omitempty"`
	UnreadCount int             `json:"unread_count"`
}

// BuildEntries joins conversations with unread counts from viewerID's
// point of view, preserving order.
func BuildEntries(viewerID string, convs []models.Conversation, unread map[string]int) []Entry {
	entries := make([]Entry, 0, len(convs))
	for _, c := range convs {
		e := Entry{
			ID:          c.ID,
			ListingID:   c.ListingID,
			BuyerID:     c.BuyerID,
			SellerID:    c.SellerID,
			UpdatedAt:   c.UpdatedAt,
			UnreadCount: unread[c.ID],
		}
		var other *models.Profile
		switch viewerID {
		case c.BuyerID:
			other = c.Seller
		case c.SellerID:
			other = c.Buyer
		}
		if other != nil {
			e.OtherParty = &Party{ID: other.ID, FullName: other.FullName, AvatarURL: other.AvatarURL}
		}
		if c.Listing != nil {
			e.Listing = &ListingSummary{ID: c.Listing.ID, Title: c.Listing.Title, Thumbnail: c.Listing.Thumbnail()}
		}
		entries = append(entries, e)
	}
	return entries
}

// Directory is the viewer's conversation list with per-conversation
// unread counts.
type Directory struct {
	store    Store
	viewerID string
	limit    int
	log      zerolog.Logger
	onChange func([]Entry)

	mu      sync.Mutex
	entries []Entry
}

// DirectoryOpts holds parameters for NewDirectory.
type DirectoryOpts struct {
	Store    Store
	ViewerID string
	Limit    int // default 50
	Logger   zerolog.Logger
	OnChange func([]Entry)
}

// NewDirectory validates opts and returns an empty Directory.
func NewDirectory(opts DirectoryOpts) (*Directory, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("messaging: store is required")
	}
	if opts.ViewerID == "" {
		return nil, fmt.Errorf("messaging: viewer is required")
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	return &Directory{
		store:    opts.Store,
		viewerID: opts.ViewerID,
		limit:    opts.Limit,
		log:      opts.Logger,
		onChange: opts.OnChange,
	}, nil
}

// Load fetches the viewer's most recent conversations and their unread
// counts. An empty result is not an error. Failures are logged unless
// transient and returned; nothing is retried.
func (d *Directory) Load(ctx context.Context) ([]Entry, error) {
	entries, err := d.fetch(ctx)
	if err != nil {
		if !apperr.IsTransient(err) {
			d.log.Error().Err(err).Msg("error fetching conversations")
		}
		return nil, err
	}
	d.mu.Lock()
	d.entries = entries
	out := d.copyLocked()
	d.mu.Unlock()
	d.emit(out)
	return out, nil
}

func (d *Directory) fetch(ctx context.Context) ([]Entry, error) {
	return Conversations(ctx, d.store, d.viewerID, d.limit)
}

// Entries returns the last loaded entries.
func (d *Directory) Entries() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.copyLocked()
}

func (d *Directory) copyLocked() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Bump moves conversationID's last activity to at and re-sorts.
func (d *Directory) Bump(conversationID string, at time.Time) {
	d.mu.Lock()
	found := false
	for i := range d.entries {
		if d.entries[i].ID == conversationID {
			if at.After(d.entries[i].UpdatedAt) {
				d.entries[i].UpdatedAt = at
			}
			found = true
			break
		}
	}
	if !found {
		d.mu.Unlock()
		return
	}
	sort.SliceStable(d.entries, func(i, j int) bool {
		return d.entries[i].UpdatedAt.After(d.entries[j].UpdatedAt)
	})
	out := d.copyLocked()
	d.mu.Unlock()
	d.emit(out)
}

// ClearUnread zeroes the unread count of conversationID.
func (d *Directory) ClearUnread(conversationID string) {
	d.mu.Lock()
	changed := false
	for i := range d.entries {
		if d.entries[i].ID == conversationID && d.entries[i].UnreadCount != 0 {
			d.entries[i].UnreadCount = 0
			changed = true
		}
	}
	out := d.copyLocked()
	d.mu.Unlock()
	if changed {
		d.emit(out)
	}
}

// Contains reports whether conversationID is in the loaded list.
func (d *Directory) Contains(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.entries {
		if d.entries[i].ID == conversationID {
			return true
		}
	}
	return false
}

func (d *Directory) emit(entries []Entry) {
	if d.onChange != nil {
		d.onChange(entries)
	}
}
