package messaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/realtime"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Change feed table names.
const (
	TableMessages      = "messages"
	TableConversations = "conversations"
)

// Store is the persistence surface used by the conversation directory,
// message feed, unread badge and composer.
type Store interface {
	Conversation(ctx context.Context, id string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error)
	ConversationIDs(ctx context.Context, userID string) ([]string, error)
	UnreadCounts(ctx context.Context, viewerID string, conversationIDs []string) (map[string]int, error)
	UnreadMessageIDs(ctx context.Context, viewerID string, conversationIDs []string) ([]string, error)
	History(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	MarkRead(ctx context.Context, viewerID string, ids []string) ([]models.Message, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	TouchConversation(ctx context.Context, conversationID string, at time.Time) error
}

// GormStore implements Store over gorm and announces every write on a
// realtime publisher.
type GormStore struct {
	db  *gorm.DB
	pub realtime.Publisher
	log zerolog.Logger
	now func() time.Time
}

// StoreOpts holds parameters for NewGormStore.
type StoreOpts struct {
	DB        *gorm.DB
	Publisher realtime.Publisher
	Logger    zerolog.Logger
	Now       func() time.Time
}

// NewGormStore validates opts and returns a GormStore.
func NewGormStore(opts StoreOpts) (*GormStore, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("messaging: db is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("messaging: publisher is required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GormStore{db: opts.DB, pub: opts.Publisher, log: opts.Logger, now: opts.Now}, nil
}

// DB exposes the underlying connection for callers sharing it.
func (s *GormStore) DB() *gorm.DB { return s.db }

func messageKeys(m *models.Message) map[string]string {
	return map[string]string{
		"id":              m.ID,
		"conversation_id": m.ConversationID,
		"sender_id":       m.SenderID,
	}
}

// insertKeys adds the conversation's participants to a new message's keys
// so subscribers can tell whether it concerns them without a lookup.
func insertKeys(m *models.Message, conv *models.Conversation) map[string]string {
	keys := messageKeys(m)
	keys["buyer_id"] = conv.BuyerID
	keys["seller_id"] = conv.SellerID
	return keys
}

func conversationKeys(c *models.Conversation) map[string]string {
	return map[string]string{
		"id":        c.ID,
		"buyer_id":  c.BuyerID,
		"seller_id": c.SellerID,
	}
}

// publish announces a committed write. The write already succeeded, so a
// failed publish is logged rather than returned.
func (s *GormStore) publish(ctx context.Context, table string, typ realtime.ChangeType, record any, keys map[string]string) {
	c, err := realtime.NewChange(table, typ, record, keys)
	if err == nil {
		err = s.pub.Publish(ctx, c)
	}
	if err != nil && !apperr.IsTransient(err) {
		s.log.Error().Err(err).Str("table", table).Str("type", string(typ)).Msg("publish change")
	}
}

// Conversation loads a conversation with its listing and participants.
func (s *GormStore) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Listing").Preload("Buyer").Preload("Seller").
		Where("id = ?", id).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("conversation not found")
		}
		return nil, fmt.Errorf("messaging: conversation %s: %w", id, err)
	}
	return &c, nil
}

// ListConversations returns up to limit conversations involving userID,
// most recently active first.
func (s *GormStore) ListConversations(ctx context.Context, userID string, limit int) ([]models.Conversation, error) {
	var convs []models.Conversation
	q := s.db.WithContext(ctx).
		Preload("Listing").Preload("Buyer").Preload("Seller").
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Order("updated_at DESC").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&convs).Error; err != nil {
		return nil, fmt.Errorf("messaging: list conversations for %s: %w", userID, err)
	}
	return convs, nil
}

// ConversationIDs returns the IDs of every conversation involving userID.
func (s *GormStore) ConversationIDs(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("buyer_id = ? OR seller_id = ?", userID, userID).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("messaging: conversation ids for %s: %w", userID, err)
	}
	return ids, nil
}

func (s *GormStore) unreadScope(ctx context.Context, viewerID string, conversationIDs []string) *gorm.DB {
	return s.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id IN ?", conversationIDs).
		Where("sender_id <> ?", viewerID).
		Where("is_read = ?", false)
}

// UnreadCounts counts unread counterparty messages per conversation.
func (s *GormStore) UnreadCounts(ctx context.Context, viewerID string, conversationIDs []string) (map[string]int, error) {
	counts := make(map[string]int)
	if len(conversationIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		ConversationID string
		N              int
	}
	err := s.unreadScope(ctx, viewerID, conversationIDs).
		Select("conversation_id, count(*) AS n").
		Group("conversation_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("messaging: unread counts for %s: %w", viewerID, err)
	}
	for _, r := range rows {
		counts[r.ConversationID] = r.N
	}
	return counts, nil
}

// UnreadMessageIDs lists unread counterparty message IDs.
func (s *GormStore) UnreadMessageIDs(ctx context.Context, viewerID string, conversationIDs []string) ([]string, error) {
	if len(conversationIDs) == 0 {
		return nil, nil
	}
	var ids []string
	if err := s.unreadScope(ctx, viewerID, conversationIDs).Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("messaging: unread ids for %s: %w", viewerID, err)
	}
	return ids, nil
}

// History returns the most recent limit messages of a conversation in
// ascending creation order.
func (s *GormStore) History(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	var msgs []models.Message
	q := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: history %s: %w", conversationID, err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// MarkRead flips the read flag on the listed messages in one update. Only
// unread messages not sent by viewerID are touched; those are returned.
func (s *GormStore) MarkRead(ctx context.Context, viewerID string, ids []string) ([]models.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var marked []models.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id IN ? AND sender_id <> ? AND is_read = ?", ids, viewerID, false).
			Find(&marked).Error; err != nil {
			return err
		}
		if len(marked) == 0 {
			return nil
		}
		markedIDs := make([]string, len(marked))
		for i := range marked {
			markedIDs[i] = marked[i].ID
			marked[i].IsRead = true
		}
		return tx.Model(&models.Message{}).Where("id IN ?", markedIDs).Update("is_read", true).Error
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: mark read: %w", err)
	}
	for i := range marked {
		s.publish(ctx, TableMessages, realtime.Update, &marked[i], messageKeys(&marked[i]))
	}
	return marked, nil
}

// InsertMessage persists msg. The sender must take part in the
// conversation.
func (s *GormStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", msg.ConversationID).First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.NotFound("conversation not found")
		}
		return fmt.Errorf("messaging: insert message: %w", err)
	}
	if !conv.HasParticipant(msg.SenderID) {
		return apperr.Forbidden("not a participant in this conversation")
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("messaging: insert message: %w", err)
	}
	s.publish(ctx, TableMessages, realtime.Insert, msg, insertKeys(msg, &conv))
	return nil
}

// TouchConversation sets the conversation's last-activity marker.
func (s *GormStore) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		UpdateColumn("updated_at", at.UTC())
	if res.Error != nil {
		return fmt.Errorf("messaging: touch conversation %s: %w", conversationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("conversation not found")
	}
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Where("id = ?", conversationID).First(&conv).Error; err == nil {
		s.publish(ctx, TableConversations, realtime.Update, &conv, conversationKeys(&conv))
	}
	return nil
}

// StartConversation returns the conversation between buyerID and the
// listing's seller, creating it on first contact. The natural key
// (listing, buyer, seller) is unique, so concurrent first contacts
// converge on one row.
func (s *GormStore) StartConversation(ctx context.Context, listingID, buyerID string) (*models.Conversation, error) {
	if listingID == "" {
		return nil, apperr.Invalid("listing is required")
	}
	if buyerID == "" {
		return nil, apperr.Invalid("buyer is required")
	}
	var listing models.Listing
	if err := s.db.WithContext(ctx).Select("id", "seller_id").Where("id = ?", listingID).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("listing not found")
		}
		return nil, fmt.Errorf("messaging: start conversation: %w", err)
	}
	if listing.SellerID == buyerID {
		return nil, apperr.Invalid("you cannot message yourself about your own listing")
	}

	now := s.now().UTC()
	conv := models.Conversation{
		ListingID: listingID,
		BuyerID:   buyerID,
		SellerID:  listing.SellerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "listing_id"}, {Name: "buyer_id"}, {Name: "seller_id"}},
		DoNothing: true,
	}).Create(&conv)
	if res.Error != nil {
		return nil, fmt.Errorf("messaging: start conversation: %w", res.Error)
	}
	created := res.RowsAffected == 1

	var existing models.Conversation
	err := s.db.WithContext(ctx).
		Where("listing_id = ? AND buyer_id = ? AND seller_id = ?", listingID, buyerID, listing.SellerID).
		First(&existing).Error
	if err != nil {
		return nil, fmt.Errorf("messaging: start conversation: %w", err)
	}
	if created {
		s.publish(ctx, TableConversations, realtime.Insert, &existing, conversationKeys(&existing))
	}
	return &existing, nil
}
