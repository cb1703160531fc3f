// Package messaging implements buyer/seller conversations: the
// conversation directory, the per-conversation message feed, the global
// unread badge and the composer, over a Store that announces its writes
// on the realtime change feed.
package messaging

import (
	"context"
	"fmt"

	"github.com/zulandar/peerly/internal/apperr"
	"github.com/zulandar/peerly/internal/models"
	"gorm.io/gorm"
)

// Inbox returns unread messages addressed to userID across all of their
// conversations, ordered by creation time.
func Inbox(ctx context.Context, db *gorm.DB, userID string) ([]models.Message, error) {
	if userID == "" {
		return nil, fmt.Errorf("messaging: userID is required")
	}
	convIDs := db.Model(&models.Conversation{}).Select("id").
		Where("buyer_id = ? OR seller_id = ?", userID, userID)

	var msgs []models.Message
	if err := db.WithContext(ctx).
		Where("conversation_id IN (?)", convIDs).
		Where("sender_id <> ? AND is_read = ?", userID, false).
		Order("created_at ASC").Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("messaging: inbox %s: %w", userID, err)
	}
	return msgs, nil
}

// UnreadCount is the unread total for userID computed in one query.
func UnreadCount(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("messaging: userID is required")
	}
	convIDs := db.Model(&models.Conversation{}).Select("id").
		Where("buyer_id = ? OR seller_id = ?", userID, userID)

	var n int64
	if err := db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id IN (?)", convIDs).
		Where("sender_id <> ? AND is_read = ?", userID, false).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("messaging: unread count %s: %w", userID, err)
	}
	return n, nil
}

// Conversations returns viewerID's limit most recently active
// conversations as directory entries with unread counts.
func Conversations(ctx context.Context, store Store, viewerID string, limit int) ([]Entry, error) {
	convs, err := store.ListConversations(ctx, viewerID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(convs))
	for i := range convs {
		ids[i] = convs[i].ID
	}
	unread, err := store.UnreadCounts(ctx, viewerID, ids)
	if err != nil {
		return nil, err
	}
	return BuildEntries(viewerID, convs, unread), nil
}

// Thread returns the latest limit messages of a conversation the viewer
// takes part in, oldest first.
func Thread(ctx context.Context, store Store, conversationID, viewerID string, limit int) ([]models.Message, error) {
	conv, err := store.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, apperr.Forbidden("not a participant in this conversation")
	}
	return store.History(ctx, conversationID, limit)
}

// MarkConversationRead marks every unread counterparty message in the
// conversation's latest limit window as read and returns how many changed.
func MarkConversationRead(ctx context.Context, store Store, conversationID, viewerID string, limit int) (int, error) {
	msgs, err := Thread(ctx, store, conversationID, viewerID, limit)
	if err != nil {
		return 0, err
	}
	marked, err := store.MarkRead(ctx, viewerID, UnreadFrom(viewerID, msgs))
	if err != nil {
		return 0, err
	}
	return len(marked), nil
}
