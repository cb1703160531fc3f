// Package maintenance runs scheduled repair jobs against the database.
package maintenance

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/zulandar/peerly/internal/messaging"
	"github.com/zulandar/peerly/internal/models"
	"github.com/zulandar/peerly/internal/realtime"
	"gorm.io/gorm"
)

// Repairer heals derived columns that a non-transactional write may have
// left stale.
type Repairer struct {
	db  *gorm.DB
	pub realtime.Publisher
	log zerolog.Logger
}

// RepairerOpts holds parameters for NewRepairer.
type RepairerOpts struct {
	DB *gorm.DB
	// Publisher, when set, announces each repaired conversation.
	Publisher realtime.Publisher
	Logger    zerolog.Logger
}

// NewRepairer validates opts and returns a Repairer.
func NewRepairer(opts RepairerOpts) (*Repairer, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("maintenance: db is required")
	}
	return &Repairer{db: opts.DB, pub: opts.Publisher, log: opts.Logger}, nil
}

// RepairRecency moves each conversation's updated_at forward to its newest
// message when a send persisted the message but not the timestamp bump.
// It returns the number of conversations repaired.
func (r *Repairer) RepairRecency(ctx context.Context) (int, error) {
	db := r.db.WithContext(ctx)
	newer := db.Model(&models.Message{}).Select("1").
		Where("messages.conversation_id = conversations.id AND messages.created_at > conversations.updated_at")

	var ids []string
	if err := db.Model(&models.Conversation{}).Where("EXISTS (?)", newer).Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("maintenance: find stale conversations: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	latest := gorm.Expr("(SELECT MAX(messages.created_at) FROM messages WHERE messages.conversation_id = conversations.id)")
	if err := db.Model(&models.Conversation{}).Where("id IN ?", ids).UpdateColumn("updated_at", latest).Error; err != nil {
		return 0, fmt.Errorf("maintenance: repair recency: %w", err)
	}

	if r.pub != nil {
		var convs []models.Conversation
		if err := db.Where("id IN ?", ids).Find(&convs).Error; err != nil {
			r.log.Error().Err(err).Msg("error loading repaired conversations")
		}
		for i := range convs {
			keys := map[string]string{"id": convs[i].ID, "buyer_id": convs[i].BuyerID, "seller_id": convs[i].SellerID}
			c, err := realtime.NewChange(messaging.TableConversations, realtime.Update, &convs[i], keys)
			if err == nil {
				err = r.pub.Publish(ctx, c)
			}
			if err != nil {
				r.log.Error().Err(err).Str("conversation", convs[i].ID).Msg("publish repaired conversation")
			}
		}
	}
	r.log.Info().Int("repaired", len(ids)).Msg("conversation recency repaired")
	return len(ids), nil
}

// Job is a named unit of scheduled work.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// RecencyJob wraps RepairRecency as a Job on schedule.
func (r *Repairer) RecencyJob(schedule string) Job {
	return Job{
		Name:     "recency-repair",
		Schedule: schedule,
		Run: func(ctx context.Context) error {
			_, err := r.RepairRecency(ctx)
			return err
		},
	}
}
