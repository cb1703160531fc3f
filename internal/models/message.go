package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Conversation links one buyer and one seller around one listing. UpdatedAt
// is the last-activity marker used for ordering. The (listing, buyer, seller)
// triple is unique.
type Conversation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ListingID string    `gorm:"size:36;not null;uniqueIndex:idx_conversation_natural_key" json:"listing_id"`
	BuyerID   string    `gorm:"size:36;not null;uniqueIndex:idx_conversation_natural_key;index" json:"buyer_id"`
	SellerID  string    `gorm:"size:36;not null;uniqueIndex:idx_conversation_natural_key;index" json:"seller_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`

	Listing *Listing `gorm:"foreignKey:ListingID;constraint:OnDelete:CASCADE" json:"listing,omitempty"`
	Buyer   *Profile `gorm:"foreignKey:BuyerID" json:"buyer,omitempty"`
	Seller  *Profile `gorm:"foreignKey:SellerID" json:"seller,omitempty"`
}

func (c *Conversation) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// HasParticipant reports whether userID is the buyer or the seller.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID != "" && (c.BuyerID == userID || c.SellerID == userID)
}

// Counterparty returns the participant ID that is not userID, or empty when
// userID does not take part in the conversation.
func (c *Conversation) Counterparty(userID string) string {
	switch userID {
	case c.BuyerID:
		return c.SellerID
	case c.SellerID:
		return c.BuyerID
	}
	return ""
}

// Message is a single chat line. Only IsRead is ever mutated after insert.
// ClientID is the sender-generated idempotency key.
type Message struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string    `gorm:"size:36;not null;index" json:"conversation_id"`
	SenderID       string    `gorm:"size:36;not null;index" json:"sender_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	IsRead         bool      `gorm:"default:false;index" json:"is_read"`
	ClientID       string    `gorm:"size:36;index" json:"client_id,omitempty"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
