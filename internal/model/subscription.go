package model

import (
	"time"
)

// SubType is a bitset of subscription trigger types. A single subscription
// can combine several flags, e.g. BIN|PriceHigherThan.
type SubType int

const (
	SubTypeNone            SubType = 0
	SubTypePriceLowerThan  SubType = 1
	SubTypePriceHigherThan SubType = 2
	SubTypeOutbid          SubType = 4
	SubTypeSold            SubType = 8
	SubTypeBin             SubType = 16
	SubTypeUseSellNotBuy   SubType = 32
	SubTypeAuction         SubType = 64
	SubTypePlayer          SubType = 128
	SubTypeBuy             SubType = 256
	SubTypeFilter          SubType = 512
)

// Has reports whether the flag is set.
func (t SubType) Has(flag SubType) bool {
	return t&flag != 0
}

// Subscription model. TopicId is an item tag, an auction uuid or a player id
// depending on the type flags.
type Subscription struct {
	ID                    uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID                uint64    `gorm:"index;not null" json:"userId"`
	TopicID               string    `gorm:"type:varchar(45);index;not null" json:"topicId"`
	Price                 int64     `gorm:"type:bigint;default:0" json:"price"`
	Type                  SubType   `gorm:"type:int;not null" json:"type"`
	Filter                string    `gorm:"type:varchar(5000)" json:"filter,omitempty"`
	NotTriggerAgainBefore time.Time `gorm:"type:timestamp;default:CURRENT_TIMESTAMP" json:"-"`
	GeneratedAt           time.Time `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP;index" json:"-"`
}

// TableName set name
func (Subscription) TableName() string {
	return "subscriptions"
}

// IsPriceAlert reports whether the subscription watches a price threshold.
func (s *Subscription) IsPriceAlert() bool {
	return s.Type.Has(SubTypePriceLowerThan) || s.Type.Has(SubTypePriceHigherThan)
}

// Validate checks invariants that must hold before the subscription is
// persisted or added to the index.
func (s *Subscription) Validate() error {
	if s.TopicID == "" && !s.Type.Has(SubTypeFilter) {
		return ErrEmptyTopic
	}
	if s.Type.Has(SubTypeFilter) && s.Filter == "" {
		return ErrFilterRequired
	}
	if len(s.Filter) > 5000 {
		return ErrFilterTooLong
	}
	return nil
}

// Matches reports value equality used for unsubscribe: records may be
// reconstructed between add and remove, so identity cannot be used.
func (s *Subscription) Matches(userID uint64, topicID string, subType SubType) bool {
	return s.UserID == userID && s.TopicID == topicID && s.Type == subType
}
