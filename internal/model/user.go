package model

import (
	"errors"
	"time"
)

// Model validation errors
var (
	ErrEmptyTopic     = errors.New("subscription topic id is empty")
	ErrFilterRequired = errors.New("filter subscription requires a filter")
	ErrFilterTooLong  = errors.New("filter exceeds maximum length")
)

// User model. ExternalID is the identifier of the account system; users are
// created on first reference.
type User struct {
	ID            uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID    string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"externalId"`
	Devices       []Device       `gorm:"foreignKey:UserID" json:"devices,omitempty"`
	Subscriptions []Subscription `gorm:"foreignKey:UserID" json:"subscriptions,omitempty"`
	CreatedAt     time.Time      `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"type:timestamp;not null;default:CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName set name
func (User) TableName() string {
	return "users"
}
