package model

// Device model. One push target of a user, unique per (user, name). The
// dispatcher deletes a device when the transport rejects its token.
type Device struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID uint64 `gorm:"index:idx_devices_user_name,unique;not null" json:"userId"`
	Name   string `gorm:"type:varchar(40);index:idx_devices_user_name,unique;not null" json:"name"`
	Token  string `gorm:"type:varchar(512);not null" json:"token"`
}

// TableName set name
func (Device) TableName() string {
	return "devices"
}
